package log

import (
	"io"
	"time"

	jsoniter "github.com/json-iterator/go"
)

// JsoniterAPI is the codec used for JSON log lines. Keys are sorted so lines diff cleanly.
var JsoniterAPI = jsoniter.Config{
	EscapeHTML:                    true,
	SortMapKeys:                   true,
	ValidateJsonRawMessage:        true,
	MarshalFloatWith6Digits:       true,
	ObjectFieldMustBeSimpleString: true,
}.Froze()

const timestampLayout = "2006-01-02T15:04:05.000000000Z"

func encodeJSON(w io.Writer, ts time.Time, level Level, msg string, fields map[string]any) error {
	entry := make(map[string]any, len(fields)+3)
	for k, v := range fields {
		entry[k] = normalizeValue(v)
	}
	// Core fields win over user fields with the same name.
	entry["timestamp"] = ts.Format(timestampLayout)
	entry["level"] = level.String()
	entry["message"] = msg

	stream := JsoniterAPI.BorrowStream(w)
	defer JsoniterAPI.ReturnStream(stream)

	stream.WriteVal(entry)
	stream.WriteRaw("\n")
	if stream.Error != nil {
		return stream.Error
	}
	return stream.Flush()
}

// normalizeValue renders errors as their message; jsoniter would otherwise emit "{}".
func normalizeValue(v any) any {
	if err, ok := v.(error); ok && err != nil {
		return err.Error()
	}
	return v
}
