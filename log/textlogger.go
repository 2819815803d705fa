package log

import (
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"time"
)

const textTimestampLayout = "2006-01-02 15:04:05,000"

// encodeText writes "LEVEL    2006-01-02 15:04:05,000 name         message key=value ...".
func encodeText(w io.Writer, ts time.Time, level Level, msg string, fields map[string]any) error {
	var b strings.Builder
	fmt.Fprintf(&b, "%-8s %s ", level.String(), ts.Format(textTimestampLayout))

	name, _ := fields[NameKey].(string)
	fmt.Fprintf(&b, "%-12s %s", name, msg)

	keys := make([]string, 0, len(fields))
	for k := range fields {
		if k != NameKey {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	for _, k := range keys {
		b.WriteByte(' ')
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(formatTextValue(fields[k]))
	}
	b.WriteByte('\n')

	_, err := io.WriteString(w, b.String())
	return err
}

func formatTextValue(v any) string {
	var s string
	switch val := v.(type) {
	case string:
		s = val
	case error:
		s = val.Error()
	case fmt.Stringer:
		s = val.String()
	default:
		s = fmt.Sprint(val)
	}
	if s == "" || strings.ContainsAny(s, " \t\n\"=") {
		return strconv.Quote(s)
	}
	return s
}
