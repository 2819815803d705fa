package customresource

import (
	"fmt"

	"github.com/go-playground/validator/v10"
	"github.com/mitchellh/mapstructure"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validator is implemented by property structs with checks beyond struct tags.
type Validator interface {
	Validate() error
}

// DecodeProperties decodes ResourceProperties into out, a pointer to a struct
// with mapstructure and validate tags. CloudFormation passes every scalar as
// a string, so weak typing is enabled. Failures wrap ErrInvalidProperties.
func DecodeProperties(props map[string]interface{}, out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           out,
		WeaklyTypedInput: true,
		TagName:          "mapstructure",
	})
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidProperties, err)
	}
	if err := dec.Decode(props); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidProperties, err)
	}

	if err := validate.Struct(out); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidProperties, err)
	}
	if v, ok := out.(Validator); ok {
		if err := v.Validate(); err != nil {
			return fmt.Errorf("%w: %w", ErrInvalidProperties, err)
		}
	}
	return nil
}
