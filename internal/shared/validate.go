package shared

import (
	"errors"
	"strings"

	"github.com/go-playground/validator/v10"
)

// ValidateStruct runs validator tags on v and turns failures into a validation Error whose
// details map each offending field to the failed rule.
func ValidateStruct(v *validator.Validate, target any) error {
	err := v.Struct(target)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return Validation("invalid request").Wrap(err)
	}
	fields := make([]string, 0, len(fieldErrs))
	out := Validation("")
	for _, fieldErr := range fieldErrs {
		name := fieldErr.Namespace()
		if i := strings.IndexByte(name, '.'); i >= 0 {
			name = name[i+1:]
		}
		fields = append(fields, name)
		out = out.With(name, fieldErr.Tag())
	}
	out.Message = "invalid fields: " + strings.Join(fields, ", ")
	return out
}
