package http

import (
	"errors"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

// newValidator reports fields by their JSON names.
func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// validationMessage turns validator errors into one readable line.
func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		var msg string
		switch fe.Tag() {
		case "required":
			msg = fe.Field() + " is required"
		case "gte", "min":
			msg = fe.Field() + " must be at least " + fe.Param()
		case "lte":
			msg = fe.Field() + " must be at most " + fe.Param()
		case "max":
			msg = fe.Field() + " must be at most " + fe.Param() + " characters"
		default:
			msg = fe.Field() + " is invalid"
		}
		msgs = append(msgs, msg)
	}
	return strings.Join(msgs, "; ")
}
