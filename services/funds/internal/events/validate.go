package events

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
)

var validate = newValidator()

// Amounts arrive as JSON numbers or strings and decode into decimal.Decimal. The
// validator sees them as their string form, empty when zero, so "required" rejects
// a missing or zero amount.
func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterCustomTypeFunc(func(field reflect.Value) any {
		d, ok := field.Interface().(decimal.Decimal)
		if !ok || d.IsZero() {
			return ""
		}
		return d.String()
	}, decimal.Decimal{})
	return v
}

// Validate checks the struct tags of an event payload and returns one error naming
// every failing field.
func Validate(event any) error {
	err := validate.Struct(event)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	return errors.New(FormatValidationError(verrs))
}

func FormatValidationError(verrs validator.ValidationErrors) string {
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		field := strings.ToLower(fe.Field())
		switch fe.Tag() {
		case "required":
			parts = append(parts, fmt.Sprintf("%s is required", field))
		case "numeric":
			parts = append(parts, fmt.Sprintf("%s must be numeric", field))
		case "oneof":
			parts = append(parts, fmt.Sprintf("%s must be one of [%s]", field, fe.Param()))
		case "email":
			parts = append(parts, fmt.Sprintf("%s must be a valid email", field))
		default:
			parts = append(parts, fmt.Sprintf("%s failed %s", field, fe.Tag()))
		}
	}
	return strings.Join(parts, "; ")
}
