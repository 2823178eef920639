package automation

import (
	"fmt"

	"github.com/go-playground/validator/v10"

	"taskflow/internal/validation"
)

func init() {
	_ = validation.Register("trigger", func(fl validator.FieldLevel) bool {
		return Trigger(fl.Field().String()).IsValid()
	})
}

// ValidateRule checks a rule before it is stored. The returned
// *validation.Error lists every violation.
func ValidateRule(r Rule) error {
	return validation.Struct("rule", r, func(fe validator.FieldError) string {
		switch fe.Field() {
		case "Name":
			return "name is required"
		case "Actions":
			return "at least one action is required"
		case "Trigger":
			return fmt.Sprintf("unknown trigger %q (valid: %s)", fe.Value(), validation.FormatValidValues(Triggers()))
		}
		return ""
	})
}
