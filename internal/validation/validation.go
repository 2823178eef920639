// Package validation wraps go-playground/validator so callers get every
// violation of a record at once instead of the first one.
package validation

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
)

// Error lists all violations found on one record.
type Error struct {
	Kind       string // "rule", "template", ...
	Violations []string
}

func (e *Error) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Kind, strings.Join(e.Violations, "; "))
}

// Is makes errors.Is(err, ErrInvalid) match any *Error.
func (e *Error) Is(target error) bool { return target == ErrInvalid }

// ErrInvalid matches every *Error.
var ErrInvalid = errors.New("validation failed")

// Messages maps a failed struct field (by namespace-free field name and tag)
// to a human message. Returning "" falls back to a generic message.
type Messages func(fe validator.FieldError) string

var (
	once     sync.Once
	validate *validator.Validate
)

// Validator returns the shared validator with the custom tags registered.
func Validator() *validator.Validate {
	once.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
		_ = validate.RegisterValidation("notblank", func(fl validator.FieldLevel) bool {
			return strings.TrimSpace(fl.Field().String()) != ""
		})
	})
	return validate
}

// Register adds a custom tag to the shared validator.
func Register(tag string, fn validator.Func) error {
	return Validator().RegisterValidation(tag, fn)
}

// Struct validates v and converts validator errors into a single *Error.
// extra is appended to the violations (checks the tags cannot express).
func Struct(kind string, v any, msg Messages, extra ...string) error {
	var violations []string
	if err := Validator().Struct(v); err != nil {
		var ves validator.ValidationErrors
		if !errors.As(err, &ves) {
			return err
		}
		for _, fe := range ves {
			m := ""
			if msg != nil {
				m = msg(fe)
			}
			if m == "" {
				m = fmt.Sprintf("%s failed %q", fe.Namespace(), fe.Tag())
			}
			violations = append(violations, m)
		}
	}
	violations = append(violations, extra...)
	if len(violations) == 0 {
		return nil
	}
	return &Error{Kind: kind, Violations: violations}
}

// FormatValidValues joins string-like values for error messages.
func FormatValidValues[T ~string](values []T) string {
	formatted := make([]string, 0, len(values))
	for _, value := range values {
		formatted = append(formatted, string(value))
	}
	return strings.Join(formatted, ", ")
}
