package model

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

// ErrInvalid marks any value that failed schema validation.
var ErrInvalid = errors.New("invalid value")

var validate = validator.New(validator.WithRequiredStructEnabled())

// ValidationError carries the validator field errors for a rejected value.
type ValidationError struct {
	Type   string
	Fields []string
	Err    error
}

func (e *ValidationError) Error() string {
	if len(e.Fields) == 0 {
		return fmt.Sprintf("invalid %s: %v", e.Type, e.Err)
	}
	return fmt.Sprintf("invalid %s: %s", e.Type, strings.Join(e.Fields, "; "))
}

func (e *ValidationError) Unwrap() []error {
	return []error{ErrInvalid, e.Err}
}

// check runs struct validation and converts failures into a *ValidationError.
func check(typeName string, v any) error {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}
	ve := &ValidationError{Type: typeName, Err: err}
	var fieldErrs validator.ValidationErrors
	if errors.As(err, &fieldErrs) {
		for _, fe := range fieldErrs {
			ve.Fields = append(ve.Fields, fmt.Sprintf("%s failed %q", fe.Namespace(), fe.Tag()))
		}
	}
	return ve
}

// Invalid builds a *ValidationError for checks the struct tags cannot express.
func Invalid(typeName, format string, args ...any) error {
	msg := fmt.Sprintf(format, args...)
	return &ValidationError{Type: typeName, Fields: []string{msg}, Err: errors.New(msg)}
}
