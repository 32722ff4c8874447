// Package validation wraps go-playground/validator and reports failures as
// field-name to message maps keyed by JSON field names.
package validation

import (
	"errors"
	"reflect"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"
)

var clockPattern = regexp.MustCompile(`^([01]\d|2[0-3]):[0-5]\d$`)

var messages = map[string]string{
	"required":    "is required",
	"required_if": "is required",
	"excluded_if": "is not allowed",
	"max":         "must be at most %s characters",
	"min":         "must be at least %s characters",
	"oneof":       "must be one of: %s",
	"datetime":    "must match layout %s",
	"clock":       "must be a 24-hour time in HH:MM format",
	"uuid":        "must be a valid UUID",
	"email":       "must be a valid email address",
}

// Validator validates command structs.
type Validator struct {
	v *validator.Validate
}

func New() *Validator {
	v := validator.New()
	v.RegisterTagNameFunc(jsonName)
	_ = v.RegisterValidation("clock", func(fl validator.FieldLevel) bool {
		return clockPattern.MatchString(fl.Field().String())
	})
	return &Validator{v: v}
}

// Fields validates s and returns per-field messages, or nil when s is valid.
func (x *Validator) Fields(s interface{}) map[string]string {
	err := x.v.Struct(s)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return map[string]string{"_": err.Error()}
	}
	out := make(map[string]string, len(verrs))
	for _, fe := range verrs {
		if _, seen := out[fe.Field()]; seen {
			continue
		}
		out[fe.Field()] = message(fe)
	}
	return out
}

// Validate satisfies echo.Validator.
func (x *Validator) Validate(i interface{}) error {
	if fields := x.Fields(i); fields != nil {
		return &Error{Fields: fields}
	}
	return nil
}

// Error is returned by Validate.
type Error struct {
	Fields map[string]string
}

func (e *Error) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for f, m := range e.Fields {
		parts = append(parts, f+" "+m)
	}
	return strings.Join(parts, ", ")
}

func message(fe validator.FieldError) string {
	msg, ok := messages[fe.Tag()]
	if !ok {
		return "is invalid"
	}
	if !strings.Contains(msg, "%s") {
		return msg
	}
	param := fe.Param()
	if fe.Tag() == "oneof" {
		param = strings.Join(strings.Fields(param), ", ")
	}
	return strings.Replace(msg, "%s", param, 1)
}

func jsonName(f reflect.StructField) string {
	name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
	if name == "-" {
		return ""
	}
	if name == "" {
		return f.Name
	}
	return name
}
