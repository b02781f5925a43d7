package http

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
)

// Validator implements echo.Validator. Field errors are reported under the
// json or query name of the field.
type Validator struct {
	v *validator.Validate
}

func NewValidator() *Validator {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		for _, tag := range []string{"json", "query"} {
			if name, _, _ := strings.Cut(f.Tag.Get(tag), ","); name != "" && name != "-" {
				return name
			}
		}
		return f.Name
	})
	return &Validator{v: v}
}

func (v *Validator) Validate(i interface{}) error {
	return v.v.Struct(i)
}

var fallbackValidator = NewValidator()

// ReadAndValidateRequest binds req from the path, query and body, applies
// `default` tags to fields left empty and validates the result. It returns
// nil when req is usable.
func ReadAndValidateRequest(c echo.Context, req interface{}) []ValidationError {
	if err := c.Bind(req); err != nil {
		var he *echo.HTTPError
		if errors.As(err, &he) {
			return []ValidationError{{Code: "ERR_BIND", Message: fmt.Sprint(he.Message)}}
		}
		return []ValidationError{{Code: "ERR_BIND", Message: err.Error()}}
	}
	if err := defaults.Set(req); err != nil {
		return []ValidationError{{Code: "ERR_DEFAULTS", Message: err.Error()}}
	}

	var err error
	if c.Echo().Validator != nil {
		err = c.Validate(req)
	} else {
		err = fallbackValidator.Validate(req)
	}
	if err == nil {
		return nil
	}

	var fields validator.ValidationErrors
	if !errors.As(err, &fields) {
		return []ValidationError{{Code: "ERR_VALIDATION", Message: err.Error()}}
	}
	out := make([]ValidationError, 0, len(fields))
	for _, fe := range fields {
		out = append(out, describeField(fe))
	}
	return out
}

func describeField(fe validator.FieldError) ValidationError {
	ve := ValidationError{
		Code:  "ERR_" + strings.ToUpper(fe.Tag()),
		Field: fe.Field(),
	}
	unit := ""
	if fe.Kind() == reflect.String {
		unit = " characters"
	}

	switch fe.Tag() {
	case "required":
		ve.Message = fe.Field() + " is required"
	case "numeric":
		ve.Message = fe.Field() + " must be a number"
	case "min", "gte":
		ve.Message = fmt.Sprintf("%s must be at least %s%s", fe.Field(), fe.Param(), unit)
		ve.Params = map[string]interface{}{"min": fe.Param()}
	case "max", "lte":
		ve.Message = fmt.Sprintf("%s must be at most %s%s", fe.Field(), fe.Param(), unit)
		ve.Params = map[string]interface{}{"max": fe.Param()}
	case "oneof":
		options := strings.Fields(fe.Param())
		ve.Message = fmt.Sprintf("%s must be one of: %s", fe.Field(), strings.Join(options, ", "))
		ve.Params = map[string]interface{}{"options": options}
	default:
		ve.Message = fmt.Sprintf("%s failed %s validation", fe.Field(), fe.Tag())
	}
	return ve
}
