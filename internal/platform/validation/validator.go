// Package validation plugs go-playground/validator into echo's Bind/Validate
// flow and renders field errors as a 400 response.
package validation

import (
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
)

type Validator struct {
	v        *validator.Validate
	messages map[string]string
}

// Rule is a custom string tag, e.g. {"weekday", validDay}.
type Rule struct {
	Tag     string
	Message string
	Valid   func(string) bool
}

// New panics when a rule cannot be registered, e.g. an empty or reserved tag.
// Rules are fixed at startup.
func New(rules ...Rule) *Validator {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(fieldName)
	cv := &Validator{v: v, messages: make(map[string]string)}
	for _, r := range rules {
		valid := r.Valid
		err := v.RegisterValidation(r.Tag, func(fl validator.FieldLevel) bool {
			return valid(fl.Field().String())
		})
		if err != nil {
			panic(fmt.Sprintf("validation: register %q: %v", r.Tag, err))
		}
		cv.messages[r.Tag] = r.Message
	}
	return cv
}

// fieldName reports fields by their JSON name, or their path parameter for
// fields bound from the URL.
func fieldName(f reflect.StructField) string {
	name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
	if name == "" || name == "-" {
		name = f.Tag.Get("param")
	}
	return name
}

// Validate implements echo.Validator.
func (cv *Validator) Validate(i interface{}) error {
	err := cv.v.Struct(i)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, cv.describe(fe))
	}
	return echo.NewHTTPError(http.StatusBadRequest, strings.Join(msgs, "; "))
}

func (cv *Validator) describe(fe validator.FieldError) string {
	if msg, ok := cv.messages[fe.Tag()]; ok && msg != "" {
		return fmt.Sprintf("%s %s", fe.Field(), msg)
	}
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", fe.Field())
	case "min", "gte":
		return fmt.Sprintf("%s must be at least %s", fe.Field(), fe.Param())
	case "max", "lte":
		return fmt.Sprintf("%s must be at most %s", fe.Field(), fe.Param())
	case "oneof":
		return fmt.Sprintf("%s must be one of [%s]", fe.Field(), fe.Param())
	}
	return fmt.Sprintf("%s failed %s validation", fe.Field(), fe.Tag())
}
