// Package validator registers PipeGuard's custom binding validators with
// gin and renders binding failures as API-friendly messages.
package validator

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"

	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
)

var once sync.Once

// enums are the custom enum tags available in binding declarations,
// mapped to their accepted values.
var enums = map[string][]string{
	"severity":    {"critical", "high", "medium", "low", "info"},
	"alertstatus": {"new", "acknowledged", "resolved", "suppressed"},
	"healingmode": {"disabled", "recommendation_only", "semi_automatic", "automatic"},
}

// Init hooks the custom validators into gin's binding engine. Field
// names in failure messages use the json tag, matching the wire format.
func Init() {
	once.Do(func() {
		v, ok := binding.Validator.Engine().(*validator.Validate)
		if !ok {
			return
		}

		v.RegisterTagNameFunc(func(fld reflect.StructField) string {
			name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
			if name == "-" {
				return ""
			}
			return name
		})

		for tag, values := range enums {
			_ = v.RegisterValidation(tag, enumOf(values))
		}
	})
}

// enumOf builds a validator accepting exactly the given values. Empty
// strings pass so required and omitempty keep their usual meaning.
func enumOf(values []string) validator.Func {
	set := make(map[string]bool, len(values))
	for _, val := range values {
		set[val] = true
	}
	return func(fl validator.FieldLevel) bool {
		s := fl.Field().String()
		return s == "" || set[s]
	}
}

// Message renders a binding error as one readable sentence per failed
// field. Non-validation errors (malformed JSON and the like) pass
// through unchanged.
func Message(err error) string {
	var ve validator.ValidationErrors
	if !errors.As(err, &ve) {
		return err.Error()
	}

	parts := make([]string, 0, len(ve))
	for _, fe := range ve {
		parts = append(parts, describe(fe))
	}
	return strings.Join(parts, "; ")
}

func describe(fe validator.FieldError) string {
	field, tag, param := fe.Field(), fe.Tag(), fe.Param()

	if values, ok := enums[tag]; ok {
		return fmt.Sprintf("%s must be one of: %s", field, strings.Join(values, ", "))
	}

	switch tag {
	case "required":
		return fmt.Sprintf("%s is required", field)
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s", field, param)
	case "min", "gte":
		return fmt.Sprintf("%s must be at least %s", field, param)
	case "max", "lte":
		return fmt.Sprintf("%s must be at most %s", field, param)
	case "gt":
		return fmt.Sprintf("%s must be greater than %s", field, param)
	case "lt":
		return fmt.Sprintf("%s must be less than %s", field, param)
	default:
		return fmt.Sprintf("%s is invalid", field)
	}
}
