package validator

import (
	"errors"
	"fmt"
	"reflect"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"

	apperrors "github.com/charlesng35/dropwire/pkg/errors"
)

var pairingCodePattern = regexp.MustCompile(`^[A-Z0-9]{6}$`)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(jsonFieldName)
	_ = v.RegisterValidation("paircode", func(fl validator.FieldLevel) bool {
		return pairingCodePattern.MatchString(fl.Field().String())
	})
	return v
}

// Struct validates a request payload against its `validate` tags. Failures
// come back as a BAD_REQUEST AppError naming the offending JSON fields, ready
// to render to the client as-is.
func Struct(payload any) error {
	err := validate.Struct(payload)
	if err == nil {
		return nil
	}

	var failures validator.ValidationErrors
	if !errors.As(err, &failures) {
		return apperrors.Wrap(err, "payload validation failed")
	}

	reasons := make([]string, 0, len(failures))
	for _, failure := range failures {
		reasons = append(reasons, describe(failure))
	}
	return apperrors.NewBadRequest(strings.Join(reasons, "; "))
}

func describe(failure validator.FieldError) string {
	switch failure.Tag() {
	case "required":
		return failure.Field() + " is required"
	case "min":
		return fmt.Sprintf("%s must be at least %s", failure.Field(), failure.Param())
	case "max":
		return fmt.Sprintf("%s must be at most %s", failure.Field(), failure.Param())
	case "paircode":
		return failure.Field() + " must be a 6-character pairing code"
	default:
		return failure.Field() + " is invalid"
	}
}

func jsonFieldName(fld reflect.StructField) string {
	name := strings.Split(fld.Tag.Get("json"), ",")[0]
	if name == "" || name == "-" {
		return fld.Name
	}
	return name
}
