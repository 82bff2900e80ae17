package validator

import (
	"github.com/go-playground/validator/v10"

	ierr "github.com/tokenrail/tokenrail/internal/errors"
)

var validate *validator.Validate

func NewValidator() *validator.Validate {
	validate = validator.New()
	return validate
}

func GetValidator() *validator.Validate {
	if validate == nil {
		validate = validator.New()
	}
	return validate
}

// ValidateRequest runs struct validation and marks failures so they map to
// a 400 with per-field details.
func ValidateRequest(req interface{}) error {
	if err := GetValidator().Struct(req); err != nil {
		details := make(map[string]any)
		var validateErrs validator.ValidationErrors
		if ierr.As(err, &validateErrs) {
			for _, err := range validateErrs {
				details[err.Field()] = err.Error()
			}
		}
		return ierr.WithError(err).
			WithHint("Request validation failed").
			WithReportableDetails(details).
			Mark(ierr.ErrValidation)
	}
	return nil
}
