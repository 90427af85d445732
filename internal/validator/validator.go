package validator

import (
	"errors"
	"fmt"
	"strings"

	"github.com/SAP-F-2025/exam-session-service/internal/models"
	"github.com/go-playground/validator/v10"
)

// Validator wraps go-playground/validator with the service's custom tags.
type Validator struct {
	validate *validator.Validate
	business *BusinessValidator
}

// ValidationError represents one field-level validation failure
type ValidationError struct {
	Field   string      `json:"field"`
	Message string      `json:"message"`
	Value   interface{} `json:"value,omitempty"`
	Rule    string      `json:"rule,omitempty"`
}

type ValidationErrors []ValidationError

func (ve ValidationErrors) Error() string {
	if len(ve) == 0 {
		return "validation failed"
	}
	if len(ve) == 1 {
		return fmt.Sprintf("validation failed: %s %s", ve[0].Field, ve[0].Message)
	}
	return fmt.Sprintf("validation failed: %d field errors", len(ve))
}

func New() *Validator {
	validate := validator.New()
	registerCustomRules(validate)

	return &Validator{
		validate: validate,
		business: &BusinessValidator{validate: validate},
	}
}

// Validate runs struct tags and returns ValidationErrors, or nil.
func (v *Validator) Validate(s interface{}) error {
	if errs := ToValidationErrors(v.validate.Struct(s)); len(errs) > 0 {
		return errs
	}
	return nil
}

func (v *Validator) GetBusinessValidator() *BusinessValidator {
	return v.business
}

// ToValidationErrors converts a go-playground error into ValidationErrors.
func ToValidationErrors(err error) ValidationErrors {
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return ValidationErrors{{Field: "request", Message: err.Error()}}
	}

	out := make(ValidationErrors, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		out = append(out, ValidationError{
			Field:   fe.Field(),
			Message: errorMessage(fe),
			Value:   fe.Value(),
			Rule:    fe.Tag(),
		})
	}
	return out
}

func registerCustomRules(v *validator.Validate) {
	v.RegisterValidation("answer_letter", func(fl validator.FieldLevel) bool {
		_, err := models.ParseLetter(fl.Field().String())
		return err == nil
	})

	v.RegisterValidation("exam_part", func(fl validator.FieldLevel) bool {
		return models.Part(fl.Field().Int()).Valid()
	})

	v.RegisterValidation("time_mode", func(fl validator.FieldLevel) bool {
		switch models.TimeMode(fl.Field().String()) {
		case models.TimeModeStandard, models.TimeModeUnlimited:
			return true
		}
		return false
	})

	// What to do with an in-progress session found on entry.
	v.RegisterValidation("existing_action", func(fl validator.FieldLevel) bool {
		switch ExistingAction(fl.Field().String()) {
		case ExistingResume, ExistingRestart:
			return true
		}
		return false
	})
}

func errorMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "min":
		return fmt.Sprintf("must be at least %s", fe.Param())
	case "max":
		return fmt.Sprintf("must be at most %s", fe.Param())
	case "oneof":
		return fmt.Sprintf("must be one of [%s]", strings.ReplaceAll(fe.Param(), " ", ", "))
	case "answer_letter":
		return "must be one of A, B, C, D"
	case "exam_part":
		return fmt.Sprintf("must be a part between %d and %d", models.MinPart, models.MaxPart)
	case "time_mode":
		return "must be standard or unlimited"
	case "existing_action":
		return "must be resume or restart"
	default:
		return fmt.Sprintf("failed on %s", fe.Tag())
	}
}
