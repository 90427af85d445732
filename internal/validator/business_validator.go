package validator

import (
	"fmt"

	"github.com/SAP-F-2025/exam-session-service/internal/models"
	"github.com/go-playground/validator/v10"
)

// BusinessValidator checks rules that need data beyond the request itself.
type BusinessValidator struct {
	validate *validator.Validate
}

// ValidateStartSession checks the part filter against the parts the exam set
// actually contains.
func (bv *BusinessValidator) ValidateStartSession(req *StartSessionRequest, available []models.Part) ValidationErrors {
	var errs ValidationErrors
	if err := bv.validate.Struct(req); err != nil {
		errs = append(errs, ToValidationErrors(err)...)
	}

	has := make(map[models.Part]bool, len(available))
	for _, p := range available {
		has[p] = true
	}

	seen := make(map[models.Part]bool, len(req.Parts))
	for _, p := range req.Parts {
		if seen[p] {
			errs = append(errs, ValidationError{
				Field:   "parts",
				Message: fmt.Sprintf("part %d selected more than once", p),
				Value:   p,
				Rule:    "unique",
			})
			continue
		}
		seen[p] = true

		if p.Valid() && !has[p] {
			errs = append(errs, ValidationError{
				Field:   "parts",
				Message: fmt.Sprintf("exam set has no questions in part %d", p),
				Value:   p,
				Rule:    "available_part",
			})
		}
	}

	return errs
}

// ValidateAnswerForPart rejects letters outside the part's choice range
// (part 2 only offers A to C).
func (bv *BusinessValidator) ValidateAnswerForPart(letter models.Letter, part models.Part) ValidationErrors {
	if part.AllowsLetter(letter) {
		return nil
	}
	return ValidationErrors{{
		Field:   "letter",
		Message: fmt.Sprintf("letter %s is not available in part %d", letter, part),
		Value:   letter,
		Rule:    "part_letter",
	}}
}
