package services

import (
	"strings"

	"github.com/go-playground/validator/v10"

	"foodglow-backend/internal/apperrors"
)

// Same rules as the binding tags on models.ClaimTrialRequest, for callers
// that do not bind a struct (the trial_email form field, the admin CLI).
const (
	nameRules  = "required,min=2,max=60"
	emailRules = "required,max=254,email"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// ValidateEmail checks syntax and length of an already trimmed email.
func ValidateEmail(email string) error {
	if email == "" {
		return apperrors.Validation("email is required")
	}
	if err := validate.Var(email, emailRules); err != nil {
		return apperrors.Validation("email %q is not a valid address", email)
	}
	return nil
}

func ValidateClaim(name, email string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return apperrors.Validation("name is required")
	}
	if err := validate.Var(name, nameRules); err != nil {
		return apperrors.Validation("name must be between 2 and 60 characters")
	}
	return ValidateEmail(strings.TrimSpace(email))
}
