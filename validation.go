package auth

import (
	"errors"
	"regexp"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"
	goerrors "github.com/goliatone/go-errors"
)

var usernamePattern = regexp.MustCompile(`^[a-zA-Z0-9_]+$`)

// RegistrationInput is the payload of the sign up form.
type RegistrationInput struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Username string `json:"username,omitempty"`
}

// Normalize trims whitespace from the identifying fields.
func (r RegistrationInput) Normalize() RegistrationInput {
	r.Email = strings.TrimSpace(strings.ToLower(r.Email))
	r.Username = strings.TrimSpace(r.Username)
	return r
}

// Validate checks the registration payload.
func (r RegistrationInput) Validate() error {
	err := validation.ValidateStruct(&r,
		validation.Field(&r.Email, validation.Required, is.Email),
		validation.Field(&r.Password, validation.Required, validation.Length(8, 0)),
		validation.Field(&r.Username,
			validation.Length(2, 32),
			validation.Match(usernamePattern).Error("can only contain letters, numbers, and underscores"),
		),
	)
	if err != nil {
		return ValidationError(err, "invalid registration").
			WithTextCode("INVALID_REGISTRATION").
			WithCode(goerrors.CodeBadRequest)
	}
	return nil
}

// SignInInput is the payload of the sign in form.
type SignInInput struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Validate checks the sign in payload.
func (s SignInInput) Validate() error {
	err := validation.ValidateStruct(&s,
		validation.Field(&s.Email, validation.Required, is.Email),
		validation.Field(&s.Password, validation.Required),
	)
	if err != nil {
		return ValidationError(err, "invalid credentials payload").
			WithCode(goerrors.CodeBadRequest)
	}
	return nil
}

// ValidationError converts an ozzo validation result into a validation
// error carrying one field error per invalid field.
func ValidationError(err error, message string) *goerrors.Error {
	var fields validation.Errors
	if errors.As(err, &fields) {
		messages := make(map[string]string, len(fields))
		for field, fieldErr := range fields {
			messages[field] = fieldErr.Error()
		}
		richErr := goerrors.NewValidationFromMap(message, messages)
		richErr.Source = err
		return richErr
	}
	return goerrors.Wrap(err, goerrors.CategoryValidation, message)
}
