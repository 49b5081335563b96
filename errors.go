package auth

import (
	"strings"

	goerrors "github.com/goliatone/go-errors"
)

const (
	textCodeNotAuthenticated  = "NOT_AUTHENTICATED"
	textCodeProfileNotFound   = "PROFILE_NOT_FOUND"
	textCodeAlreadySubscribed = "SESSION_ALREADY_SUBSCRIBED"
	textCodeEmailNotVerified  = "EMAIL_NOT_VERIFIED"
	textCodeInvalidCreds      = "INVALID_CREDENTIALS"
)

// ErrNotAuthenticated is returned by RequireAuthenticated when nobody is
// signed in. Callers should send the user to the sign-in flow.
var ErrNotAuthenticated = goerrors.New("not authenticated", goerrors.CategoryAuth).
	WithTextCode(textCodeNotAuthenticated).
	WithCode(goerrors.CodeUnauthorized)

// ErrProfileNotFound is returned by a ProfileStore with no record for an id.
var ErrProfileNotFound = goerrors.New("profile not found", goerrors.CategoryNotFound).
	WithTextCode(textCodeProfileNotFound).
	WithCode(goerrors.CodeNotFound)

// ErrAlreadySubscribed is returned when Subscribe is called while a previous
// handle is still active.
var ErrAlreadySubscribed = goerrors.New("session manager already subscribed", goerrors.CategoryConflict).
	WithTextCode(textCodeAlreadySubscribed).
	WithCode(goerrors.CodeConflict)

// ErrEmailNotVerified is returned by identity providers when a sign in
// succeeds for an account whose email has not been verified.
var ErrEmailNotVerified = goerrors.New("email not verified", goerrors.CategoryAuth).
	WithTextCode(textCodeEmailNotVerified).
	WithCode(goerrors.CodeForbidden)

// ErrMismatchedHashAndPassword is returned when credentials do not match.
var ErrMismatchedHashAndPassword = goerrors.New("invalid credentials", goerrors.CategoryAuth).
	WithTextCode(textCodeInvalidCreds).
	WithCode(goerrors.CodeUnauthorized)

// ErrNoEmptyString is returned when hashing an empty password.
var ErrNoEmptyString = goerrors.New("password can not be empty", goerrors.CategoryBadInput).
	WithCode(goerrors.CodeBadRequest)

// ErrTokenExpired is returned when validating an expired id token.
var ErrTokenExpired = goerrors.New("token is expired", goerrors.CategoryAuth).
	WithTextCode("TOKEN_EXPIRED").
	WithCode(goerrors.CodeUnauthorized)

// ErrTokenMalformed is returned when an id token can not be parsed.
var ErrTokenMalformed = goerrors.New("token is malformed", goerrors.CategoryAuth).
	WithTextCode("TOKEN_MALFORMED").
	WithCode(goerrors.CodeUnauthorized)

// IsNotAuthenticated reports whether err carries the NOT_AUTHENTICATED code.
func IsNotAuthenticated(err error) bool {
	return hasTextCode(err, textCodeNotAuthenticated)
}

// IsProfileNotFound reports whether err means the profile store has no record.
func IsProfileNotFound(err error) bool {
	return hasTextCode(err, textCodeProfileNotFound)
}

// IsEmailNotVerified reports whether a sign in failed on an unverified email.
func IsEmailNotVerified(err error) bool {
	return hasTextCode(err, textCodeEmailNotVerified)
}

// IsInvalidCredentials reports whether err is a credentials mismatch.
func IsInvalidCredentials(err error) bool {
	return hasTextCode(err, textCodeInvalidCreds)
}

// IsTokenExpiredError will check for expired tokens
func IsTokenExpiredError(err error) bool {
	if err == nil {
		return false
	}
	if hasTextCode(err, "TOKEN_EXPIRED") {
		return true
	}
	return strings.Contains(err.Error(), "token is expired")
}

func hasTextCode(err error, code string) bool {
	if err == nil {
		return false
	}
	var target *goerrors.Error
	if goerrors.As(err, &target) {
		return target.TextCode == code
	}
	return false
}
