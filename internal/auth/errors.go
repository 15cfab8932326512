package auth

import "errors"

var (
	// ErrInvalidCredentials covers both an unknown email and a wrong password.
	ErrInvalidCredentials = errors.New("invalid email or password")
	// ErrEmailTaken is returned when registering an email that already has an account.
	ErrEmailTaken = errors.New("email already registered")
	// ErrValidation is returned when input validation fails.
	ErrValidation = errors.New("validation error")
	// ErrUserNotFound is returned when a user id does not resolve to an account.
	ErrUserNotFound = errors.New("user not found")
	// ErrTokenNotFound is the only failure reported for single-use tokens,
	// whether they never existed, expired, or were already consumed.
	ErrTokenNotFound = errors.New("invalid or expired token")

	// ErrTokenVerification wraps every signed-token failure.
	ErrTokenVerification = errors.New("token verification failed")
	// ErrTokenExpired marks a token whose exp has passed.
	ErrTokenExpired = errors.New("token expired")
	// ErrTokenInvalid marks a bad signature, issuer, audience or shape.
	ErrTokenInvalid = errors.New("token invalid")
)

func validationError(msg string) error {
	return &validationErr{msg: msg}
}

type validationErr struct {
	msg string
}

func (e *validationErr) Error() string { return e.msg }

func (e *validationErr) Unwrap() error { return ErrValidation }
