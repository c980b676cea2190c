package auth

import (
	"errors"
	"fmt"
)

// Sentinel errors for account operations
var (
	// ErrInvalidCredentials is returned when email and password do not match an account
	ErrInvalidCredentials = errors.New("invalid email or password")

	// ErrEmailInUse is returned when registering an email that already has an account
	ErrEmailInUse = errors.New("email already in use")

	// ErrUserNotFound is returned when no account matches
	ErrUserNotFound = errors.New("user not found")

	// ErrInvalidToken is returned for malformed, expired or revoked tokens
	ErrInvalidToken = errors.New("invalid or expired token")

	// ErrNotSignedIn is returned by client sessions without a signed-in user
	ErrNotSignedIn = errors.New("not signed in")
)

// WeakPasswordError is returned when a password is shorter than MinPasswordLength
type WeakPasswordError struct {
	MinLength int
}

func (e *WeakPasswordError) Error() string {
	return fmt.Sprintf("password must be at least %d characters", e.MinLength)
}

// InvalidEmailError is returned for addresses that are not valid email addresses
type InvalidEmailError struct {
	Email string
}

func (e *InvalidEmailError) Error() string {
	return fmt.Sprintf("invalid email address: %q", e.Email)
}

// IsWeakPassword checks if error is a weak password error
func IsWeakPassword(err error) bool {
	var weak *WeakPasswordError
	return errors.As(err, &weak)
}

// IsInvalidEmail checks if error is an invalid email error
func IsInvalidEmail(err error) bool {
	var invalid *InvalidEmailError
	return errors.As(err, &invalid)
}
