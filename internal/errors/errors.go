package errors

import (
	"errors"
	"fmt"
)

// Common error types for the auth bridge
var (
	// Handoff errors
	ErrBypassNotAllowed      = errors.New("auth bypass is only available in development")
	ErrTestUserNotFound      = errors.New("designated test user not found")
	ErrSessionCookieMissing  = errors.New("unable to find session cookie")
	ErrInvalidRedirectTarget = errors.New("invalid redirect target")

	// Identity errors
	ErrUserNotFound = errors.New("user not found")

	// Session errors
	ErrSessionNotFound = errors.New("session not found")
	ErrSessionExpired  = errors.New("session expired")

	// Sign-in flow errors
	ErrUnknownProvider  = errors.New("unknown provider")
	ErrInvalidFlowState = errors.New("invalid flow state")
	ErrInvalidNonce     = errors.New("invalid nonce")
)

// Wrapf wraps an error with context using fmt.Errorf
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf(format+": %w", append(args, err)...)
}

// Is reports whether any error in err's chain matches target
func Is(err, target error) bool {
	return errors.Is(err, target)
}
