// Package service contains the business logic of the chatbot.
package service

import "errors"

var (
	// ErrMissingCredentials means the request carried neither a token nor email and password.
	ErrMissingCredentials = errors.New("email and password are required")
	// ErrInvalidCredentials means the email is unknown, the password or the token did not verify.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrInvalidAPIKey is returned by check-auth for a wrong access key.
	ErrInvalidAPIKey = errors.New("invalid access key")
	// ErrChatNotFound is returned when the chat id does not resolve.
	ErrChatNotFound = errors.New("chat not found")
	// ErrChatForbidden is returned when the chat belongs to another user.
	ErrChatForbidden = errors.New("chat belongs to another user")
	// ErrValidation matches every *ValidationError.
	ErrValidation = errors.New("validation failed")
)

// ValidationError carries a message that is safe to return to the client as is.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

// Is lets errors.Is(err, ErrValidation) match any validation error.
func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

func invalid(msg string) error {
	return &ValidationError{Message: msg}
}
