package model

import (
	"errors"
	"fmt"
	"regexp"
)

var ErrUsernameEmpty = errors.New("username must not be empty")
var ErrUsernameInvalidChars = errors.New("username must contain only letters, digits, or underscores")
var ErrUnknownInterest = errors.New("unknown interest")

var usernamePattern = regexp.MustCompile(`^[A-Za-z0-9_]+$`)

// ValidationError reports input the user can correct and retry.
// Remote is set when the server rejected the value (name taken, server-side rules).
type ValidationError struct {
	Field  string
	Value  string
	Reason error
	Remote bool
}

func (e *ValidationError) Error() string {
	if e.Remote {
		return fmt.Sprintf("%s rejected by server: %v", e.Field, e.Reason)
	}
	return fmt.Sprintf("invalid %s %q: %v", e.Field, e.Value, e.Reason)
}

func (e *ValidationError) Unwrap() error { return e.Reason }

// ValidateUsername checks a username against ^[A-Za-z0-9_]+$. Length is left to the server.
func ValidateUsername(name string) error {
	if name == "" {
		return &ValidationError{Field: "username", Value: name, Reason: ErrUsernameEmpty}
	}
	if !usernamePattern.MatchString(name) {
		return &ValidationError{Field: "username", Value: name, Reason: ErrUsernameInvalidChars}
	}
	return nil
}

// Identity is the result of a successful registration.
type Identity struct {
	Username string   `json:"username" yaml:"username"`
	Interest Interest `json:"interest" yaml:"interest"`
}
