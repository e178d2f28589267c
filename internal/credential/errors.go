package credential

import (
	"errors"
	"fmt"
)

// Fields reported by ValidationError.
const (
	FieldPassword     = "password"
	FieldConfirmation = "repeatPassword"
)

// Reason classifies a SetPassword validation failure.
type Reason string

const (
	ReasonRequired Reason = "required"
	ReasonMismatch Reason = "identical"
	ReasonTooShort Reason = "short"
)

// Sentinels matched by ValidationError through errors.Is.
var (
	ErrRequired = errors.New("password required")
	ErrMismatch = errors.New("password confirmation does not match")
	ErrTooShort = errors.New("password too short")
)

// ValidationError describes why a password was rejected.
type ValidationError struct {
	Field  string
	Reason Reason
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.sentinel())
}

// Code returns the "<field>.<reason>" suffix used in API error codes.
func (e *ValidationError) Code() string {
	return e.Field + "." + string(e.Reason)
}

func (e *ValidationError) Unwrap() error {
	return e.sentinel()
}

func (e *ValidationError) sentinel() error {
	switch e.Reason {
	case ReasonRequired:
		return ErrRequired
	case ReasonMismatch:
		return ErrMismatch
	case ReasonTooShort:
		return ErrTooShort
	default:
		return errors.New(string(e.Reason))
	}
}
