package core

import (
	"errors"
	"strings"
)

// Reason is the last segment of an error code.
type Reason string

const (
	ReasonRequired  Reason = "required"
	ReasonInvalid   Reason = "invalid"
	ReasonNotFound  Reason = "notFound"
	ReasonExist     Reason = "exist"
	ReasonUnique    Reason = "unique"
	ReasonInUse     Reason = "inUse"
	ReasonPositive  Reason = "positive"
	ReasonNegative  Reason = "negative"
	ReasonShort     Reason = "short"
	ReasonLong      Reason = "long"
	ReasonIdentical Reason = "identical"
	ReasonSystem    Reason = "system"
	ReasonCycle     Reason = "cycle"
	ReasonType      Reason = "type"
)

// FieldID is the field name used for entity identifiers in error codes.
const FieldID = "_id"

var (
	ErrInvalid  = errors.New("invalid input")
	ErrNotFound = errors.New("not found")
	ErrConflict = errors.New("conflict")
)

// ValidationError reports a rejected field. Code() yields "<field>.<reason>".
type ValidationError struct {
	Field  string
	Reason Reason
}

// Invalid is shorthand for &ValidationError{Field: field, Reason: reason}.
func Invalid(field string, reason Reason) *ValidationError {
	return &ValidationError{Field: field, Reason: reason}
}

// NotFound reports a missing entity referenced by field.
func NotFound(field string) *ValidationError {
	return &ValidationError{Field: field, Reason: ReasonNotFound}
}

func (e *ValidationError) Error() string {
	return e.Code()
}

func (e *ValidationError) Code() string {
	return e.Field + "." + string(e.Reason)
}

func (e *ValidationError) Unwrap() error {
	switch e.Reason {
	case ReasonNotFound:
		return ErrNotFound
	case ReasonExist, ReasonUnique, ReasonInUse:
		return ErrConflict
	default:
		return ErrInvalid
	}
}

// Coded is implemented by errors that carry a "<field>.<reason>" code.
type Coded interface {
	error
	Code() string
}

// OpError scopes a coded error to an entity and action, producing codes
// like "account.update.error.startBalance.positive".
type OpError struct {
	Scope string
	Err   error
}

// Scoped wraps err with scope when err carries a code. Other errors are
// returned unchanged.
func Scoped(scope string, err error) error {
	if err == nil {
		return nil
	}
	var op *OpError
	if errors.As(err, &op) {
		return err
	}
	var c Coded
	if !errors.As(err, &c) {
		return err
	}
	return &OpError{Scope: scope, Err: err}
}

func (e *OpError) Error() string {
	return e.Code()
}

func (e *OpError) Code() string {
	var c Coded
	if errors.As(e.Err, &c) {
		return e.Scope + ".error." + c.Code()
	}
	return e.Scope + ".error"
}

func (e *OpError) Unwrap() error {
	return e.Err
}

// ErrorCode returns the full code for err, or "" when it has none.
func ErrorCode(err error) string {
	var op *OpError
	if errors.As(err, &op) {
		return op.Code()
	}
	var c Coded
	if errors.As(err, &c) {
		return c.Code()
	}
	return ""
}

// trimmedLen returns the rune length of s without surrounding spaces.
func trimmedLen(s string) int {
	return len([]rune(strings.TrimSpace(s)))
}
