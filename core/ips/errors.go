package ips

import (
	"errors"
	"fmt"
)

var (
	ErrEndpointNotFound = errors.New("endpoint not found")
	ErrPolicyNotFound   = errors.New("policy not found")
	ErrPolicyRequired   = errors.New("policy name required")
	ErrInvalidSelector  = errors.New("invalid enable_rules selector")
)

// FatalError terminates an invocation without a structured Outcome. The
// invocation boundary decides whether that means process exit or an error
// reply.
type FatalError struct {
	Cause error
	Msg   string
}

func (e *FatalError) Error() string {
	if e == nil {
		return ""
	}
	if e.Msg != "" {
		return e.Msg
	}
	if e.Cause != nil {
		return e.Cause.Error()
	}
	return "fatal error"
}

func (e *FatalError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

// Fatal wraps cause with a user-facing message.
func Fatal(cause error, format string, args ...any) error {
	return &FatalError{Cause: cause, Msg: fmt.Sprintf(format, args...)}
}

// IsFatal reports whether err carries a FatalError.
func IsFatal(err error) bool {
	var fe *FatalError
	return errors.As(err, &fe)
}

// Reason returns a short label for metrics.
func Reason(err error) string {
	switch {
	case err == nil:
		return "none"
	case errors.Is(err, ErrEndpointNotFound):
		return "endpoint_not_found"
	case errors.Is(err, ErrPolicyNotFound):
		return "policy_not_found"
	case errors.Is(err, ErrPolicyRequired):
		return "policy_required"
	case errors.Is(err, ErrInvalidSelector):
		return "invalid_selector"
	default:
		return "backend"
	}
}
