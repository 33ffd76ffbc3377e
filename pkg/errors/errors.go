package errors

import (
	"errors"
	"fmt"
)

// Kind is the closed failure taxonomy for the pipeline. Every error that
// crosses a component boundary carries exactly one Kind; callers switch on
// it and never inspect message text.
type Kind int

const (
	// KindRetriable marks transient dependency failures (store or provider
	// timeouts). Bounded retries are allowed.
	KindRetriable Kind = iota
	// KindPermanent marks inputs or configuration that cannot succeed on
	// retry: missing lease, missing required field, invalid address,
	// missing required remote-template field.
	KindPermanent
	// KindSecurity marks a claimed identity disagreeing with the
	// system-of-record. Never retried, always alerted.
	KindSecurity
)

func (k Kind) String() string {
	switch k {
	case KindRetriable:
		return "retriable"
	case KindPermanent:
		return "permanent"
	case KindSecurity:
		return "security"
	default:
		return "unknown"
	}
}

type RetryableError interface {
	error
	IsRetryable() bool
}

type FatalError interface {
	error
	IsFatal() bool
}

type Error struct {
	Kind    Kind
	Code    string
	Message string
	Details map[string]interface{}
	Cause   error
}

func New(kind Kind, code, message string) *Error {
	return &Error{
		Kind:    kind,
		Code:    code,
		Message: message,
	}
}

func Retriable(code, message string) *Error {
	return New(KindRetriable, code, message)
}

func Permanent(code, message string) *Error {
	return New(KindPermanent, code, message)
}

func Security(code, message string) *Error {
	return New(KindSecurity, code, message)
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

func (e *Error) WithCause(cause error) *Error {
	err := *e
	err.Cause = cause
	return &err
}

func (e *Error) WithDetail(key string, value interface{}) *Error {
	err := *e
	details := make(map[string]interface{}, len(err.Details)+1)
	for k, v := range err.Details {
		details[k] = v
	}
	details[key] = value
	err.Details = details
	return &err
}

// IsRetryable integrates with pkg/retry: only KindRetriable errors are
// retried, everything else is terminal.
func (e *Error) IsRetryable() bool {
	return e.Kind == KindRetriable
}

func (e *Error) IsFatal() bool {
	return e.Kind != KindRetriable
}

// KindOf extracts the Kind from an error chain. Unclassified errors report
// ok=false; the caller decides their disposition (the broker treats them as
// retriable so a missed classification cannot silently drop an event).
func KindOf(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return 0, false
}

func IsRetriable(err error) bool {
	k, ok := KindOf(err)
	return ok && k == KindRetriable
}

func IsPermanent(err error) bool {
	k, ok := KindOf(err)
	return ok && k == KindPermanent
}

func IsSecurity(err error) bool {
	k, ok := KindOf(err)
	return ok && k == KindSecurity
}

func CodeOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// Wrap attaches a cause to a taxonomy error, preserving its Kind.
func Wrap(err error, taxErr *Error) *Error {
	if err == nil {
		return nil
	}
	return taxErr.WithCause(err)
}
