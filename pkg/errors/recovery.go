package errors

import (
	"fmt"
	"runtime/debug"
)

// RecoverPanic converts a recovered panic into a permanent taxonomy error
// with the stack trace attached. Panics are never retried.
func RecoverPanic(r interface{}) error {
	if r == nil {
		return nil
	}

	var err error
	switch v := r.(type) {
	case error:
		err = v
	case string:
		err = fmt.Errorf("panic: %s", v)
	default:
		err = fmt.Errorf("panic: %v", v)
	}

	return Permanent("PANIC", "panic during processing").
		WithCause(err).
		WithDetail("stack_trace", string(debug.Stack()))
}
