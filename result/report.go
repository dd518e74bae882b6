// SPDX-License-Identifier: GPL-3.0-or-later

package result

import (
	"errors"
	"fmt"
	"syscall"
)

// Kind classifies a [*Report].
type Kind int

const (
	// KindGeneric is an unexpected native return value.
	KindGeneric Kind = iota

	// KindRuntime is an inconsistent state after a call.
	KindRuntime

	// KindArgument is a precondition that failed before any native call.
	KindArgument

	// KindSocket is a descriptor-level fault reported by the stack.
	KindSocket

	// KindService means the stack cannot serve the call in its current state.
	KindService
)

// String returns the string representation of the kind.
func (k Kind) String() string {
	switch k {
	case KindGeneric:
		return "GenericError"
	case KindRuntime:
		return "RuntimeError"
	case KindArgument:
		return "ArgumentError"
	case KindSocket:
		return "SocketError"
	case KindService:
		return "ServiceError"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// Report describes a failed operation.
type Report struct {
	// Kind is the failure class.
	Kind Kind

	// Message is the human readable description.
	Message string

	// Op is the name of the operation that failed.
	Op string

	// Errno is the secondary error reported by the stack
	// or zero when the stack did not report one.
	Errno syscall.Errno

	// Code is the native return code or zero when the
	// failure was detected before calling the stack.
	Code int
}

// NewReport creates a new [*Report] not associated with a native call.
func NewReport(kind Kind, message, op string) *Report {
	return &Report{Kind: kind, Message: message, Op: op}
}

// ErrWouldBlock matches any [*Report] for which [*Report.WouldBlock]
// is true when used with [errors.Is].
var ErrWouldBlock = errors.New("operation would block")

// Error implements error.
func (r *Report) Error() string {
	return fmt.Sprintf("%s - %q in operation: %s", r.Kind, r.Message, r.Op)
}

// Unwrap returns the errno, if any, so that [errors.Is]
// works with values such as [syscall.ECONNREFUSED].
func (r *Report) Unwrap() error {
	if r.Errno == 0 {
		return nil
	}
	return r.Errno
}

// Is implements the [errors.Is] protocol for [ErrWouldBlock].
func (r *Report) Is(target error) bool {
	return target == ErrWouldBlock && r.WouldBlock()
}

// WouldBlock returns whether a non-blocking operation
// could not complete without waiting.
func (r *Report) WouldBlock() bool {
	return r.Kind == KindSocket && isWouldBlock(r.Errno)
}
