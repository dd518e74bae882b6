// SPDX-License-Identifier: GPL-3.0-or-later

/*
Package result contains [Result], the value-or-error type returned
by every fallible socket, event and service operation.

A [Result] holds either a success value or a [*Report] describing
the failure. Reading the wrong branch is a programming error and
panics. Use [Result.Unwrap] to obtain a conventional (value, error)
pair at the boundary with ordinary Go code.
*/
package result

import (
	"github.com/rbmk-project/common/runtimex"
)

// Result contains either a value of type T or a [*Report].
//
// The zero value is a successful result holding the zero T.
type Result[T any] struct {
	// value is the success value.
	value T

	// err is the failure report or nil on success.
	err *Report
}

// Ok returns a successful [Result] holding value.
func Ok[T any](value T) Result[T] {
	return Result[T]{value: value}
}

// Fail returns a failed [Result] holding the given report.
//
// This function panics if report is nil.
func Fail[T any](report *Report) Result[T] {
	runtimex.Assert(report != nil, "result.Fail: nil report")
	return Result[T]{err: report}
}

// HasError returns whether the result holds a [*Report].
func (r Result[T]) HasError() bool {
	return r.err != nil
}

// OK returns whether the result holds a value.
func (r Result[T]) OK() bool {
	return r.err == nil
}

// Get returns the success value.
//
// This method panics if the result holds a [*Report].
func (r Result[T]) Get() T {
	runtimex.Assert(r.err == nil, "result.Get: result holds an error")
	return r.value
}

// Report returns the failure report.
//
// This method panics if the result holds a value.
func (r Result[T]) Report() *Report {
	runtimex.Assert(r.err != nil, "result.Report: result holds a value")
	return r.err
}

// Unwrap converts the result to the (value, error) convention.
func (r Result[T]) Unwrap() (T, error) {
	if r.err != nil {
		var zero T
		return zero, r.err
	}
	return r.value, nil
}

// Must returns the value or panics with the report.
func (r Result[T]) Must() T {
	if r.err != nil {
		panic(r.err)
	}
	return r.value
}

// Empty is a [Result] carrying no value.
type Empty = Result[struct{}]

// Success returns a successful [Empty].
func Success() Empty {
	return Empty{}
}
