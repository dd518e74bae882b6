// SPDX-License-Identifier: GPL-3.0-or-later

/*
Package socket provides [*Handle], an owned socket over a [Stack].

Every fallible operation returns a [result.Result] or [result.Empty].
Arguments are validated before calling the stack, so invalid input
yields a [result.KindArgument] report and never reaches the stack.
Failed stack calls are classified using [result.FromReturnCode].

# Lifecycle

A handle is created uninitialized by [New]. [*Handle.Init] opens a
descriptor. [*Handle.Close] releases it and is idempotent; a closed
handle may be reopened with Init. Operations other than Init fail
with [result.KindArgument] unless the handle is open. A handle that
is garbage collected while open closes its descriptor.

# Concurrency

A handle is not meant for concurrent use, with one exception: Close
may be called while another goroutine is blocked in Accept, Receive,
ReceiveFrom or PollEvents on the same handle. The blocked call then
returns a [result.KindService] report.

# Logging

When Logger is set, operations emit start/done records carrying the
handle span ID and, on failure, the errClass of the report.
*/
package socket
