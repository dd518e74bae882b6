// SPDX-License-Identifier: GPL-3.0-or-later

package result

import (
	"fmt"
	"syscall"

	"github.com/rbmk-project/vsock/vstack"
)

// FromReturnCode classifies a failed native call.
//
// The op argument names the public operation, call names the native
// function, rc is its (negative) return value and errno is the
// secondary error the stack reported alongside it.
//
// [vstack.ErrSocket] maps to [KindSocket], [vstack.ErrService] to
// [KindService] and [vstack.ErrArg] to [KindArgument]. Any other
// value maps to [KindGeneric] and keeps the raw code in the message.
func FromReturnCode(op, call string, rc int, errno syscall.Errno) *Report {
	report := &Report{Op: op, Errno: errno, Code: rc}
	switch rc {
	case vstack.ErrSocket:
		report.Kind = KindSocket
		report.Message = fmt.Sprintf("%s: ErrSocket (errno=%d: %s)", call, int(errno), errno)
	case vstack.ErrService:
		report.Kind = KindService
		report.Message = fmt.Sprintf("%s: ErrService (errno=%d)", call, int(errno))
	case vstack.ErrArg:
		report.Kind = KindArgument
		report.Message = fmt.Sprintf("%s: ErrArg (errno=%d)", call, int(errno))
	default:
		report.Kind = KindGeneric
		report.Message = fmt.Sprintf("%s: unexpected return code %d (errno=%d)", call, rc, int(errno))
	}
	return report
}

// isWouldBlock returns whether errno means the call would block.
func isWouldBlock(errno syscall.Errno) bool {
	return errno != 0 && (errno == vstack.EAGAIN || errno == vstack.EWOULDBLOCK)
}
