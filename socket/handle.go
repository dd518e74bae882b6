//
// SPDX-License-Identifier: GPL-3.0-or-later
//
// Socket handle and lifecycle.
//

package socket

import (
	"context"
	"log/slog"
	"runtime"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/rbmk-project/common/errclass"
	"github.com/rbmk-project/common/runtimex"
	"github.com/rbmk-project/vsock/ipaddr"
	"github.com/rbmk-project/vsock/result"
	"github.com/rbmk-project/vsock/sockaddr"
	"github.com/rbmk-project/vsock/vstack"
)

// Handle is a socket owning a descriptor of a [Stack].
//
// The zero value is invalid; construct using [New].
type Handle struct {
	// Logger is the OPTIONAL logger for structured logging.
	Logger *slog.Logger

	// stack is the stack owning the descriptors.
	stack Stack

	// spanID identifies the handle in the logs.
	spanID string

	// mu protects the fields below.
	mu sync.Mutex

	// state is the lifecycle state.
	state handleState

	// fd is the descriptor while open.
	fd int

	// family is the configured address family.
	family ipaddr.Family

	// typ is the configured transport type.
	typ Type

	// generation is incremented by every Close.
	generation uint64
}

// handleState is the lifecycle state of a [*Handle].
type handleState int

const (
	stateUninitialized = handleState(iota)
	stateOpen
	stateClosed
)

// New creates an uninitialized [*Handle] using the given [Stack].
func New(stack Stack) *Handle {
	runtimex.Assert(stack != nil, "socket.New: nil stack")
	h := &Handle{stack: stack, spanID: newSpanID(), fd: -1}
	runtime.SetFinalizer(h, (*Handle).finalize)
	return h
}

// newSpanID returns a UUIDv7 identifying a handle in the logs.
func newSpanID() string {
	return runtimex.Try1(uuid.NewV7()).String()
}

// SpanID returns the UUIDv7 identifying the handle in the logs.
func (h *Handle) SpanID() string {
	return h.spanID
}

// Init opens a descriptor for the given family and type.
//
// It fails with [result.KindArgument] when the handle is already
// open or when family or typ are not supported.
func (h *Handle) Init(family ipaddr.Family, typ Type) result.Empty {
	const op = "Init"
	var domain int
	switch family {
	case ipaddr.IPv4:
		domain = vstack.AFInet
	case ipaddr.IPv6:
		domain = vstack.AFInet6
	default:
		return empty(argumentError(op, "unsupported address family"))
	}
	switch typ {
	case Stream, Datagram, Raw:
	default:
		return empty(argumentError(op, "unsupported socket type"))
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.state == stateOpen {
		return empty(argumentError(op, "socket already open"))
	}

	t0 := h.logStart("init", slog.String("family", family.String()), slog.String("type", typ.String()))
	fd, errno := h.stack.Socket(domain, int(typ), 0)
	var report *result.Report
	if fd < 0 {
		report = result.FromReturnCode(op, "Socket", fd, errno)
	} else {
		h.fd, h.state, h.family, h.typ = fd, stateOpen, family, typ
	}
	h.logDone("init", t0, report)
	return empty(report)
}

// finalize closes a handle that is garbage collected while open.
func (h *Handle) finalize() {
	h.Close()
}

// IsOpen returns whether the handle owns a descriptor.
func (h *Handle) IsOpen() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state == stateOpen
}

// IsClosed returns whether the handle was closed and not reopened.
// An uninitialized handle is not closed.
func (h *Handle) IsClosed() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state == stateClosed
}

// Family returns the configured address family.
func (h *Handle) Family() ipaddr.Family {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.family
}

// Type returns the configured transport type.
func (h *Handle) Type() Type {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.typ
}

// Close releases the descriptor. Closing a handle that is not
// open succeeds. When the stack fails to close the descriptor,
// the handle is closed anyway and the failure is returned.
func (h *Handle) Close() result.Empty {
	h.mu.Lock()
	if h.state != stateOpen {
		h.mu.Unlock()
		return result.Success()
	}
	fd := h.fd
	h.state, h.fd = stateClosed, -1
	h.generation++
	h.mu.Unlock()

	t0 := h.logStart("close")
	var report *result.Report
	if rc, errno := h.stack.Close(fd); rc < 0 {
		report = result.FromReturnCode("Close", "Close", rc, errno)
	}
	h.logDone("close", t0, report)
	return empty(report)
}

// snapshot is the state of an open handle when an operation begins.
type snapshot struct {
	fd         int
	generation uint64
	family     ipaddr.Family
	typ        Type
}

// begin returns a snapshot of an open handle.
func (h *Handle) begin(op string) (snapshot, *result.Report) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.state != stateOpen {
		return snapshot{}, argumentError(op, "socket is not open")
	}
	return snapshot{fd: h.fd, generation: h.generation, family: h.family, typ: h.typ}, nil
}

// interrupted returns a report if the handle was closed after s was taken.
func (h *Handle) interrupted(op string, s snapshot) *result.Report {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.generation != s.generation {
		return result.NewReport(result.KindService, "socket closed while the operation was pending", op)
	}
	return nil
}

// failure classifies a failed stack call made by a possibly interrupted operation.
func (h *Handle) failure(op, call string, s snapshot, rc int, errno syscall.Errno) *result.Report {
	if report := h.interrupted(op, s); report != nil {
		return report
	}
	return result.FromReturnCode(op, call, rc, errno)
}

// endpoint validates and encodes an address for the stack.
func (s snapshot) endpoint(op string, addr ipaddr.Addr, port uint16) (*sockaddr.RawSockaddrAny, uint32, *result.Report) {
	if !addr.IsValid() {
		return nil, 0, argumentError(op, "invalid IP address")
	}
	if addr.Family() != s.family {
		return nil, 0, argumentError(op, "address family does not match the socket family")
	}
	sa, ok := sockaddr.FromAddr(addr, port)
	runtimex.Assert(ok, "socket: cannot encode a valid address")
	return &sa, sa.Size(), nil
}

// argumentError returns a [result.KindArgument] report.
func argumentError(op, message string) *result.Report {
	return result.NewReport(result.KindArgument, message, op)
}

// empty converts an optional report to a [result.Empty].
func empty(report *result.Report) result.Empty {
	if report != nil {
		return result.Fail[struct{}](report)
	}
	return result.Success()
}

// value converts a value and an optional report to a [result.Result].
func value[T any](v T, report *result.Report) result.Result[T] {
	if report != nil {
		return result.Fail[T](report)
	}
	return result.Ok(v)
}

// logStart emits the start record of an operation.
func (h *Handle) logStart(event string, attrs ...slog.Attr) time.Time {
	t0 := time.Now()
	if h.Logger != nil {
		attrs = append([]slog.Attr{slog.String("spanID", h.spanID)}, attrs...)
		attrs = append(attrs, slog.Time("t", t0))
		h.Logger.LogAttrs(context.Background(), slog.LevelInfo, event+"Start", attrs...)
	}
	return t0
}

// logDone emits the done record of an operation.
func (h *Handle) logDone(event string, t0 time.Time, report *result.Report, attrs ...slog.Attr) {
	if h.Logger == nil {
		return
	}
	var err error
	if report != nil {
		err = report
	}
	attrs = append([]slog.Attr{slog.String("spanID", h.spanID)}, attrs...)
	attrs = append(attrs,
		slog.Any("err", err),
		slog.String("errClass", errclass.New(err)),
		slog.Time("t0", t0),
		slog.Time("t", time.Now()),
	)
	h.Logger.LogAttrs(context.Background(), slog.LevelInfo, event+"Done", attrs...)
}
