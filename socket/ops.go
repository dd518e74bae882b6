//
// SPDX-License-Identifier: GPL-3.0-or-later
//
// Socket operations.
//

package socket

import (
	"fmt"
	"log/slog"
	"math"
	"net/netip"
	"runtime"
	"syscall"
	"time"

	"github.com/rbmk-project/vsock/ipaddr"
	"github.com/rbmk-project/vsock/result"
	"github.com/rbmk-project/vsock/sockaddr"
	"github.com/rbmk-project/vsock/vstack"
)

// Bind assigns the local address and port. A zero port
// selects an ephemeral port.
func (h *Handle) Bind(addr ipaddr.Addr, port uint16) result.Empty {
	const op = "Bind"
	s, report := h.begin(op)
	if report != nil {
		return empty(report)
	}
	sa, size, report := s.endpoint(op, addr, port)
	if report != nil {
		return empty(report)
	}
	local := slog.String("localAddr", addrPort(addr, port))
	t0 := h.logStart("bind", local)
	if rc, errno := h.stack.Bind(s.fd, sa, size); rc < 0 {
		report = result.FromReturnCode(op, "Bind", rc, errno)
	}
	h.logDone("bind", t0, report, local)
	return empty(report)
}

// Connect connects to the remote address and port. For
// a stream socket it blocks until the handshake completes.
func (h *Handle) Connect(addr ipaddr.Addr, port uint16) result.Empty {
	const op = "Connect"
	s, report := h.begin(op)
	if report != nil {
		return empty(report)
	}
	sa, size, report := s.endpoint(op, addr, port)
	if report != nil {
		return empty(report)
	}
	remote := slog.String("remoteAddr", addrPort(addr, port))
	t0 := h.logStart("connect", remote)
	if rc, errno := h.stack.Connect(s.fd, sa, size); rc < 0 {
		report = h.failure(op, "Connect", s, rc, errno)
	}
	h.logDone("connect", t0, report, remote)
	return empty(report)
}

// Listen marks a stream socket as accepting connections.
func (h *Handle) Listen(backlog int) result.Empty {
	const op = "Listen"
	s, report := h.begin(op)
	if report != nil {
		return empty(report)
	}
	if s.typ != Stream {
		return empty(argumentError(op, "listen requires a stream socket"))
	}
	if backlog < 0 {
		return empty(argumentError(op, "negative backlog"))
	}
	t0 := h.logStart("listen", slog.Int("backlog", backlog))
	if rc, errno := h.stack.Listen(s.fd, backlog); rc < 0 {
		report = result.FromReturnCode(op, "Listen", rc, errno)
	}
	h.logDone("listen", t0, report, slog.Int("backlog", backlog))
	return empty(report)
}

// Accept waits for an incoming connection on a listening stream
// socket and returns a new open [*Handle] for it.
func (h *Handle) Accept() result.Result[*Handle] {
	const op = "Accept"
	s, report := h.begin(op)
	if report != nil {
		return result.Fail[*Handle](report)
	}
	if s.typ != Stream {
		return result.Fail[*Handle](argumentError(op, "accept requires a stream socket"))
	}
	t0 := h.logStart("accept")
	var (
		sa   sockaddr.RawSockaddrAny
		size = uint32(sockaddr.SizeofSockaddrAny)
	)
	fd, errno := h.stack.Accept(s.fd, &sa, &size)
	if fd < 0 {
		report = h.failure(op, "Accept", s, fd, errno)
		h.logDone("accept", t0, report)
		return result.Fail[*Handle](report)
	}
	conn := &Handle{
		Logger: h.Logger,
		stack:  h.stack,
		spanID: newSpanID(),
		state:  stateOpen,
		fd:     fd,
		family: s.family,
		typ:    s.typ,
	}
	runtime.SetFinalizer(conn, (*Handle).finalize)
	raddr, rport := sa.ToAddr()
	h.logDone("accept", t0, nil,
		slog.String("remoteAddr", addrPort(raddr, rport)),
		slog.String("connSpanID", conn.spanID),
	)
	return result.Ok(conn)
}

// Send sends data on a connected socket and returns the
// number of bytes sent.
func (h *Handle) Send(data []byte) result.Result[int] {
	const op = "Send"
	s, report := h.begin(op)
	if report != nil {
		return result.Fail[int](report)
	}
	if len(data) <= 0 {
		return result.Fail[int](argumentError(op, "empty buffer"))
	}
	t0 := h.logStart("write", slog.Int("ioBufferSize", len(data)))
	count, errno := h.stack.Send(s.fd, data, 0)
	if count < 0 {
		report = h.failure(op, "Send", s, count, errno)
	}
	h.logDone("write", t0, report, slog.Int("ioBytesCount", max(count, 0)))
	return value(count, report)
}

// SendTo sends data to the given remote address and port and
// returns the number of bytes sent.
func (h *Handle) SendTo(data []byte, addr ipaddr.Addr, port uint16) result.Result[int] {
	const op = "SendTo"
	s, report := h.begin(op)
	if report != nil {
		return result.Fail[int](report)
	}
	if len(data) <= 0 {
		return result.Fail[int](argumentError(op, "empty buffer"))
	}
	sa, size, report := s.endpoint(op, addr, port)
	if report != nil {
		return result.Fail[int](report)
	}
	remote := slog.String("remoteAddr", addrPort(addr, port))
	t0 := h.logStart("write", slog.Int("ioBufferSize", len(data)), remote)
	count, errno := h.stack.SendTo(s.fd, data, 0, sa, size)
	if count < 0 {
		report = h.failure(op, "SendTo", s, count, errno)
	}
	h.logDone("write", t0, report, slog.Int("ioBytesCount", max(count, 0)), remote)
	return value(count, report)
}

// Receive reads into buf and returns the number of bytes read. Zero
// means the peer closed a stream. A datagram larger than buf is
// truncated.
func (h *Handle) Receive(buf []byte) result.Result[int] {
	const op = "Receive"
	s, report := h.begin(op)
	if report != nil {
		return result.Fail[int](report)
	}
	if len(buf) <= 0 {
		return result.Fail[int](argumentError(op, "empty buffer"))
	}
	t0 := h.logStart("read", slog.Int("ioBufferSize", len(buf)))
	count, errno := h.stack.Recv(s.fd, buf, 0)
	if count < 0 {
		report = h.failure(op, "Recv", s, count, errno)
	}
	h.logDone("read", t0, report, slog.Int("ioBytesCount", max(count, 0)))
	return value(count, report)
}

// Received is the result of [*Handle.ReceiveFrom].
type Received struct {
	// Count is the number of bytes read.
	Count int

	// Addr is the sender address.
	Addr ipaddr.Addr

	// Port is the sender port.
	Port uint16
}

// ReceiveFrom is like [*Handle.Receive] but also returns the sender.
func (h *Handle) ReceiveFrom(buf []byte) result.Result[Received] {
	const op = "ReceiveFrom"
	s, report := h.begin(op)
	if report != nil {
		return result.Fail[Received](report)
	}
	if len(buf) <= 0 {
		return result.Fail[Received](argumentError(op, "empty buffer"))
	}
	var (
		sa   sockaddr.RawSockaddrAny
		size = uint32(sockaddr.SizeofSockaddrAny)
	)
	t0 := h.logStart("read", slog.Int("ioBufferSize", len(buf)))
	count, errno := h.stack.RecvFrom(s.fd, buf, 0, &sa, &size)
	if count < 0 {
		report = h.failure(op, "RecvFrom", s, count, errno)
		h.logDone("read", t0, report, slog.Int("ioBytesCount", 0))
		return result.Fail[Received](report)
	}
	addr, port := sa.ToAddr()
	h.logDone("read", t0, nil,
		slog.Int("ioBytesCount", count),
		slog.String("remoteAddr", addrPort(addr, port)),
	)
	return result.Ok(Received{Count: count, Addr: addr, Port: port})
}

// PollEvents waits until any condition in mask holds or the timeout
// expires. A zero timeout probes and a negative timeout waits forever.
// It returns the subset of mask that holds, which is empty on timeout.
//
// An error, hangup or invalid descriptor condition on the socket is
// reported as a [result.KindSocket] failure.
func (h *Handle) PollEvents(mask PollMask, timeout time.Duration) result.Result[PollMask] {
	const op = "PollEvents"
	s, report := h.begin(op)
	if report != nil {
		return result.Fail[PollMask](report)
	}
	if mask == 0 || mask&^AnyEvent != 0 {
		return result.Fail[PollMask](argumentError(op, "invalid poll mask"))
	}
	t0 := h.logStart("poll", slog.Int("pollMask", int(mask)), slog.Duration("timeout", timeout))
	ready, report := h.poll(op, s, mask, timeout)
	h.logDone("poll", t0, report, slog.Int("pollReady", int(ready)))
	return value(ready, report)
}

// poll waits on the stack and classifies the returned events.
func (h *Handle) poll(op string, s snapshot, mask PollMask, timeout time.Duration) (PollMask, *result.Report) {
	fds := []vstack.PollFD{{FD: s.fd, Events: mask.events()}}
	rc, errno := h.stack.Poll(fds, timeoutMillis(timeout))
	if rc < 0 {
		return 0, h.failure(op, "Poll", s, rc, errno)
	}
	if report := h.interrupted(op, s); report != nil {
		return 0, report
	}
	revents := fds[0].Revents
	switch {
	case revents&vstack.PollNval != 0:
		return 0, socketError(op, "invalid descriptor", vstack.EBADF)
	case revents&vstack.PollErr != 0:
		return 0, socketError(op, "error condition on socket", 0)
	case revents&vstack.PollHup != 0:
		return 0, socketError(op, "hangup on socket", 0)
	}
	return pollMaskFrom(revents) & mask, nil
}

// timeoutMillis converts a timeout to the stack poll argument.
func timeoutMillis(timeout time.Duration) int {
	switch {
	case timeout < 0:
		return -1
	case timeout == 0:
		return 0
	}
	millis := timeout / time.Millisecond
	if timeout%time.Millisecond != 0 {
		millis++
	}
	return int(min(millis, math.MaxInt32))
}

// socketError returns a [result.KindSocket] report not produced by a return code.
func socketError(op, message string, errno syscall.Errno) *result.Report {
	report := result.NewReport(result.KindSocket, message, op)
	report.Errno = errno
	return report
}

// LocalIPAddress returns the bound local address.
func (h *Handle) LocalIPAddress() result.Result[ipaddr.Addr] {
	addr, _, report := h.name("LocalIPAddress", "GetSockName", h.stack.GetSockName)
	return value(addr, report)
}

// LocalPort returns the bound local port.
func (h *Handle) LocalPort() result.Result[uint16] {
	_, port, report := h.name("LocalPort", "GetSockName", h.stack.GetSockName)
	return value(port, report)
}

// RemoteIPAddress returns the connected remote address.
func (h *Handle) RemoteIPAddress() result.Result[ipaddr.Addr] {
	addr, _, report := h.name("RemoteIPAddress", "GetPeerName", h.stack.GetPeerName)
	return value(addr, report)
}

// RemotePort returns the connected remote port.
func (h *Handle) RemotePort() result.Result[uint16] {
	_, port, report := h.name("RemotePort", "GetPeerName", h.stack.GetPeerName)
	return value(port, report)
}

// nameFunc is the signature of [Stack.GetSockName] and [Stack.GetPeerName].
type nameFunc func(fd int, addr *sockaddr.RawSockaddrAny, addrlen *uint32) (int, syscall.Errno)

// name queries an endpoint of the socket.
func (h *Handle) name(op, call string, fn nameFunc) (ipaddr.Addr, uint16, *result.Report) {
	s, report := h.begin(op)
	if report != nil {
		return ipaddr.Addr{}, 0, report
	}
	var (
		sa   sockaddr.RawSockaddrAny
		size = uint32(sockaddr.SizeofSockaddrAny)
	)
	if rc, errno := fn(s.fd, &sa, &size); rc < 0 {
		return ipaddr.Addr{}, 0, result.FromReturnCode(op, call, rc, errno)
	}
	addr, port := sa.ToAddr()
	if !addr.IsValid() {
		return ipaddr.Addr{}, 0, result.NewReport(result.KindRuntime, "stack returned an unsupported address family", op)
	}
	return addr, port, nil
}

// SetNonBlocking enables or disables non-blocking mode. When enabled,
// calls that would block fail with a report matching [result.ErrWouldBlock].
func (h *Handle) SetNonBlocking(enabled bool) result.Empty {
	const op = "SetNonBlocking"
	s, report := h.begin(op)
	if report != nil {
		return empty(report)
	}
	flags, errno := h.stack.Fcntl(s.fd, vstack.FGetFL, 0)
	if flags < 0 {
		return empty(genericError(op, "Fcntl(F_GETFL)", flags, errno))
	}
	if enabled {
		flags |= vstack.ONonBlock
	} else {
		flags &^= vstack.ONonBlock
	}
	if rc, errno := h.stack.Fcntl(s.fd, vstack.FSetFL, flags); rc < 0 {
		return empty(genericError(op, "Fcntl(F_SETFL)", rc, errno))
	}
	return result.Success()
}

// NonBlocking returns whether non-blocking mode is enabled.
func (h *Handle) NonBlocking() result.Result[bool] {
	const op = "NonBlocking"
	s, report := h.begin(op)
	if report != nil {
		return result.Fail[bool](report)
	}
	flags, errno := h.stack.Fcntl(s.fd, vstack.FGetFL, 0)
	if flags < 0 {
		return result.Fail[bool](genericError(op, "Fcntl(F_GETFL)", flags, errno))
	}
	return result.Ok(flags&vstack.ONonBlock != 0)
}

// genericError returns a [result.KindGeneric] report for a failed call.
func genericError(op, call string, rc int, errno syscall.Errno) *result.Report {
	return &result.Report{
		Kind:    result.KindGeneric,
		Message: fmt.Sprintf("%s: failed with code %d (errno=%d)", call, rc, int(errno)),
		Op:      op,
		Errno:   errno,
		Code:    rc,
	}
}

// addrPort formats an endpoint for logging.
func addrPort(addr ipaddr.Addr, port uint16) string {
	if !addr.IsValid() {
		return ""
	}
	return netip.AddrPortFrom(addr.Netip(), port).String()
}
