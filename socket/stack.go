// SPDX-License-Identifier: GPL-3.0-or-later

package socket

import (
	"fmt"
	"syscall"

	"github.com/rbmk-project/vsock/sockaddr"
	"github.com/rbmk-project/vsock/vstack"
)

// Stack is the network stack used by a [*Handle].
//
// Each method returns a nonnegative value on success and one of the
// negative [vstack.ErrSocket] family of codes on failure, along
// with a secondary errno. [*vstack.Node] implements this interface.
type Stack interface {
	Socket(family, stype, protocol int) (int, syscall.Errno)
	Bind(fd int, addr *sockaddr.RawSockaddrAny, addrlen uint32) (int, syscall.Errno)
	Connect(fd int, addr *sockaddr.RawSockaddrAny, addrlen uint32) (int, syscall.Errno)
	Listen(fd, backlog int) (int, syscall.Errno)
	Accept(fd int, addr *sockaddr.RawSockaddrAny, addrlen *uint32) (int, syscall.Errno)
	Send(fd int, data []byte, flags int) (int, syscall.Errno)
	SendTo(fd int, data []byte, flags int, addr *sockaddr.RawSockaddrAny, addrlen uint32) (int, syscall.Errno)
	Recv(fd int, buf []byte, flags int) (int, syscall.Errno)
	RecvFrom(fd int, buf []byte, flags int, addr *sockaddr.RawSockaddrAny, addrlen *uint32) (int, syscall.Errno)
	Close(fd int) (int, syscall.Errno)
	GetSockName(fd int, addr *sockaddr.RawSockaddrAny, addrlen *uint32) (int, syscall.Errno)
	GetPeerName(fd int, addr *sockaddr.RawSockaddrAny, addrlen *uint32) (int, syscall.Errno)
	Poll(fds []vstack.PollFD, timeoutMs int) (int, syscall.Errno)
	Fcntl(fd, cmd, flags int) (int, syscall.Errno)
}

var _ Stack = &vstack.Node{}

// Type is the transport type of a [*Handle].
type Type int

const (
	// Stream is a reliable byte stream (TCP).
	Stream = Type(vstack.SockStream)

	// Datagram is an unreliable datagram socket (UDP).
	Datagram = Type(vstack.SockDgram)

	// Raw is a raw IP socket.
	Raw = Type(vstack.SockRaw)
)

// String implements [fmt.Stringer].
func (t Type) String() string {
	switch t {
	case Stream:
		return "stream"
	case Datagram:
		return "datagram"
	case Raw:
		return "raw"
	default:
		return fmt.Sprintf("Type(%d)", int(t))
	}
}

// PollMask is a set of readiness conditions.
type PollMask uint8

const (
	// ReadyToReceive means data can be received without blocking.
	ReadyToReceive PollMask = 1 << iota

	// ReadyToSend means data can be sent without blocking.
	ReadyToSend

	// ReadyToReceivePriorityData means priority data is available.
	ReadyToReceivePriorityData

	// ReadyToAccept means a connection can be accepted without blocking.
	ReadyToAccept = ReadyToReceive

	// ReadyToReceiveAny combines the receive conditions.
	ReadyToReceiveAny = ReadyToReceive | ReadyToReceivePriorityData

	// AnyEvent combines all the conditions.
	AnyEvent = ReadyToReceiveAny | ReadyToSend
)

// pollBits maps each condition to the stack poll bit.
var pollBits = []struct {
	mask PollMask
	bit  int16
}{
	{ReadyToReceive, vstack.PollIn},
	{ReadyToSend, vstack.PollOut},
	{ReadyToReceivePriorityData, vstack.PollPri},
}

// events converts the mask to stack poll bits.
func (m PollMask) events() (events int16) {
	for _, entry := range pollBits {
		if m&entry.mask != 0 {
			events |= entry.bit
		}
	}
	return
}

// pollMaskFrom converts stack poll bits to a mask.
func pollMaskFrom(revents int16) (mask PollMask) {
	for _, entry := range pollBits {
		if revents&entry.bit != 0 {
			mask |= entry.mask
		}
	}
	return
}
