// SPDX-License-Identifier: GPL-3.0-or-later

package vstack

import "github.com/rbmk-project/vsock/sockaddr"

// Return codes.
const (
	// ErrOK means success.
	ErrOK = 0

	// ErrSocket means a socket-level failure; see the errno.
	ErrSocket = -1

	// ErrService means the node cannot serve the call in its current state.
	ErrService = -2

	// ErrArg means an invalid argument was passed to the call.
	ErrArg = -3

	// ErrNoResult means the call produced no result.
	ErrNoResult = -4

	// ErrGeneral is any other failure.
	ErrGeneral = -5
)

// Address and protocol families.
const (
	AFInet  = sockaddr.AFInet
	AFInet6 = sockaddr.AFInet6
	PFInet  = AFInet
	PFInet6 = AFInet6
)

// Socket types.
const (
	SockStream = 1
	SockDgram  = 2
	SockRaw    = 3
)

// Transport protocols accepted by [*Node.Socket] besides zero.
const (
	IPProtoTCP = 6
	IPProtoUDP = 17
)

// Poll event bits.
const (
	PollIn   = 0x001
	PollPri  = 0x002
	PollOut  = 0x004
	PollErr  = 0x008
	PollHup  = 0x010
	PollNval = 0x020
)

// Fcntl commands and flags.
const (
	FGetFL    = 3
	FSetFL    = 4
	ONonBlock = 1
)

// Message flags.
const (
	// MsgDontWait makes a single call non-blocking.
	MsgDontWait = 0x08
)

// Limits.
const (
	// MaxDatagramSize is the largest datagram payload.
	MaxDatagramSize = 65507

	// MaxBacklog is the largest accepted listen backlog.
	MaxBacklog = 128

	// firstEphemeralPort is the first port of the ephemeral range.
	firstEphemeralPort = 49152

	// maxQueuedDatagrams bounds the receive queue of a datagram socket.
	maxQueuedDatagrams = 512

	// deviceQueueSize is the capacity of the device channels.
	deviceQueueSize = 1024
)

// PollFD is a descriptor entry passed to [*Node.Poll].
type PollFD struct {
	// FD is the descriptor.
	FD int

	// Events are the requested events.
	Events int16

	// Revents are the returned events.
	Revents int16
}
