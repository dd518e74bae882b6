// SPDX-License-Identifier: GPL-3.0-or-later

package vstack_test

import (
	"syscall"
	"testing"
	"time"

	"github.com/rbmk-project/vsock/sockaddr"
	"github.com/rbmk-project/vsock/vstack"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNode_Socket(t *testing.T) {
	t.Run("not running", func(t *testing.T) {
		node := vstack.NewNode(nil)
		fd, errno := node.Socket(vstack.AFInet, vstack.SockDgram, 0)
		assert.Equal(t, vstack.ErrService, fd)
		assert.Equal(t, vstack.ENETDOWN, errno)
	})

	node, _ := startNode(t, nil, "")

	cases := []struct {
		name     string
		family   int
		stype    int
		protocol int
		errno    syscall.Errno
	}{
		{"tcp4", vstack.AFInet, vstack.SockStream, 0, 0},
		{"tcp6 explicit protocol", vstack.AFInet6, vstack.SockStream, vstack.IPProtoTCP, 0},
		{"udp4 explicit protocol", vstack.AFInet, vstack.SockDgram, vstack.IPProtoUDP, 0},
		{"stream with udp protocol", vstack.AFInet, vstack.SockStream, vstack.IPProtoUDP, vstack.EPROTONOSUPPORT},
		{"raw", vstack.AFInet, vstack.SockRaw, 0, vstack.EPROTONOSUPPORT},
		{"unknown family", 77, vstack.SockDgram, 0, vstack.EAFNOSUPPORT},
		{"unknown type", vstack.AFInet, 77, 0, vstack.EINVAL},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			fd, errno := node.Socket(tc.family, tc.stype, tc.protocol)
			assert.Equal(t, tc.errno, errno)
			if tc.errno != 0 {
				assert.Equal(t, vstack.ErrSocket, fd)
				return
			}
			assert.Positive(t, fd)
			rc, _ := node.Close(fd)
			assert.Equal(t, vstack.ErrOK, rc)
		})
	}
}

func TestNode_Bind(t *testing.T) {
	node, _ := startNode(t, nil, "")

	t.Run("ephemeral port", func(t *testing.T) {
		fd := mustSocket(t, node, vstack.AFInet, vstack.SockDgram)
		defer node.Close(fd)
		sa, size := endpoint("127.0.0.1:0")
		rc, errno := node.Bind(fd, sa, size)
		require.Equal(t, vstack.ErrOK, rc)
		require.Zero(t, errno)
		local := localEndpoint(t, node, fd)
		assert.Equal(t, "127.0.0.1", local.Addr().String())
		assert.GreaterOrEqual(t, local.Port(), uint16(49152))
	})

	t.Run("address in use", func(t *testing.T) {
		sa, size := endpoint("0.0.0.0:5555")
		first := mustSocket(t, node, vstack.AFInet, vstack.SockDgram)
		defer node.Close(first)
		rc, _ := node.Bind(first, sa, size)
		require.Equal(t, vstack.ErrOK, rc)

		second := mustSocket(t, node, vstack.AFInet, vstack.SockDgram)
		defer node.Close(second)
		other, size := endpoint("127.0.0.1:5555")
		rc, errno := node.Bind(second, other, size)
		assert.Equal(t, vstack.ErrSocket, rc)
		assert.Equal(t, vstack.EADDRINUSE, errno)
	})

	t.Run("bound twice", func(t *testing.T) {
		fd := mustSocket(t, node, vstack.AFInet, vstack.SockDgram)
		defer node.Close(fd)
		sa, size := endpoint("127.0.0.1:0")
		rc, _ := node.Bind(fd, sa, size)
		require.Equal(t, vstack.ErrOK, rc)
		rc, errno := node.Bind(fd, sa, size)
		assert.Equal(t, vstack.ErrSocket, rc)
		assert.Equal(t, vstack.EINVAL, errno)
	})

	t.Run("foreign address", func(t *testing.T) {
		fd := mustSocket(t, node, vstack.AFInet, vstack.SockDgram)
		defer node.Close(fd)
		sa, size := endpoint("10.9.9.9:80")
		rc, errno := node.Bind(fd, sa, size)
		assert.Equal(t, vstack.ErrSocket, rc)
		assert.Equal(t, vstack.EADDRNOTAVAIL, errno)
	})

	t.Run("family mismatch", func(t *testing.T) {
		fd := mustSocket(t, node, vstack.AFInet, vstack.SockDgram)
		defer node.Close(fd)
		sa, size := endpoint("[::1]:80")
		rc, errno := node.Bind(fd, sa, size)
		assert.Equal(t, vstack.ErrSocket, rc)
		assert.Equal(t, vstack.EAFNOSUPPORT, errno)
	})

	t.Run("short length", func(t *testing.T) {
		fd := mustSocket(t, node, vstack.AFInet, vstack.SockDgram)
		defer node.Close(fd)
		sa, _ := endpoint("127.0.0.1:80")
		rc, errno := node.Bind(fd, sa, 4)
		assert.Equal(t, vstack.ErrArg, rc)
		assert.Equal(t, vstack.EINVAL, errno)
	})

	t.Run("bad descriptor", func(t *testing.T) {
		sa, size := endpoint("127.0.0.1:80")
		rc, errno := node.Bind(1<<20, sa, size)
		assert.Equal(t, vstack.ErrSocket, rc)
		assert.Equal(t, vstack.EBADF, errno)
	})
}

func TestNode_UDP(t *testing.T) {
	node, _ := startNode(t, nil, "")

	server := mustSocket(t, node, vstack.AFInet, vstack.SockDgram)
	defer node.Close(server)
	sa, size := endpoint("127.0.0.1:0")
	rc, _ := node.Bind(server, sa, size)
	require.Equal(t, vstack.ErrOK, rc)
	dst := sockaddr.FromAddrPort(localEndpoint(t, node, server))

	client := mustSocket(t, node, vstack.AFInet, vstack.SockDgram)
	defer node.Close(client)

	t.Run("sendto and recvfrom", func(t *testing.T) {
		count, errno := node.SendTo(client, []byte("hello"), 0, &dst, dst.Size())
		require.Zero(t, errno)
		require.Equal(t, 5, count)

		buf := make([]byte, 64)
		var from sockaddr.RawSockaddrAny
		var fromlen uint32
		count, errno = node.RecvFrom(server, buf, 0, &from, &fromlen)
		require.Zero(t, errno)
		assert.Equal(t, "hello", string(buf[:count]))
		assert.Equal(t, localEndpoint(t, node, client).Port(), from.AddrPort().Port())
		assert.Equal(t, "127.0.0.1", from.AddrPort().Addr().String())
	})

	t.Run("truncation", func(t *testing.T) {
		_, errno := node.SendTo(client, []byte("0123456789"), 0, &dst, dst.Size())
		require.Zero(t, errno)
		buf := make([]byte, 4)
		count, errno := node.Recv(server, buf, 0)
		require.Zero(t, errno)
		assert.Equal(t, "0123", string(buf[:count]))
	})

	t.Run("connected send", func(t *testing.T) {
		rc, errno := node.Connect(client, &dst, dst.Size())
		require.Equal(t, vstack.ErrOK, rc)
		require.Zero(t, errno)
		_, errno = node.Send(client, []byte("abc"), 0)
		require.Zero(t, errno)
		buf := make([]byte, 8)
		count, errno := node.Recv(server, buf, 0)
		require.Zero(t, errno)
		assert.Equal(t, "abc", string(buf[:count]))

		var peer sockaddr.RawSockaddrAny
		var peerlen uint32
		rc, _ = node.GetPeerName(client, &peer, &peerlen)
		require.Equal(t, vstack.ErrOK, rc)
		assert.Equal(t, dst.AddrPort(), peer.AddrPort())
	})

	t.Run("no destination", func(t *testing.T) {
		fd := mustSocket(t, node, vstack.AFInet, vstack.SockDgram)
		defer node.Close(fd)
		rc, errno := node.Send(fd, []byte("x"), 0)
		assert.Equal(t, vstack.ErrSocket, rc)
		assert.Equal(t, vstack.EDESTADDRREQ, errno)
	})

	t.Run("too large", func(t *testing.T) {
		big := make([]byte, vstack.MaxDatagramSize+1)
		rc, errno := node.SendTo(client, big, 0, &dst, dst.Size())
		assert.Equal(t, vstack.ErrSocket, rc)
		assert.Equal(t, vstack.EMSGSIZE, errno)
	})

	t.Run("would block", func(t *testing.T) {
		buf := make([]byte, 8)
		rc, errno := node.Recv(server, buf, vstack.MsgDontWait)
		assert.Equal(t, vstack.ErrSocket, rc)
		assert.Equal(t, vstack.EAGAIN, errno)
	})
}

func TestNode_TCP(t *testing.T) {
	node, _ := startNode(t, nil, "")

	listener := mustSocket(t, node, vstack.AFInet, vstack.SockStream)
	defer node.Close(listener)
	sa, size := endpoint("127.0.0.1:0")
	rc, _ := node.Bind(listener, sa, size)
	require.Equal(t, vstack.ErrOK, rc)
	rc, _ = node.Listen(listener, 4)
	require.Equal(t, vstack.ErrOK, rc)
	dst := sockaddr.FromAddrPort(localEndpoint(t, node, listener))

	client := mustSocket(t, node, vstack.AFInet, vstack.SockStream)
	rc, errno := node.Connect(client, &dst, dst.Size())
	require.Equal(t, vstack.ErrOK, rc)
	require.Zero(t, errno)

	var peer sockaddr.RawSockaddrAny
	var peerlen uint32
	conn, errno := node.Accept(listener, &peer, &peerlen)
	require.Zero(t, errno)
	require.Positive(t, conn)
	defer node.Close(conn)
	assert.Equal(t, localEndpoint(t, node, client), peer.AddrPort())

	count, errno := node.Send(client, []byte("ping"), 0)
	require.Zero(t, errno)
	require.Equal(t, 4, count)

	buf := make([]byte, 16)
	count, errno = node.Recv(conn, buf, 0)
	require.Zero(t, errno)
	assert.Equal(t, "ping", string(buf[:count]))

	t.Run("connect twice", func(t *testing.T) {
		rc, errno := node.Connect(client, &dst, dst.Size())
		assert.Equal(t, vstack.ErrSocket, rc)
		assert.Equal(t, vstack.EISCONN, errno)
	})

	t.Run("peer close", func(t *testing.T) {
		rc, _ := node.Close(client)
		require.Equal(t, vstack.ErrOK, rc)

		fds := []vstack.PollFD{{FD: conn, Events: vstack.PollIn}}
		count, errno := node.Poll(fds, 0)
		require.Zero(t, errno)
		require.Equal(t, 1, count)
		assert.Equal(t, int16(vstack.PollIn|vstack.PollHup), fds[0].Revents)

		count, errno = node.Recv(conn, buf, 0)
		assert.Zero(t, errno)
		assert.Zero(t, count)
	})
}

func TestNode_TCPRefused(t *testing.T) {
	node, _ := startNode(t, nil, "")
	fd := mustSocket(t, node, vstack.AFInet6, vstack.SockStream)
	defer node.Close(fd)
	dst, size := endpoint("[::1]:9")
	rc, errno := node.Connect(fd, dst, size)
	assert.Equal(t, vstack.ErrSocket, rc)
	assert.Equal(t, vstack.ECONNREFUSED, errno)

	rc, errno = node.Send(fd, []byte("x"), 0)
	assert.Equal(t, vstack.ErrSocket, rc)
	assert.Equal(t, vstack.ENOTCONN, errno)
}

func TestNode_Listen(t *testing.T) {
	node, _ := startNode(t, nil, "")

	t.Run("datagram", func(t *testing.T) {
		fd := mustSocket(t, node, vstack.AFInet, vstack.SockDgram)
		defer node.Close(fd)
		rc, errno := node.Listen(fd, 1)
		assert.Equal(t, vstack.ErrSocket, rc)
		assert.Equal(t, vstack.EOPNOTSUPP, errno)
	})

	t.Run("accept without listen", func(t *testing.T) {
		fd := mustSocket(t, node, vstack.AFInet, vstack.SockStream)
		defer node.Close(fd)
		rc, errno := node.Accept(fd, nil, nil)
		assert.Equal(t, vstack.ErrSocket, rc)
		assert.Equal(t, vstack.EINVAL, errno)
	})

	t.Run("nonblocking accept", func(t *testing.T) {
		fd := mustSocket(t, node, vstack.AFInet, vstack.SockStream)
		defer node.Close(fd)
		rc, _ := node.Listen(fd, 1)
		require.Equal(t, vstack.ErrOK, rc)
		assert.NotZero(t, localEndpoint(t, node, fd).Port())
		rc, _ = node.Fcntl(fd, vstack.FSetFL, vstack.ONonBlock)
		require.Equal(t, vstack.ErrOK, rc)
		rc, errno := node.Accept(fd, nil, nil)
		assert.Equal(t, vstack.ErrSocket, rc)
		assert.Equal(t, vstack.EAGAIN, errno)
	})

	t.Run("backlog full", func(t *testing.T) {
		fd := mustSocket(t, node, vstack.AFInet, vstack.SockStream)
		defer node.Close(fd)
		sa, size := endpoint("127.0.0.1:0")
		rc, _ := node.Bind(fd, sa, size)
		require.Equal(t, vstack.ErrOK, rc)
		rc, _ = node.Listen(fd, 1)
		require.Equal(t, vstack.ErrOK, rc)
		dst := sockaddr.FromAddrPort(localEndpoint(t, node, fd))

		first := mustSocket(t, node, vstack.AFInet, vstack.SockStream)
		defer node.Close(first)
		rc, _ = node.Connect(first, &dst, dst.Size())
		require.Equal(t, vstack.ErrOK, rc)

		second := mustSocket(t, node, vstack.AFInet, vstack.SockStream)
		defer node.Close(second)
		rc, errno := node.Connect(second, &dst, dst.Size())
		assert.Equal(t, vstack.ErrSocket, rc)
		assert.Equal(t, vstack.ECONNREFUSED, errno)
	})
}

func TestNode_Poll(t *testing.T) {
	node, _ := startNode(t, nil, "")
	fd := mustSocket(t, node, vstack.AFInet, vstack.SockDgram)
	defer node.Close(fd)

	t.Run("empty", func(t *testing.T) {
		rc, errno := node.Poll(nil, 0)
		assert.Equal(t, vstack.ErrArg, rc)
		assert.Equal(t, vstack.EINVAL, errno)
	})

	t.Run("probe", func(t *testing.T) {
		fds := []vstack.PollFD{{FD: fd, Events: vstack.PollIn | vstack.PollOut}}
		count, errno := node.Poll(fds, 0)
		require.Zero(t, errno)
		assert.Equal(t, 1, count)
		assert.Equal(t, int16(vstack.PollOut), fds[0].Revents)
	})

	t.Run("timeout", func(t *testing.T) {
		fds := []vstack.PollFD{{FD: fd, Events: vstack.PollIn}}
		count, errno := node.Poll(fds, 10)
		require.Zero(t, errno)
		assert.Zero(t, count)
		assert.Zero(t, fds[0].Revents)
	})

	t.Run("invalid descriptor", func(t *testing.T) {
		fds := []vstack.PollFD{{FD: 1 << 20, Events: vstack.PollIn}}
		count, errno := node.Poll(fds, 0)
		require.Zero(t, errno)
		assert.Equal(t, 1, count)
		assert.Equal(t, int16(vstack.PollNval), fds[0].Revents)
	})

	t.Run("wakes up on data", func(t *testing.T) {
		sa, size := endpoint("127.0.0.1:0")
		rc, _ := node.Bind(fd, sa, size)
		require.Equal(t, vstack.ErrOK, rc)
		dst := sockaddr.FromAddrPort(localEndpoint(t, node, fd))

		sender := mustSocket(t, node, vstack.AFInet, vstack.SockDgram)
		defer node.Close(sender)
		go func() {
			time.Sleep(20 * time.Millisecond)
			node.SendTo(sender, []byte("x"), 0, &dst, dst.Size())
		}()

		fds := []vstack.PollFD{{FD: fd, Events: vstack.PollIn}}
		count, errno := node.Poll(fds, -1)
		require.Zero(t, errno)
		assert.Equal(t, 1, count)
		assert.Equal(t, int16(vstack.PollIn), fds[0].Revents)
	})
}

func TestNode_Fcntl(t *testing.T) {
	node, _ := startNode(t, nil, "")
	fd := mustSocket(t, node, vstack.AFInet, vstack.SockDgram)
	defer node.Close(fd)

	flags, errno := node.Fcntl(fd, vstack.FGetFL, 0)
	require.Zero(t, errno)
	assert.Zero(t, flags)

	rc, _ := node.Fcntl(fd, vstack.FSetFL, vstack.ONonBlock)
	require.Equal(t, vstack.ErrOK, rc)
	flags, _ = node.Fcntl(fd, vstack.FGetFL, 0)
	assert.Equal(t, vstack.ONonBlock, flags)

	buf := make([]byte, 4)
	rc, errno = node.Recv(fd, buf, 0)
	assert.Equal(t, vstack.ErrSocket, rc)
	assert.Equal(t, vstack.EAGAIN, errno)

	rc, errno = node.Fcntl(fd, 77, 0)
	assert.Equal(t, vstack.ErrArg, rc)
	assert.Equal(t, vstack.EINVAL, errno)

	rc, errno = node.Fcntl(1<<20, vstack.FGetFL, 0)
	assert.Equal(t, vstack.ErrSocket, rc)
	assert.Equal(t, vstack.EBADF, errno)
}

func TestNode_CloseWhileBlocked(t *testing.T) {
	node, _ := startNode(t, nil, "")
	fd := mustSocket(t, node, vstack.AFInet, vstack.SockDgram)
	sa, size := endpoint("127.0.0.1:0")
	rc, _ := node.Bind(fd, sa, size)
	require.Equal(t, vstack.ErrOK, rc)

	done := make(chan syscall.Errno)
	go func() {
		_, errno := node.Recv(fd, make([]byte, 4), 0)
		done <- errno
	}()
	time.Sleep(20 * time.Millisecond)
	rc, _ = node.Close(fd)
	require.Equal(t, vstack.ErrOK, rc)
	assert.Equal(t, vstack.EBADF, <-done)

	rc, errno := node.Close(fd)
	assert.Equal(t, vstack.ErrSocket, rc)
	assert.Equal(t, vstack.EBADF, errno)
}

func TestNode_GetSockName(t *testing.T) {
	node, _ := startNode(t, nil, "")
	fd := mustSocket(t, node, vstack.AFInet6, vstack.SockStream)
	defer node.Close(fd)

	assert.Equal(t, "[::]:0", localEndpoint(t, node, fd).String())

	rc, errno := node.GetSockName(fd, nil, nil)
	assert.Equal(t, vstack.ErrArg, rc)
	assert.Equal(t, vstack.EINVAL, errno)

	var sa sockaddr.RawSockaddrAny
	rc, errno = node.GetPeerName(fd, &sa, nil)
	assert.Equal(t, vstack.ErrSocket, rc)
	assert.Equal(t, vstack.ENOTCONN, errno)
}
