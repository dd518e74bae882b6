// SPDX-License-Identifier: GPL-3.0-or-later

package service

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"sync"
	"syscall"
	"testing"

	"github.com/rbmk-project/vsock/ipaddr"
	"github.com/rbmk-project/vsock/socket"
	"github.com/rbmk-project/vsock/vstack"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHandlePool(t *testing.T) {
	node := vstack.NewNode(nil)
	require.Equal(t, vstack.ErrOK, node.Start("", nil, 0))
	defer node.Free()

	t.Run("close order", func(t *testing.T) {
		var buf bytes.Buffer
		logger := slog.New(slog.NewJSONHandler(&buf, nil))
		pool := &handlePool{}
		var spanIDs []string
		for range 3 {
			h := socket.New(node)
			h.Logger = logger
			require.False(t, h.Init(ipaddr.IPv4, socket.Datagram).HasError())
			pool.Add(h)
			spanIDs = append([]string{h.SpanID()}, spanIDs...)
		}
		assert.Equal(t, 3, pool.Len())

		buf.Reset()
		require.NoError(t, pool.Close())
		assert.Zero(t, pool.Len())

		var closed []string
		for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
			var record map[string]any
			require.NoError(t, json.Unmarshal([]byte(line), &record))
			if record["msg"] == "closeDone" {
				closed = append(closed, record["spanID"].(string))
			}
		}
		assert.Equal(t, spanIDs, closed)
	})

	t.Run("error handling", func(t *testing.T) {
		pool := &handlePool{}
		for range 2 {
			h := socket.New(failingStack{})
			require.False(t, h.Init(ipaddr.IPv4, socket.Datagram).HasError())
			pool.Add(h)
		}
		err := pool.Close()
		require.Error(t, err)
		assert.ErrorIs(t, err, vstack.EBADF)
		assert.Len(t, err.(interface{ Unwrap() []error }).Unwrap(), 2)
	})

	t.Run("concurrent usage", func(t *testing.T) {
		pool := &handlePool{}
		var wg sync.WaitGroup
		for range 10 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				pool.Add(socket.New(node))
			}()
		}
		wg.Wait()
		assert.Equal(t, 10, pool.Len())
		assert.NoError(t, pool.Close())
	})
}

// failingStack is a [socket.Stack] whose Close always fails.
type failingStack struct {
	socket.Stack
}

func (failingStack) Socket(family, stype, protocol int) (int, syscall.Errno) {
	return 7, 0
}

func (failingStack) Close(fd int) (int, syscall.Errno) {
	return vstack.ErrSocket, vstack.EBADF
}

func TestService_HandlePoolStaysBounded(t *testing.T) {
	svc := New(nil)
	require.False(t, svc.Start("", 0).HasError())
	defer svc.Free()

	kept := svc.NewHandle()
	require.False(t, kept.Init(ipaddr.IPv4, socket.Datagram).HasError())
	pending := svc.NewHandle()

	for range 100 {
		h := svc.NewHandle()
		require.False(t, h.Init(ipaddr.IPv4, socket.Datagram).HasError())
		require.False(t, h.Close().HasError())
	}
	assert.LessOrEqual(t, svc.handles.Len(), 3)

	require.False(t, pending.Init(ipaddr.IPv6, socket.Stream).HasError())
	require.False(t, svc.Free().HasError())
	assert.False(t, kept.IsOpen())
	assert.False(t, pending.IsOpen())
}
