// SPDX-License-Identifier: GPL-3.0-or-later

package vstack_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/rbmk-project/vsock/sockaddr"
	"github.com/rbmk-project/vsock/vstack"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testNetwork is the network ID used by the tests.
const testNetwork = 0x8056c2e21c000001

func TestNode_Lifecycle(t *testing.T) {
	rec := &recorder{}
	node := vstack.NewNode(nil)
	assert.Equal(t, vstack.ErrService, node.Stop())

	require.Equal(t, vstack.ErrOK, node.Start("", rec.callback, 0))
	assert.Equal(t, vstack.ErrService, node.Start("", rec.callback, 0))
	assert.NotZero(t, node.ID())
	assert.Less(t, node.ID(), uint64(1)<<40)

	require.Equal(t, vstack.ErrOK, node.Stop())
	assert.Equal(t, vstack.ErrService, node.Stop())
	assert.Equal(t, []int16{
		vstack.EventNodeUp,
		vstack.EventStackUp,
		vstack.EventNodeOnline,
		vstack.EventNodeOffline,
		vstack.EventStackDown,
		vstack.EventNodeDown,
	}, rec.codes())

	up := rec.find(vstack.EventNodeUp)
	require.NotNil(t, up.Node)
	assert.Equal(t, node.ID(), up.Node.NodeID)
	assert.Equal(t, uint16(vstack.DefaultPort), up.Node.PrimaryPort)
	assert.Equal(t, uint32(vstack.VersionMajor), up.Node.VerMajor)

	require.Equal(t, vstack.ErrOK, node.Free())
	assert.Equal(t, vstack.ErrService, node.Free())
	assert.Equal(t, vstack.ErrService, node.Start("", rec.callback, 0))
}

func TestNode_Restart(t *testing.T) {
	node, rec := startNode(t, nil, "")
	fd := mustSocket(t, node, vstack.AFInet, vstack.SockDgram)
	id := node.ID()

	require.Equal(t, vstack.ErrOK, node.Restart())
	assert.Equal(t, id, node.ID())

	rc, errno := node.Recv(fd, make([]byte, 4), 0)
	assert.Equal(t, vstack.ErrSocket, rc)
	assert.Equal(t, vstack.ENETDOWN, errno)
	rc, _ = node.Close(fd)
	assert.Equal(t, vstack.ErrOK, rc)

	require.Equal(t, vstack.ErrOK, node.Stop())
	assert.Len(t, rec.codes(), 12)
}

func TestNode_StopWakesUpBlockedCalls(t *testing.T) {
	node, _ := startNode(t, nil, "")
	fd := mustSocket(t, node, vstack.AFInet, vstack.SockStream)
	rc, _ := node.Listen(fd, 1)
	require.Equal(t, vstack.ErrOK, rc)

	done := make(chan int)
	go func() {
		_, errno := node.Accept(fd, nil, nil)
		done <- int(errno)
	}()
	require.Equal(t, vstack.ErrOK, node.Stop())
	assert.Equal(t, int(vstack.ENETDOWN), <-done)
}

func TestNode_Options(t *testing.T) {
	node, _ := startNode(t, nil, "")
	assert.Equal(t, vstack.ErrService, node.SetLocalStorage(false))
	assert.Equal(t, vstack.ErrService, node.SetNetworkCaching(false))
	assert.Equal(t, vstack.ErrService, node.SetPeerCaching(false))
	assert.Equal(t, vstack.ErrService, node.SetLocalConf(true))

	require.Equal(t, vstack.ErrOK, node.Stop())
	assert.Equal(t, vstack.ErrOK, node.SetLocalStorage(false))
	assert.Equal(t, vstack.ErrOK, node.SetNetworkCaching(false))
	assert.Equal(t, vstack.ErrOK, node.SetPeerCaching(false))
	assert.Equal(t, vstack.ErrOK, node.SetLocalConf(true))
}

func TestNode_JoinLeave(t *testing.T) {
	node, rec := startNode(t, nil, "")

	assert.Equal(t, vstack.ErrArg, node.Join(0))
	assert.Equal(t, vstack.ErrArg, node.Leave(testNetwork))
	require.Equal(t, vstack.ErrOK, node.Join(testNetwork))
	assert.Equal(t, vstack.ErrOK, node.Join(testNetwork))

	assigned := node.Assigned(testNetwork)
	require.Len(t, assigned, 2)
	assert.Equal(t, "10.0.1.1/24", assigned[0].String())
	assert.Equal(t, 88, assigned[1].Bits())
	assert.Equal(t, byte(0xfd), assigned[1].Addr().As16()[0])

	t.Run("bind to assigned address", func(t *testing.T) {
		fd := mustSocket(t, node, vstack.AFInet, vstack.SockDgram)
		defer node.Close(fd)
		sa, size := endpoint("10.0.1.1:7")
		rc, errno := node.Bind(fd, sa, size)
		assert.Equal(t, vstack.ErrOK, rc)
		assert.Zero(t, errno)
	})

	t.Run("unreachable host", func(t *testing.T) {
		fd := mustSocket(t, node, vstack.AFInet, vstack.SockDgram)
		defer node.Close(fd)
		dst, size := endpoint("192.168.1.1:53")
		rc, errno := node.SendTo(fd, []byte("x"), 0, dst, size)
		assert.Equal(t, vstack.ErrSocket, rc)
		assert.Equal(t, vstack.EHOSTUNREACH, errno)
	})

	require.Equal(t, vstack.ErrOK, node.Leave(testNetwork))
	assert.Nil(t, node.Assigned(testNetwork))
	require.Equal(t, vstack.ErrOK, node.Stop())

	assert.Equal(t, []int16{
		vstack.EventNodeUp,
		vstack.EventStackUp,
		vstack.EventNodeOnline,
		vstack.EventNetworkReqConfig,
		vstack.EventNetworkOK,
		vstack.EventNetifUp,
		vstack.EventAddrAddedIP4,
		vstack.EventAddrAddedIP6,
		vstack.EventRouteAdded,
		vstack.EventRouteAdded,
		vstack.EventNetworkReadyIP4IP6,
		vstack.EventNetifDown,
		vstack.EventAddrRemovedIP4,
		vstack.EventAddrRemovedIP6,
		vstack.EventRouteRemoved,
		vstack.EventRouteRemoved,
		vstack.EventNetifRemoved,
		vstack.EventNetworkDown,
		vstack.EventNodeOffline,
		vstack.EventStackDown,
		vstack.EventNodeDown,
	}, rec.codes())

	ok := rec.find(vstack.EventNetworkOK)
	require.NotNil(t, ok.Network)
	assert.Equal(t, uint64(testNetwork), ok.Network.NetID)
	assert.Equal(t, vstack.NetworkStatusOK, ok.Network.Status)
	assert.Equal(t, vstack.NetworkTypePublic, ok.Network.Type)
	assert.Equal(t, uint32(vstack.DefaultMTU), ok.Network.MTU)
	assert.Equal(t, assigned, ok.Network.AssignedAddrs)
	assert.Len(t, ok.Network.Routes, 2)

	addr := rec.find(vstack.EventAddrAddedIP4)
	require.NotNil(t, addr.Addr)
	assert.Equal(t, assigned[0].Addr(), addr.Addr.Addr)
}

func TestNode_LocalConf(t *testing.T) {
	dir := t.TempDir()
	conf := "settings:\n  primaryPort: 7777\n  secondaryPort: 7778\n  mtu: 1400\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "local.conf"), []byte(conf), 0600))

	rec := &recorder{}
	node := vstack.NewNode(nil)
	t.Cleanup(func() { node.Free() })
	require.Equal(t, vstack.ErrOK, node.SetLocalConf(true))
	require.Equal(t, vstack.ErrOK, node.Start(dir, rec.callback, 0))
	require.Equal(t, vstack.ErrOK, node.Join(testNetwork))
	require.Equal(t, vstack.ErrOK, node.Stop())

	up := rec.find(vstack.EventNodeUp)
	require.NotNil(t, up.Node)
	assert.Equal(t, uint16(7777), up.Node.PrimaryPort)
	assert.Equal(t, uint16(7778), up.Node.SecondaryPort)

	netif := rec.find(vstack.EventNetifUp)
	require.NotNil(t, netif.Netif)
	assert.Equal(t, 1400, netif.Netif.MTU)
}

func TestNode_LocalConfInvalid(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "local.conf"), []byte("settings: [\n"), 0600))
	node := vstack.NewNode(nil)
	require.Equal(t, vstack.ErrOK, node.SetLocalConf(true))
	assert.Equal(t, vstack.ErrGeneral, node.Start(dir, nil, 0))
	assert.Equal(t, vstack.ErrOK, node.Free())
}

func TestNode_Free(t *testing.T) {
	node, _ := startNode(t, nil, "")
	fd := mustSocket(t, node, vstack.AFInet, vstack.SockDgram)
	require.Equal(t, vstack.ErrOK, node.Free())

	var sa sockaddr.RawSockaddrAny
	rc, errno := node.GetSockName(fd, &sa, nil)
	assert.Equal(t, vstack.ErrService, rc)
	assert.Equal(t, vstack.ENETDOWN, errno)
	rc, errno = node.Close(fd)
	assert.Equal(t, vstack.ErrSocket, rc)
	assert.Equal(t, vstack.EBADF, errno)
}
