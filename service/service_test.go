// SPDX-License-Identifier: GPL-3.0-or-later

package service_test

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"

	"github.com/rbmk-project/vsock/events"
	"github.com/rbmk-project/vsock/ipaddr"
	"github.com/rbmk-project/vsock/result"
	"github.com/rbmk-project/vsock/service"
	"github.com/rbmk-project/vsock/socket"
	"github.com/rbmk-project/vsock/vstack"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newService returns a service with its own dispatcher and recorder.
func newService(fabric *vstack.Fabric) (*service.Service, *nodeRecorder) {
	rec := &nodeRecorder{}
	svc := service.New(fabric)
	svc.Dispatcher = &events.Dispatcher{}
	svc.Dispatcher.SetHandler(rec)
	return svc, rec
}

func TestService_Lifecycle(t *testing.T) {
	svc, rec := newService(nil)

	r := svc.Stop()
	require.True(t, r.HasError())
	assert.Equal(t, result.KindService, r.Report().Kind)
	assert.Equal(t, "Stop", r.Report().Op)

	require.False(t, svc.Start("", 0).HasError())
	r = svc.Start("", 0)
	require.True(t, r.HasError())
	assert.Equal(t, result.KindService, r.Report().Kind)
	assert.NotZero(t, svc.Node().ID())

	require.False(t, svc.Restart().HasError())
	require.False(t, svc.Stop().HasError())
	require.False(t, svc.Free().HasError())

	r = svc.Free()
	require.True(t, r.HasError())
	assert.Equal(t, result.KindService, r.Report().Kind)

	assert.Equal(t, []events.NodeEvent{
		events.NodeUp, events.NodeOnline, events.NodeOffline, events.NodeDown,
		events.NodeUp, events.NodeOnline, events.NodeOffline, events.NodeDown,
	}, rec.nodeEvents())
	rec.mu.Lock()
	assert.Equal(t, svc.Node().ID(), rec.nodeID)
	rec.mu.Unlock()
}

func TestService_Toggles(t *testing.T) {
	svc, _ := newService(nil)
	toggles := []struct {
		op    string
		apply func(bool) result.Empty
	}{
		{"AllowNetworkLocalStorage", svc.AllowNetworkLocalStorage},
		{"AllowNetworkCaching", svc.AllowNetworkCaching},
		{"AllowPeerCaching", svc.AllowPeerCaching},
		{"AllowLocalConf", svc.AllowLocalConf},
	}
	for _, toggle := range toggles {
		assert.False(t, toggle.apply(false).HasError(), toggle.op)
	}

	require.False(t, svc.Start("", 0).HasError())
	defer svc.Free()
	for _, toggle := range toggles {
		r := toggle.apply(true)
		require.True(t, r.HasError(), toggle.op)
		assert.Equal(t, result.KindService, r.Report().Kind)
		assert.Equal(t, toggle.op, r.Report().Op)
	}

	require.False(t, svc.Stop().HasError())
	for _, toggle := range toggles {
		assert.False(t, toggle.apply(true).HasError(), toggle.op)
	}
}

func TestService_JoinLeave(t *testing.T) {
	svc, rec := newService(vstack.NewFabric())

	r := svc.Join(testNetwork)
	require.True(t, r.HasError())
	assert.Equal(t, result.KindService, r.Report().Kind)

	require.False(t, svc.Start("", 0).HasError())
	defer svc.Free()

	r = svc.Join(0)
	require.True(t, r.HasError())
	assert.Equal(t, result.KindArgument, r.Report().Kind)
	assert.Zero(t, r.Report().Code)

	require.False(t, svc.Join(testNetwork).HasError())
	assert.Len(t, svc.Node().Assigned(testNetwork), 2)
	require.False(t, svc.Leave(testNetwork).HasError())
	assert.Empty(t, svc.Node().Assigned(testNetwork))

	r = svc.Leave(testNetwork)
	require.True(t, r.HasError())
	assert.Equal(t, result.KindArgument, r.Report().Kind)
	assert.Equal(t, vstack.ErrArg, r.Report().Code)

	require.False(t, svc.Stop().HasError())
	assert.Equal(t, []events.NetworkEvent{
		events.NetworkRequestingConfiguration,
		events.NetworkOK,
		events.NetworkReadyIPv4IPv6,
		events.NetworkDown,
	}, rec.networkEvents())
}

func TestService_Sockets(t *testing.T) {
	fabric := vstack.NewFabric()
	alice, _ := newService(fabric)
	bob, _ := newService(fabric)
	for _, svc := range []*service.Service{alice, bob} {
		require.False(t, svc.Start("", 0).HasError())
		t.Cleanup(func() { svc.Free() })
		require.False(t, svc.Join(testNetwork).HasError())
	}
	aaddr := ipaddr.FromNetipAddr(alice.Node().Assigned(testNetwork)[0].Addr())
	baddr := ipaddr.FromNetipAddr(bob.Node().Assigned(testNetwork)[0].Addr())

	server := bob.NewHandle()
	require.False(t, server.Init(ipaddr.IPv4, socket.Datagram).HasError())
	require.False(t, server.Bind(baddr, 5353).HasError())

	client := alice.NewHandle()
	require.False(t, client.Init(ipaddr.IPv4, socket.Datagram).HasError())
	assert.Equal(t, 5, client.SendTo([]byte("hello"), baddr, 5353).Must())

	buf := make([]byte, 16)
	got := server.ReceiveFrom(buf).Must()
	assert.Equal(t, "hello", string(buf[:got.Count]))
	assert.True(t, got.Addr.Equal(aaddr))
}

func TestService_FreeClosesHandles(t *testing.T) {
	svc, _ := newService(nil)
	require.False(t, svc.Start("", 0).HasError())
	first := svc.NewHandle()
	require.False(t, first.Init(ipaddr.IPv4, socket.Datagram).HasError())
	second := svc.NewHandle()
	require.False(t, second.Init(ipaddr.IPv6, socket.Stream).HasError())
	closed := svc.NewHandle()
	require.False(t, closed.Init(ipaddr.IPv4, socket.Datagram).HasError())
	require.False(t, closed.Close().HasError())
	unused := svc.NewHandle()

	require.False(t, svc.Free().HasError())
	assert.False(t, first.IsOpen())
	assert.False(t, second.IsOpen())
	assert.False(t, closed.IsOpen())
	assert.False(t, unused.IsOpen())
}

func TestService_FreeAfterInit(t *testing.T) {
	svc, _ := newService(nil)
	require.False(t, svc.Start("", 0).HasError())
	h := svc.NewHandle()
	require.False(t, h.Init(ipaddr.IPv4, socket.Datagram).HasError())
	require.False(t, h.Close().HasError())
	assert.True(t, h.IsClosed())
	require.False(t, svc.Free().HasError())
}

func TestService_DefaultDispatcher(t *testing.T) {
	rec := &nodeRecorder{}
	events.SetHandler(rec)
	t.Cleanup(func() { events.SetHandler(nil) })

	svc := service.New(nil)
	require.False(t, svc.Start("", 0).HasError())
	require.False(t, svc.Free().HasError())
	assert.Equal(t, []events.NodeEvent{
		events.NodeUp, events.NodeOnline, events.NodeOffline, events.NodeDown,
	}, rec.nodeEvents())
}

func TestService_Logger(t *testing.T) {
	var buf bytes.Buffer
	svc, _ := newService(vstack.NewFabric())
	svc.Logger = slog.New(slog.NewJSONHandler(&buf, nil))
	require.False(t, svc.Start("", 0).HasError())
	require.False(t, svc.Join(testNetwork).HasError())
	require.True(t, svc.Leave(testNetwork+1).HasError())
	require.False(t, svc.Free().HasError())

	var messages []string
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		var record map[string]any
		require.NoError(t, json.Unmarshal([]byte(line), &record))
		messages = append(messages, record["msg"].(string))
		switch record["msg"] {
		case "serviceJoinDone":
			assert.Equal(t, "8056c2e21c000001", record["networkID"])
			assert.Equal(t, "", record["errClass"])
		case "serviceLeaveDone":
			assert.Equal(t, "EGENERIC", record["errClass"])
		}
	}
	assert.Equal(t, []string{
		"serviceStartStart", "serviceStartDone",
		"serviceJoinStart", "serviceJoinDone",
		"serviceLeaveStart", "serviceLeaveDone",
		"serviceFreeStart", "serviceFreeDone",
	}, messages)
}
