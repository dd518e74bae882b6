// SPDX-License-Identifier: GPL-3.0-or-later

package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/rbmk-project/common/errclass"
	"github.com/rbmk-project/vsock/events"
	"github.com/rbmk-project/vsock/result"
	"github.com/rbmk-project/vsock/socket"
	"github.com/rbmk-project/vsock/vstack"
)

// Service controls a [*vstack.Node].
//
// Construct using [New].
type Service struct {
	// Dispatcher is the OPTIONAL dispatcher receiving the node
	// events. If nil, we use [events.Default]. The dispatcher is
	// captured by Start, so set it before starting.
	Dispatcher *events.Dispatcher

	// Logger is the OPTIONAL logger for structured logging.
	Logger *slog.Logger

	// handles tracks the handles created by NewHandle.
	handles handlePool

	// node is the controlled node.
	node *vstack.Node
}

// New creates a new [*Service] controlling a fresh node attached
// to the given fabric. A nil fabric creates an isolated node that
// can only use loopback addresses.
func New(fabric *vstack.Fabric) *Service {
	return &Service{node: vstack.NewNode(fabric)}
}

// Node returns the controlled node, which implements [socket.Stack].
func (s *Service) Node() *vstack.Node {
	return s.node
}

// NewHandle returns an uninitialized [*socket.Handle] using the node
// and the service logger. [*Service.Free] closes it if still open.
// The service stops tracking a handle once it is closed, so reopen
// closed handles using a fresh NewHandle call.
func (s *Service) NewHandle() *socket.Handle {
	h := socket.New(s.node)
	h.Logger = s.Logger
	s.handles.Add(h)
	return h
}

// dispatcher returns the dispatcher to use.
func (s *Service) dispatcher() *events.Dispatcher {
	if s.Dispatcher != nil {
		return s.Dispatcher
	}
	return events.Default
}

// Start starts the node using path to store its state, or no
// storage when path is empty, and the given primary port, or
// [vstack.DefaultPort] when zero. Events flow to the dispatcher
// from a goroutine owned by the node.
func (s *Service) Start(path string, port uint16) result.Empty {
	callback := s.dispatcher().Callback()
	return s.call("Start", "Start", func() int {
		return s.node.Start(path, callback, port)
	}, slog.String("path", path), slog.Int("port", int(port)))
}

// Restart stops and starts the node again with the same arguments.
func (s *Service) Restart() result.Empty {
	return s.call("Restart", "Restart", s.node.Restart)
}

// Stop stops the node. Open handles fail with [vstack.ENETDOWN]
// until closed. Joined networks are rejoined on the next start
// when network caching is enabled.
func (s *Service) Stop() result.Empty {
	return s.call("Stop", "Stop", s.node.Stop)
}

// Free closes the handles created by [*Service.NewHandle] and
// releases the node, stopping it first if needed.
func (s *Service) Free() result.Empty {
	if err := s.handles.Close(); err != nil && s.Logger != nil {
		s.Logger.Warn("serviceCloseHandles", slog.Any("err", err),
			slog.String("errClass", errclass.New(err)))
	}
	return s.call("Free", "Free", s.node.Free)
}

// Join joins the network with the given ID.
func (s *Service) Join(nwid uint64) result.Empty {
	if nwid == 0 {
		return result.Fail[struct{}](result.NewReport(result.KindArgument, "invalid network ID", "Join"))
	}
	return s.call("Join", "Join", func() int {
		return s.node.Join(nwid)
	}, slog.String("networkID", formatNetworkID(nwid)))
}

// Leave leaves the network with the given ID.
func (s *Service) Leave(nwid uint64) result.Empty {
	if nwid == 0 {
		return result.Fail[struct{}](result.NewReport(result.KindArgument, "invalid network ID", "Leave"))
	}
	return s.call("Leave", "Leave", func() int {
		return s.node.Leave(nwid)
	}, slog.String("networkID", formatNetworkID(nwid)))
}

// AllowNetworkLocalStorage toggles storing the node state under
// the start path. It fails with [result.KindService] unless the
// node is stopped.
func (s *Service) AllowNetworkLocalStorage(allowed bool) result.Empty {
	return s.toggle("AllowNetworkLocalStorage", "SetLocalStorage", allowed, s.node.SetLocalStorage)
}

// AllowNetworkCaching toggles caching joined networks so that
// they are rejoined on start.
func (s *Service) AllowNetworkCaching(allowed bool) result.Empty {
	return s.toggle("AllowNetworkCaching", "SetNetworkCaching", allowed, s.node.SetNetworkCaching)
}

// AllowPeerCaching toggles caching the peers the node talks to.
func (s *Service) AllowPeerCaching(allowed bool) result.Empty {
	return s.toggle("AllowPeerCaching", "SetPeerCaching", allowed, s.node.SetPeerCaching)
}

// AllowLocalConf toggles reading local.conf from the start path.
func (s *Service) AllowLocalConf(allowed bool) result.Empty {
	return s.toggle("AllowLocalConf", "SetLocalConf", allowed, s.node.SetLocalConf)
}

// toggle invokes a node option setter.
func (s *Service) toggle(op, call string, allowed bool, fn func(bool) int) result.Empty {
	return s.call(op, call, func() int { return fn(allowed) }, slog.Bool("allowed", allowed))
}

// call invokes a node lifecycle function and classifies its return code.
func (s *Service) call(op, call string, fn func() int, attrs ...slog.Attr) result.Empty {
	t0 := time.Now()
	if s.Logger != nil {
		s.Logger.LogAttrs(context.Background(), slog.LevelInfo, "service"+op+"Start",
			append(attrs, slog.Time("t", t0))...)
	}

	var report *result.Report
	if rc := fn(); rc != vstack.ErrOK {
		report = result.FromReturnCode(op, call, rc, 0)
	}

	if s.Logger != nil {
		var err error
		if report != nil {
			err = report
		}
		s.Logger.LogAttrs(context.Background(), slog.LevelInfo, "service"+op+"Done",
			append(attrs,
				slog.Any("err", err),
				slog.String("errClass", errclass.New(err)),
				slog.Time("t0", t0),
				slog.Time("t", time.Now()),
			)...)
	}

	if report != nil {
		return result.Fail[struct{}](report)
	}
	return result.Success()
}
