// SPDX-License-Identifier: GPL-3.0-or-later

package events

import (
	"context"
	"fmt"
	"log/slog"
)

// LogHandler is a [Handler] emitting one structured log
// record per event using the given Logger.
//
// The zero value is invalid; set Logger before use.
type LogHandler struct {
	// Logger is the MANDATORY logger to use.
	Logger *slog.Logger

	// Level is the OPTIONAL level; zero means [slog.LevelInfo].
	Level slog.Level
}

var _ Handler = &LogHandler{}

// log emits a record with the common event attributes.
func (h *LogHandler) log(msg string, code int16, name fmt.Stringer, attrs ...slog.Attr) {
	attrs = append([]slog.Attr{
		slog.Int("code", int(code)),
		slog.String("event", name.String()),
	}, attrs...)
	h.Logger.LogAttrs(context.Background(), h.Level, msg, attrs...)
}

// OnAddressEvent implements [Handler].
func (h *LogHandler) OnAddressEvent(code AddressEvent, details *AddressDetails) {
	var attrs []slog.Attr
	if details != nil {
		attrs = append(attrs,
			slog.String("networkID", formatID(details.NetworkID())),
			slog.String("ipAddr", details.IPAddress().String()),
		)
	}
	h.log("addressEvent", int16(code), code, attrs...)
}

// OnNetworkEvent implements [Handler].
func (h *LogHandler) OnNetworkEvent(code NetworkEvent, details *NetworkDetails) {
	var attrs []slog.Attr
	if details != nil {
		var assigned []string
		for _, prefix := range details.AssignedAddresses() {
			assigned = append(assigned, prefix.String())
		}
		attrs = append(attrs,
			slog.String("networkID", formatID(details.NetworkID())),
			slog.String("name", details.Name()),
			slog.String("status", details.Status().String()),
			slog.String("type", details.Type().String()),
			slog.Int("mtu", int(details.MTU())),
			slog.Any("assigned", assigned),
		)
	}
	h.log("networkEvent", int16(code), code, attrs...)
}

// OnNetworkInterfaceEvent implements [Handler].
func (h *LogHandler) OnNetworkInterfaceEvent(code NetworkInterfaceEvent, details *NetworkInterfaceDetails) {
	var attrs []slog.Attr
	if details != nil {
		attrs = append(attrs,
			slog.String("networkID", formatID(details.NetworkID())),
			slog.String("mac", formatMAC(details.MACAddress())),
			slog.Int("mtu", details.MTU()),
		)
	}
	h.log("networkInterfaceEvent", int16(code), code, attrs...)
}

// OnNetworkStackEvent implements [Handler].
func (h *LogHandler) OnNetworkStackEvent(code NetworkStackEvent, details *NetworkStackDetails) {
	h.log("networkStackEvent", int16(code), code)
}

// OnNodeEvent implements [Handler].
func (h *LogHandler) OnNodeEvent(code NodeEvent, details *NodeDetails) {
	var attrs []slog.Attr
	if details != nil {
		major, minor, revision := details.Version()
		attrs = append(attrs,
			slog.String("nodeID", formatNodeID(details.NodeID())),
			slog.Int("primaryPort", int(details.PrimaryPort())),
			slog.String("version", fmt.Sprintf("%d.%d.%d", major, minor, revision)),
		)
	}
	h.log("nodeEvent", int16(code), code, attrs...)
}

// OnPeerEvent implements [Handler].
func (h *LogHandler) OnPeerEvent(code PeerEvent, details *PeerDetails) {
	var attrs []slog.Attr
	if details != nil {
		attrs = append(attrs,
			slog.String("peerID", formatNodeID(details.Address())),
			slog.String("role", details.Role().String()),
			slog.Duration("latency", details.Latency()),
			slog.Int("pathCount", details.PathCount()),
		)
	}
	h.log("peerEvent", int16(code), code, attrs...)
}

// OnRouteEvent implements [Handler].
func (h *LogHandler) OnRouteEvent(code RouteEvent, details *RouteDetails) {
	var attrs []slog.Attr
	if details != nil {
		attrs = append(attrs,
			slog.String("target", details.Target().String()),
			slog.Int("metric", int(details.Metric())),
		)
	}
	h.log("routeEvent", int16(code), code, attrs...)
}

// OnUnknownEvent implements [Handler].
func (h *LogHandler) OnUnknownEvent(code int16) {
	h.Logger.LogAttrs(context.Background(), h.Level, "unknownEvent", slog.Int("code", int(code)))
}

// formatID formats a network ID.
func formatID(id uint64) string {
	return fmt.Sprintf("%016x", id)
}

// formatNodeID formats a 40-bit node or peer ID.
func formatNodeID(id uint64) string {
	return fmt.Sprintf("%010x", id)
}

// formatMAC formats a MAC address stored in the lower 48 bits.
func formatMAC(mac uint64) string {
	return fmt.Sprintf("%02x:%02x:%02x:%02x:%02x:%02x",
		byte(mac>>40), byte(mac>>32), byte(mac>>24), byte(mac>>16), byte(mac>>8), byte(mac))
}
