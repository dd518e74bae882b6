// SPDX-License-Identifier: GPL-3.0-or-later

/*
Package service controls the lifecycle of a [*vstack.Node].

A [*Service] starts, stops and configures one node and forwards
the node events to an [*events.Dispatcher]. Starting is asynchronous
from the point of view of the application: success means the node
accepted the request, while connectivity is observed through the
dispatched events (for example [events.NodeOnline] and
[events.NetworkReadyIPv4IPv6]).

Sockets are created with [*Service.NewHandle], which ties the
returned [*socket.Handle] to the service so that [*Service.Free]
closes any handle the application left open.

A [*Config] loaded from YAML using [LoadConfig] collects the storage
path, port, caching toggles and networks to join, and is applied by
[*Service.StartWithConfig].
*/
package service
