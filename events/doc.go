// SPDX-License-Identifier: GPL-3.0-or-later

/*
Package events turns the event feed of a [*vstack.Node] into calls
on a typed [Handler].

The node delivers every status change (node online, network joined,
peer reachable, address assigned, ...) as a [*vstack.EventMessage]
tagged with a numeric code. A [*Dispatcher] maps the code to one of
seven categories, wraps the payload in a read-only view and invokes
the matching [Handler] method. Codes outside the known categories
reach [Handler.OnUnknownEvent].

Views such as [*NodeDetails] are only valid during the handler call
that received them and may be nil when the event carries no payload.

The package-level [Default] dispatcher holds the process-wide handler
registration; pass [Callback] to the node as its event callback.
*/
package events
