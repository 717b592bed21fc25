// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package ipc

import "errors"

// DefaultChannel is the channel name used when none is configured.
// Both ends of a link must agree on it.
const DefaultChannel = "lux.ipc"

// ErrNoRoute is returned by resolvers when a target has no reachable
// endpoint. Callers see it folded into a CodeTargetReleased error.
var ErrNoRoute = errors.New("ipc: no route to target")

// Target names a destination endpoint. It is opaque to the engine;
// only a Resolver gives it meaning. Targets are never compared with
// each other, only their resolved identities are.
type Target any

// TargetHost addresses the distinguished host endpoint of a network.
// Every binding defines which endpoint plays that role.
var TargetHost Target = hostTarget{}

type hostTarget struct{}

func (hostTarget) String() string { return "host" }

// Identity is a stable, comparable token naming a live endpoint. All
// routing decisions compare identities, never Targets or Sendables.
type Identity string

// Sendable is a resolved handle to a live endpoint.
//
// Send delivers one opaque payload on the given channel and returns
// once the payload is handed to the underlying transport. Delivery is
// one-way; there is no acknowledgement.
type Sendable interface {
	Identity() Identity
	Send(channel string, payload []byte) error
}

// Resolver maps a Target to a Sendable at the moment of use. A target
// may stop resolving at any time (the endpoint was released), so
// results are never cached by the engine.
type Resolver interface {
	Resolve(target Target) (Sendable, error)
}

// ResolverFunc adapts a function to the Resolver interface.
type ResolverFunc func(target Target) (Sendable, error)

func (f ResolverFunc) Resolve(target Target) (Sendable, error) { return f(target) }

// noResolver is installed when an Engine is built without WithResolver.
// Handler-side engines never resolve anything, so this is a valid
// configuration; outbound calls and events simply find no route.
type noResolver struct{}

func (noResolver) Resolve(Target) (Sendable, error) { return nil, ErrNoRoute }
