// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package ipc

import (
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"
)

// maxSafeID caps allocated ids at 2^53-1 so a peer that decodes JSON
// numbers into IEEE 754 doubles still sees them exactly.
const maxSafeID = 1<<53 - 1

// settlement is the single outcome of a pending call.
type settlement struct {
	result json.RawMessage
	err    error
}

// pendingCall tracks one in-flight request. The call site blocks on
// done; whoever claims the entry out of the table sends exactly one
// settlement into it.
type pendingCall struct {
	id     uint64
	method string
	args   string
	done   chan settlement
}

// correlator owns id allocation and the pending-call table. Ids are
// seeded from the clock so a restarted endpoint does not mint ids that
// collide with responses still in flight for its predecessor.
type correlator struct {
	pending sync.Map // id -> *pendingCall
	nextID  atomic.Uint64
}

func newCorrelator() *correlator {
	c := &correlator{}
	c.nextID.Store(uint64(time.Now().UnixMilli()) << 10)
	return c
}

func (c *correlator) allocID() uint64 {
	for {
		id := c.nextID.Add(1)
		if id <= maxSafeID {
			return id
		}
		// Wrapped past the float64-exact range; restart low.
		c.nextID.CompareAndSwap(id, 0)
	}
}

// register creates and tracks a pending call. The entry is in the
// table before the request leaves, so a response can never beat its
// own bookkeeping.
func (c *correlator) register(method, args string) *pendingCall {
	pc := &pendingCall{
		id:     c.allocID(),
		method: method,
		args:   args,
		done:   make(chan settlement, 1),
	}
	c.pending.Store(pc.id, pc)
	return pc
}

// claim removes and returns the pending call for id. Exactly one
// claimer wins; everyone else sees false. Losers of the race must read
// the settlement from the winner instead.
func (c *correlator) claim(id uint64) (*pendingCall, bool) {
	v, ok := c.pending.LoadAndDelete(id)
	if !ok {
		return nil, false
	}
	return v.(*pendingCall), true
}

// drop claims the entry without settling it. Used by the call site
// when a timer, cancellation or shutdown wins the race.
func (c *correlator) drop(id uint64) bool {
	_, ok := c.pending.LoadAndDelete(id)
	return ok
}
