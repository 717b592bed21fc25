// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package ipc

import "sync"

// deliverFunc hands a destination's accumulated events to the engine
// for encoding and transmission.
type deliverFunc func(dest Sendable, events []*Envelope)

// scheduler coalesces outbound events. Events queue per destination
// identity; the first enqueue after a flush arms exactly one flush on
// the next tick, and the flush drains every queue in first-enqueue
// destination order. Requests and responses never pass through here.
type scheduler struct {
	mu      sync.Mutex
	queues  map[Identity][]*Envelope
	order   []Identity
	dests   map[Identity]Sendable
	armed   bool
	stopped bool

	schedule func(flush func())
	deliver  deliverFunc
}

func newScheduler(schedule func(func()), deliver deliverFunc) *scheduler {
	return &scheduler{
		queues:   make(map[Identity][]*Envelope),
		dests:    make(map[Identity]Sendable),
		schedule: schedule,
		deliver:  deliver,
	}
}

func (s *scheduler) enqueue(dest Sendable, env *Envelope) bool {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return false
	}
	id := dest.Identity()
	if _, ok := s.queues[id]; !ok {
		s.order = append(s.order, id)
	}
	s.queues[id] = append(s.queues[id], env)
	s.dests[id] = dest
	arm := !s.armed
	s.armed = true
	s.mu.Unlock()

	if arm {
		s.schedule(s.flush)
	}
	return true
}

func (s *scheduler) flush() {
	s.mu.Lock()
	queues, order, dests := s.queues, s.order, s.dests
	s.queues = make(map[Identity][]*Envelope)
	s.order = nil
	s.dests = make(map[Identity]Sendable)
	s.armed = false
	s.mu.Unlock()

	for _, id := range order {
		s.deliver(dests[id], queues[id])
	}
}

// stop discards queued events and refuses new ones. Returns how many
// events were dropped.
func (s *scheduler) stop() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped = true
	dropped := 0
	for _, q := range s.queues {
		dropped += len(q)
	}
	s.queues = make(map[Identity][]*Envelope)
	s.order = nil
	s.dests = make(map[Identity]Sendable)
	s.armed = false
	return dropped
}
