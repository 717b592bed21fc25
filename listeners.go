// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package ipc

import (
	"encoding/json"
	"reflect"
	"sync"
)

// Listener observes one inbound event. Listeners run synchronously on
// the dispatching goroutine, in registration order.
type Listener func(params json.RawMessage)

type listenerEntry struct {
	method string
	target Target // nil observes events from any sender
	fn     Listener
	ptr    uintptr // code pointer, for removal by callback
}

// listenerTable maps methods to ordered listener lists. Any number of
// entries may coexist per method.
type listenerTable struct {
	mu      sync.Mutex
	entries map[string][]*listenerEntry
}

func newListenerTable() *listenerTable {
	return &listenerTable{entries: make(map[string][]*listenerEntry)}
}

func (t *listenerTable) add(method string, fn Listener, target Target) *listenerEntry {
	en := &listenerEntry{
		method: method,
		target: target,
		fn:     fn,
		ptr:    reflect.ValueOf(fn).Pointer(),
	}
	t.mu.Lock()
	t.entries[method] = append(t.entries[method], en)
	t.mu.Unlock()
	return en
}

func (t *listenerTable) remove(e *listenerEntry) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	list := t.entries[e.method]
	for i, en := range list {
		if en == e {
			t.entries[e.method] = append(list[:i], list[i+1:]...)
			if len(t.entries[e.method]) == 0 {
				delete(t.entries, e.method)
			}
			return true
		}
	}
	return false
}

// off removes the first entry matching both the callback and the
// scope: nil target matches only unscoped entries, a concrete target
// matches entries whose target resolves to the same identity.
func (t *listenerTable) off(method string, fn Listener, target Target, identityOf identityFunc) bool {
	ptr := reflect.ValueOf(fn).Pointer()

	var id Identity
	if target != nil {
		var ok bool
		if id, ok = identityOf(target); !ok {
			return false
		}
	}

	t.mu.Lock()
	entries := append([]*listenerEntry(nil), t.entries[method]...)
	t.mu.Unlock()

	for _, en := range entries {
		if en.ptr != ptr {
			continue
		}
		if target == nil {
			if en.target == nil {
				return t.remove(en)
			}
			continue
		}
		if en.target == nil {
			continue
		}
		if enID, ok := identityOf(en.target); ok && enID == id {
			return t.remove(en)
		}
	}
	return false
}

// removeAll clears every listener when target is nil, otherwise only
// entries scoped to the target's current identity. Unscoped entries
// survive a targeted sweep.
func (t *listenerTable) removeAll(target Target, identityOf identityFunc) {
	if target == nil {
		t.mu.Lock()
		t.entries = make(map[string][]*listenerEntry)
		t.mu.Unlock()
		return
	}

	id, ok := identityOf(target)
	if !ok {
		return
	}

	t.mu.Lock()
	var all []*listenerEntry
	for _, list := range t.entries {
		all = append(all, list...)
	}
	t.mu.Unlock()

	for _, en := range all {
		if en.target == nil {
			continue
		}
		if enID, ok := identityOf(en.target); ok && enID == id {
			t.remove(en)
		}
	}
}

// snapshot returns the current list for a method. Fan-out iterates the
// snapshot, so listeners added or removed mid-dispatch take effect on
// the next event.
func (t *listenerTable) snapshot(method string) []*listenerEntry {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]*listenerEntry(nil), t.entries[method]...)
}
