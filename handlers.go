// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package ipc

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
)

// Handler serves one inbound request. The returned value is encoded as
// the call result; a returned *Error crosses the wire with its code,
// data and stack intact, any other error degrades to CodeUnknown.
type Handler func(ctx context.Context, params json.RawMessage) (any, error)

// identityFunc resolves a target to its current identity. Resolution
// happens at every use; a false return means the target is gone.
type identityFunc func(target Target) (Identity, bool)

type handlerEntry struct {
	method string
	target Target // nil serves requests from any sender
	fn     Handler
}

// handlerTable maps methods to their handlers. Per method there is at
// most one global entry and at most one entry per resolved sender
// identity; registration fails on conflict rather than overwrite.
type handlerTable struct {
	mu      sync.Mutex
	entries map[string][]*handlerEntry
}

func newHandlerTable() *handlerTable {
	return &handlerTable{entries: make(map[string][]*handlerEntry)}
}

func (t *handlerTable) register(method string, fn Handler, target Target, identityOf identityFunc) (*handlerEntry, error) {
	var id Identity
	if target != nil {
		var ok bool
		if id, ok = identityOf(target); !ok {
			return nil, fmt.Errorf("ipc: register %s: resolve target %v: %w", method, target, ErrNoRoute)
		}
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	for _, en := range t.entries[method] {
		if en.target == nil {
			if target == nil {
				return nil, fmt.Errorf("ipc: handler already registered for %s", method)
			}
			continue
		}
		if target == nil {
			continue
		}
		if enID, ok := identityOf(en.target); ok && enID == id {
			return nil, fmt.Errorf("ipc: handler already registered for %s on target %v", method, en.target)
		}
	}

	en := &handlerEntry{method: method, target: target, fn: fn}
	t.entries[method] = append(t.entries[method], en)
	return en, nil
}

// lookup picks the handler for an inbound request. An entry scoped to
// the sender's identity beats the global entry; entries whose target no
// longer resolves are skipped.
func (t *handlerTable) lookup(method string, sender Identity, identityOf identityFunc) (Handler, bool) {
	t.mu.Lock()
	entries := append([]*handlerEntry(nil), t.entries[method]...)
	t.mu.Unlock()

	var global Handler
	for _, en := range entries {
		if en.target == nil {
			if global == nil {
				global = en.fn
			}
			continue
		}
		if id, ok := identityOf(en.target); ok && id == sender {
			return en.fn, true
		}
	}
	if global != nil {
		return global, true
	}
	return nil, false
}

// remove drops exactly the given entry. Disposers use it so that two
// registrations for the same method never tear each other down.
func (t *handlerTable) remove(e *handlerEntry) bool {
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

// unregister drops the entry for (method, target): the global entry
// when target is nil, else the entry whose target resolves to the same
// identity.
func (t *handlerTable) unregister(method string, target Target, identityOf identityFunc) bool {
	var id Identity
	if target != nil {
		var ok bool
		if id, ok = identityOf(target); !ok {
			return false
		}
	}

	t.mu.Lock()
	entries := append([]*handlerEntry(nil), t.entries[method]...)
	t.mu.Unlock()

	for _, en := range entries {
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
