// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package ipc

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// Network links engines living in one process. It is the reference
// binding: embedders that split work across goroutines use it
// directly, and it carries the engine's own integration tests.
//
// Each endpoint joins under a key of the embedder's choosing; that key
// is the Target peers use to reach it. One endpoint may additionally
// claim the TargetHost role.
type Network struct {
	mu    sync.RWMutex
	ports map[Target]*Port
	host  *Port
}

// NewNetwork creates an empty Network.
func NewNetwork() *Network {
	return &Network{ports: make(map[Target]*Port)}
}

// Join adds an endpoint under key. The key must be comparable and not
// yet taken; use JoinHost for the TargetHost role. The returned Port
// must be attached to an Engine before it can receive.
func (n *Network) Join(key Target) (*Port, error) {
	if key == nil {
		return nil, fmt.Errorf("inproc: join: nil key")
	}
	if key == TargetHost {
		return nil, fmt.Errorf("inproc: join: %v is reserved, use JoinHost", key)
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	if _, ok := n.ports[key]; ok {
		return nil, fmt.Errorf("inproc: join %v: already joined", key)
	}
	p := newPort(n, key)
	n.ports[key] = p
	return p, nil
}

// JoinHost adds the endpoint that TargetHost resolves to. At most one
// may exist at a time.
func (n *Network) JoinHost() (*Port, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.host != nil {
		return nil, fmt.Errorf("inproc: host already joined")
	}
	p := newPort(n, TargetHost)
	n.host = p
	return p, nil
}

func (n *Network) lookup(target Target) (*Port, error) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	if target == TargetHost {
		if n.host == nil {
			return nil, fmt.Errorf("inproc: resolve %v: %w", target, ErrNoRoute)
		}
		return n.host, nil
	}
	p, ok := n.ports[target]
	if !ok {
		return nil, fmt.Errorf("inproc: resolve %v: %w", target, ErrNoRoute)
	}
	return p, nil
}

func (n *Network) leave(p *Port) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.host == p {
		n.host = nil
	}
	if n.ports[p.key] == p {
		delete(n.ports, p.key)
	}
}

// Port is one endpoint's membership in a Network.
type Port struct {
	net *Network
	key Target
	id  Identity

	mu     sync.Mutex
	engine *Engine
	closed bool
}

func newPort(n *Network, key Target) *Port {
	return &Port{net: n, key: key, id: Identity(uuid.NewString())}
}

// Identity returns the port's stable endpoint token.
func (p *Port) Identity() Identity { return p.id }

// Attach connects the engine that serves this endpoint's inbound
// traffic. Payloads arriving before Attach are refused at the sender.
func (p *Port) Attach(e *Engine) {
	p.mu.Lock()
	p.engine = e
	p.mu.Unlock()
}

// Resolver returns the resolver this endpoint's engine should use.
func (p *Port) Resolver() Resolver {
	return ResolverFunc(func(target Target) (Sendable, error) {
		p.mu.Lock()
		closed := p.closed
		p.mu.Unlock()
		if closed {
			return nil, fmt.Errorf("inproc: port %v closed: %w", p.key, ErrNoRoute)
		}
		to, err := p.net.lookup(target)
		if err != nil {
			return nil, err
		}
		return &link{from: p, to: to}, nil
	})
}

// Close leaves the network. The key is free for reuse and peers that
// try to reach this endpoint afterwards see resolution failures.
func (p *Port) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.mu.Unlock()
	p.net.leave(p)
	return nil
}

func (p *Port) deliver(reply Sendable, payload []byte) error {
	p.mu.Lock()
	engine, closed := p.engine, p.closed
	p.mu.Unlock()
	if closed {
		return fmt.Errorf("inproc: port %v closed: %w", p.key, ErrNoRoute)
	}
	if engine == nil {
		return fmt.Errorf("inproc: port %v not attached", p.key)
	}
	engine.Dispatch(context.Background(), reply, payload)
	return nil
}

// link is a resolved path between two ports. Its identity is the
// remote port's; sending delivers into the remote engine with the
// direction reversed as the reply path.
type link struct {
	from *Port
	to   *Port
}

func (l *link) Identity() Identity { return l.to.id }

func (l *link) Send(channel string, payload []byte) error {
	return l.to.deliver(&link{from: l.to, to: l.from}, payload)
}
