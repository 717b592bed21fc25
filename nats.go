// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package ipc

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
)

// senderHeader carries the sender's endpoint name on every NATS
// message so the receiver has a reply path.
const senderHeader = "Lux-Ipc-Sender"

// NATSConfig configures a NATS binding.
type NATSConfig struct {
	// URL is the NATS server URL (e.g. "nats://localhost:4222").
	// Default is nats.DefaultURL.
	URL string

	// Name is this endpoint's name. It doubles as the endpoint
	// identity and as the last token of its inbox subject.
	Name string

	// HostName is the endpoint TargetHost resolves to. Leave empty on
	// the host itself.
	HostName string

	// ConnectTimeout is the timeout for the initial connection.
	// Default is 5 seconds.
	ConnectTimeout time.Duration

	// Logger for connection events. If nil, logging is disabled.
	Logger *zerolog.Logger
}

func (c NATSConfig) applyDefaults() NATSConfig {
	if c.URL == "" {
		c.URL = nats.DefaultURL
	}
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = 5 * time.Second
	}
	if c.Logger == nil {
		nop := zerolog.Nop()
		c.Logger = &nop
	}
	return c
}

// NATSBinding connects an Engine to a NATS deployment. Every endpoint
// owns the inbox subject "<channel>.<name>"; payloads publish straight
// to the destination's inbox with the sender's name in a header.
type NATSBinding struct {
	cfg    NATSConfig
	engine *Engine
	conn   *nats.Conn
	sub    *nats.Subscription
	log    zerolog.Logger
}

// DialNATS connects engine to NATS and subscribes its inbox. The
// engine should be built with WithResolver(binding.Resolver()); the
// binding is usable as soon as DialNATS returns.
func DialNATS(engine *Engine, cfg NATSConfig) (*NATSBinding, error) {
	if engine == nil {
		return nil, fmt.Errorf("nats: nil engine")
	}
	if err := validateEndpointName(cfg.Name); err != nil {
		return nil, err
	}
	if cfg.HostName != "" {
		if err := validateEndpointName(cfg.HostName); err != nil {
			return nil, err
		}
	}
	cfg = cfg.applyDefaults()
	log := *cfg.Logger

	conn, err := nats.Connect(
		cfg.URL,
		nats.Name("lux-ipc-"+cfg.Name),
		nats.Timeout(cfg.ConnectTimeout),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Warn().Err(err).Msg("nats disconnected")
			}
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			log.Info().Msg("nats reconnected")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("nats: connect %s: %w", cfg.URL, err)
	}

	b := &NATSBinding{cfg: cfg, engine: engine, conn: conn, log: log}
	b.sub, err = conn.Subscribe(subjectFor(engine.channel, cfg.Name), b.onMessage)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("nats: subscribe %s: %w", cfg.Name, err)
	}
	return b, nil
}

func (b *NATSBinding) onMessage(m *nats.Msg) {
	var from Sendable
	if sender := m.Header.Get(senderHeader); sender != "" {
		from = &natsPeer{conn: b.conn, name: sender, self: b.cfg.Name}
	}
	b.engine.Dispatch(context.Background(), from, m.Data)
}

// Resolver maps targets to NATS endpoints: TargetHost to HostName,
// a string or Identity to the endpoint of that name. Resolution fails
// once the connection is closed.
func (b *NATSBinding) Resolver() Resolver {
	return ResolverFunc(func(target Target) (Sendable, error) {
		var name string
		switch t := target.(type) {
		case hostTarget:
			if b.cfg.HostName == "" {
				return nil, fmt.Errorf("nats: resolve %v: no host configured: %w", target, ErrNoRoute)
			}
			name = b.cfg.HostName
		case string:
			name = t
		case Identity:
			name = string(t)
		default:
			return nil, fmt.Errorf("nats: resolve %v: %w", target, ErrNoRoute)
		}
		if err := validateEndpointName(name); err != nil {
			return nil, err
		}
		if b.conn.IsClosed() {
			return nil, fmt.Errorf("nats: resolve %s: connection closed: %w", name, ErrNoRoute)
		}
		return &natsPeer{conn: b.conn, name: name, self: b.cfg.Name}, nil
	})
}

// Close drops the subscription and the connection. In-flight inbound
// callbacks finish; peers resolving this endpoint afterwards publish
// into the void, which is indistinguishable from a released endpoint.
func (b *NATSBinding) Close() error {
	if err := b.sub.Unsubscribe(); err != nil && !b.conn.IsClosed() {
		b.conn.Close()
		return fmt.Errorf("nats: unsubscribe: %w", err)
	}
	b.conn.Close()
	return nil
}

// natsPeer is the resolved handle to one remote endpoint.
type natsPeer struct {
	conn *nats.Conn
	name string
	self string
}

func (p *natsPeer) Identity() Identity { return Identity(p.name) }

func (p *natsPeer) Send(channel string, payload []byte) error {
	msg := nats.NewMsg(subjectFor(channel, p.name))
	msg.Header.Set(senderHeader, p.self)
	msg.Data = payload
	if err := p.conn.PublishMsg(msg); err != nil {
		return fmt.Errorf("nats: publish to %s: %w", p.name, err)
	}
	return nil
}

func subjectFor(channel, name string) string {
	return channel + "." + name
}

func validateEndpointName(name string) error {
	if name == "" {
		return fmt.Errorf("nats: empty endpoint name")
	}
	if strings.ContainsAny(name, ".*> \t") {
		return fmt.Errorf("nats: endpoint name %q contains reserved characters", name)
	}
	return nil
}
