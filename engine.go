// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package ipc

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// DefaultCallTimeout bounds calls that carry no explicit timeout.
const DefaultCallTimeout = 5 * time.Second

// Engine is the correlation core. It pairs responses with pending
// calls, routes requests to handlers, fans events out to listeners and
// batches outbound events per destination. An Engine is safe for
// concurrent use.
type Engine struct {
	resolver Resolver
	log      zerolog.Logger
	codec    Codec
	channel  string
	timeout  time.Duration

	corr      *correlator
	handlers  *handlerTable
	listeners *listenerTable
	sched     *scheduler

	closed  atomic.Bool
	closeCh chan struct{}
}

// Option configures an Engine.
type Option func(*engineOptions)

type engineOptions struct {
	resolver      Resolver
	logger        zerolog.Logger
	codec         Codec
	channel       string
	callTimeout   time.Duration
	flushInterval time.Duration
	schedule      func(flush func())
	level         *zerolog.Level
}

// WithResolver sets the resolver used for every target lookup. Without
// one the engine only serves inbound traffic; outbound calls fail with
// CodeTargetReleased.
func WithResolver(r Resolver) Option {
	return func(o *engineOptions) { o.resolver = r }
}

// WithLogger sets the engine logger. The default discards everything.
func WithLogger(l zerolog.Logger) Option {
	return func(o *engineOptions) { o.logger = l }
}

// WithCodec sets a custom codec for params and result values.
func WithCodec(c Codec) Option {
	return func(o *engineOptions) { o.codec = c }
}

// WithChannel overrides DefaultChannel for all outbound traffic.
func WithChannel(name string) Option {
	return func(o *engineOptions) { o.channel = name }
}

// WithCallTimeout sets the default call timeout. Zero or negative
// disables the timer for calls that carry no per-call timeout.
func WithCallTimeout(d time.Duration) Option {
	return func(o *engineOptions) { o.callTimeout = d }
}

// WithFlushInterval sets how long the outbound scheduler waits between
// arming and flushing. Zero flushes on the soonest tick.
func WithFlushInterval(d time.Duration) Option {
	return func(o *engineOptions) { o.flushInterval = d }
}

// WithTickScheduler replaces the flush timer, mainly so tests can step
// ticks by hand. The function receives the flush to run on the next
// tick; it must run it at most once.
func WithTickScheduler(schedule func(flush func())) Option {
	return func(o *engineOptions) { o.schedule = schedule }
}

// CallOption configures a single call.
type CallOption func(*callOptions)

type callOptions struct {
	timeout time.Duration
	set     bool
}

// WithTimeout overrides the engine call timeout for one call. Zero or
// negative waits indefinitely (until response, cancellation or close).
func WithTimeout(d time.Duration) CallOption {
	return func(o *callOptions) { o.timeout = d; o.set = true }
}

// NewEngine builds an Engine.
func NewEngine(opts ...Option) *Engine {
	o := &engineOptions{
		resolver:    noResolver{},
		logger:      zerolog.Nop(),
		codec:       defaultCodec,
		channel:     DefaultChannel,
		callTimeout: DefaultCallTimeout,
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.level != nil {
		o.logger = o.logger.Level(*o.level)
	}

	e := &Engine{
		resolver:  o.resolver,
		log:       o.logger,
		codec:     o.codec,
		channel:   o.channel,
		timeout:   o.callTimeout,
		corr:      newCorrelator(),
		handlers:  newHandlerTable(),
		listeners: newListenerTable(),
		closeCh:   make(chan struct{}),
	}

	schedule := o.schedule
	if schedule == nil {
		interval := o.flushInterval
		schedule = func(flush func()) { time.AfterFunc(interval, flush) }
	}
	e.sched = newScheduler(schedule, e.deliverBatch)
	return e
}

// Call invokes method on target and decodes the result into reply.
// params and reply may be nil. The error is ctx.Err() on cancellation,
// ErrClosed after Close, and *Error for everything protocol-shaped:
// CodeTargetReleased when the target does not resolve, CodeTimeout
// when no response arrives in time, or the remote failure rebuilt with
// this call's context.
func (e *Engine) Call(ctx context.Context, target Target, method string, params, reply any, opts ...CallOption) error {
	var raw json.RawMessage
	if params != nil {
		var err error
		if raw, err = e.codec.Encode(params); err != nil {
			return fmt.Errorf("ipc: encode params for %s: %w", method, err)
		}
	}
	result, err := e.CallRaw(ctx, target, method, raw, opts...)
	if err != nil {
		return err
	}
	if reply == nil || len(result) == 0 {
		return nil
	}
	if err := e.codec.Decode(result, reply); err != nil {
		return fmt.Errorf("ipc: decode result of %s: %w", method, err)
	}
	return nil
}

// CallRaw is Call with pre-encoded params and a raw result.
func (e *Engine) CallRaw(ctx context.Context, target Target, method string, params json.RawMessage, opts ...CallOption) (json.RawMessage, error) {
	if e.closed.Load() {
		return nil, ErrClosed
	}

	var co callOptions
	for _, opt := range opts {
		opt(&co)
	}
	timeout := e.timeout
	if co.set {
		timeout = co.timeout
	}

	dest, err := e.resolveTarget(target)
	if err != nil {
		return nil, releasedError(method, target, err)
	}

	pc := e.corr.register(method, renderArgs(params))
	payload, err := json.Marshal(newRequest(pc.id, method, params))
	if err != nil {
		e.corr.drop(pc.id)
		return nil, fmt.Errorf("ipc: encode request %s: %w", method, err)
	}
	if err := dest.Send(e.channel, payload); err != nil {
		e.corr.drop(pc.id)
		return nil, releasedError(method, target, err)
	}

	var timerC <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		timerC = timer.C
	}

	// First claimer of the pending entry decides the outcome. Losing
	// the claim means a response is already settling the call, so read
	// it instead.
	select {
	case s := <-pc.done:
		return s.result, s.err
	case <-timerC:
		if e.corr.drop(pc.id) {
			return nil, timeoutError(method, pc.args, timeout)
		}
		s := <-pc.done
		return s.result, s.err
	case <-ctx.Done():
		if e.corr.drop(pc.id) {
			return nil, ctx.Err()
		}
		s := <-pc.done
		return s.result, s.err
	case <-e.closeCh:
		if e.corr.drop(pc.id) {
			return nil, ErrClosed
		}
		s := <-pc.done
		return s.result, s.err
	}
}

// Emit queues a fire-and-forget event for target. Events accumulate
// until the next scheduler tick and same-destination events leave as
// one batched payload. An unresolvable target is a silent no-op; only
// encoding failures and a closed engine are reported.
func (e *Engine) Emit(target Target, method string, params any) error {
	if e.closed.Load() {
		return ErrClosed
	}
	var raw json.RawMessage
	if params != nil {
		var err error
		if raw, err = e.codec.Encode(params); err != nil {
			return fmt.Errorf("ipc: encode params for %s: %w", method, err)
		}
	}
	dest, err := e.resolveTarget(target)
	if err != nil {
		e.log.Debug().Str("method", method).Err(err).Msg("dropping event for unresolved target")
		return nil
	}
	if !e.sched.enqueue(dest, newEvent(method, raw)) {
		return ErrClosed
	}
	return nil
}

// RegisterHandler installs fn for method. A nil target serves requests
// from any sender; a concrete target serves only its resolved
// identity and beats the global entry. A second global registration
// for the method, or a second registration for the same resolved
// identity, fails. The returned disposer removes exactly this entry.
func (e *Engine) RegisterHandler(method string, fn Handler, target Target) (func(), error) {
	if method == "" {
		return nil, fmt.Errorf("ipc: register: empty method")
	}
	if fn == nil {
		return nil, fmt.Errorf("ipc: register %s: nil handler", method)
	}
	en, err := e.handlers.register(method, fn, target, e.identityOf)
	if err != nil {
		return nil, err
	}
	return func() { e.handlers.remove(en) }, nil
}

// UnregisterHandler removes the handler for (method, target); nil
// target removes the global entry. Reports whether one was removed.
func (e *Engine) UnregisterHandler(method string, target Target) bool {
	return e.handlers.unregister(method, target, e.identityOf)
}

// On subscribes fn to method events. A nil target observes events from
// every sender; a concrete target only those from its resolved
// identity. The returned disposer removes exactly this subscription.
func (e *Engine) On(method string, fn Listener, target Target) func() {
	if method == "" || fn == nil {
		return func() {}
	}
	en := e.listeners.add(method, fn, target)
	return func() { e.listeners.remove(en) }
}

// Off removes the first subscription matching fn and target. Reports
// whether one was removed.
func (e *Engine) Off(method string, fn Listener, target Target) bool {
	if fn == nil {
		return false
	}
	return e.listeners.off(method, fn, target, e.identityOf)
}

// RemoveAllListeners drops every subscription scoped to target, or
// every subscription outright when target is nil.
func (e *Engine) RemoveAllListeners(target Target) {
	e.listeners.removeAll(target, e.identityOf)
}

// Dispatch feeds one inbound payload to the engine. from is the
// sender's reply handle; it may be nil for transports that cannot
// identify the sender, which drops requests (no reply path) and limits
// events to unscoped listeners. Batch payloads unpack in wire order.
func (e *Engine) Dispatch(ctx context.Context, from Sendable, payload []byte) {
	if e.closed.Load() {
		e.log.Debug().Msg("dropping payload on closed engine")
		return
	}
	envs, err := decodePayload(payload)
	if err != nil {
		e.log.Warn().Err(err).Msg("dropping undecodable payload")
		return
	}
	for _, env := range envs {
		switch env.Kind() {
		case KindRequest:
			e.serveRequest(ctx, from, env)
		case KindEvent:
			e.fanoutEvent(from, env)
		case KindResponse:
			e.settleResponse(env)
		default:
			e.log.Warn().Msg("dropping envelope of unknown shape")
		}
	}
}

// Close settles all pending calls with ErrClosed, discards queued
// events and rejects further use. Close is idempotent.
func (e *Engine) Close() error {
	if e.closed.Swap(true) {
		return nil
	}
	close(e.closeCh)
	if dropped := e.sched.stop(); dropped > 0 {
		e.log.Debug().Int("events", dropped).Msg("discarding queued events on close")
	}
	return nil
}

func (e *Engine) resolveTarget(target Target) (Sendable, error) {
	s, err := e.resolver.Resolve(target)
	if err != nil {
		return nil, err
	}
	if s == nil {
		return nil, ErrNoRoute
	}
	return s, nil
}

func (e *Engine) identityOf(target Target) (Identity, bool) {
	s, err := e.resolver.Resolve(target)
	if err != nil || s == nil {
		return "", false
	}
	return s.Identity(), true
}

func (e *Engine) serveRequest(ctx context.Context, from Sendable, env *Envelope) {
	if from == nil {
		e.log.Warn().Str("method", env.Method).Uint64("id", env.ID).Msg("dropping request with no reply path")
		return
	}
	fn, ok := e.handlers.lookup(env.Method, from.Identity(), e.identityOf)
	if !ok {
		e.respondError(from, env.ID, &WireError{
			Code:    CodeNotFound,
			Message: fmt.Sprintf("no handler for method %s", env.Method),
		})
		return
	}
	go e.runHandler(ctx, from, env, fn)
}

func (e *Engine) runHandler(ctx context.Context, from Sendable, env *Envelope, fn Handler) {
	result, err := invokeHandler(ctx, fn, env.Params)
	if err != nil {
		e.respondError(from, env.ID, toWireError(err))
		return
	}
	raw, err := e.codec.Encode(result)
	if err != nil {
		e.respondError(from, env.ID, toWireError(fmt.Errorf("encode result for %s: %w", env.Method, err)))
		return
	}
	e.respond(from, newResult(env.ID, raw))
}

// invokeHandler shields the engine from handler panics; a panic
// becomes a CodeUnknown failure carrying the goroutine stack.
func invokeHandler(ctx context.Context, fn Handler, params json.RawMessage) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = panicError(r)
		}
	}()
	return fn(ctx, params)
}

func (e *Engine) fanoutEvent(from Sendable, env *Envelope) {
	var sender Identity
	hasSender := from != nil
	if hasSender {
		sender = from.Identity()
	}
	for _, en := range e.listeners.snapshot(env.Method) {
		if en.target == nil {
			en.fn(env.Params)
			continue
		}
		if !hasSender {
			continue
		}
		if id, ok := e.identityOf(en.target); ok && id == sender {
			en.fn(env.Params)
		}
	}
}

func (e *Engine) settleResponse(env *Envelope) {
	pc, ok := e.corr.claim(env.ID)
	if !ok {
		// Late response after a timeout, or an id this engine never
		// issued. Both are dropped.
		e.log.Debug().Uint64("id", env.ID).Msg("dropping response with no pending call")
		return
	}
	if env.Error != nil {
		pc.done <- settlement{err: errorFromResponse(env.Error, pc.method, pc.args)}
		return
	}
	pc.done <- settlement{result: env.Result}
}

func (e *Engine) respond(to Sendable, env *Envelope) {
	payload, err := json.Marshal(env)
	if err != nil {
		e.log.Warn().Err(err).Uint64("id", env.ID).Msg("encode response")
		return
	}
	if err := to.Send(e.channel, payload); err != nil {
		e.log.Warn().Err(err).Uint64("id", env.ID).Str("dest", string(to.Identity())).Msg("send response")
	}
}

func (e *Engine) respondError(to Sendable, id uint64, we *WireError) {
	e.respond(to, newWireError(id, we))
}

func (e *Engine) deliverBatch(dest Sendable, events []*Envelope) {
	payload, err := encodeBatch(events)
	if err != nil {
		e.log.Warn().Err(err).Int("events", len(events)).Msg("encode event batch")
		return
	}
	if err := dest.Send(e.channel, payload); err != nil {
		e.log.Warn().Err(err).Int("events", len(events)).Str("dest", string(dest.Identity())).Msg("send event batch")
	}
}
