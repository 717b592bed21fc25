// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package ipc builds request/response semantics on top of one-way
// message transports for the Lux ecosystem.
//
// Two endpoints that can only throw payloads at each other get
// synchronous calls with timeouts and typed errors, fire-and-forget
// events, per-sender routing and automatic event batching. The engine
// never touches a socket; a Resolver maps opaque targets to live
// endpoints and every payload crosses through the Sendable it returns.
//
// # Calls and events
//
//	eng := ipc.NewEngine(ipc.WithResolver(port.Resolver()))
//
//	// Synchronous call with a typed reply
//	var sum int
//	err := eng.Call(ctx, ipc.TargetHost, "add", []int{2, 3}, &sum)
//
//	// Fire-and-forget event, batched with others on the same tick
//	eng.Emit(ipc.TargetHost, "progress", 0.5)
//
// Serving the other side:
//
//	eng.RegisterHandler("add", func(ctx context.Context, params json.RawMessage) (any, error) {
//	    var ns []int
//	    if err := json.Unmarshal(params, &ns); err != nil {
//	        return nil, err
//	    }
//	    total := 0
//	    for _, n := range ns {
//	        total += n
//	    }
//	    return total, nil
//	}, nil)
//
//	eng.On("progress", func(params json.RawMessage) {
//	    // observe
//	}, nil)
//
// # Failures
//
// Every protocol failure surfaces as *Error with a stable code:
// CodeTargetReleased when the destination is gone, CodeTimeout when a
// call expires, CodeNotFound when the remote side has no handler, and
// CodeUnknown for unstructured remote failures. Handler errors cross
// the wire with code, data and stack intact, so
// errors.Is(err, &ipc.Error{Code: ipc.CodeTimeout}) works on the
// calling side.
//
// # Bindings
//
// The engine is transport-agnostic. Network wires engines within one
// process; DialNATS puts endpoints on a NATS deployment; ToCloudEvent
// and FromCloudEvent hand events to CloudEvents-speaking brokers.
// Hosts that re-export bus failures over gRPC use ToGRPCStatus.
//
// # Architecture
//
// The package separates concerns:
//
//   - engine.go: Engine facade and options
//   - correlator.go: id allocation and pending-call tracking
//   - handlers.go, listeners.go: method and event routing tables
//   - scheduler.go: per-destination event batching
//   - codec.go: wire envelopes and batch framing
//   - errors.go: the typed error model
//   - transport.go: Target, Sendable and Resolver contracts
//   - inproc.go: in-process reference binding
//   - nats.go: NATS binding
//
// Application code depends on the Engine and the transport contracts;
// binding selection is a deployment decision rather than a code
// change.
package ipc
