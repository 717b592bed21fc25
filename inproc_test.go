// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package ipc

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
)

// twoEndpoints wires a host and one client engine over a fresh Network.
func twoEndpoints(t *testing.T, clientOpts ...Option) (host, client *Engine, hostPort, clientPort *Port) {
	t.Helper()
	n := NewNetwork()

	hostPort, err := n.JoinHost()
	if err != nil {
		t.Fatalf("JoinHost: %v", err)
	}
	clientPort, err = n.Join("client")
	if err != nil {
		t.Fatalf("Join: %v", err)
	}

	host = NewEngine(WithResolver(hostPort.Resolver()))
	hostPort.Attach(host)
	client = NewEngine(append([]Option{WithResolver(clientPort.Resolver())}, clientOpts...)...)
	clientPort.Attach(client)

	t.Cleanup(func() {
		host.Close()
		client.Close()
		hostPort.Close()
		clientPort.Close()
	})
	return host, client, hostPort, clientPort
}

func TestInprocCallRoundTrip(t *testing.T) {
	host, client, _, _ := twoEndpoints(t)

	if _, err := host.RegisterHandler("add", func(_ context.Context, params json.RawMessage) (any, error) {
		var ns []int
		if err := json.Unmarshal(params, &ns); err != nil {
			return nil, err
		}
		total := 0
		for _, n := range ns {
			total += n
		}
		return total, nil
	}, nil); err != nil {
		t.Fatalf("RegisterHandler: %v", err)
	}

	var sum int
	if err := client.Call(context.Background(), TargetHost, "add", []int{2, 3, 4}, &sum); err != nil {
		t.Fatalf("Call: %v", err)
	}
	if sum != 9 {
		t.Errorf("got %d, want 9", sum)
	}
}

func TestInprocCallBothDirections(t *testing.T) {
	host, client, _, _ := twoEndpoints(t)

	if _, err := client.RegisterHandler("ping", func(context.Context, json.RawMessage) (any, error) {
		return "pong", nil
	}, nil); err != nil {
		t.Fatal(err)
	}

	var out string
	if err := host.Call(context.Background(), "client", "ping", nil, &out); err != nil {
		t.Fatalf("host calling client: %v", err)
	}
	if out != "pong" {
		t.Errorf("got %q, want pong", out)
	}
}

func TestInprocRemoteErrorCrossesWire(t *testing.T) {
	host, client, _, _ := twoEndpoints(t)

	if _, err := host.RegisterHandler("fail", func(context.Context, json.RawMessage) (any, error) {
		e := Errorf(42, "no such record")
		e.Data = map[string]string{"table": "users"}
		return nil, e
	}, nil); err != nil {
		t.Fatal(err)
	}

	err := client.Call(context.Background(), TargetHost, "fail", map[string]int{"id": 9}, nil)
	var e *Error
	if !errors.As(err, &e) {
		t.Fatalf("got %v, want *Error", err)
	}
	if e.Code != 42 {
		t.Errorf("code: got %d, want 42", e.Code)
	}
	if !strings.Contains(e.Message, "fail") || !strings.Contains(e.Message, `{"id":9}`) {
		t.Errorf("message should carry the call context: %q", e.Message)
	}
	if data, ok := e.Data.(map[string]any); !ok || data["table"] != "users" {
		t.Errorf("data: got %#v", e.Data)
	}
	if e.Stack == "" {
		t.Error("remote stack lost")
	}
}

func TestInprocEventBatchDelivery(t *testing.T) {
	n := NewNetwork()
	hostPort, err := n.JoinHost()
	if err != nil {
		t.Fatal(err)
	}
	clientPort, err := n.Join("client")
	if err != nil {
		t.Fatal(err)
	}

	host := NewEngine(WithResolver(hostPort.Resolver()))
	hostPort.Attach(host)
	tick := &manualTick{}
	client := NewEngine(WithResolver(clientPort.Resolver()), WithTickScheduler(tick.schedule))
	clientPort.Attach(client)
	defer func() { host.Close(); client.Close() }()

	var mu sync.Mutex
	var got []string
	host.On("progress", func(params json.RawMessage) {
		mu.Lock()
		got = append(got, string(params))
		mu.Unlock()
	}, nil)

	if err := client.Emit(TargetHost, "progress", map[string]int{"pct": 10}); err != nil {
		t.Fatal(err)
	}
	if err := client.Emit(TargetHost, "progress", map[string]int{"pct": 20}); err != nil {
		t.Fatal(err)
	}

	mu.Lock()
	before := len(got)
	mu.Unlock()
	if before != 0 {
		t.Fatal("events delivered before the tick")
	}
	tick.fire(t)

	mu.Lock()
	defer mu.Unlock()
	if len(got) != 2 || got[0] != `{"pct":10}` || got[1] != `{"pct":20}` {
		t.Errorf("got %v, want both events in emit order", got)
	}
}

func TestInprocScopedRouting(t *testing.T) {
	n := NewNetwork()
	hostPort, _ := n.JoinHost()
	aPort, _ := n.Join("a")
	bPort, _ := n.Join("b")

	host := NewEngine(WithResolver(hostPort.Resolver()))
	hostPort.Attach(host)
	a := NewEngine(WithResolver(aPort.Resolver()))
	aPort.Attach(a)
	b := NewEngine(WithResolver(bPort.Resolver()))
	bPort.Attach(b)
	defer func() { host.Close(); a.Close(); b.Close() }()

	if _, err := host.RegisterHandler("who", func(context.Context, json.RawMessage) (any, error) {
		return "anyone", nil
	}, nil); err != nil {
		t.Fatal(err)
	}
	if _, err := host.RegisterHandler("who", func(context.Context, json.RawMessage) (any, error) {
		return "a", nil
	}, "a"); err != nil {
		t.Fatal(err)
	}

	var from string
	if err := a.Call(context.Background(), TargetHost, "who", nil, &from); err != nil {
		t.Fatal(err)
	}
	if from != "a" {
		t.Errorf("sender a: routed to %q, want the a-scoped handler", from)
	}
	if err := b.Call(context.Background(), TargetHost, "who", nil, &from); err != nil {
		t.Fatal(err)
	}
	if from != "anyone" {
		t.Errorf("sender b: routed to %q, want the global handler", from)
	}
}

func TestInprocClosedPortReleasesTarget(t *testing.T) {
	_, client, hostPort, _ := twoEndpoints(t)

	hostPort.Close()

	err := client.Call(context.Background(), TargetHost, "m", nil, nil)
	if !errors.Is(err, &Error{Code: CodeTargetReleased}) {
		t.Fatalf("got %v, want CodeTargetReleased", err)
	}
}

func TestInprocJoinConflicts(t *testing.T) {
	n := NewNetwork()

	if _, err := n.Join(nil); err == nil {
		t.Error("nil key should fail")
	}
	if _, err := n.Join(TargetHost); err == nil {
		t.Error("the host key is reserved")
	}
	if _, err := n.Join("x"); err != nil {
		t.Fatalf("Join: %v", err)
	}
	if _, err := n.Join("x"); err == nil {
		t.Error("duplicate key should fail")
	}
	if _, err := n.JoinHost(); err != nil {
		t.Fatalf("JoinHost: %v", err)
	}
	if _, err := n.JoinHost(); err == nil {
		t.Error("second host should fail")
	}
}

func TestInprocKeyReusableAfterClose(t *testing.T) {
	n := NewNetwork()

	p, err := n.Join("x")
	if err != nil {
		t.Fatal(err)
	}
	if err := p.Close(); err != nil {
		t.Fatal(err)
	}
	if err := p.Close(); err != nil {
		t.Errorf("second close: %v", err)
	}
	if _, err := n.Join("x"); err != nil {
		t.Errorf("key not freed by close: %v", err)
	}
}
