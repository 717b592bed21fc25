// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package ipc

import (
	"encoding/json"
	"testing"
)

func TestEnvelopeKind(t *testing.T) {
	tests := []struct {
		name string
		env  Envelope
		want Kind
	}{
		{"request", Envelope{Version: Version, ID: 7, Method: "add"}, KindRequest},
		{"event", Envelope{Version: Version, Method: "tick"}, KindEvent},
		{"result", Envelope{Version: Version, ID: 7, Result: json.RawMessage(`1`)}, KindResponse},
		{"error", Envelope{Version: Version, ID: 7, Error: &WireError{Code: CodeUnknown}}, KindResponse},
		{"empty", Envelope{Version: Version}, KindInvalid},
	}
	for _, tt := range tests {
		if got := tt.env.Kind(); got != tt.want {
			t.Errorf("%s: got %v, want %v", tt.name, got, tt.want)
		}
	}
}

func TestEncodeSingleEvent(t *testing.T) {
	payload, err := encodeBatch([]*Envelope{newEvent("tick", json.RawMessage(`{"x":1}`))})
	if err != nil {
		t.Fatalf("encodeBatch: %v", err)
	}
	want := `{"jsonrpc":"2.0","method":"tick","params":{"x":1}}`
	if string(payload) != want {
		t.Errorf("got %s, want %s", payload, want)
	}
}

func TestEncodeBatchIsArray(t *testing.T) {
	payload, err := encodeBatch([]*Envelope{
		newEvent("tick", json.RawMessage(`{"x":1}`)),
		newEvent("tick", json.RawMessage(`{"x":2}`)),
	})
	if err != nil {
		t.Fatalf("encodeBatch: %v", err)
	}
	if payload[0] != '[' {
		t.Fatalf("batch payload is not an array: %s", payload)
	}

	envs, err := decodePayload(payload)
	if err != nil {
		t.Fatalf("decodePayload: %v", err)
	}
	if len(envs) != 2 {
		t.Fatalf("got %d envelopes, want 2", len(envs))
	}
	if string(envs[0].Params) != `{"x":1}` || string(envs[1].Params) != `{"x":2}` {
		t.Errorf("batch order lost: %s, %s", envs[0].Params, envs[1].Params)
	}
}

func TestDecodePayloadSingle(t *testing.T) {
	envs, err := decodePayload([]byte(`{"jsonrpc":"2.0","id":3,"method":"add","params":[2,3]}`))
	if err != nil {
		t.Fatalf("decodePayload: %v", err)
	}
	if len(envs) != 1 {
		t.Fatalf("got %d envelopes, want 1", len(envs))
	}
	env := envs[0]
	if env.Kind() != KindRequest || env.ID != 3 || env.Method != "add" {
		t.Errorf("got kind=%v id=%d method=%q", env.Kind(), env.ID, env.Method)
	}
}

func TestDecodePayloadRejectsBadInput(t *testing.T) {
	bad := [][]byte{
		nil,
		[]byte("   "),
		[]byte("not json"),
		[]byte(`{"jsonrpc":"1.0","id":1,"method":"m"}`),
		[]byte(`[]`),
		[]byte(`[{"jsonrpc":"2.0","method":"a"},{"jsonrpc":"0.9","method":"b"}]`),
	}
	for _, payload := range bad {
		if _, err := decodePayload(payload); err == nil {
			t.Errorf("decodePayload(%q): expected error", payload)
		}
	}
}

func TestNewResultNullBody(t *testing.T) {
	env := newResult(9, nil)
	payload, err := json.Marshal(env)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	want := `{"jsonrpc":"2.0","id":9,"result":null}`
	if string(payload) != want {
		t.Errorf("got %s, want %s", payload, want)
	}
}

func TestJSONCodecRawPassthrough(t *testing.T) {
	raw := json.RawMessage(`{"a":1}`)
	enc, err := defaultCodec.Encode(raw)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if string(enc) != string(raw) {
		t.Errorf("got %s, want %s", enc, raw)
	}

	var out json.RawMessage
	if err := defaultCodec.Decode(enc, &out); err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if string(out) != string(raw) {
		t.Errorf("got %s, want %s", out, raw)
	}
}
