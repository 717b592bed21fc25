// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package ipc

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Version is the protocol tag carried by every envelope.
const Version = "2.0"

// Envelope is the wire form of every message. Field presence decides
// the kind:
//
//	Request:  Method and ID set
//	Event:    Method set, no ID
//	Response: ID set, no Method; Error set on failure
//
// ID 0 is never allocated, so 0 doubles as "absent".
type Envelope struct {
	Version string          `json:"jsonrpc"`
	ID      uint64          `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *WireError      `json:"error,omitempty"`
}

// WireError is the serialized form of a call failure.
type WireError struct {
	Code    ErrorCode  `json:"code"`
	Message string     `json:"message"`
	Data    *ErrorData `json:"data,omitempty"`
}

// ErrorData carries the optional structured payload of a WireError.
type ErrorData struct {
	Data  json.RawMessage `json:"data,omitempty"`
	Stack string          `json:"stack,omitempty"`
}

// Kind classifies a decoded envelope.
type Kind uint8

const (
	KindInvalid Kind = iota
	KindRequest
	KindEvent
	KindResponse
)

func (k Kind) String() string {
	switch k {
	case KindRequest:
		return "request"
	case KindEvent:
		return "event"
	case KindResponse:
		return "response"
	default:
		return "invalid"
	}
}

// Kind reports what the envelope is, based on field presence alone.
func (e *Envelope) Kind() Kind {
	switch {
	case e.Method != "" && e.ID != 0:
		return KindRequest
	case e.Method != "":
		return KindEvent
	case e.ID != 0:
		return KindResponse
	default:
		return KindInvalid
	}
}

func newRequest(id uint64, method string, params json.RawMessage) *Envelope {
	return &Envelope{Version: Version, ID: id, Method: method, Params: params}
}

func newEvent(method string, params json.RawMessage) *Envelope {
	return &Envelope{Version: Version, Method: method, Params: params}
}

func newResult(id uint64, result json.RawMessage) *Envelope {
	if len(result) == 0 {
		result = json.RawMessage("null")
	}
	return &Envelope{Version: Version, ID: id, Result: result}
}

func newWireError(id uint64, we *WireError) *Envelope {
	return &Envelope{Version: Version, ID: id, Error: we}
}

// encodeBatch renders one or more event envelopes as a single payload:
// a bare envelope for one event, a JSON array for several.
func encodeBatch(events []*Envelope) ([]byte, error) {
	if len(events) == 1 {
		return json.Marshal(events[0])
	}
	return json.Marshal(events)
}

// decodePayload parses an inbound payload into envelopes. A payload is
// either a single envelope object or a batch array; batch elements are
// returned in wire order. Version mismatches and malformed JSON are
// decode errors, the caller drops the whole payload.
func decodePayload(payload []byte) ([]*Envelope, error) {
	trimmed := bytes.TrimLeft(payload, " \t\r\n")
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("decode: empty payload")
	}

	if trimmed[0] == '[' {
		var raws []json.RawMessage
		if err := json.Unmarshal(trimmed, &raws); err != nil {
			return nil, fmt.Errorf("decode batch: %w", err)
		}
		if len(raws) == 0 {
			return nil, fmt.Errorf("decode batch: empty array")
		}
		envs := make([]*Envelope, 0, len(raws))
		for i, raw := range raws {
			env, err := decodeEnvelope(raw)
			if err != nil {
				return nil, fmt.Errorf("decode batch[%d]: %w", i, err)
			}
			envs = append(envs, env)
		}
		return envs, nil
	}

	env, err := decodeEnvelope(trimmed)
	if err != nil {
		return nil, err
	}
	return []*Envelope{env}, nil
}

func decodeEnvelope(data []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("decode envelope: %w", err)
	}
	if env.Version != Version {
		return nil, fmt.Errorf("decode envelope: protocol %q, want %q", env.Version, Version)
	}
	return &env, nil
}

// Codec encodes call arguments and decodes call results. The wire
// envelopes themselves are always JSON; a Codec only controls how Go
// values map to the params and result fields.
type Codec interface {
	Encode(v any) (json.RawMessage, error)
	Decode(data json.RawMessage, v any) error
}

// JSONCodec is the default codec.
type JSONCodec struct{}

func (JSONCodec) Encode(v any) (json.RawMessage, error) {
	if raw, ok := v.(json.RawMessage); ok {
		return raw, nil
	}
	return json.Marshal(v)
}

func (JSONCodec) Decode(data json.RawMessage, v any) error {
	if raw, ok := v.(*json.RawMessage); ok {
		*raw = data
		return nil
	}
	return json.Unmarshal(data, v)
}

// defaultCodec is used when no codec is specified
var defaultCodec Codec = JSONCodec{}
