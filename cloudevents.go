// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package ipc

import (
	"encoding/json"
	"fmt"
	"time"

	cloudevents "github.com/cloudevents/sdk-go/v2"
	"github.com/google/uuid"
)

// EventType is the CloudEvents type attribute stamped on bridged bus
// events.
const EventType = "com.luxfi.ipc.event"

// ToCloudEvent wraps a bus event as a CloudEvent for handoff into
// broker ecosystems that speak the CloudEvents envelope. source names
// the producing endpoint; the bus method rides in the subject
// attribute and the params become the JSON data payload.
func ToCloudEvent(source, method string, params json.RawMessage) (cloudevents.Event, error) {
	ev := cloudevents.NewEvent()
	if method == "" {
		return ev, fmt.Errorf("ipc: cloudevent: empty method")
	}
	ev.SetID(uuid.NewString())
	ev.SetSource(source)
	ev.SetType(EventType)
	ev.SetSubject(method)
	ev.SetTime(time.Now().UTC())
	if len(params) > 0 {
		if err := ev.SetData(cloudevents.ApplicationJSON, []byte(params)); err != nil {
			return ev, fmt.Errorf("ipc: cloudevent data for %s: %w", method, err)
		}
	}
	return ev, nil
}

// FromCloudEvent recovers the bus event carried by a CloudEvent built
// with ToCloudEvent. Feed the result to Engine.Emit, or wrap it in an
// event envelope for Dispatch.
func FromCloudEvent(ev cloudevents.Event) (method string, params json.RawMessage, err error) {
	if t := ev.Type(); t != EventType {
		return "", nil, fmt.Errorf("ipc: cloudevent type %q, want %q", t, EventType)
	}
	method = ev.Subject()
	if method == "" {
		return "", nil, fmt.Errorf("ipc: cloudevent without subject")
	}
	if data := ev.Data(); len(data) > 0 {
		params = json.RawMessage(data)
	}
	return method, params, nil
}
