package api

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/tupski/wa-monitor/internal/bus"
)

// Envelope is the wire form of a bus event, shared by the gRPC event stream
// and the websocket hub.
type Envelope struct {
	ID         string          `json:"id"`
	Session    string          `json:"session"`
	Kind       string          `json:"kind"`
	OccurredAt int64           `json:"occurredAt"`
	Payload    json.RawMessage `json:"payload,omitempty"`
}

// NewEnvelope wraps evt for delivery outside the process.
func NewEnvelope(session string, evt bus.Event) (*Envelope, error) {
	env := &Envelope{
		ID:         uuid.New().String(),
		Session:    session,
		Kind:       evt.Kind,
		OccurredAt: evt.Timestamp.UnixMilli(),
	}
	if evt.Payload != nil {
		payload, err := json.Marshal(evt.Payload)
		if err != nil {
			return nil, fmt.Errorf("marshal %s payload: %w", evt.Kind, err)
		}
		env.Payload = payload
	}
	return env, nil
}

// Decode unmarshals the payload into v.
func (e *Envelope) Decode(v any) error {
	if len(e.Payload) == 0 {
		return nil
	}
	return json.Unmarshal(e.Payload, v)
}
