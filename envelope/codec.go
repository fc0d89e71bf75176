package envelope

import (
	"encoding/json"
	"time"

	"github.com/evolveworks/aiekit/errors"
)

// Wire form: the envelope's field set as UTF-8 JSON with RFC 3339 timestamps.
// Decoding failures surface as MALFORMED_ENVELOPE and are never delivered.

// wireEnvelope pins the timestamp encoding independently of time.Time's
// default marshaling precision.
type wireEnvelope struct {
	ID               string                 `json:"id"`
	SenderID         string                 `json:"sender_id"`
	ReceiverID       string                 `json:"receiver_id,omitempty"`
	Kind             string                 `json:"kind"`
	CreatedAt        string                 `json:"created_at"`
	Payload          map[string]interface{} `json:"payload,omitempty"`
	Metadata         map[string]interface{} `json:"metadata,omitempty"`
	Priority         int                    `json:"priority"`
	RequiresResponse bool                   `json:"requires_response"`
	ResponseTo       string                 `json:"response_to,omitempty"`
}

// Marshal serializes the envelope for cross-process transport.
func Marshal(e *Envelope) ([]byte, error) {
	if err := e.Validate(); err != nil {
		return nil, err
	}
	w := wireEnvelope{
		ID:               e.ID,
		SenderID:         e.SenderID,
		ReceiverID:       e.ReceiverID,
		Kind:             string(e.Kind),
		CreatedAt:        e.CreatedAt.UTC().Format(time.RFC3339Nano),
		Payload:          e.Payload,
		Metadata:         e.Metadata,
		Priority:         e.Priority,
		RequiresResponse: e.RequiresResponse,
		ResponseTo:       e.ResponseTo,
	}
	data, err := json.Marshal(w)
	if err != nil {
		return nil, errors.MalformedEnvelope("serializing envelope", errors.WithEnvelopeID(e.ID), errors.WithCause(err))
	}
	return data, nil
}

// Unmarshal decodes an envelope from its wire form.
// Malformed JSON, an unknown kind, or missing required fields fail with
// MALFORMED_ENVELOPE.
func Unmarshal(data []byte) (*Envelope, error) {
	var w wireEnvelope
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, errors.MalformedEnvelope("decoding envelope", errors.WithCause(err))
	}

	createdAt := time.Time{}
	if w.CreatedAt != "" {
		t, err := time.Parse(time.RFC3339Nano, w.CreatedAt)
		if err != nil {
			return nil, errors.MalformedEnvelope("invalid created_at timestamp", errors.WithEnvelopeID(w.ID), errors.WithCause(err))
		}
		createdAt = t
	}

	e := &Envelope{
		ID:               w.ID,
		SenderID:         w.SenderID,
		ReceiverID:       w.ReceiverID,
		Kind:             Kind(w.Kind),
		CreatedAt:        createdAt,
		Payload:          w.Payload,
		Metadata:         w.Metadata,
		Priority:         w.Priority,
		RequiresResponse: w.RequiresResponse,
		ResponseTo:       w.ResponseTo,
	}
	if e.Priority == 0 {
		e.Priority = DefaultPriority
	}
	if err := e.Validate(); err != nil {
		return nil, err
	}
	return e, nil
}
