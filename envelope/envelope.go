// Package envelope defines the immutable unit of inter-module communication.
//
// An Envelope carries routing and correlation metadata around an opaque
// payload. Envelopes are created once and never mutated; a correction or a
// retry is always a new envelope referencing the original via metadata.
package envelope

import (
	"time"

	"github.com/google/uuid"

	"github.com/evolveworks/aiekit/errors"
)

// Kind identifies the communication pattern an envelope participates in.
type Kind string

const (
	KindQuery              Kind = "query"
	KindResponse           Kind = "response"
	KindCommand            Kind = "command"
	KindStatusUpdate       Kind = "status_update"
	KindCapabilityAnnounce Kind = "capability_announce"
	KindError              Kind = "error"
	KindFeedback           Kind = "feedback"
	KindLearningUpdate     Kind = "learning_update"
)

// Valid returns true if the kind is a known value.
func (k Kind) Valid() bool {
	switch k {
	case KindQuery, KindResponse, KindCommand, KindStatusUpdate,
		KindCapabilityAnnounce, KindError, KindFeedback, KindLearningUpdate:
		return true
	default:
		return false
	}
}

// FansOut returns true if capability routing should deliver to every
// matching module rather than the single top-ranked one.
func (k Kind) FansOut() bool {
	switch k {
	case KindStatusUpdate, KindCapabilityAnnounce, KindLearningUpdate:
		return true
	default:
		return false
	}
}

// IsReply returns true for kinds allowed to answer another envelope.
func (k Kind) IsReply() bool {
	return k == KindResponse || k == KindError
}

// Priority bounds. Deliveries at the same priority keep arrival order.
const (
	MinPriority     = 1
	MaxPriority     = 10
	DefaultPriority = 5
)

// CapabilityKey is the payload key a capability-routed envelope must carry
// when no receiver is named.
const CapabilityKey = "capability"

// Envelope is the universal message format for inter-module communication.
// Treat values as immutable once constructed; accessor methods return copies
// of the map fields.
type Envelope struct {
	ID               string                 `json:"id"`
	SenderID         string                 `json:"sender_id"`
	ReceiverID       string                 `json:"receiver_id,omitempty"`
	Kind             Kind                   `json:"kind"`
	CreatedAt        time.Time              `json:"created_at"`
	Payload          map[string]interface{} `json:"payload,omitempty"`
	Metadata         map[string]interface{} `json:"metadata,omitempty"`
	Priority         int                    `json:"priority"`
	RequiresResponse bool                   `json:"requires_response"`
	ResponseTo       string                 `json:"response_to,omitempty"`
}

// Option is a functional option for constructing an Envelope.
type Option func(*Envelope)

// WithReceiver addresses the envelope directly to a module.
func WithReceiver(id string) Option {
	return func(e *Envelope) {
		e.ReceiverID = id
	}
}

// WithCapability addresses the envelope by capability tag instead of a
// receiver. The tag is stored under CapabilityKey in the payload.
func WithCapability(tag string) Option {
	return func(e *Envelope) {
		if e.Payload == nil {
			e.Payload = make(map[string]interface{})
		}
		e.Payload[CapabilityKey] = tag
	}
}

// WithPayload sets a payload entry.
func WithPayload(key string, value interface{}) Option {
	return func(e *Envelope) {
		if e.Payload == nil {
			e.Payload = make(map[string]interface{})
		}
		e.Payload[key] = value
	}
}

// WithMetadata sets a metadata entry. The bus never interprets metadata.
func WithMetadata(key string, value interface{}) Option {
	return func(e *Envelope) {
		if e.Metadata == nil {
			e.Metadata = make(map[string]interface{})
		}
		e.Metadata[key] = value
	}
}

// WithPriority sets the priority, clamped to [MinPriority, MaxPriority].
func WithPriority(p int) Option {
	return func(e *Envelope) {
		if p < MinPriority {
			p = MinPriority
		}
		if p > MaxPriority {
			p = MaxPriority
		}
		e.Priority = p
	}
}

// Expecting marks the envelope as requiring a response.
func Expecting() Option {
	return func(e *Envelope) {
		e.RequiresResponse = true
	}
}

// New creates an envelope with a generated ID and UTC creation time.
func New(senderID string, kind Kind, opts ...Option) *Envelope {
	e := &Envelope{
		ID:        uuid.NewString(),
		SenderID:  senderID,
		Kind:      kind,
		CreatedAt: time.Now().UTC(),
		Priority:  DefaultPriority,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// NewResponse creates a response envelope answering orig.
// A response never itself demands a response.
func NewResponse(orig *Envelope, senderID string, payload map[string]interface{}) *Envelope {
	e := New(senderID, KindResponse, WithReceiver(orig.SenderID), WithPriority(orig.Priority))
	e.ResponseTo = orig.ID
	for k, v := range payload {
		if e.Payload == nil {
			e.Payload = make(map[string]interface{}, len(payload))
		}
		e.Payload[k] = v
	}
	return e
}

// NewErrorResponse creates an error envelope answering orig, carrying the
// structured failure in the payload.
func NewErrorResponse(orig *Envelope, senderID string, cause *errors.Error) *Envelope {
	e := New(senderID, KindError, WithReceiver(orig.SenderID), WithPriority(orig.Priority))
	e.ResponseTo = orig.ID
	e.Payload = map[string]interface{}{
		"code":    string(cause.Code()),
		"message": cause.Error(),
	}
	return e
}

// Validate checks the envelope against the correlation invariants.
func (e *Envelope) Validate() error {
	if e.ID == "" {
		return errors.MalformedEnvelope("envelope has no id")
	}
	if e.SenderID == "" {
		return errors.MalformedEnvelope("envelope has no sender", errors.WithEnvelopeID(e.ID))
	}
	if !e.Kind.Valid() {
		return errors.MalformedEnvelope("unknown kind "+string(e.Kind), errors.WithEnvelopeID(e.ID))
	}
	if e.Priority < MinPriority || e.Priority > MaxPriority {
		return errors.MalformedEnvelope("priority out of range", errors.WithEnvelopeID(e.ID))
	}
	if e.ResponseTo != "" {
		// A response does not itself demand a response.
		if e.RequiresResponse {
			return errors.MalformedEnvelope("response envelope demands a response", errors.WithEnvelopeID(e.ID))
		}
		if !e.Kind.IsReply() {
			return errors.MalformedEnvelope("response_to set on non-reply kind "+string(e.Kind), errors.WithEnvelopeID(e.ID))
		}
	}
	return nil
}

// Capability returns the capability tag from the payload, if declared.
func (e *Envelope) Capability() (string, bool) {
	if e.Payload == nil {
		return "", false
	}
	tag, ok := e.Payload[CapabilityKey].(string)
	if !ok || tag == "" {
		return "", false
	}
	return tag, true
}

// PayloadCopy returns a shallow copy of the payload.
func (e *Envelope) PayloadCopy() map[string]interface{} {
	if e.Payload == nil {
		return nil
	}
	out := make(map[string]interface{}, len(e.Payload))
	for k, v := range e.Payload {
		out[k] = v
	}
	return out
}

// MetadataCopy returns a shallow copy of the metadata.
func (e *Envelope) MetadataCopy() map[string]interface{} {
	if e.Metadata == nil {
		return nil
	}
	out := make(map[string]interface{}, len(e.Metadata))
	for k, v := range e.Metadata {
		out[k] = v
	}
	return out
}
