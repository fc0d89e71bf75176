package errors

import (
	"encoding/json"
	"fmt"
	"time"
)

// EcosystemError is what every structured aiekit failure exposes beyond the
// plain error interface: enough context for routing decisions and feedback
// attribution.
type EcosystemError interface {
	error

	// Code identifies the failure type.
	Code() ErrorCode

	// Category groups codes for retry and handling decisions.
	Category() ErrorCategory

	// Retryable reports whether a fresh attempt may succeed.
	// A bus retry is always a new envelope, never the same one resubmitted.
	Retryable() bool

	// Metadata carries extra context as key-value pairs.
	Metadata() map[string]string

	// Unwrap exposes the underlying error, if any.
	Unwrap() error
}

// Error is the concrete implementation of EcosystemError.
type Error struct {
	code       ErrorCode
	category   ErrorCategory
	message    string
	cause      error
	metadata   map[string]string
	retryable  *bool // nil means use default based on category
	timestamp  time.Time
	moduleID   string // module the failure is attributed to, if applicable
	envelopeID string // envelope involved, if applicable
}

var (
	_ EcosystemError   = (*Error)(nil)
	_ json.Marshaler   = (*Error)(nil)
	_ json.Unmarshaler = (*Error)(nil)
)

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.message, e.cause)
	}
	return e.message
}

func (e *Error) Code() ErrorCode         { return e.code }
func (e *Error) Category() ErrorCategory { return e.category }
func (e *Error) Unwrap() error           { return e.cause }

// Retryable falls back to the category default unless explicitly set.
func (e *Error) Retryable() bool {
	if e.retryable != nil {
		return *e.retryable
	}
	return e.category.IsRetryable()
}

// Metadata returns a copy; mutating it does not affect the error.
func (e *Error) Metadata() map[string]string {
	out := make(map[string]string, len(e.metadata))
	for k, v := range e.metadata {
		out[k] = v
	}
	return out
}

// Timestamp is when the error was created.
func (e *Error) Timestamp() time.Time { return e.timestamp }

// ModuleID is the module the failure is attributed to, if set.
func (e *Error) ModuleID() string { return e.moduleID }

// EnvelopeID is the envelope involved, if set.
func (e *Error) EnvelopeID() string { return e.envelopeID }

// errorJSON is the wire form of an Error.
type errorJSON struct {
	Code       ErrorCode         `json:"code"`
	Category   ErrorCategory     `json:"category"`
	Message    string            `json:"message"`
	Cause      string            `json:"cause,omitempty"`
	Metadata   map[string]string `json:"metadata,omitempty"`
	Retryable  bool              `json:"retryable"`
	Timestamp  string            `json:"timestamp,omitempty"`
	ModuleID   string            `json:"module_id,omitempty"`
	EnvelopeID string            `json:"envelope_id,omitempty"`
}

// MarshalJSON flattens the error for transport. The cause survives only as
// its message string.
func (e *Error) MarshalJSON() ([]byte, error) {
	j := errorJSON{
		Code:       e.code,
		Category:   e.category,
		Message:    e.message,
		Metadata:   e.metadata,
		Retryable:  e.Retryable(),
		ModuleID:   e.moduleID,
		EnvelopeID: e.envelopeID,
	}
	if e.cause != nil {
		j.Cause = e.cause.Error()
	}
	if !e.timestamp.IsZero() {
		j.Timestamp = e.timestamp.Format(time.RFC3339Nano)
	}
	return json.Marshal(j)
}

// UnmarshalJSON restores an error from its wire form. The decoded retryable
// flag is pinned so it survives category recomputation.
func (e *Error) UnmarshalJSON(data []byte) error {
	var j errorJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return err
	}
	e.code = j.Code
	e.category = j.Category
	e.message = j.Message
	e.metadata = j.Metadata
	e.moduleID = j.ModuleID
	e.envelopeID = j.EnvelopeID
	r := j.Retryable
	e.retryable = &r
	if j.Cause != "" {
		e.cause = fmt.Errorf("%s", j.Cause)
	}
	if j.Timestamp != "" {
		if t, err := time.Parse(time.RFC3339Nano, j.Timestamp); err == nil {
			e.timestamp = t
		}
	}
	return nil
}

// Option tweaks an Error under construction.
type Option func(*Error)

// WithCategory overrides the code's default category.
func WithCategory(cat ErrorCategory) Option {
	return func(e *Error) { e.category = cat }
}

// WithRetryable pins the retryable flag regardless of category.
func WithRetryable(retryable bool) Option {
	return func(e *Error) { e.retryable = &retryable }
}

// WithMetadata attaches one key-value pair of context.
func WithMetadata(key, value string) Option {
	return func(e *Error) {
		if e.metadata == nil {
			e.metadata = make(map[string]string)
		}
		e.metadata[key] = value
	}
}

// WithModuleID attributes the failure to a module.
func WithModuleID(id string) Option {
	return func(e *Error) { e.moduleID = id }
}

// WithEnvelopeID names the envelope involved.
func WithEnvelopeID(id string) Option {
	return func(e *Error) { e.envelopeID = id }
}

// WithCause records the underlying error.
func WithCause(cause error) Option {
	return func(e *Error) { e.cause = cause }
}

// New creates an Error with the given code and message.
func New(code ErrorCode, message string, opts ...Option) *Error {
	e := &Error{
		code:      code,
		category:  code.DefaultCategory(),
		message:   message,
		timestamp: time.Now(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Newf creates a new Error with a formatted message.
func Newf(code ErrorCode, format string, args ...interface{}) *Error {
	return New(code, fmt.Sprintf(format, args...))
}

// FromCode creates an error with the default description for the code.
func FromCode(code ErrorCode, opts ...Option) *Error {
	return New(code, code.Description(), opts...)
}

// DuplicateRegistration creates a duplicate registration error.
func DuplicateRegistration(moduleID string, opts ...Option) *Error {
	opts = append([]Option{WithModuleID(moduleID)}, opts...)
	return New(ErrCodeDuplicateRegistration, fmt.Sprintf("module %s is already registered", moduleID), opts...)
}

// UnknownModule creates an unknown module error.
func UnknownModule(moduleID string, opts ...Option) *Error {
	opts = append([]Option{WithModuleID(moduleID)}, opts...)
	return New(ErrCodeUnknownModule, fmt.Sprintf("module %s is not registered", moduleID), opts...)
}

// InvalidTransition creates an invalid status transition error.
func InvalidTransition(moduleID, from, to string, opts ...Option) *Error {
	opts = append([]Option{WithModuleID(moduleID), WithMetadata("from", from), WithMetadata("to", to)}, opts...)
	return New(ErrCodeInvalidTransition, fmt.Sprintf("module %s cannot transition %s -> %s", moduleID, from, to), opts...)
}

// UnreachableReceiver creates an unreachable receiver error.
func UnreachableReceiver(moduleID string, opts ...Option) *Error {
	opts = append([]Option{WithModuleID(moduleID)}, opts...)
	return New(ErrCodeUnreachableReceiver, fmt.Sprintf("receiver %s is unreachable", moduleID), opts...)
}

// NoCapableModule creates an error for an unroutable capability.
func NoCapableModule(capability string, opts ...Option) *Error {
	opts = append([]Option{WithMetadata("capability", capability)}, opts...)
	return New(ErrCodeNoCapableModule, fmt.Sprintf("no module provides capability %q", capability), opts...)
}

// MalformedEnvelope creates a malformed envelope error.
func MalformedEnvelope(message string, opts ...Option) *Error {
	return New(ErrCodeMalformedEnvelope, message, opts...)
}

// Timeout creates a timeout error.
func Timeout(message string, opts ...Option) *Error {
	return New(ErrCodeTimeout, message, opts...)
}

// Initialization creates a module initialization error.
func Initialization(moduleID string, cause error, opts ...Option) *Error {
	opts = append([]Option{WithModuleID(moduleID), WithCause(cause)}, opts...)
	return New(ErrCodeInitialization, fmt.Sprintf("module %s failed to initialize", moduleID), opts...)
}

// Internal creates an internal error.
func Internal(message string, opts ...Option) *Error {
	return New(ErrCodeInternal, message, opts...)
}
