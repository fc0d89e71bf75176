package errors

// ErrorCategory groups error codes by retry semantics.
type ErrorCategory string

const (
	// CategoryTransient: a fresh attempt may succeed. A busy receiver, a
	// response timeout.
	CategoryTransient ErrorCategory = "transient"

	// CategoryPermanent: retrying cannot help. Unknown module, malformed
	// envelope, illegal status transition.
	CategoryPermanent ErrorCategory = "permanent"

	// CategoryResource: backpressure and exhaustion. A full inbox shedding
	// low-priority envelopes, a sender over its rate budget.
	CategoryResource ErrorCategory = "resource"

	// CategoryInternal: bugs and invariant violations.
	CategoryInternal ErrorCategory = "internal"
)

func (c ErrorCategory) String() string { return string(c) }

// IsRetryable reports whether the category allows a fresh attempt.
func (c ErrorCategory) IsRetryable() bool {
	return c == CategoryTransient || c == CategoryResource
}

// ErrorCode names one specific coordination failure.
type ErrorCode string

// Error codes for ecosystem coordination failures.
const (
	// Registry errors
	ErrCodeDuplicateRegistration ErrorCode = "DUPLICATE_REGISTRATION" // Module ID already registered and active
	ErrCodeUnknownModule         ErrorCode = "UNKNOWN_MODULE"         // Module not registered
	ErrCodeInvalidTransition     ErrorCode = "INVALID_TRANSITION"     // Status change rejected by the state machine
	ErrCodeInitialization        ErrorCode = "INITIALIZATION_ERROR"   // Module failed to initialize; registration rolled back

	// Bus errors
	ErrCodeUnreachableReceiver ErrorCode = "UNREACHABLE_RECEIVER" // Receiver not found or offline
	ErrCodeNoCapableModule     ErrorCode = "NO_CAPABLE_MODULE"    // No ready module declares the capability
	ErrCodeMalformedEnvelope   ErrorCode = "MALFORMED_ENVELOPE"   // Envelope failed decoding or validation
	ErrCodeTimeout             ErrorCode = "TIMEOUT"              // Pending response expired
	ErrCodeInboxFull           ErrorCode = "INBOX_FULL"           // Envelope shed by backpressure
	ErrCodeRateLimited         ErrorCode = "RATE_LIMITED"         // Sender exceeded its envelope rate
	ErrCodeCanceled            ErrorCode = "CANCELED"             // Sender canceled a pending wait

	// Internal errors
	ErrCodeInvalidInput ErrorCode = "INVALID_INPUT" // Malformed caller input
	ErrCodeClosed       ErrorCode = "CLOSED"        // Component already shut down
	ErrCodeInternal     ErrorCode = "INTERNAL"      // Unexpected internal error
	ErrCodePanic        ErrorCode = "PANIC"         // Recovered from a handler panic
)

func (c ErrorCode) String() string { return string(c) }

// DefaultCategory maps a code to its category. Unknown codes land in
// CategoryInternal.
func (c ErrorCode) DefaultCategory() ErrorCategory {
	switch c {
	case ErrCodeTimeout, ErrCodeUnreachableReceiver, ErrCodeNoCapableModule:
		return CategoryTransient

	case ErrCodeDuplicateRegistration, ErrCodeUnknownModule, ErrCodeInvalidTransition,
		ErrCodeInitialization, ErrCodeMalformedEnvelope, ErrCodeCanceled, ErrCodeClosed,
		ErrCodeInvalidInput:
		return CategoryPermanent

	case ErrCodeInboxFull, ErrCodeRateLimited:
		return CategoryResource

	case ErrCodeInternal, ErrCodePanic:
		return CategoryInternal

	default:
		return CategoryInternal
	}
}

// DefaultRetryable is the category's retry default for this code.
func (c ErrorCode) DefaultRetryable() bool {
	return c.DefaultCategory().IsRetryable()
}

var codeDescriptions = map[ErrorCode]string{
	ErrCodeDuplicateRegistration: "module already registered",
	ErrCodeUnknownModule:         "module not registered",
	ErrCodeInvalidTransition:     "status transition not permitted",
	ErrCodeInitialization:        "module initialization failed",
	ErrCodeUnreachableReceiver:   "receiver not found or offline",
	ErrCodeNoCapableModule:       "no module declares the capability",
	ErrCodeMalformedEnvelope:     "envelope failed decoding or validation",
	ErrCodeTimeout:               "response not received in time",
	ErrCodeInboxFull:             "inbox full, envelope shed",
	ErrCodeRateLimited:           "envelope rate exceeded",
	ErrCodeCanceled:              "pending wait canceled",
	ErrCodeInvalidInput:          "invalid input provided",
	ErrCodeClosed:                "component closed",
	ErrCodeInternal:              "internal error",
	ErrCodePanic:                 "recovered from panic",
}

// Description returns a short human-readable summary of the code.
func (c ErrorCode) Description() string {
	if d, ok := codeDescriptions[c]; ok {
		return d
	}
	return "unknown error"
}
