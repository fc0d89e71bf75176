package errors

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
)

// --- Unit Tests ---

func TestNew(t *testing.T) {
	err := New(ErrCodeTimeout, "response not received")

	if err.Code() != ErrCodeTimeout {
		t.Errorf("Code = %v, want %v", err.Code(), ErrCodeTimeout)
	}
	if err.Category() != CategoryTransient {
		t.Errorf("Category = %v, want %v", err.Category(), CategoryTransient)
	}
	if !err.Retryable() {
		t.Error("timeout should be retryable by default")
	}
	if err.Timestamp().IsZero() {
		t.Error("Timestamp should be set")
	}
}

func TestDefaultCategories(t *testing.T) {
	tests := []struct {
		code ErrorCode
		want ErrorCategory
	}{
		{ErrCodeTimeout, CategoryTransient},
		{ErrCodeUnreachableReceiver, CategoryTransient},
		{ErrCodeNoCapableModule, CategoryTransient},
		{ErrCodeDuplicateRegistration, CategoryPermanent},
		{ErrCodeUnknownModule, CategoryPermanent},
		{ErrCodeInvalidTransition, CategoryPermanent},
		{ErrCodeMalformedEnvelope, CategoryPermanent},
		{ErrCodeInitialization, CategoryPermanent},
		{ErrCodeInboxFull, CategoryResource},
		{ErrCodeInternal, CategoryInternal},
		{ErrCodePanic, CategoryInternal},
		{ErrorCode("BOGUS"), CategoryInternal},
	}

	for _, tt := range tests {
		t.Run(string(tt.code), func(t *testing.T) {
			if got := tt.code.DefaultCategory(); got != tt.want {
				t.Errorf("DefaultCategory(%s) = %v, want %v", tt.code, got, tt.want)
			}
		})
	}
}

func TestRetryableOverride(t *testing.T) {
	err := New(ErrCodeTimeout, "no retries for this one", WithRetryable(false))
	if err.Retryable() {
		t.Error("explicit override should win over category default")
	}
}

func TestConstructors(t *testing.T) {
	err := UnknownModule("mod-1")
	if err.Code() != ErrCodeUnknownModule {
		t.Errorf("Code = %v, want %v", err.Code(), ErrCodeUnknownModule)
	}
	if err.ModuleID() != "mod-1" {
		t.Errorf("ModuleID = %q, want %q", err.ModuleID(), "mod-1")
	}

	tr := InvalidTransition("mod-1", "offline", "ready")
	if tr.Metadata()["from"] != "offline" || tr.Metadata()["to"] != "ready" {
		t.Errorf("transition metadata = %v", tr.Metadata())
	}

	nc := NoCapableModule("translate")
	if nc.Metadata()["capability"] != "translate" {
		t.Errorf("capability metadata = %v", nc.Metadata())
	}

	init := Initialization("mod-2", fmt.Errorf("boom"))
	if init.Unwrap() == nil {
		t.Error("Initialization should carry its cause")
	}
}

func TestErrorMessage(t *testing.T) {
	plain := New(ErrCodeInternal, "something broke")
	if plain.Error() != "something broke" {
		t.Errorf("Error() = %q", plain.Error())
	}

	caused := New(ErrCodeInternal, "outer", WithCause(fmt.Errorf("inner")))
	if caused.Error() != "outer: inner" {
		t.Errorf("Error() = %q", caused.Error())
	}
}

func TestMetadataCopy(t *testing.T) {
	err := New(ErrCodeInboxFull, "shed", WithMetadata("priority", "2"))

	m := err.Metadata()
	m["priority"] = "tampered"

	if err.Metadata()["priority"] != "2" {
		t.Error("Metadata() must return a copy")
	}
}

// --- Wrapping Tests ---

func TestWrapPreservesCode(t *testing.T) {
	inner := UnreachableReceiver("mod-3", WithEnvelopeID("env-1"))
	wrapped := Wrap(inner, "direct send failed")

	if wrapped.Code() != ErrCodeUnreachableReceiver {
		t.Errorf("Code = %v, want %v", wrapped.Code(), ErrCodeUnreachableReceiver)
	}
	if wrapped.ModuleID() != "mod-3" {
		t.Errorf("ModuleID = %q, want mod-3", wrapped.ModuleID())
	}
	if wrapped.EnvelopeID() != "env-1" {
		t.Errorf("EnvelopeID = %q, want env-1", wrapped.EnvelopeID())
	}
	if wrapped.Unwrap() != inner {
		t.Error("Unwrap should return the inner error")
	}
}

func TestWrapContextErrors(t *testing.T) {
	if got := Wrap(context.DeadlineExceeded, "waiting").Code(); got != ErrCodeTimeout {
		t.Errorf("deadline wrap code = %v, want TIMEOUT", got)
	}
	if got := Wrap(context.Canceled, "waiting").Code(); got != ErrCodeCanceled {
		t.Errorf("cancel wrap code = %v, want CANCELED", got)
	}
}

func TestWrapNil(t *testing.T) {
	if Wrap(nil, "nothing") != nil {
		t.Error("Wrap(nil) should be nil")
	}
	if WrapWithCode(nil, ErrCodeInternal, "nothing") != nil {
		t.Error("WrapWithCode(nil) should be nil")
	}
}

func TestIsHelpers(t *testing.T) {
	err := Wrap(NoCapableModule("summarize"), "routing")

	if !Is(err, ErrCodeNoCapableModule) {
		t.Error("Is should find the code through the chain")
	}
	if Is(err, ErrCodeTimeout) {
		t.Error("Is should not match a different code")
	}
	if !IsCategory(err, CategoryTransient) {
		t.Error("IsCategory should match transient")
	}
	if !IsRetryable(err) {
		t.Error("NoCapableModule should be retryable")
	}
	if IsRetryable(fmt.Errorf("plain")) {
		t.Error("plain errors default to not retryable")
	}
	if Code(fmt.Errorf("plain")) != "" {
		t.Error("Code of plain error should be empty")
	}
}

func TestCause(t *testing.T) {
	root := fmt.Errorf("root")
	err := Wrap(WrapWithCode(root, ErrCodeInternal, "mid"), "top")

	if Cause(err) != root {
		t.Errorf("Cause = %v, want root", Cause(err))
	}
}

func TestRecoverPanic(t *testing.T) {
	if RecoverPanic(nil) != nil {
		t.Error("RecoverPanic(nil) should be nil")
	}

	err := RecoverPanic("handler blew up")
	if err.Code() != ErrCodePanic {
		t.Errorf("Code = %v, want PANIC", err.Code())
	}
	if err.Category() != CategoryInternal {
		t.Errorf("Category = %v, want internal", err.Category())
	}
}

// --- Serialization Tests ---

func TestJSONRoundTrip(t *testing.T) {
	orig := New(ErrCodeUnreachableReceiver, "receiver gone",
		WithModuleID("mod-9"),
		WithEnvelopeID("env-42"),
		WithMetadata("attempt", "1"),
		WithCause(fmt.Errorf("connection refused")),
	)

	data, err := json.Marshal(orig)
	if err != nil {
		t.Fatalf("Marshal error: %v", err)
	}

	var back Error
	if err := json.Unmarshal(data, &back); err != nil {
		t.Fatalf("Unmarshal error: %v", err)
	}

	if back.Code() != orig.Code() {
		t.Errorf("Code = %v, want %v", back.Code(), orig.Code())
	}
	if back.Category() != orig.Category() {
		t.Errorf("Category = %v, want %v", back.Category(), orig.Category())
	}
	if back.ModuleID() != "mod-9" {
		t.Errorf("ModuleID = %q", back.ModuleID())
	}
	if back.EnvelopeID() != "env-42" {
		t.Errorf("EnvelopeID = %q", back.EnvelopeID())
	}
	if back.Metadata()["attempt"] != "1" {
		t.Errorf("Metadata = %v", back.Metadata())
	}
	if back.Retryable() != orig.Retryable() {
		t.Errorf("Retryable = %v, want %v", back.Retryable(), orig.Retryable())
	}
}
