package errors

import (
	"context"
	"errors"
	"fmt"
)

// find walks the chain for the first *Error, or nil.
func find(err error) *Error {
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return nil
}

// Wrap adds context to an error without losing the chain. A nil err yields
// nil. Wrapping an *Error keeps its code, category, retryability, and
// identifiers; wrapping a plain error classifies it: context deadline becomes
// TIMEOUT, context cancellation becomes CANCELED, anything else INTERNAL_ERROR.
func Wrap(err error, message string, opts ...Option) *Error {
	if err == nil {
		return nil
	}

	if inner := find(err); inner != nil {
		wrapped := &Error{
			code:       inner.code,
			category:   inner.category,
			message:    message,
			cause:      err,
			metadata:   inner.Metadata(),
			retryable:  inner.retryable,
			moduleID:   inner.moduleID,
			envelopeID: inner.envelopeID,
		}
		for _, opt := range opts {
			opt(wrapped)
		}
		return wrapped
	}

	code := ErrCodeInternal
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		code = ErrCodeTimeout
	case errors.Is(err, context.Canceled):
		code = ErrCodeCanceled
	}
	return New(code, message, append(opts, WithCause(err))...)
}

// Wrapf is Wrap with a formatted message.
func Wrapf(err error, format string, args ...interface{}) *Error {
	return Wrap(err, fmt.Sprintf(format, args...))
}

// WrapWithCode wraps err under an explicit code, overriding any code it
// already carries.
func WrapWithCode(err error, code ErrorCode, message string, opts ...Option) *Error {
	if err == nil {
		return nil
	}
	return New(code, message, append(opts, WithCause(err))...)
}

// AsEcosystemError extracts an EcosystemError from the chain, or nil.
func AsEcosystemError(err error) EcosystemError {
	if e := find(err); e != nil {
		return e
	}
	return nil
}

// Is reports whether the chain carries the given code.
func Is(err error, code ErrorCode) bool {
	e := find(err)
	return e != nil && e.code == code
}

// IsCategory reports whether the chain carries the given category.
func IsCategory(err error, category ErrorCategory) bool {
	e := find(err)
	return e != nil && e.category == category
}

// IsRetryable reports whether a retry might succeed. Plain errors are
// treated as permanent.
func IsRetryable(err error) bool {
	e := find(err)
	return e != nil && e.Retryable()
}

// Code returns the chain's code, or "" for plain errors.
func Code(err error) ErrorCode {
	if e := find(err); e != nil {
		return e.code
	}
	return ""
}

// Category returns the chain's category, or "" for plain errors.
func Category(err error) ErrorCategory {
	if e := find(err); e != nil {
		return e.category
	}
	return ""
}

// Cause unwraps to the innermost error.
func Cause(err error) error {
	for {
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return err
		}
		inner := u.Unwrap()
		if inner == nil {
			return err
		}
		err = inner
	}
}

// Join combines errors the stdlib way.
func Join(errs ...error) error {
	return errors.Join(errs...)
}

// RecoverPanic converts a recovered panic value into a PANIC error. The bus
// uses this so a misbehaving handler never halts routing for others.
func RecoverPanic(recovered interface{}) *Error {
	if recovered == nil {
		return nil
	}
	var message string
	switch v := recovered.(type) {
	case error:
		message = v.Error()
	case string:
		message = v
	default:
		message = fmt.Sprintf("%v", v)
	}
	return New(ErrCodePanic, message, WithMetadata("panic_value", fmt.Sprintf("%T", recovered)))
}
