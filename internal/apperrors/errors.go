// Package apperrors is the error taxonomy surfaced to API callers. Services
// translate ledger and provider failures into *Error values; handlers map the
// Kind to an HTTP status. Match with errors.As or KindOf.
package apperrors

import (
	"errors"
	"fmt"
)

type Kind string

const (
	KindValidation         Kind = "validation_error"
	KindJobDenied          Kind = "job_denied"
	KindInsufficientCredit Kind = "insufficient_credit"
	KindStoreUnavailable   Kind = "store_unavailable"
	KindProviderTimeout    Kind = "provider_timeout"
	KindInternal           Kind = "internal_error"
)

// Denial reasons. The client needs these to tell "upgrade" from "retry".
const (
	ReasonTrialNotClaimed = "trial_not_claimed"
	ReasonTrialUsed       = "trial_used"
	ReasonJobInProgress   = "job_in_progress"
	ReasonLockUnavailable = "lock_unavailable"
	ReasonLeaseLost       = "lease_lost"
)

type Error struct {
	Kind    Kind
	Reason  string
	Message string
	Err     error
}

func (e *Error) Error() string {
	msg := string(e.Kind)
	if e.Reason != "" {
		msg += " (" + e.Reason + ")"
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Retryable reports whether the same request may succeed later unchanged.
func (e *Error) Retryable() bool {
	switch e.Kind {
	case KindStoreUnavailable, KindProviderTimeout:
		return true
	case KindJobDenied:
		return e.Reason == ReasonJobInProgress || e.Reason == ReasonLockUnavailable || e.Reason == ReasonLeaseLost
	}
	return false
}

func Validation(format string, args ...any) *Error {
	return &Error{Kind: KindValidation, Message: fmt.Sprintf(format, args...)}
}

func Denied(reason, message string) *Error {
	return &Error{Kind: KindJobDenied, Reason: reason, Message: message}
}

func InsufficientCredit(message string) *Error {
	return &Error{Kind: KindInsufficientCredit, Message: message}
}

func StoreUnavailable(err error) *Error {
	return &Error{Kind: KindStoreUnavailable, Message: "credit ledger unavailable, try again", Err: err}
}

func ProviderTimeout(err error) *Error {
	return &Error{Kind: KindProviderTimeout, Message: "image provider timed out, try again", Err: err}
}

func Internal(err error) *Error {
	return &Error{Kind: KindInternal, Message: "unexpected error", Err: err}
}

// As returns the *Error in err's chain, or an internal error wrapping err.
func As(err error) *Error {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr
	}
	return Internal(err)
}

func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	return As(err).Kind
}

func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}
