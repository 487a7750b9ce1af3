// Package apperr defines the error taxonomy shared by the ledger services.
//
// Every error a service returns on purpose is an *Error carrying a Kind.
// Callers test for a kind with errors.Is against the exported sentinels:
//
//	if errors.Is(err, apperr.ErrPaymentExceedsBalance) { ... }
package apperr

import (
	"errors"
	"fmt"
)

// Kind classifies an error for propagation and HTTP mapping.
type Kind string

const (
	KindValidation            Kind = "ValidationError"
	KindInvalidState          Kind = "InvalidState"
	KindInvalidTransition     Kind = "InvalidTransition"
	KindResourceUnavailable   Kind = "ResourceUnavailable"
	KindResourceInUse         Kind = "ResourceInUse"
	KindPaymentExceedsBalance Kind = "PaymentExceedsBalance"
	KindHasPayments           Kind = "HasPayments"
	KindNotFound              Kind = "NotFound"
	KindTransactionFailure    Kind = "TransactionFailure"
)

// Sentinels for errors.Is. Their only meaningful content is the kind.
var (
	ErrValidation            = &Error{Kind: KindValidation}
	ErrInvalidState          = &Error{Kind: KindInvalidState}
	ErrInvalidTransition     = &Error{Kind: KindInvalidTransition}
	ErrResourceUnavailable   = &Error{Kind: KindResourceUnavailable}
	ErrResourceInUse         = &Error{Kind: KindResourceInUse}
	ErrPaymentExceedsBalance = &Error{Kind: KindPaymentExceedsBalance}
	ErrHasPayments           = &Error{Kind: KindHasPayments}
	ErrNotFound              = &Error{Kind: KindNotFound}
	ErrTransactionFailure    = &Error{Kind: KindTransactionFailure}
)

// Error is a classified ledger error.
type Error struct {
	Kind    Kind
	Field   string
	Message string
	Err     error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = string(e.Kind)
	}
	if e.Field != "" {
		msg = e.Field + ": " + msg
	}
	if e.Err != nil {
		return msg + ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error with the same kind, so sentinels compare by kind only.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// Validation reports malformed or missing input on field.
func Validation(field, format string, args ...interface{}) *Error {
	return &Error{Kind: KindValidation, Field: field, Message: fmt.Sprintf(format, args...)}
}

func InvalidState(format string, args ...interface{}) *Error {
	return &Error{Kind: KindInvalidState, Message: fmt.Sprintf(format, args...)}
}

func InvalidTransition(from, action string) *Error {
	return &Error{Kind: KindInvalidTransition, Message: fmt.Sprintf("cannot %s from status %q", action, from)}
}

func ResourceUnavailable(format string, args ...interface{}) *Error {
	return &Error{Kind: KindResourceUnavailable, Message: fmt.Sprintf(format, args...)}
}

func ResourceInUse(format string, args ...interface{}) *Error {
	return &Error{Kind: KindResourceInUse, Message: fmt.Sprintf(format, args...)}
}

func PaymentExceedsBalance(format string, args ...interface{}) *Error {
	return &Error{Kind: KindPaymentExceedsBalance, Message: fmt.Sprintf(format, args...)}
}

func HasPayments(format string, args ...interface{}) *Error {
	return &Error{Kind: KindHasPayments, Message: fmt.Sprintf(format, args...)}
}

func NotFound(what string) *Error {
	return &Error{Kind: KindNotFound, Message: what + " not found"}
}

// TransactionFailure wraps an unexpected storage error. The cause is kept for
// logging; Message is what callers may show.
func TransactionFailure(err error) *Error {
	return &Error{Kind: KindTransactionFailure, Message: "transaction failed", Err: err}
}

// KindOf returns the kind of err, or "" when err is not classified.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// IsDomain reports whether err was raised deliberately by a service, as
// opposed to an unexpected failure.
func IsDomain(err error) bool {
	k := KindOf(err)
	return k != "" && k != KindTransactionFailure
}
