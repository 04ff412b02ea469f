// Package fault defines the structured error taxonomy shared by the ledger
// components. Callers branch on Kind and Code rather than matching error
// strings; Error() messages are human-readable and may change.
package fault

import "errors"

// Kind is a stable error category.
type Kind string

const (
	KindInputValidation Kind = "InputValidation" // zero address/hash/amount
	KindStateConflict   Kind = "StateConflict"   // duplicate session/root; permanent for that input
	KindRateLimit       Kind = "RateLimit"       // circuit breaker, per-tx, per-day, per-address allowance
	KindAuthorization   Kind = "Authorization"   // missing role, or any admin action after finalize
	KindLifecycle       Kind = "Lifecycle"       // paused/not-paused precondition violated
	KindSignature       Kind = "Signature"       // expired or unrecognized signer
	KindBounds          Kind = "Bounds"          // parameter value out of declared range
	KindUnknown         Kind = "Unknown"         // undeclared parameter key or unregistered session
)

// Error is the structured error type returned by every failed operation.
// Code is a stable identifier naming the violated rule.
type Error struct {
	Kind    Kind
	Code    string
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

// New returns a structured error with the given kind and stable code.
func New(kind Kind, code, msg string) error {
	return &Error{Kind: kind, Code: code, Message: msg}
}

// Wrap attaches a cause to a structured error.
func Wrap(kind Kind, code, msg string, cause error) error {
	return &Error{Kind: kind, Code: code, Message: msg, Cause: cause}
}

// IsKind reports whether err is (or wraps) a *Error with the given Kind.
func IsKind(err error, kind Kind) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}
	return e.Kind == kind
}

// Code returns the stable code for a structured error, or "" if err is not one.
func Code(err error) string {
	var e *Error
	if !errors.As(err, &e) {
		return ""
	}
	return e.Code
}

// KindOf returns the Kind for a structured error, or "" if err is not one.
func KindOf(err error) Kind {
	var e *Error
	if !errors.As(err, &e) {
		return ""
	}
	return e.Kind
}
