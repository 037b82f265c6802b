package types

import (
	"errors"
	"fmt"
)

// Code identifies why an intent was rejected.
type Code string

// Known rejection codes.
const (
	CodeStaleVersion              Code = "STALE_VERSION"
	CodeInsufficientFunds         Code = "INSUFFICIENT_FUNDS"
	CodeInvalidTransition         Code = "INVALID_TRANSITION"
	CodeCapExceeded               Code = "CAP_EXCEEDED"
	CodeMalformedIntent           Code = "MALFORMED_INTENT"
	CodeSignatureTimeout          Code = "SIGNATURE_TIMEOUT"
	CodeOnChainConfirmationFailed Code = "ONCHAIN_CONFIRMATION_FAILED"
	CodeArithmeticOverflow        Code = "ARITHMETIC_OVERFLOW"
	CodeInvalidSignature          Code = "INVALID_SIGNATURE"
	CodeUnknownMarket             Code = "UNKNOWN_MARKET"
	CodeInvariantViolation        Code = "INVARIANT_VIOLATION"
	CodeSessionHalted             Code = "SESSION_HALTED"
)

// Class groups codes by what the caller should do about them.
type Class int

const (
	// ClassInvalid means the request itself is wrong and must not be retried as-is.
	ClassInvalid Class = iota
	// ClassRetry means the caller should refetch state and try again.
	ClassRetry
	// ClassFatal means a logic defect; the session is halted.
	ClassFatal
)

func (c Class) String() string {
	switch c {
	case ClassRetry:
		return "retry"
	case ClassFatal:
		return "fatal"
	default:
		return "invalid"
	}
}

// IntentError is the structured rejection returned for every refused intent.
type IntentError struct {
	Code    Code
	Message string
}

// Sentinels for errors.Is matching. Matching compares codes only.
var (
	ErrStaleVersion              = &IntentError{Code: CodeStaleVersion, Message: "stale version"}
	ErrInsufficientFunds         = &IntentError{Code: CodeInsufficientFunds, Message: "insufficient funds"}
	ErrInvalidTransition         = &IntentError{Code: CodeInvalidTransition, Message: "invalid transition"}
	ErrCapExceeded               = &IntentError{Code: CodeCapExceeded, Message: "cap exceeded"}
	ErrMalformedIntent           = &IntentError{Code: CodeMalformedIntent, Message: "malformed intent"}
	ErrSignatureTimeout          = &IntentError{Code: CodeSignatureTimeout, Message: "signature timeout"}
	ErrOnChainConfirmationFailed = &IntentError{Code: CodeOnChainConfirmationFailed, Message: "on-chain confirmation failed"}
	ErrArithmeticOverflow        = &IntentError{Code: CodeArithmeticOverflow, Message: "arithmetic overflow"}
	ErrInvalidSignature          = &IntentError{Code: CodeInvalidSignature, Message: "invalid signature"}
	ErrUnknownMarket             = &IntentError{Code: CodeUnknownMarket, Message: "unknown market"}
	ErrInvariantViolation        = &IntentError{Code: CodeInvariantViolation, Message: "invariant violation"}
	ErrSessionHalted             = &IntentError{Code: CodeSessionHalted, Message: "session halted"}
)

// NewIntentError builds an IntentError with a formatted message.
func NewIntentError(code Code, format string, args ...any) *IntentError {
	return &IntentError{Code: code, Message: fmt.Sprintf(format, args...)}
}

func (e *IntentError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Is reports whether target carries the same code.
func (e *IntentError) Is(target error) bool {
	t, ok := target.(*IntentError)
	return ok && t.Code == e.Code
}

// Class returns the handling class for the error's code.
func (e *IntentError) Class() Class {
	switch e.Code {
	case CodeStaleVersion, CodeSignatureTimeout:
		return ClassRetry
	case CodeInvariantViolation, CodeSessionHalted:
		return ClassFatal
	default:
		return ClassInvalid
	}
}

// CodeOf returns the code of the first IntentError in err's chain, or "".
func CodeOf(err error) Code {
	var ie *IntentError
	if errors.As(err, &ie) {
		return ie.Code
	}
	return ""
}

// ClassOf classifies err. Errors outside the taxonomy are treated as fatal.
func ClassOf(err error) Class {
	var ie *IntentError
	if errors.As(err, &ie) {
		return ie.Class()
	}
	return ClassFatal
}

// IsRetryable reports whether the caller should refetch and retry.
func IsRetryable(err error) bool {
	return err != nil && ClassOf(err) == ClassRetry
}

// IsFatal reports whether err signals a logic defect.
func IsFatal(err error) bool {
	return err != nil && ClassOf(err) == ClassFatal
}
