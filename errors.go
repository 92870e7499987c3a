package x402

import (
	"errors"
	"fmt"
)

// Kind classifies a payment error. Retryability is a property of the kind:
// only LedgerUnavailable and NotYetFinalized may be retried; everything
// else is a terminal rejection.
type Kind int

const (
	// KindProtocol covers malformed headers/payloads and unsupported
	// schemes or networks. Hard 400/402, never retried.
	KindProtocol Kind = iota + 1
	// KindLedgerUnavailable covers RPC timeouts and connection failures.
	// Retried with backoff at the call site; not a payment failure.
	KindLedgerUnavailable
	// KindNotYetFinalized means the signature is unknown at the queried
	// commitment. Retried with backoff up to a bounded window.
	KindNotYetFinalized
	// KindAmountMismatch means the settled amount fell outside tolerance.
	KindAmountMismatch
	// KindWrongRecipient means no transfer to the expected recipient was
	// found in the settled transaction.
	KindWrongRecipient
	// KindExecutionFailed means the transaction executed on-chain with an
	// error.
	KindExecutionFailed
	// KindReplayDetected means the settlement signature was already
	// credited once.
	KindReplayDetected
	// KindSettlementFailed means the facilitator could not settle the
	// payment after bounded retries.
	KindSettlementFailed
)

func (k Kind) String() string {
	switch k {
	case KindProtocol:
		return "protocol_error"
	case KindLedgerUnavailable:
		return "ledger_unavailable"
	case KindNotYetFinalized:
		return "not_yet_finalized"
	case KindAmountMismatch:
		return "amount_mismatch"
	case KindWrongRecipient:
		return "wrong_recipient"
	case KindExecutionFailed:
		return "execution_failed"
	case KindReplayDetected:
		return "replay_detected"
	case KindSettlementFailed:
		return "settlement_failed"
	}
	return "unknown"
}

// PaymentError is the error type produced by every component of the
// payment engine. Details carries raw transfer facts for dispute
// resolution on hard rejections.
type PaymentError struct {
	Kind    Kind                   `json:"kind"`
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
}

func (e *PaymentError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Retryable reports whether the failure is transient.
func (e *PaymentError) Retryable() bool {
	return e.Kind == KindLedgerUnavailable || e.Kind == KindNotYetFinalized
}

// NewPaymentError creates a payment error of the given kind.
func NewPaymentError(kind Kind, code, message string) *PaymentError {
	return &PaymentError{Kind: kind, Code: code, Message: message}
}

// WithDetails attaches diagnostic details and returns the error.
func (e *PaymentError) WithDetails(details map[string]interface{}) *PaymentError {
	e.Details = details
	return e
}

// NewProtocolError creates a hard protocol error.
func NewProtocolError(code, message string) *PaymentError {
	return NewPaymentError(KindProtocol, code, message)
}

// IsKind reports whether err is (or wraps) a PaymentError of the given kind.
func IsKind(err error, kind Kind) bool {
	var pe *PaymentError
	return errors.As(err, &pe) && pe.Kind == kind
}

// ErrorReason extracts the wire error code from err, falling back to a
// generic reason for untyped errors.
func ErrorReason(err error) string {
	var pe *PaymentError
	if errors.As(err, &pe) {
		return pe.Code
	}
	return "unexpected_error"
}
