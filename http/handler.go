// Package http exposes the payment engine to merchant route layers: the
// 402 challenge response, X-PAYMENT processing and the
// X-PAYMENT-RESPONSE confirmation header, as net/http middleware plus a
// transport-agnostic PaymentHandler for other frameworks.
package http

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	x402 "github.com/fluxpay/x402-solana"
	"github.com/fluxpay/x402-solana/logger"
	"github.com/fluxpay/x402-solana/metrics"
	"github.com/fluxpay/x402-solana/replay"
	"github.com/fluxpay/x402-solana/svm"
)

// Protocol headers.
const (
	HeaderPayment         = "X-PAYMENT"
	HeaderPaymentResponse = "X-PAYMENT-RESPONSE"
	HeaderChallenge       = "WWW-Authenticate"
)

// settleTimeout bounds settlement work once it is detached from the
// inbound request.
const settleTimeout = 60 * time.Second

// Settler settles a payment against the merchant's own requirements.
// Implemented by facilitator.Client.
type Settler interface {
	Settle(ctx context.Context, payload x402.PaymentPayload, requirements x402.PaymentRequirements) (*x402.SettlementResult, error)
}

// Config wires a PaymentHandler. Replay is the only shared mutable state;
// the route layer owns its lifecycle.
type Config struct {
	Settler Settler
	Replay  replay.Store
	Logger  logger.Logger
	Metrics metrics.Recorder
}

// PaymentHandler implements the merchant half of the x402 exchange
// independent of any HTTP framework.
type PaymentHandler struct {
	settler Settler
	guard   replay.Store
	log     logger.Logger
	rec     metrics.Recorder
}

// NewPaymentHandler validates the wiring and creates a handler.
func NewPaymentHandler(cfg Config) (*PaymentHandler, error) {
	if cfg.Settler == nil {
		return nil, fmt.Errorf("settler is required")
	}
	if cfg.Replay == nil {
		return nil, fmt.Errorf("replay store is required")
	}
	log := cfg.Logger
	if log == nil {
		log = logger.NewNoop()
	}
	rec := cfg.Metrics
	if rec == nil {
		rec = metrics.NewNoop()
	}
	return &PaymentHandler{settler: cfg.Settler, guard: cfg.Replay, log: log, rec: rec}, nil
}

// Challenge returns the WWW-Authenticate value and 402 body demanding
// payment.
func (h *PaymentHandler) Challenge(requirements x402.PaymentRequirements, reason string) (string, x402.PaymentRequired) {
	h.rec.IncCounter(metrics.EventChallengeIssued, map[string]string{"network": string(requirements.Network)})
	return x402.EncodeChallengeHeader(requirements), x402.PaymentRequired{
		X402Version: x402.ProtocolVersion,
		Error:       reason,
		Accepts:     []x402.PaymentRequirements{requirements},
	}
}

// Process verifies and settles one X-PAYMENT header value against the
// requirements, reserves the settlement signature in the replay guard and
// returns the confirmation to echo back. Settlement runs on a context
// detached from the inbound request: once a payment is in flight,
// cancellation must not be able to produce a double credit, so partial
// settlement state is preferred over re-running the exchange.
func (h *PaymentHandler) Process(ctx context.Context, paymentHeader string, requirements x402.PaymentRequirements) (*x402.SettlementResult, error) {
	attempt := uuid.NewString()
	labels := map[string]string{"network": string(requirements.Network)}
	started := time.Now()
	defer func() {
		h.rec.ObserveLatency("process_payment", time.Since(started), labels)
	}()

	payload, err := x402.DecodePaymentHeader(paymentHeader)
	if err != nil {
		return nil, h.reject(attempt, err, labels)
	}
	if payload.Scheme != requirements.Scheme {
		return nil, h.reject(attempt, x402.NewProtocolError("scheme_mismatch",
			fmt.Sprintf("payment scheme %q does not satisfy %q", payload.Scheme, requirements.Scheme)), labels)
	}
	if payload.Network != requirements.Network {
		return nil, h.reject(attempt, x402.NewProtocolError("network_mismatch",
			fmt.Sprintf("payment network %q does not satisfy %q", payload.Network, requirements.Network)), labels)
	}

	// Merchant-side prechecks before anything leaves the process: the
	// transaction must decode to the canonical 3-instruction shape with a
	// verifying authority signature.
	tx, err := svm.DecodeTransaction(payload.Payload.Transaction)
	if err != nil {
		return nil, h.reject(attempt, err, labels)
	}
	if err := svm.ValidatePaymentTransaction(tx); err != nil {
		return nil, h.reject(attempt, err, labels)
	}

	sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), settleTimeout)
	defer cancel()

	result, err := h.settler.Settle(sctx, *payload, requirements)
	if err != nil {
		h.rec.IncCounter(metrics.EventSettlementFailed, labels)
		return nil, h.reject(attempt, err, labels)
	}
	if !result.Success {
		h.rec.IncCounter(metrics.EventSettlementFailed, labels)
		return nil, h.reject(attempt, x402.NewPaymentError(x402.KindSettlementFailed,
			result.ErrorReason, "facilitator rejected the payment"), labels)
	}

	reserved, err := h.guard.Reserve(sctx, replay.ConsumedSignature{
		Signature: result.Transaction,
		Payer:     result.Payer,
		Amount:    requirements.MaxAmountRequired,
		Recipient: requirements.PayTo,
		Resource:  requirements.Extra.Resource,
	})
	if err != nil {
		return nil, h.reject(attempt, fmt.Errorf("replay guard unavailable: %w", err), labels)
	}
	if !reserved {
		h.rec.IncCounter(metrics.EventReplayRejected, labels)
		return nil, h.reject(attempt, x402.NewPaymentError(x402.KindReplayDetected, "replay_detected",
			fmt.Sprintf("signature %s was already credited", result.Transaction)), labels)
	}

	h.rec.IncCounter(metrics.EventPaymentSettled, labels)
	h.log.Info("payment settled", map[string]any{
		"attempt":   attempt,
		"signature": result.Transaction,
		"payer":     result.Payer,
		"amount":    requirements.MaxAmountRequired,
		"network":   string(requirements.Network),
	})
	return result, nil
}

func (h *PaymentHandler) reject(attempt string, err error, labels map[string]string) error {
	h.rec.IncCounter(metrics.EventPaymentRejected, labels)
	h.log.Warn("payment rejected", map[string]any{
		"attempt": attempt,
		"reason":  x402.ErrorReason(err),
		"error":   err.Error(),
	})
	return err
}

// Rejection is the 402 body returned for a failed payment attempt. It
// always states which requirement failed; no partial credit is ever
// issued.
type Rejection struct {
	Success     bool                       `json:"success"`
	ErrorReason string                     `json:"errorReason"`
	Accepts     []x402.PaymentRequirements `json:"accepts,omitempty"`
}

// NewRejection builds the failure body for err.
func NewRejection(err error, requirements x402.PaymentRequirements) Rejection {
	return Rejection{
		Success:     false,
		ErrorReason: x402.ErrorReason(err),
		Accepts:     []x402.PaymentRequirements{requirements},
	}
}
