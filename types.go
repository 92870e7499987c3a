// Package x402 implements the core of the x402 micropayment protocol over
// Solana: payment requirement encoding, the signed payment envelope carried
// in the X-PAYMENT header, and the shared vocabulary used by the builder,
// verifier, forwarder and replay-guard packages.
package x402

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// ProtocolVersion is the x402 protocol version spoken by this module.
const ProtocolVersion = 1

// Payment schemes.
const (
	SchemeExact = "exact"
	SchemeUpto  = "upto"
)

// Network is a blockchain network identifier in CAIP-2 format,
// namespace:reference (e.g. "solana:5eykt4UsFv8P8NJdTREpY1vzqKqZKvdp").
type Network string

// Solana networks supported by this module.
const (
	SolanaMainnet Network = "solana:5eykt4UsFv8P8NJdTREpY1vzqKqZKvdp"
	SolanaDevnet  Network = "solana:EtWTRABZaYq6iMfeYKouRu166VU2xqa1"
	SolanaTestnet Network = "solana:4uhcVJyU9pJkvQyS88uRDiswHXSCkY3z"
)

// Parse splits the network into namespace and reference components.
func (n Network) Parse() (namespace, reference string, err error) {
	parts := strings.Split(string(n), ":")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("invalid network format: %s", n)
	}
	return parts[0], parts[1], nil
}

// IsSolana reports whether the network belongs to the Solana namespace.
func (n Network) IsSolana() bool {
	namespace, _, err := n.Parse()
	return err == nil && namespace == "solana"
}

// Asset describes a token mint and its fixed decimal scale.
type Asset struct {
	Address  string `json:"address"`
	Decimals int32  `json:"decimals"`
	Symbol   string `json:"symbol"`
}

// Well-known USDC mints.
var (
	USDCMainnet = Asset{Address: "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v", Decimals: 6, Symbol: "USDC"}
	USDCDevnet  = Asset{Address: "4zMMC9srt5Ri5X14GAgXhaHii3GnPAEERYPJgZJDncDU", Decimals: 6, Symbol: "USDC"}
)

// DefaultAsset returns the default settlement asset for a network.
func DefaultAsset(network Network) (Asset, error) {
	switch network {
	case SolanaMainnet:
		return USDCMainnet, nil
	case SolanaDevnet, SolanaTestnet:
		return USDCDevnet, nil
	}
	return Asset{}, fmt.Errorf("no default asset for network %s", network)
}

// RequirementsExtra carries the scheme-specific extension fields of a
// payment requirement. FeePayer names the facilitator account that will
// co-sign and pay network fees; it is mandatory for Solana payments.
type RequirementsExtra struct {
	FeePayer    string `json:"feePayer,omitempty"`
	Description string `json:"description,omitempty"`
	Resource    string `json:"resource,omitempty"`
}

// PaymentRequirements defines what payment is acceptable for a resource.
// It is ephemeral: constructed per 402 response and never persisted.
type PaymentRequirements struct {
	Scheme            string            `json:"scheme" validate:"required,oneof=exact upto"`
	Network           Network           `json:"network" validate:"required"`
	Asset             string            `json:"asset" validate:"required"`
	PayTo             string            `json:"payTo" validate:"required"`
	MaxAmountRequired string            `json:"maxAmountRequired" validate:"required"`
	Extra             RequirementsExtra `json:"extra,omitempty"`
}

// TransactionPayload is the scheme payload of a Solana payment: the
// base64-encoded partially-signed transaction wire bytes.
type TransactionPayload struct {
	Transaction string `json:"transaction"`
}

// PaymentPayload is the signed payment envelope a customer submits in the
// X-PAYMENT header. It is single-use: consumed exactly once by the replay
// guard.
type PaymentPayload struct {
	X402Version int                `json:"x402Version"`
	Scheme      string             `json:"scheme"`
	Network     Network            `json:"network"`
	Payload     TransactionPayload `json:"payload"`
}

// EncodeHeader serializes the envelope for X-PAYMENT header transport.
func (p PaymentPayload) EncodeHeader() (string, error) {
	raw, err := json.Marshal(p)
	if err != nil {
		return "", fmt.Errorf("marshal payment payload: %w", err)
	}
	return base64.StdEncoding.EncodeToString(raw), nil
}

// DecodePaymentHeader parses an X-PAYMENT header value back into the
// payment envelope.
func DecodePaymentHeader(header string) (*PaymentPayload, error) {
	raw, err := base64.StdEncoding.DecodeString(strings.TrimSpace(header))
	if err != nil {
		return nil, NewProtocolError("invalid_payment_header", "payment header is not valid base64")
	}
	var payload PaymentPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, NewProtocolError("invalid_payment_header", "payment header is not a valid payment envelope")
	}
	if payload.X402Version != ProtocolVersion {
		return nil, NewProtocolError("unsupported_version", fmt.Sprintf("unsupported x402 version: %d", payload.X402Version))
	}
	if payload.Payload.Transaction == "" {
		return nil, NewProtocolError("invalid_payment_header", "payment envelope carries no transaction")
	}
	return &payload, nil
}

// TransferFact holds the transfer facts extracted from a settled
// transaction. Derived fresh on each verification call, never persisted.
type TransferFact struct {
	Payer     string    `json:"payer"`
	Recipient string    `json:"recipient"`
	Amount    uint64    `json:"amount"`
	Asset     string    `json:"asset"`
	SettledAt time.Time `json:"settledAt"`
}

// SettlementResult is the outcome of settling one payment. Immutable once
// produced; the success shape is what the merchant echoes back in the
// X-PAYMENT-RESPONSE header.
type SettlementResult struct {
	Success     bool    `json:"success"`
	Transaction string  `json:"transaction"`
	Network     Network `json:"network"`
	Payer       string  `json:"payer,omitempty"`
	Amount      string  `json:"amount,omitempty"`
	ErrorReason string  `json:"errorReason,omitempty"`
}

// EncodeResponseHeader serializes the result for X-PAYMENT-RESPONSE
// header transport.
func (r SettlementResult) EncodeResponseHeader() (string, error) {
	raw, err := json.Marshal(r)
	if err != nil {
		return "", fmt.Errorf("marshal settlement result: %w", err)
	}
	return base64.StdEncoding.EncodeToString(raw), nil
}

// DecodeResponseHeader parses an X-PAYMENT-RESPONSE header value.
func DecodeResponseHeader(header string) (*SettlementResult, error) {
	raw, err := base64.StdEncoding.DecodeString(strings.TrimSpace(header))
	if err != nil {
		return nil, fmt.Errorf("settlement response is not valid base64: %w", err)
	}
	var result SettlementResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("settlement response is not valid JSON: %w", err)
	}
	return &result, nil
}

// PaymentRequired is the JSON body of a 402 response.
type PaymentRequired struct {
	X402Version int                   `json:"x402Version"`
	Error       string                `json:"error,omitempty"`
	Accepts     []PaymentRequirements `json:"accepts"`
}
