// Package facilitator forwards partially-signed payments to a third-party
// facilitator that supplies the missing fee-payer signature and broadcasts.
// No funds can move without facilitator cooperation: the merchant never
// holds the fee-payer key.
package facilitator

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	x402 "github.com/fluxpay/x402-solana"
	"github.com/fluxpay/x402-solana/logger"
)

// VerifyResult is the facilitator's synchronous verification verdict.
type VerifyResult struct {
	IsValid       bool   `json:"isValid"`
	InvalidReason string `json:"invalidReason,omitempty"`
	Payer         string `json:"payer,omitempty"`
}

// Config configures the facilitator client.
type Config struct {
	// URL is the base URL of the facilitator service.
	URL string

	// HTTPClient overrides the default client (30s timeout).
	HTTPClient *http.Client

	// Timeout applies when HTTPClient is nil.
	Timeout time.Duration

	// MaxAttempts bounds retries on facilitator unavailability
	// (connection errors, 429, 5xx). Defaults to 3.
	MaxAttempts int

	// RetryBaseDelay is the base of the exponential backoff between
	// attempts. Defaults to 500ms.
	RetryBaseDelay time.Duration

	Logger logger.Logger
}

// Client talks to a facilitator's verify and settle endpoints.
type Client struct {
	url        string
	httpClient *http.Client
	attempts   int
	baseDelay  time.Duration
	log        logger.Logger
}

// NewClient creates a facilitator client.
func NewClient(cfg Config) (*Client, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("facilitator URL is required")
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout == 0 {
			timeout = 30 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}

	attempts := cfg.MaxAttempts
	if attempts <= 0 {
		attempts = 3
	}
	baseDelay := cfg.RetryBaseDelay
	if baseDelay <= 0 {
		baseDelay = 500 * time.Millisecond
	}
	log := cfg.Logger
	if log == nil {
		log = logger.NewNoop()
	}

	return &Client{
		url:        cfg.URL,
		httpClient: httpClient,
		attempts:   attempts,
		baseDelay:  baseDelay,
		log:        log,
	}, nil
}

type requestBody struct {
	X402Version         int                      `json:"x402Version"`
	PaymentPayload      x402.PaymentPayload      `json:"paymentPayload"`
	PaymentRequirements x402.PaymentRequirements `json:"paymentRequirements"`
}

// Verify asks the facilitator whether the payment satisfies the merchant's
// own requirements. The requirements always travel with the payload:
// the facilitator's framing alone is never trusted.
func (c *Client) Verify(ctx context.Context, payload x402.PaymentPayload, requirements x402.PaymentRequirements) (*VerifyResult, error) {
	raw, err := c.post(ctx, "/verify", payload, requirements)
	if err != nil {
		return nil, err
	}
	var result VerifyResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("undecodable verify response: %w", err)
	}
	return &result, nil
}

// Settle forwards the payment for co-signing and broadcast and returns the
// facilitator's settlement result. Facilitator unavailability is retried a
// bounded number of times, then surfaced as a settlement failure.
func (c *Client) Settle(ctx context.Context, payload x402.PaymentPayload, requirements x402.PaymentRequirements) (*x402.SettlementResult, error) {
	raw, err := c.post(ctx, "/settle", payload, requirements)
	if err != nil {
		return nil, err
	}
	var result x402.SettlementResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("undecodable settle response: %w", err)
	}
	if !result.Success && result.ErrorReason == "" {
		result.ErrorReason = "settlement_failed"
	}
	return &result, nil
}

// post sends one facilitator request, retrying transient failures with
// exponential backoff. Non-retryable HTTP statuses return the body so the
// caller can decode the protocol-level failure.
func (c *Client) post(ctx context.Context, path string, payload x402.PaymentPayload, requirements x402.PaymentRequirements) ([]byte, error) {
	body, err := json.Marshal(requestBody{
		X402Version:         x402.ProtocolVersion,
		PaymentPayload:      payload,
		PaymentRequirements: requirements,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal facilitator request: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt < c.attempts; attempt++ {
		if attempt > 0 {
			delay := c.baseDelay * time.Duration(1<<uint(attempt-1))
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
			c.log.Debug("retrying facilitator request", map[string]any{
				"path":    path,
				"attempt": attempt + 1,
			})
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url+path, bytes.NewReader(body))
		if err != nil {
			return nil, fmt.Errorf("create facilitator request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			lastErr = err
			continue
		}

		responseBody, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			lastErr = err
			continue
		}

		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= http.StatusInternalServerError {
			lastErr = fmt.Errorf("facilitator %s returned %d: %s", path, resp.StatusCode, responseBody)
			continue
		}

		// 2xx and protocol-level 4xx bodies both decode downstream.
		return responseBody, nil
	}

	return nil, x402.NewPaymentError(x402.KindSettlementFailed, "facilitator_unavailable",
		fmt.Sprintf("facilitator %s failed after %d attempts: %v", path, c.attempts, lastErr))
}
