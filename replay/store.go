// Package replay is the idempotency layer preventing one payment proof
// from being credited twice. Reservation is atomic at the storage layer:
// concurrent attempts on the same signature resolve to exactly one winner,
// never via an application-level check-then-insert.
package replay

import (
	"context"
	"time"
)

// ConsumedSignature is the permanent audit record of one accepted payment.
type ConsumedSignature struct {
	Signature  string    `json:"signature"`
	Payer      string    `json:"payer"`
	Amount     string    `json:"amount"`
	Recipient  string    `json:"recipient"`
	Resource   string    `json:"resource,omitempty"`
	ConsumedAt time.Time `json:"consumedAt"`
}

// Store is the replay-guard contract. Implementations must be safe for
// concurrent use.
type Store interface {
	// Reserve records the signature if it has never been seen, returning
	// true exactly once per signature across all concurrent callers.
	// Callers must only credit the request when the reservation succeeded.
	Reserve(ctx context.Context, record ConsumedSignature) (bool, error)

	// Get returns the original record for a consumed signature, or nil if
	// the signature was never reserved.
	Get(ctx context.Context, signature string) (*ConsumedSignature, error)

	// Close releases the underlying storage.
	Close() error
}
