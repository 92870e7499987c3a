package verify

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	x402 "github.com/fluxpay/x402-solana"
	"github.com/fluxpay/x402-solana/logger"
	"github.com/fluxpay/x402-solana/metrics"
)

// DefaultTolerance is the relative amount tolerance (1%), absorbing
// price-rounding between the quoted human price and the settled atomic
// amount.
const DefaultTolerance = 0.01

const (
	defaultPollInterval = 500 * time.Millisecond
	defaultMaxWait      = 30 * time.Second
	maxPollInterval     = 5 * time.Second
)

// Expectation is what the merchant expects a settled payment to contain.
// Amount is in atomic units of Asset. RecipientTokenAccount optionally
// names the recipient's per-asset sub-account; transfers are matched
// against either it or the owner account.
type Expectation struct {
	Recipient             string
	RecipientTokenAccount string
	Asset                 x402.Asset
	Amount                uint64
}

// Verifier checks settled transactions against merchant expectations.
type Verifier struct {
	reader       TransactionReader
	tolerance    decimal.Decimal
	pollInterval time.Duration
	maxWait      time.Duration
	requireSole  bool
	log          logger.Logger
	rec          metrics.Recorder
}

// Option configures a Verifier.
type Option func(*Verifier)

// WithTolerance sets the relative amount tolerance (e.g. 0.01 for 1%).
func WithTolerance(tolerance float64) Option {
	return func(v *Verifier) { v.tolerance = decimal.NewFromFloat(tolerance) }
}

// WithFinalityWindow bounds the polling loop that waits for a broadcast
// transaction to become visible. A zero maxWait makes verification a
// single attempt.
func WithFinalityWindow(pollInterval, maxWait time.Duration) Option {
	return func(v *Verifier) {
		v.pollInterval = pollInterval
		v.maxWait = maxWait
	}
}

// WithRequireSoleTransfer makes verification fail when more than one
// instruction qualifies as the expected transfer, instead of crediting the
// first by position. Defends against adversarial padding at the cost of
// rejecting batched legitimate payments.
func WithRequireSoleTransfer() Option {
	return func(v *Verifier) { v.requireSole = true }
}

// WithLogger sets the verifier's logger.
func WithLogger(log logger.Logger) Option {
	return func(v *Verifier) { v.log = log }
}

// WithMetrics sets the verifier's metrics recorder.
func WithMetrics(rec metrics.Recorder) Option {
	return func(v *Verifier) { v.rec = rec }
}

// New creates a Verifier around a transaction reader.
func New(reader TransactionReader, opts ...Option) *Verifier {
	v := &Verifier{
		reader:       reader,
		tolerance:    decimal.NewFromFloat(DefaultTolerance),
		pollInterval: defaultPollInterval,
		maxWait:      defaultMaxWait,
		log:          logger.NewNoop(),
		rec:          metrics.NewNoop(),
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// VerifyTransfer fetches the transaction identified by signature and checks
// it against the expectation. An unknown signature is polled with backoff
// within the finality window and surfaced as NotYetFinalized afterwards;
// ledger finality is eventually consistent, so that outcome is pending, not
// invalid. Execution errors, wrong recipients and out-of-tolerance amounts
// are hard rejections.
func (v *Verifier) VerifyTransfer(ctx context.Context, signature string, exp Expectation) (*x402.TransferFact, error) {
	started := time.Now()
	defer func() {
		v.rec.ObserveLatency("verify_transfer", time.Since(started), nil)
	}()

	tx, err := v.awaitTransaction(ctx, signature)
	if err != nil {
		return nil, err
	}

	if tx.Meta.Failed() {
		return nil, x402.NewPaymentError(x402.KindExecutionFailed, "execution_failed",
			fmt.Sprintf("transaction %s failed on-chain", signature)).
			WithDetails(map[string]interface{}{"err": string(tx.Meta.Err)})
	}

	fact, err := v.extractExpectedTransfer(tx, exp)
	if err != nil {
		v.log.Warn("payment verification rejected", map[string]any{
			"signature": signature,
			"reason":    x402.ErrorReason(err),
		})
		return nil, err
	}

	if err := v.checkAmount(fact, exp); err != nil {
		// Raw transfer facts are logged for dispute resolution.
		v.log.Warn("settled amount outside tolerance", map[string]any{
			"signature": signature,
			"payer":     fact.Payer,
			"recipient": fact.Recipient,
			"amount":    fact.Amount,
			"expected":  exp.Amount,
		})
		return nil, err
	}

	if tx.BlockTime != nil {
		fact.SettledAt = time.Unix(*tx.BlockTime, 0).UTC()
	}
	return fact, nil
}

// awaitTransaction polls the reader until the transaction is visible or the
// finality window closes. Transport failures count against the same window
// rather than failing the payment.
func (v *Verifier) awaitTransaction(ctx context.Context, signature string) (*ParsedTransaction, error) {
	deadline := time.Now().Add(v.maxWait)
	interval := v.pollInterval
	var lastErr error

	for {
		tx, err := v.reader.GetParsedTransaction(ctx, signature)
		if err == nil && tx != nil {
			return tx, nil
		}
		lastErr = err

		if time.Now().After(deadline) {
			break
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(interval):
		}
		if interval *= 2; interval > maxPollInterval {
			interval = maxPollInterval
		}
	}

	if lastErr != nil {
		return nil, lastErr
	}
	return nil, x402.NewPaymentError(x402.KindNotYetFinalized, "not_yet_finalized",
		fmt.Sprintf("transaction %s is not visible at the queried commitment", signature))
}

// extractExpectedTransfer scans instructions in position order for a token
// transfer to the expected recipient; the first match wins. When none is
// found it falls back to native balance deltas for the recipient.
func (v *Verifier) extractExpectedTransfer(tx *ParsedTransaction, exp Expectation) (*x402.TransferFact, error) {
	var match *TokenTransfer
	qualifying := 0

	for _, pi := range tx.Transaction.Message.Instructions {
		transfer, ok := pi.Decode().(TokenTransfer)
		if !ok {
			continue
		}
		if transfer.Destination != exp.RecipientTokenAccount && transfer.Destination != exp.Recipient {
			continue
		}
		if transfer.Checked && exp.Asset.Address != "" && transfer.Mint != exp.Asset.Address {
			continue
		}
		qualifying++
		if match == nil {
			t := transfer
			match = &t
		}
	}

	if match != nil {
		if v.requireSole && qualifying > 1 {
			return nil, x402.NewPaymentError(x402.KindWrongRecipient, "ambiguous_transfer",
				fmt.Sprintf("%d instructions qualify as the expected transfer", qualifying))
		}
		asset := match.Mint
		if asset == "" {
			asset = exp.Asset.Address
		}
		return &x402.TransferFact{
			Payer:     match.Authority,
			Recipient: match.Destination,
			Amount:    match.Amount,
			Asset:     asset,
		}, nil
	}

	if fact := v.nativeDeltaFallback(tx, exp); fact != nil {
		return fact, nil
	}

	return nil, x402.NewPaymentError(x402.KindWrongRecipient, "wrong_recipient",
		fmt.Sprintf("no transfer to %s found in transaction", exp.Recipient))
}

// nativeDeltaFallback credits a positive native balance delta for the
// recipient, attributing the payment to the account with the largest
// decrease.
func (v *Verifier) nativeDeltaFallback(tx *ParsedTransaction, exp Expectation) *x402.TransferFact {
	meta := tx.Meta
	keys := tx.Transaction.Message.AccountKeys
	if meta == nil || len(meta.PreBalances) != len(keys) || len(meta.PostBalances) != len(keys) {
		return nil
	}

	var credited uint64
	found := false
	payer := ""
	var largestDebit int64

	for i, key := range keys {
		delta := int64(meta.PostBalances[i]) - int64(meta.PreBalances[i])
		if key.Pubkey == exp.Recipient && delta > 0 {
			credited = uint64(delta)
			found = true
		}
		if delta < largestDebit {
			largestDebit = delta
			payer = key.Pubkey
		}
	}
	if !found {
		return nil
	}
	return &x402.TransferFact{
		Payer:     payer,
		Recipient: exp.Recipient,
		Amount:    credited,
		Asset:     exp.Asset.Address,
	}
}

// checkAmount compares settled and expected amounts in human units with
// the configured relative tolerance.
func (v *Verifier) checkAmount(fact *x402.TransferFact, exp Expectation) error {
	got := x402.HumanFromAtomic(fact.Amount, exp.Asset.Decimals)
	want := x402.HumanFromAtomic(exp.Amount, exp.Asset.Decimals)

	diff := got.Sub(want).Abs()
	limit := want.Mul(v.tolerance)
	if diff.Cmp(limit) > 0 {
		return x402.NewPaymentError(x402.KindAmountMismatch, "amount_mismatch",
			fmt.Sprintf("settled amount %s outside %s tolerance of expected %s",
				got, v.tolerance, want)).
			WithDetails(map[string]interface{}{
				"settledAtomic":  fact.Amount,
				"expectedAtomic": exp.Amount,
				"payer":          fact.Payer,
				"recipient":      fact.Recipient,
			})
	}
	return nil
}
