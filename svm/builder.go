package svm

import (
	"context"
	"fmt"

	solana "github.com/gagliardetto/solana-go"

	x402 "github.com/fluxpay/x402-solana"
	"github.com/fluxpay/x402-solana/logger"
)

// PaymentBuilder turns a merchant challenge into a signed, transportable
// payment payload using the customer's funding credential.
type PaymentBuilder struct {
	signer  *Signer
	ledger  Ledger
	log     logger.Logger
	ceiling uint64

	computeUnitLimit uint32
	computeUnitPrice uint64
}

// BuilderOption configures a PaymentBuilder.
type BuilderOption func(*PaymentBuilder)

// WithLogger sets the builder's logger.
func WithLogger(log logger.Logger) BuilderOption {
	return func(b *PaymentBuilder) { b.log = log }
}

// WithSafetyCeiling overrides the local atomic-unit ceiling above which a
// challenge is rejected before any signing. Zero disables the ceiling.
func WithSafetyCeiling(ceiling uint64) BuilderOption {
	return func(b *PaymentBuilder) { b.ceiling = ceiling }
}

// WithComputeBudget overrides the compute-unit limit and price of built
// transactions.
func WithComputeBudget(limit uint32, price uint64) BuilderOption {
	return func(b *PaymentBuilder) {
		b.computeUnitLimit = limit
		b.computeUnitPrice = price
	}
}

// NewPaymentBuilder creates a payment builder around a signing credential
// and a ledger handle.
func NewPaymentBuilder(signer *Signer, ledger Ledger, opts ...BuilderOption) *PaymentBuilder {
	b := &PaymentBuilder{
		signer:  signer,
		ledger:  ledger,
		log:     logger.NewNoop(),
		ceiling: x402.DefaultSafetyCeiling,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Build constructs, partially signs and wire-packs a payment satisfying the
// requirements. The amount is checked against the local safety ceiling
// before anything is signed; a missing feePayer is fatal because the
// protocol needs a facilitator willing to co-sign and broadcast. Source and
// destination sub-accounts must already exist: creating them here would
// silently inject extra fee-bearing instructions into the payment.
func (b *PaymentBuilder) Build(ctx context.Context, requirements x402.PaymentRequirements) (*x402.PaymentPayload, error) {
	if err := requirements.Validate(); err != nil {
		return nil, err
	}

	amount, err := x402.ParseAtomicAmount(requirements.MaxAmountRequired, b.ceiling)
	if err != nil {
		return nil, err
	}

	if requirements.Extra.FeePayer == "" {
		return nil, x402.NewProtocolError("fee_payer_required",
			"requirements carry no feePayer; a co-signing facilitator is required")
	}
	feePayer, err := solana.PublicKeyFromBase58(requirements.Extra.FeePayer)
	if err != nil {
		return nil, x402.NewProtocolError("fee_payer_required", fmt.Sprintf("invalid feePayer address: %v", err))
	}

	mint, err := solana.PublicKeyFromBase58(requirements.Asset)
	if err != nil {
		return nil, x402.NewProtocolError("invalid_asset", fmt.Sprintf("invalid asset address: %v", err))
	}
	payTo, err := solana.PublicKeyFromBase58(requirements.PayTo)
	if err != nil {
		return nil, x402.NewProtocolError("invalid_requirements", fmt.Sprintf("invalid payTo address: %v", err))
	}

	decimals, err := b.ledger.MintDecimals(ctx, mint)
	if err != nil {
		return nil, err
	}

	source, _, err := solana.FindAssociatedTokenAddress(b.signer.Address(), mint)
	if err != nil {
		return nil, fmt.Errorf("derive source sub-account: %w", err)
	}
	destination, _, err := solana.FindAssociatedTokenAddress(payTo, mint)
	if err != nil {
		return nil, fmt.Errorf("derive destination sub-account: %w", err)
	}
	if err := b.requireAccount(ctx, source, "source"); err != nil {
		return nil, err
	}
	if err := b.requireAccount(ctx, destination, "destination"); err != nil {
		return nil, err
	}

	// Insufficient balance here is advisory only; final authority is
	// on-chain execution.
	if balance, err := b.ledger.TokenBalance(ctx, source); err == nil && balance < amount {
		b.log.Warn("payment likely to fail: insufficient balance", map[string]any{
			"source":  source.String(),
			"balance": balance,
			"amount":  amount,
		})
	}

	blockhash, err := b.ledger.LatestBlockhash(ctx)
	if err != nil {
		return nil, err
	}

	tx, err := BuildTransferTransaction(TransferParams{
		FeePayer:         feePayer,
		Authority:        b.signer.Address(),
		Source:           source,
		Destination:      destination,
		Mint:             mint,
		Amount:           amount,
		Decimals:         decimals,
		Blockhash:        blockhash,
		ComputeUnitLimit: b.computeUnitLimit,
		ComputeUnitPrice: b.computeUnitPrice,
	})
	if err != nil {
		return nil, err
	}

	if err := b.signer.SignTransaction(ctx, tx); err != nil {
		return nil, fmt.Errorf("sign transaction: %w", err)
	}

	encoded, err := EncodeTransaction(tx)
	if err != nil {
		return nil, err
	}

	b.log.Debug("payment built", map[string]any{
		"network":     string(requirements.Network),
		"asset":       requirements.Asset,
		"amount":      amount,
		"destination": destination.String(),
	})

	return &x402.PaymentPayload{
		X402Version: x402.ProtocolVersion,
		Scheme:      requirements.Scheme,
		Network:     requirements.Network,
		Payload:     x402.TransactionPayload{Transaction: encoded},
	}, nil
}

func (b *PaymentBuilder) requireAccount(ctx context.Context, account solana.PublicKey, role string) error {
	_, exists, err := b.ledger.AccountOwner(ctx, account)
	if err != nil {
		return err
	}
	if !exists {
		return x402.NewProtocolError("sub_account_not_found",
			fmt.Sprintf("%s sub-account %s does not exist", role, account))
	}
	return nil
}
