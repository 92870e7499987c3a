package x402

import (
	"fmt"
	"math/big"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
)

// DefaultSafetyCeiling caps maxAmountRequired at 1,000 units of a
// 6-decimal asset. It bounds the damage a malicious or compromised
// merchant can request; both sides enforce it.
const DefaultSafetyCeiling uint64 = 1_000_000_000

var validate = validator.New()

// AtomicFromHuman converts a human-unit price string (e.g. "0.10" or
// "$0.10") to atomic units using the asset's decimal scale. The scaled
// amount must be a positive integer.
func AtomicFromHuman(price string, decimals int32) (uint64, error) {
	cleaned := strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(price), "$"))
	d, err := decimal.NewFromString(cleaned)
	if err != nil {
		return 0, fmt.Errorf("invalid price %q: %w", price, err)
	}
	scaled := d.Shift(decimals)
	if !scaled.IsInteger() {
		return 0, fmt.Errorf("price %q has more than %d decimal places", price, decimals)
	}
	if !scaled.IsPositive() {
		return 0, fmt.Errorf("price must be positive, got %q", price)
	}
	atomic := scaled.BigInt()
	if !atomic.IsUint64() {
		return 0, fmt.Errorf("price %q overflows atomic units", price)
	}
	return atomic.Uint64(), nil
}

// HumanFromAtomic converts atomic units back to human units.
func HumanFromAtomic(amount uint64, decimals int32) decimal.Decimal {
	return decimal.NewFromBigInt(new(big.Int).SetUint64(amount), 0).Shift(-decimals)
}

// ParseAtomicAmount parses an atomic-unit amount string and enforces the
// positivity and ceiling invariants.
func ParseAtomicAmount(amount string, ceiling uint64) (uint64, error) {
	v, err := strconv.ParseUint(amount, 10, 64)
	if err != nil {
		return 0, NewProtocolError("invalid_amount", fmt.Sprintf("amount %q is not a positive integer", amount))
	}
	if v == 0 {
		return 0, NewProtocolError("invalid_amount", "amount must be greater than zero")
	}
	if ceiling > 0 && v > ceiling {
		return 0, NewProtocolError("amount_exceeds_ceiling",
			fmt.Sprintf("amount %d exceeds safety ceiling %d", v, ceiling))
	}
	return v, nil
}

// Validate checks the structural invariants of a payment requirement:
// required fields, known scheme, Solana network, positive integral amount
// within the default safety ceiling.
func (r PaymentRequirements) Validate() error {
	if err := validate.Struct(r); err != nil {
		return NewProtocolError("invalid_requirements", err.Error())
	}
	if !r.Network.IsSolana() {
		return NewProtocolError("unsupported_network", fmt.Sprintf("unsupported network: %s", r.Network))
	}
	if _, err := ParseAtomicAmount(r.MaxAmountRequired, DefaultSafetyCeiling); err != nil {
		return err
	}
	return nil
}

// RequirementConfig is the input to BuildRequirements. Price is in human
// units of the asset; FeePayer names the facilitator account that will
// co-sign and broadcast.
type RequirementConfig struct {
	Scheme      string  // defaults to SchemeExact
	Network     Network `validate:"required"`
	Asset       Asset   // defaults to the network's default asset
	PayTo       string  `validate:"required"`
	Price       string  `validate:"required"`
	Description string
	Resource    string
	FeePayer    string
}

// BuildRequirements turns (payee, price, facilitator) into payment
// requirements, converting the price to atomic units via the asset's fixed
// decimal scale. Pure function; pricing decisions happen upstream.
func BuildRequirements(cfg RequirementConfig) (PaymentRequirements, error) {
	if err := validate.Struct(cfg); err != nil {
		return PaymentRequirements{}, NewProtocolError("invalid_requirements", err.Error())
	}
	scheme := cfg.Scheme
	if scheme == "" {
		scheme = SchemeExact
	}
	asset := cfg.Asset
	if asset.Address == "" {
		var err error
		asset, err = DefaultAsset(cfg.Network)
		if err != nil {
			return PaymentRequirements{}, NewProtocolError("unsupported_network", err.Error())
		}
	}

	atomic, err := AtomicFromHuman(cfg.Price, asset.Decimals)
	if err != nil {
		return PaymentRequirements{}, NewProtocolError("invalid_amount", err.Error())
	}

	r := PaymentRequirements{
		Scheme:            scheme,
		Network:           cfg.Network,
		Asset:             asset.Address,
		PayTo:             cfg.PayTo,
		MaxAmountRequired: strconv.FormatUint(atomic, 10),
		Extra: RequirementsExtra{
			FeePayer:    cfg.FeePayer,
			Description: cfg.Description,
			Resource:    cfg.Resource,
		},
	}
	if err := r.Validate(); err != nil {
		return PaymentRequirements{}, err
	}
	return r, nil
}
