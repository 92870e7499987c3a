package svm

import (
	"context"
	"fmt"

	solana "github.com/gagliardetto/solana-go"
)

// SignTransactionFunc is the callback used to sign payment transactions.
// Implementations place a detached signature over the compiled message into
// the signer's slot and leave every other slot untouched.
type SignTransactionFunc func(ctx context.Context, tx *solana.Transaction) error

// Signer holds the customer's token-authority credential. It only ever
// partially signs: the fee-payer slot stays zeroed for the facilitator.
type Signer struct {
	publicKey solana.PublicKey
	sign      SignTransactionFunc
}

// NewSigner creates a signer from a public key and signing callback, for
// keys held in external wallets or KMS systems.
func NewSigner(publicKey solana.PublicKey, sign SignTransactionFunc) (*Signer, error) {
	if publicKey.IsZero() {
		return nil, fmt.Errorf("public key is required")
	}
	if sign == nil {
		return nil, fmt.Errorf("sign callback is required")
	}
	return &Signer{publicKey: publicKey, sign: sign}, nil
}

// NewSignerFromPrivateKey creates a signer from a base58-encoded ed25519
// private key held in process.
func NewSignerFromPrivateKey(privateKeyBase58 string) (*Signer, error) {
	privateKey, err := solana.PrivateKeyFromBase58(privateKeyBase58)
	if err != nil {
		return nil, fmt.Errorf("invalid private key: %w", err)
	}
	return newSignerFromKey(privateKey)
}

func newSignerFromKey(privateKey solana.PrivateKey) (*Signer, error) {
	sign := func(_ context.Context, tx *solana.Transaction) error {
		return signWithPrivateKey(privateKey, tx)
	}
	return NewSigner(privateKey.PublicKey(), sign)
}

// Address returns the signer's public key.
func (s *Signer) Address() solana.PublicKey {
	return s.publicKey
}

// SignTransaction places the signer's detached signature into its slot.
func (s *Signer) SignTransaction(ctx context.Context, tx *solana.Transaction) error {
	return s.sign(ctx, tx)
}

func signWithPrivateKey(privateKey solana.PrivateKey, tx *solana.Transaction) error {
	msgBytes, err := tx.Message.MarshalBinary()
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	signature, err := privateKey.Sign(msgBytes)
	if err != nil {
		return fmt.Errorf("sign message: %w", err)
	}

	accountIndex, err := tx.GetAccountIndex(privateKey.PublicKey())
	if err != nil {
		return fmt.Errorf("signer is not a transaction account: %w", err)
	}

	// Size the slot array to the full signer count so unsigned slots stay
	// as 64 zero bytes for the co-signer.
	numSigners := int(tx.Message.Header.NumRequiredSignatures)
	if len(tx.Signatures) < numSigners {
		slots := make([]solana.Signature, numSigners)
		copy(slots, tx.Signatures)
		tx.Signatures = slots
	}
	if int(accountIndex) >= len(tx.Signatures) {
		return fmt.Errorf("signer account index %d is not a signer slot", accountIndex)
	}
	tx.Signatures[accountIndex] = signature
	return nil
}
