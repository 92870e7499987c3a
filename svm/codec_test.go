package svm

import (
	"context"
	"encoding/base64"
	"testing"

	solana "github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	x402 "github.com/fluxpay/x402-solana"
)

func testBlockhash() solana.Hash {
	var h solana.Hash
	h[0] = 7
	return h
}

// buildSignedTx builds the canonical payment transaction and signs it with
// the authority key, leaving the fee-payer slot zeroed.
func buildSignedTx(t *testing.T, feePayer solana.PublicKey, authority *solana.Wallet, amount uint64) *solana.Transaction {
	t.Helper()

	mint := solana.MustPublicKeyFromBase58("4zMMC9srt5Ri5X14GAgXhaHii3GnPAEERYPJgZJDncDU")
	source, _, err := solana.FindAssociatedTokenAddress(authority.PublicKey(), mint)
	require.NoError(t, err)
	destination, _, err := solana.FindAssociatedTokenAddress(solana.NewWallet().PublicKey(), mint)
	require.NoError(t, err)

	tx, err := BuildTransferTransaction(TransferParams{
		FeePayer:    feePayer,
		Authority:   authority.PublicKey(),
		Source:      source,
		Destination: destination,
		Mint:        mint,
		Amount:      amount,
		Decimals:    6,
		Blockhash:   testBlockhash(),
	})
	require.NoError(t, err)

	signer, err := NewSignerFromPrivateKey(authority.PrivateKey.String())
	require.NoError(t, err)
	require.NoError(t, signer.SignTransaction(context.Background(), tx))
	return tx
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	authority := solana.NewWallet()
	feePayer := solana.NewWallet().PublicKey()
	tx := buildSignedTx(t, feePayer, authority, 2500)

	encoded, err := EncodeTransaction(tx)
	require.NoError(t, err)

	decoded, err := DecodeTransaction(encoded)
	require.NoError(t, err)

	require.Len(t, decoded.Signatures, int(tx.Message.Header.NumRequiredSignatures))
	assert.Equal(t, solana.Signature{}, decoded.Signatures[0], "fee payer slot stays zeroed")
	assert.Equal(t, feePayer, decoded.Message.AccountKeys[0])
	assert.Len(t, decoded.Message.Instructions, paymentInstructionCount)

	// Signatures survive the trip intact.
	assert.Equal(t, tx.Signatures, decoded.Signatures)
}

func TestExtractTransfer(t *testing.T) {
	authority := solana.NewWallet()
	tx := buildSignedTx(t, solana.NewWallet().PublicKey(), authority, 2500)

	transfer, err := ExtractTransfer(tx)
	require.NoError(t, err)
	assert.Equal(t, uint64(2500), transfer.Amount)
	assert.Equal(t, uint8(6), transfer.Decimals)
	assert.Equal(t, authority.PublicKey(), transfer.Authority)
}

func TestValidatePaymentTransaction(t *testing.T) {
	authority := solana.NewWallet()
	feePayer := solana.NewWallet().PublicKey()

	t.Run("partially signed payment passes", func(t *testing.T) {
		tx := buildSignedTx(t, feePayer, authority, 2500)
		require.NoError(t, ValidatePaymentTransaction(tx))
	})

	t.Run("self-sponsored single-slot payment passes", func(t *testing.T) {
		tx := buildSignedTx(t, authority.PublicKey(), authority, 2500)
		require.Equal(t, uint8(1), tx.Message.Header.NumRequiredSignatures)
		require.NoError(t, ValidatePaymentTransaction(tx))
	})

	t.Run("tampered authority signature rejected", func(t *testing.T) {
		tx := buildSignedTx(t, feePayer, authority, 2500)
		idx, err := tx.GetAccountIndex(authority.PublicKey())
		require.NoError(t, err)
		tx.Signatures[idx][0] ^= 0xff

		err = ValidatePaymentTransaction(tx)
		require.Error(t, err)
		assert.Equal(t, "signature_invalid", x402.ErrorReason(err))
	})

	t.Run("unsigned authority rejected", func(t *testing.T) {
		tx := buildSignedTx(t, feePayer, authority, 2500)
		idx, err := tx.GetAccountIndex(authority.PublicKey())
		require.NoError(t, err)
		tx.Signatures[idx] = solana.Signature{}

		err = ValidatePaymentTransaction(tx)
		require.Error(t, err)
		assert.Equal(t, "signature_invalid", x402.ErrorReason(err))
	})

	t.Run("wrong instruction count rejected", func(t *testing.T) {
		tx := buildSignedTx(t, feePayer, authority, 2500)
		tx.Message.Instructions = tx.Message.Instructions[:2]

		err := ValidatePaymentTransaction(tx)
		require.Error(t, err)
		assert.Equal(t, "corrupt_payload", x402.ErrorReason(err))
	})
}

func TestDecodeTransactionRejects(t *testing.T) {
	t.Run("not base64", func(t *testing.T) {
		_, err := DecodeTransaction("!!! not base64 !!!")
		require.Error(t, err)
		assert.Equal(t, "invalid_transaction", x402.ErrorReason(err))
	})

	t.Run("truncated buffer", func(t *testing.T) {
		// Claims two 64-byte slots but carries only a handful of bytes.
		_, err := DecodeTransaction(base64.StdEncoding.EncodeToString([]byte{2, 1, 2, 3}))
		require.Error(t, err)
		assert.Equal(t, "corrupt_payload", x402.ErrorReason(err))
	})

	t.Run("garbage message", func(t *testing.T) {
		buf := appendCompactU16(nil, 0)
		buf = append(buf, 0xde, 0xad, 0xbe, 0xef)
		_, err := DecodeTransaction(base64.StdEncoding.EncodeToString(buf))
		require.Error(t, err)
		assert.Equal(t, "corrupt_payload", x402.ErrorReason(err))
	})

	t.Run("signer count mismatch", func(t *testing.T) {
		authority := solana.NewWallet()
		tx := buildSignedTx(t, solana.NewWallet().PublicKey(), authority, 2500)
		msgBytes, err := tx.Message.MarshalBinary()
		require.NoError(t, err)

		// Pack one slot for a message that declares two signers.
		buf := appendCompactU16(nil, 1)
		buf = append(buf, make([]byte, solanaSignatureLen)...)
		buf = append(buf, msgBytes...)

		_, err = DecodeTransaction(base64.StdEncoding.EncodeToString(buf))
		require.Error(t, err)
		assert.Equal(t, "corrupt_payload", x402.ErrorReason(err))
	})
}

func TestCompactU16RoundTrip(t *testing.T) {
	for _, v := range []uint16{0, 1, 127, 128, 255, 16383, 16384, 65535} {
		buf := appendCompactU16(nil, v)
		got, n, err := readCompactU16(buf)
		require.NoError(t, err, "value %d", v)
		assert.Equal(t, v, got)
		assert.Equal(t, len(buf), n)
	}

	_, _, err := readCompactU16(nil)
	assert.Error(t, err)
	_, _, err = readCompactU16([]byte{0x80, 0x80})
	assert.Error(t, err)
	_, _, err = readCompactU16([]byte{0xff, 0xff, 0x7f})
	assert.Error(t, err)
}

func TestSignerPlacesDetachedSignature(t *testing.T) {
	authority := solana.NewWallet()
	tx := buildSignedTx(t, solana.NewWallet().PublicKey(), authority, 100)

	idx, err := tx.GetAccountIndex(authority.PublicKey())
	require.NoError(t, err)

	msgBytes, err := tx.Message.MarshalBinary()
	require.NoError(t, err)
	assert.True(t, tx.Signatures[idx].Verify(authority.PublicKey(), msgBytes))
	assert.Equal(t, solana.Signature{}, tx.Signatures[0])
}

func TestSignerRejectsForeignTransaction(t *testing.T) {
	authority := solana.NewWallet()
	stranger := solana.NewWallet()
	tx := buildSignedTx(t, solana.NewWallet().PublicKey(), authority, 100)

	signer, err := NewSignerFromPrivateKey(stranger.PrivateKey.String())
	require.NoError(t, err)
	assert.Error(t, signer.SignTransaction(context.Background(), tx))
}
