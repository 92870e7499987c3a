package x402

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPaymentHeaderRoundTrip(t *testing.T) {
	payload := PaymentPayload{
		X402Version: ProtocolVersion,
		Scheme:      SchemeExact,
		Network:     SolanaDevnet,
		Payload:     TransactionPayload{Transaction: "AQABAgME"},
	}

	header, err := payload.EncodeHeader()
	require.NoError(t, err)

	decoded, err := DecodePaymentHeader(header)
	require.NoError(t, err)
	assert.Equal(t, payload, *decoded)
}

func TestDecodePaymentHeaderRejects(t *testing.T) {
	tests := []struct {
		name    string
		payload PaymentPayload
		code    string
	}{
		{
			"unsupported version",
			PaymentPayload{X402Version: 2, Scheme: SchemeExact, Network: SolanaDevnet, Payload: TransactionPayload{Transaction: "AQ=="}},
			"unsupported_version",
		},
		{
			"missing transaction",
			PaymentPayload{X402Version: ProtocolVersion, Scheme: SchemeExact, Network: SolanaDevnet},
			"invalid_payment_header",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			header, err := tt.payload.EncodeHeader()
			require.NoError(t, err)
			_, err = DecodePaymentHeader(header)
			require.Error(t, err)
			assert.Equal(t, tt.code, ErrorReason(err))
		})
	}

	t.Run("not base64", func(t *testing.T) {
		_, err := DecodePaymentHeader("not base64 at all!!!")
		require.Error(t, err)
		assert.Equal(t, "invalid_payment_header", ErrorReason(err))
	})

	t.Run("base64 of garbage", func(t *testing.T) {
		_, err := DecodePaymentHeader("bm90IGpzb24=")
		require.Error(t, err)
		assert.Equal(t, "invalid_payment_header", ErrorReason(err))
	})
}

func TestResponseHeaderRoundTrip(t *testing.T) {
	result := SettlementResult{
		Success:     true,
		Transaction: "5VERYLongBase58Signature",
		Network:     SolanaMainnet,
		Payer:       "payer",
		Amount:      "2500",
	}

	header, err := result.EncodeResponseHeader()
	require.NoError(t, err)

	decoded, err := DecodeResponseHeader(header)
	require.NoError(t, err)
	assert.Equal(t, result, *decoded)
}

func TestNetworkParse(t *testing.T) {
	namespace, reference, err := SolanaMainnet.Parse()
	require.NoError(t, err)
	assert.Equal(t, "solana", namespace)
	assert.Equal(t, "5eykt4UsFv8P8NJdTREpY1vzqKqZKvdp", reference)

	assert.True(t, SolanaDevnet.IsSolana())
	assert.False(t, Network("eip155:8453").IsSolana())

	for _, bad := range []Network{"", "solana", "solana:", ":ref", "a:b:c"} {
		_, _, err := bad.Parse()
		assert.Error(t, err, "network %q", bad)
	}
}

func TestDefaultAsset(t *testing.T) {
	asset, err := DefaultAsset(SolanaMainnet)
	require.NoError(t, err)
	assert.Equal(t, USDCMainnet, asset)

	asset, err = DefaultAsset(SolanaDevnet)
	require.NoError(t, err)
	assert.Equal(t, USDCDevnet, asset)

	_, err = DefaultAsset("solana:unknown")
	assert.Error(t, err)
}
