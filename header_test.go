package x402

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChallengeHeaderRoundTrip(t *testing.T) {
	original := PaymentRequirements{
		Scheme:            SchemeExact,
		Network:           SolanaDevnet,
		Asset:             USDCDevnet.Address,
		PayTo:             "9WzDXwBbmkg8ZTbNMqUxvQRAyrZzDsGYdLVL9zYtAWWM",
		MaxAmountRequired: "100000",
		Extra: RequirementsExtra{
			FeePayer: "Fg6PaFpoGXkYsidMpWTK6W2BeZ7FEfcYkg476zPFsLnS",
		},
	}

	header := EncodeChallengeHeader(original)
	assert.Contains(t, header, `x402, scheme="exact"`)
	assert.Contains(t, header, `maxAmountRequired="100000"`)

	parsed, err := ParseChallengeHeader(header)
	require.NoError(t, err)
	assert.Equal(t, original, parsed)
}

func TestChallengeHeaderOmitsEmptyFeePayer(t *testing.T) {
	r := PaymentRequirements{
		Scheme:            SchemeExact,
		Network:           SolanaDevnet,
		Asset:             USDCDevnet.Address,
		PayTo:             "9WzDXwBbmkg8ZTbNMqUxvQRAyrZzDsGYdLVL9zYtAWWM",
		MaxAmountRequired: "100000",
	}
	header := EncodeChallengeHeader(r)
	assert.NotContains(t, header, "feePayer")

	parsed, err := ParseChallengeHeader(header)
	require.NoError(t, err)
	assert.Empty(t, parsed.Extra.FeePayer)
}

func TestParseChallengeHeaderSkipsUnknownParams(t *testing.T) {
	header := `x402, scheme="exact", network="solana:EtWTRABZaYq6iMfeYKouRu166VU2xqa1", ` +
		`asset="4zMMC9srt5Ri5X14GAgXhaHii3GnPAEERYPJgZJDncDU", payTo="recipient", ` +
		`maxAmountRequired="2500", futureParam="ignored"`

	parsed, err := ParseChallengeHeader(header)
	require.NoError(t, err)
	assert.Equal(t, "recipient", parsed.PayTo)
	assert.Equal(t, "2500", parsed.MaxAmountRequired)
}

func TestParseChallengeHeaderRejects(t *testing.T) {
	tests := []struct {
		name   string
		header string
	}{
		{"wrong scheme token", `Bearer realm="api"`},
		{"unquoted value", `x402, scheme=exact, network="solana:EtWTRABZaYq6iMfeYKouRu166VU2xqa1", asset="a", payTo="b", maxAmountRequired="1"`},
		{"malformed parameter", `x402, scheme="exact", junk`},
		{"missing required fields", `x402, scheme="exact"`},
		{"zero amount", `x402, scheme="exact", network="solana:EtWTRABZaYq6iMfeYKouRu166VU2xqa1", asset="a", payTo="b", maxAmountRequired="0"`},
		{"non-solana network", `x402, scheme="exact", network="eip155:8453", asset="a", payTo="b", maxAmountRequired="1"`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseChallengeHeader(tt.header)
			require.Error(t, err)
			assert.True(t, IsKind(err, KindProtocol))
		})
	}
}
