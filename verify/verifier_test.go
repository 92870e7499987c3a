package verify

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	x402 "github.com/fluxpay/x402-solana"
)

const (
	testMint        = "4zMMC9srt5Ri5X14GAgXhaHii3GnPAEERYPJgZJDncDU"
	testMerchant    = "9WzDXwBbmkg8ZTbNMqUxvQRAyrZzDsGYdLVL9zYtAWWM"
	testMerchantATA = "FCrMeDTAiZaPqYVcRhnRSB5pNdSp2aLHfEC2i1f6Litq"
	testCustomer    = "Fg6PaFpoGXkYsidMpWTK6W2BeZ7FEfcYkg476zPFsLnS"
	testCustomerATA = "HtUJbf8GpUFb1rVZsbMQBM1Rc1DnzXkR1R1oPYWoLcHG"
)

func testExpectation(amount uint64) Expectation {
	return Expectation{
		Recipient:             testMerchant,
		RecipientTokenAccount: testMerchantATA,
		Asset:                 x402.Asset{Address: testMint, Decimals: 6, Symbol: "USDC"},
		Amount:                amount,
	}
}

func transferCheckedIx(source, destination, authority, mint string, amount uint64, decimals uint8) ParsedInstruction {
	parsed := fmt.Sprintf(`{"type":"transferChecked","info":{"source":%q,"destination":%q,"authority":%q,"mint":%q,"tokenAmount":{"amount":"%d","decimals":%d}}}`,
		source, destination, authority, mint, amount, decimals)
	return ParsedInstruction{Program: "spl-token", ProgramID: "TokenkegQfeZyiNwAJbNbGKPFXCWuBvf9Ss623VQ5DA", Parsed: json.RawMessage(parsed)}
}

func computeBudgetIx() ParsedInstruction {
	return ParsedInstruction{Program: "", ProgramID: "ComputeBudget111111111111111111111111111111"}
}

func settledTx(instructions ...ParsedInstruction) *ParsedTransaction {
	blockTime := int64(1_756_684_800)
	tx := &ParsedTransaction{
		Slot:      123456,
		BlockTime: &blockTime,
		Meta:      &TransactionMeta{},
	}
	tx.Transaction.Signatures = []string{"testsig"}
	tx.Transaction.Message.AccountKeys = []AccountKey{
		{Pubkey: "feePayer11111111111111111111111111111111111", Signer: true},
		{Pubkey: testCustomer, Signer: true},
	}
	tx.Transaction.Message.Instructions = instructions
	return tx
}

// fakeReader plays back a queue of responses; the last one repeats.
type fakeReader struct {
	responses []func() (*ParsedTransaction, error)
	calls     int
}

func (r *fakeReader) GetParsedTransaction(context.Context, string) (*ParsedTransaction, error) {
	i := r.calls
	if i >= len(r.responses) {
		i = len(r.responses) - 1
	}
	r.calls++
	return r.responses[i]()
}

func readerOf(tx *ParsedTransaction, err error) *fakeReader {
	return &fakeReader{responses: []func() (*ParsedTransaction, error){
		func() (*ParsedTransaction, error) { return tx, err },
	}}
}

func TestVerifyTransfer(t *testing.T) {
	tx := settledTx(
		computeBudgetIx(),
		computeBudgetIx(),
		transferCheckedIx(testCustomerATA, testMerchantATA, testCustomer, testMint, 2500, 6),
	)
	v := New(readerOf(tx, nil))

	fact, err := v.VerifyTransfer(context.Background(), "testsig", testExpectation(2500))
	require.NoError(t, err)
	assert.Equal(t, testCustomer, fact.Payer)
	assert.Equal(t, testMerchantATA, fact.Recipient)
	assert.Equal(t, uint64(2500), fact.Amount)
	assert.Equal(t, testMint, fact.Asset)
	assert.Equal(t, time.Unix(1_756_684_800, 0).UTC(), fact.SettledAt)
}

func TestVerifyTransferToleranceBoundaries(t *testing.T) {
	tests := []struct {
		name    string
		settled uint64
		wantErr bool
	}{
		{"exact", 2500, false},
		{"upper boundary", 2525, false},
		{"lower boundary", 2475, false},
		{"above tolerance", 2526, true},
		{"below tolerance", 2474, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tx := settledTx(transferCheckedIx(testCustomerATA, testMerchantATA, testCustomer, testMint, tt.settled, 6))
			v := New(readerOf(tx, nil))

			_, err := v.VerifyTransfer(context.Background(), "testsig", testExpectation(2500))
			if !tt.wantErr {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.True(t, x402.IsKind(err, x402.KindAmountMismatch))
			assert.Equal(t, "amount_mismatch", x402.ErrorReason(err))
		})
	}
}

func TestVerifyTransferNotYetFinalized(t *testing.T) {
	v := New(readerOf(nil, nil), WithFinalityWindow(time.Millisecond, 5*time.Millisecond))

	_, err := v.VerifyTransfer(context.Background(), "testsig", testExpectation(2500))
	require.Error(t, err)
	assert.True(t, x402.IsKind(err, x402.KindNotYetFinalized))
	assert.True(t, err.(*x402.PaymentError).Retryable())
}

func TestVerifyTransferBecomesVisible(t *testing.T) {
	tx := settledTx(transferCheckedIx(testCustomerATA, testMerchantATA, testCustomer, testMint, 2500, 6))
	reader := &fakeReader{responses: []func() (*ParsedTransaction, error){
		func() (*ParsedTransaction, error) { return nil, nil },
		func() (*ParsedTransaction, error) { return tx, nil },
	}}
	v := New(reader, WithFinalityWindow(time.Millisecond, time.Second))

	_, err := v.VerifyTransfer(context.Background(), "testsig", testExpectation(2500))
	require.NoError(t, err)
	assert.Equal(t, 2, reader.calls)
}

func TestVerifyTransferExecutionFailed(t *testing.T) {
	tx := settledTx(transferCheckedIx(testCustomerATA, testMerchantATA, testCustomer, testMint, 2500, 6))
	tx.Meta.Err = json.RawMessage(`{"InstructionError":[2,{"Custom":1}]}`)
	v := New(readerOf(tx, nil))

	_, err := v.VerifyTransfer(context.Background(), "testsig", testExpectation(2500))
	require.Error(t, err)
	assert.True(t, x402.IsKind(err, x402.KindExecutionFailed))
}

func TestVerifyTransferWrongRecipient(t *testing.T) {
	tx := settledTx(transferCheckedIx(testCustomerATA, "somebodyElse", testCustomer, testMint, 2500, 6))
	v := New(readerOf(tx, nil))

	_, err := v.VerifyTransfer(context.Background(), "testsig", testExpectation(2500))
	require.Error(t, err)
	assert.True(t, x402.IsKind(err, x402.KindWrongRecipient))
}

func TestVerifyTransferMintMismatchDoesNotQualify(t *testing.T) {
	tx := settledTx(transferCheckedIx(testCustomerATA, testMerchantATA, testCustomer, "OtherMint", 2500, 6))
	v := New(readerOf(tx, nil))

	_, err := v.VerifyTransfer(context.Background(), "testsig", testExpectation(2500))
	require.Error(t, err)
	assert.True(t, x402.IsKind(err, x402.KindWrongRecipient))
}

func TestVerifyTransferFirstMatchWins(t *testing.T) {
	tx := settledTx(
		transferCheckedIx(testCustomerATA, testMerchantATA, testCustomer, testMint, 2500, 6),
		transferCheckedIx(testCustomerATA, testMerchantATA, testCustomer, testMint, 9999, 6),
	)
	v := New(readerOf(tx, nil))

	fact, err := v.VerifyTransfer(context.Background(), "testsig", testExpectation(2500))
	require.NoError(t, err)
	assert.Equal(t, uint64(2500), fact.Amount)
}

func TestVerifyTransferRequireSoleRejectsAmbiguity(t *testing.T) {
	tx := settledTx(
		transferCheckedIx(testCustomerATA, testMerchantATA, testCustomer, testMint, 2500, 6),
		transferCheckedIx(testCustomerATA, testMerchantATA, testCustomer, testMint, 2500, 6),
	)
	v := New(readerOf(tx, nil), WithRequireSoleTransfer())

	_, err := v.VerifyTransfer(context.Background(), "testsig", testExpectation(2500))
	require.Error(t, err)
	assert.Equal(t, "ambiguous_transfer", x402.ErrorReason(err))
}

func TestVerifyTransferNativeDeltaFallback(t *testing.T) {
	tx := settledTx()
	tx.Transaction.Message.AccountKeys = []AccountKey{
		{Pubkey: testCustomer, Signer: true},
		{Pubkey: testMerchant},
	}
	tx.Meta.PreBalances = []uint64{10_000, 1_000}
	tx.Meta.PostBalances = []uint64{4_000, 6_000}
	v := New(readerOf(tx, nil))

	exp := testExpectation(5_000)
	exp.Asset.Decimals = 9
	fact, err := v.VerifyTransfer(context.Background(), "testsig", exp)
	require.NoError(t, err)
	assert.Equal(t, uint64(5_000), fact.Amount)
	assert.Equal(t, testMerchant, fact.Recipient)
	assert.Equal(t, testCustomer, fact.Payer)
}

func TestVerifyTransferSurfacesLedgerErrors(t *testing.T) {
	ledgerErr := x402.NewPaymentError(x402.KindLedgerUnavailable, "ledger_unavailable", "connection refused")
	v := New(readerOf(nil, ledgerErr), WithFinalityWindow(time.Millisecond, 0))

	_, err := v.VerifyTransfer(context.Background(), "testsig", testExpectation(2500))
	require.Error(t, err)
	assert.True(t, x402.IsKind(err, x402.KindLedgerUnavailable))
}

func TestParsedInstructionDecode(t *testing.T) {
	t.Run("unchecked transfer", func(t *testing.T) {
		pi := ParsedInstruction{Program: "spl-token", Parsed: json.RawMessage(
			`{"type":"transfer","info":{"source":"a","destination":"b","authority":"c","amount":"42"}}`)}
		transfer, ok := pi.Decode().(TokenTransfer)
		require.True(t, ok)
		assert.Equal(t, uint64(42), transfer.Amount)
		assert.False(t, transfer.Checked)
		assert.Empty(t, transfer.Mint)
	})

	t.Run("system transfer", func(t *testing.T) {
		pi := ParsedInstruction{Program: "system", Parsed: json.RawMessage(
			`{"type":"transfer","info":{"source":"a","destination":"b","lamports":5000}}`)}
		transfer, ok := pi.Decode().(NativeTransfer)
		require.True(t, ok)
		assert.Equal(t, uint64(5000), transfer.Lamports)
	})

	t.Run("unrecognized becomes padding", func(t *testing.T) {
		pi := ParsedInstruction{Program: "stake", Parsed: json.RawMessage(`{"type":"delegate"}`)}
		_, ok := pi.Decode().(Unknown)
		assert.True(t, ok)
	})

	t.Run("undecodable amount becomes padding", func(t *testing.T) {
		pi := ParsedInstruction{Program: "spl-token", Parsed: json.RawMessage(
			`{"type":"transfer","info":{"amount":"not a number"}}`)}
		_, ok := pi.Decode().(Unknown)
		assert.True(t, ok)
	})
}
