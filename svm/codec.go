package svm

import (
	"encoding/base64"
	"encoding/binary"
	"fmt"

	bin "github.com/gagliardetto/binary"
	solana "github.com/gagliardetto/solana-go"
	computebudget "github.com/gagliardetto/solana-go/programs/compute-budget"
	"github.com/gagliardetto/solana-go/programs/token"

	x402 "github.com/fluxpay/x402-solana"
)

// TransferParams are the inputs to BuildTransferTransaction.
type TransferParams struct {
	FeePayer    solana.PublicKey
	Authority   solana.PublicKey // token authority, owner of Source
	Source      solana.PublicKey // payer's per-asset sub-account
	Destination solana.PublicKey // recipient's per-asset sub-account
	Mint        solana.PublicKey
	Amount      uint64
	Decimals    uint8
	Blockhash   solana.Hash

	// Zero values fall back to the package defaults.
	ComputeUnitLimit uint32
	ComputeUnitPrice uint64
}

// BuildTransferTransaction builds the canonical 3-instruction payment
// message: compute-unit limit, compute-unit price, TransferChecked. The fee
// payer occupies signer slot 0; the token authority signs the transfer. No
// signatures are attached.
func BuildTransferTransaction(p TransferParams) (*solana.Transaction, error) {
	if p.FeePayer.IsZero() {
		return nil, x402.NewProtocolError("fee_payer_required", "fee payer account is required")
	}
	if p.Amount == 0 {
		return nil, x402.NewProtocolError("invalid_amount", "transfer amount must be greater than zero")
	}

	limit := p.ComputeUnitLimit
	if limit == 0 {
		limit = DefaultComputeUnitLimit
	}
	price := p.ComputeUnitPrice
	if price == 0 {
		price = DefaultComputeUnitPrice
	}

	cuLimit, err := computebudget.NewSetComputeUnitLimitInstructionBuilder().
		SetUnits(limit).
		ValidateAndBuild()
	if err != nil {
		return nil, fmt.Errorf("build compute limit instruction: %w", err)
	}

	cuPrice, err := computebudget.NewSetComputeUnitPriceInstructionBuilder().
		SetMicroLamports(price).
		ValidateAndBuild()
	if err != nil {
		return nil, fmt.Errorf("build compute price instruction: %w", err)
	}

	transfer, err := token.NewTransferCheckedInstructionBuilder().
		SetAmount(p.Amount).
		SetDecimals(p.Decimals).
		SetSourceAccount(p.Source).
		SetMintAccount(p.Mint).
		SetDestinationAccount(p.Destination).
		SetOwnerAccount(p.Authority).
		ValidateAndBuild()
	if err != nil {
		return nil, fmt.Errorf("build transfer instruction: %w", err)
	}

	tx, err := solana.NewTransactionBuilder().
		AddInstruction(cuLimit).
		AddInstruction(cuPrice).
		AddInstruction(transfer).
		SetRecentBlockHash(p.Blockhash).
		SetFeePayer(p.FeePayer).
		Build()
	if err != nil {
		return nil, fmt.Errorf("build transaction: %w", err)
	}
	return tx, nil
}

// EncodeTransaction wire-packs a (possibly partially signed) transaction:
// compact-u16 signer count, one 64-byte slot per required signer, then the
// compiled message bytes. Missing signatures pack as 64 zero bytes so a
// co-signer can fill them later.
func EncodeTransaction(tx *solana.Transaction) (string, error) {
	msgBytes, err := tx.Message.MarshalBinary()
	if err != nil {
		return "", fmt.Errorf("marshal message: %w", err)
	}

	numSigners := int(tx.Message.Header.NumRequiredSignatures)
	if len(tx.Signatures) > numSigners {
		return "", corruptPayload(fmt.Sprintf("%d signatures for %d signer slots", len(tx.Signatures), numSigners))
	}
	slots := make([]solana.Signature, numSigners)
	copy(slots, tx.Signatures)

	buf := appendCompactU16(nil, uint16(numSigners))
	for _, sig := range slots {
		buf = append(buf, sig[:]...)
	}
	buf = append(buf, msgBytes...)

	return base64.StdEncoding.EncodeToString(buf), nil
}

// DecodeTransaction reverses EncodeTransaction: split signer count, each
// 64-byte slot, then deserialize the remainder into the compiled message.
func DecodeTransaction(encoded string) (*solana.Transaction, error) {
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, x402.NewProtocolError("invalid_transaction", "transaction is not valid base64")
	}

	count, n, err := readCompactU16(raw)
	if err != nil {
		return nil, corruptPayload(err.Error())
	}
	slotsEnd := n + int(count)*solanaSignatureLen
	if len(raw) <= slotsEnd {
		return nil, corruptPayload(fmt.Sprintf("buffer of %d bytes cannot hold %d signature slots", len(raw), count))
	}

	tx := &solana.Transaction{}
	tx.Signatures = make([]solana.Signature, count)
	for i := 0; i < int(count); i++ {
		start := n + i*solanaSignatureLen
		copy(tx.Signatures[i][:], raw[start:start+solanaSignatureLen])
	}

	if err := tx.Message.UnmarshalWithDecoder(bin.NewBinDecoder(raw[slotsEnd:])); err != nil {
		return nil, corruptPayload(fmt.Sprintf("message deserialization failed: %v", err))
	}
	if int(tx.Message.Header.NumRequiredSignatures) != int(count) {
		return nil, corruptPayload(fmt.Sprintf("message requires %d signers but %d slots were packed",
			tx.Message.Header.NumRequiredSignatures, count))
	}
	return tx, nil
}

func corruptPayload(detail string) *x402.PaymentError {
	return x402.NewProtocolError("corrupt_payload", "corrupt transaction payload: "+detail)
}

const solanaSignatureLen = 64

// appendCompactU16 appends v in Solana's compact-u16 (shortvec) encoding.
func appendCompactU16(buf []byte, v uint16) []byte {
	rem := uint32(v)
	for {
		b := byte(rem & 0x7f)
		rem >>= 7
		if rem == 0 {
			return append(buf, b)
		}
		buf = append(buf, b|0x80)
	}
}

// readCompactU16 reads a compact-u16 value, returning the value and the
// number of bytes consumed.
func readCompactU16(buf []byte) (uint16, int, error) {
	var v uint32
	for i := 0; i < 3; i++ {
		if i >= len(buf) {
			return 0, 0, fmt.Errorf("truncated compact-u16")
		}
		b := buf[i]
		v |= uint32(b&0x7f) << (7 * i)
		if b&0x80 == 0 {
			if v > 0xffff {
				return 0, 0, fmt.Errorf("compact-u16 out of range")
			}
			return uint16(v), i + 1, nil
		}
	}
	return 0, 0, fmt.Errorf("compact-u16 too long")
}

// Transfer holds the token-transfer facts compiled into a payment
// transaction.
type Transfer struct {
	Source      solana.PublicKey
	Mint        solana.PublicKey
	Destination solana.PublicKey
	Authority   solana.PublicKey
	Amount      uint64
	Decimals    uint8
}

// ExtractTransfer decodes the TransferChecked instruction of a payment
// transaction.
func ExtractTransfer(tx *solana.Transaction) (*Transfer, error) {
	if len(tx.Message.Instructions) != paymentInstructionCount {
		return nil, corruptPayload(fmt.Sprintf("expected %d instructions, got %d",
			paymentInstructionCount, len(tx.Message.Instructions)))
	}
	ix := tx.Message.Instructions[paymentInstructionCount-1]

	program, err := resolveKey(tx, ix.ProgramIDIndex)
	if err != nil {
		return nil, err
	}
	if !program.Equals(solana.TokenProgramID) && !program.Equals(solana.Token2022ProgramID) {
		return nil, corruptPayload("final instruction is not a token program instruction")
	}

	// TransferChecked data layout: opcode u8, amount u64 LE, decimals u8.
	if len(ix.Data) != 10 || ix.Data[0] != tokenTransferCheckedOp {
		return nil, corruptPayload("final instruction is not TransferChecked")
	}
	if len(ix.Accounts) < 4 {
		return nil, corruptPayload("TransferChecked instruction is missing accounts")
	}

	t := &Transfer{
		Amount:   binary.LittleEndian.Uint64(ix.Data[1:9]),
		Decimals: ix.Data[9],
	}
	// Account order: source, mint, destination, owner.
	if t.Source, err = resolveKey(tx, ix.Accounts[0]); err != nil {
		return nil, err
	}
	if t.Mint, err = resolveKey(tx, ix.Accounts[1]); err != nil {
		return nil, err
	}
	if t.Destination, err = resolveKey(tx, ix.Accounts[2]); err != nil {
		return nil, err
	}
	if t.Authority, err = resolveKey(tx, ix.Accounts[3]); err != nil {
		return nil, err
	}
	return t, nil
}

// ValidatePaymentTransaction enforces the payment payload invariant:
// exactly 3 instructions (compute limit, compute price, TransferChecked),
// fee payer in signer slot 0, and the token authority occupying a signer
// slot of its own unless it coincides with the fee payer. The authority's
// slot must hold a valid detached signature over the compiled message; the
// fee-payer slot may be zero (awaiting the co-signer).
func ValidatePaymentTransaction(tx *solana.Transaction) error {
	if len(tx.Message.Instructions) != paymentInstructionCount {
		return corruptPayload(fmt.Sprintf("expected %d instructions, got %d",
			paymentInstructionCount, len(tx.Message.Instructions)))
	}

	for i, op := range []uint8{computeBudgetSetLimitOp, computeBudgetSetPriceOp} {
		ix := tx.Message.Instructions[i]
		program, err := resolveKey(tx, ix.ProgramIDIndex)
		if err != nil {
			return err
		}
		if !program.Equals(solana.ComputeBudget) {
			return corruptPayload(fmt.Sprintf("instruction %d is not a compute budget instruction", i))
		}
		if len(ix.Data) == 0 || ix.Data[0] != op {
			return corruptPayload(fmt.Sprintf("instruction %d has unexpected compute budget opcode", i))
		}
	}

	transfer, err := ExtractTransfer(tx)
	if err != nil {
		return err
	}

	if len(tx.Message.AccountKeys) == 0 {
		return corruptPayload("empty account list")
	}
	feePayer := tx.Message.AccountKeys[0]

	numSigners := int(tx.Message.Header.NumRequiredSignatures)
	if len(tx.Signatures) != numSigners {
		return corruptPayload(fmt.Sprintf("%d signature slots for %d required signers", len(tx.Signatures), numSigners))
	}

	authorityIndex := -1
	for i := 0; i < numSigners; i++ {
		if tx.Message.AccountKeys[i].Equals(transfer.Authority) {
			authorityIndex = i
			break
		}
	}
	if authorityIndex < 0 {
		return corruptPayload("token authority is not a signer")
	}
	if transfer.Authority.Equals(feePayer) {
		// Degenerate self-sponsored payment: a single signer slot.
		if numSigners != 1 {
			return corruptPayload("fee payer and authority coincide but message declares extra signers")
		}
	} else if authorityIndex == 0 || numSigners < 2 {
		return corruptPayload("fee payer slot must be distinct from the token authority slot")
	}

	msgBytes, err := tx.Message.MarshalBinary()
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}
	if !tx.Signatures[authorityIndex].Verify(transfer.Authority, msgBytes) {
		return x402.NewProtocolError("signature_invalid", "token authority signature does not verify")
	}
	return nil
}

func resolveKey(tx *solana.Transaction, index uint16) (solana.PublicKey, error) {
	if int(index) >= len(tx.Message.AccountKeys) {
		return solana.PublicKey{}, corruptPayload(fmt.Sprintf("account index %d out of range", index))
	}
	return tx.Message.AccountKeys[index], nil
}
