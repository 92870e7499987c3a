// Package svm builds, signs, packs and unpacks the canonical x402 payment
// transaction for Solana: a 3-instruction message (compute-unit limit,
// compute-unit price, decimals-checked token transfer) wire-packed as
// [compact-u16 signer count][64-byte signature slots][compiled message].
package svm

const (
	// DefaultComputeUnitLimit bounds execution of the 3-instruction payment
	// message. A plain TransferChecked needs well under this; the ceiling
	// rejects padded transactions at execution time.
	DefaultComputeUnitLimit uint32 = 8000

	// DefaultComputeUnitPrice is the priority fee in micro-lamports per
	// compute unit.
	DefaultComputeUnitPrice uint64 = 1
)

// Instruction opcodes matched when validating and extracting transfers.
const (
	computeBudgetSetLimitOp uint8 = 2  // SetComputeUnitLimit
	computeBudgetSetPriceOp uint8 = 3  // SetComputeUnitPrice
	tokenTransferCheckedOp  uint8 = 12 // SPL Token TransferChecked
)

// paymentInstructionCount is the exact instruction count of a valid
// payment transaction.
const paymentInstructionCount = 3
