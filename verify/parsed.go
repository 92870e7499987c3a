// Package verify fetches settled transactions from the ledger, extracts
// transfer facts from their parsed instructions and checks them against the
// merchant's expectations.
package verify

import (
	"context"
	"encoding/json"
	"strconv"

	"github.com/gagliardetto/solana-go/rpc"

	x402 "github.com/fluxpay/x402-solana"
)

// ParsedTransaction is the jsonParsed view of a settled transaction as
// returned by the ledger RPC.
type ParsedTransaction struct {
	Slot        uint64           `json:"slot"`
	BlockTime   *int64           `json:"blockTime"`
	Meta        *TransactionMeta `json:"meta"`
	Transaction struct {
		Signatures []string      `json:"signatures"`
		Message    ParsedMessage `json:"message"`
	} `json:"transaction"`
}

// TransactionMeta carries the execution outcome and the pre/post native
// balances used by the balance-delta fallback.
type TransactionMeta struct {
	Err          json.RawMessage `json:"err"`
	PreBalances  []uint64        `json:"preBalances"`
	PostBalances []uint64        `json:"postBalances"`
}

// Failed reports whether the transaction executed with an on-chain error.
func (m *TransactionMeta) Failed() bool {
	return m != nil && len(m.Err) > 0 && string(m.Err) != "null"
}

// ParsedMessage is the account list and instruction list of a parsed
// transaction.
type ParsedMessage struct {
	AccountKeys  []AccountKey        `json:"accountKeys"`
	Instructions []ParsedInstruction `json:"instructions"`
}

// AccountKey is one entry of the parsed account list.
type AccountKey struct {
	Pubkey string `json:"pubkey"`
	Signer bool   `json:"signer"`
}

// ParsedInstruction is the raw per-instruction envelope; Decode resolves it
// into one of the typed variants below.
type ParsedInstruction struct {
	Program   string          `json:"program"`
	ProgramID string          `json:"programId"`
	Parsed    json.RawMessage `json:"parsed"`
}

// Instruction is a decoded parsed-instruction variant. Matching is done
// against these types rather than by probing dynamic JSON fields.
type Instruction interface {
	instruction()
}

// TokenTransfer is an SPL token transfer or transferChecked instruction.
// Mint is empty for the unchecked form.
type TokenTransfer struct {
	Source      string
	Destination string
	Authority   string
	Mint        string
	Amount      uint64
	Decimals    uint8
	Checked     bool
}

// NativeTransfer is a system-program lamport transfer.
type NativeTransfer struct {
	Source      string
	Destination string
	Lamports    uint64
}

// Memo is an spl-memo instruction; its content is irrelevant to
// verification.
type Memo struct {
	Data string
}

// Unknown covers every instruction the verifier does not match against.
type Unknown struct {
	Program string
	Type    string
}

func (TokenTransfer) instruction()  {}
func (NativeTransfer) instruction() {}
func (Memo) instruction()           {}
func (Unknown) instruction()        {}

type instructionEnvelope struct {
	Type string          `json:"type"`
	Info json.RawMessage `json:"info"`
}

type tokenAmount struct {
	Amount   string `json:"amount"`
	Decimals uint8  `json:"decimals"`
}

// Decode resolves a parsed instruction into its typed variant. Anything
// undecodable or unrecognized becomes Unknown; verification treats it as
// padding.
func (pi ParsedInstruction) Decode() Instruction {
	switch pi.Program {
	case "spl-token":
		return decodeTokenInstruction(pi.Parsed)
	case "system":
		return decodeSystemInstruction(pi.Parsed)
	case "spl-memo":
		var data string
		_ = json.Unmarshal(pi.Parsed, &data)
		return Memo{Data: data}
	}
	return Unknown{Program: pi.Program}
}

func decodeTokenInstruction(raw json.RawMessage) Instruction {
	var env instructionEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return Unknown{Program: "spl-token"}
	}
	switch env.Type {
	case "transferChecked":
		var info struct {
			Source      string      `json:"source"`
			Destination string      `json:"destination"`
			Authority   string      `json:"authority"`
			Mint        string      `json:"mint"`
			TokenAmount tokenAmount `json:"tokenAmount"`
		}
		if err := json.Unmarshal(env.Info, &info); err != nil {
			return Unknown{Program: "spl-token", Type: env.Type}
		}
		amount, err := strconv.ParseUint(info.TokenAmount.Amount, 10, 64)
		if err != nil {
			return Unknown{Program: "spl-token", Type: env.Type}
		}
		return TokenTransfer{
			Source:      info.Source,
			Destination: info.Destination,
			Authority:   info.Authority,
			Mint:        info.Mint,
			Amount:      amount,
			Decimals:    info.TokenAmount.Decimals,
			Checked:     true,
		}
	case "transfer":
		var info struct {
			Source      string `json:"source"`
			Destination string `json:"destination"`
			Authority   string `json:"authority"`
			Amount      string `json:"amount"`
		}
		if err := json.Unmarshal(env.Info, &info); err != nil {
			return Unknown{Program: "spl-token", Type: env.Type}
		}
		amount, err := strconv.ParseUint(info.Amount, 10, 64)
		if err != nil {
			return Unknown{Program: "spl-token", Type: env.Type}
		}
		return TokenTransfer{
			Source:      info.Source,
			Destination: info.Destination,
			Authority:   info.Authority,
			Amount:      amount,
		}
	}
	return Unknown{Program: "spl-token", Type: env.Type}
}

func decodeSystemInstruction(raw json.RawMessage) Instruction {
	var env instructionEnvelope
	if err := json.Unmarshal(raw, &env); err != nil || env.Type != "transfer" {
		return Unknown{Program: "system", Type: env.Type}
	}
	var info struct {
		Source      string `json:"source"`
		Destination string `json:"destination"`
		Lamports    uint64 `json:"lamports"`
	}
	if err := json.Unmarshal(env.Info, &info); err != nil {
		return Unknown{Program: "system", Type: env.Type}
	}
	return NativeTransfer{
		Source:      info.Source,
		Destination: info.Destination,
		Lamports:    info.Lamports,
	}
}

// TransactionReader fetches a settled transaction in parsed form. A nil
// result with nil error means the signature is unknown at the queried
// commitment, which is a retryable condition, not a failure.
type TransactionReader interface {
	GetParsedTransaction(ctx context.Context, signature string) (*ParsedTransaction, error)
}

// RPCReader implements TransactionReader over a Solana JSON-RPC client.
type RPCReader struct {
	client *rpc.Client
}

// NewRPCReader wraps an RPC client.
func NewRPCReader(client *rpc.Client) *RPCReader {
	return &RPCReader{client: client}
}

func (r *RPCReader) GetParsedTransaction(ctx context.Context, signature string) (*ParsedTransaction, error) {
	params := []interface{}{
		signature,
		map[string]interface{}{
			"encoding":                       "jsonParsed",
			"commitment":                     "confirmed",
			"maxSupportedTransactionVersion": 0,
		},
	}
	var out *ParsedTransaction
	if err := r.client.RPCCallForInto(ctx, &out, "getTransaction", params); err != nil {
		return nil, x402.NewPaymentError(x402.KindLedgerUnavailable, "ledger_unavailable",
			"getTransaction failed: "+err.Error())
	}
	return out, nil
}
