package svm

import (
	"context"
	"fmt"
	"strconv"

	bin "github.com/gagliardetto/binary"
	solana "github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/programs/token"
	"github.com/gagliardetto/solana-go/rpc"

	x402 "github.com/fluxpay/x402-solana"
)

// Ledger is the read surface of the chain the payment builder needs:
// checkpoint lookup, account existence/ownership, mint metadata and an
// advisory balance probe. Implementations must honor context deadlines.
type Ledger interface {
	LatestBlockhash(ctx context.Context) (solana.Hash, error)
	AccountOwner(ctx context.Context, account solana.PublicKey) (owner solana.PublicKey, exists bool, err error)
	MintDecimals(ctx context.Context, mint solana.PublicKey) (uint8, error)
	TokenBalance(ctx context.Context, account solana.PublicKey) (uint64, error)
}

// RPCLedger implements Ledger over a Solana JSON-RPC endpoint.
type RPCLedger struct {
	client *rpc.Client
}

// NewRPCLedger creates a ledger handle for the given RPC URL.
func NewRPCLedger(rpcURL string) *RPCLedger {
	return &RPCLedger{client: rpc.New(rpcURL)}
}

// Client exposes the underlying RPC client for callers that need it.
func (l *RPCLedger) Client() *rpc.Client {
	return l.client
}

func (l *RPCLedger) LatestBlockhash(ctx context.Context) (solana.Hash, error) {
	out, err := l.client.GetLatestBlockhash(ctx, rpc.CommitmentFinalized)
	if err != nil {
		return solana.Hash{}, ledgerUnavailable("getLatestBlockhash", err)
	}
	return out.Value.Blockhash, nil
}

func (l *RPCLedger) AccountOwner(ctx context.Context, account solana.PublicKey) (solana.PublicKey, bool, error) {
	out, err := l.client.GetAccountInfo(ctx, account)
	if err == rpc.ErrNotFound {
		return solana.PublicKey{}, false, nil
	}
	if err != nil {
		return solana.PublicKey{}, false, ledgerUnavailable("getAccountInfo", err)
	}
	if out == nil || out.Value == nil {
		return solana.PublicKey{}, false, nil
	}
	return out.Value.Owner, true, nil
}

func (l *RPCLedger) MintDecimals(ctx context.Context, mint solana.PublicKey) (uint8, error) {
	out, err := l.client.GetAccountInfo(ctx, mint)
	if err != nil {
		return 0, ledgerUnavailable("getAccountInfo", err)
	}
	if out == nil || out.Value == nil {
		return 0, x402.NewProtocolError("invalid_asset", fmt.Sprintf("mint account %s does not exist", mint))
	}
	owner := out.Value.Owner
	if !owner.Equals(solana.TokenProgramID) && !owner.Equals(solana.Token2022ProgramID) {
		return 0, x402.NewProtocolError("invalid_asset", "asset was not created by a known token program")
	}
	var mintData token.Mint
	if err := bin.NewBinDecoder(out.Value.Data.GetBinary()).Decode(&mintData); err != nil {
		return 0, x402.NewProtocolError("invalid_asset", fmt.Sprintf("mint account data undecodable: %v", err))
	}
	return mintData.Decimals, nil
}

func (l *RPCLedger) TokenBalance(ctx context.Context, account solana.PublicKey) (uint64, error) {
	out, err := l.client.GetTokenAccountBalance(ctx, account, rpc.CommitmentConfirmed)
	if err != nil {
		return 0, ledgerUnavailable("getTokenAccountBalance", err)
	}
	if out == nil || out.Value == nil {
		return 0, nil
	}
	balance, err := strconv.ParseUint(out.Value.Amount, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("unparsable token balance %q: %w", out.Value.Amount, err)
	}
	return balance, nil
}

func ledgerUnavailable(call string, err error) *x402.PaymentError {
	return x402.NewPaymentError(x402.KindLedgerUnavailable, "ledger_unavailable",
		fmt.Sprintf("%s failed: %v", call, err))
}
