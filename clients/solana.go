package clients

import (
	"context"
	"fmt"

	binary "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/pkg/errors"

	"github.com/silkroad-bazaar/x402/types"
)

// SolanaClient answers transaction status queries and broadcasts signed
// transfers through a Solana JSON-RPC endpoint.
type SolanaClient struct {
	network    types.Network
	rpcURL     string
	commitment rpc.CommitmentType
	client     *rpc.Client
}

var _ Client = (*SolanaClient)(nil)

// NewSolanaClient creates a client for network that treats a transaction as
// confirmed once it reaches the "confirmed" commitment level.
func NewSolanaClient(network types.Network, rpcURL string) (*SolanaClient, error) {
	return NewSolanaClientFromConfig(types.ClientConfig{Network: network, RPCUrl: rpcURL})
}

// NewSolanaClientFromConfig creates a client from cfg. An empty Commitment
// means "confirmed".
func NewSolanaClientFromConfig(cfg types.ClientConfig) (*SolanaClient, error) {
	if !cfg.Network.IsSolana() {
		return nil, &types.X402Error{
			Code:    types.ErrUnsupportedNetwork,
			Message: fmt.Sprintf("network %s is not a Solana network", cfg.Network),
		}
	}
	if cfg.RPCUrl == "" {
		return nil, &types.X402Error{
			Code:    types.ErrConfigError,
			Message: fmt.Sprintf("rpc url is required for %s", cfg.Network),
		}
	}

	commitment := rpc.CommitmentConfirmed
	switch cfg.Commitment {
	case "", string(rpc.CommitmentConfirmed):
	case string(rpc.CommitmentFinalized):
		commitment = rpc.CommitmentFinalized
	default:
		return nil, &types.X402Error{
			Code:    types.ErrConfigError,
			Message: fmt.Sprintf("unsupported commitment %q", cfg.Commitment),
		}
	}

	return &SolanaClient{
		network:    cfg.Network,
		rpcURL:     cfg.RPCUrl,
		commitment: commitment,
		client:     rpc.New(cfg.RPCUrl),
	}, nil
}

// GetTransactionStatus looks signature up with transaction history search
// enabled so that proofs older than the recent status cache are still found.
func (c *SolanaClient) GetTransactionStatus(ctx context.Context, signature string) (*types.TransactionStatus, error) {
	sig, err := solana.SignatureFromBase58(signature)
	if err != nil {
		return nil, &Error{Op: "get_transaction_status", Reason: ErrInvalidSignature, Err: err}
	}

	out, err := c.client.GetSignatureStatuses(ctx, true, sig)
	if err != nil {
		return nil, &Error{
			Op:     "get_transaction_status",
			Reason: ErrStatusQueryFailed,
			Err:    errors.Wrapf(err, "getSignatureStatuses via %s", c.network),
		}
	}
	if out == nil || len(out.Value) == 0 {
		return &types.TransactionStatus{}, nil
	}

	return statusFromResult(out.Value[0], c.commitment), nil
}

// GetTransaction fetches the landed transaction in base64 encoding at the
// client's commitment. Versioned (v0) transactions are accepted.
func (c *SolanaClient) GetTransaction(ctx context.Context, signature string) ([]byte, error) {
	sig, err := solana.SignatureFromBase58(signature)
	if err != nil {
		return nil, &Error{Op: "get_transaction", Reason: ErrInvalidSignature, Err: err}
	}

	maxVersion := uint64(0)
	out, err := c.client.GetTransaction(ctx, sig, &rpc.GetTransactionOpts{
		Encoding:                       solana.EncodingBase64,
		Commitment:                     c.commitment,
		MaxSupportedTransactionVersion: &maxVersion,
	})
	if errors.Is(err, rpc.ErrNotFound) {
		return nil, &Error{Op: "get_transaction", Reason: ErrTransactionNotFound, Err: err}
	}
	if err != nil {
		return nil, &Error{
			Op:     "get_transaction",
			Reason: ErrStatusQueryFailed,
			Err:    errors.Wrapf(err, "getTransaction via %s", c.network),
		}
	}
	if out == nil || out.Transaction == nil {
		return nil, &Error{Op: "get_transaction", Reason: ErrTransactionNotFound}
	}

	raw := out.Transaction.GetBinary()
	if len(raw) == 0 {
		return nil, &Error{
			Op:     "get_transaction",
			Reason: ErrInvalidSignedTransfer,
			Err:    errors.New("transaction returned without binary encoding"),
		}
	}
	return raw, nil
}

// BroadcastSignedTransfer decodes signed, checks that every required signer
// has signed and submits it with preflight checks enabled.
func (c *SolanaClient) BroadcastSignedTransfer(ctx context.Context, signed []byte) (string, error) {
	tx, err := DecodeTransaction(signed)
	if err != nil {
		return "", err
	}

	sig, err := c.client.SendTransaction(ctx, tx)
	if err != nil {
		return "", &Error{
			Op:     "broadcast",
			Reason: ErrBroadcastRejected,
			Err:    errors.Wrapf(err, "sendTransaction via %s", c.network),
		}
	}

	return sig.String(), nil
}

func (c *SolanaClient) GetNetwork() types.Network { return c.network }

// Commitment returns the commitment level a status must reach to count as confirmed.
func (c *SolanaClient) Commitment() rpc.CommitmentType { return c.commitment }

func (c *SolanaClient) Close() {}

// DecodeTransaction parses a wire-format transaction and requires a non-zero
// signature for every required signer.
func DecodeTransaction(signed []byte) (*solana.Transaction, error) {
	if len(signed) == 0 {
		return nil, &Error{Op: "decode_transaction", Reason: ErrInvalidSignedTransfer, Err: errors.New("empty transaction")}
	}

	tx, err := solana.TransactionFromDecoder(binary.NewBinDecoder(signed))
	if err != nil {
		return nil, &Error{Op: "decode_transaction", Reason: ErrInvalidSignedTransfer, Err: err}
	}

	if err := checkSignatures(tx); err != nil {
		return nil, err
	}

	return tx, nil
}

func checkSignatures(tx *solana.Transaction) error {
	required := int(tx.Message.Header.NumRequiredSignatures)
	if required == 0 || len(tx.Signatures) < required {
		return &Error{
			Op:     "decode_transaction",
			Reason: ErrTransactionSignerMissingSignatures,
			Err:    fmt.Errorf("have %d signatures, need %d", len(tx.Signatures), required),
		}
	}

	for i := 0; i < required; i++ {
		if tx.Signatures[i] == (solana.Signature{}) {
			return &Error{
				Op:     "decode_transaction",
				Reason: ErrTransactionSignerMissingSignatures,
				Err:    fmt.Errorf("signature %d is empty", i),
			}
		}
	}

	return nil
}

// statusFromResult maps an RPC signature status onto a TransactionStatus.
// Nodes that predate confirmationStatus report rooted transactions with a nil
// confirmation count, which is treated as finalized.
func statusFromResult(res *rpc.SignatureStatusesResult, commitment rpc.CommitmentType) *types.TransactionStatus {
	if res == nil {
		return &types.TransactionStatus{}
	}

	level := res.ConfirmationStatus
	if level == "" && res.Confirmations == nil {
		level = rpc.ConfirmationStatusFinalized
	}

	status := &types.TransactionStatus{
		Found:              true,
		Slot:               res.Slot,
		ConfirmationStatus: string(level),
	}

	if res.Err != nil {
		status.Err = fmt.Sprintf("%v", res.Err)
		return status
	}

	switch level {
	case rpc.ConfirmationStatusFinalized:
		status.Confirmed = true
	case rpc.ConfirmationStatusConfirmed:
		status.Confirmed = commitment != rpc.CommitmentFinalized
	}

	return status
}
