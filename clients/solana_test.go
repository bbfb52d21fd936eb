package clients

import (
	"context"
	"testing"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/programs/system"
	"github.com/gagliardetto/solana-go/programs/token"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/silkroad-bazaar/x402/types"
)

const devnetUSDC = "4zMMC9srt5Ri5X14GAgXhaHii3GnPAEERYPJgZJDncDU"

func signedTransfer(t *testing.T, owner *solana.Wallet, payTo solana.PublicKey, amount uint64, extra ...solana.Instruction) (*solana.Transaction, []byte) {
	t.Helper()

	mint := solana.MustPublicKeyFromBase58(devnetUSDC)
	source, _, err := solana.FindAssociatedTokenAddress(owner.PublicKey(), mint)
	require.NoError(t, err)
	destination, _, err := solana.FindAssociatedTokenAddress(payTo, mint)
	require.NoError(t, err)

	instructions := append([]solana.Instruction{}, extra...)
	instructions = append(instructions,
		token.NewTransferCheckedInstruction(amount, 6, source, mint, destination, owner.PublicKey(), nil).Build(),
	)

	tx, err := solana.NewTransaction(instructions, solana.Hash{}, solana.TransactionPayer(owner.PublicKey()))
	require.NoError(t, err)

	_, err = tx.Sign(func(key solana.PublicKey) *solana.PrivateKey {
		if key.Equals(owner.PublicKey()) {
			return &owner.PrivateKey
		}
		return nil
	})
	require.NoError(t, err)

	raw, err := tx.MarshalBinary()
	require.NoError(t, err)
	return tx, raw
}

func TestNewSolanaClientFromConfig(t *testing.T) {
	c, err := NewSolanaClient(types.NetworkSolanaDevnet, "https://api.devnet.solana.com")
	require.NoError(t, err)
	assert.Equal(t, types.NetworkSolanaDevnet, c.GetNetwork())
	assert.Equal(t, rpc.CommitmentConfirmed, c.Commitment())

	c, err = NewSolanaClientFromConfig(types.ClientConfig{
		Network:    types.NetworkSolanaMainnet,
		RPCUrl:     "https://api.mainnet-beta.solana.com",
		Commitment: "finalized",
	})
	require.NoError(t, err)
	assert.Equal(t, rpc.CommitmentFinalized, c.Commitment())

	_, err = NewSolanaClient("base-sepolia", "https://example.com")
	assert.Equal(t, types.ErrUnsupportedNetwork, types.ErrorCode(err))

	_, err = NewSolanaClient(types.NetworkSolanaDevnet, "")
	assert.Equal(t, types.ErrConfigError, types.ErrorCode(err))

	_, err = NewSolanaClientFromConfig(types.ClientConfig{
		Network:    types.NetworkSolanaDevnet,
		RPCUrl:     "https://api.devnet.solana.com",
		Commitment: "processed",
	})
	assert.Equal(t, types.ErrConfigError, types.ErrorCode(err))
}

func TestStatusFromResult(t *testing.T) {
	three := uint64(3)

	tests := []struct {
		name       string
		res        *rpc.SignatureStatusesResult
		commitment rpc.CommitmentType
		want       types.TransactionStatus
	}{
		{
			name:       "unknown signature",
			res:        nil,
			commitment: rpc.CommitmentConfirmed,
			want:       types.TransactionStatus{},
		},
		{
			name:       "processed is not confirmed",
			res:        &rpc.SignatureStatusesResult{Slot: 10, Confirmations: &three, ConfirmationStatus: rpc.ConfirmationStatusProcessed},
			commitment: rpc.CommitmentConfirmed,
			want:       types.TransactionStatus{Found: true, Slot: 10, ConfirmationStatus: "processed"},
		},
		{
			name:       "confirmed meets confirmed",
			res:        &rpc.SignatureStatusesResult{Slot: 11, Confirmations: &three, ConfirmationStatus: rpc.ConfirmationStatusConfirmed},
			commitment: rpc.CommitmentConfirmed,
			want:       types.TransactionStatus{Found: true, Confirmed: true, Slot: 11, ConfirmationStatus: "confirmed"},
		},
		{
			name:       "confirmed does not meet finalized",
			res:        &rpc.SignatureStatusesResult{Slot: 11, Confirmations: &three, ConfirmationStatus: rpc.ConfirmationStatusConfirmed},
			commitment: rpc.CommitmentFinalized,
			want:       types.TransactionStatus{Found: true, Slot: 11, ConfirmationStatus: "confirmed"},
		},
		{
			name:       "finalized meets finalized",
			res:        &rpc.SignatureStatusesResult{Slot: 12, ConfirmationStatus: rpc.ConfirmationStatusFinalized},
			commitment: rpc.CommitmentFinalized,
			want:       types.TransactionStatus{Found: true, Confirmed: true, Slot: 12, ConfirmationStatus: "finalized"},
		},
		{
			name:       "rooted on legacy node",
			res:        &rpc.SignatureStatusesResult{Slot: 13},
			commitment: rpc.CommitmentFinalized,
			want:       types.TransactionStatus{Found: true, Confirmed: true, Slot: 13, ConfirmationStatus: "finalized"},
		},
		{
			name:       "landed with error",
			res:        &rpc.SignatureStatusesResult{Slot: 14, ConfirmationStatus: rpc.ConfirmationStatusFinalized, Err: "InsufficientFundsForRent"},
			commitment: rpc.CommitmentConfirmed,
			want:       types.TransactionStatus{Found: true, Slot: 14, ConfirmationStatus: "finalized", Err: "InsufficientFundsForRent"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := statusFromResult(tt.res, tt.commitment)
			assert.Equal(t, tt.want, *got)
			assert.Equal(t, tt.want.Err != "", got.Failed())
		})
	}
}

func TestGetTransactionStatus_InvalidSignature(t *testing.T) {
	c, err := NewSolanaClient(types.NetworkSolanaDevnet, "http://127.0.0.1:1")
	require.NoError(t, err)

	_, err = c.GetTransactionStatus(context.Background(), "not-a-signature")
	require.Error(t, err)

	var ce *Error
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, ErrInvalidSignature, ce.Reason)
	assert.Equal(t, types.CodeInvalidTransaction, types.ErrorCode(err))
	assert.False(t, IsUnavailable(err))
}

func TestBroadcastSignedTransfer_RejectsGarbage(t *testing.T) {
	c, err := NewSolanaClient(types.NetworkSolanaDevnet, "http://127.0.0.1:1")
	require.NoError(t, err)

	for name, raw := range map[string][]byte{
		"empty":   nil,
		"garbage": []byte{0xff, 0x01, 0x02},
	} {
		t.Run(name, func(t *testing.T) {
			_, err := c.BroadcastSignedTransfer(context.Background(), raw)
			require.Error(t, err)
			assert.Equal(t, types.CodeInvalidTransaction, types.ErrorCode(err))
		})
	}
}

func TestDecodeTransaction(t *testing.T) {
	owner := solana.NewWallet()
	payTo := solana.NewWallet().PublicKey()

	tx, raw := signedTransfer(t, owner, payTo, 10_500_000)

	decoded, err := DecodeTransaction(raw)
	require.NoError(t, err)
	assert.Equal(t, tx.Signatures[0], decoded.Signatures[0])
}

func TestCheckSignatures(t *testing.T) {
	owner := solana.NewWallet()
	payTo := solana.NewWallet().PublicKey()
	tx, _ := signedTransfer(t, owner, payTo, 1)

	require.NoError(t, checkSignatures(tx))

	tx.Signatures = nil
	err := checkSignatures(tx)
	var ce *Error
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, ErrTransactionSignerMissingSignatures, ce.Reason)

	tx.Signatures = []solana.Signature{{}}
	err = checkSignatures(tx)
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, ErrTransactionSignerMissingSignatures, ce.Reason)
}

func TestInspectTransfer(t *testing.T) {
	owner := solana.NewWallet()
	payTo := solana.NewWallet().PublicKey()

	tx, _ := signedTransfer(t, owner, payTo, 10_500_000)

	summary, err := InspectTransfer(tx)
	require.NoError(t, err)
	assert.Equal(t, devnetUSDC, summary.Mint)
	assert.Equal(t, owner.PublicKey().String(), summary.Owner)
	assert.Equal(t, "10500000", summary.AmountString())
	assert.Equal(t, uint8(6), summary.Decimals)

	wantDest, err := AssociatedTokenAddress(payTo.String(), devnetUSDC)
	require.NoError(t, err)
	assert.Equal(t, wantDest, summary.Destination)

	wantSource, err := AssociatedTokenAddress(owner.PublicKey().String(), devnetUSDC)
	require.NoError(t, err)
	assert.Equal(t, wantSource, summary.Source)
}

func TestInspectTransfer_NoTokenTransfer(t *testing.T) {
	owner := solana.NewWallet()
	payTo := solana.NewWallet().PublicKey()

	ix := system.NewTransferInstruction(1_000, owner.PublicKey(), payTo).Build()
	tx, err := solana.NewTransaction([]solana.Instruction{ix}, solana.Hash{}, solana.TransactionPayer(owner.PublicKey()))
	require.NoError(t, err)

	_, err = InspectTransfer(tx)
	var ce *Error
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, ErrNotATransferCheckedInstruction, ce.Reason)
}

func TestInspectTransfer_MultipleTransfers(t *testing.T) {
	owner := solana.NewWallet()
	payTo := solana.NewWallet().PublicKey()
	mint := solana.MustPublicKeyFromBase58(devnetUSDC)
	source, _, err := solana.FindAssociatedTokenAddress(owner.PublicKey(), mint)
	require.NoError(t, err)
	other, _, err := solana.FindAssociatedTokenAddress(solana.NewWallet().PublicKey(), mint)
	require.NoError(t, err)

	second := token.NewTransferCheckedInstruction(5, 6, source, mint, other, owner.PublicKey(), nil).Build()
	tx, _ := signedTransfer(t, owner, payTo, 10, second)

	_, err = InspectTransfer(tx)
	var ce *Error
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, ErrMultipleTransfers, ce.Reason)
}

func TestAssociatedTokenAddress_Invalid(t *testing.T) {
	_, err := AssociatedTokenAddress("not base58 0OIl", devnetUSDC)
	assert.Error(t, err)

	_, err = AssociatedTokenAddress(solana.NewWallet().PublicKey().String(), "bad")
	assert.Error(t, err)
}

func TestGetTransaction_InvalidSignature(t *testing.T) {
	c, err := NewSolanaClient(types.NetworkSolanaDevnet, "http://127.0.0.1:1")
	require.NoError(t, err)

	_, err = c.GetTransaction(context.Background(), "not-a-signature")
	var ce *Error
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, "get_transaction", ce.Op)
	assert.Equal(t, ErrInvalidSignature, ce.Reason)
}

func TestError_TransactionNotFoundIsUnavailable(t *testing.T) {
	err := &Error{Op: "get_transaction", Reason: ErrTransactionNotFound}
	assert.Equal(t, types.CodeChainUnavailable, types.ErrorCode(err))
	assert.True(t, IsUnavailable(err))
}

func TestSignTransfer(t *testing.T) {
	payer := solana.NewWallet()
	payTo := solana.NewWallet().PublicKey().String()

	tx, err := SignTransfer(payer.PrivateKey, payTo, devnetUSDC, 2_500_000, 6, solana.Hash{})
	require.NoError(t, err)
	require.NoError(t, checkSignatures(tx))
	assert.Equal(t, payer.PublicKey(), tx.Message.AccountKeys[0])

	raw, err := tx.MarshalBinary()
	require.NoError(t, err)
	decoded, err := DecodeTransaction(raw)
	require.NoError(t, err)

	summary, err := InspectTransfer(decoded)
	require.NoError(t, err)
	assert.Equal(t, payer.PublicKey().String(), summary.Owner)
	assert.Equal(t, "2500000", summary.AmountString())
	assert.Equal(t, devnetUSDC, summary.Mint)

	wantDest, err := AssociatedTokenAddress(payTo, devnetUSDC)
	require.NoError(t, err)
	assert.Equal(t, wantDest, summary.Destination)

	_, err = SignTransfer(payer.PrivateKey, "bad", devnetUSDC, 1, 6, solana.Hash{})
	assert.Error(t, err)
}
