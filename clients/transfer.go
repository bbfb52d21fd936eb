package clients

import (
	"fmt"
	"strconv"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/programs/token"
)

// TransferSummary describes the single SPL token transfer found in a signed transaction.
type TransferSummary struct {
	Source      string
	Destination string
	Owner       string
	Mint        string
	Amount      uint64
	Decimals    uint8
}

// AmountString returns Amount in the smallest unit, the form used by payment payloads.
func (t *TransferSummary) AmountString() string {
	return strconv.FormatUint(t.Amount, 10)
}

// InspectTransfer finds the SPL token TransferChecked instruction in tx.
// Compute budget and other non-token instructions are ignored; a transaction
// with no TransferChecked, or with more than one, is rejected.
func InspectTransfer(tx *solana.Transaction) (*TransferSummary, error) {
	var found *TransferSummary

	for _, inst := range tx.Message.Instructions {
		if int(inst.ProgramIDIndex) >= len(tx.Message.AccountKeys) {
			return nil, &Error{
				Op:     "inspect_transfer",
				Reason: ErrInvalidSignedTransfer,
				Err:    fmt.Errorf("program index %d out of range", inst.ProgramIDIndex),
			}
		}

		prog := tx.Message.AccountKeys[inst.ProgramIDIndex]
		if !prog.Equals(solana.TokenProgramID) {
			continue
		}

		accounts, err := accountMetas(tx, inst.Accounts)
		if err != nil {
			return nil, err
		}

		decoded, err := token.DecodeInstruction(accounts, inst.Data)
		if err != nil {
			return nil, &Error{Op: "inspect_transfer", Reason: ErrInvalidSignedTransfer, Err: err}
		}

		transfer, ok := decoded.Impl.(*token.TransferChecked)
		if !ok {
			continue
		}
		if found != nil {
			return nil, &Error{Op: "inspect_transfer", Reason: ErrMultipleTransfers}
		}
		if transfer.Amount == nil || transfer.Decimals == nil {
			return nil, &Error{
				Op:     "inspect_transfer",
				Reason: ErrInvalidSignedTransfer,
				Err:    fmt.Errorf("transferChecked without amount or decimals"),
			}
		}

		found = &TransferSummary{
			Source:      transfer.GetSourceAccount().PublicKey.String(),
			Mint:        transfer.GetMintAccount().PublicKey.String(),
			Destination: transfer.GetDestinationAccount().PublicKey.String(),
			Owner:       transfer.GetOwnerAccount().PublicKey.String(),
			Amount:      *transfer.Amount,
			Decimals:    *transfer.Decimals,
		}
	}

	if found == nil {
		return nil, &Error{Op: "inspect_transfer", Reason: ErrNotATransferCheckedInstruction}
	}

	return found, nil
}

// SignTransfer builds and signs a transaction holding a single TransferChecked
// of amount of mint from payer's associated token account to payTo's. payer
// also pays the fee.
func SignTransfer(payer solana.PrivateKey, payTo, mint string, amount uint64, decimals uint8, recentBlockhash solana.Hash) (*solana.Transaction, error) {
	owner := payer.PublicKey()

	source, err := AssociatedTokenAddress(owner.String(), mint)
	if err != nil {
		return nil, err
	}
	destination, err := AssociatedTokenAddress(payTo, mint)
	if err != nil {
		return nil, err
	}

	ix := token.NewTransferCheckedInstruction(
		amount,
		decimals,
		solana.MustPublicKeyFromBase58(source),
		solana.MustPublicKeyFromBase58(mint),
		solana.MustPublicKeyFromBase58(destination),
		owner,
		nil,
	).Build()

	tx, err := solana.NewTransaction([]solana.Instruction{ix}, recentBlockhash, solana.TransactionPayer(owner))
	if err != nil {
		return nil, err
	}

	if _, err := tx.Sign(func(key solana.PublicKey) *solana.PrivateKey {
		if key.Equals(owner) {
			return &payer
		}
		return nil
	}); err != nil {
		return nil, fmt.Errorf("sign transfer: %w", err)
	}

	return tx, nil
}

// AssociatedTokenAddress returns the associated token account of wallet for mint.
func AssociatedTokenAddress(wallet, mint string) (string, error) {
	walletKey, err := solana.PublicKeyFromBase58(wallet)
	if err != nil {
		return "", fmt.Errorf("invalid wallet %q: %w", wallet, err)
	}
	mintKey, err := solana.PublicKeyFromBase58(mint)
	if err != nil {
		return "", fmt.Errorf("invalid mint %q: %w", mint, err)
	}

	ata, _, err := solana.FindAssociatedTokenAddress(walletKey, mintKey)
	if err != nil {
		return "", err
	}
	return ata.String(), nil
}

func accountMetas(tx *solana.Transaction, indexes []uint16) ([]*solana.AccountMeta, error) {
	metas := make([]*solana.AccountMeta, len(indexes))
	for i, idx := range indexes {
		if int(idx) >= len(tx.Message.AccountKeys) {
			return nil, &Error{
				Op:     "inspect_transfer",
				Reason: ErrInvalidSignedTransfer,
				Err:    fmt.Errorf("account index %d out of range", idx),
			}
		}

		pub := tx.Message.AccountKeys[idx]
		writable, err := tx.Message.IsWritable(pub)
		if err != nil {
			return nil, &Error{Op: "inspect_transfer", Reason: ErrInvalidSignedTransfer, Err: err}
		}

		metas[i] = &solana.AccountMeta{
			PublicKey:  pub,
			IsSigner:   tx.Message.IsSigner(pub),
			IsWritable: writable,
		}
	}
	return metas, nil
}
