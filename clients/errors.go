package clients

import (
	"fmt"

	"github.com/silkroad-bazaar/x402/types"
)

const (
	// -----------------------------
	// PROOF DECODING
	// -----------------------------
	ErrInvalidSignature      = "invalid_transaction_signature"
	ErrInvalidSignedTransfer = "invalid_signed_transaction"

	// -----------------------------
	// TRANSACTION STRUCTURE
	// -----------------------------
	ErrTransactionSignerMissingSignatures = "transaction_signer_missing_signatures"
	ErrNotATransferCheckedInstruction     = "transaction_instruction_not_transfer_checked"
	ErrMultipleTransfers                  = "transaction_contains_multiple_transfers"

	// -----------------------------
	// RPC
	// -----------------------------
	ErrStatusQueryFailed   = "status_query_failed"
	ErrTransactionNotFound = "transaction_not_found"
	ErrBroadcastRejected   = "broadcast_rejected"
)

// Error is returned by chain clients. Reason is one of the Err* constants above.
type Error struct {
	Op     string
	Reason string
	Err    error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Reason)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Reason, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Code maps Reason onto the verification failure codes.
func (e *Error) Code() string {
	switch e.Reason {
	case ErrStatusQueryFailed, ErrTransactionNotFound:
		return types.CodeChainUnavailable
	case ErrBroadcastRejected:
		return types.CodeBroadcastFailed
	default:
		return types.CodeInvalidTransaction
	}
}

// IsUnavailable reports whether err means the chain could not be reached or
// answered abnormally, as opposed to a bad proof.
func IsUnavailable(err error) bool {
	return types.ErrorCode(err) == types.CodeChainUnavailable
}
