package types

import (
	"errors"
	"fmt"
)

// X402Error carries a stable code alongside a human readable message.
type X402Error struct {
	Code    string      `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

func (e X402Error) Error() string {
	return e.Message
}

// Common error codes
const (
	ErrInvalidPayload      = "INVALID_PAYLOAD"
	ErrInvalidRequirements = "INVALID_REQUIREMENTS"
	ErrUnsupportedNetwork  = "UNSUPPORTED_NETWORK"
	ErrEncodingFailed      = "ENCODING_FAILED"
	ErrVerificationFailed  = "VERIFICATION_FAILED"
	ErrSettlementFailed    = "SETTLEMENT_FAILED"
	ErrNetworkError        = "NETWORK_ERROR"
	ErrConfigError         = "CONFIG_ERROR"
)

// Verification failure codes reported in VerificationResult.Code and HTTP bodies.
const (
	CodePaymentRequired     = "payment_required"
	CodeUnsupportedVersion  = "unsupported_version"
	CodeUnsupportedScheme   = "unsupported_scheme"
	CodeUnsupportedNetwork  = "unsupported_network"
	CodeFieldMissing        = "field_missing"
	CodeNetworkMismatch     = "network_mismatch"
	CodeAmountMismatch      = "amount_mismatch"
	CodeRecipientMismatch   = "recipient_mismatch"
	CodeMintMismatch        = "mint_mismatch"
	CodeSenderMismatch      = "sender_mismatch"
	CodeProofAlreadyUsed    = "proof_already_used"
	CodeConfirmationTimeout = "confirmation_timeout"
	CodeTransactionFailed   = "transaction_failed"
	CodeBroadcastFailed     = "broadcast_failed"
	CodeInvalidTransaction  = "invalid_transaction"
	CodeNoClient            = "no_client"
	CodeChainUnavailable    = "chain_unavailable"
	CodeInvalidRequirements = "invalid_requirements"
	CodeRateLimited         = "rate_limited"
	CodeInternalError       = "internal_error"
)

// VersionMismatchError reports an x402Version other than the supported one.
type VersionMismatchError struct {
	Expected int
	Actual   int
}

func (e *VersionMismatchError) Error() string {
	return fmt.Sprintf("unsupported x402 version: %d (expected %d)", e.Actual, e.Expected)
}

func (e *VersionMismatchError) Code() string { return CodeUnsupportedVersion }

// SchemeMismatchError reports a scheme other than "exact".
type SchemeMismatchError struct {
	Expected string
	Actual   string
}

func (e *SchemeMismatchError) Error() string {
	return fmt.Sprintf("unsupported payment scheme: %q (expected %q)", e.Actual, e.Expected)
}

func (e *SchemeMismatchError) Code() string { return CodeUnsupportedScheme }

// NetworkMismatchError reports a network outside the recognized set.
type NetworkMismatchError struct {
	Actual string
}

func (e *NetworkMismatchError) Error() string {
	return fmt.Sprintf("unsupported network: %q", e.Actual)
}

func (e *NetworkMismatchError) Code() string { return CodeUnsupportedNetwork }

// FieldMissingError reports an empty required field in the inner payload.
type FieldMissingError struct {
	Field string
}

func (e *FieldMissingError) Error() string {
	return e.Field + " required"
}

func (e *FieldMissingError) Code() string { return CodeFieldMissing }

// ClaimField names the dimension of a payment claim that did not match.
type ClaimField string

const (
	ClaimNetwork   ClaimField = "network"
	ClaimAmount    ClaimField = "amount"
	ClaimRecipient ClaimField = "recipient"
	ClaimMint      ClaimField = "mint"
	ClaimSender    ClaimField = "sender"
)

// ClaimMismatchError reports a payload claim that differs from the requirements.
type ClaimMismatchError struct {
	Field    ClaimField
	Expected string
	Actual   string
}

func (e *ClaimMismatchError) Error() string {
	return fmt.Sprintf("%s mismatch: expected %s, got %s", e.Field, e.Expected, e.Actual)
}

func (e *ClaimMismatchError) Code() string {
	switch e.Field {
	case ClaimNetwork:
		return CodeNetworkMismatch
	case ClaimAmount:
		return CodeAmountMismatch
	case ClaimRecipient:
		return CodeRecipientMismatch
	case ClaimSender:
		return CodeSenderMismatch
	default:
		return CodeMintMismatch
	}
}

type coder interface {
	Code() string
}

// ErrorCode returns the stable code attached to err, or CodeInternalError.
func ErrorCode(err error) string {
	if err == nil {
		return ""
	}

	var c coder
	if errors.As(err, &c) {
		return c.Code()
	}

	var xe *X402Error
	if errors.As(err, &xe) {
		return xe.Code
	}
	var xv X402Error
	if errors.As(err, &xv) {
		return xv.Code
	}

	return CodeInternalError
}

// IsClaimMismatch reports whether err is a payload/requirements claim mismatch.
func IsClaimMismatch(err error) bool {
	var cm *ClaimMismatchError
	return errors.As(err, &cm)
}

// IsValidationError reports whether err comes from structural or semantic payload checks.
func IsValidationError(err error) bool {
	var (
		vm *VersionMismatchError
		sm *SchemeMismatchError
		nm *NetworkMismatchError
		fm *FieldMissingError
	)
	return errors.As(err, &vm) || errors.As(err, &sm) || errors.As(err, &nm) || errors.As(err, &fm)
}
