package verification

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/silkroad-bazaar/x402/types"
)

func validPayload() *types.PaymentPayload {
	return &types.PaymentPayload{
		X402Version: 1,
		Scheme:      "exact",
		Network:     "solana-mainnet",
		Payload: types.ExactPayload{
			Signature: "5VERv8NMvzbJMEkV8xnrLkEaWRtSz9CosKDYjCJjBRnbJLgp8uirBgmQpjKhoR4tjF3ZpRzrFmBV6UjKdiSZkQUW",
			From:      "EAx3oF6kmpAa6aR9G6LjhuWoqKJLpYsufSDoGp2dDWkh",
			To:        "AejHuZdNpDUiAiwuV2NKXz8K6eLzChYGpTcxptinWbar",
			Amount:    "15000000",
			Mint:      "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v",
		},
	}
}

func TestValidatePaymentPayload_Valid(t *testing.T) {
	p := validPayload()
	assert.NoError(t, ValidatePaymentPayload(p))
	assert.True(t, IsValidPaymentPayload(p))
	assert.True(t, IsValidPaymentPayload(*p))
}

func TestValidatePaymentPayload_VersionGate(t *testing.T) {
	p := validPayload()
	p.X402Version = 2

	err := ValidatePaymentPayload(p)
	require.Error(t, err)

	var vm *types.VersionMismatchError
	require.True(t, errors.As(err, &vm))
	assert.Equal(t, 2, vm.Actual)
	assert.Contains(t, err.Error(), "version")
	assert.Equal(t, types.CodeUnsupportedVersion, types.ErrorCode(err))

	assert.False(t, IsValidPaymentPayload(p))
}

func TestValidatePaymentPayload_Failures(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(p *types.PaymentPayload)
		message string
		code    string
	}{
		{"scheme", func(p *types.PaymentPayload) { p.Scheme = "upto" }, "unsupported payment scheme", types.CodeUnsupportedScheme},
		{"network", func(p *types.PaymentPayload) { p.Network = "polygon" }, "unsupported network", types.CodeUnsupportedNetwork},
		{"signature", func(p *types.PaymentPayload) { p.Payload.Signature = "" }, "signature required", types.CodeFieldMissing},
		{"sender", func(p *types.PaymentPayload) { p.Payload.From = " " }, "sender required", types.CodeFieldMissing},
		{"recipient", func(p *types.PaymentPayload) { p.Payload.To = "" }, "recipient required", types.CodeFieldMissing},
		{"amount", func(p *types.PaymentPayload) { p.Payload.Amount = "\t" }, "amount required", types.CodeFieldMissing},
		{"mint", func(p *types.PaymentPayload) { p.Payload.Mint = "" }, "mint required", types.CodeFieldMissing},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := validPayload()
			tt.mutate(p)

			err := ValidatePaymentPayload(p)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.message)
			assert.Equal(t, tt.code, types.ErrorCode(err))
			assert.True(t, types.IsValidationError(err))
			assert.False(t, IsValidPaymentPayload(p))
		})
	}
}

func TestValidatePaymentPayload_Nil(t *testing.T) {
	assert.Error(t, ValidatePaymentPayload(nil))
	assert.False(t, IsValidPaymentPayload((*types.PaymentPayload)(nil)))
	assert.False(t, IsValidPaymentPayload(nil))
	assert.False(t, IsValidPaymentPayload("payload"))
}

func TestValidatePaymentPayloadForMode(t *testing.T) {
	t.Run("signed transaction mode requires the transaction", func(t *testing.T) {
		p := validPayload()
		err := ValidatePaymentPayloadForMode(p, types.ProofModeSignedTransaction)
		require.Error(t, err)
		assert.Equal(t, "signed transaction required", err.Error())
	})

	t.Run("signed transaction mode allows empty signature", func(t *testing.T) {
		p := validPayload()
		p.Payload.Signature = ""
		p.Payload.SignedTransaction = "AQID"
		assert.NoError(t, ValidatePaymentPayloadForMode(p, types.ProofModeSignedTransaction))
		assert.True(t, IsValidPaymentPayload(p))
	})

	t.Run("signature mode does not accept a signed transaction in place of a signature", func(t *testing.T) {
		p := validPayload()
		p.Payload.Signature = ""
		p.Payload.SignedTransaction = "AQID"
		err := ValidatePaymentPayloadForMode(p, types.ProofModeSignature)
		require.Error(t, err)
		assert.Equal(t, "signature required", err.Error())
	})
}

func TestClaimChecks(t *testing.T) {
	err := ValidatePaymentAmount("5000000", "4000000")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "5000000")
	assert.Contains(t, err.Error(), "4000000")
	assert.Equal(t, types.CodeAmountMismatch, types.ErrorCode(err))
	assert.True(t, types.IsClaimMismatch(err))

	err = ValidatePaymentRecipient("walletA", "walletB")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "walletA")
	assert.Contains(t, err.Error(), "walletB")
	assert.Equal(t, types.CodeRecipientMismatch, types.ErrorCode(err))

	err = ValidateTokenMint("mintA", "mintB")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "mintA")
	assert.Contains(t, err.Error(), "mintB")
	assert.Equal(t, types.CodeMintMismatch, types.ErrorCode(err))

	assert.NoError(t, ValidatePaymentAmount("1", "1"))
	assert.NoError(t, ValidatePaymentRecipient("a", "a"))
	assert.NoError(t, ValidateTokenMint("m", "m"))

	// exact string policy: numerically equal but differently written amounts do not match
	assert.Error(t, ValidatePaymentAmount("01", "1"))
}

func TestCompareWithRequirements(t *testing.T) {
	req := &types.PaymentRequirements{
		Scheme:            "exact",
		Network:           "solana-mainnet",
		MaxAmountRequired: "15000000",
		PayTo:             "AejHuZdNpDUiAiwuV2NKXz8K6eLzChYGpTcxptinWbar",
		Asset:             "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v",
		MaxTimeoutSeconds: 60,
	}

	assert.NoError(t, CompareWithRequirements(validPayload(), req))

	tests := []struct {
		name   string
		mutate func(p *types.PaymentPayload)
		field  types.ClaimField
	}{
		{"network", func(p *types.PaymentPayload) { p.Network = "solana-devnet" }, types.ClaimNetwork},
		{"amount", func(p *types.PaymentPayload) { p.Payload.Amount = "14999999" }, types.ClaimAmount},
		{"recipient", func(p *types.PaymentPayload) { p.Payload.To = "someoneElse" }, types.ClaimRecipient},
		{"mint", func(p *types.PaymentPayload) { p.Payload.Mint = "4zMMC9srt5Ri5X14GAgXhaHii3GnPAEERYPJgZJDncDU" }, types.ClaimMint},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := validPayload()
			tt.mutate(p)

			err := CompareWithRequirements(p, req)
			var cm *types.ClaimMismatchError
			require.True(t, errors.As(err, &cm))
			assert.Equal(t, tt.field, cm.Field)
		})
	}
}
