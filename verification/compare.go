package verification

import "github.com/silkroad-bazaar/x402/types"

// ValidatePaymentAmount requires the claimed amount to equal the required one exactly.
func ValidatePaymentAmount(actual, expected string) error {
	return matchClaim(types.ClaimAmount, actual, expected)
}

// ValidatePaymentRecipient requires the claimed recipient to equal payTo exactly.
func ValidatePaymentRecipient(actual, expected string) error {
	return matchClaim(types.ClaimRecipient, actual, expected)
}

// ValidateTokenMint requires the claimed mint to equal the required asset exactly.
func ValidateTokenMint(actual, expected string) error {
	return matchClaim(types.ClaimMint, actual, expected)
}

// CompareWithRequirements checks the payload's claim against req. The first
// mismatching dimension is returned as a *types.ClaimMismatchError.
func CompareWithRequirements(p *types.PaymentPayload, req *types.PaymentRequirements) error {
	if err := matchClaim(types.ClaimNetwork, p.Network, req.Network); err != nil {
		return err
	}
	if err := ValidatePaymentAmount(p.Payload.Amount, req.MaxAmountRequired); err != nil {
		return err
	}
	if err := ValidatePaymentRecipient(p.Payload.To, req.PayTo); err != nil {
		return err
	}
	return ValidateTokenMint(p.Payload.Mint, req.Asset)
}

func matchClaim(field types.ClaimField, actual, expected string) error {
	if actual != expected {
		return &types.ClaimMismatchError{Field: field, Expected: expected, Actual: actual}
	}
	return nil
}
