package utils

import (
	"fmt"
	"math"

	"github.com/shopspring/decimal"
)

// USDCDecimals is the number of decimals of the USDC mint on every supported network.
const USDCDecimals int32 = 6

const (
	minAmount = 0.01
	maxAmount = 1_000_000
)

// AmountToSmallestUnit converts a decimal currency amount into the token's
// smallest unit. The float is taken at its shortest decimal representation,
// shifted by decimals and floored, so equal inputs always give equal strings.
// Non-finite amounts convert to "0".
func AmountToSmallestUnit(amount float64, decimals int32) string {
	if math.IsNaN(amount) || math.IsInf(amount, 0) {
		return "0"
	}

	return DecimalToSmallestUnit(decimal.NewFromFloat(amount), decimals)
}

// DecimalToSmallestUnit is AmountToSmallestUnit for an exact decimal input.
func DecimalToSmallestUnit(amount decimal.Decimal, decimals int32) string {
	return amount.Shift(decimals).Floor().String()
}

// SmallestUnitToAmount converts a smallest-unit integer string back to a decimal amount.
func SmallestUnitToAmount(value string, decimals int32) (decimal.Decimal, error) {
	bigInt, err := ValidateBigInt(value)
	if err != nil {
		return decimal.Zero, err
	}

	return decimal.NewFromBigInt(bigInt, -decimals), nil
}

// IsValidAmount reports whether amount is a listable price: within [0.01, 1_000_000].
func IsValidAmount(amount float64) bool {
	if math.IsNaN(amount) || math.IsInf(amount, 0) {
		return false
	}

	return amount >= minAmount && amount <= maxAmount
}

// ValidateAmount checks if an amount string is a valid decimal
func ValidateAmount(amount string) (*decimal.Decimal, error) {
	if amount == "" {
		return nil, fmt.Errorf("amount cannot be empty")
	}

	dec, err := decimal.NewFromString(amount)
	if err != nil {
		return nil, fmt.Errorf("invalid amount format: %w", err)
	}

	if dec.IsNegative() {
		return nil, fmt.Errorf("amount cannot be negative")
	}

	return &dec, nil
}

// ParseAmountWithDecimals parses a decimal amount string and converts it to the smallest unit string.
func ParseAmountWithDecimals(amount string, decimals int32) (string, error) {
	dec, err := ValidateAmount(amount)
	if err != nil {
		return "", err
	}

	return DecimalToSmallestUnit(*dec, decimals), nil
}
