package utils

import (
	"errors"
	"fmt"
	"math/big"
	"regexp"
	"unicode/utf8"

	"github.com/gagliardetto/solana-go"
	"github.com/go-playground/validator/v10"

	"github.com/silkroad-bazaar/x402/types"
)

var (
	usernamePattern = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)
	base58Pattern   = regexp.MustCompile(`^[1-9A-HJ-NP-Za-km-z]+$`)
)

// ValidateUsername accepts 3 to 50 letters, digits, underscores or hyphens.
func ValidateUsername(username string) error {
	err := validate.Var(username, "required,min=3,max=50,username")
	if err == nil {
		return nil
	}

	switch failedTag(err) {
	case "required":
		return fmt.Errorf("username is required")
	case "min", "max":
		return fmt.Errorf("username must be between 3 and 50 characters")
	default:
		return fmt.Errorf("username may only contain letters, numbers, underscores and hyphens")
	}
}

// ValidateWalletAddress is a loose length check for base58 account addresses.
// It does not decode the address; see ValidateSolanaAddress for that.
func ValidateWalletAddress(address string) error {
	err := validate.Var(address, "required,min=32,max=44")
	if err == nil {
		return nil
	}

	if failedTag(err) == "required" {
		return fmt.Errorf("wallet address is required")
	}
	return fmt.Errorf("wallet address must be between 32 and 44 characters, got %d", utf8.RuneCountInString(address))
}

// ValidateSolanaAddress decodes address as a base58 ed25519 public key.
func ValidateSolanaAddress(address string) error {
	if address == "" {
		return fmt.Errorf("address cannot be empty")
	}

	if _, err := solana.PublicKeyFromBase58(address); err != nil {
		return fmt.Errorf("invalid solana address %q: %w", address, err)
	}

	return nil
}

// ValidateBigInt checks if a string is a valid big integer
func ValidateBigInt(value string) (*big.Int, error) {
	if value == "" {
		return nil, fmt.Errorf("value cannot be empty")
	}

	bigInt := new(big.Int)
	_, success := bigInt.SetString(value, 10)
	if !success {
		return nil, fmt.Errorf("invalid big integer format")
	}

	return bigInt, nil
}

// ValidateTransactionSignature checks the shape of a Solana transaction signature.
func ValidateTransactionSignature(signature string) error {
	if signature == "" {
		return fmt.Errorf("transaction signature cannot be empty")
	}

	// base58 of 64 bytes, typically 87-88 characters
	if len(signature) < 80 || len(signature) > 90 {
		return fmt.Errorf("solana transaction signature has invalid length")
	}
	if !isBase58String(signature) {
		return fmt.Errorf("solana transaction signature must be valid base58")
	}

	return nil
}

// ValidateNetwork checks if a network is supported
func ValidateNetwork(network string) error {
	if !types.Network(network).IsSupported() {
		return fmt.Errorf("unsupported network: %s", network)
	}

	return nil
}

// ValidatePaymentScheme checks if a payment scheme is supported
func ValidatePaymentScheme(scheme string) error {
	if scheme != string(types.SchemeExact) {
		return fmt.Errorf("unsupported payment scheme: %s", scheme)
	}

	return nil
}

func isBase58String(s string) bool {
	return base58Pattern.MatchString(s)
}

func validateUsernameTag(fl validator.FieldLevel) bool {
	return usernamePattern.MatchString(fl.Field().String())
}

func failedTag(err error) string {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		return verrs[0].Tag()
	}
	return ""
}
