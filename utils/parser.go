package utils

import (
	"encoding/json"
	"fmt"

	"github.com/go-playground/validator/v10"

	"github.com/silkroad-bazaar/x402/types"
)

var validate *validator.Validate

func init() {
	validate = validator.New()

	// Register custom validators
	if err := validate.RegisterValidation("username", validateUsernameTag); err != nil {
		panic(err)
	}
}

// Validator returns the shared validator instance with the package's custom tags registered.
func Validator() *validator.Validate {
	return validate
}

// ParsePaymentRequirements parses and validates PaymentRequirements from JSON
func ParsePaymentRequirements(data []byte) (*types.PaymentRequirements, error) {
	var req types.PaymentRequirements

	if err := json.Unmarshal(data, &req); err != nil {
		return nil, &types.X402Error{
			Code:    types.ErrInvalidRequirements,
			Message: fmt.Sprintf("failed to parse payment requirements: %v", err),
		}
	}

	if err := req.Validate(); err != nil {
		return nil, &types.X402Error{
			Code:    types.ErrInvalidRequirements,
			Message: err.Error(),
		}
	}

	if err := ValidateNetwork(req.Network); err != nil {
		return nil, &types.X402Error{
			Code:    types.ErrUnsupportedNetwork,
			Message: err.Error(),
		}
	}

	return &req, nil
}

// ParseClientConfig parses ClientConfig from JSON
func ParseClientConfig(data []byte) (*types.ClientConfig, error) {
	var config types.ClientConfig

	if err := json.Unmarshal(data, &config); err != nil {
		return nil, &types.X402Error{
			Code:    types.ErrConfigError,
			Message: fmt.Sprintf("failed to parse client config: %v", err),
		}
	}

	if err := validate.Struct(&config); err != nil {
		return nil, &types.X402Error{
			Code:    types.ErrConfigError,
			Message: fmt.Sprintf("validation failed: %v", err),
		}
	}

	return &config, nil
}

// ParseX402Config parses X402Config from JSON
func ParseX402Config(data []byte) (*types.X402Config, error) {
	var config types.X402Config

	if err := json.Unmarshal(data, &config); err != nil {
		return nil, &types.X402Error{
			Code:    types.ErrConfigError,
			Message: fmt.Sprintf("failed to parse x402 config: %v", err),
		}
	}

	if err := ValidateX402Config(&config); err != nil {
		return nil, err
	}

	return &config, nil
}

// ValidateX402Config runs the struct tag checks on config.
func ValidateX402Config(config *types.X402Config) error {
	if err := validate.Struct(config); err != nil {
		return &types.X402Error{
			Code:    types.ErrConfigError,
			Message: fmt.Sprintf("validation failed: %v", err),
		}
	}

	return nil
}
