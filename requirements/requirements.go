// Package requirements builds the payment terms a resource server sends in a 402 response.
package requirements

import (
	"fmt"

	"github.com/silkroad-bazaar/x402/types"
	"github.com/silkroad-bazaar/x402/utils"
)

const (
	// DefaultNetwork is used when no network is given.
	DefaultNetwork = types.NetworkSolanaMainnet

	// DefaultTimeoutSeconds is used when no positive timeout is given.
	DefaultTimeoutSeconds = 30
)

// Params describe what is being sold and to whom the payment goes.
type Params struct {
	PriceUSDC    float64 `json:"priceUSDC" validate:"gte=0.01,lte=1000000"`
	SellerWallet string  `json:"sellerWallet" validate:"required,min=32,max=44"`
	Resource     string  `json:"resource"`
	Description  string  `json:"description"`
}

// New returns the PaymentRequirements for p on network. The seller wallet is
// not validated here; call ValidateParams for that.
func New(p Params, network types.Network, timeoutSeconds int) (types.PaymentRequirements, error) {
	if network == "" {
		network = DefaultNetwork
	}
	if timeoutSeconds <= 0 {
		timeoutSeconds = DefaultTimeoutSeconds
	}

	asset, ok := types.SettlementAsset(network)
	if !ok {
		return types.PaymentRequirements{}, &types.X402Error{
			Code:    types.ErrUnsupportedNetwork,
			Message: fmt.Sprintf("unsupported network: %s", network),
		}
	}

	return types.PaymentRequirements{
		Scheme:            string(types.SchemeExact),
		Network:           string(network),
		MaxAmountRequired: utils.AmountToSmallestUnit(p.PriceUSDC, utils.USDCDecimals),
		Resource:          p.Resource,
		Description:       p.Description,
		MimeType:          types.MimeTypeJSON,
		PayTo:             p.SellerWallet,
		MaxTimeoutSeconds: timeoutSeconds,
		Asset:             asset,
	}, nil
}

// NewPaymentRequiredResponse wraps New in the 402 response envelope.
func NewPaymentRequiredResponse(p Params, network types.Network, timeoutSeconds int) (*types.PaymentRequiredResponse, error) {
	req, err := New(p, network, timeoutSeconds)
	if err != nil {
		return nil, err
	}

	return &types.PaymentRequiredResponse{
		X402Version: int(types.X402Version1),
		Accepts:     []types.PaymentRequirements{req},
	}, nil
}

// ValidateParams applies the optional strict checks: price within the listable
// range and a plausible seller address.
func ValidateParams(p Params) error {
	if !utils.IsValidAmount(p.PriceUSDC) {
		return &types.X402Error{
			Code:    types.ErrInvalidRequirements,
			Message: fmt.Sprintf("price must be between 0.01 and 1000000, got %v", p.PriceUSDC),
		}
	}

	if err := utils.Validator().Struct(p); err != nil {
		return &types.X402Error{
			Code:    types.ErrInvalidRequirements,
			Message: fmt.Sprintf("validation failed: %v", err),
		}
	}

	return nil
}
