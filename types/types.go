package types

import (
	"fmt"
	"time"
)

// X402Version is the x402 protocol revision carried in every envelope.
type X402Version int

const (
	X402Version1 X402Version = 1
)

// Network names a Solana cluster payments settle on.
type Network string

const (
	NetworkSolanaMainnet Network = "solana-mainnet"
	NetworkSolanaDevnet  Network = "solana-devnet"
)

// PaymentScheme names how the paid amount is determined.
type PaymentScheme string

const (
	SchemeExact PaymentScheme = "exact"
)

// ProofMode selects what a payer submits as proof of payment.
type ProofMode string

const (
	// ProofModeSignature expects the signature of a transfer the payer already broadcast.
	ProofModeSignature ProofMode = "signature"

	// ProofModeSignedTransaction expects a signed but unbroadcast transfer; the verifier broadcasts it.
	ProofModeSignedTransaction ProofMode = "signed-transaction"
)

// IsValid reports whether m is a known proof mode.
func (m ProofMode) IsValid() bool {
	return m == ProofModeSignature || m == ProofModeSignedTransaction
}

const (
	// PaymentHeader is the request header carrying the encoded PaymentPayload.
	PaymentHeader = "X-Payment"

	// PaymentResponseHeader carries the confirmed transaction back to the payer.
	PaymentResponseHeader = "X-Payment-Response"

	// MimeTypeJSON is the only resource mime type the requirements builder emits.
	MimeTypeJSON = "application/json"
)

type SupportedItem struct {
	X402Version int    `json:"x402Version"`
	Scheme      string `json:"scheme"`
	Network     string `json:"network"`
}

type SupportedResponse struct {
	Kinds []SupportedItem `json:"kinds"`
}

// PaymentRequirements are the terms a resource server advertises in a 402 response.
type PaymentRequirements struct {
	// Scheme of the payment protocol to use. Only "exact" is defined.
	Scheme string `json:"scheme"`

	// Network of the blockchain to send payment on (e.g., "solana-devnet").
	Network string `json:"network"`

	// Price in the smallest unit of Asset, as a decimal integer string.
	MaxAmountRequired string `json:"maxAmountRequired"`

	// Identifier or path of the resource being purchased.
	Resource string `json:"resource"`

	Description string `json:"description"`

	// MimeType of the resource body.
	MimeType string `json:"mimeType"`

	// PayTo is the seller wallet; the transfer lands in its associated token account.
	PayTo string `json:"payTo"`

	// Maximum time in seconds the payer has to complete payment.
	MaxTimeoutSeconds int `json:"maxTimeoutSeconds"`

	// Mint address of the settlement token for Network.
	Asset string `json:"asset"`

	Extra map[string]interface{} `json:"extra,omitempty"`
}

// PaymentRequiredResponse is the body of an HTTP 402 response.
type PaymentRequiredResponse struct {
	X402Version int `json:"x402Version"`

	// Accepts holds the requirements, one entry per network offered.
	Accepts []PaymentRequirements `json:"accepts"`

	// Error says why the previous proof, if any, was rejected.
	Error string `json:"error,omitempty"`
}

// PaymentPayload is the payer's claim of having satisfied a PaymentRequirements.
// It travels base64 encoded in the X-Payment header.
type PaymentPayload struct {
	X402Version int          `json:"x402Version"`
	Scheme      string       `json:"scheme"`
	Network     string       `json:"network"`
	Payload     ExactPayload `json:"payload"`
}

// ExactPayload is the scheme specific part of an "exact" PaymentPayload.
type ExactPayload struct {
	// Signature of the submitted transfer. May be empty in signed-transaction mode.
	Signature string `json:"signature"`
	From      string `json:"from"`
	To        string `json:"to"`
	// Amount in the smallest unit of Mint.
	Amount string `json:"amount"`
	Mint   string `json:"mint"`

	// SignedTransaction is a base64 encoded, signed but unbroadcast transfer.
	SignedTransaction string `json:"signedTransaction,omitempty"`
}

// VerificationResult reports whether a proof was accepted. A rejection is a
// result with Success false and a Code, not an error.
type VerificationResult struct {
	Success     bool   `json:"success"`
	Transaction string `json:"transaction,omitempty"`
	Network     string `json:"network,omitempty"`
	Payer       string `json:"payer,omitempty"`
	Amount      string `json:"amount,omitempty"`
	Reason      string `json:"reason,omitempty"`
	Code        string `json:"code,omitempty"`
}

// SettlementResult contains the result of broadcasting and confirming a transfer
type SettlementResult struct {
	Success     bool   `json:"success"`
	Transaction string `json:"transaction,omitempty"`
	Network     string `json:"network,omitempty"`
	Slot        uint64 `json:"slot,omitempty"`
	Error       string `json:"error,omitempty"`
	Code        string `json:"code,omitempty"`
}

// TransactionStatus is what a chain client reports about a transaction signature.
type TransactionStatus struct {
	// Found is false while the cluster has no record of the signature.
	Found              bool   `json:"found"`
	Confirmed          bool   `json:"confirmed"`
	Err                string `json:"err,omitempty"`
	Slot               uint64 `json:"slot,omitempty"`
	ConfirmationStatus string `json:"confirmationStatus,omitempty"`
}

// Failed reports whether the transaction landed with an error.
func (s *TransactionStatus) Failed() bool {
	return s != nil && s.Err != ""
}

// ClientConfig configures the RPC client of one network.
type ClientConfig struct {
	Network    Network       `json:"network" validate:"required,oneof=solana-devnet solana-mainnet"`
	RPCUrl     string        `json:"rpcUrl" validate:"required,url"`
	Commitment string        `json:"commitment,omitempty" validate:"omitempty,oneof=confirmed finalized"`
	Timeout    time.Duration `json:"timeout,omitempty"`
}

// X402Config is the full configuration NewFromConfig builds an instance from.
type X402Config struct {
	DefaultTimeout  time.Duration            `json:"defaultTimeout,omitempty"`
	ProofMode       ProofMode                `json:"proofMode,omitempty" validate:"omitempty,oneof=signature signed-transaction"`
	ConfirmAttempts int                      `json:"confirmAttempts,omitempty" validate:"gte=0"`
	ConfirmInterval time.Duration            `json:"confirmInterval,omitempty"`
	Clients         map[Network]ClientConfig `json:"clients,omitempty" validate:"dive"`
	LogLevel        string                   `json:"logLevel,omitempty" validate:"omitempty,oneof=debug info warn error"`
	EnableMetrics   bool                     `json:"enableMetrics,omitempty"`
	RedisAddr       string                   `json:"redisAddr,omitempty"`
	RateLimit       float64                  `json:"rateLimit,omitempty" validate:"gte=0"`
	RateBurst       int                      `json:"rateBurst,omitempty" validate:"gte=0"`
	TrustProxy      bool                     `json:"trustProxy,omitempty"`
}

func (pr *PaymentRequirements) Validate() error {
	if pr.Scheme == "" {
		return fmt.Errorf("paymentRequirements.scheme is required")
	}

	if pr.Network == "" {
		return fmt.Errorf("paymentRequirements.network is required")
	}

	if pr.MaxAmountRequired == "" {
		return fmt.Errorf("paymentRequirements.maxAmountRequired is required")
	}

	if pr.PayTo == "" {
		return fmt.Errorf("paymentRequirements.payTo is required")
	}

	if pr.Asset == "" {
		return fmt.Errorf("paymentRequirements.asset is required")
	}

	if pr.MaxTimeoutSeconds <= 0 {
		return fmt.Errorf("paymentRequirements.maxTimeoutSeconds must be positive")
	}

	return nil
}

// IsSolana reports whether n belongs to the Solana family.
func (n Network) IsSolana() bool {
	return n == NetworkSolanaMainnet || n == NetworkSolanaDevnet
}

// IsSupported reports whether n is one of the recognized networks.
func (n Network) IsSupported() bool {
	_, ok := settlementAssets[n]
	return ok
}

func (n Network) String() string {
	return string(n)
}
