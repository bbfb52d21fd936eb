// Package x402 implements the x402 payment protocol for Solana USDC
// payments: it builds payment requirements, decodes and verifies X-Payment
// proofs, confirms them on chain and guards resources behind a paywall.
package x402

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/silkroad-bazaar/x402/clients"
	"github.com/silkroad-bazaar/x402/codec"
	"github.com/silkroad-bazaar/x402/ledger"
	"github.com/silkroad-bazaar/x402/logger"
	"github.com/silkroad-bazaar/x402/metrics"
	"github.com/silkroad-bazaar/x402/middleware"
	"github.com/silkroad-bazaar/x402/requirements"
	"github.com/silkroad-bazaar/x402/settlement"
	"github.com/silkroad-bazaar/x402/types"
	"github.com/silkroad-bazaar/x402/utils"
	"github.com/silkroad-bazaar/x402/verification"
)

// X402 ties requirements, verification, settlement and the paywall together
// over a shared set of Solana clients.
type X402 struct {
	verificationService *verification.VerificationService
	settlementService   *settlement.SettlementService
	config              *types.X402Config

	logger        logger.Logger
	metrics       metrics.Recorder
	timeout       time.Duration
	proofMode     types.ProofMode
	ledger        ledger.Ledger
	confirmPolicy settlement.ConfirmPolicy
	registerer    prometheus.Registerer

	mu        sync.RWMutex
	supported []types.SupportedItem
}

// New creates an X402 instance from config and opts. Options override config.
// Logging and metrics default to no-ops; use NewFromConfig to build them
// from config.
func New(config *types.X402Config, opts ...Option) *X402 {
	if config == nil {
		config = &types.X402Config{}
	}

	x := &X402{
		config:    config,
		timeout:   30 * time.Second,
		proofMode: types.ProofModeSignature,
		confirmPolicy: settlement.ConfirmPolicy{
			Attempts: config.ConfirmAttempts,
			Interval: config.ConfirmInterval,
		},
	}
	if config.DefaultTimeout > 0 {
		x.timeout = config.DefaultTimeout
	}
	if config.ProofMode != "" {
		x.proofMode = config.ProofMode
	}

	for _, opt := range opts {
		opt(x)
	}

	x.logger = logger.OrNoop(x.logger)
	x.metrics = metrics.OrNoop(x.metrics)
	if x.ledger == nil {
		x.ledger = ledger.NewMemoryLedger()
	}

	confirmer := settlement.NewConfirmer(x.confirmPolicy, x.logger)
	x.settlementService = settlement.NewSettlementService(x.timeout, confirmer, x.logger, x.metrics)
	x.verificationService = verification.NewVerificationService(verification.Config{
		Timeout:   x.timeout,
		ProofMode: x.proofMode,
		Confirmer: confirmer,
		Settler:   x.settlementService,
		Logger:    x.logger,
		Metrics:   x.metrics,
	})

	return x
}

// NewWithDefaults is New with the default timeout, proof mode and confirmation policy.
func NewWithDefaults(opts ...Option) *X402 {
	return New(&types.X402Config{
		DefaultTimeout:  30 * time.Second,
		ProofMode:       types.ProofModeSignature,
		ConfirmAttempts: settlement.DefaultConfirmAttempts,
		ConfirmInterval: settlement.DefaultConfirmInterval,
		LogLevel:        "info",
	}, opts...)
}

// NewFromConfig validates config and builds the full stack it describes: a
// zap logger at LogLevel, Prometheus metrics when EnableMetrics is set, a
// Redis ledger when RedisAddr is set and one Solana client per Clients entry.
// Explicit options take precedence over what config would build; metrics
// register with WithRegisterer's registry, or the default one.
func NewFromConfig(ctx context.Context, config *types.X402Config, opts ...Option) (*X402, error) {
	if config == nil {
		return nil, &types.X402Error{Code: types.ErrConfigError, Message: "config is required"}
	}
	if err := utils.ValidateX402Config(config); err != nil {
		return nil, err
	}

	explicit := &X402{}
	for _, opt := range opts {
		opt(explicit)
	}

	var base []Option

	if config.LogLevel != "" {
		zl, err := logger.NewZapLogger(config.LogLevel)
		if err != nil {
			return nil, &types.X402Error{Code: types.ErrConfigError, Message: fmt.Sprintf("logger: %v", err)}
		}
		base = append(base, WithLogger(zl))
	}

	if config.EnableMetrics && explicit.metrics == nil {
		rec, err := metrics.NewPrometheusRecorder(explicit.registerer)
		if err != nil {
			return nil, &types.X402Error{Code: types.ErrConfigError, Message: fmt.Sprintf("metrics: %v", err)}
		}
		base = append(base, WithMetrics(rec))
	}

	if config.RedisAddr != "" {
		rl, err := ledger.NewRedisLedger(ctx, config.RedisAddr)
		if err != nil {
			return nil, &types.X402Error{Code: types.ErrConfigError, Message: fmt.Sprintf("ledger: %v", err)}
		}
		base = append(base, WithLedger(rl))
	}

	x := New(config, append(base, opts...)...)

	for network, cc := range config.Clients {
		if cc.Network == "" {
			cc.Network = network
		}
		if err := x.AddNetwork(network, cc); err != nil {
			x.Close()
			return nil, err
		}
	}

	return x, nil
}

// AddNetwork adds support for a Solana network by creating its RPC client.
func (x *X402) AddNetwork(network types.Network, config types.ClientConfig) error {
	if !network.IsSupported() {
		return &types.X402Error{
			Code:    types.ErrUnsupportedNetwork,
			Message: fmt.Sprintf("unsupported network: %s", network),
		}
	}

	config.Network = network
	client, err := clients.NewSolanaClientFromConfig(config)
	if err != nil {
		return fmt.Errorf("solana client for %s: %w", network, err)
	}

	return x.AddClient(client)
}

// AddClient registers a chain client for its network with both services.
func (x *X402) AddClient(client clients.Client) error {
	if err := x.verificationService.AddClient(client); err != nil {
		return err
	}
	if err := x.settlementService.AddClient(client); err != nil {
		return err
	}

	network := client.GetNetwork()

	x.mu.Lock()
	defer x.mu.Unlock()
	for _, item := range x.supported {
		if item.Network == network.String() {
			return nil
		}
	}
	x.supported = append(x.supported, types.SupportedItem{
		X402Version: int(types.X402Version1),
		Scheme:      string(types.SchemeExact),
		Network:     network.String(),
	})
	return nil
}

// Requirements builds the payment terms for a resource.
func (x *X402) Requirements(p requirements.Params, network types.Network, timeoutSeconds int) (types.PaymentRequirements, error) {
	return requirements.New(p, network, timeoutSeconds)
}

// PaymentRequired builds the body of a 402 response.
func (x *X402) PaymentRequired(p requirements.Params, network types.Network, timeoutSeconds int) (*types.PaymentRequiredResponse, error) {
	return requirements.NewPaymentRequiredResponse(p, network, timeoutSeconds)
}

// Verify verifies a decoded payment against requirements
func (x *X402) Verify(
	ctx context.Context,
	payload *types.PaymentPayload,
	req *types.PaymentRequirements,
) (*types.VerificationResult, error) {
	return x.verificationService.Verify(ctx, payload, req)
}

// VerifyHeader decodes an X-Payment header value and verifies it. An
// undecodable header is reported like a missing one, with payment_required.
func (x *X402) VerifyHeader(
	ctx context.Context,
	header string,
	req *types.PaymentRequirements,
) (*types.VerificationResult, error) {
	if req == nil {
		return nil, &types.X402Error{Code: types.ErrInvalidRequirements, Message: "requirements are required"}
	}

	payload := codec.DecodePaymentHeader(header)
	if payload == nil {
		x.metrics.IncCounter(metrics.DecodeFailed, map[string]string{"network": req.Network})
		return &types.VerificationResult{
			Success: false,
			Reason:  "invalid payment header",
			Code:    types.CodePaymentRequired,
		}, nil
	}
	return x.verificationService.Verify(ctx, payload, req)
}

// QuickVerify performs validation and claim comparison without chain queries
func (x *X402) QuickVerify(
	payload *types.PaymentPayload,
	req *types.PaymentRequirements,
) (*types.VerificationResult, error) {
	return x.verificationService.QuickVerify(payload, req)
}

// BatchVerify verifies requests concurrently. Results keep the order of requests.
func (x *X402) BatchVerify(
	ctx context.Context,
	requests []verification.Request,
) ([]*types.VerificationResult, error) {
	if len(requests) == 0 {
		return nil, &types.X402Error{
			Code:    types.ErrInvalidPayload,
			Message: "at least one verification request is required",
		}
	}
	return x.verificationService.BatchVerify(ctx, requests)
}

// Settle broadcasts the payload's signed transaction and waits for confirmation.
func (x *X402) Settle(
	ctx context.Context,
	payload *types.PaymentPayload,
) (*types.SettlementResult, error) {
	return x.settlementService.Settle(ctx, payload)
}

// BatchSettle settles payloads concurrently. Results keep the order of payloads.
func (x *X402) BatchSettle(
	ctx context.Context,
	payloads []*types.PaymentPayload,
) ([]*types.SettlementResult, error) {
	return x.settlementService.BatchSettle(ctx, payloads)
}

// Paywall returns HTTP middleware enforcing req with this instance's
// verifier, ledger, logger and metrics.
func (x *X402) Paywall(req types.PaymentRequirements) (*middleware.Paywall, error) {
	return middleware.New(middleware.Config{
		Requirements:      req,
		Verifier:          x.verificationService,
		Ledger:            x.ledger,
		RateLimit:         x.config.RateLimit,
		RateBurst:         x.config.RateBurst,
		TrustProxyHeaders: x.config.TrustProxy,
		Logger:            x.logger,
		Metrics:           x.metrics,
	})
}

// Supported lists one kind per registered network.
func (x *X402) Supported() (*types.SupportedResponse, error) {
	x.mu.RLock()
	defer x.mu.RUnlock()

	kinds := make([]types.SupportedItem, len(x.supported))
	copy(kinds, x.supported)
	return &types.SupportedResponse{Kinds: kinds}, nil
}

// IsNetworkSupported reports whether a client is registered for network.
func (x *X402) IsNetworkSupported(network types.Network) bool {
	return x.verificationService.IsNetworkSupported(network) &&
		x.settlementService.IsNetworkSupported(network)
}

// ProofMode returns the proof mode payments are verified in.
func (x *X402) ProofMode() types.ProofMode { return x.proofMode }

// Close closes all client connections and the ledger
func (x *X402) Close() {
	x.verificationService.Close()
	if x.ledger != nil {
		if err := x.ledger.Close(); err != nil {
			x.logger.Warn("closing ledger", map[string]any{"error": err})
		}
	}
}

const (
	Version         = "1.0.0"
	ProtocolVersion = 1
)

// GetVersion describes the library and what it accepts.
func GetVersion() map[string]interface{} {
	networks := make([]string, 0, 2)
	for _, n := range types.SupportedNetworks() {
		networks = append(networks, n.String())
	}

	return map[string]interface{}{
		"library_version":    Version,
		"protocol_version":   ProtocolVersion,
		"supported_networks": networks,
		"supported_schemes":  []string{string(types.SchemeExact)},
		"supported_proof_modes": []string{
			string(types.ProofModeSignature),
			string(types.ProofModeSignedTransaction),
		},
	}
}
