package verification

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/silkroad-bazaar/x402/clients"
	"github.com/silkroad-bazaar/x402/logger"
	"github.com/silkroad-bazaar/x402/metrics"
	"github.com/silkroad-bazaar/x402/settlement"
	"github.com/silkroad-bazaar/x402/types"
)

// Verifier interface defines the contract for payment verification
type Verifier interface {
	Verify(ctx context.Context, payload *types.PaymentPayload, requirements *types.PaymentRequirements) (*types.VerificationResult, error)
}

// Request pairs a decoded payload with the requirements it answers.
type Request struct {
	Payload      *types.PaymentPayload
	Requirements *types.PaymentRequirements
}

// Config wires a VerificationService. Zero values select defaults: signature
// proof mode, the default confirm policy and no-op logging and metrics.
type Config struct {
	Timeout   time.Duration
	ProofMode types.ProofMode
	Confirmer *settlement.Confirmer
	Settler   settlement.Settler
	Logger    logger.Logger
	Metrics   metrics.Recorder
}

// VerificationService manages payment verification across networks
type VerificationService struct {
	mu        sync.RWMutex
	clients   map[types.Network]clients.Client
	mode      types.ProofMode
	timeout   time.Duration
	confirmer *settlement.Confirmer
	settler   settlement.Settler
	logger    logger.Logger
	metrics   metrics.Recorder
}

var _ Verifier = (*VerificationService)(nil)

// NewVerificationService creates a new verification service
func NewVerificationService(cfg Config) *VerificationService {
	mode := cfg.ProofMode
	if mode == "" {
		mode = types.ProofModeSignature
	}

	log := logger.OrNoop(cfg.Logger)
	confirmer := cfg.Confirmer
	if confirmer == nil {
		confirmer = settlement.NewConfirmer(settlement.DefaultConfirmPolicy(), log)
	}

	return &VerificationService{
		clients:   make(map[types.Network]clients.Client),
		mode:      mode,
		timeout:   cfg.Timeout,
		confirmer: confirmer,
		settler:   cfg.Settler,
		logger:    log,
		metrics:   metrics.OrNoop(cfg.Metrics),
	}
}

// AddClient registers the chain client used for its network.
func (s *VerificationService) AddClient(client clients.Client) error {
	network := client.GetNetwork()
	if !network.IsSupported() {
		return &types.X402Error{
			Code:    types.ErrUnsupportedNetwork,
			Message: fmt.Sprintf("network %s is not supported", network),
		}
	}

	s.mu.Lock()
	s.clients[network] = client
	s.mu.Unlock()
	return nil
}

// ProofMode returns the proof mode this service accepts.
func (s *VerificationService) ProofMode() types.ProofMode { return s.mode }

// Verify runs the full check of payload against requirements: semantic
// validation, claim comparison and chain confirmation. Rejections are
// reported in the result with a stable Code; the error is reserved for
// missing inputs.
func (s *VerificationService) Verify(
	ctx context.Context,
	payload *types.PaymentPayload,
	requirements *types.PaymentRequirements,
) (*types.VerificationResult, error) {
	if payload == nil || requirements == nil {
		return nil, &types.X402Error{
			Code:    types.ErrInvalidPayload,
			Message: "payload and requirements are required",
		}
	}

	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	labels := map[string]string{"network": payload.Network}
	start := time.Now()
	defer func() {
		s.metrics.ObserveLatency(metrics.OpVerify, time.Since(start), labels)
	}()

	if result := s.check(payload, requirements); result != nil {
		return result, nil
	}

	if s.mode == types.ProofModeSignedTransaction {
		return s.verifySignedTransaction(ctx, payload)
	}
	return s.verifySignature(ctx, payload)
}

// QuickVerify performs validation and claim comparison without chain queries.
func (s *VerificationService) QuickVerify(
	payload *types.PaymentPayload,
	requirements *types.PaymentRequirements,
) (*types.VerificationResult, error) {
	if payload == nil || requirements == nil {
		return nil, &types.X402Error{
			Code:    types.ErrInvalidPayload,
			Message: "payload and requirements are required",
		}
	}

	if result := s.check(payload, requirements); result != nil {
		return result, nil
	}

	return &types.VerificationResult{
		Success: true,
		Network: payload.Network,
		Payer:   payload.Payload.From,
		Amount:  payload.Payload.Amount,
	}, nil
}

// check returns a rejection, or nil when payload may proceed to the chain.
func (s *VerificationService) check(payload *types.PaymentPayload, requirements *types.PaymentRequirements) *types.VerificationResult {
	labels := map[string]string{"network": payload.Network}

	if err := requirements.Validate(); err != nil {
		return reject(payload, types.CodeInvalidRequirements, err.Error())
	}

	if err := ValidatePaymentPayloadForMode(payload, s.mode); err != nil {
		s.metrics.IncCounter(metrics.ValidationFailed, labels)
		s.logger.Debug("payment payload rejected", map[string]any{
			"network": payload.Network,
			"error":   err,
		})
		return reject(payload, types.ErrorCode(err), err.Error())
	}

	if err := CompareWithRequirements(payload, requirements); err != nil {
		s.metrics.IncCounter(metrics.ClaimMismatch, labels)
		s.logger.Warn("payment claim does not match requirements", map[string]any{
			"network":       payload.Network,
			"payer":         payload.Payload.From,
			"resource":      requirements.Resource,
			"fraud_suspect": true,
			"error":         err,
		})
		return reject(payload, types.ErrorCode(err), err.Error())
	}

	return nil
}

func (s *VerificationService) verifySignature(ctx context.Context, payload *types.PaymentPayload) (*types.VerificationResult, error) {
	network := types.Network(payload.Network)
	labels := map[string]string{"network": payload.Network}

	s.mu.RLock()
	client, ok := s.clients[network]
	s.mu.RUnlock()
	if !ok {
		return reject(payload, types.CodeNoClient, fmt.Sprintf("no client configured for network %s", network)), nil
	}

	signature := payload.Payload.Signature
	start := time.Now()
	status, err := s.confirmer.WaitForConfirmation(ctx, client, signature)
	s.metrics.ObserveLatency(metrics.OpConfirm, time.Since(start), labels)

	if err != nil {
		switch {
		case settlement.IsTimeout(err):
			s.metrics.IncCounter(metrics.ConfirmationTimeout, labels)
		case settlement.IsTransactionFailed(err):
			s.metrics.IncCounter(metrics.TransactionFailed, labels)
		default:
			s.logger.Error("confirmation query failed", map[string]any{
				"network":   payload.Network,
				"signature": signature,
				"error":     err,
			})
		}

		result := reject(payload, types.ErrorCode(err), err.Error())
		result.Transaction = signature
		return result, nil
	}

	if result := s.matchLanded(ctx, client, payload); result != nil {
		return result, nil
	}

	s.metrics.IncCounter(metrics.Confirmed, labels)
	s.logger.Info("payment confirmed", map[string]any{
		"network":   payload.Network,
		"signature": signature,
		"slot":      status.Slot,
		"payer":     payload.Payload.From,
	})

	return &types.VerificationResult{
		Success:     true,
		Transaction: signature,
		Network:     payload.Network,
		Payer:       payload.Payload.From,
		Amount:      payload.Payload.Amount,
	}, nil
}

// matchLanded fetches the confirmed transaction and requires the transfer it
// carries to be the one claimed: amount of mint from payload.from into the
// associated token account of payload.to. A confirmed signature of any other
// transaction is rejected.
func (s *VerificationService) matchLanded(ctx context.Context, client clients.Client, payload *types.PaymentPayload) *types.VerificationResult {
	signature := payload.Payload.Signature
	labels := map[string]string{"network": payload.Network}

	raw, err := client.GetTransaction(ctx, signature)
	if err == nil {
		err = settlement.MatchTransfer(raw, payload)
	}
	if err == nil {
		return nil
	}

	if types.IsClaimMismatch(err) || types.ErrorCode(err) == types.CodeInvalidTransaction {
		s.metrics.IncCounter(metrics.ClaimMismatch, labels)
		s.logger.Warn("confirmed transaction does not carry the claimed transfer", map[string]any{
			"network":       payload.Network,
			"signature":     signature,
			"payer":         payload.Payload.From,
			"fraud_suspect": true,
			"error":         err,
		})
	} else {
		s.logger.Error("fetching confirmed transaction failed", map[string]any{
			"network":   payload.Network,
			"signature": signature,
			"error":     err,
		})
	}

	result := reject(payload, types.ErrorCode(err), err.Error())
	result.Transaction = signature
	return result
}

func (s *VerificationService) verifySignedTransaction(ctx context.Context, payload *types.PaymentPayload) (*types.VerificationResult, error) {
	if s.settler == nil {
		return reject(payload, types.CodeNoClient, "signed-transaction mode requires a settler"), nil
	}

	settled, err := s.settler.Settle(ctx, payload)
	if err != nil {
		return nil, err
	}

	if !settled.Success {
		result := reject(payload, settled.Code, settled.Error)
		result.Transaction = settled.Transaction
		return result, nil
	}

	s.logger.Info("payment settled", map[string]any{
		"network":   payload.Network,
		"signature": settled.Transaction,
		"slot":      settled.Slot,
		"payer":     payload.Payload.From,
	})

	return &types.VerificationResult{
		Success:     true,
		Transaction: settled.Transaction,
		Network:     payload.Network,
		Payer:       payload.Payload.From,
		Amount:      payload.Payload.Amount,
	}, nil
}

// BatchVerify verifies requests concurrently. Results keep the input order.
func (s *VerificationService) BatchVerify(ctx context.Context, requests []Request) ([]*types.VerificationResult, error) {
	results := make([]*types.VerificationResult, len(requests))

	var wg sync.WaitGroup
	for i, req := range requests {
		wg.Add(1)
		go func(index int, r Request) {
			defer wg.Done()

			result, err := s.Verify(ctx, r.Payload, r.Requirements)
			if err != nil {
				result = &types.VerificationResult{
					Success: false,
					Reason:  err.Error(),
					Code:    types.ErrorCode(err),
				}
			}
			results[index] = result
		}(i, req)
	}
	wg.Wait()

	if err := ctx.Err(); err != nil {
		return results, err
	}
	return results, nil
}

// IsNetworkSupported reports whether a client is registered for network.
func (s *VerificationService) IsNetworkSupported(network types.Network) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.clients[network]
	return ok
}

// Close closes all client connections
func (s *VerificationService) Close() {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, client := range s.clients {
		client.Close()
	}
}

func reject(payload *types.PaymentPayload, code, reason string) *types.VerificationResult {
	return &types.VerificationResult{
		Success: false,
		Network: payload.Network,
		Payer:   payload.Payload.From,
		Reason:  reason,
		Code:    code,
	}
}
