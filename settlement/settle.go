// Package settlement broadcasts pre-signed transfers and waits for the chain
// to confirm them.
package settlement

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/silkroad-bazaar/x402/clients"
	"github.com/silkroad-bazaar/x402/logger"
	"github.com/silkroad-bazaar/x402/metrics"
	"github.com/silkroad-bazaar/x402/types"
)

// Settler settles a payment whose payload carries a signed transaction.
type Settler interface {
	Settle(ctx context.Context, payload *types.PaymentPayload) (*types.SettlementResult, error)
}

// SettlementService manages payment settlement across networks.
type SettlementService struct {
	mu        sync.RWMutex
	clients   map[types.Network]clients.Client
	confirmer *Confirmer
	timeout   time.Duration
	logger    logger.Logger
	metrics   metrics.Recorder
}

var _ Settler = (*SettlementService)(nil)

// NewSettlementService creates a settlement service. A zero timeout disables
// the per-settlement deadline; the confirmer's policy still bounds polling.
func NewSettlementService(timeout time.Duration, confirmer *Confirmer, log logger.Logger, rec metrics.Recorder) *SettlementService {
	if confirmer == nil {
		confirmer = NewConfirmer(DefaultConfirmPolicy(), log)
	}

	return &SettlementService{
		clients:   make(map[types.Network]clients.Client),
		confirmer: confirmer,
		timeout:   timeout,
		logger:    logger.OrNoop(log),
		metrics:   metrics.OrNoop(rec),
	}
}

// AddClient registers the chain client used for its network.
func (s *SettlementService) AddClient(client clients.Client) error {
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

func (s *SettlementService) client(network types.Network) (clients.Client, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.clients[network]
	return c, ok
}

// Settle checks that the signed transaction moves exactly what the payload
// claims, broadcasts it and waits for confirmation. Failures are reported in
// the result, not as an error.
func (s *SettlementService) Settle(ctx context.Context, payload *types.PaymentPayload) (*types.SettlementResult, error) {
	if payload == nil {
		return nil, &types.X402Error{Code: types.ErrInvalidPayload, Message: "payment payload is required"}
	}

	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	network := types.Network(payload.Network)
	client, ok := s.client(network)
	if !ok {
		return failed(payload.Network, "", types.CodeNoClient,
			fmt.Sprintf("no client configured for network %s", network)), nil
	}

	raw, err := DecodeSignedTransaction(payload.Payload.SignedTransaction)
	if err != nil {
		return failed(payload.Network, "", types.CodeInvalidTransaction, err.Error()), nil
	}

	if err := MatchTransfer(raw, payload); err != nil {
		if types.IsClaimMismatch(err) {
			s.logger.Warn("signed transaction does not match payment claim", map[string]any{
				"network":       payload.Network,
				"payer":         payload.Payload.From,
				"fraud_suspect": true,
				"error":         err,
			})
			s.metrics.IncCounter(metrics.ClaimMismatch, map[string]string{"network": payload.Network})
		}
		return failed(payload.Network, "", types.ErrorCode(err), err.Error()), nil
	}

	signature, err := client.BroadcastSignedTransfer(ctx, raw)
	if err != nil {
		s.logger.Error("broadcast failed", map[string]any{
			"network": payload.Network,
			"error":   err,
		})
		return failed(payload.Network, "", types.ErrorCode(err), err.Error()), nil
	}
	s.metrics.IncCounter(metrics.Broadcast, map[string]string{"network": payload.Network})

	return s.confirm(ctx, client, signature), nil
}

// Confirm waits for an already broadcast transaction.
func (s *SettlementService) Confirm(ctx context.Context, network types.Network, signature string) (*types.SettlementResult, error) {
	client, ok := s.client(network)
	if !ok {
		return failed(network.String(), signature, types.CodeNoClient,
			fmt.Sprintf("no client configured for network %s", network)), nil
	}
	return s.confirm(ctx, client, signature), nil
}

func (s *SettlementService) confirm(ctx context.Context, client clients.Client, signature string) *types.SettlementResult {
	network := client.GetNetwork().String()
	labels := map[string]string{"network": network}

	start := time.Now()
	status, err := s.confirmer.WaitForConfirmation(ctx, client, signature)
	s.metrics.ObserveLatency(metrics.OpConfirm, time.Since(start), labels)

	switch {
	case err == nil:
		s.metrics.IncCounter(metrics.Confirmed, labels)
		return &types.SettlementResult{
			Success:     true,
			Transaction: signature,
			Network:     network,
			Slot:        status.Slot,
		}
	case IsTimeout(err):
		s.metrics.IncCounter(metrics.ConfirmationTimeout, labels)
	case IsTransactionFailed(err):
		s.metrics.IncCounter(metrics.TransactionFailed, labels)
		s.logger.Warn("transaction failed on chain", map[string]any{
			"network":   network,
			"signature": signature,
			"error":     err,
		})
	}

	result := failed(network, signature, types.ErrorCode(err), err.Error())
	if status != nil {
		result.Slot = status.Slot
	}
	return result
}

// BatchSettle settles payloads concurrently. Results keep the input order.
func (s *SettlementService) BatchSettle(ctx context.Context, payloads []*types.PaymentPayload) ([]*types.SettlementResult, error) {
	results := make([]*types.SettlementResult, len(payloads))

	type settlementResult struct {
		index  int
		result *types.SettlementResult
		err    error
	}

	resultChan := make(chan settlementResult, len(payloads))

	for i, payload := range payloads {
		go func(index int, p *types.PaymentPayload) {
			result, err := s.Settle(ctx, p)
			resultChan <- settlementResult{index: index, result: result, err: err}
		}(i, payload)
	}

	for i := 0; i < len(payloads); i++ {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case res := <-resultChan:
			if res.err != nil {
				res.result = failed("", "", types.ErrorCode(res.err), res.err.Error())
			}
			results[res.index] = res.result
		}
	}

	return results, nil
}

// IsNetworkSupported reports whether a client is registered for network.
func (s *SettlementService) IsNetworkSupported(network types.Network) bool {
	_, ok := s.client(network)
	return ok
}

func (s *SettlementService) Close() {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, client := range s.clients {
		client.Close()
	}
}

// DecodeSignedTransaction decodes the base64 signedTransaction field of a payload.
func DecodeSignedTransaction(encoded string) ([]byte, error) {
	encoded = strings.TrimSpace(encoded)
	if encoded == "" {
		return nil, &types.FieldMissingError{Field: "signed transaction"}
	}

	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, &clients.Error{
			Op:     "decode_signed_transaction",
			Reason: clients.ErrInvalidSignedTransfer,
			Err:    errors.Wrap(err, "signed transaction is not base64"),
		}
	}
	return raw, nil
}

// MatchTransfer decodes raw and requires its token transfer to agree with the
// payload: same mint, same amount, sent by payload.from into the associated
// token account of payload.to.
func MatchTransfer(raw []byte, payload *types.PaymentPayload) error {
	tx, err := clients.DecodeTransaction(raw)
	if err != nil {
		return err
	}

	transfer, err := clients.InspectTransfer(tx)
	if err != nil {
		return err
	}

	claim := payload.Payload
	if transfer.Mint != claim.Mint {
		return &types.ClaimMismatchError{Field: types.ClaimMint, Expected: claim.Mint, Actual: transfer.Mint}
	}
	if transfer.AmountString() != claim.Amount {
		return &types.ClaimMismatchError{Field: types.ClaimAmount, Expected: claim.Amount, Actual: transfer.AmountString()}
	}
	if transfer.Owner != claim.From {
		return &types.ClaimMismatchError{Field: types.ClaimSender, Expected: claim.From, Actual: transfer.Owner}
	}

	destination, err := clients.AssociatedTokenAddress(claim.To, claim.Mint)
	if err != nil {
		return &clients.Error{Op: "match_transfer", Reason: clients.ErrInvalidSignedTransfer, Err: err}
	}
	if transfer.Destination != destination {
		return &types.ClaimMismatchError{Field: types.ClaimRecipient, Expected: destination, Actual: transfer.Destination}
	}

	return nil
}

func failed(network, signature, code, message string) *types.SettlementResult {
	return &types.SettlementResult{
		Success:     false,
		Transaction: signature,
		Network:     network,
		Error:       message,
		Code:        code,
	}
}
