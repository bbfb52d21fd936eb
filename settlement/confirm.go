package settlement

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/silkroad-bazaar/x402/clients"
	"github.com/silkroad-bazaar/x402/logger"
	"github.com/silkroad-bazaar/x402/types"
)

const (
	DefaultConfirmAttempts = 30
	DefaultConfirmInterval = time.Second
)

// ConfirmPolicy bounds how long a transaction is polled before giving up.
type ConfirmPolicy struct {
	Attempts int
	Interval time.Duration
}

// DefaultConfirmPolicy polls once a second for thirty seconds.
func DefaultConfirmPolicy() ConfirmPolicy {
	return ConfirmPolicy{Attempts: DefaultConfirmAttempts, Interval: DefaultConfirmInterval}
}

func (p ConfirmPolicy) withDefaults() ConfirmPolicy {
	if p.Attempts <= 0 {
		p.Attempts = DefaultConfirmAttempts
	}
	if p.Interval <= 0 {
		p.Interval = DefaultConfirmInterval
	}
	return p
}

// TimeoutError means the polling window closed before the transaction reached
// the required commitment. The transaction may still land later.
type TimeoutError struct {
	Signature string
	Attempts  int
	Last      *types.TransactionStatus
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("transaction %s not confirmed after %d attempts", e.Signature, e.Attempts)
}

func (e *TimeoutError) Code() string { return types.CodeConfirmationTimeout }

// TransactionFailedError means the transaction landed but its execution failed.
type TransactionFailedError struct {
	Signature string
	Reason    string
	Slot      uint64
}

func (e *TransactionFailedError) Error() string {
	return fmt.Sprintf("transaction %s failed at slot %d: %s", e.Signature, e.Slot, e.Reason)
}

func (e *TransactionFailedError) Code() string { return types.CodeTransactionFailed }

// IsTimeout reports whether err is a confirmation timeout.
func IsTimeout(err error) bool {
	var te *TimeoutError
	return errors.As(err, &te)
}

// IsTransactionFailed reports whether err is a landed-but-failed transaction.
func IsTransactionFailed(err error) bool {
	var fe *TransactionFailedError
	return errors.As(err, &fe)
}

var errPending = errors.New("transaction pending")

// Confirmer polls a chain client until a transaction is confirmed, fails or
// the policy is exhausted.
type Confirmer struct {
	policy ConfirmPolicy
	logger logger.Logger
}

func NewConfirmer(policy ConfirmPolicy, log logger.Logger) *Confirmer {
	return &Confirmer{
		policy: policy.withDefaults(),
		logger: logger.OrNoop(log),
	}
}

// Policy returns the effective policy after defaults are applied.
func (c *Confirmer) Policy() ConfirmPolicy { return c.policy }

// WaitForConfirmation returns the confirmed status of signature. It returns a
// *TimeoutError when the attempts run out (or ctx's deadline passes) and a
// *TransactionFailedError when the transaction landed with an error. Transient
// RPC failures are retried; once attempts run out the last one is returned.
func (c *Confirmer) WaitForConfirmation(ctx context.Context, client clients.Client, signature string) (*types.TransactionStatus, error) {
	var (
		last     *types.TransactionStatus
		attempts int
	)

	operation := func() error {
		attempts++

		status, err := client.GetTransactionStatus(ctx, signature)
		if err != nil {
			if clients.IsUnavailable(err) {
				c.logger.Debug("transaction status query failed", map[string]any{
					"signature": signature,
					"attempt":   attempts,
					"error":     err,
				})
				return err
			}
			return backoff.Permanent(err)
		}

		last = status
		switch {
		case status.Failed():
			return backoff.Permanent(&TransactionFailedError{
				Signature: signature,
				Reason:    status.Err,
				Slot:      status.Slot,
			})
		case status.Confirmed:
			return nil
		default:
			return errPending
		}
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(c.policy.Interval), uint64(c.policy.Attempts-1)),
		ctx,
	)

	err := backoff.Retry(operation, policy)
	switch {
	case err == nil:
		return last, nil
	case errors.Is(err, errPending), errors.Is(err, context.DeadlineExceeded):
		c.logger.Info("transaction confirmation timed out", map[string]any{
			"signature": signature,
			"network":   client.GetNetwork().String(),
			"attempts":  attempts,
		})
		return last, &TimeoutError{Signature: signature, Attempts: attempts, Last: last}
	default:
		return last, err
	}
}
