// Package ledger records consumed payment proofs so that one confirmed
// transaction unlocks a resource at most once.
package ledger

import (
	"context"
	"time"
)

// Ledger is an atomic check-and-set over proof keys.
type Ledger interface {
	// Claim marks key as consumed. It returns false when key was already
	// claimed and has not expired. A ttl <= 0 keeps the claim forever.
	Claim(ctx context.Context, key string, ttl time.Duration) (bool, error)

	// Release forgets key, e.g. when the resource could not be served.
	Release(ctx context.Context, key string) error

	Close() error
}

// Key namespaces a transaction signature by network.
func Key(network, signature string) string {
	return "x402:proof:" + network + ":" + signature
}
