// Package metrics records payment verification events.
package metrics

import "time"

type Recorder interface {
	IncCounter(name string, labels map[string]string)
	ObserveLatency(name string, duration time.Duration, labels map[string]string)
}

// Event counter names.
const (
	HeaderMissing       = "header_missing"
	DecodeFailed        = "decode_failed"
	ValidationFailed    = "validation_failed"
	ClaimMismatch       = "claim_mismatch"
	ProofReused         = "proof_reused"
	ClaimReleased       = "claim_released"
	Confirmed           = "confirmed"
	ConfirmationTimeout = "confirmation_timeout"
	TransactionFailed   = "transaction_failed"
	Broadcast           = "broadcast"
	RateLimited         = "rate_limited"
)

// Latency operation names.
const (
	OpVerify  = "verify"
	OpConfirm = "confirm"
)

// NoopRecorder discards everything. It is the default when no recorder is configured.
type NoopRecorder struct{}

func (NoopRecorder) IncCounter(name string, labels map[string]string) {}

func (NoopRecorder) ObserveLatency(name string, duration time.Duration, labels map[string]string) {}

// OrNoop returns r, or a NoopRecorder when r is nil.
func OrNoop(r Recorder) Recorder {
	if r == nil {
		return NoopRecorder{}
	}
	return r
}
