package x402

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/silkroad-bazaar/x402/ledger"
	"github.com/silkroad-bazaar/x402/logger"
	"github.com/silkroad-bazaar/x402/metrics"
	"github.com/silkroad-bazaar/x402/settlement"
	"github.com/silkroad-bazaar/x402/types"
)

type Option func(*X402)

func WithLogger(l logger.Logger) Option {
	return func(x *X402) {
		x.logger = l
	}
}

func WithMetrics(r metrics.Recorder) Option {
	return func(x *X402) {
		x.metrics = r
	}
}

func WithTimeout(t time.Duration) Option {
	return func(x *X402) {
		if t > 0 {
			x.timeout = t
		}
	}
}

// WithProofMode selects what payers submit as proof. Unknown modes are ignored.
func WithProofMode(mode types.ProofMode) Option {
	return func(x *X402) {
		if mode.IsValid() {
			x.proofMode = mode
		}
	}
}

// WithLedger sets the consumed-proof ledger shared by every paywall.
func WithLedger(l ledger.Ledger) Option {
	return func(x *X402) {
		x.ledger = l
	}
}

// WithConfirmPolicy bounds confirmation polling.
func WithConfirmPolicy(attempts int, interval time.Duration) Option {
	return func(x *X402) {
		x.confirmPolicy = settlement.ConfirmPolicy{Attempts: attempts, Interval: interval}
	}
}

// WithRegisterer sets the registry NewFromConfig registers Prometheus
// collectors with when metrics are enabled.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(x *X402) {
		x.registerer = reg
	}
}
