// Package middleware puts a resource behind an x402 paywall: requests without
// a valid, confirmed and unused payment proof are answered with 402.
package middleware

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/silkroad-bazaar/x402/codec"
	"github.com/silkroad-bazaar/x402/ledger"
	"github.com/silkroad-bazaar/x402/logger"
	"github.com/silkroad-bazaar/x402/metrics"
	"github.com/silkroad-bazaar/x402/types"
	"github.com/silkroad-bazaar/x402/verification"
)

const (
	CorrelationIDHeader = "X-Correlation-ID"

	// DefaultRetryAfter is advertised when confirmation is still pending.
	DefaultRetryAfter = 5 * time.Second
)

// ErrorResponse is the JSON body of every non-402 rejection.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// PaymentResponse is base64 encoded into the X-Payment-Response header of a
// request that was let through.
type PaymentResponse struct {
	Success     bool   `json:"success"`
	Transaction string `json:"transaction"`
	Network     string `json:"network"`
	Payer       string `json:"payer,omitempty"`
}

// Config configures a Paywall.
type Config struct {
	// Requirements are the terms advertised in 402 responses and enforced on proofs.
	Requirements types.PaymentRequirements

	Verifier verification.Verifier

	// Ledger records consumed proofs. Nil means an in-memory ledger.
	Ledger ledger.Ledger
	// LedgerTTL bounds how long a consumed proof is remembered. Zero keeps
	// it forever; a positive value lets the same transaction unlock again
	// once it lapses.
	LedgerTTL time.Duration

	// RateLimit is requests per second per client; zero disables limiting.
	RateLimit float64
	RateBurst int
	// TrustProxyHeaders keys the rate limiter on the first X-Forwarded-For
	// hop. Enable it only behind a proxy that overwrites that header.
	TrustProxyHeaders bool

	RetryAfter time.Duration

	Logger  logger.Logger
	Metrics metrics.Recorder
}

// Paywall checks payment proofs for one set of requirements.
type Paywall struct {
	req        types.PaymentRequirements
	verifier   verification.Verifier
	ledger     ledger.Ledger
	ledgerTTL  time.Duration
	limiter    *RateLimiter
	trustProxy bool
	retryAfter time.Duration
	logger     logger.Logger
	metrics    metrics.Recorder
}

// Outcome is the decision for one request. A zero Status means the request
// is paid and may proceed.
type Outcome struct {
	Status        int
	Body          interface{}
	Header        http.Header
	Result        *types.VerificationResult
	CorrelationID string
}

// Paid reports whether the request may reach the protected handler.
func (o *Outcome) Paid() bool { return o.Status == 0 }

// New validates cfg and builds a Paywall.
func New(cfg Config) (*Paywall, error) {
	if err := cfg.Requirements.Validate(); err != nil {
		return nil, &types.X402Error{Code: types.ErrInvalidRequirements, Message: err.Error()}
	}
	if cfg.Verifier == nil {
		return nil, &types.X402Error{Code: types.ErrConfigError, Message: "paywall requires a verifier"}
	}

	p := &Paywall{
		req:        cfg.Requirements,
		verifier:   cfg.Verifier,
		ledger:     cfg.Ledger,
		ledgerTTL:  cfg.LedgerTTL,
		trustProxy: cfg.TrustProxyHeaders,
		retryAfter: cfg.RetryAfter,
		logger:     logger.OrNoop(cfg.Logger),
		metrics:    metrics.OrNoop(cfg.Metrics),
	}
	if p.ledger == nil {
		p.ledger = ledger.NewMemoryLedger()
	}
	if p.retryAfter <= 0 {
		p.retryAfter = DefaultRetryAfter
	}
	if cfg.RateLimit > 0 {
		p.limiter = NewRateLimiter(cfg.RateLimit, cfg.RateBurst)
	}

	return p, nil
}

// Requirements returns the terms this paywall enforces.
func (p *Paywall) Requirements() types.PaymentRequirements { return p.req }

// Handler wraps next with the paywall. When next answers with a 5xx the
// proof's claim is released so the payer can retry with it.
func (p *Paywall) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		outcome := p.Check(r)
		for k, values := range outcome.Header {
			for _, v := range values {
				w.Header().Add(k, v)
			}
		}

		if !outcome.Paid() {
			writeJSON(w, outcome.Status, outcome.Body)
			return
		}

		sw := &statusWriter{ResponseWriter: w}
		next.ServeHTTP(sw, r.WithContext(WithPayment(r.Context(), outcome.Result)))
		p.releaseOnServerError(r.Context(), outcome, sw.Status())
	})
}

// releaseOnServerError forgets the claim of a paid request whose protected
// handler failed, leaving the proof spendable once more.
func (p *Paywall) releaseOnServerError(ctx context.Context, outcome *Outcome, status int) {
	if status < http.StatusInternalServerError || outcome.Result == nil {
		return
	}

	result := outcome.Result
	fields := map[string]any{
		"correlation_id": outcome.CorrelationID,
		"transaction":    result.Transaction,
		"status":         status,
	}
	if err := p.ledger.Release(context.WithoutCancel(ctx), ledger.Key(result.Network, result.Transaction)); err != nil {
		fields["error"] = err
		p.logger.Error("releasing payment proof failed", fields)
		return
	}

	p.metrics.IncCounter(metrics.ClaimReleased, map[string]string{"network": p.req.Network})
	p.logger.Warn("payment proof released after handler error", fields)
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	if w.status == 0 {
		w.status = code
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Write(b []byte) (int, error) {
	if w.status == 0 {
		w.status = http.StatusOK
	}
	return w.ResponseWriter.Write(b)
}

func (w *statusWriter) Unwrap() http.ResponseWriter { return w.ResponseWriter }

// Status returns the status sent downstream, 200 if nothing was written.
func (w *statusWriter) Status() int {
	if w.status == 0 {
		return http.StatusOK
	}
	return w.status
}

// Check runs the paywall pipeline for r: rate limit, header extraction,
// decoding, verification and the single-use claim.
func (p *Paywall) Check(r *http.Request) *Outcome {
	correlationID := r.Header.Get(CorrelationIDHeader)
	if correlationID == "" {
		correlationID = uuid.New().String()
	}

	out := &Outcome{Header: http.Header{}, CorrelationID: correlationID}
	out.Header.Set(CorrelationIDHeader, correlationID)

	labels := map[string]string{"network": p.req.Network}
	fields := func(extra map[string]any) map[string]any {
		f := map[string]any{
			"correlation_id": correlationID,
			"resource":       p.req.Resource,
			"path":           r.URL.Path,
		}
		for k, v := range extra {
			f[k] = v
		}
		return f
	}

	if p.limiter != nil && !p.limiter.Allow(clientIdentifier(r, p.trustProxy)) {
		p.metrics.IncCounter(metrics.RateLimited, labels)
		out.Header.Set("Retry-After", "1")
		return p.reject(out, http.StatusTooManyRequests, types.CodeRateLimited, "too many requests")
	}

	header, ok := codec.ExtractPaymentHeader(r.Header)
	if !ok {
		p.metrics.IncCounter(metrics.HeaderMissing, labels)
		return p.paymentRequired(out, "X-Payment header is required")
	}

	payload := codec.DecodePaymentHeader(header)
	if payload == nil {
		p.metrics.IncCounter(metrics.DecodeFailed, labels)
		p.logger.Debug("undecodable payment header", fields(nil))
		return p.paymentRequired(out, "invalid payment header")
	}

	result, err := p.verifier.Verify(r.Context(), payload, &p.req)
	if err != nil {
		p.logger.Error("payment verification error", fields(map[string]any{"error": err}))
		return p.reject(out, http.StatusInternalServerError, types.CodeInternalError, "payment verification failed")
	}
	out.Result = result

	if !result.Success {
		return p.rejectResult(out, result)
	}

	claimed, err := p.ledger.Claim(r.Context(), ledger.Key(result.Network, result.Transaction), p.ledgerTTL)
	if err != nil {
		p.logger.Error("proof ledger unavailable", fields(map[string]any{"error": err}))
		return p.reject(out, http.StatusServiceUnavailable, types.CodeInternalError, "payment ledger unavailable")
	}
	if !claimed {
		p.metrics.IncCounter(metrics.ProofReused, labels)
		p.logger.Warn("payment proof reused", fields(map[string]any{
			"transaction": result.Transaction,
			"payer":       result.Payer,
		}))
		return p.reject(out, http.StatusConflict, types.CodeProofAlreadyUsed,
			fmt.Sprintf("transaction %s was already used", result.Transaction))
	}

	if encoded, err := encodePaymentResponse(result); err == nil {
		out.Header.Set(types.PaymentResponseHeader, encoded)
	}

	p.logger.Info("payment accepted", fields(map[string]any{
		"transaction": result.Transaction,
		"payer":       result.Payer,
		"amount":      result.Amount,
	}))

	return out
}

func (p *Paywall) rejectResult(out *Outcome, result *types.VerificationResult) *Outcome {
	switch StatusForCode(result.Code) {
	case http.StatusPaymentRequired:
		return p.paymentRequired(out, result.Reason)
	case http.StatusAccepted:
		out.Header.Set("Retry-After", strconv.Itoa(max(1, int(p.retryAfter/time.Second))))
		return p.reject(out, http.StatusAccepted, result.Code, result.Reason)
	default:
		return p.reject(out, StatusForCode(result.Code), result.Code, result.Reason)
	}
}

func (p *Paywall) paymentRequired(out *Outcome, message string) *Outcome {
	out.Status = http.StatusPaymentRequired
	out.Body = &types.PaymentRequiredResponse{
		X402Version: int(types.X402Version1),
		Accepts:     []types.PaymentRequirements{p.req},
		Error:       message,
	}
	return out
}

func (p *Paywall) reject(out *Outcome, status int, code, message string) *Outcome {
	out.Status = status
	out.Body = &ErrorResponse{Error: code, Message: message}
	return out
}

// StatusForCode maps a verification failure code to the HTTP status the
// paywall answers with.
func StatusForCode(code string) int {
	switch code {
	case types.CodePaymentRequired,
		types.CodeNetworkMismatch,
		types.CodeAmountMismatch,
		types.CodeRecipientMismatch,
		types.CodeMintMismatch,
		types.CodeSenderMismatch,
		types.CodeTransactionFailed,
		types.CodeBroadcastFailed:
		return http.StatusPaymentRequired
	case types.CodeUnsupportedVersion,
		types.CodeUnsupportedScheme,
		types.CodeUnsupportedNetwork,
		types.CodeFieldMissing,
		types.CodeInvalidTransaction:
		return http.StatusBadRequest
	case types.CodeProofAlreadyUsed:
		return http.StatusConflict
	case types.CodeConfirmationTimeout:
		return http.StatusAccepted
	case types.CodeChainUnavailable:
		return http.StatusBadGateway
	case types.CodeRateLimited:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

func encodePaymentResponse(result *types.VerificationResult) (string, error) {
	data, err := json.Marshal(&PaymentResponse{
		Success:     result.Success,
		Transaction: result.Transaction,
		Network:     result.Network,
		Payer:       result.Payer,
	})
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(data), nil
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", types.MimeTypeJSON)
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

type contextKey string

const paymentContextKey contextKey = "x402.payment"

// WithPayment stores the accepted verification result in ctx.
func WithPayment(ctx context.Context, result *types.VerificationResult) context.Context {
	return context.WithValue(ctx, paymentContextKey, result)
}

// PaymentFromContext returns the verification result of the paid request.
func PaymentFromContext(ctx context.Context) (*types.VerificationResult, bool) {
	result, ok := ctx.Value(paymentContextKey).(*types.VerificationResult)
	return result, ok && result != nil
}
