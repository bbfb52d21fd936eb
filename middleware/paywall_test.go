package middleware

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/silkroad-bazaar/x402/codec"
	"github.com/silkroad-bazaar/x402/ledger"
	"github.com/silkroad-bazaar/x402/types"
)

type stubVerifier struct {
	mu     sync.Mutex
	result *types.VerificationResult
	err    error
	calls  int
}

func (s *stubVerifier) Verify(_ context.Context, p *types.PaymentPayload, _ *types.PaymentRequirements) (*types.VerificationResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	r := *s.result
	if r.Transaction == "" {
		r.Transaction = p.Payload.Signature
	}
	return &r, nil
}

type failingLedger struct{}

func (failingLedger) Claim(context.Context, string, time.Duration) (bool, error) {
	return false, errors.New("connection refused")
}
func (failingLedger) Release(context.Context, string) error { return nil }
func (failingLedger) Close() error                          { return nil }

func testRequirements() types.PaymentRequirements {
	return types.PaymentRequirements{
		Scheme:            "exact",
		Network:           "solana-devnet",
		MaxAmountRequired: "10500000",
		Resource:          "/premium",
		Description:       "premium data",
		MimeType:          "application/json",
		PayTo:             "AejHuZdNpDUiAiwuV2NKXz8K6eLzChYGpTcxptinWbar",
		MaxTimeoutSeconds: 30,
		Asset:             "4zMMC9srt5Ri5X14GAgXhaHii3GnPAEERYPJgZJDncDU",
	}
}

func paymentHeader(t *testing.T, signature string) string {
	t.Helper()
	header, err := codec.EncodePaymentHeader(&types.PaymentPayload{
		X402Version: 1,
		Scheme:      "exact",
		Network:     "solana-devnet",
		Payload: types.ExactPayload{
			Signature: signature,
			From:      "EAx3oF6kmpAa6aR9G6LjhuWoqKJLpYsufSDoGp2dDWkh",
			To:        "AejHuZdNpDUiAiwuV2NKXz8K6eLzChYGpTcxptinWbar",
			Amount:    "10500000",
			Mint:      "4zMMC9srt5Ri5X14GAgXhaHii3GnPAEERYPJgZJDncDU",
		},
	})
	require.NoError(t, err)
	return header
}

func newPaywall(t *testing.T, verifier *stubVerifier, mutate ...func(*Config)) *Paywall {
	t.Helper()
	cfg := Config{Requirements: testRequirements(), Verifier: verifier}
	for _, m := range mutate {
		m(&cfg)
	}
	p, err := New(cfg)
	require.NoError(t, err)
	return p
}

var okHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	result, ok := PaymentFromContext(r.Context())
	if !ok {
		w.WriteHeader(http.StatusTeapot)
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(result.Transaction))
})

func serve(h http.Handler, header string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/premium", nil)
	if header != "" {
		req.Header.Set(types.PaymentHeader, header)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestPaywall_MissingHeaderReturns402Envelope(t *testing.T) {
	verifier := &stubVerifier{result: &types.VerificationResult{Success: true}}
	h := newPaywall(t, verifier).Handler(okHandler)

	w := serve(h, "")
	require.Equal(t, http.StatusPaymentRequired, w.Code)
	assert.NotEmpty(t, w.Header().Get(CorrelationIDHeader))

	var body types.PaymentRequiredResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, 1, body.X402Version)
	require.Len(t, body.Accepts, 1)
	assert.Equal(t, testRequirements(), body.Accepts[0])
	assert.Equal(t, 0, verifier.calls)
}

func TestPaywall_UndecodableHeaderIsTreatedAsMissing(t *testing.T) {
	verifier := &stubVerifier{result: &types.VerificationResult{Success: true}}
	h := newPaywall(t, verifier).Handler(okHandler)

	w := serve(h, "not-base64!!!")
	assert.Equal(t, http.StatusPaymentRequired, w.Code)
	assert.Equal(t, 0, verifier.calls)
}

func TestPaywall_AcceptsOnceThenConflicts(t *testing.T) {
	verifier := &stubVerifier{result: &types.VerificationResult{Success: true, Network: "solana-devnet", Payer: "payer"}}
	h := newPaywall(t, verifier).Handler(okHandler)
	header := paymentHeader(t, "sigA")

	w := serve(h, header)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "sigA", w.Body.String())

	raw, err := base64.StdEncoding.DecodeString(w.Header().Get(types.PaymentResponseHeader))
	require.NoError(t, err)
	var resp PaymentResponse
	require.NoError(t, json.Unmarshal(raw, &resp))
	assert.True(t, resp.Success)
	assert.Equal(t, "sigA", resp.Transaction)

	w = serve(h, header)
	require.Equal(t, http.StatusConflict, w.Code)
	var body ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, types.CodeProofAlreadyUsed, body.Error)

	w = serve(h, paymentHeader(t, "sigB"))
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestPaywall_StatusMapping(t *testing.T) {
	tests := []struct {
		code       string
		status     int
		envelope   bool
		retryAfter string
	}{
		{types.CodeUnsupportedVersion, http.StatusBadRequest, false, ""},
		{types.CodeFieldMissing, http.StatusBadRequest, false, ""},
		{types.CodeAmountMismatch, http.StatusPaymentRequired, true, ""},
		{types.CodeRecipientMismatch, http.StatusPaymentRequired, true, ""},
		{types.CodeMintMismatch, http.StatusPaymentRequired, true, ""},
		{types.CodeConfirmationTimeout, http.StatusAccepted, false, "5"},
		{types.CodeTransactionFailed, http.StatusPaymentRequired, true, ""},
		{types.CodeChainUnavailable, http.StatusBadGateway, false, ""},
		{types.CodeNoClient, http.StatusInternalServerError, false, ""},
	}

	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			verifier := &stubVerifier{result: &types.VerificationResult{Success: false, Code: tt.code, Reason: "reason " + tt.code}}
			h := newPaywall(t, verifier).Handler(okHandler)

			w := serve(h, paymentHeader(t, "sig"))
			require.Equal(t, tt.status, w.Code)
			assert.Equal(t, tt.retryAfter, w.Header().Get("Retry-After"))

			if tt.envelope {
				var body types.PaymentRequiredResponse
				require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
				assert.Len(t, body.Accepts, 1)
				assert.Equal(t, "reason "+tt.code, body.Error)
				return
			}

			var body ErrorResponse
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
			assert.Equal(t, tt.code, body.Error)
			assert.Equal(t, "reason "+tt.code, body.Message)
		})
	}
}

func TestPaywall_TimeoutDoesNotConsumeProof(t *testing.T) {
	verifier := &stubVerifier{result: &types.VerificationResult{Success: false, Code: types.CodeConfirmationTimeout}}
	mem := ledger.NewMemoryLedger()
	h := newPaywall(t, verifier, func(c *Config) { c.Ledger = mem }).Handler(okHandler)
	header := paymentHeader(t, "slow")

	assert.Equal(t, http.StatusAccepted, serve(h, header).Code)
	assert.Equal(t, 0, mem.Len())

	verifier.result = &types.VerificationResult{Success: true, Network: "solana-devnet"}
	assert.Equal(t, http.StatusOK, serve(h, header).Code)
	assert.Equal(t, 1, mem.Len())
}

func TestPaywall_VerifierAndLedgerErrors(t *testing.T) {
	h := newPaywall(t, &stubVerifier{err: errors.New("boom")}).Handler(okHandler)
	assert.Equal(t, http.StatusInternalServerError, serve(h, paymentHeader(t, "sig")).Code)

	h = newPaywall(t, &stubVerifier{result: &types.VerificationResult{Success: true}}, func(c *Config) {
		c.Ledger = failingLedger{}
	}).Handler(okHandler)
	assert.Equal(t, http.StatusServiceUnavailable, serve(h, paymentHeader(t, "sig")).Code)
}

func TestPaywall_RateLimit(t *testing.T) {
	verifier := &stubVerifier{result: &types.VerificationResult{Success: true}}
	h := newPaywall(t, verifier, func(c *Config) {
		c.RateLimit = 0.001
		c.RateBurst = 2
	}).Handler(okHandler)

	assert.Equal(t, http.StatusPaymentRequired, serve(h, "").Code)
	assert.Equal(t, http.StatusPaymentRequired, serve(h, "").Code)

	w := serve(h, "")
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "1", w.Header().Get("Retry-After"))
}

func TestPaywall_KeepsIncomingCorrelationID(t *testing.T) {
	p := newPaywall(t, &stubVerifier{result: &types.VerificationResult{Success: true}})

	req := httptest.NewRequest(http.MethodGet, "/premium", nil)
	req.Header.Set(CorrelationIDHeader, "abc-123")
	outcome := p.Check(req)
	assert.Equal(t, "abc-123", outcome.CorrelationID)
	assert.False(t, outcome.Paid())
}

func TestNew_Validation(t *testing.T) {
	_, err := New(Config{Verifier: &stubVerifier{}})
	assert.Equal(t, types.ErrInvalidRequirements, types.ErrorCode(err))

	_, err = New(Config{Requirements: testRequirements()})
	assert.Equal(t, types.ErrConfigError, types.ErrorCode(err))
}

func TestClientIdentifier(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "10.0.0.1:4321"
	assert.Equal(t, "ip:10.0.0.1", clientIdentifier(req, false))
	assert.Equal(t, "ip:10.0.0.1", clientIdentifier(req, true))

	req.Header.Set("X-Forwarded-For", "203.0.113.9, 10.0.0.1")
	assert.Equal(t, "ip:10.0.0.1", clientIdentifier(req, false), "forwarded header ignored unless trusted")
	assert.Equal(t, "ip:203.0.113.9", clientIdentifier(req, true))
}

func TestPaywall_RateLimitIgnoresForgedForwardedFor(t *testing.T) {
	h := newPaywall(t, &stubVerifier{result: &types.VerificationResult{Success: true}}, func(c *Config) {
		c.RateLimit = 0.001
		c.RateBurst = 1
	}).Handler(okHandler)

	request := func(forwarded string) int {
		req := httptest.NewRequest(http.MethodGet, "/premium", nil)
		req.RemoteAddr = "198.51.100.7:5555"
		req.Header.Set("X-Forwarded-For", forwarded)
		w := httptest.NewRecorder()
		h.ServeHTTP(w, req)
		return w.Code
	}

	assert.Equal(t, http.StatusPaymentRequired, request("203.0.113.1"))
	assert.Equal(t, http.StatusTooManyRequests, request("203.0.113.2"))
}

func TestPaywall_ReleasesClaimWhenHandlerFails(t *testing.T) {
	mem := ledger.NewMemoryLedger()
	verifier := &stubVerifier{result: &types.VerificationResult{Success: true, Network: "solana-devnet"}}
	p := newPaywall(t, verifier, func(c *Config) { c.Ledger = mem })

	failing := true
	h := p.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if failing {
			http.Error(w, "upstream down", http.StatusServiceUnavailable)
			return
		}
		okHandler.ServeHTTP(w, r)
	}))
	header := paymentHeader(t, "sigRetry")

	w := serve(h, header)
	require.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, 0, mem.Len())

	failing = false
	w = serve(h, header)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 1, mem.Len())

	assert.Equal(t, http.StatusConflict, serve(h, header).Code)
}

func TestPaywall_KeepsClaimWhenHandlerRejectsRequest(t *testing.T) {
	mem := ledger.NewMemoryLedger()
	verifier := &stubVerifier{result: &types.VerificationResult{Success: true, Network: "solana-devnet"}}
	h := newPaywall(t, verifier, func(c *Config) { c.Ledger = mem }).Handler(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNotFound)
		}))

	assert.Equal(t, http.StatusNotFound, serve(h, paymentHeader(t, "sig404")).Code)
	assert.Equal(t, 1, mem.Len())
}

func TestGinPaywall(t *testing.T) {
	gin.SetMode(gin.TestMode)

	verifier := &stubVerifier{result: &types.VerificationResult{Success: true, Network: "solana-devnet"}}
	p := newPaywall(t, verifier)

	router := gin.New()
	router.GET("/premium", p.Gin(), func(c *gin.Context) {
		result, ok := GinPayment(c)
		if !ok {
			c.Status(http.StatusTeapot)
			return
		}
		c.String(http.StatusOK, result.Transaction)
	})

	w := serve(router, "")
	assert.Equal(t, http.StatusPaymentRequired, w.Code)

	header := paymentHeader(t, "ginSig")
	w = serve(router, header)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ginSig", w.Body.String())
	assert.NotEmpty(t, w.Header().Get(types.PaymentResponseHeader))

	w = serve(router, header)
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestGinPaywall_ReleasesClaimWhenHandlerFails(t *testing.T) {
	gin.SetMode(gin.TestMode)

	mem := ledger.NewMemoryLedger()
	verifier := &stubVerifier{result: &types.VerificationResult{Success: true, Network: "solana-devnet"}}
	p := newPaywall(t, verifier, func(c *Config) { c.Ledger = mem })

	router := gin.New()
	router.GET("/premium", p.Gin(), func(c *gin.Context) {
		c.String(http.StatusInternalServerError, "render failed")
	})

	header := paymentHeader(t, "ginRetry")
	assert.Equal(t, http.StatusInternalServerError, serve(router, header).Code)
	assert.Equal(t, 0, mem.Len())
	assert.Equal(t, http.StatusInternalServerError, serve(router, header).Code, "the same proof is accepted again")
	assert.Equal(t, 2, verifier.calls)
}
