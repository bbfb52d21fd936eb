package middleware

import (
	"net"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"
)

const (
	limiterIdleTTL      = 10 * time.Minute
	limiterSweepEvery   = 1024
	forwardedForHeader  = "X-Forwarded-For"
	unknownClientRemote = "unknown"
)

// RateLimiter keeps one token bucket per client.
type RateLimiter struct {
	limiters sync.Map
	rate     rate.Limit
	burst    int
	calls    uint64
}

type limiterEntry struct {
	limiter    *rate.Limiter
	lastAccess int64
}

// NewRateLimiter allows requestsPerSecond per client with the given burst.
func NewRateLimiter(requestsPerSecond float64, burst int) *RateLimiter {
	if burst <= 0 {
		burst = 1
	}
	return &RateLimiter{
		rate:  rate.Limit(requestsPerSecond),
		burst: burst,
	}
}

// Allow reports whether client may make a request now.
func (rl *RateLimiter) Allow(client string) bool {
	now := time.Now()
	if atomic.AddUint64(&rl.calls, 1)%limiterSweepEvery == 0 {
		rl.sweep(now)
	}
	return rl.getLimiter(client, now).Allow()
}

func (rl *RateLimiter) getLimiter(key string, now time.Time) *rate.Limiter {
	if val, ok := rl.limiters.Load(key); ok {
		entry := val.(*limiterEntry)
		atomic.StoreInt64(&entry.lastAccess, now.UnixNano())
		return entry.limiter
	}

	entry := &limiterEntry{
		limiter:    rate.NewLimiter(rl.rate, rl.burst),
		lastAccess: now.UnixNano(),
	}
	actual, _ := rl.limiters.LoadOrStore(key, entry)
	return actual.(*limiterEntry).limiter
}

func (rl *RateLimiter) sweep(now time.Time) {
	rl.limiters.Range(func(key, value interface{}) bool {
		entry := value.(*limiterEntry)
		if now.Sub(time.Unix(0, atomic.LoadInt64(&entry.lastAccess))) > limiterIdleTTL {
			rl.limiters.Delete(key)
		}
		return true
	})
}

// clientIdentifier keys a request by its remote host, or by the first
// X-Forwarded-For hop when trustProxy is set.
func clientIdentifier(r *http.Request, trustProxy bool) string {
	if forwarded := r.Header.Get(forwardedForHeader); trustProxy && forwarded != "" {
		first := strings.TrimSpace(strings.Split(forwarded, ",")[0])
		if first != "" {
			return "ip:" + first
		}
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	if host == "" {
		host = unknownClientRemote
	}
	return "ip:" + host
}
