package middleware

import (
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/guilhermeportfolio/portfolio-backend/internal/shared/errors"
	"github.com/guilhermeportfolio/portfolio-backend/internal/shared/metrics"
)

const (
	defaultCleanupEvery = time.Minute
	defaultIdleTTL      = 3 * time.Minute
)

// RateLimiter is a per-client token bucket limiter.
type RateLimiter struct {
	mu       sync.Mutex
	limiters map[string]*clientLimiter
	rate     rate.Limit
	burst    int

	trustProxyHeaders bool
	cleanupEvery      time.Duration
	idleTTL           time.Duration
	now               func() time.Time

	metrics  *metrics.Metrics
	stop     chan struct{}
	stopOnce sync.Once
}

type clientLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimitOption configures a RateLimiter.
type RateLimitOption func(*RateLimiter)

// WithRateLimitMetrics records checks and drops.
func WithRateLimitMetrics(m *metrics.Metrics) RateLimitOption {
	return func(rl *RateLimiter) {
		rl.metrics = m
	}
}

// WithTrustedProxyHeaders keys clients by X-Forwarded-For or X-Real-IP
// instead of the connection address. Only enable behind a proxy that sets
// these headers.
func WithTrustedProxyHeaders(trust bool) RateLimitOption {
	return func(rl *RateLimiter) {
		rl.trustProxyHeaders = trust
	}
}

// WithCleanup sets how often idle clients are evicted and how long a client
// must be idle to be evicted.
func WithCleanup(every, idle time.Duration) RateLimitOption {
	return func(rl *RateLimiter) {
		rl.cleanupEvery = every
		rl.idleTTL = idle
	}
}

// NewRateLimiter creates a limiter and starts its cleanup goroutine. Call
// Stop to release it.
func NewRateLimiter(requestsPerSecond float64, burst int, opts ...RateLimitOption) *RateLimiter {
	rl := &RateLimiter{
		limiters:     make(map[string]*clientLimiter),
		rate:         rate.Limit(requestsPerSecond),
		burst:        burst,
		cleanupEvery: defaultCleanupEvery,
		idleTTL:      defaultIdleTTL,
		now:          time.Now,
		stop:         make(chan struct{}),
	}
	for _, opt := range opts {
		opt(rl)
	}

	go rl.cleanupLoop()

	return rl
}

// Allow reports whether a request from key may proceed now.
func (rl *RateLimiter) Allow(key string) bool {
	now := rl.now()

	rl.mu.Lock()
	cl, ok := rl.limiters[key]
	if !ok {
		cl = &clientLimiter{limiter: rate.NewLimiter(rl.rate, rl.burst)}
		rl.limiters[key] = cl
	}
	cl.lastSeen = now
	rl.mu.Unlock()

	return cl.limiter.AllowN(now, 1)
}

// Len returns the number of tracked clients.
func (rl *RateLimiter) Len() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.limiters)
}

func (rl *RateLimiter) cleanupLoop() {
	ticker := time.NewTicker(rl.cleanupEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			rl.evictIdle()
		case <-rl.stop:
			return
		}
	}
}

func (rl *RateLimiter) evictIdle() {
	cutoff := rl.now().Add(-rl.idleTTL)

	rl.mu.Lock()
	defer rl.mu.Unlock()
	for key, cl := range rl.limiters {
		if cl.lastSeen.Before(cutoff) {
			delete(rl.limiters, key)
		}
	}
}

// Stop stops the cleanup goroutine. It is safe to call more than once.
func (rl *RateLimiter) Stop() {
	rl.stopOnce.Do(func() { close(rl.stop) })
}

// Middleware returns middleware that limits requests to route per client.
func (rl *RateLimiter) Middleware(route string) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			rl.metrics.RecordRateLimitHit(route)

			if !rl.Allow(rl.clientKey(r)) {
				rl.metrics.RecordRateLimitDrop(route)
				w.Header().Set("Retry-After", rl.retryAfter())
				errors.WriteJSON(w, errors.RateLimited("too many requests"))
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func (rl *RateLimiter) retryAfter() string {
	if rl.rate <= 0 {
		return "60"
	}
	return strconv.Itoa(int(math.Ceil(1 / float64(rl.rate))))
}

func (rl *RateLimiter) clientKey(r *http.Request) string {
	if rl.trustProxyHeaders {
		if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
			first, _, _ := strings.Cut(xff, ",")
			if ip := strings.TrimSpace(first); ip != "" {
				return ip
			}
		}
		if xri := strings.TrimSpace(r.Header.Get("X-Real-IP")); xri != "" {
			return xri
		}
	}

	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return ip
}
