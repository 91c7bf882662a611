package httpx

import (
	"context"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/aussiebroadwan/gatekeep/pkg/slogx"
	"golang.org/x/time/rate"
)

// RateLimitConfig defines the rate limiting parameters.
type RateLimitConfig struct {
	// RequestsPerWindow is the number of requests allowed in the time window
	RequestsPerWindow int
	// Window is the time window for rate limiting
	Window time.Duration
	// Burst allows for temporary bursts above the rate limit
	Burst int
}

// RateLimitProfiles groups the limits applied to the different route classes.
type RateLimitProfiles struct {
	// Strict guards session creation and refresh (credential stuffing).
	Strict RateLimitConfig
	// Moderate guards authenticated management calls.
	Moderate RateLimitConfig
	// Lenient guards hot authenticated paths such as authorize checks.
	Lenient RateLimitConfig
	// Public guards unauthenticated reads (JWKS, health).
	Public RateLimitConfig
}

// DefaultRateLimitProfiles returns the built-in profiles, each overridable via
// RATELIMIT_{STRICT,MODERATE,LENIENT,PUBLIC}_{REQUESTS,WINDOW_SEC,BURST}.
func DefaultRateLimitProfiles() RateLimitProfiles {
	return RateLimitProfiles{
		Strict:   ParseRateLimitFromEnv("STRICT", RateLimitConfig{RequestsPerWindow: 10, Window: time.Minute, Burst: 10}),
		Moderate: ParseRateLimitFromEnv("MODERATE", RateLimitConfig{RequestsPerWindow: 60, Window: time.Minute, Burst: 20}),
		Lenient:  ParseRateLimitFromEnv("LENIENT", RateLimitConfig{RequestsPerWindow: 600, Window: time.Minute, Burst: 100}),
		Public:   ParseRateLimitFromEnv("PUBLIC", RateLimitConfig{RequestsPerWindow: 1000, Window: time.Minute, Burst: 1000}),
	}
}

// ParseRateLimitFromEnv reads RATELIMIT_{prefix}_{REQUESTS,WINDOW_SEC,BURST},
// keeping def for anything unset or invalid.
func ParseRateLimitFromEnv(prefix string, def RateLimitConfig) RateLimitConfig {
	cfg := def

	if n, ok := positiveEnvInt("RATELIMIT_" + prefix + "_REQUESTS"); ok {
		cfg.RequestsPerWindow = n
	}
	if n, ok := positiveEnvInt("RATELIMIT_" + prefix + "_WINDOW_SEC"); ok {
		cfg.Window = time.Duration(n) * time.Second
	}
	if n, ok := positiveEnvInt("RATELIMIT_" + prefix + "_BURST"); ok {
		cfg.Burst = n
	}

	return cfg
}

func positiveEnvInt(key string) (int, bool) {
	n, err := strconv.Atoi(os.Getenv(key))
	if err != nil || n <= 0 {
		return 0, false
	}
	return n, true
}

// KeyExtractor picks the bucket a request is counted against.
type KeyExtractor func(*http.Request) string

// IPKeyExtractor buckets by client IP.
func IPKeyExtractor(r *http.Request) string { return ClientIP(r) }

// ContextKeyExtractor buckets by a value found on the request context, such
// as the authenticated user id.
func ContextKeyExtractor(fn func(context.Context) string) KeyExtractor {
	return func(r *http.Request) string { return fn(r.Context()) }
}

// CompositeKeyExtractor joins non-empty keys with sep.
func CompositeKeyExtractor(sep string, extractors ...KeyExtractor) KeyExtractor {
	return func(r *http.Request) string {
		parts := make([]string, 0, len(extractors))
		for _, extract := range extractors {
			if key := extract(r); key != "" {
				parts = append(parts, key)
			}
		}
		return strings.Join(parts, sep)
	}
}

// Limiters is a keyed set of token buckets. Idle buckets are swept
// opportunistically so ephemeral keys do not accumulate.
type Limiters struct {
	limit rate.Limit
	burst int

	buckets sync.Map // map[string]*rate.Limiter

	mu        sync.Mutex
	lastSweep time.Time
	sweepGap  time.Duration
}

// NewLimiters returns buckets refilling at cfg.RequestsPerWindow per Window.
func NewLimiters(cfg RateLimitConfig) *Limiters {
	return &Limiters{
		limit:     rate.Limit(float64(cfg.RequestsPerWindow) / cfg.Window.Seconds()),
		burst:     cfg.Burst,
		lastSweep: time.Now(),
		sweepGap:  5 * time.Minute,
	}
}

// Get returns the bucket for key, creating it on first use.
func (l *Limiters) Get(key string) *rate.Limiter {
	if v, ok := l.buckets.Load(key); ok {
		return v.(*rate.Limiter)
	}

	v, _ := l.buckets.LoadOrStore(key, rate.NewLimiter(l.limit, l.burst))
	l.maybeSweep()
	return v.(*rate.Limiter)
}

// Forget drops the bucket for key.
func (l *Limiters) Forget(key string) { l.buckets.Delete(key) }

func (l *Limiters) maybeSweep() {
	l.mu.Lock()
	defer l.mu.Unlock()

	if time.Since(l.lastSweep) < l.sweepGap {
		return
	}
	l.lastSweep = time.Now()

	// A full bucket has not been touched for at least one refill period
	l.buckets.Range(func(k, v any) bool {
		if v.(*rate.Limiter).Tokens() >= float64(l.burst) {
			l.buckets.Delete(k)
		}
		return true
	})
}

// RateLimitMiddleware rejects requests over cfg with 429 and Retry-After.
// Requests with no extractable key are let through and logged.
func RateLimitMiddleware(cfg RateLimitConfig, keyOf KeyExtractor) Middleware {
	buckets := NewLimiters(cfg)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			log := slogx.FromContext(r.Context())

			key := keyOf(r)
			if key == "" {
				log.Warn("rate limit: unable to extract key, allowing request")
				next.ServeHTTP(w, r)
				return
			}

			limiter := buckets.Get(key)
			if limiter.Allow() {
				next.ServeHTTP(w, r)
				return
			}

			// Peek at when the next token lands without consuming it
			res := limiter.Reserve()
			retryAfter := max(int(res.Delay().Seconds()), 1)
			res.Cancel()

			w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(cfg.RequestsPerWindow))
			w.Header().Set("X-RateLimit-Window", cfg.Window.String())

			log.Warn("rate limit exceeded", "key", key, "endpoint", r.URL.Path, "retry_after", retryAfter)

			WriteJSON(w, http.StatusTooManyRequests, map[string]string{
				"error":   "RATE_LIMITED",
				"message": "too many requests, try again later",
			})
		})
	}
}

// RateLimitByIP limits by client IP only.
func RateLimitByIP(cfg RateLimitConfig) Middleware {
	return RateLimitMiddleware(cfg, IPKeyExtractor)
}

// RateLimitBy limits by the context value fn returns, falling back to the
// client IP for anonymous requests.
func RateLimitBy(cfg RateLimitConfig, fn func(context.Context) string) Middleware {
	return RateLimitMiddleware(cfg, CompositeKeyExtractor(":", ContextKeyExtractor(fn), IPKeyExtractor))
}
