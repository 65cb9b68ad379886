package middleware

import (
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"strings"

	"github.com/rs/zerolog"

	"github.com/chargegate/chargegate/pkg/chargegate"
)

// KeyFunc extracts a unique client identifier from the request
type KeyFunc func(*http.Request) string

// RateLimiter provides HTTP middleware that charges a per-client token
// bucket for every request.
type RateLimiter struct {
	charger chargegate.Charger
	bucket  chargegate.Bucket
	cost    float64
	keyFunc KeyFunc
	log     zerolog.Logger
}

// Config for creating a rate limiting middleware
type Config struct {
	// Charger evaluates the charges (required).
	Charger chargegate.Charger

	// Bucket is the per-client bucket template. Its Key is used as a prefix;
	// the client key is appended as "<Key>:<client>".
	Bucket chargegate.Bucket

	// Cost is the number of tokens charged per request. Defaults to 1.
	Cost float64

	// KeyFunc identifies the client. Defaults to client IP.
	KeyFunc KeyFunc

	// Logger for limiter errors. Silent by default.
	Logger zerolog.Logger
}

// NewRateLimiter creates a new rate limiting middleware
func NewRateLimiter(config Config) *RateLimiter {
	if config.KeyFunc == nil {
		config.KeyFunc = defaultKeyFunc
	}
	if config.Cost == 0 {
		config.Cost = 1
	}

	return &RateLimiter{
		charger: config.Charger,
		bucket:  config.Bucket,
		cost:    config.Cost,
		keyFunc: config.KeyFunc,
		log:     config.Logger,
	}
}

// defaultKeyFunc extracts client identifier from IP address
func defaultKeyFunc(r *http.Request) string {
	// Try X-Forwarded-For first (for proxies)
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		ips := strings.Split(xff, ",")
		return strings.TrimSpace(ips[0])
	}

	// Fall back to RemoteAddr
	ip := r.RemoteAddr
	// Remove port if present
	if idx := strings.LastIndex(ip, ":"); idx != -1 {
		ip = ip[:idx]
	}
	return ip
}

// Middleware wraps an http.Handler with rate limiting
func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		bucket := rl.bucket
		bucket.Key = rl.bucket.Key + ":" + rl.keyFunc(r)

		allowed, level, err := rl.charger.Charge(r.Context(), bucket, rl.cost)
		if err != nil {
			rl.log.Error().Err(err).Str("key", bucket.Key).Msg("charge failed")
			http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			return
		}

		// Add rate limit headers
		w.Header().Set("X-RateLimit-Limit", fmt.Sprintf("%.0f", bucket.Size))
		w.Header().Set("X-RateLimit-Remaining", fmt.Sprintf("%.0f", math.Max(level, 0)))

		if !allowed {
			// Request blocked; report how long until the charge would fit
			retryAfterSec := 1.0
			if bucket.Rate > 0 {
				retryAfterSec = math.Ceil((rl.cost - level) / bucket.Rate)
			}
			w.Header().Set("Retry-After", fmt.Sprintf("%.0f", retryAfterSec))
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusTooManyRequests)

			json.NewEncoder(w).Encode(map[string]interface{}{
				"error":   "rate_limit_exceeded",
				"message": "Too many requests. Please try again later.",
			})
			return
		}

		// Request allowed
		next.ServeHTTP(w, r)
	})
}
