package governance

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// RetryConfig defines retry behavior for outbound API calls.
type RetryConfig struct {
	// MaxAttempts is the total number of attempts, including the first.
	// A value of 1 disables retries.
	MaxAttempts int
	// BaseDelay is the delay before the first retry.
	BaseDelay time.Duration
	// MaxDelay caps the computed backoff. Zero or negative means uncapped.
	MaxDelay time.Duration
	// BackoffMultiplier is the factor by which the delay grows per retry.
	BackoffMultiplier float64
	// Jitter adds up to 25% random delay on top of the computed backoff.
	Jitter bool
	// RetryableStatusCodes defines which HTTP status codes trigger retries.
	RetryableStatusCodes map[int]bool
}

// DefaultRetryableStatusCodes returns the status codes retried by default.
func DefaultRetryableStatusCodes() map[int]bool {
	return map[int]bool{
		http.StatusRequestTimeout:      true, // 408
		http.StatusTooManyRequests:     true, // 429
		http.StatusInternalServerError: true, // 500
		http.StatusBadGateway:          true, // 502
		http.StatusServiceUnavailable:  true, // 503
		http.StatusGatewayTimeout:      true, // 504
	}
}

// DefaultRetryConfig returns the client's default retry behavior: four
// attempts, one second base delay, doubling, uncapped, no jitter.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:          4,
		BaseDelay:            time.Second,
		BackoffMultiplier:    2.0,
		RetryableStatusCodes: DefaultRetryableStatusCodes(),
	}
}

// RetryPolicy decides whether and when a failed attempt is retried.
// It is immutable and safe for concurrent use.
type RetryPolicy struct {
	config RetryConfig
}

// NewRetryPolicy creates a retry policy, filling unset fields with defaults.
func NewRetryPolicy(config RetryConfig) *RetryPolicy {
	defaults := DefaultRetryConfig()
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = defaults.MaxAttempts
	}
	if config.BaseDelay <= 0 {
		config.BaseDelay = defaults.BaseDelay
	}
	if config.MaxDelay < 0 {
		config.MaxDelay = 0
	}
	if config.BackoffMultiplier <= 0 {
		config.BackoffMultiplier = defaults.BackoffMultiplier
	}
	if config.RetryableStatusCodes == nil {
		config.RetryableStatusCodes = defaults.RetryableStatusCodes
	}
	return &RetryPolicy{config: config}
}

// Config returns a copy of the retry configuration.
func (rp *RetryPolicy) Config() RetryConfig {
	cfg := rp.config
	cfg.RetryableStatusCodes = make(map[int]bool, len(rp.config.RetryableStatusCodes))
	for code, ok := range rp.config.RetryableStatusCodes {
		cfg.RetryableStatusCodes[code] = ok
	}
	return cfg
}

// MaxAttempts returns the total attempt ceiling.
func (rp *RetryPolicy) MaxAttempts() int {
	return rp.config.MaxAttempts
}

// RetryableStatus reports whether an HTTP status is transient.
func (rp *RetryPolicy) RetryableStatus(statusCode int) bool {
	return rp.config.RetryableStatusCodes[statusCode]
}

// ShouldRetry reports whether another attempt may follow attempt number
// attempt (1-based) that ended with statusCode or err.
func (rp *RetryPolicy) ShouldRetry(statusCode int, err error, attempt int) bool {
	if attempt >= rp.config.MaxAttempts {
		return false
	}
	if err != nil {
		return IsRetryableError(err)
	}
	return rp.RetryableStatus(statusCode)
}

// Backoff returns the delay before retry n (n >= 1):
// BaseDelay * BackoffMultiplier^(n-1), capped at MaxDelay and optionally
// jittered.
func (rp *RetryPolicy) Backoff(n int) time.Duration {
	if n < 1 {
		n = 1
	}
	raw := float64(rp.config.BaseDelay) * math.Pow(rp.config.BackoffMultiplier, float64(n-1))
	if raw > float64(math.MaxInt64) {
		raw = float64(math.MaxInt64)
	}
	backoff := time.Duration(raw)

	if rp.config.MaxDelay > 0 && backoff > rp.config.MaxDelay {
		backoff = rp.config.MaxDelay
	}

	if rp.config.Jitter && backoff >= 4 {
		// #nosec G404 - non-cryptographic random is fine for jitter
		backoff += time.Duration(rand.Int63n(int64(backoff / 4)))
	}
	return backoff
}

// Delay returns the wait before retry n, never shorter than the server's
// retry-after hint.
func (rp *RetryPolicy) Delay(n int, retryAfter time.Duration) time.Duration {
	backoff := rp.Backoff(n)
	if retryAfter > backoff {
		return retryAfter
	}
	return backoff
}

// ParseRetryAfter interprets a Retry-After header value, either delta
// seconds or an HTTP date relative to now. Returns zero when absent or
// unparseable.
func ParseRetryAfter(value string, now time.Time) time.Duration {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0
	}
	if seconds, err := strconv.ParseFloat(value, 64); err == nil {
		if seconds <= 0 {
			return 0
		}
		return time.Duration(seconds * float64(time.Second))
	}
	if at, err := http.ParseTime(value); err == nil {
		if d := at.Sub(now); d > 0 {
			return d
		}
	}
	return 0
}

// IsRetryableError reports whether a transport error is worth another
// attempt. Cancellation by the caller never is.
func IsRetryableError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}

	errStr := err.Error()
	retryablePatterns := []string{
		"connection refused",
		"connection reset",
		"broken pipe",
		"no such host",
		"timeout",
		"temporary failure",
		"EOF",
	}
	for _, pattern := range retryablePatterns {
		if strings.Contains(errStr, pattern) {
			return true
		}
	}
	return false
}
