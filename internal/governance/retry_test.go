package governance

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestBackoffSuccessiveAttempts(t *testing.T) {
	rp := NewRetryPolicy(RetryConfig{
		MaxAttempts:       5,
		BaseDelay:         100 * time.Millisecond,
		BackoffMultiplier: 3,
	})

	assert.Equal(t, 100*time.Millisecond, rp.Backoff(1))
	assert.Equal(t, 300*time.Millisecond, rp.Backoff(2))
	assert.Equal(t, 900*time.Millisecond, rp.Backoff(3))
	assert.Equal(t, 2700*time.Millisecond, rp.Backoff(4))
}

func TestBackoffCappedAtMaxDelay(t *testing.T) {
	rp := NewRetryPolicy(RetryConfig{
		BaseDelay:         time.Second,
		MaxDelay:          3 * time.Second,
		BackoffMultiplier: 2,
	})

	assert.Equal(t, 2*time.Second, rp.Backoff(2))
	assert.Equal(t, 3*time.Second, rp.Backoff(3))
	assert.Equal(t, 3*time.Second, rp.Backoff(30))
}

func TestBackoffJitterBounded(t *testing.T) {
	rp := NewRetryPolicy(RetryConfig{BaseDelay: time.Second, BackoffMultiplier: 2, Jitter: true})
	for i := 0; i < 50; i++ {
		d := rp.Backoff(2)
		assert.GreaterOrEqual(t, d, 2*time.Second)
		assert.Less(t, d, 2500*time.Millisecond)
	}
}

func TestDelayHonorsRetryAfter(t *testing.T) {
	rp := NewRetryPolicy(RetryConfig{BaseDelay: 100 * time.Millisecond, BackoffMultiplier: 2})

	assert.Equal(t, 5*time.Second, rp.Delay(1, 5*time.Second))
	assert.Equal(t, 200*time.Millisecond, rp.Delay(2, 50*time.Millisecond))
}

func TestShouldRetry(t *testing.T) {
	rp := NewRetryPolicy(RetryConfig{MaxAttempts: 3})

	tests := []struct {
		name    string
		status  int
		err     error
		attempt int
		want    bool
	}{
		{"server error", http.StatusInternalServerError, nil, 1, true},
		{"bad gateway", http.StatusBadGateway, nil, 2, true},
		{"attempts exhausted", http.StatusServiceUnavailable, nil, 3, false},
		{"rate limited", http.StatusTooManyRequests, nil, 1, true},
		{"request timeout", http.StatusRequestTimeout, nil, 1, true},
		{"unauthorized", http.StatusUnauthorized, nil, 1, false},
		{"not found", http.StatusNotFound, nil, 1, false},
		{"validation", http.StatusUnprocessableEntity, nil, 1, false},
		{"connection refused", 0, errors.New("dial tcp: connection refused"), 1, true},
		{"caller cancelled", 0, fmt.Errorf("do: %w", context.Canceled), 1, false},
		{"deadline", 0, context.DeadlineExceeded, 1, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, rp.ShouldRetry(tt.status, tt.err, tt.attempt))
		})
	}
}

func TestNewRetryPolicyDefaults(t *testing.T) {
	cfg := NewRetryPolicy(RetryConfig{}).Config()
	def := DefaultRetryConfig()

	assert.Equal(t, def.MaxAttempts, cfg.MaxAttempts)
	assert.Equal(t, def.BaseDelay, cfg.BaseDelay)
	assert.Equal(t, def.BackoffMultiplier, cfg.BackoffMultiplier)
	assert.Zero(t, cfg.MaxDelay)
	assert.Equal(t, 80*time.Second, NewRetryPolicy(RetryConfig{BaseDelay: 10 * time.Second}).Backoff(4))
	assert.True(t, cfg.RetryableStatusCodes[http.StatusServiceUnavailable])
}

func TestParseRetryAfter(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	assert.Equal(t, 7*time.Second, ParseRetryAfter("7", now))
	assert.Equal(t, 1500*time.Millisecond, ParseRetryAfter("1.5", now))
	assert.Equal(t, time.Duration(0), ParseRetryAfter("", now))
	assert.Equal(t, time.Duration(0), ParseRetryAfter("soon", now))
	assert.Equal(t, time.Duration(0), ParseRetryAfter("-3", now))

	date := now.Add(90 * time.Second).Format(http.TimeFormat)
	assert.Equal(t, 90*time.Second, ParseRetryAfter(date, now))
}

// Backoff for attempt n equals base * multiplier^(n-1) when uncapped.
func TestBackoffProperties(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		baseMs := rapid.IntRange(1, 2000).Draw(t, "baseMs")
		multiplier := float64(rapid.IntRange(1, 4).Draw(t, "multiplier"))
		rp := NewRetryPolicy(RetryConfig{
			BaseDelay:         time.Duration(baseMs) * time.Millisecond,
			BackoffMultiplier: multiplier,
		})

		for n := 1; n <= 4; n++ {
			want := time.Duration(float64(baseMs) * float64(time.Millisecond) * math.Pow(multiplier, float64(n-1)))
			require.Equal(t, want, rp.Backoff(n), "attempt %d", n)
		}
	})
}
