package governance

import (
	"context"
	"math"

	"golang.org/x/time/rate"

	"github.com/getanchor/anchor-go/internal/clock"
)

// ThrottleConfig defines client-side request pacing.
type ThrottleConfig struct {
	// RequestsPerSecond is the sustained rate. Zero disables throttling.
	RequestsPerSecond float64
	// Burst is the bucket capacity. Defaults to ceil(RequestsPerSecond).
	Burst int
}

// Throttle paces outbound requests with a token bucket so a busy client
// backs off before the server answers 429. A nil *Throttle never blocks.
type Throttle struct {
	clock   clock.Clock
	limiter *rate.Limiter
}

// NewThrottle returns a throttle for cfg, or nil when throttling is disabled.
func NewThrottle(cfg ThrottleConfig, clk clock.Clock) *Throttle {
	if cfg.RequestsPerSecond <= 0 {
		return nil
	}
	if clk == nil {
		clk = clock.Real()
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = max(int(math.Ceil(cfg.RequestsPerSecond)), 1)
	}
	return &Throttle{
		clock:   clk,
		limiter: rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst),
	}
}

// Wait blocks until a token is available or ctx is done. Reservations are
// made at the injected clock's time.
func (t *Throttle) Wait(ctx context.Context) error {
	if t == nil {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	now := t.clock.Now()
	r := t.limiter.ReserveN(now, 1)
	delay := r.DelayFrom(now)
	if delay <= 0 {
		return nil
	}
	select {
	case <-ctx.Done():
		r.CancelAt(t.clock.Now())
		return ctx.Err()
	case <-t.clock.After(delay):
		return nil
	}
}

// Tokens returns the tokens available at the clock's current time.
func (t *Throttle) Tokens() float64 {
	if t == nil {
		return 0
	}
	return t.limiter.TokensAt(t.clock.Now())
}
