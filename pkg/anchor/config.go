package anchor

import (
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/getanchor/anchor-go/internal/clock"
	"github.com/getanchor/anchor-go/internal/governance"
)

// DefaultBaseURL is the production Anchor API endpoint.
const DefaultBaseURL = "https://api.getanchor.dev"

// DefaultTimeout bounds a single HTTP attempt when no HTTPClient is given.
const DefaultTimeout = 30 * time.Second

// RetryConfig controls retry with exponential backoff. The delay before
// retry n is BaseDelay * Multiplier^(n-1), capped at MaxDelay when set.
type RetryConfig struct {
	// MaxAttempts is the total number of attempts including the first.
	// Defaults to 4. Set to 1 to disable retries.
	MaxAttempts int
	// BaseDelay is the delay before the first retry. Defaults to 1s.
	BaseDelay time.Duration
	// Multiplier grows the delay per retry. Defaults to 2.
	Multiplier float64
	// MaxDelay caps any single backoff. Zero or negative leaves the
	// backoff uncapped.
	MaxDelay time.Duration
	// Jitter adds up to 25% random delay to each backoff.
	Jitter bool
}

// Config holds everything needed to construct a Client.
type Config struct {
	// APIKey authenticates every request. Required.
	APIKey string

	// BaseURL is the API root. Defaults to DefaultBaseURL.
	BaseURL string

	// WorkspaceID is the default workspace for every call. Calls without
	// a workspace are still sent, with a warning logged.
	WorkspaceID string

	// Retry configures retries. Zero fields take defaults.
	Retry RetryConfig

	// RequestsPerSecond paces outbound requests client side. Zero
	// disables pacing.
	RequestsPerSecond float64

	// Timeout bounds each attempt when HTTPClient is nil. Defaults to
	// DefaultTimeout.
	Timeout time.Duration

	// HTTPClient performs requests. Defaults to a client with Timeout and
	// an OpenTelemetry-instrumented transport.
	HTTPClient *http.Client

	// DisableTracing skips wrapping the default transport with otelhttp.
	DisableTracing bool

	// Logger receives structured diagnostics. Defaults to slog.Default().
	Logger *slog.Logger

	// Clock drives backoff waits. Defaults to the real clock.
	Clock clock.Clock

	// UserAgent is appended to the SDK's own User-Agent.
	UserAgent string
}

func (c Config) validate() error {
	if strings.TrimSpace(c.APIKey) == "" {
		return fmt.Errorf("anchor: api key is required")
	}
	u, err := url.Parse(c.BaseURL)
	if err != nil {
		return fmt.Errorf("anchor: invalid base url %q: %w", c.BaseURL, err)
	}
	if u.Scheme != "https" && u.Scheme != "http" {
		return fmt.Errorf("anchor: base url must be http or https (got %q)", c.BaseURL)
	}
	if u.Host == "" {
		return fmt.Errorf("anchor: base url %q has no host", c.BaseURL)
	}
	if c.Timeout < 0 {
		return fmt.Errorf("anchor: timeout must not be negative")
	}
	if c.Retry.MaxAttempts < 0 {
		return fmt.Errorf("anchor: retry max attempts must not be negative")
	}
	if c.Retry.Multiplier < 0 {
		return fmt.Errorf("anchor: retry multiplier must not be negative")
	}
	return nil
}

func (c Config) withDefaults() Config {
	if c.BaseURL == "" {
		c.BaseURL = DefaultBaseURL
	}
	c.BaseURL = strings.TrimRight(c.BaseURL, "/")
	if c.Timeout == 0 {
		c.Timeout = DefaultTimeout
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.Clock == nil {
		c.Clock = clock.Real()
	}
	return c
}

func (r RetryConfig) policy() *governance.RetryPolicy {
	return governance.NewRetryPolicy(governance.RetryConfig{
		MaxAttempts:       r.MaxAttempts,
		BaseDelay:         r.BaseDelay,
		MaxDelay:          r.MaxDelay,
		BackoffMultiplier: r.Multiplier,
		Jitter:            r.Jitter,
	})
}
