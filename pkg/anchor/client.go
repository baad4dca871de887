package anchor

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/getanchor/anchor-go/internal/clock"
	"github.com/getanchor/anchor-go/internal/governance"
	"github.com/getanchor/anchor-go/pkg/telemetry"
)

// Client is the Anchor API client. Create one with NewClient and share it;
// it is safe for concurrent use by multiple goroutines.
type Client struct {
	baseURL    string
	apiKey     string
	userAgent  string
	httpClient *http.Client
	retry      *governance.RetryPolicy
	throttle   *governance.Throttle
	clock      clock.Clock
	logger     *slog.Logger
	redactor   *telemetry.Redactor

	mu          sync.RWMutex
	workspaceID string

	// Agents manages agent registration and lifecycle.
	Agents *AgentsService
	// Config manages versioned agent configuration.
	Config *ConfigService
	// Data reads and writes policy-governed key-value data.
	Data *DataService
	// Checkpoints snapshots and restores agent state.
	Checkpoints *CheckpointsService
	// Audit queries and verifies the hash-chained audit trail.
	Audit *AuditService
}

// NewClient creates a client from cfg. Returns an error if the API key is
// missing or the base URL is unusable.
func NewClient(cfg Config) (*Client, error) {
	cfg = cfg.withDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		var transport http.RoundTripper = http.DefaultTransport
		if !cfg.DisableTracing {
			transport = otelhttp.NewTransport(transport)
		}
		httpClient = &http.Client{Timeout: cfg.Timeout, Transport: transport}
	}

	userAgent := fmt.Sprintf("%s/%s", sdkName, Version)
	if cfg.UserAgent != "" {
		userAgent += " " + cfg.UserAgent
	}

	c := &Client{
		baseURL:     cfg.BaseURL,
		apiKey:      cfg.APIKey,
		userAgent:   userAgent,
		httpClient:  httpClient,
		retry:       cfg.Retry.policy(),
		throttle:    governance.NewThrottle(governance.ThrottleConfig{RequestsPerSecond: cfg.RequestsPerSecond}, cfg.Clock),
		clock:       cfg.Clock,
		logger:      cfg.Logger.With("component", "anchor"),
		redactor:    telemetry.NewRedactor(cfg.APIKey),
		workspaceID: cfg.WorkspaceID,
	}
	c.Agents = &AgentsService{client: c}
	c.Config = &ConfigService{client: c}
	c.Data = &DataService{client: c}
	c.Checkpoints = &CheckpointsService{client: c}
	c.Audit = &AuditService{client: c}
	return c, nil
}

// BaseURL returns the API root the client sends requests to.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// WorkspaceID returns the client's default workspace id.
func (c *Client) WorkspaceID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.workspaceID
}

// SetWorkspaceID replaces the default workspace id. Calls already in
// flight keep the workspace they started with.
func (c *Client) SetWorkspaceID(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.workspaceID = id
}

// ResolveWorkspaceID returns the default workspace id, or asks the service
// for the workspaces visible to the API key and returns the first one.
// Returns "" with a nil error when the service exposes none.
func (c *Client) ResolveWorkspaceID(ctx context.Context) (string, error) {
	if id := c.WorkspaceID(); id != "" {
		return id, nil
	}

	var resp struct {
		Workspaces []workspaceRef `json:"workspaces"`
		Data       []workspaceRef `json:"data"`
	}
	err := c.Do(ctx, RequestSpec{
		Method:        http.MethodGet,
		Path:          "/workspaces",
		Route:         "/workspaces",
		skipWorkspace: true,
	}, &resp)
	if err != nil {
		if IsNotFound(err) {
			return "", nil
		}
		return "", err
	}

	list := resp.Workspaces
	if len(list) == 0 {
		list = resp.Data
	}
	for _, ws := range list {
		if id := ws.id(); id != "" {
			return id, nil
		}
	}
	return "", nil
}

type workspaceRef struct {
	ID          string `json:"id"`
	WorkspaceID string `json:"workspaceId"`
}

func (w workspaceRef) id() string {
	if w.ID != "" {
		return w.ID
	}
	return w.WorkspaceID
}

// String identifies the client without exposing the API key.
func (c *Client) String() string {
	return fmt.Sprintf("anchor.Client(base_url=%q)", c.baseURL)
}

// decode unmarshals a raw response into out, tolerating a nil out.
func decode(raw json.RawMessage, out any, method, path string) error {
	if out == nil || len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("anchor: decode %s %s response: %w", method, path, err)
	}
	return nil
}

// sendOne sends spec and decodes a single resource, accepting either a
// bare object or one wrapped as {"<key>": {...}}. An empty key disables
// unwrapping.
func sendOne[T any](ctx context.Context, c *Client, spec RequestSpec, key string) (*T, error) {
	raw, err := c.Send(ctx, spec)
	if err != nil {
		return nil, err
	}
	return unwrap[T](raw, key, spec)
}

func unwrap[T any](raw json.RawMessage, key string, spec RequestSpec) (*T, error) {
	if key != "" {
		var fields map[string]json.RawMessage
		if json.Unmarshal(raw, &fields) == nil {
			if inner, ok := fields[key]; ok && len(inner) > 0 && inner[0] == '{' {
				raw = inner
			}
		}
	}
	out := new(T)
	if err := decode(raw, out, spec.Method, spec.Path); err != nil {
		return nil, err
	}
	return out, nil
}
