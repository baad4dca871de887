package anchor

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"time"
)

// VersionID identifies a configuration version. The service may send it
// as a JSON string or number; both decode to the same textual form.
type VersionID string

// UnmarshalJSON accepts a string or a number.
func (v *VersionID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*v = VersionID(s)
		return nil
	}
	if bytes.Equal(data, []byte("null")) {
		*v = ""
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*v = VersionID(n.String())
	return nil
}

// AgentConfig is one version of an agent's configuration.
type AgentConfig struct {
	AgentID   string         `json:"agent_id"`
	Version   VersionID      `json:"version"`
	Config    map[string]any `json:"config"`
	CreatedAt time.Time      `json:"created_at"`
	CreatedBy string         `json:"created_by,omitempty"`
}

// Policies returns the "policies" section of the configuration, or nil.
func (c *AgentConfig) Policies() map[string]any {
	if c == nil {
		return nil
	}
	p, _ := c.Config["policies"].(map[string]any)
	return p
}

// ConfigVersion summarises a stored configuration version.
type ConfigVersion struct {
	Version   VersionID `json:"version"`
	CreatedAt time.Time `json:"created_at"`
	CreatedBy string    `json:"created_by,omitempty"`
	Summary   string    `json:"summary,omitempty"`
}

// ConfigService manages versioned agent configuration. Every update
// creates a new version; older versions stay readable and can be rolled
// back to.
type ConfigService struct {
	client *Client
}

// Get returns the agent's current configuration.
func (s *ConfigService) Get(ctx context.Context, agentID string, opts ...CallOption) (*AgentConfig, error) {
	return sendOne[AgentConfig](ctx, s.client, s.client.call(RequestSpec{
		Method: http.MethodGet,
		Path:   pathf("/agents/%s/config", agentID),
		Route:  "/agents/{id}/config",
	}, opts), "")
}

// Update stores config as the agent's new configuration version. config
// may be any value that encodes to a JSON object, such as a policy.Pack.
func (s *ConfigService) Update(ctx context.Context, agentID string, config any, opts ...CallOption) (*AgentConfig, error) {
	return sendOne[AgentConfig](ctx, s.client, s.client.call(RequestSpec{
		Method: http.MethodPut,
		Path:   pathf("/agents/%s/config", agentID),
		Route:  "/agents/{id}/config",
		Body:   map[string]any{"config": config},
	}, opts), "")
}

// Versions lists stored configuration versions, newest first.
func (s *ConfigService) Versions(ctx context.Context, agentID string, limit int, opts ...CallOption) ([]ConfigVersion, error) {
	var resp struct {
		Versions []ConfigVersion `json:"versions"`
	}
	err := s.client.Do(ctx, s.client.call(RequestSpec{
		Method: http.MethodGet,
		Path:   pathf("/agents/%s/config/versions", agentID),
		Route:  "/agents/{id}/config/versions",
		Query:  queryBuilder{}.num("limit", limit).values(),
	}, opts), &resp)
	if err != nil {
		return nil, err
	}
	return resp.Versions, nil
}

// GetVersion returns one stored configuration version.
func (s *ConfigService) GetVersion(ctx context.Context, agentID, version string, opts ...CallOption) (*AgentConfig, error) {
	return sendOne[AgentConfig](ctx, s.client, s.client.call(RequestSpec{
		Method: http.MethodGet,
		Path:   pathf("/agents/%s/config/versions/%s", agentID, version),
		Route:  "/agents/{id}/config/versions/{version}",
	}, opts), "")
}

// Rollback makes a previous version current again, recorded as a new
// version.
func (s *ConfigService) Rollback(ctx context.Context, agentID, version string, opts ...CallOption) (*AgentConfig, error) {
	return sendOne[AgentConfig](ctx, s.client, s.client.call(RequestSpec{
		Method: http.MethodPost,
		Path:   pathf("/agents/%s/config/rollback", agentID),
		Route:  "/agents/{id}/config/rollback",
		Body:   map[string]any{"target_version": version},
	}, opts), "")
}
