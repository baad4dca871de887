package anchor

import (
	"context"
	"net/http"
	"time"
)

// Agent is a registered agent.
type Agent struct {
	ID          string         `json:"id"`
	Name        string         `json:"name"`
	Status      string         `json:"status"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	WorkspaceID string         `json:"workspaceId,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
}

// Agent statuses.
const (
	AgentStatusActive    = "active"
	AgentStatusSuspended = "suspended"
)

// CreateAgentParams holds optional fields for Agents.Create.
type CreateAgentParams struct {
	Metadata map[string]any `json:"metadata,omitempty"`
	Config   map[string]any `json:"config,omitempty"`
}

// UpdateAgentParams holds the fields Agents.Update changes. Nil fields are
// left untouched.
type UpdateAgentParams struct {
	Name     *string        `json:"name,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// ListAgentsParams filters Agents.List.
type ListAgentsParams struct {
	Status string
	Limit  int
	Offset int
}

// AgentsService manages agent registration and lifecycle.
type AgentsService struct {
	client *Client
}

// Create registers a new agent.
func (s *AgentsService) Create(ctx context.Context, name string, params *CreateAgentParams, opts ...CallOption) (*Agent, error) {
	body := map[string]any{"name": name}
	if params != nil {
		if params.Metadata != nil {
			body["metadata"] = params.Metadata
		}
		if params.Config != nil {
			body["config"] = params.Config
		}
	}
	return s.doAgent(ctx, s.client.call(RequestSpec{
		Method: http.MethodPost,
		Path:   "/agents",
		Route:  "/agents",
		Body:   body,
	}, opts))
}

// Get fetches an agent by id.
func (s *AgentsService) Get(ctx context.Context, agentID string, opts ...CallOption) (*Agent, error) {
	return s.doAgent(ctx, s.client.call(RequestSpec{
		Method: http.MethodGet,
		Path:   pathf("/agents/%s", agentID),
		Route:  "/agents/{id}",
	}, opts))
}

// List returns the agents in the workspace.
func (s *AgentsService) List(ctx context.Context, params *ListAgentsParams, opts ...CallOption) ([]Agent, error) {
	q := queryBuilder{}
	if params != nil {
		q.str("status", params.Status).num("limit", params.Limit).num("offset", params.Offset)
	}
	var resp struct {
		Agents []Agent `json:"agents"`
	}
	err := s.client.Do(ctx, s.client.call(RequestSpec{
		Method: http.MethodGet,
		Path:   "/agents",
		Route:  "/agents",
		Query:  q.values(),
	}, opts), &resp)
	if err != nil {
		return nil, err
	}
	return resp.Agents, nil
}

// Update changes an agent's name or metadata.
func (s *AgentsService) Update(ctx context.Context, agentID string, params UpdateAgentParams, opts ...CallOption) (*Agent, error) {
	return s.doAgent(ctx, s.client.call(RequestSpec{
		Method: http.MethodPatch,
		Path:   pathf("/agents/%s", agentID),
		Route:  "/agents/{id}",
		Body:   params,
	}, opts))
}

// Delete removes an agent and its data.
func (s *AgentsService) Delete(ctx context.Context, agentID string, opts ...CallOption) error {
	return s.client.Do(ctx, s.client.call(RequestSpec{
		Method: http.MethodDelete,
		Path:   pathf("/agents/%s", agentID),
		Route:  "/agents/{id}",
	}, opts), nil)
}

// Suspend stops an agent from reading or writing data.
func (s *AgentsService) Suspend(ctx context.Context, agentID string, opts ...CallOption) (*Agent, error) {
	return s.doAgent(ctx, s.client.call(RequestSpec{
		Method: http.MethodPost,
		Path:   pathf("/agents/%s/suspend", agentID),
		Route:  "/agents/{id}/suspend",
	}, opts))
}

// Activate resumes a suspended agent.
func (s *AgentsService) Activate(ctx context.Context, agentID string, opts ...CallOption) (*Agent, error) {
	return s.doAgent(ctx, s.client.call(RequestSpec{
		Method: http.MethodPost,
		Path:   pathf("/agents/%s/activate", agentID),
		Route:  "/agents/{id}/activate",
	}, opts))
}

func (s *AgentsService) doAgent(ctx context.Context, spec RequestSpec) (*Agent, error) {
	return sendOne[Agent](ctx, s.client, spec, "agent")
}
