package anchor

import (
	"context"
	"net/http"
	"time"
)

// Checkpoint is a named snapshot of an agent's stored state.
type Checkpoint struct {
	ID          string         `json:"id"`
	AgentID     string         `json:"agent_id"`
	Label       string         `json:"label,omitempty"`
	Description string         `json:"description,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	KeyCount    int            `json:"key_count,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
}

// CreateCheckpointParams holds optional fields for Checkpoints.Create.
type CreateCheckpointParams struct {
	Label       string         `json:"label,omitempty"`
	Description string         `json:"description,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

// RestoreResult reports what a restore changed.
type RestoreResult struct {
	CheckpointID string    `json:"checkpoint_id"`
	RestoredKeys int       `json:"restored_keys"`
	DeletedKeys  int       `json:"deleted_keys"`
	AuditID      string    `json:"audit_id,omitempty"`
	RestoredAt   time.Time `json:"restored_at"`
}

// CheckpointsService snapshots and restores agent state.
type CheckpointsService struct {
	client *Client
}

// Create snapshots the agent's current data.
func (s *CheckpointsService) Create(ctx context.Context, agentID string, params *CreateCheckpointParams, opts ...CallOption) (*Checkpoint, error) {
	var body any
	if params != nil {
		body = params
	}
	return sendOne[Checkpoint](ctx, s.client, s.client.call(RequestSpec{
		Method: http.MethodPost,
		Path:   pathf("/agents/%s/checkpoints", agentID),
		Route:  "/agents/{id}/checkpoints",
		Body:   body,
	}, opts), "checkpoint")
}

// List returns the agent's checkpoints, newest first.
func (s *CheckpointsService) List(ctx context.Context, agentID string, limit int, opts ...CallOption) ([]Checkpoint, error) {
	var resp struct {
		Checkpoints []Checkpoint `json:"checkpoints"`
	}
	err := s.client.Do(ctx, s.client.call(RequestSpec{
		Method: http.MethodGet,
		Path:   pathf("/agents/%s/checkpoints", agentID),
		Route:  "/agents/{id}/checkpoints",
		Query:  queryBuilder{}.num("limit", limit).values(),
	}, opts), &resp)
	if err != nil {
		return nil, err
	}
	return resp.Checkpoints, nil
}

// Get fetches one checkpoint.
func (s *CheckpointsService) Get(ctx context.Context, agentID, checkpointID string, opts ...CallOption) (*Checkpoint, error) {
	return sendOne[Checkpoint](ctx, s.client, s.client.call(RequestSpec{
		Method: http.MethodGet,
		Path:   pathf("/agents/%s/checkpoints/%s", agentID, checkpointID),
		Route:  "/agents/{id}/checkpoints/{checkpoint_id}",
	}, opts), "checkpoint")
}

// Restore replaces the agent's data with the checkpoint's snapshot.
func (s *CheckpointsService) Restore(ctx context.Context, agentID, checkpointID string, opts ...CallOption) (*RestoreResult, error) {
	res, err := sendOne[RestoreResult](ctx, s.client, s.client.call(RequestSpec{
		Method: http.MethodPost,
		Path:   pathf("/agents/%s/checkpoints/%s/restore", agentID, checkpointID),
		Route:  "/agents/{id}/checkpoints/{checkpoint_id}/restore",
	}, opts), "")
	if err != nil {
		return nil, err
	}
	if res.CheckpointID == "" {
		res.CheckpointID = checkpointID
	}
	return res, nil
}

// Delete removes a checkpoint. The agent's current data is unaffected.
func (s *CheckpointsService) Delete(ctx context.Context, agentID, checkpointID string, opts ...CallOption) error {
	return s.client.Do(ctx, s.client.call(RequestSpec{
		Method: http.MethodDelete,
		Path:   pathf("/agents/%s/checkpoints/%s", agentID, checkpointID),
		Route:  "/agents/{id}/checkpoints/{checkpoint_id}",
	}, opts), nil)
}
