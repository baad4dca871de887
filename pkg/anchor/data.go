package anchor

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"
)

// WriteResult reports whether a write was accepted by policy.
type WriteResult struct {
	Key       string `json:"key"`
	Allowed   bool   `json:"allowed"`
	AuditID   string `json:"audit_id,omitempty"`
	BlockedBy string `json:"blocked_by,omitempty"`
	Reason    string `json:"reason,omitempty"`
}

// Entry is a stored key-value record.
type Entry struct {
	Key       string         `json:"key"`
	Value     string         `json:"value"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// WriteItem is one record in a batch write.
type WriteItem struct {
	Key      string         `json:"key"`
	Value    string         `json:"value"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// ListDataParams filters Data.List.
type ListDataParams struct {
	Prefix string
	Limit  int
}

// SearchParams tunes Data.Search.
type SearchParams struct {
	Limit    int     `json:"limit,omitempty"`
	MinScore float64 `json:"min_score,omitempty"`
}

// SearchResult is one match from Data.Search.
type SearchResult struct {
	Key        string         `json:"key"`
	Value      string         `json:"value"`
	Similarity float64        `json:"similarity"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// DataService reads and writes policy-governed key-value data. Every write
// is checked against the agent's policies and recorded in the audit trail.
type DataService struct {
	client *Client
}

// Write stores value under key. A write blocked by policy is reported with
// Allowed false rather than as an error, unless the service answers with
// a policy-violation error, which is returned as *PolicyViolationError.
func (s *DataService) Write(ctx context.Context, agentID, key, value string, metadata map[string]any, opts ...CallOption) (*WriteResult, error) {
	body := map[string]any{"key": key, "value": value}
	if metadata != nil {
		body["metadata"] = metadata
	}
	res, err := sendOne[WriteResult](ctx, s.client, s.client.call(RequestSpec{
		Method: http.MethodPost,
		Path:   pathf("/agents/%s/data", agentID),
		Route:  "/agents/{id}/data",
		Body:   body,
	}, opts), "")
	if err != nil {
		return nil, err
	}
	if res.Key == "" {
		res.Key = key
	}
	if !res.Allowed {
		s.client.logger.InfoContext(ctx, "write blocked by policy",
			"agent_id", agentID,
			"key", key,
			"blocked_by", res.BlockedBy,
		)
	}
	return res, nil
}

// WriteBatch stores several records in one call. Results are returned in
// request order.
func (s *DataService) WriteBatch(ctx context.Context, agentID string, items []WriteItem, opts ...CallOption) ([]WriteResult, error) {
	var resp struct {
		Results []WriteResult `json:"results"`
	}
	err := s.client.Do(ctx, s.client.call(RequestSpec{
		Method: http.MethodPost,
		Path:   pathf("/agents/%s/data/batch", agentID),
		Route:  "/agents/{id}/data/batch",
		Body:   map[string]any{"items": items},
	}, opts), &resp)
	if err != nil {
		return nil, err
	}
	return resp.Results, nil
}

// Read returns the value stored under key. A missing key yields
// ("", false, nil). A 404 whose envelope names the agent, by an error code
// containing "agent" or resource "agent", is returned as *NotFoundError.
func (s *DataService) Read(ctx context.Context, agentID, key string, opts ...CallOption) (string, bool, error) {
	entry, err := s.ReadFull(ctx, agentID, key, opts...)
	if err != nil {
		if IsNotFound(err) && !agentNotFound(err) {
			return "", false, nil
		}
		return "", false, err
	}
	return entry.Value, true, nil
}

func agentNotFound(err error) bool {
	var nf *NotFoundError
	if !errors.As(err, &nf) {
		return false
	}
	if strings.Contains(strings.ToLower(nf.Code), "agent") {
		return true
	}
	resource, _ := nf.Envelope["resource"].(string)
	return strings.EqualFold(resource, "agent")
}

// ReadFull returns the stored record with its metadata. A missing key
// yields *NotFoundError.
func (s *DataService) ReadFull(ctx context.Context, agentID, key string, opts ...CallOption) (*Entry, error) {
	entry, err := sendOne[Entry](ctx, s.client, s.client.call(RequestSpec{
		Method: http.MethodGet,
		Path:   pathf("/agents/%s/data/%s", agentID, key),
		Route:  "/agents/{id}/data/{key}",
	}, opts), "entry")
	if err != nil {
		return nil, err
	}
	if entry.Key == "" {
		entry.Key = key
	}
	return entry, nil
}

// Delete removes key.
func (s *DataService) Delete(ctx context.Context, agentID, key string, opts ...CallOption) error {
	return s.client.Do(ctx, s.client.call(RequestSpec{
		Method: http.MethodDelete,
		Path:   pathf("/agents/%s/data/%s", agentID, key),
		Route:  "/agents/{id}/data/{key}",
	}, opts), nil)
}

// DeletePrefix removes every key starting with prefix and returns how many
// were deleted.
func (s *DataService) DeletePrefix(ctx context.Context, agentID, prefix string, opts ...CallOption) (int, error) {
	if prefix == "" {
		return 0, invalidRequest("prefix", "prefix must not be empty")
	}
	var resp struct {
		Deleted int `json:"deleted"`
	}
	err := s.client.Do(ctx, s.client.call(RequestSpec{
		Method: http.MethodDelete,
		Path:   pathf("/agents/%s/data", agentID),
		Route:  "/agents/{id}/data",
		Query:  queryBuilder{}.str("prefix", prefix).values(),
	}, opts), &resp)
	if err != nil {
		return 0, err
	}
	return resp.Deleted, nil
}

// List returns stored records, optionally restricted to a key prefix.
func (s *DataService) List(ctx context.Context, agentID string, params *ListDataParams, opts ...CallOption) ([]Entry, error) {
	q := queryBuilder{}
	if params != nil {
		q.str("prefix", params.Prefix).num("limit", params.Limit)
	}
	var resp struct {
		Entries []Entry `json:"entries"`
	}
	err := s.client.Do(ctx, s.client.call(RequestSpec{
		Method: http.MethodGet,
		Path:   pathf("/agents/%s/data", agentID),
		Route:  "/agents/{id}/data",
		Query:  q.values(),
	}, opts), &resp)
	if err != nil {
		return nil, err
	}
	return resp.Entries, nil
}

// Search finds records semantically similar to query.
func (s *DataService) Search(ctx context.Context, agentID, query string, params *SearchParams, opts ...CallOption) ([]SearchResult, error) {
	body := map[string]any{"query": query}
	if params != nil {
		if params.Limit > 0 {
			body["limit"] = params.Limit
		}
		if params.MinScore > 0 {
			body["min_score"] = params.MinScore
		}
	}
	var resp struct {
		Results []SearchResult `json:"results"`
	}
	err := s.client.Do(ctx, s.client.call(RequestSpec{
		Method: http.MethodPost,
		Path:   pathf("/agents/%s/data/search", agentID),
		Route:  "/agents/{id}/data/search",
		Body:   body,
	}, opts), &resp)
	if err != nil {
		return nil, err
	}
	return resp.Results, nil
}
