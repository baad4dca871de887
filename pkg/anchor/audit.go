package anchor

import (
	"context"
	"net/http"
	"strings"
	"time"
)

// AuditEvent is one entry in an agent's hash-chained audit trail.
type AuditEvent struct {
	ID           string         `json:"id"`
	AgentID      string         `json:"agent_id"`
	Operation    string         `json:"operation"`
	Resource     string         `json:"resource,omitempty"`
	Result       string         `json:"result"`
	Timestamp    time.Time      `json:"timestamp"`
	Hash         string         `json:"hash"`
	PreviousHash string         `json:"previous_hash,omitempty"`
	Metadata     map[string]any `json:"metadata,omitempty"`
}

// AuditQuery filters Audit.Query. Zero fields are not sent.
type AuditQuery struct {
	Operations []string
	Resource   string
	Start      *time.Time
	End        *time.Time
	Limit      int
}

// Verification is the service's verdict on the integrity of an agent's
// audit chain. Verification runs server side.
type Verification struct {
	Valid         bool      `json:"valid"`
	EventsChecked int       `json:"events_checked"`
	ChainStart    string    `json:"chain_start,omitempty"`
	ChainEnd      string    `json:"chain_end,omitempty"`
	FirstInvalid  string    `json:"first_invalid,omitempty"`
	VerifiedAt    time.Time `json:"verified_at"`
}

// Export formats.
const (
	ExportFormatJSON = "json"
	ExportFormatCSV  = "csv"
)

// ExportParams selects what Audit.Export includes.
type ExportParams struct {
	// Format is ExportFormatJSON (default) or ExportFormatCSV.
	Format              string
	Start               *time.Time
	End                 *time.Time
	IncludeVerification bool
}

// ExportResult points at a generated audit export.
type ExportResult struct {
	ExportID     string        `json:"export_id"`
	Format       string        `json:"format"`
	DownloadURL  string        `json:"download_url"`
	ExpiresAt    time.Time     `json:"expires_at"`
	EventCount   int           `json:"event_count"`
	Verification *Verification `json:"verification,omitempty"`
}

// AuditService queries the audit trail.
type AuditService struct {
	client *Client
}

// Query returns audit events matching q, newest first.
func (s *AuditService) Query(ctx context.Context, agentID string, q *AuditQuery, opts ...CallOption) ([]AuditEvent, error) {
	qb := queryBuilder{}
	if q != nil {
		if len(q.Operations) > 0 {
			qb.str("operations", strings.Join(q.Operations, ","))
		}
		qb.str("resource", q.Resource).
			str("start", formatTime(q.Start)).
			str("end", formatTime(q.End)).
			num("limit", q.Limit)
	}
	var resp struct {
		Events []AuditEvent `json:"events"`
	}
	err := s.client.Do(ctx, s.client.call(RequestSpec{
		Method: http.MethodGet,
		Path:   pathf("/agents/%s/audit", agentID),
		Route:  "/agents/{id}/audit",
		Query:  qb.values(),
	}, opts), &resp)
	if err != nil {
		return nil, err
	}
	return resp.Events, nil
}

// Get fetches one audit event.
func (s *AuditService) Get(ctx context.Context, agentID, eventID string, opts ...CallOption) (*AuditEvent, error) {
	return sendOne[AuditEvent](ctx, s.client, s.client.call(RequestSpec{
		Method: http.MethodGet,
		Path:   pathf("/agents/%s/audit/%s", agentID, eventID),
		Route:  "/agents/{id}/audit/{event_id}",
	}, opts), "event")
}

// Verify asks the service to check the agent's audit chain.
func (s *AuditService) Verify(ctx context.Context, agentID string, opts ...CallOption) (*Verification, error) {
	return sendOne[Verification](ctx, s.client, s.client.call(RequestSpec{
		Method: http.MethodGet,
		Path:   pathf("/agents/%s/audit/verify", agentID),
		Route:  "/agents/{id}/audit/verify",
	}, opts), "verification")
}

// Export requests a downloadable export of the audit trail.
func (s *AuditService) Export(ctx context.Context, agentID string, params *ExportParams, opts ...CallOption) (*ExportResult, error) {
	body := map[string]any{"format": ExportFormatJSON}
	if params != nil {
		if params.Format != "" {
			body["format"] = params.Format
		}
		if params.Start != nil {
			body["start"] = formatTime(params.Start)
		}
		if params.End != nil {
			body["end"] = formatTime(params.End)
		}
		if params.IncludeVerification {
			body["include_verification"] = true
		}
	}
	return sendOne[ExportResult](ctx, s.client, s.client.call(RequestSpec{
		Method: http.MethodPost,
		Path:   pathf("/agents/%s/audit/export", agentID),
		Route:  "/agents/{id}/audit/export",
		Body:   body,
	}, opts), "export")
}

func formatTime(t *time.Time) string {
	if t == nil || t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}
