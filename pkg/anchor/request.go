package anchor

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/getanchor/anchor-go/internal/governance"
	"github.com/getanchor/anchor-go/pkg/telemetry"
)

// workspaceField is the body field and query parameter carrying the
// workspace id.
const workspaceField = "workspaceId"

// maxResponseSize limits response body reads.
const maxResponseSize = 10 * 1024 * 1024

// RequestSpec describes one API call.
type RequestSpec struct {
	// Method is one of GET, POST, PUT, PATCH or DELETE.
	Method string
	// Path is relative to the base URL and must start with "/".
	Path string
	// Route is the path template used for telemetry, e.g. "/agents/{id}".
	// Defaults to Path.
	Route string
	// Body is JSON-encoded for POST, PUT and PATCH. It must encode to a
	// JSON object (or be nil) so the workspace id can be merged in.
	Body any
	// Query holds query parameters.
	Query url.Values
	// WorkspaceID overrides the client's default workspace for this call.
	WorkspaceID string

	skipWorkspace bool
}

func hasBody(method string) bool {
	switch method {
	case http.MethodPost, http.MethodPut, http.MethodPatch:
		return true
	}
	return false
}

func validMethod(method string) bool {
	switch method {
	case http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
		return true
	}
	return false
}

// Do sends spec and decodes the JSON response into out (which may be nil).
func (c *Client) Do(ctx context.Context, spec RequestSpec, out any) error {
	raw, err := c.Send(ctx, spec)
	if err != nil {
		return err
	}
	return decode(raw, out, spec.Method, spec.Path)
}

// Send is the single choke point for every API call. It resolves the
// workspace, attaches credentials, retries transient failures with
// exponential backoff and maps failures to typed errors. On success it
// returns the response body; an empty body is returned as "{}".
func (c *Client) Send(ctx context.Context, spec RequestSpec) (json.RawMessage, error) {
	if !validMethod(spec.Method) {
		return nil, invalidRequest("method", fmt.Sprintf("unsupported method %q", spec.Method))
	}
	if !strings.HasPrefix(spec.Path, "/") || strings.Contains(spec.Path, "://") {
		return nil, invalidRequest("path", fmt.Sprintf("path %q must be a relative API path starting with /", spec.Path))
	}
	if !hasBody(spec.Method) && spec.Body != nil {
		return nil, invalidRequest("body", fmt.Sprintf("%s requests cannot carry a body", spec.Method))
	}
	route := spec.Route
	if route == "" {
		route = spec.Path
	}

	workspace, override := spec.WorkspaceID, spec.WorkspaceID != ""
	if !override {
		workspace = c.WorkspaceID()
	}
	if workspace == "" && !spec.skipWorkspace {
		c.logger.WarnContext(ctx, "workspace id not provided; set Config.WorkspaceID or pass WithWorkspace to avoid cross-workspace data mixing",
			"method", spec.Method,
			"path", spec.Path,
		)
		telemetry.RecordMissingWorkspace(ctx, spec.Method, route)
	}

	payload, err := encodeBody(spec, workspace, override)
	if err != nil {
		return nil, err
	}
	query := injectQuery(spec, workspace, override)

	target := c.baseURL + spec.Path
	if encoded := query.Encode(); encoded != "" {
		target += "?" + encoded
	}

	requestID := uuid.NewString()
	ctx, span := telemetry.StartRequestSpan(ctx, spec.Method, route, requestID)
	started := c.clock.Now()

	var (
		result  json.RawMessage
		callErr error
		status  int
		attempt int
	)
	defer func() {
		m := telemetry.RequestMetrics{
			Method:     spec.Method,
			Route:      route,
			StatusCode: status,
			Outcome:    outcomeOf(status, callErr),
			Attempts:   attempt,
			Duration:   c.clock.Now().Sub(started),
		}
		var pv *PolicyViolationError
		if errors.As(callErr, &pv) {
			telemetry.RecordPolicyBlock(span, pv.PolicyName, pv.Message)
		} else if d, ok := policyDenial(result); ok && hasBody(spec.Method) {
			telemetry.RecordPolicyBlock(span, d.BlockedBy, d.Reason)
		}
		telemetry.EndRequestSpan(span, m, callErr)
		telemetry.RecordRequest(ctx, m)
	}()

	for attempt = 1; ; attempt++ {
		if err := c.throttle.Wait(ctx); err != nil {
			callErr = transportError(requestID, err)
			return nil, callErr
		}

		resp, err := c.attempt(ctx, spec.Method, target, payload, requestID)
		if err != nil {
			status = 0
			if ctxErr := ctx.Err(); ctxErr != nil {
				callErr = transportError(requestID, ctxErr)
				return nil, callErr
			}
			if !c.retry.ShouldRetry(0, err, attempt) {
				callErr = transportError(requestID, &redactedError{msg: c.redactor.Redact(err.Error()), err: err})
				return nil, callErr
			}
			delay := c.retry.Backoff(attempt)
			c.logRetry(ctx, spec, attempt, 0, delay, err)
			telemetry.RecordAttempt(span, c.redactor, attempt, 0, delay, err)
			if err := c.wait(ctx, delay); err != nil {
				callErr = transportError(requestID, err)
				return nil, callErr
			}
			continue
		}

		status = resp.statusCode
		if status >= 200 && status < 300 {
			if len(bytes.TrimSpace(resp.body)) == 0 {
				result = json.RawMessage(`{}`)
			} else {
				result = json.RawMessage(resp.body)
			}
			c.logger.DebugContext(ctx, "anchor request complete",
				"method", spec.Method,
				"path", spec.Path,
				"status", status,
				"attempts", attempt,
				"request_id", requestID,
			)
			return result, nil
		}

		retryAfter := governance.ParseRetryAfter(resp.header.Get("Retry-After"), c.clock.Now())
		apiErr := parseErrorResponse(status, resp.body, requestID, retryAfter)
		var rl *RateLimitError
		if errors.As(apiErr, &rl) {
			retryAfter = rl.RetryAfter
		}

		if !c.retry.ShouldRetry(status, nil, attempt) {
			callErr = apiErr
			return nil, callErr
		}
		delay := c.retry.Delay(attempt, retryAfter)
		c.logRetry(ctx, spec, attempt, status, delay, nil)
		telemetry.RecordAttempt(span, c.redactor, attempt, status, delay, nil)
		if err := c.wait(ctx, delay); err != nil {
			callErr = transportError(requestID, err)
			return nil, callErr
		}
	}
}

type rawResponse struct {
	statusCode int
	header     http.Header
	body       []byte
}

// attempt performs one HTTP exchange and reads the whole body.
func (c *Client) attempt(ctx context.Context, method, target string, payload []byte, requestID string) (*rawResponse, error) {
	var bodyReader io.Reader
	if payload != nil {
		bodyReader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("X-API-Key", c.apiKey)
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("X-Request-ID", requestID)
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}
	return &rawResponse{statusCode: resp.StatusCode, header: resp.Header, body: body}, nil
}

// wait sleeps for d on the client clock, returning early with the context
// error if ctx is done first.
func (c *Client) wait(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-c.clock.After(d):
		return nil
	}
}

func (c *Client) logRetry(ctx context.Context, spec RequestSpec, attempt, status int, delay time.Duration, err error) {
	attrs := []any{
		"method", spec.Method,
		"path", spec.Path,
		"attempt", attempt,
		"max_attempts", c.retry.MaxAttempts(),
		"delay", delay,
	}
	if status > 0 {
		attrs = append(attrs, "status", status)
	}
	if err != nil {
		attrs = append(attrs, "error", c.redactor.Redact(err.Error()))
	}
	c.logger.WarnContext(ctx, "retrying anchor request", attrs...)
}

type denial struct {
	Allowed   *bool  `json:"allowed"`
	BlockedBy string `json:"blocked_by"`
	Reason    string `json:"reason"`
}

// policyDenial reports a 2xx body carrying "allowed": false.
func policyDenial(body json.RawMessage) (denial, bool) {
	var d denial
	if len(body) == 0 || json.Unmarshal(body, &d) != nil || d.Allowed == nil {
		return d, false
	}
	return d, !*d.Allowed
}

// encodeBody builds the JSON object payload for body-bearing verbs, with a
// nil body sent as {}, and merges the workspace id. A per-call override
// replaces any workspaceId already in the body; the client default never
// does.
func encodeBody(spec RequestSpec, workspace string, override bool) ([]byte, error) {
	if !hasBody(spec.Method) {
		return nil, nil
	}

	obj, err := bodyObject(spec.Body)
	if err != nil {
		return nil, err
	}
	if workspace != "" {
		if _, exists := obj[workspaceField]; override || !exists {
			obj[workspaceField] = workspace
		}
	}

	payload, err := json.Marshal(obj)
	if err != nil {
		return nil, invalidRequest("body", fmt.Sprintf("encode body: %v", err))
	}
	return payload, nil
}

// bodyObject returns a fresh map holding body's JSON object fields. The
// caller's value is never mutated.
func bodyObject(body any) (map[string]any, error) {
	switch b := body.(type) {
	case nil:
		return map[string]any{}, nil
	case map[string]any:
		out := make(map[string]any, len(b)+1)
		for k, v := range b {
			out[k] = v
		}
		return out, nil
	}

	encoded, err := json.Marshal(body)
	if err != nil {
		return nil, invalidRequest("body", fmt.Sprintf("encode body: %v", err))
	}
	if bytes.Equal(bytes.TrimSpace(encoded), []byte("null")) {
		return map[string]any{}, nil
	}

	dec := json.NewDecoder(bytes.NewReader(encoded))
	dec.UseNumber()
	var out map[string]any
	if err := dec.Decode(&out); err != nil {
		return nil, invalidRequest("body", "body must encode to a JSON object")
	}
	return out, nil
}

// injectQuery copies the caller's query and adds the workspace id for
// GET and DELETE.
func injectQuery(spec RequestSpec, workspace string, override bool) url.Values {
	query := url.Values{}
	for k, vs := range spec.Query {
		query[k] = append([]string(nil), vs...)
	}
	if workspace != "" && !hasBody(spec.Method) {
		if override || query.Get(workspaceField) == "" {
			query.Set(workspaceField, workspace)
		}
	}
	return query
}

func outcomeOf(status int, err error) telemetry.Outcome {
	switch {
	case err == nil:
		return telemetry.OutcomeSuccess
	case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
		return telemetry.OutcomeCanceled
	case errors.Is(err, ErrPolicyViolation):
		return telemetry.OutcomePolicyViolation
	case errors.Is(err, ErrRateLimited):
		return telemetry.OutcomeRateLimited
	case status >= 500:
		return telemetry.OutcomeServerError
	case status >= 400:
		return telemetry.OutcomeClientError
	default:
		return telemetry.OutcomeTransportError
	}
}
