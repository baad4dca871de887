package anchor

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/getanchor/anchor-go/internal/clock"
)

const missingWorkspaceMsg = "workspace id not provided"

func TestSend_Headers(t *testing.T) {
	api := newFakeAPI(t)
	env := newTestEnv(t, api, func(c *Config) { c.UserAgent = "my-app/2.0" })

	_, err := env.client.Send(context.Background(), RequestSpec{Method: http.MethodGet, Path: "/agents"})
	require.NoError(t, err)

	req := api.Last(t)
	assert.Equal(t, "Bearer "+testAPIKey, req.Header.Get("Authorization"))
	assert.Equal(t, testAPIKey, req.Header.Get("X-API-Key"))
	assert.Equal(t, "anchor-go/"+Version+" my-app/2.0", req.Header.Get("User-Agent"))
	assert.Equal(t, "application/json", req.Header.Get("Accept"))
	assert.NotEmpty(t, req.Header.Get("X-Request-ID"))
	assert.Empty(t, req.Header.Get("Content-Type"), "GET carries no body")
}

func TestSend_EmptyBodyReturnsEmptyObject(t *testing.T) {
	api := newFakeAPI(t, fakeResponse{status: http.StatusNoContent})
	env := newTestEnv(t, api, nil)

	raw, err := env.client.Send(context.Background(), RequestSpec{Method: http.MethodDelete, Path: "/agents/a1"})
	require.NoError(t, err)
	assert.JSONEq(t, `{}`, string(raw))
}

func TestSend_RejectsBadSpecWithoutIO(t *testing.T) {
	tests := []struct {
		name  string
		spec  RequestSpec
		field string
	}{
		{"unsupported method", RequestSpec{Method: "HEAD", Path: "/agents"}, "method"},
		{"lowercase method", RequestSpec{Method: "get", Path: "/agents"}, "method"},
		{"absolute url", RequestSpec{Method: http.MethodGet, Path: "https://evil.example/agents"}, "path"},
		{"missing slash", RequestSpec{Method: http.MethodGet, Path: "agents"}, "path"},
		{"get with body", RequestSpec{Method: http.MethodGet, Path: "/agents", Body: map[string]any{"a": 1}}, "body"},
		{"delete with body", RequestSpec{Method: http.MethodDelete, Path: "/agents/a", Body: map[string]any{"a": 1}}, "body"},
		{"non-object body", RequestSpec{Method: http.MethodPost, Path: "/agents", Body: []string{"x"}}, "body"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			api := newFakeAPI(t)
			env := newTestEnv(t, api, nil)

			_, err := env.client.Send(context.Background(), tt.spec)
			require.Error(t, err)

			var verr *ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Equal(t, tt.field, verr.Field)
			assert.True(t, IsValidation(err))
			assert.Empty(t, api.Requests(), "no request may be sent")
		})
	}
}

func TestSend_WorkspaceInjection(t *testing.T) {
	t.Run("client default in body", func(t *testing.T) {
		api := newFakeAPI(t)
		env := newTestEnv(t, api, nil)

		_, err := env.client.Send(context.Background(), RequestSpec{
			Method: http.MethodPost,
			Path:   "/agents",
			Body:   map[string]any{"name": "a"},
		})
		require.NoError(t, err)

		req := api.Last(t)
		assert.Equal(t, "ws_default", req.Body["workspaceId"])
		assert.Equal(t, "a", req.Body["name"])
		assert.Equal(t, "application/json", req.Header.Get("Content-Type"))
		assert.Empty(t, req.Query.Get("workspaceId"))
	})

	t.Run("nil body becomes object", func(t *testing.T) {
		api := newFakeAPI(t)
		env := newTestEnv(t, api, nil)

		_, err := env.client.Send(context.Background(), RequestSpec{Method: http.MethodPost, Path: "/agents/a/suspend"})
		require.NoError(t, err)
		assert.Equal(t, map[string]any{"workspaceId": "ws_default"}, api.Last(t).Body)
	})

	t.Run("struct body", func(t *testing.T) {
		api := newFakeAPI(t)
		env := newTestEnv(t, api, nil)

		body := CreateCheckpointParams{Label: "before-migration"}
		_, err := env.client.Send(context.Background(), RequestSpec{Method: http.MethodPost, Path: "/x", Body: body})
		require.NoError(t, err)
		assert.Equal(t, "before-migration", api.Last(t).Body["label"])
		assert.Equal(t, "ws_default", api.Last(t).Body["workspaceId"])
	})

	t.Run("query for GET and DELETE", func(t *testing.T) {
		for _, method := range []string{http.MethodGet, http.MethodDelete} {
			api := newFakeAPI(t)
			env := newTestEnv(t, api, nil)

			_, err := env.client.Send(context.Background(), RequestSpec{
				Method: method,
				Path:   "/agents",
				Query:  url.Values{"limit": {"5"}},
			})
			require.NoError(t, err)

			req := api.Last(t)
			assert.Equal(t, "ws_default", req.Query.Get("workspaceId"), method)
			assert.Equal(t, "5", req.Query.Get("limit"), method)
			assert.Empty(t, req.Raw, method)
		}
	})

	t.Run("override wins over default", func(t *testing.T) {
		api := newFakeAPI(t)
		env := newTestEnv(t, api, nil)

		_, err := env.client.Send(context.Background(), RequestSpec{Method: http.MethodGet, Path: "/agents", WorkspaceID: "ws_call"})
		require.NoError(t, err)
		assert.Equal(t, "ws_call", api.Last(t).Query.Get("workspaceId"))
	})

	t.Run("default never overwrites caller body value", func(t *testing.T) {
		api := newFakeAPI(t)
		env := newTestEnv(t, api, nil)

		_, err := env.client.Send(context.Background(), RequestSpec{
			Method: http.MethodPut,
			Path:   "/x",
			Body:   map[string]any{"workspaceId": "ws_body"},
		})
		require.NoError(t, err)
		assert.Equal(t, "ws_body", api.Last(t).Body["workspaceId"])
	})

	t.Run("override replaces caller body value", func(t *testing.T) {
		api := newFakeAPI(t)
		env := newTestEnv(t, api, nil)

		_, err := env.client.Send(context.Background(), RequestSpec{
			Method:      http.MethodPatch,
			Path:        "/x",
			Body:        map[string]any{"workspaceId": "ws_body"},
			WorkspaceID: "ws_call",
		})
		require.NoError(t, err)
		assert.Equal(t, "ws_call", api.Last(t).Body["workspaceId"])
	})

	t.Run("caller body map is not mutated", func(t *testing.T) {
		api := newFakeAPI(t)
		env := newTestEnv(t, api, nil)

		body := map[string]any{"name": "a"}
		_, err := env.client.Send(context.Background(), RequestSpec{Method: http.MethodPost, Path: "/agents", Body: body})
		require.NoError(t, err)
		assert.Equal(t, map[string]any{"name": "a"}, body)
	})
}

func TestSend_WorkspacePrecedenceProperty(t *testing.T) {
	api := newFakeAPI(t)
	env := newTestEnv(t, api, nil)
	idGen := rapid.StringMatching(`ws_[a-z0-9]{0,8}`)

	rapid.Check(t, func(rt *rapid.T) {
		def := rapid.OneOf(rapid.Just(""), idGen).Draw(rt, "default")
		override := rapid.OneOf(rapid.Just(""), idGen).Draw(rt, "override")
		method := rapid.SampledFrom([]string{
			http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete,
		}).Draw(rt, "method")

		env.client.SetWorkspaceID(def)
		_, err := env.client.Send(context.Background(), RequestSpec{Method: method, Path: "/p", WorkspaceID: override})
		if err != nil {
			rt.Fatalf("send: %v", err)
		}

		want := override
		if want == "" {
			want = def
		}

		req := api.Last(t)
		var got string
		var present bool
		if hasBody(method) {
			v, ok := req.Body["workspaceId"]
			got, _ = v.(string)
			present = ok
		} else {
			_, present = req.Query["workspaceId"]
			got = req.Query.Get("workspaceId")
		}

		if want == "" {
			if present {
				rt.Fatalf("workspaceId sent without any workspace configured: %q", got)
			}
			return
		}
		if got != want {
			rt.Fatalf("workspaceId = %q, want %q", got, want)
		}
	})
}

func TestSend_MissingWorkspaceWarnsOncePerCall(t *testing.T) {
	api := newFakeAPI(t,
		fakeResponse{status: http.StatusServiceUnavailable},
		fakeResponse{status: http.StatusOK, body: `{}`},
	)
	env := newTestEnv(t, api, func(c *Config) { c.WorkspaceID = "" })

	_, err := env.client.Send(context.Background(), RequestSpec{Method: http.MethodPost, Path: "/agents", Body: map[string]any{"name": "a"}})
	require.NoError(t, err)
	assert.Equal(t, 1, env.logs.Count(slog.LevelWarn, missingWorkspaceMsg), "one warning despite a retry")

	req := api.Last(t)
	_, present := req.Body["workspaceId"]
	assert.False(t, present)

	_, err = env.client.Send(context.Background(), RequestSpec{Method: http.MethodGet, Path: "/agents"})
	require.NoError(t, err)
	assert.Equal(t, 2, env.logs.Count(slog.LevelWarn, missingWorkspaceMsg))
	_, present = api.Last(t).Query["workspaceId"]
	assert.False(t, present)

	_, err = env.client.Send(context.Background(), RequestSpec{Method: http.MethodGet, Path: "/agents", WorkspaceID: "ws_x"})
	require.NoError(t, err)
	assert.Equal(t, 2, env.logs.Count(slog.LevelWarn, missingWorkspaceMsg), "override suppresses the warning")
}

func TestSend_RetriesTransientStatusOnce(t *testing.T) {
	api := newFakeAPI(t,
		fakeResponse{status: http.StatusInternalServerError, body: `{"error":"internal","message":"boom"}`},
		fakeResponse{status: http.StatusOK, body: `{"id":"a1"}`},
	)
	env := newTestEnv(t, api, nil)

	raw, err := env.client.Send(context.Background(), RequestSpec{Method: http.MethodGet, Path: "/agents/a1"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":"a1"}`, string(raw))

	reqs := api.Requests()
	require.Len(t, reqs, 2)
	assert.Equal(t, reqs[0].Header.Get("X-Request-ID"), reqs[1].Header.Get("X-Request-ID"), "request id is stable across retries")
	assert.Equal(t, []time.Duration{time.Second}, env.clock.Waits())
	assert.Equal(t, 1, env.logs.Count(slog.LevelWarn, "retrying"))
}

func TestSend_BackoffGrowsExponentially(t *testing.T) {
	api := newFakeAPI(t, fakeResponse{status: http.StatusBadGateway})
	env := newTestEnv(t, api, func(c *Config) {
		c.Retry = RetryConfig{MaxAttempts: 5, BaseDelay: 100 * time.Millisecond, Multiplier: 3}
	})

	_, err := env.client.Send(context.Background(), RequestSpec{Method: http.MethodGet, Path: "/agents"})
	require.Error(t, err)
	assert.Equal(t, http.StatusBadGateway, StatusCode(err))
	assert.True(t, errors.Is(err, ErrTransport))

	assert.Len(t, api.Requests(), 5)
	assert.Equal(t, []time.Duration{
		100 * time.Millisecond,
		300 * time.Millisecond,
		900 * time.Millisecond,
		2700 * time.Millisecond,
	}, env.clock.Waits())
}

func TestSend_BackoffCappedByMaxDelay(t *testing.T) {
	api := newFakeAPI(t, fakeResponse{status: http.StatusGatewayTimeout})
	env := newTestEnv(t, api, func(c *Config) {
		c.Retry = RetryConfig{MaxAttempts: 4, BaseDelay: time.Second, MaxDelay: 3 * time.Second}
	})

	_, err := env.client.Send(context.Background(), RequestSpec{Method: http.MethodGet, Path: "/agents"})
	require.Error(t, err)
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second, 3 * time.Second}, env.clock.Waits())
}

func TestSend_BackoffUncappedByDefault(t *testing.T) {
	api := newFakeAPI(t, fakeResponse{status: http.StatusServiceUnavailable})
	env := newTestEnv(t, api, func(c *Config) {
		c.Retry = RetryConfig{MaxAttempts: 4, BaseDelay: 10 * time.Second, Multiplier: 2}
	})

	_, err := env.client.Send(context.Background(), RequestSpec{Method: http.MethodGet, Path: "/agents"})
	require.Error(t, err)
	assert.Equal(t, []time.Duration{10 * time.Second, 20 * time.Second, 40 * time.Second}, env.clock.Waits())
}

func TestSend_NonRetryableStatusFailsImmediately(t *testing.T) {
	tests := []struct {
		status int
		check  func(error) bool
	}{
		{http.StatusUnauthorized, IsAuthentication},
		{http.StatusNotFound, IsNotFound},
		{http.StatusBadRequest, IsValidation},
		{http.StatusUnprocessableEntity, IsValidation},
		{http.StatusForbidden, func(err error) bool { return errors.Is(err, ErrTransport) }},
		{http.StatusConflict, func(err error) bool { return errors.Is(err, ErrTransport) }},
	}

	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			api := newFakeAPI(t, fakeResponse{status: tt.status, body: `{"message":"nope"}`})
			env := newTestEnv(t, api, nil)

			_, err := env.client.Send(context.Background(), RequestSpec{Method: http.MethodGet, Path: "/agents/x"})
			require.Error(t, err)
			assert.True(t, tt.check(err), "unexpected error kind: %v", err)
			assert.Equal(t, tt.status, StatusCode(err))
			assert.Len(t, api.Requests(), 1)
			assert.Empty(t, env.clock.Waits())
		})
	}
}

func TestSend_AuthenticationError(t *testing.T) {
	api := newFakeAPI(t, fakeResponse{status: http.StatusUnauthorized, body: `{"error":"unauthorized","message":"invalid api key"}`})
	env := newTestEnv(t, api, nil)

	_, err := env.client.Send(context.Background(), RequestSpec{Method: http.MethodGet, Path: "/agents"})

	var authErr *AuthenticationError
	require.ErrorAs(t, err, &authErr)
	assert.Equal(t, "invalid api key", authErr.Message)
	assert.NotEmpty(t, authErr.RequestID)
	assert.NotContains(t, err.Error(), testAPIKey)
	assert.Len(t, api.Requests(), 1)
}

func TestSend_RateLimitHonorsRetryAfter(t *testing.T) {
	api := newFakeAPI(t, fakeResponse{
		status: http.StatusTooManyRequests,
		body:   `{"error":"rate_limited","message":"slow down"}`,
		header: map[string]string{"Retry-After": "7"},
	})
	env := newTestEnv(t, api, func(c *Config) {
		c.Retry = RetryConfig{MaxAttempts: 3, BaseDelay: time.Second}
	})

	_, err := env.client.Send(context.Background(), RequestSpec{Method: http.MethodGet, Path: "/agents"})

	var rl *RateLimitError
	require.ErrorAs(t, err, &rl)
	assert.True(t, IsRateLimited(err))
	assert.Equal(t, 7*time.Second, rl.RetryAfter)
	assert.Len(t, api.Requests(), 3)

	waits := env.clock.Waits()
	require.Len(t, waits, 2)
	for _, w := range waits {
		assert.GreaterOrEqual(t, w, 7*time.Second)
	}
}

func TestSend_RateLimitEnvelopeHint(t *testing.T) {
	api := newFakeAPI(t,
		fakeResponse{status: http.StatusTooManyRequests, body: `{"error":{"code":"rate_limited","message":"slow","retry_after":3}}`},
		fakeResponse{status: http.StatusOK, body: `{"ok":true}`},
	)
	env := newTestEnv(t, api, nil)

	_, err := env.client.Send(context.Background(), RequestSpec{Method: http.MethodGet, Path: "/agents"})
	require.NoError(t, err)
	assert.Equal(t, []time.Duration{3 * time.Second}, env.clock.Waits())
}

func TestSend_TransportErrorRetriedThenWrapped(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	base := srv.URL
	srv.Close()

	env := newTestEnv(t, newFakeAPI(t), func(c *Config) {
		c.BaseURL = base
		c.Retry = RetryConfig{MaxAttempts: 3, BaseDelay: 10 * time.Millisecond}
	})

	_, err := env.client.Send(context.Background(), RequestSpec{Method: http.MethodGet, Path: "/agents"})
	require.Error(t, err)

	var anchorErr *AnchorError
	require.ErrorAs(t, err, &anchorErr)
	assert.True(t, errors.Is(err, ErrTransport))
	assert.Zero(t, anchorErr.StatusCode)
	assert.NotNil(t, errors.Unwrap(err))
	assert.Len(t, env.clock.Waits(), 2)

	var opErr *net.OpError
	assert.True(t, errors.As(err, &opErr), "dial error stays reachable: %v", err)
}

func TestSend_TransportErrorRedactsKeyButKeepsCause(t *testing.T) {
	cause := &net.OpError{Op: "dial", Net: "tcp", Err: errors.New("refused for X-API-Key: " + testAPIKey)}
	env := newTestEnv(t, newFakeAPI(t), func(c *Config) {
		c.Retry = RetryConfig{MaxAttempts: 1}
		c.HTTPClient = &http.Client{Transport: roundTripFunc(func(*http.Request) (*http.Response, error) {
			return nil, cause
		})}
	})

	_, err := env.client.Send(context.Background(), RequestSpec{Method: http.MethodGet, Path: "/agents"})
	require.Error(t, err)
	assert.NotContains(t, err.Error(), testAPIKey)

	var opErr *net.OpError
	require.ErrorAs(t, err, &opErr)
	assert.Same(t, cause, opErr)
}

func TestSend_ContextCanceledDuringBackoff(t *testing.T) {
	api := newFakeAPI(t, fakeResponse{status: http.StatusServiceUnavailable})
	ctx, cancel := context.WithCancel(context.Background())

	env := newTestEnv(t, api, func(c *Config) {
		c.Clock = &blockingClock{Clock: c.Clock, onAfter: cancel}
	})

	_, err := env.client.Send(ctx, RequestSpec{Method: http.MethodGet, Path: "/agents"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))
	assert.True(t, errors.Is(err, ErrTransport))
	assert.Len(t, api.Requests(), 1)
}

func TestSend_ContextAlreadyCanceled(t *testing.T) {
	api := newFakeAPI(t)
	env := newTestEnv(t, api, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := env.client.Send(ctx, RequestSpec{Method: http.MethodGet, Path: "/agents"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))
	assert.Empty(t, env.clock.Waits())
}

func TestSend_RetryDisabled(t *testing.T) {
	api := newFakeAPI(t, fakeResponse{status: http.StatusServiceUnavailable})
	env := newTestEnv(t, api, func(c *Config) { c.Retry.MaxAttempts = 1 })

	_, err := env.client.Send(context.Background(), RequestSpec{Method: http.MethodGet, Path: "/agents"})
	require.Error(t, err)
	assert.Len(t, api.Requests(), 1)
	assert.Empty(t, env.clock.Waits())
}

func TestSend_APIKeyNeverLogged(t *testing.T) {
	api := newFakeAPI(t,
		fakeResponse{status: http.StatusServiceUnavailable},
		fakeResponse{status: http.StatusOK},
	)
	env := newTestEnv(t, api, func(c *Config) { c.WorkspaceID = "" })

	_, err := env.client.Send(context.Background(), RequestSpec{Method: http.MethodGet, Path: "/agents"})
	require.NoError(t, err)
	assert.NotEmpty(t, env.logs.String())
	assert.False(t, strings.Contains(env.logs.String(), testAPIKey))
}

// blockingClock returns a channel that never fires from After and calls
// onAfter, simulating cancellation while a backoff is pending.
type blockingClock struct {
	clock.Clock
	onAfter func()
}

func (b *blockingClock) Now() time.Time { return b.Clock.Now() }

func (b *blockingClock) After(time.Duration) <-chan time.Time {
	b.onAfter()
	return make(chan time.Time)
}
