package anchor

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/getanchor/anchor-go/internal/clock"
)

const testAPIKey = "ak_test_secret_0123456789"

type recordedRequest struct {
	Method string
	Path   string
	Query  url.Values
	Header http.Header
	Body   map[string]any
	Raw    []byte
}

type fakeResponse struct {
	status int
	body   string
	header map[string]string
}

// fakeAPI serves queued responses in order, repeating the last one, and
// records every request it receives.
type fakeAPI struct {
	mu        sync.Mutex
	requests  []recordedRequest
	responses []fakeResponse
	server    *httptest.Server
}

func newFakeAPI(t *testing.T, responses ...fakeResponse) *fakeAPI {
	t.Helper()
	if len(responses) == 0 {
		responses = []fakeResponse{{status: http.StatusOK, body: `{}`}}
	}
	api := &fakeAPI{responses: responses}
	api.server = httptest.NewServer(http.HandlerFunc(api.serve))
	t.Cleanup(api.server.Close)
	return api
}

func (f *fakeAPI) serve(w http.ResponseWriter, r *http.Request) {
	raw, _ := io.ReadAll(r.Body)
	rec := recordedRequest{
		Method: r.Method,
		Path:   r.URL.EscapedPath(),
		Query:  r.URL.Query(),
		Header: r.Header.Clone(),
		Raw:    raw,
	}
	if len(raw) > 0 {
		_ = json.Unmarshal(raw, &rec.Body)
	}

	f.mu.Lock()
	idx := len(f.requests)
	f.requests = append(f.requests, rec)
	if idx >= len(f.responses) {
		idx = len(f.responses) - 1
	}
	resp := f.responses[idx]
	f.mu.Unlock()

	for k, v := range resp.header {
		w.Header().Set(k, v)
	}
	if resp.body != "" {
		w.Header().Set("Content-Type", "application/json")
	}
	w.WriteHeader(resp.status)
	_, _ = io.WriteString(w, resp.body)
}

func (f *fakeAPI) Requests() []recordedRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]recordedRequest(nil), f.requests...)
}

func (f *fakeAPI) Last(t *testing.T) recordedRequest {
	t.Helper()
	reqs := f.Requests()
	require.NotEmpty(t, reqs, "no request reached the fake API")
	return reqs[len(reqs)-1]
}

// logBuffer is a goroutine-safe sink for a JSON slog handler.
type logBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *logBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *logBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// Count returns how many records at level contain substr in their message.
func (b *logBuffer) Count(level slog.Level, substr string) int {
	n := 0
	for _, line := range strings.Split(strings.TrimSpace(b.String()), "\n") {
		if line == "" {
			continue
		}
		var rec struct {
			Level string `json:"level"`
			Msg   string `json:"msg"`
		}
		if json.Unmarshal([]byte(line), &rec) != nil {
			continue
		}
		if rec.Level == level.String() && strings.Contains(rec.Msg, substr) {
			n++
		}
	}
	return n
}

type testEnv struct {
	client *Client
	api    *fakeAPI
	clock  *clock.Recorder
	logs   *logBuffer
}

// newTestEnv builds a client against a fake API with a recording clock and
// a captured debug-level logger. mutate may adjust the config.
func newTestEnv(t *testing.T, api *fakeAPI, mutate func(*Config)) *testEnv {
	t.Helper()
	logs := &logBuffer{}
	clk := clock.NewRecorder(time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC))
	cfg := Config{
		APIKey:         testAPIKey,
		BaseURL:        api.server.URL,
		WorkspaceID:    "ws_default",
		DisableTracing: true,
		Clock:          clk,
		Logger:         slog.New(slog.NewJSONHandler(logs, &slog.HandlerOptions{Level: slog.LevelDebug})),
	}
	if mutate != nil {
		mutate(&cfg)
	}
	client, err := NewClient(cfg)
	require.NoError(t, err)
	return &testEnv{client: client, api: api, clock: clk, logs: logs}
}

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(r *http.Request) (*http.Response, error) { return f(r) }
