// Package anchor is the Go client for the Anchor API: agent registration,
// versioned configuration, policy-governed key-value data, state
// checkpoints and the hash-chained audit trail.
//
// # Client Creation
//
//	client, err := anchor.NewClient(anchor.Config{
//	    APIKey:      os.Getenv("ANCHOR_API_KEY"),
//	    WorkspaceID: "ws_123",
//	})
//
// The API key is sent as a bearer token and in the X-API-Key header. Every
// call carries an X-Request-ID that stays the same across retries.
//
// # Workspaces
//
// Each call is scoped to a workspace. A per-call [WithWorkspace] option
// takes precedence over [Config.WorkspaceID]. Calls with neither are still
// sent, and a warning is logged for each one.
//
// # Retry Behavior
//
// Network failures and these statuses are retried with exponential backoff:
//
//   - 408 Request Timeout
//   - 429 Too Many Requests
//   - 500 Internal Server Error
//   - 502 Bad Gateway
//   - 503 Service Unavailable
//   - 504 Gateway Timeout
//
// The default is 4 attempts with delays of 1s, 2s and 4s. A Retry-After
// hint on a 429 raises the delay to at least the hinted value. Configure
// retries with [Config.Retry].
//
// # Error Handling
//
// Failed calls return an error that unwraps to [*AnchorError]. Use errors.Is
// with the sentinel kinds, or errors.As with the struct types for details:
//
//   - [ErrAuthentication], [*AuthenticationError]: invalid API key (401).
//   - [ErrNotFound], [*NotFoundError]: missing resource (404).
//   - [ErrValidation], [*ValidationError]: rejected input (400, 422).
//   - [ErrPolicyViolation], [*PolicyViolationError]: blocked by a policy.
//   - [ErrRateLimited], [*RateLimitError]: still rate limited after retries.
//   - [ErrTransport]: everything else.
//
// # Thread Safety
//
// [Client] is safe for concurrent use.
package anchor
