package anchor

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"
)

// Sentinel errors identifying each error kind. Use errors.Is to test for
// them; use errors.As with the struct types below to read details.
var (
	// ErrTransport is the base kind: network failures, exhausted retries on
	// 5xx, and any status without a more specific mapping.
	ErrTransport = errors.New("anchor: request failed")
	// ErrAuthentication indicates an invalid or missing API key (401).
	ErrAuthentication = errors.New("anchor: authentication failed")
	// ErrNotFound indicates the requested resource does not exist (404).
	ErrNotFound = errors.New("anchor: resource not found")
	// ErrValidation indicates the request was rejected as invalid (400/422)
	// or could not be built client side.
	ErrValidation = errors.New("anchor: validation failed")
	// ErrPolicyViolation indicates a policy blocked the operation.
	ErrPolicyViolation = errors.New("anchor: blocked by policy")
	// ErrRateLimited indicates the rate limit was still exceeded after all
	// retries (429).
	ErrRateLimited = errors.New("anchor: rate limited")
)

// AnchorError is the base error for every failed call. Subtypes embed it
// and unwrap to it, so errors.As(err, &*AnchorError) works for all kinds.
//
//nolint:revive // Name matches the error taxonomy exposed by every Anchor SDK
type AnchorError struct {
	// StatusCode is the HTTP status, or zero when no response was received.
	StatusCode int
	// Code is the machine-readable error kind from the error envelope.
	Code string
	// Message is the human-readable message.
	Message string
	// RequestID is the X-Request-ID sent with the failing call.
	RequestID string
	// Envelope is the decoded error body, if it was a JSON object.
	Envelope map[string]any

	kind  error
	cause error
}

func (e *AnchorError) Error() string {
	var b strings.Builder
	b.WriteString("anchor: ")
	if e.StatusCode > 0 {
		fmt.Fprintf(&b, "HTTP %d: ", e.StatusCode)
	}
	if e.Code != "" {
		fmt.Fprintf(&b, "%s: ", e.Code)
	}
	b.WriteString(e.Message)
	if e.cause != nil {
		fmt.Fprintf(&b, ": %v", e.cause)
	}
	return b.String()
}

// Unwrap returns the underlying transport error, if any.
func (e *AnchorError) Unwrap() error {
	return e.cause
}

// Is matches the sentinel for this error's kind. Only base errors match
// ErrTransport; use errors.As with *AnchorError to catch every kind.
func (e *AnchorError) Is(target error) bool {
	return target != nil && target == e.kindOrDefault()
}

func (e *AnchorError) kindOrDefault() error {
	if e.kind == nil {
		return ErrTransport
	}
	return e.kind
}

// AuthenticationError is returned for 401 responses.
type AuthenticationError struct {
	AnchorError
}

// Unwrap exposes the embedded base error.
func (e *AuthenticationError) Unwrap() error { return &e.AnchorError }

// NotFoundError is returned for 404 responses.
type NotFoundError struct {
	AnchorError
}

// Unwrap exposes the embedded base error.
func (e *NotFoundError) Unwrap() error { return &e.AnchorError }

// FieldError describes one field-level validation failure.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

// ValidationError is returned for 400 and 422 responses, and for requests
// rejected before they are sent.
type ValidationError struct {
	AnchorError
	// Field is the offending field when the server names a single one.
	Field string
	// Fields lists field-level details when the server returns several.
	Fields []FieldError
}

// Unwrap exposes the embedded base error.
func (e *ValidationError) Unwrap() error { return &e.AnchorError }

// PolicyViolationError is returned when a policy blocked the operation.
type PolicyViolationError struct {
	AnchorError
	// PolicyName names the policy that blocked the call.
	PolicyName string
}

// Unwrap exposes the embedded base error.
func (e *PolicyViolationError) Unwrap() error { return &e.AnchorError }

// RateLimitError is returned when 429 persists past the retry ceiling.
type RateLimitError struct {
	AnchorError
	// RetryAfter is the server's hint, zero when unknown.
	RetryAfter time.Duration
}

// Unwrap exposes the embedded base error.
func (e *RateLimitError) Unwrap() error { return &e.AnchorError }

// IsAuthentication reports whether err is an authentication failure.
func IsAuthentication(err error) bool { return errors.Is(err, ErrAuthentication) }

// IsNotFound reports whether err is a not-found response.
func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }

// IsValidation reports whether err is a validation failure.
func IsValidation(err error) bool { return errors.Is(err, ErrValidation) }

// IsPolicyViolation reports whether err was caused by a policy block.
func IsPolicyViolation(err error) bool { return errors.Is(err, ErrPolicyViolation) }

// IsRateLimited reports whether err is a rate limit response.
func IsRateLimited(err error) bool { return errors.Is(err, ErrRateLimited) }

// StatusCode returns the HTTP status carried by err, or zero.
func StatusCode(err error) int {
	var base *AnchorError
	if errors.As(err, &base) {
		return base.StatusCode
	}
	return 0
}

// transportError builds the base error for a call that never got a usable
// response.
func transportError(requestID string, cause error) *AnchorError {
	return &AnchorError{
		Message:   "transport failure",
		RequestID: requestID,
		kind:      ErrTransport,
		cause:     cause,
	}
}

// redactedError hides secrets in a transport error's message while keeping
// the original reachable through errors.As.
type redactedError struct {
	msg string
	err error
}

func (e *redactedError) Error() string { return e.msg }

func (e *redactedError) Unwrap() error { return e.err }

// invalidRequest rejects a RequestSpec before any I/O.
func invalidRequest(field, message string) *ValidationError {
	return &ValidationError{
		AnchorError: AnchorError{
			Code:    "invalid_request",
			Message: message,
			kind:    ErrValidation,
		},
		Field: field,
	}
}

// parseErrorResponse maps a non-2xx response to a typed error. The
// retry-after hint is the larger of the header and envelope values.
func parseErrorResponse(statusCode int, body []byte, requestID string, retryAfter time.Duration) error {
	base := AnchorError{
		StatusCode: statusCode,
		RequestID:  requestID,
		kind:       ErrTransport,
	}

	var envelope map[string]any
	if len(body) > 0 && json.Unmarshal(body, &envelope) == nil && envelope != nil {
		// Some deployments nest the envelope under "error".
		if nested, ok := envelope["error"].(map[string]any); ok {
			envelope = nested
		}
		base.Envelope = envelope
		base.Message = firstString(envelope, "message", "detail", "error")
		base.Code = firstString(envelope, "code", "error_code", "type")
		if base.Code == "" {
			if kind, ok := envelope["error"].(string); ok && kind != base.Message {
				base.Code = kind
			}
		}
	}
	if base.Message == "" {
		base.Message = strings.TrimSpace(string(body))
	}
	if base.Message == "" {
		base.Message = http.StatusText(statusCode)
	}
	if base.Message == "" {
		base.Message = fmt.Sprintf("HTTP %d", statusCode)
	}

	if policyName := firstString(envelope, "blocked_by", "policy_name"); policyName != "" {
		base.kind = ErrPolicyViolation
		return &PolicyViolationError{AnchorError: base, PolicyName: policyName}
	}

	switch {
	case statusCode == http.StatusBadRequest || statusCode == http.StatusUnprocessableEntity:
		base.kind = ErrValidation
		verr := &ValidationError{AnchorError: base}
		verr.Field = firstString(envelope, "field")
		verr.Fields = fieldErrors(envelope)
		if verr.Field == "" && len(verr.Fields) == 1 {
			verr.Field = verr.Fields[0].Field
		}
		return verr
	case statusCode == http.StatusUnauthorized:
		base.kind = ErrAuthentication
		return &AuthenticationError{AnchorError: base}
	case statusCode == http.StatusNotFound:
		base.kind = ErrNotFound
		return &NotFoundError{AnchorError: base}
	case statusCode == http.StatusTooManyRequests:
		base.kind = ErrRateLimited
		if hint := envelopeRetryAfter(envelope); hint > retryAfter {
			retryAfter = hint
		}
		return &RateLimitError{AnchorError: base, RetryAfter: retryAfter}
	default:
		return &base
	}
}

func firstString(envelope map[string]any, keys ...string) string {
	for _, key := range keys {
		if s, ok := envelope[key].(string); ok && s != "" {
			return s
		}
	}
	return ""
}

// envelopeRetryAfter reads "retry_after" (seconds) from an error body.
func envelopeRetryAfter(envelope map[string]any) time.Duration {
	switch v := envelope["retry_after"].(type) {
	case float64:
		if v > 0 {
			return time.Duration(v * float64(time.Second))
		}
	case string:
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			return d
		}
	}
	return 0
}

// fieldErrors extracts field details from "details" or "errors", which the
// service sends either as a list of objects or as a field->message map.
func fieldErrors(envelope map[string]any) []FieldError {
	for _, key := range []string{"details", "errors"} {
		switch raw := envelope[key].(type) {
		case []any:
			var out []FieldError
			for _, item := range raw {
				obj, ok := item.(map[string]any)
				if !ok {
					continue
				}
				out = append(out, FieldError{
					Field:   firstString(obj, "field", "loc", "path"),
					Message: firstString(obj, "message", "msg"),
					Code:    firstString(obj, "code", "type"),
				})
			}
			if len(out) > 0 {
				return out
			}
		case map[string]any:
			out := make([]FieldError, 0, len(raw))
			for field, msg := range raw {
				s, _ := msg.(string)
				out = append(out, FieldError{Field: field, Message: s})
			}
			if len(out) > 0 {
				sortFieldErrors(out)
				return out
			}
		}
	}
	return nil
}

func sortFieldErrors(fields []FieldError) {
	sort.Slice(fields, func(i, j int) bool { return fields[i].Field < fields[j].Field })
}
