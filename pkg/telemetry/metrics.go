package telemetry

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// InstrumentationName is the tracer and meter scope used by the client.
const InstrumentationName = "github.com/getanchor/anchor-go"

// Outcome classifies how an API call ended.
type Outcome string

const (
	OutcomeSuccess         Outcome = "success"
	OutcomeClientError     Outcome = "client_error"
	OutcomeServerError     Outcome = "server_error"
	OutcomeRateLimited     Outcome = "rate_limited"
	OutcomePolicyViolation Outcome = "policy_violation"
	OutcomeTransportError  Outcome = "transport_error"
	OutcomeCanceled        Outcome = "canceled"
)

var (
	metricsOnce       sync.Once
	metricsInitErr    error
	requestCounter    metric.Int64Counter
	retryCounter      metric.Int64Counter
	workspaceWarnings metric.Int64Counter
	latencyHistogram  metric.Float64Histogram
)

// RequestMetrics captures the fields recorded for one API call.
type RequestMetrics struct {
	Method     string
	Route      string
	StatusCode int
	Outcome    Outcome
	Attempts   int
	Duration   time.Duration
}

// RecordRequest emits the call counter, retry counter and latency histogram.
func RecordRequest(ctx context.Context, m RequestMetrics) {
	if err := ensureMetrics(); err != nil {
		return
	}

	attrs := metric.WithAttributes(
		attribute.String("http.request.method", m.Method),
		attribute.String("anchor.route", m.Route),
		attribute.Int("http.response.status_code", m.StatusCode),
		attribute.String("anchor.outcome", string(m.Outcome)),
	)

	requestCounter.Add(ctx, 1, attrs)
	if m.Attempts > 1 {
		retryCounter.Add(ctx, int64(m.Attempts-1), attrs)
	}
	if m.Duration > 0 {
		latencyHistogram.Record(ctx, float64(m.Duration)/float64(time.Millisecond), attrs)
	}
}

// RecordMissingWorkspace counts calls sent without any workspace id.
func RecordMissingWorkspace(ctx context.Context, method, route string) {
	if err := ensureMetrics(); err != nil {
		return
	}
	workspaceWarnings.Add(ctx, 1, metric.WithAttributes(
		attribute.String("http.request.method", method),
		attribute.String("anchor.route", route),
	))
}

func ensureMetrics() error {
	metricsOnce.Do(func() {
		meter := otel.GetMeterProvider().Meter(InstrumentationName)

		requestCounter, metricsInitErr = meter.Int64Counter(
			"anchor.client.requests_total",
			metric.WithDescription("Anchor API calls partitioned by outcome"),
			metric.WithUnit("{count}"),
		)
		if metricsInitErr != nil {
			return
		}

		retryCounter, metricsInitErr = meter.Int64Counter(
			"anchor.client.retries_total",
			metric.WithDescription("Retry attempts performed by the request layer"),
			metric.WithUnit("{count}"),
		)
		if metricsInitErr != nil {
			return
		}

		workspaceWarnings, metricsInitErr = meter.Int64Counter(
			"anchor.client.missing_workspace_total",
			metric.WithDescription("Calls sent without a workspace id"),
			metric.WithUnit("{count}"),
		)
		if metricsInitErr != nil {
			return
		}

		latencyHistogram, metricsInitErr = meter.Float64Histogram(
			"anchor.client.duration_ms",
			metric.WithDescription("End-to-end call latency including retries"),
			metric.WithUnit("ms"),
		)
	})

	return metricsInitErr
}

// StartRequestSpan opens the client span covering every attempt of a call.
func StartRequestSpan(ctx context.Context, method, route, requestID string) (context.Context, trace.Span) {
	tracer := otel.GetTracerProvider().Tracer(InstrumentationName)
	return tracer.Start(ctx, "anchor "+method+" "+route,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("http.request.method", method),
			attribute.String("anchor.route", route),
			attribute.String("anchor.request_id", requestID),
		),
	)
}

// RecordAttempt adds an event for a failed attempt that will be retried.
// Attribute values pass through r so error text cannot leak credentials.
func RecordAttempt(span trace.Span, r *Redactor, attempt, statusCode int, delay time.Duration, err error) {
	if span == nil || !span.IsRecording() {
		return
	}
	attrs := []attribute.KeyValue{
		attribute.Int("anchor.attempt", attempt),
		attribute.Int64("anchor.retry_delay_ms", delay.Milliseconds()),
	}
	if statusCode > 0 {
		attrs = append(attrs, attribute.Int("http.response.status_code", statusCode))
	}
	if err != nil {
		attrs = append(attrs, attribute.String("error.message", err.Error()))
	}
	span.AddEvent("anchor.retry", trace.WithAttributes(r.RedactAttributes(attrs)...))
}

// EndRequestSpan records the final status and closes the span.
func EndRequestSpan(span trace.Span, m RequestMetrics, err error) {
	if span == nil {
		return
	}
	if span.IsRecording() {
		span.SetAttributes(
			attribute.Int("anchor.attempts", m.Attempts),
			attribute.String("anchor.outcome", string(m.Outcome)),
		)
		if m.StatusCode > 0 {
			span.SetAttributes(attribute.Int("http.response.status_code", m.StatusCode))
		}
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, string(m.Outcome))
		}
	}
	span.End()
}

// RecordPolicyBlock annotates span with a policy decision that blocked a
// write. The request layer calls it both for policy-violation errors and
// for 2xx bodies reporting allowed=false.
func RecordPolicyBlock(span trace.Span, policyName, reason string) {
	if span == nil || !span.IsRecording() {
		return
	}
	attrs := []attribute.KeyValue{attribute.Bool("anchor.policy.blocked", true)}
	if policyName != "" {
		attrs = append(attrs, attribute.String("anchor.policy.name", policyName))
	}
	if reason != "" {
		attrs = append(attrs, attribute.String("anchor.policy.reason", reason))
	}
	span.AddEvent("anchor.policy.blocked", trace.WithAttributes(attrs...))
}
