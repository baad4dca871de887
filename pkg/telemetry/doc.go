// Package telemetry instruments the Anchor client with OpenTelemetry and
// Prometheus.
//
// It centralises tracer provider setup for command line use, records one
// span and a small set of instruments per API call, offers a Prometheus
// round-tripper for applications that scrape their own process, and keeps
// API keys out of every attribute and log line it produces.
package telemetry
