// Package observability wires Prometheus metrics and OpenTelemetry tracing
// into the engine, the raw event stream and the HTTP surface.
package observability
