// Package logging wraps log/slog behind the small Logger interface used by the
// engine, flows, tools and HTTP server.
package logging
