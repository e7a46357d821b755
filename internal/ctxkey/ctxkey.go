// Package ctxkey defines shared context key types used across multiple packages.
// This package should have no dependencies on other internal packages to avoid import cycles.
package ctxkey

// LoggerKey is the context key type for the enriched logger.
// Used by transports to store and retrieve the logger with request_id fields.
type LoggerKey struct{}

// RequestIDKey is the context key for the per-call request ID.
type RequestIDKey struct{}

// TransportKey is the context key for the name of the inbound transport.
type TransportKey struct{}
