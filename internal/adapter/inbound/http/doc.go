// Package http serves the bridge channel over HTTP.
//
// Each POST carries one JSON-RPC call and blocks until the bridge replies or
// the reply timeout expires:
//
//	transport := http.NewHTTPTransport(bridge,
//	    http.WithAddr("127.0.0.1:8080"),
//	    http.WithChannelName("com.humansecurity/sdk"),
//	    http.WithReplyTimeout(2*time.Minute),
//	    http.WithLogger(logger),
//	)
//	err := transport.Start(ctx)
//
// # Endpoints
//
//	POST /channel/{name...}  - Invoke a channel method
//	GET  /health             - Component health
//	GET  /metrics            - Prometheus metrics
//	     /admin/             - Admin API, when configured
//
// A deferred humanHandleResponse reply can take as long as the user needs to
// solve the challenge. When the reply timeout expires first the caller gets
// error -32001 and the late reply is dropped.
//
// # Middleware Chain
//
// Requests pass through middleware in this order:
//
//  1. MetricsMiddleware - Records duration and status
//  2. RequestIDMiddleware - Extracts or generates X-Request-ID and enriches the logger
//  3. RealIPMiddleware - Extracts the client IP from proxy headers
//  4. DNSRebindingProtection - Validates the Origin header
//
// Without a channel handler (stdio mode) the server still serves health,
// metrics and admin routes.
package http
