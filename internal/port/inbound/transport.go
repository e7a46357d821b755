// Package inbound defines the inbound port interfaces for the bridge core.
// Inbound adapters (stdio, HTTP) implement Transport and feed calls to a
// CallHandler.
package inbound

import (
	"context"

	"github.com/Sentinel-Gate/botbridge/pkg/channel"
)

// CallHandler dispatches one channel call and replies exactly once through result.
type CallHandler interface {
	Handle(ctx context.Context, call channel.MethodCall, result channel.Result)
}

// Transport carries channel calls from a host into the bridge.
type Transport interface {
	// Start serves calls until the context is cancelled or the peer goes away.
	// Returns nil on graceful shutdown, error on failure.
	Start(ctx context.Context) error

	// Close gracefully shuts down the transport and cleans up resources.
	Close() error
}
