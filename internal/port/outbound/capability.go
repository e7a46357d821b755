// Package outbound defines the outbound port interfaces for the bridge core.
// Outbound adapters (local, remote) implement these interfaces.
package outbound

import (
	"context"

	"github.com/Sentinel-Gate/botbridge/internal/domain/challenge"
)

// Capability is the bot-defense capability the bridge drives.
type Capability interface {
	// Start configures the capability with policy. It is meant to be called
	// once per process; implementations may reject a second call.
	Start(ctx context.Context, policy challenge.Policy) error

	// HeadersForRequest returns headers to attach to an outbound request.
	// req may be nil. A nil result means there is nothing to attach.
	HeadersForRequest(req *challenge.RequestDescriptor) challenge.HeaderSet

	// HandleResponse evaluates an inbound response. It returns false when the
	// response is not a challenge, in which case onComplete is never called.
	// When it returns true, onComplete is called at most once, later, from
	// any goroutine, with the challenge outcome. It may never be called if
	// the capability is closed first.
	HandleResponse(resp challenge.ResponseDescriptor, body []byte, onComplete func(challenge.Outcome)) bool
}
