package http

import (
	"context"
	"io"
	"log/slog"
	"sync"

	"github.com/Sentinel-Gate/botbridge/internal/domain/challenge"
	"github.com/Sentinel-Gate/botbridge/pkg/channel"
)

// discardLogger returns a logger that discards all output (for tests)
func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// stubCapability answers headers immediately and parks handled responses
// until resolve is called.
type stubCapability struct {
	mu      sync.Mutex
	started bool
	handled bool
	waiting []func(challenge.Outcome)
}

func (c *stubCapability) Start(context.Context, challenge.Policy) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.started {
		return challenge.ErrAlreadyStarted
	}
	c.started = true
	return nil
}

func (c *stubCapability) HeadersForRequest(*challenge.RequestDescriptor) challenge.HeaderSet {
	return challenge.HeaderSet{"X-PX-AUTHORIZATION": "3:token"}
}

func (c *stubCapability) HandleResponse(_ challenge.ResponseDescriptor, _ []byte, onComplete func(challenge.Outcome)) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.handled {
		return false
	}
	c.waiting = append(c.waiting, onComplete)
	return true
}

func (c *stubCapability) resolve(o challenge.Outcome) {
	c.mu.Lock()
	waiting := c.waiting
	c.waiting = nil
	c.mu.Unlock()
	for _, fn := range waiting {
		fn(o)
	}
}

func (c *stubCapability) parked() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.waiting)
}

// silentHandler never replies.
type silentHandler struct{}

func (silentHandler) Handle(context.Context, channel.MethodCall, channel.Result) {}
