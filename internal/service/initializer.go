package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/Sentinel-Gate/botbridge/internal/domain/challenge"
	"github.com/Sentinel-Gate/botbridge/internal/port/outbound"
)

// Initializer starts the capability with the process-wide policy. Start
// failures never propagate: the host keeps running with bot defense disabled.
type Initializer struct {
	capability outbound.Capability
	policy     challenge.Policy
	logger     *slog.Logger

	enabled atomic.Bool
	mu      sync.Mutex
	lastErr error
}

// NewInitializer creates an Initializer that will start capability for appID
// with automatic interception disabled.
func NewInitializer(capability outbound.Capability, appID string, logger *slog.Logger) *Initializer {
	return &Initializer{
		capability: capability,
		policy: challenge.Policy{
			AppID:       appID,
			Interceptor: challenge.InterceptorNone,
		},
		logger: logger,
	}
}

// Policy returns the policy passed to the capability.
func (i *Initializer) Policy() challenge.Policy {
	return i.policy
}

// Start starts the capability. Errors and panics are logged and swallowed.
// Calling Start again is safe; a capability that rejects the second start
// stays enabled.
func (i *Initializer) Start(ctx context.Context) {
	err := i.start(ctx)

	i.mu.Lock()
	i.lastErr = err
	i.mu.Unlock()

	switch {
	case err == nil:
		i.enabled.Store(true)
		i.logger.Info("bot defense capability started",
			"app_id", i.policy.AppID,
			"interceptor", i.policy.Interceptor,
		)
	case errors.Is(err, challenge.ErrAlreadyStarted):
		i.logger.Warn("bot defense capability already started", "app_id", i.policy.AppID)
	default:
		i.logger.Error("bot defense capability failed to start; continuing without it",
			"app_id", i.policy.AppID,
			"error", err,
		)
	}
}

func (i *Initializer) start(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("capability start panicked: %v", r)
		}
	}()
	return i.capability.Start(ctx, i.policy)
}

// Enabled reports whether the capability was started successfully.
func (i *Initializer) Enabled() bool {
	return i.enabled.Load()
}

// LastError returns the error from the most recent Start, or nil.
func (i *Initializer) LastError() error {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.lastErr
}
