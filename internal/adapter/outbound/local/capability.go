// Package local provides an in-process bot-defense capability. It issues
// signed session tokens as request headers, recognizes block responses with
// a CEL rule, and holds interactive challenges until they are solved,
// cancelled, evicted or time out.
package local

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/google/uuid"

	"github.com/Sentinel-Gate/botbridge/internal/adapter/outbound/cel"
	"github.com/Sentinel-Gate/botbridge/internal/domain/challenge"
	"github.com/Sentinel-Gate/botbridge/internal/port/outbound"
)

// Header names contributed to outbound requests.
const (
	HeaderAuthorization = "X-PX-AUTHORIZATION"
	HeaderDeviceID      = "X-PX-DEVICE-ID"
	HeaderAppID         = "X-PX-APP-ID"
)

// authorizationPrefix marks the token format version.
const authorizationPrefix = "3:"

// DefaultChallengeTimeout is how long a challenge stays pending.
const DefaultChallengeTimeout = 5 * time.Minute

// Config configures the local capability.
type Config struct {
	// SigningKey signs session tokens. At least 32 bytes.
	SigningKey []byte
	// TokenTTL is the session token lifetime.
	TokenTTL time.Duration
	// BlockExpression is the CEL rule deciding whether a response is a challenge.
	BlockExpression string
	// ChallengeTimeout resolves unattended challenges as cancelled.
	ChallengeTimeout time.Duration
	// MaxPending bounds the number of pending challenges.
	MaxPending int
	// DeviceSeed is mixed into the device fingerprint. Defaults to the hostname.
	DeviceSeed string
}

// Capability is the in-process implementation of outbound.Capability.
type Capability struct {
	issuer  *TokenIssuer
	rule    *cel.Rule
	store   *ChallengeStore
	timeout time.Duration
	seed    string
	logger  *slog.Logger
	now     func() time.Time

	mu           sync.RWMutex
	policy       *challenge.Policy
	sessionID    string
	deviceID     string
	clearedUntil time.Time

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a local capability. It fails if the signing key or block rule is invalid.
func New(cfg Config, logger *slog.Logger) (*Capability, error) {
	issuer, err := NewTokenIssuer(cfg.SigningKey, cfg.TokenTTL)
	if err != nil {
		return nil, err
	}

	evaluator, err := cel.NewEvaluator()
	if err != nil {
		return nil, err
	}
	expr := cfg.BlockExpression
	if expr == "" {
		expr = cel.DefaultBlockExpression
	}
	rule, err := evaluator.NewRule(expr)
	if err != nil {
		return nil, fmt.Errorf("block rule: %w", err)
	}

	timeout := cfg.ChallengeTimeout
	if timeout <= 0 {
		timeout = DefaultChallengeTimeout
	}
	seed := cfg.DeviceSeed
	if seed == "" {
		seed, _ = os.Hostname()
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Capability{
		issuer:  issuer,
		rule:    rule,
		store:   NewChallengeStore(cfg.MaxPending),
		timeout: timeout,
		seed:    seed,
		logger:  logger,
		now:     time.Now,
		ctx:     ctx,
		cancel:  cancel,
	}, nil
}

// Store exposes the pending challenges for the admin API.
func (c *Capability) Store() *ChallengeStore {
	return c.store
}

// Start validates policy and opens a session. A second call returns ErrAlreadyStarted.
func (c *Capability) Start(_ context.Context, policy challenge.Policy) error {
	if err := policy.Validate(); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.policy != nil {
		return challenge.ErrAlreadyStarted
	}
	c.policy = &policy
	c.sessionID = uuid.NewString()
	c.deviceID = fmt.Sprintf("%016x", xxhash.Sum64String(c.seed+"|"+policy.AppID))
	return nil
}

// HeadersForRequest returns the session headers, or nil before Start.
func (c *Capability) HeadersForRequest(_ *challenge.RequestDescriptor) challenge.HeaderSet {
	c.mu.RLock()
	if c.policy == nil {
		c.mu.RUnlock()
		return nil
	}
	now := c.now()
	claims := SessionClaims{
		AppID:     c.policy.AppID,
		DeviceID:  c.deviceID,
		SessionID: c.sessionID,
		Cleared:   now.Before(c.clearedUntil),
	}
	c.mu.RUnlock()

	token, err := c.issuer.Issue(claims, now)
	if err != nil {
		c.logger.Error("failed to issue session token", "error", err)
		return nil
	}
	return challenge.HeaderSet{
		HeaderAuthorization: authorizationPrefix + token,
		HeaderDeviceID:      claims.DeviceID,
		HeaderAppID:         claims.AppID,
	}
}

// HandleResponse opens a challenge when the block rule matches. onComplete
// fires exactly once when the challenge is solved, cancelled, evicted or
// times out, and never if the capability is closed first.
func (c *Capability) HandleResponse(resp challenge.ResponseDescriptor, body []byte, onComplete func(challenge.Outcome)) bool {
	c.mu.RLock()
	started := c.policy != nil
	var appID string
	if started {
		appID = c.policy.AppID
	}
	c.mu.RUnlock()
	if !started {
		c.logger.Debug("response submitted before start; declining")
		return false
	}

	var block map[string]any
	if err := json.Unmarshal(body, &block); err != nil {
		block = nil
	}

	matched, err := c.rule.Matches(c.ctx, cel.ResponseInput{
		Status:  resp.StatusCode,
		URL:     resp.URL,
		Body:    string(body),
		Headers: resp.Headers,
		Block:   block,
	})
	if err != nil {
		c.logger.Warn("block rule evaluation failed; declining", "error", err)
		return false
	}
	if !matched {
		return false
	}

	now := c.now()
	ch := challenge.Challenge{
		ID:         uuid.NewString(),
		AppID:      appID,
		URL:        resp.URL,
		StatusCode: resp.StatusCode,
		BlockUUID:  stringField(block, "uuid"),
		VID:        stringField(block, "vid"),
		CreatedAt:  now,
		ExpiresAt:  now.Add(c.timeout),
	}
	result := c.store.Add(ch)
	c.logger.Info("challenge opened", "challenge_id", ch.ID, "url", ch.URL)

	c.wg.Add(1)
	go c.await(ch.ID, result, onComplete)
	return true
}

func (c *Capability) await(id string, result <-chan challenge.Status, onComplete func(challenge.Outcome)) {
	defer c.wg.Done()

	timer := time.NewTimer(c.timeout)
	defer timer.Stop()

	var status challenge.Status
	select {
	case status = <-result:
	case <-timer.C:
		// If this loses a race with Solve or Cancel, their status is already buffered.
		_ = c.store.Resolve(id, challenge.StatusTimedOut)
		status = <-result
	case <-c.ctx.Done():
		return
	}

	if status == challenge.StatusSolved {
		c.mu.Lock()
		c.clearedUntil = c.now().Add(c.issuer.ttl)
		c.mu.Unlock()
	}
	c.logger.Info("challenge resolved", "challenge_id", id, "status", status)
	onComplete(status.Outcome())
}

// Close stops all waiters without invoking their callbacks.
func (c *Capability) Close() error {
	c.cancel()
	c.wg.Wait()
	return nil
}

func stringField(m map[string]any, key string) string {
	s, _ := m[key].(string)
	return s
}

// Compile-time check that Capability implements outbound.Capability.
var _ outbound.Capability = (*Capability)(nil)
