package local

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/Sentinel-Gate/botbridge/internal/domain/challenge"
)

const blockBody = `{"blockScript":"/captcha.js","uuid":"u-1","vid":"v-1"}`

func newTestCapability(t *testing.T, timeout time.Duration) *Capability {
	t.Helper()
	c, err := New(Config{
		SigningKey:       testKey,
		TokenTTL:         time.Minute,
		ChallengeTimeout: timeout,
		MaxPending:       2,
		DeviceSeed:       "test-host",
	}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func startCapability(t *testing.T, c *Capability) {
	t.Helper()
	if err := c.Start(context.Background(), challenge.Policy{AppID: "PX_APP_ID", Interceptor: challenge.InterceptorNone}); err != nil {
		t.Fatalf("Start: %v", err)
	}
}

func blockResponse() challenge.ResponseDescriptor {
	return challenge.ResponseDescriptor{URL: "https://example.com/api", StatusCode: 403}
}

func waitOutcome(t *testing.T, ch <-chan challenge.Outcome) challenge.Outcome {
	t.Helper()
	select {
	case o := <-ch:
		return o
	case <-time.After(2 * time.Second):
		t.Fatal("callback did not fire")
		return 0
	}
}

func TestCapability_StartTwice(t *testing.T) {
	t.Parallel()

	c := newTestCapability(t, time.Minute)
	startCapability(t, c)
	err := c.Start(context.Background(), challenge.Policy{AppID: "PX_APP_ID", Interceptor: challenge.InterceptorNone})
	if !errors.Is(err, challenge.ErrAlreadyStarted) {
		t.Errorf("second Start err = %v", err)
	}
}

func TestCapability_StartRejectsInvalidPolicy(t *testing.T) {
	t.Parallel()

	c := newTestCapability(t, time.Minute)
	for _, p := range []challenge.Policy{{}, {AppID: "PX_APP_ID"}} {
		if err := c.Start(context.Background(), p); !errors.Is(err, challenge.ErrInvalidPolicy) {
			t.Errorf("Start(%+v) err = %v", p, err)
		}
	}
	// Rejected policies leave the capability startable.
	startCapability(t, c)
}

func TestCapability_BeforeStart(t *testing.T) {
	t.Parallel()

	c := newTestCapability(t, time.Minute)
	if h := c.HeadersForRequest(nil); h != nil {
		t.Errorf("headers before start = %v", h)
	}
	if c.HandleResponse(blockResponse(), []byte(blockBody), func(challenge.Outcome) {}) {
		t.Error("handled before start")
	}
}

func TestCapability_HeadersCarryVerifiableToken(t *testing.T) {
	t.Parallel()

	c := newTestCapability(t, time.Minute)
	startCapability(t, c)

	h := c.HeadersForRequest(&challenge.RequestDescriptor{URL: "https://example.com"})
	if h[HeaderAppID] != "PX_APP_ID" || h[HeaderDeviceID] == "" {
		t.Fatalf("headers = %v", h)
	}
	token, ok := strings.CutPrefix(h[HeaderAuthorization], authorizationPrefix)
	if !ok {
		t.Fatalf("authorization = %q", h[HeaderAuthorization])
	}
	claims, err := c.issuer.Verify(token)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if claims.DeviceID != h[HeaderDeviceID] || claims.Cleared {
		t.Errorf("claims = %+v", claims)
	}

	// Device id is stable for the same seed and app.
	other := newTestCapability(t, time.Minute)
	startCapability(t, other)
	if got := other.HeadersForRequest(nil)[HeaderDeviceID]; got != h[HeaderDeviceID] {
		t.Errorf("device id %q != %q", got, h[HeaderDeviceID])
	}
}

func TestCapability_DeclinesOrdinaryResponse(t *testing.T) {
	t.Parallel()

	c := newTestCapability(t, time.Minute)
	startCapability(t, c)

	fired := make(chan challenge.Outcome, 1)
	resp := challenge.ResponseDescriptor{URL: "https://example.com", StatusCode: 200}
	if c.HandleResponse(resp, []byte(`{"ok":true}`), func(o challenge.Outcome) { fired <- o }) {
		t.Fatal("ordinary response handled")
	}
	if c.HandleResponse(blockResponse(), []byte("not json"), func(o challenge.Outcome) { fired <- o }) {
		t.Fatal("non-block 403 handled")
	}
	if c.Store().Len() != 0 {
		t.Errorf("pending = %d", c.Store().Len())
	}
	select {
	case o := <-fired:
		t.Errorf("callback fired on decline: %s", o)
	default:
	}
}

func TestCapability_SolveClearsSession(t *testing.T) {
	defer goleak.VerifyNone(t)

	c := newTestCapability(t, time.Minute)
	startCapability(t, c)

	outcomes := make(chan challenge.Outcome, 2)
	if !c.HandleResponse(blockResponse(), []byte(blockBody), func(o challenge.Outcome) { outcomes <- o }) {
		t.Fatal("block response declined")
	}
	pending := c.Store().List()
	if len(pending) != 1 || pending[0].BlockUUID != "u-1" || pending[0].VID != "v-1" {
		t.Fatalf("pending = %+v", pending)
	}
	if err := c.Store().Solve(pending[0].ID); err != nil {
		t.Fatalf("Solve: %v", err)
	}
	if o := waitOutcome(t, outcomes); o != challenge.OutcomeSolved {
		t.Errorf("outcome = %s", o)
	}

	token, _ := strings.CutPrefix(c.HeadersForRequest(nil)[HeaderAuthorization], authorizationPrefix)
	claims, err := c.issuer.Verify(token)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if !claims.Cleared {
		t.Error("session not cleared after solve")
	}

	_ = c.Close()
	if len(outcomes) != 0 {
		t.Error("callback fired more than once")
	}
}

func TestCapability_BodyMarkerMatches(t *testing.T) {
	t.Parallel()

	c := newTestCapability(t, time.Minute)
	startCapability(t, c)
	if !c.HandleResponse(blockResponse(), []byte(`<div id="px-captcha"></div>`), func(challenge.Outcome) {}) {
		t.Error("captcha page declined")
	}
}

func TestCapability_TimeoutCancels(t *testing.T) {
	defer goleak.VerifyNone(t)

	c := newTestCapability(t, 20*time.Millisecond)
	startCapability(t, c)

	outcomes := make(chan challenge.Outcome, 1)
	c.HandleResponse(blockResponse(), []byte(blockBody), func(o challenge.Outcome) { outcomes <- o })
	if o := waitOutcome(t, outcomes); o != challenge.OutcomeCancelled {
		t.Errorf("outcome = %s", o)
	}
	if c.Store().Len() != 0 {
		t.Errorf("pending = %d after timeout", c.Store().Len())
	}
	_ = c.Close()
}

func TestCapability_EvictionCancels(t *testing.T) {
	defer goleak.VerifyNone(t)

	c := newTestCapability(t, time.Minute)
	startCapability(t, c)

	first := make(chan challenge.Outcome, 1)
	c.HandleResponse(blockResponse(), []byte(blockBody), func(o challenge.Outcome) { first <- o })
	c.HandleResponse(blockResponse(), []byte(blockBody), func(challenge.Outcome) {})
	c.HandleResponse(blockResponse(), []byte(blockBody), func(challenge.Outcome) {})

	if o := waitOutcome(t, first); o != challenge.OutcomeCancelled {
		t.Errorf("outcome = %s", o)
	}
	_ = c.Close()
}

func TestCapability_CloseSuppressesCallbacks(t *testing.T) {
	defer goleak.VerifyNone(t)

	c := newTestCapability(t, time.Minute)
	startCapability(t, c)

	fired := make(chan challenge.Outcome, 1)
	c.HandleResponse(blockResponse(), []byte(blockBody), func(o challenge.Outcome) { fired <- o })
	if err := c.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	select {
	case o := <-fired:
		t.Errorf("callback fired after close: %s", o)
	default:
	}
}

func TestNew_InvalidRule(t *testing.T) {
	t.Parallel()

	_, err := New(Config{SigningKey: testKey, BlockExpression: "status +"}, slog.Default())
	if err == nil {
		t.Fatal("expected error for invalid rule")
	}
}
