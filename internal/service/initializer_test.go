package service

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/Sentinel-Gate/botbridge/internal/domain/challenge"
)

func TestInitializer_StartsWithFixedPolicy(t *testing.T) {
	t.Parallel()

	capability := &mockCapability{}
	init := NewInitializer(capability, "PX_APP_ID", slog.New(slog.NewTextHandler(io.Discard, nil)))
	init.Start(context.Background())

	if !init.Enabled() {
		t.Fatal("expected enabled after successful start")
	}
	policies := capability.startedPolicies()
	if len(policies) != 1 {
		t.Fatalf("Start calls = %d, want 1", len(policies))
	}
	want := challenge.Policy{AppID: "PX_APP_ID", Interceptor: challenge.InterceptorNone}
	if policies[0] != want {
		t.Errorf("policy = %+v, want %+v", policies[0], want)
	}
	if init.LastError() != nil {
		t.Errorf("LastError = %v", init.LastError())
	}
}

func TestInitializer_FailureIsSwallowedAndLogged(t *testing.T) {
	t.Parallel()

	logs := &bytes.Buffer{}
	capability := &mockCapability{startErr: errors.New("invalid app id")}
	init := NewInitializer(capability, "bad", slog.New(slog.NewTextHandler(logs, nil)))

	init.Start(context.Background())

	if init.Enabled() {
		t.Error("expected disabled after failed start")
	}
	if init.LastError() == nil {
		t.Error("expected LastError to be recorded")
	}
	if !strings.Contains(logs.String(), "failed to start") || !strings.Contains(logs.String(), "level=ERROR") {
		t.Errorf("expected error log, got %q", logs.String())
	}
}

func TestInitializer_PanicIsSwallowed(t *testing.T) {
	t.Parallel()

	capability := &mockCapability{startPanic: "boom"}
	init := NewInitializer(capability, "PX_APP_ID", slog.New(slog.NewTextHandler(io.Discard, nil)))

	init.Start(context.Background())

	if init.Enabled() {
		t.Error("expected disabled after panic")
	}
	if init.LastError() == nil || !strings.Contains(init.LastError().Error(), "boom") {
		t.Errorf("LastError = %v", init.LastError())
	}
}

func TestInitializer_SecondStartDoesNotCrash(t *testing.T) {
	t.Parallel()

	capability := &mockCapability{rejectSecondStart: true}
	init := NewInitializer(capability, "PX_APP_ID", slog.New(slog.NewTextHandler(io.Discard, nil)))

	init.Start(context.Background())
	init.Start(context.Background())

	if !init.Enabled() {
		t.Error("capability should stay enabled after a rejected second start")
	}
	if !errors.Is(init.LastError(), challenge.ErrAlreadyStarted) {
		t.Errorf("LastError = %v, want ErrAlreadyStarted", init.LastError())
	}
	if n := len(capability.startedPolicies()); n != 2 {
		t.Errorf("Start calls = %d, want 2", n)
	}
}
