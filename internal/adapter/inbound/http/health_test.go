package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/Sentinel-Gate/botbridge/internal/domain/audit"
	"github.com/Sentinel-Gate/botbridge/internal/domain/challenge"
	"github.com/Sentinel-Gate/botbridge/internal/service"
)

type failingCapability struct{ stubCapability }

func (*failingCapability) Start(context.Context, challenge.Policy) error {
	return errors.New("bad app id")
}

func TestHealthChecker_Healthy(t *testing.T) {
	t.Parallel()

	init := service.NewInitializer(&stubCapability{}, "PX_APP_ID", discardLogger())
	init.Start(context.Background())
	auditService := service.NewAuditService(nil, discardLogger(), service.WithChannelSize(100))

	hc := NewHealthChecker(init, auditService, service.NewStatsService(), "test-version")
	health := hc.Check()

	if health.Status != "healthy" {
		t.Errorf("Status = %q, want healthy", health.Status)
	}
	if health.Version != "test-version" {
		t.Errorf("Version = %q, want test-version", health.Version)
	}
	if health.Checks["capability"] != "ok" {
		t.Errorf("capability = %q", health.Checks["capability"])
	}
	if health.Checks["pending_challenges"] != "0" {
		t.Errorf("pending_challenges = %q", health.Checks["pending_challenges"])
	}
}

func TestHealthChecker_DisabledCapabilityStaysHealthy(t *testing.T) {
	t.Parallel()

	init := service.NewInitializer(&failingCapability{}, "PX_APP_ID", discardLogger())
	init.Start(context.Background())

	health := NewHealthChecker(init, nil, nil, "").Check()
	if health.Status != "healthy" {
		t.Errorf("Status = %q", health.Status)
	}
	if !strings.HasPrefix(health.Checks["capability"], "disabled: ") {
		t.Errorf("capability = %q", health.Checks["capability"])
	}
}

func TestHealthChecker_NilComponents(t *testing.T) {
	t.Parallel()

	health := NewHealthChecker(nil, nil, nil, "").Check()
	if health.Status != "healthy" {
		t.Errorf("Status = %q, want healthy", health.Status)
	}
	if health.Checks["capability"] != "not configured" || health.Checks["audit"] != "not configured" {
		t.Errorf("checks = %v", health.Checks)
	}
	if _, ok := health.Checks["goroutines"]; !ok {
		t.Error("goroutines check missing")
	}
}

func TestHealthChecker_AuditBackpressure(t *testing.T) {
	t.Parallel()

	// Not started, so nothing drains the channel.
	auditService := service.NewAuditService(nil, discardLogger(),
		service.WithChannelSize(10),
		service.WithSendTimeout(0),
		service.WithWarningThreshold(0),
	)
	for i := 0; i < 12; i++ {
		auditService.Record(audit.AuditRecord{ID: "r"})
	}

	hc := NewHealthChecker(nil, auditService, nil, "")
	rec := httptest.NewRecorder()
	hc.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", rec.Code)
	}
	var health HealthResponse
	if err := json.NewDecoder(rec.Body).Decode(&health); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !strings.HasPrefix(health.Checks["audit"], "degraded") {
		t.Errorf("audit = %q", health.Checks["audit"])
	}
	if health.Checks["audit_drops"] != "2 dropped" {
		t.Errorf("audit_drops = %q", health.Checks["audit_drops"])
	}
}
