package integration

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/Sentinel-Gate/botbridge/internal/adapter/inbound/admin"
	bridgehttp "github.com/Sentinel-Gate/botbridge/internal/adapter/inbound/http"
	"github.com/Sentinel-Gate/botbridge/internal/adapter/outbound/local"
	"github.com/Sentinel-Gate/botbridge/internal/adapter/outbound/memory"
	"github.com/Sentinel-Gate/botbridge/internal/domain/audit"
	"github.com/Sentinel-Gate/botbridge/internal/domain/challenge"
	"github.com/Sentinel-Gate/botbridge/internal/service"
	"github.com/Sentinel-Gate/botbridge/pkg/channel"
)

const (
	channelPath = "/channel/" + channel.DefaultName
	blockBody   = `{"blockScript":"/captcha.js","uuid":"u-1","vid":"v-1"}`
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type rpcReply struct {
	ID     json.RawMessage `json:"id"`
	Result json.RawMessage `json:"result"`
	Error  *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

type bridge struct {
	url        string
	capability *local.Capability
	audit      *memory.MemoryAuditStore
	auditSvc   *service.AuditService
	stats      *service.StatsService
	metrics    *bridgehttp.Metrics
}

// newBridge wires the same components as "botbridge start" with a local
// capability, in-memory audit and the admin API, behind an httptest server.
func newBridge(t *testing.T) *bridge {
	t.Helper()
	logger := testLogger()

	capability, err := local.New(local.Config{
		SigningKey:       []byte("0123456789abcdef0123456789abcdef"),
		TokenTTL:         time.Minute,
		ChallengeTimeout: 10 * time.Second,
		MaxPending:       4,
		DeviceSeed:       "integration",
	}, logger)
	if err != nil {
		t.Fatalf("local.New: %v", err)
	}
	t.Cleanup(func() { _ = capability.Close() })

	store := memory.NewAuditStoreWithWriter(nil, 100)
	auditSvc := service.NewAuditService(store, logger, service.WithBatchSize(1), service.WithFlushInterval(10*time.Millisecond))
	ctx, cancel := context.WithCancel(context.Background())
	auditSvc.Start(ctx)
	t.Cleanup(func() {
		cancel()
		auditSvc.Stop()
	})

	stats := service.NewStatsService()
	reg := prometheus.NewRegistry()
	metrics := bridgehttp.NewMetrics(reg)

	initializer := service.NewInitializer(capability, "PXintegration", logger)
	initializer.Start(context.Background())
	if !initializer.Enabled() {
		t.Fatalf("capability not enabled: %v", initializer.LastError())
	}

	svc := service.NewBridgeService(capability, logger,
		service.WithStats(stats),
		service.WithAudit(auditSvc),
		service.WithReplyObserver(metrics),
	)
	adminHandler := admin.NewAdminAPIHandler(
		admin.WithChallengeController(capability.Store()),
		admin.WithAuditReader(store),
		admin.WithAuditService(auditSvc),
		admin.WithStatsService(stats),
		admin.WithInitializer(initializer),
		admin.WithAPILogger(logger),
	)
	transport := bridgehttp.NewHTTPTransport(svc,
		bridgehttp.WithLogger(logger),
		bridgehttp.WithMetrics(metrics, reg),
		bridgehttp.WithExtraHandler(adminHandler.Routes()),
		bridgehttp.WithReplyTimeout(5*time.Second),
	)
	srv := httptest.NewServer(transport.Handler())
	t.Cleanup(srv.Close)

	return &bridge{url: srv.URL, capability: capability, audit: store, auditSvc: auditSvc, stats: stats, metrics: metrics}
}

func (b *bridge) call(t *testing.T, id int, method string, params any) rpcReply {
	t.Helper()
	frame := map[string]any{"jsonrpc": "2.0", "id": id, "method": method}
	if params != nil {
		frame["params"] = params
	}
	body, _ := json.Marshal(frame)
	resp, err := http.Post(b.url+channelPath, "application/json", strings.NewReader(string(body)))
	if err != nil {
		t.Errorf("POST %s: %v", method, err)
		return rpcReply{}
	}
	defer func() { _ = resp.Body.Close() }()
	var r rpcReply
	if err := json.NewDecoder(resp.Body).Decode(&r); err != nil {
		t.Errorf("decode %s: %v", method, err)
	}
	return r
}

func (b *bridge) waitPending(t *testing.T, n int) []challenge.Challenge {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if list := b.capability.Store().List(); len(list) == n {
			return list
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("pending challenges never reached %d", n)
	return nil
}

func (b *bridge) resolve(t *testing.T, id, action string) int {
	t.Helper()
	resp, err := http.Post(fmt.Sprintf("%s/admin/api/v1/challenges/%s/%s", b.url, id, action), "application/json", nil)
	if err != nil {
		t.Fatalf("admin %s: %v", action, err)
	}
	_ = resp.Body.Close()
	return resp.StatusCode
}

func TestBridgeFullPath_HeadersCarrySession(t *testing.T) {
	b := newBridge(t)

	r := b.call(t, 1, channel.MethodGetHeaders, nil)
	if r.Error != nil {
		t.Fatalf("error = %+v", r.Error)
	}
	var encoded string
	if err := json.Unmarshal(r.Result, &encoded); err != nil {
		t.Fatalf("result is not a string: %s", r.Result)
	}
	var headers map[string]string
	if err := json.Unmarshal([]byte(encoded), &headers); err != nil {
		t.Fatalf("headers not JSON: %v", err)
	}
	if !strings.HasPrefix(headers[local.HeaderAuthorization], "3:") {
		t.Errorf("authorization = %q", headers[local.HeaderAuthorization])
	}
	if headers[local.HeaderAppID] != "PXintegration" {
		t.Errorf("app id = %q", headers[local.HeaderAppID])
	}
}

func TestBridgeFullPath_OrdinaryResponseDeclined(t *testing.T) {
	b := newBridge(t)

	r := b.call(t, 2, channel.MethodHandleResponse, `{"ok":true}`)
	if string(r.Result) != `"false"` {
		t.Errorf("result = %s, want \"false\"", r.Result)
	}
	if got := b.stats.GetStats().Declined; got != 1 {
		t.Errorf("declined = %d", got)
	}
}

func TestBridgeFullPath_ChallengeSolvedThroughAdmin(t *testing.T) {
	b := newBridge(t)

	got := make(chan rpcReply, 1)
	go func() { got <- b.call(t, 3, channel.MethodHandleResponse, blockBody) }()

	pending := b.waitPending(t, 1)
	if pending[0].BlockUUID != "u-1" {
		t.Errorf("challenge = %+v", pending[0])
	}
	if code := b.resolve(t, pending[0].ID, "solve"); code != http.StatusOK {
		t.Fatalf("solve status = %d", code)
	}

	select {
	case r := <-got:
		if string(r.Result) != `"solved"` || string(r.ID) != "3" {
			t.Errorf("reply = %+v", r)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("no reply after solve")
	}

	// Solving clears the session for the token lifetime.
	r := b.call(t, 4, channel.MethodGetHeaders, nil)
	if r.Error != nil {
		t.Fatalf("headers after solve: %+v", r.Error)
	}
	if got := testutil.ToFloat64(b.metrics.RepliesTotal.WithLabelValues(channel.MethodHandleResponse, "solved")); got != 1 {
		t.Errorf("solved replies = %v", got)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if recs := b.audit.Query(audit.AuditFilter{Method: channel.MethodHandleResponse}); len(recs) == 1 {
			if !recs[0].Deferred || recs[0].Value != "solved" {
				t.Errorf("audit record = %+v", recs[0])
			}
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Error("deferred reply was not audited")
}

func TestBridgeFullPath_ChallengeCancelledThroughAdmin(t *testing.T) {
	b := newBridge(t)

	got := make(chan rpcReply, 1)
	go func() { got <- b.call(t, 5, channel.MethodHandleResponse, blockBody) }()

	pending := b.waitPending(t, 1)
	if code := b.resolve(t, pending[0].ID, "cancel"); code != http.StatusOK {
		t.Fatalf("cancel status = %d", code)
	}
	if code := b.resolve(t, pending[0].ID, "solve"); code != http.StatusNotFound {
		t.Errorf("second resolve status = %d, want 404", code)
	}

	select {
	case r := <-got:
		if string(r.Result) != `"cancelled"` {
			t.Errorf("reply = %s", r.Result)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("no reply after cancel")
	}
	if s := b.stats.GetStats(); s.Cancelled != 1 || s.Pending != 0 {
		t.Errorf("stats = %+v", s)
	}
}

func TestBridgeFullPath_UnknownMethodNotImplemented(t *testing.T) {
	b := newBridge(t)

	r := b.call(t, 6, "humanSomethingElse", nil)
	if r.Error == nil || r.Error.Code != channel.CodeMethodNotFound {
		t.Errorf("reply = %+v", r)
	}
}
