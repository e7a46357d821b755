// Package admin provides the JSON admin API: pending challenges, the audit
// trail, counters and build information.
package admin

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/Sentinel-Gate/botbridge/internal/domain/audit"
	"github.com/Sentinel-Gate/botbridge/internal/domain/auth"
	"github.com/Sentinel-Gate/botbridge/internal/domain/challenge"
	"github.com/Sentinel-Gate/botbridge/internal/service"
)

// ChallengeController is the host surface of the local capability.
type ChallengeController interface {
	List() []challenge.Challenge
	Solve(id string) error
	Cancel(id string) error
}

// AdminAPIHandler provides JSON API endpoints for the admin interface.
type AdminAPIHandler struct {
	challenges     ChallengeController
	auditReader    audit.AuditReader
	auditService   *service.AuditService
	statsService   *service.StatsService
	initializer    *service.Initializer
	keyVerifier    *auth.KeyVerifier
	capabilityMode string
	buildInfo      *BuildInfo
	logger         *slog.Logger
	startTime      time.Time
	rateLimit      int
}

// AdminAPIOption configures an AdminAPIHandler dependency.
type AdminAPIOption func(*AdminAPIHandler)

// WithChallengeController sets the pending challenge store.
func WithChallengeController(c ChallengeController) AdminAPIOption {
	return func(h *AdminAPIHandler) { h.challenges = c }
}

// WithAuditReader sets the audit record reader for queries.
func WithAuditReader(r audit.AuditReader) AdminAPIOption {
	return func(h *AdminAPIHandler) { h.auditReader = r }
}

// WithAuditService sets the audit service, for queue depth in stats.
func WithAuditService(s *service.AuditService) AdminAPIOption {
	return func(h *AdminAPIHandler) { h.auditService = s }
}

// WithStatsService sets the stats service.
func WithStatsService(s *service.StatsService) AdminAPIOption {
	return func(h *AdminAPIHandler) { h.statsService = s }
}

// WithInitializer sets the initializer, for capability status.
func WithInitializer(i *service.Initializer) AdminAPIOption {
	return func(h *AdminAPIHandler) { h.initializer = i }
}

// WithKeyVerifier requires a bearer key on every request. Without it only
// loopback clients are served.
func WithKeyVerifier(v *auth.KeyVerifier) AdminAPIOption {
	return func(h *AdminAPIHandler) { h.keyVerifier = v }
}

// WithCapabilityMode records which capability backs the bridge.
func WithCapabilityMode(mode string) AdminAPIOption {
	return func(h *AdminAPIHandler) { h.capabilityMode = mode }
}

// WithBuildInfo sets the build version information.
func WithBuildInfo(info *BuildInfo) AdminAPIOption {
	return func(h *AdminAPIHandler) { h.buildInfo = info }
}

// WithStartTime sets the server start time for uptime calculation.
func WithStartTime(t time.Time) AdminAPIOption {
	return func(h *AdminAPIHandler) { h.startTime = t }
}

// WithAPILogger sets the logger.
func WithAPILogger(l *slog.Logger) AdminAPIOption {
	return func(h *AdminAPIHandler) { h.logger = l }
}

// WithRateLimit sets the per-minute request budget for remote clients.
func WithRateLimit(perMinute int) AdminAPIOption {
	return func(h *AdminAPIHandler) {
		if perMinute > 0 {
			h.rateLimit = perMinute
		}
	}
}

// NewAdminAPIHandler creates a new AdminAPIHandler with the given options.
func NewAdminAPIHandler(opts ...AdminAPIOption) *AdminAPIHandler {
	h := &AdminAPIHandler{
		logger:    slog.Default(),
		startTime: time.Now().UTC(),
		rateLimit: 60,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Routes returns an http.Handler with all admin API routes registered.
func (h *AdminAPIHandler) Routes() http.Handler {
	mux := http.NewServeMux()

	// Pending challenges (local capability).
	mux.HandleFunc("GET /admin/api/v1/challenges", h.handleListChallenges)
	mux.HandleFunc("POST /admin/api/v1/challenges/{id}/solve", h.handleSolveChallenge)
	mux.HandleFunc("POST /admin/api/v1/challenges/{id}/cancel", h.handleCancelChallenge)

	// Stats, system info, and audit endpoints.
	mux.HandleFunc("GET /admin/api/stats", h.handleGetStats)
	mux.HandleFunc("GET /admin/api/system", h.handleSystemInfo)
	mux.HandleFunc("GET /admin/api/audit", h.handleQueryAudit)
	mux.HandleFunc("GET /admin/api/audit/export", h.handleAuditExport)

	authed := h.adminAuthMiddleware(mux)
	limited := apiRateLimitMiddleware(h.rateLimit, time.Minute, authed)
	return securityHeaders(limited)
}

// respondJSON writes a JSON response with the given status code and data.
func (h *AdminAPIHandler) respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to encode JSON response", "error", err)
	}
}

// respondError writes a JSON error response with the given status code and message.
func (h *AdminAPIHandler) respondError(w http.ResponseWriter, status int, message string) {
	h.respondJSON(w, status, map[string]string{"error": message})
}

// pathParam extracts a named path parameter from the request URL.
func (h *AdminAPIHandler) pathParam(r *http.Request, name string) string {
	return r.PathValue(name)
}
