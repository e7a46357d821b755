package admin

import (
	"net/http"

	"github.com/Sentinel-Gate/botbridge/internal/service"
)

// statsResponse extends the reply counters with audit pipeline health.
type statsResponse struct {
	service.Stats
	AuditQueueDepth    int   `json:"audit_queue_depth"`
	AuditQueueCapacity int   `json:"audit_queue_capacity"`
	AuditDrops         int64 `json:"audit_drops"`
}

// handleGetStats returns reply counters.
// GET /admin/api/stats
func (h *AdminAPIHandler) handleGetStats(w http.ResponseWriter, r *http.Request) {
	if h.statsService == nil {
		h.respondError(w, http.StatusServiceUnavailable, "stats not available")
		return
	}

	resp := statsResponse{Stats: h.statsService.GetStats()}
	if resp.MethodCalls == nil {
		resp.MethodCalls = map[string]int64{}
	}
	if h.auditService != nil {
		resp.AuditQueueDepth = h.auditService.ChannelDepth()
		resp.AuditQueueCapacity = h.auditService.ChannelCapacity()
		resp.AuditDrops = h.auditService.DroppedRecords()
	}
	h.respondJSON(w, http.StatusOK, resp)
}
