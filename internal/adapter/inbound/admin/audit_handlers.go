package admin

import (
	"encoding/csv"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/Sentinel-Gate/botbridge/internal/domain/audit"
)

// auditQueryResponse is the JSON shape of GET /admin/api/audit.
type auditQueryResponse struct {
	Records []audit.AuditRecord `json:"records"`
	Count   int                 `json:"count"`
}

// parseAuditFilter builds an AuditFilter from query parameters.
// Supported: limit, method, reply, transport, start, end (RFC 3339).
func parseAuditFilter(r *http.Request) (audit.AuditFilter, error) {
	q := r.URL.Query()
	filter := audit.AuditFilter{
		Method:    q.Get("method"),
		Reply:     q.Get("reply"),
		Transport: q.Get("transport"),
	}

	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return filter, fmt.Errorf("invalid limit %q", v)
		}
		filter.Limit = n
	}
	if v := q.Get("start"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return filter, fmt.Errorf("invalid start time %q", v)
		}
		filter.StartTime = t
	}
	if v := q.Get("end"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return filter, fmt.Errorf("invalid end time %q", v)
		}
		filter.EndTime = t
	}
	if !filter.StartTime.IsZero() && !filter.EndTime.IsZero() && filter.EndTime.Before(filter.StartTime) {
		return filter, fmt.Errorf("end time is before start time")
	}
	return filter, nil
}

// handleQueryAudit returns recent audit records, newest first.
// GET /admin/api/audit
func (h *AdminAPIHandler) handleQueryAudit(w http.ResponseWriter, r *http.Request) {
	if h.auditReader == nil {
		h.respondJSON(w, http.StatusOK, auditQueryResponse{Records: []audit.AuditRecord{}})
		return
	}

	filter, err := parseAuditFilter(r)
	if err != nil {
		h.respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	records := h.auditReader.Query(filter)
	if records == nil {
		records = []audit.AuditRecord{}
	}
	h.respondJSON(w, http.StatusOK, auditQueryResponse{Records: records, Count: len(records)})
}

var auditCSVHeader = []string{
	"id", "timestamp", "transport", "method", "reply", "value", "error_code", "deferred", "latency_us",
}

// handleAuditExport streams the matching audit records as CSV.
// GET /admin/api/audit/export
func (h *AdminAPIHandler) handleAuditExport(w http.ResponseWriter, r *http.Request) {
	filter, err := parseAuditFilter(r)
	if err != nil {
		h.respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	var records []audit.AuditRecord
	if h.auditReader != nil {
		records = h.auditReader.Query(filter)
	}

	filename := fmt.Sprintf("botbridge-audit-%s.csv", time.Now().UTC().Format("20060102-150405"))
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	w.WriteHeader(http.StatusOK)

	cw := csv.NewWriter(w)
	_ = cw.Write(auditCSVHeader)
	for _, rec := range records {
		_ = cw.Write([]string{
			rec.ID,
			rec.Timestamp.UTC().Format(time.RFC3339Nano),
			rec.Transport,
			rec.Method,
			rec.Reply,
			rec.Value,
			rec.ErrorCode,
			strconv.FormatBool(rec.Deferred),
			strconv.FormatInt(rec.LatencyMicros, 10),
		})
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		h.logger.Error("audit export failed", "error", err)
	}
}
