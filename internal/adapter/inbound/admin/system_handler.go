package admin

import (
	"net/http"
	"runtime"
	"time"
)

// BuildInfo holds build-time version information.
type BuildInfo struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildDate string `json:"build_date"`
}

// capabilityStatus describes the state of the bot-defense capability.
type capabilityStatus struct {
	Mode    string `json:"mode"`
	AppID   string `json:"app_id,omitempty"`
	Started bool   `json:"started"`
	Error   string `json:"error,omitempty"`
}

// SystemInfoResponse is the JSON shape of GET /admin/api/system.
type SystemInfoResponse struct {
	Version       string           `json:"version"`
	Commit        string           `json:"commit"`
	BuildDate     string           `json:"build_date"`
	GoVersion     string           `json:"go_version"`
	OS            string           `json:"os"`
	Arch          string           `json:"arch"`
	Uptime        string           `json:"uptime"`
	UptimeSeconds int64            `json:"uptime_seconds"`
	Goroutines    int              `json:"goroutines"`
	Capability    capabilityStatus `json:"capability"`
}

// handleSystemInfo returns build, runtime and capability information.
// GET /admin/api/system
func (h *AdminAPIHandler) handleSystemInfo(w http.ResponseWriter, r *http.Request) {
	uptime := time.Since(h.startTime)

	resp := SystemInfoResponse{
		Version:       "dev",
		GoVersion:     runtime.Version(),
		OS:            runtime.GOOS,
		Arch:          runtime.GOARCH,
		Uptime:        uptime.Round(time.Second).String(),
		UptimeSeconds: int64(uptime.Seconds()),
		Goroutines:    runtime.NumGoroutine(),
		Capability:    capabilityStatus{Mode: h.capabilityMode},
	}
	if h.buildInfo != nil {
		resp.Version = h.buildInfo.Version
		resp.Commit = h.buildInfo.Commit
		resp.BuildDate = h.buildInfo.BuildDate
	}
	if h.initializer != nil {
		resp.Capability.AppID = h.initializer.Policy().AppID
		resp.Capability.Started = h.initializer.Enabled()
		if err := h.initializer.LastError(); err != nil {
			resp.Capability.Error = err.Error()
		}
	}

	h.respondJSON(w, http.StatusOK, resp)
}
