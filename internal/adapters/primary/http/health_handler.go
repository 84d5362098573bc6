package http

import (
	"net/http"
	"runtime"
	"time"

	"github.com/code-craka/visa-manager-app-sub001/internal/core/domain"
)

// StatsSource supplies the connection snapshot included in health output.
type StatsSource interface {
	Stats() domain.ConnectionStats
}

// HealthHandler handles health check requests
type HealthHandler struct {
	registry  StatsSource
	startTime time.Time
	version   string
}

// NewHealthHandler creates a new health handler
func NewHealthHandler(registry StatsSource, version string) *HealthHandler {
	return &HealthHandler{
		registry:  registry,
		startTime: time.Now(),
		version:   version,
	}
}

// HealthResponse represents the health check response
type HealthResponse struct {
	Status      string `json:"status"`
	Timestamp   string `json:"timestamp"`
	Version     string `json:"version,omitempty"`
	Uptime      string `json:"uptime,omitempty"`
	Connections int    `json:"connections"`
}

// HandleLiveness handles liveness probe requests (is the service running?)
// Used by Kubernetes to know when to restart a container
func (h *HealthHandler) HandleLiveness(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

// HandleReadiness handles readiness probe requests (can the service accept traffic?)
func (h *HealthHandler) HandleReadiness(w http.ResponseWriter, r *http.Request) {
	stats := h.registry.Stats()

	WriteJSON(w, http.StatusOK, HealthResponse{
		Status:      "healthy",
		Timestamp:   time.Now().UTC().Format(time.RFC3339),
		Version:     h.version,
		Uptime:      time.Since(h.startTime).Round(time.Second).String(),
		Connections: stats.TotalConnections,
	})
}

// HandleHealth handles detailed health check requests (for monitoring/debugging)
func (h *HealthHandler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	stats := h.registry.Stats()

	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	response := struct {
		HealthResponse
		Agencies int `json:"agencies"`
		Memory   struct {
			Alloc      uint64 `json:"alloc_bytes"`
			TotalAlloc uint64 `json:"total_alloc_bytes"`
			Sys        uint64 `json:"sys_bytes"`
			NumGC      uint32 `json:"num_gc"`
		} `json:"memory"`
		Goroutines int `json:"goroutines"`
	}{
		HealthResponse: HealthResponse{
			Status:      "healthy",
			Timestamp:   time.Now().UTC().Format(time.RFC3339),
			Version:     h.version,
			Uptime:      time.Since(h.startTime).Round(time.Second).String(),
			Connections: stats.TotalConnections,
		},
		Agencies:   len(stats.AgencyConnections),
		Goroutines: runtime.NumGoroutine(),
	}
	response.Memory.Alloc = memStats.Alloc
	response.Memory.TotalAlloc = memStats.TotalAlloc
	response.Memory.Sys = memStats.Sys
	response.Memory.NumGC = memStats.NumGC

	WriteJSON(w, http.StatusOK, response)
}
