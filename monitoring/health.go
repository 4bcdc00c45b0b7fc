package monitoring

import (
	"encoding/json"
	"net/http"
	"time"

	"pinlink/serial"
)

// HealthResponse represents the health check response
type HealthResponse struct {
	Status       string               `json:"status"`
	InstanceID   string               `json:"instance_id"`
	Version      string               `json:"version"`
	UptimeSec    int64                `json:"uptime_sec"`
	Port         string               `json:"port"`
	State        string               `json:"state"`
	Session      string               `json:"session,omitempty"`
	ConnectedSec int64                `json:"connected_sec"`
	Link         serial.StatsSnapshot `json:"link"`
}

// HealthHandler creates an HTTP handler for health checks
type HealthHandler struct {
	instanceID string
	version    string
	startTime  time.Time
	dev        Device
}

// NewHealthHandler creates a new health handler
func NewHealthHandler(instanceID, version string, dev Device) *HealthHandler {
	return &HealthHandler{
		instanceID: instanceID,
		version:    version,
		startTime:  time.Now(),
		dev:        dev,
	}
}

// ServeHTTP handles the /health endpoint
func (h *HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	status := "healthy"
	if !h.dev.IsConnected() {
		status = "degraded"
	}

	response := HealthResponse{
		Status:       status,
		InstanceID:   h.instanceID,
		Version:      h.version,
		UptimeSec:    int64(time.Since(h.startTime).Seconds()),
		Port:         h.dev.Port(),
		State:        string(h.dev.State()),
		Session:      h.dev.Session(),
		ConnectedSec: int64(h.dev.Uptime().Seconds()),
		Link:         h.dev.Stats(),
	}

	w.Header().Set("Content-Type", "application/json")
	if status != "healthy" {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	json.NewEncoder(w).Encode(response)
}
