package api

import (
	"net/http"
	"time"
)

type HealthResponse struct {
	Status        string            `json:"status"`
	Message       string            `json:"message"`
	Timestamp     time.Time         `json:"timestamp"`
	Version       string            `json:"version,omitempty"`
	UptimeSeconds int64             `json:"uptime_seconds"`
	Provider      string            `json:"provider,omitempty"`
	Checks        map[string]string `json:"checks,omitempty"`
}

// MQTTStatus reports broker connectivity for the health check.
type MQTTStatus interface {
	IsConnected() bool
}

type HealthHandler struct {
	mqtt      MQTTStatus
	provider  string
	version   string
	startTime time.Time
	now       func() time.Time
}

// NewHealthHandler creates the health handler. mqtt may be nil when the
// notifier is not configured.
func NewHealthHandler(mqtt MQTTStatus, provider, version string, startTime time.Time) *HealthHandler {
	return &HealthHandler{
		mqtt:      mqtt,
		provider:  provider,
		version:   version,
		startTime: startTime,
		now:       time.Now,
	}
}

// ServeHTTP always answers 200 while the process can serve requests; the
// MQTT notifier is optional, so a lost broker only shows up in checks.
func (h *HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	checks := map[string]string{}
	if h.mqtt != nil {
		if h.mqtt.IsConnected() {
			checks["mqtt"] = "ok"
		} else {
			checks["mqtt"] = "disconnected"
		}
	} else {
		checks["mqtt"] = "not_configured"
	}

	now := h.now()
	WriteJSON(w, http.StatusOK, HealthResponse{
		Status:        "OK",
		Message:       "Speech-to-text relay is running",
		Timestamp:     now.UTC(),
		Version:       h.version,
		UptimeSeconds: int64(now.Sub(h.startTime).Seconds()),
		Provider:      h.provider,
		Checks:        checks,
	})
}
