// Package status serves the liveness probe used by hosting platforms.
package status

import (
	"encoding/json"
	"net/http"
)

// AppName is reported by the health endpoint.
const AppName = "CPU Chaos Lab"

// Snapshot is the JSON body returned by the handler.
type Snapshot struct {
	Status string `json:"status"`
	App    string `json:"app"`
}

// Handler renders service health as JSON.
type Handler struct {
	app string
}

// NewHandler constructs a Handler reporting app. An empty name falls back to AppName.
func NewHandler(app string) *Handler {
	if app == "" {
		app = AppName
	}

	return &Handler{app: app}
}

// ServeHTTP implements http.Handler.
func (h *Handler) ServeHTTP(writer http.ResponseWriter, _ *http.Request) {
	if h == nil {
		http.Error(writer, "health unavailable", http.StatusServiceUnavailable)

		return
	}

	payload, err := json.Marshal(Snapshot{Status: "healthy", App: h.app})
	if err != nil {
		http.Error(writer, "marshal status", http.StatusInternalServerError)

		return
	}

	writer.Header().Set("Content-Type", "application/json")
	_, _ = writer.Write(payload)
}
