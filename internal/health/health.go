package health

import (
	"encoding/json"
	"net/http"
	"runtime"
	"time"

	"github.com/satorizak/cworld/internal/gateway"
	"github.com/satorizak/cworld/internal/world"
)

// Response is the JSON response from the /health endpoint.
type Response struct {
	Status       string   `json:"status"`
	Uptime       string   `json:"uptime"`
	Participants int      `json:"participants"`
	Connections  int      `json:"connections"`
	Version      string   `json:"version,omitempty"`
	Timestamp    string   `json:"timestamp"`
	Details      *Details `json:"details,omitempty"`
}

// Details contains extended health information.
type Details struct {
	TotalConnections int64   `json:"total_connections"`
	TotalEvents      int64   `json:"total_events"`
	ChatHistory      int     `json:"chat_history"`
	MemoryMB         float64 `json:"memory_mb"`
}

// Handler serves the health check endpoint. The health listener runs on a
// loopback address separate from the room listener, so local monitoring
// tools can poll it without joining the room's network surface.
type Handler struct {
	startTime time.Time
	tracker   *gateway.Tracker
	registry  *world.Registry
	history   *world.History
	version   string
	detailed  bool
}

// NewHandler creates a health check handler.
func NewHandler(tracker *gateway.Tracker, registry *world.Registry, history *world.History, version string, detailed bool) *Handler {
	return &Handler{
		startTime: time.Now(),
		tracker:   tracker,
		registry:  registry,
		history:   history,
		version:   version,
		detailed:  detailed,
	}
}

// ServeHTTP handles health check requests. The server has no upstream
// dependency, so a responding process is a healthy process.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	resp := Response{
		Status:       "ok",
		Uptime:       time.Since(h.startTime).Round(time.Second).String(),
		Participants: h.registry.Len(),
		Connections:  h.tracker.ConnectionCount(),
		Timestamp:    time.Now().UTC().Format(time.RFC3339),
	}

	if h.detailed {
		var memStats runtime.MemStats
		runtime.ReadMemStats(&memStats)
		resp.Version = h.version
		resp.Details = &Details{
			TotalConnections: h.tracker.TotalConnections(),
			TotalEvents:      h.tracker.TotalEvents(),
			ChatHistory:      h.history.Len(),
			MemoryMB:         float64(memStats.Alloc) / 1024 / 1024,
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(resp)
}
