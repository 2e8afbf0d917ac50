package webui

import (
	"encoding/json"
	"net/http"
	"runtime"
	"sort"
	"strconv"
	"time"

	"github.com/satorizak/cworld/internal/eventlog"
	"github.com/satorizak/cworld/internal/world"
)

// statusResponse is the JSON body for GET /api/v1/status.
type statusResponse struct {
	Uptime            string  `json:"uptime"`
	UptimeSeconds     float64 `json:"uptime_seconds"`
	Participants      int     `json:"participants"`
	ActiveConnections int     `json:"active_connections"`
	TotalConnections  int64   `json:"total_connections"`
	TotalEvents       int64   `json:"total_events"`
	ChatHistory       int     `json:"chat_history"`
	MemoryMB          float64 `json:"memory_mb"`
	Goroutines        int     `json:"goroutines"`
	Version           string  `json:"version"`
	BuildTime         string  `json:"build_time"`
	GitCommit         string  `json:"git_commit"`
}

func (ui *WebUI) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
		return
	}

	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	uptime := time.Since(ui.deps.StartTime)

	writeJSON(w, http.StatusOK, statusResponse{
		Uptime:            uptime.Round(time.Second).String(),
		UptimeSeconds:     uptime.Seconds(),
		Participants:      ui.deps.Registry.Len(),
		ActiveConnections: ui.deps.Tracker.ConnectionCount(),
		TotalConnections:  ui.deps.Tracker.TotalConnections(),
		TotalEvents:       ui.deps.Tracker.TotalEvents(),
		ChatHistory:       ui.deps.History.Len(),
		MemoryMB:          float64(memStats.Alloc) / 1024 / 1024,
		Goroutines:        runtime.NumGoroutine(),
		Version:           ui.deps.Version,
		BuildTime:         ui.deps.BuildTime,
		GitCommit:         ui.deps.GitCommit,
	})
}

func (ui *WebUI) handleParticipants(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
		return
	}

	snap := ui.deps.Registry.Snapshot()
	participants := make([]world.Participant, 0, len(snap))
	for _, p := range snap {
		participants = append(participants, p)
	}
	sort.Slice(participants, func(i, j int) bool {
		return participants[i].Username < participants[j].Username
	})

	writeJSON(w, http.StatusOK, participants)
}

// assetEntry describes one populated slot without shipping its content.
type assetEntry struct {
	SlotID    string `json:"slot_id"`
	MimeType  string `json:"mime_type"`
	SizeBytes int    `json:"size_bytes"`
	Timestamp int64  `json:"timestamp"`
}

func (ui *WebUI) handleAssets(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
		return
	}

	snap := ui.deps.Assets.Snapshot()
	entries := make([]assetEntry, 0, len(snap))
	for _, a := range snap {
		entries = append(entries, assetEntry{
			SlotID:    a.SlotID,
			MimeType:  a.MimeType,
			SizeBytes: len(a.Content) * 3 / 4, // decoded size, close enough
			Timestamp: a.Timestamp,
		})
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].SlotID < entries[j].SlotID
	})

	writeJSON(w, http.StatusOK, entries)
}

// handleEvents serves recent room activity. Query params: limit (int),
// kind (join|leave|reap|chat|upload), since (RFC3339).
func (ui *WebUI) handleEvents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
		return
	}

	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > 1000 {
			http.Error(w, "invalid limit", http.StatusBadRequest)
			return
		}
		limit = n
	}

	kind := r.URL.Query().Get("kind")

	var since time.Time
	if v := r.URL.Query().Get("since"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			http.Error(w, "invalid since timestamp", http.StatusBadRequest)
			return
		}
		since = t
	}

	events := ui.deps.Events.Recent(limit, kind, since)
	if events == nil {
		events = []eventlog.Event{}
	}
	writeJSON(w, http.StatusOK, events)
}

// configResponse is the JSON body for GET /api/v1/config.
type configResponse struct {
	ListenAddress   string   `json:"listen_address"`
	HealthAddress   string   `json:"health_address"`
	ChatHistorySize int      `json:"chat_history_size"`
	ReaperInterval  string   `json:"reaper_interval"`
	IdleTimeout     string   `json:"idle_timeout"`
	AssetSlots      []string `json:"asset_slots"`
	MaxUploadBytes  int64    `json:"max_upload_bytes"`
	MaxConnections  int      `json:"max_connections"`
	LogLevel        string   `json:"log_level"`
}

func (ui *WebUI) handleConfig(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
		return
	}

	cfg := ui.deps.GetConfig()
	writeJSON(w, http.StatusOK, configResponse{
		ListenAddress:   cfg.Server.ListenAddress,
		HealthAddress:   cfg.Health.ListenAddress,
		ChatHistorySize: cfg.World.ChatHistorySize,
		ReaperInterval:  cfg.World.ReaperInterval.String(),
		IdleTimeout:     cfg.World.IdleTimeout.String(),
		AssetSlots:      cfg.Assets.Slots,
		MaxUploadBytes:  cfg.Assets.MaxUploadBytes,
		MaxConnections:  cfg.Security.MaxConnections,
		LogLevel:        cfg.Logging.Level,
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
