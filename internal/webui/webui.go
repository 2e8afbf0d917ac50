package webui

import (
	"net/http"
	"time"

	"github.com/satorizak/cworld/internal/config"
	"github.com/satorizak/cworld/internal/eventlog"
	"github.com/satorizak/cworld/internal/gateway"
	"github.com/satorizak/cworld/internal/world"
)

// Dependencies holds all injected dependencies for the admin API.
type Dependencies struct {
	Tracker   *gateway.Tracker
	Registry  *world.Registry
	History   *world.History
	Assets    *world.AssetStore
	Events    *eventlog.Ring
	Version   string
	BuildTime string
	GitCommit string
	StartTime time.Time
	GetConfig func() *config.Config
}

// WebUI provides read-only HTTP handlers for inspecting the room.
type WebUI struct {
	deps Dependencies
}

// New creates a WebUI instance.
func New(deps Dependencies) *WebUI {
	return &WebUI{deps: deps}
}

// APIHandler returns an http.Handler for /api/v1/ endpoints.
func (ui *WebUI) APIHandler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/status", ui.handleStatus)
	mux.HandleFunc("/api/v1/participants", ui.handleParticipants)
	mux.HandleFunc("/api/v1/assets", ui.handleAssets)
	mux.HandleFunc("/api/v1/events", ui.handleEvents)
	mux.HandleFunc("/api/v1/config", ui.handleConfig)
	return mux
}
