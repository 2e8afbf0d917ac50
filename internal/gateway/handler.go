package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"github.com/satorizak/cworld/internal/config"
	"github.com/satorizak/cworld/internal/metrics"
	"github.com/satorizak/cworld/internal/security"
	"github.com/satorizak/cworld/internal/world"
)

// Handler is the HTTP handler that accepts WebSocket connections from
// room clients and feeds their events into the Gateway. It also serves
// the raw-bytes asset upload endpoint.
type Handler struct {
	Gateway     *Gateway
	Tracker     *Tracker
	RateLimiter *security.ConnRateLimiter // optional, nil if disabled
	Metrics     *metrics.Metrics          // optional, nil if disabled
	ShutdownCtx context.Context           // cancelled on server shutdown

	// drainCtx is cancelled when the server begins draining connections.
	// Active connections watch this to send graceful close frames.
	drainCtx    context.Context
	drainCancel context.CancelFunc

	// mu protects cfg during hot-reload.
	mu  sync.RWMutex
	cfg *config.Config
}

// NewHandler creates a handler serving /ws and /assets/{slot}.
func NewHandler(cfg *config.Config, gw *Gateway, tracker *Tracker, rl *security.ConnRateLimiter, shutdownCtx context.Context) *Handler {
	drainCtx, drainCancel := context.WithCancel(context.Background())
	return &Handler{
		Gateway:     gw,
		Tracker:     tracker,
		RateLimiter: rl,
		ShutdownCtx: shutdownCtx,
		drainCtx:    drainCtx,
		drainCancel: drainCancel,
		cfg:         cfg,
	}
}

// StartDrain signals all active connections to begin graceful shutdown.
func (h *Handler) StartDrain() {
	h.drainCancel()
}

// GetConfig returns the current config (thread-safe for hot-reload).
func (h *Handler) GetConfig() *config.Config {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.cfg
}

// UpdateConfig swaps the config (called on SIGHUP).
func (h *Handler) UpdateConfig(cfg *config.Config) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.cfg = cfg
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch {
	case strings.HasPrefix(r.URL.Path, "/assets/"):
		h.handleUpload(w, r)
	case r.URL.Path == "/ws":
		h.handleSocket(w, r)
	default:
		http.NotFound(w, r)
	}
}

// handleSocket accepts one WebSocket client and runs its read loop until
// the connection dies, the client leaves, or the server drains.
func (h *Handler) handleSocket(w http.ResponseWriter, r *http.Request) {
	cfg := h.GetConfig()

	clientIP, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		slog.Error("failed to parse remote address", "remote_addr", r.RemoteAddr, "error", err)
		http.Error(w, "Bad Request", http.StatusBadRequest)
		return
	}

	if cfg.Security.RateLimit.Enabled && h.RateLimiter != nil && !h.RateLimiter.Allow(clientIP) {
		slog.Warn("connection rate limit exceeded", "client_ip", clientIP)
		http.Error(w, "Too Many Requests", http.StatusTooManyRequests)
		return
	}

	// Atomic check-and-increment so concurrent upgrades cannot overshoot.
	if reason := h.Tracker.TryAcquire(clientIP, cfg.Security.MaxConnections, cfg.Security.MaxConnectionsPerIP); reason != "" {
		if reason == "max_connections" {
			slog.Warn("max connections reached", "current", h.Tracker.ConnectionCount(), "max", cfg.Security.MaxConnections)
			http.Error(w, "Service Unavailable", http.StatusServiceUnavailable)
		} else {
			slog.Warn("max connections per IP reached", "client_ip", clientIP, "current", h.Tracker.ConnectionCountForIP(clientIP))
			http.Error(w, "Too Many Requests", http.StatusTooManyRequests)
		}
		return
	}
	if h.Metrics != nil {
		h.Metrics.ConnectionsTotal.Inc()
		h.Metrics.ActiveConnections.Inc()
	}

	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		h.Tracker.Release(clientIP)
		if h.Metrics != nil {
			h.Metrics.ActiveConnections.Dec()
		}
		slog.Error("failed to accept WebSocket", "client_ip", clientIP, "error", err)
		return
	}
	conn.SetReadLimit(cfg.Server.MaxMessageSize)

	id := uuid.NewString()
	slog.Info("connection established", "id", id, "client_ip", clientIP)

	// connCtx governs the whole connection. Cancelled by read failure,
	// keepalive failure, or server shutdown.
	connCtx, connCancel := context.WithCancel(h.ShutdownCtx)
	defer connCancel()

	var closeOnce sync.Once
	closeConn := func(code websocket.StatusCode, reason string) {
		closeOnce.Do(func() { conn.Close(code, reason) })
	}

	// Drain watcher: a graceful close frame makes Read return, which
	// tears the connection down through the normal path.
	go func() {
		select {
		case <-h.drainCtx.Done():
			closeConn(websocket.StatusGoingAway, "server shutting down")
		case <-connCtx.Done():
		}
	}()

	// Keepalive must run concurrently with the read loop so pongs are
	// consumed.
	if cfg.Server.PingInterval > 0 {
		go h.keepAlive(connCtx, conn, cfg.Server.PingInterval, cfg.Server.PongTimeout, connCancel)
	}

	h.Gateway.OnConnect(id, &wsConn{conn: conn})

	start := time.Now()
	h.readLoop(connCtx, conn, id, cfg)

	connCancel()
	h.Gateway.OnDisconnect(id)
	closeConn(websocket.StatusNormalClosure, "")
	h.Tracker.Release(clientIP)
	if h.Metrics != nil {
		h.Metrics.ActiveConnections.Dec()
	}
	slog.Info("connection closed", "id", id, "client_ip", clientIP, "duration", time.Since(start).String())
}

// readLoop decodes inbound envelopes and routes them into the gateway
// until the connection or context ends. Frames that are not text or not
// valid envelopes are dropped without ending the connection.
func (h *Handler) readLoop(ctx context.Context, conn *websocket.Conn, id string, cfg *config.Config) {
	msgLimiter := security.NewMessageLimiter(0)
	if cfg.Security.RateLimit.Enabled {
		msgLimiter = security.NewMessageLimiter(cfg.Security.RateLimit.MessagesPerSecond)
	}

	for {
		msgType, data, err := conn.Read(ctx)
		if err != nil {
			slog.Debug("read loop ended", "id", id, "reason", err)
			return
		}
		if msgLimiter != nil {
			if err := msgLimiter.Wait(ctx); err != nil {
				slog.Debug("message rate limit", "id", id, "reason", err)
				return
			}
		}
		if msgType != websocket.MessageText {
			continue
		}

		var env envelope
		if err := json.Unmarshal(data, &env); err != nil || env.Event == "" {
			slog.Debug("dropping unparseable frame", "id", id)
			continue
		}

		h.Tracker.CountEvent()
		h.Gateway.OnEvent(id, env.Event, env.Payload)
	}
}

// keepAlive sends periodic pings to detect dead connections. On failure
// it closes the connection and cancels the connection context.
func (h *Handler) keepAlive(ctx context.Context, conn *websocket.Conn, interval, pongTimeout time.Duration, onFail context.CancelFunc) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			pingCtx, pingCancel := context.WithTimeout(ctx, pongTimeout)
			err := conn.Ping(pingCtx)
			pingCancel()
			if err != nil {
				slog.Debug("keepalive ping failed, closing connection", "error", err)
				conn.Close(websocket.StatusGoingAway, "keepalive timeout")
				onFail()
				return
			}
		}
	}
}

// uploadResponse is the JSON body returned by POST /assets/{slot}.
type uploadResponse struct {
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}

// handleUpload ingests raw image bytes for one slot. The body is the
// image itself with its MIME type in Content-Type; multipart parsing is
// the caller's concern, not ours.
func (h *Handler) handleUpload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
		return
	}
	cfg := h.GetConfig()

	slotID := strings.TrimPrefix(r.URL.Path, "/assets/")
	if slotID == "" || strings.Contains(slotID, "/") {
		writeUploadError(w, http.StatusBadRequest, world.ErrUnknownSlot)
		return
	}

	mimeType := r.Header.Get("Content-Type")
	if i := strings.IndexByte(mimeType, ';'); i >= 0 {
		mimeType = strings.TrimSpace(mimeType[:i])
	}

	// Read one byte past the cap so an oversized body is detected
	// without buffering all of it.
	body, err := io.ReadAll(io.LimitReader(r.Body, cfg.Assets.MaxUploadBytes+1))
	if err != nil {
		writeUploadError(w, http.StatusBadRequest, err)
		return
	}
	if int64(len(body)) > cfg.Assets.MaxUploadBytes {
		writeUploadError(w, http.StatusRequestEntityTooLarge, world.ErrTooLarge)
		return
	}

	if err := h.Gateway.UploadAsset(slotID, mimeType, body); err != nil {
		writeUploadError(w, uploadStatus(err), err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(uploadResponse{OK: true})
}

func writeUploadError(w http.ResponseWriter, status int, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(uploadResponse{OK: false, Error: err.Error()})
}

func uploadStatus(err error) int {
	switch {
	case errors.Is(err, world.ErrUnknownSlot):
		return http.StatusBadRequest
	case errors.Is(err, world.ErrTooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, world.ErrNotImage):
		return http.StatusUnsupportedMediaType
	default:
		return http.StatusInternalServerError
	}
}

// wsConn adapts a coder/websocket connection to the hub's Conn interface.
// coder/websocket serializes concurrent writes internally.
type wsConn struct {
	conn *websocket.Conn
}

func (c *wsConn) Send(ctx context.Context, data []byte) error {
	return c.conn.Write(ctx, websocket.MessageText, data)
}
