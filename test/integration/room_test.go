//go:build integration

package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/satorizak/cworld/internal/config"
	"github.com/satorizak/cworld/internal/gateway"
	"github.com/satorizak/cworld/internal/health"
	"github.com/satorizak/cworld/internal/world"
)

var pngBytes = append([]byte("\x89PNG\r\n\x1a\n"), make([]byte, 64)...)

// newTestSetup wires a full room server and a health endpoint over httptest.
func newTestSetup(t *testing.T, modCfg func(*config.Config)) (*httptest.Server, *httptest.Server, *world.Registry) {
	t.Helper()

	cfg := config.DefaultConfig()
	cfg.Security.RateLimit.Enabled = false
	cfg.Server.PingInterval = 0
	if modCfg != nil {
		modCfg(cfg)
	}

	registry := world.NewRegistry()
	history := world.NewHistory(cfg.World.ChatHistorySize)
	assets := world.NewAssetStore(cfg.Assets.Slots, cfg.Assets.MaxUploadBytes)
	hub := gateway.NewHub(cfg.Server.WriteTimeout)
	gw := gateway.New(cfg.World, registry, history, assets, hub)

	tracker := gateway.NewTracker()
	ctx, cancel := context.WithCancel(context.Background())
	handler := gateway.NewHandler(cfg, gw, tracker, nil, ctx)
	room := httptest.NewServer(handler)

	healthMux := http.NewServeMux()
	healthMux.Handle("/health", health.NewHandler(tracker, registry, history, "test", true))
	healthSrv := httptest.NewServer(healthMux)

	t.Cleanup(func() {
		room.Close()
		healthSrv.Close()
		cancel()
	})
	return room, healthSrv, registry
}

type envelope struct {
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type client struct {
	conn *websocket.Conn
	id   string
}

func connect(t *testing.T, ctx context.Context, srv *httptest.Server) *client {
	t.Helper()
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	c, _, err := websocket.Dial(ctx, wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { c.CloseNow() })

	init := readEvent(t, ctx, c, "init")
	var p struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(init.Payload, &p); err != nil {
		t.Fatalf("decode init: %v", err)
	}
	return &client{conn: c, id: p.ID}
}

func (c *client) send(t *testing.T, ctx context.Context, event string, payload any) {
	t.Helper()
	raw, _ := json.Marshal(payload)
	frame, _ := json.Marshal(envelope{Event: event, Payload: raw})
	if err := c.conn.Write(ctx, websocket.MessageText, frame); err != nil {
		t.Fatalf("write %s: %v", event, err)
	}
}

func readEvent(t *testing.T, ctx context.Context, c *websocket.Conn, want string) envelope {
	t.Helper()
	for {
		_, data, err := c.Read(ctx)
		if err != nil {
			t.Fatalf("waiting for %s: %v", want, err)
		}
		var env envelope
		if err := json.Unmarshal(data, &env); err != nil {
			t.Fatalf("bad frame: %v", err)
		}
		if env.Event == want {
			return env
		}
	}
}

func TestTwoClientRoomLifecycle(t *testing.T) {
	room, _, registry := newTestSetup(t, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	ann := connect(t, ctx, room)
	ann.send(t, ctx, "join", map[string]string{"username": "Ann"})
	readEvent(t, ctx, ann.conn, "roster-updated")

	bo := connect(t, ctx, room)
	bo.send(t, ctx, "join", map[string]string{"username": "Bo"})

	// Both see the updated roster with two participants.
	roster := readEvent(t, ctx, bo.conn, "roster-updated")
	var rp struct {
		Participants map[string]world.Participant `json:"participants"`
	}
	if err := json.Unmarshal(roster.Payload, &rp); err != nil {
		t.Fatalf("decode roster: %v", err)
	}
	if len(rp.Participants) != 2 {
		t.Fatalf("roster has %d participants, want 2", len(rp.Participants))
	}

	// Ann moves; only Bo gets the movement frame.
	ann.send(t, ctx, "move", map[string]any{
		"position": map[string]float64{"x": 4, "y": 0, "z": -2},
		"rotation": map[string]float64{"y": 180},
	})
	moved := readEvent(t, ctx, bo.conn, "participant-moved")
	var mp struct {
		ID       string     `json:"id"`
		Position world.Vec3 `json:"position"`
	}
	if err := json.Unmarshal(moved.Payload, &mp); err != nil {
		t.Fatalf("decode moved: %v", err)
	}
	if mp.ID != ann.id || mp.Position.X != 4 {
		t.Errorf("moved payload = %+v", mp)
	}

	// Ann chats; both receive it with her username.
	ann.send(t, ctx, "chat", map[string]string{"text": "hi"})
	for _, c := range []*client{ann, bo} {
		env := readEvent(t, ctx, c.conn, "chat-message")
		var msg world.ChatMessage
		json.Unmarshal(env.Payload, &msg)
		for msg.Kind != world.KindUser {
			env = readEvent(t, ctx, c.conn, "chat-message")
			json.Unmarshal(env.Payload, &msg)
		}
		if msg.Username != "Ann" || msg.Text != "hi" {
			t.Errorf("chat = %+v", msg)
		}
	}

	// Bo leaves; Ann sees the farewell and a shrunken roster.
	bo.conn.Close(websocket.StatusNormalClosure, "")
	env := readEvent(t, ctx, ann.conn, "chat-message")
	var bye world.ChatMessage
	json.Unmarshal(env.Payload, &bye)
	if bye.Kind != world.KindSystem || bye.Text != "Bo left" {
		t.Errorf("farewell = %+v", bye)
	}

	deadline := time.Now().Add(3 * time.Second)
	for registry.Len() != 1 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if registry.Len() != 1 {
		t.Errorf("registry has %d participants, want 1", registry.Len())
	}
}

func TestUploadVisibleToLateJoiner(t *testing.T) {
	room, _, _ := newTestSetup(t, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	ann := connect(t, ctx, room)
	ann.send(t, ctx, "join", map[string]string{"username": "Ann"})

	resp, err := http.Post(room.URL+"/assets/billboard1", "image/png", bytes.NewReader(pngBytes))
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("upload status = %d, want 200", resp.StatusCode)
	}

	// Ann sees the broadcast.
	readEvent(t, ctx, ann.conn, "asset-updated")

	// A late joiner receives the asset in its init snapshot.
	wsURL := "ws" + strings.TrimPrefix(room.URL, "http") + "/ws"
	c, _, err := websocket.Dial(ctx, wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer c.CloseNow()
	init := readEvent(t, ctx, c, "init")
	var ip struct {
		Assets map[string]world.Asset `json:"assets"`
	}
	if err := json.Unmarshal(init.Payload, &ip); err != nil {
		t.Fatalf("decode init: %v", err)
	}
	if _, ok := ip.Assets["billboard1"]; !ok {
		t.Error("init snapshot missing uploaded asset")
	}
}

func TestHealthEndpoint(t *testing.T) {
	room, healthSrv, _ := newTestSetup(t, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	ann := connect(t, ctx, room)
	ann.send(t, ctx, "join", map[string]string{"username": "Ann"})
	readEvent(t, ctx, ann.conn, "roster-updated")

	resp, err := http.Get(healthSrv.URL + "/health")
	if err != nil {
		t.Fatalf("health: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("health status = %d", resp.StatusCode)
	}

	var hr health.Response
	if err := json.NewDecoder(resp.Body).Decode(&hr); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if hr.Status != "ok" || hr.Participants != 1 || hr.Connections != 1 {
		t.Errorf("health = %+v", hr)
	}
}
