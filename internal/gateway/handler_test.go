package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/satorizak/cworld/internal/config"
	"github.com/satorizak/cworld/internal/world"
)

func newTestHandler(t *testing.T) (*Handler, *testRoom) {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Security.RateLimit.Enabled = false
	cfg.Server.PingInterval = 0

	room := newTestRoom(t)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	return NewHandler(cfg, room.gw, NewTracker(), nil, ctx), room
}

func postAsset(t *testing.T, srv *httptest.Server, slot, contentType string, body []byte) (*http.Response, uploadResponse) {
	t.Helper()
	resp, err := http.Post(srv.URL+"/assets/"+slot, contentType, bytes.NewReader(body))
	if err != nil {
		t.Fatalf("POST /assets/%s: %v", slot, err)
	}
	defer resp.Body.Close()
	var out uploadResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode upload response: %v", err)
	}
	return resp, out
}

func TestUploadEndpointSuccess(t *testing.T) {
	h, room := newTestHandler(t)
	srv := httptest.NewServer(h)
	defer srv.Close()

	resp, out := postAsset(t, srv, "billboard1", "image/png", pngData)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if !out.OK || out.Error != "" {
		t.Errorf("response = %+v, want ok", out)
	}
	if _, ok := room.assets.Get("billboard1"); !ok {
		t.Error("asset not stored")
	}
}

func TestUploadEndpointContentTypeParams(t *testing.T) {
	h, room := newTestHandler(t)
	srv := httptest.NewServer(h)
	defer srv.Close()

	resp, _ := postAsset(t, srv, "billboard1", "image/png; charset=binary", pngData)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	asset, _ := room.assets.Get("billboard1")
	if asset.MimeType != "image/png" {
		t.Errorf("stored mime = %q, want parameters stripped", asset.MimeType)
	}
}

func TestUploadEndpointRejections(t *testing.T) {
	h, _ := newTestHandler(t)
	srv := httptest.NewServer(h)
	defer srv.Close()

	tests := []struct {
		name       string
		slot       string
		mime       string
		body       []byte
		wantStatus int
		wantError  string
	}{
		{"unknown slot", "billboard9", "image/png", pngData, http.StatusBadRequest, "invalid slot"},
		{"not an image", "billboard1", "text/plain", []byte("hello"), http.StatusUnsupportedMediaType, "unsupported type"},
		{"mislabeled body", "billboard1", "image/png", []byte("just text pretending"), http.StatusUnsupportedMediaType, "unsupported type"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, out := postAsset(t, srv, tt.slot, tt.mime, tt.body)
			if resp.StatusCode != tt.wantStatus {
				t.Errorf("status = %d, want %d", resp.StatusCode, tt.wantStatus)
			}
			if out.OK || out.Error != tt.wantError {
				t.Errorf("response = %+v, want error %q", out, tt.wantError)
			}
		})
	}
}

func TestUploadEndpointTooLarge(t *testing.T) {
	h, _ := newTestHandler(t)
	h.GetConfig().Assets.MaxUploadBytes = 128
	srv := httptest.NewServer(h)
	defer srv.Close()

	big := append([]byte("\x89PNG\r\n\x1a\n"), make([]byte, 256)...)
	resp, out := postAsset(t, srv, "billboard1", "image/png", big)
	if resp.StatusCode != http.StatusRequestEntityTooLarge {
		t.Errorf("status = %d, want 413", resp.StatusCode)
	}
	if out.Error != "payload too large" {
		t.Errorf("error = %q, want payload too large", out.Error)
	}
}

func TestUploadEndpointMethodAndPath(t *testing.T) {
	h, _ := newTestHandler(t)
	srv := httptest.NewServer(h)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/assets/billboard1")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Errorf("GET status = %d, want 405", resp.StatusCode)
	}

	resp, err = http.Get(srv.URL + "/nope")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("unknown path status = %d, want 404", resp.StatusCode)
	}
}

// readEvent reads frames until one with the wanted event name arrives.
func readEvent(t *testing.T, ctx context.Context, conn *websocket.Conn, want string) envelope {
	t.Helper()
	for {
		_, data, err := conn.Read(ctx)
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

func TestSocketJoinRoundTrip(t *testing.T) {
	h, room := newTestHandler(t)
	srv := httptest.NewServer(h)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, "ws://"+srv.Listener.Addr().String()+"/ws", nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	init := readEvent(t, ctx, conn, EventInit)
	var ip initPayload
	if err := json.Unmarshal(init.Payload, &ip); err != nil {
		t.Fatalf("decode init: %v", err)
	}
	if ip.ID == "" {
		t.Error("init payload has no connection id")
	}

	joinFrame, _ := json.Marshal(envelope{
		Event:   EventJoin,
		Payload: json.RawMessage(`{"username": "Ann"}`),
	})
	if err := conn.Write(ctx, websocket.MessageText, joinFrame); err != nil {
		t.Fatalf("write join: %v", err)
	}

	roster := readEvent(t, ctx, conn, EventRoster)
	var rp rosterPayload
	if err := json.Unmarshal(roster.Payload, &rp); err != nil {
		t.Fatalf("decode roster: %v", err)
	}
	if got := rp.Participants[ip.ID].Username; got != "Ann" {
		t.Errorf("roster username = %q, want Ann", got)
	}

	chat := readEvent(t, ctx, conn, EventChatMessage)
	var msg world.ChatMessage
	if err := json.Unmarshal(chat.Payload, &msg); err != nil {
		t.Fatalf("decode chat: %v", err)
	}
	if msg.Kind != world.KindSystem || msg.Text != "Ann joined" {
		t.Errorf("announcement = %+v", msg)
	}

	conn.Close(websocket.StatusNormalClosure, "bye")

	// The server should notice the close and remove the participant.
	deadline := time.Now().Add(3 * time.Second)
	for room.registry.Len() != 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if room.registry.Len() != 0 {
		t.Error("participant still registered after close")
	}
}

func TestSocketConnectionLimit(t *testing.T) {
	h, _ := newTestHandler(t)
	h.GetConfig().Security.MaxConnections = 1
	srv := httptest.NewServer(h)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	first, _, err := websocket.Dial(ctx, "ws://"+srv.Listener.Addr().String()+"/ws", nil)
	if err != nil {
		t.Fatalf("first dial: %v", err)
	}
	defer first.Close(websocket.StatusNormalClosure, "")
	readEvent(t, ctx, first, EventInit)

	_, resp, err := websocket.Dial(ctx, "ws://"+srv.Listener.Addr().String()+"/ws", nil)
	if err == nil {
		t.Fatal("second dial succeeded past the connection limit")
	}
	if resp == nil || resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("second dial response = %v, want 503", resp)
	}
}
