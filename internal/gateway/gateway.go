package gateway

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/satorizak/cworld/internal/config"
	"github.com/satorizak/cworld/internal/eventlog"
	"github.com/satorizak/cworld/internal/metrics"
	"github.com/satorizak/cworld/internal/world"
)

// Gateway is the sole entry and exit point between connections and the
// room state. Every inbound event is validated here, applied to exactly
// one of the owned stores, and then fanned out through the hub. A
// rejected event never leaves partial state behind.
type Gateway struct {
	registry *world.Registry
	history  *world.History
	assets   *world.AssetStore
	hub      *Hub
	events   *eventlog.Ring   // optional, nil if admin disabled
	metrics  *metrics.Metrics // optional, nil if metrics disabled

	defaultUsername string
	defaultAvatar   string
	spawn           world.Vec3

	dispatch map[string]func(id string, raw json.RawMessage)
	now      func() time.Time
}

// New creates a gateway over the given stores.
func New(cfg config.WorldConfig, registry *world.Registry, history *world.History, assets *world.AssetStore, hub *Hub) *Gateway {
	g := &Gateway{
		registry:        registry,
		history:         history,
		assets:          assets,
		hub:             hub,
		defaultUsername: cfg.DefaultUsername,
		defaultAvatar:   cfg.DefaultAvatar,
		spawn:           world.Vec3{X: cfg.SpawnX, Y: cfg.SpawnY, Z: cfg.SpawnZ},
		now:             time.Now,
	}
	g.dispatch = map[string]func(string, json.RawMessage){
		EventJoin:   g.handleJoin,
		EventMove:   g.handleMove,
		EventAvatar: g.handleAvatar,
		EventChat:   g.handleChat,
		EventUpload: g.handleUpload,
	}
	return g
}

// SetEventLog attaches the optional admin activity ring.
func (g *Gateway) SetEventLog(ring *eventlog.Ring) {
	g.events = ring
}

// SetMetrics attaches the optional Prometheus metrics.
func (g *Gateway) SetMetrics(m *metrics.Metrics) {
	g.metrics = m
}

// OnConnect registers a new connection and sends it the init snapshot:
// current participants, chat history, and populated asset slots. The
// snapshot is queued with registration, so no broadcast can reach the
// connection ahead of its init frame. No Participant exists until the
// client sends a join event, so a connection that never joins leaves no
// registry trace.
func (g *Gateway) OnConnect(id string, c Conn) {
	g.hub.Register(id, c, EventInit, initPayload{
		ID:           id,
		Participants: g.registry.Snapshot(),
		ChatHistory:  g.history.All(),
		Assets:       g.assets.Snapshot(),
	})
}

// OnEvent validates and routes one inbound event. Unknown event names and
// malformed payloads are dropped silently; this is a best-effort protocol
// with no error channel back to the sender.
func (g *Gateway) OnEvent(id, name string, raw json.RawMessage) {
	handler, ok := g.dispatch[name]
	if !ok {
		g.drop("unknown_event")
		slog.Debug("ignoring unknown event", "id", id, "event", name)
		return
	}
	if g.metrics != nil {
		g.metrics.EventsTotal.WithLabelValues(name).Inc()
	}
	handler(id, raw)
}

// OnDisconnect removes the connection and, if it had joined, runs the
// leave path. Idempotent: a second call (or a racing reaper eviction)
// observes the participant already absent and does nothing further.
func (g *Gateway) OnDisconnect(id string) {
	g.hub.Unregister(id)
	g.leave(id, eventlog.KindLeave)
}

// EvictStale is the reaper's leave path for an idle participant.
func (g *Gateway) EvictStale(id string) {
	if g.leave(id, eventlog.KindReap) && g.metrics != nil {
		g.metrics.ReapedTotal.Inc()
	}
}

func (g *Gateway) handleJoin(id string, raw json.RawMessage) {
	var p joinPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		g.drop("malformed")
		return
	}
	if _, exists := g.registry.Get(id); exists {
		g.drop("duplicate_join")
		return
	}

	// Defaults are resolved once, here at the boundary.
	username := p.Username
	if username == "" {
		username = g.defaultUsername
	}
	avatar := p.AvatarType
	if avatar == "" {
		avatar = g.defaultAvatar
	}
	position := g.spawn
	if p.Position != nil {
		position = *p.Position
	}
	var rotation world.Vec3
	if p.Rotation != nil {
		rotation = *p.Rotation
	}

	now := g.now()
	g.registry.Put(&world.Participant{
		ID:           id,
		Username:     username,
		AvatarType:   avatar,
		Position:     position,
		Rotation:     rotation,
		LastActivity: now,
	})
	msg := world.ChatMessage{
		Kind:      world.KindSystem,
		Username:  username,
		Text:      fmt.Sprintf("%s joined", username),
		Timestamp: now.UnixMilli(),
	}
	g.history.Append(msg)

	if g.metrics != nil {
		g.metrics.ActiveParticipants.Set(float64(g.registry.Len()))
	}
	g.record(eventlog.KindJoin, id, username)
	slog.Info("participant joined", "id", id, "username", username, "avatar", avatar)

	g.broadcastRoster()
	g.broadcast(EventChatMessage, msg)
}

func (g *Gateway) handleMove(id string, raw json.RawMessage) {
	var p movePayload
	if err := json.Unmarshal(raw, &p); err != nil || p.Position == nil || p.Rotation == nil {
		g.drop("malformed")
		return
	}
	if !g.registry.UpdatePosition(id, *p.Position, *p.Rotation, g.now()) {
		g.drop("no_participant")
		return
	}
	g.hub.SendToAllExcept(id, EventMoved, movedPayload{
		ID:       id,
		Position: *p.Position,
		Rotation: *p.Rotation,
	})
	if g.metrics != nil {
		g.metrics.BroadcastsTotal.Inc()
	}
}

func (g *Gateway) handleAvatar(id string, raw json.RawMessage) {
	var p avatarPayload
	if err := json.Unmarshal(raw, &p); err != nil || p.AvatarType == "" {
		g.drop("malformed")
		return
	}
	if !g.registry.UpdateAvatar(id, p.AvatarType, g.now()) {
		g.drop("no_participant")
		return
	}
	g.broadcastRoster()
}

func (g *Gateway) handleChat(id string, raw json.RawMessage) {
	var p chatPayload
	if err := json.Unmarshal(raw, &p); err != nil || p.Text == "" {
		g.drop("malformed")
		return
	}
	participant, ok := g.registry.Get(id)
	if !ok {
		g.drop("no_participant")
		return
	}

	now := g.now()
	g.registry.Touch(id, now)

	// Username is captured now; a later rename or departure cannot
	// retroactively change this message.
	msg := world.ChatMessage{
		Kind:      world.KindUser,
		Username:  participant.Username,
		Text:      p.Text,
		Timestamp: now.UnixMilli(),
	}
	g.history.Append(msg)
	if g.metrics != nil {
		g.metrics.ChatMessagesTotal.Inc()
	}
	g.record(eventlog.KindChat, id, participant.Username)
	g.broadcast(EventChatMessage, msg)
}

func (g *Gateway) handleUpload(id string, raw json.RawMessage) {
	var p uploadPayload
	if err := json.Unmarshal(raw, &p); err != nil || p.SlotID == "" || p.Content == "" {
		g.drop("malformed")
		return
	}
	data, err := base64.StdEncoding.DecodeString(p.Content)
	if err != nil {
		g.drop("malformed")
		return
	}
	g.registry.Touch(id, g.now())
	if err := g.UploadAsset(p.SlotID, p.MimeType, data); err != nil {
		// Upload failures are the one case with an explicit reason back
		// to the sender.
		g.hub.SendTo(id, EventAssetRejected, assetRejectedPayload{
			SlotID: p.SlotID,
			Error:  err.Error(),
		})
	}
}

// UploadAsset validates and stores an image for a slot, then announces
// the new content to everyone. Returns one of the world upload errors on
// rejection; nothing is stored or broadcast in that case.
func (g *Gateway) UploadAsset(slotID, mimeType string, data []byte) error {
	asset, err := g.assets.Put(slotID, mimeType, data, g.now())
	if err != nil {
		if g.metrics != nil {
			g.metrics.UploadsTotal.WithLabelValues(uploadResult(err)).Inc()
		}
		slog.Debug("upload rejected", "slot", slotID, "reason", err)
		return err
	}

	if g.metrics != nil {
		g.metrics.UploadsTotal.WithLabelValues("ok").Inc()
	}
	g.record(eventlog.KindUpload, "", fmt.Sprintf("%s (%d bytes)", slotID, len(data)))
	slog.Info("asset updated", "slot", slotID, "mime", mimeType, "bytes", len(data))

	content := asset.Content
	g.broadcast(EventAssetUpdated, assetUpdatedPayload{
		SlotID:   asset.SlotID,
		MimeType: asset.MimeType,
		Content:  &content,
	})
	return nil
}

// leave removes the participant for an identity and announces it. Returns
// false if no participant existed, in which case nothing is mutated or
// broadcast. When the last participant leaves, chat history and all asset
// slots are cleared and every slot is announced as empty.
func (g *Gateway) leave(id, kind string) bool {
	participant, ok := g.registry.Get(id)
	if !ok {
		return false
	}
	if !g.registry.Remove(id) {
		// Lost the race against a concurrent disconnect or reap.
		return false
	}

	now := g.now()
	msg := world.ChatMessage{
		Kind:      world.KindSystem,
		Username:  participant.Username,
		Text:      fmt.Sprintf("%s left", participant.Username),
		Timestamp: now.UnixMilli(),
	}
	g.history.Append(msg)

	if g.metrics != nil {
		g.metrics.ActiveParticipants.Set(float64(g.registry.Len()))
	}
	g.record(kind, id, participant.Username)
	slog.Info("participant left", "id", id, "username", participant.Username, "cause", kind)

	g.broadcastRoster()
	g.broadcast(EventChatMessage, msg)

	if g.registry.IsEmpty() {
		g.clearRoom()
	}
	return true
}

// clearRoom wipes chat history and assets once the room is empty, and
// announces each slot as cleared so late observers drop stale content.
func (g *Gateway) clearRoom() {
	g.history.Clear()
	g.assets.ClearAll()
	slog.Info("room empty, cleared history and assets")
	for _, slot := range g.assets.Slots() {
		g.broadcast(EventAssetUpdated, assetUpdatedPayload{SlotID: slot, Content: nil})
	}
}

func (g *Gateway) broadcastRoster() {
	g.broadcast(EventRoster, rosterPayload{Participants: g.registry.Snapshot()})
}

func (g *Gateway) broadcast(event string, payload any) {
	g.hub.SendToAll(event, payload)
	if g.metrics != nil {
		g.metrics.BroadcastsTotal.Inc()
	}
}

func (g *Gateway) drop(reason string) {
	if g.metrics != nil {
		g.metrics.DroppedTotal.WithLabelValues(reason).Inc()
	}
}

func (g *Gateway) record(kind, identity, detail string) {
	if g.events != nil {
		g.events.Record(kind, identity, detail)
	}
}

func uploadResult(err error) string {
	switch {
	case errors.Is(err, world.ErrUnknownSlot):
		return "invalid_slot"
	case errors.Is(err, world.ErrTooLarge):
		return "too_large"
	case errors.Is(err, world.ErrNotImage):
		return "unsupported_type"
	default:
		return "error"
	}
}
