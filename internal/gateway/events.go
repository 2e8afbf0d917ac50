package gateway

import (
	"encoding/json"

	"github.com/satorizak/cworld/internal/world"
)

// Inbound event names.
const (
	EventJoin   = "join"
	EventMove   = "move"
	EventAvatar = "avatar-update"
	EventChat   = "chat"
	EventUpload = "upload-asset"
)

// Outbound event names.
const (
	EventInit          = "init"
	EventRoster        = "roster-updated"
	EventMoved         = "participant-moved"
	EventChatMessage   = "chat-message"
	EventAssetUpdated  = "asset-updated"
	EventAssetRejected = "asset-rejected"
)

// envelope frames every message in both directions.
type envelope struct {
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Inbound payloads. Pointer fields mark what must be present; a nil
// required field means the event is malformed and is dropped before any
// state is touched.

type joinPayload struct {
	Username   string      `json:"username"`
	AvatarType string      `json:"avatarType"`
	Position   *world.Vec3 `json:"position"`
	Rotation   *world.Vec3 `json:"rotation"`
}

type movePayload struct {
	Position *world.Vec3 `json:"position"`
	Rotation *world.Vec3 `json:"rotation"`
}

type avatarPayload struct {
	AvatarType string `json:"avatarType"`
}

type chatPayload struct {
	Text string `json:"text"`
}

type uploadPayload struct {
	SlotID   string `json:"slotId"`
	MimeType string `json:"mimeType"`
	Content  string `json:"content"` // base64
}

// Outbound payloads.

type initPayload struct {
	ID           string                       `json:"id"`
	Participants map[string]world.Participant `json:"participants"`
	ChatHistory  []world.ChatMessage          `json:"chatHistory"`
	Assets       map[string]world.Asset       `json:"assets"`
}

type rosterPayload struct {
	Participants map[string]world.Participant `json:"participants"`
}

type movedPayload struct {
	ID       string     `json:"id"`
	Position world.Vec3 `json:"position"`
	Rotation world.Vec3 `json:"rotation"`
}

// assetUpdatedPayload announces a slot change. A nil Content means the
// slot was cleared.
type assetUpdatedPayload struct {
	SlotID   string  `json:"slotId"`
	MimeType string  `json:"mimeType,omitempty"`
	Content  *string `json:"content"`
}

type assetRejectedPayload struct {
	SlotID string `json:"slotId"`
	Error  string `json:"error"`
}
