package world

import (
	"time"
)

// Vec3 is a position or rotation in the shared space. Rotation is carried
// as Euler angles; the server never interprets either value.
type Vec3 struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// Participant is one joined identity in the room. The ID is the connection
// ID assigned at accept time and is never reused while that connection lives.
type Participant struct {
	ID           string    `json:"id"`
	Username     string    `json:"username"`
	AvatarType   string    `json:"avatarType"`
	Position     Vec3      `json:"position"`
	Rotation     Vec3      `json:"rotation"`
	LastActivity time.Time `json:"-"`
}

// Message kinds for chat history entries.
const (
	KindUser   = "user"
	KindSystem = "system"
)

// ChatMessage is one chat or system notice. Username is resolved when the
// message is built; it is never a live reference into the registry.
type ChatMessage struct {
	Kind      string `json:"kind"`
	Username  string `json:"username"`
	Text      string `json:"text"`
	Timestamp int64  `json:"timestamp"`
}

// Asset is the current content of one billboard slot. Content is a base64
// encoding of the uploaded bytes.
type Asset struct {
	SlotID    string `json:"slotId"`
	MimeType  string `json:"mimeType"`
	Content   string `json:"content"`
	Timestamp int64  `json:"timestamp"`
}
