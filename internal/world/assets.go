package world

import (
	"encoding/base64"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/gabriel-vasile/mimetype"
)

// Upload rejection reasons, returned to the uploader.
var (
	ErrUnknownSlot = errors.New("invalid slot")
	ErrTooLarge    = errors.New("payload too large")
	ErrNotImage    = errors.New("unsupported type")
)

// AssetStore holds the latest image per billboard slot. The slot set is
// fixed at construction; uploads to any other slot are rejected with no
// mutation. Thread-safe via sync.RWMutex.
type AssetStore struct {
	mu       sync.RWMutex
	assets   map[string]*Asset
	slots    map[string]bool
	maxBytes int64
}

// NewAssetStore creates a store for the given slot identifiers with the
// given per-upload byte cap.
func NewAssetStore(slots []string, maxBytes int64) *AssetStore {
	slotSet := make(map[string]bool, len(slots))
	for _, s := range slots {
		slotSet[s] = true
	}
	return &AssetStore{
		assets:   make(map[string]*Asset),
		slots:    slotSet,
		maxBytes: maxBytes,
	}
}

// Put validates and atomically replaces the asset for a slot. The declared
// MIME type must be an image type and the content must also sniff as an
// image, so a mislabeled non-image payload is rejected. Returns the stored
// asset, or one of ErrUnknownSlot, ErrTooLarge, ErrNotImage with no
// mutation.
func (s *AssetStore) Put(slotID, declaredMime string, data []byte, now time.Time) (Asset, error) {
	if !s.slots[slotID] {
		return Asset{}, ErrUnknownSlot
	}
	if int64(len(data)) > s.maxBytes {
		return Asset{}, ErrTooLarge
	}
	if !strings.HasPrefix(declaredMime, "image/") {
		return Asset{}, ErrNotImage
	}
	if !strings.HasPrefix(mimetype.Detect(data).String(), "image/") {
		return Asset{}, ErrNotImage
	}

	asset := Asset{
		SlotID:    slotID,
		MimeType:  declaredMime,
		Content:   base64.StdEncoding.EncodeToString(data),
		Timestamp: now.UnixMilli(),
	}

	s.mu.Lock()
	s.assets[slotID] = &asset
	s.mu.Unlock()

	return asset, nil
}

// Get returns a copy of the asset for a slot, or false if the slot is
// empty or unknown.
func (s *AssetStore) Get(slotID string) (Asset, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.assets[slotID]
	if !ok {
		return Asset{}, false
	}
	return *a, true
}

// Snapshot returns a copy of every populated slot.
func (s *AssetStore) Snapshot() map[string]Asset {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap := make(map[string]Asset, len(s.assets))
	for id, a := range s.assets {
		snap[id] = *a
	}
	return snap
}

// ClearAll empties every slot. Called when the room empties.
func (s *AssetStore) ClearAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.assets = make(map[string]*Asset)
}

// Slots returns the configured slot identifiers.
func (s *AssetStore) Slots() []string {
	slots := make([]string, 0, len(s.slots))
	for id := range s.slots {
		slots = append(slots, id)
	}
	return slots
}
