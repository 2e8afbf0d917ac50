package world

import (
	"sync"
)

// History is the bounded room-wide chat log. When the buffer is full the
// single oldest entry is evicted before each insert; eviction is strictly
// by age. Thread-safe via sync.RWMutex.
type History struct {
	mu       sync.RWMutex
	messages []ChatMessage
	maxSize  int
}

// NewHistory creates a history buffer that retains up to maxSize messages.
func NewHistory(maxSize int) *History {
	return &History{maxSize: maxSize}
}

// Append adds a message, dropping the oldest entry if the buffer is full.
func (h *History) Append(msg ChatMessage) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.messages = append(h.messages, msg)
	if len(h.messages) > h.maxSize {
		excess := len(h.messages) - h.maxSize
		h.messages = h.messages[excess:]
	}
}

// All returns a copy of the buffer in append order, oldest first.
func (h *History) All() []ChatMessage {
	h.mu.RLock()
	defer h.mu.RUnlock()
	result := make([]ChatMessage, len(h.messages))
	copy(result, h.messages)
	return result
}

// Len returns the number of retained messages.
func (h *History) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.messages)
}

// Clear drops all retained messages. Called when the room empties.
func (h *History) Clear() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.messages = nil
}
