package eventlog

import (
	"sync"
	"time"
)

// Event kinds recorded in the ring.
const (
	KindJoin   = "join"
	KindLeave  = "leave"
	KindReap   = "reap"
	KindChat   = "chat"
	KindUpload = "upload"
)

// Event is one room activity record kept for the admin API.
type Event struct {
	Time     time.Time `json:"time"`
	Kind     string    `json:"kind"`
	Identity string    `json:"identity"`
	Detail   string    `json:"detail,omitempty"`
}

// Ring is a thread-safe circular buffer of room activity. The newest
// entries overwrite the oldest once the buffer fills.
type Ring struct {
	mu      sync.RWMutex
	entries []Event
	head    int // next write position
	full    bool
	cap     int
}

// NewRing creates a ring with the given capacity.
func NewRing(capacity int) *Ring {
	return &Ring{
		entries: make([]Event, capacity),
		cap:     capacity,
	}
}

// Record appends an event, overwriting the oldest if full.
func (r *Ring) Record(kind, identity, detail string) {
	r.Add(Event{Time: time.Now(), Kind: kind, Identity: identity, Detail: detail})
}

// Add appends a fully-formed event.
func (r *Ring) Add(e Event) {
	r.mu.Lock()
	r.entries[r.head] = e
	r.head = (r.head + 1) % r.cap
	if r.head == 0 {
		r.full = true
	}
	r.mu.Unlock()
}

// Recent returns up to limit events, newest first, optionally filtered by
// kind (empty matches all) and by a minimum timestamp.
func (r *Ring) Recent(limit int, kind string, since time.Time) []Event {
	r.mu.RLock()
	defer r.mu.RUnlock()

	n := r.length()
	if n == 0 {
		return nil
	}

	var result []Event
	for i := 0; i < n && (limit <= 0 || len(result) < limit); i++ {
		idx := (r.head - 1 - i + r.cap) % r.cap
		e := r.entries[idx]
		if kind != "" && e.Kind != kind {
			continue
		}
		if !since.IsZero() && e.Time.Before(since) {
			continue
		}
		result = append(result, e)
	}
	return result
}

// Len returns the number of recorded events currently retained.
func (r *Ring) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.length()
}

// Cap returns the ring capacity.
func (r *Ring) Cap() int {
	return r.cap
}

func (r *Ring) length() int {
	if r.full {
		return r.cap
	}
	return r.head
}
