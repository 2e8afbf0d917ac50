package world

import (
	"sync"
	"time"
)

// Registry is the authoritative map of joined participants, keyed by
// connection ID. Thread-safe via sync.RWMutex.
type Registry struct {
	mu           sync.RWMutex
	participants map[string]*Participant
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		participants: make(map[string]*Participant),
	}
}

// Put inserts or replaces the participant for an ID.
func (r *Registry) Put(p *Participant) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *p
	r.participants[p.ID] = &cp
}

// Get returns a copy of the participant for an ID, or false if absent.
func (r *Registry) Get(id string) (Participant, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.participants[id]
	if !ok {
		return Participant{}, false
	}
	return *p, true
}

// Remove deletes the participant for an ID. Returns false if it was
// already absent, which lets disconnect and reaper eviction race safely:
// whichever runs second sees false and does nothing further.
func (r *Registry) Remove(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.participants[id]; !ok {
		return false
	}
	delete(r.participants, id)
	return true
}

// UpdatePosition sets position and rotation and refreshes activity.
// Returns false if the participant does not exist.
func (r *Registry) UpdatePosition(id string, pos, rot Vec3, now time.Time) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.participants[id]
	if !ok {
		return false
	}
	p.Position = pos
	p.Rotation = rot
	p.LastActivity = now
	return true
}

// UpdateAvatar sets the avatar type and refreshes activity.
// Returns false if the participant does not exist.
func (r *Registry) UpdateAvatar(id, avatarType string, now time.Time) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.participants[id]
	if !ok {
		return false
	}
	p.AvatarType = avatarType
	p.LastActivity = now
	return true
}

// Touch refreshes the activity timestamp for an ID, if present.
func (r *Registry) Touch(id string, now time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if p, ok := r.participants[id]; ok {
		p.LastActivity = now
	}
}

// Snapshot returns a point-in-time copy of the full participant map.
// Mutating the result does not affect the registry.
func (r *Registry) Snapshot() map[string]Participant {
	r.mu.RLock()
	defer r.mu.RUnlock()
	snap := make(map[string]Participant, len(r.participants))
	for id, p := range r.participants {
		snap[id] = *p
	}
	return snap
}

// StaleIDs returns the IDs of participants whose last activity is older
// than cutoff.
func (r *Registry) StaleIDs(cutoff time.Time) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var ids []string
	for id, p := range r.participants {
		if p.LastActivity.Before(cutoff) {
			ids = append(ids, id)
		}
	}
	return ids
}

// Len returns the number of joined participants.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.participants)
}

// IsEmpty reports whether no participants are joined.
func (r *Registry) IsEmpty() bool {
	return r.Len() == 0
}
