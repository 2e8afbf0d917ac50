package gateway

import (
	"sync"
	"sync/atomic"
)

// Tracker counts accepted connections globally and per client IP, and
// keeps lifetime totals for the health and admin endpoints.
type Tracker struct {
	activeConnections atomic.Int64
	totalConnections  atomic.Int64
	totalEvents       atomic.Int64

	ipConnections map[string]int
	ipMu          sync.Mutex
}

// NewTracker creates an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{
		ipConnections: make(map[string]int),
	}
}

// ConnectionCount returns the current number of accepted connections.
func (t *Tracker) ConnectionCount() int {
	return int(t.activeConnections.Load())
}

// ConnectionCountForIP returns the active connection count for one IP.
func (t *Tracker) ConnectionCountForIP(ip string) int {
	t.ipMu.Lock()
	defer t.ipMu.Unlock()
	return t.ipConnections[ip]
}

// ActiveIPConnections returns a copy of the per-IP connection counts.
func (t *Tracker) ActiveIPConnections() map[string]int {
	t.ipMu.Lock()
	defer t.ipMu.Unlock()
	m := make(map[string]int, len(t.ipConnections))
	for ip, n := range t.ipConnections {
		m[ip] = n
	}
	return m
}

// TryAcquire atomically checks limits and increments counters.
// Returns "" on success, or a reason string if a limit was hit.
func (t *Tracker) TryAcquire(ip string, maxGlobal, maxPerIP int) string {
	t.ipMu.Lock()
	defer t.ipMu.Unlock()

	// Read the atomic under the lock to prevent a check/increment race.
	if int(t.activeConnections.Load()) >= maxGlobal {
		return "max_connections"
	}
	if t.ipConnections[ip] >= maxPerIP {
		return "max_connections_per_ip"
	}

	t.activeConnections.Add(1)
	t.totalConnections.Add(1)
	t.ipConnections[ip]++
	return ""
}

// Release decrements both the global and per-IP connection counters.
func (t *Tracker) Release(ip string) {
	t.activeConnections.Add(-1)
	t.ipMu.Lock()
	t.ipConnections[ip]--
	if t.ipConnections[ip] <= 0 {
		delete(t.ipConnections, ip)
	}
	t.ipMu.Unlock()
}

// CountEvent increments the lifetime inbound event counter.
func (t *Tracker) CountEvent() {
	t.totalEvents.Add(1)
}

// TotalConnections returns the number of connections accepted since start.
func (t *Tracker) TotalConnections() int64 {
	return t.totalConnections.Load()
}

// TotalEvents returns the number of inbound events handled since start.
func (t *Tracker) TotalEvents() int64 {
	return t.totalEvents.Load()
}
