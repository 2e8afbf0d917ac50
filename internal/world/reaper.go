package world

import (
	"context"
	"log/slog"
	"time"
)

// Reaper periodically evicts participants that have stopped sending
// activity. Eviction goes through the same leave path a disconnect uses,
// so the system message, roster broadcast, and empty-room clearing all
// apply. The timeout should be a small multiple of the tick interval.
type Reaper struct {
	registry *Registry
	interval time.Duration
	timeout  time.Duration
	evict    func(id string)
	now      func() time.Time
}

// NewReaper creates a reaper over the given registry. evict is invoked
// once per stale participant and must tolerate the participant already
// being gone.
func NewReaper(registry *Registry, interval, timeout time.Duration, evict func(id string)) *Reaper {
	return &Reaper{
		registry: registry,
		interval: interval,
		timeout:  timeout,
		evict:    evict,
		now:      time.Now,
	}
}

// Run sweeps on a ticker until the context is cancelled.
func (r *Reaper) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.Sweep()
		}
	}
}

// Sweep evicts every participant whose last activity is older than the
// timeout. Exported so a sweep can be triggered directly in tests.
func (r *Reaper) Sweep() {
	cutoff := r.now().Add(-r.timeout)
	for _, id := range r.registry.StaleIDs(cutoff) {
		slog.Info("reaping stale session", "id", id, "timeout", r.timeout.String())
		r.evict(id)
	}
}
