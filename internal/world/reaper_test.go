package world

import (
	"context"
	"testing"
	"time"
)

func TestReaperSweepEvictsOnlyStale(t *testing.T) {
	r := NewRegistry()
	base := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)

	stale := newParticipant("stale", "Old")
	stale.LastActivity = base.Add(-61 * time.Second)
	r.Put(stale)

	active := newParticipant("active", "Fresh")
	active.LastActivity = base.Add(-59 * time.Second)
	r.Put(active)

	var evicted []string
	reaper := NewReaper(r, 30*time.Second, 60*time.Second, func(id string) {
		evicted = append(evicted, id)
		r.Remove(id)
	})
	reaper.now = func() time.Time { return base }

	reaper.Sweep()

	if len(evicted) != 1 {
		t.Fatalf("evicted %d participants, want 1: %v", len(evicted), evicted)
	}
	if evicted[0] != "stale" {
		t.Errorf("evicted %q, want %q", evicted[0], "stale")
	}
	if _, ok := r.Get("active"); !ok {
		t.Error("active participant was removed")
	}
}

func TestReaperSweepNoStale(t *testing.T) {
	r := NewRegistry()
	p := newParticipant("a", "Ann")
	p.LastActivity = time.Now()
	r.Put(p)

	calls := 0
	reaper := NewReaper(r, 30*time.Second, 60*time.Second, func(string) { calls++ })
	reaper.Sweep()

	if calls != 0 {
		t.Errorf("evict called %d times on a fresh registry", calls)
	}
}

func TestReaperRunStopsOnCancel(t *testing.T) {
	r := NewRegistry()
	reaper := NewReaper(r, time.Millisecond, 10*time.Millisecond, func(string) {})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		reaper.Run(ctx)
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("reaper did not stop after context cancel")
	}
}
