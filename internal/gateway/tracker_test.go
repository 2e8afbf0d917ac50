package gateway

import (
	"fmt"
	"sync"
	"testing"
)

func TestTrackerAcquireRelease(t *testing.T) {
	tr := NewTracker()

	if reason := tr.TryAcquire("10.0.0.1", 10, 5); reason != "" {
		t.Fatalf("TryAcquire() = %q, want success", reason)
	}
	if tr.ConnectionCount() != 1 || tr.ConnectionCountForIP("10.0.0.1") != 1 {
		t.Errorf("counts = %d/%d, want 1/1",
			tr.ConnectionCount(), tr.ConnectionCountForIP("10.0.0.1"))
	}

	tr.Release("10.0.0.1")
	if tr.ConnectionCount() != 0 || tr.ConnectionCountForIP("10.0.0.1") != 0 {
		t.Errorf("counts after release = %d/%d, want 0/0",
			tr.ConnectionCount(), tr.ConnectionCountForIP("10.0.0.1"))
	}
	if tr.TotalConnections() != 1 {
		t.Errorf("TotalConnections() = %d, want 1", tr.TotalConnections())
	}
}

func TestTrackerGlobalLimit(t *testing.T) {
	tr := NewTracker()
	tr.TryAcquire("10.0.0.1", 2, 10)
	tr.TryAcquire("10.0.0.2", 2, 10)

	if reason := tr.TryAcquire("10.0.0.3", 2, 10); reason != "max_connections" {
		t.Errorf("TryAcquire() = %q, want max_connections", reason)
	}

	tr.Release("10.0.0.1")
	if reason := tr.TryAcquire("10.0.0.3", 2, 10); reason != "" {
		t.Errorf("TryAcquire() after release = %q, want success", reason)
	}
}

func TestTrackerPerIPLimit(t *testing.T) {
	tr := NewTracker()
	tr.TryAcquire("10.0.0.1", 100, 2)
	tr.TryAcquire("10.0.0.1", 100, 2)

	if reason := tr.TryAcquire("10.0.0.1", 100, 2); reason != "max_connections_per_ip" {
		t.Errorf("TryAcquire() = %q, want max_connections_per_ip", reason)
	}
	// A different IP is unaffected.
	if reason := tr.TryAcquire("10.0.0.2", 100, 2); reason != "" {
		t.Errorf("TryAcquire() other ip = %q, want success", reason)
	}
}

func TestTrackerReleaseCleansIPEntry(t *testing.T) {
	tr := NewTracker()
	tr.TryAcquire("10.0.0.1", 10, 5)
	tr.Release("10.0.0.1")

	if m := tr.ActiveIPConnections(); len(m) != 0 {
		t.Errorf("ActiveIPConnections() = %v, want empty", m)
	}
}

func TestTrackerConcurrentLimit(t *testing.T) {
	tr := NewTracker()
	const workers = 50
	const limit = 10

	var wg sync.WaitGroup
	results := make(chan string, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results <- tr.TryAcquire(fmt.Sprintf("10.0.0.%d", i), limit, 1)
		}(i)
	}
	wg.Wait()
	close(results)

	var accepted int
	for reason := range results {
		if reason == "" {
			accepted++
		}
	}
	if accepted != limit {
		t.Errorf("accepted %d connections, want exactly %d", accepted, limit)
	}
	if tr.ConnectionCount() != limit {
		t.Errorf("ConnectionCount() = %d, want %d", tr.ConnectionCount(), limit)
	}
}
