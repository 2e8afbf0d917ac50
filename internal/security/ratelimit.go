package security

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

type clientLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// ConnRateLimiter throttles connection attempts per client IP with
// automatic cleanup of stale entries to prevent memory leaks.
type ConnRateLimiter struct {
	limiters   map[string]*clientLimiter
	mu         sync.Mutex
	r          rate.Limit
	burst      int
	ttl        time.Duration // evict entries not seen within this window
	maxEntries int           // cap on number of tracked IPs
	cancel     context.CancelFunc
}

// NewConnRateLimiter creates a per-IP connection rate limiter allowing
// connectionsPerMinute attempts with a burst of the same size.
func NewConnRateLimiter(connectionsPerMinute int) *ConnRateLimiter {
	ctx, cancel := context.WithCancel(context.Background())
	rl := &ConnRateLimiter{
		limiters:   make(map[string]*clientLimiter),
		r:          rate.Limit(float64(connectionsPerMinute) / 60.0),
		burst:      connectionsPerMinute,
		ttl:        10 * time.Minute,
		maxEntries: 10000,
		cancel:     cancel,
	}
	go rl.cleanup(ctx)
	return rl
}

// Allow checks whether the given IP may open another connection.
func (rl *ConnRateLimiter) Allow(ip string) bool {
	rl.mu.Lock()
	entry, exists := rl.limiters[ip]
	if !exists {
		if len(rl.limiters) >= rl.maxEntries {
			rl.mu.Unlock()
			return false // reject to prevent unbounded map growth
		}
		entry = &clientLimiter{limiter: rate.NewLimiter(rl.r, rl.burst)}
		rl.limiters[ip] = entry
	}
	entry.lastSeen = time.Now()
	rl.mu.Unlock()

	return entry.limiter.Allow()
}

// Stop shuts down the cleanup goroutine.
func (rl *ConnRateLimiter) Stop() {
	rl.cancel()
}

// UpdateRate changes the limit. Existing per-IP limiters are cleared so
// they pick up the new rate on next access.
func (rl *ConnRateLimiter) UpdateRate(connectionsPerMinute int) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	rl.r = rate.Limit(float64(connectionsPerMinute) / 60.0)
	rl.burst = connectionsPerMinute
	rl.limiters = make(map[string]*clientLimiter)
}

func (rl *ConnRateLimiter) cleanup(ctx context.Context) {
	ticker := time.NewTicker(1 * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			rl.mu.Lock()
			for ip, entry := range rl.limiters {
				if time.Since(entry.lastSeen) > rl.ttl {
					delete(rl.limiters, ip)
				}
			}
			rl.mu.Unlock()
		}
	}
}

// NewMessageLimiter returns a token bucket for inbound events on a single
// connection, or nil when messagesPerSecond is not positive.
func NewMessageLimiter(messagesPerSecond int) *rate.Limiter {
	if messagesPerSecond <= 0 {
		return nil
	}
	return rate.NewLimiter(rate.Limit(messagesPerSecond), messagesPerSecond)
}
