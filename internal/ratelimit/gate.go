// internal/ratelimit/gate.go
package ratelimit

import (
	"sync"
	"time"
)

// Gate admits at most one dispatch per key per interval. It remembers the
// time of the last admitted call for every key it has seen.
type Gate struct {
	mu   sync.Mutex
	last map[string]time.Time
}

func NewGate() *Gate {
	return &Gate{last: make(map[string]time.Time)}
}

// Allow reports whether key may dispatch at now. On success now is recorded
// as the key's last dispatch; on denial nothing changes. The first call for
// an unseen key always succeeds.
func (g *Gate) Allow(key string, now time.Time, minInterval time.Duration) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	if prev, ok := g.last[key]; ok && now.Sub(prev) < minInterval {
		return false
	}
	g.last[key] = now
	return true
}

// Wait returns how long key has to wait from now before Allow would admit
// it. Zero means it would be admitted immediately.
func (g *Gate) Wait(key string, now time.Time, minInterval time.Duration) time.Duration {
	g.mu.Lock()
	defer g.mu.Unlock()

	prev, ok := g.last[key]
	if !ok {
		return 0
	}
	if d := minInterval - now.Sub(prev); d > 0 {
		return d
	}
	return 0
}

// Forget drops the state kept for key.
func (g *Gate) Forget(key string) {
	g.mu.Lock()
	delete(g.last, key)
	g.mu.Unlock()
}
