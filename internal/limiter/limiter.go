// Package limiter provides a per-agent rate limiter for invoker calls.
//
// It is an explicitly owned, injected component: the engine consults it before
// each invocation attempt, and a nil *Keyed disables limiting entirely.
package limiter

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const defaultIdleTTL = 10 * time.Minute

// entry pairs a limiter with its last-use time for idle eviction.
type entry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// Keyed rate-limits calls per key (agent ID). Each key gets an independent
// token bucket; buckets idle longer than the TTL are evicted on the next
// access so the map does not grow without bound.
type Keyed struct {
	limit   rate.Limit
	burst   int
	idleTTL time.Duration

	mu      sync.Mutex
	entries map[string]*entry
}

// New creates a Keyed limiter allowing perMinute calls per key with the given
// burst. perMinute <= 0 returns nil, which callers treat as unlimited.
func New(perMinute, burst int) *Keyed {
	if perMinute <= 0 {
		return nil
	}
	if burst <= 0 {
		burst = 1
	}
	return &Keyed{
		limit:   rate.Limit(float64(perMinute) / 60.0),
		burst:   burst,
		idleTTL: defaultIdleTTL,
		entries: make(map[string]*entry),
	}
}

// Wait blocks until the key may proceed or the context is cancelled.
// A nil receiver never blocks.
func (k *Keyed) Wait(ctx context.Context, key string) error {
	if k == nil {
		return nil
	}
	return k.get(key).Wait(ctx)
}

// Allow reports whether the key may proceed right now without waiting.
// A nil receiver always allows.
func (k *Keyed) Allow(key string) bool {
	if k == nil {
		return true
	}
	return k.get(key).Allow()
}

// get returns the limiter for key, creating it if needed, and sweeps idle entries.
func (k *Keyed) get(key string) *rate.Limiter {
	now := time.Now()

	k.mu.Lock()
	defer k.mu.Unlock()

	for id, e := range k.entries {
		if id != key && now.Sub(e.lastSeen) > k.idleTTL {
			delete(k.entries, id)
		}
	}

	e, ok := k.entries[key]
	if !ok {
		e = &entry{limiter: rate.NewLimiter(k.limit, k.burst)}
		k.entries[key] = e
	}
	e.lastSeen = now
	return e.limiter
}
