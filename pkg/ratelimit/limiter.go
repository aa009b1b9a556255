// Package ratelimit implements per-client fixed-window admission control.
//
// Each client key gets its own bucket, created lazily on first use. A
// bucket admits requests while the consumed count is below the tier's
// capacity for the active window; the count resets to zero at window
// rollover. Admission decisions for a single bucket are serialized by a
// per-bucket mutex so the capacity invariant holds under concurrent
// callers; buckets for different keys do not contend with each other.
package ratelimit

import (
	"log/slog"
	"sync"
	"time"

	"github.com/rampart-ai/rampart/pkg/auth"
)

// Decision is the outcome of an admission check.
type Decision struct {
	Allowed    bool
	RetryAfter time.Duration // time until the current window ends, when denied
	Remaining  int64
}

// Limiter gates requests per client identity.
type Limiter struct {
	mu      sync.RWMutex
	buckets map[string]*bucket
	logger  *slog.Logger

	// now is swapped in tests to control window rollover.
	now func() time.Time
}

type bucket struct {
	mu          sync.Mutex
	windowStart time.Time
	used        int64
	lastSeen    time.Time
}

// New creates an empty Limiter.
func New() *Limiter {
	return &Limiter{
		buckets: make(map[string]*bucket),
		logger:  slog.Default().With("component", "ratelimit"),
		now:     time.Now,
	}
}

// Admit checks the identity's bucket against its tier budget, consuming one
// unit when allowed. Tier parameters come from the resolved identity, so a
// configuration reload takes effect on the next request without touching
// bucket state.
func (l *Limiter) Admit(id auth.Identity) Decision {
	b := l.bucket(id.Key)
	now := l.now()

	b.mu.Lock()
	defer b.mu.Unlock()

	b.lastSeen = now

	// Window rollover: reset before evaluating the request.
	if b.windowStart.IsZero() || now.Sub(b.windowStart) >= id.Tier.Window {
		b.windowStart = now
		b.used = 0
	}

	if b.used >= id.Tier.Requests {
		retry := id.Tier.Window - now.Sub(b.windowStart)
		if retry < 0 {
			retry = 0
		}
		l.logger.Debug("admission denied",
			"tier", id.Tier.Name, "used", b.used, "capacity", id.Tier.Requests)
		return Decision{Allowed: false, RetryAfter: retry}
	}

	b.used++
	return Decision{Allowed: true, Remaining: id.Tier.Requests - b.used}
}

// bucket returns the bucket for a key, creating it if needed.
func (l *Limiter) bucket(key string) *bucket {
	l.mu.RLock()
	b, ok := l.buckets[key]
	l.mu.RUnlock()
	if ok {
		return b
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if b, ok := l.buckets[key]; ok {
		return b
	}
	b = &bucket{}
	l.buckets[key] = b
	return b
}

// Sweep drops buckets that have been idle longer than maxIdle, bounding
// memory for keys that stopped sending. Returns the number removed.
func (l *Limiter) Sweep(maxIdle time.Duration) int {
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	removed := 0
	for key, b := range l.buckets {
		b.mu.Lock()
		idle := now.Sub(b.lastSeen) > maxIdle
		b.mu.Unlock()
		if idle {
			delete(l.buckets, key)
			removed++
		}
	}
	if removed > 0 {
		l.logger.Debug("swept idle rate buckets", "removed", removed)
	}
	return removed
}

// Len returns the number of live buckets.
func (l *Limiter) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.buckets)
}
