package ratelimit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// visitor holds a single rate limiter and the last time it was seen.
type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// Local is a process-local token-bucket gate. Each identity gets a bucket of
// Limit tokens refilled at Limit/Window, so the (Limit+1)th request inside
// one window is denied.
//
// Buckets are created on demand and evicted after ttl of inactivity during
// lookups. Local is safe for concurrent use.
type Local struct {
	rps   rate.Limit
	burst int

	mu       sync.Mutex
	visitors map[string]*visitor

	ttl      time.Duration
	cleanupN uint64
	now      func() time.Time
}

// NewLocal constructs a Local gate for p.
func NewLocal(p Policy) *Local {
	p = p.normalized()
	ttl := 10 * time.Minute
	if p.Window > ttl {
		ttl = p.Window
	}
	return &Local{
		rps:      rate.Limit(float64(p.Limit) / p.Window.Seconds()),
		burst:    p.Limit,
		visitors: make(map[string]*visitor),
		ttl:      ttl,
		now:      time.Now,
	}
}

// getVisitor returns (and touches) the limiter for key, creating it if
// absent. Every 5000 lookups idle buckets are evicted first, so an old
// bucket can be dropped even when it is the one being fetched.
func (l *Local) getVisitor(key string, now time.Time) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.cleanupN++
	if l.cleanupN >= 5000 {
		for k, v := range l.visitors {
			if now.Sub(v.lastSeen) >= l.ttl {
				delete(l.visitors, k)
			}
		}
		l.cleanupN = 0
	}

	if v, ok := l.visitors[key]; ok {
		v.lastSeen = now
		return v.limiter
	}
	lim := rate.NewLimiter(l.rps, l.burst)
	l.visitors[key] = &visitor{limiter: lim, lastSeen: now}
	return lim
}

// Check consumes one token for identity. A denied check reserves nothing.
func (l *Local) Check(_ context.Context, identity string) Decision {
	now := l.now()
	lim := l.getVisitor(normalizeIdentity(identity), now)

	r := lim.ReserveN(now, 1)
	if !r.OK() {
		return Decision{Allowed: false, RetryAfter: time.Second}
	}
	if delay := r.DelayFrom(now); delay > 0 {
		r.CancelAt(now)
		return Decision{Allowed: false, RetryAfter: delay}
	}
	return Decision{Allowed: true}
}

// size reports the number of live buckets.
func (l *Local) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.visitors)
}
