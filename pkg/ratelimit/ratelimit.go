// Package ratelimit guards the HTTP surface with a per-client request
// window. The limiter is storage-backed so multi-instance deployments can
// swap in a shared store later.
package ratelimit

import (
	"sync"
	"time"

	"github.com/agentmesh/agentmesh/pkg/clock"
)

// CheckResult reports one admission decision.
type CheckResult struct {
	Allowed    bool
	Current    int
	Limit      int
	Remaining  int
	RetryAfter time.Duration
}

// Limiter admits up to limit requests per identifier per window.
type Limiter struct {
	clk    clock.Clock
	limit  int
	window time.Duration

	mu      sync.Mutex
	windows map[string]*windowRecord
}

type windowRecord struct {
	count int
	ends  time.Time
}

// New builds a limiter.
func New(clk clock.Clock, limit int, window time.Duration) *Limiter {
	if limit <= 0 {
		limit = 100
	}
	if window <= 0 {
		window = time.Minute
	}
	return &Limiter{
		clk:     clk,
		limit:   limit,
		window:  window,
		windows: make(map[string]*windowRecord),
	}
}

// Allow records one request for the identifier and reports the decision.
func (l *Limiter) Allow(identifier string) CheckResult {
	now := l.clk.Now()

	l.mu.Lock()
	defer l.mu.Unlock()

	rec, ok := l.windows[identifier]
	if !ok || rec.ends.Before(now) {
		rec = &windowRecord{ends: now.Add(l.window)}
		l.windows[identifier] = rec
	}

	if rec.count >= l.limit {
		return CheckResult{
			Allowed:    false,
			Current:    rec.count,
			Limit:      l.limit,
			RetryAfter: rec.ends.Sub(now),
		}
	}

	rec.count++
	return CheckResult{
		Allowed:   true,
		Current:   rec.count,
		Limit:     l.limit,
		Remaining: l.limit - rec.count,
	}
}

// Reset drops the window for an identifier.
func (l *Limiter) Reset(identifier string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.windows, identifier)
}

// Sweep drops expired windows to bound memory.
func (l *Limiter) Sweep() {
	now := l.clk.Now()
	l.mu.Lock()
	defer l.mu.Unlock()
	for id, rec := range l.windows {
		if rec.ends.Before(now) {
			delete(l.windows, id)
		}
	}
}
