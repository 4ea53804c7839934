// Package auth rate-limits the HTTP surface per credential. A single node
// enforces limits in process; deployments sharing a redis instance enforce
// one budget across every node.
package auth

import (
	"context"
	"sync"
	"time"
)

// Limiter answers whether the request identified by key may proceed.
type Limiter interface {
	Allow(ctx context.Context, key string) (bool, error)
}

// SlidingWindow is an in-process sliding window limiter. A request is allowed
// while fewer than limit requests landed inside the trailing window.
type SlidingWindow struct {
	mu        sync.Mutex
	seen      map[string][]time.Time
	limit     int
	window    time.Duration
	lastSweep time.Time
}

// NewSlidingWindow creates a limiter allowing limit requests per window.
func NewSlidingWindow(limit int, window time.Duration) *SlidingWindow {
	return &SlidingWindow{
		seen:      make(map[string][]time.Time),
		limit:     limit,
		window:    window,
		lastSweep: time.Now(),
	}
}

// Allow records the request against key and reports whether it fits the
// window. Never returns an error; the signature matches Limiter.
func (l *SlidingWindow) Allow(ctx context.Context, key string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	l.sweep(now)

	start := now.Add(-l.window)
	kept := l.seen[key][:0]
	for _, at := range l.seen[key] {
		if at.After(start) {
			kept = append(kept, at)
		}
	}
	if len(kept) >= l.limit {
		l.seen[key] = kept
		return false, nil
	}
	l.seen[key] = append(kept, now)
	return true, nil
}

// Reset forgets everything recorded against key.
func (l *SlidingWindow) Reset(ctx context.Context, key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.seen, key)
}

// sweep drops keys whose every request fell out of the window, so idle
// credentials do not pin memory. Runs at most once per window, under the
// limiter lock.
func (l *SlidingWindow) sweep(now time.Time) {
	if now.Sub(l.lastSweep) < l.window {
		return
	}
	l.lastSweep = now

	start := now.Add(-l.window)
	for key, requests := range l.seen {
		stale := true
		for _, at := range requests {
			if at.After(start) {
				stale = false
				break
			}
		}
		if stale {
			delete(l.seen, key)
		}
	}
}
