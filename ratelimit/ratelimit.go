// Package ratelimit provides keyed, time-windowed request limits.
package ratelimit

import (
	"sync"
	"time"
)

// Decision is the outcome of one Allow call.
type Decision struct {
	Allowed   bool
	Limit     int
	Remaining int
	Reset     time.Time
}

// RetryAfter is the number of whole seconds until the window resets.
func (d Decision) RetryAfter(now time.Time) int {
	secs := int(d.Reset.Sub(now).Round(time.Second) / time.Second)
	return max(secs, 1)
}

// Limiter counts requests per key. Implementations backed by a shared store
// can replace the in-memory Window.
type Limiter interface {
	Allow(key string) Decision
}

type bucket struct {
	count int
	start time.Time
}

// Window is an in-memory fixed-window counter.
type Window struct {
	limit      int
	window     time.Duration
	maxEntries int
	now        func() time.Time

	mu      sync.Mutex
	buckets map[string]*bucket
}

// NewWindow allows limit requests per key every window. Expired keys are
// pruned once more than 1000 are tracked.
func NewWindow(limit int, window time.Duration) *Window {
	return &Window{
		limit:      limit,
		window:     window,
		maxEntries: 1000,
		now:        time.Now,
		buckets:    make(map[string]*bucket),
	}
}

func (w *Window) Allow(key string) Decision {
	w.mu.Lock()
	defer w.mu.Unlock()

	now := w.now()
	b, ok := w.buckets[key]
	if !ok || now.Sub(b.start) >= w.window {
		b = &bucket{start: now}
		w.buckets[key] = b
		if len(w.buckets) > w.maxEntries {
			w.prune(now)
		}
	}

	d := Decision{Limit: w.limit, Reset: b.start.Add(w.window)}
	if b.count >= w.limit {
		return d
	}
	b.count++
	d.Allowed = true
	d.Remaining = w.limit - b.count
	return d
}

func (w *Window) prune(now time.Time) {
	for k, b := range w.buckets {
		if now.Sub(b.start) >= w.window {
			delete(w.buckets, k)
		}
	}
}

// Len returns the number of tracked keys.
func (w *Window) Len() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.buckets)
}
