// Package ratelimit throttles login attempts. Keys combine client address
// and username so one source cannot spray credentials across accounts.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// Config defines the throttle window.
type Config struct {
	// Attempts is the number of tries allowed per window.
	Attempts int
	// Window is the counting window.
	Window time.Duration
}

// DefaultConfig allows a handful of tries per minute, enough for typos and
// useless for brute force.
func DefaultConfig() Config {
	return Config{
		Attempts: 5,
		Window:   time.Minute,
	}
}

// Limiter answers whether one more attempt is allowed for a key. An error
// means the backend failed; callers decide whether to fail open.
type Limiter interface {
	Allow(ctx context.Context, key string) (bool, error)
}

// MemoryLimiter is a process-local fixed-window limiter.
type MemoryLimiter struct {
	config Config
	clock  clockwork.Clock

	mu      sync.Mutex
	windows map[string]*window
}

type window struct {
	count    int
	startsAt time.Time
}

// NewMemoryLimiter creates a memory-backed limiter. A nil clock uses the
// wall clock.
func NewMemoryLimiter(config Config, clock clockwork.Clock) *MemoryLimiter {
	if config.Attempts <= 0 || config.Window <= 0 {
		config = DefaultConfig()
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &MemoryLimiter{
		config:  config,
		clock:   clock,
		windows: make(map[string]*window),
	}
}

// Allow counts one attempt against the key's current window.
func (l *MemoryLimiter) Allow(ctx context.Context, key string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clock.Now()
	w, ok := l.windows[key]
	if !ok || now.Sub(w.startsAt) >= l.config.Window {
		w = &window{startsAt: now}
		l.windows[key] = w
	}

	w.count++
	return w.count <= l.config.Attempts, nil
}

// Sweep drops windows that have expired and reports how many were removed.
func (l *MemoryLimiter) Sweep() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	removed := 0
	now := l.clock.Now()
	for key, w := range l.windows {
		if now.Sub(w.startsAt) >= l.config.Window {
			delete(l.windows, key)
			removed++
		}
	}
	return removed
}
