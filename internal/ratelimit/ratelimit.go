// Package ratelimit throttles callers by key with a token bucket per key.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

type Options struct {
	// Limit is the sustained rate in events per second.
	Limit rate.Limit
	Burst int
	// Expiry is how long an idle key keeps its bucket.
	Expiry time.Duration
}

func DefaultOptions() Options {
	return Options{
		Limit:  5,
		Burst:  10,
		Expiry: time.Hour,
	}
}

type entry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

type Limiter struct {
	mu      sync.Mutex
	opts    Options
	entries map[string]*entry
	now     func() time.Time
}

func New(opts Options) *Limiter {
	def := DefaultOptions()
	if opts.Limit <= 0 {
		opts.Limit = def.Limit
	}
	if opts.Burst <= 0 {
		opts.Burst = def.Burst
	}
	if opts.Expiry <= 0 {
		opts.Expiry = def.Expiry
	}
	return &Limiter{
		opts:    opts,
		entries: make(map[string]*entry),
		now:     time.Now,
	}
}

// Allow reports whether key may perform one more event now.
func (l *Limiter) Allow(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	e, ok := l.entries[key]
	if !ok {
		e = &entry{limiter: rate.NewLimiter(l.opts.Limit, l.opts.Burst)}
		l.entries[key] = e
	}
	e.lastSeen = now
	return e.limiter.AllowN(now, 1)
}

// Prune forgets keys idle for longer than the expiry.
func (l *Limiter) Prune() {
	l.mu.Lock()
	defer l.mu.Unlock()

	cutoff := l.now().Add(-l.opts.Expiry)
	for key, e := range l.entries {
		if e.lastSeen.Before(cutoff) {
			delete(l.entries, key)
		}
	}
}

// Run prunes idle keys every minute until ctx is done.
func (l *Limiter) Run(ctx context.Context) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.Prune()
		}
	}
}

func (l *Limiter) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}
