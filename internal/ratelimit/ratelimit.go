// Package ratelimit implements per-(channel, bucket) sliding-window admission
// control. An admission of cost n records n timestamps; a request that would
// push the window count past the bucket limit is refused and records nothing.
package ratelimit

import (
	"sync"
	"time"
)

// Bucket names an independent admission budget.
type Bucket string

const (
	// Conversational guards user-facing model calls.
	Conversational Bucket = "conversational"
	// Analysis guards background candidate generation.
	Analysis Bucket = "analysis"
	// API guards management API requests per client address.
	API Bucket = "api"
)

// Config holds limiter configuration.
type Config struct {
	Window time.Duration
	Limits map[Bucket]int
}

// DefaultConfig returns the limits used when nothing is configured.
func DefaultConfig() Config {
	return Config{
		Window: time.Minute,
		Limits: map[Bucket]int{
			Conversational: 10,
			Analysis:       30,
			API:            120,
		},
	}
}

type key struct {
	channel string
	bucket  Bucket
}

// Limiter is safe for concurrent use by request handlers and background workers.
type Limiter struct {
	mu     sync.Mutex
	window time.Duration
	limits map[Bucket]int
	hits   map[key][]time.Time
	now    func() time.Time
}

// Option configures a Limiter.
type Option func(*Limiter)

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) { l.now = now }
}

// New creates a Limiter. Buckets missing from cfg.Limits refuse every request.
func New(cfg Config, opts ...Option) *Limiter {
	if cfg.Window <= 0 {
		cfg.Window = DefaultConfig().Window
	}
	limits := make(map[Bucket]int, len(cfg.Limits))
	for b, n := range cfg.Limits {
		limits[b] = n
	}
	l := &Limiter{
		window: cfg.Window,
		limits: limits,
		hits:   make(map[key][]time.Time),
		now:    time.Now,
	}
	for _, o := range opts {
		o(l)
	}
	return l
}

// Admit requests cost units for channel in bucket. It returns true and
// records cost timestamps only if the trailing-window count plus cost stays
// within the bucket limit.
func (l *Limiter) Admit(channel string, bucket Bucket, cost int) bool {
	if cost < 1 {
		cost = 1
	}
	limit := l.limits[bucket]
	if limit <= 0 || cost > limit {
		return false
	}

	k := key{channel: channel, bucket: bucket}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	live := trim(l.hits[k], now.Add(-l.window))
	if len(live)+cost > limit {
		l.store(k, live)
		return false
	}
	for i := 0; i < cost; i++ {
		live = append(live, now)
	}
	l.hits[k] = live
	return true
}

// Remaining reports how many units channel could still be admitted in bucket
// right now.
func (l *Limiter) Remaining(channel string, bucket Bucket) int {
	limit := l.limits[bucket]
	k := key{channel: channel, bucket: bucket}

	l.mu.Lock()
	defer l.mu.Unlock()

	live := trim(l.hits[k], l.now().Add(-l.window))
	l.store(k, live)
	if n := limit - len(live); n > 0 {
		return n
	}
	return 0
}

// Prune drops keys with no admissions inside the window and returns how many
// were removed.
func (l *Limiter) Prune() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	cutoff := l.now().Add(-l.window)
	removed := 0
	for k, ts := range l.hits {
		if len(trim(ts, cutoff)) == 0 {
			delete(l.hits, k)
			removed++
		}
	}
	return removed
}

// Keys returns the number of tracked (channel, bucket) keys.
func (l *Limiter) Keys() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.hits)
}

func (l *Limiter) store(k key, live []time.Time) {
	if len(live) == 0 {
		delete(l.hits, k)
		return
	}
	l.hits[k] = live
}

// trim returns the suffix of ts strictly newer than cutoff. ts is ordered
// oldest first, so the scan stops at the first live entry.
func trim(ts []time.Time, cutoff time.Time) []time.Time {
	i := 0
	for i < len(ts) && !ts[i].After(cutoff) {
		i++
	}
	if i == 0 {
		return ts
	}
	out := make([]time.Time, len(ts)-i)
	copy(out, ts[i:])
	return out
}
