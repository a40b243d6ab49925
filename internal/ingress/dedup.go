package ingress

import (
	"sync"
	"time"
)

const (
	defaultDedupTTL = 10 * time.Minute
	defaultDedupMax = 10000
)

// Deduper remembers recently seen keys for a fixed TTL. When more than max
// keys are live, expired keys are swept first and then the keys closest to
// expiry are evicted.
type Deduper struct {
	mu   sync.Mutex
	ttl  time.Duration
	max  int
	now  func() time.Time
	seen map[string]time.Time // key -> expiry
}

// NewDeduper creates a Deduper. Non-positive arguments select the defaults
// (10 minutes, 10000 keys).
func NewDeduper(ttl time.Duration, maxEntries int) *Deduper {
	if ttl <= 0 {
		ttl = defaultDedupTTL
	}
	if maxEntries <= 0 {
		maxEntries = defaultDedupMax
	}
	return &Deduper{
		ttl:  ttl,
		max:  maxEntries,
		now:  time.Now,
		seen: make(map[string]time.Time),
	}
}

// ShouldProcess records key and reports whether it was not already live.
// The empty key is always processed.
func (d *Deduper) ShouldProcess(key string) bool {
	if key == "" {
		return true
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	if exp, ok := d.seen[key]; ok && now.Before(exp) {
		return false
	}
	d.seen[key] = now.Add(d.ttl)

	if len(d.seen) > d.max {
		d.evictLocked(now)
	}
	return true
}

// Len returns the number of tracked keys, expired ones included.
func (d *Deduper) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.seen)
}

func (d *Deduper) evictLocked(now time.Time) {
	for k, exp := range d.seen {
		if !now.Before(exp) {
			delete(d.seen, k)
		}
	}
	for len(d.seen) > d.max {
		var oldest string
		var oldestExp time.Time
		for k, exp := range d.seen {
			if oldest == "" || exp.Before(oldestExp) {
				oldest, oldestExp = k, exp
			}
		}
		delete(d.seen, oldest)
	}
}
