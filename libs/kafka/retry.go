package kafka

import (
	"sync"
	"time"
)

// retryTracker counts failed attempts per message coordinate so the count survives a
// rebalance that redelivers the same offset to this process.
type retryTracker struct {
	mu          sync.Mutex
	maxAttempts int
	ttl         time.Duration
	entries     map[string]retryEntry
	now         func() time.Time
}

type retryEntry struct {
	attempts int
	expires  time.Time
}

func newRetryTracker(maxAttempts int, ttl time.Duration) *retryTracker {
	if maxAttempts <= 0 {
		maxAttempts = defaultMaxAttempts
	}
	if ttl <= 0 {
		ttl = defaultRetryTTL
	}
	return &retryTracker{
		maxAttempts: maxAttempts,
		ttl:         ttl,
		entries:     make(map[string]retryEntry),
		now:         time.Now,
	}
}

func (r *retryTracker) inc(key string) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	r.evictLocked(now)
	entry := r.entries[key]
	entry.attempts++
	entry.expires = now.Add(r.ttl)
	r.entries[key] = entry
	return entry.attempts
}

func (r *retryTracker) clear(key string) {
	r.mu.Lock()
	delete(r.entries, key)
	r.mu.Unlock()
}

func (r *retryTracker) evictLocked(now time.Time) {
	for key, entry := range r.entries {
		if now.After(entry.expires) {
			delete(r.entries, key)
		}
	}
}
