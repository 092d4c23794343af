// Package windowregistry owns one sliding-window admit log per RateKey and
// performs the admit-or-deny decision for a declared quota.
package windowregistry

import (
	"sync"
	"time"
)

// log is the mutable state behind a single RateKey: a bounded,
// monotonically non-decreasing sequence of admit timestamps.
type log struct {
	timestamps []time.Time
}

// lockedLog pairs a log with the mutex that serializes every operation
// against it, matching the teacher's per-key lock-map idiom
// (strategies/base.go getLock) rather than one registry-wide lock.
type lockedLog struct {
	mu         sync.Mutex
	log        log
	lastAccess time.Time
}

// Registry maps RateKey to its sliding log, creating entries lazily on
// first reference. Entries are removed only by Cleanup.
type Registry struct {
	logs sync.Map // RateKey -> *lockedLog
}

// New creates an empty window registry.
func New() *Registry {
	return &Registry{}
}

func (r *Registry) entryFor(key RateKey) *lockedLog {
	if existing, ok := r.logs.Load(key); ok {
		return existing.(*lockedLog)
	}
	created := &lockedLog{}
	actual, _ := r.logs.LoadOrStore(key, created)
	return actual.(*lockedLog)
}

// CheckAndConsume implements spec.md §4.1's check_and_consume: it evicts
// everything that has fallen out of the window, then admits the new
// arrival if capacity remains.
func (r *Registry) CheckAndConsume(key RateKey, quota Quota, now time.Time) (allowed bool, remaining int, resetAt time.Time, err error) {
	if err = quota.Validate(); err != nil {
		return false, 0, time.Time{}, err
	}

	entry := r.entryFor(key)
	entry.mu.Lock()
	defer entry.mu.Unlock()
	entry.lastAccess = now

	evict(&entry.log, quota.Window, now)

	if len(entry.log.timestamps) < quota.MaxRequests {
		entry.log.timestamps = append(entry.log.timestamps, now)
		remaining = quota.MaxRequests - len(entry.log.timestamps)
		return true, remaining, now.Add(quota.Window), nil
	}

	return false, 0, windowExit(entry.log, quota.Window), nil
}

// Peek implements spec.md §4.1's peek: the same window-exclusion
// computation, without appending a new arrival.
func (r *Registry) Peek(key RateKey, quota Quota, now time.Time) (remaining int, resetAt time.Time, err error) {
	if err = quota.Validate(); err != nil {
		return 0, time.Time{}, err
	}

	entry := r.entryFor(key)
	entry.mu.Lock()
	defer entry.mu.Unlock()
	entry.lastAccess = now

	evict(&entry.log, quota.Window, now)

	if len(entry.log.timestamps) < quota.MaxRequests {
		return quota.MaxRequests - len(entry.log.timestamps), now.Add(quota.Window), nil
	}

	return 0, windowExit(entry.log, quota.Window), nil
}

// windowExit reports when the oldest retained timestamp leaves the
// window. An empty log (only reachable with a degenerate MaxRequests==0
// quota) has no oldest entry, so the window is reported as already over.
func windowExit(l log, window time.Duration) time.Time {
	if len(l.timestamps) == 0 {
		return time.Time{}
	}
	return l.timestamps[0].Add(window)
}

// evict drops every timestamp that is no longer inside (now-window, now].
// The boundary is exclusive: a timestamp exactly `window` old is expired.
func evict(l *log, window time.Duration, now time.Time) {
	ts := l.timestamps
	i := 0
	for i < len(ts) && now.Sub(ts[i]) >= window {
		i++
	}
	if i == 0 {
		return
	}
	l.timestamps = append(ts[:0], ts[i:]...)
}

// Cleanup sweeps RateKeys that have not been referenced in at least
// maxAge, bounding the registry's map growth for clients that stop
// sending traffic (spec.md §9, "Dynamic map growth"). A key is eligible
// regardless of what its log still holds: by the time a caller configures
// a cleanup interval comfortably longer than any quota window, a RateKey
// untouched for that long cannot hold anything still inside a window.
func (r *Registry) Cleanup(maxAge time.Duration, now time.Time) {
	r.logs.Range(func(k, v any) bool {
		entry := v.(*lockedLog)
		entry.mu.Lock()
		stale := now.Sub(entry.lastAccess) >= maxAge
		entry.mu.Unlock()
		if stale {
			r.logs.Delete(k)
		}
		return true
	})
}
