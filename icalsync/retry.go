package icalsync

import (
	"sync"
	"time"
)

// PrefStore is the external preference collaborator the retry counters
// persist through, keeping failure history across process restarts.
type PrefStore interface {
	GetInt(key string) int
	SetInt(key string, v int)
}

// RetryTracker counts per-calendar recurrence parse failures so a broken
// calendar is retried with backoff instead of unconditionally on every sync
// pass.
type RetryTracker struct {
	prefs PrefStore
	base  time.Duration

	mu          sync.Mutex
	lastAttempt map[string]time.Time
	now         func() time.Time
}

// DefaultRetryBase is the first backoff step; doubles per failure up to
// 2^8 steps.
const DefaultRetryBase = time.Minute

// NewRetryTracker creates a tracker over the given preference store. A zero
// base means DefaultRetryBase.
func NewRetryTracker(prefs PrefStore, base time.Duration) *RetryTracker {
	if base <= 0 {
		base = DefaultRetryBase
	}
	return &RetryTracker{
		prefs:       prefs,
		base:        base,
		lastAttempt: make(map[string]time.Time),
		now:         time.Now,
	}
}

func retryKey(calendarID string) string { return "recurrence_failures." + calendarID }

// RecordFailure bumps the calendar's failure count and stamps the attempt.
func (t *RetryTracker) RecordFailure(calendarID string) {
	t.mu.Lock()
	t.lastAttempt[calendarID] = t.now()
	t.mu.Unlock()
	t.prefs.SetInt(retryKey(calendarID), t.prefs.GetInt(retryKey(calendarID))+1)
}

// RecordSuccess clears the calendar's failure history.
func (t *RetryTracker) RecordSuccess(calendarID string) {
	t.mu.Lock()
	delete(t.lastAttempt, calendarID)
	t.mu.Unlock()
	t.prefs.SetInt(retryKey(calendarID), 0)
}

// Failures reports the calendar's consecutive failure count.
func (t *RetryTracker) Failures(calendarID string) int {
	return t.prefs.GetInt(retryKey(calendarID))
}

// ShouldRetry reports whether enough backoff has elapsed since the last
// failed attempt. A calendar with no failures is always retried.
func (t *RetryTracker) ShouldRetry(calendarID string) bool {
	failures := t.Failures(calendarID)
	if failures == 0 {
		return true
	}

	t.mu.Lock()
	last, ok := t.lastAttempt[calendarID]
	t.mu.Unlock()
	if !ok {
		// Failures persisted from a previous run with no attempt this run.
		return true
	}

	shift := failures - 1
	if shift > 8 {
		shift = 8
	}
	return t.now().Sub(last) >= t.base<<uint(shift)
}
