package api

import (
	"net/http"
	"strconv"
	"sync"
	"time"
)

// keyedLimiter is a sliding-window limiter per key (client IP).
type keyedLimiter struct {
	limit  int
	window time.Duration

	mu     sync.Mutex
	events map[string][]time.Time
	sweep  time.Time
}

func newKeyedLimiter(limit int, window time.Duration) *keyedLimiter {
	return &keyedLimiter{
		limit:  limit,
		window: window,
		events: make(map[string][]time.Time),
	}
}

// Allow records an event for key and reports whether it is permitted. When
// blocked, retryAfter is the time until the oldest event leaves the window.
func (l *keyedLimiter) Allow(key string, now time.Time) (ok bool, retryAfter time.Duration) {
	if l == nil || l.limit <= 0 || key == "" {
		return true, 0
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	cut := now.Add(-l.window)
	if now.Sub(l.sweep) > l.window {
		l.pruneLocked(cut)
		l.sweep = now
	}

	events := l.events[key]
	dst := events[:0]
	for _, t := range events {
		if t.After(cut) {
			dst = append(dst, t)
		}
	}

	if len(dst) >= l.limit {
		l.events[key] = dst
		return false, dst[0].Sub(cut)
	}
	l.events[key] = append(dst, now)
	return true, 0
}

func (l *keyedLimiter) pruneLocked(cut time.Time) {
	for k, events := range l.events {
		if len(events) == 0 || !events[len(events)-1].After(cut) {
			delete(l.events, k)
		}
	}
}

func writeRateLimited(w http.ResponseWriter, retryAfter time.Duration) {
	if retryAfter > 0 {
		secs := int64(retryAfter.Seconds())
		if time.Duration(secs)*time.Second < retryAfter {
			secs++
		}
		w.Header().Set("Retry-After", strconv.FormatInt(secs, 10))
	}
	writeError(w, http.StatusTooManyRequests, "rate_limited", "too many attempts")
}
