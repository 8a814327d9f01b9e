package api

import (
	"net/http/httptest"
	"testing"
	"time"
)

func TestKeyedLimiter_SlidingWindow(t *testing.T) {
	now := time.Date(2026, 2, 13, 12, 0, 0, 0, time.UTC)
	l := newKeyedLimiter(2, 5*time.Minute)

	if ok, _ := l.Allow("10.0.0.1", now.Add(-4*time.Minute)); !ok {
		t.Fatalf("first event should pass")
	}
	if ok, _ := l.Allow("10.0.0.1", now.Add(-2*time.Minute)); !ok {
		t.Fatalf("second event should pass")
	}

	ok, retry := l.Allow("10.0.0.1", now)
	if ok {
		t.Fatalf("expected window throttle to block")
	}
	if retry != time.Minute {
		t.Fatalf("expected retry=1m, got %v", retry)
	}

	if ok, _ := l.Allow("10.0.0.2", now); !ok {
		t.Fatalf("other keys are independent")
	}
	if ok, _ := l.Allow("10.0.0.1", now.Add(time.Minute+time.Second)); !ok {
		t.Fatalf("expected event to pass once the oldest left the window")
	}
}

func TestKeyedLimiter_DisabledAndEmptyKey(t *testing.T) {
	now := time.Now()
	var nilLimiter *keyedLimiter
	if ok, _ := nilLimiter.Allow("k", now); !ok {
		t.Fatalf("nil limiter must allow")
	}
	l := newKeyedLimiter(1, time.Minute)
	for i := 0; i < 3; i++ {
		if ok, _ := l.Allow("", now); !ok {
			t.Fatalf("empty key must allow")
		}
	}
}

func TestKeyedLimiter_PrunesIdleKeys(t *testing.T) {
	now := time.Date(2026, 2, 13, 12, 0, 0, 0, time.UTC)
	l := newKeyedLimiter(5, time.Minute)
	l.Allow("a", now)
	l.Allow("b", now)

	l.Allow("c", now.Add(2*time.Minute))
	if _, ok := l.events["a"]; ok {
		t.Fatalf("expected idle key to be pruned")
	}
	if len(l.events) != 1 {
		t.Fatalf("expected only the active key, got %d", len(l.events))
	}
}

func TestWriteRateLimited_RoundsRetryAfterUp(t *testing.T) {
	rr := httptest.NewRecorder()
	writeRateLimited(rr, 1500*time.Millisecond)
	if rr.Code != 429 {
		t.Fatalf("expected 429, got %d", rr.Code)
	}
	if got := rr.Header().Get("Retry-After"); got != "2" {
		t.Fatalf("expected Retry-After=2, got %q", got)
	}
}
