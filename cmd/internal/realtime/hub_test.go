package realtime

import (
	"encoding/json"
	"io"
	"log/slog"
	"testing"
	"time"

	"quill/cmd/internal/auth/authority"
	v1 "quill/contracts/realtime/v1"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestHub_AttachPublishDetach(t *testing.T) {
	h := NewHub(quietLogger())
	a := NewClient("c1", "u1", "s1", 4)
	b := NewClient("c2", "u1", "s2", 4)
	other := NewClient("c3", "u2", "s3", 4)
	h.Attach(a)
	h.Attach(b)
	h.Attach(other)

	if got := h.Connections("u1"); got != 2 {
		t.Fatalf("Connections(u1)=%d want 2", got)
	}

	env := newEnvelope(v1.TypeError, json.RawMessage(`{}`), time.Now())
	if n := h.Publish("u1", Frame{Envelope: env}); n != 2 {
		t.Fatalf("Publish delivered %d want 2", n)
	}
	if len(other.Send) != 0 {
		t.Fatalf("other user received %d frames", len(other.Send))
	}

	h.Detach(a)
	h.Detach(a)
	if got := h.Connections("u1"); got != 1 {
		t.Fatalf("Connections(u1) after detach=%d want 1", got)
	}
	h.Detach(b)
	if got := h.Connections("u1"); got != 0 {
		t.Fatalf("Connections(u1) after detach=%d want 0", got)
	}
}

func TestHub_PublishSkipsFullAndClosedClients(t *testing.T) {
	h := NewHub(quietLogger())
	full := NewClient("c1", "u1", "s1", 1)
	closed := NewClient("c2", "u1", "s2", 4)
	h.Attach(full)
	h.Attach(closed)
	closed.Close()

	env := newEnvelope(v1.TypeError, json.RawMessage(`{}`), time.Now())
	if n := h.Publish("u1", Frame{Envelope: env}); n != 1 {
		t.Fatalf("first Publish delivered %d want 1", n)
	}
	if n := h.Publish("u1", Frame{Envelope: env}); n != 0 {
		t.Fatalf("second Publish delivered %d want 0", n)
	}
}

func TestNotifier_PublishesRevocations(t *testing.T) {
	h := NewHub(quietLogger())
	c := NewClient("c1", "u1", "s1", 4)
	h.Attach(c)
	n := NewNotifier(h, quietLogger())

	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	n.CredentialsRevoked(authority.RevocationEvent{
		Scope: authority.ScopeRecord, UserID: "u1", Family: "f1", Reason: authority.ReasonRotated, Count: 1, At: at,
	})
	if len(c.Send) != 0 {
		t.Fatalf("rotation must not be announced")
	}

	n.CredentialsRevoked(authority.RevocationEvent{
		Scope: authority.ScopeFamily, UserID: "u1", Family: "f1", Reason: authority.ReasonLogout, Count: 2, At: at,
	})
	f := <-c.Send
	if f.Final {
		t.Fatalf("family revocation must not close the connection")
	}
	if f.Envelope.Type != v1.TypeSessionRevoked {
		t.Fatalf("type=%q", f.Envelope.Type)
	}
	var p v1.SessionRevokedPayload
	if err := json.Unmarshal(f.Envelope.Payload, &p); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if p.Reason != authority.ReasonLogout || p.Family != "f1" || p.Scope != v1.ScopeFamily || !p.RevokedAt.Equal(at) {
		t.Fatalf("payload=%+v", p)
	}

	n.CredentialsRevoked(authority.RevocationEvent{
		Scope: authority.ScopeUser, UserID: "u1", Reason: authority.ReasonLogoutEverywhere, Count: 3, At: at,
	})
	f = <-c.Send
	if !f.Final {
		t.Fatalf("user revocation must close the connection")
	}
}

func TestRateLimiter_SlidingWindow(t *testing.T) {
	rl := NewRateLimiter(2, time.Second)
	t0 := time.Unix(1000, 0)

	if !rl.Allow(t0) || !rl.Allow(t0.Add(100*time.Millisecond)) {
		t.Fatalf("first two events must pass")
	}
	if rl.Allow(t0.Add(500 * time.Millisecond)) {
		t.Fatalf("third event inside window must be blocked")
	}
	if !rl.Allow(t0.Add(time.Second)) {
		t.Fatalf("event after oldest leaves window must pass")
	}
	if rl.Allow(t0.Add(time.Second + 50*time.Millisecond)) {
		t.Fatalf("window is full again")
	}
}

func TestDeriveOriginPatterns(t *testing.T) {
	got := deriveOriginPatternsFromAllowedOrigins([]string{"https://App.example.com:8443", "http://localhost", "localhost:3000", "*"})
	want := []string{"app.example.com", "localhost"}
	if len(got) != len(want) {
		t.Fatalf("got %v want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v want %v", got, want)
		}
	}
}

func TestHub_FinalFrameClosesClientWithFullQueue(t *testing.T) {
	h := NewHub(quietLogger())
	busy := NewClient("c1", "u1", "s1", 1)
	idle := NewClient("c2", "u1", "s2", 4)
	h.Attach(busy)
	h.Attach(idle)

	env := newEnvelope(v1.TypeError, json.RawMessage(`{}`), time.Now())
	if n := h.Publish("u1", Frame{Envelope: env}); n != 2 {
		t.Fatalf("first Publish delivered %d want 2", n)
	}

	revoked := newEnvelope(v1.TypeSessionRevoked, json.RawMessage(`{}`), time.Now())
	if n := h.Publish("u1", Frame{Envelope: revoked, Final: true}); n != 1 {
		t.Fatalf("final Publish delivered %d want 1", n)
	}

	select {
	case <-busy.Done():
	default:
		t.Fatalf("client with a full queue must be closed on a final frame")
	}
	select {
	case <-idle.Done():
		t.Fatalf("client that accepted the final frame must stay open until it is written")
	default:
	}
	if got := h.Connections("u1"); got != 1 {
		t.Fatalf("Connections(u1)=%d want 1", got)
	}
}
