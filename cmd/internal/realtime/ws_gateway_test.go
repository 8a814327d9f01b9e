package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/coder/websocket"

	"quill/cmd/internal/auth/authority"
	v1 "quill/contracts/realtime/v1"
)

type fakeVerifier map[string]authority.AccessClaims

func (f fakeVerifier) VerifyAccessToken(raw string) (authority.AccessClaims, error) {
	c, ok := f[raw]
	if !ok {
		return authority.AccessClaims{}, authority.ErrCredentialInvalid
	}
	return c, nil
}

func newTestGateway(t *testing.T) (*WSGateway, *httptest.Server) {
	t.Helper()
	t.Setenv("QUILL_WS_ORIGIN_REQUIRED", "false")

	verifier := fakeVerifier{
		"good": {UserID: "user-1", SessionID: "sess-1", ExpiresAt: time.Now().Add(time.Hour)},
	}
	gw := NewWSGateway(quietLogger(), NewHub(quietLogger()), verifier)

	mux := http.NewServeMux()
	mux.Handle("GET /ws", gw)
	ts := httptest.NewServer(mux)
	t.Cleanup(ts.Close)
	return gw, ts
}

func dialWS(t *testing.T, baseHTTPURL, token string) (*websocket.Conn, *http.Response, error) {
	t.Helper()

	u, err := url.Parse(baseHTTPURL)
	if err != nil {
		t.Fatalf("url.Parse: %v", err)
	}
	u.Scheme = "ws"
	u.Path = "/ws"

	h := http.Header{}
	if token != "" {
		h.Set("Authorization", "Bearer "+token)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	return websocket.Dial(ctx, u.String(), &websocket.DialOptions{
		Subprotocols: []string{v1.Subprotocol},
		HTTPHeader:   h,
	})
}

func writeEnvelopeWS(t *testing.T, conn *websocket.Conn, env v1.Envelope) {
	t.Helper()
	b, err := json.Marshal(env)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := conn.Write(ctx, websocket.MessageText, b); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func readEnvelopeWS(t *testing.T, conn *websocket.Conn) v1.Envelope {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var env v1.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	return env
}

func hello(t *testing.T, conn *websocket.Conn) v1.HelloAckPayload {
	t.Helper()
	writeEnvelopeWS(t, conn, v1.Envelope{V: v1.Version, Type: v1.TypeHello, ID: "h1", TS: time.Now().UTC(), Payload: json.RawMessage(`{}`)})
	env := readEnvelopeWS(t, conn)
	if env.Type != v1.TypeHelloAck {
		t.Fatalf("type=%q want %q", env.Type, v1.TypeHelloAck)
	}
	var ack v1.HelloAckPayload
	if err := json.Unmarshal(env.Payload, &ack); err != nil {
		t.Fatalf("unmarshal ack: %v", err)
	}
	return ack
}

func TestWSGateway_RejectsMissingOrInvalidToken(t *testing.T) {
	_, ts := newTestGateway(t)

	for _, tok := range []string{"", "bogus"} {
		_, resp, err := dialWS(t, ts.URL, tok)
		if resp != nil && resp.Body != nil {
			_ = resp.Body.Close()
		}
		if err == nil {
			t.Fatalf("token %q: expected handshake failure", tok)
		}
		if resp == nil || resp.StatusCode != http.StatusUnauthorized {
			t.Fatalf("token %q: expected 401, got resp=%v err=%v", tok, resp, err)
		}
	}
}

func TestWSGateway_HelloAck(t *testing.T) {
	gw, ts := newTestGateway(t)

	conn, _, err := dialWS(t, ts.URL, "good")
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer func() { _ = conn.Close(websocket.StatusNormalClosure, "done") }()

	ack := hello(t, conn)
	if ack.UserID != "user-1" || ack.SessionID != "sess-1" || ack.ConnectionID == "" {
		t.Fatalf("ack=%+v", ack)
	}
	if got := gw.Hub().Connections("user-1"); got != 1 {
		t.Fatalf("Connections=%d want 1", got)
	}

	// Server-only types are refused.
	writeEnvelopeWS(t, conn, v1.Envelope{V: v1.Version, Type: v1.TypeSessionRevoked, TS: time.Now().UTC(), Payload: json.RawMessage(`{}`)})
	if env := readEnvelopeWS(t, conn); env.Type != v1.TypeError {
		t.Fatalf("type=%q want error", env.Type)
	}
}

func TestWSGateway_FamilyRevocationKeepsConnection(t *testing.T) {
	gw, ts := newTestGateway(t)

	conn, _, err := dialWS(t, ts.URL, "good")
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer func() { _ = conn.Close(websocket.StatusNormalClosure, "done") }()
	hello(t, conn)

	NewNotifier(gw.Hub(), quietLogger()).CredentialsRevoked(authority.RevocationEvent{
		Scope: authority.ScopeFamily, UserID: "user-1", Family: "fam-1", Reason: authority.ReasonLogout, Count: 1, At: time.Now(),
	})

	env := readEnvelopeWS(t, conn)
	if env.Type != v1.TypeSessionRevoked {
		t.Fatalf("type=%q want %q", env.Type, v1.TypeSessionRevoked)
	}
	var p v1.SessionRevokedPayload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if p.Family != "fam-1" || p.Scope != v1.ScopeFamily || p.Reason != authority.ReasonLogout {
		t.Fatalf("payload=%+v", p)
	}

	hello(t, conn)
}

func TestWSGateway_UserRevocationClosesConnection(t *testing.T) {
	gw, ts := newTestGateway(t)

	conn, _, err := dialWS(t, ts.URL, "good")
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer func() { _ = conn.CloseNow() }()
	hello(t, conn)

	NewNotifier(gw.Hub(), quietLogger()).CredentialsRevoked(authority.RevocationEvent{
		Scope: authority.ScopeUser, UserID: "user-1", Reason: authority.ReasonLogoutEverywhere, Count: 2, At: time.Now(),
	})

	if env := readEnvelopeWS(t, conn); env.Type != v1.TypeSessionRevoked {
		t.Fatalf("type=%q want %q", env.Type, v1.TypeSessionRevoked)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, _, err = conn.Read(ctx)
	if got := websocket.CloseStatus(err); got != websocket.StatusPolicyViolation {
		t.Fatalf("close status=%v err=%v", got, err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for gw.Hub().Connections("user-1") != 0 {
		if time.Now().After(deadline) {
			t.Fatalf("connection still attached")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestWSGateway_BadJSONIsReported(t *testing.T) {
	_, ts := newTestGateway(t)

	conn, _, err := dialWS(t, ts.URL, "good")
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer func() { _ = conn.Close(websocket.StatusNormalClosure, "done") }()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := conn.Write(ctx, websocket.MessageText, []byte("{not json")); err != nil {
		t.Fatalf("write: %v", err)
	}
	env := readEnvelopeWS(t, conn)
	var p v1.ErrorPayload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if env.Type != v1.TypeError || p.Code != "bad_json" {
		t.Fatalf("env=%+v payload=%+v", env, p)
	}
}

func TestClassifyReadErr(t *testing.T) {
	if got := classifyReadErr(context.Canceled); got != readErrCtxDone {
		t.Fatalf("canceled -> %v", got)
	}
	if got := classifyReadErr(errors.Join(errBadJSON, errors.New("x"))); got != readErrBadJSON {
		t.Fatalf("bad json -> %v", got)
	}
}
