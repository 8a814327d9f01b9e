// Package main provides a CI-friendly smoke test for quill session
// revocation over the realtime channel.
//
// It validates:
//   - register over HTTP and websocket handshake with the access token
//   - hello/ack bound to the issued session
//   - refresh rotation does not push a revocation
//   - logout_all pushes session.revoked and closes the socket
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/coder/websocket"
	"github.com/oklog/ulid/v2"
	flag "github.com/spf13/pflag"

	v1 "quill/contracts/realtime/v1"
)

const maxReadBytes = 1 << 16

type session struct {
	SessionID    string `json:"session_id"`
	Family       string `json:"family"`
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
}

type authResponse struct {
	Session session `json:"session"`
}

type smokeClient struct {
	conn  *websocket.Conn
	inbox chan v1.Envelope
	errCh chan error
}

func main() {
	var (
		baseURL = flag.String("url", "http://127.0.0.1:8080", "HTTP base URL of the quill server")
		origin  = flag.String("origin", "http://localhost", "Origin header for the websocket handshake")
		timeout = flag.Duration("timeout", 7*time.Second, "Per-step timeout")
		verbose = flag.BoolP("verbose", "v", false, "Verbose output")
	)
	flag.Parse()

	base, err := url.Parse(strings.TrimRight(*baseURL, "/"))
	if err != nil || (base.Scheme != "http" && base.Scheme != "https") || base.Host == "" {
		fatalf("invalid --url %q: must be http(s)://host", *baseURL)
	}

	root := context.Background()
	email := "smoke-" + strings.ToLower(ulid.Make().String()) + "@example.com"

	var reg authResponse
	mustPostJSON(root, base.String()+"/auth/register", "", map[string]any{
		"email":    email,
		"password": "smoke-password-123",
		"platform": "ios",
	}, http.StatusCreated, &reg, *timeout)
	if reg.Session.AccessToken == "" || reg.Session.RefreshToken == "" {
		fatalf("register: response missing tokens")
	}

	c := mustConnect(root, wsURL(base), *origin, reg.Session.AccessToken, *timeout)
	defer func() { _ = c.conn.CloseNow() }()

	ack := mustHello(root, c, *timeout)
	if ack.SessionID != reg.Session.SessionID {
		fatalf("hello.ack session_id=%q want %q", ack.SessionID, reg.Session.SessionID)
	}
	if *verbose {
		fmt.Printf("connected: conn=%s user=%s session=%s\n", ack.ConnectionID, ack.UserID, ack.SessionID)
	}

	var rotated authResponse
	mustPostJSON(root, base.String()+"/auth/refresh", "", map[string]any{
		"refresh_token": reg.Session.RefreshToken,
		"platform":      "ios",
	}, http.StatusOK, &rotated, *timeout)
	if rotated.Session.Family != reg.Session.Family {
		fatalf("refresh: family changed %q -> %q", reg.Session.Family, rotated.Session.Family)
	}
	c.mustAssertQuiet(750 * time.Millisecond)

	var out struct {
		Revoked int64 `json:"revoked"`
	}
	mustPostJSON(root, base.String()+"/auth/logout_all", rotated.Session.AccessToken, struct{}{}, http.StatusOK, &out, *timeout)
	if out.Revoked < 1 {
		fatalf("logout_all: revoked=%d want >= 1", out.Revoked)
	}

	env := c.mustReadType(root, v1.TypeSessionRevoked, *timeout)
	var p v1.SessionRevokedPayload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		fatalf("unmarshal session.revoked: %v", err)
	}
	if p.Scope != v1.ScopeUser {
		fatalf("session.revoked scope=%q want %q", p.Scope, v1.ScopeUser)
	}

	c.mustClosed(*timeout)

	fmt.Printf("OK: user=%s family=%s revoked=%d reason=%s\n", ack.UserID, reg.Session.Family, out.Revoked, p.Reason)
}

func wsURL(base *url.URL) string {
	u := *base
	if u.Scheme == "https" {
		u.Scheme = "wss"
	} else {
		u.Scheme = "ws"
	}
	u.Path = "/ws"
	return u.String()
}

func mustPostJSON(parent context.Context, target, bearer string, body any, wantStatus int, out any, stepTimeout time.Duration) {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	raw, err := json.Marshal(body)
	if err != nil {
		fatalf("marshal %s: %v", target, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(raw))
	if err != nil {
		fatalf("request %s: %v", target, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		fatalf("POST %s: %v", target, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != wantStatus {
		fatalf("POST %s: status=%d want %d", target, resp.StatusCode, wantStatus)
	}
	if out == nil {
		return
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		fatalf("decode %s: %v", target, err)
	}
}

func mustConnect(parent context.Context, target, origin, accessToken string, stepTimeout time.Duration) *smokeClient {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	h := http.Header{}
	h.Set("Authorization", "Bearer "+accessToken)
	if strings.TrimSpace(origin) != "" {
		h.Set("Origin", origin)
	}

	conn, resp, err := websocket.Dial(ctx, target, &websocket.DialOptions{
		Subprotocols: []string{v1.Subprotocol},
		HTTPHeader:   h,
	})
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		fatalf("connect: %v", err)
	}
	if got := conn.Subprotocol(); got != v1.Subprotocol {
		fatalf("subprotocol mismatch: got=%q want=%q", got, v1.Subprotocol)
	}
	conn.SetReadLimit(maxReadBytes)

	c := &smokeClient{
		conn:  conn,
		inbox: make(chan v1.Envelope, 64),
		errCh: make(chan error, 1),
	}
	go c.readLoop()
	return c
}

func (c *smokeClient) readLoop() {
	defer close(c.inbox)
	for {
		_, data, err := c.conn.Read(context.Background())
		if err != nil {
			c.errCh <- err
			return
		}
		var env v1.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			c.errCh <- fmt.Errorf("bad json: %w", err)
			return
		}
		if err := env.Validate(); err != nil {
			c.errCh <- fmt.Errorf("bad envelope: %w", err)
			return
		}
		c.inbox <- env
	}
}

func mustHello(parent context.Context, c *smokeClient, stepTimeout time.Duration) v1.HelloAckPayload {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	payload, _ := json.Marshal(v1.HelloPayload{})
	raw, _ := json.Marshal(v1.Envelope{
		V:       v1.Version,
		Type:    v1.TypeHello,
		ID:      "smoke-hello",
		TS:      time.Now().UTC(),
		Payload: payload,
	})
	if err := c.conn.Write(ctx, websocket.MessageText, raw); err != nil {
		fatalf("write hello: %v", err)
	}

	env := c.mustReadType(parent, v1.TypeHelloAck, stepTimeout)
	var p v1.HelloAckPayload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		fatalf("unmarshal hello.ack: %v", err)
	}
	return p
}

func (c *smokeClient) mustReadType(parent context.Context, want string, stepTimeout time.Duration) v1.Envelope {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	for {
		select {
		case env, ok := <-c.inbox:
			if !ok {
				fatalf("waiting for %s: %v", want, <-c.errCh)
			}
			if env.Type == want {
				return env
			}
			if env.Type == v1.TypeError {
				fatalf("waiting for %s: server error %s", want, string(env.Payload))
			}
		case <-ctx.Done():
			fatalf("timeout waiting for %s", want)
		}
	}
}

func (c *smokeClient) mustAssertQuiet(wait time.Duration) {
	select {
	case env, ok := <-c.inbox:
		if !ok {
			fatalf("connection closed unexpectedly: %v", <-c.errCh)
		}
		fatalf("unexpected %s frame", env.Type)
	case <-time.After(wait):
	}
}

func (c *smokeClient) mustClosed(stepTimeout time.Duration) {
	deadline := time.After(stepTimeout)
	for {
		select {
		case _, ok := <-c.inbox:
			if ok {
				continue
			}
			err := <-c.errCh
			if websocket.CloseStatus(err) != websocket.StatusPolicyViolation {
				fatalf("close status=%v want %v (err=%v)", websocket.CloseStatus(err), websocket.StatusPolicyViolation, err)
			}
			return
		case <-deadline:
			fatalf("timeout waiting for server close")
		}
	}
}

func fatalf(format string, args ...any) {
	_, _ = fmt.Fprintf(os.Stderr, "FAIL: "+format+"\n", args...)
	os.Exit(1)
}
