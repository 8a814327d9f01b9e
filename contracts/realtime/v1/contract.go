// Package v1 defines the Quill realtime protocol v1 contract.
//
// It is shared between the server and clients so the wire format stays
// authoritative in one place.
package v1

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Version is the protocol version identifier embedded into every envelope.
const Version = "v1"

// Subprotocol is negotiated during the websocket handshake.
const Subprotocol = "quill.realtime.v1"

// Type constants (wire-stable).
const (
	// TypeHello starts a session handshake (client -> server).
	TypeHello = "hello"
	// TypeHelloAck confirms authentication (server -> client).
	TypeHelloAck = "hello.ack"

	// TypeSessionRevoked tells the client that some or all of its user's
	// sessions were revoked (server -> client).
	TypeSessionRevoked = "session.revoked"

	// TypeError is a generic error envelope (server -> client).
	TypeError = "error"
)

// Envelope is the canonical wire wrapper.
type Envelope struct {
	V       string          `json:"v"`
	Type    string          `json:"type"`
	ID      string          `json:"id,omitempty"`
	TS      time.Time       `json:"ts,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Validate performs strict structural validation for an Envelope.
func (e Envelope) Validate() error {
	if strings.TrimSpace(e.V) == "" {
		return errors.New("missing field: v")
	}
	if e.V != Version {
		return fmt.Errorf("unsupported protocol version: %q", e.V)
	}
	if strings.TrimSpace(e.Type) == "" {
		return errors.New("missing field: type")
	}

	switch e.Type {
	case TypeHello, TypeHelloAck, TypeSessionRevoked, TypeError:
		return nil
	default:
		return fmt.Errorf("unknown type: %q", e.Type)
	}
}

// ---- Payloads ----

// HelloPayload is sent by the client once connected. Authentication
// happens during the HTTP upgrade, not here.
type HelloPayload struct{}

// HelloAckPayload identifies the authenticated connection.
type HelloAckPayload struct {
	ConnectionID string `json:"connection_id"`
	UserID       string `json:"user_id"`
	SessionID    string `json:"session_id"`
}

// Revocation scopes carried by SessionRevokedPayload.
const (
	ScopeRecord = "record"
	ScopeFamily = "family"
	ScopeUser   = "user"
)

// SessionRevokedPayload describes a revocation. Clients holding a refresh
// token of Family (or any token, for ScopeUser) must sign in again.
type SessionRevokedPayload struct {
	Reason    string    `json:"reason"`
	Family    string    `json:"family,omitempty"`
	Scope     string    `json:"scope"`
	RevokedAt time.Time `json:"revoked_at"`
}

// ErrorPayload is a generic error response payload.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
