package realtime

import (
	"encoding/json"
	"log/slog"

	"quill/cmd/internal/auth/authority"
	v1 "quill/contracts/realtime/v1"
)

// Notifier is an authority.Observer that pushes session.revoked envelopes
// to the affected user's live connections.
type Notifier struct {
	authority.NopObserver

	hub *Hub
	log *slog.Logger
}

// NewNotifier constructs a Notifier publishing through hub.
func NewNotifier(hub *Hub, log *slog.Logger) *Notifier {
	if log == nil {
		log = slog.Default()
	}
	return &Notifier{hub: hub, log: log}
}

// CredentialsRevoked implements authority.Observer. Rotation is routine and
// is not announced.
func (n *Notifier) CredentialsRevoked(ev authority.RevocationEvent) {
	if n == nil || n.hub == nil || ev.UserID == "" || ev.Reason == authority.ReasonRotated {
		return
	}

	payload, err := json.Marshal(v1.SessionRevokedPayload{
		Reason:    ev.Reason,
		Family:    ev.Family,
		Scope:     string(ev.Scope),
		RevokedAt: ev.At,
	})
	if err != nil {
		n.log.Error("realtime.notify.encode.fail", "err", err)
		return
	}

	// Logging out everywhere ends every connection of the user; narrower
	// scopes leave it to the client to match the family it holds.
	final := ev.Scope == authority.ScopeUser
	env := newEnvelope(v1.TypeSessionRevoked, payload, ev.At)
	delivered := n.hub.Publish(ev.UserID, Frame{Envelope: env, Final: final})

	n.log.Debug("realtime.notify.revoked",
		"user_id", ev.UserID,
		"scope", string(ev.Scope),
		"reason", ev.Reason,
		"delivered", delivered,
	)
}
