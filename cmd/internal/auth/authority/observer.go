package authority

import "time"

// Outcome classifies a refresh validation for observers and logs. Callers
// of the Service never see it.
type Outcome string

const (
	OutcomeValid        Outcome = "valid"
	OutcomeMalformed    Outcome = "malformed"
	OutcomeNoMatch      Outcome = "no_match"
	OutcomeBadSignature Outcome = "bad_signature"
	OutcomeNotActive    Outcome = "not_active"
	OutcomeUnavailable  Outcome = "unavailable"
)

// RevocationScope tells how many records a revocation event covers.
type RevocationScope string

const (
	ScopeRecord RevocationScope = "record"
	ScopeFamily RevocationScope = "family"
	ScopeUser   RevocationScope = "user"
)

// RevocationEvent describes a committed revocation. UserID is empty when a
// family was revoked without knowing its owner.
type RevocationEvent struct {
	Scope    RevocationScope
	UserID   string
	Family   string
	RecordID string
	Reason   string
	Count    int64
	At       time.Time
}

// Observer receives authority events. Implementations must be fast and
// must not block; they run on the request path.
type Observer interface {
	SessionIssued(userID string, rotated bool)
	RefreshValidated(outcome Outcome, elapsed time.Duration)
	HashCompared(elapsed time.Duration)
	CredentialsRevoked(ev RevocationEvent)
}

// NopObserver ignores all events.
type NopObserver struct{}

func (NopObserver) SessionIssued(string, bool)              {}
func (NopObserver) RefreshValidated(Outcome, time.Duration) {}
func (NopObserver) HashCompared(time.Duration)              {}
func (NopObserver) CredentialsRevoked(RevocationEvent)      {}

// Observers fans every event out to each member in order.
type Observers []Observer

func (o Observers) SessionIssued(userID string, rotated bool) {
	for _, x := range o {
		x.SessionIssued(userID, rotated)
	}
}

func (o Observers) RefreshValidated(outcome Outcome, elapsed time.Duration) {
	for _, x := range o {
		x.RefreshValidated(outcome, elapsed)
	}
}

func (o Observers) HashCompared(elapsed time.Duration) {
	for _, x := range o {
		x.HashCompared(elapsed)
	}
}

func (o Observers) CredentialsRevoked(ev RevocationEvent) {
	for _, x := range o {
		x.CredentialsRevoked(ev)
	}
}
