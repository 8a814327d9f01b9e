package authority

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"quill/cmd/security/password"
	"quill/cmd/security/token"
)

// Service is the token authority. It is safe for concurrent use; all shared
// mutable state lives in the Store.
type Service struct {
	cfg      Config
	store    Store
	hasher   password.Hasher
	access   AccessTokenManager
	refresh  *RefreshCodec
	sessions *token.SessionContext
	observer Observer
	log      *slog.Logger
	now      func() time.Time
}

// TokenPair is the result of issuing or rotating a session.
type TokenPair struct {
	UserID           string
	SessionID        string
	Family           string
	AccessToken      string
	AccessExpiresAt  time.Time
	RefreshToken     string
	RefreshExpiresAt time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithObserver installs an event observer (default NopObserver).
func WithObserver(o Observer) Option {
	return func(s *Service) {
		if o != nil {
			s.observer = o
		}
	}
}

// WithLogger sets the service logger (default slog.Default()).
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.log = l
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// WithAccessTokenManager overrides the manager chosen from Config.
func WithAccessTokenManager(m AccessTokenManager) Option {
	return func(s *Service) {
		if m != nil {
			s.access = m
		}
	}
}

// NewService wires a Service. The hasher must be the one the store hashes with.
func NewService(cfg Config, store Store, hasher password.Hasher, opts ...Option) (*Service, error) {
	if store == nil || hasher == nil {
		return nil, ErrConfig
	}

	s := &Service{
		cfg:      cfg,
		store:    store,
		hasher:   hasher,
		observer: NopObserver{},
		log:      slog.Default(),
		now:      func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if s.access == nil {
		m, err := NewAccessTokenManager(cfg)
		if err != nil {
			return nil, err
		}
		s.access = m
	}

	codec, err := NewRefreshCodec(cfg)
	if err != nil {
		return nil, err
	}
	s.refresh = codec

	sc, err := token.NewSessionContext(cfg.SessionContextKey, cfg.SessionBucket)
	if err != nil {
		return nil, ErrConfig
	}
	s.sessions = sc

	return s, nil
}

func (s *Service) refreshTTL(dev DeviceContext) time.Duration {
	switch dev.Platform {
	case PlatformWeb:
		return s.cfg.RefreshTTLWeb
	case PlatformIOS, PlatformAndroid, PlatformDesktop:
		if dev.RememberMe {
			return s.cfg.RefreshTTLNative
		}
		return s.cfg.RefreshTTLNativeShort
	default:
		return s.cfg.RefreshTTLWeb
	}
}

// IssueInitialSession starts a new token family for userID.
func (s *Service) IssueInitialSession(ctx context.Context, userID string, dev DeviceContext) (TokenPair, error) {
	if userID == "" {
		return TokenPair{}, ErrCredentialInvalid
	}
	now := s.now()
	if err := s.makeRoom(ctx, now, userID); err != nil {
		return TokenPair{}, err
	}
	pair, _, err := s.issue(ctx, now, userID, uuid.NewString(), dev)
	if err != nil {
		return TokenPair{}, err
	}
	s.observer.SessionIssued(userID, false)
	s.log.Info("authority.session.issued", "user_id", userID, "family", pair.Family, "platform", string(dev.Platform))
	return pair, nil
}

// makeRoom revokes the user's oldest families so that, with the one about
// to be issued, at most MaxCandidates remain live. Candidate lookup is
// bounded, so a live family beyond the cap could never validate.
func (s *Service) makeRoom(ctx context.Context, now time.Time, userID string) error {
	live, err := s.store.FindCandidates(ctx, userID, now, 0)
	if err != nil {
		return asUnavailable("session cap", err)
	}

	keep := s.cfg.MaxCandidates - 1
	seen := make(map[string]struct{}, len(live))
	var evict []string
	for _, r := range live {
		if _, ok := seen[r.Family]; ok {
			continue
		}
		seen[r.Family] = struct{}{}
		if len(seen) > keep {
			evict = append(evict, r.Family)
		}
	}

	for _, family := range evict {
		n, err := s.store.RevokeFamily(ctx, now, family, ReasonSessionLimit)
		if err != nil {
			return asUnavailable("session cap", err)
		}
		s.emitBulk(ScopeFamily, userID, family, ReasonSessionLimit, n, now)
	}
	return nil
}

// candidateLimit leaves headroom over the session cap for replacements
// stored by in-flight rotations.
func (s *Service) candidateLimit() int {
	return 2 * s.cfg.MaxCandidates
}

// issue mints and stores a refresh token in family, then signs the access
// token. If signing fails the stored record is revoked again.
func (s *Service) issue(ctx context.Context, now time.Time, userID, family string, dev DeviceContext) (TokenPair, Record, error) {
	refreshExp := now.Add(s.refreshTTL(dev))
	ip := token.TruncateIP(dev.ipString())
	ua := token.TruncateUserAgent(dev.UserAgent)

	var (
		raw string
		rec Record
		err error
	)
	// A duplicate hash can only come from a duplicate token; a fresh jti fixes it.
	for attempt := 0; attempt < 2; attempt++ {
		raw, err = s.refresh.Encode(userID, family, now, refreshExp)
		if err != nil {
			return TokenPair{}, Record{}, err
		}
		rec, err = s.store.Store(ctx, now, NewRecord{
			UserID:    userID,
			RawToken:  raw,
			Family:     family,
			ExpiresAt:  refreshExp,
			Platform:   dev.Platform,
			RememberMe: dev.RememberMe,
			IPAddress:  ip,
			UserAgent:  ua,
		})
		if !errors.Is(err, ErrDuplicateHash) {
			break
		}
	}
	if err != nil {
		return TokenPair{}, Record{}, err
	}

	sid := s.sessions.Derive(userID, ip, ua, now)
	access, accessExp, err := s.access.Issue(userID, sid, now)
	if err != nil {
		s.log.Error("authority.access.issue.fail", "user_id", userID, "family", family, "err", err)
		s.compensate(ctx, now, rec, ReasonIssueFailed)
		return TokenPair{}, Record{}, err
	}

	return TokenPair{
		UserID:           userID,
		SessionID:        sid,
		Family:           family,
		AccessToken:      access,
		AccessExpiresAt:  accessExp,
		RefreshToken:     raw,
		RefreshExpiresAt: refreshExp,
	}, rec, nil
}

// ValidateAndTouch validates a presented refresh token and records its use.
func (s *Service) ValidateAndTouch(ctx context.Context, raw string) (Record, error) {
	return s.validate(ctx, s.now(), raw)
}

func (s *Service) validate(ctx context.Context, now time.Time, raw string) (Record, error) {
	start := time.Now()
	rec, outcome, err := s.validateOutcome(ctx, now, raw)
	s.observer.RefreshValidated(outcome, time.Since(start))

	if outcome != OutcomeValid {
		lvl := slog.LevelInfo
		switch outcome {
		case OutcomeBadSignature:
			lvl = slog.LevelWarn
		case OutcomeUnavailable:
			lvl = slog.LevelError
		}
		s.log.Log(ctx, lvl, "authority.refresh.fail", "reason", string(outcome), "err", err)
	}
	return rec, err
}

func (s *Service) validateOutcome(ctx context.Context, now time.Time, raw string) (Record, Outcome, error) {
	// 1. Untrusted decode; no store access on failure.
	claims, err := s.refresh.DecodeUntrusted(raw)
	if err != nil {
		return Record{}, OutcomeMalformed, ErrCredentialInvalid
	}

	// 2-3. Narrow by user, then compare hashes outside any lock.
	match, outcome, err := s.findMatch(ctx, now, claims.UserID, raw)
	if err != nil {
		return Record{}, outcome, err
	}

	// 4. Hash matched: the signature must hold too, or the record is burned.
	if err := s.refresh.Verify(raw, now); err != nil {
		s.revokeTampered(ctx, now, match)
		return Record{}, OutcomeBadSignature, ErrCredentialInvalid
	}

	// 5. Re-check under the record lock; never trust the earlier read.
	rec, err := s.store.LockAndTouch(ctx, now, match.ID)
	switch {
	case errors.Is(err, ErrRecordNotActive):
		return Record{}, OutcomeNotActive, ErrCredentialInvalid
	case err != nil:
		return Record{}, OutcomeUnavailable, asUnavailable("lock and touch", err)
	}

	// 6.
	return rec, OutcomeValid, nil
}

// findMatch returns the first candidate whose hash matches raw.
func (s *Service) findMatch(ctx context.Context, now time.Time, userID, raw string) (Record, Outcome, error) {
	candidates, err := s.store.FindCandidates(ctx, userID, now, s.candidateLimit())
	if err != nil {
		return Record{}, OutcomeUnavailable, asUnavailable("find candidates", err)
	}

	for _, c := range candidates {
		if c.UserID != userID {
			continue
		}
		if err := ctx.Err(); err != nil {
			return Record{}, OutcomeUnavailable, asUnavailable("compare", err)
		}
		start := time.Now()
		ok, err := s.hasher.Compare(raw, c.TokenHash)
		s.observer.HashCompared(time.Since(start))
		if err != nil {
			s.log.Warn("authority.hash.invalid", "record_id", c.ID, "err", err)
			continue
		}
		if ok {
			return c, OutcomeValid, nil
		}
	}
	return Record{}, OutcomeNoMatch, ErrCredentialInvalid
}

// revokeTampered burns the matched record first, then the rest of its family.
func (s *Service) revokeTampered(ctx context.Context, now time.Time, rec Record) {
	s.log.Warn("authority.tamper_detected", "record_id", rec.ID, "user_id", rec.UserID, "family", rec.Family)

	revoked, err := s.store.Revoke(ctx, now, rec.ID, ReasonInvalidSignature)
	if err != nil {
		s.log.Error("authority.tamper_revoke.fail", "record_id", rec.ID, "err", err)
		return
	}
	if revoked {
		s.observer.CredentialsRevoked(RevocationEvent{
			Scope:    ScopeRecord,
			UserID:   rec.UserID,
			Family:   rec.Family,
			RecordID: rec.ID,
			Reason:   ReasonInvalidSignature,
			Count:    1,
			At:       now,
		})
	}

	n, err := s.store.RevokeFamily(ctx, now, rec.Family, ReasonInvalidSignature)
	if err != nil {
		s.log.Error("authority.tamper_revoke.fail", "family", rec.Family, "err", err)
		return
	}
	s.emitBulk(ScopeFamily, rec.UserID, rec.Family, ReasonInvalidSignature, n, now)
}

// Rotate validates raw, issues a replacement in the same family and revokes
// the presented record with reason "rotated".
//
// The replacement is stored before the old record is revoked. The revoke is
// a compare-and-swap; if another request revoked the old record first, the
// replacement is revoked as well and the caller gets ErrCredentialInvalid.
func (s *Service) Rotate(ctx context.Context, raw string, dev DeviceContext) (TokenPair, error) {
	now := s.now()

	old, err := s.validate(ctx, now, raw)
	if err != nil {
		return TokenPair{}, err
	}

	if dev.Platform == "" || dev.Platform == PlatformUnknown {
		dev.Platform = old.Platform
	}
	// Remember-me is chosen at sign-in; a refresh cannot drop it.
	dev.RememberMe = dev.RememberMe || old.RememberMe

	pair, fresh, err := s.issue(ctx, now, old.UserID, old.Family, dev)
	if err != nil {
		return TokenPair{}, asUnavailable("rotate store", err)
	}

	won, err := s.store.Revoke(ctx, now, old.ID, ReasonRotated)
	if err != nil {
		// Undo the replacement so a failed rotation leaves token state as it was.
		s.compensate(ctx, now, fresh, "rotation_failed")
		return TokenPair{}, asUnavailable("rotate revoke", err)
	}
	if !won {
		s.log.Warn("authority.rotation.race", "record_id", old.ID, "family", old.Family)
		s.compensate(ctx, now, fresh, ReasonRotationRace)
		return TokenPair{}, ErrCredentialInvalid
	}

	s.observer.CredentialsRevoked(RevocationEvent{
		Scope:    ScopeRecord,
		UserID:   old.UserID,
		Family:   old.Family,
		RecordID: old.ID,
		Reason:   ReasonRotated,
		Count:    1,
		At:       now,
	})
	s.observer.SessionIssued(old.UserID, true)
	return pair, nil
}

func (s *Service) compensate(ctx context.Context, now time.Time, rec Record, reason string) {
	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.LockTimeout)
	defer cancel()

	if _, err := s.store.Revoke(cctx, now, rec.ID, reason); err != nil {
		s.log.Error("authority.rotation.compensate.fail", "record_id", rec.ID, "family", rec.Family, "err", err)
	}
}

// RevokeSession revokes the whole family of the presented refresh token.
// The token must match a stored active record; its signature is not
// required since revocation only removes access.
func (s *Service) RevokeSession(ctx context.Context, raw, reason string) error {
	now := s.now()

	claims, err := s.refresh.DecodeUntrusted(raw)
	if err != nil {
		return ErrCredentialInvalid
	}
	match, _, err := s.findMatch(ctx, now, claims.UserID, raw)
	if err != nil {
		return err
	}

	n, err := s.store.RevokeFamily(ctx, now, match.Family, reason)
	if err != nil {
		return asUnavailable("revoke session", err)
	}
	s.emitBulk(ScopeFamily, match.UserID, match.Family, reason, n, now)
	return nil
}

// RevokeAllSessions revokes every record of userID.
func (s *Service) RevokeAllSessions(ctx context.Context, userID, reason string) (int64, error) {
	now := s.now()
	n, err := s.store.RevokeAllForUser(ctx, now, userID, reason)
	if err != nil {
		return 0, asUnavailable("revoke all", err)
	}
	s.emitBulk(ScopeUser, userID, "", reason, n, now)
	return n, nil
}

// RevokeFamily revokes every record in family, for administrative use.
func (s *Service) RevokeFamily(ctx context.Context, family, reason string) (int64, error) {
	now := s.now()
	n, err := s.store.RevokeFamily(ctx, now, family, reason)
	if err != nil {
		return 0, asUnavailable("revoke family", err)
	}
	s.emitBulk(ScopeFamily, "", family, reason, n, now)
	return n, nil
}

func (s *Service) emitBulk(scope RevocationScope, userID, family, reason string, n int64, now time.Time) {
	s.log.Info("authority.revoked", "scope", string(scope), "user_id", userID, "family", family, "reason", reason, "count", n)
	if n == 0 {
		return
	}
	s.observer.CredentialsRevoked(RevocationEvent{
		Scope:  scope,
		UserID: userID,
		Family: family,
		Reason: reason,
		Count:  n,
		At:     now,
	})
}

// VerifyAccessToken checks an access token without touching the store.
func (s *Service) VerifyAccessToken(raw string) (AccessClaims, error) {
	return s.access.Verify(raw, s.now())
}

// asUnavailable keeps taxonomy errors intact and wraps anything else.
func asUnavailable(op string, err error) error {
	if errors.Is(err, ErrAuthorityUnavailable) || errors.Is(err, ErrCredentialInvalid) {
		return err
	}
	return unavailable(op, err)
}
