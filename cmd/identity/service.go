package identity

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"

	"quill/cmd/internal/auth/authority"
	"quill/cmd/security/password"
)

// SessionIssuer mints a fresh session for a persisted user.
type SessionIssuer interface {
	IssueInitialSession(ctx context.Context, userID string, dev authority.DeviceContext) (authority.TokenPair, error)
}

// Resolution is the result of a successful sign-in or sign-up.
type Resolution struct {
	User      User
	IsNewUser bool
	Tokens    authority.TokenPair
}

// RegisterInput is a password sign-up request.
type RegisterInput struct {
	Email     string `validate:"required,email,max=320"`
	Password  string `validate:"required"`
	FirstName string `validate:"omitempty,max=100"`
	LastName  string `validate:"omitempty,max=100"`
}

const defaultEntitlementTimeout = 10 * time.Second

// Service links identities to users and issues sessions for them.
type Service struct {
	dir          Directory
	issuer       SessionIssuer
	hasher       password.Hasher
	policy       password.Policy
	entitlements Entitlements
	entTimeout   time.Duration
	validate     *validator.Validate
	log          *slog.Logger
	now          func() time.Time

	dummyOnce sync.Once
	dummyHash string

	wg sync.WaitGroup
}

// Option configures a Service.
type Option func(*Service)

func WithEntitlements(e Entitlements) Option { return func(s *Service) { s.entitlements = e } }

// WithEntitlementTimeout bounds each AssignDefaultPlan call.
func WithEntitlementTimeout(d time.Duration) Option { return func(s *Service) { s.entTimeout = d } }

func WithPolicy(p password.Policy) Option   { return func(s *Service) { s.policy = p } }
func WithLogger(l *slog.Logger) Option      { return func(s *Service) { s.log = l } }
func WithClock(now func() time.Time) Option { return func(s *Service) { s.now = now } }

// NewService wires a Service.
func NewService(dir Directory, issuer SessionIssuer, hasher password.Hasher, opts ...Option) (*Service, error) {
	if dir == nil || issuer == nil || hasher == nil {
		return nil, errors.New("identity: directory, issuer and hasher are required")
	}
	s := &Service{
		dir:          dir,
		issuer:       issuer,
		hasher:       hasher,
		policy:       password.DefaultConfig().Policy,
		entitlements: NopEntitlements{},
		entTimeout:   defaultEntitlementTimeout,
		validate:     validator.New(validator.WithRequiredStructEnabled()),
		log:          slog.Default(),
		now:          func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Resolve maps a provider assertion to a user, creating or linking as
// needed, and issues a new session for that user.
//
// An existing user with the same email gains the provider; profile fields
// are only filled when empty. A new user is created with a verified email
// and receives default entitlements asynchronously. Directory failures
// return ErrIdentityResolution and issue nothing.
func (s *Service) Resolve(ctx context.Context, a Assertion, dev authority.DeviceContext) (Resolution, error) {
	const op = "identity.Resolve"

	a.Email = strings.TrimSpace(a.Email)
	a.Provider = NormalizeProvider(a.Provider)
	a.ProviderID = strings.TrimSpace(a.ProviderID)
	if err := s.validate.StructCtx(ctx, a); err != nil {
		return Resolution{}, OpError{Op: op, Kind: ErrInvalidInput, Msg: err.Error()}
	}
	if a.Provider == ProviderPassword {
		return Resolution{}, OpError{Op: op, Kind: ErrInvalidInput, Msg: "password is not an external provider"}
	}

	user, isNew, err := s.resolveUser(ctx, a)
	if err != nil {
		return Resolution{}, err
	}
	if isNew {
		s.assignDefaultPlan(ctx, user.ID)
	}
	return s.issue(ctx, user, isNew, dev)
}

func (s *Service) resolveUser(ctx context.Context, a Assertion) (User, bool, error) {
	const op = "identity.Resolve"
	now := s.now()
	email := NormalizeEmail(a.Email)

	owner, err := s.dir.FindByProvider(ctx, a.Provider, a.ProviderID)
	switch {
	case err == nil:
		if NormalizeEmail(owner.Email) != email {
			s.log.Warn("identity.conflict", "provider", a.Provider, "reason", "provider identity owned by another user")
			return User{}, false, OpError{Op: op, Kind: ErrIdentityConflict, Msg: "provider identity linked to another user"}
		}
	case !IsNotFound(err):
		return User{}, false, resolutionFailed("find by provider", err)
	}

	// Two attempts: a concurrent first sign-in for the same email can win
	// the insert, after which this request links to the user it created.
	for attempt := 0; attempt < 2; attempt++ {
		u, err := s.dir.FindByEmail(ctx, email)
		if err == nil {
			u, err = s.link(ctx, u, a, now)
			return u, false, err
		}
		if !IsNotFound(err) {
			return User{}, false, resolutionFailed("find by email", err)
		}

		u, err = s.dir.Create(ctx, NewUser{
			Email:         a.Email,
			EmailVerified: true,
			FirstName:     a.FirstName,
			LastName:      a.LastName,
			Picture:       a.Picture,
			Providers:     []ProviderLink{{Provider: a.Provider, ProviderUserID: a.ProviderID, LinkedAt: now}},
			Now:           now,
		})
		if err == nil {
			s.log.Info("identity.user.created", "user_id", u.ID, "provider", a.Provider)
			return u, true, nil
		}

		var ce ConflictError
		switch {
		case errors.As(err, &ce) && ce.Field == "email":
			continue
		case errors.As(err, &ce):
			return User{}, false, OpError{Op: op, Kind: ErrIdentityConflict, Msg: "provider identity linked to another user"}
		default:
			return User{}, false, resolutionFailed("create user", err)
		}
	}
	return User{}, false, resolutionFailed("create user", errors.New("email claimed concurrently"))
}

func (s *Service) link(ctx context.Context, u User, a Assertion, now time.Time) (User, error) {
	const op = "identity.Resolve"

	if existing, ok := u.Provider(a.Provider); ok {
		if existing.ProviderUserID != a.ProviderID {
			s.log.Warn("identity.conflict", "user_id", u.ID, "provider", a.Provider, "reason", "provider already linked with another id")
			return User{}, OpError{Op: op, Kind: ErrIdentityConflict, Msg: "provider already linked"}
		}
	} else {
		link := ProviderLink{Provider: a.Provider, ProviderUserID: a.ProviderID, LinkedAt: now}
		if err := s.dir.LinkProvider(ctx, u.ID, link); err != nil {
			if IsConflict(err) {
				return User{}, OpError{Op: op, Kind: ErrIdentityConflict, Msg: err.Error()}
			}
			return User{}, resolutionFailed("link provider", err)
		}
		u.Providers = append(u.Providers, link)
		s.log.Info("identity.provider.linked", "user_id", u.ID, "provider", a.Provider)
	}

	patch := a.fillEmpty(u)
	if patch.Empty() {
		return u, nil
	}
	patch.Now = now
	updated, err := s.dir.Update(ctx, u.ID, patch)
	if err != nil {
		return User{}, resolutionFailed("update profile", err)
	}
	return updated, nil
}

// Register creates a password user and issues its first session.
func (s *Service) Register(ctx context.Context, in RegisterInput, dev authority.DeviceContext) (Resolution, error) {
	const op = "identity.Register"

	in.Email = strings.TrimSpace(in.Email)
	if err := s.validate.StructCtx(ctx, in); err != nil {
		return Resolution{}, OpError{Op: op, Kind: ErrInvalidInput, Msg: err.Error()}
	}
	if err := s.policy.Validate(in.Password); err != nil {
		return Resolution{}, OpError{Op: op, Kind: ErrInvalidInput, Msg: err.Error()}
	}

	hash, err := s.hasher.Hash(in.Password)
	if err != nil {
		return Resolution{}, OpError{Op: op, Kind: ErrInvalidInput, Msg: err.Error()}
	}

	now := s.now()
	u, err := s.dir.Create(ctx, NewUser{
		Email:        in.Email,
		PasswordHash: hash,
		FirstName:    in.FirstName,
		LastName:     in.LastName,
		Providers:    []ProviderLink{{Provider: ProviderPassword, ProviderUserID: NormalizeEmail(in.Email), LinkedAt: now}},
		Now:          now,
	})
	if err != nil {
		if IsConflict(err) {
			return Resolution{}, ConflictError{Op: op, Field: "email"}
		}
		return Resolution{}, resolutionFailed("create user", err)
	}

	s.log.Info("identity.user.created", "user_id", u.ID, "provider", ProviderPassword)
	s.assignDefaultPlan(ctx, u.ID)
	return s.issue(ctx, u, true, dev)
}

// Login checks a password and issues a session. Unknown emails and users
// without a password pay the same hash compare as a wrong password.
func (s *Service) Login(ctx context.Context, email, pw string, dev authority.DeviceContext) (Resolution, error) {
	const op = "identity.Login"

	u, err := s.dir.FindByEmail(ctx, email)
	if err != nil && !IsNotFound(err) {
		return Resolution{}, resolutionFailed("find by email", err)
	}

	hash := u.PasswordHash
	if err != nil || hash == "" {
		hash = s.dummy()
	}
	ok, cmpErr := s.hasher.Compare(pw, hash)
	if err != nil || u.PasswordHash == "" || cmpErr != nil || !ok {
		if cmpErr != nil {
			s.log.Warn("identity.login.bad_hash", "user_id", u.ID, "err", cmpErr)
		}
		return Resolution{}, OpError{Op: op, Kind: ErrInvalidCredentials}
	}

	return s.issue(ctx, u, false, dev)
}

// User returns the user with the given id.
func (s *Service) User(ctx context.Context, id string) (User, error) {
	u, err := s.dir.FindByID(ctx, id)
	if err != nil && !IsNotFound(err) {
		return User{}, resolutionFailed("find by id", err)
	}
	return u, err
}

// Wait blocks until background entitlement calls have finished.
func (s *Service) Wait() { s.wg.Wait() }

func (s *Service) issue(ctx context.Context, u User, isNew bool, dev authority.DeviceContext) (Resolution, error) {
	pair, err := s.issuer.IssueInitialSession(ctx, u.ID, dev)
	if err != nil {
		return Resolution{}, err
	}
	return Resolution{User: u, IsNewUser: isNew, Tokens: pair}, nil
}

func (s *Service) assignDefaultPlan(ctx context.Context, userID string) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.entTimeout)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer cancel()
		if err := s.entitlements.AssignDefaultPlan(ctx, userID); err != nil {
			s.log.Error("identity.entitlements.fail", "user_id", userID, "err", err)
		}
	}()
}

func (s *Service) dummy() string {
	s.dummyOnce.Do(func() {
		h, err := s.hasher.Hash("quill-timing-parity-placeholder")
		if err != nil {
			s.log.Error("identity.dummy_hash.fail", "err", err)
			return
		}
		s.dummyHash = h
	})
	return s.dummyHash
}
