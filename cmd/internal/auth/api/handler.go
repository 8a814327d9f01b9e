// Package api exposes the token authority and identity service over HTTP.
package api

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"quill/cmd/identity"
	"quill/cmd/internal/auth/authority"
	"quill/cmd/internal/oauth"
)

// Authority is the slice of the token authority used by the HTTP layer.
type Authority interface {
	Rotate(ctx context.Context, raw string, dev authority.DeviceContext) (authority.TokenPair, error)
	RevokeSession(ctx context.Context, raw, reason string) error
	RevokeAllSessions(ctx context.Context, userID, reason string) (int64, error)
	VerifyAccessToken(raw string) (authority.AccessClaims, error)
}

// Accounts resolves users and issues their first session.
type Accounts interface {
	Register(ctx context.Context, in identity.RegisterInput, dev authority.DeviceContext) (identity.Resolution, error)
	Login(ctx context.Context, email, password string, dev authority.DeviceContext) (identity.Resolution, error)
	Resolve(ctx context.Context, a identity.Assertion, dev authority.DeviceContext) (identity.Resolution, error)
	User(ctx context.Context, id string) (identity.User, error)
}

// Handler wires HTTP auth endpoints to the authority and identity services.
type Handler struct {
	log      *slog.Logger
	auditLog *slog.Logger
	cfg      Config

	auth     Authority
	accounts Accounts

	providers *oauth.Registry
	states    *oauth.StateCodec

	loginLimiter   *keyedLimiter
	refreshLimiter *keyedLimiter

	now func() time.Time
}

// HandlerOption configures optional handler dependencies.
type HandlerOption func(*Handler)

// WithOAuth enables the provider sign-in routes.
func WithOAuth(providers *oauth.Registry, states *oauth.StateCodec) HandlerOption {
	return func(h *Handler) {
		h.providers = providers
		h.states = states
	}
}

// WithClock overrides the time source (tests).
func WithClock(now func() time.Time) HandlerOption {
	return func(h *Handler) { h.now = now }
}

// NewHandler constructs a Handler.
func NewHandler(log *slog.Logger, cfg Config, auth Authority, accounts Accounts, opts ...HandlerOption) (*Handler, error) {
	if auth == nil || accounts == nil {
		return nil, errors.New("api: authority and accounts are required")
	}
	if log == nil {
		log = slog.Default()
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = 1 << 20
	}

	h := &Handler{
		log:            log,
		auditLog:       log.With("component", "audit"),
		cfg:            cfg,
		auth:           auth,
		accounts:       accounts,
		loginLimiter:   newKeyedLimiter(cfg.LoginIPMax, cfg.LoginIPWindow),
		refreshLimiter: newKeyedLimiter(cfg.RefreshIPMax, cfg.RefreshIPWindow),
		now:            func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h, nil
}

// Register wires auth routes onto mux.
func (h *Handler) Register(mux *http.ServeMux) {
	if h == nil || mux == nil {
		return
	}
	mux.HandleFunc("POST /auth/register", h.handleRegister)
	mux.HandleFunc("POST /auth/login", h.handleLogin)
	mux.HandleFunc("POST /auth/refresh", h.handleRefresh)
	mux.HandleFunc("POST /auth/logout", h.handleLogout)
	mux.HandleFunc("POST /auth/logout_all", h.handleLogoutAll)
	mux.HandleFunc("GET /auth/oauth/{provider}/start", h.handleOAuthStart)
	mux.HandleFunc("GET /auth/oauth/{provider}/callback", h.handleOAuthCallback)
	mux.HandleFunc("GET /me", h.handleMe)
}

// ---- handlers ----

func (h *Handler) handleRegister(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	ip, ua := h.client(r)
	if !h.allow(ctx, w, h.loginLimiter, "register", ip, ua) {
		return
	}

	var req registerRequest
	if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid request body")
		return
	}

	dev := h.device(r, req.Platform, req.RememberMe)
	res, err := h.accounts.Register(ctx, identity.RegisterInput{
		Email:     req.Email,
		Password:  req.Password,
		FirstName: req.FirstName,
		LastName:  req.LastName,
	}, dev)
	if err != nil {
		h.writeAccountError(w, "auth.register.fail", err)
		return
	}

	h.auditSignup(ctx, res.User.ID, ip, ua, identity.ProviderPassword)
	h.writeAuth(w, http.StatusCreated, res, dev.Platform)
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	ip, ua := h.client(r)
	if !h.allow(ctx, w, h.loginLimiter, "login", ip, ua) {
		return
	}

	var req loginRequest
	if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "email and password are required")
		return
	}

	dev := h.device(r, req.Platform, req.RememberMe)
	res, err := h.accounts.Login(ctx, req.Email, req.Password, dev)
	if err != nil {
		if errors.Is(err, identity.ErrInvalidCredentials) {
			h.auditLoginFailed(ctx, ip, ua, identity.NormalizeEmail(req.Email), "invalid_credentials")
		}
		h.writeAccountError(w, "auth.login.fail", err)
		return
	}

	h.auditLoginSuccess(ctx, res.User.ID, res.Tokens.SessionID, ip, ua, identity.ProviderPassword)
	h.writeAuth(w, http.StatusOK, res, dev.Platform)
}

func (h *Handler) handleRefresh(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	ip, ua := h.client(r)
	if !h.allow(ctx, w, h.refreshLimiter, "refresh", ip, ua) {
		return
	}

	var req refreshRequest
	if r.ContentLength != 0 {
		if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request", "invalid request body")
			return
		}
	}
	refreshToken := strings.TrimSpace(req.RefreshToken)
	fromCookie := false
	if refreshToken == "" {
		refreshToken, fromCookie = h.refreshTokenFromCookie(r)
	}
	if refreshToken == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "refresh_token is required")
		return
	}
	if fromCookie && !h.csrfDoubleSubmitValid(r) {
		writeError(w, http.StatusForbidden, "csrf_invalid", "missing or invalid csrf token")
		return
	}

	dev := h.device(r, req.Platform, req.RememberMe)
	pair, err := h.auth.Rotate(ctx, refreshToken, dev)
	if err != nil {
		if errors.Is(err, authority.ErrCredentialInvalid) && fromCookie {
			h.clearWebSessionCookies(w)
		}
		h.writeAuthorityError(w, "auth.refresh.fail", err)
		return
	}

	h.auditRefreshSuccess(ctx, pair.UserID, pair.SessionID, ip, ua)

	resp := toSessionResponse(pair)
	if fromCookie || h.shouldUseWebCookieTransport(dev.Platform) {
		if _, err := h.setWebSessionCookies(w, pair.RefreshToken, pair.RefreshExpiresAt); err != nil {
			h.log.Error("auth.refresh.web_cookie.fail", "err", err)
			writeError(w, http.StatusInternalServerError, "server_error", "internal error")
			return
		}
		resp.RefreshToken = ""
	}
	writeJSON(w, http.StatusOK, refreshResponse{Session: resp})
}

// handleLogout revokes the presented refresh token's family. Unknown or
// already revoked tokens still log out successfully.
func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	ip, ua := h.client(r)

	var req logoutRequest
	if r.ContentLength != 0 {
		if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request", "invalid request body")
			return
		}
	}
	refreshToken := strings.TrimSpace(req.RefreshToken)
	if refreshToken == "" {
		refreshToken, _ = h.refreshTokenFromCookie(r)
	}

	if refreshToken != "" {
		err := h.auth.RevokeSession(ctx, refreshToken, authority.ReasonLogout)
		if err != nil && !errors.Is(err, authority.ErrCredentialInvalid) {
			h.writeAuthorityError(w, "auth.logout.fail", err)
			return
		}
	}

	h.auditLogout(ctx, ip, ua)
	h.clearWebSessionCookies(w)
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleLogoutAll(w http.ResponseWriter, r *http.Request) {
	claims, ok := h.requireAuth(w, r)
	if !ok {
		return
	}

	ctx := r.Context()
	n, err := h.auth.RevokeAllSessions(ctx, claims.UserID, authority.ReasonLogoutEverywhere)
	if err != nil {
		h.writeAuthorityError(w, "auth.logout_all.fail", err)
		return
	}

	ip, ua := h.client(r)
	h.auditLogoutAll(ctx, claims.UserID, n, ip, ua)
	h.clearWebSessionCookies(w)
	writeJSON(w, http.StatusOK, logoutAllResponse{Revoked: n})
}

func (h *Handler) handleMe(w http.ResponseWriter, r *http.Request) {
	claims, ok := h.requireAuth(w, r)
	if !ok {
		return
	}

	u, err := h.accounts.User(r.Context(), claims.UserID)
	if err != nil {
		if identity.IsNotFound(err) {
			writeError(w, http.StatusUnauthorized, "not_found", "user not found")
			return
		}
		h.writeAccountError(w, "auth.me.fail", err)
		return
	}
	writeJSON(w, http.StatusOK, meResponse{User: toUserResponse(u)})
}

// ---- helpers ----

func (h *Handler) writeAuth(w http.ResponseWriter, status int, res identity.Resolution, platform authority.Platform) {
	sess := toSessionResponse(res.Tokens)
	if h.shouldUseWebCookieTransport(platform) {
		if _, err := h.setWebSessionCookies(w, res.Tokens.RefreshToken, res.Tokens.RefreshExpiresAt); err != nil {
			h.log.Error("auth.web_cookie.fail", "err", err)
			writeError(w, http.StatusInternalServerError, "server_error", "internal error")
			return
		}
		sess.RefreshToken = ""
	}
	writeJSON(w, status, authResponse{
		User:      toUserResponse(res.User),
		Session:   sess,
		IsNewUser: res.IsNewUser,
	})
}

// writeAuthorityError maps the authority taxonomy. Infrastructure failures
// are never reported as an invalid credential.
func (h *Handler) writeAuthorityError(w http.ResponseWriter, event string, err error) {
	var rl authority.RateLimitError
	switch {
	case errors.As(err, &rl):
		writeRateLimited(w, rl.RetryAfter)
	case errors.Is(err, authority.ErrRateLimited):
		writeRateLimited(w, 0)
	case errors.Is(err, authority.ErrCredentialInvalid):
		writeError(w, http.StatusUnauthorized, "session_expired", "please log in again")
	case errors.Is(err, authority.ErrAuthorityUnavailable):
		h.log.Warn(event, "err", err)
		writeError(w, http.StatusServiceUnavailable, "try_again", "please try again")
	default:
		h.log.Error(event, "err", err)
		writeError(w, http.StatusInternalServerError, "server_error", "internal error")
	}
}

func (h *Handler) writeAccountError(w http.ResponseWriter, event string, err error) {
	switch {
	case errors.Is(err, identity.ErrInvalidCredentials):
		writeError(w, http.StatusUnauthorized, "invalid_credentials", "invalid credentials")
	case errors.Is(err, identity.ErrIdentityConflict):
		writeError(w, http.StatusConflict, "identity_conflict", "this sign-in is linked to another account")
	case identity.IsConflict(err):
		writeError(w, http.StatusConflict, "conflict", "email already registered")
	case identity.IsInvalidInput(err):
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid input")
	case errors.Is(err, identity.ErrIdentityResolution):
		h.log.Warn(event, "err", err)
		writeError(w, http.StatusServiceUnavailable, "try_again", "please try again")
	default:
		h.writeAuthorityError(w, event, err)
	}
}

func (h *Handler) allow(ctx context.Context, w http.ResponseWriter, l *keyedLimiter, route string, ip net.IP, ua string) bool {
	if ip == nil {
		return true
	}
	ok, retry := l.Allow(ip.String(), h.now())
	if !ok {
		h.auditRateLimited(ctx, route, ip, ua, retry)
		writeRateLimited(w, retry)
	}
	return ok
}

func (h *Handler) requireAuth(w http.ResponseWriter, r *http.Request) (authority.AccessClaims, bool) {
	tok := bearerToken(r)
	if tok == "" {
		writeError(w, http.StatusUnauthorized, "unauthorized", "missing bearer token")
		return authority.AccessClaims{}, false
	}
	claims, err := h.auth.VerifyAccessToken(tok)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "unauthorized", "invalid token")
		return authority.AccessClaims{}, false
	}
	return claims, true
}

func (h *Handler) client(r *http.Request) (net.IP, string) {
	return clientIP(r, h.cfg.TrustProxy), strings.TrimSpace(r.UserAgent())
}

func (h *Handler) device(r *http.Request, platform string, rememberMe bool) authority.DeviceContext {
	ip, ua := h.client(r)
	return authority.DeviceContext{
		Platform:   authority.ParsePlatform(strings.ToLower(strings.TrimSpace(platform))),
		RememberMe: rememberMe,
		UserAgent:  ua,
		IP:         ip,
	}
}

func bearerToken(r *http.Request) string {
	raw := strings.TrimSpace(r.Header.Get("Authorization"))
	scheme, tok, ok := strings.Cut(raw, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(tok)
}

func clientIP(r *http.Request, trustProxy bool) net.IP {
	if trustProxy {
		if ip := parseForwardedIP(r.Header.Get("X-Forwarded-For")); ip != nil {
			return ip
		}
		if ip := net.ParseIP(strings.TrimSpace(r.Header.Get("X-Real-IP"))); ip != nil {
			return ip
		}
	}
	host, _, err := net.SplitHostPort(strings.TrimSpace(r.RemoteAddr))
	if err == nil {
		if ip := net.ParseIP(host); ip != nil {
			return ip
		}
	}
	return nil
}

func parseForwardedIP(raw string) net.IP {
	for _, p := range strings.Split(raw, ",") {
		if ip := net.ParseIP(strings.TrimSpace(p)); ip != nil {
			return ip
		}
	}
	return nil
}
