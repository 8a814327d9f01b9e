package api

import (
	"errors"
	"net/http"

	"quill/cmd/internal/auth/authority"
	"quill/cmd/internal/oauth"
)

const oauthCookiePath = "/auth/oauth"

func (h *Handler) oauthProvider(w http.ResponseWriter, r *http.Request) (*oauth.Provider, bool) {
	if h.providers == nil || h.states == nil {
		writeError(w, http.StatusNotFound, "oauth_disabled", "oauth sign-in is not configured")
		return nil, false
	}
	p, err := h.providers.Get(r.PathValue("provider"))
	if err != nil {
		writeError(w, http.StatusNotFound, "unknown_provider", "unknown provider")
		return nil, false
	}
	return p, true
}

// handleOAuthStart stores signed flow state in a cookie and redirects to
// the provider's consent page.
func (h *Handler) handleOAuthStart(w http.ResponseWriter, r *http.Request) {
	p, ok := h.oauthProvider(w, r)
	if !ok {
		return
	}

	st, err := h.states.New(p.Name(), h.now())
	if err != nil {
		h.log.Error("auth.oauth.state.fail", "err", err)
		writeError(w, http.StatusInternalServerError, "server_error", "internal error")
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     oauth.StateCookieName,
		Value:    h.states.Encode(st),
		Path:     oauthCookiePath,
		Expires:  st.ExpiresAt,
		MaxAge:   int(h.states.TTL().Seconds()),
		HttpOnly: true,
		Secure:   h.cfg.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
	http.Redirect(w, r, p.AuthCodeURL(st.Value, st.Verifier), http.StatusFound)
}

// handleOAuthCallback completes the code flow and signs the user in. The
// browser flow always issues a web session.
func (h *Handler) handleOAuthCallback(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	ip, ua := h.client(r)
	if !h.allow(ctx, w, h.loginLimiter, "oauth_callback", ip, ua) {
		return
	}
	p, ok := h.oauthProvider(w, r)
	if !ok {
		return
	}

	// The state cookie is single use.
	http.SetCookie(w, &http.Cookie{
		Name:     oauth.StateCookieName,
		Path:     oauthCookiePath,
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.cfg.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})

	q := r.URL.Query()
	if e := q.Get("error"); e != "" {
		h.auditLoginFailed(ctx, ip, ua, p.Name(), "provider_denied")
		writeError(w, http.StatusBadRequest, "oauth_denied", "sign-in was cancelled")
		return
	}

	c, err := r.Cookie(oauth.StateCookieName)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_state", "sign-in session expired, please retry")
		return
	}
	st, err := h.states.Verify(c.Value, p.Name(), q.Get("state"), h.now())
	if err != nil {
		h.auditLoginFailed(ctx, ip, ua, p.Name(), "state_mismatch")
		writeError(w, http.StatusBadRequest, "invalid_state", "sign-in session expired, please retry")
		return
	}

	assertion, err := p.Exchange(ctx, q.Get("code"), st.Verifier)
	if err != nil {
		h.log.Warn("auth.oauth.exchange.fail", "provider", p.Name(), "err", err)
		status, code := http.StatusBadGateway, "oauth_failed"
		if errors.Is(err, oauth.ErrUnverifiedEmail) {
			status, code = http.StatusForbidden, "email_not_verified"
		}
		writeError(w, status, code, "could not complete sign-in with "+p.Name())
		return
	}

	dev := h.device(r, string(authority.PlatformWeb), false)
	res, err := h.accounts.Resolve(ctx, assertion, dev)
	if err != nil {
		h.writeAccountError(w, "auth.oauth.resolve.fail", err)
		return
	}

	if res.IsNewUser {
		h.auditSignup(ctx, res.User.ID, ip, ua, p.Name())
	}
	h.auditLoginSuccess(ctx, res.User.ID, res.Tokens.SessionID, ip, ua, p.Name())
	h.writeAuth(w, http.StatusOK, res, dev.Platform)
}
