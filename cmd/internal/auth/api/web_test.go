package api

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"quill/cmd/internal/auth/authority"
)

func cookieConfig() Config {
	return Config{
		WebRefreshCookieEnabled: true,
		RefreshCookieName:       "quill_refresh_token",
		CSRFCookieName:          "quill_csrf_token",
		CSRFHeaderName:          "X-CSRF-Token",
		CookiePath:              "/auth",
		CookieSecure:            true,
		CookieSameSite:          http.SameSiteLaxMode,
	}
}

func TestShouldUseWebCookieTransport(t *testing.T) {
	h := &Handler{cfg: Config{WebRefreshCookieEnabled: true}}
	if !h.shouldUseWebCookieTransport(authority.PlatformWeb) {
		t.Fatalf("expected web cookie transport enabled for web platform")
	}
	if h.shouldUseWebCookieTransport(authority.PlatformIOS) {
		t.Fatalf("expected web cookie transport disabled for non-web platform")
	}
}

func TestSetWebSessionCookies(t *testing.T) {
	h := &Handler{cfg: cookieConfig()}

	rr := httptest.NewRecorder()
	exp := time.Now().UTC().Add(30 * time.Minute)
	csrf, err := h.setWebSessionCookies(rr, "refresh-token-123", exp)
	if err != nil {
		t.Fatalf("setWebSessionCookies: %v", err)
	}
	if csrf == "" {
		t.Fatalf("expected csrf token")
	}

	cookies := rr.Result().Cookies()
	if len(cookies) != 2 {
		t.Fatalf("expected 2 cookies, got %d", len(cookies))
	}
	for _, c := range cookies {
		switch c.Name {
		case "quill_refresh_token":
			if !c.HttpOnly || c.Value != "refresh-token-123" {
				t.Fatalf("unexpected refresh cookie: %+v", c)
			}
		case "quill_csrf_token":
			if c.HttpOnly || c.Value != csrf {
				t.Fatalf("unexpected csrf cookie: %+v", c)
			}
		}
	}
}

func TestCSRFDoubleSubmitValidation(t *testing.T) {
	h := &Handler{cfg: cookieConfig()}

	req := httptest.NewRequest(http.MethodPost, "/auth/refresh", nil)
	req.AddCookie(&http.Cookie{Name: "quill_csrf_token", Value: "csrf-abc"})
	req.Header.Set("X-CSRF-Token", "csrf-abc")
	if !h.csrfDoubleSubmitValid(req) {
		t.Fatalf("expected csrf validation success")
	}

	req.Header.Set("X-CSRF-Token", "csrf-abd")
	if h.csrfDoubleSubmitValid(req) {
		t.Fatalf("expected csrf validation failure")
	}
}
