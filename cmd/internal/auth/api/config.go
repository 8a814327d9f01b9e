package api

import (
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config controls HTTP auth behavior and security defaults.
type Config struct {
	TrustProxy   bool
	MaxBodyBytes int64

	// Per-IP sliding windows.
	LoginIPMax      int
	LoginIPWindow   time.Duration
	RefreshIPMax    int
	RefreshIPWindow time.Duration

	// Web clients receive the refresh token in an HttpOnly cookie and must
	// echo the CSRF cookie in CSRFHeaderName when refreshing from it.
	WebRefreshCookieEnabled bool
	RefreshCookieName       string
	CSRFCookieName          string
	CSRFHeaderName          string
	CookiePath              string
	CookieDomain            string
	CookieSecure            bool
	CookieSameSite          http.SameSite
}

// LoadConfigFromEnv loads auth config from environment variables with safe defaults.
func LoadConfigFromEnv() Config {
	cfg := Config{
		TrustProxy:              envBool("QUILL_AUTH_TRUST_PROXY", false),
		MaxBodyBytes:            envInt64("QUILL_AUTH_MAX_BODY_BYTES", 1<<20), // 1 MiB
		LoginIPMax:              envInt("QUILL_AUTH_LOGIN_IP_MAX", 20),
		LoginIPWindow:           envDuration("QUILL_AUTH_LOGIN_IP_WINDOW", 5*time.Minute),
		RefreshIPMax:            envInt("QUILL_AUTH_REFRESH_IP_MAX", 120),
		RefreshIPWindow:         envDuration("QUILL_AUTH_REFRESH_IP_WINDOW", time.Minute),
		WebRefreshCookieEnabled: envBool("QUILL_AUTH_WEB_REFRESH_COOKIE", true),
		RefreshCookieName:       envString("QUILL_AUTH_REFRESH_COOKIE_NAME", "quill_refresh_token"),
		CSRFCookieName:          envString("QUILL_AUTH_CSRF_COOKIE_NAME", "quill_csrf_token"),
		CSRFHeaderName:          envString("QUILL_AUTH_CSRF_HEADER_NAME", "X-CSRF-Token"),
		CookiePath:              envString("QUILL_AUTH_COOKIE_PATH", "/auth"),
		CookieDomain:            strings.TrimSpace(os.Getenv("QUILL_AUTH_COOKIE_DOMAIN")),
		CookieSecure:            envBool("QUILL_AUTH_COOKIE_SECURE", true),
		CookieSameSite:          parseSameSite(os.Getenv("QUILL_AUTH_COOKIE_SAMESITE")),
	}

	// Browsers drop SameSite=None cookies that are not Secure.
	if cfg.CookieSameSite == http.SameSiteNoneMode {
		cfg.CookieSecure = true
	}
	if cfg.CSRFCookieName == cfg.RefreshCookieName {
		cfg.CSRFCookieName = cfg.RefreshCookieName + "_csrf"
	}
	return cfg
}

func parseSameSite(v string) http.SameSite {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "strict":
		return http.SameSiteStrictMode
	case "none":
		return http.SameSiteNoneMode
	case "default":
		return http.SameSiteDefaultMode
	default:
		return http.SameSiteLaxMode
	}
}

func envString(key, def string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	return v
}

func envBool(key string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func envInt(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return def
	}
	return n
}

func envInt64(key string, def int64) int64 {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil || n <= 0 {
		return def
	}
	return n
}

func envDuration(key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return def
	}
	return d
}
