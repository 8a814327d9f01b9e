package api

import (
	"context"
	"log/slog"
	"net"
	"time"
)

// audit writes one security event to the audit logger. Token values are
// never part of an audit record.
func (h *Handler) audit(ctx context.Context, action string, userID string, ip net.IP, ua string, attrs ...slog.Attr) {
	base := []slog.Attr{slog.String("action", action)}
	if userID != "" {
		base = append(base, slog.String("user_id", userID))
	}
	if ip != nil {
		base = append(base, slog.String("ip", ip.String()))
	}
	if ua != "" {
		base = append(base, slog.String("user_agent", ua))
	}
	h.auditLog.LogAttrs(ctx, slog.LevelInfo, "auth.audit", append(base, attrs...)...)
}

func (h *Handler) auditLoginFailed(ctx context.Context, ip net.IP, ua, identifier, reason string) {
	h.audit(ctx, "auth.login.failed", "", ip, ua,
		slog.String("identifier", identifier),
		slog.String("reason", reason))
}

func (h *Handler) auditLoginSuccess(ctx context.Context, userID, sessionID string, ip net.IP, ua, provider string) {
	h.audit(ctx, "auth.login.success", userID, ip, ua,
		slog.String("session_id", sessionID),
		slog.String("provider", provider))
}

func (h *Handler) auditSignup(ctx context.Context, userID string, ip net.IP, ua, provider string) {
	h.audit(ctx, "auth.signup", userID, ip, ua, slog.String("provider", provider))
}

func (h *Handler) auditRateLimited(ctx context.Context, route string, ip net.IP, ua string, retryAfter time.Duration) {
	h.audit(ctx, "auth.rate_limited", "", ip, ua,
		slog.String("route", route),
		slog.Int64("retry_after_s", int64(retryAfter.Seconds())))
}

func (h *Handler) auditRefreshSuccess(ctx context.Context, userID, sessionID string, ip net.IP, ua string) {
	h.audit(ctx, "auth.refresh.success", userID, ip, ua, slog.String("session_id", sessionID))
}

func (h *Handler) auditLogout(ctx context.Context, ip net.IP, ua string) {
	h.audit(ctx, "auth.logout", "", ip, ua)
}

func (h *Handler) auditLogoutAll(ctx context.Context, userID string, revoked int64, ip net.IP, ua string) {
	h.audit(ctx, "auth.logout_all", userID, ip, ua, slog.Int64("revoked", revoked))
}
