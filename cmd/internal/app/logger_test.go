package app

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"
)

func TestParseLogLevel(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in   string
		want slog.Level
	}{
		{in: "debug", want: slog.LevelDebug},
		{in: "INFO", want: slog.LevelInfo},
		{in: "warn", want: slog.LevelWarn},
		{in: "warning", want: slog.LevelWarn},
		{in: "error", want: slog.LevelError},
		{in: "unknown", want: slog.LevelInfo},
		{in: "", want: slog.LevelInfo},
	}

	for _, tc := range cases {
		got := parseLogLevel(tc.in)
		if got != tc.want {
			t.Fatalf("parseLogLevel(%q)=%v want=%v", tc.in, got, tc.want)
		}
	}
}

func TestJSONHandlerRedactsSecrets(t *testing.T) {
	var buf bytes.Buffer
	log := slog.New(newHandler(&buf, "info", "json", false))

	log.Info("auth.refresh", "refresh_token", "rt-secret", "user_id", "u1",
		slog.Group("req", "Authorization", "Bearer at-secret"))

	var rec map[string]any
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("unmarshal: %v (%s)", err, buf.String())
	}
	if rec["refresh_token"] != redacted {
		t.Fatalf("refresh_token=%v", rec["refresh_token"])
	}
	if rec["user_id"] != "u1" {
		t.Fatalf("user_id=%v", rec["user_id"])
	}
	if strings.Contains(buf.String(), "secret") {
		t.Fatalf("secret leaked: %s", buf.String())
	}
}

func TestPrettyHandlerRedactsSecrets(t *testing.T) {
	var buf bytes.Buffer
	log := slog.New(newHandler(&buf, "debug", "pretty", false))

	log.With("password", "hunter2").Debug("auth.login", "email", "ada@example.com")

	out := buf.String()
	if strings.Contains(out, "hunter2") {
		t.Fatalf("secret leaked: %s", out)
	}
	if !strings.Contains(out, "password="+redacted) || !strings.Contains(out, "email=ada@example.com") {
		t.Fatalf("unexpected output: %s", out)
	}
}
