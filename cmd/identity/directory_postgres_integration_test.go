package identity

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/oklog/ulid/v2"

	"quill/cmd/internal/pgtest"
)

// Integration tests are opt-in and require QUILL_DATABASE_URL.

func uniqueEmail(prefix string) string {
	return prefix + "-" + strings.ToLower(ulid.Make().String()) + "@Example.test"
}

func cleanupUser(t *testing.T, d *PostgresDirectory, id string) {
	t.Helper()
	t.Cleanup(func() {
		_, _ = d.pool.Exec(context.Background(), `DELETE FROM quill.users WHERE id = $1`, id)
	})
}

func mustDirectory(t *testing.T) *PostgresDirectory {
	t.Helper()
	d, err := NewPostgresDirectory(pgtest.Pool(t))
	if err != nil {
		t.Fatalf("NewPostgresDirectory: %v", err)
	}
	return d
}

func TestPostgresDirectory_CreateAndFind_CaseInsensitiveEmail(t *testing.T) {
	d := mustDirectory(t)
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	email := uniqueEmail("Ada")
	pid := ulid.Make().String()
	u, err := d.Create(ctx, NewUser{
		Email:         email,
		EmailVerified: true,
		FirstName:     "Ada",
		Providers:     []ProviderLink{{Provider: "Google", ProviderUserID: pid}},
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	cleanupUser(t, d, u.ID)

	got, err := d.FindByEmail(ctx, "  "+strings.ToUpper(email)+" ")
	if err != nil {
		t.Fatalf("find by email: %v", err)
	}
	if got.ID != u.ID || !got.EmailVerified || got.FirstName != "Ada" {
		t.Fatalf("unexpected user: %+v", got)
	}
	if l, ok := got.Provider("google"); !ok || l.ProviderUserID != pid {
		t.Fatalf("expected google link, got %+v", got.Providers)
	}

	byProv, err := d.FindByProvider(ctx, "google", pid)
	if err != nil || byProv.ID != u.ID {
		t.Fatalf("find by provider: %v (%+v)", err, byProv)
	}

	if _, err := d.Create(ctx, NewUser{Email: strings.ToLower(email)}); !IsConflict(err) {
		t.Fatalf("expected email conflict, got %v", err)
	}
}

func TestPostgresDirectory_FindMissing(t *testing.T) {
	d := mustDirectory(t)
	ctx := context.Background()

	if _, err := d.FindByEmail(ctx, uniqueEmail("nobody")); !IsNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}
	if _, err := d.FindByID(ctx, ulid.Make().String()); !IsNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}
	if _, err := d.Update(ctx, ulid.Make().String(), Patch{}); !IsNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestPostgresDirectory_UpdateOnlyTouchesPatchedFields(t *testing.T) {
	d := mustDirectory(t)
	ctx := context.Background()

	u, err := d.Create(ctx, NewUser{Email: uniqueEmail("patch"), FirstName: "Keep"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	cleanupUser(t, d, u.ID)

	last := "Lovelace"
	got, err := d.Update(ctx, u.ID, Patch{LastName: &last})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if got.FirstName != "Keep" || got.LastName != "Lovelace" {
		t.Fatalf("unexpected user after patch: %+v", got)
	}
}

func TestPostgresDirectory_LinkProvider(t *testing.T) {
	d := mustDirectory(t)
	ctx := context.Background()

	a, err := d.Create(ctx, NewUser{Email: uniqueEmail("a")})
	if err != nil {
		t.Fatalf("create a: %v", err)
	}
	cleanupUser(t, d, a.ID)
	b, err := d.Create(ctx, NewUser{Email: uniqueEmail("b")})
	if err != nil {
		t.Fatalf("create b: %v", err)
	}
	cleanupUser(t, d, b.ID)

	pid := ulid.Make().String()
	link := ProviderLink{Provider: "github", ProviderUserID: pid}
	if err := d.LinkProvider(ctx, a.ID, link); err != nil {
		t.Fatalf("link: %v", err)
	}
	// Idempotent for the same user.
	if err := d.LinkProvider(ctx, a.ID, link); err != nil {
		t.Fatalf("relink: %v", err)
	}

	// Same provider identity on another user.
	err = d.LinkProvider(ctx, b.ID, link)
	if !IsConflict(err) {
		t.Fatalf("expected conflict, got %v", err)
	}

	// Same provider, different id, same user.
	err = d.LinkProvider(ctx, a.ID, ProviderLink{Provider: "github", ProviderUserID: ulid.Make().String()})
	if !IsConflict(err) {
		t.Fatalf("expected provider conflict, got %v", err)
	}

	if err := d.LinkProvider(ctx, ulid.Make().String(), ProviderLink{Provider: "google", ProviderUserID: ulid.Make().String()}); !IsNotFound(err) {
		t.Fatalf("expected not found for missing user, got %v", err)
	}
}
