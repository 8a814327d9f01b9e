package identity

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/oklog/ulid/v2"
)

// PostgresDirectory implements Directory over PostgreSQL.
//
// Design notes:
// - The pgx pool is owned by the caller; the directory never closes it.
// - Schema/table identifiers are quoted to avoid SQL injection via identifiers.
// - Unique and FK violations map to ConflictError / NotFoundError; all other
//   errors are returned wrapped with the operation name.
type PostgresDirectory struct {
	pool   *pgxpool.Pool
	schema string
}

// PostgresOption configures the directory.
type PostgresOption func(*PostgresDirectory) error

var pgIdentRe = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// WithSchema sets the Postgres schema (default "quill").
func WithSchema(schema string) PostgresOption {
	return func(d *PostgresDirectory) error {
		schema = strings.TrimSpace(schema)
		if schema == "" {
			return fmt.Errorf("identity: empty schema")
		}
		if !pgIdentRe.MatchString(schema) {
			return fmt.Errorf("identity: invalid schema identifier")
		}
		d.schema = schema
		return nil
	}
}

// NewPostgresDirectory constructs a PostgresDirectory.
func NewPostgresDirectory(pool *pgxpool.Pool, opts ...PostgresOption) (*PostgresDirectory, error) {
	d := &PostgresDirectory{pool: pool, schema: "quill"}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(d); err != nil {
			return nil, err
		}
	}
	if d.pool == nil {
		return nil, fmt.Errorf("identity: nil pool")
	}
	return d, nil
}

const userColumns = `id, email, email_verified, COALESCE(password_hash, ''),
	COALESCE(first_name, ''), COALESCE(last_name, ''), COALESCE(picture, ''),
	created_at, updated_at`

func scanUser(row pgx.Row) (User, error) {
	var u User
	err := row.Scan(&u.ID, &u.Email, &u.EmailVerified, &u.PasswordHash,
		&u.FirstName, &u.LastName, &u.Picture, &u.CreatedAt, &u.UpdatedAt)
	return u, err
}

func (d *PostgresDirectory) users() string     { return pgIdent(d.schema, "users") }
func (d *PostgresDirectory) providers() string { return pgIdent(d.schema, "user_providers") }

func (d *PostgresDirectory) FindByEmail(ctx context.Context, email string) (User, error) {
	const op = "identity.PostgresDirectory.FindByEmail"
	return d.findOne(ctx, op,
		`SELECT `+userColumns+` FROM `+d.users()+` WHERE email_norm = $1`,
		NormalizeEmail(email))
}

func (d *PostgresDirectory) FindByID(ctx context.Context, id string) (User, error) {
	const op = "identity.PostgresDirectory.FindByID"
	return d.findOne(ctx, op,
		`SELECT `+userColumns+` FROM `+d.users()+` WHERE id = $1`,
		id)
}

func (d *PostgresDirectory) FindByProvider(ctx context.Context, provider, providerUserID string) (User, error) {
	const op = "identity.PostgresDirectory.FindByProvider"
	return d.findOne(ctx, op,
		`SELECT `+userColumns+` FROM `+d.users()+`
		  WHERE id = (SELECT user_id FROM `+d.providers()+`
		               WHERE provider = $1 AND provider_user_id = $2)`,
		NormalizeProvider(provider), providerUserID)
}

func (d *PostgresDirectory) findOne(ctx context.Context, op, query string, args ...any) (User, error) {
	u, err := scanUser(d.pool.QueryRow(ctx, query, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return User{}, NotFoundError{Op: op, Resource: "user"}
		}
		return User{}, fmt.Errorf("%s: %w", op, err)
	}
	if u.Providers, err = d.loadProviders(ctx, d.pool, u.ID); err != nil {
		return User{}, fmt.Errorf("%s: %w", op, err)
	}
	return u, nil
}

type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func (d *PostgresDirectory) loadProviders(ctx context.Context, q querier, userID string) ([]ProviderLink, error) {
	rows, err := q.Query(ctx,
		`SELECT provider, provider_user_id, linked_at
		   FROM `+d.providers()+`
		  WHERE user_id = $1
		  ORDER BY linked_at, provider`,
		userID)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(r pgx.CollectableRow) (ProviderLink, error) {
		var l ProviderLink
		err := r.Scan(&l.Provider, &l.ProviderUserID, &l.LinkedAt)
		return l, err
	})
}

// Create inserts the user and its provider links in one transaction.
func (d *PostgresDirectory) Create(ctx context.Context, in NewUser) (User, error) {
	const op = "identity.PostgresDirectory.Create"

	if err := ctx.Err(); err != nil {
		return User{}, err
	}
	email := strings.TrimSpace(in.Email)
	if email == "" {
		return User{}, OpError{Op: op, Kind: ErrInvalidInput, Msg: "email is required"}
	}
	now := in.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}

	tx, err := d.pool.BeginTx(ctx, pgx.TxOptions{
		IsoLevel:   pgx.ReadCommitted,
		AccessMode: pgx.ReadWrite,
	})
	if err != nil {
		return User{}, fmt.Errorf("%s: begin: %w", op, err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	u, err := scanUser(tx.QueryRow(ctx,
		`INSERT INTO `+d.users()+` (
		     id, email, email_norm, email_verified, password_hash,
		     first_name, last_name, picture, created_at, updated_at
		   ) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $9)
		 RETURNING `+userColumns,
		ulid.Make().String(),
		email,
		NormalizeEmail(email),
		in.EmailVerified,
		nullIfEmpty(in.PasswordHash),
		nullIfEmpty(in.FirstName),
		nullIfEmpty(in.LastName),
		nullIfEmpty(in.Picture),
		now,
	))
	if err != nil {
		return User{}, classify(op, err)
	}

	for _, l := range in.Providers {
		if l.LinkedAt.IsZero() {
			l.LinkedAt = now
		}
		if err := d.insertLink(ctx, tx, u.ID, l); err != nil {
			return User{}, classify(op, err)
		}
	}

	if u.Providers, err = d.loadProviders(ctx, tx, u.ID); err != nil {
		return User{}, fmt.Errorf("%s: %w", op, err)
	}
	if err := tx.Commit(ctx); err != nil {
		return User{}, fmt.Errorf("%s: commit: %w", op, err)
	}
	return u, nil
}

func (d *PostgresDirectory) insertLink(ctx context.Context, tx pgx.Tx, userID string, l ProviderLink) error {
	_, err := tx.Exec(ctx,
		`INSERT INTO `+d.providers()+` (user_id, provider, provider_user_id, linked_at)
		 VALUES ($1, $2, $3, $4)`,
		userID, NormalizeProvider(l.Provider), l.ProviderUserID, l.LinkedAt,
	)
	return err
}

// Update applies the non-nil patch fields.
func (d *PostgresDirectory) Update(ctx context.Context, id string, patch Patch) (User, error) {
	const op = "identity.PostgresDirectory.Update"

	now := patch.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}

	u, err := scanUser(d.pool.QueryRow(ctx,
		`UPDATE `+d.users()+`
		    SET first_name     = COALESCE($2, first_name),
		        last_name      = COALESCE($3, last_name),
		        picture        = COALESCE($4, picture),
		        email_verified = COALESCE($5, email_verified),
		        updated_at     = $6
		  WHERE id = $1
		 RETURNING `+userColumns,
		id, patch.FirstName, patch.LastName, patch.Picture, patch.EmailVerified, now,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return User{}, NotFoundError{Op: op, Resource: "user"}
		}
		return User{}, fmt.Errorf("%s: %w", op, err)
	}
	if u.Providers, err = d.loadProviders(ctx, d.pool, u.ID); err != nil {
		return User{}, fmt.Errorf("%s: %w", op, err)
	}
	return u, nil
}

// LinkProvider attaches a provider identity. Relinking the same identity to
// the same user is a no-op.
func (d *PostgresDirectory) LinkProvider(ctx context.Context, userID string, link ProviderLink) error {
	const op = "identity.PostgresDirectory.LinkProvider"

	if link.LinkedAt.IsZero() {
		link.LinkedAt = time.Now().UTC()
	}
	provider := NormalizeProvider(link.Provider)

	var owner string
	err := d.pool.QueryRow(ctx,
		`WITH ins AS (
		     INSERT INTO `+d.providers()+` (user_id, provider, provider_user_id, linked_at)
		     VALUES ($1, $2, $3, $4)
		     ON CONFLICT (provider, provider_user_id) DO NOTHING
		     RETURNING user_id
		 )
		 SELECT user_id FROM ins
		 UNION ALL
		 SELECT user_id FROM `+d.providers()+`
		  WHERE provider = $2 AND provider_user_id = $3
		 LIMIT 1`,
		userID, provider, link.ProviderUserID, link.LinkedAt,
	).Scan(&owner)
	if err != nil {
		return classify(op, err)
	}
	if owner != userID {
		return ConflictError{Op: op, Field: "provider_identity"}
	}
	return nil
}

// classify maps constraint violations to typed errors.
func classify(op string, err error) error {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return fmt.Errorf("%s: %w", op, err)
	}
	switch pgErr.Code {
	case "23505": // unique_violation
		switch strings.ToLower(pgErr.ConstraintName) {
		case "uq_users_email_norm":
			return ConflictError{Op: op, Field: "email"}
		case "uq_user_providers_identity":
			return ConflictError{Op: op, Field: "provider_identity"}
		case "user_providers_pkey":
			return ConflictError{Op: op, Field: "provider"}
		default:
			return ConflictError{Op: op, Field: "unique"}
		}
	case "23503": // foreign_key_violation
		return NotFoundError{Op: op, Resource: "user"}
	}
	return fmt.Errorf("%s: %w", op, err)
}

// pgIdent quotes a schema-qualified identifier: "schema"."name".
func pgIdent(schema, name string) string {
	return pgx.Identifier{schema, name}.Sanitize()
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
