package authority

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

	"quill/cmd/security/password"
)

// PostgresStore implements Store over quill.refresh_tokens.
//
// The pgx pool is owned by the caller. Hashing always happens before a
// statement is sent; no transaction is open across a hash call.
type PostgresStore struct {
	pool        *pgxpool.Pool
	hasher      password.Hasher
	schema      string
	lockTimeout time.Duration
}

// PostgresOption configures the store.
type PostgresOption func(*PostgresStore) error

var pgIdentRe = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// WithSchema sets the Postgres schema (default "quill").
func WithSchema(schema string) PostgresOption {
	return func(s *PostgresStore) error {
		schema = strings.TrimSpace(schema)
		if !pgIdentRe.MatchString(schema) {
			return fmt.Errorf("authority: invalid schema identifier %q", schema)
		}
		s.schema = schema
		return nil
	}
}

// WithLockTimeout bounds row lock waits (default 2s).
func WithLockTimeout(d time.Duration) PostgresOption {
	return func(s *PostgresStore) error {
		if d < time.Millisecond {
			return fmt.Errorf("authority: lock timeout too small: %s", d)
		}
		s.lockTimeout = d
		return nil
	}
}

// NewPostgresStore constructs a PostgresStore.
func NewPostgresStore(pool *pgxpool.Pool, hasher password.Hasher, opts ...PostgresOption) (*PostgresStore, error) {
	st := &PostgresStore{
		pool:        pool,
		hasher:      hasher,
		schema:      "quill",
		lockTimeout: 2 * time.Second,
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(st); err != nil {
			return nil, err
		}
	}
	if st.pool == nil || st.hasher == nil {
		return nil, fmt.Errorf("authority: nil pool or hasher")
	}
	return st, nil
}

const recordColumns = `id, user_id, token_hash, token_family, platform, remember_me,
	COALESCE(ip_address, ''), COALESCE(user_agent, ''),
	created_at, expires_at, last_used_at,
	is_revoked, revoked_at, COALESCE(revoked_reason, '')`

func scanRecord(row pgx.Row) (Record, error) {
	var r Record
	var platform string
	err := row.Scan(
		&r.ID, &r.UserID, &r.TokenHash, &r.Family, &platform, &r.RememberMe,
		&r.IPAddress, &r.UserAgent,
		&r.CreatedAt, &r.ExpiresAt, &r.LastUsedAt,
		&r.IsRevoked, &r.RevokedAt, &r.RevokedReason,
	)
	r.Platform = Platform(platform)
	return r, err
}

func (s *PostgresStore) table() string {
	return pgx.Identifier{s.schema, "refresh_tokens"}.Sanitize()
}

func (s *PostgresStore) Store(ctx context.Context, now time.Time, nr NewRecord) (Record, error) {
	const op = "authority.Store"

	hash, err := s.hasher.Hash(nr.RawToken)
	if err != nil {
		return Record{}, err
	}

	rec := Record{
		ID:        ulid.Make().String(),
		UserID:    nr.UserID,
		TokenHash: hash,
		Family:    nr.Family,
		Platform:   nr.Platform,
		RememberMe: nr.RememberMe,
		IPAddress:  nr.IPAddress,
		UserAgent:  nr.UserAgent,
		CreatedAt:  now,
		ExpiresAt:  nr.ExpiresAt,
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO `+s.table()+` (
		     id, user_id, token_hash, token_family, platform, remember_me,
		     ip_address, user_agent, created_at, expires_at
		   ) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		rec.ID, rec.UserID, rec.TokenHash, rec.Family, string(rec.Platform), rec.RememberMe,
		nullIfEmpty(rec.IPAddress), nullIfEmpty(rec.UserAgent), rec.CreatedAt, rec.ExpiresAt,
	)
	if err != nil {
		switch pgCode(err) {
		case "23505":
			return Record{}, ErrDuplicateHash
		case "23503":
			return Record{}, ErrUnknownUser
		}
		return Record{}, unavailable(op, err)
	}
	return rec, nil
}

func (s *PostgresStore) FindCandidates(ctx context.Context, userID string, now time.Time, limit int) ([]Record, error) {
	const op = "authority.FindCandidates"

	// LIMIT NULL is no limit.
	var lim any
	if limit > 0 {
		lim = limit
	}

	rows, err := s.pool.Query(ctx,
		`SELECT `+recordColumns+`
		   FROM `+s.table()+`
		  WHERE user_id = $1
		    AND is_revoked = false
		    AND expires_at > $2
		  ORDER BY created_at DESC, id DESC
		  LIMIT $3`,
		userID, now, lim,
	)
	if err != nil {
		return nil, unavailable(op, err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, unavailable(op, err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable(op, err)
	}
	return out, nil
}

func (s *PostgresStore) LockAndTouch(ctx context.Context, now time.Time, id string) (Record, error) {
	const op = "authority.LockAndTouch"

	var rec Record
	err := s.inLockedTx(ctx, func(tx pgx.Tx) error {
		r, err := scanRecord(tx.QueryRow(ctx,
			`SELECT `+recordColumns+`
			   FROM `+s.table()+`
			  WHERE id = $1
			  FOR UPDATE`,
			id,
		))
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrRecordNotActive
		}
		if err != nil {
			return err
		}
		if !r.Active(now) {
			return ErrRecordNotActive
		}

		if _, err := tx.Exec(ctx,
			`UPDATE `+s.table()+`
			    SET last_used_at = $2
			  WHERE id = $1
			    AND is_revoked = false`,
			id, now,
		); err != nil {
			return err
		}

		t := now
		r.LastUsedAt = &t
		rec = r
		return nil
	})
	if errors.Is(err, ErrRecordNotActive) {
		return Record{}, ErrRecordNotActive
	}
	if err != nil {
		return Record{}, unavailable(op, err)
	}
	return rec, nil
}

func (s *PostgresStore) Revoke(ctx context.Context, now time.Time, id, reason string) (bool, error) {
	const op = "authority.Revoke"

	var n int64
	err := s.inLockedTx(ctx, func(tx pgx.Tx) error {
		ct, err := tx.Exec(ctx,
			`UPDATE `+s.table()+`
			    SET is_revoked = true, revoked_at = $2, revoked_reason = $3
			  WHERE id = $1
			    AND is_revoked = false`,
			id, now, reason,
		)
		n = ct.RowsAffected()
		return err
	})
	if err != nil {
		return false, unavailable(op, err)
	}
	return n == 1, nil
}

func (s *PostgresStore) RevokeAllForUser(ctx context.Context, now time.Time, userID, reason string) (int64, error) {
	return s.revokeWhere(ctx, "authority.RevokeAllForUser", "user_id", userID, now, reason)
}

func (s *PostgresStore) RevokeFamily(ctx context.Context, now time.Time, family, reason string) (int64, error) {
	return s.revokeWhere(ctx, "authority.RevokeFamily", "token_family", family, now, reason)
}

func (s *PostgresStore) revokeWhere(ctx context.Context, op, column, value string, now time.Time, reason string) (int64, error) {
	var n int64
	err := s.inLockedTx(ctx, func(tx pgx.Tx) error {
		ct, err := tx.Exec(ctx,
			`UPDATE `+s.table()+`
			    SET is_revoked = true, revoked_at = $2, revoked_reason = $3
			  WHERE `+pgx.Identifier{column}.Sanitize()+` = $1
			    AND is_revoked = false`,
			value, now, reason,
		)
		n = ct.RowsAffected()
		return err
	})
	if err != nil {
		return 0, unavailable(op, err)
	}
	return n, nil
}

func (s *PostgresStore) PurgeExpired(ctx context.Context, olderThan time.Time) (int64, error) {
	ct, err := s.pool.Exec(ctx,
		`DELETE FROM `+s.table()+` WHERE expires_at < $1`,
		olderThan,
	)
	if err != nil {
		return 0, unavailable("authority.PurgeExpired", err)
	}
	return ct.RowsAffected(), nil
}

// inLockedTx runs fn in a read-committed transaction whose row lock waits
// are bounded by the store's lock timeout.
func (s *PostgresStore) inLockedTx(ctx context.Context, fn func(pgx.Tx) error) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{
		IsoLevel:   pgx.ReadCommitted,
		AccessMode: pgx.ReadWrite,
	})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	// SET does not take bind parameters.
	if _, err := tx.Exec(ctx, fmt.Sprintf("SET LOCAL lock_timeout = '%dms'", s.lockTimeout.Milliseconds())); err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// IsLockTimeout reports whether err is a Postgres lock_not_available or
// query_canceled failure.
func IsLockTimeout(err error) bool {
	switch pgCode(err) {
	case "55P03", "57014":
		return true
	}
	return false
}

func pgCode(err error) string {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return ""
	}
	return pgErr.Code
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
