package authority

import (
	"context"
	"time"
)

// Store persists hashed refresh token records.
//
// Implementations must:
//   - hash NewRecord.RawToken before persisting and keep TokenHash unique;
//   - return only active records of exactly one user from FindCandidates;
//   - lock a single record (not the table) in LockAndTouch, re-check it is
//     active inside the lock and fail with ErrAuthorityUnavailable when the
//     lock cannot be taken within the configured timeout;
//   - never transition a record out of the revoked state.
//
// Infrastructure failures are reported wrapped in ErrAuthorityUnavailable.
type Store interface {
	// Store hashes and inserts a new record.
	Store(ctx context.Context, now time.Time, rec NewRecord) (Record, error)

	// FindCandidates returns the user's non-revoked, non-expired records,
	// newest first, at most limit of them (all of them when limit <= 0).
	FindCandidates(ctx context.Context, userID string, now time.Time, limit int) ([]Record, error)

	// LockAndTouch re-checks the record under its lock and sets last_used_at.
	// Returns ErrRecordNotActive if it is gone, revoked or expired.
	LockAndTouch(ctx context.Context, now time.Time, id string) (Record, error)

	// Revoke revokes one record. It reports false when the record was
	// already revoked (or missing); that is not an error.
	Revoke(ctx context.Context, now time.Time, id, reason string) (bool, error)

	// RevokeAllForUser revokes every non-revoked record of the user.
	RevokeAllForUser(ctx context.Context, now time.Time, userID, reason string) (int64, error)

	// RevokeFamily revokes every non-revoked record in the family,
	// regardless of expiry.
	RevokeFamily(ctx context.Context, now time.Time, family, reason string) (int64, error)

	// PurgeExpired deletes records whose expires_at is before olderThan,
	// regardless of revocation state.
	PurgeExpired(ctx context.Context, olderThan time.Time) (int64, error)
}
