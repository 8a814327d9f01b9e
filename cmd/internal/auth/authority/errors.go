package authority

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrCredentialInvalid covers malformed, unknown, tampered, expired and
	// revoked credentials. The cases are deliberately indistinguishable.
	ErrCredentialInvalid = errors.New("credential invalid")

	// ErrAuthorityUnavailable is returned for transient storage failures and
	// lock timeouts. No token state was changed; safe to retry.
	ErrAuthorityUnavailable = errors.New("authority unavailable")

	// ErrRateLimited is produced by rate limiters in front of the authority.
	ErrRateLimited = errors.New("rate limited")

	// ErrConfig is returned for invalid configuration.
	ErrConfig = errors.New("invalid config")

	// ErrRecordNotActive is returned by Store.LockAndTouch when the record is
	// missing, revoked or expired at lock time.
	ErrRecordNotActive = errors.New("refresh record not active")

	// ErrDuplicateHash is returned by Store.Store when the token hash is
	// already present.
	ErrDuplicateHash = errors.New("refresh token hash already stored")

	// ErrUnknownUser is returned by Store.Store when the owning user does not exist.
	ErrUnknownUser = errors.New("unknown user")
)

// RateLimitError carries retry metadata for throttled callers.
type RateLimitError struct {
	Key        string
	RetryAfter time.Duration
}

func (e RateLimitError) Error() string {
	if e.RetryAfter <= 0 {
		return ErrRateLimited.Error()
	}
	return fmt.Sprintf("%s: retry after %s", ErrRateLimited.Error(), e.RetryAfter)
}

func (e RateLimitError) Unwrap() error { return ErrRateLimited }

func unavailable(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrAuthorityUnavailable, op, err)
}
