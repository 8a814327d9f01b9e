package authority

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"quill/cmd/security/password"
)

// MemoryStore is an in-process Store. Each record carries its own lock so
// that LockAndTouch and Revoke on different records never contend.
type MemoryStore struct {
	hasher      password.Hasher
	lockTimeout time.Duration

	mu      sync.RWMutex
	records map[string]*memRecord
	hashes  map[string]string
}

type memRecord struct {
	// lock is a one-slot semaphore; holding the slot means holding the row lock.
	lock chan struct{}
	rec  Record
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore(hasher password.Hasher, lockTimeout time.Duration) *MemoryStore {
	return &MemoryStore{
		hasher:      hasher,
		lockTimeout: lockTimeout,
		records:     make(map[string]*memRecord),
		hashes:      make(map[string]string),
	}
}

func (s *MemoryStore) Store(ctx context.Context, now time.Time, nr NewRecord) (Record, error) {
	if err := ctx.Err(); err != nil {
		return Record{}, unavailable("store", err)
	}

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

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.hashes[hash]; ok {
		return Record{}, ErrDuplicateHash
	}
	s.records[rec.ID] = &memRecord{lock: make(chan struct{}, 1), rec: rec}
	s.hashes[hash] = rec.ID
	return rec, nil
}

func (s *MemoryStore) FindCandidates(ctx context.Context, userID string, now time.Time, limit int) ([]Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, unavailable("find candidates", err)
	}

	s.mu.RLock()
	out := make([]Record, 0, 4)
	for _, m := range s.records {
		if m.rec.UserID == userID && m.rec.Active(now) {
			out = append(out, m.rec)
		}
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) LockAndTouch(ctx context.Context, now time.Time, id string) (Record, error) {
	m := s.get(id)
	if m == nil {
		return Record{}, ErrRecordNotActive
	}

	unlock, err := s.acquire(ctx, m)
	if err != nil {
		return Record{}, unavailable("lock and touch", err)
	}
	defer unlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	if !m.rec.Active(now) {
		return Record{}, ErrRecordNotActive
	}
	t := now
	m.rec.LastUsedAt = &t
	return m.rec, nil
}

func (s *MemoryStore) Revoke(ctx context.Context, now time.Time, id, reason string) (bool, error) {
	m := s.get(id)
	if m == nil {
		return false, nil
	}

	unlock, err := s.acquire(ctx, m)
	if err != nil {
		return false, unavailable("revoke", err)
	}
	defer unlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	return revokeLocked(&m.rec, now, reason), nil
}

func (s *MemoryStore) RevokeAllForUser(ctx context.Context, now time.Time, userID, reason string) (int64, error) {
	return s.revokeWhere(ctx, now, reason, func(r Record) bool { return r.UserID == userID })
}

func (s *MemoryStore) RevokeFamily(ctx context.Context, now time.Time, family, reason string) (int64, error) {
	return s.revokeWhere(ctx, now, reason, func(r Record) bool { return r.Family == family })
}

func (s *MemoryStore) PurgeExpired(ctx context.Context, olderThan time.Time) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, unavailable("purge expired", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for id, m := range s.records {
		if m.rec.ExpiresAt.Before(olderThan) {
			delete(s.hashes, m.rec.TokenHash)
			delete(s.records, id)
			n++
		}
	}
	return n, nil
}

// Get returns a copy of the record with the given id.
func (s *MemoryStore) Get(id string) (Record, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.records[id]
	if !ok {
		return Record{}, false
	}
	return m.rec, true
}

// Len reports the number of stored records.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

func (s *MemoryStore) revokeWhere(ctx context.Context, now time.Time, reason string, match func(Record) bool) (int64, error) {
	s.mu.RLock()
	targets := make([]*memRecord, 0, 4)
	for _, m := range s.records {
		if match(m.rec) && !m.rec.IsRevoked {
			targets = append(targets, m)
		}
	}
	s.mu.RUnlock()

	var n int64
	for _, m := range targets {
		unlock, err := s.acquire(ctx, m)
		if err != nil {
			return n, unavailable("revoke many", err)
		}
		s.mu.Lock()
		if revokeLocked(&m.rec, now, reason) {
			n++
		}
		s.mu.Unlock()
		unlock()
	}
	return n, nil
}

func (s *MemoryStore) get(id string) *memRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.records[id]
}

var errLockTimeout = errors.New("lock timeout")

func (s *MemoryStore) acquire(ctx context.Context, m *memRecord) (func(), error) {
	timer := time.NewTimer(s.lockTimeout)
	defer timer.Stop()

	select {
	case m.lock <- struct{}{}:
		return func() { <-m.lock }, nil
	case <-timer.C:
		return nil, errLockTimeout
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// revokeLocked is the only place a record's revocation state changes.
func revokeLocked(r *Record, now time.Time, reason string) bool {
	if r.IsRevoked {
		return false
	}
	t := now
	r.IsRevoked = true
	r.RevokedAt = &t
	r.RevokedReason = reason
	return true
}
