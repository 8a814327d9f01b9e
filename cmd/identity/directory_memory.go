package identity

import (
	"context"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// MemoryDirectory is an in-process Directory for tests and single-node
// development.
type MemoryDirectory struct {
	mu        sync.RWMutex
	users     map[string]User
	byEmail   map[string]string
	byProvKey map[string]string
}

// NewMemoryDirectory returns an empty directory.
func NewMemoryDirectory() *MemoryDirectory {
	return &MemoryDirectory{
		users:     make(map[string]User),
		byEmail:   make(map[string]string),
		byProvKey: make(map[string]string),
	}
}

func provKey(provider, providerUserID string) string {
	return provider + "\x00" + providerUserID
}

func (d *MemoryDirectory) FindByEmail(ctx context.Context, email string) (User, error) {
	const op = "identity.MemoryDirectory.FindByEmail"
	if err := ctx.Err(); err != nil {
		return User{}, err
	}

	d.mu.RLock()
	defer d.mu.RUnlock()
	id, ok := d.byEmail[NormalizeEmail(email)]
	if !ok {
		return User{}, NotFoundError{Op: op, Resource: "user"}
	}
	return cloneUser(d.users[id]), nil
}

func (d *MemoryDirectory) FindByID(ctx context.Context, id string) (User, error) {
	const op = "identity.MemoryDirectory.FindByID"
	if err := ctx.Err(); err != nil {
		return User{}, err
	}

	d.mu.RLock()
	defer d.mu.RUnlock()
	u, ok := d.users[id]
	if !ok {
		return User{}, NotFoundError{Op: op, Resource: "user"}
	}
	return cloneUser(u), nil
}

func (d *MemoryDirectory) FindByProvider(ctx context.Context, provider, providerUserID string) (User, error) {
	const op = "identity.MemoryDirectory.FindByProvider"
	if err := ctx.Err(); err != nil {
		return User{}, err
	}

	d.mu.RLock()
	defer d.mu.RUnlock()
	id, ok := d.byProvKey[provKey(NormalizeProvider(provider), providerUserID)]
	if !ok {
		return User{}, NotFoundError{Op: op, Resource: "user"}
	}
	return cloneUser(d.users[id]), nil
}

func (d *MemoryDirectory) Create(ctx context.Context, in NewUser) (User, error) {
	const op = "identity.MemoryDirectory.Create"
	if err := ctx.Err(); err != nil {
		return User{}, err
	}

	email := strings.TrimSpace(in.Email)
	norm := NormalizeEmail(email)
	if norm == "" {
		return User{}, OpError{Op: op, Kind: ErrInvalidInput, Msg: "email is required"}
	}
	now := in.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.byEmail[norm]; ok {
		return User{}, ConflictError{Op: op, Field: "email"}
	}
	for _, l := range in.Providers {
		if _, ok := d.byProvKey[provKey(NormalizeProvider(l.Provider), l.ProviderUserID)]; ok {
			return User{}, ConflictError{Op: op, Field: "provider_identity"}
		}
	}

	u := User{
		ID:            ulid.Make().String(),
		Email:         email,
		EmailVerified: in.EmailVerified,
		PasswordHash:  in.PasswordHash,
		FirstName:     in.FirstName,
		LastName:      in.LastName,
		Picture:       in.Picture,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	for _, l := range in.Providers {
		l.Provider = NormalizeProvider(l.Provider)
		if l.LinkedAt.IsZero() {
			l.LinkedAt = now
		}
		u.Providers = append(u.Providers, l)
		d.byProvKey[provKey(l.Provider, l.ProviderUserID)] = u.ID
	}
	d.users[u.ID] = u
	d.byEmail[norm] = u.ID
	return cloneUser(u), nil
}

func (d *MemoryDirectory) Update(ctx context.Context, id string, patch Patch) (User, error) {
	const op = "identity.MemoryDirectory.Update"
	if err := ctx.Err(); err != nil {
		return User{}, err
	}
	if patch.Now.IsZero() {
		patch.Now = time.Now().UTC()
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	u, ok := d.users[id]
	if !ok {
		return User{}, NotFoundError{Op: op, Resource: "user"}
	}
	patch.apply(&u)
	d.users[id] = u
	return cloneUser(u), nil
}

func (d *MemoryDirectory) LinkProvider(ctx context.Context, userID string, link ProviderLink) error {
	const op = "identity.MemoryDirectory.LinkProvider"
	if err := ctx.Err(); err != nil {
		return err
	}
	link.Provider = NormalizeProvider(link.Provider)
	if link.LinkedAt.IsZero() {
		link.LinkedAt = time.Now().UTC()
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	u, ok := d.users[userID]
	if !ok {
		return NotFoundError{Op: op, Resource: "user"}
	}
	if owner, ok := d.byProvKey[provKey(link.Provider, link.ProviderUserID)]; ok {
		if owner == userID {
			return nil
		}
		return ConflictError{Op: op, Field: "provider_identity"}
	}
	if _, ok := u.Provider(link.Provider); ok {
		return ConflictError{Op: op, Field: "provider"}
	}

	u.Providers = append(u.Providers, link)
	d.users[userID] = u
	d.byProvKey[provKey(link.Provider, link.ProviderUserID)] = userID
	return nil
}

// Len returns the number of users.
func (d *MemoryDirectory) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.users)
}

func cloneUser(u User) User {
	u.Providers = slices.Clone(u.Providers)
	return u
}
