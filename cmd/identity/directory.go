package identity

import "context"

// Directory is the user persistence boundary.
//
// Lookups return an error matching ErrNotFound when no user exists. Create
// and LinkProvider return ConflictError on uniqueness violations; any other
// error is an infrastructure failure.
type Directory interface {
	// FindByEmail looks a user up case-insensitively.
	FindByEmail(ctx context.Context, email string) (User, error)
	FindByID(ctx context.Context, id string) (User, error)
	FindByProvider(ctx context.Context, provider, providerUserID string) (User, error)

	// Create persists a user and its initial provider links atomically.
	Create(ctx context.Context, in NewUser) (User, error)
	Update(ctx context.Context, id string, patch Patch) (User, error)
	LinkProvider(ctx context.Context, userID string, link ProviderLink) error
}
