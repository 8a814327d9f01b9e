package identity

import "time"

// ProviderPassword is the provider name carried by users with a local password.
const ProviderPassword = "password"

// User is Quill's canonical principal.
type User struct {
	ID            string
	Email         string
	EmailVerified bool

	// PasswordHash is empty for users that only sign in through a provider.
	PasswordHash string

	FirstName string
	LastName  string
	Picture   string

	Providers []ProviderLink

	CreatedAt time.Time
	UpdatedAt time.Time
}

// ProviderLink ties a user to one external identity.
type ProviderLink struct {
	Provider       string
	ProviderUserID string
	LinkedAt       time.Time
}

// Provider returns the user's link for provider, if any.
func (u User) Provider(provider string) (ProviderLink, bool) {
	for _, l := range u.Providers {
		if l.Provider == provider {
			return l, true
		}
	}
	return ProviderLink{}, false
}

// AuthProviders lists the linked provider names.
func (u User) AuthProviders() []string {
	out := make([]string, 0, len(u.Providers))
	for _, l := range u.Providers {
		out = append(out, l.Provider)
	}
	return out
}

// NewUser is the input to Directory.Create.
type NewUser struct {
	Email         string
	EmailVerified bool
	PasswordHash  string
	FirstName     string
	LastName      string
	Picture       string
	Providers     []ProviderLink
	Now           time.Time
}

// Patch updates the non-nil fields of a user.
type Patch struct {
	FirstName     *string
	LastName      *string
	Picture       *string
	EmailVerified *bool
	Now           time.Time
}

// Empty reports whether the patch changes nothing.
func (p Patch) Empty() bool {
	return p.FirstName == nil && p.LastName == nil && p.Picture == nil && p.EmailVerified == nil
}

func (p Patch) apply(u *User) {
	if p.FirstName != nil {
		u.FirstName = *p.FirstName
	}
	if p.LastName != nil {
		u.LastName = *p.LastName
	}
	if p.Picture != nil {
		u.Picture = *p.Picture
	}
	if p.EmailVerified != nil {
		u.EmailVerified = *p.EmailVerified
	}
	u.UpdatedAt = p.Now
}

// Assertion is an identity statement from a trusted external provider.
type Assertion struct {
	Email      string `validate:"required,email,max=320"`
	Provider   string `validate:"required,max=32"`
	ProviderID string `validate:"required,max=255"`
	FirstName  string `validate:"omitempty,max=100"`
	LastName   string `validate:"omitempty,max=100"`
	Picture    string `validate:"omitempty,url,max=2048"`
}

// fillEmpty builds a patch that sets profile fields the user has left empty.
// User-edited values are never overwritten.
func (a Assertion) fillEmpty(u User) Patch {
	var p Patch
	if u.FirstName == "" && a.FirstName != "" {
		p.FirstName = &a.FirstName
	}
	if u.LastName == "" && a.LastName != "" {
		p.LastName = &a.LastName
	}
	if u.Picture == "" && a.Picture != "" {
		p.Picture = &a.Picture
	}
	return p
}
