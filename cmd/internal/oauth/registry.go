package oauth

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"quill/cmd/identity"
)

// Registry holds the enabled providers by name.
type Registry struct {
	providers map[string]*Provider
}

// NewRegistry indexes providers by Name.
func NewRegistry(providers ...*Provider) *Registry {
	r := &Registry{providers: make(map[string]*Provider, len(providers))}
	for _, p := range providers {
		if p != nil {
			r.providers[p.Name()] = p
		}
	}
	return r
}

// Get returns the named provider or ErrUnknownProvider.
func (r *Registry) Get(name string) (*Provider, error) {
	if r != nil {
		if p, ok := r.providers[identity.NormalizeProvider(name)]; ok {
			return p, nil
		}
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownProvider, name)
}

// Names lists the enabled providers.
func (r *Registry) Names() []string {
	if r == nil {
		return nil
	}
	out := make([]string, 0, len(r.providers))
	for n := range r.providers {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// RegistryFromEnv enables each preset whose client id is set:
//
//	QUILL_OAUTH_GOOGLE_CLIENT_ID / _CLIENT_SECRET / _REDIRECT_URL
//	QUILL_OAUTH_GITHUB_CLIENT_ID / _CLIENT_SECRET / _REDIRECT_URL
func RegistryFromEnv() (*Registry, error) {
	presets := []struct {
		env  string
		make func(Config) *Provider
	}{
		{"GOOGLE", Google},
		{"GITHUB", GitHub},
	}

	var ps []*Provider
	for _, pr := range presets {
		prefix := "QUILL_OAUTH_" + pr.env + "_"
		id := strings.TrimSpace(os.Getenv(prefix + "CLIENT_ID"))
		if id == "" {
			continue
		}
		cfg := Config{
			ClientID:     id,
			ClientSecret: os.Getenv(prefix + "CLIENT_SECRET"),
			RedirectURL:  strings.TrimSpace(os.Getenv(prefix + "REDIRECT_URL")),
		}
		if cfg.ClientSecret == "" || cfg.RedirectURL == "" {
			return nil, fmt.Errorf("%w: %sCLIENT_SECRET and %sREDIRECT_URL are required", ErrProviderDisabled, prefix, prefix)
		}
		ps = append(ps, pr.make(cfg))
	}
	return NewRegistry(ps...), nil
}
