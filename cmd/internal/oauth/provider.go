// Package oauth runs the authorization-code flow against external identity
// providers and turns the result into an identity.Assertion.
package oauth

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/endpoints"

	"quill/cmd/identity"
)

const maxUserInfoBytes = 1 << 20

// Config holds the client registration for one provider.
type Config struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
	Scopes       []string
}

// UserInfoFunc fetches the signed-in user's profile with an authorized client.
type UserInfoFunc func(ctx context.Context, client *http.Client) (identity.Assertion, error)

// Provider is one configured OAuth provider.
type Provider struct {
	name     string
	cfg      *oauth2.Config
	userInfo UserInfoFunc
	client   *http.Client
}

// New builds a provider from an explicit endpoint and profile fetcher.
func New(name string, cfg Config, endpoint oauth2.Endpoint, userInfo UserInfoFunc) *Provider {
	return &Provider{
		name: identity.NormalizeProvider(name),
		cfg: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Scopes:       cfg.Scopes,
			Endpoint:     endpoint,
		},
		userInfo: userInfo,
		client:   &http.Client{Timeout: 10 * time.Second},
	}
}

// Google returns the Google preset (OpenID Connect userinfo).
func Google(cfg Config) *Provider {
	if len(cfg.Scopes) == 0 {
		cfg.Scopes = []string{"openid", "email", "profile"}
	}
	return New("google", cfg, endpoints.Google, GoogleUserInfo("https://openidconnect.googleapis.com/v1/userinfo"))
}

// GitHub returns the GitHub preset.
func GitHub(cfg Config) *Provider {
	if len(cfg.Scopes) == 0 {
		cfg.Scopes = []string{"read:user", "user:email"}
	}
	return New("github", cfg, endpoints.GitHub, GitHubUserInfo("https://api.github.com"))
}

// Name is the provider name stored on provider links.
func (p *Provider) Name() string { return p.name }

// AuthCodeURL is the consent page URL for state, with a PKCE S256 challenge
// derived from verifier.
func (p *Provider) AuthCodeURL(state, verifier string) string {
	return p.cfg.AuthCodeURL(state, oauth2.AccessTypeOnline, oauth2.S256ChallengeOption(verifier))
}

// Exchange trades an authorization code for the user's identity assertion.
// Any failure wraps ErrExchangeFailed.
func (p *Provider) Exchange(ctx context.Context, code, verifier string) (identity.Assertion, error) {
	if strings.TrimSpace(code) == "" {
		return identity.Assertion{}, fmt.Errorf("%w: %s: missing code", ErrExchangeFailed, p.name)
	}
	ctx = context.WithValue(ctx, oauth2.HTTPClient, p.client)

	tok, err := p.cfg.Exchange(ctx, code, oauth2.VerifierOption(verifier))
	if err != nil {
		return identity.Assertion{}, fmt.Errorf("%w: %s: code exchange: %w", ErrExchangeFailed, p.name, err)
	}

	a, err := p.userInfo(ctx, p.cfg.Client(ctx, tok))
	if err != nil {
		return identity.Assertion{}, fmt.Errorf("%w: %s: userinfo: %w", ErrExchangeFailed, p.name, err)
	}
	a.Provider = p.name
	if a.Email == "" || a.ProviderID == "" {
		return identity.Assertion{}, fmt.Errorf("%w: %s: incomplete profile", ErrExchangeFailed, p.name)
	}
	return a, nil
}

func getJSON(ctx context.Context, client *http.Client, url string, dst any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxUserInfoBytes))
		return fmt.Errorf("GET %s: status %d", url, resp.StatusCode)
	}
	return json.NewDecoder(io.LimitReader(resp.Body, maxUserInfoBytes)).Decode(dst)
}

// GoogleUserInfo reads an OpenID Connect userinfo document.
func GoogleUserInfo(url string) UserInfoFunc {
	return func(ctx context.Context, client *http.Client) (identity.Assertion, error) {
		var body struct {
			Sub           string `json:"sub"`
			Email         string `json:"email"`
			EmailVerified bool   `json:"email_verified"`
			GivenName     string `json:"given_name"`
			FamilyName    string `json:"family_name"`
			Picture       string `json:"picture"`
		}
		if err := getJSON(ctx, client, url, &body); err != nil {
			return identity.Assertion{}, err
		}
		if !body.EmailVerified {
			return identity.Assertion{}, ErrUnverifiedEmail
		}
		return identity.Assertion{
			Email:      body.Email,
			ProviderID: body.Sub,
			FirstName:  body.GivenName,
			LastName:   body.FamilyName,
			Picture:    body.Picture,
		}, nil
	}
}

// GitHubUserInfo reads /user and the primary verified address from /user/emails.
func GitHubUserInfo(apiBase string) UserInfoFunc {
	apiBase = strings.TrimRight(apiBase, "/")
	return func(ctx context.Context, client *http.Client) (identity.Assertion, error) {
		var user struct {
			ID        int64  `json:"id"`
			Login     string `json:"login"`
			Name      string `json:"name"`
			AvatarURL string `json:"avatar_url"`
		}
		if err := getJSON(ctx, client, apiBase+"/user", &user); err != nil {
			return identity.Assertion{}, err
		}

		var emails []struct {
			Email    string `json:"email"`
			Primary  bool   `json:"primary"`
			Verified bool   `json:"verified"`
		}
		if err := getJSON(ctx, client, apiBase+"/user/emails", &emails); err != nil {
			return identity.Assertion{}, err
		}

		a := identity.Assertion{Picture: user.AvatarURL}
		if user.ID != 0 {
			a.ProviderID = fmt.Sprint(user.ID)
		}
		for _, e := range emails {
			if e.Primary && e.Verified {
				a.Email = e.Email
				break
			}
		}
		if a.Email == "" {
			return identity.Assertion{}, ErrUnverifiedEmail
		}

		first, last, _ := strings.Cut(strings.TrimSpace(user.Name), " ")
		a.FirstName, a.LastName = first, strings.TrimSpace(last)
		return a, nil
	}
}
