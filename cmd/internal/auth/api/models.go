package api

import (
	"time"

	"quill/cmd/identity"
	"quill/cmd/internal/auth/authority"
)

type registerRequest struct {
	Email      string `json:"email" validate:"required,email,max=320"`
	Password   string `json:"password" validate:"required,max=1024"`
	FirstName  string `json:"first_name" validate:"omitempty,max=100"`
	LastName   string `json:"last_name" validate:"omitempty,max=100"`
	RememberMe bool   `json:"remember_me"`
	Platform   string `json:"platform" validate:"omitempty,max=16"`
}

type loginRequest struct {
	Email      string `json:"email" validate:"required,max=320"`
	Password   string `json:"password" validate:"required,max=1024"`
	RememberMe bool   `json:"remember_me"`
	Platform   string `json:"platform" validate:"omitempty,max=16"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token" validate:"omitempty,max=4096"`
	RememberMe   bool   `json:"remember_me"`
	Platform     string `json:"platform" validate:"omitempty,max=16"`
}

type logoutRequest struct {
	RefreshToken string `json:"refresh_token" validate:"omitempty,max=4096"`
}

type userResponse struct {
	ID            string    `json:"id"`
	Email         string    `json:"email"`
	EmailVerified bool      `json:"email_verified"`
	FirstName     string    `json:"first_name,omitempty"`
	LastName      string    `json:"last_name,omitempty"`
	Picture       string    `json:"picture,omitempty"`
	AuthProviders []string  `json:"auth_providers"`
	CreatedAt     time.Time `json:"created_at"`
}

type sessionResponse struct {
	SessionID        string    `json:"session_id"`
	Family           string    `json:"family"`
	AccessToken      string    `json:"access_token"`
	AccessExpiresAt  time.Time `json:"access_expires_at"`
	RefreshToken     string    `json:"refresh_token,omitempty"`
	RefreshExpiresAt time.Time `json:"refresh_expires_at"`
}

type authResponse struct {
	User      userResponse    `json:"user"`
	Session   sessionResponse `json:"session"`
	IsNewUser bool            `json:"is_new_user"`
}

type refreshResponse struct {
	Session sessionResponse `json:"session"`
}

type logoutAllResponse struct {
	Revoked int64 `json:"revoked"`
}

type meResponse struct {
	User userResponse `json:"user"`
}

func toUserResponse(u identity.User) userResponse {
	return userResponse{
		ID:            u.ID,
		Email:         u.Email,
		EmailVerified: u.EmailVerified,
		FirstName:     u.FirstName,
		LastName:      u.LastName,
		Picture:       u.Picture,
		AuthProviders: u.AuthProviders(),
		CreatedAt:     u.CreatedAt,
	}
}

func toSessionResponse(p authority.TokenPair) sessionResponse {
	return sessionResponse{
		SessionID:        p.SessionID,
		Family:           p.Family,
		AccessToken:      p.AccessToken,
		AccessExpiresAt:  p.AccessExpiresAt,
		RefreshToken:     p.RefreshToken,
		RefreshExpiresAt: p.RefreshExpiresAt,
	}
}
