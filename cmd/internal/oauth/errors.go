package oauth

import "errors"

var (
	// ErrExchangeFailed covers every failure between the provider callback
	// and a usable identity assertion. Nothing reaches the identity layer.
	ErrExchangeFailed = errors.New("oauth: exchange failed")

	ErrUnverifiedEmail  = errors.New("oauth: provider email is not verified")
	ErrUnknownProvider  = errors.New("oauth: unknown provider")
	ErrStateMismatch    = errors.New("oauth: state mismatch")
	ErrProviderDisabled = errors.New("oauth: provider not configured")
)
