package identity

import "context"

// Entitlements assigns the default plan to newly created users. It is
// called after the user is persisted and never blocks token issuance.
type Entitlements interface {
	AssignDefaultPlan(ctx context.Context, userID string) error
}

// NopEntitlements assigns nothing.
type NopEntitlements struct{}

func (NopEntitlements) AssignDefaultPlan(context.Context, string) error { return nil }
