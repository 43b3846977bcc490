package tenancy

import (
	"context"

	"github.com/google/uuid"
)

type ctxKey string

const identityKey ctxKey = "carwash.identity"

// ActorType distinguishes the three kinds of authenticated callers.
type ActorType string

const (
	ActorCustomer ActorType = "customer"
	ActorStaff    ActorType = "staff"
	ActorTenant   ActorType = "tenant"
	// ActorSystem is used for writes made by the payment reconciler.
	ActorSystem ActorType = "system"
)

// Identity is the resolved caller of a request.
type Identity struct {
	Actor    ActorType
	ActorID  uuid.UUID
	TenantID uuid.UUID // zero for customers
	// LocationID is set for staff attached to a single site.
	LocationID uuid.UUID
	TokenID    string
}

// IsTenantScoped reports whether the identity may only see a single tenant's data.
func (i Identity) IsTenantScoped() bool {
	return i.Actor == ActorStaff || i.Actor == ActorTenant
}

// System returns the identity used for provider-driven transitions.
func System() Identity {
	return Identity{Actor: ActorSystem}
}

// WithIdentity stores the caller identity in context.
func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityKey, id)
}

// IdentityFromContext extracts the caller identity if present.
func IdentityFromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(identityKey).(Identity)
	if !ok || id.Actor == "" {
		return Identity{}, false
	}
	return id, true
}

// TenantIDFromContext extracts the tenant id for staff and tenant callers.
func TenantIDFromContext(ctx context.Context) (uuid.UUID, bool) {
	id, ok := IdentityFromContext(ctx)
	if !ok || id.TenantID == uuid.Nil {
		return uuid.Nil, false
	}
	return id.TenantID, true
}
