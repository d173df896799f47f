package ctxutil

import (
	"context"

	"github.com/google/uuid"
)

type tenantIDKey struct{}

func WithTenantID(ctx context.Context, tenantID uuid.UUID) context.Context {
	return context.WithValue(ctx, tenantIDKey{}, tenantID)
}

// GetTenantID returns the tenant attached by the admission middleware, or
// uuid.Nil outside a tenant-scoped request.
func GetTenantID(ctx context.Context) uuid.UUID {
	val := ctx.Value(tenantIDKey{})
	if id, ok := val.(uuid.UUID); ok {
		return id
	}
	return uuid.Nil
}
