package middleware

import (
	"context"

	"github.com/angelmondragon/storefront-backend/pkg/enums"
	"github.com/google/uuid"
)

type contextKey string

const (
	ctxOwnerID contextKey = "owner_id"
	ctxRole    contextKey = "actor_role"
)

// OwnerIDFromContext returns the authenticated owner.
func OwnerIDFromContext(ctx context.Context) (uuid.UUID, bool) {
	if ctx == nil {
		return uuid.Nil, false
	}
	id, ok := ctx.Value(ctxOwnerID).(uuid.UUID)
	return id, ok && id != uuid.Nil
}

func RoleFromContext(ctx context.Context) enums.Role {
	if ctx == nil {
		return ""
	}
	role, _ := ctx.Value(ctxRole).(enums.Role)
	return role
}

// WithOwner seeds the identity Auth would have placed on the context.
func WithOwner(ctx context.Context, ownerID uuid.UUID, role enums.Role) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx = context.WithValue(ctx, ctxOwnerID, ownerID)
	return context.WithValue(ctx, ctxRole, role)
}
