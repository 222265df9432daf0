package middleware

import (
	"context"

	"github.com/google/uuid"

	"github.com/keyhaven/keyhaven-backend/pkg/enums"
)

type contextKey string

const (
	ctxUserID contextKey = "user_id"
	ctxRole   contextKey = "actor_role"
	ctxShopID contextKey = "shop_id"
)

func UserIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(ctxUserID).(string); ok {
		return v
	}
	return ""
}

func RoleFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(ctxRole).(string); ok {
		return v
	}
	return ""
}

func ShopIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(ctxShopID).(string); ok {
		return v
	}
	return ""
}

// WithUserID injects the user identifier into the context.
func WithUserID(ctx context.Context, userID string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, ctxUserID, userID)
}

// WithRole injects the actor role into the context.
func WithRole(ctx context.Context, role string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, ctxRole, role)
}

// WithShopID injects the shop identifier into the context for downstream handlers.
func WithShopID(ctx context.Context, shopID string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, ctxShopID, shopID)
}

// CallerIdentity is the resolved actor for a request.
type CallerIdentity struct {
	UserID uuid.UUID
	ShopID *uuid.UUID
	Role   enums.MemberRole
}

// CallerFromContext reassembles the actor seeded by the auth middleware.
// UserID is uuid.Nil when the request was not authenticated.
func CallerFromContext(ctx context.Context) CallerIdentity {
	var caller CallerIdentity
	if id, err := uuid.Parse(UserIDFromContext(ctx)); err == nil {
		caller.UserID = id
	}
	if id, err := uuid.Parse(ShopIDFromContext(ctx)); err == nil {
		caller.ShopID = &id
	}
	if role, err := enums.ParseMemberRole(RoleFromContext(ctx)); err == nil {
		caller.Role = role
	}
	return caller
}
