package middleware

import (
	"context"

	"github.com/google/uuid"
)

type ownerKey struct{}

// WithOwnerID stores the authenticated owner on ctx.
func WithOwnerID(ctx context.Context, ownerID uuid.UUID) context.Context {
	return context.WithValue(ctx, ownerKey{}, ownerID)
}

// OwnerIDFromContext returns the authenticated owner. ok is false when the request
// carried no valid identity.
func OwnerIDFromContext(ctx context.Context) (uuid.UUID, bool) {
	if ctx == nil {
		return uuid.Nil, false
	}
	id, ok := ctx.Value(ownerKey{}).(uuid.UUID)
	return id, ok && id != uuid.Nil
}
