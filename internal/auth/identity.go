package auth

import "context"

// Identity is the authenticated caller, taken from a verified token.
type Identity struct {
	UserID  int64
	Email   string
	IsAdmin bool
}

type identityKey struct{}

func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, id)
}

func FromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(identityKey{}).(Identity)
	return id, ok
}
