package common

import "context"

type callerKey struct{}

// caller is the authenticated principal attached by the auth middleware. id is zero when the
// subject is not numeric.
type caller struct {
	subject string
	id      int64
}

// WithUserID attaches the token subject to ctx.
func WithUserID(ctx context.Context, subject string) context.Context {
	id, _ := ParseID(subject)
	return context.WithValue(ctx, callerKey{}, caller{subject: subject, id: id})
}

// UserID returns the raw token subject.
func UserID(ctx context.Context) (string, bool) {
	c, ok := ctx.Value(callerKey{}).(caller)
	return c.subject, ok
}

// UserIDInt returns the caller's numeric user id.
func UserIDInt(ctx context.Context) (int64, bool) {
	c, ok := ctx.Value(callerKey{}).(caller)
	return c.id, ok && c.id > 0
}
