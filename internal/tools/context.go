package tools

import "context"

type contextKey string

const userContextKey = contextKey("current_user_id")

// WithUser returns a context carrying the ID of the user the turn acts for.
func WithUser(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userContextKey, userID)
}

// UserFromContext returns the user ID from the context, if any.
func UserFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(userContextKey).(string); ok {
		return v
	}
	return ""
}

// AnonymousUser is the user ID of callers who did not identify themselves.
// Every such caller shares it, so it never owns per-user state.
const AnonymousUser = "anonymous"

// IdentifiedUser returns the context user, or "" when there is none or the
// caller is anonymous.
func IdentifiedUser(ctx context.Context) string {
	if id := UserFromContext(ctx); id != AnonymousUser {
		return id
	}
	return ""
}
