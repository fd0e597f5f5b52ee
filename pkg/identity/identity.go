// Package identity establishes who is making a request and what they may
// do. Tokens are issued elsewhere: full authentication flows are out of
// scope here, and a trusted front proxy may supply identity headers
// instead of a bearer token.
package identity

import "context"

// Role is the coarse permission level attached to an identity. Admins
// manage the registry (drafts, tests, promotion, rollback) and see other
// users' executions; users run executions and manage their own presets.
type Role string

const (
	RoleUser  Role = "user"
	RoleAdmin Role = "admin"
)

// Anonymous is the subject assigned when no identity is presented.
const Anonymous = "anonymous"

// Identity is the resolved caller of a request.
type Identity struct {
	Subject string
	Groups  []string
	Role    Role
}

// IsAdmin reports whether the identity holds the admin role.
func (id Identity) IsAdmin() bool { return id.Role == RoleAdmin }

type ctxKey struct{}

// WithIdentity returns a context carrying id.
func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, ctxKey{}, id)
}

// FromContext retrieves the identity set by the middleware.
func FromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(ctxKey{}).(Identity)
	return id, ok
}

// Subject returns the caller's subject, or Anonymous when no identity was
// resolved.
func Subject(ctx context.Context) string {
	if id, ok := FromContext(ctx); ok && id.Subject != "" {
		return id.Subject
	}
	return Anonymous
}

// IsAdminContext reports whether the context carries an admin identity.
func IsAdminContext(ctx context.Context) bool {
	id, ok := FromContext(ctx)
	return ok && id.IsAdmin()
}
