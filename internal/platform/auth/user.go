// Package auth resolves the calling user from a request and makes it
// available to the engine. The engine only ever consumes the resolved
// User; token verification stays at this boundary.
package auth

import "context"

// Authorities understood by the event engine.
const (
	AuthorityAll         = "ALL"
	AuthorityEditExpired = "F_EDIT_EXPIRED"
	AuthorityUncomplete  = "F_UNCOMPLETE_EVENT"
	AuthorityIgnoreLimit = "F_TRACKED_ENTITY_INSTANCE_SEARCH_IN_ALL_ORGUNITS"
)

// User is the resolved identity of a caller.
type User struct {
	UID         string
	Username    string
	Superuser   bool
	Authorities map[string]bool

	// Capture scope: org units whose subtrees the user may record data in.
	// Paths are materialized ltree-style paths ("/abc/def").
	OrgUnitPaths []string

	// Data-read scope, empty for superusers (who see everything).
	AccessiblePrograms map[string]bool
	AccessibleStages   map[string]bool

	// Category options the user's sharing rules grant read access to.
	AccessibleCategoryOptions map[string]bool
}

// HasAuthority reports whether the user holds the named authority.
// Superusers and holders of ALL implicitly hold every authority.
func (u *User) HasAuthority(a string) bool {
	if u == nil {
		return false
	}
	if u.Superuser || u.Authorities[AuthorityAll] {
		return true
	}
	return u.Authorities[a]
}

type contextKey string

const userKey contextKey = "auth_user"

// WithUser places the resolved user in the context.
func WithUser(ctx context.Context, u *User) context.Context {
	return context.WithValue(ctx, userKey, u)
}

// UserFromContext retrieves the resolved user, or nil when unauthenticated.
func UserFromContext(ctx context.Context) *User {
	u, _ := ctx.Value(userKey).(*User)
	return u
}
