package authz

import (
	"context"
	"strings"
)

// Principal is the authenticated caller of a request.
type Principal struct {
	UserID   int64
	TenantID int64
	RoleSlug string
}

// IsZero reports whether p is the anonymous principal.
func (p Principal) IsZero() bool {
	return p.UserID == 0
}

// Subject is the casbin subject for p's role.
func (p Principal) Subject() string {
	return SubjectFromRoleSlug(p.RoleSlug)
}

// SubjectFromRoleSlug normalizes a role slug into a "role:<slug>" subject.
func SubjectFromRoleSlug(roleSlug string) string {
	roleSlug = strings.TrimSpace(strings.ToLower(roleSlug))
	if roleSlug == "" {
		roleSlug = "anonymous"
	}
	return "role:" + roleSlug
}

// RoleSlug derives the slug stored for a role name: lower case, with runs of
// spaces, dashes and underscores collapsed to a single dash.
func RoleSlug(name string) string {
	fields := strings.FieldsFunc(strings.ToLower(name), func(r rune) bool {
		return r == ' ' || r == '-' || r == '_' || r == '\t'
	})
	return strings.Join(fields, "-")
}

type principalKey struct{}

// NewContext returns ctx carrying p.
func NewContext(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

// FromContext returns the principal stored in ctx, if any.
func FromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(Principal)
	return p, ok
}
