package authz

import "context"

// TenantMembership is the storage lookup behind tenant scope.
type TenantMembership interface {
	UserHasTenantAccess(ctx context.Context, userID, tenantID int64) (bool, error)
}

// MembershipResolver grants a principal its home tenant and defers every other
// tenant to the membership lookup.
type MembershipResolver struct {
	membership TenantMembership
}

// NewTenantScopeResolver returns a TenantScopeResolver backed by m.
func NewTenantScopeResolver(m TenantMembership) *MembershipResolver {
	return &MembershipResolver{membership: m}
}

func (r *MembershipResolver) HasTenantAccess(ctx context.Context, principal Principal, tenantID int64) (bool, error) {
	if principal.IsZero() {
		return false, nil
	}
	if principal.TenantID == tenantID {
		return true, nil
	}
	if r.membership == nil {
		return false, errResolverMissing
	}
	return r.membership.UserHasTenantAccess(ctx, principal.UserID, tenantID)
}
