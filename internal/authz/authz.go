// Package authz decides whether a principal may exercise a capability within
// a tenant.
//
// The decision is gated by a [Policy] chosen once at startup: under
// [PolicyBypassed] every request is allowed, under [PolicyEnforced] the
// permission check runs first and the tenant-scope check second. Lookup
// errors deny.
package authz

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Policy selects whether authorization is enforced.
type Policy int

const (
	PolicyEnforced Policy = iota
	PolicyBypassed
)

const productionEnvironment = "production"

func (p Policy) String() string {
	switch p {
	case PolicyEnforced:
		return "enforced"
	case PolicyBypassed:
		return "bypassed"
	default:
		return fmt.Sprintf("Policy(%d)", int(p))
	}
}

// PolicyForEnvironment enforces authorization only in "production".
func PolicyForEnvironment(env string) Policy {
	if strings.EqualFold(strings.TrimSpace(env), productionEnvironment) {
		return PolicyEnforced
	}
	return PolicyBypassed
}

// ParsePolicy reads "enforced" or "bypassed".
func ParsePolicy(s string) (Policy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "enforced":
		return PolicyEnforced, nil
	case "bypassed":
		return PolicyBypassed, nil
	default:
		return PolicyEnforced, fmt.Errorf("invalid authorization policy %q (expected enforced|bypassed)", s)
	}
}

// Reason explains a denial. It is for logs and metrics only; callers of the
// HTTP API see the same message for every reason.
type Reason string

const (
	ReasonNoPermission   Reason = "no_permission"
	ReasonNoTenantAccess Reason = "no_tenant_access"
	ReasonLookupFailed   Reason = "lookup_failed"
)

// Decision is the result of Authorize. Err is set when a lookup failed.
type Decision struct {
	Allowed bool
	Reason  Reason
	Err     error
}

func allow() Decision { return Decision{Allowed: true} }

func deny(reason Reason, err error) Decision {
	return Decision{Reason: reason, Err: err}
}

// PermissionResolver reports whether a principal holds a capability.
type PermissionResolver interface {
	HasPermission(ctx context.Context, principal Principal, capability string) (bool, error)
}

// TenantScopeResolver reports whether a principal may act within a tenant.
type TenantScopeResolver interface {
	HasTenantAccess(ctx context.Context, principal Principal, tenantID int64) (bool, error)
}

var errResolverMissing = errors.New("authz: resolver not configured")

// Authorizer combines the policy with the two resolvers.
type Authorizer struct {
	policy      Policy
	permissions PermissionResolver
	tenants     TenantScopeResolver
}

// NewAuthorizer returns an Authorizer. Resolvers may be nil only under
// PolicyBypassed; under PolicyEnforced a nil resolver denies.
func NewAuthorizer(policy Policy, permissions PermissionResolver, tenants TenantScopeResolver) *Authorizer {
	return &Authorizer{policy: policy, permissions: permissions, tenants: tenants}
}

// Policy returns the configured policy.
func (a *Authorizer) Policy() Policy {
	return a.policy
}

// Authorize checks capability then tenant scope. Under PolicyEnforced a
// tenantID <= 0 never names a tenant the principal can reach and is denied.
func (a *Authorizer) Authorize(ctx context.Context, principal Principal, capability string, tenantID int64) Decision {
	if a.policy == PolicyBypassed {
		return allow()
	}

	if principal.IsZero() {
		return deny(ReasonNoPermission, nil)
	}

	if a.permissions == nil {
		return deny(ReasonLookupFailed, errResolverMissing)
	}
	ok, err := a.permissions.HasPermission(ctx, principal, capability)
	if err != nil {
		return deny(ReasonLookupFailed, fmt.Errorf("resolve permission %q: %w", capability, err))
	}
	if !ok {
		return deny(ReasonNoPermission, nil)
	}

	if tenantID <= 0 {
		return deny(ReasonNoTenantAccess, nil)
	}

	if a.tenants == nil {
		return deny(ReasonLookupFailed, errResolverMissing)
	}
	ok, err = a.tenants.HasTenantAccess(ctx, principal, tenantID)
	if err != nil {
		return deny(ReasonLookupFailed, fmt.Errorf("resolve tenant %d: %w", tenantID, err))
	}
	if !ok {
		return deny(ReasonNoTenantAccess, nil)
	}

	return allow()
}

// Actions used in capability names.
const (
	ActionCreate = "create"
	ActionView   = "view"
	ActionDelete = "delete"
)

// Capability names an action on a resource, e.g. Capability("view", "products")
// is "view_products".
func Capability(action, resource string) string {
	return action + "_" + resource
}
