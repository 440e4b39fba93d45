package authz

import (
	"context"
	"errors"
	"fmt"

	"github.com/casbin/casbin/v2"
	"github.com/casbin/casbin/v2/model"
	fileadapter "github.com/casbin/casbin/v2/persist/file-adapter"
)

// Model grants capabilities to role subjects. Roles may inherit from other
// roles through g lines, and keyMatch lets a policy grant "view_*" or "*".
const Model = `
[request_definition]
r = sub, obj

[policy_definition]
p = sub, obj

[role_definition]
g = _, _

[policy_effect]
e = some(where (p.eft == allow))

[matchers]
m = g(r.sub, p.sub) && keyMatch(r.obj, p.obj)
`

// CasbinResolver resolves capabilities from a casbin policy keyed by role.
// It is safe for concurrent use, including Reload during requests.
type CasbinResolver struct {
	enforcer *casbin.SyncedEnforcer
}

// NewCasbinResolver loads the CSV policy at policyPath.
func NewCasbinResolver(policyPath string) (*CasbinResolver, error) {
	if policyPath == "" {
		return nil, errors.New("authz: policy path is required")
	}
	m, err := model.NewModelFromString(Model)
	if err != nil {
		return nil, fmt.Errorf("authz: parse model: %w", err)
	}
	enforcer, err := casbin.NewSyncedEnforcer(m, fileadapter.NewAdapter(policyPath))
	if err != nil {
		return nil, fmt.Errorf("authz: load policy %s: %w", policyPath, err)
	}
	return &CasbinResolver{enforcer: enforcer}, nil
}

// HasPermission reports whether the principal's role grants capability.
func (r *CasbinResolver) HasPermission(_ context.Context, principal Principal, capability string) (bool, error) {
	if r == nil || r.enforcer == nil {
		return false, errResolverMissing
	}
	if principal.RoleSlug == "" || capability == "" {
		return false, nil
	}
	return r.enforcer.Enforce(principal.Subject(), capability)
}

// Reload re-reads the policy from its adapter.
func (r *CasbinResolver) Reload() error {
	if r == nil || r.enforcer == nil {
		return errResolverMissing
	}
	if err := r.enforcer.LoadPolicy(); err != nil {
		return fmt.Errorf("authz: reload policy: %w", err)
	}
	return nil
}
