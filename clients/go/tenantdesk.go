// Package tenantdesk provides client interfaces and wire types for the
// tenantdesk API.
//
// Use the http sub-package to create a client:
//
//	import tenantdeskhttp "github.com/matt-riley/tenantdesk/clients/go/http"
package tenantdesk

import (
	"context"
	"encoding/json"
	"time"
)

// Resource names accepted by the API.
const (
	Customers       = "customers"
	Products        = "products"
	SalesOrders     = "sales_orders"
	SalesOrderItems = "sales_order_items"
	Branches        = "branches"
	UserBranches    = "user_branches"
	Roles           = "roles"
	Users           = "users"
)

// ResourceClient covers the create, list and delete operations every
// resource exposes.
type ResourceClient interface {
	Create(ctx context.Context, resource string, payload map[string]any) (int64, error)
	List(ctx context.Context, resource string, q ListQuery) (Page, error)
	Delete(ctx context.Context, resource string, tenantID int64, ids []int64) (int64, error)
}

// AuditReader reads a tenant's audit trail.
type AuditReader interface {
	AuditLog(ctx context.Context, tenantID int64, page, pageSize int) ([]AuditEntry, error)
}

// ListQuery selects one page of a resource. Zero values are omitted so the
// server applies its defaults.
type ListQuery struct {
	TenantID  int64
	Page      int
	PageSize  int
	Search    string
	SortBy    string
	SortOrder string
	// Filters holds exact-match filters such as "branch_id" or "status".
	Filters map[string]string
}

// Page is one page of list results. Rows are left raw so callers decode
// them into their own types.
type Page struct {
	Count      int64             `json:"count"`
	Page       int               `json:"page"`
	PageSize   int               `json:"pageSize"`
	TotalPages int               `json:"totalPages"`
	Data       []json.RawMessage `json:"data"`
}

// AuditEntry is one recorded mutation.
type AuditEntry struct {
	ID        int64           `json:"id"`
	TenantID  int64           `json:"tenant_id"`
	UserID    *int64          `json:"user_id,omitempty"`
	Action    string          `json:"action"`
	Resource  string          `json:"resource"`
	Details   json.RawMessage `json:"details,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}
