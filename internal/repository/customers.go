package repository

import (
	"context"
	"time"
)

var customersTable = table{name: "customers", softDelete: true}

// Customer is a customer row as returned by list queries.
type Customer struct {
	ID        int64     `json:"id" db:"id"`
	TenantID  int64     `json:"tenant_id" db:"tenant_id"`
	BranchID  *int64    `json:"branch_id" db:"branch_id"`
	FullName  string    `json:"full_name" db:"full_name"`
	Email     string    `json:"email" db:"email"`
	Phone     *string   `json:"phone" db:"phone"`
	Address   *string   `json:"address" db:"address"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// NewCustomer holds the columns written by CreateCustomer.
type NewCustomer struct {
	TenantID int64
	BranchID *int64
	FullName string
	Email    string
	Phone    *string
	Address  *string
}

var customerList = listSpec{
	from:          "customers c",
	columns:       "c.id, c.tenant_id, c.branch_id, c.full_name, c.email, c.phone, c.address, c.created_at",
	tenantColumn:  "c.tenant_id",
	deletedColumn: "c.deleted_at",
	searchColumns: []string{"c.full_name", "c.email", "c.phone"},
	filters: map[string]filter{
		"branch_id": {column: "c.branch_id", kind: filterInt},
	},
	sortColumns: map[string]string{
		"id":         "c.id",
		"full_name":  "c.full_name",
		"email":      "c.email",
		"created_at": "c.created_at",
	},
	defaultSort: "c.created_at",
	idColumn:    "c.id",
}

// CreateCustomer inserts a customer and returns its ID.
func (r *PostgresRepository) CreateCustomer(ctx context.Context, c NewCustomer) (int64, error) {
	return r.insertReturningID(ctx, "create customer", `
		INSERT INTO customers (tenant_id, branch_id, full_name, email, phone, address)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id
	`, c.TenantID, c.BranchID, c.FullName, c.Email, c.Phone, c.Address)
}

// ListCustomers returns one page of live customers in a tenant.
func (r *PostgresRepository) ListCustomers(ctx context.Context, params ListParams) (Page[Customer], error) {
	return listPage[Customer](ctx, r, customerList, params)
}

// DeleteCustomers soft-deletes the given customers within a tenant.
func (r *PostgresRepository) DeleteCustomers(ctx context.Context, tenantID int64, ids []int64) (int64, error) {
	return r.deleteForTenant(ctx, customersTable, tenantID, ids)
}

// CustomerExists reports whether a live customer belongs to tenantID.
func (r *PostgresRepository) CustomerExists(ctx context.Context, tenantID, id int64) (bool, error) {
	return r.belongsToTenant(ctx, customersTable, tenantID, id)
}

// CustomerEmailTaken reports whether a live customer in the tenant already
// uses email, compared case-insensitively.
func (r *PostgresRepository) CustomerEmailTaken(ctx context.Context, tenantID int64, email string) (bool, error) {
	return r.exists(ctx, "customer email lookup", `
		SELECT EXISTS (
			SELECT 1 FROM customers
			WHERE tenant_id = $1 AND lower(email) = lower($2) AND deleted_at IS NULL
		)
	`, tenantID, email)
}
