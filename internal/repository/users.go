package repository

import (
	"context"
	"time"
)

var (
	usersTable = table{name: "users", softDelete: true, releaseOnDelete: []string{"role_id"}}
	rolesTable = table{name: "roles"}
)

// User is a user row as returned by list queries. The password hash never
// leaves the repository.
type User struct {
	ID        int64     `json:"id" db:"id"`
	TenantID  int64     `json:"tenant_id" db:"tenant_id"`
	RoleID    int64     `json:"role_id" db:"role_id"`
	RoleName  string    `json:"role_name" db:"role_name"`
	FullName  string    `json:"full_name" db:"full_name"`
	Email     string    `json:"email" db:"email"`
	Phone     *string   `json:"phone" db:"phone"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// NewUser holds the columns written by CreateUser. PasswordHash must already
// be hashed.
type NewUser struct {
	TenantID     int64
	RoleID       int64
	FullName     string
	Email        string
	Phone        *string
	PasswordHash string
}

// Role is a role row. Slug is the key the authorization policy grants
// capabilities to.
type Role struct {
	ID          int64     `json:"id" db:"id"`
	TenantID    int64     `json:"tenant_id" db:"tenant_id"`
	Name        string    `json:"name" db:"name"`
	Slug        string    `json:"slug" db:"slug"`
	Description *string   `json:"description" db:"description"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
}

// NewRole holds the columns written by CreateRole.
type NewRole struct {
	TenantID    int64
	Name        string
	Slug        string
	Description *string
}

var userList = listSpec{
	from:          "users u JOIN roles ro ON ro.id = u.role_id",
	columns:       "u.id, u.tenant_id, u.role_id, ro.name AS role_name, u.full_name, u.email, u.phone, u.created_at",
	tenantColumn:  "u.tenant_id",
	deletedColumn: "u.deleted_at",
	searchColumns: []string{"u.full_name", "u.email", "u.phone"},
	filters: map[string]filter{
		"role_id": {column: "u.role_id", kind: filterInt},
	},
	sortColumns: map[string]string{
		"id":         "u.id",
		"full_name":  "u.full_name",
		"email":      "u.email",
		"created_at": "u.created_at",
	},
	defaultSort: "u.created_at",
	idColumn:    "u.id",
}

var roleList = listSpec{
	from:          "roles r",
	columns:       "r.id, r.tenant_id, r.name, r.slug, r.description, r.created_at",
	tenantColumn:  "r.tenant_id",
	searchColumns: []string{"r.name", "r.description"},
	sortColumns: map[string]string{
		"id":         "r.id",
		"name":       "r.name",
		"created_at": "r.created_at",
	},
	defaultSort: "r.created_at",
	idColumn:    "r.id",
}

// CreateUser inserts a user and returns its ID.
func (r *PostgresRepository) CreateUser(ctx context.Context, u NewUser) (int64, error) {
	return r.insertReturningID(ctx, "create user", `
		INSERT INTO users (tenant_id, role_id, full_name, email, phone, password_hash)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id
	`, u.TenantID, u.RoleID, u.FullName, u.Email, u.Phone, u.PasswordHash)
}

// ListUsers returns one page of live users in a tenant.
func (r *PostgresRepository) ListUsers(ctx context.Context, params ListParams) (Page[User], error) {
	return listPage[User](ctx, r, userList, params)
}

// DeleteUsers soft-deletes the given users within a tenant.
func (r *PostgresRepository) DeleteUsers(ctx context.Context, tenantID int64, ids []int64) (int64, error) {
	return r.deleteForTenant(ctx, usersTable, tenantID, ids)
}

// UserExists reports whether a live user belongs to tenantID.
func (r *PostgresRepository) UserExists(ctx context.Context, tenantID, id int64) (bool, error) {
	return r.belongsToTenant(ctx, usersTable, tenantID, id)
}

// UserEmailTaken reports whether a live user in the tenant already uses
// email, compared case-insensitively.
func (r *PostgresRepository) UserEmailTaken(ctx context.Context, tenantID int64, email string) (bool, error) {
	return r.exists(ctx, "user email lookup", `
		SELECT EXISTS (
			SELECT 1 FROM users
			WHERE tenant_id = $1 AND lower(email) = lower($2) AND deleted_at IS NULL
		)
	`, tenantID, email)
}

// CreateRole inserts a role and returns its ID.
func (r *PostgresRepository) CreateRole(ctx context.Context, role NewRole) (int64, error) {
	return r.insertReturningID(ctx, "create role", `
		INSERT INTO roles (tenant_id, name, slug, description)
		VALUES ($1, $2, $3, $4)
		RETURNING id
	`, role.TenantID, role.Name, role.Slug, role.Description)
}

// ListRoles returns one page of roles in a tenant.
func (r *PostgresRepository) ListRoles(ctx context.Context, params ListParams) (Page[Role], error) {
	return listPage[Role](ctx, r, roleList, params)
}

// DeleteRoles removes the given roles within a tenant. Roles still held by a
// user fail with ErrForeignKeyViolation.
func (r *PostgresRepository) DeleteRoles(ctx context.Context, tenantID int64, ids []int64) (int64, error) {
	return r.deleteForTenant(ctx, rolesTable, tenantID, ids)
}

// RoleExists reports whether a role belongs to tenantID.
func (r *PostgresRepository) RoleExists(ctx context.Context, tenantID, id int64) (bool, error) {
	return r.belongsToTenant(ctx, rolesTable, tenantID, id)
}

// RoleNameTaken reports whether name is already used by a role in the tenant.
func (r *PostgresRepository) RoleNameTaken(ctx context.Context, tenantID int64, name string) (bool, error) {
	return r.exists(ctx, "role name lookup", `
		SELECT EXISTS (SELECT 1 FROM roles WHERE tenant_id = $1 AND name = $2)
	`, tenantID, name)
}
