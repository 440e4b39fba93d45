package repository

import (
	"context"
	"time"
)

var (
	branchesTable     = table{name: "branches"}
	userBranchesTable = table{name: "user_branches"}
)

// Branch is a branch row as returned by list queries.
type Branch struct {
	ID        int64     `json:"id" db:"id"`
	TenantID  int64     `json:"tenant_id" db:"tenant_id"`
	Name      string    `json:"name" db:"name"`
	Code      *string   `json:"code" db:"code"`
	Phone     *string   `json:"phone" db:"phone"`
	Address   *string   `json:"address" db:"address"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// NewBranch holds the columns written by CreateBranch.
type NewBranch struct {
	TenantID int64
	Name     string
	Code     *string
	Phone    *string
	Address  *string
}

// UserBranch assigns a user to a branch.
type UserBranch struct {
	ID         int64     `json:"id" db:"id"`
	TenantID   int64     `json:"tenant_id" db:"tenant_id"`
	UserID     int64     `json:"user_id" db:"user_id"`
	UserName   string    `json:"user_name" db:"user_name"`
	BranchID   int64     `json:"branch_id" db:"branch_id"`
	BranchName string    `json:"branch_name" db:"branch_name"`
	CreatedAt  time.Time `json:"created_at" db:"created_at"`
}

// NewUserBranch holds the columns written by CreateUserBranch.
type NewUserBranch struct {
	TenantID int64
	UserID   int64
	BranchID int64
}

var branchList = listSpec{
	from:          "branches b",
	columns:       "b.id, b.tenant_id, b.name, b.code, b.phone, b.address, b.created_at",
	tenantColumn:  "b.tenant_id",
	searchColumns: []string{"b.name", "b.code", "b.address"},
	sortColumns: map[string]string{
		"id":         "b.id",
		"name":       "b.name",
		"code":       "b.code",
		"created_at": "b.created_at",
	},
	defaultSort: "b.created_at",
	idColumn:    "b.id",
}

var userBranchList = listSpec{
	from: "user_branches ub JOIN users u ON u.id = ub.user_id JOIN branches b ON b.id = ub.branch_id",
	columns: "ub.id, ub.tenant_id, ub.user_id, u.full_name AS user_name, ub.branch_id, " +
		"b.name AS branch_name, ub.created_at",
	tenantColumn:  "ub.tenant_id",
	searchColumns: []string{"u.full_name", "b.name"},
	filters: map[string]filter{
		"user_id":   {column: "ub.user_id", kind: filterInt},
		"branch_id": {column: "ub.branch_id", kind: filterInt},
	},
	sortColumns: map[string]string{
		"id":         "ub.id",
		"created_at": "ub.created_at",
	},
	defaultSort: "ub.created_at",
	idColumn:    "ub.id",
}

// CreateBranch inserts a branch and returns its ID.
func (r *PostgresRepository) CreateBranch(ctx context.Context, b NewBranch) (int64, error) {
	return r.insertReturningID(ctx, "create branch", `
		INSERT INTO branches (tenant_id, name, code, phone, address)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id
	`, b.TenantID, b.Name, b.Code, b.Phone, b.Address)
}

// ListBranches returns one page of branches in a tenant.
func (r *PostgresRepository) ListBranches(ctx context.Context, params ListParams) (Page[Branch], error) {
	return listPage[Branch](ctx, r, branchList, params)
}

// DeleteBranches removes the given branches within a tenant. Branches still
// referenced by orders fail with ErrForeignKeyViolation.
func (r *PostgresRepository) DeleteBranches(ctx context.Context, tenantID int64, ids []int64) (int64, error) {
	return r.deleteForTenant(ctx, branchesTable, tenantID, ids)
}

// BranchExists reports whether a branch belongs to tenantID.
func (r *PostgresRepository) BranchExists(ctx context.Context, tenantID, id int64) (bool, error) {
	return r.belongsToTenant(ctx, branchesTable, tenantID, id)
}

// BranchNameTaken reports whether name is already used by a branch in the
// tenant.
func (r *PostgresRepository) BranchNameTaken(ctx context.Context, tenantID int64, name string) (bool, error) {
	return r.exists(ctx, "branch name lookup", `
		SELECT EXISTS (SELECT 1 FROM branches WHERE tenant_id = $1 AND name = $2)
	`, tenantID, name)
}

// CreateUserBranch inserts an assignment and returns its ID.
func (r *PostgresRepository) CreateUserBranch(ctx context.Context, ub NewUserBranch) (int64, error) {
	return r.insertReturningID(ctx, "create user branch", `
		INSERT INTO user_branches (tenant_id, user_id, branch_id)
		VALUES ($1, $2, $3)
		RETURNING id
	`, ub.TenantID, ub.UserID, ub.BranchID)
}

// ListUserBranches returns one page of assignments in a tenant.
func (r *PostgresRepository) ListUserBranches(ctx context.Context, params ListParams) (Page[UserBranch], error) {
	return listPage[UserBranch](ctx, r, userBranchList, params)
}

// DeleteUserBranches removes the given assignments within a tenant.
func (r *PostgresRepository) DeleteUserBranches(ctx context.Context, tenantID int64, ids []int64) (int64, error) {
	return r.deleteForTenant(ctx, userBranchesTable, tenantID, ids)
}

// UserBranchExists reports whether userID is already assigned to branchID.
func (r *PostgresRepository) UserBranchExists(ctx context.Context, tenantID, userID, branchID int64) (bool, error) {
	return r.exists(ctx, "user branch lookup", `
		SELECT EXISTS (
			SELECT 1 FROM user_branches
			WHERE tenant_id = $1 AND user_id = $2 AND branch_id = $3
		)
	`, tenantID, userID, branchID)
}
