package server

import (
	"context"

	"github.com/matt-riley/tenantdesk/internal/repository"
	"github.com/matt-riley/tenantdesk/internal/service"
)

// Service is the tenant-scoped domain layer behind the HTTP resources.
type Service interface {
	CreateCustomer(ctx context.Context, c repository.NewCustomer) (int64, error)
	ListCustomers(ctx context.Context, params repository.ListParams) (repository.Page[repository.Customer], error)
	DeleteCustomers(ctx context.Context, tenantID int64, ids []int64) (int64, error)

	CreateProduct(ctx context.Context, p repository.NewProduct) (int64, error)
	ListProducts(ctx context.Context, params repository.ListParams) (repository.Page[repository.Product], error)
	DeleteProducts(ctx context.Context, tenantID int64, ids []int64) (int64, error)

	CreateSalesOrder(ctx context.Context, o repository.NewSalesOrder) (int64, error)
	ListSalesOrders(ctx context.Context, params repository.ListParams) (repository.Page[repository.SalesOrder], error)
	DeleteSalesOrders(ctx context.Context, tenantID int64, ids []int64) (int64, error)

	CreateSalesOrderItem(ctx context.Context, item repository.NewSalesOrderItem) (int64, error)
	ListSalesOrderItems(ctx context.Context, params repository.ListParams) (repository.Page[repository.SalesOrderItem], error)
	DeleteSalesOrderItems(ctx context.Context, tenantID int64, ids []int64) (int64, error)

	CreateBranch(ctx context.Context, b repository.NewBranch) (int64, error)
	ListBranches(ctx context.Context, params repository.ListParams) (repository.Page[repository.Branch], error)
	DeleteBranches(ctx context.Context, tenantID int64, ids []int64) (int64, error)

	CreateUserBranch(ctx context.Context, ub repository.NewUserBranch) (int64, error)
	ListUserBranches(ctx context.Context, params repository.ListParams) (repository.Page[repository.UserBranch], error)
	DeleteUserBranches(ctx context.Context, tenantID int64, ids []int64) (int64, error)

	CreateRole(ctx context.Context, role repository.NewRole) (int64, error)
	ListRoles(ctx context.Context, params repository.ListParams) (repository.Page[repository.Role], error)
	DeleteRoles(ctx context.Context, tenantID int64, ids []int64) (int64, error)

	CreateUser(ctx context.Context, u service.NewUser) (int64, error)
	ListUsers(ctx context.Context, params repository.ListParams) (repository.Page[repository.User], error)
	DeleteUsers(ctx context.Context, tenantID int64, ids []int64) (int64, error)

	ListAuditLog(ctx context.Context, tenantID int64, page, pageSize int) ([]repository.AuditLogEntry, error)
}

var _ Service = (*service.Service)(nil)
