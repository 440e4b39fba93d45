package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/matt-riley/tenantdesk/internal/authz"
	"github.com/matt-riley/tenantdesk/internal/i18n"
	"github.com/matt-riley/tenantdesk/internal/repository"
)

// Resource names as they appear in routes, capabilities and audit rows.
const (
	ResourceCustomers       = "customers"
	ResourceProducts        = "products"
	ResourceSalesOrders     = "sales_orders"
	ResourceSalesOrderItems = "sales_order_items"
	ResourceBranches        = "branches"
	ResourceUserBranches    = "user_branches"
	ResourceRoles           = "roles"
	ResourceUsers           = "users"
	ResourceAuditLog        = "audit_log"
)

func (s *Service) CreateCustomer(ctx context.Context, c repository.NewCustomer) (int64, error) {
	if c.BranchID != nil {
		ok, err := s.repo.BranchExists(ctx, c.TenantID, *c.BranchID)
		if err := require(ok, err, i18n.BranchNotFound); err != nil {
			return 0, err
		}
	}
	taken, err := s.repo.CustomerEmailTaken(ctx, c.TenantID, c.Email)
	if err := refuse(taken, err, conflict(i18n.EmailTaken)); err != nil {
		return 0, err
	}

	return s.create(ctx, ResourceCustomers, c.TenantID, conflict(i18n.EmailTaken), func() (int64, error) {
		return s.repo.CreateCustomer(ctx, c)
	})
}

func (s *Service) ListCustomers(ctx context.Context, params repository.ListParams) (repository.Page[repository.Customer], error) {
	return list(ctx, s, ResourceCustomers, params, s.repo.ListCustomers)
}

func (s *Service) DeleteCustomers(ctx context.Context, tenantID int64, ids []int64) (int64, error) {
	return s.remove(ctx, ResourceCustomers, tenantID, ids, s.repo.DeleteCustomers)
}

func (s *Service) CreateProduct(ctx context.Context, p repository.NewProduct) (int64, error) {
	taken, err := s.repo.ProductSKUTaken(ctx, p.TenantID, p.SKU)
	if err := refuse(taken, err, conflict(i18n.SKUTaken)); err != nil {
		return 0, err
	}

	return s.create(ctx, ResourceProducts, p.TenantID, conflict(i18n.SKUTaken), func() (int64, error) {
		return s.repo.CreateProduct(ctx, p)
	})
}

func (s *Service) ListProducts(ctx context.Context, params repository.ListParams) (repository.Page[repository.Product], error) {
	return list(ctx, s, ResourceProducts, params, s.repo.ListProducts)
}

func (s *Service) DeleteProducts(ctx context.Context, tenantID int64, ids []int64) (int64, error) {
	return s.remove(ctx, ResourceProducts, tenantID, ids, s.repo.DeleteProducts)
}

func (s *Service) CreateSalesOrder(ctx context.Context, o repository.NewSalesOrder) (int64, error) {
	ok, err := s.repo.BranchExists(ctx, o.TenantID, o.BranchID)
	if err := require(ok, err, i18n.BranchNotFound); err != nil {
		return 0, err
	}
	ok, err = s.repo.CustomerExists(ctx, o.TenantID, o.CustomerID)
	if err := require(ok, err, i18n.CustomerNotFound); err != nil {
		return 0, err
	}
	if o.OrderNumber != nil {
		taken, err := s.repo.OrderNumberTaken(ctx, o.TenantID, *o.OrderNumber)
		if err := refuse(taken, err, conflict(i18n.OrderNumberTaken)); err != nil {
			return 0, err
		}
	}

	return s.create(ctx, ResourceSalesOrders, o.TenantID, conflict(i18n.OrderNumberTaken), func() (int64, error) {
		return s.repo.CreateSalesOrder(ctx, o)
	})
}

func (s *Service) ListSalesOrders(ctx context.Context, params repository.ListParams) (repository.Page[repository.SalesOrder], error) {
	return list(ctx, s, ResourceSalesOrders, params, s.repo.ListSalesOrders)
}

func (s *Service) DeleteSalesOrders(ctx context.Context, tenantID int64, ids []int64) (int64, error) {
	return s.remove(ctx, ResourceSalesOrders, tenantID, ids, s.repo.DeleteSalesOrders)
}

// CreateSalesOrderItem adds a product line to an order. A second line for the
// same product is rejected as invalid rather than as a conflict.
func (s *Service) CreateSalesOrderItem(ctx context.Context, item repository.NewSalesOrderItem) (int64, error) {
	ok, err := s.repo.SalesOrderExists(ctx, item.TenantID, item.SalesOrderID)
	if err := require(ok, err, i18n.SalesOrderNotFound); err != nil {
		return 0, err
	}
	ok, err = s.repo.ProductExists(ctx, item.TenantID, item.ProductID)
	if err := require(ok, err, i18n.ProductNotFound); err != nil {
		return 0, err
	}
	dup, err := s.repo.OrderHasProduct(ctx, item.TenantID, item.SalesOrderID, item.ProductID)
	if err := refuse(dup, err, invalid(i18n.DuplicateItem)); err != nil {
		return 0, err
	}

	return s.create(ctx, ResourceSalesOrderItems, item.TenantID, invalid(i18n.DuplicateItem), func() (int64, error) {
		return s.repo.CreateSalesOrderItem(ctx, item)
	})
}

func (s *Service) ListSalesOrderItems(ctx context.Context, params repository.ListParams) (repository.Page[repository.SalesOrderItem], error) {
	return list(ctx, s, ResourceSalesOrderItems, params, s.repo.ListSalesOrderItems)
}

func (s *Service) DeleteSalesOrderItems(ctx context.Context, tenantID int64, ids []int64) (int64, error) {
	return s.remove(ctx, ResourceSalesOrderItems, tenantID, ids, s.repo.DeleteSalesOrderItems)
}

func (s *Service) CreateBranch(ctx context.Context, b repository.NewBranch) (int64, error) {
	taken, err := s.repo.BranchNameTaken(ctx, b.TenantID, b.Name)
	if err := refuse(taken, err, conflict(i18n.BranchNameTaken)); err != nil {
		return 0, err
	}

	return s.create(ctx, ResourceBranches, b.TenantID, conflict(i18n.BranchNameTaken), func() (int64, error) {
		return s.repo.CreateBranch(ctx, b)
	})
}

func (s *Service) ListBranches(ctx context.Context, params repository.ListParams) (repository.Page[repository.Branch], error) {
	return list(ctx, s, ResourceBranches, params, s.repo.ListBranches)
}

func (s *Service) DeleteBranches(ctx context.Context, tenantID int64, ids []int64) (int64, error) {
	return s.remove(ctx, ResourceBranches, tenantID, ids, s.repo.DeleteBranches)
}

func (s *Service) CreateUserBranch(ctx context.Context, ub repository.NewUserBranch) (int64, error) {
	ok, err := s.repo.UserExists(ctx, ub.TenantID, ub.UserID)
	if err := require(ok, err, i18n.UserNotFound); err != nil {
		return 0, err
	}
	ok, err = s.repo.BranchExists(ctx, ub.TenantID, ub.BranchID)
	if err := require(ok, err, i18n.BranchNotFound); err != nil {
		return 0, err
	}
	taken, err := s.repo.UserBranchExists(ctx, ub.TenantID, ub.UserID, ub.BranchID)
	if err := refuse(taken, err, conflict(i18n.AssignmentExists)); err != nil {
		return 0, err
	}

	return s.create(ctx, ResourceUserBranches, ub.TenantID, conflict(i18n.AssignmentExists), func() (int64, error) {
		return s.repo.CreateUserBranch(ctx, ub)
	})
}

func (s *Service) ListUserBranches(ctx context.Context, params repository.ListParams) (repository.Page[repository.UserBranch], error) {
	return list(ctx, s, ResourceUserBranches, params, s.repo.ListUserBranches)
}

func (s *Service) DeleteUserBranches(ctx context.Context, tenantID int64, ids []int64) (int64, error) {
	return s.remove(ctx, ResourceUserBranches, tenantID, ids, s.repo.DeleteUserBranches)
}

// CreateRole stores a role. The slug derived from the name is what the
// authorization policy grants capabilities to.
func (s *Service) CreateRole(ctx context.Context, role repository.NewRole) (int64, error) {
	role.Name = strings.TrimSpace(role.Name)
	if role.Slug == "" {
		role.Slug = authz.RoleSlug(role.Name)
	}
	taken, err := s.repo.RoleNameTaken(ctx, role.TenantID, role.Name)
	if err := refuse(taken, err, conflict(i18n.RoleNameTaken)); err != nil {
		return 0, err
	}

	return s.create(ctx, ResourceRoles, role.TenantID, conflict(i18n.RoleNameTaken), func() (int64, error) {
		return s.repo.CreateRole(ctx, role)
	})
}

func (s *Service) ListRoles(ctx context.Context, params repository.ListParams) (repository.Page[repository.Role], error) {
	return list(ctx, s, ResourceRoles, params, s.repo.ListRoles)
}

func (s *Service) DeleteRoles(ctx context.Context, tenantID int64, ids []int64) (int64, error) {
	return s.remove(ctx, ResourceRoles, tenantID, ids, s.repo.DeleteRoles)
}

// NewUser is the input to CreateUser. Password is plain text and is hashed
// before it reaches storage.
type NewUser struct {
	TenantID int64
	RoleID   int64
	FullName string
	Email    string
	Phone    *string
	Password string
}

func (s *Service) CreateUser(ctx context.Context, u NewUser) (int64, error) {
	ok, err := s.repo.RoleExists(ctx, u.TenantID, u.RoleID)
	if err := require(ok, err, i18n.RoleNotFound); err != nil {
		return 0, err
	}
	taken, err := s.repo.UserEmailTaken(ctx, u.TenantID, u.Email)
	if err := refuse(taken, err, conflict(i18n.EmailTaken)); err != nil {
		return 0, err
	}

	hash, err := s.hashPassword(u.Password)
	if err != nil {
		return 0, err
	}

	return s.create(ctx, ResourceUsers, u.TenantID, conflict(i18n.EmailTaken), func() (int64, error) {
		return s.repo.CreateUser(ctx, repository.NewUser{
			TenantID:     u.TenantID,
			RoleID:       u.RoleID,
			FullName:     u.FullName,
			Email:        u.Email,
			Phone:        u.Phone,
			PasswordHash: hash,
		})
	})
}

func (s *Service) ListUsers(ctx context.Context, params repository.ListParams) (repository.Page[repository.User], error) {
	return list(ctx, s, ResourceUsers, params, s.repo.ListUsers)
}

func (s *Service) DeleteUsers(ctx context.Context, tenantID int64, ids []int64) (int64, error) {
	return s.remove(ctx, ResourceUsers, tenantID, ids, s.repo.DeleteUsers)
}

// ListAuditLog returns one page of a tenant's audit trail, newest first.
func (s *Service) ListAuditLog(ctx context.Context, tenantID int64, page, pageSize int) ([]repository.AuditLogEntry, error) {
	page, pageSize = repository.NormalizePage(page, pageSize, s.defaultPageSize, s.maxPageSize)
	entries, err := s.repo.ListAuditLog(ctx, tenantID, pageSize, repository.PageOffset(page, pageSize))
	if err != nil {
		return nil, fmt.Errorf("list audit log: %w", err)
	}
	if entries == nil {
		entries = []repository.AuditLogEntry{}
	}
	return entries, nil
}
