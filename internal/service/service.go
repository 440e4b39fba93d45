// Package service holds the tenant-scoped operations behind each resource:
// create with existence and uniqueness pre-checks, paginated list, and bulk
// delete. Failures the caller can act on are returned as *Error values that
// carry a localized message key.
package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/matt-riley/tenantdesk/internal/authz"
	"github.com/matt-riley/tenantdesk/internal/i18n"
	"github.com/matt-riley/tenantdesk/internal/repository"
)

const (
	AuditActionCreate = "create"
	AuditActionDelete = "delete"
	bestEffortTimeout = 2 * time.Second
)

var (
	ErrNotFound = errors.New("not found")
	ErrConflict = errors.New("conflict")
	ErrInvalid  = errors.New("invalid request")
)

// Error is a domain failure with the message key shown to the caller. Kind is
// one of ErrNotFound, ErrConflict or ErrInvalid.
type Error struct {
	Kind error
	Key  i18n.Key
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%v: %s: %v", e.Kind, e.Key, e.Err)
	}
	return fmt.Sprintf("%v: %s", e.Kind, e.Key)
}

func (e *Error) Unwrap() []error {
	if e.Err != nil {
		return []error{e.Kind, e.Err}
	}
	return []error{e.Kind}
}

func notFound(key i18n.Key) *Error { return &Error{Kind: ErrNotFound, Key: key} }
func conflict(key i18n.Key) *Error { return &Error{Kind: ErrConflict, Key: key} }
func invalid(key i18n.Key) *Error  { return &Error{Kind: ErrInvalid, Key: key} }

type Repository interface {
	CreateCustomer(ctx context.Context, c repository.NewCustomer) (int64, error)
	ListCustomers(ctx context.Context, params repository.ListParams) (repository.Page[repository.Customer], error)
	DeleteCustomers(ctx context.Context, tenantID int64, ids []int64) (int64, error)
	CustomerExists(ctx context.Context, tenantID, id int64) (bool, error)
	CustomerEmailTaken(ctx context.Context, tenantID int64, email string) (bool, error)

	CreateProduct(ctx context.Context, p repository.NewProduct) (int64, error)
	ListProducts(ctx context.Context, params repository.ListParams) (repository.Page[repository.Product], error)
	DeleteProducts(ctx context.Context, tenantID int64, ids []int64) (int64, error)
	ProductExists(ctx context.Context, tenantID, id int64) (bool, error)
	ProductSKUTaken(ctx context.Context, tenantID int64, sku string) (bool, error)

	CreateSalesOrder(ctx context.Context, o repository.NewSalesOrder) (int64, error)
	ListSalesOrders(ctx context.Context, params repository.ListParams) (repository.Page[repository.SalesOrder], error)
	DeleteSalesOrders(ctx context.Context, tenantID int64, ids []int64) (int64, error)
	SalesOrderExists(ctx context.Context, tenantID, id int64) (bool, error)
	OrderNumberTaken(ctx context.Context, tenantID int64, orderNumber string) (bool, error)

	CreateSalesOrderItem(ctx context.Context, item repository.NewSalesOrderItem) (int64, error)
	ListSalesOrderItems(ctx context.Context, params repository.ListParams) (repository.Page[repository.SalesOrderItem], error)
	DeleteSalesOrderItems(ctx context.Context, tenantID int64, ids []int64) (int64, error)
	OrderHasProduct(ctx context.Context, tenantID, salesOrderID, productID int64) (bool, error)

	CreateBranch(ctx context.Context, b repository.NewBranch) (int64, error)
	ListBranches(ctx context.Context, params repository.ListParams) (repository.Page[repository.Branch], error)
	DeleteBranches(ctx context.Context, tenantID int64, ids []int64) (int64, error)
	BranchExists(ctx context.Context, tenantID, id int64) (bool, error)
	BranchNameTaken(ctx context.Context, tenantID int64, name string) (bool, error)

	CreateUserBranch(ctx context.Context, ub repository.NewUserBranch) (int64, error)
	ListUserBranches(ctx context.Context, params repository.ListParams) (repository.Page[repository.UserBranch], error)
	DeleteUserBranches(ctx context.Context, tenantID int64, ids []int64) (int64, error)
	UserBranchExists(ctx context.Context, tenantID, userID, branchID int64) (bool, error)

	CreateRole(ctx context.Context, role repository.NewRole) (int64, error)
	ListRoles(ctx context.Context, params repository.ListParams) (repository.Page[repository.Role], error)
	DeleteRoles(ctx context.Context, tenantID int64, ids []int64) (int64, error)
	RoleExists(ctx context.Context, tenantID, id int64) (bool, error)
	RoleNameTaken(ctx context.Context, tenantID int64, name string) (bool, error)

	CreateUser(ctx context.Context, u repository.NewUser) (int64, error)
	ListUsers(ctx context.Context, params repository.ListParams) (repository.Page[repository.User], error)
	DeleteUsers(ctx context.Context, tenantID int64, ids []int64) (int64, error)
	UserExists(ctx context.Context, tenantID, id int64) (bool, error)
	UserEmailTaken(ctx context.Context, tenantID int64, email string) (bool, error)

	InsertAuditLog(ctx context.Context, entry repository.AuditLogEntry) error
	ListAuditLog(ctx context.Context, tenantID int64, limit, offset int) ([]repository.AuditLogEntry, error)
}

// Option configures a Service.
type Option func(*Service)

// WithPageSizes sets the page size used when a list request sends none and
// the largest page size a request may ask for.
func WithPageSizes(defaultSize, maxSize int) Option {
	return func(s *Service) {
		s.defaultPageSize = defaultSize
		s.maxPageSize = maxSize
	}
}

// WithLogger sets the logger used for best-effort failures.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

// WithPasswordHasher replaces the argon2id hasher used for new users.
func WithPasswordHasher(hash func(string) (string, error)) Option {
	return func(s *Service) {
		s.hashPassword = hash
	}
}

type Service struct {
	repo            Repository
	logger          *slog.Logger
	defaultPageSize int
	maxPageSize     int
	hashPassword    func(string) (string, error)
}

func New(repo Repository, opts ...Option) (*Service, error) {
	if repo == nil {
		return nil, errors.New("repository is nil")
	}

	svc := &Service{
		repo:            repo,
		logger:          slog.Default(),
		defaultPageSize: repository.DefaultPageSize,
		maxPageSize:     repository.MaxPageSize,
		hashPassword:    HashPassword,
	}
	for _, opt := range opts {
		opt(svc)
	}

	return svc, nil
}

// require turns a failed or negative existence check into an error.
func require(ok bool, err error, key i18n.Key) error {
	if err != nil {
		return err
	}
	if !ok {
		return notFound(key)
	}
	return nil
}

// refuse turns a positive uniqueness check into an error.
func refuse(taken bool, err error, onTaken *Error) error {
	if err != nil {
		return err
	}
	if taken {
		return onTaken
	}
	return nil
}

// create runs insert and records the audit entry. A unique violation that
// slipped past the pre-checks maps to onDuplicate.
func (s *Service) create(ctx context.Context, resource string, tenantID int64, onDuplicate *Error, insert func() (int64, error)) (int64, error) {
	id, err := insert()
	if err != nil {
		if errors.Is(err, repository.ErrUniqueViolation) && onDuplicate != nil {
			return 0, &Error{Kind: onDuplicate.Kind, Key: onDuplicate.Key, Err: err}
		}
		if errors.Is(err, repository.ErrForeignKeyViolation) {
			return 0, &Error{Kind: ErrNotFound, Key: i18n.RecordsNotFound, Err: err}
		}
		return 0, fmt.Errorf("create %s: %w", resource, err)
	}

	s.auditBestEffort(ctx, AuditActionCreate, resource, tenantID, map[string]any{"id": id})
	return id, nil
}

func (s *Service) remove(ctx context.Context, resource string, tenantID int64, ids []int64, del func(context.Context, int64, []int64) (int64, error)) (int64, error) {
	deleted, err := del(ctx, tenantID, ids)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return 0, &Error{Kind: ErrNotFound, Key: i18n.RecordsNotFound, Err: err}
		}
		if errors.Is(err, repository.ErrForeignKeyViolation) {
			return 0, &Error{Kind: ErrConflict, Key: i18n.InUse, Err: err}
		}
		return 0, fmt.Errorf("delete %s: %w", resource, err)
	}

	s.auditBestEffort(ctx, AuditActionDelete, resource, tenantID, map[string]any{"ids": ids, "deleted": deleted})
	return deleted, nil
}

func list[T any](ctx context.Context, s *Service, resource string, params repository.ListParams, fetch func(context.Context, repository.ListParams) (repository.Page[T], error)) (repository.Page[T], error) {
	params.Page, params.PageSize = repository.NormalizePage(params.Page, params.PageSize, s.defaultPageSize, s.maxPageSize)
	page, err := fetch(ctx, params)
	if err != nil {
		return repository.Page[T]{}, fmt.Errorf("list %s: %w", resource, err)
	}
	return page, nil
}

func (s *Service) auditBestEffort(ctx context.Context, action, resource string, tenantID int64, details map[string]any) {
	// Mutations have already committed before the audit row is written.
	auditCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), bestEffortTimeout)
	defer cancel()

	payload, err := json.Marshal(details)
	if err != nil {
		s.logger.Warn("marshal audit details failed", "resource", resource, "error", err)
		return
	}

	entry := repository.AuditLogEntry{
		TenantID: tenantID,
		Action:   action,
		Resource: resource,
		Details:  payload,
	}
	if p, ok := authz.FromContext(ctx); ok && !p.IsZero() {
		userID := p.UserID
		entry.UserID = &userID
	}

	if err := s.repo.InsertAuditLog(auditCtx, entry); err != nil {
		s.logger.Warn("audit log write failed", "action", action, "resource", resource, "tenant_id", tenantID, "error", err)
	}
}
