package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	testrequire "github.com/stretchr/testify/require"

	"github.com/matt-riley/tenantdesk/internal/authz"
	"github.com/matt-riley/tenantdesk/internal/i18n"
	"github.com/matt-riley/tenantdesk/internal/repository"
)

// fakeRepository answers existence checks from present and uniqueness checks
// from taken, both keyed as "<what>:<tenant>:<value>".
type fakeRepository struct {
	mu        sync.Mutex
	present   map[string]bool
	taken     map[string]bool
	lookupErr error
	createErr error
	deleteErr error
	deleted   int64
	nextID    int64
	created   []any
	params    []repository.ListParams
	audits    []repository.AuditLogEntry
	auditErr  error
	auditPage [2]int
}

func newFakeRepository() *fakeRepository {
	return &fakeRepository{
		present: map[string]bool{},
		taken:   map[string]bool{},
		nextID:  100,
	}
}

func key(what string, tenantID int64, v any) string {
	return fmt.Sprintf("%s:%d:%v", what, tenantID, v)
}

func (f *fakeRepository) has(what string, tenantID int64, v any) (bool, error) {
	if f.lookupErr != nil {
		return false, f.lookupErr
	}
	return f.present[key(what, tenantID, v)], nil
}

func (f *fakeRepository) isTaken(what string, tenantID int64, v any) (bool, error) {
	if f.lookupErr != nil {
		return false, f.lookupErr
	}
	return f.taken[key(what, tenantID, v)], nil
}

func (f *fakeRepository) insert(v any) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return 0, f.createErr
	}
	f.nextID++
	f.created = append(f.created, v)
	return f.nextID, nil
}

func (f *fakeRepository) remove(int64, []int64) (int64, error) {
	if f.deleteErr != nil {
		return 0, f.deleteErr
	}
	return f.deleted, nil
}

func fakeList[T any](f *fakeRepository, params repository.ListParams) (repository.Page[T], error) {
	f.mu.Lock()
	f.params = append(f.params, params)
	f.mu.Unlock()
	return repository.Page[T]{Page: params.Page, PageSize: params.PageSize, Data: []T{}}, nil
}

func (f *fakeRepository) CreateCustomer(_ context.Context, c repository.NewCustomer) (int64, error) {
	return f.insert(c)
}
func (f *fakeRepository) ListCustomers(_ context.Context, p repository.ListParams) (repository.Page[repository.Customer], error) {
	return fakeList[repository.Customer](f, p)
}
func (f *fakeRepository) DeleteCustomers(_ context.Context, t int64, ids []int64) (int64, error) {
	return f.remove(t, ids)
}
func (f *fakeRepository) CustomerExists(_ context.Context, t, id int64) (bool, error) {
	return f.has("customer", t, id)
}
func (f *fakeRepository) CustomerEmailTaken(_ context.Context, t int64, email string) (bool, error) {
	return f.isTaken("customer_email", t, email)
}

func (f *fakeRepository) CreateProduct(_ context.Context, p repository.NewProduct) (int64, error) {
	return f.insert(p)
}
func (f *fakeRepository) ListProducts(_ context.Context, p repository.ListParams) (repository.Page[repository.Product], error) {
	return fakeList[repository.Product](f, p)
}
func (f *fakeRepository) DeleteProducts(_ context.Context, t int64, ids []int64) (int64, error) {
	return f.remove(t, ids)
}
func (f *fakeRepository) ProductExists(_ context.Context, t, id int64) (bool, error) {
	return f.has("product", t, id)
}
func (f *fakeRepository) ProductSKUTaken(_ context.Context, t int64, sku string) (bool, error) {
	return f.isTaken("sku", t, sku)
}

func (f *fakeRepository) CreateSalesOrder(_ context.Context, o repository.NewSalesOrder) (int64, error) {
	return f.insert(o)
}
func (f *fakeRepository) ListSalesOrders(_ context.Context, p repository.ListParams) (repository.Page[repository.SalesOrder], error) {
	return fakeList[repository.SalesOrder](f, p)
}
func (f *fakeRepository) DeleteSalesOrders(_ context.Context, t int64, ids []int64) (int64, error) {
	return f.remove(t, ids)
}
func (f *fakeRepository) SalesOrderExists(_ context.Context, t, id int64) (bool, error) {
	return f.has("order", t, id)
}
func (f *fakeRepository) OrderNumberTaken(_ context.Context, t int64, n string) (bool, error) {
	return f.isTaken("order_number", t, n)
}

func (f *fakeRepository) CreateSalesOrderItem(_ context.Context, i repository.NewSalesOrderItem) (int64, error) {
	return f.insert(i)
}
func (f *fakeRepository) ListSalesOrderItems(_ context.Context, p repository.ListParams) (repository.Page[repository.SalesOrderItem], error) {
	return fakeList[repository.SalesOrderItem](f, p)
}
func (f *fakeRepository) DeleteSalesOrderItems(_ context.Context, t int64, ids []int64) (int64, error) {
	return f.remove(t, ids)
}
func (f *fakeRepository) OrderHasProduct(_ context.Context, t, orderID, productID int64) (bool, error) {
	return f.isTaken("item", t, fmt.Sprintf("%d/%d", orderID, productID))
}

func (f *fakeRepository) CreateBranch(_ context.Context, b repository.NewBranch) (int64, error) {
	return f.insert(b)
}
func (f *fakeRepository) ListBranches(_ context.Context, p repository.ListParams) (repository.Page[repository.Branch], error) {
	return fakeList[repository.Branch](f, p)
}
func (f *fakeRepository) DeleteBranches(_ context.Context, t int64, ids []int64) (int64, error) {
	return f.remove(t, ids)
}
func (f *fakeRepository) BranchExists(_ context.Context, t, id int64) (bool, error) {
	return f.has("branch", t, id)
}
func (f *fakeRepository) BranchNameTaken(_ context.Context, t int64, name string) (bool, error) {
	return f.isTaken("branch_name", t, name)
}

func (f *fakeRepository) CreateUserBranch(_ context.Context, ub repository.NewUserBranch) (int64, error) {
	return f.insert(ub)
}
func (f *fakeRepository) ListUserBranches(_ context.Context, p repository.ListParams) (repository.Page[repository.UserBranch], error) {
	return fakeList[repository.UserBranch](f, p)
}
func (f *fakeRepository) DeleteUserBranches(_ context.Context, t int64, ids []int64) (int64, error) {
	return f.remove(t, ids)
}
func (f *fakeRepository) UserBranchExists(_ context.Context, t, userID, branchID int64) (bool, error) {
	return f.isTaken("assignment", t, fmt.Sprintf("%d/%d", userID, branchID))
}

func (f *fakeRepository) CreateRole(_ context.Context, r repository.NewRole) (int64, error) {
	return f.insert(r)
}
func (f *fakeRepository) ListRoles(_ context.Context, p repository.ListParams) (repository.Page[repository.Role], error) {
	return fakeList[repository.Role](f, p)
}
func (f *fakeRepository) DeleteRoles(_ context.Context, t int64, ids []int64) (int64, error) {
	return f.remove(t, ids)
}
func (f *fakeRepository) RoleExists(_ context.Context, t, id int64) (bool, error) {
	return f.has("role", t, id)
}
func (f *fakeRepository) RoleNameTaken(_ context.Context, t int64, name string) (bool, error) {
	return f.isTaken("role_name", t, name)
}

func (f *fakeRepository) CreateUser(_ context.Context, u repository.NewUser) (int64, error) {
	return f.insert(u)
}
func (f *fakeRepository) ListUsers(_ context.Context, p repository.ListParams) (repository.Page[repository.User], error) {
	return fakeList[repository.User](f, p)
}
func (f *fakeRepository) DeleteUsers(_ context.Context, t int64, ids []int64) (int64, error) {
	return f.remove(t, ids)
}
func (f *fakeRepository) UserExists(_ context.Context, t, id int64) (bool, error) {
	return f.has("user", t, id)
}
func (f *fakeRepository) UserEmailTaken(_ context.Context, t int64, email string) (bool, error) {
	return f.isTaken("user_email", t, email)
}

func (f *fakeRepository) InsertAuditLog(_ context.Context, entry repository.AuditLogEntry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.audits = append(f.audits, entry)
	return f.auditErr
}

func (f *fakeRepository) ListAuditLog(_ context.Context, _ int64, limit, offset int) ([]repository.AuditLogEntry, error) {
	f.auditPage = [2]int{limit, offset}
	if f.lookupErr != nil {
		return nil, f.lookupErr
	}
	return nil, nil
}

func newTestService(t *testing.T, repo *fakeRepository, opts ...Option) *Service {
	t.Helper()
	opts = append([]Option{WithPasswordHasher(func(p string) (string, error) { return "hashed:" + p, nil })}, opts...)
	svc, err := New(repo, opts...)
	testrequire.NoError(t, err)
	return svc
}

func requireServiceError(t *testing.T, err error, kind error, key i18n.Key) {
	t.Helper()
	testrequire.Error(t, err)
	assert.ErrorIs(t, err, kind)
	var svcErr *Error
	testrequire.ErrorAs(t, err, &svcErr)
	assert.Equal(t, key, svcErr.Key)
}

func TestNewRejectsNilRepository(t *testing.T) {
	_, err := New(nil)
	testrequire.Error(t, err)
}

func TestCreateCustomer(t *testing.T) {
	ctx := authz.NewContext(context.Background(), authz.Principal{UserID: 7, TenantID: 1, RoleSlug: "sales"})
	branch := int64(5)

	t.Run("created and audited", func(t *testing.T) {
		repo := newFakeRepository()
		repo.present[key("branch", 1, 5)] = true
		svc := newTestService(t, repo)

		id, err := svc.CreateCustomer(ctx, repository.NewCustomer{TenantID: 1, BranchID: &branch, FullName: "Ann", Email: "ann@example.com"})
		testrequire.NoError(t, err)
		assert.Equal(t, int64(101), id)

		testrequire.Len(t, repo.audits, 1)
		entry := repo.audits[0]
		assert.Equal(t, AuditActionCreate, entry.Action)
		assert.Equal(t, ResourceCustomers, entry.Resource)
		assert.Equal(t, int64(1), entry.TenantID)
		testrequire.NotNil(t, entry.UserID)
		assert.Equal(t, int64(7), *entry.UserID)
		assert.JSONEq(t, `{"id":101}`, string(entry.Details))
	})

	t.Run("branch from another tenant", func(t *testing.T) {
		repo := newFakeRepository()
		repo.present[key("branch", 2, 5)] = true
		svc := newTestService(t, repo)

		_, err := svc.CreateCustomer(ctx, repository.NewCustomer{TenantID: 1, BranchID: &branch, FullName: "Ann", Email: "ann@example.com"})
		requireServiceError(t, err, ErrNotFound, i18n.BranchNotFound)
		assert.Empty(t, repo.created)
		assert.Empty(t, repo.audits)
	})

	t.Run("email taken", func(t *testing.T) {
		repo := newFakeRepository()
		repo.taken[key("customer_email", 1, "ann@example.com")] = true
		svc := newTestService(t, repo)

		_, err := svc.CreateCustomer(ctx, repository.NewCustomer{TenantID: 1, FullName: "Ann", Email: "ann@example.com"})
		requireServiceError(t, err, ErrConflict, i18n.EmailTaken)
	})

	t.Run("unique violation on insert", func(t *testing.T) {
		repo := newFakeRepository()
		repo.createErr = fmt.Errorf("create customer: %w", repository.ErrUniqueViolation)
		svc := newTestService(t, repo)

		_, err := svc.CreateCustomer(ctx, repository.NewCustomer{TenantID: 1, FullName: "Ann", Email: "ann@example.com"})
		requireServiceError(t, err, ErrConflict, i18n.EmailTaken)
		assert.ErrorIs(t, err, repository.ErrUniqueViolation)
	})

	t.Run("lookup error passes through", func(t *testing.T) {
		repo := newFakeRepository()
		repo.lookupErr = errors.New("connection reset")
		svc := newTestService(t, repo)

		_, err := svc.CreateCustomer(ctx, repository.NewCustomer{TenantID: 1, FullName: "Ann", Email: "ann@example.com"})
		testrequire.ErrorIs(t, err, repo.lookupErr)
		var svcErr *Error
		assert.False(t, errors.As(err, &svcErr))
	})
}

func TestCreateSalesOrder(t *testing.T) {
	ctx := context.Background()
	number := "SO-1"

	tests := []struct {
		name    string
		setup   func(*fakeRepository)
		wantErr error
		wantKey i18n.Key
	}{
		{
			name:    "missing branch",
			setup:   func(r *fakeRepository) { r.present[key("customer", 1, 3)] = true },
			wantErr: ErrNotFound,
			wantKey: i18n.BranchNotFound,
		},
		{
			name:    "missing customer",
			setup:   func(r *fakeRepository) { r.present[key("branch", 1, 2)] = true },
			wantErr: ErrNotFound,
			wantKey: i18n.CustomerNotFound,
		},
		{
			name: "number taken",
			setup: func(r *fakeRepository) {
				r.present[key("branch", 1, 2)] = true
				r.present[key("customer", 1, 3)] = true
				r.taken[key("order_number", 1, "SO-1")] = true
			},
			wantErr: ErrConflict,
			wantKey: i18n.OrderNumberTaken,
		},
		{
			name: "created",
			setup: func(r *fakeRepository) {
				r.present[key("branch", 1, 2)] = true
				r.present[key("customer", 1, 3)] = true
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := newFakeRepository()
			tt.setup(repo)
			svc := newTestService(t, repo)

			_, err := svc.CreateSalesOrder(ctx, repository.NewSalesOrder{TenantID: 1, BranchID: 2, CustomerID: 3, OrderNumber: &number})
			if tt.wantErr == nil {
				testrequire.NoError(t, err)
				assert.Len(t, repo.created, 1)
				return
			}
			requireServiceError(t, err, tt.wantErr, tt.wantKey)
		})
	}
}

func TestCreateSalesOrderItemDuplicateIsInvalid(t *testing.T) {
	repo := newFakeRepository()
	repo.present[key("order", 1, 4)] = true
	repo.present[key("product", 1, 9)] = true
	repo.taken[key("item", 1, "4/9")] = true
	svc := newTestService(t, repo)

	_, err := svc.CreateSalesOrderItem(context.Background(), repository.NewSalesOrderItem{TenantID: 1, SalesOrderID: 4, ProductID: 9, Quantity: 1, UnitPrice: 2})
	requireServiceError(t, err, ErrInvalid, i18n.DuplicateItem)

	repo.taken = map[string]bool{}
	_, err = svc.CreateSalesOrderItem(context.Background(), repository.NewSalesOrderItem{TenantID: 1, SalesOrderID: 4, ProductID: 10})
	requireServiceError(t, err, ErrNotFound, i18n.ProductNotFound)
}

func TestCreateUserBranch(t *testing.T) {
	repo := newFakeRepository()
	svc := newTestService(t, repo)
	ctx := context.Background()

	_, err := svc.CreateUserBranch(ctx, repository.NewUserBranch{TenantID: 1, UserID: 3, BranchID: 4})
	requireServiceError(t, err, ErrNotFound, i18n.UserNotFound)

	repo.present[key("user", 1, 3)] = true
	repo.present[key("branch", 1, 4)] = true
	repo.taken[key("assignment", 1, "3/4")] = true
	_, err = svc.CreateUserBranch(ctx, repository.NewUserBranch{TenantID: 1, UserID: 3, BranchID: 4})
	requireServiceError(t, err, ErrConflict, i18n.AssignmentExists)
}

func TestCreateRoleDerivesSlug(t *testing.T) {
	repo := newFakeRepository()
	svc := newTestService(t, repo)

	_, err := svc.CreateRole(context.Background(), repository.NewRole{TenantID: 1, Name: " Store Manager "})
	testrequire.NoError(t, err)
	testrequire.Len(t, repo.created, 1)
	role := repo.created[0].(repository.NewRole)
	assert.Equal(t, "Store Manager", role.Name)
	assert.Equal(t, "store-manager", role.Slug)

	repo.taken[key("role_name", 1, "Store Manager")] = true
	_, err = svc.CreateRole(context.Background(), repository.NewRole{TenantID: 1, Name: "Store Manager"})
	requireServiceError(t, err, ErrConflict, i18n.RoleNameTaken)
}

func TestCreateUserHashesPassword(t *testing.T) {
	repo := newFakeRepository()
	repo.present[key("role", 1, 2)] = true
	svc := newTestService(t, repo)

	_, err := svc.CreateUser(context.Background(), NewUser{TenantID: 1, RoleID: 2, FullName: "Ann", Email: "ann@example.com", Password: "s3cret-pass"})
	testrequire.NoError(t, err)
	testrequire.Len(t, repo.created, 1)
	assert.Equal(t, "hashed:s3cret-pass", repo.created[0].(repository.NewUser).PasswordHash)

	_, err = svc.CreateUser(context.Background(), NewUser{TenantID: 1, RoleID: 3, Email: "bob@example.com", Password: "s3cret-pass"})
	requireServiceError(t, err, ErrNotFound, i18n.RoleNotFound)
}

func TestCreateProductSKUTaken(t *testing.T) {
	repo := newFakeRepository()
	repo.taken[key("sku", 1, "W-1")] = true
	svc := newTestService(t, repo)

	_, err := svc.CreateProduct(context.Background(), repository.NewProduct{TenantID: 1, Name: "Widget", SKU: "W-1", Price: 3})
	requireServiceError(t, err, ErrConflict, i18n.SKUTaken)

	_, err = svc.CreateBranch(context.Background(), repository.NewBranch{TenantID: 1, Name: "Main"})
	testrequire.NoError(t, err)
}

func TestDelete(t *testing.T) {
	ctx := context.Background()

	t.Run("deleted and audited", func(t *testing.T) {
		repo := newFakeRepository()
		repo.deleted = 2
		svc := newTestService(t, repo)

		n, err := svc.DeleteProducts(ctx, 1, []int64{5, 6})
		testrequire.NoError(t, err)
		assert.Equal(t, int64(2), n)
		testrequire.Len(t, repo.audits, 1)
		assert.Equal(t, AuditActionDelete, repo.audits[0].Action)
		assert.Nil(t, repo.audits[0].UserID)
		assert.JSONEq(t, `{"ids":[5,6],"deleted":2}`, string(repo.audits[0].Details))
	})

	t.Run("nothing matched", func(t *testing.T) {
		repo := newFakeRepository()
		repo.deleteErr = fmt.Errorf("delete products: %w", repository.ErrNotFound)
		svc := newTestService(t, repo)

		_, err := svc.DeleteProducts(ctx, 1, []int64{99})
		requireServiceError(t, err, ErrNotFound, i18n.RecordsNotFound)
		assert.Empty(t, repo.audits)
	})

	t.Run("still referenced", func(t *testing.T) {
		repo := newFakeRepository()
		repo.deleteErr = fmt.Errorf("delete branches: %w", repository.ErrForeignKeyViolation)
		svc := newTestService(t, repo)

		_, err := svc.DeleteBranches(ctx, 1, []int64{1})
		requireServiceError(t, err, ErrConflict, i18n.InUse)
	})

	t.Run("audit failure does not fail the delete", func(t *testing.T) {
		repo := newFakeRepository()
		repo.deleted = 1
		repo.auditErr = errors.New("audit table locked")
		svc := newTestService(t, repo)

		n, err := svc.DeleteCustomers(ctx, 1, []int64{3})
		testrequire.NoError(t, err)
		assert.Equal(t, int64(1), n)
	})
}

func TestAuditSurvivesCanceledRequest(t *testing.T) {
	repo := newFakeRepository()
	repo.deleted = 1
	svc := newTestService(t, repo)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := svc.DeleteUsers(ctx, 1, []int64{3})
	testrequire.NoError(t, err)
	assert.Len(t, repo.audits, 1)
}

func TestListNormalizesPaging(t *testing.T) {
	repo := newFakeRepository()
	svc := newTestService(t, repo, WithPageSizes(25, 50))

	page, err := svc.ListCustomers(context.Background(), repository.ListParams{TenantID: 1})
	testrequire.NoError(t, err)
	assert.Equal(t, 1, page.Page)
	assert.Equal(t, 25, page.PageSize)

	_, err = svc.ListSalesOrders(context.Background(), repository.ListParams{TenantID: 1, Page: -2, PageSize: 500})
	testrequire.NoError(t, err)
	last := repo.params[len(repo.params)-1]
	assert.Equal(t, 1, last.Page)
	assert.Equal(t, 50, last.PageSize)
}

func TestListKeepsConfiguredMaximum(t *testing.T) {
	repo := newFakeRepository()
	svc := newTestService(t, repo, WithPageSizes(10, 500))

	page, err := svc.ListCustomers(context.Background(), repository.ListParams{TenantID: 1, PageSize: 200})
	testrequire.NoError(t, err)
	assert.Equal(t, 200, page.PageSize)

	_, err = svc.ListAuditLog(context.Background(), 1, 900000000000000000, 200)
	testrequire.NoError(t, err)
	assert.Equal(t, 200, repo.auditPage[0])
	assert.GreaterOrEqual(t, repo.auditPage[1], 0, "offset must not wrap negative")
}

func TestErrorMessage(t *testing.T) {
	err := &Error{Kind: ErrConflict, Key: i18n.InUse}
	assert.Equal(t, "conflict: in_use", err.Error())

	wrapped := &Error{Kind: ErrNotFound, Key: i18n.RecordsNotFound, Err: repository.ErrNotFound}
	assert.ErrorIs(t, wrapped, repository.ErrNotFound)
	assert.ErrorIs(t, wrapped, ErrNotFound)
}

func TestListAuditLog(t *testing.T) {
	repo := newFakeRepository()
	svc := newTestService(t, repo, WithPageSizes(20, 50))

	entries, err := svc.ListAuditLog(context.Background(), 1, 3, 0)
	testrequire.NoError(t, err)
	assert.NotNil(t, entries)
	assert.Equal(t, [2]int{20, 40}, repo.auditPage)

	repo.lookupErr = errors.New("db down")
	_, err = svc.ListAuditLog(context.Background(), 1, 1, 10)
	testrequire.ErrorIs(t, err, repo.lookupErr)
}
