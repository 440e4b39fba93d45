//go:build integration

package integration

import (
	"bytes"
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/docker/go-connections/nat"
	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/matt-riley/tenantdesk/internal/authz"
	"github.com/matt-riley/tenantdesk/internal/middleware"
	"github.com/matt-riley/tenantdesk/internal/repository"
	"github.com/matt-riley/tenantdesk/internal/server"
	"github.com/matt-riley/tenantdesk/internal/service"
	"github.com/matt-riley/tenantdesk/migrations"
)

var testPool *pgxpool.Pool

func TestMain(m *testing.M) {
	os.Exit(runTests(m))
}

func runTests(m *testing.M) int {
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "postgres:18-alpine",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_DB":       "tenantdesk_test",
			"POSTGRES_USER":     "test",
			"POSTGRES_PASSWORD": "test",
		},
		WaitingFor: wait.ForSQL("5432/tcp", "pgx", func(host string, port nat.Port) string {
			return fmt.Sprintf("postgresql://test:test@%s:%s/tenantdesk_test?sslmode=disable", host, port.Port())
		}).WithStartupTimeout(30 * time.Second),
	}

	pgContainer, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		log.Printf("start postgres container: %v", err)
		return 1
	}
	defer func() { _ = pgContainer.Terminate(ctx) }()

	host, err := pgContainer.Host(ctx)
	if err != nil {
		log.Printf("get container host: %v", err)
		return 1
	}

	mappedPort, err := pgContainer.MappedPort(ctx, "5432/tcp")
	if err != nil {
		log.Printf("get mapped port: %v", err)
		return 1
	}

	connStr := fmt.Sprintf(
		"postgresql://test:test@%s:%s/tenantdesk_test?sslmode=disable",
		host, mappedPort.Port(),
	)

	db, err := sql.Open("pgx", connStr)
	if err != nil {
		log.Printf("open db for migrations: %v", err)
		return 1
	}
	defer func() {
		if err := db.Close(); err != nil {
			log.Printf("close db after migrations: %v", err)
		}
	}()
	goose.SetBaseFS(migrations.FS)
	if err := goose.SetDialect("postgres"); err != nil {
		log.Printf("set goose dialect: %v", err)
		return 1
	}
	if err := goose.Up(db, "."); err != nil {
		log.Printf("run migrations: %v", err)
		return 1
	}

	testPool, err = pgxpool.New(ctx, connStr)
	if err != nil {
		log.Printf("create pool: %v", err)
		return 1
	}
	defer testPool.Close()

	return m.Run()
}

func newRepo() *repository.PostgresRepository {
	return repository.NewPostgresRepository(testPool)
}

func randID() string {
	var b [8]byte
	if _, err := rand.Read(b[:]); err != nil {
		panic(fmt.Sprintf("crypto/rand failed: %v", err))
	}
	return hex.EncodeToString(b[:])
}

// policyFile locates the checked-in casbin policy relative to this file.
func policyFile(t *testing.T) string {
	t.Helper()
	_, file, _, ok := runtime.Caller(0)
	if !ok {
		t.Fatal("runtime.Caller failed")
	}
	return filepath.Join(filepath.Dir(file), "..", "..", "config", "access", "policy.csv")
}

// fixture is one tenant with a role, a user holding it and a branch.
type fixture struct {
	tenantID int64
	userID   int64
	branchID int64
}

func insertID(t *testing.T, query string, args ...any) int64 {
	t.Helper()
	var id int64
	if err := testPool.QueryRow(context.Background(), query, args...).Scan(&id); err != nil {
		t.Fatalf("seed %q: %v", query, err)
	}
	return id
}

func newFixture(t *testing.T, roleSlug string) fixture {
	t.Helper()
	var f fixture
	f.tenantID = insertID(t, `INSERT INTO tenants (name) VALUES ($1) RETURNING id`, "tenant-"+randID())
	roleID := insertID(t, `INSERT INTO roles (tenant_id, name, slug) VALUES ($1, $2, $3) RETURNING id`,
		f.tenantID, roleSlug+"-"+randID(), roleSlug)
	f.userID = insertID(t, `
		INSERT INTO users (tenant_id, role_id, full_name, email, password_hash)
		VALUES ($1, $2, 'Test User', $3, 'x') RETURNING id`,
		f.tenantID, roleID, randID()+"@example.com")
	f.branchID = insertID(t, `INSERT INTO branches (tenant_id, name) VALUES ($1, $2) RETURNING id`,
		f.tenantID, "branch-"+randID())
	return f
}

func (f fixture) principal(roleSlug string) authz.Principal {
	return authz.Principal{UserID: f.userID, TenantID: f.tenantID, RoleSlug: roleSlug}
}

func (f fixture) insertProduct(t *testing.T) int64 {
	t.Helper()
	return insertID(t, `INSERT INTO products (tenant_id, name, sku, price) VALUES ($1, 'Widget', $2, 9.5) RETURNING id`,
		f.tenantID, "sku-"+randID())
}

func (f fixture) insertCustomer(t *testing.T, name string) int64 {
	t.Helper()
	return insertID(t, `INSERT INTO customers (tenant_id, full_name, email) VALUES ($1, $2, $3) RETURNING id`,
		f.tenantID, name, randID()+"@example.com")
}

// newAPI builds the HTTP stack against the real database. A non-zero
// principal is attached to every request, standing in for bearer resolution.
func newAPI(t *testing.T, policy authz.Policy, p authz.Principal, opts ...service.Option) http.Handler {
	t.Helper()
	repo := newRepo()
	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))

	svc, err := service.New(repo, append([]service.Option{service.WithLogger(logger)}, opts...)...)
	if err != nil {
		t.Fatalf("service.New: %v", err)
	}
	perms, err := authz.NewCasbinResolver(policyFile(t))
	if err != nil {
		t.Fatalf("NewCasbinResolver: %v", err)
	}
	authorizer := authz.NewAuthorizer(policy, perms, authz.NewTenantScopeResolver(repo))

	api := server.NewHTTPHandler(svc, authorizer, server.WithPinger(repo))
	withPrincipal := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !p.IsZero() {
			r = r.WithContext(authz.NewContext(r.Context(), p))
		}
		api.ServeHTTP(w, r)
	})
	return middleware.HTTPRequestLogging(logger)(withPrincipal)
}

func do(t *testing.T, h http.Handler, method, target string, body any) (int, map[string]any) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, target, reader)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	var out map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
	return rec.Code, out
}

func auditCount(t *testing.T, tenantID int64, action, resource string) int {
	t.Helper()
	var n int
	err := testPool.QueryRow(context.Background(),
		`SELECT COUNT(*) FROM audit_log WHERE tenant_id = $1 AND action = $2 AND resource = $3`,
		tenantID, action, resource).Scan(&n)
	if err != nil {
		t.Fatalf("count audit rows: %v", err)
	}
	return n
}

func TestCreateCustomerMissingEmail(t *testing.T) {
	f := newFixture(t, "sales")
	api := newAPI(t, authz.PolicyEnforced, f.principal("sales"))

	code, body := do(t, api, http.MethodPost, "/v1/customers", map[string]any{
		"tenant_id": f.tenantID,
		"full_name": "Ali",
	})
	if code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400 (body %v)", code, body)
	}
	errs, _ := body["error"].([]any)
	if len(errs) != 1 || errs[0] != "Email is required" {
		t.Fatalf("errors = %v, want [Email is required]", body["error"])
	}
}

func TestCreateCustomer(t *testing.T) {
	f := newFixture(t, "sales")
	api := newAPI(t, authz.PolicyEnforced, f.principal("sales"))

	payload := map[string]any{
		"tenant_id": f.tenantID,
		"full_name": "Ali Hassan",
		"email":     "ali-" + randID() + "@example.com",
		"branch_id": f.branchID,
	}
	code, body := do(t, api, http.MethodPost, "/v1/customers", payload)
	if code != http.StatusCreated {
		t.Fatalf("status = %d, want 201 (body %v)", code, body)
	}
	if id, _ := body["id"].(float64); id <= 0 {
		t.Fatalf("id = %v, want positive", body["id"])
	}
	if got := auditCount(t, f.tenantID, service.AuditActionCreate, service.ResourceCustomers); got != 1 {
		t.Fatalf("audit rows = %d, want 1", got)
	}

	code, _ = do(t, api, http.MethodPost, "/v1/customers", payload)
	if code != http.StatusConflict {
		t.Fatalf("duplicate email status = %d, want 409", code)
	}

	other := newFixture(t, "sales")
	payload["email"] = "other-" + randID() + "@example.com"
	payload["branch_id"] = other.branchID
	code, _ = do(t, api, http.MethodPost, "/v1/customers", payload)
	if code != http.StatusNotFound {
		t.Fatalf("foreign branch status = %d, want 404", code)
	}
}

func TestDeleteProductsScopedToTenant(t *testing.T) {
	home := newFixture(t, "owner")
	other := newFixture(t, "owner")
	own := home.insertProduct(t)
	foreign := other.insertProduct(t)

	api := newAPI(t, authz.PolicyEnforced, home.principal("owner"))
	code, body := do(t, api, http.MethodDelete, "/v1/products", map[string]any{
		"tenant_id":   home.tenantID,
		"product_ids": []int64{own, foreign},
	})
	if code != http.StatusOK {
		t.Fatalf("status = %d, want 200 (body %v)", code, body)
	}
	if body["message"] != "1 records deleted successfully" {
		t.Fatalf("message = %v", body["message"])
	}

	var remaining int
	if err := testPool.QueryRow(context.Background(),
		`SELECT COUNT(*) FROM products WHERE id = $1`, foreign).Scan(&remaining); err != nil {
		t.Fatalf("count products: %v", err)
	}
	if remaining != 1 {
		t.Fatal("product owned by another tenant was deleted")
	}
	if got := auditCount(t, home.tenantID, service.AuditActionDelete, service.ResourceProducts); got != 1 {
		t.Fatalf("audit rows = %d, want 1", got)
	}

	code, _ = do(t, api, http.MethodDelete, "/v1/products", map[string]any{
		"tenant_id":   home.tenantID,
		"product_ids": []int64{foreign},
	})
	if code != http.StatusNotFound {
		t.Fatalf("foreign-only delete status = %d, want 404", code)
	}
}

func TestDeleteRoleAfterItsUsersAreRemoved(t *testing.T) {
	f := newFixture(t, "owner")
	roleID := insertID(t, `INSERT INTO roles (tenant_id, name, slug) VALUES ($1, $2, 'temp') RETURNING id`,
		f.tenantID, "temp-"+randID())
	userID := insertID(t, `
		INSERT INTO users (tenant_id, role_id, full_name, email, password_hash)
		VALUES ($1, $2, 'Temp User', $3, 'x') RETURNING id`,
		f.tenantID, roleID, randID()+"@example.com")

	api := newAPI(t, authz.PolicyEnforced, f.principal("owner"))
	deleteRole := map[string]any{"tenant_id": f.tenantID, "role_ids": []int64{roleID}}

	if code, body := do(t, api, http.MethodDelete, "/v1/roles", deleteRole); code != http.StatusConflict {
		t.Fatalf("role with a live user: status = %d, want 409 (body %v)", code, body)
	}

	code, body := do(t, api, http.MethodDelete, "/v1/users", map[string]any{"tenant_id": f.tenantID, "user_ids": []int64{userID}})
	if code != http.StatusOK {
		t.Fatalf("delete user: status = %d, want 200 (body %v)", code, body)
	}

	if code, body := do(t, api, http.MethodDelete, "/v1/roles", deleteRole); code != http.StatusOK {
		t.Fatalf("role after its user was removed: status = %d, want 200 (body %v)", code, body)
	}
}

func TestDeleteBranchInUse(t *testing.T) {
	f := newFixture(t, "owner")
	customer := f.insertCustomer(t, "Buyer")
	insertID(t, `INSERT INTO sales_orders (tenant_id, branch_id, customer_id) VALUES ($1, $2, $3) RETURNING id`,
		f.tenantID, f.branchID, customer)

	api := newAPI(t, authz.PolicyEnforced, f.principal("owner"))
	code, body := do(t, api, http.MethodDelete, "/v1/branches", map[string]any{
		"tenant_id":  f.tenantID,
		"branch_ids": []int64{f.branchID},
	})
	if code != http.StatusConflict {
		t.Fatalf("status = %d, want 409 (body %v)", code, body)
	}
}

func TestListCustomersPagination(t *testing.T) {
	f := newFixture(t, "viewer")
	for i := range 25 {
		f.insertCustomer(t, fmt.Sprintf("Customer %02d", i))
	}

	api := newAPI(t, authz.PolicyEnforced, f.principal("viewer"))
	target := fmt.Sprintf("/v1/customers?tenant_id=%d&page=2&pageSize=20", f.tenantID)
	code, body := do(t, api, http.MethodGet, target, nil)
	if code != http.StatusOK {
		t.Fatalf("status = %d, want 200 (body %v)", code, body)
	}
	data, _ := body["data"].([]any)
	if len(data) != 5 {
		t.Fatalf("len(data) = %d, want 5", len(data))
	}
	if body["totalPages"] != float64(2) || body["count"] != float64(25) {
		t.Fatalf("totalPages = %v, count = %v, want 2 and 25", body["totalPages"], body["count"])
	}

	target = fmt.Sprintf("/v1/customers?tenant_id=%d&search=%s&sortBy=full_name&sortOrder=asc", f.tenantID, "Customer%2007")
	code, body = do(t, api, http.MethodGet, target, nil)
	if code != http.StatusOK {
		t.Fatalf("search status = %d, want 200 (body %v)", code, body)
	}
	if data, _ := body["data"].([]any); len(data) != 1 {
		t.Fatalf("search matched %d rows, want 1", len(data))
	}
}

func TestListHonorsConfiguredPageBounds(t *testing.T) {
	f := newFixture(t, "viewer")
	for i := range 120 {
		f.insertCustomer(t, fmt.Sprintf("Bulk %03d", i))
	}

	api := newAPI(t, authz.PolicyEnforced, f.principal("viewer"), service.WithPageSizes(10, 500))
	code, body := do(t, api, http.MethodGet, fmt.Sprintf("/v1/customers?tenant_id=%d&pageSize=200", f.tenantID), nil)
	if code != http.StatusOK {
		t.Fatalf("status = %d, want 200 (body %v)", code, body)
	}
	if body["pageSize"] != float64(200) {
		t.Fatalf("pageSize = %v, want 200", body["pageSize"])
	}
	if data, _ := body["data"].([]any); len(data) != 120 {
		t.Fatalf("len(data) = %d, want 120", len(data))
	}

	code, body = do(t, api, http.MethodGet, fmt.Sprintf("/v1/customers?tenant_id=%d&page=900000000000000000&pageSize=100", f.tenantID), nil)
	if code != http.StatusOK {
		t.Fatalf("far page status = %d, want 200 (body %v)", code, body)
	}
	if data, _ := body["data"].([]any); len(data) != 0 {
		t.Fatalf("far page returned %d rows, want 0", len(data))
	}
	if body["count"] != float64(120) {
		t.Fatalf("count = %v, want 120", body["count"])
	}
}

func TestCreateSalesOrderItemDuplicate(t *testing.T) {
	f := newFixture(t, "sales")
	customer := f.insertCustomer(t, "Buyer")
	order := insertID(t, `INSERT INTO sales_orders (tenant_id, branch_id, customer_id) VALUES ($1, $2, $3) RETURNING id`,
		f.tenantID, f.branchID, customer)
	product := f.insertProduct(t)

	api := newAPI(t, authz.PolicyEnforced, f.principal("sales"))
	item := map[string]any{
		"tenant_id":      f.tenantID,
		"sales_order_id": order,
		"product_id":     product,
		"quantity":       2,
		"unit_price":     9.5,
	}
	code, body := do(t, api, http.MethodPost, "/v1/sales_order_items", item)
	if code != http.StatusCreated {
		t.Fatalf("first insert status = %d, want 201 (body %v)", code, body)
	}

	code, body = do(t, api, http.MethodPost, "/v1/sales_order_items", item)
	if code != http.StatusBadRequest {
		t.Fatalf("duplicate status = %d, want 400 (body %v)", code, body)
	}
	if body["error"] != "Duplicate item: this product is already on the sales order" {
		t.Fatalf("error = %v", body["error"])
	}

	var items int
	if err := testPool.QueryRow(context.Background(),
		`SELECT COUNT(*) FROM sales_order_items WHERE sales_order_id = $1`, order).Scan(&items); err != nil {
		t.Fatalf("count items: %v", err)
	}
	if items != 1 {
		t.Fatalf("items = %d, want 1", items)
	}
}

func TestAuthorizationAgainstDatabase(t *testing.T) {
	home := newFixture(t, "warehouse")
	other := newFixture(t, "warehouse")

	api := newAPI(t, authz.PolicyEnforced, home.principal("warehouse"))

	code, _ := do(t, api, http.MethodGet, fmt.Sprintf("/v1/customers?tenant_id=%d", home.tenantID), nil)
	if code != http.StatusUnauthorized {
		t.Fatalf("missing capability status = %d, want 401", code)
	}

	code, _ = do(t, api, http.MethodGet, fmt.Sprintf("/v1/products?tenant_id=%d", other.tenantID), nil)
	if code != http.StatusUnauthorized {
		t.Fatalf("foreign tenant status = %d, want 401", code)
	}

	// A branch assignment grants access to the branch's tenant.
	insertID(t, `INSERT INTO user_branches (tenant_id, user_id, branch_id) VALUES ($1, $2, $3) RETURNING id`,
		other.tenantID, home.userID, other.branchID)
	code, body := do(t, api, http.MethodGet, fmt.Sprintf("/v1/products?tenant_id=%d", other.tenantID), nil)
	if code != http.StatusOK {
		t.Fatalf("assigned tenant status = %d, want 200 (body %v)", code, body)
	}

	bypassed := newAPI(t, authz.PolicyBypassed, authz.Principal{})
	code, _ = do(t, bypassed, http.MethodGet, fmt.Sprintf("/v1/customers?tenant_id=%d", home.tenantID), nil)
	if code != http.StatusOK {
		t.Fatalf("bypassed status = %d, want 200", code)
	}
}

func TestAPIKeyLifecycle(t *testing.T) {
	repo := newRepo()
	ctx := context.Background()
	f := newFixture(t, "sales")

	keyID, secret, err := repo.CreateAPIKey(ctx, f.userID, "")
	if err != nil {
		t.Fatalf("CreateAPIKey: %v", err)
	}

	hash, userID, err := repo.ValidateAPIKey(ctx, keyID)
	if err != nil {
		t.Fatalf("ValidateAPIKey: %v", err)
	}
	if userID != f.userID {
		t.Fatalf("userID = %d, want %d", userID, f.userID)
	}
	if !middleware.APIKeyMatchesHash(hash, secret) {
		t.Fatal("stored hash does not match issued secret")
	}

	p, err := repo.GetPrincipal(ctx, userID)
	if err != nil {
		t.Fatalf("GetPrincipal: %v", err)
	}
	if p.TenantID != f.tenantID || p.RoleSlug != "sales" {
		t.Fatalf("principal = %+v", p)
	}

	if err := repo.RevokeAPIKey(ctx, keyID); err != nil {
		t.Fatalf("RevokeAPIKey: %v", err)
	}
	if _, _, err := repo.ValidateAPIKey(ctx, keyID); !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("ValidateAPIKey after revoke error = %v, want ErrNotFound", err)
	}
	if err := repo.RevokeAPIKey(ctx, keyID); !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("second RevokeAPIKey error = %v, want ErrNotFound", err)
	}
}

func TestAuditLogEndpoint(t *testing.T) {
	f := newFixture(t, "owner")
	api := newAPI(t, authz.PolicyEnforced, f.principal("owner"))

	code, _ := do(t, api, http.MethodPost, "/v1/branches", map[string]any{
		"tenant_id": f.tenantID,
		"name":      "Downtown",
	})
	if code != http.StatusCreated {
		t.Fatalf("create branch status = %d, want 201", code)
	}

	code, body := do(t, api, http.MethodGet, fmt.Sprintf("/v1/audit_log?tenant_id=%d", f.tenantID), nil)
	if code != http.StatusOK {
		t.Fatalf("status = %d, want 200 (body %v)", code, body)
	}
	data, _ := body["data"].([]any)
	if len(data) != 1 {
		t.Fatalf("audit entries = %d, want 1", len(data))
	}
	entry, _ := data[0].(map[string]any)
	if entry["resource"] != service.ResourceBranches || entry["user_id"] != float64(f.userID) {
		t.Fatalf("entry = %v", entry)
	}
}

func TestPing(t *testing.T) {
	if err := newRepo().Ping(context.Background()); err != nil {
		t.Fatalf("Ping: %v", err)
	}
}
