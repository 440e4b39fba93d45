package repository

import (
	"context"
	"time"
)

var productsTable = table{name: "products"}

// Product is a product row as returned by list queries. Numeric columns are
// read as float64.
type Product struct {
	ID          int64     `json:"id" db:"id"`
	TenantID    int64     `json:"tenant_id" db:"tenant_id"`
	Name        string    `json:"name" db:"name"`
	SKU         string    `json:"sku" db:"sku"`
	Description *string   `json:"description" db:"description"`
	Category    *string   `json:"category" db:"category"`
	Price       float64   `json:"price" db:"price"`
	Cost        *float64  `json:"cost" db:"cost"`
	Quantity    float64   `json:"quantity" db:"quantity"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
}

// NewProduct holds the columns written by CreateProduct. A nil Quantity is
// stored as zero.
type NewProduct struct {
	TenantID    int64
	Name        string
	SKU         string
	Description *string
	Category    *string
	Price       float64
	Cost        *float64
	Quantity    *float64
}

var productList = listSpec{
	from: "products p",
	columns: "p.id, p.tenant_id, p.name, p.sku, p.description, p.category, " +
		"p.price::float8 AS price, p.cost::float8 AS cost, p.quantity::float8 AS quantity, p.created_at",
	tenantColumn:  "p.tenant_id",
	searchColumns: []string{"p.name", "p.sku", "p.category"},
	filters: map[string]filter{
		"category": {column: "p.category", kind: filterText},
	},
	sortColumns: map[string]string{
		"id":         "p.id",
		"name":       "p.name",
		"sku":        "p.sku",
		"price":      "p.price",
		"quantity":   "p.quantity",
		"created_at": "p.created_at",
	},
	defaultSort: "p.created_at",
	idColumn:    "p.id",
}

// CreateProduct inserts a product and returns its ID.
func (r *PostgresRepository) CreateProduct(ctx context.Context, p NewProduct) (int64, error) {
	return r.insertReturningID(ctx, "create product", `
		INSERT INTO products (tenant_id, name, sku, description, category, price, cost, quantity)
		VALUES ($1, $2, $3, $4, $5, $6, $7, COALESCE($8::numeric, 0))
		RETURNING id
	`, p.TenantID, p.Name, p.SKU, p.Description, p.Category, p.Price, p.Cost, p.Quantity)
}

// ListProducts returns one page of products in a tenant.
func (r *PostgresRepository) ListProducts(ctx context.Context, params ListParams) (Page[Product], error) {
	return listPage[Product](ctx, r, productList, params)
}

// DeleteProducts removes the given products within a tenant.
func (r *PostgresRepository) DeleteProducts(ctx context.Context, tenantID int64, ids []int64) (int64, error) {
	return r.deleteForTenant(ctx, productsTable, tenantID, ids)
}

// ProductExists reports whether a product belongs to tenantID.
func (r *PostgresRepository) ProductExists(ctx context.Context, tenantID, id int64) (bool, error) {
	return r.belongsToTenant(ctx, productsTable, tenantID, id)
}

// ProductSKUTaken reports whether sku is already used in the tenant.
func (r *PostgresRepository) ProductSKUTaken(ctx context.Context, tenantID int64, sku string) (bool, error) {
	return r.exists(ctx, "product sku lookup", `
		SELECT EXISTS (SELECT 1 FROM products WHERE tenant_id = $1 AND sku = $2)
	`, tenantID, sku)
}
