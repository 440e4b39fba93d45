package repository

import (
	"context"
	"time"
)

var (
	salesOrdersTable     = table{name: "sales_orders", softDelete: true}
	salesOrderItemsTable = table{name: "sales_order_items"}
)

// SalesOrder is a sales order row as returned by list queries.
type SalesOrder struct {
	ID          int64     `json:"id" db:"id"`
	TenantID    int64     `json:"tenant_id" db:"tenant_id"`
	BranchID    int64     `json:"branch_id" db:"branch_id"`
	CustomerID  int64     `json:"customer_id" db:"customer_id"`
	OrderNumber *string   `json:"order_number" db:"order_number"`
	Status      string    `json:"status" db:"status"`
	TotalAmount float64   `json:"total_amount" db:"total_amount"`
	Notes       *string   `json:"notes" db:"notes"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
}

// NewSalesOrder holds the columns written by CreateSalesOrder. Nil Status and
// TotalAmount fall back to the column defaults.
type NewSalesOrder struct {
	TenantID    int64
	BranchID    int64
	CustomerID  int64
	OrderNumber *string
	Status      *string
	TotalAmount *float64
	Notes       *string
}

// SalesOrderItem is a line item joined with its product name.
type SalesOrderItem struct {
	ID           int64     `json:"id" db:"id"`
	TenantID     int64     `json:"tenant_id" db:"tenant_id"`
	SalesOrderID int64     `json:"sales_order_id" db:"sales_order_id"`
	ProductID    int64     `json:"product_id" db:"product_id"`
	ProductName  string    `json:"product_name" db:"product_name"`
	Quantity     float64   `json:"quantity" db:"quantity"`
	UnitPrice    float64   `json:"unit_price" db:"unit_price"`
	CreatedAt    time.Time `json:"created_at" db:"created_at"`
}

// NewSalesOrderItem holds the columns written by CreateSalesOrderItem.
type NewSalesOrderItem struct {
	TenantID     int64
	SalesOrderID int64
	ProductID    int64
	Quantity     float64
	UnitPrice    float64
}

var salesOrderList = listSpec{
	from: "sales_orders o",
	columns: "o.id, o.tenant_id, o.branch_id, o.customer_id, o.order_number, o.status, " +
		"o.total_amount::float8 AS total_amount, o.notes, o.created_at",
	tenantColumn:  "o.tenant_id",
	deletedColumn: "o.deleted_at",
	searchColumns: []string{"o.order_number", "o.status", "o.notes"},
	filters: map[string]filter{
		"status":      {column: "o.status", kind: filterText},
		"branch_id":   {column: "o.branch_id", kind: filterInt},
		"customer_id": {column: "o.customer_id", kind: filterInt},
	},
	sortColumns: map[string]string{
		"id":           "o.id",
		"order_number": "o.order_number",
		"status":       "o.status",
		"total_amount": "o.total_amount",
		"created_at":   "o.created_at",
	},
	defaultSort: "o.created_at",
	idColumn:    "o.id",
}

var salesOrderItemList = listSpec{
	from: "sales_order_items i JOIN products p ON p.id = i.product_id",
	columns: "i.id, i.tenant_id, i.sales_order_id, i.product_id, p.name AS product_name, " +
		"i.quantity::float8 AS quantity, i.unit_price::float8 AS unit_price, i.created_at",
	tenantColumn:  "i.tenant_id",
	searchColumns: []string{"p.name"},
	filters: map[string]filter{
		"sales_order_id": {column: "i.sales_order_id", kind: filterInt},
		"product_id":     {column: "i.product_id", kind: filterInt},
	},
	sortColumns: map[string]string{
		"id":         "i.id",
		"quantity":   "i.quantity",
		"unit_price": "i.unit_price",
		"created_at": "i.created_at",
	},
	defaultSort: "i.created_at",
	idColumn:    "i.id",
}

// CreateSalesOrder inserts an order and returns its ID.
func (r *PostgresRepository) CreateSalesOrder(ctx context.Context, o NewSalesOrder) (int64, error) {
	return r.insertReturningID(ctx, "create sales order", `
		INSERT INTO sales_orders (tenant_id, branch_id, customer_id, order_number, status, total_amount, notes)
		VALUES ($1, $2, $3, $4, COALESCE($5::text, 'pending'), COALESCE($6::numeric, 0), $7)
		RETURNING id
	`, o.TenantID, o.BranchID, o.CustomerID, o.OrderNumber, o.Status, o.TotalAmount, o.Notes)
}

// ListSalesOrders returns one page of live orders in a tenant.
func (r *PostgresRepository) ListSalesOrders(ctx context.Context, params ListParams) (Page[SalesOrder], error) {
	return listPage[SalesOrder](ctx, r, salesOrderList, params)
}

// DeleteSalesOrders soft-deletes the given orders within a tenant.
func (r *PostgresRepository) DeleteSalesOrders(ctx context.Context, tenantID int64, ids []int64) (int64, error) {
	return r.deleteForTenant(ctx, salesOrdersTable, tenantID, ids)
}

// SalesOrderExists reports whether a live order belongs to tenantID.
func (r *PostgresRepository) SalesOrderExists(ctx context.Context, tenantID, id int64) (bool, error) {
	return r.belongsToTenant(ctx, salesOrdersTable, tenantID, id)
}

// OrderNumberTaken reports whether a live order in the tenant already uses
// orderNumber.
func (r *PostgresRepository) OrderNumberTaken(ctx context.Context, tenantID int64, orderNumber string) (bool, error) {
	return r.exists(ctx, "order number lookup", `
		SELECT EXISTS (
			SELECT 1 FROM sales_orders
			WHERE tenant_id = $1 AND order_number = $2 AND deleted_at IS NULL
		)
	`, tenantID, orderNumber)
}

// CreateSalesOrderItem inserts a line item and returns its ID.
func (r *PostgresRepository) CreateSalesOrderItem(ctx context.Context, item NewSalesOrderItem) (int64, error) {
	return r.insertReturningID(ctx, "create sales order item", `
		INSERT INTO sales_order_items (tenant_id, sales_order_id, product_id, quantity, unit_price)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id
	`, item.TenantID, item.SalesOrderID, item.ProductID, item.Quantity, item.UnitPrice)
}

// ListSalesOrderItems returns one page of line items in a tenant.
func (r *PostgresRepository) ListSalesOrderItems(ctx context.Context, params ListParams) (Page[SalesOrderItem], error) {
	return listPage[SalesOrderItem](ctx, r, salesOrderItemList, params)
}

// DeleteSalesOrderItems removes the given line items within a tenant.
func (r *PostgresRepository) DeleteSalesOrderItems(ctx context.Context, tenantID int64, ids []int64) (int64, error) {
	return r.deleteForTenant(ctx, salesOrderItemsTable, tenantID, ids)
}

// OrderHasProduct reports whether the order already carries a line for
// productID.
func (r *PostgresRepository) OrderHasProduct(ctx context.Context, tenantID, salesOrderID, productID int64) (bool, error) {
	return r.exists(ctx, "order item lookup", `
		SELECT EXISTS (
			SELECT 1 FROM sales_order_items
			WHERE tenant_id = $1 AND sales_order_id = $2 AND product_id = $3
		)
	`, tenantID, salesOrderID, productID)
}
