package server

import (
	"context"
	"strconv"

	"github.com/matt-riley/tenantdesk/internal/i18n"
	"github.com/matt-riley/tenantdesk/internal/repository"
	"github.com/matt-riley/tenantdesk/internal/service"
	v "github.com/matt-riley/tenantdesk/internal/validation"
)

var (
	labelTenantID    = v.Label{EN: "Tenant ID", AR: "معرف المستأجر"}
	labelFullName    = v.Label{EN: "Full name", AR: "الاسم الكامل"}
	labelEmail       = v.Label{EN: "Email", AR: "البريد الإلكتروني"}
	labelPhone       = v.Label{EN: "Phone", AR: "رقم الهاتف"}
	labelAddress     = v.Label{EN: "Address", AR: "العنوان"}
	labelName        = v.Label{EN: "Name", AR: "الاسم"}
	labelSKU         = v.Label{EN: "SKU", AR: "رمز المنتج"}
	labelPrice       = v.Label{EN: "Price", AR: "السعر"}
	labelCost        = v.Label{EN: "Cost", AR: "التكلفة"}
	labelQuantity    = v.Label{EN: "Quantity", AR: "الكمية"}
	labelCategory    = v.Label{EN: "Category", AR: "الفئة"}
	labelDescription = v.Label{EN: "Description", AR: "الوصف"}
	labelBranch      = v.Label{EN: "Branch", AR: "الفرع"}
	labelCustomer    = v.Label{EN: "Customer", AR: "العميل"}
	labelOrderNumber = v.Label{EN: "Order number", AR: "رقم الطلب"}
	labelStatus      = v.Label{EN: "Status", AR: "الحالة"}
	labelTotalAmount = v.Label{EN: "Total amount", AR: "المبلغ الإجمالي"}
	labelNotes       = v.Label{EN: "Notes", AR: "ملاحظات"}
	labelSalesOrder  = v.Label{EN: "Sales order", AR: "أمر البيع"}
	labelProduct     = v.Label{EN: "Product", AR: "المنتج"}
	labelUnitPrice   = v.Label{EN: "Unit price", AR: "سعر الوحدة"}
	labelCode        = v.Label{EN: "Code", AR: "الرمز"}
	labelUser        = v.Label{EN: "User", AR: "المستخدم"}
	labelRole        = v.Label{EN: "Role", AR: "الدور"}
	labelPassword    = v.Label{EN: "Password", AR: "كلمة المرور"}
	labelIDs         = v.Label{EN: "IDs", AR: "المعرفات"}
	labelPage        = v.Label{EN: "Page", AR: "الصفحة"}
	labelPageSize    = v.Label{EN: "Page size", AR: "حجم الصفحة"}
	labelSearch      = v.Label{EN: "Search", AR: "البحث"}
	labelSortBy      = v.Label{EN: "Sort by", AR: "الترتيب حسب"}
	labelSortOrder   = v.Label{EN: "Sort order", AR: "اتجاه الترتيب"}
)

var labelFilterFields = map[string]v.Label{
	"branch_id":      labelBranch,
	"customer_id":    labelCustomer,
	"sales_order_id": labelSalesOrder,
	"product_id":     labelProduct,
	"user_id":        labelUser,
	"role_id":        labelRole,
	"status":         labelStatus,
	"category":       labelCategory,
}

// Query parameter names shared by every list route.
const (
	paramTenantID  = "tenant_id"
	paramPage      = "page"
	paramPageSize  = "pageSize"
	paramSearch    = "search"
	paramSortBy    = "sortBy"
	paramSortOrder = "sortOrder"
)

// id builds the rule for a reference column: a number, whole, and a positive
// int64, reported in that order.
func id(name string, label v.Label) *v.FieldBuilder {
	return v.Field(name, label).Required().Number().Integer().ID()
}

func optionalID(name string, label v.Label) *v.FieldBuilder {
	return v.Field(name, label).Optional().Number().Integer().ID()
}

// pageNumber accepts any whole number; NormalizePage clamps it.
func pageNumber(name string, label v.Label) *v.FieldBuilder {
	return v.Field(name, label).Optional().Number().Integer()
}

// listFilter is an exact-match query parameter accepted by a list route.
type listFilter struct {
	name    string
	numeric bool
}

// resource is one tenant-scoped entity exposed as POST/GET/DELETE /v1/<name>.
type resource struct {
	name     string
	entity   i18n.Key
	idsField string
	filters  []listFilter

	createRules v.RuleSet
	listRules   v.RuleSet
	deleteRules v.RuleSet

	create func(ctx context.Context, svc Service, p v.Payload) (int64, error)
	list   func(ctx context.Context, svc Service, params repository.ListParams) (any, error)
	remove func(svc Service, ctx context.Context, tenantID int64, ids []int64) (int64, error)
}

func newResource(r resource, createFields ...*v.FieldBuilder) resource {
	r.createRules = v.MustRules(createFields...)

	listFields := []*v.FieldBuilder{
		id(paramTenantID, labelTenantID),
		pageNumber(paramPage, labelPage),
		pageNumber(paramPageSize, labelPageSize),
		v.Field(paramSearch, labelSearch).Optional().MaxLength(255),
		v.Field(paramSortBy, labelSortBy).Optional().MaxLength(64),
		v.Field(paramSortOrder, labelSortOrder).Optional().MaxLength(4),
	}
	for _, f := range r.filters {
		label := labelFilterFields[f.name]
		if f.numeric {
			listFields = append(listFields, optionalID(f.name, label))
		} else {
			listFields = append(listFields, v.Field(f.name, label).Optional().MaxLength(100))
		}
	}
	r.listRules = v.MustRules(listFields...)

	r.deleteRules = v.MustRules(
		id(paramTenantID, labelTenantID),
		v.Field(r.idsField, labelIDs).Required().IDList(),
	)
	return r
}

// listParams reads the list query after it has passed listRules.
func (r resource) listParams(p v.Payload) repository.ListParams {
	tenantID, _ := p.Int64(paramTenantID)
	page, _ := p.Int64(paramPage)
	pageSize, _ := p.Int64(paramPageSize)

	params := repository.ListParams{
		TenantID:  tenantID,
		Search:    p.TrimmedText(paramSearch),
		SortBy:    p.TrimmedText(paramSortBy),
		SortOrder: p.TrimmedText(paramSortOrder),
		Page:      int(page),
		PageSize:  int(pageSize),
	}
	for _, f := range r.filters {
		if !p.Has(f.name) {
			continue
		}
		if params.Filters == nil {
			params.Filters = make(map[string]string, len(r.filters))
		}
		if f.numeric {
			n, _ := p.Int64(f.name)
			params.Filters[f.name] = strconv.FormatInt(n, 10)
			continue
		}
		params.Filters[f.name] = p.TrimmedText(f.name)
	}
	return params
}

func float64Of(p v.Payload, name string) float64 {
	f, _ := p.Float64(name)
	return f
}

func int64Of(p v.Payload, name string) int64 {
	n, _ := p.Int64(name)
	return n
}

func resources() []resource {
	return []resource{
		newResource(resource{
			name:     service.ResourceCustomers,
			entity:   i18n.EntityCustomer,
			idsField: "customer_ids",
			filters:  []listFilter{{name: "branch_id", numeric: true}},
			create: func(ctx context.Context, svc Service, p v.Payload) (int64, error) {
				return svc.CreateCustomer(ctx, repository.NewCustomer{
					TenantID: int64Of(p, "tenant_id"),
					BranchID: p.OptionalInt64("branch_id"),
					FullName: p.TrimmedText("full_name"),
					Email:    p.TrimmedText("email"),
					Phone:    p.OptionalString("phone"),
					Address:  p.OptionalString("address"),
				})
			},
			list: func(ctx context.Context, svc Service, params repository.ListParams) (any, error) {
				return svc.ListCustomers(ctx, params)
			},
			remove: Service.DeleteCustomers,
		},
			id("tenant_id", labelTenantID),
			v.Field("full_name", labelFullName).Required().MinLength(2).MaxLength(100),
			v.Field("email", labelEmail).Required().Email().MaxLength(255),
			v.Field("phone", labelPhone).Optional().Phone(),
			optionalID("branch_id", labelBranch),
			v.Field("address", labelAddress).Optional().MaxLength(255),
		),

		newResource(resource{
			name:     service.ResourceProducts,
			entity:   i18n.EntityProduct,
			idsField: "product_ids",
			filters:  []listFilter{{name: "category"}},
			create: func(ctx context.Context, svc Service, p v.Payload) (int64, error) {
				return svc.CreateProduct(ctx, repository.NewProduct{
					TenantID:    int64Of(p, "tenant_id"),
					Name:        p.TrimmedText("name"),
					SKU:         p.TrimmedText("sku"),
					Price:       float64Of(p, "price"),
					Cost:        p.OptionalFloat64("cost"),
					Quantity:    p.OptionalFloat64("quantity"),
					Category:    p.OptionalString("category"),
					Description: p.OptionalString("description"),
				})
			},
			list: func(ctx context.Context, svc Service, params repository.ListParams) (any, error) {
				return svc.ListProducts(ctx, params)
			},
			remove: Service.DeleteProducts,
		},
			id("tenant_id", labelTenantID),
			v.Field("name", labelName).Required().MinLength(2).MaxLength(150),
			v.Field("sku", labelSKU).Required().MaxLength(64),
			v.Field("price", labelPrice).Required().Number(),
			v.Field("cost", labelCost).Optional().Number(),
			v.Field("quantity", labelQuantity).Optional().Number(),
			v.Field("category", labelCategory).Optional().MaxLength(100),
			v.Field("description", labelDescription).Optional().MaxLength(1000),
		),

		newResource(resource{
			name:     service.ResourceSalesOrders,
			entity:   i18n.EntitySalesOrder,
			idsField: "sales_order_ids",
			filters: []listFilter{
				{name: "status"},
				{name: "branch_id", numeric: true},
				{name: "customer_id", numeric: true},
			},
			create: func(ctx context.Context, svc Service, p v.Payload) (int64, error) {
				return svc.CreateSalesOrder(ctx, repository.NewSalesOrder{
					TenantID:    int64Of(p, "tenant_id"),
					BranchID:    int64Of(p, "branch_id"),
					CustomerID:  int64Of(p, "customer_id"),
					OrderNumber: p.OptionalString("order_number"),
					Status:      p.OptionalString("status"),
					TotalAmount: p.OptionalFloat64("total_amount"),
					Notes:       p.OptionalString("notes"),
				})
			},
			list: func(ctx context.Context, svc Service, params repository.ListParams) (any, error) {
				return svc.ListSalesOrders(ctx, params)
			},
			remove: Service.DeleteSalesOrders,
		},
			id("tenant_id", labelTenantID),
			id("branch_id", labelBranch),
			id("customer_id", labelCustomer),
			v.Field("order_number", labelOrderNumber).Optional().MaxLength(50),
			v.Field("status", labelStatus).Optional().MaxLength(30),
			v.Field("total_amount", labelTotalAmount).Optional().Number(),
			v.Field("notes", labelNotes).Optional().MaxLength(1000),
		),

		newResource(resource{
			name:     service.ResourceSalesOrderItems,
			entity:   i18n.EntitySalesOrderItem,
			idsField: "sales_order_item_ids",
			filters: []listFilter{
				{name: "sales_order_id", numeric: true},
				{name: "product_id", numeric: true},
			},
			create: func(ctx context.Context, svc Service, p v.Payload) (int64, error) {
				return svc.CreateSalesOrderItem(ctx, repository.NewSalesOrderItem{
					TenantID:     int64Of(p, "tenant_id"),
					SalesOrderID: int64Of(p, "sales_order_id"),
					ProductID:    int64Of(p, "product_id"),
					Quantity:     float64Of(p, "quantity"),
					UnitPrice:    float64Of(p, "unit_price"),
				})
			},
			list: func(ctx context.Context, svc Service, params repository.ListParams) (any, error) {
				return svc.ListSalesOrderItems(ctx, params)
			},
			remove: Service.DeleteSalesOrderItems,
		},
			id("tenant_id", labelTenantID),
			id("sales_order_id", labelSalesOrder),
			id("product_id", labelProduct),
			v.Field("quantity", labelQuantity).Required().Number(),
			v.Field("unit_price", labelUnitPrice).Required().Number(),
		),

		newResource(resource{
			name:     service.ResourceBranches,
			entity:   i18n.EntityBranch,
			idsField: "branch_ids",
			create: func(ctx context.Context, svc Service, p v.Payload) (int64, error) {
				return svc.CreateBranch(ctx, repository.NewBranch{
					TenantID: int64Of(p, "tenant_id"),
					Name:     p.TrimmedText("name"),
					Code:     p.OptionalString("code"),
					Phone:    p.OptionalString("phone"),
					Address:  p.OptionalString("address"),
				})
			},
			list: func(ctx context.Context, svc Service, params repository.ListParams) (any, error) {
				return svc.ListBranches(ctx, params)
			},
			remove: Service.DeleteBranches,
		},
			id("tenant_id", labelTenantID),
			v.Field("name", labelName).Required().MinLength(2).MaxLength(100),
			v.Field("code", labelCode).Optional().MaxLength(20),
			v.Field("phone", labelPhone).Optional().Phone(),
			v.Field("address", labelAddress).Optional().MaxLength(255),
		),

		newResource(resource{
			name:     service.ResourceUserBranches,
			entity:   i18n.EntityUserBranch,
			idsField: "user_branch_ids",
			filters: []listFilter{
				{name: "user_id", numeric: true},
				{name: "branch_id", numeric: true},
			},
			create: func(ctx context.Context, svc Service, p v.Payload) (int64, error) {
				return svc.CreateUserBranch(ctx, repository.NewUserBranch{
					TenantID: int64Of(p, "tenant_id"),
					UserID:   int64Of(p, "user_id"),
					BranchID: int64Of(p, "branch_id"),
				})
			},
			list: func(ctx context.Context, svc Service, params repository.ListParams) (any, error) {
				return svc.ListUserBranches(ctx, params)
			},
			remove: Service.DeleteUserBranches,
		},
			id("tenant_id", labelTenantID),
			id("user_id", labelUser),
			id("branch_id", labelBranch),
		),

		newResource(resource{
			name:     service.ResourceRoles,
			entity:   i18n.EntityRole,
			idsField: "role_ids",
			create: func(ctx context.Context, svc Service, p v.Payload) (int64, error) {
				return svc.CreateRole(ctx, repository.NewRole{
					TenantID:    int64Of(p, "tenant_id"),
					Name:        p.TrimmedText("name"),
					Description: p.OptionalString("description"),
				})
			},
			list: func(ctx context.Context, svc Service, params repository.ListParams) (any, error) {
				return svc.ListRoles(ctx, params)
			},
			remove: Service.DeleteRoles,
		},
			id("tenant_id", labelTenantID),
			v.Field("name", labelName).Required().MinLength(2).MaxLength(50),
			v.Field("description", labelDescription).Optional().MaxLength(255),
		),

		newResource(resource{
			name:     service.ResourceUsers,
			entity:   i18n.EntityUser,
			idsField: "user_ids",
			filters:  []listFilter{{name: "role_id", numeric: true}},
			create: func(ctx context.Context, svc Service, p v.Payload) (int64, error) {
				return svc.CreateUser(ctx, service.NewUser{
					TenantID: int64Of(p, "tenant_id"),
					RoleID:   int64Of(p, "role_id"),
					FullName: p.TrimmedText("full_name"),
					Email:    p.TrimmedText("email"),
					Phone:    p.OptionalString("phone"),
					// Passwords are taken verbatim.
					Password: p.Text("password"),
				})
			},
			list: func(ctx context.Context, svc Service, params repository.ListParams) (any, error) {
				return svc.ListUsers(ctx, params)
			},
			remove: Service.DeleteUsers,
		},
			id("tenant_id", labelTenantID),
			id("role_id", labelRole),
			v.Field("full_name", labelFullName).Required().MinLength(2).MaxLength(100),
			v.Field("email", labelEmail).Required().Email().MaxLength(255),
			v.Field("password", labelPassword).Required().MinLength(8).MaxLength(128),
			v.Field("phone", labelPhone).Optional().Phone(),
		),
	}
}

var auditLogRules = v.MustRules(
	id(paramTenantID, labelTenantID),
	pageNumber(paramPage, labelPage),
	pageNumber(paramPageSize, labelPageSize),
)
