package repository

import (
	"context"
	"fmt"
	"maps"
	"math"
	"slices"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5"
)

// Page bounds applied when the caller sends nothing usable.
const (
	DefaultPageSize = 10
	MaxPageSize     = 100
)

// ListParams narrows a tenant-scoped list query.
type ListParams struct {
	TenantID int64
	Search   string
	// Filters holds exact-match filters keyed by query parameter name. Keys
	// the resource does not declare are ignored.
	Filters map[string]string
	SortBy  string
	// SortOrder is "asc" or "desc"; anything else sorts descending.
	SortOrder string
	Page      int
	PageSize  int
}

// Page is one page of a list result.
type Page[T any] struct {
	Count      int64 `json:"count"`
	Page       int   `json:"page"`
	PageSize   int   `json:"pageSize"`
	TotalPages int   `json:"totalPages"`
	Data       []T   `json:"data"`
}

type filterKind int

const (
	filterText filterKind = iota
	filterInt
)

type filter struct {
	column string
	kind   filterKind
}

// listSpec declares everything a resource exposes to list queries. Only
// column expressions written here ever reach SQL; request values travel as
// bind parameters.
type listSpec struct {
	from          string
	columns       string
	tenantColumn  string
	deletedColumn string
	searchColumns []string
	filters       map[string]filter
	sortColumns   map[string]string
	defaultSort   string
	idColumn      string
}

// NormalizePage clamps page to >= 1 and pageSize to [1, maxPageSize],
// substituting defaultSize when pageSize is not positive. Page is also capped
// so PageOffset never overflows; such a page is past the data and comes back
// empty.
func NormalizePage(page, pageSize, defaultSize, maxPageSize int) (int, int) {
	if maxPageSize <= 0 {
		maxPageSize = MaxPageSize
	}
	if defaultSize <= 0 || defaultSize > maxPageSize {
		defaultSize = min(DefaultPageSize, maxPageSize)
	}
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = defaultSize
	}
	if pageSize > maxPageSize {
		pageSize = maxPageSize
	}
	if maxOffsetPages := math.MaxInt / pageSize; page-1 > maxOffsetPages {
		page = maxOffsetPages + 1
	}
	return page, pageSize
}

// PageOffset is the row offset of a normalized page.
func PageOffset(page, pageSize int) int {
	return (page - 1) * pageSize
}

// TotalPages is ceil(count / pageSize).
func TotalPages(count int64, pageSize int) int {
	if count <= 0 || pageSize <= 0 {
		return 0
	}
	return int((count + int64(pageSize) - 1) / int64(pageSize))
}

// escapeLike escapes LIKE metacharacters so search text matches literally.
func escapeLike(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch r {
		case '\\', '%', '_':
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}

type listQuery struct {
	where   string
	args    []any
	orderBy string
}

func buildListQuery(spec listSpec, params ListParams) (listQuery, error) {
	conds := []string{spec.tenantColumn + " = $1"}
	args := []any{params.TenantID}

	if spec.deletedColumn != "" {
		conds = append(conds, spec.deletedColumn+" IS NULL")
	}

	if search := strings.TrimSpace(params.Search); search != "" && len(spec.searchColumns) > 0 {
		args = append(args, "%"+escapeLike(search)+"%")
		placeholder := "$" + strconv.Itoa(len(args))
		ors := make([]string, 0, len(spec.searchColumns))
		for _, col := range spec.searchColumns {
			ors = append(ors, col+" ILIKE "+placeholder)
		}
		conds = append(conds, "("+strings.Join(ors, " OR ")+")")
	}

	for _, name := range slices.Sorted(maps.Keys(params.Filters)) {
		f, ok := spec.filters[name]
		if !ok {
			continue
		}
		raw := strings.TrimSpace(params.Filters[name])
		if raw == "" {
			continue
		}
		switch f.kind {
		case filterInt:
			v, err := strconv.ParseInt(raw, 10, 64)
			if err != nil {
				return listQuery{}, fmt.Errorf("filter %s: %w", name, err)
			}
			args = append(args, v)
		default:
			args = append(args, raw)
		}
		conds = append(conds, f.column+" = $"+strconv.Itoa(len(args)))
	}

	sortColumn, ok := spec.sortColumns[params.SortBy]
	if !ok {
		sortColumn = spec.defaultSort
	}
	direction := "DESC"
	if strings.EqualFold(strings.TrimSpace(params.SortOrder), "asc") {
		direction = "ASC"
	}

	return listQuery{
		where:   strings.Join(conds, " AND "),
		args:    args,
		orderBy: sortColumn + " " + direction + ", " + spec.idColumn + " " + direction,
	}, nil
}

// listPage runs the count and page queries for spec. Page and PageSize must
// already be normalized against the configured bounds.
func listPage[T any](ctx context.Context, r *PostgresRepository, spec listSpec, params ListParams) (Page[T], error) {
	q, err := buildListQuery(spec, params)
	if err != nil {
		return Page[T]{}, err
	}

	var count int64
	countSQL := "SELECT COUNT(*) FROM " + spec.from + " WHERE " + q.where
	if err := r.pool.QueryRow(ctx, countSQL, q.args...).Scan(&count); err != nil {
		return Page[T]{}, fmt.Errorf("count %s: %w", spec.from, err)
	}

	args := append(q.args, params.PageSize, PageOffset(params.Page, params.PageSize))
	dataSQL := fmt.Sprintf("SELECT %s FROM %s WHERE %s ORDER BY %s LIMIT $%d OFFSET $%d",
		spec.columns, spec.from, q.where, q.orderBy, len(args)-1, len(args))

	rows, err := r.pool.Query(ctx, dataSQL, args...)
	if err != nil {
		return Page[T]{}, fmt.Errorf("list %s: %w", spec.from, err)
	}
	data, err := pgx.CollectRows(rows, pgx.RowToStructByName[T])
	if err != nil {
		return Page[T]{}, fmt.Errorf("scan %s: %w", spec.from, err)
	}
	if data == nil {
		data = []T{}
	}

	return Page[T]{
		Count:      count,
		Page:       params.Page,
		PageSize:   params.PageSize,
		TotalPages: TotalPages(count, params.PageSize),
		Data:       data,
	}, nil
}
