// Package repository provides PostgreSQL-backed persistence for tenantdesk
// resources. Every query is scoped by tenant ID, and every bulk delete runs as
// a single statement so a partially matching ID list never deletes anything
// outside the caller's tenant.
package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgreSQL error codes mapped onto repository sentinels.
const (
	pgUniqueViolation     = "23505"
	pgForeignKeyViolation = "23503"
)

var (
	// ErrNotFound is returned when a lookup or delete matched no rows.
	ErrNotFound = errors.New("not found")
	// ErrUniqueViolation is returned when a write collides with a unique index.
	ErrUniqueViolation = errors.New("unique violation")
	// ErrForeignKeyViolation is returned when a write or delete breaks a
	// foreign key, e.g. deleting a branch still referenced by an order.
	ErrForeignKeyViolation = errors.New("foreign key violation")
)

// PostgresRepository implements persistence on top of a pgx pool.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresRepository returns a repository backed by pool.
func NewPostgresRepository(pool *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{pool: pool}
}

// Ping checks that the database is reachable.
func (r *PostgresRepository) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

// table describes how a resource table is addressed by tenant-scoped helpers.
type table struct {
	name string
	// softDelete marks rows as deleted through deleted_at instead of removing
	// them. Soft-deleted rows are invisible to lookups and lists.
	softDelete bool
	// releaseOnDelete lists nullable reference columns cleared by a soft
	// delete, so the referenced rows stop counting as in use.
	releaseOnDelete []string
}

func (t table) liveClause() string {
	if t.softDelete {
		return " AND deleted_at IS NULL"
	}
	return ""
}

// deleteStatement builds the single statement used to delete ids within a
// tenant. $1 is the tenant ID and $2 the ID array.
func deleteStatement(t table) string {
	if t.softDelete {
		set := "deleted_at = NOW()"
		for _, column := range t.releaseOnDelete {
			set += ", " + pgx.Identifier{column}.Sanitize() + " = NULL"
		}
		return fmt.Sprintf(`UPDATE %s SET %s WHERE tenant_id = $1 AND id = ANY($2) AND deleted_at IS NULL`,
			pgx.Identifier{t.name}.Sanitize(), set)
	}
	return fmt.Sprintf(`DELETE FROM %s WHERE tenant_id = $1 AND id = ANY($2)`, pgx.Identifier{t.name}.Sanitize())
}

// deleteForTenant removes the rows in ids that belong to tenantID and returns
// how many were affected. It returns ErrNotFound when none matched.
func (r *PostgresRepository) deleteForTenant(ctx context.Context, t table, tenantID int64, ids []int64) (int64, error) {
	commandTag, err := r.pool.Exec(ctx, deleteStatement(t), tenantID, ids)
	if err != nil {
		return 0, fmt.Errorf("delete %s: %w", t.name, mapPgError(err))
	}
	if err := requireRows(commandTag); err != nil {
		return 0, fmt.Errorf("delete %s: %w", t.name, err)
	}
	return commandTag.RowsAffected(), nil
}

// belongsToTenant reports whether a live row with id exists in tenantID.
func (r *PostgresRepository) belongsToTenant(ctx context.Context, t table, tenantID, id int64) (bool, error) {
	query := fmt.Sprintf(`SELECT EXISTS (SELECT 1 FROM %s WHERE tenant_id = $1 AND id = $2%s)`,
		pgx.Identifier{t.name}.Sanitize(), t.liveClause())
	return r.exists(ctx, t.name+" lookup", query, tenantID, id)
}

func (r *PostgresRepository) exists(ctx context.Context, op, query string, args ...any) (bool, error) {
	var found bool
	if err := r.pool.QueryRow(ctx, query, args...).Scan(&found); err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	return found, nil
}

func (r *PostgresRepository) insertReturningID(ctx context.Context, op, query string, args ...any) (int64, error) {
	var id int64
	if err := r.pool.QueryRow(ctx, query, args...).Scan(&id); err != nil {
		return 0, fmt.Errorf("%s: %w", op, mapPgError(err))
	}
	return id, nil
}

func requireRows(commandTag pgconn.CommandTag) error {
	if commandTag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// mapPgError translates constraint violations into repository sentinels while
// keeping the driver error in the chain.
func mapPgError(err error) error {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("%w: %w", ErrNotFound, err)
		}
		return err
	}
	switch pgErr.Code {
	case pgUniqueViolation:
		return fmt.Errorf("%w (%s): %w", ErrUniqueViolation, pgErr.ConstraintName, err)
	case pgForeignKeyViolation:
		return fmt.Errorf("%w (%s): %w", ErrForeignKeyViolation, pgErr.ConstraintName, err)
	default:
		return err
	}
}
