package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// AuditLogEntry records a successful mutation made through the API.
type AuditLogEntry struct {
	ID        int64           `json:"id"`
	TenantID  int64           `json:"tenant_id"`
	UserID    *int64          `json:"user_id,omitempty"`
	Action    string          `json:"action"`
	Resource  string          `json:"resource"`
	Details   json.RawMessage `json:"details,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

// InsertAuditLog writes a single audit log entry.
func (r *PostgresRepository) InsertAuditLog(ctx context.Context, entry AuditLogEntry) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO audit_log (tenant_id, user_id, action, resource, details)
 VALUES ($1, $2, $3, $4, $5)`,
		entry.TenantID, entry.UserID, entry.Action, entry.Resource, ensureJSON(entry.Details, "{}"),
	)
	if err != nil {
		return fmt.Errorf("insert audit log: %w", err)
	}
	return nil
}

// ListAuditLog returns audit log entries for a tenant, newest first.
func (r *PostgresRepository) ListAuditLog(ctx context.Context, tenantID int64, limit, offset int) ([]AuditLogEntry, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, tenant_id, user_id, action, resource, details, created_at
 FROM audit_log
 WHERE tenant_id = $1
 ORDER BY id DESC
 LIMIT $2 OFFSET $3`,
		tenantID, limit, offset,
	)
	if err != nil {
		return nil, fmt.Errorf("listing audit log: %w", err)
	}
	defer rows.Close()

	var entries []AuditLogEntry
	for rows.Next() {
		var e AuditLogEntry
		if err := rows.Scan(&e.ID, &e.TenantID, &e.UserID, &e.Action, &e.Resource, &e.Details, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning audit log entry: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating audit log rows: %w", err)
	}
	return entries, nil
}

func ensureJSON(input json.RawMessage, fallback string) json.RawMessage {
	if len(input) == 0 {
		return json.RawMessage(fallback)
	}
	return input
}
