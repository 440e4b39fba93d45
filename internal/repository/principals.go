package repository

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// PrincipalRecord is the identity an API key resolves to.
type PrincipalRecord struct {
	UserID   int64
	TenantID int64
	RoleSlug string
}

// ValidateAPIKey returns the stored hash and owning user ID for a non-revoked
// key ID. Callers compare the secret outside this package.
func (r *PostgresRepository) ValidateAPIKey(ctx context.Context, id string) (string, int64, error) {
	var keyHash string
	var userID int64
	if err := r.pool.QueryRow(ctx, `
		SELECT key_hash, user_id
		FROM api_keys
		WHERE id = $1
		  AND revoked_at IS NULL
	`, id).Scan(&keyHash, &userID); err != nil {
		return "", 0, fmt.Errorf("validate api key: %w", mapPgError(err))
	}

	return keyHash, userID, nil
}

// GetPrincipal loads the tenant and role slug of a live user.
func (r *PostgresRepository) GetPrincipal(ctx context.Context, userID int64) (PrincipalRecord, error) {
	var p PrincipalRecord
	if err := r.pool.QueryRow(ctx, `
		SELECT u.id, u.tenant_id, ro.slug
		FROM users u
		JOIN roles ro ON ro.id = u.role_id
		WHERE u.id = $1
		  AND u.deleted_at IS NULL
	`, userID).Scan(&p.UserID, &p.TenantID, &p.RoleSlug); err != nil {
		return PrincipalRecord{}, fmt.Errorf("get principal: %w", mapPgError(err))
	}
	return p, nil
}

// UserHasTenantAccess reports whether a live user belongs to tenantID or is
// assigned to one of its branches.
func (r *PostgresRepository) UserHasTenantAccess(ctx context.Context, userID, tenantID int64) (bool, error) {
	return r.exists(ctx, "tenant access lookup", `
		SELECT EXISTS (
			SELECT 1 FROM users u
			WHERE u.id = $1 AND u.tenant_id = $2 AND u.deleted_at IS NULL
		) OR EXISTS (
			SELECT 1 FROM user_branches ub
			JOIN branches b ON b.id = ub.branch_id
			JOIN users u ON u.id = ub.user_id
			WHERE ub.user_id = $1 AND b.tenant_id = $2 AND u.deleted_at IS NULL
		)
	`, userID, tenantID)
}

// CreateAPIKey generates a key for userID, storing a bcrypt hash of the
// secret. The raw secret is returned exactly once.
func (r *PostgresRepository) CreateAPIKey(ctx context.Context, userID int64, name string) (string, string, error) {
	keyID, err := generateRandomHex(16)
	if err != nil {
		return "", "", fmt.Errorf("generate key id: %w", err)
	}

	secret, err := generateRandomHex(32)
	if err != nil {
		return "", "", fmt.Errorf("generate secret: %w", err)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
	if err != nil {
		return "", "", fmt.Errorf("hash api key: %w", err)
	}

	if name == "" {
		name = "api-key-" + keyID[:8]
	}
	_, err = r.pool.Exec(ctx, `
		INSERT INTO api_keys (id, user_id, name, key_hash)
		VALUES ($1, $2, $3, $4)
	`, keyID, userID, name, string(hash))
	if err != nil {
		return "", "", fmt.Errorf("create api key: %w", mapPgError(err))
	}

	return keyID, secret, nil
}

// RevokeAPIKey sets revoked_at on an active key.
func (r *PostgresRepository) RevokeAPIKey(ctx context.Context, keyID string) error {
	commandTag, err := r.pool.Exec(ctx, `
		UPDATE api_keys SET revoked_at = NOW()
		WHERE id = $1 AND revoked_at IS NULL
	`, keyID)
	if err != nil {
		return fmt.Errorf("revoke api key: %w", err)
	}
	if err := requireRows(commandTag); err != nil {
		return fmt.Errorf("revoke api key: %w", err)
	}
	return nil
}

func generateRandomHex(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
