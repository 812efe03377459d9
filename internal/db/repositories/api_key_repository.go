// api_key_repository.go implements APIKeyRepository for service integration
// credentials. Lookup is by display prefix; the caller verifies the bcrypt
// hash before trusting the match.
package repositories

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/procureflow/procureflow/internal/db/models"
)

// APIKeyRepository handles database operations for API keys
type APIKeyRepository struct {
	db *sql.DB
}

// NewAPIKeyRepository creates a new API key repository
func NewAPIKeyRepository(db *sql.DB) *APIKeyRepository {
	return &APIKeyRepository{db: db}
}

const apiKeyColumns = `id, user_id, organization_id, name, key_hash, key_prefix,
		org_role, expires_at, last_used_at, created_at`

// CreateAPIKey stores a new API key. Only the hash is persisted; the full key
// is shown to the caller once at creation time.
func (r *APIKeyRepository) CreateAPIKey(ctx context.Context, key *models.APIKey) error {
	query := `
		INSERT INTO api_keys (user_id, organization_id, name, key_hash, key_prefix, org_role, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, created_at
	`

	err := r.db.QueryRowContext(ctx, query,
		key.UserID,
		key.OrganizationID,
		key.Name,
		key.KeyHash,
		key.KeyPrefix,
		key.OrgRole,
		key.ExpiresAt,
	).Scan(&key.ID, &key.CreatedAt)

	if err != nil {
		return fmt.Errorf("failed to create API key: %w", err)
	}

	return nil
}

// GetByPrefix retrieves an API key by its display prefix
func (r *APIKeyRepository) GetByPrefix(ctx context.Context, prefix string) (*models.APIKey, error) {
	query := `
		SELECT ` + apiKeyColumns + `
		FROM api_keys
		WHERE key_prefix = $1
	`

	key := &models.APIKey{}
	err := r.db.QueryRowContext(ctx, query, prefix).Scan(
		&key.ID,
		&key.UserID,
		&key.OrganizationID,
		&key.Name,
		&key.KeyHash,
		&key.KeyPrefix,
		&key.OrgRole,
		&key.ExpiresAt,
		&key.LastUsedAt,
		&key.CreatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil // Not found
		}
		return nil, fmt.Errorf("failed to get API key: %w", err)
	}

	return key, nil
}

// ListByOrganization lists an organization's API keys
func (r *APIKeyRepository) ListByOrganization(ctx context.Context, orgID string) ([]*models.APIKey, error) {
	query := `
		SELECT ` + apiKeyColumns + `
		FROM api_keys
		WHERE organization_id = $1
		ORDER BY created_at DESC
	`

	rows, err := r.db.QueryContext(ctx, query, orgID)
	if err != nil {
		return nil, fmt.Errorf("failed to list API keys: %w", err)
	}
	defer rows.Close()

	var keys []*models.APIKey
	for rows.Next() {
		key := &models.APIKey{}
		err := rows.Scan(
			&key.ID,
			&key.UserID,
			&key.OrganizationID,
			&key.Name,
			&key.KeyHash,
			&key.KeyPrefix,
			&key.OrgRole,
			&key.ExpiresAt,
			&key.LastUsedAt,
			&key.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan API key: %w", err)
		}
		keys = append(keys, key)
	}

	return keys, rows.Err()
}

// UpdateLastUsed touches the key's last_used_at timestamp
func (r *APIKeyRepository) UpdateLastUsed(ctx context.Context, keyID string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE api_keys SET last_used_at = NOW() WHERE id = $1`, keyID)
	if err != nil {
		return fmt.Errorf("failed to update API key last used: %w", err)
	}

	return nil
}

// DeleteAPIKey revokes an API key within an organization
func (r *APIKeyRepository) DeleteAPIKey(ctx context.Context, orgID, keyID string) error {
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM api_keys WHERE id = $1 AND organization_id = $2`, keyID, orgID)
	if err != nil {
		return fmt.Errorf("failed to delete API key: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read delete result: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("API key not found")
	}

	return nil
}
