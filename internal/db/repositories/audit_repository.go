// audit_repository.go implements AuditRepository, the append-only store behind
// the audit recorder. No update or delete statement exists for audit_entries
// anywhere in the codebase.
package repositories

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/procureflow/procureflow/internal/db/models"
)

// AuditRepository handles database operations for audit entries. It satisfies
// audit.Store.
type AuditRepository struct {
	db *sql.DB
}

// NewAuditRepository creates a new audit repository
func NewAuditRepository(db *sql.DB) *AuditRepository {
	return &AuditRepository{db: db}
}

// InsertEntry appends one audit entry. Callers treat a failure here as fatal
// for the action being audited.
func (r *AuditRepository) InsertEntry(ctx context.Context, entry *models.AuditEntry) error {
	var metadata []byte
	if entry.Metadata != nil {
		var err error
		metadata, err = json.Marshal(entry.Metadata)
		if err != nil {
			return fmt.Errorf("failed to encode audit metadata: %w", err)
		}
	}

	query := `
		INSERT INTO audit_entries (id, actor_id, organization_id, action, entity_type, entity_id,
		                           prior_state, new_state, metadata, ip_address, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`

	_, err := r.db.ExecContext(ctx, query,
		entry.ID,
		entry.ActorID,
		entry.OrganizationID,
		entry.Action,
		entry.EntityType,
		entry.EntityID,
		entry.PriorState,
		entry.NewState,
		metadata,
		entry.IPAddress,
		entry.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert audit entry: %w", err)
	}

	return nil
}

// ListByOrganization lists an organization's audit entries, newest first
func (r *AuditRepository) ListByOrganization(ctx context.Context, orgID string, limit, offset int) ([]*models.AuditEntry, error) {
	query := `
		SELECT id, actor_id, organization_id, action, entity_type, entity_id,
		       prior_state, new_state, metadata, ip_address, created_at
		FROM audit_entries
		WHERE organization_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`

	rows, err := r.db.QueryContext(ctx, query, orgID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list audit entries: %w", err)
	}
	defer rows.Close()

	var entries []*models.AuditEntry
	for rows.Next() {
		entry, err := scanAuditEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}

	return entries, rows.Err()
}

// ListByEntity lists the audit trail of one entity, oldest first, so the
// workflow history reads top to bottom.
func (r *AuditRepository) ListByEntity(ctx context.Context, entityType, entityID string) ([]*models.AuditEntry, error) {
	query := `
		SELECT id, actor_id, organization_id, action, entity_type, entity_id,
		       prior_state, new_state, metadata, ip_address, created_at
		FROM audit_entries
		WHERE entity_type = $1 AND entity_id = $2
		ORDER BY created_at
	`

	rows, err := r.db.QueryContext(ctx, query, entityType, entityID)
	if err != nil {
		return nil, fmt.Errorf("failed to list audit entries: %w", err)
	}
	defer rows.Close()

	var entries []*models.AuditEntry
	for rows.Next() {
		entry, err := scanAuditEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}

	return entries, rows.Err()
}

func scanAuditEntry(rows *sql.Rows) (*models.AuditEntry, error) {
	entry := &models.AuditEntry{}
	var metadata []byte
	err := rows.Scan(
		&entry.ID,
		&entry.ActorID,
		&entry.OrganizationID,
		&entry.Action,
		&entry.EntityType,
		&entry.EntityID,
		&entry.PriorState,
		&entry.NewState,
		&metadata,
		&entry.IPAddress,
		&entry.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to scan audit entry: %w", err)
	}
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &entry.Metadata); err != nil {
			return nil, fmt.Errorf("failed to decode audit metadata: %w", err)
		}
	}
	return entry, nil
}
