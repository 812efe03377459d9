// requisition_repository.go implements RequisitionRepository for requisition CRUD
// and the version-guarded state write used by the workflow engine. Line items
// are stored as JSONB.
package repositories

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/procureflow/procureflow/internal/db/models"
)

// RequisitionRepository handles database operations for requisitions. It
// satisfies workflow.RequisitionStore.
type RequisitionRepository struct {
	db *sql.DB
}

// NewRequisitionRepository creates a new requisition repository
func NewRequisitionRepository(db *sql.DB) *RequisitionRepository {
	return &RequisitionRepository{db: db}
}

const requisitionColumns = `id, organization_id, project_id, account_id, requester_id,
		title, lines, total, state, version, reservation_token,
		reviewed_by, reviewed_at, decided_by, decided_at, decision_note,
		submitted_at, completed_at, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRequisition(row rowScanner) (*models.Requisition, error) {
	req := &models.Requisition{}
	var lines []byte
	err := row.Scan(
		&req.ID,
		&req.OrganizationID,
		&req.ProjectID,
		&req.AccountID,
		&req.RequesterID,
		&req.Title,
		&lines,
		&req.Total,
		&req.State,
		&req.Version,
		&req.ReservationToken,
		&req.ReviewedBy,
		&req.ReviewedAt,
		&req.DecidedBy,
		&req.DecidedAt,
		&req.DecisionNote,
		&req.SubmittedAt,
		&req.CompletedAt,
		&req.CreatedAt,
		&req.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if len(lines) > 0 {
		if err := json.Unmarshal(lines, &req.Lines); err != nil {
			return nil, fmt.Errorf("failed to decode line items: %w", err)
		}
	}
	return req, nil
}

// GetRequisition retrieves a requisition by ID
func (r *RequisitionRepository) GetRequisition(ctx context.Context, id string) (*models.Requisition, error) {
	query := `
		SELECT ` + requisitionColumns + `
		FROM requisitions
		WHERE id = $1
	`

	req, err := scanRequisition(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil // Not found
		}
		return nil, fmt.Errorf("failed to get requisition: %w", err)
	}

	return req, nil
}

// CreateRequisition creates a new draft requisition
func (r *RequisitionRepository) CreateRequisition(ctx context.Context, req *models.Requisition) error {
	lines, err := json.Marshal(req.Lines)
	if err != nil {
		return fmt.Errorf("failed to encode line items: %w", err)
	}

	query := `
		INSERT INTO requisitions (organization_id, project_id, account_id, requester_id, title, lines, total, state)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id, version, created_at, updated_at
	`

	req.State = models.StateDraft
	req.ComputeTotal()

	err = r.db.QueryRowContext(ctx, query,
		req.OrganizationID,
		req.ProjectID,
		req.AccountID,
		req.RequesterID,
		req.Title,
		lines,
		req.Total,
		req.State,
	).Scan(&req.ID, &req.Version, &req.CreatedAt, &req.UpdatedAt)

	if err != nil {
		return fmt.Errorf("failed to create requisition: %w", err)
	}

	return nil
}

// UpdateDraft saves header and line edits on an editable requisition. The
// state column is deliberately not touched; only engine transitions move it.
func (r *RequisitionRepository) UpdateDraft(ctx context.Context, req *models.Requisition) error {
	lines, err := json.Marshal(req.Lines)
	if err != nil {
		return fmt.Errorf("failed to encode line items: %w", err)
	}

	req.ComputeTotal()

	query := `
		UPDATE requisitions
		SET title = $2, lines = $3, total = $4, account_id = $5, updated_at = NOW()
		WHERE id = $1
	`

	_, err = r.db.ExecContext(ctx, query, req.ID, req.Title, lines, req.Total, req.AccountID)
	if err != nil {
		return fmt.Errorf("failed to update requisition: %w", err)
	}

	return nil
}

// UpdateRequisitionCAS writes the requisition's state and decision metadata
// only if the stored version still equals expectedVersion. On success the
// version is bumped and written back into the passed struct; returns false
// when a concurrent transition won the race.
func (r *RequisitionRepository) UpdateRequisitionCAS(ctx context.Context, req *models.Requisition, expectedVersion int64) (bool, error) {
	query := `
		UPDATE requisitions
		SET state = $2, reservation_token = $3,
		    reviewed_by = $4, reviewed_at = $5, decided_by = $6, decided_at = $7, decision_note = $8,
		    submitted_at = $9, completed_at = $10, version = version + 1, updated_at = NOW()
		WHERE id = $1 AND version = $11
	`

	result, err := r.db.ExecContext(ctx, query,
		req.ID,
		req.State,
		req.ReservationToken,
		req.ReviewedBy,
		req.ReviewedAt,
		req.DecidedBy,
		req.DecidedAt,
		req.DecisionNote,
		req.SubmittedAt,
		req.CompletedAt,
		expectedVersion,
	)
	if err != nil {
		return false, fmt.Errorf("failed to update requisition state: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read update result: %w", err)
	}
	if affected == 0 {
		return false, nil // Version mismatch; a concurrent transition won
	}

	req.Version = expectedVersion + 1
	return true, nil
}

// DeleteDraft removes a draft requisition. Only drafts may be deleted; once
// submitted a requisition is cancelled, never removed.
func (r *RequisitionRepository) DeleteDraft(ctx context.Context, id string) error {
	query := `DELETE FROM requisitions WHERE id = $1 AND state = 'draft'`

	result, err := r.db.ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("failed to delete requisition: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read delete result: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("requisition is not a draft or does not exist")
	}

	return nil
}

// ListByOrganization lists requisitions in an organization, optionally
// filtered by state, newest first.
func (r *RequisitionRepository) ListByOrganization(ctx context.Context, orgID string, state models.RequisitionState, limit, offset int) ([]*models.Requisition, error) {
	query := `
		SELECT ` + requisitionColumns + `
		FROM requisitions
		WHERE organization_id = $1 AND ($2 = '' OR state = $2)
		ORDER BY created_at DESC
		LIMIT $3 OFFSET $4
	`

	rows, err := r.db.QueryContext(ctx, query, orgID, string(state), limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list requisitions: %w", err)
	}
	defer rows.Close()

	var reqs []*models.Requisition
	for rows.Next() {
		req, err := scanRequisition(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan requisition: %w", err)
		}
		reqs = append(reqs, req)
	}

	return reqs, rows.Err()
}

// ListByProject lists requisitions for a project, newest first
func (r *RequisitionRepository) ListByProject(ctx context.Context, projectID string, limit, offset int) ([]*models.Requisition, error) {
	query := `
		SELECT ` + requisitionColumns + `
		FROM requisitions
		WHERE project_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`

	rows, err := r.db.QueryContext(ctx, query, projectID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list requisitions: %w", err)
	}
	defer rows.Close()

	var reqs []*models.Requisition
	for rows.Next() {
		req, err := scanRequisition(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan requisition: %w", err)
		}
		reqs = append(reqs, req)
	}

	return reqs, rows.Err()
}

// CountSubmittedThisMonth counts requisitions submitted by an organization in
// the current calendar month, used to enforce the plan's monthly cap.
func (r *RequisitionRepository) CountSubmittedThisMonth(ctx context.Context, orgID string) (int, error) {
	query := `
		SELECT COUNT(*)
		FROM requisitions
		WHERE organization_id = $1
		  AND submitted_at >= date_trunc('month', NOW())
	`

	var count int
	if err := r.db.QueryRowContext(ctx, query, orgID).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count requisitions: %w", err)
	}

	return count, nil
}
