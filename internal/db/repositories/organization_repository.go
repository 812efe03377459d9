// organization_repository.go implements OrganizationRepository, providing database queries
// for organization CRUD, lifecycle status, and membership management.
package repositories

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/procureflow/procureflow/internal/db/models"
)

// OrganizationRepository handles database operations for organizations
type OrganizationRepository struct {
	db *sql.DB
}

// NewOrganizationRepository creates a new organization repository
func NewOrganizationRepository(db *sql.DB) *OrganizationRepository {
	return &OrganizationRepository{db: db}
}

const organizationColumns = `id, name, display_name, plan_tier, status,
		max_users, max_projects, max_requisitions_per_month, created_at, updated_at`

func scanOrganization(row *sql.Row) (*models.Organization, error) {
	org := &models.Organization{}
	err := row.Scan(
		&org.ID,
		&org.Name,
		&org.DisplayName,
		&org.PlanTier,
		&org.Status,
		&org.MaxUsers,
		&org.MaxProjects,
		&org.MaxRequisitionsPerMonth,
		&org.CreatedAt,
		&org.UpdatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil // Not found
		}
		return nil, fmt.Errorf("failed to get organization: %w", err)
	}
	return org, nil
}

// GetByID retrieves an organization by ID
func (r *OrganizationRepository) GetByID(ctx context.Context, id string) (*models.Organization, error) {
	query := `
		SELECT ` + organizationColumns + `
		FROM organizations
		WHERE id = $1
	`
	return scanOrganization(r.db.QueryRowContext(ctx, query, id))
}

// GetByName retrieves an organization by its URL-safe name
func (r *OrganizationRepository) GetByName(ctx context.Context, name string) (*models.Organization, error) {
	query := `
		SELECT ` + organizationColumns + `
		FROM organizations
		WHERE name = $1
	`
	return scanOrganization(r.db.QueryRowContext(ctx, query, name))
}

// GetOrganization implements workflow.OrganizationStore.
func (r *OrganizationRepository) GetOrganization(ctx context.Context, id string) (*models.Organization, error) {
	return r.GetByID(ctx, id)
}

// CreateOrganization creates a new organization
func (r *OrganizationRepository) CreateOrganization(ctx context.Context, org *models.Organization) error {
	query := `
		INSERT INTO organizations (name, display_name, plan_tier, status, max_users, max_projects, max_requisitions_per_month)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, created_at, updated_at
	`

	if org.PlanTier == "" {
		org.PlanTier = "free"
	}
	if org.Status == "" {
		org.Status = models.OrgStatusActive
	}

	err := r.db.QueryRowContext(ctx, query,
		org.Name,
		org.DisplayName,
		org.PlanTier,
		org.Status,
		org.MaxUsers,
		org.MaxProjects,
		org.MaxRequisitionsPerMonth,
	).Scan(&org.ID, &org.CreatedAt, &org.UpdatedAt)

	if err != nil {
		return fmt.Errorf("failed to create organization: %w", err)
	}

	return nil
}

// UpdateOrganization updates display name, plan tier, and plan limits
func (r *OrganizationRepository) UpdateOrganization(ctx context.Context, org *models.Organization) error {
	query := `
		UPDATE organizations
		SET display_name = $2, plan_tier = $3, max_users = $4, max_projects = $5,
		    max_requisitions_per_month = $6, updated_at = NOW()
		WHERE id = $1
	`

	_, err := r.db.ExecContext(ctx, query,
		org.ID,
		org.DisplayName,
		org.PlanTier,
		org.MaxUsers,
		org.MaxProjects,
		org.MaxRequisitionsPerMonth,
	)
	if err != nil {
		return fmt.Errorf("failed to update organization: %w", err)
	}

	return nil
}

// UpdateStatus changes the lifecycle status (active/suspended/trial). Suspension
// is the soft-delete path; organizations are never removed.
func (r *OrganizationRepository) UpdateStatus(ctx context.Context, orgID string, status models.OrgStatus) error {
	query := `
		UPDATE organizations
		SET status = $2, updated_at = NOW()
		WHERE id = $1
	`

	_, err := r.db.ExecContext(ctx, query, orgID, status)
	if err != nil {
		return fmt.Errorf("failed to update organization status: %w", err)
	}

	return nil
}

// ListOrganizations lists all organizations (platform admin only)
func (r *OrganizationRepository) ListOrganizations(ctx context.Context) ([]*models.Organization, error) {
	query := `
		SELECT ` + organizationColumns + `
		FROM organizations
		ORDER BY name
	`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list organizations: %w", err)
	}
	defer rows.Close()

	var orgs []*models.Organization
	for rows.Next() {
		org := &models.Organization{}
		err := rows.Scan(
			&org.ID,
			&org.Name,
			&org.DisplayName,
			&org.PlanTier,
			&org.Status,
			&org.MaxUsers,
			&org.MaxProjects,
			&org.MaxRequisitionsPerMonth,
			&org.CreatedAt,
			&org.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan organization: %w", err)
		}
		orgs = append(orgs, org)
	}

	return orgs, rows.Err()
}

// === Organization Membership Operations ===

// AddMember adds a user to an organization with the given role
func (r *OrganizationRepository) AddMember(ctx context.Context, orgID, userID string, role models.OrgRole) error {
	query := `
		INSERT INTO organization_members (organization_id, user_id, role)
		VALUES ($1, $2, $3)
		ON CONFLICT (organization_id, user_id) DO UPDATE SET role = EXCLUDED.role
	`

	_, err := r.db.ExecContext(ctx, query, orgID, userID, role)
	if err != nil {
		return fmt.Errorf("failed to add member: %w", err)
	}

	return nil
}

// RemoveMember removes a user from an organization
func (r *OrganizationRepository) RemoveMember(ctx context.Context, orgID, userID string) error {
	_, err := r.db.ExecContext(ctx,
		`DELETE FROM organization_members WHERE organization_id = $1 AND user_id = $2`,
		orgID, userID)
	if err != nil {
		return fmt.Errorf("failed to remove member: %w", err)
	}

	return nil
}

// GetMembership retrieves a user's membership in an organization
func (r *OrganizationRepository) GetMembership(ctx context.Context, orgID, userID string) (*models.Membership, error) {
	query := `
		SELECT organization_id, user_id, role, created_at
		FROM organization_members
		WHERE organization_id = $1 AND user_id = $2
	`

	m := &models.Membership{}
	err := r.db.QueryRowContext(ctx, query, orgID, userID).Scan(
		&m.OrganizationID,
		&m.UserID,
		&m.Role,
		&m.CreatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil // Not found
		}
		return nil, fmt.Errorf("failed to get membership: %w", err)
	}

	return m, nil
}

// ListMembers lists organization members with user details for display
func (r *OrganizationRepository) ListMembers(ctx context.Context, orgID string) ([]*models.MembershipWithUser, error) {
	query := `
		SELECT om.organization_id, om.user_id, om.role, om.created_at, u.name, u.email
		FROM organization_members om
		JOIN users u ON u.id = om.user_id
		WHERE om.organization_id = $1
		ORDER BY u.email
	`

	rows, err := r.db.QueryContext(ctx, query, orgID)
	if err != nil {
		return nil, fmt.Errorf("failed to list members: %w", err)
	}
	defer rows.Close()

	var members []*models.MembershipWithUser
	for rows.Next() {
		m := &models.MembershipWithUser{}
		err := rows.Scan(
			&m.OrganizationID,
			&m.UserID,
			&m.Role,
			&m.CreatedAt,
			&m.UserName,
			&m.UserEmail,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan member: %w", err)
		}
		members = append(members, m)
	}

	return members, rows.Err()
}

// CountMembers returns the number of members in an organization, used to
// enforce the plan's max_users limit.
func (r *OrganizationRepository) CountMembers(ctx context.Context, orgID string) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM organization_members WHERE organization_id = $1`,
		orgID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count members: %w", err)
	}

	return count, nil
}
