// project_repository.go implements ProjectRepository for project CRUD and
// per-project workflow role grants. Workflow roles feed the credential's
// workflow_roles claim via the role listing query.
package repositories

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/procureflow/procureflow/internal/db/models"
)

// ProjectRepository handles database operations for projects and workflow roles
type ProjectRepository struct {
	db *sql.DB
}

// NewProjectRepository creates a new project repository
func NewProjectRepository(db *sql.DB) *ProjectRepository {
	return &ProjectRepository{db: db}
}

// GetByID retrieves a project by ID
func (r *ProjectRepository) GetByID(ctx context.Context, id string) (*models.Project, error) {
	query := `
		SELECT id, organization_id, name, description, status, created_at, updated_at
		FROM projects
		WHERE id = $1
	`

	p := &models.Project{}
	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&p.ID,
		&p.OrganizationID,
		&p.Name,
		&p.Description,
		&p.Status,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil // Not found
		}
		return nil, fmt.Errorf("failed to get project: %w", err)
	}

	return p, nil
}

// CreateProject creates a new project within an organization
func (r *ProjectRepository) CreateProject(ctx context.Context, p *models.Project) error {
	query := `
		INSERT INTO projects (organization_id, name, description, status)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at, updated_at
	`

	if p.Status == "" {
		p.Status = "open"
	}

	err := r.db.QueryRowContext(ctx, query, p.OrganizationID, p.Name, p.Description, p.Status).Scan(
		&p.ID,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create project: %w", err)
	}

	return nil
}

// UpdateProject updates a project's name, description, and status
func (r *ProjectRepository) UpdateProject(ctx context.Context, p *models.Project) error {
	query := `
		UPDATE projects
		SET name = $2, description = $3, status = $4, updated_at = NOW()
		WHERE id = $1
	`

	_, err := r.db.ExecContext(ctx, query, p.ID, p.Name, p.Description, p.Status)
	if err != nil {
		return fmt.Errorf("failed to update project: %w", err)
	}

	return nil
}

// ListByOrganization lists all projects in an organization
func (r *ProjectRepository) ListByOrganization(ctx context.Context, orgID string) ([]*models.Project, error) {
	query := `
		SELECT id, organization_id, name, description, status, created_at, updated_at
		FROM projects
		WHERE organization_id = $1
		ORDER BY name
	`

	rows, err := r.db.QueryContext(ctx, query, orgID)
	if err != nil {
		return nil, fmt.Errorf("failed to list projects: %w", err)
	}
	defer rows.Close()

	var projects []*models.Project
	for rows.Next() {
		p := &models.Project{}
		err := rows.Scan(
			&p.ID,
			&p.OrganizationID,
			&p.Name,
			&p.Description,
			&p.Status,
			&p.CreatedAt,
			&p.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan project: %w", err)
		}
		projects = append(projects, p)
	}

	return projects, rows.Err()
}

// CountByOrganization returns the number of projects in an organization, used
// to enforce the plan's max_projects limit.
func (r *ProjectRepository) CountByOrganization(ctx context.Context, orgID string) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM projects WHERE organization_id = $1`,
		orgID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count projects: %w", err)
	}

	return count, nil
}

// === Workflow Role Operations ===

// GrantRole assigns a workflow role to a user on a project. A user holds at
// most one workflow role per project; granting replaces any existing role.
func (r *ProjectRepository) GrantRole(ctx context.Context, projectID, userID string, role models.WorkflowRole) error {
	query := `
		INSERT INTO project_roles (project_id, user_id, role)
		VALUES ($1, $2, $3)
		ON CONFLICT (project_id, user_id) DO UPDATE SET role = EXCLUDED.role
	`

	_, err := r.db.ExecContext(ctx, query, projectID, userID, role)
	if err != nil {
		return fmt.Errorf("failed to grant role: %w", err)
	}

	return nil
}

// RevokeRole removes a user's workflow role on a project
func (r *ProjectRepository) RevokeRole(ctx context.Context, projectID, userID string) error {
	_, err := r.db.ExecContext(ctx,
		`DELETE FROM project_roles WHERE project_id = $1 AND user_id = $2`,
		projectID, userID)
	if err != nil {
		return fmt.Errorf("failed to revoke role: %w", err)
	}

	return nil
}

// GetUserRoles returns a user's workflow roles across all projects of an
// organization, keyed by project ID. This map is embedded in the credential
// at token issue time so authorization never needs a database round-trip.
func (r *ProjectRepository) GetUserRoles(ctx context.Context, orgID, userID string) (map[string]models.WorkflowRole, error) {
	query := `
		SELECT pr.project_id, pr.role
		FROM project_roles pr
		JOIN projects p ON p.id = pr.project_id
		WHERE p.organization_id = $1 AND pr.user_id = $2
	`

	rows, err := r.db.QueryContext(ctx, query, orgID, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to get user roles: %w", err)
	}
	defer rows.Close()

	roles := make(map[string]models.WorkflowRole)
	for rows.Next() {
		var projectID string
		var role models.WorkflowRole
		if err := rows.Scan(&projectID, &role); err != nil {
			return nil, fmt.Errorf("failed to scan role: %w", err)
		}
		roles[projectID] = role
	}

	return roles, rows.Err()
}

// ListProjectRoles lists all role assignments on a project
func (r *ProjectRepository) ListProjectRoles(ctx context.Context, projectID string) ([]*models.ProjectRole, error) {
	query := `
		SELECT project_id, user_id, role, created_at
		FROM project_roles
		WHERE project_id = $1
		ORDER BY created_at
	`

	rows, err := r.db.QueryContext(ctx, query, projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to list project roles: %w", err)
	}
	defer rows.Close()

	var roles []*models.ProjectRole
	for rows.Next() {
		pr := &models.ProjectRole{}
		if err := rows.Scan(&pr.ProjectID, &pr.UserID, &pr.Role, &pr.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan project role: %w", err)
		}
		roles = append(roles, pr)
	}

	return roles, rows.Err()
}
