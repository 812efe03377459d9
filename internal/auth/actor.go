// Package auth - actor.go resolves a signed credential into an immutable
// ActorContext, the identity object every authorization decision and workflow
// transition is made against. Resolution fails closed: any missing or
// malformed claim yields ErrInvalidCredential, never a default-permissive
// context.
package auth

import (
	"errors"
	"fmt"

	"github.com/procureflow/procureflow/internal/db/models"
)

// ErrInvalidCredential is returned when a credential is malformed, expired,
// or missing a required claim. It is fatal to the request and never retried.
var ErrInvalidCredential = errors.New("invalid credential")

// ActorContext is the authenticated identity for one request: who is acting,
// in which organization, and with which roles. It is immutable after
// resolution and safe to share across goroutines.
type ActorContext struct {
	UserID         string
	OrganizationID string
	OrgRole        models.OrgRole
	// WorkflowRoles maps project IDs to the workflow role the actor holds on
	// that project within the request's organization.
	WorkflowRoles map[string]models.WorkflowRole
	// PlatformAdmin marks operator accounts that may cross tenant boundaries.
	PlatformAdmin bool
}

// WorkflowRole returns the actor's workflow role on the given project and
// whether one is held.
func (a *ActorContext) WorkflowRole(projectID string) (models.WorkflowRole, bool) {
	role, ok := a.WorkflowRoles[projectID]
	return role, ok
}

// IsOrgAdmin reports whether the actor holds owner or admin on their
// organization.
func (a *ActorContext) IsOrgAdmin() bool {
	return a.OrgRole.IsAdmin()
}

// ResolveActor verifies a JWT credential and builds the ActorContext from its
// claims alone. The organization ID is server-asserted from the credential —
// never from a client-supplied header — so a user with memberships in several
// organizations is pinned to exactly one per request.
func ResolveActor(credential string) (*ActorContext, error) {
	claims, err := ValidateJWT(credential)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCredential, err)
	}
	return actorFromClaims(claims)
}

// actorFromClaims validates the tenant claims and assembles the context.
func actorFromClaims(claims *Claims) (*ActorContext, error) {
	if claims.UserID == "" {
		return nil, fmt.Errorf("%w: missing user_id claim", ErrInvalidCredential)
	}
	if claims.OrganizationID == "" && !claims.PlatformAdmin {
		return nil, fmt.Errorf("%w: missing org_id claim", ErrInvalidCredential)
	}

	orgRole := models.OrgRole(claims.OrgRole)
	switch orgRole {
	case models.OrgRoleOwner, models.OrgRoleAdmin, models.OrgRoleMember:
	case "":
		if !claims.PlatformAdmin {
			return nil, fmt.Errorf("%w: missing org_role claim", ErrInvalidCredential)
		}
		orgRole = models.OrgRoleMember
	default:
		return nil, fmt.Errorf("%w: unknown org_role %q", ErrInvalidCredential, claims.OrgRole)
	}

	workflowRoles := make(map[string]models.WorkflowRole, len(claims.WorkflowRoles))
	for projectID, roleStr := range claims.WorkflowRoles {
		role := models.WorkflowRole(roleStr)
		switch role {
		case models.RoleSubmitter, models.RoleReviewer, models.RoleApprover, models.RoleStoreManager:
			workflowRoles[projectID] = role
		default:
			return nil, fmt.Errorf("%w: unknown workflow role %q for project %s", ErrInvalidCredential, roleStr, projectID)
		}
	}

	return &ActorContext{
		UserID:         claims.UserID,
		OrganizationID: claims.OrganizationID,
		OrgRole:        orgRole,
		WorkflowRoles:  workflowRoles,
		PlatformAdmin:  claims.PlatformAdmin,
	}, nil
}

// ActorFromAPIKey builds an ActorContext for a service API key. Keys carry an
// organization role but no per-project workflow roles, so they can administer
// and read but never advance workflow state.
func ActorFromAPIKey(key *models.APIKey) *ActorContext {
	userID := "apikey:" + key.ID
	if key.UserID != nil {
		userID = *key.UserID
	}
	return &ActorContext{
		UserID:         userID,
		OrganizationID: key.OrganizationID,
		OrgRole:        key.OrgRole,
		WorkflowRoles:  map[string]models.WorkflowRole{},
	}
}
