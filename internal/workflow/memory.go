package workflow

import (
	"context"
	"sync"

	"github.com/procureflow/procureflow/internal/db/models"
)

// MemoryRequisitionStore is an in-memory RequisitionStore for tests and
// single-process deployments.
type MemoryRequisitionStore struct {
	mu           sync.Mutex
	requisitions map[string]models.Requisition
}

// NewMemoryRequisitionStore creates an empty store.
func NewMemoryRequisitionStore() *MemoryRequisitionStore {
	return &MemoryRequisitionStore{requisitions: make(map[string]models.Requisition)}
}

// PutRequisition seeds or replaces a requisition.
func (s *MemoryRequisitionStore) PutRequisition(r *models.Requisition) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requisitions[r.ID] = *r
}

// GetRequisition returns a copy, or (nil, nil) when absent.
func (s *MemoryRequisitionStore) GetRequisition(_ context.Context, id string) (*models.Requisition, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.requisitions[id]
	if !ok {
		return nil, nil
	}
	return &r, nil
}

// UpdateRequisitionCAS writes the requisition only if the stored version
// still equals expectedVersion, bumping the version on success.
func (s *MemoryRequisitionStore) UpdateRequisitionCAS(_ context.Context, r *models.Requisition, expectedVersion int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored, ok := s.requisitions[r.ID]
	if !ok || stored.Version != expectedVersion {
		return false, nil
	}
	updated := *r
	updated.Version = expectedVersion + 1
	s.requisitions[r.ID] = updated
	r.Version = updated.Version
	return true, nil
}

// MemoryOrganizationStore is an in-memory OrganizationStore.
type MemoryOrganizationStore struct {
	mu   sync.Mutex
	orgs map[string]models.Organization
}

// NewMemoryOrganizationStore creates an empty store.
func NewMemoryOrganizationStore() *MemoryOrganizationStore {
	return &MemoryOrganizationStore{orgs: make(map[string]models.Organization)}
}

// PutOrganization seeds or replaces an organization.
func (s *MemoryOrganizationStore) PutOrganization(org *models.Organization) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.orgs[org.ID] = *org
}

// GetOrganization returns a copy, or (nil, nil) when absent.
func (s *MemoryOrganizationStore) GetOrganization(_ context.Context, id string) (*models.Organization, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	org, ok := s.orgs[id]
	if !ok {
		return nil, nil
	}
	return &org, nil
}
