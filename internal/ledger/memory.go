package ledger

import (
	"context"
	"sync"

	"github.com/procureflow/procureflow/internal/db/models"
)

// MemoryStore is an in-memory AccountStore and ReservationStore, used by
// tests and available as a backend for single-process deployments. The mutex
// makes each store call atomic; the version check still drives the optimistic
// loop so the memory backend exercises the same contention paths as the
// database one.
type MemoryStore struct {
	mu           sync.Mutex
	accounts     map[string]models.BudgetAccount
	reservations map[string]Reservation
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		accounts:     make(map[string]models.BudgetAccount),
		reservations: make(map[string]Reservation),
	}
}

// PutAccount seeds or replaces an account.
func (s *MemoryStore) PutAccount(acc *models.BudgetAccount) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.accounts[acc.ID] = *acc
}

// GetAccount returns a copy of the account, or (nil, nil) when absent.
func (s *MemoryStore) GetAccount(_ context.Context, accountID string) (*models.BudgetAccount, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	acc, ok := s.accounts[accountID]
	if !ok {
		return nil, nil
	}
	return &acc, nil
}

// UpdateWithVersion writes the account only if the stored version still
// equals expectedVersion, bumping the version on success.
func (s *MemoryStore) UpdateWithVersion(_ context.Context, account *models.BudgetAccount, expectedVersion int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored, ok := s.accounts[account.ID]
	if !ok || stored.Version != expectedVersion {
		return false, nil
	}
	updated := *account
	updated.Version = expectedVersion + 1
	s.accounts[account.ID] = updated
	account.Version = updated.Version
	return true, nil
}

// CreateReservation stores a reservation.
func (s *MemoryStore) CreateReservation(_ context.Context, r *Reservation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reservations[r.Token] = *r
	return nil
}

// GetReservation returns a copy of the reservation, or (nil, nil) when absent.
func (s *MemoryStore) GetReservation(_ context.Context, token string) (*Reservation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.reservations[token]
	if !ok {
		return nil, nil
	}
	return &r, nil
}

// DeleteReservation removes a reservation. Deleting an absent token is a
// no-op.
func (s *MemoryStore) DeleteReservation(_ context.Context, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.reservations, token)
	return nil
}
