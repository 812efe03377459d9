package notify

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/procureflow/procureflow/internal/db/models"
)

// MemoryStore is an in-memory outbox Store for tests and single-process
// deployments. The key index enforces the same uniqueness the database's
// unique constraint does.
type MemoryStore struct {
	mu     sync.Mutex
	events map[string]models.NotificationEvent // by ID
	byKey  map[string]string                   // idempotency key -> ID
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		events: make(map[string]models.NotificationEvent),
		byKey:  make(map[string]string),
	}
}

// InsertEvent stores the event, returning ErrDuplicateKey when the
// idempotency key is already taken.
func (s *MemoryStore) InsertEvent(_ context.Context, event *models.NotificationEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, taken := s.byKey[event.IdempotencyKey]; taken {
		return ErrDuplicateKey
	}
	s.events[event.ID] = *event
	s.byKey[event.IdempotencyKey] = event.ID
	return nil
}

// GetEventByKey returns the event for an idempotency key, or (nil, nil).
func (s *MemoryStore) GetEventByKey(_ context.Context, idempotencyKey string) (*models.NotificationEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.byKey[idempotencyKey]
	if !ok {
		return nil, nil
	}
	event := s.events[id]
	return &event, nil
}

// ListPending returns up to limit pending events in creation order.
func (s *MemoryStore) ListPending(_ context.Context, limit int) ([]models.NotificationEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.NotificationEvent
	for _, e := range s.events {
		if e.Status == models.NotificationPending {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// UpdateStatus sets delivery status and retry count for an event.
func (s *MemoryStore) UpdateStatus(_ context.Context, eventID string, status models.NotificationStatus, retryCount int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.events[eventID]
	if !ok {
		return nil
	}
	e.Status = status
	e.RetryCount = retryCount
	e.UpdatedAt = time.Now().UTC()
	s.events[eventID] = e
	return nil
}
