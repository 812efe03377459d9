package audit

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/procureflow/procureflow/internal/db/models"
)

// Store persists audit entries. The contract is append-only: implementations
// expose an insert and reads, never an update or delete.
type Store interface {
	InsertEntry(ctx context.Context, entry *models.AuditEntry) error
}

// Recorder is the single write path for audit records. The durable store
// write is mandatory — if it fails, Record returns the error and the caller's
// enclosing transition must fail with it. An approval that cannot be audited
// must not happen. Shipping to external destinations is best-effort and never
// fails the caller.
type Recorder struct {
	store   Store
	shipper Shipper
	logger  *slog.Logger
}

// RecorderOption configures a Recorder.
type RecorderOption func(*Recorder)

// WithShipper routes a copy of every recorded entry to external destinations.
func WithShipper(s Shipper) RecorderOption {
	return func(r *Recorder) { r.shipper = s }
}

// WithRecorderLogger sets the structured logger.
func WithRecorderLogger(logger *slog.Logger) RecorderOption {
	return func(r *Recorder) { r.logger = logger }
}

// NewRecorder creates a Recorder over the given store.
func NewRecorder(store Store, opts ...RecorderOption) *Recorder {
	r := &Recorder{
		store:  store,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Record durably persists one audit entry, filling in the ID and timestamp
// when absent. Returns an error only when the durable write fails.
func (r *Recorder) Record(ctx context.Context, entry *models.AuditEntry) error {
	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	if err := r.store.InsertEntry(ctx, entry); err != nil {
		return fmt.Errorf("audit write failed for action %s: %w", entry.Action, err)
	}

	if r.shipper != nil {
		if err := r.shipper.Ship(ctx, logEntryFromModel(entry)); err != nil {
			r.logger.Warn("audit shipping failed",
				"action", entry.Action, "entry_id", entry.ID, "error", err)
		}
	}

	return nil
}

// MemoryStore is an in-memory append-only Store for tests and single-process
// deployments.
type MemoryStore struct {
	mu      sync.Mutex
	entries []models.AuditEntry
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// InsertEntry appends an entry.
func (s *MemoryStore) InsertEntry(_ context.Context, entry *models.AuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, *entry)
	return nil
}

// Entries returns a copy of everything recorded so far, in insertion order.
func (s *MemoryStore) Entries() []models.AuditEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.AuditEntry, len(s.entries))
	copy(out, s.entries)
	return out
}
