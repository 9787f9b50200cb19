package memory

import (
	"context"
	"sync"

	"github.com/alanyoungcy/stratbot/internal/domain"
)

// AuditStore implements domain.AuditStore in memory.
type AuditStore struct {
	mu      sync.RWMutex
	entries []domain.AuditEntry
}

// NewAuditStore creates an empty AuditStore.
func NewAuditStore() *AuditStore {
	return &AuditStore{}
}

// Log appends an audit entry.
func (s *AuditStore) Log(_ context.Context, event string, detail map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, domain.AuditEntry{
		ID:        int64(len(s.entries) + 1),
		Event:     event,
		Detail:    cloneMap(detail),
		CreatedAt: nowUTC(),
	})
	return nil
}

// List returns audit entries newest first.
func (s *AuditStore) List(_ context.Context, opts domain.ListOpts) ([]domain.AuditEntry, error) {
	s.mu.RLock()
	out := make([]domain.AuditEntry, 0, len(s.entries))
	for i := len(s.entries) - 1; i >= 0; i-- {
		if inWindow(s.entries[i].CreatedAt, opts) {
			out = append(out, s.entries[i])
		}
	}
	s.mu.RUnlock()
	return paginate(out, opts), nil
}

var _ domain.AuditStore = (*AuditStore)(nil)
