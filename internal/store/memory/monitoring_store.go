package memory

import (
	"context"
	"sync"
	"time"

	"github.com/alanyoungcy/stratbot/internal/domain"
)

// MonitoringStore implements domain.MonitoringStore in memory. At most
// maxPerStrategy snapshots are kept for each strategy.
type MonitoringStore struct {
	mu             sync.RWMutex
	nextID         int64
	rows           map[string][]domain.MonitoringSnapshot
	maxPerStrategy int
}

// NewMonitoringStore creates an empty MonitoringStore.
func NewMonitoringStore() *MonitoringStore {
	return &MonitoringStore{
		rows:           make(map[string][]domain.MonitoringSnapshot),
		maxPerStrategy: 1000,
	}
}

// SaveSnapshot appends a snapshot of status.
func (s *MonitoringStore) SaveSnapshot(_ context.Context, status domain.MonitoringStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	snaps := append(s.rows[status.StrategyID], domain.MonitoringSnapshot{
		ID:         s.nextID,
		StrategyID: status.StrategyID,
		Status:     status,
		CreatedAt:  nowUTC(),
	})
	if len(snaps) > s.maxPerStrategy {
		snaps = snaps[len(snaps)-s.maxPerStrategy:]
	}
	s.rows[status.StrategyID] = snaps
	return nil
}

// ListSnapshots returns a strategy's snapshots, newest first.
func (s *MonitoringStore) ListSnapshots(_ context.Context, strategyID string, opts domain.ListOpts) ([]domain.MonitoringSnapshot, error) {
	s.mu.RLock()
	var out []domain.MonitoringSnapshot
	for _, snap := range s.rows[strategyID] {
		if inWindow(snap.CreatedAt, opts) {
			out = append(out, snap)
		}
	}
	s.mu.RUnlock()

	newestFirst(out, func(m domain.MonitoringSnapshot) time.Time { return m.CreatedAt })
	return paginate(out, opts), nil
}

// ListBefore returns every snapshot created before the cutoff.
func (s *MonitoringStore) ListBefore(_ context.Context, before time.Time) ([]domain.MonitoringSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.MonitoringSnapshot
	for _, snaps := range s.rows {
		for _, snap := range snaps {
			if snap.CreatedAt.Before(before) {
				out = append(out, snap)
			}
		}
	}
	return out, nil
}

var _ domain.MonitoringStore = (*MonitoringStore)(nil)
