package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/stratbot/internal/domain"
)

// StrategyStore implements domain.StrategyStore in memory.
type StrategyStore struct {
	mu   sync.RWMutex
	rows map[string]domain.Strategy
}

// NewStrategyStore creates an empty StrategyStore.
func NewStrategyStore() *StrategyStore {
	return &StrategyStore{rows: make(map[string]domain.Strategy)}
}

func cloneStrategy(s domain.Strategy) domain.Strategy {
	s.Symbols = append([]string(nil), s.Symbols...)
	s.Config.EntryConditions = cloneMap(s.Config.EntryConditions)
	s.Config.ExitConditions = cloneMap(s.Config.ExitConditions)
	s.Config.Extra = cloneMap(s.Config.Extra)
	return s
}

// List returns strategies matching the filter, newest first.
func (s *StrategyStore) List(_ context.Context, filter domain.StrategyFilter) ([]domain.Strategy, error) {
	s.mu.RLock()
	out := make([]domain.Strategy, 0, len(s.rows))
	for _, st := range s.rows {
		if filter.UserID != "" && st.UserID != filter.UserID {
			continue
		}
		if filter.Status != "" && st.Status != filter.Status {
			continue
		}
		if !inWindow(st.CreatedAt, filter.ListOpts) {
			continue
		}
		out = append(out, cloneStrategy(st))
	}
	s.mu.RUnlock()

	newestFirst(out, func(st domain.Strategy) time.Time { return st.CreatedAt })
	return paginate(out, filter.ListOpts), nil
}

// Get returns the strategy with the given id.
func (s *StrategyStore) Get(_ context.Context, id string) (domain.Strategy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.rows[id]
	if !ok {
		return domain.Strategy{}, fmt.Errorf("memory: get strategy %s: %w", id, domain.ErrNotFound)
	}
	return cloneStrategy(st), nil
}

// Create stores a new strategy, assigning an id when empty.
func (s *StrategyStore) Create(_ context.Context, st domain.Strategy) (domain.Strategy, error) {
	if st.ID == "" {
		st.ID = uuid.NewString()
	}
	now := nowUTC()
	if st.CreatedAt.IsZero() {
		st.CreatedAt = now
	}
	st.UpdatedAt = now

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.rows[st.ID]; ok {
		return domain.Strategy{}, fmt.Errorf("memory: create strategy %s: %w", st.ID, domain.ErrAlreadyExists)
	}
	s.rows[st.ID] = cloneStrategy(st)
	return cloneStrategy(st), nil
}

// Update replaces an existing strategy.
func (s *StrategyStore) Update(_ context.Context, st domain.Strategy) (domain.Strategy, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev, ok := s.rows[st.ID]
	if !ok {
		return domain.Strategy{}, fmt.Errorf("memory: update strategy %s: %w", st.ID, domain.ErrNotFound)
	}
	st.CreatedAt = prev.CreatedAt
	st.UpdatedAt = nowUTC()
	s.rows[st.ID] = cloneStrategy(st)
	return cloneStrategy(st), nil
}

// Delete removes a strategy.
func (s *StrategyStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.rows[id]; !ok {
		return fmt.Errorf("memory: delete strategy %s: %w", id, domain.ErrNotFound)
	}
	delete(s.rows, id)
	return nil
}

var _ domain.StrategyStore = (*StrategyStore)(nil)
