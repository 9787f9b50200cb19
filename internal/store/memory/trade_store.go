package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/stratbot/internal/domain"
)

// TradeStore implements domain.TradeStore in memory.
type TradeStore struct {
	mu   sync.RWMutex
	rows map[string]domain.Trade
}

// NewTradeStore creates an empty TradeStore.
func NewTradeStore() *TradeStore {
	return &TradeStore{rows: make(map[string]domain.Trade)}
}

func cloneTrade(t domain.Trade) domain.Trade {
	t.Metadata = cloneMap(t.Metadata)
	return t
}

func statusIn(s domain.TradeStatus, set []domain.TradeStatus) bool {
	if len(set) == 0 {
		return true
	}
	for _, v := range set {
		if v == s {
			return true
		}
	}
	return false
}

// List returns trades matching the filter, newest first.
func (s *TradeStore) List(_ context.Context, filter domain.TradeFilter) ([]domain.Trade, error) {
	s.mu.RLock()
	out := make([]domain.Trade, 0, len(s.rows))
	for _, t := range s.rows {
		if filter.StrategyID != "" && t.StrategyID != filter.StrategyID {
			continue
		}
		if filter.UserID != "" && t.UserID != filter.UserID {
			continue
		}
		if !statusIn(t.Status, filter.Statuses) || !inWindow(t.CreatedAt, filter.ListOpts) {
			continue
		}
		out = append(out, cloneTrade(t))
	}
	s.mu.RUnlock()

	newestFirst(out, func(t domain.Trade) time.Time { return t.CreatedAt })
	return paginate(out, filter.ListOpts), nil
}

// Get returns the trade with the given id.
func (s *TradeStore) Get(_ context.Context, id string) (domain.Trade, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.rows[id]
	if !ok {
		return domain.Trade{}, fmt.Errorf("memory: get trade %s: %w", id, domain.ErrNotFound)
	}
	return cloneTrade(t), nil
}

// Create stores a new trade, assigning an id when empty.
func (s *TradeStore) Create(_ context.Context, t domain.Trade) (domain.Trade, error) {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	now := nowUTC()
	if t.CreatedAt.IsZero() {
		t.CreatedAt = now
	}
	t.UpdatedAt = now

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.rows[t.ID]; ok {
		return domain.Trade{}, fmt.Errorf("memory: create trade %s: %w", t.ID, domain.ErrAlreadyExists)
	}
	s.rows[t.ID] = cloneTrade(t)
	return cloneTrade(t), nil
}

// Update replaces an existing trade.
func (s *TradeStore) Update(_ context.Context, t domain.Trade) (domain.Trade, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev, ok := s.rows[t.ID]
	if !ok {
		return domain.Trade{}, fmt.Errorf("memory: update trade %s: %w", t.ID, domain.ErrNotFound)
	}
	t.CreatedAt = prev.CreatedAt
	t.UpdatedAt = nowUTC()
	s.rows[t.ID] = cloneTrade(t)
	return cloneTrade(t), nil
}

// Delete removes a trade.
func (s *TradeStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.rows[id]; !ok {
		return fmt.Errorf("memory: delete trade %s: %w", id, domain.ErrNotFound)
	}
	delete(s.rows, id)
	return nil
}

// ListClosedBefore returns closed trades whose close time is before the cutoff.
func (s *TradeStore) ListClosedBefore(_ context.Context, before time.Time) ([]domain.Trade, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.Trade
	for _, t := range s.rows {
		if t.Status == domain.TradeStatusClosed && t.ClosedAt != nil && t.ClosedAt.Before(before) {
			out = append(out, cloneTrade(t))
		}
	}
	return out, nil
}

var _ domain.TradeStore = (*TradeStore)(nil)
