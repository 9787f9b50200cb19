package service

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/stratbot/internal/domain"
)

// budgetEntry is the ledger row of a single strategy. mu linearizes every
// reserve/release on that strategy.
type budgetEntry struct {
	mu          sync.Mutex
	total       decimal.Decimal
	allocated   decimal.Decimal
	available   decimal.Decimal
	realized    decimal.Decimal
	maxPosition decimal.Decimal
	updated     time.Time
}

func (e *budgetEntry) snapshot(id string) domain.StrategyBudget {
	total, _ := e.total.Float64()
	allocated, _ := e.allocated.Float64()
	available, _ := e.available.Float64()
	realized, _ := e.realized.Float64()
	maxPos, _ := e.maxPosition.Float64()
	return domain.StrategyBudget{
		StrategyID:      id,
		Total:           total,
		Allocated:       allocated,
		Available:       available,
		RealizedProfit:  realized,
		MaxPositionSize: maxPos,
		LastUpdated:     e.updated,
	}
}

// BudgetLedger tracks available and allocated capital per strategy. The
// entry table is guarded by an RWMutex; each entry carries its own mutex so
// that operations on different strategies never contend.
type BudgetLedger struct {
	mu      sync.RWMutex
	entries map[string]*budgetEntry
	now     func() time.Time
	logger  *slog.Logger
}

// NewBudgetLedger creates an empty ledger.
func NewBudgetLedger(logger *slog.Logger) *BudgetLedger {
	return &BudgetLedger{
		entries: make(map[string]*budgetEntry),
		now:     func() time.Time { return time.Now().UTC() },
		logger:  logger.With(slog.String("component", "budget_ledger")),
	}
}

func (l *BudgetLedger) entry(id string) (*budgetEntry, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	e, ok := l.entries[id]
	return e, ok
}

// Initialize creates the ledger entry for a strategy with the given total
// capital, of which allocated is already locked in active trades. It is a
// no-op when the entry exists and reports whether an entry was created.
func (l *BudgetLedger) Initialize(strategyID string, total, allocated float64) (bool, error) {
	if total < 0 || allocated < 0 {
		return false, fmt.Errorf("budget_ledger: initialize %s: negative amount: %w", strategyID, domain.ErrValidation)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.entries[strategyID]; ok {
		return false, nil
	}

	t := decimal.NewFromFloat(total)
	a := decimal.NewFromFloat(allocated)
	l.entries[strategyID] = &budgetEntry{
		total:       t,
		allocated:   a,
		available:   t.Sub(a),
		maxPosition: t,
		updated:     l.now(),
	}

	l.logger.Debug("budget initialized",
		slog.String("strategy_id", strategyID),
		slog.Float64("total", total),
		slog.Float64("allocated", allocated),
	)
	return true, nil
}

// Available returns the capital a strategy can still commit.
func (l *BudgetLedger) Available(strategyID string) (float64, error) {
	b, err := l.Budget(strategyID)
	if err != nil {
		return 0, err
	}
	return b.Available, nil
}

// Budget returns a snapshot of the strategy's ledger entry.
func (l *BudgetLedger) Budget(strategyID string) (domain.StrategyBudget, error) {
	e, ok := l.entry(strategyID)
	if !ok {
		return domain.StrategyBudget{}, fmt.Errorf("budget_ledger: strategy %s: %w", strategyID, domain.ErrNotFound)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.snapshot(strategyID), nil
}

// Reserve moves amount from available to allocated. It fails with
// ErrInsufficientBudget, leaving the entry untouched, when amount exceeds the
// available capital.
func (l *BudgetLedger) Reserve(strategyID string, amount float64) error {
	if amount <= 0 {
		return fmt.Errorf("budget_ledger: reserve %v: %w", amount, domain.ErrValidation)
	}
	e, ok := l.entry(strategyID)
	if !ok {
		return fmt.Errorf("budget_ledger: reserve for %s: %w", strategyID, domain.ErrNotFound)
	}

	amt := decimal.NewFromFloat(amount)

	e.mu.Lock()
	defer e.mu.Unlock()

	if amt.GreaterThan(e.available) {
		return fmt.Errorf("budget_ledger: reserve %s of %s available for %s: %w",
			amt.StringFixed(2), e.available.StringFixed(2), strategyID, domain.ErrInsufficientBudget)
	}
	e.available = e.available.Sub(amt)
	e.allocated = e.allocated.Add(amt)
	e.updated = l.now()
	return nil
}

// Release returns allocation to available together with the realized profit
// (negative for a loss) and removes allocation from allocated.
func (l *BudgetLedger) Release(strategyID string, allocation, profit float64) error {
	if allocation < 0 {
		return fmt.Errorf("budget_ledger: release %v: %w", allocation, domain.ErrValidation)
	}
	e, ok := l.entry(strategyID)
	if !ok {
		return fmt.Errorf("budget_ledger: release for %s: %w", strategyID, domain.ErrNotFound)
	}

	alloc := decimal.NewFromFloat(allocation)
	pnl := decimal.NewFromFloat(profit)

	e.mu.Lock()
	defer e.mu.Unlock()

	e.allocated = e.allocated.Sub(alloc)
	e.available = e.available.Add(alloc).Add(pnl)
	e.realized = e.realized.Add(pnl)
	e.updated = l.now()
	return nil
}

// Remove deletes the strategy's entry. It is idempotent.
func (l *BudgetLedger) Remove(strategyID string) {
	l.mu.Lock()
	delete(l.entries, strategyID)
	l.mu.Unlock()
}

// Snapshot returns every ledger entry ordered by strategy id.
func (l *BudgetLedger) Snapshot() []domain.StrategyBudget {
	l.mu.RLock()
	ids := make([]string, 0, len(l.entries))
	entries := make(map[string]*budgetEntry, len(l.entries))
	for id, e := range l.entries {
		ids = append(ids, id)
		entries[id] = e
	}
	l.mu.RUnlock()

	sort.Strings(ids)
	out := make([]domain.StrategyBudget, 0, len(ids))
	for _, id := range ids {
		e := entries[id]
		e.mu.Lock()
		out = append(out, e.snapshot(id))
		e.mu.Unlock()
	}
	return out
}
