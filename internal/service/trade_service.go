package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/stratbot/internal/domain"
	"github.com/alanyoungcy/stratbot/internal/notify"
)

// tradeLockTTL bounds how long a distributed transition lock can be held.
const tradeLockTTL = 30 * time.Second

// TradeService owns the trade lifecycle pending -> open -> closed and keeps
// the budget ledger in step with every transition.
type TradeService struct {
	trades   domain.TradeStore
	ledger   *BudgetLedger
	market   domain.MarketDataProvider
	bus      domain.SignalBus
	audit    domain.AuditStore
	locks    domain.LockManager // optional
	notifier *notify.Notifier   // optional
	logger   *slog.Logger

	mu       sync.Mutex
	inflight map[string]struct{}
	now      func() time.Time
}

// NewTradeService creates a TradeService. locks and notifier may be nil.
func NewTradeService(
	trades domain.TradeStore,
	ledger *BudgetLedger,
	market domain.MarketDataProvider,
	bus domain.SignalBus,
	audit domain.AuditStore,
	locks domain.LockManager,
	notifier *notify.Notifier,
	logger *slog.Logger,
) *TradeService {
	return &TradeService{
		trades:   trades,
		ledger:   ledger,
		market:   market,
		bus:      bus,
		audit:    audit,
		locks:    locks,
		notifier: notifier,
		logger:   logger.With(slog.String("component", "trade_service")),
		inflight: make(map[string]struct{}),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Ledger returns the budget ledger the service reserves against.
func (s *TradeService) Ledger() *BudgetLedger {
	return s.ledger
}

func validateTrade(t domain.Trade) error {
	var problems []string
	if t.StrategyID == "" {
		problems = append(problems, "strategy_id is required")
	}
	if strings.TrimSpace(t.Symbol) == "" {
		problems = append(problems, "symbol is required")
	}
	if !t.Side.Valid() {
		problems = append(problems, fmt.Sprintf("side %q must be buy or sell", t.Side))
	}
	if t.Amount <= 0 {
		problems = append(problems, "amount must be positive")
	}
	if t.EntryPrice != nil && *t.EntryPrice <= 0 {
		problems = append(problems, "entry_price must be positive")
	}
	if len(problems) > 0 {
		return fmt.Errorf("%s: %w", strings.Join(problems, "; "), domain.ErrValidation)
	}
	return nil
}

// Create validates a trade, reserves its cost from the strategy budget and
// persists it as pending. A missing entry price is resolved from the market.
func (s *TradeService) Create(ctx context.Context, t domain.Trade) (domain.Trade, error) {
	if err := validateTrade(t); err != nil {
		return domain.Trade{}, fmt.Errorf("trade_service: create: %w", err)
	}

	if t.EntryPrice == nil {
		price, err := s.market.GetPrice(ctx, t.Symbol)
		if err != nil {
			return domain.Trade{}, fmt.Errorf("trade_service: create: resolve price %s: %w", t.Symbol, err)
		}
		if price <= 0 {
			return domain.Trade{}, fmt.Errorf("trade_service: create: price %v for %s: %w", price, t.Symbol, domain.ErrValidation)
		}
		t.EntryPrice = &price
	}

	now := s.now()
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if t.MarketType == "" {
		t.MarketType = domain.MarketTypeSpot
	}
	t.Status = domain.TradeStatusPending
	t.ExitPrice, t.Profit, t.ClosedAt = nil, nil, nil
	t.ExecutedAt, t.OrderID = nil, nil
	t.CreatedAt, t.UpdatedAt = now, now
	t.ReservedCost = t.Cost()

	if err := s.ledger.Reserve(t.StrategyID, t.ReservedCost); err != nil {
		return domain.Trade{}, fmt.Errorf("trade_service: create: %w", err)
	}

	created, err := s.trades.Create(ctx, t)
	if err != nil {
		if relErr := s.ledger.Release(t.StrategyID, t.ReservedCost, 0); relErr != nil {
			s.logger.ErrorContext(ctx, "trade_service: release after failed create",
				slog.String("trade_id", t.ID),
				slog.String("error", relErr.Error()),
			)
		}
		return domain.Trade{}, fmt.Errorf("trade_service: create: persist: %w", err)
	}

	s.afterMutation(ctx, "trade_created", created)
	return created, nil
}

// Execute moves a pending trade to open at the current market price, falling
// back to the requested entry price when the market cannot be reached.
//
// EntryPrice is overwritten with the fill price and the requested price moves
// to Metadata["requested_price"]. Profit on close is measured from the fill,
// not from the requested price. The ledger stays balanced either way since
// release uses ReservedCost plus profit.
func (s *TradeService) Execute(ctx context.Context, id string) (domain.Trade, error) {
	release, err := s.guard(ctx, id)
	if err != nil {
		return domain.Trade{}, fmt.Errorf("trade_service: execute: %w", err)
	}
	defer release()

	t, err := s.trades.Get(ctx, id)
	if err != nil {
		return domain.Trade{}, fmt.Errorf("trade_service: execute %s: %w", id, err)
	}
	if t.Status != domain.TradeStatusPending {
		return domain.Trade{}, fmt.Errorf("trade_service: execute %s in status %s: %w", id, t.Status, domain.ErrInvalidState)
	}

	requested := 0.0
	if t.EntryPrice != nil {
		requested = *t.EntryPrice
	}
	fill := requested
	if price, perr := s.market.GetPrice(ctx, t.Symbol); perr != nil {
		s.logger.WarnContext(ctx, "trade_service: fill price unavailable, using entry price",
			slog.String("trade_id", id),
			slog.String("symbol", t.Symbol),
			slog.String("error", perr.Error()),
		)
	} else if price > 0 {
		fill = price
	}

	now := s.now()
	orderID := "sim-" + uuid.NewString()
	t.Status = domain.TradeStatusOpen
	t.EntryPrice = &fill
	t.ExecutedAt = &now
	t.OrderID = &orderID
	if t.Metadata == nil {
		t.Metadata = make(map[string]any)
	}
	t.Metadata["requested_price"] = requested

	updated, err := s.trades.Update(ctx, t)
	if err != nil {
		return domain.Trade{}, fmt.Errorf("trade_service: execute %s: persist: %w", id, err)
	}

	s.afterMutation(ctx, "trade_opened", updated)
	return updated, nil
}

// Close closes an open trade at the current market price.
func (s *TradeService) Close(ctx context.Context, id string) (domain.Trade, error) {
	return s.close(ctx, id, nil, domain.CloseReasonManual)
}

// CloseAt closes an open trade at a known price.
func (s *TradeService) CloseAt(ctx context.Context, id string, price float64, reason domain.CloseReason) (domain.Trade, error) {
	if price <= 0 {
		return domain.Trade{}, fmt.Errorf("trade_service: close %s at %v: %w", id, price, domain.ErrValidation)
	}
	return s.close(ctx, id, &price, reason)
}

func (s *TradeService) close(ctx context.Context, id string, price *float64, reason domain.CloseReason) (domain.Trade, error) {
	release, err := s.guard(ctx, id)
	if err != nil {
		return domain.Trade{}, fmt.Errorf("trade_service: close: %w", err)
	}
	defer release()

	t, err := s.trades.Get(ctx, id)
	if err != nil {
		return domain.Trade{}, fmt.Errorf("trade_service: close %s: %w", id, err)
	}
	if t.Status != domain.TradeStatusOpen {
		return domain.Trade{}, fmt.Errorf("trade_service: close %s in status %s: %w", id, t.Status, domain.ErrInvalidState)
	}

	var exit float64
	if price != nil {
		exit = *price
	} else {
		exit, err = s.market.GetPrice(ctx, t.Symbol)
		if err != nil {
			return domain.Trade{}, fmt.Errorf("trade_service: close %s: exit price: %w", id, err)
		}
		if exit <= 0 {
			return domain.Trade{}, fmt.Errorf("trade_service: close %s: exit price %v: %w", id, exit, domain.ErrValidation)
		}
	}

	profit := t.ProfitAt(exit)
	now := s.now()
	t.Status = domain.TradeStatusClosed
	t.ExitPrice = &exit
	t.Profit = &profit
	t.ClosedAt = &now
	if t.Metadata == nil {
		t.Metadata = make(map[string]any)
	}
	if reason != domain.CloseReasonNone {
		t.Metadata["close_reason"] = string(reason)
	}

	updated, err := s.trades.Update(ctx, t)
	if err != nil {
		return domain.Trade{}, fmt.Errorf("trade_service: close %s: persist: %w", id, err)
	}

	if relErr := s.ledger.Release(t.StrategyID, t.ReservedCost, profit); relErr != nil {
		s.logger.WarnContext(ctx, "trade_service: release on close failed",
			slog.String("trade_id", id),
			slog.String("strategy_id", t.StrategyID),
			slog.String("error", relErr.Error()),
		)
	}

	s.afterMutation(ctx, "trade_closed", updated)
	return updated, nil
}

// Delete removes a pending trade, releasing its reservation, or a closed
// trade. Open trades must be closed first.
func (s *TradeService) Delete(ctx context.Context, id string) error {
	release, err := s.guard(ctx, id)
	if err != nil {
		return fmt.Errorf("trade_service: delete: %w", err)
	}
	defer release()

	t, err := s.trades.Get(ctx, id)
	if err != nil {
		return fmt.Errorf("trade_service: delete %s: %w", id, err)
	}
	if t.Status == domain.TradeStatusOpen {
		return fmt.Errorf("trade_service: delete %s while open: %w", id, domain.ErrInvalidState)
	}

	if err := s.trades.Delete(ctx, id); err != nil {
		return fmt.Errorf("trade_service: delete %s: %w", id, err)
	}

	if t.Status == domain.TradeStatusPending {
		if relErr := s.ledger.Release(t.StrategyID, t.ReservedCost, 0); relErr != nil && !errors.Is(relErr, domain.ErrNotFound) {
			s.logger.WarnContext(ctx, "trade_service: release on delete failed",
				slog.String("trade_id", id),
				slog.String("error", relErr.Error()),
			)
		}
	}

	s.afterMutation(ctx, "trade_deleted", t)
	return nil
}

// Get returns a single trade.
func (s *TradeService) Get(ctx context.Context, id string) (domain.Trade, error) {
	t, err := s.trades.Get(ctx, id)
	if err != nil {
		return domain.Trade{}, fmt.Errorf("trade_service: get %s: %w", id, err)
	}
	return t, nil
}

// List returns trades matching filter.
func (s *TradeService) List(ctx context.Context, filter domain.TradeFilter) ([]domain.Trade, error) {
	trades, err := s.trades.List(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("trade_service: list: %w", err)
	}
	return trades, nil
}

// ListActive returns the pending and open trades, optionally for one strategy.
func (s *TradeService) ListActive(ctx context.Context, strategyID string) ([]domain.Trade, error) {
	return s.List(ctx, domain.TradeFilter{
		StrategyID: strategyID,
		Statuses:   domain.ActiveTradeStatuses,
	})
}

// guard serialises transitions on one trade id within the process and, when
// a LockManager is wired, across processes.
func (s *TradeService) guard(ctx context.Context, id string) (func(), error) {
	s.mu.Lock()
	if _, busy := s.inflight[id]; busy {
		s.mu.Unlock()
		return nil, fmt.Errorf("trade %s transition in progress: %w", id, domain.ErrLockHeld)
	}
	s.inflight[id] = struct{}{}
	s.mu.Unlock()

	done := func() {
		s.mu.Lock()
		delete(s.inflight, id)
		s.mu.Unlock()
	}

	if s.locks == nil {
		return done, nil
	}
	unlock, err := s.locks.Acquire(ctx, "trade:"+id, tradeLockTTL)
	if err != nil {
		done()
		return nil, fmt.Errorf("trade %s: %w", id, err)
	}
	return func() {
		unlock()
		done()
	}, nil
}

// afterMutation publishes the trade event, writes the audit row and sends
// notifications. Failures are logged and never fail the mutation.
func (s *TradeService) afterMutation(ctx context.Context, event string, t domain.Trade) {
	payload := map[string]any{
		"event":       event,
		"trade_id":    t.ID,
		"strategy_id": t.StrategyID,
		"symbol":      t.Symbol,
		"side":        t.Side,
		"status":      t.Status,
		"amount":      t.Amount,
		"timestamp":   s.now().Format(time.RFC3339),
	}
	if t.EntryPrice != nil {
		payload["entry_price"] = *t.EntryPrice
	}
	if t.ExitPrice != nil {
		payload["exit_price"] = *t.ExitPrice
	}
	if t.Profit != nil {
		payload["profit"] = *t.Profit
	}

	evt, _ := json.Marshal(payload)
	if err := s.bus.Publish(ctx, domain.ChannelTrades, evt); err != nil {
		s.logger.WarnContext(ctx, "trade_service: publish event failed",
			slog.String("trade_id", t.ID),
			slog.String("error", err.Error()),
		)
	}
	if err := s.bus.StreamAppend(ctx, domain.StreamTradeEvents, evt); err != nil {
		s.logger.WarnContext(ctx, "trade_service: stream append failed",
			slog.String("trade_id", t.ID),
			slog.String("error", err.Error()),
		)
	}

	if err := s.audit.Log(ctx, "trade."+strings.TrimPrefix(event, "trade_"), payload); err != nil {
		s.logger.WarnContext(ctx, "trade_service: audit log failed",
			slog.String("trade_id", t.ID),
			slog.String("error", err.Error()),
		)
	}

	switch event {
	case "trade_opened":
		msg := fmt.Sprintf("%s %s %g @ %g", strings.ToUpper(string(t.Side)), t.Symbol, t.Amount, derefOr(t.EntryPrice, 0))
		if err := s.notifier.Notify(ctx, notify.EventTradeOpened, "Trade opened", msg); err != nil {
			s.logger.WarnContext(ctx, "trade_service: notify failed", slog.String("error", err.Error()))
		}
	case "trade_closed":
		msg := fmt.Sprintf("%s %s closed @ %g, profit %.2f", strings.ToUpper(string(t.Side)), t.Symbol,
			derefOr(t.ExitPrice, 0), derefOr(t.Profit, 0))
		if err := s.notifier.Notify(ctx, notify.EventTradeClosed, "Trade closed", msg); err != nil {
			s.logger.WarnContext(ctx, "trade_service: notify failed", slog.String("error", err.Error()))
		}
	}

	s.logger.InfoContext(ctx, "trade_service: "+strings.ReplaceAll(event, "_", " "),
		slog.String("trade_id", t.ID),
		slog.String("strategy_id", t.StrategyID),
		slog.String("symbol", t.Symbol),
		slog.String("status", string(t.Status)),
	)
}

func derefOr(p *float64, def float64) float64 {
	if p == nil {
		return def
	}
	return *p
}
