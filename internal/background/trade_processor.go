package background

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/alanyoungcy/stratbot/internal/domain"
	"github.com/alanyoungcy/stratbot/internal/service"
)

// TradeProcessorConfig tunes trade generation.
type TradeProcessorConfig struct {
	MinTradeBudget float64
	Timeframe      string
	CandleLimit    int
}

type indexedTrade struct {
	trade domain.Trade
	best  float64 // most favourable price seen while open
}

// TradeProcessor turns AI signals into trades and closes open trades when
// their stop loss, take profit or trailing stop fires. It keeps an index of
// the active (pending and open) trades.
type TradeProcessor struct {
	trades  *service.TradeService
	ledger  *service.BudgetLedger
	market  *service.MarketService
	signals domain.SignalProvider
	cfg     TradeProcessorConfig
	logger  *slog.Logger

	// ShouldExecuteImmediately decides whether a freshly created trade is
	// executed right away. It defaults to always.
	ShouldExecuteImmediately func(t domain.Trade, sig domain.Signal) bool

	mu     sync.RWMutex
	active map[string]*indexedTrade

	runMu   sync.Mutex
	running bool
	wg      sync.WaitGroup
}

// NewTradeProcessor creates a TradeProcessor.
func NewTradeProcessor(
	trades *service.TradeService,
	market *service.MarketService,
	signals domain.SignalProvider,
	cfg TradeProcessorConfig,
	logger *slog.Logger,
) *TradeProcessor {
	if cfg.MinTradeBudget <= 0 {
		cfg.MinTradeBudget = 10
	}
	return &TradeProcessor{
		trades:                   trades,
		ledger:                   trades.Ledger(),
		market:                   market,
		signals:                  signals,
		cfg:                      cfg,
		logger:                   logger.With(slog.String("component", "trade_processor")),
		ShouldExecuteImmediately: func(domain.Trade, domain.Signal) bool { return true },
		active:                   make(map[string]*indexedTrade),
	}
}

// Start reloads the active trade index from the store.
func (p *TradeProcessor) Start(ctx context.Context) error {
	if err := p.Sync(ctx); err != nil {
		return fmt.Errorf("trade_processor: start: %w", err)
	}
	p.runMu.Lock()
	p.running = true
	p.runMu.Unlock()

	p.logger.InfoContext(ctx, "trade processor started", slog.Int("active_trades", p.ActiveCount()))
	return nil
}

// Stop rejects new passes and waits for in-flight ones.
func (p *TradeProcessor) Stop() {
	p.runMu.Lock()
	p.running = false
	p.runMu.Unlock()
	p.wg.Wait()
	p.logger.Info("trade processor stopped")
}

func (p *TradeProcessor) enter() bool {
	p.runMu.Lock()
	defer p.runMu.Unlock()
	if !p.running {
		return false
	}
	p.wg.Add(1)
	return true
}

// Sync reloads the index from the store, keeping tracked best prices.
func (p *TradeProcessor) Sync(ctx context.Context) error {
	trades, err := p.trades.ListActive(ctx, "")
	if err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	next := make(map[string]*indexedTrade, len(trades))
	for _, t := range trades {
		entry := &indexedTrade{trade: t}
		if prev, ok := p.active[t.ID]; ok {
			entry.best = prev.best
		}
		next[t.ID] = entry
	}
	p.active = next
	return nil
}

// ActiveCount returns the number of indexed trades.
func (p *TradeProcessor) ActiveCount() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.active)
}

// ActiveTrades returns the indexed trades of a strategy, or all when
// strategyID is empty.
func (p *TradeProcessor) ActiveTrades(strategyID string) []domain.Trade {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]domain.Trade, 0, len(p.active))
	for _, e := range p.active {
		if strategyID == "" || e.trade.StrategyID == strategyID {
			out = append(out, e.trade)
		}
	}
	return out
}

func (p *TradeProcessor) index(t domain.Trade) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if e, ok := p.active[t.ID]; ok {
		e.trade = t
		return
	}
	p.active[t.ID] = &indexedTrade{trade: t}
}

func (p *TradeProcessor) unindex(id string) {
	p.mu.Lock()
	delete(p.active, id)
	p.mu.Unlock()
}

// InitializeStrategy seeds the budget ledger for a strategy. Capital already
// tied up in indexed trades counts as allocated.
func (p *TradeProcessor) InitializeStrategy(st domain.Strategy) error {
	var allocated float64
	for _, t := range p.ActiveTrades(st.ID) {
		allocated += t.ReservedCost
	}
	if allocated > st.Budget {
		allocated = st.Budget
	}
	created, err := p.ledger.Initialize(st.ID, st.Budget, allocated)
	if err != nil {
		return fmt.Errorf("trade_processor: initialize %s: %w", st.ID, err)
	}
	if created {
		p.logger.Info("strategy budget initialized",
			slog.String("strategy_id", st.ID),
			slog.Float64("budget", st.Budget),
			slog.Float64("allocated", allocated),
		)
	}
	return nil
}

// CleanupStrategy force-closes the strategy's open trades, deletes its
// pending ones and drops its ledger entry. Individual failures are logged.
func (p *TradeProcessor) CleanupStrategy(ctx context.Context, strategyID string) error {
	trades, err := p.trades.ListActive(ctx, strategyID)
	if err != nil {
		p.logger.WarnContext(ctx, "cleanup: list active trades failed, using index",
			slog.String("strategy_id", strategyID),
			slog.String("error", err.Error()),
		)
		trades = p.ActiveTrades(strategyID)
	}

	var closed, deleted, failed int
	for _, t := range trades {
		switch t.Status {
		case domain.TradeStatusOpen:
			price, perr := p.market.Price(ctx, t.Symbol)
			if perr != nil || price <= 0 {
				if t.EntryPrice == nil {
					failed++
					continue
				}
				price = *t.EntryPrice
			}
			if _, err := p.trades.CloseAt(ctx, t.ID, price, domain.CloseReasonCleanup); err != nil {
				p.logger.WarnContext(ctx, "cleanup: close trade failed",
					slog.String("trade_id", t.ID),
					slog.String("error", err.Error()),
				)
				failed++
				continue
			}
			closed++
		case domain.TradeStatusPending:
			if err := p.trades.Delete(ctx, t.ID); err != nil {
				p.logger.WarnContext(ctx, "cleanup: delete trade failed",
					slog.String("trade_id", t.ID),
					slog.String("error", err.Error()),
				)
				failed++
				continue
			}
			deleted++
		}
		p.unindex(t.ID)
	}

	p.ledger.Remove(strategyID)
	p.logger.InfoContext(ctx, "strategy cleaned up",
		slog.String("strategy_id", strategyID),
		slog.Int("closed", closed),
		slog.Int("deleted", deleted),
		slog.Int("failed", failed),
	)
	return nil
}

// GenerateTradesForStrategy asks the signal provider for trades and creates
// those the budget can cover. It returns the number of trades created.
func (p *TradeProcessor) GenerateTradesForStrategy(ctx context.Context, st domain.Strategy) (int, error) {
	if !p.enter() {
		return 0, nil
	}
	defer p.wg.Done()

	if !st.IsActive() {
		return 0, nil
	}

	available, err := p.ledger.Available(st.ID)
	if err != nil {
		return 0, fmt.Errorf("trade_processor: generate %s: %w", st.ID, err)
	}
	if available < p.cfg.MinTradeBudget {
		p.logger.DebugContext(ctx, "available budget below floor, skipping generation",
			slog.String("strategy_id", st.ID),
			slog.Float64("available", available),
		)
		return 0, nil
	}

	maxOpen := st.Config.TradeParameters.MaxOpenPositions
	if maxOpen > 0 && len(p.ActiveTrades(st.ID)) >= maxOpen {
		p.logger.DebugContext(ctx, "max open positions reached",
			slog.String("strategy_id", st.ID),
			slog.Int("max_open_positions", maxOpen),
		)
		return 0, nil
	}

	snap, err := p.market.Snapshot(ctx, st.Symbols, p.cfg.Timeframe, p.cfg.CandleLimit)
	if err != nil {
		return 0, fmt.Errorf("trade_processor: generate %s: %w", st.ID, err)
	}

	signals, err := p.signals.GenerateSignals(ctx, domain.SignalRequest{
		Strategy:        st,
		Snapshot:        snap,
		AvailableBudget: available,
	})
	if err != nil {
		return 0, fmt.Errorf("trade_processor: generate %s: signals: %w", st.ID, err)
	}
	if len(signals) == 0 {
		return 0, nil
	}

	created := 0
	for _, sig := range signals {
		if maxOpen > 0 && len(p.ActiveTrades(st.ID)) >= maxOpen {
			break
		}
		ok, err := p.processSignal(ctx, st, snap, sig)
		if err != nil {
			p.logger.WarnContext(ctx, "signal rejected",
				slog.String("strategy_id", st.ID),
				slog.String("symbol", sig.Symbol),
				slog.String("error", err.Error()),
			)
			continue
		}
		if ok {
			created++
		}
	}

	p.logger.InfoContext(ctx, "trade generation completed",
		slog.String("strategy_id", st.ID),
		slog.Int("signals", len(signals)),
		slog.Int("created", created),
	)
	return created, nil
}

// processSignal creates, and possibly executes, the trade for one signal. It
// reports false when the signal was skipped for lack of budget.
func (p *TradeProcessor) processSignal(ctx context.Context, st domain.Strategy, snap domain.MarketSnapshot, sig domain.Signal) (bool, error) {
	sig.Symbol = strings.ToUpper(strings.TrimSpace(sig.Symbol))
	if sig.Price <= 0 {
		if ss, ok := snap[sig.Symbol]; ok {
			sig.Price = ss.Price
		}
	}
	if !sig.Side.Valid() || sig.Amount <= 0 || sig.Price <= 0 {
		return false, fmt.Errorf("signal %s %s amount=%v price=%v: %w", sig.Side, sig.Symbol, sig.Amount, sig.Price, domain.ErrValidation)
	}

	available, err := p.ledger.Available(st.ID)
	if err != nil {
		return false, err
	}
	if cost := sig.Cost(); cost > available {
		p.logger.WarnContext(ctx, "signal exceeds available budget, skipping",
			slog.String("strategy_id", st.ID),
			slog.String("symbol", sig.Symbol),
			slog.Float64("cost", cost),
			slog.Float64("available", available),
		)
		return false, nil
	}

	t := tradeFromSignal(st, sig)
	created, err := p.trades.Create(ctx, t)
	if err != nil {
		if errors.Is(err, domain.ErrInsufficientBudget) {
			return false, nil
		}
		return false, err
	}
	p.index(created)

	// the strategy was removed or the processor stopped while the trade was
	// being created: leave it pending for cleanup instead of opening it
	if ctx.Err() != nil {
		return true, nil
	}
	if p.ShouldExecuteImmediately == nil || !p.ShouldExecuteImmediately(created, sig) {
		return true, nil
	}
	opened, err := p.trades.Execute(ctx, created.ID)
	if err != nil {
		p.logger.WarnContext(ctx, "execute generated trade failed",
			slog.String("trade_id", created.ID),
			slog.String("error", err.Error()),
		)
		return true, nil
	}
	p.index(opened)
	return true, nil
}

// tradeFromSignal builds a pending trade. Stop levels missing on the signal
// are derived from the strategy's fractional trade parameters.
func tradeFromSignal(st domain.Strategy, sig domain.Signal) domain.Trade {
	price := sig.Price
	tp := st.Config.TradeParameters
	t := domain.Trade{
		StrategyID:   st.ID,
		UserID:       st.UserID,
		Symbol:       sig.Symbol,
		Side:         sig.Side,
		MarketType:   st.MarketType,
		Amount:       sig.Amount,
		EntryPrice:   &price,
		StopLoss:     sig.StopLoss,
		TakeProfit:   sig.TakeProfit,
		TrailingStop: sig.TrailingStop,
		Leverage:     sig.Leverage,
		Metadata: map[string]any{
			"generated": true,
			"source":    sig.Source,
		},
	}

	dir := 1.0
	if sig.Side == domain.TradeSideSell {
		dir = -1.0
	}
	if t.StopLoss == nil && tp.StopLoss > 0 {
		v := price * (1 - dir*tp.StopLoss)
		t.StopLoss = &v
	}
	if t.TakeProfit == nil && tp.TakeProfit > 0 {
		v := price * (1 + dir*tp.TakeProfit)
		t.TakeProfit = &v
	}
	if t.TrailingStop == nil && tp.TrailingStop > 0 {
		v := tp.TrailingStop
		t.TrailingStop = &v
	}

	if sig.Confidence != nil {
		t.Metadata["confidence"] = *sig.Confidence
	}
	if len(sig.ConditionsMet) > 0 {
		t.Metadata["conditions_met"] = sig.ConditionsMet
	}
	for k, v := range sig.Extra {
		if _, taken := t.Metadata[k]; !taken {
			t.Metadata[k] = v
		}
	}
	return t
}

// MonitorOpenTrades checks every open trade against its exit conditions at
// the latest price and closes those that fired. It returns the number of
// trades closed.
func (p *TradeProcessor) MonitorOpenTrades(ctx context.Context) (int, error) {
	if !p.enter() {
		return 0, nil
	}
	defer p.wg.Done()

	if err := p.Sync(ctx); err != nil {
		p.logger.WarnContext(ctx, "reload active trades failed, using cached index",
			slog.String("error", err.Error()),
		)
	}

	p.mu.RLock()
	open := make([]indexedTrade, 0, len(p.active))
	for _, e := range p.active {
		if e.trade.Status == domain.TradeStatusOpen {
			open = append(open, *e)
		}
	}
	p.mu.RUnlock()

	closed := 0
	for _, e := range open {
		if ctx.Err() != nil {
			break
		}
		ok, err := p.checkTrade(ctx, e)
		if err != nil {
			p.logger.WarnContext(ctx, "check trade conditions failed",
				slog.String("trade_id", e.trade.ID),
				slog.String("error", err.Error()),
			)
			continue
		}
		if ok {
			closed++
		}
	}
	return closed, nil
}

func (p *TradeProcessor) checkTrade(ctx context.Context, e indexedTrade) (bool, error) {
	t := e.trade
	price, err := p.market.Price(ctx, t.Symbol)
	if err != nil {
		return false, err
	}

	best := e.best
	switch {
	case best <= 0:
		best = price
		if t.EntryPrice != nil {
			best = betterPrice(t.Side, *t.EntryPrice, price)
		}
	default:
		best = betterPrice(t.Side, best, price)
	}

	reason := t.CloseCondition(price, best)
	if reason == domain.CloseReasonNone {
		p.mu.Lock()
		if cur, ok := p.active[t.ID]; ok {
			cur.best = best
		}
		p.mu.Unlock()
		return false, nil
	}

	if _, err := p.trades.CloseAt(ctx, t.ID, price, reason); err != nil {
		if errors.Is(err, domain.ErrInvalidState) || errors.Is(err, domain.ErrNotFound) {
			p.unindex(t.ID)
			return false, nil
		}
		return false, err
	}
	p.unindex(t.ID)
	p.logger.InfoContext(ctx, "trade closed by exit condition",
		slog.String("trade_id", t.ID),
		slog.String("reason", string(reason)),
		slog.Float64("price", price),
	)
	return true, nil
}

func betterPrice(side domain.TradeSide, a, b float64) float64 {
	if side == domain.TradeSideSell {
		if a < b {
			return a
		}
		return b
	}
	if a > b {
		return a
	}
	return b
}
