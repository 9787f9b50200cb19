package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/alanyoungcy/stratbot/internal/domain"
)

// StrategyRuntime runs active strategies. The background coordinator
// implements it.
type StrategyRuntime interface {
	AddStrategy(ctx context.Context, s domain.Strategy) error
	RemoveStrategy(ctx context.Context, id string) error
}

// StrategyService manages strategy records and their activation.
//
// When no runtime is attached (API-only instance) activation commands are
// published on the strategy_control channel for a headless worker instead.
type StrategyService struct {
	strategies domain.StrategyStore
	bus        domain.SignalBus
	audit      domain.AuditStore
	advisor    domain.StrategyAdvisor // optional
	market     *MarketService         // optional, needed by Adapt
	runtime    StrategyRuntime
	timeframe  string
	candles    int
	logger     *slog.Logger
}

// NewStrategyService creates a StrategyService. advisor and market may be nil.
func NewStrategyService(
	strategies domain.StrategyStore,
	bus domain.SignalBus,
	audit domain.AuditStore,
	advisor domain.StrategyAdvisor,
	market *MarketService,
	timeframe string,
	candleLimit int,
	logger *slog.Logger,
) *StrategyService {
	return &StrategyService{
		strategies: strategies,
		bus:        bus,
		audit:      audit,
		advisor:    advisor,
		market:     market,
		timeframe:  timeframe,
		candles:    candleLimit,
		logger:     logger.With(slog.String("component", "strategy_service")),
	}
}

// SetRuntime attaches the runtime that runs activated strategies.
func (s *StrategyService) SetRuntime(rt StrategyRuntime) {
	s.runtime = rt
}

// NormalizeSymbols trims and upper-cases symbols, dropping blanks and
// duplicates while keeping order.
func NormalizeSymbols(symbols []string) []string {
	seen := make(map[string]bool, len(symbols))
	out := make([]string, 0, len(symbols))
	for _, sym := range symbols {
		sym = strings.ToUpper(strings.TrimSpace(sym))
		if sym == "" || seen[sym] {
			continue
		}
		seen[sym] = true
		out = append(out, sym)
	}
	return out
}

func validateStrategy(st domain.Strategy) error {
	var problems []string
	if strings.TrimSpace(st.Name) == "" {
		problems = append(problems, "name is required")
	}
	if len(st.Symbols) == 0 {
		problems = append(problems, "at least one symbol is required")
	}
	if st.Budget <= 0 {
		problems = append(problems, "budget must be positive")
	}
	switch st.MarketType {
	case domain.MarketTypeSpot, domain.MarketTypeFutures:
	default:
		problems = append(problems, fmt.Sprintf("market_type %q must be spot or futures", st.MarketType))
	}
	tp := st.Config.TradeParameters
	if tp.PositionSize < 0 || tp.StopLoss < 0 || tp.TakeProfit < 0 || tp.TrailingStop < 0 || tp.MaxOpenPositions < 0 {
		problems = append(problems, "trade parameters must not be negative")
	}
	if len(problems) > 0 {
		return fmt.Errorf("%s: %w", strings.Join(problems, "; "), domain.ErrValidation)
	}
	return nil
}

// Create validates and stores a new, inactive strategy.
func (s *StrategyService) Create(ctx context.Context, st domain.Strategy) (domain.Strategy, error) {
	st.Symbols = NormalizeSymbols(st.Symbols)
	if st.MarketType == "" {
		st.MarketType = domain.MarketTypeSpot
	}
	if err := validateStrategy(st); err != nil {
		return domain.Strategy{}, fmt.Errorf("strategy_service: create: %w", err)
	}
	st.Status = domain.StrategyStatusInactive

	created, err := s.strategies.Create(ctx, st)
	if err != nil {
		return domain.Strategy{}, fmt.Errorf("strategy_service: create: %w", err)
	}
	s.publish(ctx, "strategy_created", created)
	return created, nil
}

// Get returns one strategy.
func (s *StrategyService) Get(ctx context.Context, id string) (domain.Strategy, error) {
	st, err := s.strategies.Get(ctx, id)
	if err != nil {
		return domain.Strategy{}, fmt.Errorf("strategy_service: get %s: %w", id, err)
	}
	return st, nil
}

// List returns strategies matching filter.
func (s *StrategyService) List(ctx context.Context, filter domain.StrategyFilter) ([]domain.Strategy, error) {
	out, err := s.strategies.List(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("strategy_service: list: %w", err)
	}
	return out, nil
}

// Update replaces the editable fields of a strategy. Status is only changed
// through Activate and Deactivate. A running strategy picks up the change.
func (s *StrategyService) Update(ctx context.Context, st domain.Strategy) (domain.Strategy, error) {
	current, err := s.strategies.Get(ctx, st.ID)
	if err != nil {
		return domain.Strategy{}, fmt.Errorf("strategy_service: update %s: %w", st.ID, err)
	}

	st.Symbols = NormalizeSymbols(st.Symbols)
	if st.MarketType == "" {
		st.MarketType = current.MarketType
	}
	st.Status = current.Status
	st.UserID = current.UserID
	st.LastAdaptedAt = current.LastAdaptedAt
	if err := validateStrategy(st); err != nil {
		return domain.Strategy{}, fmt.Errorf("strategy_service: update: %w", err)
	}

	updated, err := s.strategies.Update(ctx, st)
	if err != nil {
		return domain.Strategy{}, fmt.Errorf("strategy_service: update %s: %w", st.ID, err)
	}
	if updated.IsActive() && s.runtime != nil {
		if err := s.runtime.AddStrategy(ctx, updated); err != nil {
			s.logger.WarnContext(ctx, "strategy_service: refresh running strategy failed",
				slog.String("strategy_id", updated.ID),
				slog.String("error", err.Error()),
			)
		}
	}
	s.publish(ctx, "strategy_updated", updated)
	return updated, nil
}

// Delete deactivates and removes a strategy.
func (s *StrategyService) Delete(ctx context.Context, id string) error {
	st, err := s.strategies.Get(ctx, id)
	if err != nil {
		return fmt.Errorf("strategy_service: delete %s: %w", id, err)
	}
	if st.IsActive() {
		if _, err := s.Deactivate(ctx, id); err != nil {
			return fmt.Errorf("strategy_service: delete %s: %w", id, err)
		}
	}
	if err := s.strategies.Delete(ctx, id); err != nil {
		return fmt.Errorf("strategy_service: delete %s: %w", id, err)
	}
	s.publish(ctx, "strategy_deleted", st)
	return nil
}

// Activate marks a strategy active and hands it to the runtime.
func (s *StrategyService) Activate(ctx context.Context, id string) (domain.Strategy, error) {
	st, err := s.strategies.Get(ctx, id)
	if err != nil {
		return domain.Strategy{}, fmt.Errorf("strategy_service: activate %s: %w", id, err)
	}
	st.Status = domain.StrategyStatusActive

	if s.runtime != nil {
		if err := s.runtime.AddStrategy(ctx, st); err != nil {
			return domain.Strategy{}, fmt.Errorf("strategy_service: activate %s: %w", id, err)
		}
	}

	updated, err := s.strategies.Update(ctx, st)
	if err != nil {
		if s.runtime != nil {
			_ = s.runtime.RemoveStrategy(ctx, id)
		}
		return domain.Strategy{}, fmt.Errorf("strategy_service: activate %s: persist: %w", id, err)
	}

	if s.runtime == nil {
		s.control(ctx, "activate", id)
	}
	s.publish(ctx, "strategy_activated", updated)
	return updated, nil
}

// Deactivate stops a strategy and marks it inactive.
func (s *StrategyService) Deactivate(ctx context.Context, id string) (domain.Strategy, error) {
	st, err := s.strategies.Get(ctx, id)
	if err != nil {
		return domain.Strategy{}, fmt.Errorf("strategy_service: deactivate %s: %w", id, err)
	}

	if s.runtime != nil {
		if err := s.runtime.RemoveStrategy(ctx, id); err != nil {
			return domain.Strategy{}, fmt.Errorf("strategy_service: deactivate %s: %w", id, err)
		}
	} else {
		s.control(ctx, "deactivate", id)
	}

	st.Status = domain.StrategyStatusInactive
	updated, err := s.strategies.Update(ctx, st)
	if err != nil {
		return domain.Strategy{}, fmt.Errorf("strategy_service: deactivate %s: persist: %w", id, err)
	}
	s.publish(ctx, "strategy_deactivated", updated)
	return updated, nil
}

// Adapt asks the advisor for a new configuration based on current market data
// and stores it.
func (s *StrategyService) Adapt(ctx context.Context, id string) (domain.Strategy, error) {
	st, err := s.strategies.Get(ctx, id)
	if err != nil {
		return domain.Strategy{}, fmt.Errorf("strategy_service: adapt %s: %w", id, err)
	}
	if s.market == nil {
		return domain.Strategy{}, errors.New("strategy_service: adapt: no market data provider")
	}
	snap, err := s.market.Snapshot(ctx, st.Symbols, s.timeframe, s.candles)
	if err != nil {
		return domain.Strategy{}, fmt.Errorf("strategy_service: adapt %s: %w", id, err)
	}
	return s.AdaptWithSnapshot(ctx, st, snap)
}

// AdaptWithSnapshot adapts st using an already collected market snapshot.
func (s *StrategyService) AdaptWithSnapshot(ctx context.Context, st domain.Strategy, snap domain.MarketSnapshot) (domain.Strategy, error) {
	if s.advisor == nil {
		return domain.Strategy{}, errors.New("strategy_service: adapt: no strategy advisor configured")
	}
	cfg, err := s.advisor.AdaptStrategy(ctx, st, snap)
	if err != nil {
		return domain.Strategy{}, fmt.Errorf("strategy_service: adapt %s: %w", st.ID, err)
	}

	now := time.Now().UTC()
	st.Config = mergeConfig(st.Config, cfg)
	st.LastAdaptedAt = &now

	updated, err := s.strategies.Update(ctx, st)
	if err != nil {
		return domain.Strategy{}, fmt.Errorf("strategy_service: adapt %s: persist: %w", st.ID, err)
	}
	if updated.IsActive() && s.runtime != nil {
		if err := s.runtime.AddStrategy(ctx, updated); err != nil {
			s.logger.WarnContext(ctx, "strategy_service: refresh adapted strategy failed",
				slog.String("strategy_id", updated.ID),
				slog.String("error", err.Error()),
			)
		}
	}
	s.publish(ctx, "strategy_adapted", updated)
	return updated, nil
}

// mergeConfig overlays the non-empty parts of next onto current.
func mergeConfig(current, next domain.StrategyConfig) domain.StrategyConfig {
	if next.IndicatorType != "" {
		current.IndicatorType = next.IndicatorType
	}
	if len(next.EntryConditions) > 0 {
		current.EntryConditions = next.EntryConditions
	}
	if len(next.ExitConditions) > 0 {
		current.ExitConditions = next.ExitConditions
	}
	if next.TradeParameters != (domain.TradeParameters{}) {
		current.TradeParameters = next.TradeParameters
	}
	if len(next.Extra) > 0 {
		current.Extra = next.Extra
	}
	return current
}

func (s *StrategyService) control(ctx context.Context, action, id string) {
	payload, _ := json.Marshal(domain.StrategyControl{Action: action, StrategyID: id})
	if err := s.bus.Publish(ctx, domain.ChannelStrategyControl, payload); err != nil {
		s.logger.WarnContext(ctx, "strategy_service: publish control failed",
			slog.String("strategy_id", id),
			slog.String("action", action),
			slog.String("error", err.Error()),
		)
	}
}

func (s *StrategyService) publish(ctx context.Context, event string, st domain.Strategy) {
	detail := map[string]any{
		"event":       event,
		"strategy_id": st.ID,
		"name":        st.Name,
		"status":      st.Status,
		"symbols":     st.Symbols,
		"timestamp":   time.Now().UTC().Format(time.RFC3339),
	}
	evt, _ := json.Marshal(detail)
	if err := s.bus.Publish(ctx, domain.ChannelStrategies, evt); err != nil {
		s.logger.WarnContext(ctx, "strategy_service: publish event failed",
			slog.String("strategy_id", st.ID),
			slog.String("error", err.Error()),
		)
	}
	if err := s.audit.Log(ctx, "strategy."+strings.TrimPrefix(event, "strategy_"), detail); err != nil {
		s.logger.WarnContext(ctx, "strategy_service: audit log failed",
			slog.String("strategy_id", st.ID),
			slog.String("error", err.Error()),
		)
	}
	s.logger.InfoContext(ctx, "strategy_service: "+strings.ReplaceAll(event, "_", " "),
		slog.String("strategy_id", st.ID),
		slog.String("status", string(st.Status)),
	)
}
