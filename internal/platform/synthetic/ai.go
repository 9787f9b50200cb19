package synthetic

import (
	"context"

	"github.com/alanyoungcy/stratbot/internal/domain"
)

// SourceName tags signals produced by this package.
const SourceName = "synthetic"

// AI implements domain.SignalProvider and domain.StrategyAdvisor without an
// external model.
type AI struct {
	rnd *source
}

// NewAI creates an AI. A zero seed uses the clock.
func NewAI(seed uint64) *AI {
	return &AI{rnd: newSource(seed)}
}

// GenerateSignals proposes 1 to 3 trades on the strategy's symbols, each
// sized at 1-10% of the available budget with a 1-3% stop and 2-6% target.
func (a *AI) GenerateSignals(_ context.Context, req domain.SignalRequest) ([]domain.Signal, error) {
	symbols := req.Strategy.Symbols
	if len(symbols) == 0 || req.AvailableBudget <= 0 {
		return []domain.Signal{}, nil
	}

	n := a.rnd.intn(3) + 1
	out := make([]domain.Signal, 0, n)
	for i := 0; i < n; i++ {
		symbol := symbols[a.rnd.intn(len(symbols))]

		side := domain.TradeSideBuy
		if a.rnd.float() > 0.5 {
			side = domain.TradeSideSell
		}
		dir := 1.0
		if side == domain.TradeSideSell {
			dir = -1.0
		}

		ref := BasePrice(symbol)
		if ss, ok := req.Snapshot[symbol]; ok && ss.Price > 0 {
			ref = ss.Price
		}
		price := ref * (1 + a.rnd.between(-0.01, 0.01))
		amount := req.AvailableBudget * a.rnd.between(0.01, 0.10) / price
		stop := price * (1 - dir*a.rnd.between(0.01, 0.03))
		target := price * (1 + dir*a.rnd.between(0.02, 0.06))
		confidence := a.rnd.between(0.5, 1.0)

		out = append(out, domain.Signal{
			Symbol:        symbol,
			Side:          side,
			Amount:        amount,
			Price:         price,
			StopLoss:      &stop,
			TakeProfit:    &target,
			Confidence:    &confidence,
			ConditionsMet: []string{"price_action", "volume", "trend"},
			Source:        SourceName,
		})
	}
	return out, nil
}

// AdaptStrategy perturbs the trade parameters: position size and take profit
// by up to 20%, stop loss by up to 10%.
func (a *AI) AdaptStrategy(_ context.Context, st domain.Strategy, _ domain.MarketSnapshot) (domain.StrategyConfig, error) {
	cfg := st.Config
	tp := &cfg.TradeParameters
	if tp.PositionSize > 0 {
		tp.PositionSize *= 1 + a.rnd.between(-0.2, 0.2)
	}
	if tp.StopLoss > 0 {
		tp.StopLoss *= 1 + a.rnd.between(-0.1, 0.1)
	}
	if tp.TakeProfit > 0 {
		tp.TakeProfit *= 1 + a.rnd.between(-0.2, 0.2)
	}
	return cfg, nil
}
