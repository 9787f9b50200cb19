package background

import (
	"math"
	"sort"
	"time"

	"github.com/alanyoungcy/stratbot/internal/domain"
	"github.com/alanyoungcy/stratbot/internal/service"
)

// z-score of the one-sided 95% normal quantile.
const z95 = 1.645

// Volatility bands on close-to-close returns of the evaluation timeframe.
const (
	lowVolatility  = 0.01
	highVolatility = 0.03
)

// performanceMetrics summarises closed trades in close order. Returns are
// per trade relative to the capital reserved for it; the drawdown is taken on
// the equity curve starting at budget.
func performanceMetrics(trades []domain.Trade, budget float64) domain.PerformanceMetrics {
	closed := make([]domain.Trade, 0, len(trades))
	for _, t := range trades {
		if t.Status == domain.TradeStatusClosed && t.Profit != nil {
			closed = append(closed, t)
		}
	}
	sort.SliceStable(closed, func(i, j int) bool {
		return closedAt(closed[i]).Before(closedAt(closed[j]))
	})

	var m domain.PerformanceMetrics
	m.TotalTrades = len(closed)
	if len(closed) == 0 {
		return m
	}

	returns := make([]float64, 0, len(closed))
	equity, peak := budget, budget
	for _, t := range closed {
		p := *t.Profit
		m.ProfitLoss += p
		switch {
		case p > 0:
			m.WinningTrades++
		case p < 0:
			m.LosingTrades++
		}
		if t.ReservedCost > 0 {
			returns = append(returns, p/t.ReservedCost)
		}

		equity += p
		if equity > peak {
			peak = equity
		}
		if peak > 0 {
			if dd := (peak - equity) / peak; dd > m.MaxDrawdown {
				m.MaxDrawdown = dd
			}
		}
	}

	m.WinRate = float64(m.WinningTrades) / float64(m.TotalTrades)
	if mean, std := service.MeanStd(returns); std > 0 {
		m.SharpeRatio = mean / std
	}
	return m
}

func closedAt(t domain.Trade) time.Time {
	if t.ClosedAt != nil {
		return *t.ClosedAt
	}
	return t.UpdatedAt
}

// riskMetrics measures the exposure of open trades at snapshot prices.
func riskMetrics(trades []domain.Trade, snap domain.MarketSnapshot, budget float64) domain.RiskMetrics {
	r := domain.RiskMetrics{LeverageRatio: 1}

	bySymbol := make(map[string]float64)
	var exposure, levered, varSum float64
	for _, t := range trades {
		if t.Status != domain.TradeStatusOpen {
			continue
		}
		price := 0.0
		if ss, ok := snap[t.Symbol]; ok && ss.Price > 0 {
			price = ss.Price
		} else if t.EntryPrice != nil {
			price = *t.EntryPrice
		}
		notional := t.Amount * price
		lev := 1.0
		if t.Leverage != nil && *t.Leverage > 0 {
			lev = *t.Leverage
		}
		exposure += notional
		levered += notional * lev
		bySymbol[t.Symbol] += notional
		varSum += notional * lev * snap[t.Symbol].Volatility * z95
	}

	r.CurrentExposure = exposure
	r.VaR95 = varSum
	if exposure > 0 {
		r.LeverageRatio = levered / exposure
		var largest float64
		for _, v := range bySymbol {
			largest = math.Max(largest, v)
		}
		r.CorrelationRisk = largest / exposure
	}

	if budget > 0 {
		score := 0.5*math.Min(1, levered/budget) +
			0.3*math.Min(1, r.VaR95/budget*10) +
			0.2*r.CorrelationRisk
		r.RiskScore = math.Min(1, score)
	}
	return r
}

// marketConditions labels the snapshot as volatile, bullish, bearish or neutral.
func marketConditions(snap domain.MarketSnapshot) string {
	if len(snap) == 0 {
		return domain.MarketConditionsUnknown
	}
	var vol float64
	var up, down int
	for _, ss := range snap {
		vol += ss.Volatility
		switch ss.Trend {
		case domain.TrendUp:
			up++
		case domain.TrendDown:
			down++
		}
	}
	switch {
	case vol/float64(len(snap)) > highVolatility:
		return domain.MarketConditionsVolatile
	case up*2 > len(snap):
		return domain.MarketConditionsBullish
	case down*2 > len(snap):
		return domain.MarketConditionsBearish
	default:
		return domain.MarketConditionsNeutral
	}
}

// strategyHealth grades a strategy from its performance and risk.
func strategyHealth(perf domain.PerformanceMetrics, risk domain.RiskMetrics) string {
	switch {
	case perf.MaxDrawdown > 0.25 || risk.RiskScore > 0.8:
		return domain.HealthCritical
	case perf.MaxDrawdown > 0.10 || risk.RiskScore > 0.6 || (perf.TotalTrades >= 5 && perf.WinRate < 0.4):
		return domain.HealthDegraded
	default:
		return domain.HealthHealthy
	}
}

// marketFit derives regime labels and recommendations from a snapshot.
func marketFit(st domain.Strategy, snap domain.MarketSnapshot, health string) domain.MarketFit {
	fit := domain.MarketFit{
		MarketRegime:           "normal",
		VolatilityRegime:       "medium",
		CorrelationEnvironment: "normal",
		LiquidityConditions:    "good",
		ConfidenceScore:        0.85,
		Recommendations:        []string{},
	}
	if len(snap) == 0 {
		return fit
	}

	var vol, volume float64
	var trending int
	for _, ss := range snap {
		vol += ss.Volatility
		volume += ss.Volume
		if ss.Trend != domain.TrendNeutral {
			trending++
		}
	}
	n := float64(len(snap))
	vol /= n

	switch {
	case vol < lowVolatility:
		fit.VolatilityRegime = "low"
	case vol > highVolatility:
		fit.VolatilityRegime = "high"
		fit.Recommendations = append(fit.Recommendations, "reduce position size while volatility is high")
	}
	if trending*2 > len(snap) {
		fit.MarketRegime = "trending"
	} else {
		fit.MarketRegime = "ranging"
	}
	if volume == 0 {
		fit.LiquidityConditions = "thin"
		fit.Recommendations = append(fit.Recommendations, "avoid new entries until volume recovers")
	}
	if c := averageCorrelation(snap); c > 0.7 {
		fit.CorrelationEnvironment = "high"
		fit.Recommendations = append(fit.Recommendations, "diversify symbols, returns are highly correlated")
	}

	tp := st.Config.TradeParameters
	if fit.VolatilityRegime == "high" && tp.StopLoss > 0 && tp.StopLoss < vol {
		fit.Recommendations = append(fit.Recommendations, "widen stop loss beyond typical bar volatility")
	}
	if health == domain.HealthCritical {
		fit.Recommendations = append(fit.Recommendations, "review strategy parameters, health is critical")
	}
	fit.RequiresUpdate = health == domain.HealthCritical ||
		(fit.VolatilityRegime == "high" && fit.CorrelationEnvironment == "high")
	return fit
}

// averageCorrelation is the mean pairwise Pearson correlation of
// close-to-close returns over the common candle window.
func averageCorrelation(snap domain.MarketSnapshot) float64 {
	series := make([][]float64, 0, len(snap))
	for _, ss := range snap {
		if r := candleReturns(ss.Candles); len(r) > 1 {
			series = append(series, r)
		}
	}
	if len(series) < 2 {
		return 0
	}
	var sum float64
	var pairs int
	for i := 0; i < len(series); i++ {
		for j := i + 1; j < len(series); j++ {
			sum += correlation(series[i], series[j])
			pairs++
		}
	}
	return sum / float64(pairs)
}

func candleReturns(candles []domain.Candle) []float64 {
	out := make([]float64, 0, len(candles))
	for i := 1; i < len(candles); i++ {
		if prev := candles[i-1].Close; prev > 0 {
			out = append(out, (candles[i].Close-prev)/prev)
		}
	}
	return out
}

func correlation(a, b []float64) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	if n < 2 {
		return 0
	}
	a, b = a[len(a)-n:], b[len(b)-n:]
	ma, sa := service.MeanStd(a)
	mb, sb := service.MeanStd(b)
	if sa == 0 || sb == 0 {
		return 0
	}
	var cov float64
	for i := 0; i < n; i++ {
		cov += (a[i] - ma) * (b[i] - mb)
	}
	return cov / float64(n) / (sa * sb)
}
