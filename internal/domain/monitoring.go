package domain

import "time"

// Monitoring status values.
const (
	MonitorStatusActive = "active"
	MonitorStatusError  = "error"
)

// Market condition labels derived during evaluation.
const (
	MarketConditionsUnknown  = "unknown"
	MarketConditionsBullish  = "bullish"
	MarketConditionsBearish  = "bearish"
	MarketConditionsVolatile = "volatile"
	MarketConditionsNeutral  = "neutral"
)

// Strategy health labels derived during evaluation.
const (
	HealthUnknown  = "unknown"
	HealthHealthy  = "healthy"
	HealthDegraded = "degraded"
	HealthCritical = "critical"
)

// PerformanceMetrics summarise a strategy's closed trade history.
type PerformanceMetrics struct {
	TotalTrades   int     `json:"total_trades"`
	WinningTrades int     `json:"winning_trades"`
	LosingTrades  int     `json:"losing_trades"`
	WinRate       float64 `json:"win_rate"`
	ProfitLoss    float64 `json:"profit_loss"`
	SharpeRatio   float64 `json:"sharpe_ratio"`
	MaxDrawdown   float64 `json:"max_drawdown"`
}

// RiskMetrics summarise a strategy's current exposure.
type RiskMetrics struct {
	CurrentExposure float64 `json:"current_exposure"`
	VaR95           float64 `json:"var_95"`
	RiskScore       float64 `json:"risk_score"`
	LeverageRatio   float64 `json:"leverage_ratio"`
	CorrelationRisk float64 `json:"correlation_risk"`
}

// MarketFit is the result of a periodic market-fit analysis.
type MarketFit struct {
	MarketRegime           string    `json:"market_regime"`
	VolatilityRegime       string    `json:"volatility_regime"`
	CorrelationEnvironment string    `json:"correlation_environment"`
	LiquidityConditions    string    `json:"liquidity_conditions"`
	RequiresUpdate         bool      `json:"requires_update"`
	ConfidenceScore        float64   `json:"confidence_score"`
	Recommendations        []string  `json:"recommendations"`
	AnalyzedAt             time.Time `json:"analyzed_at"`
}

// MonitoringMetadata is the evaluation snapshot attached to a status. It is
// replaced as a whole on every evaluation.
type MonitoringMetadata struct {
	MarketConditions string             `json:"market_conditions"`
	StrategyHealth   string             `json:"strategy_health"`
	LastEvaluation   *time.Time         `json:"last_evaluation"`
	MarketData       MarketSnapshot     `json:"market_data,omitempty"`
	Performance      PerformanceMetrics `json:"performance_metrics"`
	Risk             RiskMetrics        `json:"risk_metrics"`
	MarketFit        *MarketFit         `json:"market_fit,omitempty"`
	Extra            map[string]any     `json:"extra,omitempty"`
}

// MonitoringStatus is the latest health snapshot for one strategy.
type MonitoringStatus struct {
	StrategyID string             `json:"strategy_id"`
	Status     string             `json:"status"`
	LastCheck  time.Time          `json:"last_check"`
	NextCheck  time.Time          `json:"next_check"`
	ErrorCount int                `json:"error_count"`
	LastError  *string            `json:"last_error,omitempty"`
	Metadata   MonitoringMetadata `json:"metadata"`
}

// MonitoringSnapshot is a persisted MonitoringStatus.
type MonitoringSnapshot struct {
	ID         int64            `json:"id"`
	StrategyID string           `json:"strategy_id"`
	Status     MonitoringStatus `json:"status"`
	CreatedAt  time.Time        `json:"created_at"`
}
