package domain

import "time"

// StrategyStatus is the lifecycle status of a strategy.
type StrategyStatus string

const (
	StrategyStatusInactive StrategyStatus = "inactive"
	StrategyStatusActive   StrategyStatus = "active"
)

// MarketType is the market a strategy trades in.
type MarketType string

const (
	MarketTypeSpot    MarketType = "spot"
	MarketTypeFutures MarketType = "futures"
)

// TradeParameters holds position sizing and risk parameters of a strategy.
type TradeParameters struct {
	PositionSize     float64 `json:"positionSize"`
	MaxOpenPositions int     `json:"maxOpenPositions"`
	StopLoss         float64 `json:"stopLoss"`
	TakeProfit       float64 `json:"takeProfit"`
	TrailingStop     float64 `json:"trailingStop,omitempty"`
}

// StrategyConfig is the user-defined trading policy.
type StrategyConfig struct {
	IndicatorType   string          `json:"indicatorType"`
	EntryConditions map[string]any  `json:"entryConditions,omitempty"`
	ExitConditions  map[string]any  `json:"exitConditions,omitempty"`
	TradeParameters TradeParameters `json:"tradeParameters"`
	Extra           map[string]any  `json:"extra,omitempty"`
}

// Strategy is a parameterized trading policy over a set of symbols.
type Strategy struct {
	ID            string         `json:"id"`
	UserID        string         `json:"user_id,omitempty"`
	Name          string         `json:"name"`
	Description   string         `json:"description,omitempty"`
	Status        StrategyStatus `json:"status"`
	MarketType    MarketType     `json:"market_type"`
	Symbols       []string       `json:"symbols"`
	Config        StrategyConfig `json:"config"`
	Budget        float64        `json:"budget"`
	Performance   float64        `json:"performance"`
	LastAdaptedAt *time.Time     `json:"last_adapted_at,omitempty"`
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
}

// IsActive reports whether the strategy is active.
func (s Strategy) IsActive() bool {
	return s.Status == StrategyStatusActive
}

// StrategyFilter narrows strategy list queries.
type StrategyFilter struct {
	UserID string
	Status StrategyStatus
	ListOpts
}
