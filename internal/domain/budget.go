package domain

import "time"

// StrategyBudget is the capital accounting of one strategy.
// Allocated + Available == Total + RealizedProfit.
type StrategyBudget struct {
	StrategyID      string    `json:"strategy_id"`
	Total           float64   `json:"total"`
	Allocated       float64   `json:"allocated"`
	Available       float64   `json:"available"`
	RealizedProfit  float64   `json:"realized_profit"`
	MaxPositionSize float64   `json:"max_position_size"`
	LastUpdated     time.Time `json:"last_updated"`
}
