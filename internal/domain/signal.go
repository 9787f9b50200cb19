package domain

import "time"

// Signal is a candidate trade proposed by the AI-signal provider.
type Signal struct {
	Symbol        string         `json:"symbol"`
	Side          TradeSide      `json:"side"`
	Amount        float64        `json:"amount"`
	Price         float64        `json:"price"`
	StopLoss      *float64       `json:"stop_loss,omitempty"`
	TakeProfit    *float64       `json:"take_profit,omitempty"`
	TrailingStop  *float64       `json:"trailing_stop,omitempty"`
	Leverage      *float64       `json:"leverage,omitempty"`
	Confidence    *float64       `json:"confidence,omitempty"`
	ConditionsMet []string       `json:"conditions_met,omitempty"`
	Source        string         `json:"source,omitempty"`
	Extra         map[string]any `json:"extra,omitempty"`
}

// Cost returns amount * price.
func (s Signal) Cost() float64 {
	return s.Amount * s.Price
}

// Candle is one OHLCV bar.
type Candle struct {
	Symbol   string    `json:"symbol"`
	OpenTime time.Time `json:"open_time"`
	Open     float64   `json:"open"`
	High     float64   `json:"high"`
	Low      float64   `json:"low"`
	Close    float64   `json:"close"`
	Volume   float64   `json:"volume"`
}

// Trend labels used in symbol snapshots.
const (
	TrendUp      = "up"
	TrendDown    = "down"
	TrendNeutral = "neutral"
)

// SymbolSnapshot is the market state of one symbol.
type SymbolSnapshot struct {
	Symbol     string    `json:"symbol"`
	Price      float64   `json:"price"`
	Volume     float64   `json:"volume"`
	Volatility float64   `json:"volatility"`
	Trend      string    `json:"trend"`
	Candles    []Candle  `json:"-"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// MarketSnapshot maps symbol to its snapshot.
type MarketSnapshot map[string]SymbolSnapshot

// SignalRequest is the input to signal generation.
type SignalRequest struct {
	Strategy        Strategy
	Snapshot        MarketSnapshot
	AvailableBudget float64
}
