package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// TradeSide is the direction of a trade.
type TradeSide string

const (
	TradeSideBuy  TradeSide = "buy"
	TradeSideSell TradeSide = "sell"
)

// Valid reports whether s is a known side.
func (s TradeSide) Valid() bool {
	return s == TradeSideBuy || s == TradeSideSell
}

// TradeStatus tracks where a trade is in its lifecycle.
type TradeStatus string

const (
	TradeStatusPending TradeStatus = "pending"
	TradeStatusOpen    TradeStatus = "open"
	TradeStatusClosed  TradeStatus = "closed"
)

// Terminal reports whether no further transition is possible.
func (s TradeStatus) Terminal() bool {
	return s == TradeStatusClosed
}

// ActiveTradeStatuses are the non-terminal statuses reloaded on startup.
var ActiveTradeStatuses = []TradeStatus{TradeStatusPending, TradeStatusOpen}

// Trade is one buy/sell position instance attached to a strategy.
//
// ExitPrice, Profit and ClosedAt are set iff Status is closed; ExecutedAt and
// OrderID are set iff Status is open or closed.
type Trade struct {
	ID           string         `json:"id"`
	StrategyID   string         `json:"strategy_id"`
	UserID       string         `json:"user_id,omitempty"`
	Symbol       string         `json:"symbol"`
	Side         TradeSide      `json:"side"`
	Status       TradeStatus    `json:"status"`
	MarketType   MarketType     `json:"market_type"`
	Amount       float64        `json:"amount"`
	EntryPrice   *float64       `json:"entry_price"`
	ExitPrice    *float64       `json:"exit_price,omitempty"`
	Profit       *float64       `json:"profit,omitempty"`
	StopLoss     *float64       `json:"stop_loss,omitempty"`
	TakeProfit   *float64       `json:"take_profit,omitempty"`
	TrailingStop *float64       `json:"trailing_stop,omitempty"` // fractional distance from the best price seen, e.g. 0.02
	Leverage     *float64       `json:"leverage,omitempty"`
	ReservedCost float64        `json:"reserved_cost"`           // capital reserved from the strategy budget at creation
	OrderID      *string        `json:"order_id,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
	ExecutedAt   *time.Time     `json:"executed_at,omitempty"`
	ClosedAt     *time.Time     `json:"closed_at,omitempty"`
	UpdatedAt    time.Time      `json:"updated_at"`
	Metadata     map[string]any `json:"metadata,omitempty"`
}

// Cost returns amount * entry price, or zero when no entry price is known.
func (t Trade) Cost() float64 {
	if t.EntryPrice == nil {
		return 0
	}
	cost, _ := decimal.NewFromFloat(t.Amount).Mul(decimal.NewFromFloat(*t.EntryPrice)).Float64()
	return cost
}

// ProfitAt returns the realized profit if the trade were closed at exit.
func (t Trade) ProfitAt(exit float64) float64 {
	if t.EntryPrice == nil {
		return 0
	}
	entry := decimal.NewFromFloat(*t.EntryPrice)
	diff := decimal.NewFromFloat(exit).Sub(entry)
	if t.Side == TradeSideSell {
		diff = diff.Neg()
	}
	profit, _ := diff.Mul(decimal.NewFromFloat(t.Amount)).Float64()
	return profit
}

// CloseReason explains why a close condition fired.
type CloseReason string

const (
	CloseReasonNone         CloseReason = ""
	CloseReasonStopLoss     CloseReason = "stop_loss"
	CloseReasonTakeProfit   CloseReason = "take_profit"
	CloseReasonTrailingStop CloseReason = "trailing_stop"
	CloseReasonManual       CloseReason = "manual"
	CloseReasonCleanup      CloseReason = "strategy_cleanup"
)

// CloseCondition evaluates stop loss, take profit and trailing stop for an open
// trade at price. best is the most favourable price observed since the trade
// opened (highest for buys, lowest for sells).
func (t Trade) CloseCondition(price, best float64) CloseReason {
	if t.Status != TradeStatusOpen || price <= 0 {
		return CloseReasonNone
	}
	switch t.Side {
	case TradeSideBuy:
		if t.StopLoss != nil && *t.StopLoss > 0 && price <= *t.StopLoss {
			return CloseReasonStopLoss
		}
		if t.TakeProfit != nil && *t.TakeProfit > 0 && price >= *t.TakeProfit {
			return CloseReasonTakeProfit
		}
		if t.TrailingStop != nil && *t.TrailingStop > 0 && best > 0 && price <= best*(1-*t.TrailingStop) {
			return CloseReasonTrailingStop
		}
	case TradeSideSell:
		if t.StopLoss != nil && *t.StopLoss > 0 && price >= *t.StopLoss {
			return CloseReasonStopLoss
		}
		if t.TakeProfit != nil && *t.TakeProfit > 0 && price <= *t.TakeProfit {
			return CloseReasonTakeProfit
		}
		if t.TrailingStop != nil && *t.TrailingStop > 0 && best > 0 && price >= best*(1+*t.TrailingStop) {
			return CloseReasonTrailingStop
		}
	}
	return CloseReasonNone
}

// TradeFilter narrows trade list queries. Zero values are ignored.
type TradeFilter struct {
	StrategyID string
	UserID     string
	Statuses   []TradeStatus
	ListOpts
}
