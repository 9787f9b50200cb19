package handler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/alanyoungcy/stratbot/internal/domain"
)

// TradeService is what the trade handler needs from the service layer.
type TradeService interface {
	List(ctx context.Context, filter domain.TradeFilter) ([]domain.Trade, error)
	Get(ctx context.Context, id string) (domain.Trade, error)
	Create(ctx context.Context, t domain.Trade) (domain.Trade, error)
	Delete(ctx context.Context, id string) error
	Execute(ctx context.Context, id string) (domain.Trade, error)
	Close(ctx context.Context, id string) (domain.Trade, error)
	CloseAt(ctx context.Context, id string, price float64, reason domain.CloseReason) (domain.Trade, error)
}

// TradeHandler serves trade endpoints.
type TradeHandler struct {
	trades TradeService
	logger *slog.Logger
}

// NewTradeHandler creates a TradeHandler.
func NewTradeHandler(trades TradeService, logger *slog.Logger) *TradeHandler {
	return &TradeHandler{trades: trades, logger: logger}
}

type listTradesResponse struct {
	Trades []domain.Trade `json:"trades"`
}

// createTradeRequest is the body of POST /api/trades. A missing entry_price
// is resolved from the market.
type createTradeRequest struct {
	StrategyID   string            `json:"strategy_id"`
	UserID       string            `json:"user_id"`
	Symbol       string            `json:"symbol"`
	Side         domain.TradeSide  `json:"side"`
	MarketType   domain.MarketType `json:"market_type"`
	Amount       float64           `json:"amount"`
	EntryPrice   *float64          `json:"entry_price"`
	StopLoss     *float64          `json:"stop_loss"`
	TakeProfit   *float64          `json:"take_profit"`
	TrailingStop *float64          `json:"trailing_stop"`
	Leverage     *float64          `json:"leverage"`
	Metadata     map[string]any    `json:"metadata"`
}

type closeTradeRequest struct {
	Price *float64 `json:"price"`
}

// List returns trades.
// GET /api/trades?strategy_id=...&status=open,pending&limit=50&offset=0
func (h *TradeHandler) List(w http.ResponseWriter, r *http.Request) {
	opts, err := parseListOpts(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	q := r.URL.Query()
	filter := domain.TradeFilter{
		StrategyID: q.Get("strategy_id"),
		UserID:     q.Get("user_id"),
		ListOpts:   opts,
	}
	if v := q.Get("status"); v != "" {
		for _, s := range strings.Split(v, ",") {
			if s = strings.TrimSpace(s); s != "" {
				filter.Statuses = append(filter.Statuses, domain.TradeStatus(s))
			}
		}
	}

	out, err := h.trades.List(r.Context(), filter)
	if err != nil {
		writeServiceError(w, r, h.logger, "list trades", err)
		return
	}
	if out == nil {
		out = []domain.Trade{}
	}
	writeJSON(w, http.StatusOK, listTradesResponse{Trades: out})
}

// Get returns one trade.
// GET /api/trades/{id}
func (h *TradeHandler) Get(w http.ResponseWriter, r *http.Request) {
	t, err := h.trades.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		writeServiceError(w, r, h.logger, "get trade", err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

// Create opens a pending trade against a strategy budget.
// POST /api/trades
func (h *TradeHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createTradeRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	created, err := h.trades.Create(r.Context(), domain.Trade{
		StrategyID:   req.StrategyID,
		UserID:       req.UserID,
		Symbol:       strings.ToUpper(strings.TrimSpace(req.Symbol)),
		Side:         req.Side,
		MarketType:   req.MarketType,
		Amount:       req.Amount,
		EntryPrice:   req.EntryPrice,
		StopLoss:     req.StopLoss,
		TakeProfit:   req.TakeProfit,
		TrailingStop: req.TrailingStop,
		Leverage:     req.Leverage,
		Metadata:     req.Metadata,
	})
	if err != nil {
		writeServiceError(w, r, h.logger, "create trade", err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

// Execute opens a pending trade.
// POST /api/trades/{id}/execute
func (h *TradeHandler) Execute(w http.ResponseWriter, r *http.Request) {
	t, err := h.trades.Execute(r.Context(), r.PathValue("id"))
	if err != nil {
		writeServiceError(w, r, h.logger, "execute trade", err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

// Close closes an open trade at the market price, or at the price given in
// the optional body.
// POST /api/trades/{id}/close
func (h *TradeHandler) Close(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	var req closeTradeRequest
	if err := decodeJSON(w, r, &req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var (
		t   domain.Trade
		err error
	)
	if req.Price != nil {
		if *req.Price <= 0 {
			writeError(w, http.StatusBadRequest, "price must be positive")
			return
		}
		t, err = h.trades.CloseAt(r.Context(), id, *req.Price, domain.CloseReasonManual)
	} else {
		t, err = h.trades.Close(r.Context(), id)
	}
	if err != nil {
		writeServiceError(w, r, h.logger, "close trade", err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

// Delete removes a trade and releases its reservation.
// DELETE /api/trades/{id}
func (h *TradeHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := h.trades.Delete(r.Context(), id); err != nil {
		writeServiceError(w, r, h.logger, "delete trade", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted", "trade_id": id})
}
