package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/stratbot/internal/domain"
)

// TradeStore implements domain.TradeStore using PostgreSQL.
type TradeStore struct {
	pool *pgxpool.Pool
}

// NewTradeStore creates a TradeStore backed by pool.
func NewTradeStore(pool *pgxpool.Pool) *TradeStore {
	return &TradeStore{pool: pool}
}

const tradeSelectCols = `id, strategy_id, user_id, symbol, side, status, market_type, amount,
	entry_price, exit_price, profit, stop_loss, take_profit, trailing_stop, leverage,
	reserved_cost, order_id, metadata, created_at, executed_at, closed_at, updated_at`

func scanTradeRow(row pgx.Row) (domain.Trade, error) {
	var (
		t                        domain.Trade
		side, status, marketType string
		metaJSON                 []byte
	)
	if err := row.Scan(
		&t.ID, &t.StrategyID, &t.UserID, &t.Symbol, &side, &status, &marketType, &t.Amount,
		&t.EntryPrice, &t.ExitPrice, &t.Profit, &t.StopLoss, &t.TakeProfit, &t.TrailingStop, &t.Leverage,
		&t.ReservedCost, &t.OrderID, &metaJSON, &t.CreatedAt, &t.ExecutedAt, &t.ClosedAt, &t.UpdatedAt,
	); err != nil {
		return domain.Trade{}, err
	}
	t.Side = domain.TradeSide(side)
	t.Status = domain.TradeStatus(status)
	t.MarketType = domain.MarketType(marketType)
	if len(metaJSON) > 0 {
		if err := json.Unmarshal(metaJSON, &t.Metadata); err != nil {
			return domain.Trade{}, fmt.Errorf("unmarshal metadata: %w", err)
		}
	}
	return t, nil
}

func scanTradeRows(rows pgx.Rows) ([]domain.Trade, error) {
	out := []domain.Trade{}
	for rows.Next() {
		t, err := scanTradeRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func marshalMetadata(m map[string]any) ([]byte, error) {
	if m == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(m)
}

// List returns trades matching the filter, newest first.
func (s *TradeStore) List(ctx context.Context, filter domain.TradeFilter) ([]domain.Trade, error) {
	var w whereBuilder
	if filter.StrategyID != "" {
		w.add("strategy_id = ?", filter.StrategyID)
	}
	if filter.UserID != "" {
		w.add("user_id = ?", filter.UserID)
	}
	if len(filter.Statuses) > 0 {
		statuses := make([]string, len(filter.Statuses))
		for i, st := range filter.Statuses {
			statuses[i] = string(st)
		}
		w.add("status = ANY(?)", statuses)
	}
	w.window("created_at", filter.ListOpts)

	query := `SELECT ` + tradeSelectCols + ` FROM trades` + w.sql() + ` ORDER BY created_at DESC`
	query += w.page(filter.ListOpts)

	rows, err := s.pool.Query(ctx, query, w.args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list trades: %w", err)
	}
	defer rows.Close()

	out, err := scanTradeRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan trades: %w", err)
	}
	return out, nil
}

// Get returns a trade by id.
func (s *TradeStore) Get(ctx context.Context, id string) (domain.Trade, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+tradeSelectCols+` FROM trades WHERE id = $1`, id)
	t, err := scanTradeRow(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Trade{}, fmt.Errorf("postgres: get trade %s: %w", id, domain.ErrNotFound)
		}
		return domain.Trade{}, fmt.Errorf("postgres: get trade %s: %w", id, err)
	}
	return t, nil
}

// Create inserts a trade, assigning an id when empty.
func (s *TradeStore) Create(ctx context.Context, t domain.Trade) (domain.Trade, error) {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	meta, err := marshalMetadata(t.Metadata)
	if err != nil {
		return domain.Trade{}, fmt.Errorf("postgres: marshal trade metadata: %w", err)
	}
	now := time.Now().UTC()
	if t.CreatedAt.IsZero() {
		t.CreatedAt = now
	}

	const query = `
		INSERT INTO trades (id, strategy_id, user_id, symbol, side, status, market_type, amount,
			entry_price, exit_price, profit, stop_loss, take_profit, trailing_stop, leverage,
			reserved_cost, order_id, metadata, created_at, executed_at, closed_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15,
			$16, $17, $18, $19, $20, $21, $22)
		ON CONFLICT (id) DO NOTHING
		RETURNING ` + tradeSelectCols

	row := s.pool.QueryRow(ctx, query,
		t.ID, t.StrategyID, t.UserID, t.Symbol, string(t.Side), string(t.Status), string(t.MarketType), t.Amount,
		t.EntryPrice, t.ExitPrice, t.Profit, t.StopLoss, t.TakeProfit, t.TrailingStop, t.Leverage,
		t.ReservedCost, t.OrderID, meta, t.CreatedAt, t.ExecutedAt, t.ClosedAt, now,
	)
	created, err := scanTradeRow(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Trade{}, fmt.Errorf("postgres: create trade %s: %w", t.ID, domain.ErrAlreadyExists)
		}
		return domain.Trade{}, fmt.Errorf("postgres: create trade %s: %w", t.ID, err)
	}
	return created, nil
}

// Update replaces every mutable column of a trade.
func (s *TradeStore) Update(ctx context.Context, t domain.Trade) (domain.Trade, error) {
	meta, err := marshalMetadata(t.Metadata)
	if err != nil {
		return domain.Trade{}, fmt.Errorf("postgres: marshal trade metadata: %w", err)
	}

	const query = `
		UPDATE trades SET
			status = $2, amount = $3, entry_price = $4, exit_price = $5, profit = $6,
			stop_loss = $7, take_profit = $8, trailing_stop = $9, leverage = $10,
			reserved_cost = $11, order_id = $12, metadata = $13, executed_at = $14,
			closed_at = $15, updated_at = NOW()
		WHERE id = $1
		RETURNING ` + tradeSelectCols

	row := s.pool.QueryRow(ctx, query,
		t.ID, string(t.Status), t.Amount, t.EntryPrice, t.ExitPrice, t.Profit,
		t.StopLoss, t.TakeProfit, t.TrailingStop, t.Leverage,
		t.ReservedCost, t.OrderID, meta, t.ExecutedAt, t.ClosedAt,
	)
	updated, err := scanTradeRow(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Trade{}, fmt.Errorf("postgres: update trade %s: %w", t.ID, domain.ErrNotFound)
		}
		return domain.Trade{}, fmt.Errorf("postgres: update trade %s: %w", t.ID, err)
	}
	return updated, nil
}

// Delete removes a trade.
func (s *TradeStore) Delete(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM trades WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("postgres: delete trade %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: delete trade %s: %w", id, domain.ErrNotFound)
	}
	return nil
}

// ListClosedBefore returns closed trades whose close time is before the
// cutoff, oldest first.
func (s *TradeStore) ListClosedBefore(ctx context.Context, before time.Time) ([]domain.Trade, error) {
	query := `SELECT ` + tradeSelectCols + ` FROM trades
		WHERE status = 'closed' AND closed_at < $1 ORDER BY closed_at ASC`
	rows, err := s.pool.Query(ctx, query, before)
	if err != nil {
		return nil, fmt.Errorf("postgres: list closed trades before: %w", err)
	}
	defer rows.Close()

	out, err := scanTradeRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan closed trades: %w", err)
	}
	return out, nil
}

var _ domain.TradeStore = (*TradeStore)(nil)
