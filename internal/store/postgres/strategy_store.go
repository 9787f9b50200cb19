package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/stratbot/internal/domain"
)

// StrategyStore implements domain.StrategyStore using PostgreSQL.
type StrategyStore struct {
	pool *pgxpool.Pool
}

// NewStrategyStore creates a StrategyStore backed by pool.
func NewStrategyStore(pool *pgxpool.Pool) *StrategyStore {
	return &StrategyStore{pool: pool}
}

const strategySelectCols = `id, user_id, name, description, status, market_type, symbols,
	config, budget, performance, last_adapted_at, created_at, updated_at`

func scanStrategyRow(row pgx.Row) (domain.Strategy, error) {
	var (
		s          domain.Strategy
		status     string
		marketType string
		configJSON []byte
	)
	if err := row.Scan(
		&s.ID, &s.UserID, &s.Name, &s.Description, &status, &marketType, &s.Symbols,
		&configJSON, &s.Budget, &s.Performance, &s.LastAdaptedAt, &s.CreatedAt, &s.UpdatedAt,
	); err != nil {
		return domain.Strategy{}, err
	}
	s.Status = domain.StrategyStatus(status)
	s.MarketType = domain.MarketType(marketType)
	if len(configJSON) > 0 {
		if err := json.Unmarshal(configJSON, &s.Config); err != nil {
			return domain.Strategy{}, fmt.Errorf("unmarshal config: %w", err)
		}
	}
	return s, nil
}

func scanStrategyRows(rows pgx.Rows) ([]domain.Strategy, error) {
	out := []domain.Strategy{}
	for rows.Next() {
		s, err := scanStrategyRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// List returns strategies matching the filter, newest first.
func (s *StrategyStore) List(ctx context.Context, filter domain.StrategyFilter) ([]domain.Strategy, error) {
	var w whereBuilder
	if filter.UserID != "" {
		w.add("user_id = ?", filter.UserID)
	}
	if filter.Status != "" {
		w.add("status = ?", string(filter.Status))
	}
	w.window("created_at", filter.ListOpts)

	query := `SELECT ` + strategySelectCols + ` FROM strategies` + w.sql() + ` ORDER BY created_at DESC`
	query += w.page(filter.ListOpts)

	rows, err := s.pool.Query(ctx, query, w.args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list strategies: %w", err)
	}
	defer rows.Close()

	out, err := scanStrategyRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan strategies: %w", err)
	}
	return out, nil
}

// Get returns a strategy by id.
func (s *StrategyStore) Get(ctx context.Context, id string) (domain.Strategy, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+strategySelectCols+` FROM strategies WHERE id = $1`, id)
	st, err := scanStrategyRow(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Strategy{}, fmt.Errorf("postgres: get strategy %s: %w", id, domain.ErrNotFound)
		}
		return domain.Strategy{}, fmt.Errorf("postgres: get strategy %s: %w", id, err)
	}
	return st, nil
}

// Create inserts a strategy, assigning an id when empty.
func (s *StrategyStore) Create(ctx context.Context, st domain.Strategy) (domain.Strategy, error) {
	if st.ID == "" {
		st.ID = uuid.NewString()
	}
	configJSON, err := json.Marshal(st.Config)
	if err != nil {
		return domain.Strategy{}, fmt.Errorf("postgres: marshal strategy config: %w", err)
	}
	if st.Symbols == nil {
		st.Symbols = []string{}
	}

	const query = `
		INSERT INTO strategies (id, user_id, name, description, status, market_type, symbols,
			config, budget, performance, last_adapted_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (id) DO NOTHING
		RETURNING ` + strategySelectCols

	row := s.pool.QueryRow(ctx, query,
		st.ID, st.UserID, st.Name, st.Description, string(st.Status), string(st.MarketType), st.Symbols,
		configJSON, st.Budget, st.Performance, st.LastAdaptedAt,
	)
	created, err := scanStrategyRow(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Strategy{}, fmt.Errorf("postgres: create strategy %s: %w", st.ID, domain.ErrAlreadyExists)
		}
		return domain.Strategy{}, fmt.Errorf("postgres: create strategy %s: %w", st.ID, err)
	}
	return created, nil
}

// Update replaces every mutable column of a strategy.
func (s *StrategyStore) Update(ctx context.Context, st domain.Strategy) (domain.Strategy, error) {
	configJSON, err := json.Marshal(st.Config)
	if err != nil {
		return domain.Strategy{}, fmt.Errorf("postgres: marshal strategy config: %w", err)
	}
	if st.Symbols == nil {
		st.Symbols = []string{}
	}

	const query = `
		UPDATE strategies SET
			user_id = $2, name = $3, description = $4, status = $5, market_type = $6,
			symbols = $7, config = $8, budget = $9, performance = $10, last_adapted_at = $11,
			updated_at = NOW()
		WHERE id = $1
		RETURNING ` + strategySelectCols

	row := s.pool.QueryRow(ctx, query,
		st.ID, st.UserID, st.Name, st.Description, string(st.Status), string(st.MarketType),
		st.Symbols, configJSON, st.Budget, st.Performance, st.LastAdaptedAt,
	)
	updated, err := scanStrategyRow(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Strategy{}, fmt.Errorf("postgres: update strategy %s: %w", st.ID, domain.ErrNotFound)
		}
		return domain.Strategy{}, fmt.Errorf("postgres: update strategy %s: %w", st.ID, err)
	}
	return updated, nil
}

// Delete removes a strategy.
func (s *StrategyStore) Delete(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM strategies WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("postgres: delete strategy %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: delete strategy %s: %w", id, domain.ErrNotFound)
	}
	return nil
}

var _ domain.StrategyStore = (*StrategyStore)(nil)
