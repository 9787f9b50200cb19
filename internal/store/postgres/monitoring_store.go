package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/stratbot/internal/domain"
)

// MonitoringStore implements domain.MonitoringStore using PostgreSQL.
type MonitoringStore struct {
	pool *pgxpool.Pool
}

// NewMonitoringStore creates a MonitoringStore backed by pool.
func NewMonitoringStore(pool *pgxpool.Pool) *MonitoringStore {
	return &MonitoringStore{pool: pool}
}

func scanSnapshotRows(rows pgx.Rows) ([]domain.MonitoringSnapshot, error) {
	out := []domain.MonitoringSnapshot{}
	for rows.Next() {
		var (
			snap       domain.MonitoringSnapshot
			statusJSON []byte
		)
		if err := rows.Scan(&snap.ID, &snap.StrategyID, &statusJSON, &snap.CreatedAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(statusJSON, &snap.Status); err != nil {
			return nil, fmt.Errorf("unmarshal status: %w", err)
		}
		out = append(out, snap)
	}
	return out, rows.Err()
}

// SaveSnapshot appends a status snapshot.
func (s *MonitoringStore) SaveSnapshot(ctx context.Context, status domain.MonitoringStatus) error {
	statusJSON, err := json.Marshal(status)
	if err != nil {
		return fmt.Errorf("postgres: marshal monitoring status: %w", err)
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO monitoring_snapshots (strategy_id, status) VALUES ($1, $2)`,
		status.StrategyID, statusJSON,
	)
	if err != nil {
		return fmt.Errorf("postgres: save snapshot %s: %w", status.StrategyID, err)
	}
	return nil
}

// ListSnapshots returns a strategy's snapshots, newest first.
func (s *MonitoringStore) ListSnapshots(ctx context.Context, strategyID string, opts domain.ListOpts) ([]domain.MonitoringSnapshot, error) {
	var w whereBuilder
	w.add("strategy_id = ?", strategyID)
	w.window("created_at", opts)

	query := `SELECT id, strategy_id, status, created_at FROM monitoring_snapshots` +
		w.sql() + ` ORDER BY created_at DESC, id DESC` + w.page(opts)

	rows, err := s.pool.Query(ctx, query, w.args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list snapshots %s: %w", strategyID, err)
	}
	defer rows.Close()

	out, err := scanSnapshotRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan snapshots: %w", err)
	}
	return out, nil
}

// ListBefore returns snapshots created before the cutoff, oldest first.
func (s *MonitoringStore) ListBefore(ctx context.Context, before time.Time) ([]domain.MonitoringSnapshot, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, strategy_id, status, created_at FROM monitoring_snapshots
		 WHERE created_at < $1 ORDER BY created_at ASC`, before)
	if err != nil {
		return nil, fmt.Errorf("postgres: list snapshots before: %w", err)
	}
	defer rows.Close()

	out, err := scanSnapshotRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan snapshots: %w", err)
	}
	return out, nil
}

var _ domain.MonitoringStore = (*MonitoringStore)(nil)
