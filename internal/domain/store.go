package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// StrategyStore persists strategies.
type StrategyStore interface {
	List(ctx context.Context, filter StrategyFilter) ([]Strategy, error)
	Get(ctx context.Context, id string) (Strategy, error)
	Create(ctx context.Context, s Strategy) (Strategy, error)
	Update(ctx context.Context, s Strategy) (Strategy, error)
	Delete(ctx context.Context, id string) error
}

// TradeStore persists trades. It is the system of record for trade status.
type TradeStore interface {
	List(ctx context.Context, filter TradeFilter) ([]Trade, error)
	Get(ctx context.Context, id string) (Trade, error)
	Create(ctx context.Context, t Trade) (Trade, error)
	Update(ctx context.Context, t Trade) (Trade, error)
	Delete(ctx context.Context, id string) error
	ListClosedBefore(ctx context.Context, before time.Time) ([]Trade, error)
}

// MonitoringStore persists monitoring status history.
type MonitoringStore interface {
	SaveSnapshot(ctx context.Context, status MonitoringStatus) error
	ListSnapshots(ctx context.Context, strategyID string, opts ListOpts) ([]MonitoringSnapshot, error)
	ListBefore(ctx context.Context, before time.Time) ([]MonitoringSnapshot, error)
}

// AuditEntry is a single audit log row.
type AuditEntry struct {
	ID        int64
	Event     string
	Detail    map[string]any
	CreatedAt time.Time
}

// AuditStore persists an append-only audit log.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	List(ctx context.Context, opts ListOpts) ([]AuditEntry, error)
}
