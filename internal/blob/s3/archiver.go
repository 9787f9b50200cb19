package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/alanyoungcy/stratbot/internal/domain"
)

const (
	jsonlContentType = "application/x-ndjson"
	archivePrefix    = "archive/"

	// maxVersions bounds the suffixes tried when an archive for the same
	// cutoff date already exists.
	maxVersions = 100
)

// Archive kinds, used as the second path segment.
const (
	KindTrades    = "trades"
	KindSnapshots = "monitoring_snapshots"
)

// ClosedTradeSource lists closed trades for archival.
type ClosedTradeSource interface {
	ListClosedBefore(ctx context.Context, before time.Time) ([]domain.Trade, error)
}

// TradeDeleter removes archived trades when pruning is enabled.
type TradeDeleter interface {
	Delete(ctx context.Context, id string) error
}

// SnapshotSource lists monitoring snapshots for archival.
type SnapshotSource interface {
	ListBefore(ctx context.Context, before time.Time) ([]domain.MonitoringSnapshot, error)
}

// ArchiverConfig tunes the archiver.
type ArchiverConfig struct {
	// Prune deletes trades from the primary store once their archive file has
	// been uploaded.
	Prune bool
}

// Archiver implements domain.Archiver. Each run writes one JSONL file per
// kind, named after the cutoff date, holding every record older than the
// cutoff. Existing files are never overwritten.
type Archiver struct {
	store     domain.ObjectStore
	trades    ClosedTradeSource
	deleter   TradeDeleter // nil unless pruning
	snapshots SnapshotSource
	audit     domain.AuditStore
	logger    *slog.Logger
}

// NewArchiver creates an Archiver. When cfg.Prune is set, trades must also
// implement TradeDeleter.
func NewArchiver(
	store domain.ObjectStore,
	trades ClosedTradeSource,
	snapshots SnapshotSource,
	audit domain.AuditStore,
	cfg ArchiverConfig,
	logger *slog.Logger,
) *Archiver {
	a := &Archiver{
		store:     store,
		trades:    trades,
		snapshots: snapshots,
		audit:     audit,
		logger:    logger.With(slog.String("component", "archiver")),
	}
	if cfg.Prune {
		if d, ok := trades.(TradeDeleter); ok {
			a.deleter = d
		}
	}
	return a
}

// ArchiveTrades uploads closed trades older than before and returns how many
// were written.
func (a *Archiver) ArchiveTrades(ctx context.Context, before time.Time) (int64, error) {
	trades, err := a.trades.ListClosedBefore(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive trades: query: %w", err)
	}
	if len(trades) == 0 {
		return 0, nil
	}

	path, err := upload(ctx, a, KindTrades, before, trades)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive trades: %w", err)
	}
	count := int64(len(trades))

	var pruned int64
	if a.deleter != nil {
		for _, t := range trades {
			if err := a.deleter.Delete(ctx, t.ID); err != nil {
				a.logger.WarnContext(ctx, "prune archived trade failed",
					slog.String("trade_id", t.ID),
					slog.String("error", err.Error()),
				)
				continue
			}
			pruned++
		}
	}

	a.record(ctx, "archive.trades", path, count, before, pruned)
	return count, nil
}

// ArchiveSnapshots uploads monitoring snapshots older than before.
func (a *Archiver) ArchiveSnapshots(ctx context.Context, before time.Time) (int64, error) {
	snaps, err := a.snapshots.ListBefore(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive snapshots: query: %w", err)
	}
	if len(snaps) == 0 {
		return 0, nil
	}

	path, err := upload(ctx, a, KindSnapshots, before, snaps)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive snapshots: %w", err)
	}
	count := int64(len(snaps))
	a.record(ctx, "archive.snapshots", path, count, before, 0)
	return count, nil
}

// ListArchives returns every archive file, newest first.
func (a *Archiver) ListArchives(ctx context.Context) ([]domain.ArchiveObject, error) {
	objs, err := a.store.List(ctx, archivePrefix)
	if err != nil {
		return nil, err
	}
	for i := range objs {
		kind, _, _ := strings.Cut(strings.TrimPrefix(objs[i].Key, archivePrefix), "/")
		objs[i].Kind = kind
	}
	sort.Slice(objs, func(i, j int) bool {
		return objs[i].LastModified.After(objs[j].LastModified)
	})
	return objs, nil
}

// OpenArchive returns the body of one archive file. Keys outside the archive
// prefix are reported as not found.
func (a *Archiver) OpenArchive(ctx context.Context, key string) (io.ReadCloser, error) {
	if !strings.HasPrefix(key, archivePrefix) || strings.Contains(key, "..") {
		return nil, fmt.Errorf("s3blob: archive %s: %w", key, domain.ErrNotFound)
	}
	return a.store.Get(ctx, key)
}

// upload writes records as one JSONL object and returns its key.
func upload[T any](ctx context.Context, a *Archiver, kind string, before time.Time, records []T) (string, error) {
	buf, err := marshalJSONL(records)
	if err != nil {
		return "", fmt.Errorf("marshal: %w", err)
	}
	key, err := a.freeKey(ctx, kind, before)
	if err != nil {
		return "", err
	}
	if err := a.store.Put(ctx, key, buf, jsonlContentType); err != nil {
		return "", fmt.Errorf("upload: %w", err)
	}
	return key, nil
}

// freeKey returns the first unused key for kind and cutoff date. A re-run on
// the same day gets a numbered suffix.
func (a *Archiver) freeKey(ctx context.Context, kind string, before time.Time) (string, error) {
	for v := 1; v <= maxVersions; v++ {
		key := archivePath(kind, before, v)
		exists, err := a.store.Exists(ctx, key)
		if err != nil {
			return "", fmt.Errorf("check %s: %w", key, err)
		}
		if !exists {
			return key, nil
		}
	}
	return "", fmt.Errorf("%s archives for %s: %w", kind, before.UTC().Format(time.DateOnly), domain.ErrCapacityExceeded)
}

func (a *Archiver) record(ctx context.Context, event, path string, count int64, before time.Time, pruned int64) {
	detail := map[string]any{
		"path":   path,
		"count":  count,
		"before": before.UTC().Format(time.RFC3339),
	}
	if a.deleter != nil {
		detail["pruned"] = pruned
	}
	if err := a.audit.Log(ctx, event, detail); err != nil {
		a.logger.WarnContext(ctx, "audit log failed", slog.String("event", event), slog.String("error", err.Error()))
	}
	a.logger.InfoContext(ctx, "archive written",
		slog.String("path", path),
		slog.Int64("count", count),
		slog.Int64("pruned", pruned),
	)
}

// archivePath builds the object key for an archive file:
//
//	archive/trades/2025-01-31.jsonl
//	archive/monitoring_snapshots/2025-01-31.2.jsonl
func archivePath(kind string, before time.Time, version int) string {
	day := before.UTC().Format(time.DateOnly)
	if version > 1 {
		return fmt.Sprintf("%s%s/%s.%d.jsonl", archivePrefix, kind, day, version)
	}
	return fmt.Sprintf("%s%s/%s.jsonl", archivePrefix, kind, day)
}

// marshalJSONL encodes each record as one compact JSON line.
func marshalJSONL[T any](records []T) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	for i := range records {
		if err := enc.Encode(records[i]); err != nil {
			return nil, fmt.Errorf("jsonl encode record %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}

var _ domain.Archiver = (*Archiver)(nil)
