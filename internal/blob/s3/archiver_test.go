package s3blob

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/stratbot/internal/domain"
	storemem "github.com/alanyoungcy/stratbot/internal/store/memory"
)

type memBlob struct {
	mu      sync.Mutex
	objects map[string][]byte
	types   map[string]string
	mtime   map[string]time.Time
}

func newMemBlob() *memBlob {
	return &memBlob{
		objects: make(map[string][]byte),
		types:   make(map[string]string),
		mtime:   make(map[string]time.Time),
	}
}

func (m *memBlob) Put(_ context.Context, key string, body []byte, contentType string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[key] = append([]byte(nil), body...)
	m.types[key] = contentType
	m.mtime[key] = time.Now()
	return nil
}

func (m *memBlob) Get(_ context.Context, key string) (io.ReadCloser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.objects[key]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return io.NopCloser(bytes.NewReader(b)), nil
}

func (m *memBlob) List(_ context.Context, prefix string) ([]domain.ArchiveObject, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.ArchiveObject
	for k, b := range m.objects {
		if strings.HasPrefix(k, prefix) {
			out = append(out, domain.ArchiveObject{Key: k, Size: int64(len(b)), LastModified: m.mtime[k]})
		}
	}
	return out, nil
}

func (m *memBlob) Exists(_ context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.objects[key]
	return ok, nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func seedClosedTrade(t *testing.T, store *storemem.TradeStore, closedAt time.Time) domain.Trade {
	t.Helper()
	entry, exit, profit := 100.0, 110.0, 10.0
	tr, err := store.Create(context.Background(), domain.Trade{
		StrategyID: "s1",
		Symbol:     "BTC/USDT",
		Side:       domain.TradeSideBuy,
		Status:     domain.TradeStatusClosed,
		Amount:     1,
		EntryPrice: &entry,
		ExitPrice:  &exit,
		Profit:     &profit,
		ClosedAt:   &closedAt,
	})
	require.NoError(t, err)
	return tr
}

func decodeLines(t *testing.T, data []byte) []map[string]any {
	t.Helper()
	var out []map[string]any
	sc := bufio.NewScanner(bytes.NewReader(data))
	for sc.Scan() {
		var row map[string]any
		require.NoError(t, json.Unmarshal(sc.Bytes(), &row))
		out = append(out, row)
	}
	return out
}

func TestArchivePath(t *testing.T) {
	cutoff := time.Date(2025, 1, 31, 23, 0, 0, 0, time.UTC)
	assert.Equal(t, "archive/trades/2025-01-31.jsonl", archivePath(KindTrades, cutoff, 1))
	assert.Equal(t, "archive/monitoring_snapshots/2025-01-31.jsonl", archivePath(KindSnapshots, cutoff, 1))
	assert.Equal(t, "archive/trades/2025-01-31.3.jsonl", archivePath(KindTrades, cutoff, 3))
}

func TestMarshalJSONL(t *testing.T) {
	buf, err := marshalJSONL([]map[string]string{{"a": "<b>"}, {"c": "d"}})
	require.NoError(t, err)
	assert.Equal(t, "{\"a\":\"<b>\"}\n{\"c\":\"d\"}\n", string(buf))
}

func TestArchiver_ArchiveTrades(t *testing.T) {
	ctx := context.Background()
	blob := newMemBlob()
	trades := storemem.NewTradeStore()
	audit := storemem.NewAuditStore()
	now := time.Now().UTC()

	old := seedClosedTrade(t, trades, now.Add(-48*time.Hour))
	seedClosedTrade(t, trades, now.Add(time.Hour))

	a := NewArchiver(blob, trades, storemem.NewMonitoringStore(), audit, ArchiverConfig{}, discardLogger())
	n, err := a.ArchiveTrades(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	path := archivePath(KindTrades, now, 1)
	rows := decodeLines(t, blob.objects[path])
	require.Len(t, rows, 1)
	assert.Equal(t, old.ID, rows[0]["id"])
	assert.Equal(t, "closed", rows[0]["status"])
	assert.Equal(t, jsonlContentType, blob.types[path])

	// without pruning the trade stays in the primary store
	_, err = trades.Get(ctx, old.ID)
	require.NoError(t, err)

	entries, err := audit.List(ctx, domain.ListOpts{})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "archive.trades", entries[0].Event)
}

func TestArchiver_PruneDeletesArchivedTrades(t *testing.T) {
	ctx := context.Background()
	blob := newMemBlob()
	trades := storemem.NewTradeStore()
	now := time.Now().UTC()
	old := seedClosedTrade(t, trades, now.Add(-time.Hour))

	a := NewArchiver(blob, trades, storemem.NewMonitoringStore(), storemem.NewAuditStore(),
		ArchiverConfig{Prune: true}, discardLogger())
	n, err := a.ArchiveTrades(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	_, err = trades.Get(ctx, old.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestArchiver_NothingToArchive(t *testing.T) {
	blob := newMemBlob()
	a := NewArchiver(blob, storemem.NewTradeStore(), storemem.NewMonitoringStore(), storemem.NewAuditStore(),
		ArchiverConfig{}, discardLogger())

	n, err := a.ArchiveTrades(context.Background(), time.Now())
	require.NoError(t, err)
	assert.Zero(t, n)
	n, err = a.ArchiveSnapshots(context.Background(), time.Now())
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Empty(t, blob.objects)
}

func TestArchiver_SnapshotsAndListing(t *testing.T) {
	ctx := context.Background()
	blob := newMemBlob()
	snaps := storemem.NewMonitoringStore()
	require.NoError(t, snaps.SaveSnapshot(ctx, domain.MonitoringStatus{StrategyID: "s1", Status: domain.MonitorStatusActive}))
	require.NoError(t, snaps.SaveSnapshot(ctx, domain.MonitoringStatus{StrategyID: "s2", Status: domain.MonitorStatusError}))

	a := NewArchiver(blob, storemem.NewTradeStore(), snaps, storemem.NewAuditStore(), ArchiverConfig{}, discardLogger())
	cutoff := time.Now().UTC().Add(time.Minute)
	n, err := a.ArchiveSnapshots(ctx, cutoff)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	require.NoError(t, blob.Put(ctx, "other/file.txt", []byte("x"), "text/plain"))
	infos, err := a.ListArchives(ctx)
	require.NoError(t, err)
	require.Len(t, infos, 1)
	assert.Equal(t, archivePath(KindSnapshots, cutoff, 1), infos[0].Key)
	assert.Equal(t, KindSnapshots, infos[0].Kind)

	body, err := a.OpenArchive(ctx, infos[0].Key)
	require.NoError(t, err)
	data, err := io.ReadAll(body)
	require.NoError(t, err)
	require.NoError(t, body.Close())
	assert.Len(t, decodeLines(t, data), 2)

	_, err = a.OpenArchive(ctx, "other/file.txt")
	assert.ErrorIs(t, err, domain.ErrNotFound)
	_, err = a.OpenArchive(ctx, "archive/../other/file.txt")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestArchiver_SameDayRerunGetsNewKey(t *testing.T) {
	ctx := context.Background()
	blob := newMemBlob()
	trades := storemem.NewTradeStore()
	now := time.Now().UTC()
	seedClosedTrade(t, trades, now.Add(-time.Hour))

	a := NewArchiver(blob, trades, storemem.NewMonitoringStore(), storemem.NewAuditStore(), ArchiverConfig{}, discardLogger())
	_, err := a.ArchiveTrades(ctx, now)
	require.NoError(t, err)
	_, err = a.ArchiveTrades(ctx, now)
	require.NoError(t, err)

	assert.Contains(t, blob.objects, archivePath(KindTrades, now, 1))
	assert.Contains(t, blob.objects, archivePath(KindTrades, now, 2))
}

func TestNormaliseEndpoint(t *testing.T) {
	assert.Equal(t, "https://minio:9000", normaliseEndpoint("https://minio:9000", false))
	assert.Equal(t, "http://minio:9000", normaliseEndpoint("minio:9000", false))
	assert.Equal(t, "https://e2.example.com", normaliseEndpoint("e2.example.com", true))
}
