package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	cachemem "github.com/alanyoungcy/stratbot/internal/cache/memory"
	"github.com/alanyoungcy/stratbot/internal/domain"
	storemem "github.com/alanyoungcy/stratbot/internal/store/memory"
)

type fakeMarket struct {
	mu     sync.Mutex
	prices map[string]float64
	err    error
}

func (m *fakeMarket) set(symbol string, price float64) {
	m.mu.Lock()
	m.prices[symbol] = price
	m.mu.Unlock()
}

func (m *fakeMarket) GetPrice(_ context.Context, symbol string) (float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return 0, m.err
	}
	p, ok := m.prices[symbol]
	if !ok {
		return 0, fmt.Errorf("fake: %s: %w", symbol, domain.ErrUnsupportedSymbol)
	}
	return p, nil
}

func (m *fakeMarket) GetRecentCandles(context.Context, string, string, int) ([]domain.Candle, error) {
	return nil, nil
}

type failingTradeStore struct {
	*storemem.TradeStore
}

func (failingTradeStore) Create(context.Context, domain.Trade) (domain.Trade, error) {
	return domain.Trade{}, errors.New("db down")
}

type tradeFixture struct {
	svc    *TradeService
	ledger *BudgetLedger
	market *fakeMarket
	store  *storemem.TradeStore
	bus    *cachemem.SignalBus
	audit  *storemem.AuditStore
}

func newTradeFixture(t *testing.T) *tradeFixture {
	t.Helper()
	f := &tradeFixture{
		ledger: NewBudgetLedger(discardLogger()),
		market: &fakeMarket{prices: map[string]float64{"BTC/USDT": 100}},
		store:  storemem.NewTradeStore(),
		bus:    cachemem.NewSignalBus(0),
		audit:  storemem.NewAuditStore(),
	}
	f.svc = NewTradeService(f.store, f.ledger, f.market, f.bus, f.audit,
		cachemem.NewLockManager(), nil, discardLogger())
	_, err := f.ledger.Initialize("s1", 1000, 0)
	require.NoError(t, err)
	return f
}

func ptr(v float64) *float64 { return &v }

func buyTrade(amount float64, price *float64) domain.Trade {
	return domain.Trade{
		StrategyID: "s1",
		Symbol:     "BTC/USDT",
		Side:       domain.TradeSideBuy,
		Amount:     amount,
		EntryPrice: price,
	}
}

func TestTradeService_CreateReservesBudget(t *testing.T) {
	f := newTradeFixture(t)
	ctx := context.Background()

	tr, err := f.svc.Create(ctx, buyTrade(2, ptr(100)))
	require.NoError(t, err)
	assert.Equal(t, domain.TradeStatusPending, tr.Status)
	assert.NotEmpty(t, tr.ID)
	assert.InDelta(t, 200, tr.ReservedCost, 1e-9)
	assert.Nil(t, tr.ExecutedAt)
	assert.Nil(t, tr.OrderID)

	avail, err := f.ledger.Available("s1")
	require.NoError(t, err)
	assert.InDelta(t, 800, avail, 1e-9)

	entries, err := f.audit.List(ctx, domain.ListOpts{})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "trade.created", entries[0].Event)
}

func TestTradeService_CreateResolvesMissingEntryPrice(t *testing.T) {
	f := newTradeFixture(t)
	tr, err := f.svc.Create(context.Background(), buyTrade(1, nil))
	require.NoError(t, err)
	require.NotNil(t, tr.EntryPrice)
	assert.Equal(t, 100.0, *tr.EntryPrice)
}

func TestTradeService_CreateRejections(t *testing.T) {
	tests := []struct {
		name    string
		trade   domain.Trade
		wantErr error
	}{
		{name: "bad side", trade: domain.Trade{StrategyID: "s1", Symbol: "BTC/USDT", Side: "hold", Amount: 1, EntryPrice: ptr(1)}, wantErr: domain.ErrValidation},
		{name: "zero amount", trade: buyTrade(0, ptr(100)), wantErr: domain.ErrValidation},
		{name: "no symbol", trade: domain.Trade{StrategyID: "s1", Side: domain.TradeSideSell, Amount: 1, EntryPrice: ptr(1)}, wantErr: domain.ErrValidation},
		{name: "over budget", trade: buyTrade(11, ptr(100)), wantErr: domain.ErrInsufficientBudget},
		{name: "unknown strategy", trade: domain.Trade{StrategyID: "x", Symbol: "BTC/USDT", Side: domain.TradeSideBuy, Amount: 1, EntryPrice: ptr(1)}, wantErr: domain.ErrNotFound},
		{name: "unsupported symbol", trade: domain.Trade{StrategyID: "s1", Symbol: "NOPE", Side: domain.TradeSideBuy, Amount: 1}, wantErr: domain.ErrUnsupportedSymbol},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newTradeFixture(t)
			_, err := f.svc.Create(context.Background(), tt.trade)
			require.ErrorIs(t, err, tt.wantErr)

			list, err := f.store.List(context.Background(), domain.TradeFilter{})
			require.NoError(t, err)
			assert.Empty(t, list, "rejected trade must not be persisted")

			avail, err := f.ledger.Available("s1")
			require.NoError(t, err)
			assert.InDelta(t, 1000, avail, 1e-9)
		})
	}
}

func TestTradeService_CreatePersistFailureReleases(t *testing.T) {
	f := newTradeFixture(t)
	svc := NewTradeService(failingTradeStore{f.store}, f.ledger, f.market, f.bus, f.audit, nil, nil, discardLogger())

	_, err := svc.Create(context.Background(), buyTrade(1, ptr(100)))
	require.Error(t, err)

	avail, err := f.ledger.Available("s1")
	require.NoError(t, err)
	assert.InDelta(t, 1000, avail, 1e-9)
}

func TestTradeService_FullLifecycle(t *testing.T) {
	f := newTradeFixture(t)
	ctx := context.Background()

	tr, err := f.svc.Create(ctx, buyTrade(2, ptr(100)))
	require.NoError(t, err)

	f.market.set("BTC/USDT", 101)
	opened, err := f.svc.Execute(ctx, tr.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TradeStatusOpen, opened.Status)
	require.NotNil(t, opened.ExecutedAt)
	require.NotNil(t, opened.OrderID)
	assert.Contains(t, *opened.OrderID, "sim-")
	assert.Equal(t, 101.0, *opened.EntryPrice)
	assert.Equal(t, 100.0, opened.Metadata["requested_price"])

	f.market.set("BTC/USDT", 111)
	closed, err := f.svc.Close(ctx, tr.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TradeStatusClosed, closed.Status)
	require.NotNil(t, closed.Profit)
	// measured from the 101 fill, not the 100 request
	assert.InDelta(t, 20, *closed.Profit, 1e-9)
	assert.Equal(t, string(domain.CloseReasonManual), closed.Metadata["close_reason"])

	b, err := f.ledger.Budget("s1")
	require.NoError(t, err)
	assert.InDelta(t, 0, b.Allocated, 1e-9)
	assert.InDelta(t, 1020, b.Available, 1e-9)
	assert.InDelta(t, b.Total+b.RealizedProfit, b.Allocated+b.Available, 1e-9)
}

func TestTradeService_SellProfitAndCloseAt(t *testing.T) {
	f := newTradeFixture(t)
	ctx := context.Background()

	tr, err := f.svc.Create(ctx, domain.Trade{
		StrategyID: "s1", Symbol: "BTC/USDT", Side: domain.TradeSideSell, Amount: 3, EntryPrice: ptr(100),
	})
	require.NoError(t, err)
	_, err = f.svc.Execute(ctx, tr.ID)
	require.NoError(t, err)

	closed, err := f.svc.CloseAt(ctx, tr.ID, 110, domain.CloseReasonStopLoss)
	require.NoError(t, err)
	assert.InDelta(t, -30, *closed.Profit, 1e-9)
	assert.Equal(t, string(domain.CloseReasonStopLoss), closed.Metadata["close_reason"])

	avail, err := f.ledger.Available("s1")
	require.NoError(t, err)
	assert.InDelta(t, 970, avail, 1e-9)
}

func TestTradeService_ExecuteFallsBackToEntryPrice(t *testing.T) {
	f := newTradeFixture(t)
	ctx := context.Background()

	tr, err := f.svc.Create(ctx, buyTrade(1, ptr(95)))
	require.NoError(t, err)

	f.market.err = errors.New("exchange unreachable")
	opened, err := f.svc.Execute(ctx, tr.ID)
	require.NoError(t, err)
	assert.Equal(t, 95.0, *opened.EntryPrice)
}

func TestTradeService_InvalidTransitions(t *testing.T) {
	f := newTradeFixture(t)
	ctx := context.Background()

	tr, err := f.svc.Create(ctx, buyTrade(1, ptr(100)))
	require.NoError(t, err)

	_, err = f.svc.Close(ctx, tr.ID)
	assert.ErrorIs(t, err, domain.ErrInvalidState, "close pending")

	_, err = f.svc.Execute(ctx, tr.ID)
	require.NoError(t, err)
	_, err = f.svc.Execute(ctx, tr.ID)
	assert.ErrorIs(t, err, domain.ErrInvalidState, "execute open")
	assert.ErrorIs(t, f.svc.Delete(ctx, tr.ID), domain.ErrInvalidState, "delete open")

	_, err = f.svc.Close(ctx, tr.ID)
	require.NoError(t, err)
	_, err = f.svc.Close(ctx, tr.ID)
	assert.ErrorIs(t, err, domain.ErrInvalidState, "close closed")

	_, err = f.svc.Execute(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestTradeService_DeletePendingReleases(t *testing.T) {
	f := newTradeFixture(t)
	ctx := context.Background()

	tr, err := f.svc.Create(ctx, buyTrade(3, ptr(100)))
	require.NoError(t, err)
	require.NoError(t, f.svc.Delete(ctx, tr.ID))

	avail, err := f.ledger.Available("s1")
	require.NoError(t, err)
	assert.InDelta(t, 1000, avail, 1e-9)

	_, err = f.svc.Get(ctx, tr.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestTradeService_ConcurrentCloseReleasesOnce(t *testing.T) {
	f := newTradeFixture(t)
	ctx := context.Background()

	tr, err := f.svc.Create(ctx, buyTrade(2, ptr(100)))
	require.NoError(t, err)
	_, err = f.svc.Execute(ctx, tr.ID)
	require.NoError(t, err)

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := f.svc.CloseAt(ctx, tr.ID, 100, domain.CloseReasonManual); err == nil {
				mu.Lock()
				successes++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, successes)
	b, err := f.ledger.Budget("s1")
	require.NoError(t, err)
	assert.InDelta(t, 1000, b.Available, 1e-9)
	assert.InDelta(t, 0, b.Allocated, 1e-9)
}

func TestTradeService_PublishesEvents(t *testing.T) {
	f := newTradeFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	events, err := f.bus.Subscribe(ctx, domain.ChannelTrades)
	require.NoError(t, err)

	tr, err := f.svc.Create(ctx, buyTrade(1, ptr(100)))
	require.NoError(t, err)

	var evt map[string]any
	require.NoError(t, json.Unmarshal(<-events, &evt))
	assert.Equal(t, "trade_created", evt["event"])
	assert.Equal(t, tr.ID, evt["trade_id"])

	msgs, err := f.bus.StreamRead(ctx, domain.StreamTradeEvents, "0", 10)
	require.NoError(t, err)
	assert.Len(t, msgs, 1)
}

func TestTradeService_ListActive(t *testing.T) {
	f := newTradeFixture(t)
	ctx := context.Background()

	a, err := f.svc.Create(ctx, buyTrade(1, ptr(100)))
	require.NoError(t, err)
	b, err := f.svc.Create(ctx, buyTrade(1, ptr(100)))
	require.NoError(t, err)
	_, err = f.svc.Execute(ctx, b.ID)
	require.NoError(t, err)
	_, err = f.svc.Close(ctx, b.ID)
	require.NoError(t, err)

	active, err := f.svc.ListActive(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, a.ID, active[0].ID)
}
