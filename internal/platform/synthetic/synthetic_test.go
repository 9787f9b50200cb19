package synthetic

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/stratbot/internal/domain"
)

func TestBasePrice(t *testing.T) {
	assert.Equal(t, 50000.0, BasePrice("BTC/USDT"))
	assert.Equal(t, 0.1, BasePrice("doge/usdt"))
	assert.Equal(t, 100.0, BasePrice("FOO/USDT"))
}

func TestExchange_GetPrice(t *testing.T) {
	ex := NewExchange(7)
	for i := 0; i < 50; i++ {
		p, err := ex.GetPrice(context.Background(), "ETH/USDT")
		require.NoError(t, err)
		assert.InDelta(t, 3000, p, 30.0001)
	}

	_, err := ex.GetPrice(context.Background(), "ETHUSDT")
	assert.ErrorIs(t, err, domain.ErrUnsupportedSymbol)
}

func TestExchange_GetRecentCandles(t *testing.T) {
	ex := NewExchange(11)
	candles, err := ex.GetRecentCandles(context.Background(), "SOL/USDT", "4h", 50)
	require.NoError(t, err)
	require.Len(t, candles, 50)

	for i, c := range candles {
		assert.Equal(t, "SOL/USDT", c.Symbol)
		assert.GreaterOrEqual(t, c.High, c.Open)
		assert.GreaterOrEqual(t, c.High, c.Close)
		assert.LessOrEqual(t, c.Low, c.Open)
		assert.LessOrEqual(t, c.Low, c.Close)
		assert.Greater(t, c.Volume, 0.0)
		if i > 0 {
			assert.Equal(t, 4*60, int(c.OpenTime.Sub(candles[i-1].OpenTime).Minutes()))
		}
	}

	empty, err := ex.GetRecentCandles(context.Background(), "SOL/USDT", "1h", 0)
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestAI_GenerateSignals(t *testing.T) {
	ai := NewAI(3)
	req := domain.SignalRequest{
		Strategy:        domain.Strategy{Symbols: []string{"BTC/USDT", "ETH/USDT"}},
		Snapshot:        domain.MarketSnapshot{"BTC/USDT": {Price: 60000}},
		AvailableBudget: 1000,
	}

	for i := 0; i < 20; i++ {
		signals, err := ai.GenerateSignals(context.Background(), req)
		require.NoError(t, err)
		require.GreaterOrEqual(t, len(signals), 1)
		require.LessOrEqual(t, len(signals), 3)

		for _, s := range signals {
			assert.Contains(t, req.Strategy.Symbols, s.Symbol)
			assert.True(t, s.Side.Valid())
			cost := s.Cost()
			assert.GreaterOrEqual(t, cost, 10.0-1e-6)
			assert.LessOrEqual(t, cost, 100.0+1e-6)
			require.NotNil(t, s.Confidence)
			assert.GreaterOrEqual(t, *s.Confidence, 0.5)
			assert.Equal(t, SourceName, s.Source)

			require.NotNil(t, s.StopLoss)
			require.NotNil(t, s.TakeProfit)
			if s.Side == domain.TradeSideBuy {
				assert.Less(t, *s.StopLoss, s.Price)
				assert.Greater(t, *s.TakeProfit, s.Price)
			} else {
				assert.Greater(t, *s.StopLoss, s.Price)
				assert.Less(t, *s.TakeProfit, s.Price)
			}
		}
	}
}

func TestAI_GenerateSignalsWithoutSymbols(t *testing.T) {
	signals, err := NewAI(1).GenerateSignals(context.Background(), domain.SignalRequest{AvailableBudget: 100})
	require.NoError(t, err)
	assert.Empty(t, signals)
}

func TestAI_AdaptStrategy(t *testing.T) {
	st := domain.Strategy{Config: domain.StrategyConfig{
		IndicatorType:   "rsi",
		TradeParameters: domain.TradeParameters{PositionSize: 0.1, StopLoss: 0.02, TakeProfit: 0.05, MaxOpenPositions: 3},
	}}

	cfg, err := NewAI(5).AdaptStrategy(context.Background(), st, nil)
	require.NoError(t, err)
	assert.Equal(t, "rsi", cfg.IndicatorType)
	assert.Equal(t, 3, cfg.TradeParameters.MaxOpenPositions)
	assert.InDelta(t, 0.1, cfg.TradeParameters.PositionSize, 0.02+1e-9)
	assert.InDelta(t, 0.02, cfg.TradeParameters.StopLoss, 0.002+1e-9)
	assert.InDelta(t, 0.05, cfg.TradeParameters.TakeProfit, 0.01+1e-9)
}
