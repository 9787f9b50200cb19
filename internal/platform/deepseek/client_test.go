package deepseek

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/stratbot/internal/domain"
)

func completionServer(t *testing.T, reply string, status int) (*Client, *chatRequest) {
	t.Helper()
	var got chatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{{"message": map[string]string{"role": "assistant", "content": reply}}},
		})
	}))
	t.Cleanup(srv.Close)
	return NewClient(Config{APIURL: srv.URL, APIKey: "sk-test"}), &got
}

func TestParseSignals(t *testing.T) {
	reply := "Here are the trades:\n```json\n[" +
		`{"asset":"btc/usdt","direction":"buy","entry_price":100,"stop_loss":95,"take_profit":110,"position_size":2,"confidence":0.9,"conditions_met":["rsi"]},` +
		`{"asset":"ETH/USDT","direction":"SELL","entry_price":10,"position_size":1},` +
		`{"asset":"","direction":"buy","entry_price":10,"position_size":1},` +
		`{"asset":"SOL/USDT","direction":"buy","entry_price":0,"position_size":1},` +
		`{"asset":"SOL/USDT","direction":"hold","entry_price":5,"position_size":1}` +
		"]\n```\nGood luck."

	signals, err := ParseSignals(reply)
	require.NoError(t, err)
	require.Len(t, signals, 2)

	assert.Equal(t, "BTC/USDT", signals[0].Symbol)
	assert.Equal(t, domain.TradeSideBuy, signals[0].Side)
	assert.Equal(t, 200.0, signals[0].Cost())
	require.NotNil(t, signals[0].StopLoss)
	assert.Equal(t, 95.0, *signals[0].StopLoss)
	assert.Equal(t, 0.9, *signals[0].Confidence)
	assert.Equal(t, []string{"rsi"}, signals[0].ConditionsMet)
	assert.Equal(t, SourceName, signals[0].Source)

	assert.Equal(t, domain.TradeSideSell, signals[1].Side)
	assert.Nil(t, signals[1].StopLoss)
	assert.Nil(t, signals[1].TakeProfit)
	assert.Equal(t, 0.5, *signals[1].Confidence)
}

func TestParseSignals_NoArray(t *testing.T) {
	_, err := ParseSignals("I cannot help with that.")
	assert.ErrorIs(t, err, domain.ErrUpstream)

	signals, err := ParseSignals("[]")
	require.NoError(t, err)
	assert.Empty(t, signals)
}

func TestParseConfig(t *testing.T) {
	cfg, err := ParseConfig(`Sure: {"indicatorType":"macd","tradeParameters":{"positionSize":0.05,"maxOpenPositions":2,"stopLoss":0.02,"takeProfit":0.04}} done`)
	require.NoError(t, err)
	assert.Equal(t, "macd", cfg.IndicatorType)
	assert.Equal(t, 2, cfg.TradeParameters.MaxOpenPositions)
	assert.Equal(t, 0.04, cfg.TradeParameters.TakeProfit)
}

func TestClient_GenerateSignals(t *testing.T) {
	c, got := completionServer(t, `[{"asset":"BTC/USDT","direction":"buy","entry_price":100,"position_size":1}]`, http.StatusOK)

	signals, err := c.GenerateSignals(context.Background(), domain.SignalRequest{
		Strategy:        domain.Strategy{Symbols: []string{"BTC/USDT"}, Config: domain.StrategyConfig{IndicatorType: "rsi"}},
		Snapshot:        domain.MarketSnapshot{"BTC/USDT": {Symbol: "BTC/USDT", Price: 100}},
		AvailableBudget: 500,
	})
	require.NoError(t, err)
	require.Len(t, signals, 1)

	assert.Equal(t, "deepseek-chat", got.Model)
	assert.Equal(t, 0.3, got.Temperature)
	assert.Equal(t, 1000, got.MaxTokens)
	require.Len(t, got.Messages, 1)
	assert.Contains(t, got.Messages[0].Content, "500.00 USDT")
	assert.Contains(t, got.Messages[0].Content, `"indicatorType": "rsi"`)
}

func TestClient_AdaptStrategy(t *testing.T) {
	c, _ := completionServer(t, `{"indicatorType":"bollinger","tradeParameters":{"stopLoss":0.03}}`, http.StatusOK)

	cfg, err := c.AdaptStrategy(context.Background(), domain.Strategy{}, nil)
	require.NoError(t, err)
	assert.Equal(t, "bollinger", cfg.IndicatorType)
	assert.Equal(t, 0.03, cfg.TradeParameters.StopLoss)
}

func TestClient_ErrorStatus(t *testing.T) {
	c, _ := completionServer(t, "", http.StatusUnauthorized)

	_, err := c.GenerateSignals(context.Background(), domain.SignalRequest{})
	assert.ErrorIs(t, err, domain.ErrUpstream)
}
