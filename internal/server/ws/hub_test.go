package ws

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	cachemem "github.com/alanyoungcy/stratbot/internal/cache/memory"
	"github.com/alanyoungcy/stratbot/internal/domain"
)

type staticStatus struct{}

func (staticStatus) ActiveStrategies() []domain.Strategy { return []domain.Strategy{{ID: "s1"}} }
func (staticStatus) ActiveTradeCount() int               { return 4 }

func startHub(t *testing.T) (*Hub, *cachemem.SignalBus, string) {
	t.Helper()
	bus := cachemem.NewSignalBus(0)
	hub := NewHub(bus, staticStatus{}, Config{Mode: "full"}, slog.New(slog.NewTextHandler(io.Discard, nil)))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = hub.Run(ctx)
	}()

	srv := httptest.NewServer(http.HandlerFunc(hub.HandleWS))
	t.Cleanup(func() {
		srv.Close()
		cancel()
		<-done
	})
	return hub, bus, "ws" + strings.TrimPrefix(srv.URL, "http")
}

func readEnvelope(t *testing.T, conn *websocket.Conn) Envelope {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	mt, data, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, websocket.TextMessage, mt)
	var env Envelope
	require.NoError(t, json.Unmarshal(data, &env))
	return env
}

func TestHub_HelloThenEvents(t *testing.T) {
	hub, bus, url := startHub(t)

	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	hello := readEnvelope(t, conn)
	assert.Equal(t, "hello", hello.Type)
	var payload map[string]any
	require.NoError(t, json.Unmarshal(hello.Payload, &payload))
	assert.Equal(t, "full", payload["mode"])
	assert.EqualValues(t, 1, payload["active_strategies"])
	assert.EqualValues(t, 4, payload["active_trades"])

	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, time.Second, 5*time.Millisecond)

	require.NoError(t, bus.Publish(context.Background(), domain.ChannelTrades, []byte(`{"event":"trade_created"}`)))
	env := readEnvelope(t, conn)
	assert.Equal(t, "event", env.Type)
	assert.Equal(t, domain.ChannelTrades, env.Channel)
	assert.JSONEq(t, `{"event":"trade_created"}`, string(env.Payload))
}

func TestHub_Unsubscribe(t *testing.T) {
	hub, bus, url := startHub(t)

	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()
	readEnvelope(t, conn)
	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, time.Second, 5*time.Millisecond)

	require.NoError(t, conn.WriteJSON(subscribeMsg{Action: "unsubscribe", Channels: []string{domain.ChannelPrices}}))

	// the unsubscribe is applied asynchronously; publish on the dropped
	// channel until the next frame comes from the one still subscribed
	require.Eventually(t, func() bool {
		var c *client
		hub.mu.RLock()
		for cl := range hub.clients {
			c = cl
		}
		hub.mu.RUnlock()
		return c != nil && !c.isSubscribed(domain.ChannelPrices)
	}, time.Second, 5*time.Millisecond)

	ctx := context.Background()
	require.NoError(t, bus.Publish(ctx, domain.ChannelPrices, []byte(`{"price":1}`)))
	require.NoError(t, bus.Publish(ctx, domain.ChannelStatus, []byte(`{"status":"active"}`)))

	env := readEnvelope(t, conn)
	assert.Equal(t, domain.ChannelStatus, env.Channel)
}

func TestHub_CheckOrigin(t *testing.T) {
	h := NewHub(cachemem.NewSignalBus(0), nil, Config{AllowedOrigins: []string{"https://app.example.com"}},
		slog.New(slog.NewTextHandler(io.Discard, nil)))

	req := httptest.NewRequest(http.MethodGet, "/ws", nil)
	assert.True(t, h.checkOrigin(req))
	req.Header.Set("Origin", "https://app.example.com")
	assert.True(t, h.checkOrigin(req))
	req.Header.Set("Origin", "https://other.example.com")
	assert.False(t, h.checkOrigin(req))
}
