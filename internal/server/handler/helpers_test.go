package handler

import (
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/stratbot/internal/domain"
)

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{domain.ErrValidation, http.StatusBadRequest},
		{domain.ErrUnsupportedSymbol, http.StatusBadRequest},
		{domain.ErrNotFound, http.StatusNotFound},
		{domain.ErrInvalidState, http.StatusConflict},
		{domain.ErrLockHeld, http.StatusConflict},
		{domain.ErrInsufficientBudget, http.StatusUnprocessableEntity},
		{domain.ErrCapacityExceeded, http.StatusTooManyRequests},
		{domain.ErrRateLimited, http.StatusTooManyRequests},
		{domain.ErrUnauthorized, http.StatusUnauthorized},
		{domain.ErrUpstream, http.StatusBadGateway},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			wrapped := fmt.Errorf("trade_service: close: %w", tt.err)
			assert.Equal(t, tt.want, statusFor(wrapped))
		})
	}
}

func TestParseListOpts(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/x?limit=1000&offset=5&since=2024-01-02T03:04:05Z", nil)
	opts, err := parseListOpts(req)
	require.NoError(t, err)
	assert.Equal(t, 500, opts.Limit)
	assert.Equal(t, 5, opts.Offset)
	require.NotNil(t, opts.Since)
	assert.Equal(t, 2024, opts.Since.Year())
	assert.Nil(t, opts.Until)

	req = httptest.NewRequest(http.MethodGet, "/x?limit=-3&offset=abc", nil)
	opts, err = parseListOpts(req)
	require.NoError(t, err)
	assert.Equal(t, 50, opts.Limit)
	assert.Equal(t, 0, opts.Offset)

	req = httptest.NewRequest(http.MethodGet, "/x?until=yesterday", nil)
	_, err = parseListOpts(req)
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestSymbolParam(t *testing.T) {
	for in, want := range map[string]string{
		"btc-usdt": "BTC/USDT",
		"ETH_USDT": "ETH/USDT",
		"SOLUSDT":  "SOLUSDT",
	} {
		req := httptest.NewRequest(http.MethodGet, "/api/market/x/price", nil)
		req.SetPathValue("symbol", in)
		assert.Equal(t, want, symbolParam(req))
	}
}
