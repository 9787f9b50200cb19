package postgres

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/alanyoungcy/stratbot/internal/domain"
)

func TestWhereBuilder(t *testing.T) {
	var w whereBuilder
	assert.Empty(t, w.sql())

	since := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	w.add("strategy_id = ?", "s1")
	w.add("status = ANY(?)", []string{"open"})
	w.window("created_at", domain.ListOpts{Since: &since})
	page := w.page(domain.ListOpts{Limit: 10, Offset: 20})

	assert.Equal(t, " WHERE strategy_id = $1 AND status = ANY($2) AND created_at >= $3", w.sql())
	assert.Equal(t, " LIMIT $4 OFFSET $5", page)
	assert.Equal(t, []any{"s1", []string{"open"}, since, 10, 20}, w.args)
}

func TestDSN(t *testing.T) {
	assert.Equal(t, "postgres://u:p@db:5432/app?sslmode=require",
		DSN(ClientConfig{User: "u", Password: "p", Host: "db", Database: "app"}))
	assert.Equal(t, "postgres://x", DSN(ClientConfig{DSN: "postgres://x", Host: "ignored"}))
}
