package handler

import (
	"net/http"
	"time"

	"github.com/alanyoungcy/stratbot/internal/domain"
)

// RuntimeInfo is the view of the background coordinator the status endpoint
// reports on. It is nil when the coordinator runs in another process.
type RuntimeInfo interface {
	ActiveStrategies() []domain.Strategy
	Budgets() []domain.StrategyBudget
	ActiveTradeCount() int
}

// StatusHandler serves process status.
type StatusHandler struct {
	mode      string
	version   string
	startedAt time.Time
	runtime   RuntimeInfo
}

// NewStatusHandler creates a StatusHandler. runtime may be nil.
func NewStatusHandler(mode, version string, startedAt time.Time, runtime RuntimeInfo) *StatusHandler {
	return &StatusHandler{mode: mode, version: version, startedAt: startedAt, runtime: runtime}
}

// GetStatus responds with mode, uptime and a summary of running strategies.
// GET /api/status
func (h *StatusHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	resp := map[string]any{
		"mode":           h.mode,
		"version":        h.version,
		"started_at":     h.startedAt.UTC().Format(time.RFC3339),
		"uptime_seconds": int64(time.Since(h.startedAt).Seconds()),
		"runtime":        h.runtime != nil,
	}
	if h.runtime != nil {
		active := h.runtime.ActiveStrategies()
		ids := make([]string, 0, len(active))
		for _, st := range active {
			ids = append(ids, st.ID)
		}
		var allocated, available float64
		for _, b := range h.runtime.Budgets() {
			allocated += b.Allocated
			available += b.Available
		}
		resp["active_strategies"] = ids
		resp["active_trades"] = h.runtime.ActiveTradeCount()
		resp["budget_allocated"] = allocated
		resp["budget_available"] = available
	}
	writeJSON(w, http.StatusOK, resp)
}
