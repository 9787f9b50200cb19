package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/stratbot/internal/domain"
	"github.com/alanyoungcy/stratbot/internal/scheduler"
)

// MonitoringRuntime is the coordinator view used by monitoring endpoints.
type MonitoringRuntime interface {
	StrategyStatuses() []domain.MonitoringStatus
	StrategyStatus(id string) (domain.MonitoringStatus, bool)
	TaskStatuses() []scheduler.TaskStatus
	AnalyzeMarketFit(ctx context.Context, id string) (domain.MarketFit, error)
}

// MonitoringHandler serves live monitoring status and snapshot history.
type MonitoringHandler struct {
	runtime MonitoringRuntime   // nil in API-only processes
	history domain.MonitoringStore
	logger  *slog.Logger
}

// NewMonitoringHandler creates a MonitoringHandler. runtime may be nil, in
// which case only history is served.
func NewMonitoringHandler(runtime MonitoringRuntime, history domain.MonitoringStore, logger *slog.Logger) *MonitoringHandler {
	return &MonitoringHandler{runtime: runtime, history: history, logger: logger}
}

func (h *MonitoringHandler) requireRuntime(w http.ResponseWriter) bool {
	if h.runtime == nil {
		writeError(w, http.StatusNotImplemented, "background runtime not available in this process")
		return false
	}
	return true
}

// Statuses returns the status of every running strategy.
// GET /api/monitoring/status
func (h *MonitoringHandler) Statuses(w http.ResponseWriter, r *http.Request) {
	if !h.requireRuntime(w) {
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"statuses": h.runtime.StrategyStatuses()})
}

// Status returns the status of one running strategy.
// GET /api/monitoring/status/{id}
func (h *MonitoringHandler) Status(w http.ResponseWriter, r *http.Request) {
	if !h.requireRuntime(w) {
		return
	}
	st, ok := h.runtime.StrategyStatus(r.PathValue("id"))
	if !ok {
		writeError(w, http.StatusNotFound, "strategy is not running")
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// History returns persisted snapshots of a strategy, newest first.
// GET /api/monitoring/history/{id}?since=...&limit=50
func (h *MonitoringHandler) History(w http.ResponseWriter, r *http.Request) {
	opts, err := parseListOpts(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	snaps, err := h.history.ListSnapshots(r.Context(), r.PathValue("id"), opts)
	if err != nil {
		writeServiceError(w, r, h.logger, "list monitoring history", err)
		return
	}
	if snaps == nil {
		snaps = []domain.MonitoringSnapshot{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"snapshots": snaps})
}

// Tasks returns every scheduled background task.
// GET /api/monitoring/tasks
func (h *MonitoringHandler) Tasks(w http.ResponseWriter, r *http.Request) {
	if !h.requireRuntime(w) {
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"tasks": h.runtime.TaskStatuses()})
}

// MarketFit runs an on-demand market-fit analysis.
// GET /api/monitoring/market-fit/{id}
func (h *MonitoringHandler) MarketFit(w http.ResponseWriter, r *http.Request) {
	if !h.requireRuntime(w) {
		return
	}
	fit, err := h.runtime.AnalyzeMarketFit(r.Context(), r.PathValue("id"))
	if err != nil {
		writeServiceError(w, r, h.logger, "analyze market fit", err)
		return
	}
	writeJSON(w, http.StatusOK, fit)
}
