package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/stratbot/internal/domain"
)

// StrategyService is what the strategy handler needs from the service layer.
type StrategyService interface {
	List(ctx context.Context, filter domain.StrategyFilter) ([]domain.Strategy, error)
	Get(ctx context.Context, id string) (domain.Strategy, error)
	Create(ctx context.Context, st domain.Strategy) (domain.Strategy, error)
	Update(ctx context.Context, st domain.Strategy) (domain.Strategy, error)
	Delete(ctx context.Context, id string) error
	Activate(ctx context.Context, id string) (domain.Strategy, error)
	Deactivate(ctx context.Context, id string) (domain.Strategy, error)
	Adapt(ctx context.Context, id string) (domain.Strategy, error)
}

// BudgetSource reports ledger entries of running strategies.
type BudgetSource interface {
	Budget(id string) (domain.StrategyBudget, error)
}

// StrategyHandler serves strategy CRUD and lifecycle endpoints.
type StrategyHandler struct {
	strategies StrategyService
	budgets    BudgetSource // nil in API-only processes
	logger     *slog.Logger
}

// NewStrategyHandler creates a StrategyHandler. budgets may be nil.
func NewStrategyHandler(strategies StrategyService, budgets BudgetSource, logger *slog.Logger) *StrategyHandler {
	return &StrategyHandler{strategies: strategies, budgets: budgets, logger: logger}
}

type listStrategiesResponse struct {
	Strategies []domain.Strategy `json:"strategies"`
}

// List returns strategies.
// GET /api/strategies?status=active&user_id=...&limit=50&offset=0
func (h *StrategyHandler) List(w http.ResponseWriter, r *http.Request) {
	opts, err := parseListOpts(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	q := r.URL.Query()
	filter := domain.StrategyFilter{
		UserID:   q.Get("user_id"),
		Status:   domain.StrategyStatus(q.Get("status")),
		ListOpts: opts,
	}

	out, err := h.strategies.List(r.Context(), filter)
	if err != nil {
		writeServiceError(w, r, h.logger, "list strategies", err)
		return
	}
	if out == nil {
		out = []domain.Strategy{}
	}
	writeJSON(w, http.StatusOK, listStrategiesResponse{Strategies: out})
}

// Get returns one strategy.
// GET /api/strategies/{id}
func (h *StrategyHandler) Get(w http.ResponseWriter, r *http.Request) {
	st, err := h.strategies.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		writeServiceError(w, r, h.logger, "get strategy", err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// Create stores a new inactive strategy.
// POST /api/strategies
func (h *StrategyHandler) Create(w http.ResponseWriter, r *http.Request) {
	var st domain.Strategy
	if err := decodeJSON(w, r, &st); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	created, err := h.strategies.Create(r.Context(), st)
	if err != nil {
		writeServiceError(w, r, h.logger, "create strategy", err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

// Update replaces the editable fields of a strategy.
// PUT /api/strategies/{id}
func (h *StrategyHandler) Update(w http.ResponseWriter, r *http.Request) {
	var st domain.Strategy
	if err := decodeJSON(w, r, &st); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	st.ID = r.PathValue("id")
	updated, err := h.strategies.Update(r.Context(), st)
	if err != nil {
		writeServiceError(w, r, h.logger, "update strategy", err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

// Delete deactivates and removes a strategy.
// DELETE /api/strategies/{id}
func (h *StrategyHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := h.strategies.Delete(r.Context(), id); err != nil {
		writeServiceError(w, r, h.logger, "delete strategy", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted", "strategy_id": id})
}

// Activate starts a strategy.
// POST /api/strategies/{id}/activate
func (h *StrategyHandler) Activate(w http.ResponseWriter, r *http.Request) {
	st, err := h.strategies.Activate(r.Context(), r.PathValue("id"))
	if err != nil {
		writeServiceError(w, r, h.logger, "activate strategy", err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// Deactivate stops a strategy.
// POST /api/strategies/{id}/deactivate
func (h *StrategyHandler) Deactivate(w http.ResponseWriter, r *http.Request) {
	st, err := h.strategies.Deactivate(r.Context(), r.PathValue("id"))
	if err != nil {
		writeServiceError(w, r, h.logger, "deactivate strategy", err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// Adapt asks the AI provider for a new configuration.
// POST /api/strategies/{id}/adapt
func (h *StrategyHandler) Adapt(w http.ResponseWriter, r *http.Request) {
	st, err := h.strategies.Adapt(r.Context(), r.PathValue("id"))
	if err != nil {
		writeServiceError(w, r, h.logger, "adapt strategy", err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// Budget returns the ledger entry of a running strategy.
// GET /api/strategies/{id}/budget
func (h *StrategyHandler) Budget(w http.ResponseWriter, r *http.Request) {
	if h.budgets == nil {
		writeError(w, http.StatusNotImplemented, "budget ledger not available in this process")
		return
	}
	b, err := h.budgets.Budget(r.PathValue("id"))
	if err != nil {
		writeServiceError(w, r, h.logger, "get budget", err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}
