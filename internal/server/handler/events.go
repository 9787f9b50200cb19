package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/alanyoungcy/stratbot/internal/domain"
)

// StreamReader reads the durable event streams.
type StreamReader interface {
	StreamRead(ctx context.Context, stream string, lastID string, count int) ([]domain.StreamMessage, error)
}

// EventsHandler replays durable trade events for clients that missed the
// live WebSocket feed.
type EventsHandler struct {
	streams StreamReader
	logger  *slog.Logger
}

// NewEventsHandler creates an EventsHandler.
func NewEventsHandler(streams StreamReader, logger *slog.Logger) *EventsHandler {
	return &EventsHandler{streams: streams, logger: logger}
}

type streamEvent struct {
	ID    string          `json:"id"`
	Event json.RawMessage `json:"event"`
}

// Trades returns trade events after the given stream id.
// GET /api/events/trades?after=0&count=100
func (h *EventsHandler) Trades(w http.ResponseWriter, r *http.Request) {
	after := r.URL.Query().Get("after")
	if after == "" {
		after = "0"
	}
	count := 100
	if v := r.URL.Query().Get("count"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > 1000 {
			writeError(w, http.StatusBadRequest, "count must be 1-1000")
			return
		}
		count = n
	}

	msgs, err := h.streams.StreamRead(r.Context(), domain.StreamTradeEvents, after, count)
	if err != nil {
		writeServiceError(w, r, h.logger, "read trade events", err)
		return
	}

	events := make([]streamEvent, 0, len(msgs))
	lastID := after
	for _, m := range msgs {
		if !json.Valid(m.Payload) {
			continue
		}
		events = append(events, streamEvent{ID: m.ID, Event: m.Payload})
		lastID = m.ID
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": events, "last_id": lastID})
}
