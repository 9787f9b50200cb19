package handler

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"path"

	"github.com/alanyoungcy/stratbot/internal/domain"
)

// ArchiveBrowser lists and opens archive files in cold storage.
type ArchiveBrowser interface {
	ListArchives(ctx context.Context) ([]domain.ArchiveObject, error)
	OpenArchive(ctx context.Context, key string) (io.ReadCloser, error)
}

// ArchiveHandler serves the archive listing and downloads.
type ArchiveHandler struct {
	archives ArchiveBrowser // nil when archiving is disabled
	logger   *slog.Logger
}

// NewArchiveHandler creates an ArchiveHandler. archives may be nil.
func NewArchiveHandler(archives ArchiveBrowser, logger *slog.Logger) *ArchiveHandler {
	return &ArchiveHandler{archives: archives, logger: logger}
}

// List returns archive files, newest first.
// GET /api/archives
func (h *ArchiveHandler) List(w http.ResponseWriter, r *http.Request) {
	if h.archives == nil {
		writeJSON(w, http.StatusOK, map[string]any{"enabled": false, "archives": []domain.ArchiveObject{}})
		return
	}
	objs, err := h.archives.ListArchives(r.Context())
	if err != nil {
		writeServiceError(w, r, h.logger, "list archives", err)
		return
	}
	if objs == nil {
		objs = []domain.ArchiveObject{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"enabled": true, "archives": objs})
}

// Download streams one JSONL archive file.
// GET /api/archives/{kind}/{file}
func (h *ArchiveHandler) Download(w http.ResponseWriter, r *http.Request) {
	if h.archives == nil {
		writeError(w, http.StatusNotFound, "archiving is disabled")
		return
	}
	key := path.Join("archive", r.PathValue("kind"), r.PathValue("file"))
	body, err := h.archives.OpenArchive(r.Context(), key)
	if err != nil {
		writeServiceError(w, r, h.logger, "open archive", err)
		return
	}
	defer body.Close()

	w.Header().Set("Content-Type", "application/x-ndjson")
	w.Header().Set("Content-Disposition", `attachment; filename="`+path.Base(key)+`"`)
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, body); err != nil {
		h.logger.WarnContext(r.Context(), "archive download interrupted",
			slog.String("key", key),
			slog.String("error", err.Error()),
		)
	}
}
