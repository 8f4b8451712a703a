package handler

import (
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/marketsettle/internal/domain"
)

// ArchiveHandler serves the admin endpoint that exports settlement snapshots
// to blob storage.
type ArchiveHandler struct {
	archiver domain.Archiver
	logger   *slog.Logger
}

// NewArchiveHandler creates an ArchiveHandler with the given archiver and
// logger.
func NewArchiveHandler(archiver domain.Archiver, logger *slog.Logger) *ArchiveHandler {
	return &ArchiveHandler{archiver: archiver, logger: logger}
}

// ArchiveMarket exports a finished market's settlement snapshot.
// POST /api/admin/markets/{id}/archive
func (h *ArchiveHandler) ArchiveMarket(w http.ResponseWriter, r *http.Request) {
	marketID, err := pathHash(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	path, err := h.archiver.ArchiveMarket(r.Context(), marketID)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: archive market failed",
			slog.String("market_id", marketID.Hex()),
			slog.String("error", err.Error()),
		)
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"path": path})
}
