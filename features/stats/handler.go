package stats

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"lexio/internal/middleware"
)

type DocumentRepo interface {
	Count(ctx context.Context) (int, error)
	CountByStatus(ctx context.Context) (map[string]int, error)
}

type PageStore interface {
	CountPages(ctx context.Context) (int64, error)
}

type VectorIndex interface {
	CountObjects(ctx context.Context) (int, error)
}

type Handler struct {
	documents DocumentRepo
	pages     PageStore
	index     VectorIndex
}

func NewHandler(d DocumentRepo, p PageStore, v VectorIndex) *Handler {
	return &Handler{documents: d, pages: p, index: v}
}

type StatsResponse struct {
	Documents         int            `json:"documents"`
	DocumentsByStatus map[string]int `json:"documents_by_status"`
	Pages             int64          `json:"pages"`
	Vectors           int            `json:"vectors"`
}

func (h *Handler) GetStats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	correlationID := middleware.GetCorrelationID(ctx)

	dCount, err := h.documents.Count(ctx)
	if err != nil {
		slog.ErrorContext(ctx, "failed to count documents", "error", err, "correlationId", correlationID)
		h.writeError(ctx, w, "INTERNAL_ERROR", "failed to count documents", http.StatusInternalServerError)
		return
	}

	byStatus, err := h.documents.CountByStatus(ctx)
	if err != nil {
		slog.ErrorContext(ctx, "failed to count documents by status", "error", err, "correlationId", correlationID)
		h.writeError(ctx, w, "INTERNAL_ERROR", "failed to count documents by status", http.StatusInternalServerError)
		return
	}

	pCount, err := h.pages.CountPages(ctx)
	if err != nil {
		slog.ErrorContext(ctx, "failed to count pages", "error", err, "correlationId", correlationID)
		h.writeError(ctx, w, "INTERNAL_ERROR", "failed to count pages", http.StatusInternalServerError)
		return
	}

	vCount, err := h.index.CountObjects(ctx)
	if err != nil {
		slog.ErrorContext(ctx, "failed to count vectors", "error", err, "correlationId", correlationID)
		h.writeError(ctx, w, "INTERNAL_ERROR", "failed to count vectors", http.StatusInternalServerError)
		return
	}

	resp := StatsResponse{
		Documents:         dCount,
		DocumentsByStatus: byStatus,
		Pages:             pCount,
		Vectors:           vCount,
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(map[string]interface{}{"data": resp}); err != nil {
		slog.ErrorContext(ctx, "failed to encode response", "error", err)
	}
}

func (h *Handler) writeError(ctx context.Context, w http.ResponseWriter, code, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	resp := map[string]interface{}{
		"error": map[string]string{
			"code":    code,
			"message": message,
		},
		"correlationId": middleware.GetCorrelationID(ctx),
	}

	if err := json.NewEncoder(w).Encode(resp); err != nil {
		slog.Error("failed to encode error response", "error", err)
	}
}
