package worker

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/nsqio/go-nsq"

	"lexio/internal/ingest"
	"lexio/internal/middleware"
)

// ReingestConsumer rebuilds a document's pages and vectors from the blob
// already in object storage. Transient failures are returned so NSQ
// redelivers; anything unrecoverable is logged and dropped.
type ReingestConsumer struct {
	fetcher   DocumentFetcher
	blobs     BlobFetcher
	rebuilder Rebuilder
}

func NewReingestConsumer(f DocumentFetcher, b BlobFetcher, r Rebuilder) *ReingestConsumer {
	return &ReingestConsumer{fetcher: f, blobs: b, rebuilder: r}
}

func (h *ReingestConsumer) HandleMessage(m *nsq.Message) error {
	if len(m.Body) == 0 {
		return nil
	}

	var payload ReingestPayload
	if err := json.Unmarshal(m.Body, &payload); err != nil {
		// Poison Pill: Invalid JSON, don't retry
		slog.Error("poison pill: invalid json", "error", err)
		return nil
	}
	if payload.DocumentID == "" {
		slog.Error("poison pill: empty document id")
		return nil
	}

	ctx := context.Background()
	if payload.CorrelationID != "" {
		ctx = middleware.WithCorrelationID(ctx, payload.CorrelationID)
	}

	doc, err := h.fetcher.FetchDocument(ctx, payload.DocumentID)
	if err != nil {
		slog.ErrorContext(ctx, "fetch document failed", "document_id", payload.DocumentID, "error", err)
		return err // Retry
	}
	if doc == nil {
		slog.WarnContext(ctx, "document gone, dropping reingest", "document_id", payload.DocumentID)
		return nil
	}

	data, err := h.blobs.Get(ctx, doc.ObjectKey)
	if err != nil {
		slog.ErrorContext(ctx, "fetch blob failed", "document_id", doc.ID, "object_key", doc.ObjectKey, "error", err)
		return err // Retry
	}

	meta := &ingest.DocumentMeta{
		ID:        doc.ID,
		OwnerID:   doc.OwnerID,
		Filename:  doc.Filename,
		MimeType:  doc.MimeType,
		ObjectKey: doc.ObjectKey,
	}
	out, err := h.rebuilder.Rebuild(ctx, meta, data)
	if err != nil {
		// The document is already marked failed; retrying the message
		// would re-run the same deterministic pipeline on the same
		// bytes, so give up here.
		slog.ErrorContext(ctx, "reingest pipeline failed", "document_id", doc.ID, "error", err)
		return nil
	}

	slog.InfoContext(ctx, "document reingested",
		"document_id", out.DocumentID, "total_pages", out.TotalPages, "indexed_vectors", out.IndexedVectors)
	return nil
}
