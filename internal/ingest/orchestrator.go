package ingest

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"lexio/internal/progress"
)

// Upload is a single document submission entering the pipeline.
type Upload struct {
	OwnerID  string
	Filename string
	MimeType string
	Data     []byte
}

// Outcome summarizes one ingestion attempt. On failure Err carries the
// first pipeline error and RollbackClean reports whether every committed
// side effect was compensated.
type Outcome struct {
	DocumentID     string
	Status         string
	TotalPages     int
	IndexedVectors int
	SkippedPages   int
	FailedPages    int
	Deduplicated   bool
	RollbackClean  bool
	Err            error
}

// Orchestrator drives a document through extraction, embedding and indexing
// as a saga: every store write registers a compensation, and any failure
// unwinds them all so the four stores stay mutually consistent.
type Orchestrator struct {
	blobs     BlobStore
	meta      MetadataStore
	quota     QuotaStore
	pages     PageStore
	index     VectorIndex
	extractor Extractor
	scheduler *Scheduler
	progress  ProgressSink
	timeout   time.Duration
	logger    *slog.Logger
}

func NewOrchestrator(
	blobs BlobStore,
	meta MetadataStore,
	quota QuotaStore,
	pages PageStore,
	index VectorIndex,
	extractor Extractor,
	scheduler *Scheduler,
	sink ProgressSink,
	timeout time.Duration,
	logger *slog.Logger,
) *Orchestrator {
	return &Orchestrator{
		blobs:     blobs,
		meta:      meta,
		quota:     quota,
		pages:     pages,
		index:     index,
		extractor: extractor,
		scheduler: scheduler,
		progress:  sink,
		timeout:   timeout,
		logger:    logger,
	}
}

// Ingest runs the full pipeline under a wall-clock timeout. The returned
// Outcome is non-nil even on failure; the error mirrors Outcome.Err for
// callers that only check one.
func (o *Orchestrator) Ingest(ctx context.Context, up Upload) (*Outcome, error) {
	ctx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	sum := sha256.Sum256(up.Data)
	contentHash := hex.EncodeToString(sum[:])

	if existing, err := o.meta.FindReadyByHash(ctx, up.OwnerID, contentHash); err != nil {
		return o.failed("", err), err
	} else if existing != nil {
		return o.createReference(ctx, up, contentHash, existing)
	}

	doc := &DocumentMeta{
		ID:          uuid.NewString(),
		OwnerID:     up.OwnerID,
		Filename:    up.Filename,
		MimeType:    up.MimeType,
		SizeBytes:   int64(len(up.Data)),
		ContentHash: contentHash,
		Status:      StatusUploading,
	}
	doc.ObjectKey = fmt.Sprintf("%s/%s/%s", up.OwnerID, doc.ID, up.Filename)

	sg := newSaga(o.logger)

	// Quota is incremented first so its reconciliation compensation runs
	// last, after the row delete, and the recount sees the true row set.
	if err := o.quota.IncrementUploadCount(ctx, up.OwnerID); err != nil {
		return o.failed(doc.ID, fmt.Errorf("increment quota: %w", err)), err
	}
	sg.push("reconcile quota", func(ctx context.Context) error {
		return o.reconcileQuota(ctx, up.OwnerID)
	})

	if err := o.blobs.Put(ctx, doc.ObjectKey, up.Data, up.MimeType); err != nil {
		return o.abort(ctx, sg, doc, progress.StageExtraction, fmt.Errorf("store blob: %w", err))
	}
	sg.push("delete blob", func(ctx context.Context) error {
		return o.blobs.Delete(ctx, doc.ObjectKey)
	})

	if err := o.meta.Create(ctx, doc); err != nil {
		return o.abort(ctx, sg, doc, progress.StageExtraction, fmt.Errorf("create document row: %w", err))
	}
	sg.push("delete document row", func(ctx context.Context) error {
		return o.meta.Delete(ctx, doc.ID)
	})

	if err := o.meta.SetStatus(ctx, doc.ID, StatusProcessing); err != nil {
		return o.abort(ctx, sg, doc, progress.StageExtraction, fmt.Errorf("mark processing: %w", err))
	}

	o.record(ctx, doc.ID, progress.StageExtraction, progress.StatusStarted, "", 0, 0)
	extracted, err := o.extractor.Extract(up.Data, up.Filename)
	if err != nil {
		return o.abort(ctx, sg, doc, progress.StageExtraction, fmt.Errorf("%w: %w", ErrExtractionFailed, err))
	}
	doc.TotalPages = extracted.TotalPages
	doc.Headers = extracted.Headers
	doc.Footers = extracted.Footers
	o.record(ctx, doc.ID, progress.StageExtraction, progress.StatusCompleted, "", extracted.TotalPages, extracted.TotalPages)

	records := make([]PageRecord, 0, len(extracted.Pages))
	for _, p := range extracted.Pages {
		records = append(records, PageRecord{
			DocumentID:   doc.ID,
			PageNumber:   p.Number,
			Text:         p.Text,
			WordCount:    p.WordCount,
			HasTables:    p.HasTables,
			HasEquations: p.HasEquations,
		})
	}
	if err := o.pages.BulkCreatePages(ctx, records); err != nil {
		return o.abort(ctx, sg, doc, progress.StageExtraction, fmt.Errorf("store pages: %w", err))
	}
	sg.push("delete pages", func(ctx context.Context) error {
		return o.pages.DeletePages(ctx, doc.ID)
	})

	o.record(ctx, doc.ID, progress.StageEmbedding, progress.StatusStarted, "", 0, extracted.TotalPages)
	schedRes, schedErr := o.scheduler.Schedule(ctx, doc, extracted.Pages, func(done, total int) {
		o.record(ctx, doc.ID, progress.StageEmbedding, progress.StatusInProgress, "", done, total)
	})
	if schedErr != nil {
		// A failed flush can leave part of a batch behind, so the undo
		// sweeps by document instead of trusting the acknowledged ids.
		if schedRes.Flushed {
			sg.push("delete vectors", func(ctx context.Context) error {
				return o.index.DeleteByDocument(ctx, doc.ID)
			})
		}
		return o.abort(ctx, sg, doc, progress.StageEmbedding, schedErr)
	}
	if schedRes.Flushed {
		flushed := make([]string, 0, len(schedRes.EmbeddedPages))
		for _, page := range schedRes.EmbeddedPages {
			flushed = append(flushed, VectorID(doc.ID, page))
		}
		sg.push("delete vectors", func(ctx context.Context) error {
			return o.index.Delete(ctx, flushed)
		})
	}

	vectorIDs := make(map[int]string, len(schedRes.EmbeddedPages))
	for _, page := range schedRes.EmbeddedPages {
		vectorIDs[page] = VectorID(doc.ID, page)
	}
	if err := o.pages.SetPageVectorIDs(ctx, doc.ID, vectorIDs); err != nil {
		return o.abort(ctx, sg, doc, progress.StageEmbedding, fmt.Errorf("link page vectors: %w", err))
	}

	if err := o.meta.SetReady(ctx, doc.ID, doc.TotalPages, doc.Headers, doc.Footers); err != nil {
		return o.abort(ctx, sg, doc, progress.StageCompletion, fmt.Errorf("finalize document: %w", err))
	}

	o.record(ctx, doc.ID, progress.StageCompletion, progress.StatusCompleted, "", extracted.TotalPages, extracted.TotalPages)
	return &Outcome{
		DocumentID:     doc.ID,
		Status:         StatusReady,
		TotalPages:     doc.TotalPages,
		IndexedVectors: schedRes.Embedded,
		SkippedPages:   schedRes.Skipped,
		FailedPages:    schedRes.Failed,
		RollbackClean:  true,
	}, nil
}

// Rebuild re-runs extraction and embedding for an already stored document,
// reading nothing but the original blob bytes. Unlike Ingest it keeps the
// blob and relational row on failure: the document flips to failed instead
// of disappearing, since the previous upload was already accepted.
func (o *Orchestrator) Rebuild(ctx context.Context, doc *DocumentMeta, data []byte) (*Outcome, error) {
	ctx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	if err := o.meta.SetStatus(ctx, doc.ID, StatusProcessing); err != nil {
		return o.failed(doc.ID, err), err
	}

	// Fresh slate. Deterministic vector IDs mean surviving pages get
	// overwritten anyway, but a re-extraction can yield fewer pages.
	if err := o.index.DeleteByDocument(ctx, doc.ID); err != nil {
		return o.rebuildFailed(ctx, doc.ID, fmt.Errorf("purge vectors: %w", err))
	}
	if err := o.pages.DeletePages(ctx, doc.ID); err != nil {
		return o.rebuildFailed(ctx, doc.ID, fmt.Errorf("purge pages: %w", err))
	}

	o.record(ctx, doc.ID, progress.StageExtraction, progress.StatusStarted, "reingest", 0, 0)
	extracted, err := o.extractor.Extract(data, doc.Filename)
	if err != nil {
		return o.rebuildFailed(ctx, doc.ID, fmt.Errorf("%w: %w", ErrExtractionFailed, err))
	}
	doc.TotalPages = extracted.TotalPages
	doc.Headers = extracted.Headers
	doc.Footers = extracted.Footers
	o.record(ctx, doc.ID, progress.StageExtraction, progress.StatusCompleted, "reingest", extracted.TotalPages, extracted.TotalPages)

	records := make([]PageRecord, 0, len(extracted.Pages))
	for _, p := range extracted.Pages {
		records = append(records, PageRecord{
			DocumentID:   doc.ID,
			PageNumber:   p.Number,
			Text:         p.Text,
			WordCount:    p.WordCount,
			HasTables:    p.HasTables,
			HasEquations: p.HasEquations,
		})
	}
	if err := o.pages.BulkCreatePages(ctx, records); err != nil {
		return o.rebuildFailed(ctx, doc.ID, fmt.Errorf("store pages: %w", err))
	}

	o.record(ctx, doc.ID, progress.StageEmbedding, progress.StatusStarted, "reingest", 0, extracted.TotalPages)
	schedRes, err := o.scheduler.Schedule(ctx, doc, extracted.Pages, func(done, total int) {
		o.record(ctx, doc.ID, progress.StageEmbedding, progress.StatusInProgress, "reingest", done, total)
	})
	if err != nil {
		return o.rebuildFailed(ctx, doc.ID, err)
	}

	vectorIDs := make(map[int]string, len(schedRes.EmbeddedPages))
	for _, page := range schedRes.EmbeddedPages {
		vectorIDs[page] = VectorID(doc.ID, page)
	}
	if err := o.pages.SetPageVectorIDs(ctx, doc.ID, vectorIDs); err != nil {
		return o.rebuildFailed(ctx, doc.ID, fmt.Errorf("link page vectors: %w", err))
	}

	if err := o.meta.SetReady(ctx, doc.ID, doc.TotalPages, doc.Headers, doc.Footers); err != nil {
		return o.rebuildFailed(ctx, doc.ID, fmt.Errorf("finalize document: %w", err))
	}

	o.record(ctx, doc.ID, progress.StageCompletion, progress.StatusCompleted, "reingest", extracted.TotalPages, extracted.TotalPages)
	return &Outcome{
		DocumentID:     doc.ID,
		Status:         StatusReady,
		TotalPages:     doc.TotalPages,
		IndexedVectors: schedRes.Embedded,
		SkippedPages:   schedRes.Skipped,
		FailedPages:    schedRes.Failed,
		RollbackClean:  true,
	}, nil
}

// createReference is the duplicate fast path. The owner gets a row of their
// own whose source_document_id points at the already indexed document, so
// page and vector reads resolve through the source with no re-extraction.
func (o *Orchestrator) createReference(ctx context.Context, up Upload, contentHash string, existing *DocumentMeta) (*Outcome, error) {
	ref := &DocumentMeta{
		ID:               uuid.NewString(),
		OwnerID:          up.OwnerID,
		Filename:         up.Filename,
		MimeType:         up.MimeType,
		SizeBytes:        int64(len(up.Data)),
		ContentHash:      contentHash,
		ObjectKey:        existing.ObjectKey,
		Status:           StatusReady,
		TotalPages:       existing.TotalPages,
		SourceDocumentID: existing.ID,
	}

	if err := o.quota.IncrementUploadCount(ctx, up.OwnerID); err != nil {
		return o.failed("", fmt.Errorf("increment quota: %w", err)), err
	}
	if err := o.meta.CreateReference(ctx, ref); err != nil {
		err = fmt.Errorf("create reference row: %w", err)
		clean := true
		if rerr := o.reconcileQuota(context.WithoutCancel(ctx), up.OwnerID); rerr != nil {
			clean = false
			o.logger.ErrorContext(ctx, "quota reconciliation failed", "owner_id", up.OwnerID, "error", rerr)
		}
		out := o.failed("", err)
		out.RollbackClean = clean
		return out, err
	}

	o.logger.InfoContext(ctx, "duplicate upload short-circuited",
		"document_id", ref.ID, "source_document_id", existing.ID, "content_hash", contentHash)
	return &Outcome{
		DocumentID:    ref.ID,
		Status:        StatusReady,
		TotalPages:    existing.TotalPages,
		Deduplicated:  true,
		RollbackClean: true,
	}, nil
}

func (o *Orchestrator) reconcileQuota(ctx context.Context, ownerID string) error {
	count, err := o.quota.CountOwnedDocuments(ctx, ownerID)
	if err != nil {
		return err
	}
	return o.quota.SetUploadCount(ctx, ownerID, count)
}

func (o *Orchestrator) rebuildFailed(ctx context.Context, docID string, err error) (*Outcome, error) {
	o.logger.ErrorContext(ctx, "reingest failed", "document_id", docID, "error", err)
	o.record(ctx, docID, progress.StageCompletion, progress.StatusFailed, err.Error(), 0, 0)
	setCtx := context.WithoutCancel(ctx)
	if serr := o.meta.SetStatus(setCtx, docID, StatusFailed); serr != nil {
		o.logger.ErrorContext(ctx, "failed to mark document failed", "document_id", docID, "error", serr)
	}
	return o.failed(docID, err), err
}

func (o *Orchestrator) abort(ctx context.Context, sg *saga, doc *DocumentMeta, stage progress.Stage, err error) (*Outcome, error) {
	o.logger.ErrorContext(ctx, "ingestion failed, rolling back",
		"document_id", doc.ID, "stage", stage, "error", err)
	o.record(ctx, doc.ID, stage, progress.StatusFailed, err.Error(), 0, 0)
	clean := sg.rollback(ctx)
	out := o.failed(doc.ID, err)
	out.RollbackClean = clean
	return out, err
}

func (o *Orchestrator) failed(docID string, err error) *Outcome {
	return &Outcome{DocumentID: docID, Status: StatusFailed, Err: err}
}

func (o *Orchestrator) record(ctx context.Context, docID string, stage progress.Stage, status progress.Status, detail string, done, total int) {
	if o.progress == nil {
		return
	}
	o.progress.Record(ctx, progress.Event{
		DocumentID: docID,
		Stage:      stage,
		Status:     status,
		Detail:     detail,
		PagesDone:  done,
		PagesTotal: total,
	})
}
