package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"unicode/utf8"

	"golang.org/x/sync/errgroup"

	"lexio/internal/extract"
	"lexio/internal/text"
)

const previewLimit = 200

// Scheduler embeds pages in bounded concurrent windows and flushes the
// resulting vectors to the index in batches. Pages below the minimum
// character threshold are skipped, never embedded.
type Scheduler struct {
	embedder  Embedder
	index     VectorIndex
	dimension int
	window    int
	flushSize int
	minChars  int
	logger    *slog.Logger
}

func NewScheduler(embedder Embedder, index VectorIndex, dimension, window, flushSize, minChars int, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		embedder:  embedder,
		index:     index,
		dimension: dimension,
		window:    window,
		flushSize: flushSize,
		minChars:  minChars,
		logger:    logger,
	}
}

type ScheduleResult struct {
	Embedded      int
	Skipped       int
	Failed        int
	EmbeddedPages []int
	// Flushed reports whether at least one batch reached the index, even
	// when Schedule also returns an error.
	Flushed bool
}

// Schedule runs the embedding pipeline for one document. Per-page embedding
// failures are tolerated and counted; index write failures and dimension
// mismatches abort the run.
func (s *Scheduler) Schedule(ctx context.Context, doc *DocumentMeta, pages []extract.Page, onProgress func(done, total int)) (ScheduleResult, error) {
	var res ScheduleResult

	eligible := make([]extract.Page, 0, len(pages))
	for _, p := range pages {
		if utf8.RuneCountInString(p.Text) < s.minChars {
			res.Skipped++
			continue
		}
		eligible = append(eligible, p)
	}

	var pending []PageVector
	done := 0
	for start := 0; start < len(eligible); start += s.window {
		end := start + s.window
		if end > len(eligible) {
			end = len(eligible)
		}
		batch := eligible[start:end]

		vectors := make([]*PageVector, len(batch))
		g, gctx := errgroup.WithContext(ctx)
		for i, page := range batch {
			g.Go(func() error {
				values, err := s.embedder.Embed(gctx, page.Text)
				if err != nil {
					if gctx.Err() != nil {
						return gctx.Err()
					}
					s.logger.WarnContext(ctx, "page embedding failed",
						"document_id", doc.ID, "page", page.Number, "error", err)
					return nil
				}
				if len(values) != s.dimension {
					return &DimensionMismatchError{Want: s.dimension, Got: len(values), Page: page.Number}
				}
				vectors[i] = &PageVector{
					ID:          VectorID(doc.ID, page.Number),
					DocumentID:  doc.ID,
					OwnerID:     doc.OwnerID,
					PageNumber:  page.Number,
					TextPreview: text.Truncate(page.Text, previewLimit),
					Values:      values,
				}
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return res, fmt.Errorf("embedding window: %w", err)
		}

		for _, v := range vectors {
			if v == nil {
				res.Failed++
				continue
			}
			pending = append(pending, *v)
		}
		done += len(batch)
		if onProgress != nil {
			onProgress(done, len(eligible))
		}

		for len(pending) >= s.flushSize {
			if err := s.flush(ctx, &res, pending[:s.flushSize]); err != nil {
				return res, err
			}
			pending = pending[s.flushSize:]
		}
	}

	if len(pending) > 0 {
		if err := s.flush(ctx, &res, pending); err != nil {
			return res, err
		}
	}
	return res, nil
}

func (s *Scheduler) flush(ctx context.Context, res *ScheduleResult, batch []PageVector) error {
	if err := s.index.Upsert(ctx, batch); err != nil {
		return fmt.Errorf("flush %d vectors: %w", len(batch), err)
	}
	res.Flushed = true
	res.Embedded += len(batch)
	for _, v := range batch {
		res.EmbeddedPages = append(res.EmbeddedPages, v.PageNumber)
	}
	return nil
}
