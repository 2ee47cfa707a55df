package ingest

import (
	"context"
	"log/slog"
)

// saga accumulates compensations as the pipeline commits side effects.
// On failure they run in reverse order, each one best effort, so a partial
// ingestion never leaves half-written state behind.
type saga struct {
	logger *slog.Logger
	steps  []sagaStep
}

type sagaStep struct {
	name string
	undo func(ctx context.Context) error
}

func newSaga(logger *slog.Logger) *saga {
	return &saga{logger: logger}
}

func (s *saga) push(name string, undo func(ctx context.Context) error) {
	s.steps = append(s.steps, sagaStep{name: name, undo: undo})
}

// rollback runs every compensation last-in first-out. It detaches from the
// caller's cancellation so a timed-out ingestion still gets cleaned up, and
// reports whether every step succeeded.
func (s *saga) rollback(ctx context.Context) bool {
	ctx = context.WithoutCancel(ctx)
	clean := true
	for i := len(s.steps) - 1; i >= 0; i-- {
		step := s.steps[i]
		if err := step.undo(ctx); err != nil {
			clean = false
			s.logger.ErrorContext(ctx, "saga compensation failed", "step", step.name, "error", err)
			continue
		}
		s.logger.InfoContext(ctx, "saga compensation applied", "step", step.name)
	}
	return clean
}
