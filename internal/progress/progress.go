// Package progress records pipeline stage transitions so a document's
// ingestion history can be replayed after the fact.
package progress

import (
	"context"
	"log/slog"
	"time"
)

type Stage string

const (
	StageExtraction Stage = "extraction"
	StageEmbedding  Stage = "embedding"
	StageCompletion Stage = "completion"
)

type Status string

const (
	StatusStarted    Status = "started"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

type Event struct {
	DocumentID string    `json:"document_id" bson:"document_id"`
	Stage      Stage     `json:"stage" bson:"stage"`
	Status     Status    `json:"status" bson:"status"`
	Detail     string    `json:"detail,omitempty" bson:"detail,omitempty"`
	PagesDone  int       `json:"pages_done" bson:"pages_done"`
	PagesTotal int       `json:"pages_total" bson:"pages_total"`
	// Progress is derived from the page counters when the event is recorded.
	Progress  int       `json:"progress" bson:"progress"`
	Timestamp time.Time `json:"timestamp" bson:"timestamp"`
}

// percentDone maps the page counters onto a 0 to 100 scale. Events without a
// known total report 0 for started stages and 100 for completed ones.
func percentDone(ev Event) int {
	if ev.PagesTotal <= 0 {
		if ev.Status == StatusCompleted {
			return 100
		}
		return 0
	}
	pct := ev.PagesDone * 100 / ev.PagesTotal
	if pct < 0 {
		return 0
	}
	if pct > 100 {
		return 100
	}
	return pct
}

type LogStore interface {
	Append(ctx context.Context, ev Event) error
}

type EventPublisher interface {
	Publish(topic string, body []byte) error
}

type Encoder func(ev Event) ([]byte, error)

// Recorder fans each event out to the durable log and the message bus.
// Recording is best effort: a sink failure is logged and swallowed so
// observability never fails an ingestion.
type Recorder struct {
	store  LogStore
	pub    EventPublisher
	topic  string
	encode Encoder
	logger *slog.Logger
}

func NewRecorder(store LogStore, pub EventPublisher, topic string, encode Encoder, logger *slog.Logger) *Recorder {
	return &Recorder{store: store, pub: pub, topic: topic, encode: encode, logger: logger}
}

func (r *Recorder) Record(ctx context.Context, ev Event) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}
	ev.Progress = percentDone(ev)
	if r.store != nil {
		if err := r.store.Append(ctx, ev); err != nil {
			r.logger.WarnContext(ctx, "failed to append processing log",
				"document_id", ev.DocumentID, "stage", ev.Stage, "error", err)
		}
	}
	if r.pub != nil && r.encode != nil {
		body, err := r.encode(ev)
		if err != nil {
			r.logger.WarnContext(ctx, "failed to encode progress event", "error", err)
			return
		}
		if err := r.pub.Publish(r.topic, body); err != nil {
			r.logger.WarnContext(ctx, "failed to publish progress event",
				"document_id", ev.DocumentID, "topic", r.topic, "error", err)
		}
	}
}
