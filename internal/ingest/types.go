package ingest

import (
	"context"
	"time"

	"lexio/internal/extract"
	"lexio/internal/progress"
)

const (
	StatusUploading  = "uploading"
	StatusProcessing = "processing"
	StatusReady      = "ready"
	StatusFailed     = "failed"
)

// DocumentMeta is the relational row the orchestrator writes before the
// pipeline starts and finalizes when it ends.
type DocumentMeta struct {
	ID               string
	OwnerID          string
	Filename         string
	MimeType         string
	SizeBytes        int64
	ContentHash      string
	ObjectKey        string
	Status           string
	TotalPages       int
	SourceDocumentID string
	Headers          []string
	Footers          []string
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// PageRecord is the per-page document stored alongside the relational row.
type PageRecord struct {
	DocumentID   string
	PageNumber   int
	Text         string
	WordCount    int
	HasTables    bool
	HasEquations bool
	VectorID     string
}

// PageVector couples a page with its embedding for batched index writes.
type PageVector struct {
	ID          string
	DocumentID  string
	OwnerID     string
	PageNumber  int
	TextPreview string
	Values      []float32
}

type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

type VectorIndex interface {
	Upsert(ctx context.Context, vectors []PageVector) error
	Delete(ctx context.Context, ids []string) error
	DeleteByDocument(ctx context.Context, documentID string) error
}

type BlobStore interface {
	Put(ctx context.Context, key string, data []byte, contentType string) error
	Get(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, key string) error
}

type PageStore interface {
	BulkCreatePages(ctx context.Context, pages []PageRecord) error
	SetPageVectorIDs(ctx context.Context, documentID string, vectorIDs map[int]string) error
	DeletePages(ctx context.Context, documentID string) error
}

type MetadataStore interface {
	Create(ctx context.Context, meta *DocumentMeta) error
	CreateReference(ctx context.Context, ref *DocumentMeta) error
	SetStatus(ctx context.Context, id, status string) error
	SetReady(ctx context.Context, id string, totalPages int, headers, footers []string) error
	FindReadyByHash(ctx context.Context, ownerID, contentHash string) (*DocumentMeta, error)
	Delete(ctx context.Context, id string) error
}

type QuotaStore interface {
	IncrementUploadCount(ctx context.Context, ownerID string) error
	CountOwnedDocuments(ctx context.Context, ownerID string) (int, error)
	SetUploadCount(ctx context.Context, ownerID string, count int) error
}

type ProgressSink interface {
	Record(ctx context.Context, ev progress.Event)
}

type Extractor interface {
	Extract(data []byte, filename string) (*extract.Result, error)
}
