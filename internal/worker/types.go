package worker

import (
	"context"

	"lexio/internal/ingest"
)

// DocumentInfo is the subset of the relational row the re-ingestion worker
// needs to rebuild a document from its stored blob.
type DocumentInfo struct {
	ID        string
	OwnerID   string
	Filename  string
	MimeType  string
	ObjectKey string
}

type Rebuilder interface {
	Rebuild(ctx context.Context, doc *ingest.DocumentMeta, data []byte) (*ingest.Outcome, error)
}

// DocumentFetcher resolves a document row. A (nil, nil) return means the
// document no longer exists and the message should be dropped.
type DocumentFetcher interface {
	FetchDocument(ctx context.Context, id string) (*DocumentInfo, error)
}

type BlobFetcher interface {
	Get(ctx context.Context, key string) ([]byte, error)
}
