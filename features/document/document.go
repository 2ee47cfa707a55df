package document

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"lexio/internal/config"
	"lexio/internal/ingest"
	"lexio/internal/progress"
)

// Document is the API-facing view of an ingested document.
type Document struct {
	ID          string `json:"id"`
	OwnerID     string `json:"ownerId"`
	Filename    string `json:"filename"`
	MimeType    string `json:"mimeType"`
	SizeBytes   int64  `json:"sizeBytes"`
	ContentHash string `json:"contentHash"`
	Status      string `json:"status"`
	TotalPages  int    `json:"totalPages"`
	// SourceDocumentID is set on reference records created for duplicate
	// uploads. Pages, vectors and the blob all live under the source id.
	SourceDocumentID string    `json:"sourceDocumentId,omitempty"`
	DetectedHeaders  []string  `json:"detectedHeaders"`
	DetectedFooters  []string  `json:"detectedFooters"`
	CreatedAt        time.Time `json:"createdAt"`
	UpdatedAt        time.Time `json:"updatedAt"`
}

type Repository interface {
	List(ctx context.Context, ownerID string) ([]Document, error)
	Get(ctx context.Context, id string) (*Document, error)
	GetUploadCount(ctx context.Context, ownerID string) (int, error)
	CountOwnedDocuments(ctx context.Context, ownerID string) (int, error)
	SetUploadCount(ctx context.Context, ownerID string, count int) error
	Delete(ctx context.Context, id string) error
}

type Ingestor interface {
	Ingest(ctx context.Context, up ingest.Upload) (*ingest.Outcome, error)
}

type PageReader interface {
	GetPages(ctx context.Context, documentID string) ([]ingest.PageRecord, error)
	GetLogs(ctx context.Context, documentID string) ([]progress.Event, error)
	DeletePages(ctx context.Context, documentID string) error
}

type VectorPurger interface {
	DeleteByDocument(ctx context.Context, documentID string) error
}

type BlobDeleter interface {
	Delete(ctx context.Context, key string) error
}

type Publisher interface {
	Publish(topic string, body []byte) error
}

type Service struct {
	repo       Repository
	ingestor   Ingestor
	pages      PageReader
	index      VectorPurger
	blobs      BlobDeleter
	publisher  Publisher
	maxUploads int
}

func NewService(repo Repository, ingestor Ingestor, pages PageReader, index VectorPurger, blobs BlobDeleter, publisher Publisher, maxUploads int) *Service {
	return &Service{
		repo:       repo,
		ingestor:   ingestor,
		pages:      pages,
		index:      index,
		blobs:      blobs,
		publisher:  publisher,
		maxUploads: maxUploads,
	}
}

// Upload checks the owner's quota and hands the bytes to the ingestion
// pipeline. Everything after the quota gate is the orchestrator's problem.
func (s *Service) Upload(ctx context.Context, ownerID, filename, mimeType string, data []byte) (*ingest.Outcome, error) {
	if len(data) == 0 {
		return nil, errors.New("empty upload")
	}
	if s.maxUploads > 0 {
		count, err := s.repo.GetUploadCount(ctx, ownerID)
		if err != nil {
			return nil, fmt.Errorf("check quota: %w", err)
		}
		if count >= s.maxUploads {
			return nil, ingest.ErrQuotaExceeded
		}
	}

	return s.ingestor.Ingest(ctx, ingest.Upload{
		OwnerID:  ownerID,
		Filename: filename,
		MimeType: mimeType,
		Data:     data,
	})
}

func (s *Service) List(ctx context.Context, ownerID string) ([]Document, error) {
	return s.repo.List(ctx, ownerID)
}

func (s *Service) Get(ctx context.Context, id string) (*Document, error) {
	return s.repo.Get(ctx, id)
}

func (s *Service) GetPages(ctx context.Context, id string) ([]ingest.PageRecord, error) {
	doc, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	// Reference records hold no pages of their own.
	if doc.SourceDocumentID != "" {
		return s.pages.GetPages(ctx, doc.SourceDocumentID)
	}
	return s.pages.GetPages(ctx, id)
}

func (s *Service) GetLogs(ctx context.Context, id string) ([]progress.Event, error) {
	return s.pages.GetLogs(ctx, id)
}

// Delete removes a document from all four stores, vectors first so a
// half-finished delete never leaves dangling search hits, then reconciles
// the owner's quota by recount.
func (s *Service) Delete(ctx context.Context, id string) error {
	doc, err := s.repo.Get(ctx, id)
	if err != nil {
		return err
	}

	// A reference record borrows its pages, vectors and blob from the source
	// document, so only the row goes.
	if doc.SourceDocumentID != "" {
		if err := s.repo.Delete(ctx, id); err != nil {
			return fmt.Errorf("delete row: %w", err)
		}
		count, err := s.repo.CountOwnedDocuments(ctx, doc.OwnerID)
		if err != nil {
			return fmt.Errorf("recount quota: %w", err)
		}
		return s.repo.SetUploadCount(ctx, doc.OwnerID, count)
	}

	if err := s.index.DeleteByDocument(ctx, id); err != nil {
		return fmt.Errorf("delete vectors: %w", err)
	}
	if err := s.pages.DeletePages(ctx, id); err != nil {
		return fmt.Errorf("delete pages: %w", err)
	}
	objectKey := fmt.Sprintf("%s/%s/%s", doc.OwnerID, doc.ID, doc.Filename)
	if err := s.blobs.Delete(ctx, objectKey); err != nil {
		return fmt.Errorf("delete blob: %w", err)
	}
	if err := s.repo.Delete(ctx, id); err != nil {
		return fmt.Errorf("delete row: %w", err)
	}

	count, err := s.repo.CountOwnedDocuments(ctx, doc.OwnerID)
	if err != nil {
		return fmt.Errorf("recount quota: %w", err)
	}
	return s.repo.SetUploadCount(ctx, doc.OwnerID, count)
}

// Reingest enqueues a rebuild. The heavy lifting happens in the worker so
// the HTTP request returns immediately.
func (s *Service) Reingest(ctx context.Context, id, correlationID string) error {
	doc, err := s.repo.Get(ctx, id)
	if err != nil {
		return err
	}
	// Rebuilding a reference means rebuilding the document it points at.
	if doc.SourceDocumentID != "" {
		id = doc.SourceDocumentID
	}

	body, err := json.Marshal(map[string]string{
		"document_id":    id,
		"correlation_id": correlationID,
	})
	if err != nil {
		return err
	}
	return s.publisher.Publish(config.TopicDocumentReingest, body)
}
