// Package mongo holds the document store for page text and processing
// history. Pages are one document each, keyed by document and page number.
package mongo

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"lexio/internal/ingest"
	"lexio/internal/progress"
)

const (
	collectionPages = "document_pages"
	collectionLogs  = "processing_logs"
)

type pageDoc struct {
	DocumentID   string    `bson:"document_id"`
	PageNumber   int       `bson:"page_number"`
	Text         string    `bson:"text"`
	WordCount    int       `bson:"word_count"`
	HasTables    bool      `bson:"has_tables"`
	HasEquations bool      `bson:"has_equations"`
	VectorID     string    `bson:"vector_id,omitempty"`
	CreatedAt    time.Time `bson:"created_at"`
}

type PageStore struct {
	pages *mongo.Collection
	logs  *mongo.Collection
}

func NewPageStore(db *mongo.Database) *PageStore {
	return &PageStore{
		pages: db.Collection(collectionPages),
		logs:  db.Collection(collectionLogs),
	}
}

// EnsureIndexes is idempotent and runs on every boot. The unique compound
// index makes re-inserting a page for the same document fail loudly instead
// of duplicating.
func (s *PageStore) EnsureIndexes(ctx context.Context) error {
	_, err := s.pages.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{
			{Key: "document_id", Value: 1},
			{Key: "page_number", Value: 1},
		},
		Options: options.Index().SetUnique(true),
	})
	if err != nil {
		return fmt.Errorf("create pages index: %w", err)
	}

	_, err = s.logs.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{
			{Key: "document_id", Value: 1},
			{Key: "timestamp", Value: 1},
		},
	})
	if err != nil {
		return fmt.Errorf("create logs index: %w", err)
	}
	return nil
}

func (s *PageStore) BulkCreatePages(ctx context.Context, pages []ingest.PageRecord) error {
	if len(pages) == 0 {
		return nil
	}
	docs := make([]interface{}, 0, len(pages))
	now := time.Now().UTC()
	for _, p := range pages {
		docs = append(docs, pageDoc{
			DocumentID:   p.DocumentID,
			PageNumber:   p.PageNumber,
			Text:         p.Text,
			WordCount:    p.WordCount,
			HasTables:    p.HasTables,
			HasEquations: p.HasEquations,
			CreatedAt:    now,
		})
	}
	if _, err := s.pages.InsertMany(ctx, docs); err != nil {
		return fmt.Errorf("insert pages: %w", err)
	}
	return nil
}

// SetPageVectorIDs links embedded pages to their index objects in one bulk
// write. Pages absent from the map keep an empty vector_id, marking them as
// stored but not embedded.
func (s *PageStore) SetPageVectorIDs(ctx context.Context, documentID string, vectorIDs map[int]string) error {
	if len(vectorIDs) == 0 {
		return nil
	}
	models := make([]mongo.WriteModel, 0, len(vectorIDs))
	for page, vectorID := range vectorIDs {
		models = append(models, mongo.NewUpdateOneModel().
			SetFilter(bson.M{"document_id": documentID, "page_number": page}).
			SetUpdate(bson.M{"$set": bson.M{"vector_id": vectorID}}))
	}
	if _, err := s.pages.BulkWrite(ctx, models); err != nil {
		return fmt.Errorf("link vector ids: %w", err)
	}
	return nil
}

func (s *PageStore) DeletePages(ctx context.Context, documentID string) error {
	if _, err := s.pages.DeleteMany(ctx, bson.M{"document_id": documentID}); err != nil {
		return fmt.Errorf("delete pages: %w", err)
	}
	return nil
}

func (s *PageStore) GetPages(ctx context.Context, documentID string) ([]ingest.PageRecord, error) {
	opts := options.Find().SetSort(bson.D{{Key: "page_number", Value: 1}})
	cursor, err := s.pages.Find(ctx, bson.M{"document_id": documentID}, opts)
	if err != nil {
		return nil, fmt.Errorf("find pages: %w", err)
	}
	defer cursor.Close(ctx)

	var records []ingest.PageRecord
	for cursor.Next(ctx) {
		var doc pageDoc
		if err := cursor.Decode(&doc); err != nil {
			return nil, fmt.Errorf("decode page: %w", err)
		}
		records = append(records, ingest.PageRecord{
			DocumentID:   doc.DocumentID,
			PageNumber:   doc.PageNumber,
			Text:         doc.Text,
			WordCount:    doc.WordCount,
			HasTables:    doc.HasTables,
			HasEquations: doc.HasEquations,
			VectorID:     doc.VectorID,
		})
	}
	return records, cursor.Err()
}

func (s *PageStore) CountPages(ctx context.Context) (int64, error) {
	return s.pages.EstimatedDocumentCount(ctx)
}

// Append implements progress.LogStore, turning each pipeline event into a
// processing_logs entry.
func (s *PageStore) Append(ctx context.Context, ev progress.Event) error {
	if _, err := s.logs.InsertOne(ctx, ev); err != nil {
		return fmt.Errorf("insert processing log: %w", err)
	}
	return nil
}

func (s *PageStore) GetLogs(ctx context.Context, documentID string) ([]progress.Event, error) {
	opts := options.Find().SetSort(bson.D{{Key: "timestamp", Value: 1}})
	cursor, err := s.logs.Find(ctx, bson.M{"document_id": documentID}, opts)
	if err != nil {
		return nil, fmt.Errorf("find processing logs: %w", err)
	}
	defer cursor.Close(ctx)

	var events []progress.Event
	if err := cursor.All(ctx, &events); err != nil {
		return nil, fmt.Errorf("decode processing logs: %w", err)
	}
	return events, nil
}
