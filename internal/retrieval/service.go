package retrieval

import (
	"context"
	"errors"
	"strings"
	"time"

	"lexio/internal/middleware"
	"lexio/internal/text"
)

const defaultLimit = 10

type SearchResult struct {
	DocumentID  string  `json:"documentId"`
	OwnerID     string  `json:"ownerId"`
	PageNumber  int     `json:"pageNumber"`
	TextPreview string  `json:"textPreview"`
	Distance    float32 `json:"distance"`
}

type SearchOptions struct {
	Limit      *int
	DocumentID string
}

type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

type VectorSearcher interface {
	Query(ctx context.Context, vector []float32, limit int, filters map[string]interface{}) ([]SearchResult, error)
}

type Service struct {
	embedder Embedder
	searcher VectorSearcher
	logger   *QueryLogger
}

func NewService(e Embedder, s VectorSearcher, l *QueryLogger) *Service {
	return &Service{embedder: e, searcher: s, logger: l}
}

// Search embeds the query and runs a nearest-neighbor lookup scoped to the
// owner. Results come back ordered by ascending distance.
func (s *Service) Search(ctx context.Context, ownerID, query string, opts *SearchOptions) ([]SearchResult, error) {
	start := time.Now()

	query = strings.TrimSpace(text.Sanitize(query))
	if query == "" {
		return nil, errors.New("empty query")
	}

	limit := defaultLimit
	filters := map[string]interface{}{"ownerId": ownerID}
	if opts != nil {
		if opts.Limit != nil && *opts.Limit > 0 {
			limit = *opts.Limit
		}
		if opts.DocumentID != "" {
			filters["documentId"] = opts.DocumentID
		}
	}

	vec, err := s.embedder.Embed(ctx, query)
	if err != nil {
		return nil, err
	}

	results, err := s.searcher.Query(ctx, vec, limit, filters)
	if err != nil {
		return nil, err
	}

	if s.logger != nil {
		s.logger.Log(QueryLogEntry{
			Query:         query,
			NumResults:    len(results),
			Duration:      time.Since(start),
			CorrelationID: middleware.GetCorrelationID(ctx),
		})
	}
	return results, nil
}
