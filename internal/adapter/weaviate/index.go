package weaviate

import (
	"context"
	"fmt"
	"sort"

	"github.com/go-openapi/strfmt"
	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/filters"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/graphql"
	"github.com/weaviate/weaviate/entities/models"

	"lexio/internal/ingest"
	"lexio/internal/retrieval"
	"lexio/internal/vector"
)

// Index stores page vectors in Weaviate under deterministic object IDs, so
// writing the same page twice overwrites instead of duplicating.
type Index struct {
	client    *weaviate.Client
	dimension int
}

func NewIndex(client *weaviate.Client, dimension int) *Index {
	return &Index{client: client, dimension: dimension}
}

// Upsert validates every vector's dimension before anything is written, so
// a bad batch is rejected whole.
func (i *Index) Upsert(ctx context.Context, vectors []ingest.PageVector) error {
	for _, v := range vectors {
		if len(v.Values) != i.dimension {
			return &ingest.DimensionMismatchError{Want: i.dimension, Got: len(v.Values), Page: v.PageNumber}
		}
	}

	objects := make([]*models.Object, 0, len(vectors))
	for _, v := range vectors {
		objects = append(objects, &models.Object{
			Class: vector.ClassDocumentPage,
			ID:    strfmt.UUID(v.ID),
			Properties: map[string]interface{}{
				"documentId":  v.DocumentID,
				"ownerId":     v.OwnerID,
				"pageNumber":  v.PageNumber,
				"textPreview": v.TextPreview,
			},
			Vector: models.C11yVector(v.Values),
		})
	}

	res, err := i.client.Batch().ObjectsBatcher().WithObjects(objects...).Do(ctx)
	if err != nil {
		return fmt.Errorf("%w: %v", ingest.ErrVectorStoreUnavailable, err)
	}
	for _, obj := range res {
		if obj.Result != nil && obj.Result.Errors != nil && len(obj.Result.Errors.Error) > 0 {
			return fmt.Errorf("batch object %s rejected: %s", obj.ID, obj.Result.Errors.Error[0].Message)
		}
	}
	return nil
}

// Delete removes the given object ids in one batch. Used by rollback when
// the set of acknowledged writes is known exactly.
func (i *Index) Delete(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := i.client.Batch().ObjectsBatchDeleter().
		WithClassName(vector.ClassDocumentPage).
		WithOutput("minimal").
		WithWhere(idFilter(ids)).
		Do(ctx)
	if err != nil {
		return fmt.Errorf("%w: %v", ingest.ErrVectorStoreUnavailable, err)
	}
	return nil
}

func idFilter(ids []string) *filters.WhereBuilder {
	return filters.Where().
		WithPath([]string{"id"}).
		WithOperator(filters.ContainsAny).
		WithValueText(ids...)
}

func (i *Index) DeleteByDocument(ctx context.Context, documentID string) error {
	_, err := i.client.Batch().ObjectsBatchDeleter().
		WithClassName(vector.ClassDocumentPage).
		WithOutput("minimal").
		WithWhere(filters.Where().
			WithPath([]string{"documentId"}).
			WithOperator(filters.Equal).
			WithValueString(documentID)).
		Do(ctx)
	if err != nil {
		return fmt.Errorf("%w: %v", ingest.ErrVectorStoreUnavailable, err)
	}
	return nil
}

// Query runs a nearest-neighbor lookup with equality filters. Filter keys
// are applied as an AND conjunction.
func (i *Index) Query(ctx context.Context, vec []float32, limit int, where map[string]interface{}) ([]retrieval.SearchResult, error) {
	nearVector := i.client.GraphQL().NearVectorArgBuilder().WithVector(vec)

	fields := []graphql.Field{
		{Name: "documentId"},
		{Name: "ownerId"},
		{Name: "pageNumber"},
		{Name: "textPreview"},
		{Name: "_additional", Fields: []graphql.Field{{Name: "distance"}}},
	}

	query := i.client.GraphQL().Get().
		WithClassName(vector.ClassDocumentPage).
		WithNearVector(nearVector).
		WithLimit(limit).
		WithFields(fields...)
	if filter := buildWhere(where); filter != nil {
		query = query.WithWhere(filter)
	}

	res, err := query.Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ingest.ErrVectorStoreUnavailable, err)
	}
	if len(res.Errors) > 0 {
		return nil, fmt.Errorf("graphql error: %v", res.Errors[0].Message)
	}

	var results []retrieval.SearchResult
	if data, ok := res.Data["Get"].(map[string]interface{}); ok {
		if pages, ok := data[vector.ClassDocumentPage].([]interface{}); ok {
			for _, p := range pages {
				props, ok := p.(map[string]interface{})
				if !ok {
					continue
				}
				result := retrieval.SearchResult{}
				if id, ok := props["documentId"].(string); ok {
					result.DocumentID = id
				}
				if owner, ok := props["ownerId"].(string); ok {
					result.OwnerID = owner
				}
				if page, ok := props["pageNumber"].(float64); ok {
					result.PageNumber = int(page)
				}
				if preview, ok := props["textPreview"].(string); ok {
					result.TextPreview = preview
				}
				if additional, ok := props["_additional"].(map[string]interface{}); ok {
					if distance, ok := additional["distance"].(float64); ok {
						result.Distance = float32(distance)
					}
				}
				results = append(results, result)
			}
		}
	}
	return results, nil
}

// CountObjects reports the total number of page vectors in the index.
func (i *Index) CountObjects(ctx context.Context) (int, error) {
	res, err := i.client.GraphQL().Aggregate().
		WithClassName(vector.ClassDocumentPage).
		WithFields(graphql.Field{Name: "meta", Fields: []graphql.Field{{Name: "count"}}}).
		Do(ctx)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ingest.ErrVectorStoreUnavailable, err)
	}
	if len(res.Errors) > 0 {
		return 0, fmt.Errorf("graphql error: %v", res.Errors[0].Message)
	}

	if agg, ok := res.Data["Aggregate"].(map[string]interface{}); ok {
		if classes, ok := agg[vector.ClassDocumentPage].([]interface{}); ok && len(classes) > 0 {
			if entry, ok := classes[0].(map[string]interface{}); ok {
				if meta, ok := entry["meta"].(map[string]interface{}); ok {
					if count, ok := meta["count"].(float64); ok {
						return int(count), nil
					}
				}
			}
		}
	}
	return 0, nil
}

// buildWhere turns an equality filter map into a Weaviate where clause.
// Keys are sorted so the generated query is stable.
func buildWhere(where map[string]interface{}) *filters.WhereBuilder {
	if len(where) == 0 {
		return nil
	}

	keys := make([]string, 0, len(where))
	for k := range where {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	operands := make([]*filters.WhereBuilder, 0, len(keys))
	for _, k := range keys {
		clause := filters.Where().
			WithPath([]string{k}).
			WithOperator(filters.Equal)
		switch v := where[k].(type) {
		case string:
			clause = clause.WithValueString(v)
		case int:
			clause = clause.WithValueInt(int64(v))
		case int64:
			clause = clause.WithValueInt(v)
		case bool:
			clause = clause.WithValueBoolean(v)
		default:
			clause = clause.WithValueString(fmt.Sprintf("%v", v))
		}
		operands = append(operands, clause)
	}

	if len(operands) == 1 {
		return operands[0]
	}
	return filters.Where().
		WithOperator(filters.And).
		WithOperands(operands)
}
