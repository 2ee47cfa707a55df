package vector

import (
	"context"

	"github.com/weaviate/weaviate/entities/models"
)

// ClassDocumentPage is the single Weaviate class holding one object per
// embedded page.
const ClassDocumentPage = "DocumentPage"

// SchemaClient defines the interface for Weaviate schema operations
type SchemaClient interface {
	ClassExists(ctx context.Context, className string) (bool, error)
	CreateClass(ctx context.Context, class *models.Class) error
	GetClass(ctx context.Context, className string) (*models.Class, error)
	AddProperty(ctx context.Context, className string, property *models.Property) error
}

// EnsureSchema creates the DocumentPage class if it is missing, or backfills
// any properties added since the class was first created. Safe to call on
// every boot.
func EnsureSchema(ctx context.Context, client SchemaClient) error {
	exists, err := client.ClassExists(ctx, ClassDocumentPage)
	if err != nil {
		return err
	}

	properties := []*models.Property{
		{
			Name:     "documentId",
			DataType: []string{"string"}, // UUID as string (exact match)
		},
		{
			Name:     "ownerId",
			DataType: []string{"string"},
		},
		{
			Name:     "pageNumber",
			DataType: []string{"int"},
		},
		{
			Name:     "textPreview",
			DataType: []string{"text"},
		},
	}

	if !exists {
		class := &models.Class{
			Class:       ClassDocumentPage,
			Description: "An embedded page of an ingested document",
			Vectorizer:  "none",
			Properties:  properties,
			VectorIndexConfig: map[string]interface{}{
				"distance": "cosine",
			},
		}
		return client.CreateClass(ctx, class)
	}

	class, err := client.GetClass(ctx, ClassDocumentPage)
	if err != nil {
		return err
	}

	existingProps := make(map[string]bool)
	for _, p := range class.Properties {
		existingProps[p.Name] = true
	}

	for _, p := range properties {
		if !existingProps[p.Name] {
			if err := client.AddProperty(ctx, ClassDocumentPage, p); err != nil {
				return err
			}
		}
	}

	return nil
}
