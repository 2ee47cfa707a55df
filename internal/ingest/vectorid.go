package ingest

import (
	"fmt"

	"github.com/google/uuid"
)

// vectorNamespace scopes the deterministic page vector IDs. Changing it
// would orphan every vector already written to the index.
var vectorNamespace = uuid.MustParse("6ba7b810-9dad-11d1-80b4-00c04fd430c8")

// VectorID derives the vector object ID from the document and page number.
// Re-ingesting the same document overwrites its vectors in place instead of
// duplicating them.
func VectorID(documentID string, pageNumber int) string {
	name := fmt.Sprintf("%s:%d", documentID, pageNumber)
	return uuid.NewSHA1(vectorNamespace, []byte(name)).String()
}
