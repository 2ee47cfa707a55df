package ingest

import (
	"errors"
	"fmt"
)

var (
	ErrExtractionFailed       = errors.New("document extraction failed")
	ErrVectorStoreUnavailable = errors.New("vector store unavailable")
	ErrQuotaExceeded          = errors.New("upload quota exceeded")
)

// DimensionMismatchError is returned before any vector reaches the index
// when an embedding's length disagrees with the configured dimension.
type DimensionMismatchError struct {
	Want int
	Got  int
	Page int
}

func (e *DimensionMismatchError) Error() string {
	return fmt.Sprintf("embedding dimension mismatch on page %d: want %d, got %d", e.Page, e.Want, e.Got)
}
