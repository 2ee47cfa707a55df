package worker

// ReingestPayload asks the worker to rebuild a document's pages and vectors
// from the blob already in object storage.
type ReingestPayload struct {
	DocumentID    string `json:"document_id"`
	CorrelationID string `json:"correlation_id,omitempty"`
}
