package config

const (
	// TopicDocumentProgress carries append-only pipeline progress events,
	// mirroring the processing log for external observers.
	TopicDocumentProgress = "document.progress"

	// TopicDocumentReingest carries re-ingestion tasks for documents whose
	// blob already sits in object storage.
	TopicDocumentReingest = "document.reingest"
)
