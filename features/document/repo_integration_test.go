package document_test

import (
	"context"
	"database/sql"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lexio/features/document"
	"lexio/internal/ingest"
	"lexio/internal/testutils"
)

func TestDocumentRepo_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	s := testutils.NewIntegrationSuite(t)
	s.Setup()
	defer s.Teardown()

	repo := document.NewPostgresRepo(s.DB)
	ctx := context.Background()

	// 1. Create
	meta := &ingest.DocumentMeta{
		ID:          uuid.NewString(),
		OwnerID:     "owner-1",
		Filename:    "report.pdf",
		MimeType:    "application/pdf",
		SizeBytes:   2048,
		ContentHash: "hash-1",
		ObjectKey:   "owner-1/doc-1/report.pdf",
		Status:      ingest.StatusProcessing,
	}
	require.NoError(t, repo.Create(ctx, meta))

	// Not ready yet, dedup lookup must miss
	hit, err := repo.FindReadyByHash(ctx, "owner-1", "hash-1")
	require.NoError(t, err)
	assert.Nil(t, hit)

	// 2. Promote to ready
	require.NoError(t, repo.SetReady(ctx, meta.ID, 7,
		[]string{"ACME Corp"}, []string{"Page %d"}))

	hit, err = repo.FindReadyByHash(ctx, "owner-1", "hash-1")
	require.NoError(t, err)
	require.NotNil(t, hit)
	assert.Equal(t, meta.ID, hit.ID)
	assert.Equal(t, 7, hit.TotalPages)

	// Other owners never see the hash
	other, err := repo.FindReadyByHash(ctx, "owner-2", "hash-1")
	require.NoError(t, err)
	assert.Nil(t, other)

	// 3. Get and List
	doc, err := repo.Get(ctx, meta.ID)
	require.NoError(t, err)
	assert.Equal(t, "report.pdf", doc.Filename)
	assert.Equal(t, ingest.StatusReady, doc.Status)
	assert.Equal(t, []string{"ACME Corp"}, doc.DetectedHeaders)

	list, err := repo.List(ctx, "owner-1")
	require.NoError(t, err)
	assert.Len(t, list, 1)

	emptyList, err := repo.List(ctx, "owner-2")
	require.NoError(t, err)
	assert.Len(t, emptyList, 0)

	// 4. Worker fetch view
	info, err := repo.FetchDocument(ctx, meta.ID)
	require.NoError(t, err)
	require.NotNil(t, info)
	assert.Equal(t, meta.ObjectKey, info.ObjectKey)

	missing, err := repo.FetchDocument(ctx, uuid.NewString())
	require.NoError(t, err)
	assert.Nil(t, missing)

	// 5. Quota accounting
	require.NoError(t, repo.IncrementUploadCount(ctx, "owner-1"))
	require.NoError(t, repo.IncrementUploadCount(ctx, "owner-1"))
	count, err := repo.GetUploadCount(ctx, "owner-1")
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	owned, err := repo.CountOwnedDocuments(ctx, "owner-1")
	require.NoError(t, err)
	assert.Equal(t, 1, owned)

	require.NoError(t, repo.SetUploadCount(ctx, "owner-1", owned))
	count, err = repo.GetUploadCount(ctx, "owner-1")
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	// Unknown owner reads as zero
	count, err = repo.GetUploadCount(ctx, "owner-9")
	require.NoError(t, err)
	assert.Equal(t, 0, count)

	// 6. Stats
	total, err := repo.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, total)

	byStatus, err := repo.CountByStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, byStatus[ingest.StatusReady])

	// 7. Duplicate upload reference record
	refID := uuid.NewString()
	require.NoError(t, repo.CreateReference(ctx, &ingest.DocumentMeta{
		ID:               refID,
		OwnerID:          "owner-1",
		Filename:         "report-copy.pdf",
		MimeType:         "application/pdf",
		SizeBytes:        2048,
		SourceDocumentID: meta.ID,
	}))

	ref, err := repo.Get(ctx, refID)
	require.NoError(t, err)
	assert.Equal(t, meta.ID, ref.SourceDocumentID)
	assert.Equal(t, ingest.StatusReady, ref.Status)
	assert.Equal(t, 7, ref.TotalPages)
	assert.Equal(t, []string{"ACME Corp"}, ref.DetectedHeaders)

	// Dedup keeps resolving to the document that owns the pages
	hit, err = repo.FindReadyByHash(ctx, "owner-1", "hash-1")
	require.NoError(t, err)
	require.NotNil(t, hit)
	assert.Equal(t, meta.ID, hit.ID)

	err = repo.CreateReference(ctx, &ingest.DocumentMeta{
		ID:               uuid.NewString(),
		OwnerID:          "owner-1",
		Filename:         "orphan.pdf",
		SourceDocumentID: uuid.NewString(),
	})
	assert.ErrorIs(t, err, sql.ErrNoRows)

	// 8. Hard delete cascades to references
	require.NoError(t, repo.Delete(ctx, meta.ID))
	_, err = repo.Get(ctx, meta.ID)
	assert.Error(t, err)
	_, err = repo.Get(ctx, refID)
	assert.Error(t, err)
}
