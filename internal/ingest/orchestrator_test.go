package ingest

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"lexio/internal/extract"
)

type mockBlobStore struct{ mock.Mock }

func (m *mockBlobStore) Put(ctx context.Context, key string, data []byte, contentType string) error {
	return m.Called(ctx, key, data, contentType).Error(0)
}
func (m *mockBlobStore) Get(ctx context.Context, key string) ([]byte, error) {
	args := m.Called(ctx, key)
	if v := args.Get(0); v != nil {
		return v.([]byte), args.Error(1)
	}
	return nil, args.Error(1)
}
func (m *mockBlobStore) Delete(ctx context.Context, key string) error {
	return m.Called(ctx, key).Error(0)
}

type mockMetadataStore struct{ mock.Mock }

func (m *mockMetadataStore) Create(ctx context.Context, meta *DocumentMeta) error {
	return m.Called(ctx, meta).Error(0)
}
func (m *mockMetadataStore) CreateReference(ctx context.Context, ref *DocumentMeta) error {
	return m.Called(ctx, ref).Error(0)
}
func (m *mockMetadataStore) SetStatus(ctx context.Context, id, status string) error {
	return m.Called(ctx, id, status).Error(0)
}
func (m *mockMetadataStore) SetReady(ctx context.Context, id string, totalPages int, headers, footers []string) error {
	return m.Called(ctx, id, totalPages, headers, footers).Error(0)
}
func (m *mockMetadataStore) FindReadyByHash(ctx context.Context, ownerID, contentHash string) (*DocumentMeta, error) {
	args := m.Called(ctx, ownerID, contentHash)
	if v := args.Get(0); v != nil {
		return v.(*DocumentMeta), args.Error(1)
	}
	return nil, args.Error(1)
}
func (m *mockMetadataStore) Delete(ctx context.Context, id string) error {
	return m.Called(ctx, id).Error(0)
}

type mockQuotaStore struct{ mock.Mock }

func (m *mockQuotaStore) IncrementUploadCount(ctx context.Context, ownerID string) error {
	return m.Called(ctx, ownerID).Error(0)
}
func (m *mockQuotaStore) CountOwnedDocuments(ctx context.Context, ownerID string) (int, error) {
	args := m.Called(ctx, ownerID)
	return args.Int(0), args.Error(1)
}
func (m *mockQuotaStore) SetUploadCount(ctx context.Context, ownerID string, count int) error {
	return m.Called(ctx, ownerID, count).Error(0)
}

type mockPageStore struct{ mock.Mock }

func (m *mockPageStore) BulkCreatePages(ctx context.Context, pages []PageRecord) error {
	return m.Called(ctx, pages).Error(0)
}
func (m *mockPageStore) SetPageVectorIDs(ctx context.Context, documentID string, vectorIDs map[int]string) error {
	return m.Called(ctx, documentID, vectorIDs).Error(0)
}
func (m *mockPageStore) DeletePages(ctx context.Context, documentID string) error {
	return m.Called(ctx, documentID).Error(0)
}

type orchestratorFixture struct {
	blobs *mockBlobStore
	meta  *mockMetadataStore
	quota *mockQuotaStore
	pages *mockPageStore
	index *fakeIndex
	orch  *Orchestrator
}

func newOrchestratorFixture(flushSize int) *orchestratorFixture {
	f := &orchestratorFixture{
		blobs: &mockBlobStore{},
		meta:  &mockMetadataStore{},
		quota: &mockQuotaStore{},
		pages: &mockPageStore{},
		index: &fakeIndex{},
	}
	emb := &fakeEmbedder{dimension: 8}
	sched := NewScheduler(emb, f.index, 8, 5, flushSize, 50, testLogger())
	f.orch = NewOrchestrator(
		f.blobs, f.meta, f.quota, f.pages, f.index,
		extract.New(500), sched, nil, 5*time.Second, testLogger(),
	)
	return f
}

// twelvePageUpload yields 11 full pages of 500 words plus a 12th page too
// short to embed.
func twelvePageUpload() Upload {
	body := strings.Repeat("word ", 5500) + "tiny tail"
	return Upload{OwnerID: "owner-1", Filename: "course.txt", MimeType: "text/plain", Data: []byte(body)}
}

func TestIngest_FullPipeline(t *testing.T) {
	f := newOrchestratorFixture(100)
	f.meta.On("FindReadyByHash", mock.Anything, "owner-1", mock.Anything).Return(nil, nil)
	f.blobs.On("Put", mock.Anything, mock.Anything, mock.Anything, "text/plain").Return(nil)
	f.meta.On("Create", mock.Anything, mock.Anything).Return(nil)
	f.meta.On("SetStatus", mock.Anything, mock.Anything, StatusProcessing).Return(nil)
	f.quota.On("IncrementUploadCount", mock.Anything, "owner-1").Return(nil)
	f.pages.On("BulkCreatePages", mock.Anything, mock.Anything).Return(nil)
	f.pages.On("SetPageVectorIDs", mock.Anything, mock.Anything, mock.Anything).Return(nil)
	f.meta.On("SetReady", mock.Anything, mock.Anything, 12, mock.Anything, mock.Anything).Return(nil)

	out, err := f.orch.Ingest(context.Background(), twelvePageUpload())
	require.NoError(t, err)

	assert.Equal(t, StatusReady, out.Status)
	assert.Equal(t, 12, out.TotalPages)
	assert.Equal(t, 11, out.IndexedVectors)
	assert.Equal(t, 1, out.SkippedPages)
	assert.True(t, out.RollbackClean)

	created := f.meta.Calls[1].Arguments.Get(1).(*DocumentMeta)
	assert.Equal(t, StatusUploading, created.Status)
	assert.NotEmpty(t, created.ContentHash)
	assert.Contains(t, created.ObjectKey, created.ID)
	f.meta.AssertCalled(t, "SetStatus", mock.Anything, created.ID, StatusProcessing)

	records := f.pages.Calls[0].Arguments.Get(1).([]PageRecord)
	require.Len(t, records, 12)
	assert.Equal(t, 500, records[0].WordCount)
	assert.Equal(t, 2, records[11].WordCount)

	vectorIDs := f.pages.Calls[1].Arguments.Get(2).(map[int]string)
	assert.Len(t, vectorIDs, 11)
	_, hasSkipped := vectorIDs[12]
	assert.False(t, hasSkipped)

	f.blobs.AssertNotCalled(t, "Delete", mock.Anything, mock.Anything)
	f.meta.AssertNotCalled(t, "Delete", mock.Anything, mock.Anything)
	assert.Empty(t, f.index.deleted)
}

func TestIngest_DuplicateCreatesReferenceRecord(t *testing.T) {
	f := newOrchestratorFixture(100)
	existing := &DocumentMeta{
		ID:         "doc-existing",
		Status:     StatusReady,
		TotalPages: 7,
		ObjectKey:  "owner-1/doc-existing/course.txt",
	}
	f.meta.On("FindReadyByHash", mock.Anything, "owner-1", mock.Anything).Return(existing, nil)
	f.quota.On("IncrementUploadCount", mock.Anything, "owner-1").Return(nil)
	f.meta.On("CreateReference", mock.Anything, mock.Anything).Return(nil)

	out, err := f.orch.Ingest(context.Background(), twelvePageUpload())
	require.NoError(t, err)

	assert.True(t, out.Deduplicated)
	assert.Equal(t, StatusReady, out.Status)
	assert.Equal(t, 7, out.TotalPages)

	ref := f.meta.Calls[1].Arguments.Get(1).(*DocumentMeta)
	assert.Equal(t, out.DocumentID, ref.ID)
	assert.NotEqual(t, "doc-existing", ref.ID)
	assert.Equal(t, "doc-existing", ref.SourceDocumentID)
	assert.Equal(t, StatusReady, ref.Status)
	assert.Equal(t, 7, ref.TotalPages)
	assert.Equal(t, "owner-1/doc-existing/course.txt", ref.ObjectKey)

	// The bytes are already stored and indexed; only quota and the row move.
	f.blobs.AssertNotCalled(t, "Put", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	f.pages.AssertNotCalled(t, "BulkCreatePages", mock.Anything, mock.Anything)
	assert.Empty(t, f.index.batches)
}

func TestIngest_DuplicateReferenceFailureReconcilesQuota(t *testing.T) {
	f := newOrchestratorFixture(100)
	existing := &DocumentMeta{ID: "doc-existing", Status: StatusReady, TotalPages: 7}
	f.meta.On("FindReadyByHash", mock.Anything, "owner-1", mock.Anything).Return(existing, nil)
	f.quota.On("IncrementUploadCount", mock.Anything, "owner-1").Return(nil)
	f.meta.On("CreateReference", mock.Anything, mock.Anything).Return(assert.AnError)
	f.quota.On("CountOwnedDocuments", mock.Anything, "owner-1").Return(2, nil)
	f.quota.On("SetUploadCount", mock.Anything, "owner-1", 2).Return(nil)

	out, err := f.orch.Ingest(context.Background(), twelvePageUpload())
	require.Error(t, err)

	assert.Equal(t, StatusFailed, out.Status)
	assert.True(t, out.RollbackClean)
	f.quota.AssertCalled(t, "SetUploadCount", mock.Anything, "owner-1", 2)
}

func TestIngest_ExtractionFailureCompensates(t *testing.T) {
	f := newOrchestratorFixture(100)
	f.meta.On("FindReadyByHash", mock.Anything, "owner-1", mock.Anything).Return(nil, nil)
	f.blobs.On("Put", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil)
	f.meta.On("Create", mock.Anything, mock.Anything).Return(nil)
	f.meta.On("SetStatus", mock.Anything, mock.Anything, StatusProcessing).Return(nil)
	f.quota.On("IncrementUploadCount", mock.Anything, "owner-1").Return(nil)
	f.blobs.On("Delete", mock.Anything, mock.Anything).Return(nil)
	f.meta.On("Delete", mock.Anything, mock.Anything).Return(nil)
	f.quota.On("CountOwnedDocuments", mock.Anything, "owner-1").Return(3, nil)
	f.quota.On("SetUploadCount", mock.Anything, "owner-1", 3).Return(nil)

	up := Upload{OwnerID: "owner-1", Filename: "broken.xlsx", Data: []byte("not a document")}
	out, err := f.orch.Ingest(context.Background(), up)
	require.Error(t, err)

	assert.ErrorIs(t, err, ErrExtractionFailed)
	assert.Equal(t, StatusFailed, out.Status)
	assert.True(t, out.RollbackClean)
	f.blobs.AssertCalled(t, "Delete", mock.Anything, mock.Anything)
	f.meta.AssertCalled(t, "Delete", mock.Anything, mock.Anything)
	f.quota.AssertCalled(t, "SetUploadCount", mock.Anything, "owner-1", 3)
	f.pages.AssertNotCalled(t, "DeletePages", mock.Anything, mock.Anything)
}

func TestIngest_IndexFailureAfterFirstFlushRollsBackVectors(t *testing.T) {
	f := newOrchestratorFixture(5)
	f.index.failOn = 2
	f.meta.On("FindReadyByHash", mock.Anything, "owner-1", mock.Anything).Return(nil, nil)
	f.blobs.On("Put", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil)
	f.meta.On("Create", mock.Anything, mock.Anything).Return(nil)
	f.meta.On("SetStatus", mock.Anything, mock.Anything, StatusProcessing).Return(nil)
	f.quota.On("IncrementUploadCount", mock.Anything, "owner-1").Return(nil)
	f.pages.On("BulkCreatePages", mock.Anything, mock.Anything).Return(nil)
	f.pages.On("DeletePages", mock.Anything, mock.Anything).Return(nil)
	f.blobs.On("Delete", mock.Anything, mock.Anything).Return(nil)
	f.meta.On("Delete", mock.Anything, mock.Anything).Return(nil)
	f.quota.On("CountOwnedDocuments", mock.Anything, "owner-1").Return(0, nil)
	f.quota.On("SetUploadCount", mock.Anything, "owner-1", 0).Return(nil)

	out, err := f.orch.Ingest(context.Background(), twelvePageUpload())
	require.Error(t, err)

	assert.Equal(t, StatusFailed, out.Status)
	assert.True(t, out.RollbackClean)
	// A failed flush may have written part of a batch, so the rollback
	// sweeps by document rather than by acknowledged id.
	require.Len(t, f.index.deleted, 1)
	assert.Equal(t, out.DocumentID, f.index.deleted[0])
	assert.Empty(t, f.index.deletedIDs)
	f.pages.AssertCalled(t, "DeletePages", mock.Anything, out.DocumentID)
	f.blobs.AssertCalled(t, "Delete", mock.Anything, mock.Anything)
	f.meta.AssertCalled(t, "Delete", mock.Anything, out.DocumentID)
}

func TestIngest_FinalizeFailureRollsBackEverything(t *testing.T) {
	f := newOrchestratorFixture(100)
	f.meta.On("FindReadyByHash", mock.Anything, "owner-1", mock.Anything).Return(nil, nil)
	f.blobs.On("Put", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil)
	f.meta.On("Create", mock.Anything, mock.Anything).Return(nil)
	f.meta.On("SetStatus", mock.Anything, mock.Anything, StatusProcessing).Return(nil)
	f.quota.On("IncrementUploadCount", mock.Anything, "owner-1").Return(nil)
	f.pages.On("BulkCreatePages", mock.Anything, mock.Anything).Return(nil)
	f.pages.On("SetPageVectorIDs", mock.Anything, mock.Anything, mock.Anything).Return(nil)
	f.meta.On("SetReady", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(assert.AnError)
	f.pages.On("DeletePages", mock.Anything, mock.Anything).Return(nil)
	f.blobs.On("Delete", mock.Anything, mock.Anything).Return(nil)
	f.meta.On("Delete", mock.Anything, mock.Anything).Return(nil)
	f.quota.On("CountOwnedDocuments", mock.Anything, "owner-1").Return(4, nil)
	f.quota.On("SetUploadCount", mock.Anything, "owner-1", 4).Return(nil)

	out, err := f.orch.Ingest(context.Background(), twelvePageUpload())
	require.Error(t, err)

	assert.Equal(t, StatusFailed, out.Status)
	assert.True(t, out.RollbackClean)

	// Every flush was acknowledged, so the rollback deletes exactly the
	// eleven written vector ids instead of sweeping by document.
	assert.Empty(t, f.index.deleted)
	require.Len(t, f.index.deletedIDs, 11)
	assert.Contains(t, f.index.deletedIDs, VectorID(out.DocumentID, 1))
	assert.Contains(t, f.index.deletedIDs, VectorID(out.DocumentID, 11))
	assert.NotContains(t, f.index.deletedIDs, VectorID(out.DocumentID, 12))
}

func TestIngest_RollbackReportsUncleanOnCompensationFailure(t *testing.T) {
	f := newOrchestratorFixture(100)
	f.meta.On("FindReadyByHash", mock.Anything, "owner-1", mock.Anything).Return(nil, nil)
	f.blobs.On("Put", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil)
	f.meta.On("Create", mock.Anything, mock.Anything).Return(nil)
	f.meta.On("SetStatus", mock.Anything, mock.Anything, StatusProcessing).Return(nil)
	f.quota.On("IncrementUploadCount", mock.Anything, "owner-1").Return(nil)
	f.blobs.On("Delete", mock.Anything, mock.Anything).Return(assert.AnError)
	f.meta.On("Delete", mock.Anything, mock.Anything).Return(nil)
	f.quota.On("CountOwnedDocuments", mock.Anything, "owner-1").Return(0, nil)
	f.quota.On("SetUploadCount", mock.Anything, "owner-1", 0).Return(nil)

	up := Upload{OwnerID: "owner-1", Filename: "broken.xlsx", Data: []byte("x")}
	out, err := f.orch.Ingest(context.Background(), up)
	require.Error(t, err)

	assert.False(t, out.RollbackClean)
}

// memDocStore backs the metadata and quota interfaces with a live row set,
// so CountOwnedDocuments reflects the actual row lifecycle during rollback
// instead of a canned value.
type memDocStore struct {
	mu           sync.Mutex
	rows         map[string]string // document id -> owner id
	counters     map[string]int
	failSetReady bool
}

func newMemDocStore() *memDocStore {
	return &memDocStore{rows: map[string]string{}, counters: map[string]int{}}
}

func (m *memDocStore) Create(_ context.Context, meta *DocumentMeta) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rows[meta.ID] = meta.OwnerID
	return nil
}

func (m *memDocStore) CreateReference(_ context.Context, ref *DocumentMeta) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rows[ref.ID] = ref.OwnerID
	return nil
}

func (m *memDocStore) SetStatus(context.Context, string, string) error { return nil }

func (m *memDocStore) SetReady(context.Context, string, int, []string, []string) error {
	if m.failSetReady {
		return assert.AnError
	}
	return nil
}

func (m *memDocStore) FindReadyByHash(context.Context, string, string) (*DocumentMeta, error) {
	return nil, nil
}

func (m *memDocStore) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.rows, id)
	return nil
}

func (m *memDocStore) IncrementUploadCount(_ context.Context, ownerID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counters[ownerID]++
	return nil
}

func (m *memDocStore) CountOwnedDocuments(_ context.Context, ownerID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, owner := range m.rows {
		if owner == ownerID {
			n++
		}
	}
	return n, nil
}

func (m *memDocStore) SetUploadCount(_ context.Context, ownerID string, count int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counters[ownerID] = count
	return nil
}

// The quota reconciliation must run after the row delete, so the recount
// sees the post-rollback row set and the counter returns to ground truth.
func TestIngest_RollbackRestoresQuotaGroundTruth(t *testing.T) {
	store := newMemDocStore()
	store.failSetReady = true
	blobs := &mockBlobStore{}
	pages := &mockPageStore{}
	idx := &fakeIndex{}
	emb := &fakeEmbedder{dimension: 8}
	sched := NewScheduler(emb, idx, 8, 5, 100, 50, testLogger())
	orch := NewOrchestrator(
		blobs, store, store, pages, idx,
		extract.New(500), sched, nil, 5*time.Second, testLogger(),
	)

	blobs.On("Put", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil)
	blobs.On("Delete", mock.Anything, mock.Anything).Return(nil)
	pages.On("BulkCreatePages", mock.Anything, mock.Anything).Return(nil)
	pages.On("SetPageVectorIDs", mock.Anything, mock.Anything, mock.Anything).Return(nil)
	pages.On("DeletePages", mock.Anything, mock.Anything).Return(nil)

	out, err := orch.Ingest(context.Background(), twelvePageUpload())
	require.Error(t, err)

	assert.True(t, out.RollbackClean)
	assert.Empty(t, store.rows)
	assert.Equal(t, 0, store.counters["owner-1"])
}
