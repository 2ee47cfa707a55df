package stats_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lexio/features/stats"
)

type stubDocs struct {
	count    int
	byStatus map[string]int
	err      error
}

func (s *stubDocs) Count(context.Context) (int, error) { return s.count, s.err }
func (s *stubDocs) CountByStatus(context.Context) (map[string]int, error) {
	return s.byStatus, s.err
}

type stubPages struct {
	count int64
	err   error
}

func (s *stubPages) CountPages(context.Context) (int64, error) { return s.count, s.err }

type stubIndex struct {
	count int
	err   error
}

func (s *stubIndex) CountObjects(context.Context) (int, error) { return s.count, s.err }

func TestGetStats(t *testing.T) {
	h := stats.NewHandler(
		&stubDocs{count: 7, byStatus: map[string]int{"ready": 6, "failed": 1}},
		&stubPages{count: 84},
		&stubIndex{count: 80},
	)

	req := httptest.NewRequest(http.MethodGet, "/stats", nil)
	rec := httptest.NewRecorder()
	h.GetStats(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Data stats.StatsResponse `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 7, resp.Data.Documents)
	assert.Equal(t, int64(84), resp.Data.Pages)
	assert.Equal(t, 80, resp.Data.Vectors)
	assert.Equal(t, 6, resp.Data.DocumentsByStatus["ready"])
}

func TestGetStats_StoreFailure(t *testing.T) {
	h := stats.NewHandler(
		&stubDocs{err: errors.New("db down")},
		&stubPages{},
		&stubIndex{},
	)

	req := httptest.NewRequest(http.MethodGet, "/stats", nil)
	rec := httptest.NewRecorder()
	h.GetStats(rec, req)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), "INTERNAL_ERROR")
}
