package index

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/klask-io/klask-core/internal/model"
)

func newTestESClient(t *testing.T, handler http.HandlerFunc) *ESClient {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	c, err := NewESClient([]string{server.URL})
	require.NoError(t, err)
	return c
}

func TestEnsureIndexCreatesWhenAbsent(t *testing.T) {
	var created bool
	c := newTestESClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Elastic-Product", "Elasticsearch")
		switch r.Method {
		case http.MethodHead:
			w.WriteHeader(http.StatusNotFound)
		case http.MethodPut:
			created = true
			w.WriteHeader(http.StatusOK)
		}
	})

	err := c.EnsureIndex(t.Context(), "idx_test-1", false)
	require.NoError(t, err)
	assert.True(t, created)
}

func TestEnsureIndexSkipsWhenPresentAndNoRecreate(t *testing.T) {
	var putCalled bool
	c := newTestESClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Elastic-Product", "Elasticsearch")
		switch r.Method {
		case http.MethodHead:
			w.WriteHeader(http.StatusOK)
		case http.MethodPut:
			putCalled = true
			w.WriteHeader(http.StatusOK)
		}
	})

	err := c.EnsureIndex(t.Context(), "idx_test-1", false)
	require.NoError(t, err)
	assert.False(t, putCalled)
}

func TestBulkUpsertReportsPartialFailure(t *testing.T) {
	c := newTestESClient(t, func(w http.ResponseWriter, r *http.Request) {
		resp := map[string]any{
			"errors": true,
			"items": []map[string]any{
				{"index": map[string]any{"_id": "a", "status": 201}},
				{"index": map[string]any{"_id": "b", "status": 409}},
			},
		}
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("X-Elastic-Product", "Elasticsearch")
		_ = json.NewEncoder(w).Encode(resp)
	})

	result, err := c.BulkUpsert(t.Context(), "idx_test-1", []model.FileRecord{
		{ID: "a", Name: "a.go"},
		{ID: "b", Name: "b.go"},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, result.Indexed)
	assert.Equal(t, []string{"b"}, result.FailedIDs)
}

func TestBulkUpsertEmptyIsNoop(t *testing.T) {
	c := newTestESClient(t, func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("should not make any HTTP calls for empty docs")
	})

	result, err := c.BulkUpsert(t.Context(), "idx_test-1", nil)
	require.NoError(t, err)
	assert.Equal(t, BulkResult{}, result)
}

func TestBulkUpsertTransportErrorClassifiedBackendUnavailable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	addr := server.URL
	server.Close() // connection now refused

	c, err := NewESClient([]string{addr})
	require.NoError(t, err)

	_, err = c.BulkUpsert(t.Context(), "idx_test-1", []model.FileRecord{{ID: "a"}})
	require.Error(t, err)
	assert.True(t, IsBackendUnavailable(err))
}

func TestDeleteIndexTreats404AsSuccess(t *testing.T) {
	c := newTestESClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	err := c.DeleteIndex(t.Context(), "idx_missing-1")
	assert.NoError(t, err)
}
