package index

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/klask-io/klask-core/internal/metrics"
	"github.com/klask-io/klask-core/internal/model"
)

// fakeWriter is an in-memory IndexWriter stand-in; it lets tests script
// specific failure sequences without a live Elasticsearch cluster.
type fakeWriter struct {
	mu sync.Mutex

	bulkCalls  int
	failNTimes int // BulkUpsert returns ErrBackendUnavailable this many times before succeeding
	failIDs    map[string]bool
	hardErr    error

	written []model.FileRecord
	deleted []string
}

func (f *fakeWriter) EnsureIndex(ctx context.Context, name string, recreate bool) error {
	return nil
}

func (f *fakeWriter) BulkUpsert(ctx context.Context, name string, docs []model.FileRecord) (BulkResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.bulkCalls++
	if f.hardErr != nil {
		return BulkResult{}, f.hardErr
	}
	if f.failNTimes > 0 {
		f.failNTimes--
		return BulkResult{}, ErrBackendUnavailable
	}

	result := BulkResult{}
	for _, d := range docs {
		if f.failIDs[d.ID] {
			result.FailedIDs = append(result.FailedIDs, d.ID)
			continue
		}
		result.Indexed++
		f.written = append(f.written, d)
	}
	return result, nil
}

func (f *fakeWriter) Delete(ctx context.Context, name string, ids []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, ids...)
	return nil
}
func (f *fakeWriter) DeleteIndex(ctx context.Context, name string) error { return nil }

func newTestIndexer(w IndexWriter, batchSize int, backoff time.Duration) *BatchIndexer {
	return NewBatchIndexer(w, metrics.NewForTesting(), "idx_test-1", "1", "FileSystem", batchSize, backoff)
}

func TestAddFlushesAtWatermark(t *testing.T) {
	w := &fakeWriter{}
	idx := newTestIndexer(w, 2, time.Millisecond)
	ctx := context.Background()

	require.NoError(t, idx.Add(ctx, model.FileRecord{ID: "a"}))
	assert.Equal(t, 1, idx.BufferedCount())
	assert.Equal(t, 0, w.bulkCalls)

	require.NoError(t, idx.Add(ctx, model.FileRecord{ID: "b"}))
	assert.Equal(t, 0, idx.BufferedCount())
	assert.Equal(t, 1, w.bulkCalls)
	assert.Len(t, w.written, 2)
}

func TestFlushNoopOnEmptyBuffer(t *testing.T) {
	w := &fakeWriter{}
	idx := newTestIndexer(w, 10, time.Millisecond)
	require.NoError(t, idx.Flush(context.Background()))
	assert.Equal(t, 0, w.bulkCalls)
}

func TestFlushRetainsBufferOnBackendUnavailable(t *testing.T) {
	w := &fakeWriter{failNTimes: 2}
	idx := newTestIndexer(w, 10, time.Millisecond)
	ctx := context.Background()

	require.NoError(t, idx.Add(ctx, model.FileRecord{ID: "a"}))
	require.NoError(t, idx.Flush(ctx))

	assert.Equal(t, 3, w.bulkCalls) // 2 failures + 1 success
	assert.Equal(t, 0, idx.BufferedCount())
	assert.Len(t, w.written, 1)
}

func TestFlushContextCancelledDuringBackoff(t *testing.T) {
	w := &fakeWriter{failNTimes: 100}
	idx := newTestIndexer(w, 10, time.Hour)
	ctx, cancel := context.WithCancel(context.Background())

	require.NoError(t, idx.Add(ctx, model.FileRecord{ID: "a"}))

	done := make(chan error, 1)
	go func() { done <- idx.Flush(ctx) }()

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("Flush did not return after context cancellation")
	}
}

func TestFlushPartialFailureTracksFailedDocuments(t *testing.T) {
	w := &fakeWriter{failIDs: map[string]bool{"b": true}}
	idx := newTestIndexer(w, 10, time.Millisecond)
	ctx := context.Background()

	require.NoError(t, idx.Add(ctx, model.FileRecord{ID: "a"}))
	require.NoError(t, idx.Add(ctx, model.FileRecord{ID: "b"}))
	require.NoError(t, idx.Flush(ctx))

	assert.Equal(t, int64(1), idx.FailedDocuments())
	assert.Len(t, w.written, 1)
}

func TestFlushNonRetriableErrorClearsBufferAndContinues(t *testing.T) {
	w := &fakeWriter{hardErr: errors.New("400 malformed request")}
	idx := newTestIndexer(w, 10, time.Millisecond)
	ctx := context.Background()

	require.NoError(t, idx.Add(ctx, model.FileRecord{ID: "a"}))
	err := idx.Flush(ctx)

	require.NoError(t, err)
	assert.Equal(t, 0, idx.BufferedCount())
	assert.Equal(t, int64(1), idx.FailedDocuments())
}

func TestDeleteBypassesBuffer(t *testing.T) {
	w := &fakeWriter{}
	idx := newTestIndexer(w, 10, time.Millisecond)
	ctx := context.Background()

	require.NoError(t, idx.Delete(ctx, "gone"))
	assert.Equal(t, []string{"gone"}, w.deleted)
	assert.Equal(t, 0, w.bulkCalls)
}

func TestIndexName(t *testing.T) {
	repo := model.Repository{ID: "42", Name: "MyRepo"}
	assert.Equal(t, "idx_myrepo-42", IndexName(repo))
}
