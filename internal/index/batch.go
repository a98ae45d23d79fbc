package index

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/klask-io/klask-core/internal/metrics"
	"github.com/klask-io/klask-core/internal/model"
)

// BatchIndexer accumulates FileRecords and flushes them to an IndexWriter
// once the buffer reaches batchSize, mirroring the teacher's worker pool's
// buffer-and-drain shape but against the index backend instead of GitHub.
//
// On a backend-unavailable error, Flush sleeps for backoffBase and retries
// the SAME buffer without clearing it — spec.md is explicit that a
// transient outage must not drop documents already queued. Any other error
// (malformed request, OOM-equivalent) is non-retriable: the buffered paths
// are logged, counted as failed, and the buffer is cleared, but Flush still
// returns nil, since nothing in the batch indexer may terminate the crawl.
type BatchIndexer struct {
	writer      IndexWriter
	metrics     *metrics.Metrics
	indexName   string
	repoID      string
	kind        string
	batchSize   int
	backoffBase time.Duration

	mu              sync.Mutex
	buffer          []model.FileRecord
	failedDocuments int64
}

// NewBatchIndexer builds a BatchIndexer writing to indexName on behalf of
// repoID/kind (used only for metrics labels).
func NewBatchIndexer(writer IndexWriter, m *metrics.Metrics, indexName, repoID, kind string, batchSize int, backoffBase time.Duration) *BatchIndexer {
	if batchSize <= 0 {
		batchSize = 100
	}
	if backoffBase <= 0 {
		backoffBase = 10 * time.Second
	}
	return &BatchIndexer{
		writer:      writer,
		metrics:     m,
		indexName:   indexName,
		repoID:      repoID,
		kind:        kind,
		batchSize:   batchSize,
		backoffBase: backoffBase,
		buffer:      make([]model.FileRecord, 0, batchSize),
	}
}

// Add appends rec to the buffer, flushing when the watermark is reached.
// ctx governs the flush, not the append.
func (b *BatchIndexer) Add(ctx context.Context, rec model.FileRecord) error {
	b.mu.Lock()
	b.buffer = append(b.buffer, rec)
	full := len(b.buffer) >= b.batchSize
	b.mu.Unlock()

	if full {
		return b.Flush(ctx)
	}
	return nil
}

// Flush writes any buffered records and clears the buffer on success or on
// a non-retriable failure. It blocks, sleeping and retrying in place, while
// the backend reports itself unavailable; ctx cancellation interrupts that
// wait and returns ctx.Err().
func (b *BatchIndexer) Flush(ctx context.Context) error {
	b.mu.Lock()
	if len(b.buffer) == 0 {
		b.mu.Unlock()
		return nil
	}
	docs := make([]model.FileRecord, len(b.buffer))
	copy(docs, b.buffer)
	b.mu.Unlock()

	for {
		start := time.Now()
		result, err := b.writer.BulkUpsert(ctx, b.indexName, docs)
		elapsed := time.Since(start).Seconds()

		if err != nil {
			if IsBackendUnavailable(err) {
				if b.metrics != nil {
					b.metrics.RecordBackendError(b.kind, "backend_unavailable")
					b.metrics.RecordBatchFlush("backend_unavailable", elapsed, len(docs))
				}
				log.Printf("index backend unavailable, retrying %d buffered documents in %s: %v", len(docs), b.backoffBase, err)
				select {
				case <-time.After(b.backoffBase):
					continue
				case <-ctx.Done():
					return ctx.Err()
				}
			}

			// Non-retriable failure (malformed request, OOM-equivalent):
			// nothing inside the batch indexer may terminate the crawl, so
			// the buffer is logged in full, counted as failed, cleared, and
			// the crawl continues rather than aborting.
			if b.metrics != nil {
				b.metrics.RecordBackendError(b.kind, "non_retriable")
				b.metrics.RecordBatchFlush("error", elapsed, len(docs))
			}
			paths := make([]string, len(docs))
			for i, doc := range docs {
				paths[i] = doc.Path
			}
			log.Printf("index: non-retriable bulk error writing to %s, dropping %d buffered documents: %v\npaths: %v", b.indexName, len(docs), err, paths)
			b.clearBuffer(len(docs))
			return nil
		}

		b.mu.Lock()
		b.buffer = b.buffer[:0]
		b.mu.Unlock()

		if len(result.FailedIDs) > 0 {
			b.mu.Lock()
			b.failedDocuments += int64(len(result.FailedIDs))
			b.mu.Unlock()
			if b.metrics != nil {
				b.metrics.RecordFailedDocuments(b.repoID, len(result.FailedIDs))
				b.metrics.RecordBatchFlush("partial_failure", elapsed, len(docs))
			}
			log.Printf("batch flush to %s: %d indexed, %d rejected", b.indexName, result.Indexed, len(result.FailedIDs))
		} else if b.metrics != nil {
			b.metrics.RecordBatchFlush("success", elapsed, len(docs))
		}

		if b.metrics != nil {
			b.metrics.RecordFilesIndexed(b.repoID, b.kind, result.Indexed)
		}

		return nil
	}
}

func (b *BatchIndexer) clearBuffer(n int) {
	b.mu.Lock()
	b.buffer = b.buffer[:0]
	b.failedDocuments += int64(n)
	b.mu.Unlock()
}

// FailedDocuments returns the cumulative count of documents this indexer
// has failed to write, across both partial and whole-batch failures.
func (b *BatchIndexer) FailedDocuments() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.failedDocuments
}

// BufferedCount returns the number of records currently buffered, unflushed.
func (b *BatchIndexer) BufferedCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.buffer)
}

// Delete removes id from the index immediately, bypassing the buffer: SVN
// deletions are applied only after the preceding batch of updates has
// already flushed, so there is never anything to coalesce them with.
func (b *BatchIndexer) Delete(ctx context.Context, id string) error {
	return b.writer.Delete(ctx, b.indexName, []string{id})
}
