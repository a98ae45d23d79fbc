// Package index implements the bulk-write side of the crawl pipeline: the
// IndexWriter capability the supervisor is handed, a BatchIndexer that
// accumulates FileRecords and flushes them on a watermark, and the
// per-repository index lifecycle (create/recreate/delete).
package index

import (
	"context"

	"github.com/klask-io/klask-core/internal/model"
)

// BulkResult reports the outcome of one bulk write: how many documents
// were accepted, and which ids (if any) were rejected.
type BulkResult struct {
	Indexed   int
	FailedIDs []string
}

// IndexWriter is the capability the crawl core consumes; ESClient (client.go)
// is the Elasticsearch-backed implementation cmd/crawlerd wires in.
// Errors returned here are classified by the caller (see
// internal/supervisor/errors.go) — IndexWriter implementations should wrap
// the underlying transport error rather than swallow it.
type IndexWriter interface {
	// EnsureIndex creates the named index if absent. If recreate is true
	// and the index already exists, it is deleted and recreated empty.
	EnsureIndex(ctx context.Context, name string, recreate bool) error

	// BulkUpsert writes docs to name, keyed by FileRecord.ID. Partial
	// failures are reported via BulkResult.FailedIDs rather than an error;
	// err is non-nil only for failures affecting the whole request (backend
	// unavailable, OOM-equivalent, malformed request).
	BulkUpsert(ctx context.Context, name string, docs []model.FileRecord) (BulkResult, error)

	// Delete removes the given document ids from name.
	Delete(ctx context.Context, name string, ids []string) error

	// DeleteIndex removes the named index entirely.
	DeleteIndex(ctx context.Context, name string) error
}

// IndexName derives the per-repository index name from spec.md §4.3:
// "idx_" + lower(repository.name) + "-" + repository.id.
func IndexName(repo model.Repository) string {
	return "idx_" + lowerASCII(repo.Name) + "-" + repo.ID
}

func lowerASCII(s string) string {
	b := []byte(s)
	for i, c := range b {
		if c >= 'A' && c <= 'Z' {
			b[i] = c + ('a' - 'A')
		}
	}
	return string(b)
}
