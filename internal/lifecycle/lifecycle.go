// Package lifecycle manages the index lifecycle: creating a repository's
// index before its first crawl, recreating it for a full reindex, and
// deleting it when the repository itself is deleted.
package lifecycle

import (
	"context"
	"fmt"

	"github.com/klask-io/klask-core/internal/index"
	"github.com/klask-io/klask-core/internal/model"
)

// IndexLifecycle owns the create/recreate/delete operations around a
// repository's index, keyed by index.IndexName. It does not own document
// writes — that is the BatchIndexer's job against the same IndexWriter.
type IndexLifecycle struct {
	writer index.IndexWriter
}

// New builds an IndexLifecycle against writer.
func New(writer index.IndexWriter) *IndexLifecycle {
	return &IndexLifecycle{writer: writer}
}

// PrepareForCrawl ensures repo's index exists, creating it empty if this is
// the first crawl. fullReindex forces a drop-and-recreate so stale
// documents from deleted files cannot survive a crawl that takes a
// different path through the tree.
func (l *IndexLifecycle) PrepareForCrawl(ctx context.Context, repo model.Repository, fullReindex bool) (string, error) {
	name := index.IndexName(repo)
	if err := l.writer.EnsureIndex(ctx, name, fullReindex); err != nil {
		return "", fmt.Errorf("preparing index for repository %s: %w", repo.ID, err)
	}
	return name, nil
}

// DeleteRepository removes repo's index entirely. Called when the
// repository is deleted from the caller's store, not at the end of a
// normal crawl.
func (l *IndexLifecycle) DeleteRepository(ctx context.Context, repo model.Repository) error {
	name := index.IndexName(repo)
	if err := l.writer.DeleteIndex(ctx, name); err != nil {
		return fmt.Errorf("deleting index for repository %s: %w", repo.ID, err)
	}
	return nil
}
