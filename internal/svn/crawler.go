package svn

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/klask-io/klask-core/internal/exclusion"
	"github.com/klask-io/klask-core/internal/identity"
	"github.com/klask-io/klask-core/internal/metrics"
	"github.com/klask-io/klask-core/internal/model"
)

// Sink is the batch-write capability the crawler hands FileRecords to.
type Sink interface {
	Add(ctx context.Context, rec model.FileRecord) error
	Flush(ctx context.Context) error
	Delete(ctx context.Context, id string) error
}

// ProgressFunc is invoked as changed paths are processed.
type ProgressFunc func(filesProcessed int64, currentFile string)

// Crawler drives a SvnDeltaEditor from a Session's flat changed-paths list,
// then re-fetches full content for everything the editor marked updated.
// There is no real nested-tree protocol available over the svn CLI, so the
// directory walk the editor expects is synthesized: every changed path's
// ancestor directories are opened in order before the leaf itself is
// delivered, and closed once no subsequent path shares that ancestor.
type Crawler struct {
	policy  *exclusion.Policy
	session Session
	sink    Sink
	metrics *metrics.Metrics
}

// New builds a Crawler driving session and writing through sink.
func New(policy *exclusion.Policy, session Session, sink Sink, m *metrics.Metrics) *Crawler {
	return &Crawler{policy: policy, session: session, sink: sink, metrics: m}
}

// Crawl reports the revision range [repo.Revision, latest] to a fresh
// SvnDeltaEditor, re-fetches content for every updated path, emits
// FileRecords, deletes every removed path, and returns the new Revision.
func (c *Crawler) Crawl(ctx context.Context, repo model.Repository, progress ProgressFunc) (model.CrawlerResult, error) {
	start := time.Now()
	result := model.CrawlerResult{RepositoryID: repo.ID}

	latest, err := c.session.LatestRevision(ctx, repo)
	if err != nil {
		result.Status = model.StatusFailed
		result.Err = err
		return result, fmt.Errorf("resolving latest revision for %s: %w", repo.URL, err)
	}

	if latest == repo.Revision {
		result.Status = model.StatusCompleted
		result.Revision = latest
		result.Duration = time.Since(start)
		return result, nil
	}

	changes, err := c.session.ChangedPaths(ctx, repo, repo.Revision, latest)
	if err != nil {
		result.Status = model.StatusFailed
		result.Err = err
		return result, fmt.Errorf("listing changes for %s: %w", repo.URL, err)
	}

	editor := NewEditor(c.policy, repo.URL, latest)
	replay(editor, changes)

	var processed, indexed int64

	// Updates are added, flushed, and only then are deletions applied: an
	// update-then-delete of the same path within one revision range must
	// leave the path absent from the index, never resurrected by a batch
	// flush ordered after the delete.
	for _, updated := range editor.UpdatedPaths() {
		select {
		case <-ctx.Done():
			return c.cancelled(result, start, processed, indexed, ctx.Err())
		default:
		}

		processed++
		if c.metrics != nil {
			c.metrics.RecordFileProcessed(repo.ID, string(model.KindSvn))
		}
		if progress != nil {
			progress(processed, updated.Path)
		}

		canonical := editor.canonicalPath(updated.Path)
		rec := model.FileRecord{
			ID:        identity.ID(canonical),
			Name:      identity.BaseName(updated.Path),
			Extension: identity.Extension(identity.BaseName(updated.Path)),
			Path:      canonical,
			Project:   updated.Project,
			Version:   updated.Version,
		}

		readable := updated.Readable
		if props, err := c.session.Properties(ctx, repo, updated.Path, latest); err != nil {
			log.Printf("svn: fetching properties for %s failed: %v", updated.Path, err)
		} else {
			rec.LastAuthor = props["svn:entry:last-author"]
			rec.LastDate = props["svn:entry:committed-date"]
			if mime, ok := props["svn:mime-type"]; ok && !strings.HasPrefix(mime, "text/") {
				readable = false
			}
			if _, executable := props["svn:executable"]; executable {
				readable = false
			}
		}

		size, err := c.session.Size(ctx, repo, updated.Path, latest)
		if err != nil {
			log.Printf("svn: fetching size for %s failed: %v", updated.Path, err)
		}
		rec.Size = size

		if readable && c.policy.ShouldReadContent(updated.Path, size) {
			content, err := c.session.Cat(ctx, repo, updated.Path, latest)
			if err != nil {
				log.Printf("svn: fetching content for %s failed: %v", updated.Path, err)
				if c.metrics != nil {
					c.metrics.RecordFileFailed(repo.ID, string(model.KindSvn))
				}
			} else {
				rec.Content = string(content)
				rec.Size = int64(len(content))
				if c.metrics != nil {
					c.metrics.RecordFileSize(float64(rec.Size))
				}
			}
		}

		if err := c.sink.Add(ctx, rec); err != nil {
			result.FilesProcessed = processed
			result.FilesIndexed = indexed
			result.Duration = time.Since(start)
			result.Status = model.StatusFailed
			result.Err = err
			return result, err
		}
		indexed++
	}

	if err := c.sink.Flush(ctx); err != nil {
		result.Status = model.StatusFailed
		result.Err = err
		return result, err
	}

	for _, path := range editor.DeletedPaths() {
		select {
		case <-ctx.Done():
			return c.cancelled(result, start, processed, indexed, ctx.Err())
		default:
		}
		if err := c.sink.Delete(ctx, identity.ID(path)); err != nil {
			log.Printf("svn: deleting %s failed: %v", path, err)
		}
	}

	result.FilesProcessed = processed
	result.FilesIndexed = indexed
	result.Duration = time.Since(start)
	result.Revision = latest
	result.Status = model.StatusCompleted
	return result, nil
}

func (c *Crawler) cancelled(result model.CrawlerResult, start time.Time, processed, indexed int64, err error) (model.CrawlerResult, error) {
	if flushErr := c.sink.Flush(context.Background()); flushErr != nil {
		log.Printf("svn: flush after cancellation failed: %v", flushErr)
	}
	result.FilesProcessed = processed
	result.FilesIndexed = indexed
	result.Duration = time.Since(start)
	result.Status = model.StatusCancelled
	result.Err = err
	return result, err
}

// replay synthesizes the directory-open/close and file-add/delete callback
// sequence the editor expects from a flat list of changed paths: it opens
// every new ancestor directory in order before delivering the leaf, and
// closes directories as soon as a subsequent path no longer shares them.
func replay(editor *SvnDeltaEditor, changes []ChangeEntry) {
	editor.OpenRoot(0)
	var openDirs []string

	closeTo := func(shared int) {
		for len(openDirs) > shared {
			editor.CloseDir()
			openDirs = openDirs[:len(openDirs)-1]
		}
	}

	for _, change := range changes {
		segments := identity.SplitPath(change.Path)
		dirSegments := segments
		if !change.IsDir {
			dirSegments = segments[:len(segments)-1]
		}

		shared := 0
		for shared < len(openDirs) && shared < len(dirSegments) && openDirs[shared] == dirSegments[shared] {
			shared++
		}
		closeTo(shared)

		cursor := ""
		for i := shared; i < len(dirSegments); i++ {
			if cursor == "" {
				cursor = dirSegments[i]
			} else {
				cursor = cursor + "/" + dirSegments[i]
			}
			editor.OpenDir(cursor, 0)
			openDirs = append(openDirs, dirSegments[i])
		}

		switch {
		case change.IsDir && change.Kind == ChangeDeleted:
			editor.DeleteEntry(change.Path, 0)
		case change.IsDir:
			// Directory itself already opened above; nothing further to do.
		case change.Kind == ChangeDeleted:
			editor.DeleteEntry(change.Path, 0)
		default:
			editor.AddFile(change.Path, "", 0)
			editor.ApplyTextDelta()
			editor.CloseFile(change.Path, "")
		}
	}

	closeTo(0)
	editor.CloseEdit()
}
