// Package fswalker implements the FilesystemWalker backend: a two-pass
// traversal of a local directory tree that emits one FileRecord per
// eligible file, the way the teacher's worker pool emits one FileRecord per
// eligible GitHub tree entry.
package fswalker

import (
	"context"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/klask-io/klask-core/internal/exclusion"
	"github.com/klask-io/klask-core/internal/identity"
	"github.com/klask-io/klask-core/internal/metrics"
	"github.com/klask-io/klask-core/internal/model"
)

// Sink is the batch-write capability the walker hands FileRecords to.
// *index.BatchIndexer satisfies it; tests use a fake.
type Sink interface {
	Add(ctx context.Context, rec model.FileRecord) error
	Flush(ctx context.Context) error
}

// ProgressFunc is invoked as the walk progresses so a caller (the
// supervisor) can expose a live Progress snapshot.
type ProgressFunc func(filesTotal, filesProcessed int64, currentFile string)

// FilesystemWalker crawls a local directory tree per spec.md §4.4.
type FilesystemWalker struct {
	policy          *exclusion.Policy
	metrics         *metrics.Metrics
	sink            Sink
	repositoryID    string
	maxSymlinkDepth int
}

// New builds a FilesystemWalker. maxSymlinkDepth <= 0 falls back to 64.
func New(policy *exclusion.Policy, sink Sink, m *metrics.Metrics, repositoryID string, maxSymlinkDepth int) *FilesystemWalker {
	if maxSymlinkDepth <= 0 {
		maxSymlinkDepth = 64
	}
	return &FilesystemWalker{
		policy:          policy,
		metrics:         m,
		sink:            sink,
		repositoryID:    repositoryID,
		maxSymlinkDepth: maxSymlinkDepth,
	}
}

// Walk performs the count pass followed by the ingest pass over rootPath.
func (w *FilesystemWalker) Walk(ctx context.Context, rootPath string, progress ProgressFunc) (model.CrawlerResult, error) {
	start := time.Now()
	result := model.CrawlerResult{RepositoryID: w.repositoryID}

	total, err := w.count(ctx, rootPath)
	if err != nil && ctx.Err() != nil {
		result.Status = model.StatusCancelled
		result.Err = err
		return result, err
	}
	result.FilesTotal = total
	if w.metrics != nil {
		w.metrics.SetFilesTotal(w.repositoryID, string(model.KindFileSystem), float64(total))
	}
	if progress != nil {
		progress(total, 0, "")
	}

	var processed, indexed int64
	visited := make(map[string]struct{})

	walkErr := w.walkDir(ctx, rootPath, rootPath, 0, visited, func(path string, info os.FileInfo) error {
		processed++
		if w.metrics != nil {
			w.metrics.RecordFileProcessed(w.repositoryID, string(model.KindFileSystem))
		}
		if progress != nil {
			progress(total, processed, path)
		}

		rec, ok, buildErr := w.buildRecord(path, info)
		if buildErr != nil {
			log.Printf("fswalker: skipping %s: %v", path, buildErr)
			if w.metrics != nil {
				w.metrics.RecordFileFailed(w.repositoryID, string(model.KindFileSystem))
			}
			return nil
		}
		if !ok {
			return nil
		}

		if err := w.sink.Add(ctx, rec); err != nil {
			return err
		}
		indexed++
		return nil
	})

	if flushErr := w.sink.Flush(ctx); flushErr != nil && walkErr == nil {
		walkErr = flushErr
	}

	result.FilesProcessed = processed
	result.FilesIndexed = indexed
	result.Duration = time.Since(start)

	if walkErr != nil {
		result.Err = walkErr
		if ctx.Err() != nil {
			result.Status = model.StatusCancelled
		} else {
			result.Status = model.StatusFailed
		}
		return result, walkErr
	}

	result.Status = model.StatusCompleted
	return result, nil
}

// count performs the lazy count pass: same traversal and exclusion rules as
// the ingest pass, without ever opening a file.
func (w *FilesystemWalker) count(ctx context.Context, rootPath string) (int64, error) {
	var total int64
	visited := make(map[string]struct{})
	err := w.walkDir(ctx, rootPath, rootPath, 0, visited, func(path string, info os.FileInfo) error {
		total++
		return nil
	})
	return total, err
}

// walkDir recursively visits dir, calling visit for every eligible regular
// file. Symbolic links are followed, guarded by maxSymlinkDepth and by
// visited, which tracks canonicalized directory identities on the current
// descent path only (siblings may safely revisit a directory another branch
// has already finished with).
func (w *FilesystemWalker) walkDir(ctx context.Context, root, dir string, depth int, visited map[string]struct{}, visit func(string, os.FileInfo) error) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	if depth > w.maxSymlinkDepth {
		return nil
	}

	if dir != root && w.policy.IsDirectoryExcluded(dir) {
		return nil
	}

	real, err := filepath.EvalSymlinks(dir)
	if err != nil {
		real = dir
	}
	if _, cyclic := visited[real]; cyclic {
		return nil
	}
	visited[real] = struct{}{}
	defer delete(visited, real)

	entries, err := os.ReadDir(dir)
	if err != nil {
		log.Printf("fswalker: cannot read directory %s: %v", dir, err)
		return nil
	}

	for _, entry := range entries {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		path := filepath.Join(dir, entry.Name())
		info, err := entry.Info()
		if err != nil {
			log.Printf("fswalker: cannot stat %s: %v", path, err)
			continue
		}

		if info.Mode()&os.ModeSymlink != 0 {
			target, err := os.Stat(path) // follows the link
			if err != nil {
				log.Printf("fswalker: broken symlink %s: %v", path, err)
				continue
			}
			if target.IsDir() {
				if err := w.walkDir(ctx, root, path, depth+1, visited, visit); err != nil {
					return err
				}
				continue
			}
			info = target
		}

		if info.IsDir() {
			if err := w.walkDir(ctx, root, path, depth+1, visited, visit); err != nil {
				return err
			}
			continue
		}

		if !info.Mode().IsRegular() {
			continue
		}

		if w.policy.IsFileExcluded(path) {
			continue
		}

		if err := visit(path, info); err != nil {
			return err
		}
	}

	return nil
}

// buildRecord constructs the FileRecord for path, reading and MIME-sniffing
// its content only when ShouldReadContent says it is worth the I/O. ok is
// false when the file turns out to be excluded once its content is known
// (an allowed extension that sniffs as binary), in which case no record is
// emitted at all, not even a metadata-only one.
func (w *FilesystemWalker) buildRecord(path string, info os.FileInfo) (model.FileRecord, bool, error) {
	size := info.Size()
	name := identity.BaseName(path)

	rec := model.FileRecord{
		ID:        identity.ID(path),
		Name:      name,
		Extension: identity.Extension(name),
		Path:      path,
		Size:      size,
	}
	rec.Project, rec.Version = identity.InferProjectVersion(dirSegments(path))

	if !w.policy.ShouldReadContent(path, size) {
		return rec, true, nil
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return model.FileRecord{}, false, err
	}
	if w.policy.IsFileExcludedWithContent(path, content) {
		return model.FileRecord{}, false, nil
	}

	rec.Content = string(content)
	if w.metrics != nil {
		w.metrics.RecordFileSize(float64(size))
	}
	return rec, true, nil
}

func dirSegments(path string) []string {
	dir := strings.Trim(filepath.ToSlash(filepath.Dir(path)), "/")
	if dir == "" {
		return nil
	}
	return strings.Split(dir, "/")
}
