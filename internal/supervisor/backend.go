package supervisor

import (
	"context"

	"github.com/klask-io/klask-core/internal/fswalker"
	"github.com/klask-io/klask-core/internal/gitcrawl"
	"github.com/klask-io/klask-core/internal/model"
	"github.com/klask-io/klask-core/internal/svn"
)

// ProgressFunc is the shape every backend's own progress callback is
// normalized to, so the supervisor can maintain one Progress snapshot no
// matter which backend kind is running. filesTotal is 0 for the streaming
// backends (Git, GitLab, GitHub, SVN), which never learn a total ahead of
// time; only FileSystemWalker's eager count pass reports one.
type ProgressFunc func(filesTotal, filesProcessed int64, currentFile string)

// Backend is the capability CrawlerSupervisor dispatches one crawl through.
// Every concrete backend package (fswalker, gitcrawl, gitlabenum, githubenum,
// svn) exposes a differently-shaped Walk/Crawl method; the adapters below
// fold all five into this one interface. Each adapter takes a small
// interface typed in terms of that package's own ProgressFunc, not a
// generic stand-in: Go only considers a concrete type's method to satisfy
// an interface when the parameter types are identical, and a defined
// function type (gitcrawl.ProgressFunc, svn.ProgressFunc, ...) is never
// identical to a structurally-equal-but-unnamed func type.
type Backend interface {
	Run(ctx context.Context, repo model.Repository, progress ProgressFunc) (model.CrawlerResult, error)
}

// BackendFunc adapts a plain function to Backend.
type BackendFunc func(ctx context.Context, repo model.Repository, progress ProgressFunc) (model.CrawlerResult, error)

// Run implements Backend.
func (f BackendFunc) Run(ctx context.Context, repo model.Repository, progress ProgressFunc) (model.CrawlerResult, error) {
	return f(ctx, repo, progress)
}

// FileSystemWalker is satisfied by *fswalker.FilesystemWalker.
type FileSystemWalker interface {
	Walk(ctx context.Context, rootPath string, progress fswalker.ProgressFunc) (model.CrawlerResult, error)
}

// FileSystemBackend adapts w, passing repo.Path as the walk root. This is
// the one backend whose own ProgressFunc already matches Backend's shape.
func FileSystemBackend(w FileSystemWalker) Backend {
	return BackendFunc(func(ctx context.Context, repo model.Repository, progress ProgressFunc) (model.CrawlerResult, error) {
		return w.Walk(ctx, repo.Path, func(total, processed int64, currentFile string) {
			if progress != nil {
				progress(total, processed, currentFile)
			}
		})
	})
}

// GitCrawler is satisfied by *gitcrawl.GitBranchIndexer.
type GitCrawler interface {
	Crawl(ctx context.Context, repo model.Repository, progress gitcrawl.ProgressFunc) (model.CrawlerResult, error)
}

// GitBackend adapts c, reporting filesTotal as 0 on every callback since
// GitBranchIndexer discovers branches and files as it streams rather than
// counting them up front.
func GitBackend(c GitCrawler) Backend {
	return BackendFunc(func(ctx context.Context, repo model.Repository, progress ProgressFunc) (model.CrawlerResult, error) {
		return c.Crawl(ctx, repo, func(processed int64, currentFile string) {
			if progress != nil {
				progress(0, processed, currentFile)
			}
		})
	})
}

// SvnCrawler is satisfied by *svn.Crawler.
type SvnCrawler interface {
	Crawl(ctx context.Context, repo model.Repository, progress svn.ProgressFunc) (model.CrawlerResult, error)
}

// SvnBackend adapts c, reporting filesTotal as 0: an incremental SVN report
// never counts the changed-paths list ahead of replaying it.
func SvnBackend(c SvnCrawler) Backend {
	return BackendFunc(func(ctx context.Context, repo model.Repository, progress ProgressFunc) (model.CrawlerResult, error) {
		return c.Crawl(ctx, repo, func(processed int64, currentFile string) {
			if progress != nil {
				progress(0, processed, currentFile)
			}
		})
	})
}

// EnumeratorCrawler is satisfied by *gitlabenum.Enumerator and
// *githubenum.Enumerator: both already declare their progress parameter as
// the bare func(int64, string) type rather than a named ProgressFunc, so
// one interface covers both.
type EnumeratorCrawler interface {
	Crawl(ctx context.Context, repo model.Repository, progress func(int64, string)) (model.CrawlerResult, error)
}

// EnumeratorBackend adapts c (a GitLab or GitHub org enumerator), reporting
// filesTotal as 0: neither provider's API exposes a cheap upfront count of
// every file across every project in an org.
func EnumeratorBackend(c EnumeratorCrawler) Backend {
	return BackendFunc(func(ctx context.Context, repo model.Repository, progress ProgressFunc) (model.CrawlerResult, error) {
		return c.Crawl(ctx, repo, func(processed int64, currentFile string) {
			if progress != nil {
				progress(0, processed, currentFile)
			}
		})
	})
}
