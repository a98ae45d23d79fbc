// Package gitcrawl implements GitBranchIndexer: for a Git repository, emit
// one FileRecord per file at the tip of every remote branch, reading
// content straight from the object database — no working-copy checkout,
// ever, so branches can be processed without racing each other over a
// shared worktree.
package gitcrawl

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/transport"
	"github.com/go-git/go-git/v5/plumbing/transport/http"

	"github.com/klask-io/klask-core/internal/exclusion"
	"github.com/klask-io/klask-core/internal/identity"
	"github.com/klask-io/klask-core/internal/metrics"
	"github.com/klask-io/klask-core/internal/model"
)

// Sink is the batch-write capability the indexer hands FileRecords to.
type Sink interface {
	Add(ctx context.Context, rec model.FileRecord) error
	Flush(ctx context.Context) error
}

// GitBranchIndexer crawls every remote branch of one Git repository.
type GitBranchIndexer struct {
	policy           *exclusion.Policy
	metrics          *metrics.Metrics
	sink             Sink
	workingDirectory string
}

// New builds a GitBranchIndexer. workingDirectory is the root under which
// each repository gets its own local mirror, keyed by repository id.
func New(policy *exclusion.Policy, sink Sink, m *metrics.Metrics, workingDirectory string) *GitBranchIndexer {
	return &GitBranchIndexer{
		policy:           policy,
		metrics:          m,
		sink:             sink,
		workingDirectory: workingDirectory,
	}
}

// ProgressFunc is invoked once per file as each branch's tree is walked.
type ProgressFunc func(filesProcessed int64, currentFile string)

// Crawl clones-or-fetches repo, then walks every remote branch's tree.
func (g *GitBranchIndexer) Crawl(ctx context.Context, repo model.Repository, progress ProgressFunc) (model.CrawlerResult, error) {
	start := time.Now()
	result := model.CrawlerResult{RepositoryID: repo.ID}

	gitRepo, err := g.mirror(ctx, repo)
	if err != nil {
		result.Status = model.StatusFailed
		result.Err = err
		return result, fmt.Errorf("mirroring %s: %w", repo.URL, err)
	}

	branches, err := remoteBranches(gitRepo)
	if err != nil {
		result.Status = model.StatusFailed
		result.Err = err
		return result, fmt.Errorf("listing branches for %s: %w", repo.URL, err)
	}

	var processed, indexed int64
	for _, branch := range branches {
		select {
		case <-ctx.Done():
			result.Status = model.StatusCancelled
			result.Err = ctx.Err()
			return result, ctx.Err()
		default:
		}

		n, i, err := g.crawlBranch(ctx, gitRepo, repo, branch, processed, indexed, progress)
		processed = n
		indexed = i
		if err != nil {
			if flushErr := g.sink.Flush(ctx); flushErr != nil {
				log.Printf("gitcrawl: flush after branch error failed: %v", flushErr)
			}
			result.FilesProcessed = processed
			result.FilesIndexed = indexed
			result.Duration = time.Since(start)
			result.Err = err
			if ctx.Err() != nil {
				result.Status = model.StatusCancelled
			} else {
				result.Status = model.StatusFailed
			}
			return result, err
		}
	}

	if err := g.sink.Flush(ctx); err != nil {
		result.Status = model.StatusFailed
		result.Err = err
		return result, err
	}

	result.FilesProcessed = processed
	result.FilesIndexed = indexed
	result.Duration = time.Since(start)
	result.Status = model.StatusCompleted
	return result, nil
}

func (g *GitBranchIndexer) crawlBranch(ctx context.Context, gitRepo *git.Repository, repo model.Repository, branch string, processed, indexed int64, progress ProgressFunc) (int64, int64, error) {
	ref, err := gitRepo.Reference(plumbing.NewRemoteReferenceName("origin", branch), true)
	if err != nil {
		return processed, indexed, fmt.Errorf("resolving branch %s: %w", branch, err)
	}

	commit, err := gitRepo.CommitObject(ref.Hash())
	if err != nil {
		return processed, indexed, fmt.Errorf("resolving commit for branch %s: %w", branch, err)
	}

	tree, err := commit.Tree()
	if err != nil {
		return processed, indexed, fmt.Errorf("resolving tree for branch %s: %w", branch, err)
	}

	fileIter := tree.Files()
	defer fileIter.Close()

	for {
		select {
		case <-ctx.Done():
			return processed, indexed, ctx.Err()
		default:
		}

		file, err := fileIter.Next()
		if err != nil {
			if err == io.EOF {
				break
			}
			return processed, indexed, fmt.Errorf("walking tree for branch %s: %w", branch, err)
		}

		processed++
		if g.metrics != nil {
			g.metrics.RecordFileProcessed(repo.ID, string(model.KindGit))
		}
		if progress != nil {
			progress(processed, file.Name)
		}

		relPath := file.Name
		name := identity.BaseName(relPath)
		if g.policy.IsFileExcluded(relPath) {
			continue
		}

		canonicalPath := fmt.Sprintf("%s@%s:/%s", repo.URL, branch, relPath)
		rec := model.FileRecord{
			ID:        identity.ID(canonicalPath),
			Name:      name,
			Extension: identity.Extension(name),
			Path:      canonicalPath,
			Project:   repo.Name,
			Version:   branch,
			Size:      file.Size,
		}

		if g.policy.ShouldReadContent(relPath, file.Size) {
			content, err := file.Contents()
			if err != nil {
				log.Printf("gitcrawl: reading %s@%s failed: %v", branch, relPath, err)
				if g.metrics != nil {
					g.metrics.RecordFileFailed(repo.ID, string(model.KindGit))
				}
			} else {
				rec.Content = toValidUTF8(content)
				if g.metrics != nil {
					g.metrics.RecordFileSize(float64(file.Size))
				}
			}
		}

		if err := g.sink.Add(ctx, rec); err != nil {
			return processed, indexed, err
		}
		indexed++
	}

	return processed, indexed, nil
}

// mirror ensures a local non-bare clone of repo exists under
// workingDirectory, cloning it if absent and fetching otherwise.
func (g *GitBranchIndexer) mirror(ctx context.Context, repo model.Repository) (*git.Repository, error) {
	dir := filepath.Join(g.workingDirectory, repo.ID)
	auth := authFor(repo)

	if _, err := os.Stat(filepath.Join(dir, ".git")); err == nil {
		gitRepo, err := git.PlainOpen(dir)
		if err != nil {
			return nil, fmt.Errorf("opening existing mirror: %w", err)
		}
		err = gitRepo.FetchContext(ctx, &git.FetchOptions{
			RemoteName: "origin",
			Auth:       auth,
			RefSpecs:   []config.RefSpec{"+refs/heads/*:refs/remotes/origin/*"},
			Force:      true,
		})
		if err != nil && err != git.NoErrAlreadyUpToDate {
			return nil, fmt.Errorf("fetching %s: %w", repo.URL, err)
		}
		return gitRepo, nil
	}

	gitRepo, err := git.PlainCloneContext(ctx, dir, false, &git.CloneOptions{
		URL:               repo.URL,
		Auth:              auth,
		RecurseSubmodules: git.DefaultSubmoduleRecursionDepth,
	})
	if err != nil {
		return nil, fmt.Errorf("cloning %s: %w", repo.URL, err)
	}
	return gitRepo, nil
}

func authFor(repo model.Repository) transport.AuthMethod {
	if repo.AccessToken == "" {
		return nil
	}
	username := repo.Username
	if username == "" {
		username = "git"
	}
	return &http.BasicAuth{Username: username, Password: repo.AccessToken}
}

// remoteBranches lists every refs/remotes/origin/* branch, by short name.
func remoteBranches(gitRepo *git.Repository) ([]string, error) {
	refs, err := gitRepo.References()
	if err != nil {
		return nil, err
	}
	defer refs.Close()

	var branches []string
	err = refs.ForEach(func(ref *plumbing.Reference) error {
		name := ref.Name()
		if !name.IsRemote() {
			return nil
		}
		short := name.Short()
		if short == "origin/HEAD" {
			return nil
		}
		branches = append(branches, strings.TrimPrefix(short, "origin/"))
		return nil
	})
	if err != nil {
		return nil, err
	}
	return branches, nil
}

// toValidUTF8 replaces invalid byte sequences with the UTF-8 replacement
// character rather than rejecting the file outright — source trees
// routinely carry the odd non-UTF-8 byte in comments or string literals.
func toValidUTF8(s string) string {
	if utf8.ValidString(s) {
		return s
	}
	return strings.ToValidUTF8(s, "\uFFFD")
}
