// Package gitlabenum implements GitLabProjectEnumerator: expand an
// org/group-scope Repository into its concrete projects, each driven
// through internal/gitcrawl as an ephemeral Git-kind Repository.
package gitlabenum

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/xanzy/go-gitlab"

	"github.com/klask-io/klask-core/internal/metrics"
	"github.com/klask-io/klask-core/internal/model"
)

const perPage = 50

// BranchIndexer is the capability the enumerator drives per retained
// project; *gitcrawl.GitBranchIndexer satisfies it.
type BranchIndexer interface {
	Crawl(ctx context.Context, repo model.Repository, progress func(int64, string)) (model.CrawlerResult, error)
}

// Enumerator lists a GitLab group's projects and crawls each one.
type Enumerator struct {
	newClient  func(token, baseURL string) (*gitlab.Client, error)
	indexer    BranchIndexer
	metrics    *metrics.Metrics
	httpClient *http.Client
}

// New builds an Enumerator driving crawls through indexer.
func New(indexer BranchIndexer, m *metrics.Metrics) *Enumerator {
	e := &Enumerator{indexer: indexer, metrics: m}
	e.newClient = func(token, baseURL string) (*gitlab.Client, error) {
		return e.defaultNewClient(token, baseURL)
	}
	return e
}

// SetHTTPClient installs the http.Client the GitLab client issues requests
// through; cmd/crawlerd's backend factory uses this to pace outbound calls
// with a shared rate.Limiter across every enumeration run.
func (e *Enumerator) SetHTTPClient(c *http.Client) { e.httpClient = c }

func (e *Enumerator) defaultNewClient(token, baseURL string) (*gitlab.Client, error) {
	opts := []gitlab.ClientOptionFunc{}
	if baseURL != "" {
		opts = append(opts, gitlab.WithBaseURL(baseURL))
	}
	if e.httpClient != nil {
		opts = append(opts, gitlab.WithHTTPClient(e.httpClient))
	}
	return gitlab.NewClient(token, opts...)
}

// Crawl enumerates every project under repo's group (repo.URL holds the
// group path, or the empty string for "every project visible to the
// token"), and drives each retained one through the BranchIndexer.
func (e *Enumerator) Crawl(ctx context.Context, repo model.Repository, progress func(int64, string)) (model.CrawlerResult, error) {
	start := time.Now()
	result := model.CrawlerResult{RepositoryID: repo.ID}

	client, err := e.newClient(repo.AccessToken, repo.Path)
	if err != nil {
		result.Status = model.StatusFailed
		result.Err = err
		return result, fmt.Errorf("building gitlab client: %w", err)
	}

	projects, err := e.listProjects(ctx, client, repo)
	if err != nil {
		result.Status = model.StatusFailed
		result.Err = err
		return result, err
	}

	var succeeded, failed int64
	var processed, indexed int64
	for _, p := range projects {
		select {
		case <-ctx.Done():
			result.Status = model.StatusCancelled
			result.Err = ctx.Err()
			result.FilesProcessed = processed
			result.FilesIndexed = indexed
			result.Duration = time.Since(start)
			return result, ctx.Err()
		default:
		}

		if excluded(p.PathWithNamespace, repo.ExcludedProjects, repo.ExcludedNamePatterns) {
			continue
		}

		child := model.Repository{
			ID:          repo.ID + "/" + p.PathWithNamespace,
			Name:        p.PathWithNamespace,
			Kind:        model.KindGit,
			URL:         p.HTTPURLToRepo,
			AccessToken: repo.AccessToken,
			Username:    "oauth2",
		}

		if progress != nil {
			progress(processed, p.PathWithNamespace)
		}

		childResult, err := e.indexer.Crawl(ctx, child, nil)
		processed += childResult.FilesProcessed
		indexed += childResult.FilesIndexed
		result.LastProcessedProject = p.PathWithNamespace

		if err != nil {
			failed++
			if e.metrics != nil {
				e.metrics.RecordEnumeratedProject("gitlab", "failed")
			}
			log.Printf("gitlabenum: project %s failed: %v", p.PathWithNamespace, err)
			continue
		}
		succeeded++
		if e.metrics != nil {
			e.metrics.RecordEnumeratedProject("gitlab", "succeeded")
		}
	}

	result.FilesProcessed = processed
	result.FilesIndexed = indexed
	result.Duration = time.Since(start)

	if succeeded == 0 && failed > 0 {
		result.Status = model.StatusFailed
		result.Err = fmt.Errorf("gitlabenum: all %d projects failed", failed)
		return result, result.Err
	}
	result.Status = model.StatusCompleted
	return result, nil
}

// listProjects follows go-gitlab's built-in pagination (ListOptions +
// Response.NextPage) until exhausted or the context is cancelled.
func (e *Enumerator) listProjects(ctx context.Context, client *gitlab.Client, repo model.Repository) ([]*gitlab.Project, error) {
	var all []*gitlab.Project
	page := 1

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		var (
			batch []*gitlab.Project
			resp  *gitlab.Response
			err   error
		)

		if repo.URL == "" {
			opt := &gitlab.ListProjectsOptions{ListOptions: gitlab.ListOptions{PerPage: perPage, Page: page}}
			batch, resp, err = client.Projects.ListProjects(opt, gitlab.WithContext(ctx))
		} else {
			opt := &gitlab.ListGroupProjectsOptions{ListOptions: gitlab.ListOptions{PerPage: perPage, Page: page}}
			batch, resp, err = client.Groups.ListGroupProjects(repo.URL, opt, gitlab.WithContext(ctx))
		}
		if err != nil {
			return nil, fmt.Errorf("listing gitlab projects page %d: %w", page, err)
		}

		all = append(all, batch...)

		if resp.NextPage == 0 {
			break
		}
		page = resp.NextPage
	}

	return all, nil
}

// excluded reports whether name should be dropped: an exact match in the
// excluded-project list, or a match against any configured glob pattern
// (simple '*'/'?' wildcards, anchored at both ends per filepath.Match).
func excluded(name string, excludedNames, patterns []string) bool {
	for _, n := range excludedNames {
		if n == name {
			return true
		}
	}
	base := name
	if i := strings.LastIndexByte(name, '/'); i >= 0 {
		base = name[i+1:]
	}
	for _, pattern := range patterns {
		if matched, err := filepath.Match(pattern, name); err == nil && matched {
			return true
		}
		if matched, err := filepath.Match(pattern, base); err == nil && matched {
			return true
		}
	}
	return false
}
