// Package githubenum implements GitHubRepoEnumerator: expand an org-scope
// Repository into its concrete repositories, each driven through
// internal/gitcrawl as an ephemeral Git-kind Repository.
package githubenum

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/go-github/v66/github"

	"github.com/klask-io/klask-core/internal/metrics"
	"github.com/klask-io/klask-core/internal/model"
)

const perPage = 50

// BranchIndexer is the capability the enumerator drives per retained
// repository; *gitcrawl.GitBranchIndexer satisfies it.
type BranchIndexer interface {
	Crawl(ctx context.Context, repo model.Repository, progress func(int64, string)) (model.CrawlerResult, error)
}

// Enumerator lists a GitHub org's repositories and crawls each one.
type Enumerator struct {
	newClient  func(ctx context.Context, repo model.Repository) (*github.Client, error)
	indexer    BranchIndexer
	metrics    *metrics.Metrics
	httpClient *http.Client
}

// New builds an Enumerator driving crawls through indexer.
func New(indexer BranchIndexer, m *metrics.Metrics) *Enumerator {
	e := &Enumerator{indexer: indexer, metrics: m}
	e.newClient = func(ctx context.Context, repo model.Repository) (*github.Client, error) {
		return e.defaultNewClient(ctx, repo)
	}
	return e
}

// SetHTTPClient installs the http.Client the GitHub client issues requests
// through; cmd/crawlerd's backend factory uses this to pace outbound calls
// with a shared rate.Limiter across every enumeration run.
func (e *Enumerator) SetHTTPClient(c *http.Client) { e.httpClient = c }

// defaultNewClient authenticates with a plain personal-access token when
// AccessToken is set, or via the GitHub App installation-token exchange
// when GitHubAppID is configured instead.
func (e *Enumerator) defaultNewClient(ctx context.Context, repo model.Repository) (*github.Client, error) {
	client := github.NewClient(e.httpClient)
	if repo.Path != "" {
		enterprise, err := client.WithEnterpriseURLs(repo.Path, repo.Path)
		if err != nil {
			return nil, fmt.Errorf("configuring github enterprise client: %w", err)
		}
		client = enterprise
	}

	switch {
	case repo.GitHubAppID != "":
		token, err := installationToken(ctx, repo.GitHubAppID, []byte(repo.GitHubAppPrivateKey), repo.GitHubAppInstallationID, time.Now())
		if err != nil {
			return nil, err
		}
		return client.WithAuthToken(token), nil
	case repo.AccessToken != "":
		return client.WithAuthToken(repo.AccessToken), nil
	default:
		return client, nil
	}
}

// Crawl enumerates every repository under repo's org (repo.URL) and drives
// each retained one through the BranchIndexer.
func (e *Enumerator) Crawl(ctx context.Context, repo model.Repository, progress func(int64, string)) (model.CrawlerResult, error) {
	start := time.Now()
	result := model.CrawlerResult{RepositoryID: repo.ID}

	client, err := e.newClient(ctx, repo)
	if err != nil {
		result.Status = model.StatusFailed
		result.Err = err
		return result, fmt.Errorf("building github client: %w", err)
	}

	repos, err := e.listOrgRepos(ctx, client, repo.URL)
	if err != nil {
		result.Status = model.StatusFailed
		result.Err = err
		return result, err
	}

	var succeeded, failed int64
	var processed, indexed int64
	for _, r := range repos {
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

		fullName := r.GetFullName()
		if excluded(fullName, repo.ExcludedProjects, repo.ExcludedNamePatterns) {
			continue
		}

		child := model.Repository{
			ID:          repo.ID + "/" + fullName,
			Name:        fullName,
			Kind:        model.KindGit,
			URL:         r.GetCloneURL(),
			AccessToken: repo.AccessToken,
			Username:    "x-access-token",
		}

		if progress != nil {
			progress(processed, fullName)
		}

		childResult, err := e.indexer.Crawl(ctx, child, nil)
		processed += childResult.FilesProcessed
		indexed += childResult.FilesIndexed
		result.LastProcessedProject = fullName

		if err != nil {
			failed++
			if e.metrics != nil {
				e.metrics.RecordEnumeratedProject("github", "failed")
			}
			log.Printf("githubenum: repo %s failed: %v", fullName, err)
			continue
		}
		succeeded++
		if e.metrics != nil {
			e.metrics.RecordEnumeratedProject("github", "succeeded")
		}
	}

	result.FilesProcessed = processed
	result.FilesIndexed = indexed
	result.Duration = time.Since(start)

	if succeeded == 0 && failed > 0 {
		result.Status = model.StatusFailed
		result.Err = fmt.Errorf("githubenum: all %d repositories failed", failed)
		return result, result.Err
	}
	result.Status = model.StatusCompleted
	return result, nil
}

// listOrgRepos follows go-github's built-in pagination (ListOptions +
// Response.NextPage, which internally parses the RFC-5988 Link header)
// until exhausted or the context is cancelled.
func (e *Enumerator) listOrgRepos(ctx context.Context, client *github.Client, org string) ([]*github.Repository, error) {
	var all []*github.Repository
	opt := &github.RepositoryListByOrgOptions{
		ListOptions: github.ListOptions{PerPage: perPage},
	}

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		batch, resp, err := client.Repositories.ListByOrg(ctx, org, opt)
		if err != nil {
			return nil, fmt.Errorf("listing github org repos page %d: %w", opt.Page, err)
		}
		all = append(all, batch...)

		if resp.NextPage == 0 {
			break
		}
		opt.Page = resp.NextPage
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
