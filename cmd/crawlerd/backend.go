package main

import (
	"context"
	"fmt"
	"net/http"

	"golang.org/x/time/rate"

	"github.com/klask-io/klask-core/internal/config"
	"github.com/klask-io/klask-core/internal/exclusion"
	"github.com/klask-io/klask-core/internal/fswalker"
	"github.com/klask-io/klask-core/internal/gitcrawl"
	"github.com/klask-io/klask-core/internal/githubenum"
	"github.com/klask-io/klask-core/internal/gitlabenum"
	"github.com/klask-io/klask-core/internal/index"
	"github.com/klask-io/klask-core/internal/lifecycle"
	"github.com/klask-io/klask-core/internal/metrics"
	"github.com/klask-io/klask-core/internal/model"
	"github.com/klask-io/klask-core/internal/supervisor"
	"github.com/klask-io/klask-core/internal/svn"
)

// rateLimitedTransport paces outbound requests through limiter before
// delegating to base, the same Wait-before-call pattern svn.RASession uses
// around its CLI invocations.
type rateLimitedTransport struct {
	limiter *rate.Limiter
	base    http.RoundTripper
}

func (t *rateLimitedTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if err := t.limiter.Wait(req.Context()); err != nil {
		return nil, err
	}
	return t.base.RoundTrip(req)
}

// newBackendFactory builds the supervisor.BackendFactory that dispatches on
// repo.Kind, wiring each backend with a fresh exclusion.Policy and a
// BatchIndexer writing to that repository's index. limiter paces every
// outbound GitLab/GitHub HTTP call and every svn subprocess invocation, so
// an org crawl spanning hundreds of projects cannot overrun the configured
// API rate.
func newBackendFactory(cfg *config.Config, lc *lifecycle.IndexLifecycle, writer index.IndexWriter, m *metrics.Metrics, limiter *rate.Limiter) supervisor.BackendFactory {
	rateLimitedClient := &http.Client{
		Transport: &rateLimitedTransport{limiter: limiter, base: http.DefaultTransport},
	}

	return func(repo model.Repository) (supervisor.Backend, error) {
		indexName, err := lc.PrepareForCrawl(context.Background(), repo, false)
		if err != nil {
			return nil, fmt.Errorf("preparing index for %s: %w", repo.ID, err)
		}

		policy := exclusion.New(
			cfg.DirectoriesToExclude,
			cfg.FilesToExclude,
			cfg.ExtensionsToExclude,
			cfg.MimesToExclude,
			cfg.ExtensionsToRead,
			cfg.MaxFileBytes,
		)
		batch := index.NewBatchIndexer(writer, m, indexName, repo.ID, string(repo.Kind), cfg.BatchSize, cfg.GetRetryBackoffBase())

		switch repo.Kind {
		case model.KindFileSystem:
			walker := fswalker.New(policy, batch, m, repo.ID, cfg.MaxSymlinkDepth)
			return supervisor.FileSystemBackend(walker), nil

		case model.KindGit:
			indexer := gitcrawl.New(policy, batch, m, cfg.GitWorkingDirectory)
			return supervisor.GitBackend(indexer), nil

		case model.KindSvn:
			session := svn.NewRASession(cfg.SvnBinary)
			session.SetLimiter(limiter)
			crawler := svn.New(policy, session, batch, m)
			return supervisor.SvnBackend(crawler), nil

		case model.KindGitLab:
			indexer := gitcrawl.New(policy, batch, m, cfg.GitWorkingDirectory)
			enumerator := gitlabenum.New(indexer, m)
			enumerator.SetHTTPClient(rateLimitedClient)
			return supervisor.EnumeratorBackend(enumerator), nil

		case model.KindGitHub:
			indexer := gitcrawl.New(policy, batch, m, cfg.GitWorkingDirectory)
			enumerator := githubenum.New(indexer, m)
			enumerator.SetHTTPClient(rateLimitedClient)
			return supervisor.EnumeratorBackend(enumerator), nil

		default:
			return nil, fmt.Errorf("unsupported repository kind %q", repo.Kind)
		}
	}
}
