// Package supervisor implements CrawlerSupervisor: for one Repository, pick
// the backend, run it under a bounded worker pool, publish live progress,
// and persist the post-crawl state — the control surface spec.md assigns
// start/stop/progress to. cmd/crawlerd selects a backend by repo.Kind and
// wires it into a BackendFactory; CrawlerSupervisor itself only depends on
// the Backend interface, never on repo.Kind dispatch logic.
package supervisor

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/klask-io/klask-core/internal/metrics"
	"github.com/klask-io/klask-core/internal/model"
)

// StateSink persists the fields spec.md §6 assigns back to the Repository
// row at crawl boundaries: revision, lastCrawled, crawlState, duration, and
// the resume cursor for org crawls. The HTTP API / persistence layer
// implements it; the crawl core never opens a database connection itself.
type StateSink interface {
	PersistCrawlState(ctx context.Context, repo model.Repository, result model.CrawlerResult)
}

// BackendFactory builds the Backend appropriate for repo.Kind, already
// wired with that kind's exclusion policy, sink, and session/client.
type BackendFactory func(repo model.Repository) (Backend, error)

// CrawlerSupervisor runs repositories through the state machine
// starting -> processing -> completed | failed | cancelled,
// enforcing single-active-crawl-per-repository (Registry) and
// bounded-parallel-repositories (Pool).
type CrawlerSupervisor struct {
	registry  *Registry
	pool      *Pool
	metrics   *metrics.Metrics
	backendOf BackendFactory
	state     StateSink

	maxCrawlDuration time.Duration

	mu       sync.Mutex
	progress map[string]*model.Progress
}

// New builds a CrawlerSupervisor. pool's lifetime (Start/Stop) is owned by
// the caller, so the composition root controls shutdown ordering
// explicitly. maxCrawlDuration is the fallback timeout watchdog used when a
// Repository leaves MaxCrawlDurationMinutes unset; <= 0 disables it.
func New(pool *Pool, backendOf BackendFactory, state StateSink, m *metrics.Metrics, maxCrawlDuration time.Duration) *CrawlerSupervisor {
	return &CrawlerSupervisor{
		registry:         NewRegistry(),
		pool:             pool,
		metrics:          m,
		backendOf:        backendOf,
		state:            state,
		maxCrawlDuration: maxCrawlDuration,
		progress:         make(map[string]*model.Progress),
	}
}

// Start queues repo for crawling, failing fast if repo.ID already has a
// crawl in flight. It returns once the task has been accepted by the pool,
// not once the crawl finishes.
func (s *CrawlerSupervisor) Start(ctx context.Context, repo model.Repository) error {
	backend, err := s.backendOf(repo)
	if err != nil {
		return fmt.Errorf("selecting backend for %s: %w", repo.ID, err)
	}

	crawlCtx, cancel := context.WithCancel(context.Background())
	release, err := s.registry.Acquire(repo.ID, cancel)
	if err != nil {
		cancel()
		return err
	}

	finalize := cancel
	if d := s.crawlTimeout(repo); d > 0 {
		timeoutCtx, timeoutCancel := context.WithTimeout(crawlCtx, d)
		crawlCtx = timeoutCtx
		finalize = func() { timeoutCancel(); cancel() }
	}

	now := time.Now()
	s.setProgress(repo.ID, &model.Progress{
		RepositoryID: repo.ID,
		Status:       model.StatusStarting,
		StartedAt:    now,
		UpdatedAt:    now,
	})
	if s.metrics != nil {
		s.metrics.SetCrawlsInProgress(float64(s.registry.ActiveCount()))
	}

	submitErr := s.pool.Submit(ctx, func(_ context.Context) {
		defer release()
		defer finalize()
		s.run(crawlCtx, repo, backend)
		if s.metrics != nil {
			s.metrics.SetCrawlsInProgress(float64(s.registry.ActiveCount()))
		}
	})
	if submitErr != nil {
		release()
		finalize()
		return fmt.Errorf("queuing crawl for %s: %w", repo.ID, submitErr)
	}
	return nil
}

// crawlTimeout resolves the watchdog duration for repo: its own
// MaxCrawlDurationMinutes override if set, otherwise the supervisor-wide
// default.
func (s *CrawlerSupervisor) crawlTimeout(repo model.Repository) time.Duration {
	if repo.MaxCrawlDurationMinutes > 0 {
		return time.Duration(repo.MaxCrawlDurationMinutes) * time.Minute
	}
	return s.maxCrawlDuration
}

// Stop requests cancellation of repositoryID's active crawl, if any. It is
// idempotent and non-blocking: the crawl unwinds cooperatively on its own
// pool worker and reports StatusCancelled once it has.
func (s *CrawlerSupervisor) Stop(repositoryID string) {
	s.registry.Cancel(repositoryID)
}

// Progress returns a snapshot of repositoryID's crawl state. ok is false if
// no crawl has ever been started for that id in this process.
func (s *CrawlerSupervisor) Progress(repositoryID string) (model.Progress, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.progress[repositoryID]
	if !ok {
		return model.Progress{}, false
	}
	return *p, true
}

func (s *CrawlerSupervisor) setProgress(repositoryID string, p *model.Progress) {
	s.mu.Lock()
	s.progress[repositoryID] = p
	s.mu.Unlock()
}

func (s *CrawlerSupervisor) updateProgress(repositoryID string, status model.CrawlStatus, total, processed, indexed int64, currentFile string) {
	s.mu.Lock()
	p, ok := s.progress[repositoryID]
	if !ok {
		p = &model.Progress{RepositoryID: repositoryID, StartedAt: time.Now()}
		s.progress[repositoryID] = p
	}
	p.Status = status
	if total > 0 {
		p.FilesTotal = total
	}
	p.FilesProcessed = processed
	p.FilesIndexed = indexed
	p.CurrentFile = currentFile
	p.UpdatedAt = time.Now()
	s.mu.Unlock()
}

// run drives one repository through the backend and persists the outcome.
// It runs on a pool worker goroutine.
func (s *CrawlerSupervisor) run(ctx context.Context, repo model.Repository, backend Backend) {
	s.updateProgress(repo.ID, model.StatusProcessing, 0, 0, 0, "")

	result, err := backend.Run(ctx, repo, func(total, processed int64, currentFile string) {
		s.updateProgress(repo.ID, model.StatusProcessing, total, processed, processed, currentFile)
	})

	status := result.Status
	if status == "" {
		switch {
		case err != nil && ctx.Err() != nil:
			status = model.StatusCancelled
		case err != nil:
			status = model.StatusFailed
		default:
			status = model.StatusCompleted
		}
	}

	switch status {
	case model.StatusCancelled:
		log.Printf("supervisor: crawl of %s cancelled: %v", repo.ID, err)
	case model.StatusFailed:
		log.Printf("supervisor: crawl of %s failed (%s): %v", repo.ID, classify(err), err)
	}

	now := time.Now()
	s.mu.Lock()
	p, ok := s.progress[repo.ID]
	if !ok {
		p = &model.Progress{RepositoryID: repo.ID, StartedAt: now}
		s.progress[repo.ID] = p
	}
	p.Status = status
	p.FilesTotal = result.FilesTotal
	p.FilesProcessed = result.FilesProcessed
	p.FilesIndexed = result.FilesIndexed
	p.NumberOfFailedDocuments = result.FailedDocuments
	p.UpdatedAt = now
	p.CompletedAt = &now
	s.mu.Unlock()

	if s.metrics != nil {
		s.metrics.RecordCrawlCompleted(string(repo.Kind), string(status), result.Duration.Seconds())
	}

	if s.state != nil {
		persisted := repo
		persisted.LastCrawled = now
		persisted.CrawlState = status
		persisted.LastCrawlDurationSecs = result.Duration.Seconds()
		// A cancelled SVN crawl must not persist a revision: the editor may
		// have only partially replayed the change list, so the next crawl
		// needs to start from the same origin revision and redo the range.
		if result.Revision != 0 && status != model.StatusCancelled {
			persisted.Revision = result.Revision
		}
		if result.LastProcessedProject != "" {
			persisted.LastProcessedProject = result.LastProcessedProject
		}
		s.state.PersistCrawlState(context.Background(), persisted, result)
	}
}
