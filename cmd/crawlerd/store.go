package main

import (
	"context"
	"sync"

	"github.com/klask-io/klask-core/internal/model"
)

// repositoryStore holds the Repository metadata this process has been told
// about, keyed by ID. There is no database behind it: the caller supplies
// the full Repository on every start request, and the store exists only so
// PersistCrawlState has somewhere to fold the post-crawl fields back into
// before the next start request reuses them (e.g. Revision for an
// incremental SVN report).
type repositoryStore struct {
	mu    sync.RWMutex
	repos map[string]model.Repository
}

func newRepositoryStore() *repositoryStore {
	return &repositoryStore{repos: make(map[string]model.Repository)}
}

func (s *repositoryStore) put(repo model.Repository) {
	s.mu.Lock()
	s.repos[repo.ID] = repo
	s.mu.Unlock()
}

func (s *repositoryStore) get(id string) (model.Repository, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	repo, ok := s.repos[id]
	return repo, ok
}

func (s *repositoryStore) delete(id string) {
	s.mu.Lock()
	delete(s.repos, id)
	s.mu.Unlock()
}

// PersistCrawlState implements supervisor.StateSink.
func (s *repositoryStore) PersistCrawlState(_ context.Context, repo model.Repository, _ model.CrawlerResult) {
	s.put(repo)
}
