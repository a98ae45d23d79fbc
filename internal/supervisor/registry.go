package supervisor

import (
	"context"
	"fmt"
	"sync"
)

// Registry enforces spec.md's single-tasked-per-repository rule: at most
// one active crawl per Repository.ID, process-wide. A Start for an id
// already running fails fast instead of queuing behind the first, the same
// way the teacher's pool refuses a second Start while activeWorkers > 0.
type Registry struct {
	mu     sync.Mutex
	active map[string]context.CancelFunc
}

// NewRegistry builds an empty Registry.
func NewRegistry() *Registry {
	return &Registry{active: make(map[string]context.CancelFunc)}
}

// Acquire registers repositoryID as active. release must be called exactly
// once, however the crawl ends, to free the slot for a future crawl of the
// same repository.
func (r *Registry) Acquire(repositoryID string, cancel context.CancelFunc) (release func(), err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, busy := r.active[repositoryID]; busy {
		return nil, fmt.Errorf("repository %s already has an active crawl", repositoryID)
	}
	r.active[repositoryID] = cancel

	return func() {
		r.mu.Lock()
		delete(r.active, repositoryID)
		r.mu.Unlock()
	}, nil
}

// Cancel invokes the cancel func registered for repositoryID, if a crawl is
// currently active for it. It reports whether anything was cancelled.
func (r *Registry) Cancel(repositoryID string) bool {
	r.mu.Lock()
	cancel, ok := r.active[repositoryID]
	r.mu.Unlock()
	if !ok {
		return false
	}
	cancel()
	return true
}

// IsActive reports whether repositoryID currently has a crawl running.
func (r *Registry) IsActive(repositoryID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.active[repositoryID]
	return ok
}

// ActiveCount returns the number of repositories currently crawling.
func (r *Registry) ActiveCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.active)
}
