package gitcrawl

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	githttp "github.com/go-git/go-git/v5/plumbing/transport/http"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/klask-io/klask-core/internal/exclusion"
	"github.com/klask-io/klask-core/internal/identity"
	"github.com/klask-io/klask-core/internal/metrics"
	"github.com/klask-io/klask-core/internal/model"
)

type fakeSink struct {
	mu      sync.Mutex
	records []model.FileRecord
}

func (s *fakeSink) Add(ctx context.Context, rec model.FileRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, rec)
	return nil
}

func (s *fakeSink) Flush(ctx context.Context) error { return nil }

// initRepoWithBranches builds a local repository with two branches, each
// carrying a different version of src/a.txt, matching spec.md's GIT-1
// scenario.
func initRepoWithBranches(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()

	repo, err := git.PlainInit(dir, false)
	require.NoError(t, err)

	w, err := repo.Worktree()
	require.NoError(t, err)

	sig := &object.Signature{Name: "tester", Email: "tester@example.com", When: time.Now()}

	commitFile := func(content string) {
		require.NoError(t, os.MkdirAll(filepath.Join(dir, "src"), 0o755))
		require.NoError(t, os.WriteFile(filepath.Join(dir, "src", "a.txt"), []byte(content), 0o644))
		_, err := w.Add("src/a.txt")
		require.NoError(t, err)
		_, err = w.Commit("commit "+content, &git.CommitOptions{Author: sig})
		require.NoError(t, err)
	}

	commitFile("hi")

	head, err := repo.Head()
	require.NoError(t, err)

	require.NoError(t, w.Checkout(&git.CheckoutOptions{
		Branch: plumbing.NewBranchReferenceName("dev"),
		Hash:   head.Hash(),
		Create: true,
	}))
	commitFile("hello")

	return dir
}

func defaultPolicy() *exclusion.Policy {
	return exclusion.New(nil, nil, nil, nil, nil, 5*1024*1024)
}

func TestCrawlGit1Scenario(t *testing.T) {
	srcDir := initRepoWithBranches(t)

	sink := &fakeSink{}
	indexer := New(defaultPolicy(), sink, metrics.NewForTesting(), t.TempDir())

	repo := model.Repository{ID: "1", Name: "r", Kind: model.KindGit, URL: srcDir}

	result, err := indexer.Crawl(context.Background(), repo, nil)
	require.NoError(t, err)
	assert.Equal(t, model.StatusCompleted, result.Status)
	require.Len(t, sink.records, 2)

	byBranch := map[string]model.FileRecord{}
	for _, r := range sink.records {
		byBranch[r.Version] = r
	}

	require.Contains(t, byBranch, "master")
	require.Contains(t, byBranch, "dev")
	assert.Equal(t, "hi", byBranch["master"].Content)
	assert.Equal(t, "hello", byBranch["dev"].Content)
	assert.NotEqual(t, byBranch["master"].ID, byBranch["dev"].ID)

	wantMasterID := identity.ID(srcDir + "@master:/src/a.txt")
	assert.Equal(t, wantMasterID, byBranch["master"].ID)
}

func TestCrawlContextCancelledBeforeStart(t *testing.T) {
	srcDir := initRepoWithBranches(t)

	sink := &fakeSink{}
	indexer := New(defaultPolicy(), sink, metrics.NewForTesting(), t.TempDir())
	repo := model.Repository{ID: "1", Name: "r", Kind: model.KindGit, URL: srcDir}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := indexer.Crawl(ctx, repo, nil)
	require.Error(t, err)
}

func TestAuthForUsesTokenAsPassword(t *testing.T) {
	repo := model.Repository{AccessToken: "tok123"}
	auth := authFor(repo)
	require.NotNil(t, auth)
	basic, ok := auth.(*githttp.BasicAuth)
	require.True(t, ok)
	assert.Equal(t, "tok123", basic.Password)
	assert.Equal(t, "git", basic.Username)
}

func TestAuthForNilWithoutToken(t *testing.T) {
	repo := model.Repository{}
	assert.Nil(t, authFor(repo))
}
