package fswalker

import (
	"context"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"testing"

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

func defaultPolicy() *exclusion.Policy {
	return exclusion.New(
		[]string{".git", ".svn", "tags"},
		nil,
		[]string{"bin"},
		nil,
		nil,
		5*1024*1024,
	)
}

func TestWalkFS1Scenario(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "a", "trunk", "x.rs"), "fn main() {}")
	writeFile(t, filepath.Join(root, "a", "trunk", "binary.bin"), "\x00\x01binary")
	writeFile(t, filepath.Join(root, "a", "tags", "old", "x.rs"), "fn main() {}")

	sink := &fakeSink{}
	w := New(defaultPolicy(), sink, metrics.NewForTesting(), "1", 64)

	result, err := w.Walk(context.Background(), root, nil)
	require.NoError(t, err)

	assert.Equal(t, int64(1), result.FilesTotal)
	assert.Equal(t, int64(1), result.FilesIndexed)
	require.Len(t, sink.records, 1)

	rec := sink.records[0]
	wantPath := filepath.Join(root, "a", "trunk", "x.rs")
	assert.Equal(t, wantPath, rec.Path)
	assert.Equal(t, "a", rec.Project)
	assert.Equal(t, "trunk", rec.Version)
	assert.Equal(t, "fn main() {}", rec.Content)
	assert.Equal(t, identity.ID(wantPath), rec.ID)
}

func TestWalkSkipsExcludedDirectoryEntirely(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, ".git", "config"), "data")
	writeFile(t, filepath.Join(root, "src", "main.go"), "package main")

	sink := &fakeSink{}
	w := New(defaultPolicy(), sink, metrics.NewForTesting(), "1", 64)

	result, err := w.Walk(context.Background(), root, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(1), result.FilesTotal)
	require.Len(t, sink.records, 1)
	assert.Equal(t, "main.go", sink.records[0].Name)
}

func TestWalkMetadataOnlyWhenOverSizeLimit(t *testing.T) {
	root := t.TempDir()
	big := make([]byte, 200)
	writeFileBytes(t, filepath.Join(root, "big.txt"), big)

	policy := exclusion.New(nil, nil, nil, nil, nil, 100)
	sink := &fakeSink{}
	w := New(policy, sink, metrics.NewForTesting(), "1", 64)

	_, err := w.Walk(context.Background(), root, nil)
	require.NoError(t, err)
	require.Len(t, sink.records, 1)
	assert.Empty(t, sink.records[0].Content)
	assert.Equal(t, int64(200), sink.records[0].Size)
}

func TestWalkFollowsSymlinkedDirectoryWithCycleGuard(t *testing.T) {
	root := t.TempDir()
	target := filepath.Join(root, "real")
	require.NoError(t, os.Mkdir(target, 0o755))
	writeFile(t, filepath.Join(target, "f.txt"), "hi")
	require.NoError(t, os.Symlink(target, filepath.Join(root, "link")))

	sink := &fakeSink{}
	w := New(defaultPolicy(), sink, metrics.NewForTesting(), "1", 64)

	result, err := w.Walk(context.Background(), root, nil)
	require.NoError(t, err)
	// f.txt is reachable both directly and through the symlink.
	assert.Equal(t, int64(2), result.FilesTotal)
}

func TestWalkCancellation(t *testing.T) {
	root := t.TempDir()
	for i := 0; i < 50; i++ {
		writeFile(t, filepath.Join(root, "d", strconv.Itoa(i), "f.txt"), "x")
	}

	sink := &fakeSink{}
	w := New(defaultPolicy(), sink, metrics.NewForTesting(), "1", 64)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := w.Walk(ctx, root, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	writeFileBytes(t, path, []byte(content))
}

func writeFileBytes(t *testing.T, path string, content []byte) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, content, 0o644))
}
