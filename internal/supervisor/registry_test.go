package supervisor

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAcquireRejectsSecondCrawlForSameID(t *testing.T) {
	r := NewRegistry()
	_, cancel1 := context.WithCancel(context.Background())

	release, err := r.Acquire("repo-1", cancel1)
	require.NoError(t, err)
	assert.True(t, r.IsActive("repo-1"))

	_, cancel2 := context.WithCancel(context.Background())
	_, err = r.Acquire("repo-1", cancel2)
	assert.Error(t, err)

	release()
	assert.False(t, r.IsActive("repo-1"))

	_, err = r.Acquire("repo-1", cancel2)
	assert.NoError(t, err)
}

func TestAcquireAllowsDistinctIDsConcurrently(t *testing.T) {
	r := NewRegistry()
	_, cancelA := context.WithCancel(context.Background())
	_, cancelB := context.WithCancel(context.Background())

	_, err := r.Acquire("repo-a", cancelA)
	require.NoError(t, err)
	_, err = r.Acquire("repo-b", cancelB)
	require.NoError(t, err)

	assert.Equal(t, 2, r.ActiveCount())
}

func TestCancelInvokesRegisteredCancelFunc(t *testing.T) {
	r := NewRegistry()
	ctx, cancel := context.WithCancel(context.Background())
	release, err := r.Acquire("repo-1", cancel)
	require.NoError(t, err)
	defer release()

	assert.False(t, r.Cancel("repo-unknown"))

	ok := r.Cancel("repo-1")
	assert.True(t, ok)
	assert.Error(t, ctx.Err())
}
