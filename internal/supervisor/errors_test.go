package supervisor

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/klask-io/klask-core/internal/index"
)

func TestClassifyRecognizesCancellation(t *testing.T) {
	assert.Equal(t, ErrorCancelled, classify(context.Canceled))
	assert.Equal(t, ErrorCancelled, classify(context.DeadlineExceeded))
	assert.Equal(t, ErrorCancelled, classify(fmt.Errorf("walking tree: %w", context.Canceled)))
}

func TestClassifyRecognizesBackendUnavailable(t *testing.T) {
	assert.Equal(t, ErrorBackend, classify(index.ErrBackendUnavailable))
}

func TestClassifyRecognizesTransientTransport(t *testing.T) {
	assert.Equal(t, ErrorTransient, classify(errors.New("dial tcp: connection reset by peer")))
	assert.Equal(t, ErrorTransient, classify(errors.New("request failed: 503")))
	assert.Equal(t, ErrorTransient, classify(errors.New("context deadline: i/o timeout")))
}

func TestClassifyRecognizesProtocolErrors(t *testing.T) {
	assert.Equal(t, ErrorProtocol, classify(errors.New("malformed svn delta")))
	assert.Equal(t, ErrorProtocol, classify(errors.New("corrupt git pack")))
}

func TestClassifyRecognizesConfigurationErrors(t *testing.T) {
	assert.Equal(t, ErrorConfiguration, classify(errors.New("401 unauthorized")))
	assert.Equal(t, ErrorConfiguration, classify(errors.New("repository not found")))
}

func TestClassifyFallsBackToUnknown(t *testing.T) {
	assert.Equal(t, ErrorUnknown, classify(errors.New("something bizarre happened")))
}

func TestRetriableOnlyTrueForTransient(t *testing.T) {
	assert.True(t, retriable(ErrorTransient))
	assert.False(t, retriable(ErrorProtocol))
	assert.False(t, retriable(ErrorConfiguration))
}
