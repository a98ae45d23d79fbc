package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestNewForTesting(t *testing.T) {
	m := NewForTesting()
	assert.NotNil(t, m)
	assert.NotNil(t, m.FilesIndexed)
	assert.NotNil(t, m.BatchFlushTotal)
	assert.NotNil(t, m.BackendErrorsTotal)
}

func TestNewForTestingIsolatesRegistries(t *testing.T) {
	// Two independent calls must not panic on duplicate registration.
	assert.NotPanics(t, func() {
		_ = NewForTesting()
		_ = NewForTesting()
	})
}

func TestRecordFilesIndexed(t *testing.T) {
	m := NewForTesting()

	m.RecordFilesIndexed("1", "Git", 3)
	m.RecordFilesIndexed("1", "Git", 2)

	assert.Equal(t, float64(5), testutil.ToFloat64(m.FilesIndexed.WithLabelValues("1", "Git")))
}

func TestRecordBatchFlush(t *testing.T) {
	m := NewForTesting()

	m.RecordBatchFlush("success", 0.2, 100)
	m.RecordBatchFlush("partial_failure", 0.1, 50)

	assert.Equal(t, float64(1), testutil.ToFloat64(m.BatchFlushTotal.WithLabelValues("success")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.BatchFlushTotal.WithLabelValues("partial_failure")))
}

func TestRecordBackendError(t *testing.T) {
	m := NewForTesting()

	m.RecordBackendError("Svn", "transient_transport")
	m.RecordBackendError("Svn", "transient_transport")

	assert.Equal(t, float64(2), testutil.ToFloat64(m.BackendErrorsTotal.WithLabelValues("Svn", "transient_transport")))
}

func TestSetFilesTotal(t *testing.T) {
	m := NewForTesting()

	m.SetFilesTotal("1", "FileSystem", 42)
	assert.Equal(t, float64(42), testutil.ToFloat64(m.FilesTotal.WithLabelValues("1", "FileSystem")))
}
