// Package metrics holds the Prometheus instrumentation for the crawl-and-
// index core, adapted from the teacher's HTTP/GitHub-fetch metrics to the
// crawl/index domain: files indexed, batch flush behavior, and per-backend
// error counts.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all the Prometheus metrics for the crawler service.
type Metrics struct {
	// Request metrics (control-surface HTTP server)
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Crawl metrics
	FilesTotal       *prometheus.GaugeVec
	FilesProcessed   *prometheus.CounterVec
	FilesIndexed     *prometheus.CounterVec
	FilesFailed      *prometheus.CounterVec
	CrawlsInProgress prometheus.Gauge
	CrawlDuration    *prometheus.HistogramVec
	CrawlsTotal      *prometheus.CounterVec

	// Supervisor worker pool metrics
	WorkerPoolSize prometheus.Gauge
	QueueDepth     prometheus.Gauge

	// Batch indexer metrics
	BatchFlushTotal    *prometheus.CounterVec
	BatchFlushDuration prometheus.Histogram
	BatchFlushSize     prometheus.Histogram
	FailedDocuments    *prometheus.CounterVec

	// Backend error metrics
	BackendErrorsTotal *prometheus.CounterVec

	// Enumerator metrics
	EnumeratedProjectsTotal *prometheus.CounterVec

	FileSizeBytes prometheus.Histogram
}

// New creates and registers all Prometheus metrics against the default
// registry.
func New() *Metrics {
	return newWith(prometheus.DefaultRegisterer)
}

// NewForTesting creates metrics registered against a fresh, private
// registry so repeated calls within a test binary never collide on
// duplicate metric registration.
func NewForTesting() *Metrics {
	return newWith(prometheus.NewRegistry())
}

func newWith(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		HTTPRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "klask_http_requests_total",
				Help: "Total number of HTTP requests received by the control surface",
			},
			[]string{"method", "path", "status"},
		),

		HTTPRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "klask_http_request_duration_seconds",
				Help:    "Duration of control-surface HTTP requests in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),

		FilesTotal: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "klask_crawl_files_total",
				Help: "Total number of files discovered for the current crawl",
			},
			[]string{"repository_id", "kind"},
		),

		FilesProcessed: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "klask_crawl_files_processed_total",
				Help: "Total number of files visited during crawls",
			},
			[]string{"repository_id", "kind"},
		),

		FilesIndexed: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "klask_crawl_files_indexed_total",
				Help: "Total number of FileRecords successfully bulk-written to the index",
			},
			[]string{"repository_id", "kind"},
		),

		FilesFailed: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "klask_crawl_files_failed_total",
				Help: "Total number of files that failed local I/O or index rejection",
			},
			[]string{"repository_id", "kind"},
		),

		CrawlsInProgress: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "klask_crawls_in_progress",
				Help: "Number of crawls currently running",
			},
		),

		CrawlDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "klask_crawl_duration_seconds",
				Help:    "Duration of a full repository crawl in seconds",
				Buckets: []float64{1, 5, 15, 30, 60, 300, 900, 3600, 7200},
			},
			[]string{"kind", "status"},
		),

		CrawlsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "klask_crawls_total",
				Help: "Total number of crawls by terminal status",
			},
			[]string{"kind", "status"},
		),

		WorkerPoolSize: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "klask_worker_pool_size",
				Help: "Number of active supervisor worker goroutines",
			},
		),

		QueueDepth: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "klask_worker_queue_depth",
				Help: "Number of crawl tasks currently buffered in the supervisor's worker pool",
			},
		),

		BatchFlushTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "klask_batch_flush_total",
				Help: "Total number of batch flush attempts by outcome",
			},
			[]string{"outcome"},
		),

		BatchFlushDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "klask_batch_flush_duration_seconds",
				Help:    "Duration of a bulk index flush",
				Buckets: prometheus.DefBuckets,
			},
		),

		BatchFlushSize: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "klask_batch_flush_size",
				Help:    "Number of documents in a flushed batch",
				Buckets: []float64{1, 10, 25, 50, 100, 250, 500, 1000},
			},
		),

		FailedDocuments: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "klask_failed_documents_total",
				Help: "Total number of documents rejected by the index backend",
			},
			[]string{"repository_id"},
		),

		BackendErrorsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "klask_backend_errors_total",
				Help: "Total number of backend errors by kind and error type",
			},
			[]string{"kind", "error_type"},
		),

		EnumeratedProjectsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "klask_enumerated_projects_total",
				Help: "Total number of org/group projects enumerated, by outcome",
			},
			[]string{"provider", "outcome"},
		),

		FileSizeBytes: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "klask_file_size_bytes",
				Help:    "Size of indexed files in bytes",
				Buckets: []float64{1024, 10240, 102400, 1048576, 5242880},
			},
		),
	}
}

// RecordHTTPRequest records an HTTP request against the control surface.
func (m *Metrics) RecordHTTPRequest(method, path, status string) {
	m.HTTPRequestsTotal.WithLabelValues(method, path, status).Inc()
}

// RecordHTTPDuration records the duration of an HTTP request.
func (m *Metrics) RecordHTTPDuration(method, path string, duration float64) {
	m.HTTPRequestDuration.WithLabelValues(method, path).Observe(duration)
}

// SetFilesTotal sets the discovered-file count for a repository's crawl.
func (m *Metrics) SetFilesTotal(repositoryID, kind string, total float64) {
	m.FilesTotal.WithLabelValues(repositoryID, kind).Set(total)
}

// RecordFileProcessed records one file visited during a crawl.
func (m *Metrics) RecordFileProcessed(repositoryID, kind string) {
	m.FilesProcessed.WithLabelValues(repositoryID, kind).Inc()
}

// RecordFilesIndexed records n successfully indexed FileRecords.
func (m *Metrics) RecordFilesIndexed(repositoryID, kind string, n int) {
	m.FilesIndexed.WithLabelValues(repositoryID, kind).Add(float64(n))
}

// RecordFileFailed records one file that failed local I/O or index
// rejection.
func (m *Metrics) RecordFileFailed(repositoryID, kind string) {
	m.FilesFailed.WithLabelValues(repositoryID, kind).Inc()
}

// RecordCrawlCompleted records a terminal crawl state and its duration.
func (m *Metrics) RecordCrawlCompleted(kind, status string, seconds float64) {
	m.CrawlsTotal.WithLabelValues(kind, status).Inc()
	m.CrawlDuration.WithLabelValues(kind, status).Observe(seconds)
}

// RecordBatchFlush records the outcome, duration, and size of one flush.
func (m *Metrics) RecordBatchFlush(outcome string, seconds float64, size int) {
	m.BatchFlushTotal.WithLabelValues(outcome).Inc()
	m.BatchFlushDuration.Observe(seconds)
	m.BatchFlushSize.Observe(float64(size))
}

// RecordFailedDocuments records n documents rejected by the index backend
// for repositoryID.
func (m *Metrics) RecordFailedDocuments(repositoryID string, n int) {
	m.FailedDocuments.WithLabelValues(repositoryID).Add(float64(n))
}

// RecordBackendError records a backend error by crawler kind and error type.
func (m *Metrics) RecordBackendError(kind, errorType string) {
	m.BackendErrorsTotal.WithLabelValues(kind, errorType).Inc()
}

// RecordEnumeratedProject records one enumerated org/group project.
func (m *Metrics) RecordEnumeratedProject(provider, outcome string) {
	m.EnumeratedProjectsTotal.WithLabelValues(provider, outcome).Inc()
}

// RecordFileSize records the size of an indexed file.
func (m *Metrics) RecordFileSize(sizeBytes float64) {
	m.FileSizeBytes.Observe(sizeBytes)
}

// SetCrawlsInProgress sets the current in-progress crawl count.
func (m *Metrics) SetCrawlsInProgress(n float64) {
	m.CrawlsInProgress.Set(n)
}

// SetWorkerPoolSize sets the number of active supervisor worker goroutines.
func (m *Metrics) SetWorkerPoolSize(n float64) {
	m.WorkerPoolSize.Set(n)
}

// SetQueueDepth sets the number of crawl tasks currently buffered.
func (m *Metrics) SetQueueDepth(n float64) {
	m.QueueDepth.Set(n)
}
