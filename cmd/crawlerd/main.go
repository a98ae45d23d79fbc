package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"

	"github.com/klask-io/klask-core/internal/config"
	"github.com/klask-io/klask-core/internal/index"
	"github.com/klask-io/klask-core/internal/lifecycle"
	"github.com/klask-io/klask-core/internal/metrics"
	"github.com/klask-io/klask-core/internal/model"
	"github.com/klask-io/klask-core/internal/supervisor"
)

// Server is the crawler's HTTP control plane: start/stop/progress against a
// CrawlerSupervisor, plus /health and /metrics.
type Server struct {
	config     *config.Config
	metrics    *metrics.Metrics
	store      *repositoryStore
	lifecycle  *lifecycle.IndexLifecycle
	pool       *supervisor.Pool
	supervisor *supervisor.CrawlerSupervisor
	httpServer *http.Server
}

// NewServer wires the whole crawl-and-index core into an HTTP server.
func NewServer() (*Server, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	m := metrics.New()

	esClient, err := index.NewESClient(cfg.ElasticsearchURLs)
	if err != nil {
		return nil, fmt.Errorf("failed to create elasticsearch client: %w", err)
	}
	lc := lifecycle.New(esClient)

	limiter := rate.NewLimiter(rate.Limit(cfg.APIRateLimitThreshold), cfg.APIRateLimitThreshold)

	store := newRepositoryStore()
	pool := supervisor.NewPool(m, cfg.MaxConcurrentCrawls, cfg.TaskBufferSize, cfg.MemoryLimitPercent, cfg.EnableMemoryMonitor)
	factory := newBackendFactory(cfg, lc, esClient, m, limiter)
	sup := supervisor.New(pool, factory, store, m, 0)

	server := &Server{
		config:     cfg,
		metrics:    m,
		store:      store,
		lifecycle:  lc,
		pool:       pool,
		supervisor: sup,
	}

	mux := http.NewServeMux()
	server.setupRoutes(mux)

	server.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%s", cfg.Host, cfg.Port),
		Handler:      server.loggingMiddleware(server.metricsMiddleware(mux)),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	return server, nil
}

// setupRoutes configures all HTTP routes.
func (s *Server) setupRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/", s.handleRoot)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("POST /repositories/start", s.handleStart)
	mux.HandleFunc("POST /repositories/{id}/stop", s.handleStop)
	mux.HandleFunc("GET /repositories/{id}/progress", s.handleProgress)
	mux.HandleFunc("DELETE /repositories/{id}", s.handleDelete)
	mux.Handle(s.config.MetricsPath, promhttp.Handler())
}

// Start starts the worker pool and the HTTP server.
func (s *Server) Start(ctx context.Context) error {
	if err := s.pool.Start(ctx); err != nil {
		return fmt.Errorf("failed to start worker pool: %w", err)
	}

	log.Printf("Starting crawler service on %s", s.httpServer.Addr)

	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("HTTP server failed: %v", err)
		}
	}()

	return nil
}

// Stop gracefully shuts down the worker pool and the HTTP server.
func (s *Server) Stop(ctx context.Context) error {
	log.Println("Shutting down crawler service...")

	s.pool.Stop()

	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown HTTP server: %w", err)
	}

	log.Println("Crawler service stopped")
	return nil
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	response := map[string]string{
		"service": "crawlerd",
		"status":  "running",
	}
	if err := json.NewEncoder(w).Encode(response); err != nil {
		log.Printf("Failed to encode response: %v", err)
	}
}

type healthResponse struct {
	Status    string    `json:"status"`
	Service   string    `json:"service"`
	Timestamp time.Time `json:"timestamp"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	status := "healthy"
	if !s.pool.IsRunning() {
		status = "unhealthy"
		w.WriteHeader(http.StatusServiceUnavailable)
	}

	response := healthResponse{
		Status:    status,
		Service:   "crawlerd",
		Timestamp: time.Now(),
	}
	if err := json.NewEncoder(w).Encode(response); err != nil {
		log.Printf("Failed to encode response: %v", err)
	}
}

// handleStart accepts a full Repository description in the request body and
// queues it for crawling. crawlerd keeps no durable repository store of its
// own (persistence is out of scope): the caller supplies the current
// Repository state, including Revision, on every request, and the
// in-memory repositoryStore only exists so a later stop/progress/delete
// call on the same id has something to look up.
func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	var repo model.Repository
	if err := json.NewDecoder(r.Body).Decode(&repo); err != nil {
		http.Error(w, fmt.Sprintf("Invalid request body: %v", err), http.StatusBadRequest)
		return
	}
	if repo.ID == "" {
		http.Error(w, "id is required", http.StatusBadRequest)
		return
	}

	s.store.put(repo)

	if err := s.supervisor.Start(r.Context(), repo); err != nil {
		http.Error(w, err.Error(), http.StatusConflict)
		return
	}

	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	s.supervisor.Stop(id)
	w.WriteHeader(http.StatusAccepted)
}

// handleDelete removes repositoryID's index. Per spec, this does not wait
// for an in-flight crawl to finish; it requests cancellation as a courtesy
// but proceeds with the delete either way.
func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	repo, ok := s.store.get(id)
	if !ok {
		http.Error(w, "unknown repository", http.StatusNotFound)
		return
	}

	s.supervisor.Stop(id)

	if err := s.lifecycle.DeleteRepository(r.Context(), repo); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	s.store.delete(id)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleProgress(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	progress, ok := s.supervisor.Progress(id)
	if !ok {
		http.Error(w, "no crawl recorded for this repository", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(progress); err != nil {
		log.Printf("Failed to encode response: %v", err)
	}
}

// loggingMiddleware logs HTTP requests.
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapper := &responseWrapper{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(wrapper, r)
		duration := time.Since(start)
		log.Printf("%s %s %d %v %s", r.Method, r.URL.Path, wrapper.statusCode, duration, r.RemoteAddr)
	})
}

// metricsMiddleware records metrics for HTTP requests.
func (s *Server) metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapper := &responseWrapper{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(wrapper, r)
		duration := time.Since(start).Seconds()
		s.metrics.RecordHTTPRequest(r.Method, r.URL.Path, fmt.Sprintf("%d", wrapper.statusCode))
		s.metrics.RecordHTTPDuration(r.Method, r.URL.Path, duration)
	})
}

// responseWrapper wraps http.ResponseWriter to capture the status code.
type responseWrapper struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWrapper) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func main() {
	server, err := NewServer()
	if err != nil {
		log.Fatalf("Failed to create server: %v", err)
	}

	ctx := context.Background()
	if err := server.Start(ctx); err != nil {
		log.Fatalf("Failed to start server: %v", err)
	}

	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)

	log.Println("Crawler service started successfully")
	<-c

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Stop(shutdownCtx); err != nil {
		log.Fatalf("Failed to shutdown server gracefully: %v", err)
	}
}
