// Package config loads the crawler service's configuration from the
// environment (optionally via a .env file), the way the teacher's crawler
// service does for its GitHub-specific settings — generalized here to the
// full crawl-and-index core: exclusion sets, batch size, working directory,
// and the backend credentials each crawler kind needs.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/klask-io/klask-core/internal/model"
)

// Config holds all configuration for the crawler service.
type Config struct {
	// Server settings
	Port string
	Host string

	// Elasticsearch settings
	ElasticsearchURLs []string

	// Git settings
	GitWorkingDirectory string
	GitCloneTimeoutMS   int
	GitFetchTimeoutMS   int

	// GitHub settings
	GitHubBaseURL   string
	GitHubToken     string
	GitHubAppID     string
	GitHubAppKey    string
	GitHubInstallID string

	// GitLab settings
	GitLabBaseURL string
	GitLabToken   string

	// SVN settings
	SvnBinary string

	// Worker pool settings (number of repositories crawled in parallel)
	MaxConcurrentCrawls int

	// Rate limiting
	APIRateLimitThreshold int

	// Timeouts and retries
	FetchTimeoutMS     int
	RetryMaxAttempts   int
	RetryBackoffBaseMS int

	// Resource limits
	BatchSize       int
	MaxFileBytes    int64
	MaxSymlinkDepth int

	// Enhanced resource management
	MemoryLimitPercent    float64
	EnableMemoryMonitor   bool
	BackpressureThreshold float64
	TaskBufferSize        int

	// File filtering
	DirectoriesToExclude []string
	FilesToExclude       []string
	ExtensionsToExclude  []string
	MimesToExclude       []string
	ExtensionsToRead     []string

	// Observability
	LogLevel    string
	MetricsPath string

	// Development
	Environment string
}

// Load creates a new Config by reading from environment variables.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Port:                  getEnvOrDefault("PORT", "8080"),
		Host:                  getEnvOrDefault("HOST", "0.0.0.0"),
		ElasticsearchURLs:     getEnvAsListOrDefault("ELASTICSEARCH_URLS", []string{"http://localhost:9200"}),
		GitWorkingDirectory:   getEnvOrDefault("GIT_WORKING_DIRECTORY", "/var/lib/klask/repos"),
		GitCloneTimeoutMS:     getEnvAsIntOrDefault("GIT_CLONE_TIMEOUT_MS", 10*60*1000),
		GitFetchTimeoutMS:     getEnvAsIntOrDefault("GIT_FETCH_TIMEOUT_MS", 2*60*1000),
		GitHubBaseURL:         getEnvOrDefault("GITHUB_BASE_URL", "https://api.github.com"),
		GitLabBaseURL:         getEnvOrDefault("GITLAB_BASE_URL", "https://gitlab.com"),
		SvnBinary:             getEnvOrDefault("SVN_BINARY", "svn"),
		MaxConcurrentCrawls:   getEnvAsIntOrDefault("MAX_CONCURRENT_CRAWLS", 5),
		APIRateLimitThreshold: getEnvAsIntOrDefault("API_RATE_LIMIT_THRESHOLD", 100),
		FetchTimeoutMS:        getEnvAsIntOrDefault("FETCH_TIMEOUT_MS", 30000),
		RetryMaxAttempts:      getEnvAsIntOrDefault("RETRY_MAX_ATTEMPTS", 3),
		RetryBackoffBaseMS:    getEnvAsIntOrDefault("RETRY_BACKOFF_MS_BASE", 10000),
		BatchSize:             getEnvAsIntOrDefault("BATCH_SIZE", 100),
		MaxFileBytes:          getEnvAsInt64OrDefault("MAX_FILE_BYTES", 5*1024*1024),
		MaxSymlinkDepth:       getEnvAsIntOrDefault("MAX_SYMLINK_DEPTH", 64),
		MemoryLimitPercent:    getEnvAsFloatOrDefault("MEMORY_LIMIT_PERCENT", 0.8),
		EnableMemoryMonitor:   getEnvAsBoolOrDefault("ENABLE_MEMORY_MONITOR", true),
		BackpressureThreshold: getEnvAsFloatOrDefault("BACKPRESSURE_THRESHOLD", 0.8),
		TaskBufferSize:        getEnvAsIntOrDefault("TASK_BUFFER_SIZE", 1000),
		LogLevel:              getEnvOrDefault("LOG_LEVEL", "info"),
		MetricsPath:           getEnvOrDefault("METRICS_PATH", "/metrics"),
		Environment:           getEnvOrDefault("ENVIRONMENT", "development"),
		DirectoriesToExclude:  getEnvAsListOrDefault("DIRECTORIES_TO_EXCLUDE", []string{".git", ".svn", ".hg", "node_modules", "tags"}),
		FilesToExclude:        getEnvAsListOrDefault("FILES_TO_EXCLUDE", []string{".DS_Store", "Thumbs.db"}),
		ExtensionsToExclude:   getEnvAsListOrDefault("EXTENSIONS_TO_EXCLUDE", []string{"class", "jar", "war", "zip", "tar", "gz", "exe", "dll", "so", "bin", "png", "jpg", "jpeg", "gif", "ico", "pdf"}),
		MimesToExclude:        getEnvAsListOrDefault("MIMES_TO_EXCLUDE", nil),
		ExtensionsToRead:      getEnvAsListOrDefault("EXTENSIONS_TO_READ", nil),
	}

	cfg.GitHubToken = os.Getenv("GITHUB_TOKEN")
	cfg.GitHubAppID = os.Getenv("GITHUB_APP_ID")
	cfg.GitHubAppKey = os.Getenv("GITHUB_APP_KEY")
	cfg.GitHubInstallID = os.Getenv("GITHUB_INSTALL_ID")
	cfg.GitLabToken = os.Getenv("GITLAB_TOKEN")

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// Validate checks if the configuration is usable.
func (c *Config) Validate() error {
	if c.MaxConcurrentCrawls <= 0 {
		return fmt.Errorf("MAX_CONCURRENT_CRAWLS must be greater than 0")
	}

	if c.FetchTimeoutMS <= 0 {
		return fmt.Errorf("FETCH_TIMEOUT_MS must be greater than 0")
	}

	if c.RetryMaxAttempts < 0 {
		return fmt.Errorf("RETRY_MAX_ATTEMPTS must be non-negative")
	}

	if c.RetryBackoffBaseMS <= 0 {
		return fmt.Errorf("RETRY_BACKOFF_MS_BASE must be greater than 0")
	}

	if c.MaxFileBytes <= 0 {
		return fmt.Errorf("MAX_FILE_BYTES must be greater than 0")
	}

	if c.BatchSize <= 0 {
		return fmt.Errorf("BATCH_SIZE must be greater than 0")
	}

	if len(c.ElasticsearchURLs) == 0 {
		return fmt.Errorf("ELASTICSEARCH_URLS must not be empty")
	}

	return nil
}

// GetFetchTimeout returns the fetch timeout as a duration.
func (c *Config) GetFetchTimeout() time.Duration {
	return time.Duration(c.FetchTimeoutMS) * time.Millisecond
}

// GetRetryBackoffBase returns the retry backoff base as a duration.
func (c *Config) GetRetryBackoffBase() time.Duration {
	return time.Duration(c.RetryBackoffBaseMS) * time.Millisecond
}

// IsProduction returns true if running in production environment.
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

// HasGitHubApp returns true if GitHub App credentials are configured.
func (c *Config) HasGitHubApp() bool {
	return c.GitHubAppID != "" && c.GitHubAppKey != "" && c.GitHubInstallID != ""
}

// CrawlerConfig projects the parts of Config that the exclusion policy and
// batch indexer care about into the shape spec.md §6 describes.
func (c *Config) CrawlerConfig() model.CrawlerConfig {
	return model.CrawlerConfig{
		DirectoriesToExclude: toSet(c.DirectoriesToExclude),
		FilesToExclude:       toSet(c.FilesToExclude),
		ExtensionsToExclude:  toSet(lowerAll(c.ExtensionsToExclude)),
		MimesToExclude:       toSet(c.MimesToExclude),
		ExtensionsToRead:     toSet(lowerAll(c.ExtensionsToRead)),
		BatchSize:            c.BatchSize,
		WorkingDirectory:     c.GitWorkingDirectory,
		MaxFileBytes:         c.MaxFileBytes,
		MaxSymlinkDepth:      c.MaxSymlinkDepth,
	}
}

func toSet(values []string) map[string]struct{} {
	set := make(map[string]struct{}, len(values))
	for _, v := range values {
		set[v] = struct{}{}
	}
	return set
}

func lowerAll(values []string) []string {
	out := make([]string, len(values))
	for i, v := range values {
		out[i] = strings.ToLower(v)
	}
	return out
}

// Helper functions

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsListOrDefault(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parts := strings.Split(value, ",")
	for i, p := range parts {
		parts[i] = strings.TrimSpace(p)
	}
	return parts
}

func getEnvAsIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsInt64OrDefault(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsBoolOrDefault(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getEnvAsFloatOrDefault(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}
