// Package model holds the data types shared across the crawl-and-index
// core: the input Repository description, the emitted FileRecord document,
// and the progress/result types the control surface exposes.
package model

import "time"

// RepositoryKind identifies which backend crawls a Repository.
type RepositoryKind string

const (
	KindFileSystem RepositoryKind = "FileSystem"
	KindSvn        RepositoryKind = "Svn"
	KindGit        RepositoryKind = "Git"
	KindGitLab     RepositoryKind = "GitLab"
	KindGitHub     RepositoryKind = "GitHub"
)

// Repository describes what to crawl. It is immutable for the duration of
// one crawl; CrawlerSupervisor persists Revision/LastCrawled/CrawlState back
// to the caller's store only at crawl boundaries.
type Repository struct {
	ID   string         `json:"id"`
	Name string         `json:"name"`
	Kind RepositoryKind `json:"kind"`

	// URL is the clone URL (Git/SVN) or org/group slug (GitLab/GitHub); Path
	// is the filesystem root for KindFileSystem.
	URL  string `json:"url,omitempty"`
	Path string `json:"path,omitempty"`

	Username    string `json:"username,omitempty"`
	AccessToken string `json:"accessToken,omitempty"`

	// GitHub App auth, used by the GitHub enumerator in place of
	// AccessToken when configured: a JWT signed with GitHubAppPrivateKey
	// is exchanged for a short-lived installation token before every
	// enumeration run.
	GitHubAppID             string `json:"gitHubAppId,omitempty"`
	GitHubAppInstallationID int64  `json:"gitHubAppInstallationId,omitempty"`
	GitHubAppPrivateKey     string `json:"-"`

	// Branch is an optional branch name. The Git backend does not read it:
	// it always crawls every remote branch.
	Branch string `json:"branch,omitempty"`

	// Revision is the SVN tip observed on the previous crawl. Zero means
	// "never crawled" and forces a full report at the current tip.
	Revision int64 `json:"revision,omitempty"`

	// GitLab/GitHub org-crawl overrides.
	ExcludedProjects     []string `json:"excludedProjects,omitempty"`
	ExcludedNamePatterns []string `json:"excludedNamePatterns,omitempty"`

	MaxCrawlDurationMinutes int `json:"maxCrawlDurationMinutes,omitempty"`

	// Persisted state, written back by the supervisor at crawl boundaries.
	LastCrawled           time.Time   `json:"lastCrawled,omitempty"`
	CrawlState            CrawlStatus `json:"crawlState,omitempty"`
	LastCrawlDurationSecs float64     `json:"lastCrawlDurationSeconds,omitempty"`
	LastProcessedProject  string      `json:"lastProcessedProject,omitempty"`
}

// FileRecord is the value type emitted to the index. ID is a pure function
// of Path (see internal/identity); re-crawling the same logical file must
// reproduce the same ID, and a move must change it.
type FileRecord struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Extension string `json:"extension"`
	Path      string `json:"path"`
	Project   string `json:"project,omitempty"`
	Version   string `json:"version,omitempty"`
	Content   string `json:"content,omitempty"`
	Size      int64  `json:"size"`

	// SVN-only.
	LastAuthor string `json:"lastAuthor,omitempty"`
	LastDate   string `json:"lastDate,omitempty"`
}

// HasContent reports whether this record carries extracted text, as opposed
// to being metadata-only (binary, oversized, or excluded).
func (f FileRecord) HasContent() bool { return f.Content != "" }

// CrawlStatus is the terminal or in-flight state of one crawl.
type CrawlStatus string

const (
	StatusIdle       CrawlStatus = "idle"
	StatusStarting   CrawlStatus = "starting"
	StatusCloning    CrawlStatus = "cloning"
	StatusProcessing CrawlStatus = "processing"
	StatusIndexing   CrawlStatus = "indexing"
	StatusCompleted  CrawlStatus = "completed"
	StatusFailed     CrawlStatus = "failed"
	StatusCancelled  CrawlStatus = "cancelled"
)

// Progress is a non-blocking, immutable snapshot of one crawl's state.
type Progress struct {
	RepositoryID   string      `json:"repositoryId"`
	FilesTotal     int64       `json:"filesTotal"`
	FilesProcessed int64       `json:"filesProcessed"`
	FilesIndexed   int64       `json:"filesIndexed"`
	CurrentFile    string      `json:"currentFile,omitempty"`
	Status         CrawlStatus `json:"status"`
	StartedAt      time.Time   `json:"startedAt"`
	UpdatedAt      time.Time   `json:"updatedAt"`
	CompletedAt    *time.Time  `json:"completedAt,omitempty"`

	NumberOfFailedDocuments int64 `json:"numberOfFailedDocuments"`
}

// CrawlerResult is the final outcome of one crawl, returned by the
// supervisor once the backend has unwound and the residual batch flushed.
type CrawlerResult struct {
	RepositoryID         string        `json:"repositoryId"`
	Status               CrawlStatus   `json:"status"`
	FilesTotal           int64         `json:"filesTotal"`
	FilesProcessed       int64         `json:"filesProcessed"`
	FilesIndexed         int64         `json:"filesIndexed"`
	FailedDocuments      int64         `json:"failedDocuments"`
	Duration             time.Duration `json:"duration"`
	Revision             int64         `json:"revision,omitempty"`
	Err                  error         `json:"-"`
	LastProcessedProject string        `json:"lastProcessedProject,omitempty"`
}

// CrawlerConfig carries the knobs spec.md §6 assigns to the crawler, as
// opposed to anything describing a specific Repository.
type CrawlerConfig struct {
	DirectoriesToExclude map[string]struct{}
	FilesToExclude       map[string]struct{}
	ExtensionsToExclude  map[string]struct{}
	MimesToExclude       map[string]struct{}
	ExtensionsToRead     map[string]struct{}

	BatchSize        int
	WorkingDirectory string
	MaxFileBytes     int64
	MaxSymlinkDepth  int
}
