// Package exclusion implements ExclusionPolicy: the pure predicate every
// backend consults to decide whether a path is crawlable, whether its
// content is readable, and whether a directory subtree is skipped entirely.
package exclusion

import (
	"log"
	"strings"

	"github.com/gabriel-vasile/mimetype"

	"github.com/klask-io/klask-core/internal/identity"
)

// DefaultMaxFileBytes is the content-read ceiling when a CrawlerConfig
// leaves MaxFileBytes unset.
const DefaultMaxFileBytes = 5 * 1024 * 1024

// mimeSniffBytes bounds how much of a file is read for MIME detection, per
// spec.md's "first few kilobytes" language.
const mimeSniffBytes = 3072

// Policy is constructed once per crawl and shared read-only by every
// backend; it holds no mutable state.
type Policy struct {
	directoriesToExclude map[string]struct{}
	filesToExclude       map[string]struct{}
	extensionsToExclude  map[string]struct{}
	mimesToExclude       map[string]struct{}
	extensionsToRead     map[string]struct{}
	maxFileBytes         int64
}

// New builds a Policy from the configured exclusion sets. Extensions are
// normalized to lowercase without a leading dot; directory/file names are
// matched case-sensitively (POSIX convention).
func New(directories, files, extensionsExcluded, mimes, extensionsRead []string, maxFileBytes int64) *Policy {
	if maxFileBytes <= 0 {
		maxFileBytes = DefaultMaxFileBytes
	}
	return &Policy{
		directoriesToExclude: toSet(directories, false),
		filesToExclude:       toSet(files, false),
		extensionsToExclude:  toSet(extensionsExcluded, true),
		mimesToExclude:       toSet(mimes, false),
		extensionsToRead:     toSet(extensionsRead, true),
		maxFileBytes:         maxFileBytes,
	}
}

func toSet(values []string, lower bool) map[string]struct{} {
	set := make(map[string]struct{}, len(values))
	for _, v := range values {
		if lower {
			v = strings.ToLower(v)
		}
		set[v] = struct{}{}
	}
	return set
}

// IsDirectoryExcluded reports whether dir's leaf name matches the
// configured excluded-directory set.
func (p *Policy) IsDirectoryExcluded(dir string) bool {
	_, excluded := p.directoriesToExclude[identity.BaseName(strings.TrimRight(dir, "/"))]
	return excluded
}

// AnyAncestorExcluded reports whether any path segment strictly between
// root and path matches the excluded-directory set. Used by count passes
// that observe a descendant path directly, without a directory-by-directory
// walk.
func (p *Policy) AnyAncestorExcluded(root, path string) bool {
	rel := strings.TrimPrefix(path, root)
	rel = strings.Trim(rel, "/")
	if rel == "" {
		return false
	}
	segments := strings.Split(rel, "/")
	// The last segment is the leaf (file or the path itself); only
	// intermediate directories count as ancestors.
	for _, seg := range segments[:len(segments)-1] {
		if _, excluded := p.directoriesToExclude[seg]; excluded {
			return true
		}
	}
	return false
}

// IsFileExcluded reports whether path's leaf should never be visited:
// an exact name match, a backup-file "~" suffix, or an excluded extension.
// It looks at the name only; MIME sniffing is done by
// IsFileExcludedWithContent.
func (p *Policy) IsFileExcluded(path string) bool {
	name := identity.BaseName(path)

	if _, excluded := p.filesToExclude[name]; excluded {
		return true
	}
	if strings.HasSuffix(name, "~") {
		return true
	}
	if _, excluded := p.extensionsToExclude[identity.Extension(name)]; excluded {
		return true
	}
	return false
}

// IsFileExcludedWithContent additionally sniffs the MIME type of sample
// (expected to be the first mimeSniffBytes of the file). A sniffing
// failure is treated as "exclude" — the spec's safe default.
func (p *Policy) IsFileExcludedWithContent(path string, sample []byte) bool {
	if p.IsFileExcluded(path) {
		return true
	}
	if len(p.mimesToExclude) == 0 {
		return false
	}
	if len(sample) > mimeSniffBytes {
		sample = sample[:mimeSniffBytes]
	}
	mt := mimetype.Detect(sample)
	if mt == nil {
		log.Printf("exclusion: mime sniff failed for %s, excluding by default", path)
		return true
	}
	for m := mt; m != nil; m = m.Parent() {
		if _, excluded := p.mimesToExclude[m.String()]; excluded {
			return true
		}
	}
	return false
}

// IsReadableExtension reports whether ext (lowercase, no dot) belongs to
// the configured readable set, or whether no readable set is configured at
// all (empty ext is always readable — spec.md §4.1).
func (p *Policy) IsReadableExtension(ext string) bool {
	if ext == "" {
		return true
	}
	if len(p.extensionsToRead) == 0 {
		return true
	}
	_, ok := p.extensionsToRead[ext]
	return ok
}

// ShouldReadContent decides whether the file at path with the given size
// should have its content extracted. When false the file is still indexed,
// but with empty content.
func (p *Policy) ShouldReadContent(path string, size int64) bool {
	ext := identity.Extension(identity.BaseName(path))
	return p.IsReadableExtension(ext) && size <= p.maxFileBytes && !p.IsFileExcluded(path)
}

// MaxFileBytes returns the configured content-size ceiling.
func (p *Policy) MaxFileBytes() int64 { return p.maxFileBytes }

// SniffMIME is a small convenience wrapper other backends can use before
// deciding whether to even open a file for a size check, given a sample of
// bytes already held in memory (e.g. the head of a file read once).
func SniffMIME(sample []byte) string {
	return mimetype.Detect(sample).String()
}
