// Package identity derives the deterministic document id and extension for
// a FileRecord from its canonical path. Nothing here depends on which
// backend produced the path.
package identity

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// ID returns the lowercase hex SHA-256 of the canonical path string. It is
// a pure function: the same path always yields the same id, and distinct
// paths yield distinct ids (collision resistance delegated to SHA-256).
func ID(canonicalPath string) string {
	sum := sha256.Sum256([]byte(canonicalPath))
	return hex.EncodeToString(sum[:])
}

// Extension returns the lowercased suffix of name following its last '.',
// excluding names where that '.' is the first byte (dotfiles) or absent.
// Extension(".project") == "", Extension("a.tar.gz") == "gz".
func Extension(name string) string {
	i := strings.LastIndexByte(name, '.')
	if i <= 0 {
		return ""
	}
	return strings.ToLower(name[i+1:])
}

// BaseName returns the last path segment, independent of the separator
// style used to build the canonical path (backends may mix '/' with '@'
// and ':' as recorded in canonical paths; BaseName only ever splits on '/').
func BaseName(path string) string {
	i := strings.LastIndexByte(path, '/')
	if i < 0 {
		return path
	}
	return path[i+1:]
}

// SplitPath splits a slash-separated relative path into its segments,
// ignoring any leading or trailing '/'. SplitPath("") returns an empty slice.
func SplitPath(path string) []string {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "/")
}

// InferProjectVersion applies the trunk/branches/<name> convention shared by
// the filesystem and SVN backends to a slash-separated sequence of path
// segments (the directory components leading to a file, not the file name
// itself): project is the leaf directory's name one level above a "trunk" or
// "branches" segment, version is "trunk" or the branch name directly under
// "branches". Absent either token, project is "" and version defaults to
// "trunk" per spec.
func InferProjectVersion(segments []string) (project, version string) {
	version = "trunk"
	for i, seg := range segments {
		switch seg {
		case "trunk":
			version = "trunk"
			if i > 0 {
				project = segments[i-1]
			}
			return
		case "branches":
			if i > 0 {
				project = segments[i-1]
			}
			if i+1 < len(segments) {
				version = segments[i+1]
			}
			return
		}
	}
	return
}
