package svn

import (
	"bytes"
	"context"
	"encoding/xml"
	"fmt"
	"os/exec"
	"strconv"
	"strings"

	"golang.org/x/time/rate"

	"github.com/klask-io/klask-core/internal/model"
)

// ChangeKind classifies one entry returned by Session.ChangedPaths.
type ChangeKind string

const (
	ChangeAdded    ChangeKind = "added"
	ChangeModified ChangeKind = "modified"
	ChangeDeleted  ChangeKind = "deleted"
)

// ChangeEntry is one path touched between two revisions, relative to the
// repository root.
type ChangeEntry struct {
	Path  string
	Kind  ChangeKind
	IsDir bool
}

// Session is the capability the crawler drives the editor through. RASession
// implements it by shelling out to the svn CLI; tests use an in-memory fake.
type Session interface {
	LatestRevision(ctx context.Context, repo model.Repository) (int64, error)
	ChangedPaths(ctx context.Context, repo model.Repository, fromRev, toRev int64) ([]ChangeEntry, error)
	Cat(ctx context.Context, repo model.Repository, relPath string, rev int64) ([]byte, error)
	Properties(ctx context.Context, repo model.Repository, relPath string, rev int64) (map[string]string, error)
	Size(ctx context.Context, repo model.Repository, relPath string, rev int64) (int64, error)
}

// RASession drives a real Subversion repository through the svn CLI.
// No Go SVN protocol library exists (SVNKit has no Go port), so this
// wraps the same subprocess-as-capability pattern the ambient stack uses
// for other external tools.
type RASession struct {
	binary  string
	limiter *rate.Limiter
}

// NewRASession builds a session invoking binary (conventionally "svn").
func NewRASession(binary string) *RASession {
	if binary == "" {
		binary = "svn"
	}
	return &RASession{binary: binary}
}

// SetLimiter installs the rate.Limiter every svn subprocess invocation is
// paced through; cmd/crawlerd's backend factory shares the same limiter
// with the GitLab/GitHub enumerators' outbound HTTP calls.
func (s *RASession) SetLimiter(l *rate.Limiter) { s.limiter = l }

func (s *RASession) run(ctx context.Context, args ...string) ([]byte, error) {
	if s.limiter != nil {
		if err := s.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}
	cmd := exec.CommandContext(ctx, s.binary, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("%s %v: %w: %s", s.binary, args, err, stderr.String())
	}
	return stdout.Bytes(), nil
}

func (s *RASession) auth(repo model.Repository) []string {
	if repo.AccessToken == "" {
		return nil
	}
	user := repo.Username
	if user == "" {
		user = "svn"
	}
	return []string{"--username", user, "--password", repo.AccessToken, "--non-interactive"}
}

type svnInfoXML struct {
	Entry struct {
		Revision int64 `xml:"revision,attr"`
		Size     int64 `xml:"size"`
	} `xml:"entry"`
}

// LatestRevision resolves the repository tip via `svn info --xml`.
func (s *RASession) LatestRevision(ctx context.Context, repo model.Repository) (int64, error) {
	args := append([]string{"info", "--xml", repo.URL}, s.auth(repo)...)
	out, err := s.run(ctx, args...)
	if err != nil {
		return 0, fmt.Errorf("svn info: %w", err)
	}
	var parsed svnInfoXML
	if err := xml.Unmarshal(out, &parsed); err != nil {
		return 0, fmt.Errorf("parsing svn info output: %w", err)
	}
	return parsed.Entry.Revision, nil
}

type svnListXML struct {
	Entries []struct {
		Kind string `xml:"kind,attr"`
		Name string `xml:"name"`
	} `xml:"list>entry"`
}

type svnDiffSummaryXML struct {
	Paths []struct {
		Item string `xml:"item,attr"`
		Kind string `xml:"kind,attr"`
		Path string `xml:",chardata"`
	} `xml:"paths>path"`
}

// ChangedPaths lists every file/dir touched between fromRev and toRev. When
// fromRev is 0 (never crawled), the full tree at toRev is listed and every
// entry reported as added, matching the incremental reporter's "report
// empty tree, request full state" contract (spec.md §4.5).
func (s *RASession) ChangedPaths(ctx context.Context, repo model.Repository, fromRev, toRev int64) ([]ChangeEntry, error) {
	if fromRev == 0 {
		args := append([]string{"list", "-R", "--xml", "-r", strconv.FormatInt(toRev, 10), repo.URL}, s.auth(repo)...)
		out, err := s.run(ctx, args...)
		if err != nil {
			return nil, fmt.Errorf("svn list: %w", err)
		}
		var parsed svnListXML
		if err := xml.Unmarshal(out, &parsed); err != nil {
			return nil, fmt.Errorf("parsing svn list output: %w", err)
		}
		entries := make([]ChangeEntry, 0, len(parsed.Entries))
		for _, e := range parsed.Entries {
			entries = append(entries, ChangeEntry{Path: e.Name, Kind: ChangeAdded, IsDir: e.Kind == "dir"})
		}
		return entries, nil
	}

	rev := fmt.Sprintf("%d:%d", fromRev, toRev)
	args := append([]string{"diff", "--summarize", "--xml", "-r", rev, repo.URL}, s.auth(repo)...)
	out, err := s.run(ctx, args...)
	if err != nil {
		return nil, fmt.Errorf("svn diff --summarize: %w", err)
	}
	var parsed svnDiffSummaryXML
	if err := xml.Unmarshal(out, &parsed); err != nil {
		return nil, fmt.Errorf("parsing svn diff --summarize output: %w", err)
	}
	// svn diff --summarize against a URL reports each path as a full URL;
	// strip the repository URL so ChangeEntry.Path is root-relative.
	prefix := strings.TrimRight(repo.URL, "/") + "/"
	entries := make([]ChangeEntry, 0, len(parsed.Paths))
	for _, p := range parsed.Paths {
		entries = append(entries, ChangeEntry{Path: strings.TrimPrefix(p.Path, prefix), Kind: ChangeKind(p.Item), IsDir: p.Kind == "dir"})
	}
	return entries, nil
}

// Cat fetches a file's full byte content at rev.
func (s *RASession) Cat(ctx context.Context, repo model.Repository, relPath string, rev int64) ([]byte, error) {
	url := fmt.Sprintf("%s/%s", repo.URL, relPath)
	args := append([]string{"cat", "-r", strconv.FormatInt(rev, 10), url}, s.auth(repo)...)
	return s.run(ctx, args...)
}

// Size resolves relPath's byte length at rev via `svn info`, without
// transferring its content, so MAX_FILE_BYTES can be enforced before Cat.
func (s *RASession) Size(ctx context.Context, repo model.Repository, relPath string, rev int64) (int64, error) {
	url := fmt.Sprintf("%s/%s", repo.URL, relPath)
	args := append([]string{"info", "--xml", "-r", strconv.FormatInt(rev, 10), url}, s.auth(repo)...)
	out, err := s.run(ctx, args...)
	if err != nil {
		return 0, fmt.Errorf("svn info: %w", err)
	}
	var parsed svnInfoXML
	if err := xml.Unmarshal(out, &parsed); err != nil {
		return 0, fmt.Errorf("parsing svn info output: %w", err)
	}
	return parsed.Entry.Size, nil
}

type svnProplistXML struct {
	Target struct {
		Properties []struct {
			Name  string `xml:"name,attr"`
			Value string `xml:",chardata"`
		} `xml:"property"`
	} `xml:"target"`
}

// Properties fetches every SVN property on relPath at rev.
func (s *RASession) Properties(ctx context.Context, repo model.Repository, relPath string, rev int64) (map[string]string, error) {
	url := fmt.Sprintf("%s/%s", repo.URL, relPath)
	args := append([]string{"proplist", "-v", "--xml", "-r", strconv.FormatInt(rev, 10), url}, s.auth(repo)...)
	out, err := s.run(ctx, args...)
	if err != nil {
		return nil, fmt.Errorf("svn proplist: %w", err)
	}
	var parsed svnProplistXML
	if err := xml.Unmarshal(out, &parsed); err != nil {
		return nil, fmt.Errorf("parsing svn proplist output: %w", err)
	}
	props := make(map[string]string, len(parsed.Target.Properties))
	for _, p := range parsed.Target.Properties {
		props[p.Name] = p.Value
	}
	return props, nil
}
