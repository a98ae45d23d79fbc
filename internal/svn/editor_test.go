package svn

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/klask-io/klask-core/internal/exclusion"
)

func testPolicy() *exclusion.Policy {
	return exclusion.New(nil, nil, []string{"bin"}, nil, nil, 1024)
}

func driveTrunkFile(t *testing.T, e *SvnDeltaEditor, project, filePath, content string) {
	t.Helper()
	e.OpenRoot(0)
	e.OpenDir(project, 0)
	e.OpenDir(project+"/trunk", 0)
	e.AddFile(project+"/trunk/"+filePath, "", 0)
	e.ApplyTextDelta()
	e.TextDeltaChunk([]byte(content))
	e.TextDeltaEnd()
	e.ChangeFileProperty("svn:entry:last-author", "alice")
	e.ChangeFileProperty("svn:entry:committed-date", "2026-01-01T00:00:00Z")
	e.CloseFile(project+"/trunk/"+filePath, "")
	e.CloseDir()
	e.CloseDir()
	e.CloseEdit()
}

func TestEditorTrunkFileMarkedUpdated(t *testing.T) {
	e := NewEditor(testPolicy(), "https://svn.example.com/repo", 42)
	driveTrunkFile(t, e, "proj", "main.go", "package main")

	updated := e.UpdatedPaths()
	require.Len(t, updated, 1)
	assert.Equal(t, "proj", updated[0].Project)
	assert.Equal(t, "trunk", updated[0].Version)
	assert.Equal(t, "alice", updated[0].LastAuthor)
	assert.True(t, updated[0].Readable)
	assert.Empty(t, e.DeletedPaths())
}

func TestEditorBranchFileRecordsBranchName(t *testing.T) {
	e := NewEditor(testPolicy(), "https://svn.example.com/repo", 42)
	e.OpenRoot(0)
	e.OpenDir("proj", 0)
	e.OpenDir("proj/branches", 0)
	e.OpenDir("proj/branches/feature-x", 0)
	e.AddFile("proj/branches/feature-x/main.go", "", 0)
	e.ApplyTextDelta()
	e.TextDeltaChunk([]byte("package main"))
	e.CloseFile("proj/branches/feature-x/main.go", "")
	e.CloseDir()
	e.CloseDir()
	e.CloseDir()
	e.CloseEdit()

	updated := e.UpdatedPaths()
	require.Len(t, updated, 1)
	assert.Equal(t, "proj", updated[0].Project)
	assert.Equal(t, "feature-x", updated[0].Version)
}

func TestEditorTagsSubtreeSkipped(t *testing.T) {
	e := NewEditor(testPolicy(), "https://svn.example.com/repo", 42)
	e.OpenRoot(0)
	e.OpenDir("proj", 0)
	e.OpenDir("proj/tags", 0)
	e.OpenDir("proj/tags/v1.0", 0)
	e.AddFile("proj/tags/v1.0/main.go", "", 0)
	e.ApplyTextDelta()
	e.TextDeltaChunk([]byte("package main"))
	e.CloseFile("proj/tags/v1.0/main.go", "")
	e.CloseDir()
	e.CloseDir()
	e.CloseDir()
	e.CloseEdit()

	assert.Empty(t, e.UpdatedPaths())
}

func TestEditorOversizeFileMarkedUnreadable(t *testing.T) {
	e := NewEditor(testPolicy(), "https://svn.example.com/repo", 42)
	e.OpenRoot(0)
	e.OpenDir("proj", 0)
	e.OpenDir("proj/trunk", 0)
	e.AddFile("proj/trunk/big.txt", "", 0)
	e.ApplyTextDelta()
	e.TextDeltaChunk(make([]byte, 2048))
	e.CloseFile("proj/trunk/big.txt", "")
	e.CloseDir()
	e.CloseDir()
	e.CloseEdit()

	updated := e.UpdatedPaths()
	require.Len(t, updated, 1)
	assert.False(t, updated[0].Readable)
}

func TestEditorExcludedExtensionSkipped(t *testing.T) {
	e := NewEditor(testPolicy(), "https://svn.example.com/repo", 42)
	e.OpenRoot(0)
	e.OpenDir("proj", 0)
	e.OpenDir("proj/trunk", 0)
	e.AddFile("proj/trunk/app.bin", "", 0)
	e.ApplyTextDelta()
	e.TextDeltaChunk([]byte("binary"))
	e.CloseFile("proj/trunk/app.bin", "")
	e.CloseDir()
	e.CloseDir()
	e.CloseEdit()

	assert.Empty(t, e.UpdatedPaths())
}

func TestEditorDeleteEntryRecordsDeletion(t *testing.T) {
	e := NewEditor(testPolicy(), "https://svn.example.com/repo", 42)
	e.OpenRoot(0)
	e.OpenDir("proj", 0)
	e.OpenDir("proj/trunk", 0)
	e.DeleteEntry("proj/trunk/old.go", 0)
	e.CloseDir()
	e.CloseDir()
	e.CloseEdit()

	deleted := e.DeletedPaths()
	require.Len(t, deleted, 1)
	assert.Contains(t, deleted[0], "proj/trunk/old.go")
}

func TestEditorDeleteAfterUpdateWinsAsDelete(t *testing.T) {
	e := NewEditor(testPolicy(), "https://svn.example.com/repo", 42)
	driveTrunkFile(t, e, "proj", "main.go", "package main")
	e.OpenRoot(0)
	e.OpenDir("proj", 0)
	e.OpenDir("proj/trunk", 0)
	e.DeleteEntry("proj/trunk/main.go", 0)
	e.CloseDir()
	e.CloseDir()
	e.CloseEdit()

	assert.Empty(t, e.UpdatedPaths())
	assert.Len(t, e.DeletedPaths(), 1)
}

func TestEditorExecutablePropertyMarksUnreadable(t *testing.T) {
	e := NewEditor(testPolicy(), "https://svn.example.com/repo", 42)
	e.OpenRoot(0)
	e.OpenDir("proj", 0)
	e.OpenDir("proj/trunk", 0)
	e.AddFile("proj/trunk/run.sh", "", 0)
	e.ApplyTextDelta()
	e.TextDeltaChunk([]byte("#!/bin/sh"))
	e.ChangeFileProperty("svn:executable", "*")
	e.CloseFile("proj/trunk/run.sh", "")
	e.CloseDir()
	e.CloseDir()
	e.CloseEdit()

	updated := e.UpdatedPaths()
	require.Len(t, updated, 1)
	assert.False(t, updated[0].Readable)
}

func TestEditorNoTrunkOrBranchesDefaultsVersion(t *testing.T) {
	e := NewEditor(testPolicy(), "https://svn.example.com/repo", 42)
	e.OpenRoot(0)
	e.AddFile("README.md", "", 0)
	e.ApplyTextDelta()
	e.TextDeltaChunk([]byte("hello"))
	e.CloseFile("README.md", "")
	e.CloseEdit()

	updated := e.UpdatedPaths()
	require.Len(t, updated, 1)
	assert.Equal(t, "trunk", updated[0].Version)
	assert.Empty(t, updated[0].Project)
}

func TestEditorIDStableAndDistinct(t *testing.T) {
	e := NewEditor(testPolicy(), "https://svn.example.com/repo", 42)
	a := e.ID("proj/trunk/main.go")
	b := e.ID("proj/trunk/main.go")
	c := e.ID("proj/trunk/other.go")
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
}
