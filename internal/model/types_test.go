package model

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileRecordJSON(t *testing.T) {
	record := FileRecord{
		ID:        "deadbeef",
		Name:      "main.go",
		Extension: "go",
		Path:      "/repo/trunk/main.go",
		Project:   "repo",
		Version:   "trunk",
		Content:   "package main",
		Size:      12,
	}

	data, err := json.Marshal(record)
	require.NoError(t, err)

	var unmarshaled FileRecord
	require.NoError(t, json.Unmarshal(data, &unmarshaled))
	assert.Equal(t, record, unmarshaled)
	assert.True(t, unmarshaled.HasContent())
}

func TestFileRecordHasContent(t *testing.T) {
	assert.False(t, FileRecord{}.HasContent())
	assert.True(t, FileRecord{Content: "x"}.HasContent())
}

func TestProgressInvariant(t *testing.T) {
	p := Progress{FilesTotal: 10, FilesProcessed: 7, FilesIndexed: 5}
	assert.LessOrEqual(t, p.FilesIndexed, p.FilesProcessed)
	assert.LessOrEqual(t, p.FilesProcessed, p.FilesTotal)
}

func TestRepositoryJSONRoundTrip(t *testing.T) {
	repo := Repository{
		ID:       "1",
		Name:     "klask",
		Kind:     KindGit,
		URL:      "https://example.com/klask.git",
		Branch:   "main",
		Revision: 0,
	}

	data, err := json.Marshal(repo)
	require.NoError(t, err)

	var unmarshaled Repository
	require.NoError(t, json.Unmarshal(data, &unmarshaled))
	assert.Equal(t, repo, unmarshaled)
}
