package identity

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIDDeterministicAndDistinct(t *testing.T) {
	p1 := "/r/a/trunk/x.rs"
	p2 := "/r/a/trunk/y.rs"

	assert.Equal(t, ID(p1), ID(p1))
	assert.NotEqual(t, ID(p1), ID(p2))
	assert.Len(t, ID(p1), 64) // hex-encoded sha256
}

func TestExtension(t *testing.T) {
	cases := map[string]string{
		"main.go":    "go",
		"README":     "",
		".project":   "",
		".gitignore": "",
		"a.tar.gz":   "gz",
		"Name.RS":    "rs",
	}
	for name, want := range cases {
		assert.Equal(t, want, Extension(name), "name=%s", name)
	}
}

func TestBaseName(t *testing.T) {
	assert.Equal(t, "x.rs", BaseName("/r/a/trunk/x.rs"))
	assert.Equal(t, "x.rs", BaseName("x.rs"))
}

func TestInferProjectVersionTrunk(t *testing.T) {
	project, version := InferProjectVersion([]string{"r", "a", "trunk"})
	assert.Equal(t, "a", project)
	assert.Equal(t, "trunk", version)
}

func TestInferProjectVersionBranches(t *testing.T) {
	project, version := InferProjectVersion([]string{"r", "a", "branches", "feature-x"})
	assert.Equal(t, "a", project)
	assert.Equal(t, "feature-x", version)
}

func TestInferProjectVersionDefaultsWhenAbsent(t *testing.T) {
	project, version := InferProjectVersion([]string{"r", "a", "tags", "old"})
	assert.Equal(t, "", project)
	assert.Equal(t, "trunk", version)
}

func TestInferProjectVersionBranchesAtEndHasNoName(t *testing.T) {
	project, version := InferProjectVersion([]string{"r", "branches"})
	assert.Equal(t, "r", project)
	assert.Equal(t, "trunk", version)
}
