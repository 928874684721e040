package protocol

import (
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestURIFromPath_RoundTrip(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("unix paths")
	}
	dir := t.TempDir()
	path := filepath.Join(dir, "with space", "a.ts")

	u := URIFromPath(path)
	assert.Equal(t, "file://", string(u)[:7])
	assert.Equal(t, path, u.Path())
}

func TestDocumentUri_PathNonFile(t *testing.T) {
	u := DocumentUri("untitled:Untitled-1")
	assert.Equal(t, "untitled:Untitled-1", u.Path())
}

func TestDocumentUri_MalformedFileURI(t *testing.T) {
	u := DocumentUri("file:///bad%zz.fk")

	_, err := u.ParsePath()
	assert.ErrorContains(t, err, "invalid file uri")
	assert.NotPanics(t, func() {
		assert.Equal(t, "file:///bad%zz.fk", u.Path())
	})
}
