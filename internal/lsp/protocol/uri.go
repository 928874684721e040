package protocol

import (
	"fmt"
	"net/url"
	"path/filepath"
	"strings"

	"go.lsp.dev/uri"
)

// DocumentUri is a file:// URI as sent on the wire.
type DocumentUri string

// URIFromPath converts a filesystem path into a file URI.
func URIFromPath(path string) DocumentUri {
	if abs, err := filepath.Abs(path); err == nil {
		path = abs
	}
	return DocumentUri(uri.File(path))
}

// ParsePath returns the filesystem path of a file URI. Non-file URIs are
// returned unchanged.
func (u DocumentUri) ParsePath() (string, error) {
	if !strings.HasPrefix(string(u), "file://") {
		return string(u), nil
	}
	// Filename panics on a URI it cannot parse.
	if _, err := url.ParseRequestURI(string(u)); err != nil {
		return "", fmt.Errorf("invalid file uri %q: %w", string(u), err)
	}
	return uri.URI(u).Filename(), nil
}

// Path is ParsePath with malformed URIs returned unchanged.
func (u DocumentUri) Path() string {
	path, err := u.ParsePath()
	if err != nil {
		return string(u)
	}
	return path
}
