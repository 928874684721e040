package watcher

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/opencode-ai/opencode-lsp/internal/lsp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type recordingValidator struct {
	mu    sync.Mutex
	paths []string
}

func (r *recordingValidator) GetDiagnosticsForFile(_ context.Context, path string) []lsp.Diagnostic {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.paths = append(r.paths, path)
	return []lsp.Diagnostic{{Message: "changed", Severity: lsp.SeverityInfo}}
}

func (r *recordingValidator) seen() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.paths...)
}

func startWatcher(t *testing.T, root string, v Validator, opts ...Option) {
	t.Helper()
	w, err := New(root, v, append([]Option{WithDebounce(20 * time.Millisecond)}, opts...)...)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		require.NoError(t, <-done)
	})
	// Give the watcher time to register the tree.
	time.Sleep(50 * time.Millisecond)
}

func TestWatcher_RevalidatesChangedFiles(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(root, "main.go")
	require.NoError(t, os.WriteFile(path, []byte("package main\n"), 0o644))

	v := &recordingValidator{}
	var mu sync.Mutex
	results := make(map[string]int)
	startWatcher(t, root, v, WithHandler(func(p string, diags []lsp.Diagnostic) {
		mu.Lock()
		results[p] = len(diags)
		mu.Unlock()
	}))

	for i := 0; i < 3; i++ {
		require.NoError(t, os.WriteFile(path, []byte("package main\n// edit\n"), 0o644))
	}

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return results[path] == 1
	}, 2*time.Second, 10*time.Millisecond)

	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, []string{path}, v.seen(), "bursts collapse into one validation")
}

func TestWatcher_WatchesNewDirectories(t *testing.T) {
	root := t.TempDir()
	v := &recordingValidator{}
	startWatcher(t, root, v)

	dir := filepath.Join(root, "pkg")
	require.NoError(t, os.Mkdir(dir, 0o755))
	time.Sleep(100 * time.Millisecond)
	path := filepath.Join(dir, "a.go")
	require.NoError(t, os.WriteFile(path, []byte("package pkg\n"), 0o644))

	require.Eventually(t, func() bool {
		for _, p := range v.seen() {
			if p == path {
				return true
			}
		}
		return false
	}, 2*time.Second, 10*time.Millisecond)
}

func TestWatcher_FiltersIgnoredAndForeignFiles(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.Mkdir(filepath.Join(root, "gen"), 0o755))
	require.NoError(t, os.Mkdir(filepath.Join(root, "node_modules"), 0o755))

	v := &recordingValidator{}
	startWatcher(t, root, v,
		WithIgnore("gen/**"),
		WithExtensions(func() []string { return []string{".go"} }))

	require.NoError(t, os.WriteFile(filepath.Join(root, "gen", "x.go"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "node_modules", "y.go"), []byte("y"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "notes.txt"), []byte("z"), 0o644))
	keep := filepath.Join(root, "keep.go")
	require.NoError(t, os.WriteFile(keep, []byte("package keep\n"), 0o644))

	require.Eventually(t, func() bool {
		return len(v.seen()) > 0
	}, 2*time.Second, 10*time.Millisecond)
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, []string{keep}, v.seen())
}
