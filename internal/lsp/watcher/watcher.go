// Package watcher re-validates source files as they change on disk.
package watcher

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"sort"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/fsnotify/fsnotify"
	"github.com/opencode-ai/opencode-lsp/internal/logging"
	"github.com/opencode-ai/opencode-lsp/internal/lsp"
)

const DefaultDebounce = 300 * time.Millisecond

// Validator is the part of the LSP manager the watcher needs.
type Validator interface {
	GetDiagnosticsForFile(ctx context.Context, path string) []lsp.Diagnostic
}

// Handler receives the diagnostics of a changed file.
type Handler func(path string, diagnostics []lsp.Diagnostic)

type Watcher struct {
	root       string
	validator  Validator
	handler    Handler
	debounce   time.Duration
	ignore     []string
	extensions func() []string

	fsw *fsnotify.Watcher
}

type Option func(*Watcher)

func WithDebounce(d time.Duration) Option {
	return func(w *Watcher) {
		if d > 0 {
			w.debounce = d
		}
	}
}

// WithIgnore skips paths matching any doublestar glob relative to the root.
func WithIgnore(globs ...string) Option {
	return func(w *Watcher) {
		w.ignore = append(w.ignore, globs...)
	}
}

// WithExtensions limits validation to files whose extension is listed by fn.
// fn is consulted on every batch so registry changes apply without restart.
func WithExtensions(fn func() []string) Option {
	return func(w *Watcher) {
		w.extensions = fn
	}
}

func WithHandler(h Handler) Option {
	return func(w *Watcher) {
		w.handler = h
	}
}

func New(root string, v Validator, opts ...Option) (*Watcher, error) {
	root, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	w := &Watcher{
		root:      root,
		validator: v,
		debounce:  DefaultDebounce,
		handler:   func(string, []lsp.Diagnostic) {},
		fsw:       fsw,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w, nil
}

// Run watches the tree until ctx is done. Changed files are collected until
// the tree stays quiet for the debounce interval, then validated in path
// order.
func (w *Watcher) Run(ctx context.Context) error {
	defer w.fsw.Close()
	if err := w.addTree(w.root); err != nil {
		return err
	}
	logging.Info("Watching for changes", "root", w.root)

	pending := make(map[string]struct{})
	timer := time.NewTimer(w.debounce)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return nil
			}
			logging.Warn("File watcher error", "error", err)
		case event, ok := <-w.fsw.Events:
			if !ok {
				return nil
			}
			if w.handle(event, pending) {
				timer.Reset(w.debounce)
			}
		case <-timer.C:
			w.flush(ctx, pending)
			clear(pending)
		}
	}
}

// handle records the event and reports whether a file is now pending.
func (w *Watcher) handle(event fsnotify.Event, pending map[string]struct{}) bool {
	path := event.Name
	if w.ignored(path) {
		return false
	}
	switch {
	case event.Has(fsnotify.Remove), event.Has(fsnotify.Rename):
		delete(pending, path)
		return false
	case event.Has(fsnotify.Create):
		if info, err := os.Stat(path); err == nil && info.IsDir() {
			if err := w.addTree(path); err != nil {
				logging.Debug("Cannot watch new directory", "path", path, "error", err)
			}
			return false
		}
	case !event.Has(fsnotify.Write):
		return false
	}
	pending[path] = struct{}{}
	return true
}

func (w *Watcher) flush(ctx context.Context, pending map[string]struct{}) {
	paths := make([]string, 0, len(pending))
	var exts []string
	if w.extensions != nil {
		exts = w.extensions()
	}
	for path := range pending {
		if exts != nil && !slices.Contains(exts, strings.ToLower(filepath.Ext(path))) {
			continue
		}
		paths = append(paths, path)
	}
	sort.Strings(paths)

	for _, path := range paths {
		if ctx.Err() != nil {
			return
		}
		diagnostics := w.validator.GetDiagnosticsForFile(ctx, path)
		logging.Debug("Revalidated changed file", "path", path, "count", len(diagnostics))
		w.handler(path, diagnostics)
	}
}

func (w *Watcher) addTree(dir string) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == dir {
				return err
			}
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if path != w.root && (lsp.SkippedDir(d.Name()) || w.ignored(path)) {
			return filepath.SkipDir
		}
		if err := w.fsw.Add(path); err != nil {
			logging.Debug("Cannot watch directory", "path", path, "error", err)
		}
		return nil
	})
}

func (w *Watcher) ignored(path string) bool {
	rel, err := filepath.Rel(w.root, path)
	if err != nil {
		return false
	}
	rel = filepath.ToSlash(rel)
	return slices.ContainsFunc(w.ignore, func(pattern string) bool {
		ok, _ := doublestar.Match(pattern, rel)
		return ok
	})
}
