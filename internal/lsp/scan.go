package lsp

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/opencode-ai/opencode-lsp/internal/logging"
	"github.com/opencode-ai/opencode-lsp/internal/lsp/registry"
	"golang.org/x/sync/errgroup"
)

// DefaultScanDepth is how many directory levels below the root a scan visits.
const DefaultScanDepth = 6

var skippedDirs = map[string]bool{
	"node_modules": true,
	"vendor":       true,
	"dist":         true,
	"build":        true,
}

// ScanProject starts a provider for every server with at least one matching
// file under root. When no file of any known extension exists, servers whose
// root markers sit in root are started instead. Start failures are recorded
// and never abort the scan; listeners are notified once when all starts have
// settled.
func (m *Manager) ScanProject(ctx context.Context, root string) error {
	root = m.absolute(root)
	info, err := os.Stat(root)
	if err != nil {
		return fmt.Errorf("cannot scan %s: %w", root, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("cannot scan %s: not a directory", root)
	}

	m.registry.Probe().ClearCache()
	m.registry.ClearCache()

	extensions := make(map[string]bool)
	for _, ext := range m.registry.Extensions(root) {
		extensions[ext] = true
	}

	var (
		g       errgroup.Group
		seen    = make(map[Key]bool)
		matched bool
	)
	start := func(key Key, cfg registry.LanguageServerConfig) {
		if seen[key] || m.isActiveOrStarting(key) {
			return
		}
		seen[key] = true
		g.Go(func() error {
			if _, err := m.startProvider(ctx, key, cfg, false); err != nil && ctx.Err() == nil {
				m.recordError(key.ServerID, err)
			}
			return nil
		})
	}

	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			logging.Debug("Skipping unreadable path during scan", "path", path, "error", err)
			if d != nil && d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		rel, _ := filepath.Rel(root, path)
		rel = filepath.ToSlash(rel)
		if d.IsDir() {
			if path == root {
				return nil
			}
			if m.skipDir(d.Name(), rel) || depth(rel) > m.maxDepth {
				return filepath.SkipDir
			}
			return nil
		}

		if !extensions[strings.ToLower(filepath.Ext(path))] || m.ignored(rel) {
			return nil
		}
		matched = true

		cfg, ok := m.registry.ConfigForFile(path)
		if !ok {
			return nil
		}
		fileRoot := m.registry.FindProjectRoot(path)
		if !within(root, fileRoot) {
			fileRoot = root
		}
		start(Key{ServerID: cfg.ID, Root: fileRoot}, cfg)
		return nil
	})

	if err == nil && !matched {
		for _, cfg := range m.registry.Configs(root) {
			if registry.HasMarker(root, cfg) {
				logging.Debug("Starting server from root marker", "server", cfg.ID, "root", root)
				start(Key{ServerID: cfg.ID, Root: root}, cfg)
			}
		}
	}

	_ = g.Wait()
	m.notifyListeners()
	logging.Debug("Project scan finished", "root", root, "active", m.ActiveLSPs())
	return err
}

// EnsureScanned runs ScanProject once per root. Concurrent callers share the
// same scan.
func (m *Manager) EnsureScanned(ctx context.Context, root string) error {
	root = m.absolute(root)

	m.mu.Lock()
	done := m.scanned[root]
	m.mu.Unlock()
	if done {
		return nil
	}

	ch := m.scans.DoChan(root, func() (any, error) {
		m.mu.Lock()
		done := m.scanned[root]
		m.mu.Unlock()
		if done {
			return nil, nil
		}
		// The scan outlives ctx but not DisposeAll.
		scanCtx, cancel := context.WithCancel(m.lifetime())
		defer cancel()
		if err := m.ScanProject(scanCtx, root); err != nil {
			return nil, err
		}
		m.mu.Lock()
		if scanCtx.Err() == nil {
			m.scanned[root] = true
		}
		m.mu.Unlock()
		return nil, nil
	})

	select {
	case res := <-ch:
		return res.Err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// SkippedDir reports whether a directory name is never descended into:
// hidden directories and dependency or build output.
func SkippedDir(name string) bool {
	return strings.HasPrefix(name, ".") || skippedDirs[name]
}

func (m *Manager) skipDir(name, rel string) bool {
	return SkippedDir(name) || m.ignored(rel)
}

func (m *Manager) ignored(rel string) bool {
	return slices.ContainsFunc(m.ignore, func(pattern string) bool {
		ok, _ := doublestar.Match(pattern, rel)
		return ok
	})
}

// depth counts the directory levels of rel below the root.
func depth(rel string) int {
	if rel == "" || rel == "." {
		return 0
	}
	return strings.Count(rel, "/") + 1
}

func within(root, path string) bool {
	rel, err := filepath.Rel(root, path)
	return err == nil && rel != ".." && !strings.HasPrefix(rel, "../")
}
