package app

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"slices"

	"github.com/opencode-ai/opencode-lsp/internal/logging"
	"github.com/opencode-ai/opencode-lsp/internal/lsp"
	"github.com/opencode-ai/opencode-lsp/internal/lsp/registry"
	"github.com/opencode-ai/opencode-lsp/internal/lsp/watcher"
	"golang.org/x/sync/errgroup"
)

// maxParallelFiles bounds how many files are validated at once.
const maxParallelFiles = 4

// FileDiagnostics is the result of validating one file.
type FileDiagnostics struct {
	Path        string           `json:"path"`
	Diagnostics []lsp.Diagnostic `json:"diagnostics"`
}

// Diagnose validates each file from disk, in parallel, and returns the
// results in argument order.
func (app *App) Diagnose(ctx context.Context, paths []string) []FileDiagnostics {
	results := make([]FileDiagnostics, len(paths))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxParallelFiles)
	for i, path := range paths {
		abs := app.absolute(path)
		g.Go(func() error {
			defer logging.RecoverPanic("lsp-diagnose", nil)
			results[i] = FileDiagnostics{
				Path:        abs,
				Diagnostics: app.LSP.GetDiagnosticsForFile(gctx, abs),
			}
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// ServerState is how a server stands for the project root.
type ServerState string

const (
	ServerActive       ServerState = "active"
	ServerAvailable    ServerState = "available"
	ServerDisabled     ServerState = "disabled"
	ServerFailed       ServerState = "failed"
	ServerNotInstalled ServerState = "not installed"
)

// ServerStatus describes one known server for the servers command.
type ServerStatus struct {
	ID         string      `json:"id"`
	Name       string      `json:"name,omitempty"`
	State      ServerState `json:"state"`
	Command    string      `json:"command,omitempty"`
	Extensions []string    `json:"extensions,omitempty"`
	Error      string      `json:"error,omitempty"`
}

// Servers reports every built-in and configured server for root.
func (app *App) Servers(root string) []ServerStatus {
	root = app.absolute(root)
	configs := app.Registry.Configs(root)
	user := app.Registry.UserConfig(root)
	active := app.LSP.ActiveLSPs()
	failures := app.LSP.ConnectionErrors()

	var out []ServerStatus
	seen := make(map[string]bool)
	add := func(s ServerStatus) {
		if seen[s.ID] {
			return
		}
		seen[s.ID] = true
		switch {
		case slices.Contains(active, s.ID):
			s.State = ServerActive
		case failures[s.ID] != "":
			s.State = ServerFailed
			s.Error = failures[s.ID]
		}
		out = append(out, s)
	}

	for _, cfg := range configs {
		add(ServerStatus{
			ID:         cfg.ID,
			Name:       cfg.DisplayName(),
			State:      ServerAvailable,
			Command:    cfg.Command,
			Extensions: cfg.Extensions,
		})
	}
	for _, id := range registry.BuiltinIDs() {
		state := ServerNotInstalled
		if o, ok := user.Override(id); (ok && o.Disabled) || user.Disabled {
			state = ServerDisabled
		}
		add(ServerStatus{ID: id, State: state})
	}
	for _, id := range user.Order {
		if o, ok := user.Override(id); ok && o.Disabled {
			add(ServerStatus{ID: id, State: ServerDisabled})
		}
	}
	return out
}

// SetServerEnabled toggles a server in the project's .opencode.json and
// drops any provider already running for it.
func (app *App) SetServerEnabled(ctx context.Context, root, id string, enabled bool) (string, error) {
	root = app.absolute(root)
	path, err := app.Registry.SetServerDisabled(root, id, !enabled)
	if err != nil {
		return "", err
	}
	if !enabled {
		for _, info := range app.LSP.Providers() {
			if info.Key.ServerID == id {
				app.LSP.DisposeProvider(ctx, id, info.Key.Root)
			}
		}
	}
	return path, nil
}

// ErrNoRecipe is returned for servers that cannot be installed automatically.
var ErrNoRecipe = errors.New("no install recipe")

// InstallServer installs a built-in server into the managed bin directory.
func (app *App) InstallServer(ctx context.Context, id string) (string, error) {
	target, ok := registry.InstallTarget(id)
	if !ok {
		return "", fmt.Errorf("%w: unknown server %q", ErrNoRecipe, id)
	}
	path, err := app.Installer.Install(ctx, target)
	if err != nil {
		return "", err
	}
	app.Probe.ClearCache()
	app.Registry.ClearCache()
	return path, nil
}

// Watch re-validates files under root as they change until ctx is done.
func (app *App) Watch(ctx context.Context, root string, handler watcher.Handler) error {
	root = app.absolute(root)
	w, err := watcher.New(root, app.LSP,
		watcher.WithHandler(handler),
		watcher.WithIgnore(app.Config.Scan.Ignore...),
		watcher.WithExtensions(func() []string { return app.Registry.Extensions(root) }),
	)
	if err != nil {
		return fmt.Errorf("failed to start watcher: %w", err)
	}

	watchCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	app.cancelFuncsMutex.Lock()
	app.watcherCancelFuncs = append(app.watcherCancelFuncs, cancel)
	app.cancelFuncsMutex.Unlock()

	app.watcherWG.Add(1)
	defer app.watcherWG.Done()
	defer logging.RecoverPanic("lsp-watcher", nil)
	return w.Run(watchCtx)
}

func (app *App) absolute(path string) string {
	if path == "" {
		return app.Config.WorkingDirectory()
	}
	if !filepath.IsAbs(path) {
		path = filepath.Join(app.Config.WorkingDirectory(), path)
	}
	return filepath.Clean(path)
}
