package lsp

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/opencode-ai/opencode-lsp/internal/logging"
	"github.com/opencode-ai/opencode-lsp/internal/lsp/registry"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
)

// Key identifies a provider: one server for one project root.
type Key struct {
	ServerID string `json:"serverId"`
	Root     string `json:"root"`
}

func (k Key) String() string {
	return k.ServerID + "@" + k.Root
}

// ProviderInfo describes a registered provider for status output.
type ProviderInfo struct {
	Key       Key                    `json:"key"`
	ID        string                 `json:"id"`
	Name      string                 `json:"name"`
	Transport registry.TransportMode `json:"transport"`
	State     State                  `json:"state"`
}

// Manager owns every provider of the process and is the only entry point
// the rest of the application uses for diagnostics.
type Manager struct {
	registry *registry.Registry
	opts     ProviderOptions
	metrics  *metrics
	maxDepth int
	ignore   []string

	starts singleflight.Group
	scans  singleflight.Group

	mu               sync.Mutex
	life             context.Context
	endLife          context.CancelFunc
	providers        map[Key]*Provider
	initializing     map[Key]*pendingStart
	connectionErrors map[string]string
	scanned          map[string]bool
	listeners        map[int]func(active []string)
	nextListener     int
}

// pendingStart is a provider start in flight. Disposing the manager cancels
// it and waits for done.
type pendingStart struct {
	cancel context.CancelFunc
	done   chan struct{}
}

type managerOptions struct {
	provider      ProviderOptions
	meterProvider metric.MeterProvider
	maxDepth      int
	ignore        []string
}

type ManagerOption func(*managerOptions)

// WithProviderOptions sets the timeouts and transport factory used for every
// provider the manager starts.
func WithProviderOptions(opts ProviderOptions) ManagerOption {
	return func(o *managerOptions) {
		o.provider = opts
	}
}

func WithMeterProvider(mp metric.MeterProvider) ManagerOption {
	return func(o *managerOptions) {
		o.meterProvider = mp
	}
}

// WithScanDepth bounds how deep ScanProject walks below the root.
func WithScanDepth(depth int) ManagerOption {
	return func(o *managerOptions) {
		if depth > 0 {
			o.maxDepth = depth
		}
	}
}

// WithScanIgnore adds doublestar globs, relative to the scanned root, that
// ScanProject skips.
func WithScanIgnore(globs ...string) ManagerOption {
	return func(o *managerOptions) {
		o.ignore = append(o.ignore, globs...)
	}
}

func NewManager(reg *registry.Registry, opts ...ManagerOption) *Manager {
	o := managerOptions{maxDepth: DefaultScanDepth}
	for _, opt := range opts {
		opt(&o)
	}
	life, endLife := context.WithCancel(context.Background())
	return &Manager{
		life:             life,
		endLife:          endLife,
		registry:         reg,
		opts:             o.provider.withDefaults(),
		metrics:          mustMetrics(o.meterProvider),
		maxDepth:         o.maxDepth,
		ignore:           o.ignore,
		providers:        make(map[Key]*Provider),
		initializing:     make(map[Key]*pendingStart),
		connectionErrors: make(map[string]string),
		scanned:          make(map[string]bool),
		listeners:        make(map[int]func([]string)),
	}
}

func (m *Manager) Registry() *registry.Registry {
	return m.registry
}

// GetDiagnostics returns the diagnostics for path with the given content. It
// never fails: any problem yields an empty slice and, for startup failures,
// an entry in ConnectionErrors.
func (m *Manager) GetDiagnostics(ctx context.Context, path string, content string) []Diagnostic {
	start := time.Now()
	path = m.absolute(path)

	cfg, ok := m.registry.ConfigForFile(path)
	if !ok {
		return []Diagnostic{}
	}
	key := Key{ServerID: cfg.ID, Root: m.registry.FindProjectRoot(path)}

	p, err := m.provider(ctx, key, cfg)
	if err != nil {
		if ctx.Err() == nil {
			m.recordError(cfg.ID, err)
		}
		return []Diagnostic{}
	}

	diagnostics, err := p.Validate(ctx, path, content)
	if err != nil {
		logging.Debug("Validate failed", "server", cfg.ID, "path", path, "error", err)
		return []Diagnostic{}
	}
	m.metrics.validated(ctx, cfg.ID, time.Since(start))
	return diagnostics
}

// GetDiagnosticsForFile reads path from disk and returns its diagnostics.
func (m *Manager) GetDiagnosticsForFile(ctx context.Context, path string) []Diagnostic {
	content, err := os.ReadFile(m.absolute(path))
	if err != nil {
		logging.Debug("Cannot read file for diagnostics", "path", path, "error", err)
		return []Diagnostic{}
	}
	return m.GetDiagnostics(ctx, path, string(content))
}

// provider returns the live provider for key, starting it or reconnecting
// it once as needed.
func (m *Manager) provider(ctx context.Context, key Key, cfg registry.LanguageServerConfig) (*Provider, error) {
	m.mu.Lock()
	p, ok := m.providers[key]
	m.mu.Unlock()

	if !ok {
		return m.startProvider(ctx, key, cfg, true)
	}
	if p.IsConnected() {
		return p, nil
	}
	if err := p.Initialize(ctx); err != nil {
		return nil, fmt.Errorf("reconnect failed: %w", err)
	}
	m.clearError(key.ServerID)
	return p, nil
}

// startProvider starts the provider for key unless one is already active.
// Concurrent callers for the same key share one start. The start outlives
// ctx but not DisposeAll or DisposeProvider for the key: those cancel it and
// a provider that comes up anyway is disposed instead of registered.
func (m *Manager) startProvider(ctx context.Context, key Key, cfg registry.LanguageServerConfig, notify bool) (*Provider, error) {
	ch := m.starts.DoChan(key.String(), func() (any, error) {
		defer logging.RecoverPanic("lsp-start-"+key.ServerID, nil)

		startCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
		defer cancel()
		pending := &pendingStart{cancel: cancel, done: make(chan struct{})}
		defer close(pending.done)

		m.mu.Lock()
		if p, ok := m.providers[key]; ok {
			m.mu.Unlock()
			return p, nil
		}
		if err := ctx.Err(); err != nil {
			m.mu.Unlock()
			return nil, err
		}
		m.initializing[key] = pending
		m.mu.Unlock()

		p := NewProvider(cfg, key.Root, m.opts)
		logging.Debug("Starting language server", "server", cfg.ID, "root", key.Root, "provider", p.ID())
		err := p.Initialize(startCtx)

		m.mu.Lock()
		if m.initializing[key] == pending {
			delete(m.initializing, key)
		}
		if startCtx.Err() != nil {
			err = ErrProviderDisposed
		}
		if err != nil {
			m.mu.Unlock()
			p.Dispose(context.WithoutCancel(ctx))
			if !errors.Is(err, ErrProviderDisposed) {
				m.metrics.failed(startCtx, cfg.ID)
			}
			return nil, err
		}
		m.providers[key] = p
		delete(m.connectionErrors, cfg.ID)
		m.mu.Unlock()

		m.metrics.started(startCtx, cfg.ID)
		if notify {
			m.notifyListeners()
		}
		return p, nil
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		p, ok := res.Val.(*Provider)
		if !ok || p == nil {
			return nil, fmt.Errorf("start of %s aborted", key)
		}
		return p, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (m *Manager) isActiveOrStarting(key Key) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.providers[key]; ok {
		return true
	}
	_, ok := m.initializing[key]
	return ok
}

// recordError stores the error for a server unless it repeats the last one.
// Starts abandoned by a dispose are not errors.
func (m *Manager) recordError(serverID string, err error) {
	if errors.Is(err, ErrProviderDisposed) {
		return
	}
	msg := err.Error()
	m.mu.Lock()
	if m.connectionErrors[serverID] == msg {
		m.mu.Unlock()
		return
	}
	m.connectionErrors[serverID] = msg
	m.mu.Unlock()

	// A missing server is normal; status commands report it.
	var startErr *StartError
	if errors.As(err, &startErr) {
		logging.Info("Language server unavailable", "server", serverID, "error", err)
		return
	}
	logging.Debug("Language server error", "server", serverID, "error", err)
}

func (m *Manager) clearError(serverID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.connectionErrors, serverID)
}

// ActiveLSPs returns the sorted ids of servers with a registered provider.
func (m *Manager) ActiveLSPs() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.activeLocked()
}

func (m *Manager) activeLocked() []string {
	var ids []string
	for key := range m.providers {
		if !slices.Contains(ids, key.ServerID) {
			ids = append(ids, key.ServerID)
		}
	}
	sort.Strings(ids)
	return ids
}

// Providers describes every registered provider, sorted by key.
func (m *Manager) Providers() []ProviderInfo {
	m.mu.Lock()
	providers := make([]*Provider, 0, len(m.providers))
	for _, p := range m.providers {
		providers = append(providers, p)
	}
	m.mu.Unlock()

	infos := make([]ProviderInfo, 0, len(providers))
	for _, p := range providers {
		cfg := p.Config()
		infos = append(infos, ProviderInfo{
			Key:       p.Key(),
			ID:        p.ID(),
			Name:      cfg.DisplayName(),
			Transport: p.transportMode(),
			State:     p.State(),
		})
	}
	sort.Slice(infos, func(i, j int) bool {
		return infos[i].Key.String() < infos[j].Key.String()
	})
	return infos
}

// ConnectionErrors returns a copy of the last startup error per server id.
func (m *Manager) ConnectionErrors() map[string]string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]string, len(m.connectionErrors))
	for k, v := range m.connectionErrors {
		out[k] = v
	}
	return out
}

// OnActiveChange registers a listener called with the active server ids
// whenever providers are added or removed.
func (m *Manager) OnActiveChange(listener func(active []string)) (unsubscribe func()) {
	m.mu.Lock()
	id := m.nextListener
	m.nextListener++
	m.listeners[id] = listener
	m.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			m.mu.Lock()
			delete(m.listeners, id)
			m.mu.Unlock()
		})
	}
}

func (m *Manager) notifyListeners() {
	m.mu.Lock()
	active := m.activeLocked()
	ids := make([]int, 0, len(m.listeners))
	for id := range m.listeners {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	listeners := make([]func([]string), 0, len(ids))
	for _, id := range ids {
		listeners = append(listeners, m.listeners[id])
	}
	m.mu.Unlock()

	for _, l := range listeners {
		l(slices.Clone(active))
	}
}

// DisposeProvider shuts down the provider for one server and root,
// including a start still in flight.
func (m *Manager) DisposeProvider(ctx context.Context, serverID, root string) {
	key := Key{ServerID: serverID, Root: m.absolute(root)}
	m.mu.Lock()
	p, ok := m.providers[key]
	delete(m.providers, key)
	pending := m.initializing[key]
	if pending != nil {
		pending.cancel()
	}
	m.mu.Unlock()

	if pending != nil {
		waitStart(ctx, pending)
	}
	if !ok {
		return
	}
	p.Dispose(ctx)
	m.metrics.disposed(ctx, serverID)
	m.notifyListeners()
}

// DisposeAll shuts down every provider concurrently, cancels running scans
// and starts, and forgets which roots were scanned. It returns once the
// cancelled starts have wound down or ctx is done.
func (m *Manager) DisposeAll(ctx context.Context) {
	m.mu.Lock()
	m.endLife()
	m.life, m.endLife = context.WithCancel(context.Background())
	providers := m.providers
	m.providers = make(map[Key]*Provider)
	m.scanned = make(map[string]bool)
	pending := make([]*pendingStart, 0, len(m.initializing))
	for _, start := range m.initializing {
		start.cancel()
		pending = append(pending, start)
	}
	m.mu.Unlock()

	var g errgroup.Group
	for key, p := range providers {
		g.Go(func() error {
			defer logging.RecoverPanic("lsp-dispose-"+key.ServerID, nil)
			p.Dispose(ctx)
			m.metrics.disposed(ctx, key.ServerID)
			return nil
		})
	}
	_ = g.Wait()
	for _, start := range pending {
		waitStart(ctx, start)
	}

	if len(providers) > 0 {
		logging.Info("Language servers shut down", "count", len(providers))
		m.notifyListeners()
	}
}

func waitStart(ctx context.Context, start *pendingStart) {
	select {
	case <-start.done:
	case <-ctx.Done():
	}
}

// lifetime returns a context cancelled by the next DisposeAll.
func (m *Manager) lifetime() context.Context {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.life
}

func (m *Manager) absolute(path string) string {
	if path == "" {
		return m.registry.WorkingDir()
	}
	if !filepath.IsAbs(path) {
		path = filepath.Join(m.registry.WorkingDir(), path)
	}
	return filepath.Clean(path)
}
