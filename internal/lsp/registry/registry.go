package registry

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/opencode-ai/opencode-lsp/internal/cache"
	"github.com/opencode-ai/opencode-lsp/internal/logging"
	"github.com/opencode-ai/opencode-lsp/internal/lsp/probe"
)

// DisableEnv turns LSP off for the whole process when set to a true value.
const DisableEnv = "OPENCODE_DISABLE_LSP"

// DefaultConfigTTL bounds how long the detected built-in list for a root is
// reused before the probe is consulted again.
const DefaultConfigTTL = 10 * time.Second

// Registry resolves the language-server configs for project roots.
type Registry struct {
	probe      *probe.Probe
	workingDir string
	disabled   bool

	userConfigs *cache.Cache[UserConfig]
	builtins    *cache.Cache[[]LanguageServerConfig]

	mu     sync.RWMutex
	custom []LanguageServerConfig
}

type options struct {
	workingDir string
	disabled   bool
	configTTL  time.Duration
}

type Option func(*options)

// WithWorkingDir sets the fallback project root and the base for relative paths.
func WithWorkingDir(dir string) Option {
	return func(o *options) {
		o.workingDir = dir
	}
}

// WithDisabled turns off every server regardless of project config.
func WithDisabled(disabled bool) Option {
	return func(o *options) {
		o.disabled = disabled
	}
}

// WithConfigTTL sets how long detected built-ins are cached per root.
func WithConfigTTL(ttl time.Duration) Option {
	return func(o *options) {
		o.configTTL = ttl
	}
}

func New(p *probe.Probe, opts ...Option) (*Registry, error) {
	o := options{configTTL: DefaultConfigTTL}
	for _, opt := range opts {
		opt(&o)
	}
	if o.workingDir == "" {
		wd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("failed to get working directory: %w", err)
		}
		o.workingDir = wd
	}

	userConfigs, err := cache.New[UserConfig](0)
	if err != nil {
		return nil, err
	}
	builtins, err := cache.New[[]LanguageServerConfig](o.configTTL)
	if err != nil {
		userConfigs.Close()
		return nil, err
	}
	return &Registry{
		probe:       p,
		workingDir:  o.workingDir,
		disabled:    o.disabled,
		userConfigs: userConfigs,
		builtins:    builtins,
	}, nil
}

// Probe returns the runtime probe the registry detects servers with.
func (r *Registry) Probe() *probe.Probe {
	return r.probe
}

func (r *Registry) WorkingDir() string {
	return r.workingDir
}

func (r *Registry) isDisabled() bool {
	if r.disabled {
		return true
	}
	v := strings.TrimSpace(os.Getenv(DisableEnv))
	if v == "" {
		return false
	}
	b, err := strconv.ParseBool(v)
	return err != nil || b
}

// Configs returns every server that applies to root, in order: built-ins,
// then registered configs, then servers defined only in the project config.
func (r *Registry) Configs(root string) []LanguageServerConfig {
	if r.isDisabled() {
		return nil
	}
	root = r.absolute(root)

	user := r.UserConfig(root)
	if user.Disabled {
		return nil
	}

	var configs []LanguageServerConfig
	seen := make(map[string]bool)
	add := func(base LanguageServerConfig) {
		seen[base.ID] = true
		cfg := base.Clone()
		if o, ok := user.Override(base.ID); ok {
			if o.Disabled {
				return
			}
			cfg = mergeOverride(base, o)
			if err := cfg.Validate(); err != nil {
				logging.Debug("Dropping invalid LSP override", "id", base.ID, "error", err)
				return
			}
		}
		configs = append(configs, r.withRuntime(cfg))
	}

	for _, base := range r.builtinConfigs(root) {
		add(base)
	}

	r.mu.RLock()
	custom := slices.Clone(r.custom)
	r.mu.RUnlock()
	for _, base := range custom {
		if !seen[base.ID] {
			add(base)
		}
	}

	for _, id := range user.Order {
		if seen[id] {
			continue
		}
		if cfg, ok := customConfig(id, user.Servers[id]); ok {
			configs = append(configs, r.withRuntime(cfg))
		}
	}
	return configs
}

// ConfigForFile returns the first config of the file's project that claims
// its extension.
func (r *Registry) ConfigForFile(path string) (LanguageServerConfig, bool) {
	if filepath.Ext(path) == "" {
		return LanguageServerConfig{}, false
	}
	for _, cfg := range r.Configs(r.FindProjectRoot(path)) {
		if cfg.Handles(path) {
			return cfg, true
		}
	}
	return LanguageServerConfig{}, false
}

// Extensions returns the built-in extension list together with every
// extension claimed by a config for root.
func (r *Registry) Extensions(root string) []string {
	exts := BuiltinExtensions()
	for _, cfg := range r.Configs(root) {
		for _, ext := range cfg.Extensions {
			if !slices.Contains(exts, ext) {
				exts = append(exts, ext)
			}
		}
	}
	return exts
}

// RegisterConfig adds or replaces a programmatic config. Project overrides
// apply to it the same way they apply to built-ins.
func (r *Registry) RegisterConfig(cfg LanguageServerConfig) error {
	cfg = cfg.Clone()
	cfg.Extensions = normalizeExtensions(cfg.Extensions)
	if cfg.Transport == "" {
		cfg.Transport = TransportStdio
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if i := slices.IndexFunc(r.custom, func(c LanguageServerConfig) bool { return c.ID == cfg.ID }); i >= 0 {
		r.custom[i] = cfg
	} else {
		r.custom = append(r.custom, cfg)
	}
	return nil
}

func (r *Registry) UnregisterConfig(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.custom = slices.DeleteFunc(r.custom, func(c LanguageServerConfig) bool { return c.ID == id })
}

// UserConfig returns the cached project config section for root.
func (r *Registry) UserConfig(root string) UserConfig {
	root = r.absolute(root)
	return r.userConfigs.GetOrCompute(root, func() UserConfig {
		return loadUserConfig(root)
	})
}

// SetServerDisabled records in the project config whether a server is
// disabled, and drops cached configs so the change is seen immediately.
func (r *Registry) SetServerDisabled(root, id string, disabled bool) (string, error) {
	path, err := setServerDisabled(r.absolute(root), id, disabled)
	if err != nil {
		return "", err
	}
	r.ClearCache()
	return path, nil
}

// ClearCache drops cached project configs and detected built-ins.
func (r *Registry) ClearCache() {
	r.userConfigs.Clear()
	r.builtins.Clear()
}

func (r *Registry) Close() {
	r.userConfigs.Close()
	r.builtins.Close()
}

func (r *Registry) builtinConfigs(root string) []LanguageServerConfig {
	return r.builtins.GetOrCompute(root, func() []LanguageServerConfig {
		configs := detectBuiltins(r.probe, root)
		logging.Debug("Detected language servers", "root", root, "count", len(configs))
		return configs
	})
}

// withRuntime runs JavaScript entry points through the preferred runtime.
func (r *Registry) withRuntime(cfg LanguageServerConfig) LanguageServerConfig {
	if cfg.Transport != TransportStdio {
		return cfg
	}
	switch strings.ToLower(filepath.Ext(cfg.Command)) {
	case ".js", ".mjs", ".cjs":
	default:
		return cfg
	}
	rt := r.probe.PreferredRuntime()
	if rt == "" {
		return cfg
	}
	cfg.Args = append([]string{cfg.Command}, cfg.Args...)
	cfg.Command = rt
	return cfg
}

func (r *Registry) absolute(path string) string {
	if path == "" {
		return r.workingDir
	}
	if !filepath.IsAbs(path) {
		path = filepath.Join(r.workingDir, path)
	}
	return filepath.Clean(path)
}
