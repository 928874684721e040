// Package probe inspects the host for language-server executables and script
// runtimes. Lookups never fail: absence is reported as a false result.
package probe

import (
	"os"
	"os/exec"
	"path/filepath"
	"runtime"

	"github.com/opencode-ai/opencode-lsp/internal/cache"
	"github.com/opencode-ai/opencode-lsp/internal/logging"
)

// PreferredRuntimes lists script runtimes in order of preference.
var PreferredRuntimes = []string{"bun", "node"}

const runtimeKey = "\x00runtime"

// Probe caches executable lookups for the lifetime of the process or until
// ClearCache is called.
type Probe struct {
	lookups     *cache.Cache[string]
	installRoot string
	binDir      string
}

type Option func(*Probe)

// WithInstallRoot sets the host application's install root, searched for a
// bundled TypeScript language server.
func WithInstallRoot(dir string) Option {
	return func(p *Probe) {
		p.installRoot = dir
	}
}

// WithBinDir overrides the directory where managed server binaries live.
func WithBinDir(dir string) Option {
	return func(p *Probe) {
		p.binDir = dir
	}
}

func New(opts ...Option) (*Probe, error) {
	lookups, err := cache.New[string](0)
	if err != nil {
		return nil, err
	}
	p := &Probe{
		lookups: lookups,
		binDir:  BinDir(),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.installRoot == "" {
		p.installRoot = defaultInstallRoot()
	}
	return p, nil
}

// BinDir returns the directory where installed LSP binaries are stored.
func BinDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".opencode", "bin")
	}
	return filepath.Join(home, ".opencode", "bin")
}

func defaultInstallRoot() string {
	if root := os.Getenv("OPENCODE_INSTALL_ROOT"); root != "" {
		return root
	}
	exe, err := os.Executable()
	if err != nil {
		return ""
	}
	if resolved, err := filepath.EvalSymlinks(exe); err == nil {
		exe = resolved
	}
	return filepath.Dir(exe)
}

// BinDir reports the managed binary directory used by this probe.
func (p *Probe) BinDir() string {
	return p.binDir
}

// ResolveCommand finds an executable by absolute path, on PATH, or in the
// managed bin directory (including its node_modules/.bin).
func (p *Probe) ResolveCommand(name string) (string, bool) {
	if name == "" {
		return "", false
	}
	path := p.lookups.GetOrCompute(name, func() string {
		return p.resolve(name)
	})
	return path, path != ""
}

func (p *Probe) resolve(name string) string {
	if filepath.IsAbs(name) {
		if isExecutable(name) {
			return name
		}
		return ""
	}
	if path, err := exec.LookPath(name); err == nil {
		return path
	}
	for _, candidate := range []string{
		filepath.Join(p.binDir, name),
		filepath.Join(p.binDir, "node_modules", ".bin", name),
	} {
		if isExecutable(candidate) {
			return candidate
		}
	}
	return ""
}

// IsCommandAvailable reports whether name resolves to an executable.
func (p *Probe) IsCommandAvailable(name string) bool {
	_, ok := p.ResolveCommand(name)
	return ok
}

// PreferredRuntime returns the first available runtime from PreferredRuntimes,
// or an empty string when none is installed.
func (p *Probe) PreferredRuntime() string {
	return p.lookups.GetOrCompute(runtimeKey, func() string {
		for _, rt := range PreferredRuntimes {
			if p.IsCommandAvailable(rt) {
				logging.Debug("Preferred script runtime", "runtime", rt)
				return rt
			}
		}
		return ""
	})
}

// ClearCache forgets every lookup so newly installed binaries are seen.
func (p *Probe) ClearCache() {
	p.lookups.Clear()
}

func (p *Probe) Close() {
	p.lookups.Close()
}

func isExecutable(path string) bool {
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return false
	}
	if runtime.GOOS == "windows" {
		return true
	}
	return info.Mode()&0o111 != 0
}

func isFile(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
