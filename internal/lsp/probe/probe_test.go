package probe

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeExecutable(t *testing.T, path string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\nexit 0\n"), 0o755))
}

func newTestProbe(t *testing.T, opts ...Option) *Probe {
	t.Helper()
	opts = append([]Option{WithBinDir(t.TempDir()), WithInstallRoot(t.TempDir())}, opts...)
	p, err := New(opts...)
	require.NoError(t, err)
	t.Cleanup(p.Close)
	return p
}

func TestIsCommandAvailable_PathLookup(t *testing.T) {
	pathDir := t.TempDir()
	writeExecutable(t, filepath.Join(pathDir, "fake-ls"))
	t.Setenv("PATH", pathDir)

	p := newTestProbe(t)
	assert.True(t, p.IsCommandAvailable("fake-ls"))
	assert.False(t, p.IsCommandAvailable("missing-ls"))
	assert.False(t, p.IsCommandAvailable(""))
}

func TestIsCommandAvailable_CachedUntilCleared(t *testing.T) {
	pathDir := t.TempDir()
	t.Setenv("PATH", pathDir)

	p := newTestProbe(t)
	require.False(t, p.IsCommandAvailable("late-ls"))

	writeExecutable(t, filepath.Join(pathDir, "late-ls"))
	assert.False(t, p.IsCommandAvailable("late-ls"), "negative result is cached")

	p.ClearCache()
	assert.True(t, p.IsCommandAvailable("late-ls"))
}

func TestResolveCommand_ManagedBinDir(t *testing.T) {
	t.Setenv("PATH", t.TempDir())
	binDir := t.TempDir()
	writeExecutable(t, filepath.Join(binDir, "node_modules", ".bin", "pyright-langserver"))

	p := newTestProbe(t, WithBinDir(binDir))
	path, ok := p.ResolveCommand("pyright-langserver")
	require.True(t, ok)
	assert.Equal(t, filepath.Join(binDir, "node_modules", ".bin", "pyright-langserver"), path)
}

func TestResolveCommand_AbsolutePath(t *testing.T) {
	bin := filepath.Join(t.TempDir(), "custom-ls")
	writeExecutable(t, bin)

	p := newTestProbe(t)
	path, ok := p.ResolveCommand(bin)
	require.True(t, ok)
	assert.Equal(t, bin, path)

	_, ok = p.ResolveCommand(bin + "-nope")
	assert.False(t, ok)
}

func TestPreferredRuntime(t *testing.T) {
	pathDir := t.TempDir()
	writeExecutable(t, filepath.Join(pathDir, "node"))
	t.Setenv("PATH", pathDir)

	p := newTestProbe(t)
	assert.Equal(t, "node", p.PreferredRuntime())

	writeExecutable(t, filepath.Join(pathDir, "bun"))
	assert.Equal(t, "node", p.PreferredRuntime(), "cached once")

	p.ClearCache()
	assert.Equal(t, "bun", p.PreferredRuntime())
}

func TestPreferredRuntime_NoneInstalled(t *testing.T) {
	t.Setenv("PATH", t.TempDir())
	p := newTestProbe(t)
	assert.Empty(t, p.PreferredRuntime())
}

func TestFindTypeScriptServer_ProjectFirst(t *testing.T) {
	t.Setenv("PATH", t.TempDir())
	root := t.TempDir()
	modules := filepath.Join(root, "node_modules")
	writeExecutable(t, filepath.Join(modules, ".bin", "typescript-language-server"))
	tsserver := filepath.Join(modules, "typescript", "lib", "tsserver.js")
	require.NoError(t, os.MkdirAll(filepath.Dir(tsserver), 0o755))
	require.NoError(t, os.WriteFile(tsserver, []byte("//"), 0o644))

	installRoot := t.TempDir()
	writeExecutable(t, filepath.Join(installRoot, "node_modules", ".bin", "typescript-language-server"))

	p := newTestProbe(t, WithInstallRoot(installRoot))
	server, ok := p.FindTypeScriptServer(root)
	require.True(t, ok)
	assert.Equal(t, filepath.Join(modules, ".bin", "typescript-language-server"), server.Command)
	assert.Equal(t, []string{"--stdio"}, server.Args)
	assert.Equal(t, tsserver, server.Env[TSServerEnv])
}

func TestFindTypeScriptServer_InstallRoot(t *testing.T) {
	t.Setenv("PATH", t.TempDir())
	installRoot := t.TempDir()
	bin := filepath.Join(installRoot, "node_modules", ".bin", "typescript-language-server")
	writeExecutable(t, bin)

	p := newTestProbe(t, WithInstallRoot(installRoot))
	server, ok := p.FindTypeScriptServer(t.TempDir())
	require.True(t, ok)
	assert.Equal(t, bin, server.Command)
	assert.NotContains(t, server.Env, TSServerEnv)
}

func TestFindTypeScriptServer_NotFound(t *testing.T) {
	t.Setenv("PATH", t.TempDir())
	t.Setenv("HOME", t.TempDir())
	t.Setenv("NPM_CONFIG_PREFIX", "")

	p := newTestProbe(t)
	server, ok := p.FindTypeScriptServer(t.TempDir())
	assert.False(t, ok)
	assert.Nil(t, server)
}
