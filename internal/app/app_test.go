package app

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/opencode-ai/opencode-lsp/internal/config"
	"github.com/opencode-ai/opencode-lsp/internal/lsp/registry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/metric/noop"
)

func newTestApp(t *testing.T) *App {
	t.Helper()
	config.Reset()
	t.Cleanup(config.Reset)

	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(home, ".config"))
	t.Setenv("PATH", t.TempDir())
	t.Setenv("NPM_CONFIG_PREFIX", t.TempDir())
	t.Setenv(registry.DisableEnv, "")
	t.Setenv("OPENCODE_INSTALL_ROOT", t.TempDir())

	wd := t.TempDir()
	require.NoError(t, os.Mkdir(filepath.Join(wd, ".git"), 0o755))
	cfg, err := config.Load(wd, false)
	require.NoError(t, err)

	a, err := New(cfg)
	require.NoError(t, err)
	t.Cleanup(a.Shutdown)
	return a
}

func findServer(servers []ServerStatus, id string) (ServerStatus, bool) {
	for _, s := range servers {
		if s.ID == id {
			return s, true
		}
	}
	return ServerStatus{}, false
}

func TestNew_RequiresConfig(t *testing.T) {
	_, err := New(nil)
	assert.Error(t, err)
}

func TestServers_ReportsBuiltinsAndToggles(t *testing.T) {
	a := newTestApp(t)
	wd := a.Config.WorkingDirectory()

	goServer, ok := findServer(a.Servers(wd), "go")
	require.True(t, ok)
	assert.Equal(t, ServerNotInstalled, goServer.State)

	path, err := a.SetServerEnabled(context.Background(), wd, "go", false)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(wd, registry.ProjectConfigFile), path)

	goServer, ok = findServer(a.Servers(wd), "go")
	require.True(t, ok)
	assert.Equal(t, ServerDisabled, goServer.State)

	_, err = a.SetServerEnabled(context.Background(), wd, "go", true)
	require.NoError(t, err)
	goServer, _ = findServer(a.Servers(wd), "go")
	assert.Equal(t, ServerNotInstalled, goServer.State)
}

func TestServers_ConfiguredServerIsAvailable(t *testing.T) {
	a := newTestApp(t)
	require.NoError(t, a.Registry.RegisterConfig(registry.LanguageServerConfig{
		ID:         "custom",
		Extensions: []string{".cu"},
		Command:    "custom-lsp",
	}))

	s, ok := findServer(a.Servers(""), "custom")
	require.True(t, ok)
	assert.Equal(t, ServerAvailable, s.State)
	assert.Equal(t, []string{".cu"}, s.Extensions)
}

func TestDiagnose_FailedStartShowsInServers(t *testing.T) {
	a := newTestApp(t)
	require.NoError(t, a.Registry.RegisterConfig(registry.LanguageServerConfig{
		ID:         "custom",
		Extensions: []string{".cu"},
		Command:    "custom-lsp-missing",
	}))
	wd := a.Config.WorkingDirectory()
	file := filepath.Join(wd, "a.cu")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0o644))

	results := a.Diagnose(context.Background(), []string{"a.cu", "notes.txt"})
	require.Len(t, results, 2)
	assert.Equal(t, file, results[0].Path)
	assert.Empty(t, results[0].Diagnostics)
	assert.Equal(t, filepath.Join(wd, "notes.txt"), results[1].Path)

	s, ok := findServer(a.Servers(wd), "custom")
	require.True(t, ok)
	assert.Equal(t, ServerFailed, s.State)
	assert.Contains(t, s.Error, "custom-lsp-missing")
}

func TestMetrics_RecordsStartFailures(t *testing.T) {
	a := newTestApp(t)
	require.NoError(t, a.Registry.RegisterConfig(registry.LanguageServerConfig{
		ID:         "custom",
		Extensions: []string{".cu"},
		Command:    "custom-lsp-missing",
	}))
	wd := a.Config.WorkingDirectory()
	require.NoError(t, os.WriteFile(filepath.Join(wd, "a.cu"), []byte("x"), 0o644))

	a.Diagnose(context.Background(), []string{"a.cu"})

	samples, err := a.Metrics(context.Background())
	require.NoError(t, err)
	assert.Contains(t, samples, MetricSample{Name: "opencode.lsp.provider.failures", Server: "custom", Value: 1})
	for _, s := range samples {
		assert.NotEqual(t, "opencode.lsp.provider.starts", s.Name, "nothing started")
	}
}

func TestMetrics_EmptyWithExternalProvider(t *testing.T) {
	a := newTestApp(t)
	b, err := New(a.Config, WithMeterProvider(noop.NewMeterProvider()))
	require.NoError(t, err)
	t.Cleanup(b.Shutdown)

	samples, err := b.Metrics(context.Background())
	require.NoError(t, err)
	assert.Nil(t, samples)
}

func TestInstallServer_UnknownID(t *testing.T) {
	a := newTestApp(t)
	_, err := a.InstallServer(context.Background(), "no-such-server")
	assert.ErrorIs(t, err, ErrNoRecipe)
}

func TestShutdownIsIdempotent(t *testing.T) {
	a := newTestApp(t)
	a.ScanInBackground(context.Background())
	a.Shutdown()
	a.Shutdown()
	a.ForceShutdown()
}
