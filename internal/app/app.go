package app

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/opencode-ai/opencode-lsp/internal/config"
	"github.com/opencode-ai/opencode-lsp/internal/logging"
	"github.com/opencode-ai/opencode-lsp/internal/lsp"
	"github.com/opencode-ai/opencode-lsp/internal/lsp/install"
	"github.com/opencode-ai/opencode-lsp/internal/lsp/probe"
	"github.com/opencode-ai/opencode-lsp/internal/lsp/registry"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

const (
	shutdownTimeout      = 5 * time.Second
	forceShutdownTimeout = 500 * time.Millisecond
)

// App is the application context. It owns the one LSP manager of the
// process and everything the manager is built from.
type App struct {
	Config    *config.Config
	Probe     *probe.Probe
	Registry  *registry.Registry
	LSP       *lsp.Manager
	Installer *install.Installer

	meterProvider *sdkmetric.MeterProvider
	metricsReader *sdkmetric.ManualReader

	cancelFuncsMutex   sync.Mutex
	watcherCancelFuncs []context.CancelFunc
	watcherWG          sync.WaitGroup
	shutdownOnce       sync.Once
}

type Option func(*options)

type options struct {
	meterProvider metric.MeterProvider
	transport     lsp.TransportFactory
}

// WithMeterProvider routes the manager's metrics to mp instead of the
// in-process reader behind Metrics.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(o *options) {
		o.meterProvider = mp
	}
}

// WithTransportFactory replaces how providers reach their servers.
func WithTransportFactory(f lsp.TransportFactory) Option {
	return func(o *options) {
		o.transport = f
	}
}

func New(cfg *config.Config, opts ...Option) (*App, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config not loaded")
	}
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	var probeOpts []probe.Option
	if cfg.InstallRoot != "" {
		probeOpts = append(probeOpts, probe.WithInstallRoot(cfg.InstallRoot))
	}
	p, err := probe.New(probeOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create runtime probe: %w", err)
	}

	reg, err := registry.New(p,
		registry.WithWorkingDir(cfg.WorkingDirectory()),
		registry.WithDisabled(cfg.DisableLSP),
		registry.WithConfigTTL(cfg.ConfigCacheTTL()),
	)
	if err != nil {
		p.Close()
		return nil, fmt.Errorf("failed to create server registry: %w", err)
	}

	var (
		sdkProvider *sdkmetric.MeterProvider
		reader      *sdkmetric.ManualReader
	)
	if o.meterProvider == nil {
		reader = sdkmetric.NewManualReader()
		sdkProvider = sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
		o.meterProvider = sdkProvider
	}

	t := cfg.LSPTimeouts
	manager := lsp.NewManager(reg,
		lsp.WithProviderOptions(lsp.ProviderOptions{
			RequestTimeout:     t.RequestTimeout(),
			DiagnosticsTimeout: t.DiagnosticsTimeout(),
			SettleDelay:        t.StartupSettleDelay(),
			TCPConnectTimeout:  t.TCPConnectTimeout(),
			TCPRetries:         t.TCPRetries,
			TCPRetryDelay:      t.TCPRetryInterval(),
			Trace:              cfg.DebugLSP,
			NewTransport:       o.transport,
		}),
		lsp.WithMeterProvider(o.meterProvider),
		lsp.WithScanDepth(cfg.Scan.MaxDepth),
		lsp.WithScanIgnore(cfg.Scan.Ignore...),
	)

	app := &App{
		Config:    cfg,
		Probe:     p,
		Registry:  reg,
		LSP:       manager,
		Installer: install.New(p.BinDir()),

		meterProvider: sdkProvider,
		metricsReader: reader,
	}
	logging.Debug("Application initialized", "cwd", cfg.WorkingDirectory(), "lspDisabled", cfg.DisableLSP)
	return app, nil
}

// ScanInBackground pre-warms the language servers of the working directory.
// The scan stops with Shutdown.
func (app *App) ScanInBackground(ctx context.Context) {
	if app.Config.DisableLSP {
		return
	}
	scanCtx, cancel := context.WithCancel(ctx)
	app.cancelFuncsMutex.Lock()
	app.watcherCancelFuncs = append(app.watcherCancelFuncs, cancel)
	app.cancelFuncsMutex.Unlock()

	app.watcherWG.Add(1)
	go func() {
		defer app.watcherWG.Done()
		defer logging.RecoverPanic("lsp-scan", nil)
		if err := app.LSP.EnsureScanned(scanCtx, app.Config.WorkingDirectory()); err != nil && scanCtx.Err() == nil {
			logging.Warn("Project scan failed", "error", err)
		}
	}()
	logging.Info("LSP project scan started in background")
}

func (app *App) cancelBackground() {
	app.cancelFuncsMutex.Lock()
	for _, cancel := range app.watcherCancelFuncs {
		cancel()
	}
	app.watcherCancelFuncs = nil
	app.cancelFuncsMutex.Unlock()
}

// Shutdown stops background work and disposes every language server.
func (app *App) Shutdown() {
	app.shutdownOnce.Do(func() {
		app.cancelBackground()
		app.watcherWG.Wait()

		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		app.LSP.DisposeAll(ctx)
		app.closeMetrics(ctx)
		app.Registry.Close()
		app.Probe.Close()
	})
}

// ForceShutdown gives Shutdown a short grace period, then kills any
// remaining child process. It does not wait for a Shutdown already in
// progress.
func (app *App) ForceShutdown() {
	logging.Info("Starting force shutdown")
	app.cancelBackground()

	done := make(chan struct{})
	go func() {
		defer close(done)
		app.shutdownOnce.Do(func() {
			ctx, cancel := context.WithTimeout(context.Background(), forceShutdownTimeout)
			defer cancel()
			app.LSP.DisposeAll(ctx)
			app.closeMetrics(ctx)
			app.Registry.Close()
			app.Probe.Close()
		})
	}()
	select {
	case <-done:
	case <-time.After(forceShutdownTimeout):
	}
	app.forceKillAllChildProcesses()
	logging.Info("Force shutdown completed")
}

// forceKillAllChildProcesses kills all child processes of the current process
func (app *App) forceKillAllChildProcesses() {
	output, err := exec.Command("pgrep", "-P", strconv.Itoa(os.Getpid())).Output()
	if err != nil {
		return
	}
	for pidStr := range strings.FieldsSeq(string(output)) {
		pid, err := strconv.Atoi(pidStr)
		if err != nil {
			continue
		}
		if process, err := os.FindProcess(pid); err == nil {
			logging.Debug("Force killing child process", "pid", pid)
			_ = process.Kill()
		}
	}
}
