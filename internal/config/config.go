// Package config manages application configuration from various sources.
package config

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/opencode-ai/opencode-lsp/internal/logging"
	"github.com/spf13/viper"
)

// Data defines storage configuration.
type Data struct {
	Directory string `json:"directory,omitempty"`
}

// LSPTimeouts holds the timing knobs of the LSP subsystem, in milliseconds.
type LSPTimeouts struct {
	Request       int `json:"request,omitempty"`
	Diagnostics   int `json:"diagnostics,omitempty"`
	StartupSettle int `json:"startupSettle,omitempty"`
	TCPConnect    int `json:"tcpConnect,omitempty"`
	TCPRetries    int `json:"tcpRetries,omitempty"`
	TCPRetryDelay int `json:"tcpRetryDelay,omitempty"`
}

func (t LSPTimeouts) RequestTimeout() time.Duration {
	return time.Duration(t.Request) * time.Millisecond
}

func (t LSPTimeouts) DiagnosticsTimeout() time.Duration {
	return time.Duration(t.Diagnostics) * time.Millisecond
}

func (t LSPTimeouts) StartupSettleDelay() time.Duration {
	return time.Duration(t.StartupSettle) * time.Millisecond
}

func (t LSPTimeouts) TCPConnectTimeout() time.Duration {
	return time.Duration(t.TCPConnect) * time.Millisecond
}

func (t LSPTimeouts) TCPRetryInterval() time.Duration {
	return time.Duration(t.TCPRetryDelay) * time.Millisecond
}

// ScanConfig controls the project scan that pre-warms language servers.
type ScanConfig struct {
	MaxDepth int      `json:"maxDepth,omitempty"`
	Ignore   []string `json:"ignore,omitempty"` // doublestar globs relative to the project root
}

// Config is the main configuration structure for the application.
type Config struct {
	Data        Data        `json:"data"`
	WorkingDir  string      `json:"wd,omitempty"`
	Debug       bool        `json:"debug,omitempty"`
	DebugLSP    bool        `json:"debugLSP,omitempty"`
	DisableLSP  bool        `json:"disableLSP,omitempty"`
	InstallRoot string      `json:"installRoot,omitempty"`
	LSPTimeouts LSPTimeouts `json:"lspTimeouts"`
	Scan        ScanConfig  `json:"scan"`
	ConfigTTL   int         `json:"configTTL,omitempty"` // ms, built-in server list cache
}

// ConfigCacheTTL is how long the detected built-in server list stays cached.
func (c *Config) ConfigCacheTTL() time.Duration {
	return time.Duration(c.ConfigTTL) * time.Millisecond
}

// Application constants
const (
	defaultDataDirectory = ".opencode"
	defaultLogLevel      = "info"
	appName              = "opencode"

	defaultRequestTimeoutMs     = 30_000
	defaultDiagnosticsTimeoutMs = 30_000
	defaultStartupSettleMs      = 200
	defaultTCPConnectMs         = 5_000
	defaultTCPRetries           = 3
	defaultTCPRetryDelayMs      = 1_000
	defaultScanDepth            = 6
	defaultConfigTTLMs          = 10_000
)

// Configurator exposes the parts of the configuration other packages need in tests.
type Configurator interface {
	WorkingDirectory() string
}

// Global configuration instance
var cfg *Config

// Reset clears the global configuration, allowing Load to be called again.
// This is intended for use in tests only.
func Reset() {
	cfg = nil
	viper.Reset()
}

// Load initializes the configuration from environment variables and config files.
// If debug is true, debug mode is enabled and log level is set to debug.
// It returns an error if configuration loading fails.
func Load(workingDir string, debug bool) (*Config, error) {
	if cfg != nil {
		return cfg, nil
	}

	cfg = &Config{
		WorkingDir: workingDir,
	}

	configureViper()
	setDefaults(debug)

	// Read global config
	if err := readConfig(viper.ReadInConfig()); err != nil {
		return cfg, err
	}

	// Load and merge local config
	mergeLocalConfig(workingDir)

	// Apply configuration to the struct
	if err := viper.Unmarshal(cfg); err != nil {
		return cfg, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := setupLogging(); err != nil {
		return cfg, err
	}

	// Validate configuration
	if err := Validate(); err != nil {
		return cfg, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// setupLogging installs the default slog logger. OPENCODE_DEV_DEBUG logs to a
// file in the data directory, --debug and debugLSP log to stderr, and
// everything else goes to the in-memory writer.
func setupLogging() error {
	defaultLevel := slog.LevelInfo
	if cfg.Debug || cfg.DebugLSP {
		defaultLevel = slog.LevelDebug
	}

	var out io.Writer = logging.NewWriter()
	switch {
	case os.Getenv("OPENCODE_DEV_DEBUG") == "true":
		loggingFile := filepath.Join(cfg.Data.Directory, "debug.log")
		if err := os.MkdirAll(cfg.Data.Directory, 0o755); err != nil {
			return fmt.Errorf("failed to create directory: %w", err)
		}
		f, err := os.OpenFile(loggingFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o666)
		if err != nil {
			return fmt.Errorf("failed to open log file: %w", err)
		}
		logging.PanicDir = cfg.Data.Directory
		out = f
	case cfg.Debug || cfg.DebugLSP:
		out = os.Stderr
	}

	logger := slog.New(slog.NewTextHandler(out, &slog.HandlerOptions{
		Level: defaultLevel,
	}))
	slog.SetDefault(logger)
	return nil
}

// configureViper sets up viper's configuration paths and environment variables.
func configureViper() {
	viper.SetConfigName(fmt.Sprintf(".%s", appName))
	viper.SetConfigType("json")
	viper.AddConfigPath("$HOME")
	viper.AddConfigPath(fmt.Sprintf("$XDG_CONFIG_HOME/%s", appName))
	viper.AddConfigPath(fmt.Sprintf("$HOME/.config/%s", appName))
	viper.SetEnvPrefix(strings.ToUpper(appName))
	viper.AutomaticEnv()
}

// setDefaults configures default values for configuration options.
func setDefaults(debug bool) {
	viper.SetDefault("data.directory", defaultDataDirectory)

	viper.SetDefault("lspTimeouts.request", defaultRequestTimeoutMs)
	viper.SetDefault("lspTimeouts.diagnostics", defaultDiagnosticsTimeoutMs)
	viper.SetDefault("lspTimeouts.startupSettle", defaultStartupSettleMs)
	viper.SetDefault("lspTimeouts.tcpConnect", defaultTCPConnectMs)
	viper.SetDefault("lspTimeouts.tcpRetries", defaultTCPRetries)
	viper.SetDefault("lspTimeouts.tcpRetryDelay", defaultTCPRetryDelayMs)
	viper.SetDefault("scan.maxDepth", defaultScanDepth)
	viper.SetDefault("configTTL", defaultConfigTTLMs)

	// Environment switches understood by the LSP subsystem
	if isTruthy(os.Getenv("OPENCODE_DISABLE_LSP")) {
		viper.Set("disableLSP", true)
	}
	if isTruthy(os.Getenv("OPENCODE_DEBUG_LSP")) {
		viper.Set("debugLSP", true)
	}
	if root := os.Getenv("OPENCODE_INSTALL_ROOT"); root != "" {
		viper.Set("installRoot", root)
	}

	if debug {
		viper.SetDefault("debug", true)
		viper.Set("log.level", "debug")
	} else {
		viper.SetDefault("debug", false)
		viper.SetDefault("log.level", defaultLogLevel)
	}
}

func isTruthy(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes", "on":
		return true
	}
	return false
}

// readConfig handles the result of reading a configuration file.
func readConfig(err error) error {
	if err == nil {
		return nil
	}

	// It's okay if the config file doesn't exist
	if _, ok := err.(viper.ConfigFileNotFoundError); ok {
		return nil
	}

	return fmt.Errorf("failed to read config: %w", err)
}

// mergeLocalConfig loads and merges configuration from the local directory.
func mergeLocalConfig(workingDir string) {
	local := viper.New()
	local.SetConfigName(fmt.Sprintf(".%s", appName))
	local.SetConfigType("json")
	local.AddConfigPath(workingDir)

	// Merge local config if it exists
	if err := local.ReadInConfig(); err == nil {
		viper.MergeConfigMap(local.AllSettings())
	}
}

// Validate checks if the configuration is valid and applies defaults where needed.
func Validate() error {
	if cfg == nil {
		return fmt.Errorf("config not loaded")
	}

	t := &cfg.LSPTimeouts
	fixNonPositive(&t.Request, defaultRequestTimeoutMs, "lspTimeouts.request")
	fixNonPositive(&t.Diagnostics, defaultDiagnosticsTimeoutMs, "lspTimeouts.diagnostics")
	fixNonPositive(&t.StartupSettle, defaultStartupSettleMs, "lspTimeouts.startupSettle")
	fixNonPositive(&t.TCPConnect, defaultTCPConnectMs, "lspTimeouts.tcpConnect")
	fixNonPositive(&t.TCPRetries, defaultTCPRetries, "lspTimeouts.tcpRetries")
	if t.TCPRetryDelay < 0 {
		t.TCPRetryDelay = defaultTCPRetryDelayMs
	}
	fixNonPositive(&cfg.Scan.MaxDepth, defaultScanDepth, "scan.maxDepth")
	if cfg.ConfigTTL < 0 {
		cfg.ConfigTTL = defaultConfigTTLMs
	}

	valid := cfg.Scan.Ignore[:0]
	for _, pattern := range cfg.Scan.Ignore {
		if !doublestar.ValidatePattern(pattern) {
			logging.Warn("invalid scan ignore pattern, skipping", "pattern", pattern)
			continue
		}
		valid = append(valid, pattern)
	}
	cfg.Scan.Ignore = valid

	return nil
}

func fixNonPositive(v *int, def int, key string) {
	if *v <= 0 {
		if *v < 0 {
			logging.Warn("negative value in configuration, using default", "key", key, "default", def)
		}
		*v = def
	}
}

// Get returns the current configuration.
// It's safe to call this function multiple times.
func Get() *Config {
	return cfg
}

// WorkingDirectory returns the current working directory from the configuration.
func WorkingDirectory() string {
	if cfg == nil {
		panic("config not loaded")
	}
	return cfg.WorkingDir
}

func (c *Config) WorkingDirectory() string {
	return c.WorkingDir
}
