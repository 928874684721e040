package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/opencode-ai/opencode-lsp/internal/app"
	"github.com/opencode-ai/opencode-lsp/internal/config"
	"github.com/opencode-ai/opencode-lsp/internal/logging"
	"github.com/opencode-ai/opencode-lsp/internal/version"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "opencode-lsp",
	Short: "Language server diagnostics for AI coding tools",
	Long: `opencode-lsp discovers, starts and talks to the language servers of a project
and reports their diagnostics. It is the LSP subsystem of OpenCode, usable on its own:
servers are detected from PATH and configured through the "lsp" section of .opencode.json.`,
	Example: `
  # Diagnostics for a file
  opencode-lsp diagnostics main.go

  # Same, as JSON, after starting every server the project needs
  opencode-lsp diagnostics --scan -f json src/app.ts src/util.ts

  # Run with debug logging in a specific directory
  opencode-lsp -d -c /path/to/project scan

  # List known servers and disable one for this project
  opencode-lsp servers
  opencode-lsp servers disable pyright

  # Print version
  opencode-lsp -v
  `,
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Flag("version").Changed {
			fmt.Fprintln(cmd.OutOrStdout(), version.Version)
			return nil
		}
		return cmd.Help()
	},
}

// withApp loads the configuration, builds the application context and runs
// fn with a context cancelled on SIGINT or SIGTERM. A second signal forces
// shutdown.
func withApp(cmd *cobra.Command, fn func(ctx context.Context, a *app.App) error) error {
	debug, _ := cmd.Flags().GetBool("debug")
	cwd, _ := cmd.Flags().GetString("cwd")

	if cwd != "" {
		if err := os.Chdir(cwd); err != nil {
			return fmt.Errorf("failed to change directory: %v", err)
		}
	}
	wd, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("failed to get current working directory: %v", err)
	}

	cfg, err := config.Load(wd, debug)
	if err != nil {
		return err
	}

	a, err := app.New(cfg)
	if err != nil {
		logging.Error("Failed to create app", "error", err)
		return err
	}

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	if !cfg.Debug && !cfg.DebugLSP {
		go printWarnings(logging.Subscribe(ctx), cmd.ErrOrStderr())
	}

	signals := make(chan os.Signal, 2)
	signal.Notify(signals, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(signals)
	done := make(chan struct{})
	defer close(done)
	go func() {
		defer logging.RecoverPanic("signal-handler", nil)
		select {
		case <-signals:
		case <-done:
			return
		}
		logging.Info("Interrupted, shutting down")
		cancel()
		select {
		case <-signals:
			a.ForceShutdown()
			os.Exit(1)
		case <-done:
		}
	}()

	err = fn(ctx, a)
	cancel()
	a.Shutdown()
	return err
}

// printWarnings echoes warnings and errors recorded by the in-memory log to
// w. Debug runs already log to stderr.
func printWarnings(messages <-chan logging.LogMessage, w io.Writer) {
	for msg := range messages {
		if msg.Level != "warn" && msg.Level != "error" {
			continue
		}
		var b strings.Builder
		fmt.Fprintf(&b, "%s: %s", strings.ToUpper(msg.Level), msg.Message)
		for _, attr := range msg.Attributes {
			if attr.Key == "source" {
				continue
			}
			fmt.Fprintf(&b, " %s=%s", attr.Key, attr.Value)
		}
		fmt.Fprintln(w, b.String())
	}
}

func Execute() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.Flags().BoolP("version", "v", false, "Version")
	rootCmd.PersistentFlags().BoolP("debug", "d", false, "Debug")
	rootCmd.PersistentFlags().StringP("cwd", "c", "", "Current working directory")

	rootCmd.AddCommand(diagnosticsCmd, scanCmd, serversCmd, watchCmd)
}
