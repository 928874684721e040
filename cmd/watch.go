package cmd

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/opencode-ai/opencode-lsp/internal/app"
	"github.com/opencode-ai/opencode-lsp/internal/format"
	"github.com/opencode-ai/opencode-lsp/internal/lsp"
	"github.com/spf13/cobra"
)

var watchCmd = &cobra.Command{
	Use:   "watch [dir]",
	Short: "Print diagnostics as project files change",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		outputFormat, err := outputFormatFlag(cmd)
		if err != nil {
			return err
		}
		scan, _ := cmd.Flags().GetBool("scan")

		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			root := ""
			if len(args) > 0 {
				root = args[0]
			}
			if scan {
				a.ScanInBackground(ctx)
			}

			var mu sync.Mutex
			out := cmd.OutOrStdout()
			err := a.Watch(ctx, root, func(path string, diagnostics []lsp.Diagnostic) {
				mu.Lock()
				defer mu.Unlock()
				result := app.FileDiagnostics{Path: path, Diagnostics: diagnostics}
				format.Render(out, outputFormat, result, func() string {
					if text := lsp.FormatDiagnostics(path, diagnostics); text != "" {
						return text
					}
					return fmt.Sprintf("%s: no diagnostics", path)
				})
			})
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		})
	},
}

func init() {
	addOutputFormatFlag(watchCmd)
	watchCmd.Flags().Bool("scan", true, "Start the working directory's language servers in the background")
}
