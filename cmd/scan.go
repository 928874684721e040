package cmd

import (
	"context"
	"fmt"
	"strings"

	"github.com/opencode-ai/opencode-lsp/internal/app"
	"github.com/opencode-ai/opencode-lsp/internal/format"
	"github.com/opencode-ai/opencode-lsp/internal/lsp"
	"github.com/spf13/cobra"
)

type scanReport struct {
	Root             string             `json:"root"`
	Providers        []lsp.ProviderInfo `json:"providers"`
	ConnectionErrors map[string]string  `json:"connectionErrors,omitempty"`
	Metrics          []app.MetricSample `json:"metrics,omitempty"`
}

var scanCmd = &cobra.Command{
	Use:   "scan [dir]",
	Short: "Start the language servers a project needs",
	Long: `Walk the project, start every language server whose files or root markers
are found and report which servers came up.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		outputFormat, err := outputFormatFlag(cmd)
		if err != nil {
			return err
		}

		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			root := a.Config.WorkingDirectory()
			if len(args) > 0 {
				root = args[0]
			}
			if err := a.LSP.ScanProject(ctx, root); err != nil {
				return err
			}
			metrics, err := a.Metrics(ctx)
			if err != nil {
				return err
			}
			report := scanReport{
				Root:             root,
				Providers:        a.LSP.Providers(),
				ConnectionErrors: a.LSP.ConnectionErrors(),
				Metrics:          metrics,
			}
			return format.Render(cmd.OutOrStdout(), outputFormat, report, report.text)
		})
	},
}

func (r scanReport) text() string {
	var b strings.Builder
	if len(r.Providers) == 0 {
		fmt.Fprintf(&b, "No language servers started for %s\n", r.Root)
	}
	for _, p := range r.Providers {
		fmt.Fprintf(&b, "%-14s %-12s %s (%s)\n", p.ID, p.State, p.Key.Root, p.Transport)
	}
	b.WriteString(connectionErrorsText(r.ConnectionErrors))
	return b.String()
}

func init() {
	addOutputFormatFlag(scanCmd)
}
