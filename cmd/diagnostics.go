package cmd

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/opencode-ai/opencode-lsp/internal/app"
	"github.com/opencode-ai/opencode-lsp/internal/format"
	"github.com/opencode-ai/opencode-lsp/internal/lsp"
	"github.com/spf13/cobra"
)

type diagnosticsReport struct {
	Files            []app.FileDiagnostics `json:"files"`
	ConnectionErrors map[string]string     `json:"connectionErrors,omitempty"`
}

var diagnosticsCmd = &cobra.Command{
	Use:   "diagnostics <file>...",
	Short: "Print the language server diagnostics of files",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		outputFormat, err := outputFormatFlag(cmd)
		if err != nil {
			return err
		}
		scan, _ := cmd.Flags().GetBool("scan")

		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			if scan {
				if err := a.LSP.EnsureScanned(ctx, ""); err != nil {
					return err
				}
			}
			report := diagnosticsReport{
				Files:            a.Diagnose(ctx, args),
				ConnectionErrors: a.LSP.ConnectionErrors(),
			}
			return format.Render(cmd.OutOrStdout(), outputFormat, report, func() string {
				return report.text()
			})
		})
	},
}

func (r diagnosticsReport) text() string {
	var b strings.Builder
	for _, f := range r.Files {
		if out := lsp.FormatDiagnostics(f.Path, f.Diagnostics); out != "" {
			b.WriteString(strings.TrimPrefix(out, "\n"))
			continue
		}
		fmt.Fprintf(&b, "%s: no diagnostics\n", f.Path)
	}
	b.WriteString(connectionErrorsText(r.ConnectionErrors))
	return b.String()
}

func connectionErrorsText(errs map[string]string) string {
	if len(errs) == 0 {
		return ""
	}
	ids := make([]string, 0, len(errs))
	for id := range errs {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var b strings.Builder
	b.WriteString("\nLanguage servers that failed to start:\n")
	for _, id := range ids {
		fmt.Fprintf(&b, "  %s: %s\n", id, errs[id])
	}
	return b.String()
}

func outputFormatFlag(cmd *cobra.Command) (format.OutputFormat, error) {
	value, _ := cmd.Flags().GetString("output-format")
	f, err := format.Parse(value)
	if err != nil {
		return "", fmt.Errorf("invalid format option: %s\n%s", value, format.GetHelpText())
	}
	return f, nil
}

func addOutputFormatFlag(cmd *cobra.Command) {
	cmd.Flags().StringP("output-format", "f", format.Text.String(), "Output format (text, json)")
	cmd.RegisterFlagCompletionFunc("output-format", func(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
		return format.SupportedFormats, cobra.ShellCompDirectiveNoFileComp
	})
}

func init() {
	addOutputFormatFlag(diagnosticsCmd)
	diagnosticsCmd.Flags().Bool("scan", false, "Start every server the project needs before validating")
}
