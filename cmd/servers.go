package cmd

import (
	"context"
	"fmt"
	"strings"

	"github.com/opencode-ai/opencode-lsp/internal/app"
	"github.com/opencode-ai/opencode-lsp/internal/format"
	"github.com/spf13/cobra"
)

var serversCmd = &cobra.Command{
	Use:   "servers [dir]",
	Short: "List known language servers and their state",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		outputFormat, err := outputFormatFlag(cmd)
		if err != nil {
			return err
		}

		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			root := ""
			if len(args) > 0 {
				root = args[0]
			}
			servers := a.Servers(root)
			return format.Render(cmd.OutOrStdout(), outputFormat, servers, func() string {
				return serversText(servers)
			})
		})
	},
}

func serversText(servers []app.ServerStatus) string {
	var b strings.Builder
	for _, s := range servers {
		fmt.Fprintf(&b, "%-14s %-14s", s.ID, s.State)
		if s.Command != "" {
			fmt.Fprintf(&b, " %s", s.Command)
		}
		if len(s.Extensions) > 0 {
			fmt.Fprintf(&b, " [%s]", strings.Join(s.Extensions, " "))
		}
		if s.Error != "" {
			fmt.Fprintf(&b, " %s", s.Error)
		}
		b.WriteString("\n")
	}
	return b.String()
}

func toggleServerCmd(enabled bool) *cobra.Command {
	use, short := "enable <id>", "Re-enable a language server for this project"
	if !enabled {
		use, short = "disable <id>", "Disable a language server for this project"
	}
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app.App) error {
				path, err := a.SetServerEnabled(ctx, "", args[0], enabled)
				if err != nil {
					return err
				}
				verb := "Enabled"
				if !enabled {
					verb = "Disabled"
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s %s in %s\n", verb, args[0], path)
				return nil
			})
		},
	}
}

var installServerCmd = &cobra.Command{
	Use:   "install <id>",
	Short: "Install a built-in language server",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			path, err := a.InstallServer(ctx, args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Installed %s at %s\n", args[0], path)
			return nil
		})
	},
}

func init() {
	addOutputFormatFlag(serversCmd)
	serversCmd.AddCommand(toggleServerCmd(true), toggleServerCmd(false), installServerCmd)
}
