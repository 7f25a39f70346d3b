package version

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/aiku/chatrelay/cmd/chatrelay/internal"
)

func NewVersionCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "version",
		Aliases: []string{"v"},
		Short:   "Show version information",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			build, goVer := internal.FormatBuildInfo()
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "chatrelay %s\n", internal.FormatVersion())
			fmt.Fprintf(out, "  Build: %s\n", build)
			fmt.Fprintf(out, "  Go: %s\n", goVer)
			return nil
		},
	}

	return cmd
}
