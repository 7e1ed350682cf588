package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/smazurov/frontman/internal/version"
)

// CreateVersionCmd creates the version command.
func CreateVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			info := version.Get()
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, info.String())
			fmt.Fprintf(out, "  Built:      %s\n", info.BuildDate)
			fmt.Fprintf(out, "  Go version: %s\n", info.GoVersion)
		},
	}
}
