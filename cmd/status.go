package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/smazurov/frontman/internal/console"
	"github.com/smazurov/frontman/internal/events"
	"github.com/smazurov/frontman/internal/launcher"
	"github.com/smazurov/frontman/internal/process"
)

// CreateStatusCmd creates the status command.
func CreateStatusCmd() *cobra.Command {
	opts := &Options{}

	cmd := &cobra.Command{
		Use:   "status [directory]",
		Short: "Show whether a web server is running",
		Long:  `Reports the state of the web server located like "frontman stop" does. Exits with status 3 when it is not running.`,
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatus(cmd, args, opts)
		},
	}
	addCommonFlags(cmd.Flags(), opts)
	return cmd
}

func runStatus(cmd *cobra.Command, args []string, opts *Options) error {
	if err := loadOptions(cmd, opts); err != nil {
		return failf(cmd, "*** ERROR: %v", err)
	}

	l := launcher.New(opts.Settings(args), console.New(cmd.OutOrStdout()), events.New())
	sup, err := l.Attach()
	if err != nil {
		return failf(cmd, "*** ERROR: %v", err)
	}

	out := cmd.OutOrStdout()
	info := sup.Status(cmd.Context())
	if !info.Alive {
		fmt.Fprintf(out, "frontman is not running (PID file %s).\n", l.Locations().PIDFile)
		return exitWith(ExitNotRunning)
	}

	proc := process.GetProcessInfo(info.PID)
	fmt.Fprintf(out, "frontman is running on PID %d.\n", info.PID)
	fmt.Fprintf(out, "  PID file:   %s\n", l.Locations().PIDFile)
	fmt.Fprintf(out, "  Log file:   %s\n", l.Locations().LogFile)
	if proc.Name != "" {
		fmt.Fprintf(out, "  Process:    %s\n", proc.Name)
	}
	if proc.Command != "" {
		fmt.Fprintf(out, "  Command:    %s\n", proc.Command)
	}
	if !proc.StartedAt.IsZero() {
		fmt.Fprintf(out, "  Uptime:     %s\n", time.Since(proc.StartedAt).Round(time.Second))
	}
	fmt.Fprintf(out, "  Reachable:  %t (%s)\n", info.Reachable, sup.Info().Identifier)
	return nil
}
