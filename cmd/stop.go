package cmd

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/smazurov/frontman/internal/console"
	"github.com/smazurov/frontman/internal/events"
	"github.com/smazurov/frontman/internal/launcher"
	"github.com/smazurov/frontman/internal/process"
)

// stopGrace covers the kill confirmation after the graceful stop timeout.
const stopGrace = 10 * time.Second

// CreateStopCmd creates the stop command.
func CreateStopCmd() *cobra.Command {
	opts := &Options{}

	cmd := &cobra.Command{
		Use:   "stop [directory]",
		Short: "Stop a running web server",
		Long: `Stops the web server started by "frontman start" with the same directory, address, ` +
			`port and socket options. The PID file is located the same way start creates it.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStop(cmd, args, opts)
		},
	}
	addCommonFlags(cmd.Flags(), opts)
	return cmd
}

func runStop(cmd *cobra.Command, args []string, opts *Options) error {
	if err := loadOptions(cmd, opts); err != nil {
		return failf(cmd, "*** ERROR: %v", err)
	}

	l := launcher.New(opts.Settings(args), console.New(cmd.OutOrStdout()), events.New())
	sup, err := l.Attach()
	if err != nil {
		return failf(cmd, "*** ERROR: %v", err)
	}
	pidFile := l.Locations().PIDFile
	pid, _ := sup.Handle().ReadPID()

	ctx, cancel := context.WithTimeout(cmd.Context(), l.Settings().StopTimeout+stopGrace)
	defer cancel()
	if err := sup.Stop(ctx); err != nil {
		if errors.Is(err, process.ErrNotRunning) {
			return failf(cmd, "frontman is not running (PID file %s).", pidFile)
		}
		return failf(cmd, "*** ERROR: could not stop the web server: %v", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Stopped web server (PID %d).\n", pid)
	return nil
}
