package cmd

import (
	"errors"
	"os"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/smazurov/frontman/internal/apps"
	"github.com/smazurov/frontman/internal/config"
	"github.com/smazurov/frontman/internal/console"
	"github.com/smazurov/frontman/internal/events"
	"github.com/smazurov/frontman/internal/launcher"
	"github.com/smazurov/frontman/internal/process"
)

// CreateStartCmd creates the start command.
func CreateStartCmd() *cobra.Command {
	opts := &Options{}

	cmd := &cobra.Command{
		Use:   "start [directory...]",
		Short: "Start serving web applications",
		Long: `Starts the web server for the application in the current directory, for each ` +
			`application directory given, or for every application found directly below the given ` +
			`directories. Runs in the foreground until interrupted unless --daemonize is set.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStart(cmd, args, opts)
		},
	}
	addCommonFlags(cmd.Flags(), opts)
	addStartFlags(cmd.Flags(), opts)
	return cmd
}

func runStart(cmd *cobra.Command, args []string, opts *Options) error {
	if err := loadOptions(cmd, opts); err != nil {
		return failf(cmd, "*** ERROR: %v", err)
	}
	if (cmd.Flags().Changed("address") || cmd.Flags().Changed("port")) && opts.Socket != "" {
		return failf(cmd, "You cannot specify both --address/--port and --socket. Please choose either one.")
	}

	settings := opts.Settings(args)
	if opts.Config != "" {
		if _, err := os.Stat(opts.Config); err == nil {
			settings.ConfigFile = opts.Config
			settings.LoadDefaults = reloadDefaults(cmd, *opts)
		}
	}

	ctx, trap := launcher.TrapSignals(cmd.Context())
	defer trap.Stop()

	l := launcher.New(settings, console.New(cmd.OutOrStdout()), events.New())
	err := l.Run(ctx)

	var (
		portErr    *launcher.PrivilegedPortError
		runningErr *process.AlreadyRunningError
		timeoutErr *process.StartTimeoutError
		optionErr  *apps.DisallowedOptionError
	)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, launcher.ErrInterrupted):
		return exitWith(interruptedExitCode(trap.Received()))
	case errors.Is(err, launcher.ErrServerExited):
		return exitWith(ExitFailure)
	case errors.As(err, &portErr):
		return failf(cmd, "%s", portErr.Suggestion(commandLine(cmd, args)))
	case errors.As(err, &runningErr):
		return failf(cmd, "*** ERROR: frontman is already running on PID %d.", runningErr.PID)
	case errors.As(err, &timeoutErr):
		return failf(cmd, "*** ERROR: could not start the web server:\n%v", timeoutErr)
	case errors.As(err, &optionErr):
		return failf(cmd, "*** ERROR: %v", optionErr)
	case errors.Is(err, launcher.ErrNoApps):
		return failf(cmd, "*** ERROR: no web applications found. Run frontman inside an application directory or pass application directories as arguments.")
	default:
		return failf(cmd, "*** ERROR: %v", err)
	}
}

// interruptedExitCode is 2 for an operator interrupt (SIGINT, SIGTERM or a cancelled
// context) and 1 for any other signal that ended the run.
func interruptedExitCode(sig os.Signal) int {
	switch sig {
	case nil, os.Interrupt, syscall.SIGTERM:
		return ExitInterrupted
	}
	return ExitFailure
}

// commandLine rebuilds the start arguments as given: every flag set on the command line
// followed by the directory arguments.
func commandLine(cmd *cobra.Command, args []string) []string {
	var line []string
	cmd.Flags().Visit(func(f *pflag.Flag) {
		if f.Name == "user" {
			return
		}
		line = append(line, process.QuoteArg("--"+f.Name+"="+f.Value.String()))
	})
	return append(line, args...)
}

// reloadDefaults re-reads the configuration file into a copy of opts so that flags given on
// the command line keep their precedence.
func reloadDefaults(cmd *cobra.Command, opts Options) func(string) (apps.Settings, error) {
	return func(path string) (apps.Settings, error) {
		fresh := opts
		fresh.Config = path
		if err := config.LoadConfig(&fresh, cmd); err != nil {
			return apps.Settings{}, err
		}
		return fresh.AppDefaults(), nil
	}
}
