// Package cmd implements the frontman command line.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/smazurov/frontman/internal/config"
	"github.com/smazurov/frontman/internal/logging"
)

// Exit codes.
const (
	ExitOK          = 0
	ExitFailure     = 1
	ExitInterrupted = 2
	// ExitNotRunning follows the LSB status convention.
	ExitNotRunning = 3
)

// exitError carries an exit code. Its message, if any, has already been printed.
type exitError struct {
	code int
}

func (e *exitError) Error() string {
	return fmt.Sprintf("exit status %d", e.code)
}

func exitWith(code int) error {
	return &exitError{code: code}
}

// Execute runs the CLI with the process arguments and returns the exit code.
func Execute() int {
	return run(context.Background(), os.Args[1:], os.Stdout, os.Stderr)
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	root := NewRootCmd()
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)

	err := root.ExecuteContext(ctx)
	if err == nil {
		return ExitOK
	}
	var exit *exitError
	if errors.As(err, &exit) {
		return exit.code
	}
	fmt.Fprintf(stderr, "Error: %v\n", err)
	return ExitFailure
}

// NewRootCmd creates the root command with every subcommand attached.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "frontman",
		Short: "Serve local web applications through a supervised front-end web server",
		Long: `frontman generates a configuration for a pre-built web server, starts it, keeps its ` +
			`configuration in step with the served application directories and stops it again.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(
		CreateStartCmd(),
		CreateStopCmd(),
		CreateStatusCmd(),
		CreateVersionCmd(),
	)
	return root
}

// loadOptions applies the configuration file and FRONTMAN_* variables under the flags that
// were set explicitly, then initializes logging from the result.
func loadOptions(cmd *cobra.Command, opts *Options) error {
	if !cmd.Flags().Changed("config") {
		if path, ok := os.LookupEnv(config.EnvPrefix + "CONFIG"); ok && path != "" {
			opts.Config = path
		}
	}
	if err := config.LoadConfig(opts, cmd); err != nil {
		return err
	}

	loggingConfig := config.LoadLoggingConfig(opts.Config)
	loggingConfig.Level = opts.LoggingLevel
	loggingConfig.Format = opts.LoggingFormat
	logging.Initialize(loggingConfig)
	return nil
}

// failf prints an operator-facing error and returns the failure exit code.
func failf(cmd *cobra.Command, format string, a ...any) error {
	fmt.Fprintf(cmd.ErrOrStderr(), format+"\n", a...)
	return exitWith(ExitFailure)
}
