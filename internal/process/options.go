package process

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/smazurov/frontman/internal/apps"
	"github.com/smazurov/frontman/internal/logging"
)

// Defaults for the timing knobs.
const (
	DefaultStartTimeout = 25 * time.Second
	DefaultStopTimeout  = 10 * time.Second

	defaultKillTimeout  = 5 * time.Second
	defaultPollInterval = 100 * time.Millisecond
	defaultHoldTimeout  = 30 * time.Second
	probeTimeout        = time.Second
)

// Config is the immutable description of one supervised server.
type Config struct {
	// Identifier names the server in logs and errors.
	Identifier string
	// PIDFile is written by the server and read by the supervisor.
	PIDFile string
	// LogFile receives the launched command's stdout and stderr.
	LogFile string
	// StartCommand is the complete command line used to launch the server.
	StartCommand string
	// Ping is where the server accepts connections once ready.
	Ping PingTarget
	// StartTimeout bounds how long Start waits for Ping to become reachable.
	StartTimeout time.Duration
	// StopTimeout bounds the graceful phase of Stop before SIGKILL.
	StopTimeout time.Duration
}

// Validate checks the invariants of Config.
func (c Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.Identifier) == "" {
		errs = append(errs, errors.New("identifier is required"))
	}
	if !filepath.IsAbs(c.PIDFile) {
		errs = append(errs, fmt.Errorf("PID file path %q must be absolute", c.PIDFile))
	}
	if !filepath.IsAbs(c.LogFile) {
		errs = append(errs, fmt.Errorf("log file path %q must be absolute", c.LogFile))
	}
	if strings.TrimSpace(c.StartCommand) == "" {
		errs = append(errs, errors.New("start command is required"))
	}
	if err := c.Ping.Validate(); err != nil {
		errs = append(errs, err)
	}
	if c.StartTimeout <= 0 {
		errs = append(errs, fmt.Errorf("start timeout must be positive, got %s", c.StartTimeout))
	}
	if c.StopTimeout <= 0 {
		errs = append(errs, fmt.Errorf("stop timeout must be positive, got %s", c.StopTimeout))
	}
	return errors.Join(errs...)
}

// Materializer produces the configuration artifact the server reads at launch and on reload.
type Materializer interface {
	// Materialize writes the artifact for targets and returns its path.
	// The path must be the same on every call.
	Materialize(targets []apps.Target) (string, error)
	// Remove deletes the artifact. A missing artifact is not an error.
	Remove() error
}

// PhaseChangeCallback is called after every phase transition.
// elapsed is the time spent in oldPhase; err is the failure that caused the transition, if any.
type PhaseChangeCallback func(identifier string, oldPhase, newPhase Phase, elapsed time.Duration, err error)

// ReloadCallback is called after every reload attempt that got as far as materializing.
type ReloadCallback func(identifier string, targets []apps.Target, err error)

// Options configures a new Supervisor.
type Options struct {
	// Materializer writes the server configuration (required).
	Materializer Materializer

	// Targets is the initial application set.
	Targets []apps.Target

	// OnPhaseChange observes phase transitions (optional).
	OnPhaseChange PhaseChangeCallback

	// OnReload observes reloads (optional).
	OnReload ReloadCallback

	// Logger for supervisor operations. If nil, uses the "supervisor" module logger.
	Logger logging.Logger
}
