package process

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"slices"
	"sync"
	"syscall"
	"time"

	"golang.org/x/sys/unix"

	"github.com/smazurov/frontman/internal/apps"
	"github.com/smazurov/frontman/internal/logging"
)

// Supervisor manages the lifecycle of one external server process.
type Supervisor struct {
	cfg           Config
	handle        *Handle
	materializer  Materializer
	logger        logging.Logger
	onPhaseChange PhaseChangeCallback
	onReload      ReloadCallback

	pollInterval time.Duration
	killTimeout  time.Duration
	holdTimeout  time.Duration

	mu sync.Mutex // serializes Start, Stop and Reload

	stateMu     sync.RWMutex
	phase       Phase
	phaseSince  time.Time
	targets     []apps.Target
	pid         int
	startedAt   time.Time
	reloadCount int
	lastErr     error
}

// New creates a supervisor. Nothing is spawned until Start.
func New(cfg Config, opts *Options) (*Supervisor, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid supervisor config: %w", err)
	}
	if opts == nil || opts.Materializer == nil {
		return nil, errors.New("materializer is required")
	}

	logger := opts.Logger
	if logger == nil {
		logger = logging.GetLogger("supervisor")
	}

	return &Supervisor{
		cfg:           cfg,
		handle:        NewHandle(cfg.PIDFile),
		materializer:  opts.Materializer,
		logger:        logger,
		onPhaseChange: opts.OnPhaseChange,
		onReload:      opts.OnReload,
		pollInterval:  defaultPollInterval,
		killTimeout:   defaultKillTimeout,
		holdTimeout:   defaultHoldTimeout,
		phase:         PhaseNotStarted,
		phaseSince:    time.Now(),
		targets:       slices.Clone(opts.Targets),
	}, nil
}

// Identifier returns the configured identifier.
func (s *Supervisor) Identifier() string {
	return s.cfg.Identifier
}

// Handle returns the PID file handle.
func (s *Supervisor) Handle() *Handle {
	return s.handle
}

// Phase returns the current lifecycle phase.
func (s *Supervisor) Phase() Phase {
	s.stateMu.RLock()
	defer s.stateMu.RUnlock()
	return s.phase
}

// Targets returns the application set last handed to the materializer.
func (s *Supervisor) Targets() []apps.Target {
	s.stateMu.RLock()
	defer s.stateMu.RUnlock()
	return slices.Clone(s.targets)
}

// Info returns the recorded state without probing.
func (s *Supervisor) Info() Info {
	s.stateMu.RLock()
	defer s.stateMu.RUnlock()
	return Info{
		Identifier:  s.cfg.Identifier,
		Phase:       s.phase,
		PID:         s.pid,
		StartedAt:   s.startedAt,
		ReloadCount: s.reloadCount,
		LastError:   s.lastErr,
	}
}

// Status probes the PID file and ping target and reconciles the phase with what it finds.
// A reachable server found while not started, stopped or crashed is adopted as running.
func (s *Supervisor) Status(ctx context.Context) Info {
	pid, alive := s.handle.Alive()
	reachable := Probe(ctx, s.cfg.Ping, probeTimeout)

	switch phase := s.Phase(); {
	case alive && reachable && (phase == PhaseNotStarted || phase == PhaseStopped || phase == PhaseCrashed):
		s.stateMu.Lock()
		s.pid = pid
		s.stateMu.Unlock()
		s.setPhase(PhaseRunning, nil)
	case !alive && phase == PhaseRunning:
		s.setPhase(PhaseCrashed, nil)
	}

	info := s.Info()
	info.Alive = alive
	info.Reachable = reachable
	if alive {
		info.PID = pid
	}
	return info
}

// Start materializes the configuration, launches the server and waits until it is reachable.
// If a live process owns the PID file and the ping target answers, AlreadyRunningError is
// returned and nothing is spawned.
func (s *Supervisor) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	artifact, err := s.materializer.Materialize(s.Targets())
	if err != nil {
		err = &ConfigMaterializationError{Identifier: s.cfg.Identifier, Cause: err}
		s.recordError(err)
		return err
	}

	if pid, alive := s.handle.Alive(); alive && Probe(ctx, s.cfg.Ping, probeTimeout) {
		return &AlreadyRunningError{Identifier: s.cfg.Identifier, PID: pid}
	}

	began := time.Now()
	s.setPhase(PhaseStarting, nil)

	cmd, exited, err := s.spawn()
	if err != nil {
		s.setPhase(PhaseCrashed, err)
		return err
	}
	s.logger.Info("Server launched",
		"identifier", s.cfg.Identifier,
		"pid", cmd.Process.Pid,
		"config", artifact,
		"ping", s.cfg.Ping.String())

	if err := s.waitUntilReachable(ctx, exited); err != nil {
		// Our direct child is of no use once start failed; a daemonized server is left alone.
		_ = cmd.Process.Kill()
		s.setPhase(PhaseCrashed, err)
		return err
	}

	pid, err := s.handle.ReadPID()
	if err != nil {
		s.logger.Warn("Server is reachable but its PID file is unreadable",
			"pid_file", s.cfg.PIDFile, "error", err)
		pid = cmd.Process.Pid
	}

	s.stateMu.Lock()
	s.pid = pid
	s.startedAt = time.Now()
	s.stateMu.Unlock()
	s.setPhase(PhaseRunning, nil)

	s.logger.Info("Server is ready",
		"identifier", s.cfg.Identifier,
		"pid", pid,
		"took", time.Since(began).Round(time.Millisecond))
	return nil
}

// spawn launches the start command in its own session with output appended to the log file.
// The returned channel receives the result of Wait, so the child never lingers as a zombie.
func (s *Supervisor) spawn() (*exec.Cmd, <-chan error, error) {
	args, err := parseCommand(s.cfg.StartCommand)
	if err != nil {
		return nil, nil, &SpawnError{Command: s.cfg.StartCommand, Cause: err}
	}

	if err := os.MkdirAll(filepath.Dir(s.cfg.LogFile), 0o755); err != nil {
		return nil, nil, &SpawnError{Command: s.cfg.StartCommand, Cause: err}
	}
	logFile, err := os.OpenFile(s.cfg.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, nil, &SpawnError{Command: s.cfg.StartCommand, Cause: fmt.Errorf("open log file: %w", err)}
	}
	defer logFile.Close()

	cmd := exec.Command(args[0], args[1:]...)
	cmd.Stdout = logFile
	cmd.Stderr = logFile
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}

	if err := cmd.Start(); err != nil {
		return nil, nil, &SpawnError{Command: s.cfg.StartCommand, Cause: err}
	}

	exited := make(chan error, 1)
	go func() {
		exited <- cmd.Wait()
	}()
	return cmd, exited, nil
}

// waitUntilReachable polls the ping target until it answers or the start timeout elapses.
// A clean exit of the launched command means the server daemonized; polling continues.
func (s *Supervisor) waitUntilReachable(ctx context.Context, exited <-chan error) error {
	probeCtx, cancel := context.WithTimeout(ctx, s.cfg.StartTimeout)
	defer cancel()

	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	for {
		if Probe(probeCtx, s.cfg.Ping, probeTimeout) {
			return nil
		}

		select {
		case <-probeCtx.Done():
			if err := ctx.Err(); err != nil {
				return err
			}
			return &StartTimeoutError{
				Identifier:     s.cfg.Identifier,
				Timeout:        s.cfg.StartTimeout,
				CapturedOutput: tailFile(s.cfg.LogFile, capturedLines),
			}
		case err := <-exited:
			exited = nil
			if err != nil {
				return &StartTimeoutError{
					Identifier:     s.cfg.Identifier,
					Timeout:        s.cfg.StartTimeout,
					ExitErr:        err,
					CapturedOutput: tailFile(s.cfg.LogFile, capturedLines),
				}
			}
			s.logger.Debug("Launch command exited cleanly, waiting for daemonized server")
		case <-ticker.C:
		}
	}
}

// Stop sends SIGTERM to the PID in the PID file and waits for it to disappear, escalating to
// SIGKILL after the stop timeout. Cancelling ctx escalates immediately.
func (s *Supervisor) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	pid, err := s.handle.ReadPID()
	if err != nil {
		return &NotRunningError{Identifier: s.cfg.Identifier, Reason: "PID file unavailable", Cause: err}
	}
	if !IsAlive(pid) {
		return &NotRunningError{Identifier: s.cfg.Identifier, PID: pid, Reason: "process not found"}
	}

	prev := s.setPhase(PhaseStopping, nil)
	s.logger.Info("Stopping server", "identifier", s.cfg.Identifier, "pid", pid)

	if err := SendSignal(pid, StopSignal); err != nil && !errors.Is(err, unix.ESRCH) {
		s.setPhase(prev, err)
		return err
	}

	if !waitForExit(ctx, pid, s.cfg.StopTimeout, s.pollInterval) {
		s.logger.Warn("Server did not stop gracefully, sending SIGKILL",
			"identifier", s.cfg.Identifier, "pid", pid, "timeout", s.cfg.StopTimeout)
		if err := SendSignal(pid, KillSignal); err != nil && !errors.Is(err, unix.ESRCH) {
			s.setPhase(prev, err)
			return err
		}
		if !waitForExit(context.Background(), pid, s.killTimeout, s.pollInterval) {
			err := fmt.Errorf("%w: PID %d survived SIGKILL", ErrStopTimeout, pid)
			s.setPhase(prev, err)
			return err
		}
	}

	s.removeArtifact()

	s.stateMu.Lock()
	s.pid = 0
	s.stateMu.Unlock()
	s.setPhase(PhaseStopped, nil)

	s.logger.Info("Server stopped", "identifier", s.cfg.Identifier, "pid", pid)
	return nil
}

// Reload replaces the application set, rewrites the configuration artifact in place and sends
// SIGHUP. Delivery of the signal is the only confirmation; the reload itself is not verified.
func (s *Supervisor) Reload(targets []apps.Target) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch phase := s.Phase(); phase {
	case PhaseStopping, PhaseStopped, PhaseCrashed:
		return &NotRunningError{Identifier: s.cfg.Identifier, Reason: "server is " + string(phase)}
	}

	pid, alive := s.handle.Alive()
	if !alive {
		return &NotRunningError{Identifier: s.cfg.Identifier, PID: pid, Reason: "process not found"}
	}

	if _, err := s.materializer.Materialize(targets); err != nil {
		err = &ConfigMaterializationError{Identifier: s.cfg.Identifier, Cause: err}
		s.recordError(err)
		s.notifyReload(targets, err)
		return err
	}
	s.stateMu.Lock()
	s.targets = slices.Clone(targets)
	s.stateMu.Unlock()

	if err := SendSignal(pid, ReloadSignal); err != nil {
		s.recordError(err)
		s.notifyReload(targets, err)
		return err
	}

	s.stateMu.Lock()
	s.pid = pid
	s.reloadCount++
	s.stateMu.Unlock()

	s.logger.Info("Server reloaded",
		"identifier", s.cfg.Identifier,
		"pid", pid,
		"apps", len(targets))
	s.notifyReload(targets, nil)
	return nil
}

// WaitUntilExited blocks until the server stops accepting connections or ctx is cancelled.
// The server is not our child, so exit is detected by holding a connection open and treating
// refusal as proof the listener is gone. Detection latency is up to the server's idle timeout.
func (s *Supervisor) WaitUntilExited(ctx context.Context) ExitReason {
	for {
		switch s.Phase() {
		case PhaseStopped, PhaseCrashed:
			return ExitReasonExited
		}
		if ctx.Err() != nil {
			return ExitReasonInterrupted
		}

		gone := s.holdConnection(ctx)
		if ctx.Err() != nil {
			return ExitReasonInterrupted
		}
		if gone {
			s.markExited()
			return ExitReasonExited
		}
	}
}

// holdConnection connects to the ping target and reads until the server closes the connection.
// It reports whether the server is gone.
func (s *Supervisor) holdConnection(ctx context.Context) bool {
	d := net.Dialer{Timeout: probeTimeout}
	conn, err := d.DialContext(ctx, s.cfg.Ping.Network(), s.cfg.Ping.Address())
	if err != nil {
		if isConnectionGone(err) {
			return true
		}
		if pid, err := s.handle.ReadPID(); err == nil && !IsAlive(pid) {
			return true
		}
		sleepContext(ctx, s.pollInterval)
		return false
	}
	defer conn.Close()

	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	_ = conn.SetReadDeadline(time.Now().Add(s.holdTimeout))
	held := time.Now()
	_, _ = io.Copy(io.Discard, conn)
	if time.Since(held) < s.pollInterval {
		sleepContext(ctx, s.pollInterval)
	}
	return false
}

func (s *Supervisor) markExited() {
	switch s.Phase() {
	case PhaseNotStarted, PhaseStarting, PhaseRunning:
		s.logger.Warn("Server exited", "identifier", s.cfg.Identifier, "ping", s.cfg.Ping.String())
		s.setPhase(PhaseCrashed, nil)
	}
}

// setPhase records a transition and returns the previous phase.
func (s *Supervisor) setPhase(phase Phase, err error) Phase {
	s.stateMu.Lock()
	old := s.phase
	elapsed := time.Since(s.phaseSince)
	if err != nil {
		s.lastErr = err
	}
	if old == phase {
		s.stateMu.Unlock()
		return old
	}
	s.phase = phase
	s.phaseSince = time.Now()
	callback := s.onPhaseChange
	s.stateMu.Unlock()

	s.logger.Debug("Phase changed",
		"identifier", s.cfg.Identifier,
		"from", old,
		"to", phase)
	if callback != nil {
		callback(s.cfg.Identifier, old, phase, elapsed, err)
	}
	return old
}

func (s *Supervisor) recordError(err error) {
	s.stateMu.Lock()
	s.lastErr = err
	s.stateMu.Unlock()
}

func (s *Supervisor) notifyReload(targets []apps.Target, err error) {
	if s.onReload != nil {
		s.onReload(s.cfg.Identifier, slices.Clone(targets), err)
	}
}

func (s *Supervisor) removeArtifact() {
	if err := s.materializer.Remove(); err != nil {
		s.logger.Warn("Failed to remove server configuration", "identifier", s.cfg.Identifier, "error", err)
	}
}

func sleepContext(ctx context.Context, d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}
