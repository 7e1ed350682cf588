// Package launcher runs the start command: it brings the front-end server up for the detected
// applications, keeps its configuration in step with them while it runs, and tears it down
// when the operator interrupts.
package launcher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/smazurov/frontman/internal/apps"
	"github.com/smazurov/frontman/internal/config"
	"github.com/smazurov/frontman/internal/console"
	"github.com/smazurov/frontman/internal/events"
	"github.com/smazurov/frontman/internal/logging"
	"github.com/smazurov/frontman/internal/metrics"
	"github.com/smazurov/frontman/internal/process"
	"github.com/smazurov/frontman/internal/serverconf"
	"github.com/smazurov/frontman/internal/systemd"
	"github.com/smazurov/frontman/internal/watch"
)

var (
	// ErrNoApps is returned when no application directory was found.
	ErrNoApps = errors.New("no web applications found")
	// ErrInterrupted is returned when a signal ended the run and the server was stopped.
	ErrInterrupted = errors.New("interrupted")
	// ErrServerExited is returned when the server went away on its own.
	ErrServerExited = errors.New("web server exited")
)

// How long a failed reload waits for the exit to be observed before reporting it.
const exitGrace = 6 * time.Second

// Defaults applied by New to zero Settings fields.
const (
	DefaultAddress      = "0.0.0.0"
	DefaultPort         = 3000
	DefaultServerBin    = "nginx"
	DefaultEnvironment  = "development"
	DefaultMaxPoolSize  = 6
	DefaultMinInstances = 1
)

// Settings are the resolved options of one start, stop or status invocation.
type Settings struct {
	// Args are the directory arguments.
	Args []string

	Address string
	Port    int
	Socket  string
	// PingPort is the loopback listener the wait loop holds connections on. Zero derives it
	// from Port.
	PingPort int

	// Defaults are the global per-application settings.
	Defaults apps.Settings

	Daemonize bool
	// User is the account the server's workers switch to.
	User string

	// PIDFile and LogFile override the derived locations when set.
	PIDFile string
	LogFile string

	// ServerBin is the server command line; "-c <config>" is appended to it.
	ServerBin string
	// TempDir holds the configuration artifact and the server's scratch directories.
	TempDir string

	StartTimeout time.Duration
	StopTimeout  time.Duration

	// ConfigFile is watched while running; LoadDefaults turns it into new application defaults.
	ConfigFile   string
	LoadDefaults func(path string) (apps.Settings, error)

	// MetricsAddress serves /metrics when non-empty.
	MetricsAddress string

	// WatchInterval is the directory polling interval.
	WatchInterval time.Duration
}

func (s Settings) withDefaults() Settings {
	if s.Address == "" {
		s.Address = DefaultAddress
	}
	if s.Port == 0 {
		s.Port = DefaultPort
	}
	if s.PingPort == 0 {
		s.PingPort = DefaultPingPort(s.Port)
	}
	if s.ServerBin == "" {
		s.ServerBin = DefaultServerBin
	}
	if s.TempDir == "" {
		s.TempDir = os.TempDir()
	}
	if s.StartTimeout <= 0 {
		s.StartTimeout = process.DefaultStartTimeout
	}
	if s.StopTimeout <= 0 {
		s.StopTimeout = process.DefaultStopTimeout
	}
	if s.WatchInterval <= 0 {
		s.WatchInterval = watch.DefaultInterval
	}
	if s.Defaults.Environment == "" {
		s.Defaults.Environment = DefaultEnvironment
	}
	if s.Defaults.MaxPoolSize <= 0 {
		s.Defaults.MaxPoolSize = DefaultMaxPoolSize
	}
	if s.Defaults.MinInstances <= 0 {
		s.Defaults.MinInstances = DefaultMinInstances
	}
	return s
}

// Launcher coordinates one supervised server with its watchers, log tailers and notifiers.
type Launcher struct {
	settings Settings
	console  *console.Console
	bus      *events.Bus
	notifier *systemd.Notifier
	logger   *slog.Logger

	mu       sync.Mutex
	detector *apps.Detector

	loc    Locations
	writer *serverconf.Writer
	sup    *process.Supervisor
	exited chan struct{}
}

// New creates a launcher. Nothing touches the filesystem until Run or Attach.
func New(settings Settings, c *console.Console, bus *events.Bus) *Launcher {
	settings = settings.withDefaults()
	logger := logging.GetLogger("launcher")
	return &Launcher{
		settings: settings,
		console:  c,
		bus:      bus,
		notifier: systemd.NewNotifier(logging.GetLogger("systemd")),
		logger:   logger,
		detector: apps.NewDetector(settings.Defaults),
		exited:   make(chan struct{}),
	}
}

// Settings returns the settings with defaults applied.
func (l *Launcher) Settings() Settings {
	return l.settings
}

// Locations returns the resolved PID and log files. Valid after Run or Attach.
func (l *Launcher) Locations() Locations {
	return l.loc
}

// Attach builds a supervisor for an instance started earlier with the same settings.
// It is what stop and status operate on.
func (l *Launcher) Attach() (*process.Supervisor, error) {
	if err := l.setup(nil); err != nil {
		return nil, err
	}
	return l.sup, nil
}

// Run starts the server and, unless daemonizing, supervises it until it exits or ctx is
// cancelled. Cancellation stops the server and returns ErrInterrupted. A panic after the
// server came up stops it before propagating.
func (l *Launcher) Run(ctx context.Context) error {
	targets, err := l.detect()
	if err != nil {
		return err
	}
	if len(targets) == 0 {
		return ErrNoApps
	}
	if l.settings.Socket == "" {
		if err := CheckPort(l.settings.Port); err != nil {
			return err
		}
	}
	if err := l.setup(targets); err != nil {
		return err
	}
	defer func() {
		if err := l.writer.Remove(); err != nil {
			l.logger.Warn("Failed to remove server configuration", "error", err)
		}
	}()

	unsubMetrics := metrics.Subscribe(l.bus)
	defer unsubMetrics()
	unsubLog := l.bus.Subscribe(func(e events.PhaseChangedEvent) {
		l.logger.Info("Server phase changed", "identifier", e.Identifier, "from", e.From, "to", e.To, "elapsed", e.Elapsed)
	})
	defer unsubLog()

	if err := l.sup.Start(ctx); err != nil {
		if ctx.Err() != nil {
			// The launch command may already have daemonized; its PID file is the only handle.
			var running *process.AlreadyRunningError
			if !errors.As(err, &running) {
				if _, alive := l.sup.Handle().Alive(); alive {
					l.stop()
				}
			}
			return errors.Join(ErrInterrupted, err)
		}
		return err
	}
	defer func() {
		if r := recover(); r != nil {
			l.stop()
			panic(r)
		}
	}()

	info := l.sup.Info()
	l.console.Block(func(w io.Writer) { l.writeBanner(w, info.PID, targets) })
	if l.settings.Daemonize {
		return nil
	}
	l.notifier.Ready(info.PID)

	loopCtx, cancelLoops := context.WithCancel(ctx)
	defer cancelLoops()
	g, gctx := errgroup.WithContext(loopCtx)
	l.startLoops(gctx, g, targets)

	reason := l.sup.WaitUntilExited(ctx)
	close(l.exited)

	if reason == process.ExitReasonInterrupted {
		cancelLoops()
		_ = g.Wait()
		l.stop()
		return ErrInterrupted
	}

	l.console.Println("*** The web server has exited.")
	cancelLoops()
	_ = g.Wait()
	return ErrServerExited
}

func (l *Launcher) stop() {
	l.notifier.Stopping()
	stopCtx, cancel := context.WithTimeout(context.Background(), l.settings.StopTimeout+10*time.Second)
	defer cancel()

	var err error
	l.console.Block(func(w io.Writer) {
		fmt.Fprint(w, "Stopping web server...")
		err = l.sup.Stop(stopCtx)
		if err != nil {
			fmt.Fprintln(w, " failed")
			return
		}
		fmt.Fprintln(w, " done")
	})
	if err != nil && !errors.Is(err, process.ErrNotRunning) {
		l.logger.Error("Failed to stop web server", "error", err)
	}
}

func (l *Launcher) startLoops(ctx context.Context, g *errgroup.Group, targets []apps.Target) {
	g.Go(func() error { return l.notifier.Run(ctx) })

	if len(targets) > 1 {
		dirs := slices.Sorted(slices.Values(l.settings.Args))
		if len(dirs) == 0 {
			dirs = []string{"."}
		}
		w := watch.NewDirWatcher(dirs, l.detect, l, logging.GetLogger("watch"), watch.WithInterval(l.settings.WatchInterval))
		g.Go(func() error {
			err := w.Run(ctx)
			if errors.Is(err, process.ErrNotRunning) {
				l.reloadFailedNotRunning(err)
			}
			return nil
		})
	}

	if l.settings.ConfigFile != "" && l.settings.LoadDefaults != nil {
		cw := config.NewConfigWatcher(l.settings.ConfigFile, l.settings.LoadDefaults, logging.GetLogger("config"))
		cw.OnReload(l.applyDefaults)
		g.Go(func() error {
			if err := cw.Run(ctx); err != nil {
				l.logger.Warn("Not watching configuration file", "path", l.settings.ConfigFile, "error", err)
			}
			return nil
		})
	}

	for _, t := range targets {
		prefix := ""
		if len(targets) > 1 && len(t.ServerNames) > 0 {
			prefix = "[" + t.ServerNames[0] + "] "
		}
		path := filepath.Join(t.Root, "log", t.Settings.Environment+".log")
		tailer := console.NewTailer(path, prefix, l.console, logging.GetLogger("console"))
		g.Go(func() error { return tailer.Run(ctx) })
	}

	if l.settings.MetricsAddress != "" {
		l.serveMetrics(ctx, g)
	}
}

func (l *Launcher) serveMetrics(ctx context.Context, g *errgroup.Group) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	srv := &http.Server{
		Addr:              l.settings.MetricsAddress,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	g.Go(func() error {
		l.logger.Info("Serving metrics", "address", l.settings.MetricsAddress)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			l.logger.Error("Metrics server failed", "error", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			l.logger.Warn("Metrics server shutdown failed", "error", err)
		}
		return nil
	})
}

// reloadFailedNotRunning reports a reload that found no server, unless the wait loop
// confirms the exit shortly after.
func (l *Launcher) reloadFailedNotRunning(err error) {
	select {
	case <-l.exited:
	case <-time.After(exitGrace):
		l.logger.Error("Unable to reload the web server", "error", err)
	}
}

func (l *Launcher) applyDefaults(defaults apps.Settings) {
	l.mu.Lock()
	if defaults.Environment == "" {
		defaults.Environment = l.settings.Defaults.Environment
	}
	if defaults.MinInstances <= 0 {
		defaults.MinInstances = l.settings.Defaults.MinInstances
	}
	defaults.MaxPoolSize = l.settings.Defaults.MaxPoolSize
	l.detector.Defaults = defaults
	l.mu.Unlock()

	targets, err := l.detect()
	if err != nil {
		l.logger.Error("Failed to detect applications", "error", err)
		return
	}
	if len(targets) == 0 {
		l.logger.Warn("No applications found, keeping the current configuration")
		return
	}
	if err := l.Reload(targets); err != nil {
		l.logger.Error("Failed to apply configuration change", "error", err)
	}
}

// Reload applies a new target set to the running server and prints what it now serves.
func (l *Launcher) Reload(targets []apps.Target) error {
	l.notifier.Reloading()
	if err := l.sup.Reload(targets); err != nil {
		if !errors.Is(err, process.ErrNotRunning) {
			l.notifier.Reloaded(len(l.sup.Targets()))
		}
		return err
	}
	l.console.Block(func(w io.Writer) {
		fmt.Fprintf(w, "*** %s: redeploying applications ***\n", time.Now().Format(time.DateTime))
		writeNowServing(w, targets)
	})
	l.notifier.Reloaded(len(targets))
	return nil
}

func (l *Launcher) detect() ([]apps.Target, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.detector.Detect(l.settings.Args)
}

func (l *Launcher) setup(targets []apps.Target) error {
	s := l.settings
	loc, err := ResolveLocations(s.Args, s.Socket, s.Port, l.detector.LooksLikeApp, s.PIDFile, s.LogFile)
	if err != nil {
		return err
	}
	l.loc = loc

	tempDir, err := filepath.Abs(s.TempDir)
	if err != nil {
		return fmt.Errorf("failed to resolve %s: %w", s.TempDir, err)
	}
	scratch := filepath.Join(tempDir, "frontman")
	if targets != nil {
		if err := os.MkdirAll(scratch, 0o755); err != nil {
			return fmt.Errorf("failed to create %s: %w", scratch, err)
		}
	}

	user := s.User
	if os.Geteuid() != 0 {
		user = ""
	}
	writer, err := serverconf.NewWriter(serverconf.ArtifactPath(tempDir, os.Getpid()), serverconf.Params{
		PIDFile:     loc.PIDFile,
		ErrorLog:    loc.LogFile,
		Address:     s.Address,
		Port:        s.Port,
		PingAddress: pingHost(s.Address),
		PingPort:    s.PingPort,
		SocketFile:  s.Socket,
		User:        user,
		TempDir:     scratch,
		Environment: s.Defaults.Environment,
		MaxPoolSize: s.Defaults.MaxPoolSize,
	})
	if err != nil {
		return err
	}
	l.writer = writer

	ping := process.TCPTarget(pingHost(s.Address), s.PingPort)
	if s.Socket != "" {
		socket, err := filepath.Abs(s.Socket)
		if err != nil {
			return fmt.Errorf("failed to resolve %s: %w", s.Socket, err)
		}
		ping = process.UnixTarget(socket)
	}

	cfg := process.Config{
		Identifier:   strings.TrimSuffix(filepath.Base(loc.PIDFile), ".pid"),
		PIDFile:      loc.PIDFile,
		LogFile:      loc.LogFile,
		StartCommand: s.ServerBin + " -c " + process.QuoteArg(writer.Path()),
		Ping:         ping,
		StartTimeout: s.StartTimeout,
		StopTimeout:  s.StopTimeout,
	}
	sup, err := process.New(cfg, &process.Options{
		Materializer:  writer,
		Targets:       targets,
		OnPhaseChange: l.onPhaseChange,
		OnReload:      l.onReload,
		Logger:        logging.GetLogger("supervisor"),
	})
	if err != nil {
		return err
	}
	l.sup = sup
	return nil
}

func (l *Launcher) onPhaseChange(identifier string, from, to process.Phase, elapsed time.Duration, err error) {
	ev := events.PhaseChangedEvent{
		Identifier: identifier,
		From:       string(from),
		To:         string(to),
		Elapsed:    elapsed,
		Timestamp:  time.Now(),
	}
	if err != nil {
		ev.Error = err.Error()
	}
	l.bus.Publish(ev)

	if from == process.PhaseRunning && to == process.PhaseCrashed {
		l.bus.Publish(events.ProcessExitedEvent{
			Identifier: identifier,
			PID:        l.sup.Info().PID,
			Timestamp:  time.Now(),
		})
	}
}

func (l *Launcher) onReload(identifier string, targets []apps.Target, err error) {
	ev := events.ReloadedEvent{
		Identifier: identifier,
		Roots:      apps.Roots(targets),
		Timestamp:  time.Now(),
	}
	if err != nil {
		ev.Error = err.Error()
	}
	l.bus.Publish(ev)
}

// DefaultPingPort is the ping listener port used for port: the next one up, or the one below
// for the highest port.
func DefaultPingPort(port int) int {
	if port >= 65535 {
		return port - 1
	}
	return port + 1
}

// pingHost maps wildcard listen addresses to a loopback address that can be dialed.
func pingHost(address string) string {
	switch address {
	case "", "0.0.0.0":
		return "127.0.0.1"
	case "::", "[::]":
		return "::1"
	}
	if ip := net.ParseIP(strings.Trim(address, "[]")); ip != nil {
		return ip.String()
	}
	return address
}
