package launcher

import (
	"context"
	"errors"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"testing"
	"time"

	"github.com/smazurov/frontman/internal/apps"
	"github.com/smazurov/frontman/internal/process"
)

func TestResolveLocations(t *testing.T) {
	never := func(string) bool { return false }

	tests := []struct {
		name    string
		args    []string
		socket  string
		port    int
		wantPID string
		wantLog string
	}{
		{"port in working dir", nil, "", 3000, "frontman.3000.pid", "frontman.3000.log"},
		{"socket in working dir", nil, "/tmp/web.sock", 3000, "frontman.pid", "frontman.log"},
		{"first argument", []string{"sites", "other"}, "", 8080, "sites/frontman.8080.pid", "sites/frontman.8080.log"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			loc, err := ResolveLocations(tt.args, tt.socket, tt.port, never, "", "")
			if err != nil {
				t.Fatalf("ResolveLocations() error = %v", err)
			}
			wantPID, _ := filepath.Abs(tt.wantPID)
			wantLog, _ := filepath.Abs(tt.wantLog)
			if loc.PIDFile != wantPID {
				t.Errorf("PIDFile = %q, want %q", loc.PIDFile, wantPID)
			}
			if loc.LogFile != wantLog {
				t.Errorf("LogFile = %q, want %q", loc.LogFile, wantLog)
			}
		})
	}
}

func TestResolveLocationsInsideApp(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)

	loc, err := ResolveLocations(nil, "", 3000, func(string) bool { return true }, "", "")
	if err != nil {
		t.Fatalf("ResolveLocations() error = %v", err)
	}
	if want := filepath.Join(dir, "tmp", "pids", "frontman.3000.pid"); loc.PIDFile != want {
		t.Errorf("PIDFile = %q, want %q", loc.PIDFile, want)
	}
	if want := filepath.Join(dir, "log", "frontman.3000.log"); loc.LogFile != want {
		t.Errorf("LogFile = %q, want %q", loc.LogFile, want)
	}
	for _, d := range []string{"tmp/pids", "log"} {
		if info, err := os.Stat(filepath.Join(dir, d)); err != nil || !info.IsDir() {
			t.Errorf("%s was not created", d)
		}
	}
}

func TestResolveLocationsOverrides(t *testing.T) {
	loc, err := ResolveLocations(nil, "", 3000, func(string) bool { return false }, "/run/web.pid", "/var/log/web.log")
	if err != nil {
		t.Fatal(err)
	}
	if loc.PIDFile != "/run/web.pid" || loc.LogFile != "/var/log/web.log" {
		t.Errorf("overrides not applied: %+v", loc)
	}
}

func TestListenURL(t *testing.T) {
	tests := []struct {
		address string
		port    int
		socket  string
		want    string
	}{
		{"0.0.0.0", 3000, "", "http://0.0.0.0:3000/"},
		{"example.test", 80, "", "http://example.test/"},
		{"127.0.0.1", 3000, "/tmp/web.sock", "/tmp/web.sock"},
	}
	for _, tt := range tests {
		if got := ListenURL(tt.address, tt.port, tt.socket); got != tt.want {
			t.Errorf("ListenURL(%q, %d, %q) = %q, want %q", tt.address, tt.port, tt.socket, got, tt.want)
		}
	}
}

func TestPingHost(t *testing.T) {
	tests := map[string]string{
		"0.0.0.0":   "127.0.0.1",
		"":          "127.0.0.1",
		"::":        "::1",
		"[::]":      "::1",
		"10.0.0.5":  "10.0.0.5",
		"localhost": "localhost",
	}
	for in, want := range tests {
		if got := pingHost(in); got != want {
			t.Errorf("pingHost(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestDefaultPingPort(t *testing.T) {
	tests := map[int]int{80: 81, 3000: 3001, 65535: 65534}
	for port, want := range tests {
		if got := DefaultPingPort(port); got != want {
			t.Errorf("DefaultPingPort(%d) = %d, want %d", port, got, want)
		}
	}
	if got := (Settings{Port: 8080}).withDefaults().PingPort; got != 8081 {
		t.Errorf("derived PingPort = %d, want 8081", got)
	}
}

func TestAttachPingsDedicatedListener(t *testing.T) {
	settings := testSettings(t, t.TempDir())
	l, _ := newTestLauncher(t, settings)
	if _, err := l.Attach(); err != nil {
		t.Fatalf("Attach() error = %v", err)
	}

	// Only the ping listener answers; the public port stays closed.
	ln, err := net.Listen("tcp", net.JoinHostPort("127.0.0.1", strconv.Itoa(settings.PingPort)))
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()
	pidFile := l.Locations().PIDFile
	if err := os.WriteFile(pidFile, []byte(strconv.Itoa(os.Getpid())+"\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	// The PID file names this test process; it must be gone before the launcher cleanup kills it.
	t.Cleanup(func() { _ = os.Remove(pidFile) })

	if info := l.sup.Status(context.Background()); !info.Reachable {
		t.Errorf("Status() = %+v, want reachable through the ping port", info)
	}
}

func TestPrivilegedPortSuggestion(t *testing.T) {
	err := &PrivilegedPortError{Port: 80, User: "deploy"}
	got := err.Suggestion([]string{"--port", "80", "/srv"})
	if !strings.Contains(got, "sudo frontman start --port 80 /srv --user=deploy") {
		t.Errorf("suggestion missing command line:\n%s", got)
	}
	if !strings.Contains(err.Error(), "port 80") {
		t.Errorf("Error() = %q", err.Error())
	}
}

func TestCheckPortUnprivileged(t *testing.T) {
	if err := CheckPort(8080); err != nil {
		t.Errorf("CheckPort(8080) = %v, want nil", err)
	}
}

func TestSettingsDefaults(t *testing.T) {
	s := Settings{}.withDefaults()
	if s.Address != DefaultAddress || s.Port != DefaultPort || s.ServerBin != DefaultServerBin {
		t.Errorf("listen defaults not applied: %+v", s)
	}
	if s.Defaults != (apps.Settings{Environment: DefaultEnvironment, MaxPoolSize: DefaultMaxPoolSize, MinInstances: DefaultMinInstances}) {
		t.Errorf("app defaults = %+v", s.Defaults)
	}
	if s.StartTimeout != process.DefaultStartTimeout || s.StopTimeout != process.DefaultStopTimeout {
		t.Errorf("timeouts = %s, %s", s.StartTimeout, s.StopTimeout)
	}
}

func TestRunNoApps(t *testing.T) {
	l, _ := newTestLauncher(t, testSettings(t, t.TempDir()))
	if err := l.Run(context.Background()); !errors.Is(err, ErrNoApps) {
		t.Errorf("Run() error = %v, want ErrNoApps", err)
	}
}

// startRun launches Run in the background and waits for the banner.
func startRun(t *testing.T, l *Launcher, out *syncBuffer) (context.CancelFunc, <-chan error) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	done := make(chan error, 1)
	go func() { done <- l.Run(ctx) }()

	deadline := time.After(15 * time.Second)
	for !strings.Contains(out.String(), "web server started") {
		select {
		case err := <-done:
			t.Fatalf("Run() returned early: %v\n%s", err, out.String())
		case <-deadline:
			t.Fatalf("banner not printed:\n%s", out.String())
		case <-time.After(20 * time.Millisecond):
		}
	}
	return cancel, done
}

func waitRun(t *testing.T, done <-chan error) error {
	t.Helper()
	select {
	case err := <-done:
		return err
	case <-time.After(20 * time.Second):
		t.Fatal("Run() did not return")
		return nil
	}
}

func TestRunInterrupted(t *testing.T) {
	dir := t.TempDir()
	makeApp(t, dir, "blog")
	makeApp(t, dir, "shop")

	l, out := newTestLauncher(t, testSettings(t, dir))
	cancel, done := startRun(t, l, out)

	loc := l.Locations()
	pid, alive := process.NewHandle(loc.PIDFile).Alive()
	if !alive {
		t.Fatalf("server not running after start, pid file %s", loc.PIDFile)
	}
	artifact := l.writer.Path()
	conf, err := os.ReadFile(artifact)
	if err != nil {
		t.Errorf("configuration should exist while running: %v", err)
	}
	pingListen := "listen " + net.JoinHostPort("127.0.0.1", strconv.Itoa(l.Settings().PingPort)) + ";"
	if !strings.Contains(string(conf), pingListen) {
		t.Errorf("configuration missing %q:\n%s", pingListen, conf)
	}

	banner := out.String()
	for _, want := range []string{"PID file: " + loc.PIDFile, "Serving these applications on 127.0.0.1", " blog", " shop", "Ctrl-C"} {
		if !strings.Contains(banner, want) {
			t.Errorf("banner missing %q:\n%s", want, banner)
		}
	}

	cancel()
	if err := waitRun(t, done); !errors.Is(err, ErrInterrupted) {
		t.Errorf("Run() error = %v, want ErrInterrupted", err)
	}
	if process.IsAlive(pid) {
		t.Error("server still alive after interruption")
	}
	if _, err := os.Stat(artifact); !os.IsNotExist(err) {
		t.Errorf("configuration not removed: %v", err)
	}
	if !strings.Contains(out.String(), "Stopping web server... done") {
		t.Errorf("stop not reported:\n%s", out.String())
	}
}

func TestRunServerExited(t *testing.T) {
	dir := t.TempDir()
	makeApp(t, dir, "blog")

	l, out := newTestLauncher(t, testSettings(t, dir))
	_, done := startRun(t, l, out)

	if !strings.Contains(out.String(), "Accessible via: http://127.0.0.1:") {
		t.Errorf("single app banner missing URL:\n%s", out.String())
	}

	pid, alive := l.sup.Handle().Alive()
	if !alive {
		t.Fatal("server not running")
	}
	if err := syscall.Kill(pid, syscall.SIGTERM); err != nil {
		t.Fatal(err)
	}

	if err := waitRun(t, done); !errors.Is(err, ErrServerExited) {
		t.Errorf("Run() error = %v, want ErrServerExited", err)
	}
	if got := l.sup.Phase(); got != process.PhaseCrashed {
		t.Errorf("phase = %s, want %s", got, process.PhaseCrashed)
	}
	if !strings.Contains(out.String(), "has exited") {
		t.Errorf("exit not reported:\n%s", out.String())
	}
}

func TestRunReloadsOnDirectoryChange(t *testing.T) {
	dir := t.TempDir()
	makeApp(t, dir, "blog")
	makeApp(t, dir, "shop")

	l, out := newTestLauncher(t, testSettings(t, dir))
	cancel, done := startRun(t, l, out)
	reloads := l.Locations().PIDFile + ".reloads"

	makeApp(t, dir, "wiki")
	eventually(t, 10*time.Second, func() bool { return lastLine(reloads) == "3" },
		"server was not reloaded with three applications")
	eventually(t, 5*time.Second, func() bool { return strings.Contains(out.String(), "Now serving these applications:") },
		"reload not reported")

	if got := len(l.sup.Targets()); got != 3 {
		t.Errorf("targets = %d, want 3", got)
	}

	cancel()
	if err := waitRun(t, done); !errors.Is(err, ErrInterrupted) {
		t.Errorf("Run() error = %v, want ErrInterrupted", err)
	}
}

func TestRunReloadsOnConfigChange(t *testing.T) {
	dir := t.TempDir()
	makeApp(t, dir, "blog")

	confFile := filepath.Join(t.TempDir(), "frontman.toml")
	if err := os.WriteFile(confFile, []byte("environment = \"development\"\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	settings := testSettings(t, dir)
	settings.ConfigFile = confFile
	settings.LoadDefaults = func(string) (apps.Settings, error) {
		return apps.Settings{Environment: "staging"}, nil
	}

	l, out := newTestLauncher(t, settings)
	cancel, done := startRun(t, l, out)
	// Let the config watcher subscribe before the write.
	time.Sleep(200 * time.Millisecond)

	if err := os.WriteFile(confFile, []byte("environment = \"staging\"\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	eventually(t, 10*time.Second, func() bool {
		targets := l.sup.Targets()
		return len(targets) == 1 && targets[0].Settings.Environment == "staging"
	}, "configuration change was not applied")

	cancel()
	if err := waitRun(t, done); !errors.Is(err, ErrInterrupted) {
		t.Errorf("Run() error = %v, want ErrInterrupted", err)
	}
}

func TestRunDaemonizeThenAttach(t *testing.T) {
	dir := t.TempDir()
	makeApp(t, dir, "blog")

	settings := testSettings(t, dir)
	settings.Daemonize = true

	l, out := newTestLauncher(t, settings)
	if err := l.Run(context.Background()); err != nil {
		t.Fatalf("Run() error = %v\n%s", err, out.String())
	}
	if !strings.Contains(out.String(), "Serving in the background as a daemon.") {
		t.Errorf("daemon notice missing:\n%s", out.String())
	}
	pid, alive := l.sup.Handle().Alive()
	if !alive {
		t.Fatal("server should keep running after Run returns")
	}

	other, _ := newTestLauncher(t, settings)
	sup, err := other.Attach()
	if err != nil {
		t.Fatalf("Attach() error = %v", err)
	}
	if got := sup.Status(context.Background()); !got.Alive || got.PID != pid {
		t.Errorf("Status() = %+v, want alive pid %d", got, pid)
	}
	if err := sup.Stop(context.Background()); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if process.IsAlive(pid) {
		t.Error("server still alive after Stop")
	}
}

func TestRunAlreadyRunning(t *testing.T) {
	dir := t.TempDir()
	makeApp(t, dir, "blog")

	settings := testSettings(t, dir)
	settings.Daemonize = true

	first, _ := newTestLauncher(t, settings)
	if err := first.Run(context.Background()); err != nil {
		t.Fatalf("first Run() error = %v", err)
	}

	second, _ := newTestLauncher(t, settings)
	err := second.Run(context.Background())
	var running *process.AlreadyRunningError
	if !errors.As(err, &running) {
		t.Fatalf("second Run() error = %v, want AlreadyRunningError", err)
	}
	if pid, _ := first.sup.Handle().Alive(); running.PID != pid {
		t.Errorf("AlreadyRunningError.PID = %d, want %d", running.PID, pid)
	}

	if err := first.sup.Stop(context.Background()); err != nil {
		t.Errorf("Stop() error = %v", err)
	}
}
