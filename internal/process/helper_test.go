package process

import (
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/smazurov/frontman/internal/apps"
)

const helperEnv = "FRONTMAN_TEST_HELPER"

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// TestHelperProcess is not a real test. It is re-executed by the supervisor tests as a
// stand-in web server: go test -run=^TestHelperProcess$ -- <mode> <addr> <dir>
func TestHelperProcess(t *testing.T) {
	if os.Getenv(helperEnv) != "1" {
		return
	}

	args := os.Args
	for len(args) > 0 && args[0] != "--" {
		args = args[1:]
	}
	if len(args) < 4 {
		fmt.Fprintln(os.Stderr, "usage: -- <mode> <addr> <dir>")
		os.Exit(2)
	}
	mode, addr, dir := args[1], args[2], args[3]

	switch mode {
	case "fail":
		fmt.Fprintln(os.Stderr, "boom: cannot bind")
		os.Exit(3)
	case "daemonize":
		cmd := exec.Command(os.Args[0], "-test.run=^TestHelperProcess$", "--", "serve", addr, dir)
		cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
		if err := cmd.Start(); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		os.Exit(0)
	case "serve", "ignore-term":
		runHelperServer(mode, addr, dir)
	default:
		fmt.Fprintf(os.Stderr, "unknown mode %q\n", mode)
		os.Exit(2)
	}
}

func runHelperServer(mode, addr, dir string) {
	appendLine(filepath.Join(dir, "spawns"), strconv.Itoa(os.Getpid()))

	sigs := make(chan os.Signal, 4)
	signal.Notify(sigs, syscall.SIGHUP, syscall.SIGTERM)
	if mode == "ignore-term" {
		signal.Ignore(syscall.SIGTERM)
	}

	pidFile := filepath.Join(dir, "server.pid")
	if err := os.WriteFile(pidFile, []byte(strconv.Itoa(os.Getpid())+"\n"), 0o644); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			// Idle connections are closed quickly, like a server keepalive timeout.
			time.AfterFunc(200*time.Millisecond, func() { _ = conn.Close() })
		}
	}()

	for sig := range sigs {
		switch sig {
		case syscall.SIGHUP:
			appendLine(filepath.Join(dir, "hups"), "hup")
		case syscall.SIGTERM:
			_ = ln.Close()
			_ = os.Remove(pidFile)
			os.Exit(0)
		}
	}
}

func appendLine(path, line string) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return
	}
	defer f.Close()
	_, _ = fmt.Fprintln(f, line)
}

// countLines returns the number of lines in path, 0 if it does not exist.
func countLines(t *testing.T, path string) int {
	t.Helper()
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return 0
	}
	if err != nil {
		t.Fatal(err)
	}
	return len(strings.Split(strings.TrimSpace(string(data)), "\n"))
}

// freePort returns a TCP port that was free a moment ago.
func freePort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()
	return ln.Addr().(*net.TCPAddr).Port
}

// eventually polls cond until it holds or the timeout elapses.
func eventually(t *testing.T, timeout time.Duration, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatal(msg)
}

// fakeMaterializer writes the application roots to a fixed path.
type fakeMaterializer struct {
	mu      sync.Mutex
	path    string
	calls   [][]apps.Target
	err     error
	removed int
}

func (m *fakeMaterializer) Materialize(targets []apps.Target) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, targets)
	if m.err != nil {
		return "", m.err
	}
	content := strings.Join(apps.Roots(targets), "\n") + "\n"
	if err := os.WriteFile(m.path, []byte(content), 0o644); err != nil {
		return "", err
	}
	return m.path, nil
}

func (m *fakeMaterializer) Remove() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.removed++
	if err := os.Remove(m.path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

func (m *fakeMaterializer) lastTargets() []apps.Target {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.calls) == 0 {
		return nil
	}
	return m.calls[len(m.calls)-1]
}

type testServer struct {
	sup          *Supervisor
	dir          string
	materializer *fakeMaterializer
	cfg          Config
}

func (ts *testServer) spawns(t *testing.T) int {
	return countLines(t, filepath.Join(ts.dir, "spawns"))
}

func (ts *testServer) hups(t *testing.T) int {
	return countLines(t, filepath.Join(ts.dir, "hups"))
}

// helperConfig returns a Config that launches the helper server in mode.
func helperConfig(t *testing.T, mode string) (Config, string) {
	t.Helper()
	t.Setenv(helperEnv, "1")

	dir := t.TempDir()
	port := freePort(t)
	addr := net.JoinHostPort("127.0.0.1", strconv.Itoa(port))
	command := strings.Join([]string{
		QuoteArg(os.Args[0]), "-test.run=^TestHelperProcess$", "--", mode, addr, QuoteArg(dir),
	}, " ")

	return Config{
		Identifier:   "test-server",
		PIDFile:      filepath.Join(dir, "server.pid"),
		LogFile:      filepath.Join(dir, "server.log"),
		StartCommand: command,
		Ping:         TCPTarget("127.0.0.1", port),
		StartTimeout: 10 * time.Second,
		StopTimeout:  2 * time.Second,
	}, dir
}

func newTestServer(t *testing.T, mode string, opts *Options) *testServer {
	t.Helper()
	cfg, dir := helperConfig(t, mode)
	return newTestServerWithConfig(t, cfg, dir, opts)
}

func newTestServerWithConfig(t *testing.T, cfg Config, dir string, opts *Options) *testServer {
	t.Helper()
	m := &fakeMaterializer{path: filepath.Join(dir, "server.conf")}
	if opts == nil {
		opts = &Options{}
	}
	opts.Materializer = m
	if opts.Logger == nil {
		opts.Logger = testLogger()
	}
	if opts.Targets == nil {
		opts.Targets = []apps.Target{{ServerNames: []string{"_"}, Root: dir}}
	}

	sup, err := New(cfg, opts)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	sup.pollInterval = 20 * time.Millisecond
	sup.killTimeout = 2 * time.Second
	sup.holdTimeout = time.Second

	t.Cleanup(func() {
		if pid, alive := sup.Handle().Alive(); alive {
			_ = SendSignal(pid, KillSignal)
		}
	})
	return &testServer{sup: sup, dir: dir, materializer: m, cfg: cfg}
}
