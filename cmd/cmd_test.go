package cmd

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"syscall"
	"testing"

	"github.com/spf13/cobra"

	"github.com/smazurov/frontman/internal/config"
	"github.com/smazurov/frontman/internal/launcher"
	"github.com/smazurov/frontman/internal/version"
)

func execute(t *testing.T, args ...string) (int, string, string) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	code := run(context.Background(), args, &stdout, &stderr)
	return code, stdout.String(), stderr.String()
}

func TestOptionFieldsHaveFlags(t *testing.T) {
	start := CreateStartCmd()
	typ := reflect.TypeOf(Options{})
	for i := range typ.NumField() {
		name := config.FlagName(typ.Field(i).Name)
		if start.Flags().Lookup(name) == nil {
			t.Errorf("field %s has no --%s flag on start", typ.Field(i).Name, name)
		}
	}
}

func TestStopAndStatusShareLocationFlags(t *testing.T) {
	stop, status := CreateStopCmd(), CreateStatusCmd()
	for _, name := range []string{"address", "port", "ping-port", "socket", "pid-file", "log-file", "config"} {
		if stop.Flags().Lookup(name) == nil {
			t.Errorf("stop lacks --%s", name)
		}
		if status.Flags().Lookup(name) == nil {
			t.Errorf("status lacks --%s", name)
		}
	}
}

func TestVersionCommand(t *testing.T) {
	code, out, _ := execute(t, "version")
	if code != ExitOK {
		t.Fatalf("exit code = %d, want %d", code, ExitOK)
	}
	if !strings.Contains(out, version.Get().String()) {
		t.Errorf("output %q lacks version line", out)
	}
}

func TestStatusNotRunning(t *testing.T) {
	dir := t.TempDir()
	code, out, _ := execute(t, "status", "--config", "", "--port", "4123", dir)
	if code != ExitNotRunning {
		t.Fatalf("exit code = %d, want %d", code, ExitNotRunning)
	}
	if want := filepath.Join(dir, "frontman.4123.pid"); !strings.Contains(out, want) {
		t.Errorf("output %q does not name %s", out, want)
	}
}

func TestStopNotRunning(t *testing.T) {
	dir := t.TempDir()
	code, _, errOut := execute(t, "stop", "--config", "", "--socket", filepath.Join(dir, "web.sock"), dir)
	if code != ExitFailure {
		t.Fatalf("exit code = %d, want %d", code, ExitFailure)
	}
	if want := filepath.Join(dir, "frontman.pid"); !strings.Contains(errOut, want) {
		t.Errorf("stderr %q does not name %s", errOut, want)
	}
}

func TestStartRejectsPortWithSocket(t *testing.T) {
	code, _, errOut := execute(t, "start", "--config", "", "--port", "4000", "--socket", "/tmp/web.sock")
	if code != ExitFailure {
		t.Fatalf("exit code = %d, want %d", code, ExitFailure)
	}
	if !strings.Contains(errOut, "--socket") {
		t.Errorf("stderr = %q", errOut)
	}
}

func TestStartNoApps(t *testing.T) {
	dir := t.TempDir()
	code, _, errOut := execute(t, "start", "--config", "", "--port", "4124", "--temp-dir", t.TempDir(), dir)
	if code != ExitFailure {
		t.Fatalf("exit code = %d, want %d", code, ExitFailure)
	}
	if !strings.Contains(errOut, "no web applications found") {
		t.Errorf("stderr = %q", errOut)
	}
}

func TestStartRejectsGlobalOptionInApp(t *testing.T) {
	dir := t.TempDir()
	app := filepath.Join(dir, "blog")
	if err := os.MkdirAll(app, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(app, "config.ru"), nil, 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(app, "frontman.toml"), []byte("port = 80\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	code, _, errOut := execute(t, "start", "--config", "", "--port", "4125", "--temp-dir", t.TempDir(), dir)
	if code != ExitFailure {
		t.Fatalf("exit code = %d, want %d", code, ExitFailure)
	}
	if !strings.Contains(errOut, "'port' option may not be set") {
		t.Errorf("stderr = %q", errOut)
	}
}

func TestLoadOptionsPrecedence(t *testing.T) {
	conf := filepath.Join(t.TempDir(), "config.toml")
	content := "port = 5000\naddress = \"10.0.0.1\"\nenvironment = \"staging\"\n[logging]\nlevel = \"debug\"\n"
	if err := os.WriteFile(conf, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("FRONTMAN_ADDRESS", "10.0.0.2")

	opts := &Options{}
	cmd := &cobra.Command{Use: "start"}
	addCommonFlags(cmd.Flags(), opts)
	addStartFlags(cmd.Flags(), opts)
	if err := cmd.Flags().Parse([]string{"--config", conf, "--environment", "production"}); err != nil {
		t.Fatal(err)
	}

	if err := loadOptions(cmd, opts); err != nil {
		t.Fatalf("loadOptions() error = %v", err)
	}
	if opts.Port != 5000 {
		t.Errorf("Port = %d, want 5000 from file", opts.Port)
	}
	if opts.Address != "10.0.0.2" {
		t.Errorf("Address = %q, want env value", opts.Address)
	}
	if opts.Environment != "production" {
		t.Errorf("Environment = %q, want flag value", opts.Environment)
	}
	if opts.LoggingLevel != "debug" {
		t.Errorf("LoggingLevel = %q, want debug from file", opts.LoggingLevel)
	}
}

func TestPrivilegedPortSuggestionKeepsFlags(t *testing.T) {
	start := CreateStartCmd()
	if err := start.ParseFlags([]string{"-p", "80", "--daemonize", "--user", "me", "--server-bin", "nginx -g x", "/srv"}); err != nil {
		t.Fatal(err)
	}

	line := commandLine(start, start.Flags().Args())
	got := (&launcher.PrivilegedPortError{Port: 80, User: "me"}).Suggestion(line)

	want := "sudo frontman start --daemonize=true --port=80 '--server-bin=nginx -g x' /srv --user=me"
	if !strings.Contains(got, want) {
		t.Errorf("suggestion lacks %q:\n%s", want, got)
	}
}

func TestInterruptedExitCode(t *testing.T) {
	tests := []struct {
		sig  os.Signal
		want int
	}{
		{nil, ExitInterrupted},
		{os.Interrupt, ExitInterrupted},
		{syscall.SIGTERM, ExitInterrupted},
		{syscall.SIGHUP, ExitFailure},
		{syscall.SIGQUIT, ExitFailure},
	}
	for _, tt := range tests {
		if got := interruptedExitCode(tt.sig); got != tt.want {
			t.Errorf("interruptedExitCode(%v) = %d, want %d", tt.sig, got, tt.want)
		}
	}
}
