// Package serverconf renders the front-end server's configuration file from the served applications.
package serverconf

import (
	_ "embed"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"sync"
	"text/template"

	"github.com/smazurov/frontman/internal/apps"
)

//go:embed server.conf.tmpl
var serverTemplate string

// Params are the server-wide settings rendered into every configuration.
type Params struct {
	PIDFile  string
	ErrorLog string

	// Address and Port are used unless SocketFile is set.
	Address    string
	Port       int
	SocketFile string

	// PingAddress and PingPort add a loopback listener for liveness probes on TCP. Held
	// connections there never occupy the public port.
	PingAddress string
	PingPort    int

	// User is the account worker processes run as; empty keeps the current user.
	User    string
	TempDir string

	// Environment is the fallback for targets without one.
	Environment string
	MaxPoolSize int
}

// Listen returns the value of the listen directive.
func (p Params) Listen() string {
	if p.SocketFile != "" {
		return "unix:" + p.SocketFile
	}
	return p.Address + ":" + strconv.Itoa(p.Port)
}

// PingListen returns the listen directive of the ping server, or "" when there is none.
func (p Params) PingListen() string {
	if p.SocketFile != "" || p.PingPort == 0 {
		return ""
	}
	host := p.PingAddress
	if host == "" {
		host = "127.0.0.1"
	}
	return net.JoinHostPort(host, strconv.Itoa(p.PingPort))
}

// ArtifactPath returns the configuration path owned by the process with the given PID.
func ArtifactPath(tempDir string, pid int) string {
	return filepath.Join(tempDir, fmt.Sprintf("frontman.%d.conf", pid))
}

type appData struct {
	ServerNames  []string
	Root         string
	Environment  string
	MinInstances int
}

type templateData struct {
	Params
	Apps []appData
}

// Writer renders and writes the configuration artifact at a fixed path.
type Writer struct {
	path   string
	params Params
	tmpl   *template.Template

	mu      sync.Mutex
	targets []apps.Target
}

// NewWriter creates a writer for path.
func NewWriter(path string, params Params) (*Writer, error) {
	if !filepath.IsAbs(path) {
		return nil, fmt.Errorf("config path %q must be absolute", path)
	}
	tmpl, err := template.New("server.conf").Funcs(template.FuncMap{
		"quote":    strconv.Quote,
		"join":     strings.Join,
		"joinPath": func(dir, name string) string { return filepath.Join(dir, name) },
	}).Parse(serverTemplate)
	if err != nil {
		return nil, fmt.Errorf("failed to parse server template: %w", err)
	}
	return &Writer{path: path, params: params, tmpl: tmpl}, nil
}

// Path returns the artifact path.
func (w *Writer) Path() string {
	return w.path
}

// SetTargets replaces the current target set.
func (w *Writer) SetTargets(targets []apps.Target) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.targets = slices.Clone(targets)
}

// Targets returns the current target set.
func (w *Writer) Targets() []apps.Target {
	w.mu.Lock()
	defer w.mu.Unlock()
	return slices.Clone(w.targets)
}

// Render returns the configuration for targets without writing it.
func (w *Writer) Render(targets []apps.Target) ([]byte, error) {
	if len(targets) == 0 {
		return nil, errors.New("no applications to serve")
	}

	data := templateData{Params: w.params}
	for _, t := range targets {
		env := t.Settings.Environment
		if env == "" {
			env = w.params.Environment
		}
		minInstances := t.Settings.MinInstances
		if minInstances <= 0 {
			minInstances = 1
		}
		data.Apps = append(data.Apps, appData{
			ServerNames:  t.ServerNames,
			Root:         t.Root,
			Environment:  env,
			MinInstances: minInstances,
		})
	}

	var b strings.Builder
	if err := w.tmpl.Execute(&b, data); err != nil {
		return nil, fmt.Errorf("failed to render server config: %w", err)
	}
	return []byte(b.String()), nil
}

// Materialize replaces the target set and writes the configuration atomically.
func (w *Writer) Materialize(targets []apps.Target) (string, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	content, err := w.Render(targets)
	if err != nil {
		return "", err
	}
	if err := writeAtomic(w.path, content, 0o644); err != nil {
		return "", err
	}
	w.targets = slices.Clone(targets)
	return w.path, nil
}

// Remove deletes the artifact. A missing file is not an error.
func (w *Writer) Remove() error {
	if err := os.Remove(w.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove %s: %w", w.path, err)
	}
	return nil
}

// writeAtomic writes data to a temporary file next to path and renames it into place, so a
// reloading server never reads a half-written file.
func writeAtomic(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("failed to create temp config: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write temp config: %w", err)
	}
	if err := tmp.Chmod(perm); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to chmod temp config: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close temp config: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("failed to install config: %w", err)
	}
	return nil
}
