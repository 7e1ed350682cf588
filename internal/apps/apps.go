// Package apps detects web application directories and the virtual host names they answer to.
package apps

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// DefaultMarkers are the paths, relative to a candidate root, whose presence marks an app.
var DefaultMarkers = []string{
	"config/environment.rb",
	"config.ru",
	"passenger_wsgi.py",
}

// LocalConfigName is the per-application settings file looked up in every app root.
const LocalConfigName = "frontman.toml"

// Target is one served application.
type Target struct {
	ServerNames []string
	Root        string
	Settings    Settings
}

// Detector finds application directories.
type Detector struct {
	// Markers overrides DefaultMarkers when non-empty.
	Markers []string
	// Defaults are the global settings each target starts from before its local file is applied.
	Defaults Settings
}

// NewDetector creates a detector using DefaultMarkers.
func NewDetector(defaults Settings) *Detector {
	return &Detector{Defaults: defaults}
}

func (d *Detector) markers() []string {
	if len(d.Markers) > 0 {
		return d.Markers
	}
	return DefaultMarkers
}

// LooksLikeApp reports whether dir contains any marker file.
func (d *Detector) LooksLikeApp(dir string) bool {
	for _, marker := range d.markers() {
		if _, err := os.Stat(filepath.Join(dir, marker)); err == nil {
			return true
		}
	}
	return false
}

// Detect returns the targets for the given directory arguments.
//
// Without arguments the working directory is served under the catch-all name "_" if it is an
// app, otherwise each app directly below it is served. Each argument is either an app itself
// or a directory whose children are scanned. Order follows the arguments; children are sorted
// by name.
func (d *Detector) Detect(args []string) ([]Target, error) {
	var targets []Target

	if len(args) == 0 {
		if d.LooksLikeApp(".") {
			t, err := d.newTarget(".", []string{"_"})
			if err != nil {
				return nil, err
			}
			return []Target{t}, nil
		}
		return d.scanChildren(".")
	}

	for _, arg := range args {
		if d.LooksLikeApp(arg) {
			t, err := d.newTarget(arg, ServerNames(arg))
			if err != nil {
				return nil, err
			}
			targets = append(targets, t)
			continue
		}

		children, err := d.scanChildren(arg)
		if err != nil {
			return nil, err
		}
		targets = append(targets, children...)
	}

	return targets, nil
}

func (d *Detector) scanChildren(dir string) ([]Target, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to scan %s: %w", dir, err)
	}

	var targets []Target
	for _, entry := range entries {
		if strings.HasPrefix(entry.Name(), ".") {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		if !d.LooksLikeApp(path) {
			continue
		}
		t, err := d.newTarget(path, ServerNames(path))
		if err != nil {
			return nil, err
		}
		targets = append(targets, t)
	}
	return targets, nil
}

func (d *Detector) newTarget(dir string, names []string) (Target, error) {
	root, err := filepath.Abs(dir)
	if err != nil {
		return Target{}, fmt.Errorf("failed to resolve %s: %w", dir, err)
	}

	settings, err := MergeLocalSettings(d.Defaults, filepath.Join(root, LocalConfigName))
	if err != nil {
		return Target{}, err
	}

	return Target{ServerNames: names, Root: root, Settings: settings}, nil
}

// ServerNames derives the virtual host names for an app directory from its base name:
// the name itself plus a "www." alias unless it already carries one.
func ServerNames(dir string) []string {
	base := filepath.Base(dir)
	if strings.HasPrefix(strings.ToLower(base), "www.") {
		return []string{base}
	}
	return []string{base, "www." + base}
}

// Roots returns the root directories of targets, in order.
func Roots(targets []Target) []string {
	roots := make([]string, len(targets))
	for i, t := range targets {
		roots[i] = t.Root
	}
	return roots
}
