// Package watch polls application root directories and reloads the server when they change.
package watch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"slices"
	"time"

	"github.com/smazurov/frontman/internal/apps"
	"github.com/smazurov/frontman/internal/process"
)

// DefaultInterval is how often directory modification times are compared.
const DefaultInterval = 3 * time.Second

// Reloader receives the recomputed application set.
type Reloader interface {
	Reload(targets []apps.Target) error
}

// DetectFunc recomputes the application set.
type DetectFunc func() ([]apps.Target, error)

// StatFunc returns the modification time of a directory.
type StatFunc func(path string) (time.Time, error)

// DirWatcher compares modification times of a fixed list of directories on every tick and
// triggers one reload per tick in which anything changed.
type DirWatcher struct {
	dirs     []string
	interval time.Duration
	detect   DetectFunc
	reloader Reloader
	stat     StatFunc
	logger   *slog.Logger
}

// Option configures a DirWatcher.
type Option func(*DirWatcher)

// WithInterval sets the polling interval. Default is DefaultInterval.
func WithInterval(d time.Duration) Option {
	return func(w *DirWatcher) {
		w.interval = d
	}
}

// WithStat replaces os.Stat based modification time lookup.
func WithStat(stat StatFunc) Option {
	return func(w *DirWatcher) {
		w.stat = stat
	}
}

// NewDirWatcher creates a watcher over dirs, in the given order.
func NewDirWatcher(dirs []string, detect DetectFunc, reloader Reloader, logger *slog.Logger, opts ...Option) *DirWatcher {
	w := &DirWatcher{
		dirs:     slices.Clone(dirs),
		interval: DefaultInterval,
		detect:   detect,
		reloader: reloader,
		stat:     modTime,
		logger:   logger,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Run polls until ctx is cancelled, returning nil. If the server is found not running during
// a reload, Run stops and returns that error so the caller can decide how to report it.
func (w *DirWatcher) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	previous := w.snapshot()
	w.logger.Debug("Directory watcher started", "dirs", w.dirs, "interval", w.interval)

	for {
		select {
		case <-ctx.Done():
			w.logger.Debug("Directory watcher stopped")
			return nil
		case <-ticker.C:
		}

		current := w.snapshot()
		if slices.EqualFunc(previous, current, time.Time.Equal) {
			continue
		}
		previous = current

		if err := w.reload(); err != nil {
			if errors.Is(err, process.ErrNotRunning) {
				return err
			}
			w.logger.Error("Reload after directory change failed", "error", err)
		}
	}
}

func (w *DirWatcher) reload() error {
	targets, err := w.detect()
	if err != nil {
		return fmt.Errorf("failed to detect applications: %w", err)
	}
	if len(targets) == 0 {
		w.logger.Warn("No applications left to serve, keeping previous configuration")
		return nil
	}
	w.logger.Info("Directories changed, reloading", "apps", len(targets))
	return w.reloader.Reload(targets)
}

// snapshot returns one modification time per directory, zero for directories that cannot be
// stat'ed, so a removal also counts as a change.
func (w *DirWatcher) snapshot() []time.Time {
	times := make([]time.Time, len(w.dirs))
	for i, dir := range w.dirs {
		if t, err := w.stat(dir); err == nil {
			times[i] = t
		}
	}
	return times
}

func modTime(path string) (time.Time, error) {
	info, err := os.Stat(path)
	if err != nil {
		return time.Time{}, err
	}
	return info.ModTime(), nil
}
