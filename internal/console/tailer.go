package console

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

const (
	defaultFallback = time.Second
	defaultBacklog  = 10
	backlogLimit    = 64 * 1024
)

// Tailer prints lines appended to a log file. If the file exists when Run starts, output
// begins at its end; if it has to be waited for, its last lines are shown first.
type Tailer struct {
	path     string
	prefix   string
	console  *Console
	logger   *slog.Logger
	fallback time.Duration
	backlog  int
}

// NewTailer creates a tailer for path. prefix is prepended to every printed line.
func NewTailer(path, prefix string, c *Console, logger *slog.Logger) *Tailer {
	return &Tailer{
		path:     path,
		prefix:   prefix,
		console:  c,
		logger:   logger,
		fallback: defaultFallback,
		backlog:  defaultBacklog,
	}
}

// Run follows the file until ctx is cancelled. fsnotify wakes it on writes; a slow ticker
// covers filesystems without notification support.
func (t *Tailer) Run(ctx context.Context) error {
	var events <-chan fsnotify.Event
	var errs <-chan error
	if watcher, err := fsnotify.NewWatcher(); err != nil {
		t.logger.Debug("fsnotify unavailable, polling log file", "path", t.path, "error", err)
	} else {
		defer watcher.Close()
		if err := watcher.Add(filepath.Dir(t.path)); err != nil {
			t.logger.Debug("Cannot watch log directory, polling", "path", t.path, "error", err)
		} else {
			events = watcher.Events
			errs = watcher.Errors
		}
	}

	ticker := time.NewTicker(t.fallback)
	defer ticker.Stop()

	var (
		offset  int64
		partial []byte
		found   bool
	)
	if info, err := os.Stat(t.path); err == nil {
		offset = info.Size()
		found = true
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			if filepath.Clean(ev.Name) != filepath.Clean(t.path) {
				continue
			}
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			t.logger.Debug("Log watcher error", "path", t.path, "error", err)
			continue
		case <-ticker.C:
		}

		info, err := os.Stat(t.path)
		if err != nil {
			continue
		}
		if !found {
			found = true
			t.printBacklog()
			offset = info.Size()
			continue
		}
		if info.Size() < offset {
			// Truncated or rotated.
			offset = 0
			partial = nil
		}
		if info.Size() == offset {
			continue
		}

		data, err := readRange(t.path, offset, info.Size())
		if err != nil {
			t.logger.Debug("Failed to read log file", "path", t.path, "error", err)
			continue
		}
		offset += int64(len(data))
		partial = t.printLines(append(partial, data...))
	}
}

// printLines prints every complete line and returns the unterminated remainder.
func (t *Tailer) printLines(data []byte) []byte {
	end := bytes.LastIndexByte(data, '\n')
	if end < 0 {
		return data
	}
	lines := bytes.Split(data[:end], []byte("\n"))
	t.console.Block(func(w io.Writer) {
		for _, line := range lines {
			io.WriteString(w, t.prefix)
			w.Write(line)
			io.WriteString(w, "\n")
		}
	})
	return append([]byte(nil), data[end+1:]...)
}

func (t *Tailer) printBacklog() {
	info, err := os.Stat(t.path)
	if err != nil || info.Size() == 0 {
		return
	}
	start := max(info.Size()-backlogLimit, 0)
	data, err := readRange(t.path, start, info.Size())
	if err != nil {
		return
	}
	data = bytes.TrimRight(data, "\n")
	lines := bytes.Split(data, []byte("\n"))
	if start > 0 && len(lines) > 1 {
		lines = lines[1:]
	}
	if len(lines) > t.backlog {
		lines = lines[len(lines)-t.backlog:]
	}
	t.printLines(append(bytes.Join(lines, []byte("\n")), '\n'))
}

func readRange(path string, from, to int64) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return io.ReadAll(io.NewSectionReader(f, from, to-from))
}
