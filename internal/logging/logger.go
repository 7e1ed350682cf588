package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
)

// Logger is a duck-typed interface satisfied by *slog.Logger.
// Use this interface instead of *slog.Logger to decouple from the concrete type.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// Config represents logging configuration.
type Config struct {
	Level   string            `toml:"level"`
	Format  string            `toml:"format"`
	Modules map[string]string `toml:"modules"`
}

// Logs go to stderr; stdout belongs to the operator console.
var (
	mutex         sync.RWMutex
	globalConfig  Config
	isInitialized bool
	output        io.Writer = os.Stderr
	modules                 = make(map[string]*moduleLogger)
	globalLevel             = &slog.LevelVar{}
)

type moduleLogger struct {
	logger *slog.Logger
	level  *slog.LevelVar
}

// Initialize sets up the logging system. Loggers handed out earlier keep working and pick up
// the new levels and handlers.
func Initialize(config Config) {
	mutex.Lock()
	defer mutex.Unlock()

	globalConfig = config
	isInitialized = true
	globalLevel.Set(levelOrDefault(config.Level, slog.LevelInfo))

	for name, m := range modules {
		m.level.Set(moduleLevel(name))
		*m.logger = *slog.New(createHandler(config.Format, m.level)).With("module", name)
	}

	slog.SetDefault(slog.New(createHandler(config.Format, globalLevel)))
}

// SetOutput redirects the stream handler. Must be called before Initialize.
func SetOutput(w io.Writer) {
	mutex.Lock()
	defer mutex.Unlock()
	output = w
}

// GetLogger returns a logger for the specified module, creating it if needed.
func GetLogger(module string) *slog.Logger {
	mutex.RLock()
	if m, ok := modules[module]; ok {
		mutex.RUnlock()
		return m.logger
	}
	mutex.RUnlock()

	mutex.Lock()
	defer mutex.Unlock()
	if m, ok := modules[module]; ok {
		return m.logger
	}

	level := &slog.LevelVar{}
	level.Set(moduleLevel(module))
	format := "text"
	if isInitialized {
		format = globalConfig.Format
	}

	logger := slog.New(createHandler(format, level)).With("module", module)
	modules[module] = &moduleLogger{logger: logger, level: level}
	return logger
}

// moduleLevel resolves the level of a module. Callers hold mutex.
func moduleLevel(module string) slog.Level {
	if !isInitialized {
		return slog.LevelInfo
	}
	level := levelOrDefault(globalConfig.Level, slog.LevelInfo)
	if override, ok := globalConfig.Modules[module]; ok {
		level = levelOrDefault(override, level)
	}
	return level
}

// createHandler builds the handler chain: the stream handler when output is usable and the
// journal when journald is available.
func createHandler(format string, level slog.Leveler) slog.Handler {
	opts := &slog.HandlerOptions{Level: level}

	var streamHandler slog.Handler
	if format == "json" {
		streamHandler = slog.NewJSONHandler(output, opts)
	} else {
		streamHandler = slog.NewTextHandler(output, opts)
	}

	if !IsJournalAvailable() {
		return streamHandler
	}
	if !isOutputAvailable(output) {
		return NewJournalHandler(level)
	}
	return NewMultiHandler(streamHandler, NewJournalHandler(level))
}

// isOutputAvailable reports whether w is a terminal, pipe, socket or regular file.
// Writers that are not files are always usable.
func isOutputAvailable(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return true
	}
	fi, err := f.Stat()
	if err != nil {
		return false
	}
	mode := fi.Mode()
	return (mode&os.ModeCharDevice) != 0 || (mode&os.ModeNamedPipe) != 0 || (mode&os.ModeSocket) != 0 || mode.IsRegular()
}

// parseLevel converts a level name to slog.Level.
func parseLevel(level string) (slog.Level, bool) {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug, true
	case "info":
		return slog.LevelInfo, true
	case "warn", "warning":
		return slog.LevelWarn, true
	case "error":
		return slog.LevelError, true
	default:
		return 0, false
	}
}

func levelOrDefault(level string, fallback slog.Level) slog.Level {
	if l, ok := parseLevel(level); ok {
		return l
	}
	return fallback
}
