package launcher

import (
	"fmt"
	"os"
	"path/filepath"
)

// Locations are the files shared by start, stop and status for one server instance.
type Locations struct {
	PIDFile string
	LogFile string
}

// ResolveLocations derives the PID and log file paths the way every command must agree on.
//
// The base name is "frontman" with a socket and "frontman.<port>" otherwise. Without arguments
// an app in the working directory keeps them under tmp/pids and log (created on demand), and a
// plain directory keeps them in place. With arguments they live in the first one.
// pidFile and logFile override the derived paths when non-empty.
func ResolveLocations(args []string, socket string, port int, isApp func(string) bool, pidFile, logFile string) (Locations, error) {
	base := "frontman"
	if socket == "" {
		base = fmt.Sprintf("frontman.%d", port)
	}

	pidDir, logDir := ".", "."
	switch {
	case len(args) > 0:
		pidDir, logDir = args[0], args[0]
	case isApp("."):
		pidDir = filepath.Join("tmp", "pids")
		logDir = "log"
		for _, dir := range []string{pidDir, logDir} {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return Locations{}, fmt.Errorf("failed to create %s: %w", dir, err)
			}
		}
	}

	if pidFile == "" {
		pidFile = filepath.Join(pidDir, base+".pid")
	}
	if logFile == "" {
		logFile = filepath.Join(logDir, base+".log")
	}

	var err error
	var loc Locations
	if loc.PIDFile, err = filepath.Abs(pidFile); err != nil {
		return Locations{}, fmt.Errorf("failed to resolve %s: %w", pidFile, err)
	}
	if loc.LogFile, err = filepath.Abs(logFile); err != nil {
		return Locations{}, fmt.Errorf("failed to resolve %s: %w", logFile, err)
	}
	return loc, nil
}
