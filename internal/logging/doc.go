// Package logging provides structured logging with per-module log levels.
//
// Records go to stderr (text or JSON) and, when journald is reachable, to the systemd journal
// under the identifier "frontman". Stdout is left to the operator console.
//
// Initialize once at startup, then ask for module loggers:
//
//	logging.Initialize(logging.Config{
//		Level:   "info",
//		Format:  "text",
//		Modules: map[string]string{"supervisor": "debug"},
//	})
//	logger := logging.GetLogger("supervisor")
//	logger.Info("Server is ready", "pid", pid)
//
// Loggers obtained before Initialize are updated in place.
//
// TOML:
//
//	[logging]
//	level = "info"
//	format = "text"
//
//	[logging.modules]
//	supervisor = "debug"
//	watch = "warn"
//
// In the journal:
//
//	journalctl -t frontman -f
//	journalctl -t frontman MODULE=supervisor
package logging
