// Package systemd reports the supervisor's state to the service manager.
package systemd

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
)

// NotifyFunc sends state to the service manager; it matches daemon.SdNotify.
type NotifyFunc func(unsetEnvironment bool, state string) (bool, error)

// Notifier reports readiness, reloads and shutdown over the sd_notify socket.
// Without NOTIFY_SOCKET every call is a no-op.
type Notifier struct {
	notify   NotifyFunc
	watchdog func(unsetEnvironment bool) (time.Duration, error)
	logger   *slog.Logger
}

// NewNotifier creates a Notifier using the go-systemd daemon package.
func NewNotifier(logger *slog.Logger) *Notifier {
	return &Notifier{
		notify:   daemon.SdNotify,
		watchdog: daemon.SdWatchdogEnabled,
		logger:   logger,
	}
}

func (n *Notifier) send(state string) {
	sent, err := n.notify(false, state)
	if err != nil {
		n.logger.Warn("sd_notify failed", "state", state, "error", err)
		return
	}
	if sent {
		n.logger.Debug("sd_notify sent", "state", state)
	}
}

// Ready reports that the server is accepting connections.
func (n *Notifier) Ready(pid int) {
	n.send(fmt.Sprintf("%s\nSTATUS=serving (pid %d)", daemon.SdNotifyReady, pid))
}

// Reloading reports that a configuration reload is in progress.
func (n *Notifier) Reloading() {
	n.send(daemon.SdNotifyReloading)
}

// Reloaded reports that a reload finished.
func (n *Notifier) Reloaded(apps int) {
	n.send(fmt.Sprintf("%s\nSTATUS=serving %d application(s)", daemon.SdNotifyReady, apps))
}

// Stopping reports that shutdown has begun.
func (n *Notifier) Stopping() {
	n.send(daemon.SdNotifyStopping)
}

// Run pings the watchdog at half its interval until ctx is done.
// It returns immediately when the watchdog is not enabled.
func (n *Notifier) Run(ctx context.Context) error {
	interval, err := n.watchdog(false)
	if err != nil {
		n.logger.Warn("Watchdog configuration invalid", "error", err)
		return nil
	}
	if interval <= 0 {
		return nil
	}

	ticker := time.NewTicker(interval / 2)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			n.send(daemon.SdNotifyWatchdog)
		}
	}
}
