package process

import (
	"context"
	"errors"
	"slices"
	"strings"
	"time"

	psprocess "github.com/shirou/gopsutil/v3/process"
	"golang.org/x/sys/unix"
)

// Signals delivered to the server.
const (
	StopSignal   = unix.SIGTERM
	ReloadSignal = unix.SIGHUP
	KillSignal   = unix.SIGKILL
)

// IsAlive reports whether pid names an existing, non-zombie process.
// EPERM counts as alive: the process exists but belongs to another user.
func IsAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	if err := unix.Kill(pid, 0); err != nil && !errors.Is(err, unix.EPERM) {
		return false
	}
	return !isZombie(pid)
}

func isZombie(pid int) bool {
	p, err := psprocess.NewProcess(int32(pid))
	if err != nil {
		return false
	}
	status, err := p.Status()
	if err != nil {
		return false
	}
	return slices.Contains(status, psprocess.Zombie)
}

// SendSignal delivers sig to pid.
func SendSignal(pid int, sig unix.Signal) error {
	if err := unix.Kill(pid, sig); err != nil {
		return &SignalDeliveryError{PID: pid, Signal: sig, Cause: err}
	}
	return nil
}

// waitForExit polls IsAlive until pid disappears, the timeout elapses, or ctx is done.
// Returns true if the process is gone.
func waitForExit(ctx context.Context, pid int, timeout, interval time.Duration) bool {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if !IsAlive(pid) {
			return true
		}
		select {
		case <-ctx.Done():
			return !IsAlive(pid)
		case <-timer.C:
			return !IsAlive(pid)
		case <-ticker.C:
		}
	}
}

// ProcessInfo describes a process found through its PID.
type ProcessInfo struct {
	PID       int
	Running   bool
	Name      string
	Command   string
	StartedAt time.Time
}

// GetProcessInfo inspects pid. Fields that cannot be read are left empty.
func GetProcessInfo(pid int) *ProcessInfo {
	info := &ProcessInfo{PID: pid, Running: IsAlive(pid)}
	if !info.Running {
		return info
	}

	p, err := psprocess.NewProcess(int32(pid))
	if err != nil {
		return info
	}
	if name, err := p.Name(); err == nil {
		info.Name = name
	}
	if cmdline, err := p.Cmdline(); err == nil {
		info.Command = strings.TrimSpace(cmdline)
	}
	if created, err := p.CreateTime(); err == nil {
		info.StartedAt = time.UnixMilli(created)
	}
	return info
}
