package process

import (
	"errors"
	"fmt"
	"time"

	"golang.org/x/sys/unix"
)

// Sentinel errors matched by the typed errors below through errors.Is.
var (
	ErrAlreadyRunning        = errors.New("already running")
	ErrStartTimeout          = errors.New("start timeout")
	ErrConfigMaterialization = errors.New("config materialization failed")
	ErrNotRunning            = errors.New("not running")
	ErrSignalDelivery        = errors.New("signal delivery failed")
	ErrSpawn                 = errors.New("spawn failed")

	// ErrStopTimeout is returned when the server survives SIGKILL.
	ErrStopTimeout = errors.New("stop timeout exceeded")

	// ErrInvalidPID is returned when the PID file holds no usable PID.
	ErrInvalidPID = errors.New("invalid PID in file")
)

// AlreadyRunningError is returned by Start when a live, reachable instance owns the PID file.
type AlreadyRunningError struct {
	Identifier string
	PID        int
}

func (e *AlreadyRunningError) Error() string {
	return fmt.Sprintf("%s is already running on PID %d", e.Identifier, e.PID)
}

// Is implements errors.Is.
func (e *AlreadyRunningError) Is(target error) bool { return target == ErrAlreadyRunning }

// StartTimeoutError is returned by Start when the server never became reachable.
// ExitErr is set when the launched process failed before the deadline.
type StartTimeoutError struct {
	Identifier     string
	Timeout        time.Duration
	ExitErr        error
	CapturedOutput string
}

func (e *StartTimeoutError) Error() string {
	msg := fmt.Sprintf("%s did not become reachable within %s", e.Identifier, e.Timeout)
	if e.ExitErr != nil {
		msg = fmt.Sprintf("%s exited before becoming reachable: %v", e.Identifier, e.ExitErr)
	}
	if e.CapturedOutput != "" {
		msg += "\n" + e.CapturedOutput
	}
	return msg
}

// Is implements errors.Is.
func (e *StartTimeoutError) Is(target error) bool { return target == ErrStartTimeout }

// Unwrap returns the launch failure, if any.
func (e *StartTimeoutError) Unwrap() error { return e.ExitErr }

// ConfigMaterializationError wraps a failure to produce the configuration artifact.
type ConfigMaterializationError struct {
	Identifier string
	Cause      error
}

func (e *ConfigMaterializationError) Error() string {
	return fmt.Sprintf("failed to write %s configuration: %v", e.Identifier, e.Cause)
}

// Is implements errors.Is.
func (e *ConfigMaterializationError) Is(target error) bool { return target == ErrConfigMaterialization }

// Unwrap returns the underlying cause.
func (e *ConfigMaterializationError) Unwrap() error { return e.Cause }

// NotRunningError is returned by Stop and Reload when no live PID can be resolved.
// Callers may treat it as already stopped.
type NotRunningError struct {
	Identifier string
	PID        int
	Reason     string
	Cause      error
}

func (e *NotRunningError) Error() string {
	if e.PID > 0 {
		return fmt.Sprintf("%s is not running (PID %d): %s", e.Identifier, e.PID, e.Reason)
	}
	return fmt.Sprintf("%s is not running: %s", e.Identifier, e.Reason)
}

// Is implements errors.Is.
func (e *NotRunningError) Is(target error) bool { return target == ErrNotRunning }

// Unwrap returns the underlying cause.
func (e *NotRunningError) Unwrap() error { return e.Cause }

// SignalDeliveryError is returned when a signal could not be delivered.
type SignalDeliveryError struct {
	PID    int
	Signal unix.Signal
	Cause  error
}

func (e *SignalDeliveryError) Error() string {
	return fmt.Sprintf("failed to send %s to process %d: %v", unix.SignalName(e.Signal), e.PID, e.Cause)
}

// Is implements errors.Is.
func (e *SignalDeliveryError) Is(target error) bool { return target == ErrSignalDelivery }

// Unwrap returns the errno.
func (e *SignalDeliveryError) Unwrap() error { return e.Cause }

// SpawnError is returned when the OS could not create the server process.
type SpawnError struct {
	Command string
	Cause   error
}

func (e *SpawnError) Error() string {
	return fmt.Sprintf("failed to launch %q: %v", e.Command, e.Cause)
}

// Is implements errors.Is.
func (e *SpawnError) Is(target error) bool { return target == ErrSpawn }

// Unwrap returns the underlying cause.
func (e *SpawnError) Unwrap() error { return e.Cause }
