package process

import "time"

// Phase is the lifecycle phase of the supervised server as seen by one Supervisor.
type Phase string

// Lifecycle phases.
const (
	PhaseNotStarted Phase = "not_started" // Nothing observed yet
	PhaseStarting   Phase = "starting"    // Spawned, waiting for the ping target
	PhaseRunning    Phase = "running"     // Reachable
	PhaseStopping   Phase = "stopping"    // Termination signal sent
	PhaseStopped    Phase = "stopped"     // Stopped by us
	PhaseCrashed    Phase = "crashed"     // Failed to start or exited on its own
)

// Phases lists every phase, in lifecycle order.
var Phases = []Phase{PhaseNotStarted, PhaseStarting, PhaseRunning, PhaseStopping, PhaseStopped, PhaseCrashed}

// Info is a snapshot of the supervised server.
type Info struct {
	Identifier  string
	Phase       Phase
	PID         int
	Alive       bool
	Reachable   bool
	StartedAt   time.Time
	ReloadCount int
	LastError   error
}

// ExitReason tells why WaitUntilExited returned.
type ExitReason int

const (
	// ExitReasonExited means the server stopped accepting connections.
	ExitReasonExited ExitReason = iota
	// ExitReasonInterrupted means the wait was cancelled before the server exited.
	ExitReasonInterrupted
)

func (r ExitReason) String() string {
	switch r {
	case ExitReasonExited:
		return "exited"
	case ExitReasonInterrupted:
		return "interrupted"
	default:
		return "unknown"
	}
}
