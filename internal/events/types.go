package events

import "time"

// Event type constants for kelindar/event.
const (
	TypePhaseChanged uint32 = iota + 1
	TypeReloaded
	TypeProcessExited
)

// Event interface required by kelindar/event.
type Event interface {
	Type() uint32
}

// PhaseChangedEvent is published on every supervisor phase transition.
type PhaseChangedEvent struct {
	Identifier string        `json:"identifier"`
	From       string        `json:"from"`
	To         string        `json:"to"`
	Elapsed    time.Duration `json:"elapsed"` // time spent in From
	Error      string        `json:"error,omitempty"`
	Timestamp  time.Time     `json:"timestamp"`
}

// Type returns the event type identifier for PhaseChangedEvent.
func (e PhaseChangedEvent) Type() uint32 { return TypePhaseChanged }

// ReloadedEvent is published after a reload attempt.
type ReloadedEvent struct {
	Identifier string    `json:"identifier"`
	Roots      []string  `json:"roots"`
	Error      string    `json:"error,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// Type returns the event type identifier for ReloadedEvent.
func (e ReloadedEvent) Type() uint32 { return TypeReloaded }

// ProcessExitedEvent is published when the server exits without being stopped.
type ProcessExitedEvent struct {
	Identifier string    `json:"identifier"`
	PID        int       `json:"pid"`
	Timestamp  time.Time `json:"timestamp"`
}

// Type returns the event type identifier for ProcessExitedEvent.
func (e ProcessExitedEvent) Type() uint32 { return TypeProcessExited }
