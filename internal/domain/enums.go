// Package domain defines the core domain models for the run orchestrator.
package domain

// RunStatus represents the status of a run.
type RunStatus string

const (
	RunStatusPending     RunStatus = "pending"
	RunStatusRunning     RunStatus = "running"
	RunStatusCompleted   RunStatus = "completed"
	RunStatusFailed      RunStatus = "failed"
	RunStatusCancelled   RunStatus = "cancelled"
	RunStatusInterrupted RunStatus = "interrupted"
)

// IsTerminal reports whether the status is absorbing: once a run reaches
// a terminal status it never transitions again.
func (s RunStatus) IsTerminal() bool {
	switch s {
	case RunStatusCompleted, RunStatusFailed, RunStatusCancelled, RunStatusInterrupted:
		return true
	}
	return false
}

// TerminalRunStatuses lists all absorbing run statuses.
var TerminalRunStatuses = []RunStatus{
	RunStatusCompleted,
	RunStatusFailed,
	RunStatusCancelled,
	RunStatusInterrupted,
}

// ThreadStatus represents the status of a thread.
type ThreadStatus string

const (
	ThreadStatusIdle ThreadStatus = "idle"
	ThreadStatusBusy ThreadStatus = "busy"
)

// FiringStatus represents the status of a cron firing.
type FiringStatus string

const (
	FiringStatusScheduled FiringStatus = "scheduled"
	FiringStatusRunning   FiringStatus = "running"
	FiringStatusCompleted FiringStatus = "completed"
	FiringStatusFailed    FiringStatus = "failed"
)

// CancelAction distinguishes a hard cancel from a resumable interrupt.
type CancelAction string

const (
	CancelActionCancel    CancelAction = "cancel"
	CancelActionInterrupt CancelAction = "interrupt"
)

// EventTypeEnd is the terminal event type appended to every finished run.
// Its data carries the final run status and output.
const EventTypeEnd = "end"
