package domain

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Assistant is a named graph configuration that runs execute against.
type Assistant struct {
	AssistantID    string          `json:"assistant_id"`
	Name           string          `json:"name"`
	Description    string          `json:"description,omitempty"`
	GraphID        string          `json:"graph_id"`
	Config         json.RawMessage `json:"config,omitempty"`
	Context        json.RawMessage `json:"context,omitempty"`
	RequiredFields []string        `json:"required_fields,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// Thread is a conversation container. At most one non-terminal run may
// hold it busy at a time.
type Thread struct {
	ThreadID    string          `json:"thread_id"`
	Status      ThreadStatus    `json:"status"`
	AssistantID string          `json:"assistant_id,omitempty"`
	Metadata    json.RawMessage `json:"metadata,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// Run represents a single execution of an assistant on a thread.
type Run struct {
	RunID        string          `json:"run_id"`
	ThreadID     string          `json:"thread_id"`
	AssistantID  string          `json:"assistant_id"`
	Status       RunStatus       `json:"status"`
	Input        json.RawMessage `json:"input,omitempty"`
	Config       json.RawMessage `json:"config,omitempty"`
	Context      json.RawMessage `json:"context,omitempty"`
	Output       json.RawMessage `json:"output,omitempty"`
	ErrorMessage string          `json:"error_message,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

// Event is a single frame of a run's stream. Seq is per-run, gapless,
// starting at 1; the last event of any finished run has type "end".
type Event struct {
	RunID     string          `json:"run_id"`
	Seq       int64           `json:"seq"`
	Type      string          `json:"type"`
	Data      json.RawMessage `json:"data,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

// EventID returns the synthetic identifier exposed to clients,
// e.g. "run_ab12_event_7". It doubles as the SSE id for resume.
func (e Event) EventID() string {
	return fmt.Sprintf("%s_event_%d", e.RunID, e.Seq)
}

// ParseEventID splits a synthetic event id back into run id and seq.
func ParseEventID(id string) (runID string, seq int64, ok bool) {
	i := strings.LastIndex(id, "_event_")
	if i < 0 {
		return "", 0, false
	}
	seq, err := strconv.ParseInt(id[i+len("_event_"):], 10, 64)
	if err != nil || seq < 0 {
		return "", 0, false
	}
	return id[:i], seq, true
}

// EndEventData is the payload of the terminal "end" event.
type EndEventData struct {
	Status      RunStatus       `json:"status"`
	FinalOutput json.RawMessage `json:"final_output,omitempty"`
	Error       string          `json:"error,omitempty"`
}

// CronSchedule is a recurring trigger for autonomous assistant runs.
type CronSchedule struct {
	ScheduleID          string    `json:"schedule_id"`
	AssistantID         string    `json:"assistant_id"`
	Expression          string    `json:"expression"`
	RequiredFields      []string  `json:"required_fields,omitempty"`
	SpecialInstructions string    `json:"special_instructions,omitempty"`
	Enabled             bool      `json:"enabled"`
	CreatedAt           time.Time `json:"created_at"`
	UpdatedAt           time.Time `json:"updated_at"`
}

// CronFiring is one occurrence of a schedule. It is claimed (flipped to
// running) before any work starts so a crashed dispatcher never double-runs it.
type CronFiring struct {
	FiringID     string          `json:"firing_id"`
	ScheduleID   string          `json:"schedule_id"`
	Status       FiringStatus    `json:"status"`
	Output       json.RawMessage `json:"output,omitempty"`
	ErrorMessage string          `json:"error_message,omitempty"`
	ScheduledAt  time.Time       `json:"scheduled_at"`
	StartedAt    *time.Time      `json:"started_at,omitempty"`
	CompletedAt  *time.Time      `json:"completed_at,omitempty"`
}

// ThreadState is one historical checkpoint of a thread's graph state.
type ThreadState struct {
	Values    json.RawMessage `json:"values"`
	CreatedAt time.Time       `json:"created_at"`
}
