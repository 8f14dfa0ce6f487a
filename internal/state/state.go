// Package state defines the job state value threaded through one pipeline
// run and its append-only event log. The log doubles as routing input: each
// agent appends exactly one terminal entry per invocation, tagged with a
// structured outcome that the supervisor matches on. The message text is
// display-only.
package state

// Agent node names. These identify both the pipeline nodes and the authors
// of event log entries.
const (
	NodeCreator      = "job_creator"
	NodeSizing       = "sizing"
	NodeTriage       = "triage"
	NodeAssignment   = "assignment"
	NodeNotification = "notification"
	NodeWeatherCheck = "weather_check"
	NodeCompletion   = "completion"
)

// Outcome tags an event log entry with the machine-readable result of one
// agent invocation.
type Outcome string

const (
	OutcomeCreated         Outcome = "created"
	OutcomeSized           Outcome = "sized"
	OutcomePredicted       Outcome = "predicted"
	OutcomeAssigned        Outcome = "assigned"
	OutcomeNotified        Outcome = "notified"
	OutcomeNotifyExhausted Outcome = "notify_exhausted"
	OutcomeWeatherChecked  Outcome = "weather_checked"
	OutcomeTriggerResize   Outcome = "trigger_resize"
	OutcomeCompleted       Outcome = "completed"
	OutcomeSkipped         Outcome = "skipped"
	OutcomeFailed          Outcome = "failed"
)

// Job lifecycle statuses. Transitions are one-directional:
// pending -> in_progress -> completed.
const (
	StatusPending    = "pending"
	StatusInProgress = "in_progress"
	StatusCompleted  = "completed"
)

// Priorities assigned by triage.
const (
	PriorityHigh   = "high"
	PriorityMedium = "medium"
	PriorityLow    = "low"
)

// Entry is one event log record: which agent ran, how it ended, and a
// human-readable trace line.
type Entry struct {
	Agent   string  `json:"agent"`
	Outcome Outcome `json:"outcome"`
	Message string  `json:"message"`
}
