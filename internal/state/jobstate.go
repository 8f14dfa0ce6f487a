package state

import (
	"time"

	"github.com/solarsync/solarsync/internal/sizing"
)

// Contact carries opaque customer contact metadata passed through the
// pipeline untouched.
type Contact struct {
	FirstName string `json:"first_name,omitempty"`
	LastName  string `json:"last_name,omitempty"`
	Mobile    string `json:"mobile,omitempty"`
	Phone     string `json:"phone,omitempty"`
	Email     string `json:"email,omitempty"`
}

// Address carries opaque site address metadata.
type Address struct {
	Street     string `json:"street,omitempty"`
	City       string `json:"city,omitempty"`
	Province   string `json:"province,omitempty"`
	Zip        string `json:"zip,omitempty"`
	Country    string `json:"country,omitempty"`
	Complement string `json:"complement,omitempty"`
}

// JobState is the value threaded through one pipeline run. Each agent
// derives a new state from its input rather than mutating shared memory;
// derived fields are written exactly once by the agent that owns them.
type JobState struct {
	JobID  string `json:"job_id,omitempty"`
	UserID string `json:"user_id,omitempty"`

	// Input fields, present from pipeline start.
	Description string             `json:"description,omitempty"`
	SystemType  string             `json:"system_type,omitempty"`
	BatteryType string             `json:"battery_type,omitempty"`
	Appliances  []sizing.Appliance `json:"appliances,omitempty"`
	Position    *sizing.Position   `json:"position,omitempty"`
	Contact     Contact            `json:"contact,omitempty"`
	Address     Address            `json:"address,omitempty"`

	// Owned by the creator agent.
	Status      string     `json:"status,omitempty"`
	DateCreated *time.Time `json:"date_created,omitempty"`

	// Owned by the sizing agent.
	Sizing *sizing.Result `json:"sizing,omitempty"`

	// Owned by the triage agent.
	Priority     string `json:"priority,omitempty"`
	TechnicianID string `json:"technician_id,omitempty"`
	Diagnosis    string `json:"diagnosis,omitempty"`

	// Owned by the assignment agent.
	TechnicianName  string `json:"technician_name,omitempty"`
	TechnicianLogin string `json:"technician_login,omitempty"`

	// Scheduling metadata (pass-through from intake, read by notification).
	ScheduledStart string `json:"scheduled_start,omitempty"`
	ScheduledEnd   string `json:"scheduled_end,omitempty"`

	// Owned by the completion agent.
	Feedback string `json:"feedback,omitempty"`

	// Owned by the weather-check agent.
	LastWeatherCheck *time.Time `json:"last_weather_check,omitempty"`
	LastPeakSunHours float64    `json:"last_peak_sun_hours,omitempty"`

	// Append-only event log; never truncated or reordered within a run.
	Events []Entry `json:"events"`
}

// Clone returns a deep copy so an agent can derive a new state without
// aliasing its caller's slices.
func (s JobState) Clone() JobState {
	out := s
	if s.Appliances != nil {
		out.Appliances = append([]sizing.Appliance(nil), s.Appliances...)
	}
	if s.Position != nil {
		pos := *s.Position
		out.Position = &pos
	}
	if s.Sizing != nil {
		sz := *s.Sizing
		out.Sizing = &sz
	}
	if s.DateCreated != nil {
		t := *s.DateCreated
		out.DateCreated = &t
	}
	if s.LastWeatherCheck != nil {
		t := *s.LastWeatherCheck
		out.LastWeatherCheck = &t
	}
	out.Events = append([]Entry(nil), s.Events...)
	return out
}

// Append returns a copy of the state with one more event log entry.
func (s JobState) Append(agent string, outcome Outcome, message string) JobState {
	out := s.Clone()
	out.Events = append(out.Events, Entry{Agent: agent, Outcome: outcome, Message: message})
	return out
}

// LastEntry returns the final event log entry, or false when the log is
// empty.
func (s JobState) LastEntry() (Entry, bool) {
	if len(s.Events) == 0 {
		return Entry{}, false
	}
	return s.Events[len(s.Events)-1], true
}

// HasOutcome reports whether any entry anywhere in the log carries the given
// outcome.
func (s JobState) HasOutcome(o Outcome) bool {
	for _, e := range s.Events {
		if e.Outcome == o {
			return true
		}
	}
	return false
}

// ResetEvents returns a copy with an empty event log, used when re-entering
// the pipeline out-of-band so a fresh run routes from a clean trace.
func (s JobState) ResetEvents() JobState {
	out := s.Clone()
	out.Events = nil
	return out
}
