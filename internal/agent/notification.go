package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/solarsync/solarsync/internal/state"
	"github.com/solarsync/solarsync/internal/storage"
)

// Sender delivers one SMS and returns the gateway's delivery id.
type Sender interface {
	Send(ctx context.Context, phone, message string) (string, error)
}

const (
	notifyAttempts   = 3
	notifyRetryDelay = 2 * time.Second
)

// NotifierOption adjusts retry behavior.
type NotifierOption func(*notifier)

// WithRetryDelay overrides the pause between delivery attempts.
func WithRetryDelay(d time.Duration) NotifierOption {
	return func(n *notifier) { n.retryDelay = d }
}

type notifier struct {
	sender     Sender
	store      Store
	attempts   int
	retryDelay time.Duration
}

// NewNotifier returns the notification agent. It texts the assigned
// technician, retrying a bounded number of times. Exhausting every attempt
// is recorded in the log but does not fail the job.
func NewNotifier(sender Sender, store Store, opts ...NotifierOption) Func {
	n := &notifier{
		sender:     sender,
		store:      store,
		attempts:   notifyAttempts,
		retryDelay: notifyRetryDelay,
	}
	for _, opt := range opts {
		opt(n)
	}
	return n.run
}

func (n *notifier) run(ctx context.Context, st state.JobState) state.JobState {
	// Urgent jobs route here straight from triage, before assignment has
	// resolved display fields, so only the candidate id is required.
	if st.TechnicianID == "" {
		return st.Append(state.NodeNotification, state.OutcomeSkipped,
			"no technician assigned, notification skipped")
	}

	tech, err := n.store.GetTechnician(st.TechnicianID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return st.Append(state.NodeNotification, state.OutcomeSkipped,
				fmt.Sprintf("technician %s not on roster, notification skipped", st.TechnicianID))
		}
		return st.Append(state.NodeNotification, state.OutcomeFailed,
			fmt.Sprintf("loading technician: %v", err))
	}
	if tech.Phone == "" {
		return st.Append(state.NodeNotification, state.OutcomeSkipped,
			fmt.Sprintf("technician %s has no phone number, notification skipped", st.TechnicianID))
	}

	name := st.TechnicianName
	if name == "" {
		name = tech.FullName()
	}
	message := n.compose(st)

	var lastErr error
	for attempt := 1; attempt <= n.attempts; attempt++ {
		deliveryID, err := n.sender.Send(ctx, tech.Phone, message)
		if err == nil {
			slog.Info("technician notified", "job_id", st.JobID,
				"technician_id", st.TechnicianID, "delivery_id", deliveryID, "attempt", attempt)
			return st.Append(state.NodeNotification, state.OutcomeNotified,
				fmt.Sprintf("Notified %s (delivery %s)", name, deliveryID))
		}
		lastErr = err
		slog.Warn("notification attempt failed", "job_id", st.JobID,
			"attempt", attempt, "error", err)

		if attempt < n.attempts {
			select {
			case <-time.After(n.retryDelay):
			case <-ctx.Done():
				return st.Append(state.NodeNotification, state.OutcomeFailed,
					fmt.Sprintf("notification canceled: %v", ctx.Err()))
			}
		}
	}

	slog.Error("notification attempts exhausted", "job_id", st.JobID,
		"technician_id", st.TechnicianID, "error", lastErr)
	return st.Append(state.NodeNotification, state.OutcomeNotifyExhausted,
		fmt.Sprintf("Could not reach %s after %d attempts: %v", name, n.attempts, lastErr))
}

func (n *notifier) compose(st state.JobState) string {
	msg := fmt.Sprintf("New solar job %s: %s priority.", st.JobID, st.Priority)
	if st.Diagnosis != "" {
		msg += " " + st.Diagnosis + "."
	}
	if st.ScheduledStart != "" {
		msg += fmt.Sprintf(" Scheduled %s.", st.ScheduledStart)
	}
	return msg
}
