package sweep

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/solarsync/solarsync/internal/state"
	"github.com/solarsync/solarsync/internal/storage"
)

type mockLister struct {
	listFn func(statuses ...string) ([]storage.Job, error)
}

func (m *mockLister) ListJobsByStatus(statuses ...string) ([]storage.Job, error) {
	return m.listFn(statuses...)
}

type mockRechecker struct {
	mu        sync.Mutex
	rechecked []string
	recheckFn func(ctx context.Context, jobID string) (state.JobState, error)
}

func (m *mockRechecker) Recheck(ctx context.Context, jobID string) (state.JobState, error) {
	m.mu.Lock()
	m.rechecked = append(m.rechecked, jobID)
	m.mu.Unlock()
	if m.recheckFn != nil {
		return m.recheckFn(ctx, jobID)
	}
	return state.JobState{JobID: jobID}, nil
}

func activeJobs(ids ...string) *mockLister {
	return &mockLister{listFn: func(statuses ...string) ([]storage.Job, error) {
		jobs := make([]storage.Job, len(ids))
		for i, id := range ids {
			jobs[i] = storage.Job{ID: id}
		}
		return jobs, nil
	}}
}

func TestRunOnceRechecksEveryActiveJob(t *testing.T) {
	runner := &mockRechecker{}
	w := NewWorker(activeJobs("a", "b", "c"), runner, time.Minute)

	n, err := w.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if n != 3 {
		t.Errorf("swept %d jobs, want 3", n)
	}
	if len(runner.rechecked) != 3 {
		t.Errorf("rechecked %v", runner.rechecked)
	}
}

func TestRunOnceQueriesActiveStatusesOnly(t *testing.T) {
	var gotStatuses []string
	lister := &mockLister{listFn: func(statuses ...string) ([]storage.Job, error) {
		gotStatuses = statuses
		return nil, nil
	}}

	if _, err := NewWorker(lister, &mockRechecker{}, time.Minute).RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if len(gotStatuses) != 2 || gotStatuses[0] != storage.StatusPending || gotStatuses[1] != storage.StatusInProgress {
		t.Errorf("queried statuses %v", gotStatuses)
	}
}

func TestRunOnceContinuesPastFailures(t *testing.T) {
	runner := &mockRechecker{recheckFn: func(ctx context.Context, jobID string) (state.JobState, error) {
		if jobID == "b" {
			return state.JobState{}, errors.New("weather source down")
		}
		return state.JobState{JobID: jobID}, nil
	}}
	w := NewWorker(activeJobs("a", "b", "c"), runner, time.Minute)

	n, err := w.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if n != 3 || len(runner.rechecked) != 3 {
		t.Errorf("swept %d, rechecked %v", n, runner.rechecked)
	}
}

func TestRunOnceListFailure(t *testing.T) {
	lister := &mockLister{listFn: func(statuses ...string) ([]storage.Job, error) {
		return nil, errors.New("database locked")
	}}
	if _, err := NewWorker(lister, &mockRechecker{}, time.Minute).RunOnce(context.Background()); err == nil {
		t.Fatal("expected error")
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	w := NewWorker(activeJobs(), &mockRechecker{}, time.Millisecond)

	done := make(chan struct{})
	go func() {
		w.Run(ctx)
		close(done)
	}()

	time.Sleep(10 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not stop after cancellation")
	}
}
