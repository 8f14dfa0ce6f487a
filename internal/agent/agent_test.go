package agent

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/solarsync/solarsync/internal/sizing"
	"github.com/solarsync/solarsync/internal/state"
	"github.com/solarsync/solarsync/internal/storage"
	"github.com/solarsync/solarsync/internal/triage"
)

type mockStore struct {
	upsertJobFn        func(job storage.Job) (storage.Job, error)
	getJobFn           func(id string) (storage.Job, error)
	getTechnicianFn    func(id string) (storage.Technician, error)
	appendPredictionFn func(p storage.Prediction) (storage.Prediction, error)
}

func (m *mockStore) UpsertJob(job storage.Job) (storage.Job, error) {
	if m.upsertJobFn == nil {
		return job, nil
	}
	return m.upsertJobFn(job)
}

func (m *mockStore) GetJob(id string) (storage.Job, error) {
	if m.getJobFn == nil {
		return storage.Job{ID: id}, nil
	}
	return m.getJobFn(id)
}

func (m *mockStore) GetTechnician(id string) (storage.Technician, error) {
	if m.getTechnicianFn == nil {
		return storage.Technician{ID: id}, nil
	}
	return m.getTechnicianFn(id)
}

func (m *mockStore) AppendPrediction(p storage.Prediction) (storage.Prediction, error) {
	if m.appendPredictionFn == nil {
		return p, nil
	}
	return m.appendPredictionFn(p)
}

type mockCalculator struct {
	calculateFn func(ctx context.Context, systemType string, appliances []sizing.Appliance, pos sizing.Position, batteryType string) (sizing.Result, error)
}

func (m *mockCalculator) Calculate(ctx context.Context, systemType string, appliances []sizing.Appliance, pos sizing.Position, batteryType string) (sizing.Result, error) {
	return m.calculateFn(ctx, systemType, appliances, pos, batteryType)
}

type mockPredictor struct {
	predictFn func(ctx context.Context, description, systemType, batteryType string, costs triage.EquipmentCosts) triage.Result
}

func (m *mockPredictor) Predict(ctx context.Context, description, systemType, batteryType string, costs triage.EquipmentCosts) triage.Result {
	return m.predictFn(ctx, description, systemType, batteryType, costs)
}

type mockSender struct {
	sendFn func(ctx context.Context, phone, message string) (string, error)
}

func (m *mockSender) Send(ctx context.Context, phone, message string) (string, error) {
	return m.sendFn(ctx, phone, message)
}

type countingBroadcaster struct{ notified []string }

func (b *countingBroadcaster) NotifyJobChanged(jobID string) {
	b.notified = append(b.notified, jobID)
}

func baseState() state.JobState {
	return state.JobState{
		Description: "offline system needs repair",
		SystemType:  sizing.SystemHybrid,
		BatteryType: sizing.BatteryLithiumIon,
		Appliances:  []sizing.Appliance{{Name: "fridge", Quantity: 1, RuntimeHrs: 24}},
		Position:    &sizing.Position{Lat: -1.27, Lon: 36.84},
	}
}

func lastEntry(t *testing.T, st state.JobState) state.Entry {
	t.Helper()
	entry, ok := st.LastEntry()
	if !ok {
		t.Fatal("event log is empty")
	}
	return entry
}

// --- creator ---

func TestCreatorMintsIdentity(t *testing.T) {
	var stored storage.Job
	store := &mockStore{upsertJobFn: func(job storage.Job) (storage.Job, error) {
		stored = job
		return job, nil
	}}
	b := &countingBroadcaster{}

	out := NewCreator(store, b)(context.Background(), baseState())

	if out.JobID == "" {
		t.Error("job id was not minted")
	}
	if out.Status != state.StatusPending {
		t.Errorf("status = %q, want pending", out.Status)
	}
	if out.DateCreated == nil {
		t.Error("date created was not stamped")
	}
	if stored.ID != out.JobID {
		t.Errorf("persisted id %q does not match state %q", stored.ID, out.JobID)
	}
	if entry := lastEntry(t, out); entry.Outcome != state.OutcomeCreated || entry.Agent != state.NodeCreator {
		t.Errorf("entry = %+v", entry)
	}
	if len(b.notified) != 1 || b.notified[0] != out.JobID {
		t.Errorf("broadcast notifications = %v", b.notified)
	}
}

func TestCreatorKeepsExistingID(t *testing.T) {
	st := baseState()
	st.JobID = "job-1"
	out := NewCreator(&mockStore{}, NopBroadcaster{})(context.Background(), st)
	if out.JobID != "job-1" {
		t.Errorf("job id = %q, want job-1", out.JobID)
	}
}

func TestCreatorSkipsWithoutDescription(t *testing.T) {
	st := baseState()
	st.Description = ""
	out := NewCreator(&mockStore{}, NopBroadcaster{})(context.Background(), st)
	if entry := lastEntry(t, out); entry.Outcome != state.OutcomeSkipped {
		t.Errorf("outcome = %q, want skipped", entry.Outcome)
	}
	if out.JobID != "" || out.Status != "" {
		t.Error("skip must leave state unchanged apart from the log entry")
	}
}

func TestCreatorStoreFailure(t *testing.T) {
	store := &mockStore{upsertJobFn: func(job storage.Job) (storage.Job, error) {
		return storage.Job{}, errors.New("disk full")
	}}
	out := NewCreator(store, NopBroadcaster{})(context.Background(), baseState())
	if entry := lastEntry(t, out); entry.Outcome != state.OutcomeFailed {
		t.Errorf("outcome = %q, want failed", entry.Outcome)
	}
}

// --- sizer ---

func TestSizerAppliesResult(t *testing.T) {
	res := sizing.Result{
		PanelsRequired: 5, InvertersRequired: 1,
		TotalCostKsh: 250000, PeakSunHours: 5.5,
		BatteryType:    sizing.BatteryLithiumIon,
		LithiumIonBank: sizing.BankLayout{Series: 1, Parallel: 2, Required: 2},
	}
	engine := &mockCalculator{calculateFn: func(ctx context.Context, systemType string, appliances []sizing.Appliance, pos sizing.Position, batteryType string) (sizing.Result, error) {
		return res, nil
	}}
	var stored storage.Job
	store := &mockStore{upsertJobFn: func(job storage.Job) (storage.Job, error) {
		stored = job
		return job, nil
	}}

	st := baseState()
	st.JobID = "job-1"
	out := NewSizer(engine, store, NopBroadcaster{})(context.Background(), st)

	if out.Sizing == nil || out.Sizing.PanelsRequired != 5 {
		t.Fatalf("sizing result not applied: %+v", out.Sizing)
	}
	if out.Status != state.StatusInProgress {
		t.Errorf("status = %q, want in_progress", out.Status)
	}
	if stored.PanelsRequired != 5 || stored.BatteriesRequired != 2 {
		t.Errorf("record mirror = %+v", stored)
	}
	if entry := lastEntry(t, out); entry.Outcome != state.OutcomeSized {
		t.Errorf("outcome = %q, want sized", entry.Outcome)
	}
}

func TestSizerSkipsWithoutAppliances(t *testing.T) {
	st := baseState()
	st.Appliances = nil
	out := NewSizer(&mockCalculator{}, &mockStore{}, NopBroadcaster{})(context.Background(), st)
	if entry := lastEntry(t, out); entry.Outcome != state.OutcomeSkipped {
		t.Errorf("outcome = %q, want skipped", entry.Outcome)
	}
}

func TestSizerEngineFailure(t *testing.T) {
	engine := &mockCalculator{calculateFn: func(ctx context.Context, systemType string, appliances []sizing.Appliance, pos sizing.Position, batteryType string) (sizing.Result, error) {
		return sizing.Result{}, errors.New("invalid battery_type")
	}}
	out := NewSizer(engine, &mockStore{}, NopBroadcaster{})(context.Background(), baseState())
	if entry := lastEntry(t, out); entry.Outcome != state.OutcomeFailed {
		t.Errorf("outcome = %q, want failed", entry.Outcome)
	}
	if out.Sizing != nil {
		t.Error("failed sizing must not write a result")
	}
}

// --- triager ---

func TestTriagerRecordsPrediction(t *testing.T) {
	var prediction storage.Prediction
	store := &mockStore{
		appendPredictionFn: func(p storage.Prediction) (storage.Prediction, error) {
			prediction = p
			return p, nil
		},
	}
	predictor := &mockPredictor{predictFn: func(ctx context.Context, description, systemType, batteryType string, costs triage.EquipmentCosts) triage.Result {
		return triage.Result{
			Priority: state.PriorityHigh, DurationHours: 6.3,
			LaborKsh: 7000, TransportKsh: 1300,
			TechnicianID: "tech-1", Diagnosis: "Check inverter wiring",
		}
	}}

	st := baseState()
	st.JobID = "job-1"
	out := NewTriager(predictor, store, NopBroadcaster{})(context.Background(), st)

	if out.Priority != state.PriorityHigh || out.TechnicianID != "tech-1" {
		t.Errorf("state = priority %q technician %q", out.Priority, out.TechnicianID)
	}
	if prediction.JobID != "job-1" || prediction.LaborKsh != 7000 {
		t.Errorf("prediction = %+v", prediction)
	}
	if entry := lastEntry(t, out); entry.Outcome != state.OutcomePredicted {
		t.Errorf("outcome = %q, want predicted", entry.Outcome)
	}
}

func TestTriagerUnknownJobFails(t *testing.T) {
	store := &mockStore{getJobFn: func(id string) (storage.Job, error) {
		return storage.Job{}, storage.ErrNotFound
	}}
	st := baseState()
	st.JobID = "ghost"
	out := NewTriager(&mockPredictor{}, store, NopBroadcaster{})(context.Background(), st)
	if entry := lastEntry(t, out); entry.Outcome != state.OutcomeFailed {
		t.Errorf("outcome = %q, want failed", entry.Outcome)
	}
}

// --- assigner ---

func TestAssignerResolvesTechnician(t *testing.T) {
	store := &mockStore{getTechnicianFn: func(id string) (storage.Technician, error) {
		return storage.Technician{ID: id, FirstName: "Amina", LastName: "Otieno", Email: "amina@example.com"}, nil
	}}
	st := baseState()
	st.JobID = "job-1"
	st.TechnicianID = "tech-1"

	out := NewAssigner(store, NopBroadcaster{})(context.Background(), st)

	if out.TechnicianName != "Amina Otieno" || out.TechnicianLogin != "amina@example.com" {
		t.Errorf("assigned %q / %q", out.TechnicianName, out.TechnicianLogin)
	}
	if entry := lastEntry(t, out); entry.Outcome != state.OutcomeAssigned {
		t.Errorf("outcome = %q, want assigned", entry.Outcome)
	}
}

func TestAssignerSkipsWithoutCandidate(t *testing.T) {
	out := NewAssigner(&mockStore{}, NopBroadcaster{})(context.Background(), baseState())
	if entry := lastEntry(t, out); entry.Outcome != state.OutcomeSkipped {
		t.Errorf("outcome = %q, want skipped", entry.Outcome)
	}
}

func TestAssignerSkipsWhenCandidateLeftRoster(t *testing.T) {
	store := &mockStore{getTechnicianFn: func(id string) (storage.Technician, error) {
		return storage.Technician{}, storage.ErrNotFound
	}}
	st := baseState()
	st.TechnicianID = "tech-gone"
	out := NewAssigner(store, NopBroadcaster{})(context.Background(), st)
	if entry := lastEntry(t, out); entry.Outcome != state.OutcomeSkipped {
		t.Errorf("outcome = %q, want skipped", entry.Outcome)
	}
}

// --- notifier ---

func notifyState() state.JobState {
	st := baseState()
	st.JobID = "job-1"
	st.Priority = state.PriorityHigh
	st.TechnicianID = "tech-1"
	st.TechnicianName = "Amina Otieno"
	return st
}

func techWithPhone(id string) (storage.Technician, error) {
	return storage.Technician{ID: id, Phone: "+254726598127"}, nil
}

func TestNotifierDeliversFirstTry(t *testing.T) {
	var gotPhone string
	sender := &mockSender{sendFn: func(ctx context.Context, phone, message string) (string, error) {
		gotPhone = phone
		return "msg-1", nil
	}}
	store := &mockStore{getTechnicianFn: techWithPhone}

	out := NewNotifier(sender, store, WithRetryDelay(0))(context.Background(), notifyState())

	if gotPhone != "+254726598127" {
		t.Errorf("phone = %q", gotPhone)
	}
	if entry := lastEntry(t, out); entry.Outcome != state.OutcomeNotified {
		t.Errorf("outcome = %q, want notified", entry.Outcome)
	}
}

func TestNotifierRetriesThenSucceeds(t *testing.T) {
	calls := 0
	sender := &mockSender{sendFn: func(ctx context.Context, phone, message string) (string, error) {
		calls++
		if calls < 3 {
			return "", errors.New("gateway timeout")
		}
		return "msg-1", nil
	}}
	store := &mockStore{getTechnicianFn: techWithPhone}

	out := NewNotifier(sender, store, WithRetryDelay(time.Millisecond))(context.Background(), notifyState())

	if calls != 3 {
		t.Errorf("send called %d times, want 3", calls)
	}
	if entry := lastEntry(t, out); entry.Outcome != state.OutcomeNotified {
		t.Errorf("outcome = %q, want notified", entry.Outcome)
	}
}

func TestNotifierExhaustsAttempts(t *testing.T) {
	calls := 0
	sender := &mockSender{sendFn: func(ctx context.Context, phone, message string) (string, error) {
		calls++
		return "", errors.New("gateway down")
	}}
	store := &mockStore{getTechnicianFn: techWithPhone}

	out := NewNotifier(sender, store, WithRetryDelay(time.Millisecond))(context.Background(), notifyState())

	if calls != 3 {
		t.Errorf("send called %d times, want exactly 3", calls)
	}
	if entry := lastEntry(t, out); entry.Outcome != state.OutcomeNotifyExhausted {
		t.Errorf("outcome = %q, want notify_exhausted", entry.Outcome)
	}
}

func TestNotifierSkipsUnassignedJob(t *testing.T) {
	sender := &mockSender{sendFn: func(ctx context.Context, phone, message string) (string, error) {
		t.Fatal("send must not be called")
		return "", nil
	}}
	out := NewNotifier(sender, &mockStore{}, WithRetryDelay(0))(context.Background(), baseState())
	if entry := lastEntry(t, out); entry.Outcome != state.OutcomeSkipped {
		t.Errorf("outcome = %q, want skipped", entry.Outcome)
	}
}

// --- weather checker ---

func weatherState(psh float64, lastCheck *time.Time) state.JobState {
	st := baseState()
	st.JobID = "job-1"
	st.Sizing = &sizing.Result{PeakSunHours: psh}
	st.LastWeatherCheck = lastCheck
	if lastCheck != nil {
		st.LastPeakSunHours = psh
	}
	return st
}

func TestWeatherCheckFirstRunSetsBaseline(t *testing.T) {
	out := NewWeatherChecker(staticWeather(5.5), &mockStore{}, NopBroadcaster{})(
		context.Background(), weatherState(5.5, nil))

	if out.LastWeatherCheck == nil || out.LastPeakSunHours != 5.5 {
		t.Errorf("baseline not recorded: %v %v", out.LastWeatherCheck, out.LastPeakSunHours)
	}
	if entry := lastEntry(t, out); entry.Outcome != state.OutcomeWeatherChecked {
		t.Errorf("outcome = %q, want weather_checked", entry.Outcome)
	}
}

func TestWeatherCheckTriggersResize(t *testing.T) {
	old := time.Now().UTC().Add(-time.Hour)
	out := NewWeatherChecker(staticWeather(4.0), &mockStore{}, NopBroadcaster{})(
		context.Background(), weatherState(5.5, &old))

	if entry := lastEntry(t, out); entry.Outcome != state.OutcomeTriggerResize {
		t.Errorf("outcome = %q, want trigger_resize", entry.Outcome)
	}
	if out.LastPeakSunHours != 4.0 {
		t.Errorf("baseline not updated: %v", out.LastPeakSunHours)
	}
}

func TestWeatherCheckSmallChangeNoResize(t *testing.T) {
	old := time.Now().UTC().Add(-time.Hour)
	out := NewWeatherChecker(staticWeather(5.6), &mockStore{}, NopBroadcaster{})(
		context.Background(), weatherState(5.5, &old))

	if entry := lastEntry(t, out); entry.Outcome != state.OutcomeWeatherChecked {
		t.Errorf("outcome = %q, want weather_checked", entry.Outcome)
	}
}

func TestWeatherCheckRateLimited(t *testing.T) {
	recent := time.Now().UTC().Add(-time.Minute)
	st := weatherState(5.5, &recent)

	out := NewWeatherChecker(failingWeather{}, &mockStore{}, NopBroadcaster{})(context.Background(), st)

	if entry := lastEntry(t, out); entry.Outcome != state.OutcomeSkipped {
		t.Errorf("outcome = %q, want skipped", entry.Outcome)
	}
	if !out.LastWeatherCheck.Equal(recent) {
		t.Error("rate-limited check must not move the last-check time")
	}
}

type staticWeather float64

func (s staticWeather) PeakSunHours(ctx context.Context, lat, lon float64) (float64, error) {
	return float64(s), nil
}

type failingWeather struct{}

func (failingWeather) PeakSunHours(ctx context.Context, lat, lon float64) (float64, error) {
	return 0, fmt.Errorf("weather source must not be called while rate limited")
}

// --- completer ---

func TestCompleterClosesJob(t *testing.T) {
	var stored storage.Job
	store := &mockStore{upsertJobFn: func(job storage.Job) (storage.Job, error) {
		stored = job
		return job, nil
	}}

	st := notifyState()
	st.Status = state.StatusInProgress
	st.Feedback = "Panels installed, customer satisfied"
	out := NewCompleter(store, NopBroadcaster{})(context.Background(), st)

	if out.Status != state.StatusCompleted {
		t.Errorf("status = %q, want completed", out.Status)
	}
	if stored.ActualEnd == nil {
		t.Error("actual end was not stamped")
	}
	if stored.Feedback != "Panels installed, customer satisfied" {
		t.Errorf("feedback = %q", stored.Feedback)
	}
	if entry := lastEntry(t, out); entry.Outcome != state.OutcomeCompleted {
		t.Errorf("outcome = %q, want completed", entry.Outcome)
	}
}

func TestCompleterSkipsCompletedJob(t *testing.T) {
	st := notifyState()
	st.Status = state.StatusCompleted
	out := NewCompleter(&mockStore{}, NopBroadcaster{})(context.Background(), st)
	if entry := lastEntry(t, out); entry.Outcome != state.OutcomeSkipped {
		t.Errorf("outcome = %q, want skipped", entry.Outcome)
	}
}
