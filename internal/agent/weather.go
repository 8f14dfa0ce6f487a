package agent

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/solarsync/solarsync/internal/sizing"
	"github.com/solarsync/solarsync/internal/state"
)

const (
	weatherCheckInterval = 30 * time.Minute
	resizeThreshold      = 0.05
)

// WeatherOption adjusts the weather-check agent.
type WeatherOption func(*weatherChecker)

// WithCheckInterval overrides the minimum time between checks for one job.
func WithCheckInterval(d time.Duration) WeatherOption {
	return func(w *weatherChecker) { w.interval = d }
}

// WithClock overrides the time source, used by tests.
func WithClock(now func() time.Time) WeatherOption {
	return func(w *weatherChecker) { w.now = now }
}

type weatherChecker struct {
	weather   sizing.WeatherSource
	store     Store
	broadcast Broadcaster
	interval  time.Duration
	now       func() time.Time
}

// NewWeatherChecker returns the weather-check agent. It re-reads peak sun
// hours for the site and flags the job for re-sizing when conditions moved
// more than the threshold since the figure the system was sized against.
// Checks are rate-limited per job.
func NewWeatherChecker(weather sizing.WeatherSource, store Store, broadcast Broadcaster, opts ...WeatherOption) Func {
	w := &weatherChecker{
		weather:   weather,
		store:     store,
		broadcast: broadcast,
		interval:  weatherCheckInterval,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w.run
}

func (w *weatherChecker) run(ctx context.Context, st state.JobState) state.JobState {
	if st.Position == nil {
		return st.Append(state.NodeWeatherCheck, state.OutcomeSkipped,
			"no site position, weather check skipped")
	}

	now := w.now().UTC()
	if st.LastWeatherCheck != nil && now.Sub(*st.LastWeatherCheck) < w.interval {
		return st.Append(state.NodeWeatherCheck, state.OutcomeSkipped,
			fmt.Sprintf("checked %s ago, rate limited", now.Sub(*st.LastWeatherCheck).Round(time.Second)))
	}

	psh, err := w.weather.PeakSunHours(ctx, st.Position.Lat, st.Position.Lon)
	if err != nil {
		return st.Append(state.NodeWeatherCheck, state.OutcomeFailed,
			fmt.Sprintf("fetching peak sun hours: %v", err))
	}

	baseline := st.LastPeakSunHours
	if baseline == 0 && st.Sizing != nil {
		baseline = st.Sizing.PeakSunHours
	}

	next := st.Clone()
	next.LastWeatherCheck = &now
	next.LastPeakSunHours = psh

	committed, ok := commit(next, state.NodeWeatherCheck, w.store, w.broadcast)
	if !ok {
		return committed
	}

	if baseline > 0 {
		change := math.Abs(psh-baseline) / baseline
		if change > resizeThreshold {
			slog.Info("weather shifted past threshold", "job_id", next.JobID,
				"baseline", baseline, "current", psh, "change", change)
			return committed.Append(state.NodeWeatherCheck, state.OutcomeTriggerResize,
				fmt.Sprintf("Peak sun hours moved %.1f%% (%.2f to %.2f), re-sizing", change*100, baseline, psh))
		}
	}

	return committed.Append(state.NodeWeatherCheck, state.OutcomeWeatherChecked,
		fmt.Sprintf("Peak sun hours steady at %.2f", psh))
}
