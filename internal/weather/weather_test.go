package weather

import (
	"context"
	"fmt"
	"math"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func radiationServer(t *testing.T, mj float64, hits *atomic.Int64) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits != nil {
			hits.Add(1)
		}
		if r.URL.Path != "/v1/forecast" {
			http.NotFound(w, r)
			return
		}
		fmt.Fprintf(w, `{"daily":{"shortwave_radiation_sum":[%v]}}`, mj)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestPeakSunHoursConvertsRadiation(t *testing.T) {
	srv := radiationServer(t, 19.8, nil) // 19.8 MJ/m² = 5.5 kWh/m²
	c := NewClient(srv.URL, time.Minute)

	psh, err := c.PeakSunHours(context.Background(), -1.27, 36.84)
	if err != nil {
		t.Fatalf("PeakSunHours: %v", err)
	}
	if math.Abs(psh-5.5) > 1e-9 {
		t.Errorf("psh = %v, want 5.5", psh)
	}
}

func TestPeakSunHoursCaches(t *testing.T) {
	var hits atomic.Int64
	srv := radiationServer(t, 18.0, &hits)
	c := NewClient(srv.URL, time.Minute)

	for i := 0; i < 3; i++ {
		if _, err := c.PeakSunHours(context.Background(), 0.5, 34.5); err != nil {
			t.Fatalf("PeakSunHours: %v", err)
		}
	}
	if hits.Load() != 1 {
		t.Errorf("server hit %d times, want 1 (cached)", hits.Load())
	}

	// A different coordinate misses the cache.
	if _, err := c.PeakSunHours(context.Background(), 10.5, 34.5); err != nil {
		t.Fatalf("PeakSunHours: %v", err)
	}
	if hits.Load() != 2 {
		t.Errorf("server hit %d times, want 2", hits.Load())
	}
}

func TestPeakSunHoursFallbackOnFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()
	c := NewClient(srv.URL, time.Minute)

	psh, err := c.PeakSunHours(context.Background(), -1.27, 36.84)
	if err != nil {
		t.Fatalf("fallback should not error: %v", err)
	}
	if psh != 5.5 {
		t.Errorf("psh = %v, want equatorial fallback 5.5", psh)
	}
}

func TestFallbackBands(t *testing.T) {
	cases := []struct {
		lat  float64
		want float64
	}{
		{0, 5.5}, {-9.9, 5.5}, {15, 5.0}, {-30, 4.5}, {45, 4.0}, {60, 3.5},
	}
	for _, tc := range cases {
		if got := FallbackPeakSunHours(tc.lat); got != tc.want {
			t.Errorf("FallbackPeakSunHours(%v) = %v, want %v", tc.lat, got, tc.want)
		}
	}
}

func TestStatic(t *testing.T) {
	psh, err := Static(4.2).PeakSunHours(context.Background(), 80, 80)
	if err != nil || psh != 4.2 {
		t.Fatalf("Static = %v, %v", psh, err)
	}
}
