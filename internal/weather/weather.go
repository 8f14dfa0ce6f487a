// Package weather resolves peak sun hours for a location from the
// Open-Meteo forecast API. The client owns its caching and fallback policy:
// fetch failures degrade to a latitude-band estimate instead of erroring, so
// sizing keeps working when the provider is unreachable.
package weather

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"net/url"
	"sync"
	"time"
)

const defaultBaseURL = "https://api.open-meteo.com"

// megajoules per kWh; Open-Meteo reports daily radiation in MJ/m².
const mjPerKwh = 3.6

// Client fetches daily solar radiation and converts it to peak sun hours.
type Client struct {
	baseURL    string
	httpClient *http.Client
	cacheTTL   time.Duration

	mu    sync.Mutex
	cache map[string]cacheEntry
}

type cacheEntry struct {
	psh     float64
	fetched time.Time
}

// NewClient creates a Client for the given base URL ("" for the public
// Open-Meteo endpoint). cacheTTL <= 0 defaults to 30 minutes.
func NewClient(baseURL string, cacheTTL time.Duration) *Client {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	if cacheTTL <= 0 {
		cacheTTL = 30 * time.Minute
	}
	return &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		cacheTTL:   cacheTTL,
		cache:      make(map[string]cacheEntry),
	}
}

// PeakSunHours returns the location's daily peak sun hours. Results are
// cached per coordinate (rounded to two decimals); on fetch failure a
// latitude-band fallback is returned, never an error.
func (c *Client) PeakSunHours(ctx context.Context, lat, lon float64) (float64, error) {
	key := fmt.Sprintf("%.2f,%.2f", lat, lon)

	c.mu.Lock()
	if entry, ok := c.cache[key]; ok && time.Since(entry.fetched) < c.cacheTTL {
		c.mu.Unlock()
		return entry.psh, nil
	}
	c.mu.Unlock()

	psh, err := c.fetch(ctx, lat, lon)
	if err != nil {
		fallback := FallbackPeakSunHours(lat)
		slog.Warn("weather: fetch failed, using latitude fallback",
			"lat", lat, "lon", lon, "fallback", fallback, "error", err)
		return fallback, nil
	}

	c.mu.Lock()
	c.cache[key] = cacheEntry{psh: psh, fetched: time.Now()}
	c.mu.Unlock()
	return psh, nil
}

func (c *Client) fetch(ctx context.Context, lat, lon float64) (float64, error) {
	q := url.Values{}
	q.Set("latitude", fmt.Sprintf("%.4f", lat))
	q.Set("longitude", fmt.Sprintf("%.4f", lon))
	q.Set("daily", "shortwave_radiation_sum")
	q.Set("timezone", "UTC")
	q.Set("forecast_days", "1")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/v1/forecast?"+q.Encode(), nil)
	if err != nil {
		return 0, fmt.Errorf("building request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("fetching forecast: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return 0, fmt.Errorf("forecast returned status %d: %s", resp.StatusCode, body)
	}

	var payload struct {
		Daily struct {
			ShortwaveRadiationSum []float64 `json:"shortwave_radiation_sum"`
		} `json:"daily"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return 0, fmt.Errorf("decoding forecast: %w", err)
	}
	if len(payload.Daily.ShortwaveRadiationSum) == 0 {
		return 0, fmt.Errorf("forecast contains no radiation data")
	}

	// MJ/m²/day over 1 kW/m² standard irradiance gives peak sun hours.
	psh := payload.Daily.ShortwaveRadiationSum[0] / mjPerKwh
	if psh <= 0 {
		return 0, fmt.Errorf("forecast radiation is non-positive: %v", psh)
	}
	return psh, nil
}

// FallbackPeakSunHours estimates peak sun hours from latitude alone, used
// when the forecast service is unavailable.
func FallbackPeakSunHours(lat float64) float64 {
	switch abs := math.Abs(lat); {
	case abs < 10:
		return 5.5
	case abs < 23.5:
		return 5.0
	case abs < 35:
		return 4.5
	case abs < 50:
		return 4.0
	default:
		return 3.5
	}
}

// Static is a fixed-value weather source for offline sizing and tests.
type Static float64

// PeakSunHours returns the fixed value regardless of location.
func (s Static) PeakSunHours(ctx context.Context, lat, lon float64) (float64, error) {
	return float64(s), nil
}
