// Package weather is the historical-weather collaborator. The pipeline only
// sees the narrow Provider interface; the concrete client talks to the
// Open-Meteo archive API and owns its own retry/backoff policy.
package weather

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Observation is one hourly weather record.
type Observation struct {
	Time            time.Time `json:"time"`
	TemperatureC    float64   `json:"temperature_c"`
	HumidityPct     float64   `json:"humidity_pct"`
	PrecipitationMM float64   `json:"precipitation_mm"`
	RainMM          float64   `json:"rain_mm"`
	SnowfallMM      float64   `json:"snowfall_mm"`
	WindSpeedKMH    float64   `json:"wind_speed_kmh"`
	Code            int       `json:"weather_code"`
}

// Provider returns the hourly observations for one calendar day. The
// enrichment stage calls it once per unique pickup date, never per trip.
type Provider interface {
	Day(ctx context.Context, date time.Time) ([]Observation, error)
}

// Client fetches hourly history from the Open-Meteo archive API.
type Client struct {
	BaseURL    string
	Lat, Lon   float64
	MaxRetries uint64

	httpClient *http.Client
}

// NewClient builds a client for a fixed observation point.
func NewClient(baseURL string, lat, lon float64, maxRetries int) *Client {
	return &Client{
		BaseURL:    baseURL,
		Lat:        lat,
		Lon:        lon,
		MaxRetries: uint64(maxRetries),
		httpClient: &http.Client{Timeout: 60 * time.Second},
	}
}

const hourlyFields = "temperature_2m,relative_humidity_2m,precipitation,rain,snowfall,wind_speed_10m,weather_code"

type archiveResponse struct {
	Hourly struct {
		Time          []string  `json:"time"`
		Temperature2M []float64 `json:"temperature_2m"`
		Humidity2M    []float64 `json:"relative_humidity_2m"`
		Precipitation []float64 `json:"precipitation"`
		Rain          []float64 `json:"rain"`
		Snowfall      []float64 `json:"snowfall"`
		WindSpeed10M  []float64 `json:"wind_speed_10m"`
		WeatherCode   []int     `json:"weather_code"`
	} `json:"hourly"`
}

// Day fetches the 24 hourly observations for date, retrying transient
// failures with exponential backoff up to MaxRetries extra attempts.
func (c *Client) Day(ctx context.Context, date time.Time) ([]Observation, error) {
	day := date.Format("2006-01-02")

	var obs []Observation
	operation := func() error {
		var err error
		obs, err = c.fetch(ctx, day)
		return err
	}

	b := backoff.WithMaxRetries(backoff.NewExponentialBackOff(), c.MaxRetries)
	if err := backoff.Retry(operation, backoff.WithContext(b, ctx)); err != nil {
		return nil, fmt.Errorf("weather fetch for %s: %w", day, err)
	}
	return obs, nil
}

func (c *Client) fetch(ctx context.Context, day string) ([]Observation, error) {
	q := url.Values{}
	q.Set("latitude", fmt.Sprintf("%.4f", c.Lat))
	q.Set("longitude", fmt.Sprintf("%.4f", c.Lon))
	q.Set("start_date", day)
	q.Set("end_date", day)
	q.Set("hourly", hourlyFields)
	q.Set("timezone", "UTC")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+"?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("weather request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("weather provider returned status %d", resp.StatusCode)
	}

	var body archiveResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("failed to decode weather response: %w", err)
	}

	h := body.Hourly
	obs := make([]Observation, 0, len(h.Time))
	for i, ts := range h.Time {
		at, err := time.Parse("2006-01-02T15:04", ts)
		if err != nil {
			return nil, fmt.Errorf("bad hourly timestamp %q: %w", ts, err)
		}
		o := Observation{Time: at}
		if i < len(h.Temperature2M) {
			o.TemperatureC = h.Temperature2M[i]
		}
		if i < len(h.Humidity2M) {
			o.HumidityPct = h.Humidity2M[i]
		}
		if i < len(h.Precipitation) {
			o.PrecipitationMM = h.Precipitation[i]
		}
		if i < len(h.Rain) {
			o.RainMM = h.Rain[i]
		}
		if i < len(h.Snowfall) {
			o.SnowfallMM = h.Snowfall[i]
		}
		if i < len(h.WindSpeed10M) {
			o.WindSpeedKMH = h.WindSpeed10M[i]
		}
		if i < len(h.WeatherCode) {
			o.Code = h.WeatherCode[i]
		}
		obs = append(obs, o)
	}
	return obs, nil
}

// wmoConditions decodes WMO weather codes (see open-meteo.com/en/docs).
var wmoConditions = map[int]string{
	0:  "Clear",
	1:  "Mainly Clear",
	2:  "Partly Cloudy",
	3:  "Overcast",
	45: "Fog",
	48: "Depositing Rime Fog",
	51: "Light Drizzle",
	53: "Moderate Drizzle",
	55: "Dense Drizzle",
	61: "Slight Rain",
	63: "Moderate Rain",
	65: "Heavy Rain",
	66: "Light Freezing Rain",
	67: "Heavy Freezing Rain",
	71: "Slight Snow",
	73: "Moderate Snow",
	75: "Heavy Snow",
	77: "Snow Grains",
	80: "Slight Rain Showers",
	81: "Moderate Rain Showers",
	82: "Violent Rain Showers",
	85: "Slight Snow Showers",
	86: "Heavy Snow Showers",
	95: "Thunderstorm",
	96: "Thunderstorm with Hail",
	99: "Thunderstorm with Heavy Hail",
}

// severeCodes flag conditions that count as bad weather on their own.
var severeCodes = map[int]bool{45: true, 48: true, 95: true, 96: true, 99: true}

// ConditionName returns the human-readable name for a WMO weather code.
func ConditionName(code int) string {
	if name, ok := wmoConditions[code]; ok {
		return name
	}
	return "Unknown"
}

// IsSevere reports whether the code alone marks bad weather (fog,
// thunderstorms), independent of rain or snowfall amounts.
func IsSevere(code int) bool { return severeCodes[code] }
