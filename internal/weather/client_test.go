package weather

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const archiveBody = `{
  "hourly": {
    "time": ["2016-01-15T00:00", "2016-01-15T01:00", "2016-01-15T02:00"],
    "temperature_2m": [-1.5, -2.0, -2.2],
    "relative_humidity_2m": [80, 82, 85],
    "precipitation": [0.0, 0.4, 0.0],
    "rain": [0.0, 0.4, 0.0],
    "snowfall": [0.0, 0.0, 0.1],
    "wind_speed_10m": [12.3, 14.0, 15.5],
    "weather_code": [0, 61, 71]
  }
}`

func TestDayParsesHourlyObservations(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "2016-01-15", r.URL.Query().Get("start_date"))
		assert.Equal(t, "2016-01-15", r.URL.Query().Get("end_date"))
		assert.NotEmpty(t, r.URL.Query().Get("hourly"))
		w.Write([]byte(archiveBody))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, 40.7128, -74.0060, 0)
	obs, err := c.Day(context.Background(), time.Date(2016, 1, 15, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	require.Len(t, obs, 3)

	assert.Equal(t, time.Date(2016, 1, 15, 1, 0, 0, 0, time.UTC), obs[1].Time)
	assert.Equal(t, -2.0, obs[1].TemperatureC)
	assert.Equal(t, 0.4, obs[1].RainMM)
	assert.Equal(t, 61, obs[1].Code)
	assert.Equal(t, 0.1, obs[2].SnowfallMM)
}

func TestDayRetriesTransientFailures(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Write([]byte(archiveBody))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, 40.7128, -74.0060, 3)
	obs, err := c.Day(context.Background(), time.Date(2016, 1, 15, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Len(t, obs, 3)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestDayGivesUpAfterRetryBudget(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, 40.7128, -74.0060, 2)
	_, err := c.Day(context.Background(), time.Date(2016, 1, 15, 0, 0, 0, 0, time.UTC))
	require.Error(t, err)
	// Initial attempt plus two retries.
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestConditionName(t *testing.T) {
	assert.Equal(t, "Clear", ConditionName(0))
	assert.Equal(t, "Moderate Rain", ConditionName(63))
	assert.Equal(t, "Thunderstorm", ConditionName(95))
	assert.Equal(t, "Unknown", ConditionName(1234))

	assert.True(t, IsSevere(45))
	assert.True(t, IsSevere(99))
	assert.False(t, IsSevere(61))
}
