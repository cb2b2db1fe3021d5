package model

import "time"

// TripRecord is one cleaned, feature-augmented taxi trip.
//
// Rows violating the transform invariants (duration bounds, bounding box,
// passenger count, speed outliers) are dropped during processing and never
// reach this type.
type TripRecord struct {
	ID             string    `json:"id"`
	VendorID       int       `json:"vendor_id"`
	PickupTime     time.Time `json:"pickup_datetime"`
	DropoffTime    time.Time `json:"dropoff_datetime"`
	PassengerCount int       `json:"passenger_count"`
	PickupLat      float64   `json:"pickup_latitude"`
	PickupLon      float64   `json:"pickup_longitude"`
	DropoffLat     float64   `json:"dropoff_latitude"`
	DropoffLon     float64   `json:"dropoff_longitude"`
	DurationSec    int       `json:"trip_duration"`

	// Derived features
	DistanceKM  float64 `json:"trip_distance_km"`
	AvgSpeedKMH float64 `json:"avg_speed_kmh"`
	PickupHour  int     `json:"pickup_hour"`
	PickupDay   int     `json:"pickup_day"`
	PickupMonth int     `json:"pickup_month"`
	PickupDOW   int     `json:"pickup_dayofweek"` // Monday = 0
	IsWeekend   int     `json:"is_weekend"`
	IsRushHour  int     `json:"is_rush_hour"`
}

// EnrichedRecord joins a TripRecord with the weather observation nearest to
// its pickup hour. Weather fields are nil when no observation covered that
// hour; the trip itself is never dropped for missing weather.
type EnrichedRecord struct {
	TripRecord

	TemperatureC    *float64 `json:"temperature_c"`
	HumidityPct     *float64 `json:"humidity_pct"`
	PrecipitationMM *float64 `json:"precipitation_mm"`
	RainMM          *float64 `json:"rain_mm"`
	SnowfallMM      *float64 `json:"snowfall_mm"`
	WindSpeedKMH    *float64 `json:"wind_speed_kmh"`
	WeatherCode     *int     `json:"weather_code"`

	IsRaining        int    `json:"is_raining"`
	IsSnowing        int    `json:"is_snowing"`
	IsBadWeather     int    `json:"is_bad_weather"`
	WeatherCondition string `json:"weather_condition"`
	TempCategory     string `json:"temp_category"` // Cold, Cool, Warm, Hot
}

// ModelMetrics is the metrics record produced by the training stage.
type ModelMetrics struct {
	TrainedAt          time.Time          `json:"trained_at"`
	TrainRows          int                `json:"train_rows"`
	TestRows           int                `json:"test_rows"`
	Seed               int64              `json:"seed"`
	MAESeconds         float64            `json:"mae_seconds"`
	RMSESeconds        float64            `json:"rmse_seconds"`
	R2Score            float64            `json:"r2_score"`
	FeatureImportances map[string]float64 `json:"feature_importances"`
}

// StatusMessage is the structured notification sent when a run finishes.
type StatusMessage struct {
	RunID    string            `json:"run_id"`
	Interval string            `json:"interval"`
	Success  bool              `json:"success"`
	Error    string            `json:"error,omitempty"`
	Metrics  map[string]string `json:"metrics,omitempty"`
}
