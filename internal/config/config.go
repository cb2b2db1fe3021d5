// Package config provides environment-driven configuration for the pipeline.
// A Config is loaded once per process and passed explicitly to the scheduler,
// ledger, artifact store and stages; there is no package-level state.
package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"

	"taxi-etl-pipeline/internal/model"
)

// BoundingBox is the metropolitan area trips must fall inside.
type BoundingBox struct {
	LatMin, LatMax float64
	LonMin, LonMax float64
}

// Contains reports whether (lat, lon) lies within the box.
func (b BoundingBox) Contains(lat, lon float64) bool {
	return lat >= b.LatMin && lat <= b.LatMax && lon >= b.LonMin && lon <= b.LonMax
}

// Config holds every tunable of the pipeline. Defaults reproduce the NYC
// taxi dataset setup.
type Config struct {
	// Paths
	RawDataPath   string // input CSV the sensor stage waits for
	ArtifactRoot  string // staging area for stage outputs
	LedgerPath    string // sqlite file backing the run ledger
	WarehousePath string // sqlite file backing the analytical store

	// Transform invariants
	Bounds              BoundingBox
	MinDurationSec      int
	MaxDurationSec      int
	MinSpeedKMH         float64
	MaxSpeedKMH         float64
	MinSurvivalFraction float64 // below this, the transform fails with DataQualityError

	// Training
	MinTrainingRows int
	TestFraction    float64
	Seed            int64

	// Warehouse load
	LoadBatchSize int

	// Scheduling
	MaxRetries    int           // extra attempts after the first failure
	RetryBackoff  time.Duration // fixed delay between attempts
	StageTimeout  time.Duration // wall-clock budget per stage instance
	GracePeriod   time.Duration // how long running stages may finish after cancellation
	StaleRunAfter time.Duration // age past which a running run record counts as abandoned; 0 derives from the stage budget

	// Input sensor
	PollInterval time.Duration
	PollTimeout  time.Duration

	// Weather collaborator
	WeatherBaseURL    string
	WeatherLat        float64
	WeatherLon        float64
	WeatherMaxRetries int

	// Notification collaborator
	SlackWebhookURL string

	// HTTP API
	HTTPAddr string
}

// Load reads configuration from the environment, honoring a .env file when
// present. Invalid values are a ConfigurationError and abort before any run.
func Load() (*Config, error) {
	_ = godotenv.Load()

	var envErr error
	cfg := &Config{
		RawDataPath:   envString("RAW_DATA_PATH", "data/raw/train.csv"),
		ArtifactRoot:  envString("ARTIFACT_ROOT", "data/artifacts"),
		LedgerPath:    envString("LEDGER_PATH", "data/ledger.db"),
		WarehousePath: envString("WAREHOUSE_PATH", "data/warehouse.db"),

		Bounds: BoundingBox{
			LatMin: envFloat("BBOX_LAT_MIN", 40.4, &envErr),
			LatMax: envFloat("BBOX_LAT_MAX", 41.0, &envErr),
			LonMin: envFloat("BBOX_LON_MIN", -74.3, &envErr),
			LonMax: envFloat("BBOX_LON_MAX", -73.7, &envErr),
		},
		MinDurationSec:      envInt("MIN_TRIP_DURATION_SEC", 60, &envErr),
		MaxDurationSec:      envInt("MAX_TRIP_DURATION_SEC", 86400, &envErr),
		MinSpeedKMH:         envFloat("MIN_AVG_SPEED_KMH", 0.5, &envErr),
		MaxSpeedKMH:         envFloat("MAX_AVG_SPEED_KMH", 100, &envErr),
		MinSurvivalFraction: envFloat("MIN_SURVIVAL_FRACTION", 0.5, &envErr),

		MinTrainingRows: envInt("MIN_TRAINING_ROWS", 100, &envErr),
		TestFraction:    envFloat("TEST_FRACTION", 0.2, &envErr),
		Seed:            int64(envInt("TRAINING_SEED", 42, &envErr)),

		LoadBatchSize: envInt("LOAD_BATCH_SIZE", 5000, &envErr),

		MaxRetries:    envInt("STAGE_MAX_RETRIES", 1, &envErr),
		RetryBackoff:  envDuration("STAGE_RETRY_BACKOFF", 5*time.Second, &envErr),
		StageTimeout:  envDuration("STAGE_TIMEOUT", 2*time.Hour, &envErr),
		GracePeriod:   envDuration("CANCEL_GRACE_PERIOD", 30*time.Second, &envErr),
		StaleRunAfter: envDuration("STALE_RUN_AFTER", 0, &envErr),

		PollInterval: envDuration("SENSOR_POLL_INTERVAL", 30*time.Second, &envErr),
		PollTimeout:  envDuration("SENSOR_POLL_TIMEOUT", 5*time.Minute, &envErr),

		WeatherBaseURL:    envString("WEATHER_BASE_URL", "https://archive-api.open-meteo.com/v1/archive"),
		WeatherLat:        envFloat("WEATHER_LAT", 40.7128, &envErr),
		WeatherLon:        envFloat("WEATHER_LON", -74.0060, &envErr),
		WeatherMaxRetries: envInt("WEATHER_MAX_RETRIES", 2, &envErr),

		SlackWebhookURL: os.Getenv("SLACK_WEBHOOK_URL"),

		HTTPAddr: envString("HTTP_ADDR", ":8080"),
	}
	if envErr != nil {
		return nil, envErr
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects configurations the pipeline cannot run with.
func (c *Config) Validate() error {
	if c.MinDurationSec >= c.MaxDurationSec {
		return model.ConfigErrorf("trip duration bounds inverted: min %d >= max %d", c.MinDurationSec, c.MaxDurationSec)
	}
	if c.Bounds.LatMin >= c.Bounds.LatMax || c.Bounds.LonMin >= c.Bounds.LonMax {
		return model.ConfigErrorf("bounding box is empty")
	}
	if c.MinSurvivalFraction < 0 || c.MinSurvivalFraction > 1 {
		return model.ConfigErrorf("MIN_SURVIVAL_FRACTION must be in [0, 1], got %v", c.MinSurvivalFraction)
	}
	if c.TestFraction <= 0 || c.TestFraction >= 1 {
		return model.ConfigErrorf("TEST_FRACTION must be in (0, 1), got %v", c.TestFraction)
	}
	if c.LoadBatchSize <= 0 {
		return model.ConfigErrorf("LOAD_BATCH_SIZE must be positive, got %d", c.LoadBatchSize)
	}
	if c.MaxRetries < 0 {
		return model.ConfigErrorf("STAGE_MAX_RETRIES must be non-negative, got %d", c.MaxRetries)
	}
	return nil
}

func envString(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// The typed helpers record the first parse failure in errp; Load checks it
// once after reading everything, so a bad value can never silently become
// its default.
func envInt(key string, def int, errp *error) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		setEnvErr(errp, key, v, "an integer")
		return def
	}
	return n
}

func envFloat(key string, def float64, errp *error) float64 {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		setEnvErr(errp, key, v, "a number")
		return def
	}
	return f
}

func envDuration(key string, def time.Duration, errp *error) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		setEnvErr(errp, key, v, `a duration like "30s" or "2h"`)
		return def
	}
	return d
}

func setEnvErr(errp *error, key, value, want string) {
	if *errp == nil {
		*errp = model.ConfigErrorf("%s must be %s, got %q", key, want, value)
	}
}
