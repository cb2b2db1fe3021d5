package stages

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"taxi-etl-pipeline/internal/artifact"
	"taxi-etl-pipeline/internal/config"
	"taxi-etl-pipeline/internal/ledger"
	"taxi-etl-pipeline/internal/model"
	"taxi-etl-pipeline/internal/warehouse"
	"taxi-etl-pipeline/internal/weather"
)

const testInterval = "2016-01-15"

// testEnv wires a complete stage environment against temp files. The
// weather provider defaults to a clearDayProvider; tests swap it as needed.
func testEnv(t *testing.T) *Env {
	t.Helper()
	dir := t.TempDir()

	l, err := ledger.Open(filepath.Join(dir, "ledger.db"))
	require.NoError(t, err)
	t.Cleanup(func() { l.Close() })

	w, err := warehouse.Open(filepath.Join(dir, "warehouse.db"))
	require.NoError(t, err)
	t.Cleanup(func() { w.Close() })

	return &Env{
		Cfg: &config.Config{
			RawDataPath: filepath.Join(dir, "raw.csv"),
			Bounds: config.BoundingBox{
				LatMin: 40.4, LatMax: 41.0, LonMin: -74.3, LonMax: -73.7,
			},
			MinDurationSec:      60,
			MaxDurationSec:      86400,
			MinSpeedKMH:         0.5,
			MaxSpeedKMH:         100,
			MinSurvivalFraction: 0.5,
			MinTrainingRows:     10,
			TestFraction:        0.2,
			Seed:                42,
			LoadBatchSize:       300,
			PollInterval:        5 * time.Millisecond,
			PollTimeout:         200 * time.Millisecond,
		},
		Artifacts: artifact.NewStore(filepath.Join(dir, "artifacts")),
		Ledger:    l,
		Warehouse: w,
		Weather:   &clearDayProvider{},
	}
}

var rawHeader = []string{
	"id", "vendor_id", "pickup_datetime", "dropoff_datetime",
	"passenger_count", "pickup_longitude", "pickup_latitude",
	"dropoff_longitude", "dropoff_latitude", "store_and_fwd_flag",
	"trip_duration",
}

// goodRawRow is a valid midtown trip: ~1.4 km in 10 minutes.
func goodRawRow(i int) []string {
	pickup := time.Date(2016, 1, 15, 8, 0, 0, 0, time.UTC).Add(time.Duration(i) * time.Second)
	return []string{
		fmt.Sprintf("id%07d", i), "1",
		pickup.Format(rawTimeLayout),
		pickup.Add(10 * time.Minute).Format(rawTimeLayout),
		"1", "-73.98", "40.75", "-73.97", "40.76", "N", "600",
	}
}

func writeRawCSV(t *testing.T, e *Env, rows [][]string) {
	t.Helper()
	f, err := os.Create(e.Cfg.RawDataPath)
	require.NoError(t, err)
	cw := csv.NewWriter(f)
	require.NoError(t, cw.Write(rawHeader))
	require.NoError(t, cw.WriteAll(rows))
	cw.Flush()
	require.NoError(t, cw.Error())
	require.NoError(t, f.Close())
}

func writeFile(path, content string) error {
	return os.WriteFile(path, []byte(content), 0o644)
}

// clearDayProvider returns 24 dry hourly observations for any date.
type clearDayProvider struct {
	calls int
}

func (p *clearDayProvider) Day(ctx context.Context, date time.Time) ([]weather.Observation, error) {
	p.calls++
	obs := make([]weather.Observation, 0, 24)
	for h := 0; h < 24; h++ {
		obs = append(obs, weather.Observation{
			Time:         date.Add(time.Duration(h) * time.Hour),
			TemperatureC: 5,
			WindSpeedKMH: 10,
			Code:         0,
		})
	}
	return obs, nil
}

func readEnrichedArtifact(t *testing.T, e *Env) []model.EnrichedRecord {
	t.Helper()
	f, err := os.Open(e.Artifacts.Path(testInterval, ArtifactEnriched))
	require.NoError(t, err)
	defer f.Close()
	recs, err := readEnrichedCSV(f)
	require.NoError(t, err)
	return recs
}

func readCleanedArtifact(t *testing.T, e *Env) []model.TripRecord {
	t.Helper()
	f, err := os.Open(e.Artifacts.Path(testInterval, ArtifactCleaned))
	require.NoError(t, err)
	defer f.Close()
	recs, err := readCleanedCSV(f)
	require.NoError(t, err)
	return recs
}
