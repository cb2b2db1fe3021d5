// Package warehouse is the analytical-store collaborator: a fixed taxi_trips
// schema loaded in bounded batches, with the row-count queries the persist
// stage uses for verification.
package warehouse

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "github.com/mattn/go-sqlite3"

	"taxi-etl-pipeline/internal/model"
)

// Warehouse wraps the analytical database connection.
type Warehouse struct {
	db *sql.DB
}

// Open opens (or creates) the warehouse and its taxi_trips table.
func Open(dbPath string) (*Warehouse, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open warehouse: %w", err)
	}

	schema := `
	CREATE TABLE IF NOT EXISTS taxi_trips (
		id TEXT NOT NULL,
		interval TEXT NOT NULL,
		vendor_id INTEGER,
		pickup_datetime DATETIME,
		dropoff_datetime DATETIME,
		passenger_count INTEGER,
		pickup_latitude REAL,
		pickup_longitude REAL,
		dropoff_latitude REAL,
		dropoff_longitude REAL,
		trip_duration INTEGER,
		trip_distance_km REAL,
		avg_speed_kmh REAL,
		pickup_hour INTEGER,
		pickup_day INTEGER,
		pickup_month INTEGER,
		pickup_dayofweek INTEGER,
		is_weekend INTEGER,
		is_rush_hour INTEGER,
		temperature_c REAL,
		humidity_pct REAL,
		precipitation_mm REAL,
		rain_mm REAL,
		snowfall_mm REAL,
		wind_speed_kmh REAL,
		weather_code INTEGER,
		is_raining INTEGER,
		is_snowing INTEGER,
		is_bad_weather INTEGER,
		weather_condition TEXT,
		temp_category TEXT
	);
	`
	if _, err := db.Exec(schema); err != nil {
		return nil, err
	}

	indexes := []string{
		`CREATE INDEX IF NOT EXISTS idx_taxi_trips_interval ON taxi_trips (interval)`,
		`CREATE INDEX IF NOT EXISTS idx_taxi_trips_pickup_datetime ON taxi_trips (pickup_datetime)`,
		`CREATE INDEX IF NOT EXISTS idx_taxi_trips_weather ON taxi_trips (is_raining, is_bad_weather)`,
	}
	for _, idx := range indexes {
		if _, err := db.Exec(idx); err != nil {
			return nil, err
		}
	}

	return &Warehouse{db: db}, nil
}

// Close releases the database handle.
func (w *Warehouse) Close() error { return w.db.Close() }

var tripColumns = []string{
	"id", "interval", "vendor_id", "pickup_datetime", "dropoff_datetime",
	"passenger_count", "pickup_latitude", "pickup_longitude",
	"dropoff_latitude", "dropoff_longitude", "trip_duration",
	"trip_distance_km", "avg_speed_kmh", "pickup_hour", "pickup_day",
	"pickup_month", "pickup_dayofweek", "is_weekend", "is_rush_hour",
	"temperature_c", "humidity_pct", "precipitation_mm", "rain_mm",
	"snowfall_mm", "wind_speed_kmh", "weather_code", "is_raining",
	"is_snowing", "is_bad_weather", "weather_condition", "temp_category",
}

// InsertBatch loads one batch of enriched records inside a single
// transaction. The persist stage bounds batch sizes; this method does not.
func (w *Warehouse) InsertBatch(ctx context.Context, interval string, recs []model.EnrichedRecord) error {
	if len(recs) == 0 {
		return nil
	}

	tx, err := w.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(tripColumns)), ", ")
	stmt, err := tx.PrepareContext(ctx, fmt.Sprintf(
		`INSERT INTO taxi_trips (%s) VALUES (%s)`,
		strings.Join(tripColumns, ", "), placeholders))
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, r := range recs {
		if _, err := stmt.ExecContext(ctx,
			r.ID, interval, r.VendorID, r.PickupTime.UTC(), r.DropoffTime.UTC(),
			r.PassengerCount, r.PickupLat, r.PickupLon,
			r.DropoffLat, r.DropoffLon, r.DurationSec,
			r.DistanceKM, r.AvgSpeedKMH, r.PickupHour, r.PickupDay,
			r.PickupMonth, r.PickupDOW, r.IsWeekend, r.IsRushHour,
			r.TemperatureC, r.HumidityPct, r.PrecipitationMM, r.RainMM,
			r.SnowfallMM, r.WindSpeedKMH, r.WeatherCode, r.IsRaining,
			r.IsSnowing, r.IsBadWeather, r.WeatherCondition, r.TempCategory,
		); err != nil {
			return fmt.Errorf("failed to insert trip %s: %w", r.ID, err)
		}
	}
	return tx.Commit()
}

// DeleteInterval clears every row loaded for an interval. The persist stage
// calls this before any retry, since batches are not individually idempotent.
func (w *Warehouse) DeleteInterval(ctx context.Context, interval string) error {
	_, err := w.db.ExecContext(ctx, `DELETE FROM taxi_trips WHERE interval = ?`, interval)
	return err
}

// CountInterval returns the number of rows loaded for an interval.
func (w *Warehouse) CountInterval(ctx context.Context, interval string) (int, error) {
	var n int
	err := w.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM taxi_trips WHERE interval = ?`, interval).Scan(&n)
	return n, err
}
