package stages

import (
	"context"
	"encoding/csv"
	"io"
	"log"
	"math"
	"os"
	"strings"
	"time"

	"taxi-etl-pipeline/internal/model"
	"taxi-etl-pipeline/pkg/utils"
)

// rawTimeLayout is the timestamp format of the raw trip CSV.
const rawTimeLayout = "2006-01-02 15:04:05"

// rawColumns are the columns the transform needs from the raw file. Extra
// columns (store_and_fwd_flag and friends) are ignored.
var rawColumns = []string{
	"id", "vendor_id", "pickup_datetime", "dropoff_datetime",
	"passenger_count", "pickup_longitude", "pickup_latitude",
	"dropoff_longitude", "dropoff_latitude", "trip_duration",
}

// ProcessData cleans the raw trip file and derives the trip-level features.
// Rows violating any invariant (duration bounds, passenger count, bounding
// box, speed outliers, unparseable cells) are dropped; if fewer than the
// configured fraction survive, the whole batch is rejected as a
// DataQualityError. Input order is preserved, so the stage is deterministic.
func (e *Env) ProcessData(ctx context.Context, interval string) ([]string, error) {
	f, err := os.Open(e.Cfg.RawDataPath)
	if err != nil {
		return nil, model.DataQualityErrorf("cannot open raw data: %v", err)
	}
	defer f.Close()

	clean, total, err := e.transformRows(ctx, f)
	if err != nil {
		return nil, err
	}
	if total == 0 {
		return nil, model.DataQualityErrorf("raw file %s has no data rows", e.Cfg.RawDataPath)
	}

	survival := float64(len(clean)) / float64(total)
	log.Printf("🧹 process_data: %d/%d rows survived cleaning (%.1f%%)",
		len(clean), total, survival*100)
	if survival < e.Cfg.MinSurvivalFraction {
		return nil, model.DataQualityErrorf(
			"only %.1f%% of %d rows survived cleaning, minimum is %.1f%%",
			survival*100, total, e.Cfg.MinSurvivalFraction*100)
	}

	if _, err := e.Artifacts.Write(interval, ArtifactCleaned, func(w io.Writer) error {
		return writeCleanedCSV(w, clean)
	}); err != nil {
		return nil, err
	}
	return []string{ArtifactCleaned}, nil
}

// transformRows streams the raw CSV, returning the surviving records and the
// total number of data rows seen.
func (e *Env) transformRows(ctx context.Context, r io.Reader) ([]model.TripRecord, int, error) {
	cr := csv.NewReader(r)
	cr.LazyQuotes = true

	header, err := cr.Read()
	if err != nil {
		return nil, 0, model.DataQualityErrorf("cannot read raw header: %v", err)
	}
	col := make(map[string]int, len(header))
	for i, h := range header {
		col[strings.ReplaceAll(strings.TrimSpace(h), `"`, "")] = i
	}
	for _, want := range rawColumns {
		if _, ok := col[want]; !ok {
			return nil, 0, model.DataQualityErrorf("raw file is missing column %q", want)
		}
	}

	var clean []model.TripRecord
	total := 0
	for {
		if total%10000 == 0 && ctx.Err() != nil {
			return nil, 0, ctx.Err()
		}
		row, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			total++
			continue // malformed row, drop it
		}
		total++

		rec, ok := e.parseRow(row, col)
		if !ok {
			continue
		}
		clean = append(clean, rec)
	}
	return clean, total, nil
}

// parseRow turns one raw row into a cleaned, feature-augmented record, or
// reports false when any invariant rejects it.
func (e *Env) parseRow(row []string, col map[string]int) (model.TripRecord, bool) {
	var zero model.TripRecord
	cell := func(name string) string { return row[col[name]] }

	duration, err := utils.ParseIntCell(cell("trip_duration"))
	if err != nil || duration < e.Cfg.MinDurationSec || duration > e.Cfg.MaxDurationSec {
		return zero, false
	}
	passengers, err := utils.ParseIntCell(cell("passenger_count"))
	if err != nil || passengers < 1 {
		return zero, false
	}
	vendor, err := utils.ParseIntCell(cell("vendor_id"))
	if err != nil {
		return zero, false
	}
	pickup, err := time.Parse(rawTimeLayout, strings.TrimSpace(cell("pickup_datetime")))
	if err != nil {
		return zero, false
	}
	dropoff, err := time.Parse(rawTimeLayout, strings.TrimSpace(cell("dropoff_datetime")))
	if err != nil {
		return zero, false
	}

	plat, err1 := utils.ParseFloatCell(cell("pickup_latitude"))
	plon, err2 := utils.ParseFloatCell(cell("pickup_longitude"))
	dlat, err3 := utils.ParseFloatCell(cell("dropoff_latitude"))
	dlon, err4 := utils.ParseFloatCell(cell("dropoff_longitude"))
	if err1 != nil || err2 != nil || err3 != nil || err4 != nil {
		return zero, false
	}
	if !e.Cfg.Bounds.Contains(plat, plon) || !e.Cfg.Bounds.Contains(dlat, dlon) {
		return zero, false
	}

	distance := haversineKM(plat, plon, dlat, dlon)
	speed := distance / (float64(duration) / 3600)
	if speed < e.Cfg.MinSpeedKMH || speed > e.Cfg.MaxSpeedKMH {
		return zero, false
	}

	rec := model.TripRecord{
		ID:             strings.TrimSpace(cell("id")),
		VendorID:       vendor,
		PickupTime:     pickup.UTC(),
		DropoffTime:    dropoff.UTC(),
		PassengerCount: passengers,
		PickupLat:      plat,
		PickupLon:      plon,
		DropoffLat:     dlat,
		DropoffLon:     dlon,
		DurationSec:    duration,
		DistanceKM:     distance,
		AvgSpeedKMH:    speed,
	}
	addTimeFeatures(&rec)
	return rec, true
}

// addTimeFeatures derives the calendar features from the pickup timestamp.
// Day-of-week is Monday=0 .. Sunday=6.
func addTimeFeatures(rec *model.TripRecord) {
	t := rec.PickupTime
	rec.PickupHour = t.Hour()
	rec.PickupDay = t.Day()
	rec.PickupMonth = int(t.Month())
	rec.PickupDOW = (int(t.Weekday()) + 6) % 7
	if rec.PickupDOW >= 5 {
		rec.IsWeekend = 1
	}
	if rec.IsWeekend == 0 && isRushHour(rec.PickupHour) {
		rec.IsRushHour = 1
	}
}

// isRushHour covers the weekday morning (07-09) and evening (16-19) peaks.
func isRushHour(hour int) bool {
	return (hour >= 7 && hour <= 9) || (hour >= 16 && hour <= 19)
}

const earthRadiusKM = 6371.0

// haversineKM is the great-circle distance between two points in kilometers.
func haversineKM(lat1, lon1, lat2, lon2 float64) float64 {
	rad := func(deg float64) float64 { return deg * math.Pi / 180 }
	dLat := rad(lat2 - lat1)
	dLon := rad(lon2 - lon1)
	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(rad(lat1))*math.Cos(rad(lat2))*math.Sin(dLon/2)*math.Sin(dLon/2)
	return 2 * earthRadiusKM * math.Asin(math.Min(1, math.Sqrt(a)))
}
