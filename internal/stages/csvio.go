package stages

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"time"

	"taxi-etl-pipeline/internal/model"
	"taxi-etl-pipeline/pkg/utils"
)

// Artifact CSVs reuse the raw file's timestamp format and an empty cell for
// missing weather values.
const artifactTimeLayout = "2006-01-02 15:04:05"

var cleanedHeader = []string{
	"id", "vendor_id", "pickup_datetime", "dropoff_datetime",
	"passenger_count", "pickup_latitude", "pickup_longitude",
	"dropoff_latitude", "dropoff_longitude", "trip_duration",
	"trip_distance_km", "avg_speed_kmh", "pickup_hour", "pickup_day",
	"pickup_month", "pickup_dayofweek", "is_weekend", "is_rush_hour",
}

var enrichedHeader = append(append([]string{}, cleanedHeader...),
	"temperature_c", "humidity_pct", "precipitation_mm", "rain_mm",
	"snowfall_mm", "wind_speed_kmh", "weather_code", "is_raining",
	"is_snowing", "is_bad_weather", "weather_condition", "temp_category",
)

func tripCells(r model.TripRecord) []string {
	return []string{
		r.ID,
		utils.IntCell(r.VendorID),
		r.PickupTime.Format(artifactTimeLayout),
		r.DropoffTime.Format(artifactTimeLayout),
		utils.IntCell(r.PassengerCount),
		utils.FloatCell(r.PickupLat),
		utils.FloatCell(r.PickupLon),
		utils.FloatCell(r.DropoffLat),
		utils.FloatCell(r.DropoffLon),
		utils.IntCell(r.DurationSec),
		utils.FloatCell(r.DistanceKM),
		utils.FloatCell(r.AvgSpeedKMH),
		utils.IntCell(r.PickupHour),
		utils.IntCell(r.PickupDay),
		utils.IntCell(r.PickupMonth),
		utils.IntCell(r.PickupDOW),
		utils.IntCell(r.IsWeekend),
		utils.IntCell(r.IsRushHour),
	}
}

func writeCleanedCSV(w io.Writer, recs []model.TripRecord) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(cleanedHeader); err != nil {
		return err
	}
	for _, r := range recs {
		if err := cw.Write(tripCells(r)); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func writeEnrichedCSV(w io.Writer, recs []model.EnrichedRecord) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(enrichedHeader); err != nil {
		return err
	}
	for _, r := range recs {
		cells := append(tripCells(r.TripRecord),
			utils.OptFloatCell(r.TemperatureC),
			utils.OptFloatCell(r.HumidityPct),
			utils.OptFloatCell(r.PrecipitationMM),
			utils.OptFloatCell(r.RainMM),
			utils.OptFloatCell(r.SnowfallMM),
			utils.OptFloatCell(r.WindSpeedKMH),
			utils.OptIntCell(r.WeatherCode),
			utils.IntCell(r.IsRaining),
			utils.IntCell(r.IsSnowing),
			utils.IntCell(r.IsBadWeather),
			r.WeatherCondition,
			r.TempCategory,
		)
		if err := cw.Write(cells); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func parseTripCells(row []string) (model.TripRecord, error) {
	var r model.TripRecord
	var err error
	r.ID = row[0]
	if r.VendorID, err = utils.ParseIntCell(row[1]); err != nil {
		return r, err
	}
	if r.PickupTime, err = time.Parse(artifactTimeLayout, row[2]); err != nil {
		return r, err
	}
	r.PickupTime = r.PickupTime.UTC()
	if r.DropoffTime, err = time.Parse(artifactTimeLayout, row[3]); err != nil {
		return r, err
	}
	r.DropoffTime = r.DropoffTime.UTC()
	if r.PassengerCount, err = utils.ParseIntCell(row[4]); err != nil {
		return r, err
	}
	if r.PickupLat, err = utils.ParseFloatCell(row[5]); err != nil {
		return r, err
	}
	if r.PickupLon, err = utils.ParseFloatCell(row[6]); err != nil {
		return r, err
	}
	if r.DropoffLat, err = utils.ParseFloatCell(row[7]); err != nil {
		return r, err
	}
	if r.DropoffLon, err = utils.ParseFloatCell(row[8]); err != nil {
		return r, err
	}
	if r.DurationSec, err = utils.ParseIntCell(row[9]); err != nil {
		return r, err
	}
	if r.DistanceKM, err = utils.ParseFloatCell(row[10]); err != nil {
		return r, err
	}
	if r.AvgSpeedKMH, err = utils.ParseFloatCell(row[11]); err != nil {
		return r, err
	}
	if r.PickupHour, err = utils.ParseIntCell(row[12]); err != nil {
		return r, err
	}
	if r.PickupDay, err = utils.ParseIntCell(row[13]); err != nil {
		return r, err
	}
	if r.PickupMonth, err = utils.ParseIntCell(row[14]); err != nil {
		return r, err
	}
	if r.PickupDOW, err = utils.ParseIntCell(row[15]); err != nil {
		return r, err
	}
	if r.IsWeekend, err = utils.ParseIntCell(row[16]); err != nil {
		return r, err
	}
	if r.IsRushHour, err = utils.ParseIntCell(row[17]); err != nil {
		return r, err
	}
	return r, nil
}

func readCleanedCSV(r io.Reader) ([]model.TripRecord, error) {
	rows, err := readArtifactRows(r, cleanedHeader)
	if err != nil {
		return nil, err
	}
	out := make([]model.TripRecord, 0, len(rows))
	for i, row := range rows {
		rec, err := parseTripCells(row)
		if err != nil {
			return nil, fmt.Errorf("cleaned row %d: %w", i+1, err)
		}
		out = append(out, rec)
	}
	return out, nil
}

func readEnrichedCSV(r io.Reader) ([]model.EnrichedRecord, error) {
	rows, err := readArtifactRows(r, enrichedHeader)
	if err != nil {
		return nil, err
	}
	out := make([]model.EnrichedRecord, 0, len(rows))
	for i, row := range rows {
		trip, err := parseTripCells(row[:len(cleanedHeader)])
		if err != nil {
			return nil, fmt.Errorf("enriched row %d: %w", i+1, err)
		}
		rec := model.EnrichedRecord{TripRecord: trip}
		w := row[len(cleanedHeader):]
		if rec.TemperatureC, err = utils.ParseOptFloatCell(w[0]); err != nil {
			return nil, fmt.Errorf("enriched row %d: %w", i+1, err)
		}
		if rec.HumidityPct, err = utils.ParseOptFloatCell(w[1]); err != nil {
			return nil, fmt.Errorf("enriched row %d: %w", i+1, err)
		}
		if rec.PrecipitationMM, err = utils.ParseOptFloatCell(w[2]); err != nil {
			return nil, fmt.Errorf("enriched row %d: %w", i+1, err)
		}
		if rec.RainMM, err = utils.ParseOptFloatCell(w[3]); err != nil {
			return nil, fmt.Errorf("enriched row %d: %w", i+1, err)
		}
		if rec.SnowfallMM, err = utils.ParseOptFloatCell(w[4]); err != nil {
			return nil, fmt.Errorf("enriched row %d: %w", i+1, err)
		}
		if rec.WindSpeedKMH, err = utils.ParseOptFloatCell(w[5]); err != nil {
			return nil, fmt.Errorf("enriched row %d: %w", i+1, err)
		}
		if rec.WeatherCode, err = utils.ParseOptIntCell(w[6]); err != nil {
			return nil, fmt.Errorf("enriched row %d: %w", i+1, err)
		}
		if rec.IsRaining, err = utils.ParseIntCell(w[7]); err != nil {
			return nil, fmt.Errorf("enriched row %d: %w", i+1, err)
		}
		if rec.IsSnowing, err = utils.ParseIntCell(w[8]); err != nil {
			return nil, fmt.Errorf("enriched row %d: %w", i+1, err)
		}
		if rec.IsBadWeather, err = utils.ParseIntCell(w[9]); err != nil {
			return nil, fmt.Errorf("enriched row %d: %w", i+1, err)
		}
		rec.WeatherCondition = w[10]
		rec.TempCategory = w[11]
		out = append(out, rec)
	}
	return out, nil
}

// readArtifactRows reads and validates one artifact CSV.
func readArtifactRows(r io.Reader, wantHeader []string) ([][]string, error) {
	cr := csv.NewReader(r)
	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("cannot read artifact header: %w", err)
	}
	if len(header) != len(wantHeader) {
		return nil, fmt.Errorf("artifact has %d columns, want %d", len(header), len(wantHeader))
	}
	for i, h := range header {
		if h != wantHeader[i] {
			return nil, fmt.Errorf("artifact column %d is %q, want %q", i, h, wantHeader[i])
		}
	}
	return cr.ReadAll()
}

// openArtifact opens a committed artifact for reading.
func (e *Env) openArtifact(interval, name string) (*os.File, error) {
	f, err := os.Open(e.Artifacts.Path(interval, name))
	if err != nil {
		return nil, fmt.Errorf("artifact %s is missing for interval %s: %w", name, interval, err)
	}
	return f, nil
}
