package stages

import (
	"context"
	"io"
	"log"
	"sort"
	"time"

	"taxi-etl-pipeline/internal/model"
	"taxi-etl-pipeline/internal/weather"
)

// EnrichWeather joins each cleaned trip with the hourly observation covering
// its pickup hour. The provider is called once per unique pickup date, never
// per trip. A trip whose hour has no observation keeps empty weather fields;
// a provider that stays unreachable after its own retries fails the stage
// with an EnrichmentUnavailableError, which the scheduler may retry.
func (e *Env) EnrichWeather(ctx context.Context, interval string) ([]string, error) {
	f, err := e.openArtifact(interval, ArtifactCleaned)
	if err != nil {
		return nil, err
	}
	trips, err := readCleanedCSV(f)
	f.Close()
	if err != nil {
		return nil, err
	}

	dates := uniquePickupDates(trips)
	byHour := make(map[time.Time]weather.Observation)
	for _, date := range dates {
		obs, err := e.Weather.Day(ctx, date)
		if err != nil {
			return nil, model.EnrichmentErrorf("day %s: %v", date.Format("2006-01-02"), err)
		}
		for _, o := range obs {
			byHour[o.Time.UTC().Truncate(time.Hour)] = o
		}
	}

	enriched := make([]model.EnrichedRecord, 0, len(trips))
	missing := 0
	for _, trip := range trips {
		rec := model.EnrichedRecord{TripRecord: trip}
		if o, ok := byHour[trip.PickupTime.Truncate(time.Hour)]; ok {
			applyObservation(&rec, o)
		} else {
			missing++
		}
		enriched = append(enriched, rec)
	}
	log.Printf("🌤 enrich_weather: %d unique dates fetched, %d/%d trips joined",
		len(dates), len(trips)-missing, len(trips))

	if _, err := e.Artifacts.Write(interval, ArtifactEnriched, func(w io.Writer) error {
		return writeEnrichedCSV(w, enriched)
	}); err != nil {
		return nil, err
	}
	return []string{ArtifactEnriched}, nil
}

// uniquePickupDates returns the distinct UTC calendar dates of the trips,
// sorted ascending so provider calls happen in a stable order.
func uniquePickupDates(trips []model.TripRecord) []time.Time {
	seen := make(map[time.Time]bool)
	for _, t := range trips {
		y, m, d := t.PickupTime.Date()
		seen[time.Date(y, m, d, 0, 0, 0, 0, time.UTC)] = true
	}
	out := make([]time.Time, 0, len(seen))
	for d := range seen {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Before(out[j]) })
	return out
}

// applyObservation copies one hourly observation onto a record and derives
// the weather flags and categories.
func applyObservation(rec *model.EnrichedRecord, o weather.Observation) {
	temp, hum, precip := o.TemperatureC, o.HumidityPct, o.PrecipitationMM
	rain, snow, wind := o.RainMM, o.SnowfallMM, o.WindSpeedKMH
	code := o.Code
	rec.TemperatureC = &temp
	rec.HumidityPct = &hum
	rec.PrecipitationMM = &precip
	rec.RainMM = &rain
	rec.SnowfallMM = &snow
	rec.WindSpeedKMH = &wind
	rec.WeatherCode = &code

	if rain > 0 {
		rec.IsRaining = 1
	}
	if snow > 0 {
		rec.IsSnowing = 1
	}
	if rec.IsRaining == 1 || rec.IsSnowing == 1 || weather.IsSevere(code) {
		rec.IsBadWeather = 1
	}
	rec.WeatherCondition = weather.ConditionName(code)
	rec.TempCategory = tempCategory(temp)
}

// tempCategory bins temperature: Cold below 10°C, Cool to 20, Warm to 30,
// Hot above.
func tempCategory(c float64) string {
	switch {
	case c < 10:
		return "Cold"
	case c < 20:
		return "Cool"
	case c < 30:
		return "Warm"
	default:
		return "Hot"
	}
}
