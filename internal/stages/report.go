package stages

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"

	"taxi-etl-pipeline/internal/model"
)

// GenerateReport renders a markdown summary of the interval: cleaning and
// load volumes, model quality and a weather breakdown. It only reads
// committed artifacts, so it can be re-run at any time.
func (e *Env) GenerateReport(ctx context.Context, interval string) ([]string, error) {
	var metrics model.ModelMetrics
	if err := e.readJSONArtifact(interval, ArtifactMetrics, &metrics); err != nil {
		return nil, err
	}
	var receipt loadReceipt
	if err := e.readJSONArtifact(interval, ArtifactLoadReceipt, &receipt); err != nil {
		return nil, err
	}

	f, err := e.openArtifact(interval, ArtifactEnriched)
	if err != nil {
		return nil, err
	}
	recs, err := readEnrichedCSV(f)
	f.Close()
	if err != nil {
		return nil, err
	}

	raining, bad, withWeather := 0, 0, 0
	var tempSum float64
	for _, r := range recs {
		if r.IsRaining == 1 {
			raining++
		}
		if r.IsBadWeather == 1 {
			bad++
		}
		if r.TemperatureC != nil {
			withWeather++
			tempSum += *r.TemperatureC
		}
	}

	if _, err := e.Artifacts.Write(interval, ArtifactReport, func(w io.Writer) error {
		fmt.Fprintf(w, "# Taxi Trip Pipeline Report — %s\n\n", interval)
		fmt.Fprintf(w, "## Volumes\n\n")
		fmt.Fprintf(w, "- Trips after cleaning: %d\n", len(recs))
		fmt.Fprintf(w, "- Rows loaded to warehouse: %d (%d batches of up to %d)\n\n",
			receipt.RowsLoaded, receipt.Batches, receipt.BatchSize)
		fmt.Fprintf(w, "## Model\n\n")
		fmt.Fprintf(w, "- Train/test rows: %d / %d (seed %d)\n", metrics.TrainRows, metrics.TestRows, metrics.Seed)
		fmt.Fprintf(w, "- MAE: %.1f s\n", metrics.MAESeconds)
		fmt.Fprintf(w, "- RMSE: %.1f s\n", metrics.RMSESeconds)
		fmt.Fprintf(w, "- R2: %.3f\n\n", metrics.R2Score)
		fmt.Fprintf(w, "## Weather\n\n")
		fmt.Fprintf(w, "- Trips with weather joined: %d / %d\n", withWeather, len(recs))
		if withWeather > 0 {
			fmt.Fprintf(w, "- Average temperature: %.1f °C\n", tempSum/float64(withWeather))
		}
		fmt.Fprintf(w, "- Trips in rain: %d\n", raining)
		fmt.Fprintf(w, "- Trips in bad weather: %d\n", bad)
		return nil
	}); err != nil {
		return nil, err
	}
	log.Printf("📊 generate_report: report committed for %s", interval)
	return []string{ArtifactReport}, nil
}

func (e *Env) readJSONArtifact(interval, name string, v any) error {
	b, err := os.ReadFile(e.Artifacts.Path(interval, name))
	if err != nil {
		return fmt.Errorf("artifact %s is missing for interval %s: %w", name, interval, err)
	}
	return json.Unmarshal(b, v)
}
