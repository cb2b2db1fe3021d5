// Package stages implements the pipeline's stage functions. Each stage is a
// pure function of (config, artifacts, collaborators): it reads its inputs
// from the artifact store, does its work, and commits its outputs back,
// returning the artifact names for the run ledger.
package stages

import (
	"taxi-etl-pipeline/internal/artifact"
	"taxi-etl-pipeline/internal/config"
	"taxi-etl-pipeline/internal/ledger"
	"taxi-etl-pipeline/internal/scheduler"
	"taxi-etl-pipeline/internal/warehouse"
	"taxi-etl-pipeline/internal/weather"
)

// Stage names, in pipeline order.
const (
	StageCheckDataArrival = "check_data_arrival"
	StageProcessData      = "process_data"
	StageEnrichWeather    = "enrich_weather"
	StageTrainModel       = "train_model"
	StageLoadWarehouse    = "load_warehouse"
	StageGenerateReport   = "generate_report"
	StageNotify           = "notify"
)

// Artifact names committed by the stages.
const (
	ArtifactCleaned     = "cleaned.csv"
	ArtifactEnriched    = "enriched.csv"
	ArtifactModel       = "model.json"
	ArtifactMetrics     = "metrics.json"
	ArtifactLoadReceipt = "load_receipt.json"
	ArtifactReport      = "report.md"
)

// Env bundles everything the stage functions need. Collaborators are
// injected so tests can swap in fakes.
type Env struct {
	Cfg       *config.Config
	Artifacts *artifact.Store
	Ledger    *ledger.Ledger
	Warehouse *warehouse.Warehouse
	Weather   weather.Provider
	Notifier  Notifier
}

// Definitions wires the stages into the dependency graph the scheduler runs.
//
// The report and notification stages are non-critical: a run that produced
// and loaded its data counts as a success even if the summary could not be
// rendered or delivered.
func (e *Env) Definitions() []scheduler.StageDef {
	return []scheduler.StageDef{
		{Name: StageCheckDataArrival, Run: e.CheckDataArrival, Critical: true},
		{Name: StageProcessData, DependsOn: []string{StageCheckDataArrival}, Run: e.ProcessData, Critical: true},
		{Name: StageEnrichWeather, DependsOn: []string{StageProcessData}, Run: e.EnrichWeather, Critical: true},
		{Name: StageTrainModel, DependsOn: []string{StageEnrichWeather}, Run: e.TrainModel, Critical: true},
		{Name: StageLoadWarehouse, DependsOn: []string{StageEnrichWeather}, Run: e.LoadWarehouse, Critical: true},
		{Name: StageGenerateReport, DependsOn: []string{StageTrainModel, StageLoadWarehouse}, Run: e.GenerateReport},
		{Name: StageNotify, DependsOn: []string{StageTrainModel, StageLoadWarehouse}, Run: e.Notify},
	}
}
