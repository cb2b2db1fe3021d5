package main

import (
	"log"

	"taxi-etl-pipeline/internal/api"
	"taxi-etl-pipeline/internal/api/handler"
	"taxi-etl-pipeline/internal/artifact"
	"taxi-etl-pipeline/internal/config"
	"taxi-etl-pipeline/internal/ledger"
	"taxi-etl-pipeline/internal/scheduler"
	"taxi-etl-pipeline/internal/stages"
	"taxi-etl-pipeline/internal/warehouse"
	"taxi-etl-pipeline/internal/weather"
	"taxi-etl-pipeline/pkg/router"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("❌ %v", err)
	}

	l, err := ledger.Open(cfg.LedgerPath)
	if err != nil {
		log.Fatalf("❌ %v", err)
	}
	defer l.Close()

	w, err := warehouse.Open(cfg.WarehousePath)
	if err != nil {
		log.Fatalf("❌ %v", err)
	}
	defer w.Close()

	store := artifact.NewStore(cfg.ArtifactRoot)

	env := &stages.Env{
		Cfg:       cfg,
		Artifacts: store,
		Ledger:    l,
		Warehouse: w,
		Weather:   weather.NewClient(cfg.WeatherBaseURL, cfg.WeatherLat, cfg.WeatherLon, cfg.WeatherMaxRetries),
	}
	if cfg.SlackWebhookURL != "" {
		env.Notifier = stages.NewSlackNotifier(cfg.SlackWebhookURL)
	}

	p, err := scheduler.NewPipeline(env.Definitions())
	if err != nil {
		log.Fatalf("❌ %v", err)
	}
	sched := scheduler.New(p, l, store, scheduler.Options{
		MaxRetries:    cfg.MaxRetries,
		RetryBackoff:  cfg.RetryBackoff,
		StageTimeout:  cfg.StageTimeout,
		GracePeriod:   cfg.GracePeriod,
		StaleRunAfter: cfg.StaleRunAfter,
	})

	r := router.New()
	api.RegisterRoutes(r, &handler.Handler{Ledger: l, Artifacts: store, Scheduler: sched})
	log.Fatal(r.Start(cfg.HTTPAddr))
}
