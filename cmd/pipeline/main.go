package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"taxi-etl-pipeline/internal/api"
	"taxi-etl-pipeline/internal/api/handler"
	"taxi-etl-pipeline/internal/artifact"
	"taxi-etl-pipeline/internal/config"
	"taxi-etl-pipeline/internal/ledger"
	"taxi-etl-pipeline/internal/model"
	"taxi-etl-pipeline/internal/scheduler"
	"taxi-etl-pipeline/internal/stages"
	"taxi-etl-pipeline/internal/warehouse"
	"taxi-etl-pipeline/internal/weather"
	"taxi-etl-pipeline/pkg/router"
)

// Exit codes of the run and status commands.
const (
	exitSuccess = 0
	exitFailed  = 1
	exitRunning = 2
)

// runtime bundles the wired-up pipeline for one command invocation.
type runtime struct {
	cfg       *config.Config
	ledger    *ledger.Ledger
	warehouse *warehouse.Warehouse
	store     *artifact.Store
	scheduler *scheduler.Scheduler
}

func buildRuntime() (*runtime, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}

	l, err := ledger.Open(cfg.LedgerPath)
	if err != nil {
		return nil, err
	}
	w, err := warehouse.Open(cfg.WarehousePath)
	if err != nil {
		l.Close()
		return nil, err
	}
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
		w.Close()
		l.Close()
		return nil, err
	}

	return &runtime{
		cfg:       cfg,
		ledger:    l,
		warehouse: w,
		store:     store,
		scheduler: scheduler.New(p, l, store, scheduler.Options{
			MaxRetries:    cfg.MaxRetries,
			RetryBackoff:  cfg.RetryBackoff,
			StageTimeout:  cfg.StageTimeout,
			GracePeriod:   cfg.GracePeriod,
			StaleRunAfter: cfg.StaleRunAfter,
		}),
	}, nil
}

func (rt *runtime) close() {
	rt.warehouse.Close()
	rt.ledger.Close()
}

func main() {
	root := &cobra.Command{
		Use:           "pipeline",
		Short:         "Taxi trip ETL pipeline",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(runCmd(), statusCmd(), artifactsCmd(), serveCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "❌ %v\n", err)
		os.Exit(exitFailed)
	}
}

func runCmd() *cobra.Command {
	var interval string
	var force []string

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the DAG for one interval and wait for it to finish",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := buildRuntime()
			if err != nil {
				return err
			}
			defer rt.close()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			run, err := rt.scheduler.Trigger(ctx, interval, force)
			if err != nil {
				return err
			}

			printStages(rt, interval)
			if run.State != model.RunSuccess {
				if first, ferr := rt.ledger.FirstFailure(interval); ferr == nil && first != nil {
					fmt.Printf("\n❌ Run %s: first failure in %s (%s): %s\n",
						run.State, first.Stage, first.ErrorClass, first.ErrorMessage)
				}
				os.Exit(exitFailed)
			}
			fmt.Printf("\n✅ Run %s succeeded for %s\n", run.ID, interval)
			return nil
		},
	}
	cmd.Flags().StringVar(&interval, "interval", "", "logical date to run (YYYY-MM-DD)")
	cmd.Flags().StringSliceVar(&force, "force-stage", nil, "stage to re-run even if it succeeded (repeatable)")
	cmd.MarkFlagRequired("interval")
	return cmd
}

func statusCmd() *cobra.Command {
	var interval string

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the latest run and stage states for an interval",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := buildRuntime()
			if err != nil {
				return err
			}
			defer rt.close()

			run, err := rt.ledger.LatestRun(interval)
			if err != nil {
				return err
			}
			if run == nil {
				fmt.Printf("No runs recorded for %s\n", interval)
				os.Exit(exitFailed)
			}

			fmt.Printf("Run %s (%s) started %s\n", run.ID, run.State, run.StartedAt.Format(time.RFC3339))
			printStages(rt, interval)

			switch run.State {
			case model.RunSuccess:
				os.Exit(exitSuccess)
			case model.RunRunning:
				os.Exit(exitRunning)
			default:
				os.Exit(exitFailed)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&interval, "interval", "", "logical date (YYYY-MM-DD)")
	cmd.MarkFlagRequired("interval")
	return cmd
}

func artifactsCmd() *cobra.Command {
	var interval string

	cmd := &cobra.Command{
		Use:   "artifacts",
		Short: "List the committed artifacts of an interval",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := buildRuntime()
			if err != nil {
				return err
			}
			defer rt.close()

			infos, err := rt.store.List(interval)
			if err != nil {
				return err
			}
			if len(infos) == 0 {
				fmt.Printf("No artifacts for %s\n", interval)
				return nil
			}
			for _, info := range infos {
				fmt.Printf("%-20s %8d bytes  %s\n", info.Name, info.SizeBytes,
					info.ModifiedAt.Format(time.RFC3339))
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&interval, "interval", "", "logical date (YYYY-MM-DD)")
	cmd.MarkFlagRequired("interval")
	return cmd
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the pipeline HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := buildRuntime()
			if err != nil {
				return err
			}
			defer rt.close()

			r := router.New()
			api.RegisterRoutes(r, &handler.Handler{
				Ledger:    rt.ledger,
				Artifacts: rt.store,
				Scheduler: rt.scheduler,
			})
			return r.Start(rt.cfg.HTTPAddr)
		},
	}
}

func printStages(rt *runtime, interval string) {
	instances, err := rt.ledger.StageInstances(interval)
	if err != nil {
		return
	}
	fmt.Println()
	for _, si := range instances {
		marker := stateMarker(si.State)
		fmt.Printf("%s %-20s %-16s attempts=%d", marker, si.Stage, si.State, si.Attempts)
		if si.ErrorClass != "" {
			fmt.Printf("  [%s] %s", si.ErrorClass, si.ErrorMessage)
		}
		fmt.Println()
	}
}

func stateMarker(s model.StageState) string {
	switch s {
	case model.StageSuccess:
		return "✅"
	case model.StageFailed:
		return "❌"
	case model.StageUpstreamFailed:
		return "⛔"
	case model.StageCancelled:
		return "🛑"
	case model.StageRunning, model.StageRetrying:
		return "🔄"
	default:
		return "⏸"
	}
}
