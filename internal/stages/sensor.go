package stages

import (
	"context"
	"log"
	"os"
	"time"

	"taxi-etl-pipeline/internal/model"
)

// CheckDataArrival waits for the raw input file to exist and be non-empty,
// polling at the configured interval. A file that never arrives within the
// poll timeout is an InsufficientDataError, not a crash: re-triggering the
// interval later picks up exactly where the DAG left off.
func (e *Env) CheckDataArrival(ctx context.Context, interval string) ([]string, error) {
	log.Printf("⏳ check_data_arrival: waiting for %s (poll %s, timeout %s)",
		e.Cfg.RawDataPath, e.Cfg.PollInterval, e.Cfg.PollTimeout)

	deadline := time.NewTimer(e.Cfg.PollTimeout)
	defer deadline.Stop()
	tick := time.NewTicker(e.Cfg.PollInterval)
	defer tick.Stop()

	for {
		fi, err := os.Stat(e.Cfg.RawDataPath)
		if err == nil && fi.Size() > 0 {
			log.Printf("📦 check_data_arrival: found %s (%d bytes)", e.Cfg.RawDataPath, fi.Size())
			return nil, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-deadline.C:
			return nil, model.InsufficientDataErrorf(
				"raw data %s did not arrive within %s", e.Cfg.RawDataPath, e.Cfg.PollTimeout)
		case <-tick.C:
		}
	}
}
