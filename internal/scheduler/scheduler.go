// Package scheduler executes the stage DAG for one logical interval. It is
// driven entirely by the run ledger: stages are claimed with compare-and-set
// transitions, so two schedulers pointed at the same ledger never run the
// same stage instance twice.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"taxi-etl-pipeline/internal/artifact"
	"taxi-etl-pipeline/internal/dag"
	"taxi-etl-pipeline/internal/ledger"
	"taxi-etl-pipeline/internal/model"
)

// StageFunc executes one stage for an interval and returns the names of the
// artifacts it committed.
type StageFunc func(ctx context.Context, interval string) ([]string, error)

// StageDef declares one stage of the pipeline.
type StageDef struct {
	Name      string
	DependsOn []string
	Run       StageFunc

	// Critical stages decide the run outcome. A non-critical failure (report,
	// notification) is recorded and logged but does not fail the run.
	Critical bool
}

// Pipeline is a validated set of stage definitions plus their dependency
// graph.
type Pipeline struct {
	graph *dag.Graph
	defs  map[string]StageDef
}

// NewPipeline validates the stage definitions and builds the graph.
func NewPipeline(defs []StageDef) (*Pipeline, error) {
	nodes := make([]dag.Node, 0, len(defs))
	byName := make(map[string]StageDef, len(defs))
	for _, d := range defs {
		if d.Run == nil {
			return nil, model.ConfigErrorf("stage %q has no run function", d.Name)
		}
		nodes = append(nodes, dag.Node{Name: d.Name, DependsOn: d.DependsOn})
		byName[d.Name] = d
	}
	g, err := dag.New(nodes)
	if err != nil {
		return nil, err
	}
	return &Pipeline{graph: g, defs: byName}, nil
}

// Graph exposes the dependency graph for status reporting.
func (p *Pipeline) Graph() *dag.Graph { return p.graph }

// Options are the scheduler's execution knobs.
type Options struct {
	MaxRetries   int           // extra attempts after the first failure
	RetryBackoff time.Duration // fixed delay between attempts
	StageTimeout time.Duration // wall-clock budget per attempt
	GracePeriod  time.Duration // how long running stages may finish after cancel
	Workers      int           // max stages running concurrently

	// StaleRunAfter is the age past which a run record still marked running is
	// treated as abandoned (its scheduler died without finishing it) and may be
	// failed and taken over. Zero derives an upper bound from the stage budget.
	StaleRunAfter time.Duration
}

// Scheduler runs a Pipeline against a ledger and artifact store.
type Scheduler struct {
	pipeline *Pipeline
	ledger   *ledger.Ledger
	store    *artifact.Store
	opts     Options
}

// New builds a Scheduler. Zero option values get sensible defaults.
func New(p *Pipeline, l *ledger.Ledger, store *artifact.Store, opts Options) *Scheduler {
	if opts.Workers <= 0 {
		opts.Workers = 4
	}
	if opts.StageTimeout <= 0 {
		opts.StageTimeout = 2 * time.Hour
	}
	if opts.RetryBackoff <= 0 {
		opts.RetryBackoff = 5 * time.Second
	}
	if opts.GracePeriod <= 0 {
		opts.GracePeriod = 30 * time.Second
	}
	if opts.StaleRunAfter <= 0 {
		// No live run can outlast every stage exhausting its full attempt
		// budget in sequence.
		opts.StaleRunAfter = time.Duration(len(p.defs)*(1+opts.MaxRetries))*opts.StageTimeout + opts.GracePeriod
	}
	return &Scheduler{pipeline: p, ledger: l, store: store, opts: opts}
}

// Trigger runs the DAG for an interval. Stages that already succeeded for
// this interval are not re-executed; failed, upstream-failed and cancelled
// ones are reset and retried. Stages named in force are invalidated together
// with everything downstream of them, artifacts included.
//
// Trigger blocks until the run reaches a terminal state and returns the
// finished run record.
func (s *Scheduler) Trigger(ctx context.Context, interval string, force []string) (*model.Run, error) {
	for _, name := range force {
		if !s.pipeline.graph.Has(name) {
			return nil, model.ConfigErrorf("cannot force unknown stage %q", name)
		}
	}

	latest, err := s.ledger.LatestRun(interval)
	if err != nil {
		return nil, err
	}
	if latest != nil && latest.State == model.RunRunning {
		if time.Since(latest.StartedAt) < s.opts.StaleRunAfter {
			return nil, fmt.Errorf("interval %s already has an active run %s", interval, latest.ID)
		}
		// The run record outlived any possible live execution; its scheduler
		// died without reaching FinishRun. Fail it and take over; reconcile
		// below resets the stage rows it left behind.
		log.Printf("♻️ run %s for interval %s looks abandoned (started %s), failing it",
			latest.ID, interval, latest.StartedAt.UTC().Format(time.RFC3339))
		if err := s.ledger.FinishRun(latest.ID, model.RunFailed); err != nil {
			return nil, err
		}
	}

	if err := s.ledger.EnsureStages(interval, s.pipeline.graph.Names()); err != nil {
		return nil, err
	}
	if err := s.reconcile(interval, force); err != nil {
		return nil, err
	}

	run := &model.Run{
		ID:        uuid.New().String(),
		Interval:  interval,
		State:     model.RunRunning,
		StartedAt: time.Now().UTC(),
	}
	if err := s.ledger.CreateRun(run); err != nil {
		return nil, err
	}
	log.Printf("🚀 run %s started for interval %s", run.ID, interval)

	state := s.execute(ctx, run)
	if err := s.ledger.FinishRun(run.ID, state); err != nil {
		return nil, err
	}
	run.State = state
	now := time.Now().UTC()
	run.EndedAt = &now
	log.Printf("🏁 run %s finished: %s", run.ID, state)
	return run, nil
}

// ActiveRun returns the interval's genuinely active run, or nil when there is
// none or the latest running record is stale enough to be reclaimed by the
// next Trigger.
func (s *Scheduler) ActiveRun(interval string) (*model.Run, error) {
	latest, err := s.ledger.LatestRun(interval)
	if err != nil {
		return nil, err
	}
	if latest == nil || latest.State != model.RunRunning {
		return nil, nil
	}
	if time.Since(latest.StartedAt) >= s.opts.StaleRunAfter {
		return nil, nil
	}
	return latest, nil
}

// reconcile prepares the interval's stage rows for a new run: non-success
// rows (including stale ones left by a crashed scheduler) go back to pending,
// and forced stages are invalidated along with their downstream cascade.
func (s *Scheduler) reconcile(interval string, force []string) error {
	instances, err := s.ledger.StageInstances(interval)
	if err != nil {
		return err
	}

	var reset []string
	for _, si := range instances {
		if si.State != model.StageSuccess {
			reset = append(reset, si.Stage)
		}
	}

	invalid := make(map[string]bool)
	for _, name := range force {
		invalid[name] = true
		for _, down := range s.pipeline.graph.Downstream(name) {
			invalid[down] = true
		}
	}
	for _, si := range instances {
		if !invalid[si.Stage] {
			continue
		}
		for _, a := range si.Artifacts {
			if err := s.store.Remove(interval, a); err != nil {
				return err
			}
		}
		reset = append(reset, si.Stage)
	}

	return s.ledger.ResetStages(interval, reset)
}

type stageResult struct {
	name string
	err  error
}

// execute drives the DAG to completion: promote pending stages whose
// dependencies all succeeded, claim ready ones, and dispatch workers up to
// the concurrency bound.
func (s *Scheduler) execute(ctx context.Context, run *model.Run) model.RunState {
	// Buffered so a worker finishing after the grace period never blocks.
	results := make(chan stageResult, len(s.pipeline.defs))
	sem := make(chan struct{}, s.opts.Workers)
	inFlight := 0

	for {
		if ctx.Err() != nil {
			return s.cancel(run, results, inFlight)
		}

		instances, err := s.ledger.StageInstances(run.Interval)
		if err != nil {
			log.Printf("⚠️ ledger read failed: %v", err)
			return model.RunFailed
		}
		states := make(map[string]model.StageState, len(instances))
		for _, si := range instances {
			states[si.Stage] = si.State
		}

		allTerminal := true
		for _, st := range states {
			if !model.IsTerminalStage(st) {
				allTerminal = false
				break
			}
		}
		if allTerminal && inFlight == 0 {
			break
		}

		for _, name := range s.pipeline.graph.TopologicalOrder() {
			if states[name] != model.StagePending {
				continue
			}
			depsDone := true
			for _, dep := range s.pipeline.graph.Dependencies(name) {
				if states[dep] != model.StageSuccess {
					depsDone = false
					break
				}
			}
			if !depsDone {
				continue
			}
			if ok, err := s.ledger.Transition(run.Interval, name, model.StagePending, model.StageReady); err == nil && ok {
				states[name] = model.StageReady
			}
		}

		dispatched := false
		for _, name := range s.pipeline.graph.TopologicalOrder() {
			if states[name] != model.StageReady {
				continue
			}
			select {
			case sem <- struct{}{}:
			default:
				continue // at the concurrency bound
			}
			won, err := s.ledger.StartAttempt(run.Interval, name, run.ID, model.StageReady)
			if err != nil || !won {
				<-sem
				continue
			}
			inFlight++
			dispatched = true
			def := s.pipeline.defs[name]
			go func() {
				defer func() { <-sem }()
				results <- stageResult{name: def.Name, err: s.runStage(ctx, run, def)}
			}()
		}

		if inFlight == 0 {
			if !dispatched {
				// Nothing running and nothing became ready: the remaining
				// non-terminal stages are waiting on a failure mark that has
				// not landed yet. Back off briefly before re-reading.
				time.Sleep(50 * time.Millisecond)
			}
			continue
		}

		select {
		case res := <-results:
			inFlight--
			if res.err != nil {
				log.Printf("❌ stage %s failed: %v", res.name, res.err)
			} else {
				log.Printf("✅ stage %s succeeded", res.name)
			}
		case <-ctx.Done():
			return s.cancel(run, results, inFlight)
		}
	}

	return s.outcome(run.Interval)
}

// runStage executes one stage with the retry policy: each attempt gets its
// own timeout, transient failures back off and re-claim the row, and an
// exhausted or non-retryable failure propagates upstream_failed downstream.
func (s *Scheduler) runStage(ctx context.Context, run *model.Run, def StageDef) error {
	maxAttempts := 1 + s.opts.MaxRetries

	for attempt := 1; ; attempt++ {
		attemptCtx, cancel := context.WithTimeout(ctx, s.opts.StageTimeout)
		artifacts, err := def.Run(attemptCtx, run.Interval)
		cancel()

		if err == nil {
			return s.ledger.FinishStage(run.Interval, def.Name, model.StageSuccess, nil, artifacts)
		}

		if ctx.Err() != nil {
			// The run was cancelled while this stage was executing; the stage
			// ends cancelled, not failed, and nothing propagates downstream.
			return s.ledger.FinishStage(run.Interval, def.Name, model.StageCancelled, nil, nil)
		}

		if retryable(err) && attempt < maxAttempts {
			log.Printf("🔁 stage %s attempt %d/%d failed, retrying in %s: %v",
				def.Name, attempt, maxAttempts, s.opts.RetryBackoff, err)
			if ferr := s.ledger.FinishStage(run.Interval, def.Name, model.StageRetrying, err, nil); ferr != nil {
				return ferr
			}
			select {
			case <-time.After(s.opts.RetryBackoff):
			case <-ctx.Done():
				return ctx.Err()
			}
			won, cerr := s.ledger.StartAttempt(run.Interval, def.Name, run.ID, model.StageRetrying)
			if cerr != nil {
				return cerr
			}
			if !won {
				// The row moved under us (cancellation or another scheduler).
				return fmt.Errorf("lost retry claim for stage %s", def.Name)
			}
			continue
		}

		if ferr := s.ledger.FinishStage(run.Interval, def.Name, model.StageFailed, err, nil); ferr != nil {
			return ferr
		}
		downstream := s.pipeline.graph.Downstream(def.Name)
		if len(downstream) > 0 {
			cause := fmt.Sprintf("upstream stage %s failed", def.Name)
			if merr := s.ledger.MarkUpstreamFailed(run.Interval, downstream, cause); merr != nil {
				return merr
			}
		}
		return err
	}
}

// retryable reports whether a stage error is worth another attempt.
// Deterministic failures (bad data, too few rows) and synthetic ones are not;
// transient ones (enrichment outage, unclassified errors) are.
func retryable(err error) bool {
	switch {
	case errors.Is(err, context.Canceled):
		return false
	case errors.Is(err, model.ErrConfiguration),
		errors.Is(err, model.ErrDataQuality),
		errors.Is(err, model.ErrInsufficientData),
		errors.Is(err, model.ErrUpstreamFailure):
		return false
	default:
		return true
	}
}

// cancel marks every unfinished stage cancelled, then waits up to the grace
// period for in-flight workers to drain.
func (s *Scheduler) cancel(run *model.Run, results chan stageResult, inFlight int) model.RunState {
	log.Printf("🛑 run %s cancelled, waiting up to %s for running stages", run.ID, s.opts.GracePeriod)
	deadline := time.After(s.opts.GracePeriod)
	for inFlight > 0 {
		select {
		case <-results:
			inFlight--
		case <-deadline:
			inFlight = 0
		}
	}
	if err := s.ledger.CancelNonTerminal(run.Interval); err != nil {
		log.Printf("⚠️ failed to record cancellation: %v", err)
	}
	return model.RunCancelled
}

// outcome decides the run state: success iff every critical stage succeeded.
// Non-critical failures are surfaced as warnings only.
func (s *Scheduler) outcome(interval string) model.RunState {
	instances, err := s.ledger.StageInstances(interval)
	if err != nil {
		return model.RunFailed
	}
	state := model.RunSuccess
	for _, si := range instances {
		def := s.pipeline.defs[si.Stage]
		if si.State == model.StageSuccess {
			continue
		}
		if def.Critical {
			state = model.RunFailed
		} else {
			log.Printf("⚠️ non-critical stage %s ended %s", si.Stage, si.State)
		}
	}
	return state
}
