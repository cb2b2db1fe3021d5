// Package ledger persists run and stage-instance state in sqlite. The ledger
// is the single source of truth for scheduling decisions: every state change
// goes through a compare-and-set UPDATE so that, with concurrent scheduler
// instances, only one writer wins a transition.
package ledger

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"taxi-etl-pipeline/internal/model"
)

// Ledger wraps the sqlite connection.
type Ledger struct {
	db *sql.DB
}

// Open opens (or creates) the ledger database and its tables.
func Open(dbPath string) (*Ledger, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open ledger: %w", err)
	}

	runTable := `
	CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		interval TEXT NOT NULL,
		state TEXT NOT NULL,
		started_at DATETIME NOT NULL,
		ended_at DATETIME
	);
	`
	stageTable := `
	CREATE TABLE IF NOT EXISTS stage_instances (
		interval TEXT NOT NULL,
		stage TEXT NOT NULL,
		run_id TEXT,
		state TEXT NOT NULL,
		attempts INTEGER NOT NULL DEFAULT 0,
		started_at DATETIME,
		ended_at DATETIME,
		error_class TEXT,
		error_message TEXT,
		artifacts TEXT,
		PRIMARY KEY (interval, stage)
	);
	`
	if _, err := db.Exec(runTable); err != nil {
		return nil, err
	}
	if _, err := db.Exec(stageTable); err != nil {
		return nil, err
	}

	return &Ledger{db: db}, nil
}

// Close releases the database handle.
func (l *Ledger) Close() error { return l.db.Close() }

// CreateRun stores a new run record.
func (l *Ledger) CreateRun(run *model.Run) error {
	_, err := l.db.Exec(
		`INSERT INTO runs (id, interval, state, started_at) VALUES (?, ?, ?, ?)`,
		run.ID, run.Interval, string(run.State), run.StartedAt.UTC(),
	)
	return err
}

// FinishRun records a run's terminal state.
func (l *Ledger) FinishRun(runID string, state model.RunState) error {
	_, err := l.db.Exec(
		`UPDATE runs SET state = ?, ended_at = ? WHERE id = ?`,
		string(state), time.Now().UTC(), runID,
	)
	return err
}

// GetRun fetches a run by id.
func (l *Ledger) GetRun(runID string) (*model.Run, error) {
	return l.scanRun(l.db.QueryRow(
		`SELECT id, interval, state, started_at, ended_at FROM runs WHERE id = ?`, runID))
}

// LatestRun returns the most recent run for an interval, or nil.
func (l *Ledger) LatestRun(interval string) (*model.Run, error) {
	run, err := l.scanRun(l.db.QueryRow(
		`SELECT id, interval, state, started_at, ended_at FROM runs
		 WHERE interval = ? ORDER BY started_at DESC, id DESC LIMIT 1`, interval))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return run, err
}

// ListRuns returns all runs, newest first.
func (l *Ledger) ListRuns() ([]model.Run, error) {
	rows, err := l.db.Query(
		`SELECT id, interval, state, started_at, ended_at FROM runs ORDER BY started_at DESC, id DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []model.Run
	for rows.Next() {
		run, err := l.scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *run)
	}
	return runs, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (l *Ledger) scanRun(row rowScanner) (*model.Run, error) {
	var run model.Run
	var state string
	var endedAt sql.NullTime
	if err := row.Scan(&run.ID, &run.Interval, &state, &run.StartedAt, &endedAt); err != nil {
		return nil, err
	}
	run.State = model.RunState(state)
	if endedAt.Valid {
		t := endedAt.Time
		run.EndedAt = &t
	}
	return &run, nil
}

// EnsureStages inserts pending stage-instance rows for any stage that has no
// record yet for this interval. Existing rows (notably successful ones from a
// prior run) are left untouched, which is what makes re-triggering a past
// interval idempotent.
func (l *Ledger) EnsureStages(interval string, stages []string) error {
	tx, err := l.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, stage := range stages {
		if _, err := tx.Exec(
			`INSERT OR IGNORE INTO stage_instances (interval, stage, state) VALUES (?, ?, ?)`,
			interval, stage, string(model.StagePending),
		); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// StageInstances returns every stage record for an interval.
func (l *Ledger) StageInstances(interval string) ([]model.StageInstance, error) {
	rows, err := l.db.Query(
		`SELECT interval, stage, run_id, state, attempts, started_at, ended_at,
		        error_class, error_message, artifacts
		 FROM stage_instances WHERE interval = ? ORDER BY stage`, interval)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.StageInstance
	for rows.Next() {
		si, err := scanStage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *si)
	}
	return out, rows.Err()
}

// GetStage returns one stage record, or nil when it does not exist.
func (l *Ledger) GetStage(interval, stage string) (*model.StageInstance, error) {
	si, err := scanStage(l.db.QueryRow(
		`SELECT interval, stage, run_id, state, attempts, started_at, ended_at,
		        error_class, error_message, artifacts
		 FROM stage_instances WHERE interval = ? AND stage = ?`, interval, stage))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return si, err
}

func scanStage(row rowScanner) (*model.StageInstance, error) {
	var si model.StageInstance
	var runID, state sql.NullString
	var startedAt, endedAt sql.NullTime
	var errClass, errMsg, artifacts sql.NullString

	if err := row.Scan(&si.Interval, &si.Stage, &runID, &state, &si.Attempts,
		&startedAt, &endedAt, &errClass, &errMsg, &artifacts); err != nil {
		return nil, err
	}
	si.RunID = runID.String
	si.State = model.StageState(state.String)
	if startedAt.Valid {
		t := startedAt.Time
		si.StartedAt = &t
	}
	if endedAt.Valid {
		t := endedAt.Time
		si.EndedAt = &t
	}
	si.ErrorClass = errClass.String
	si.ErrorMessage = errMsg.String
	if artifacts.Valid && artifacts.String != "" {
		_ = json.Unmarshal([]byte(artifacts.String), &si.Artifacts)
	}
	return &si, nil
}

// Transition performs an atomic compare-and-set state change. It returns
// false when the row was not in the expected state, i.e. another writer won.
func (l *Ledger) Transition(interval, stage string, from, to model.StageState) (bool, error) {
	res, err := l.db.Exec(
		`UPDATE stage_instances SET state = ? WHERE interval = ? AND stage = ? AND state = ?`,
		string(to), interval, stage, string(from),
	)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

// StartAttempt atomically claims a stage for execution: only the caller that
// wins the from->running transition may dispatch the stage function. The
// attempt counter and start time are updated on the winning row.
func (l *Ledger) StartAttempt(interval, stage, runID string, from model.StageState) (bool, error) {
	res, err := l.db.Exec(
		`UPDATE stage_instances
		 SET state = ?, run_id = ?, attempts = attempts + 1, started_at = ?,
		     ended_at = NULL, error_class = NULL, error_message = NULL
		 WHERE interval = ? AND stage = ? AND state = ?`,
		string(model.StageRunning), runID, time.Now().UTC(),
		interval, stage, string(from),
	)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

// FinishStage records a terminal (or retrying) outcome for a stage attempt,
// including enough error detail to diagnose without re-running.
func (l *Ledger) FinishStage(interval, stage string, state model.StageState, stageErr error, artifacts []string) error {
	var artifactsJSON string
	if len(artifacts) > 0 {
		b, err := json.Marshal(artifacts)
		if err != nil {
			return err
		}
		artifactsJSON = string(b)
	}

	errClass, errMsg := "", ""
	if stageErr != nil {
		errClass = model.ErrorClass(stageErr)
		errMsg = stageErr.Error()
	}

	_, err := l.db.Exec(
		`UPDATE stage_instances
		 SET state = ?, ended_at = ?, error_class = ?, error_message = ?, artifacts = ?
		 WHERE interval = ? AND stage = ?`,
		string(state), time.Now().UTC(), errClass, errMsg, artifactsJSON,
		interval, stage,
	)
	return err
}

// MarkUpstreamFailed transitions the given stages to upstream_failed unless
// they are already terminal. Dependents of a failed stage are never invoked.
func (l *Ledger) MarkUpstreamFailed(interval string, stages []string, cause string) error {
	for _, stage := range stages {
		_, err := l.db.Exec(
			`UPDATE stage_instances
			 SET state = ?, ended_at = ?, error_class = ?, error_message = ?
			 WHERE interval = ? AND stage = ? AND state IN (?, ?, ?)`,
			string(model.StageUpstreamFailed), time.Now().UTC(),
			"UpstreamFailure", cause,
			interval, stage,
			string(model.StagePending), string(model.StageReady), string(model.StageRetrying),
		)
		if err != nil {
			return err
		}
	}
	return nil
}

// ResetStages returns the given stages to pending with a clean slate. Used by
// re-triggering (failed rows) and force-rerun (the invalidation cascade).
func (l *Ledger) ResetStages(interval string, stages []string) error {
	tx, err := l.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, stage := range stages {
		if _, err := tx.Exec(
			`UPDATE stage_instances
			 SET state = ?, run_id = NULL, attempts = 0, started_at = NULL, ended_at = NULL,
			     error_class = NULL, error_message = NULL, artifacts = NULL
			 WHERE interval = ? AND stage = ?`,
			string(model.StagePending), interval, stage,
		); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// CancelNonTerminal marks every stage that has not yet finished as cancelled.
func (l *Ledger) CancelNonTerminal(interval string) error {
	_, err := l.db.Exec(
		`UPDATE stage_instances
		 SET state = ?, ended_at = ?
		 WHERE interval = ? AND state IN (?, ?, ?, ?)`,
		string(model.StageCancelled), time.Now().UTC(), interval,
		string(model.StagePending), string(model.StageReady),
		string(model.StageRunning), string(model.StageRetrying),
	)
	return err
}

// FirstFailure returns the earliest-failing stage for an interval, so a
// failed run can be reported by its root cause rather than just "failed".
func (l *Ledger) FirstFailure(interval string) (*model.StageInstance, error) {
	si, err := scanStage(l.db.QueryRow(
		`SELECT interval, stage, run_id, state, attempts, started_at, ended_at,
		        error_class, error_message, artifacts
		 FROM stage_instances
		 WHERE interval = ? AND state = ?
		 ORDER BY ended_at ASC LIMIT 1`,
		interval, string(model.StageFailed)))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return si, err
}
