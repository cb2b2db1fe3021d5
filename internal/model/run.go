package model

import "time"

// RunState is the overall state of one pipeline run.
type RunState string

const (
	RunRunning   RunState = "running"
	RunSuccess   RunState = "success"
	RunFailed    RunState = "failed"
	RunCancelled RunState = "cancelled"
)

// StageState is the execution state of a single stage instance.
type StageState string

const (
	StagePending        StageState = "pending"
	StageReady          StageState = "ready"
	StageRunning        StageState = "running"
	StageRetrying       StageState = "retrying"
	StageSuccess        StageState = "success"
	StageFailed         StageState = "failed"
	StageUpstreamFailed StageState = "upstream_failed"
	StageCancelled      StageState = "cancelled"
)

// IsTerminalStage reports whether a stage instance is finished.
func IsTerminalStage(s StageState) bool {
	switch s {
	case StageSuccess, StageFailed, StageUpstreamFailed, StageCancelled:
		return true
	default:
		return false
	}
}

// Run represents one invocation of the DAG for a logical interval.
type Run struct {
	ID        string     `json:"id"`
	Interval  string     `json:"interval"` // logical date, YYYY-MM-DD
	State     RunState   `json:"state"`
	StartedAt time.Time  `json:"started_at"`
	EndedAt   *time.Time `json:"ended_at,omitempty"`
}

// StageInstance is the durable record of one (stage, interval) execution.
//
// Instances are keyed by (interval, stage) so re-triggering an interval
// reuses the existing record; RunID holds the run that last touched it.
type StageInstance struct {
	Interval     string     `json:"interval"`
	Stage        string     `json:"stage"`
	RunID        string     `json:"run_id"`
	State        StageState `json:"state"`
	Attempts     int        `json:"attempts"`
	StartedAt    *time.Time `json:"started_at,omitempty"`
	EndedAt      *time.Time `json:"ended_at,omitempty"`
	ErrorClass   string     `json:"error_class,omitempty"`
	ErrorMessage string     `json:"error_message,omitempty"`
	Artifacts    []string   `json:"artifacts,omitempty"`
}
