package ledger

import (
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"taxi-etl-pipeline/internal/model"
)

func openTestLedger(t *testing.T) *Ledger {
	t.Helper()
	l, err := Open(filepath.Join(t.TempDir(), "ledger.db"))
	require.NoError(t, err)
	t.Cleanup(func() { l.Close() })
	return l
}

func TestRunLifecycle(t *testing.T) {
	l := openTestLedger(t)

	run := &model.Run{
		ID:        uuid.New().String(),
		Interval:  "2016-01-15",
		State:     model.RunRunning,
		StartedAt: time.Now().UTC(),
	}
	require.NoError(t, l.CreateRun(run))

	got, err := l.GetRun(run.ID)
	require.NoError(t, err)
	assert.Equal(t, model.RunRunning, got.State)
	assert.Nil(t, got.EndedAt)

	require.NoError(t, l.FinishRun(run.ID, model.RunSuccess))
	got, err = l.GetRun(run.ID)
	require.NoError(t, err)
	assert.Equal(t, model.RunSuccess, got.State)
	require.NotNil(t, got.EndedAt)

	latest, err := l.LatestRun("2016-01-15")
	require.NoError(t, err)
	assert.Equal(t, run.ID, latest.ID)

	latest, err = l.LatestRun("1999-01-01")
	require.NoError(t, err)
	assert.Nil(t, latest)
}

func TestEnsureStagesIsIdempotent(t *testing.T) {
	l := openTestLedger(t)
	interval := "2016-01-15"
	stages := []string{"process_data", "enrich_weather"}

	require.NoError(t, l.EnsureStages(interval, stages))
	require.NoError(t, l.FinishStage(interval, "process_data", model.StageSuccess, nil,
		[]string{"cleaned.csv"}))

	// Re-triggering must not disturb the successful row.
	require.NoError(t, l.EnsureStages(interval, stages))

	si, err := l.GetStage(interval, "process_data")
	require.NoError(t, err)
	assert.Equal(t, model.StageSuccess, si.State)
	assert.Equal(t, []string{"cleaned.csv"}, si.Artifacts)

	si, err = l.GetStage(interval, "enrich_weather")
	require.NoError(t, err)
	assert.Equal(t, model.StagePending, si.State)
}

func TestTransitionCAS(t *testing.T) {
	l := openTestLedger(t)
	interval := "2016-01-15"
	require.NoError(t, l.EnsureStages(interval, []string{"process_data"}))

	ok, err := l.Transition(interval, "process_data", model.StagePending, model.StageReady)
	require.NoError(t, err)
	assert.True(t, ok)

	// Second writer loses: the row is no longer pending.
	ok, err = l.Transition(interval, "process_data", model.StagePending, model.StageReady)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestStartAttemptSingleWinner(t *testing.T) {
	l := openTestLedger(t)
	interval := "2016-01-15"
	require.NoError(t, l.EnsureStages(interval, []string{"process_data"}))
	ok, err := l.Transition(interval, "process_data", model.StagePending, model.StageReady)
	require.NoError(t, err)
	require.True(t, ok)

	// Two scheduler replicas race for the same ready stage.
	const racers = 8
	var wg sync.WaitGroup
	wins := make(chan bool, racers)
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			won, err := l.StartAttempt(interval, "process_data", uuid.New().String(), model.StageReady)
			assert.NoError(t, err)
			wins <- won
		}()
	}
	wg.Wait()
	close(wins)

	winners := 0
	for won := range wins {
		if won {
			winners++
		}
	}
	assert.Equal(t, 1, winners, "exactly one writer may win ready->running")

	si, err := l.GetStage(interval, "process_data")
	require.NoError(t, err)
	assert.Equal(t, model.StageRunning, si.State)
	assert.Equal(t, 1, si.Attempts)
}

func TestFailureRecordingAndFirstFailure(t *testing.T) {
	l := openTestLedger(t)
	interval := "2016-01-15"
	require.NoError(t, l.EnsureStages(interval, []string{"enrich_weather", "train_model", "load_warehouse"}))

	stageErr := model.EnrichmentErrorf("weather provider unreachable after 3 attempts")
	require.NoError(t, l.FinishStage(interval, "enrich_weather", model.StageFailed, stageErr, nil))
	require.NoError(t, l.MarkUpstreamFailed(interval, []string{"train_model", "load_warehouse"},
		"upstream stage enrich_weather failed"))

	first, err := l.FirstFailure(interval)
	require.NoError(t, err)
	require.NotNil(t, first)
	assert.Equal(t, "enrich_weather", first.Stage)
	assert.Equal(t, "EnrichmentUnavailableError", first.ErrorClass)
	assert.Contains(t, first.ErrorMessage, "unreachable")

	si, err := l.GetStage(interval, "train_model")
	require.NoError(t, err)
	assert.Equal(t, model.StageUpstreamFailed, si.State)
	assert.Equal(t, "UpstreamFailure", si.ErrorClass)
}

func TestMarkUpstreamFailedLeavesTerminalRowsAlone(t *testing.T) {
	l := openTestLedger(t)
	interval := "2016-01-15"
	require.NoError(t, l.EnsureStages(interval, []string{"train_model"}))
	require.NoError(t, l.FinishStage(interval, "train_model", model.StageSuccess, nil, []string{"model.json"}))

	require.NoError(t, l.MarkUpstreamFailed(interval, []string{"train_model"}, "should not apply"))

	si, err := l.GetStage(interval, "train_model")
	require.NoError(t, err)
	assert.Equal(t, model.StageSuccess, si.State)
}

func TestResetStages(t *testing.T) {
	l := openTestLedger(t)
	interval := "2016-01-15"
	require.NoError(t, l.EnsureStages(interval, []string{"process_data", "enrich_weather"}))
	require.NoError(t, l.FinishStage(interval, "process_data", model.StageSuccess, nil, []string{"cleaned.csv"}))
	require.NoError(t, l.FinishStage(interval, "enrich_weather", model.StageFailed,
		model.EnrichmentErrorf("boom"), nil))

	require.NoError(t, l.ResetStages(interval, []string{"enrich_weather"}))

	si, err := l.GetStage(interval, "enrich_weather")
	require.NoError(t, err)
	assert.Equal(t, model.StagePending, si.State)
	assert.Zero(t, si.Attempts)
	assert.Empty(t, si.ErrorClass)
	assert.Empty(t, si.Artifacts)

	// Untouched stage keeps its record.
	si, err = l.GetStage(interval, "process_data")
	require.NoError(t, err)
	assert.Equal(t, model.StageSuccess, si.State)
}

func TestCancelNonTerminal(t *testing.T) {
	l := openTestLedger(t)
	interval := "2016-01-15"
	require.NoError(t, l.EnsureStages(interval, []string{"a", "b", "c"}))
	require.NoError(t, l.FinishStage(interval, "a", model.StageSuccess, nil, nil))
	_, err := l.Transition(interval, "b", model.StagePending, model.StageRunning)
	require.NoError(t, err)

	require.NoError(t, l.CancelNonTerminal(interval))

	states := map[string]model.StageState{}
	instances, err := l.StageInstances(interval)
	require.NoError(t, err)
	for _, si := range instances {
		states[si.Stage] = si.State
	}
	assert.Equal(t, model.StageSuccess, states["a"])
	assert.Equal(t, model.StageCancelled, states["b"])
	assert.Equal(t, model.StageCancelled, states["c"])
}
