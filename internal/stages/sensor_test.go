package stages

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"taxi-etl-pipeline/internal/model"
)

func TestCheckDataArrivalFindsLateFile(t *testing.T) {
	e := testEnv(t)

	go func() {
		time.Sleep(20 * time.Millisecond)
		writeRawCSV(t, e, [][]string{goodRawRow(0)})
	}()

	_, err := e.CheckDataArrival(context.Background(), testInterval)
	require.NoError(t, err)
}

func TestCheckDataArrivalIgnoresEmptyFile(t *testing.T) {
	e := testEnv(t)
	require.NoError(t, writeFile(e.Cfg.RawDataPath, ""))

	_, err := e.CheckDataArrival(context.Background(), testInterval)
	require.Error(t, err)
	assert.True(t, errors.Is(err, model.ErrInsufficientData))
}

func TestCheckDataArrivalTimesOut(t *testing.T) {
	e := testEnv(t)

	start := time.Now()
	_, err := e.CheckDataArrival(context.Background(), testInterval)
	require.Error(t, err)
	assert.True(t, errors.Is(err, model.ErrInsufficientData))
	assert.GreaterOrEqual(t, time.Since(start), e.Cfg.PollTimeout)
}

func TestCheckDataArrivalHonorsCancellation(t *testing.T) {
	e := testEnv(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := e.CheckDataArrival(ctx, testInterval)
	require.ErrorIs(t, err, context.Canceled)
}
