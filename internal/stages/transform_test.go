package stages

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"taxi-etl-pipeline/internal/model"
)

func TestProcessDataDropsInvalidRows(t *testing.T) {
	e := testEnv(t)

	rows := make([][]string, 0, 1000)
	for i := 0; i < 950; i++ {
		rows = append(rows, goodRawRow(i))
	}
	// 50 trips below the minimum duration.
	for i := 950; i < 1000; i++ {
		r := goodRawRow(i)
		r[10] = "30"
		rows = append(rows, r)
	}
	writeRawCSV(t, e, rows)

	artifacts, err := e.ProcessData(context.Background(), testInterval)
	require.NoError(t, err)
	assert.Equal(t, []string{ArtifactCleaned}, artifacts)

	clean := readCleanedArtifact(t, e)
	assert.Len(t, clean, 950)
}

func TestProcessDataFilterTable(t *testing.T) {
	badRow := func(mutate func(r []string)) []string {
		r := goodRawRow(0)
		mutate(r)
		return r
	}

	cases := []struct {
		name string
		row  []string
	}{
		{"duration too long", badRow(func(r []string) { r[10] = "90000" })},
		{"zero passengers", badRow(func(r []string) { r[4] = "0" })},
		{"pickup outside bounding box", badRow(func(r []string) { r[6] = "39.0" })},
		{"dropoff outside bounding box", badRow(func(r []string) { r[7] = "-75.0" })},
		// ~35 km inside the box in 10 minutes is well over the speed cap.
		{"speed too high", badRow(func(r []string) { r[7], r[8] = "-74.25", "40.45" })},
		{"unparseable timestamp", badRow(func(r []string) { r[2] = "not-a-time" })},
		{"unparseable duration", badRow(func(r []string) { r[10] = "ten" })},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			e := testEnv(t)
			// 9 good rows keep the batch above the survival threshold.
			rows := [][]string{tc.row}
			for i := 1; i < 10; i++ {
				rows = append(rows, goodRawRow(i))
			}
			writeRawCSV(t, e, rows)

			_, err := e.ProcessData(context.Background(), testInterval)
			require.NoError(t, err)
			assert.Len(t, readCleanedArtifact(t, e), 9)
		})
	}
}

func TestProcessDataKeepsLargeParties(t *testing.T) {
	e := testEnv(t)

	// There is no upper passenger bound; a van-sized party is a valid trip.
	party := goodRawRow(0)
	party[4] = "8"
	rows := [][]string{party}
	for i := 1; i < 10; i++ {
		rows = append(rows, goodRawRow(i))
	}
	writeRawCSV(t, e, rows)

	_, err := e.ProcessData(context.Background(), testInterval)
	require.NoError(t, err)

	clean := readCleanedArtifact(t, e)
	require.Len(t, clean, 10)
	assert.Equal(t, 8, clean[0].PassengerCount)
}

func TestProcessDataRejectsLowSurvival(t *testing.T) {
	e := testEnv(t)

	// 6 of 10 rows are invalid; survival 40% < 50% minimum.
	rows := make([][]string, 0, 10)
	for i := 0; i < 4; i++ {
		rows = append(rows, goodRawRow(i))
	}
	for i := 4; i < 10; i++ {
		r := goodRawRow(i)
		r[10] = "10"
		rows = append(rows, r)
	}
	writeRawCSV(t, e, rows)

	_, err := e.ProcessData(context.Background(), testInterval)
	require.Error(t, err)
	assert.True(t, errors.Is(err, model.ErrDataQuality))
	// A rejected batch commits nothing.
	assert.False(t, e.Artifacts.Exists(testInterval, ArtifactCleaned))
}

func TestProcessDataRejectsMissingColumn(t *testing.T) {
	e := testEnv(t)
	require.NoError(t, writeFile(e.Cfg.RawDataPath, "id,vendor_id\nid0000001,1\n"))

	_, err := e.ProcessData(context.Background(), testInterval)
	require.Error(t, err)
	assert.True(t, errors.Is(err, model.ErrDataQuality))
}

func TestProcessDataRejectsEmptyFile(t *testing.T) {
	e := testEnv(t)
	writeRawCSV(t, e, nil)

	_, err := e.ProcessData(context.Background(), testInterval)
	require.Error(t, err)
	assert.True(t, errors.Is(err, model.ErrDataQuality))
}

func TestProcessDataIsDeterministic(t *testing.T) {
	e := testEnv(t)
	rows := make([][]string, 0, 100)
	for i := 0; i < 100; i++ {
		rows = append(rows, goodRawRow(i))
	}
	writeRawCSV(t, e, rows)

	_, err := e.ProcessData(context.Background(), testInterval)
	require.NoError(t, err)
	first := readCleanedArtifact(t, e)

	_, err = e.ProcessData(context.Background(), testInterval)
	require.NoError(t, err)
	assert.Equal(t, first, readCleanedArtifact(t, e))
}

func TestTimeFeatures(t *testing.T) {
	e := testEnv(t)

	// 2016-01-15 was a Friday; 08:00 is rush hour. 2016-01-16 a Saturday.
	friday := goodRawRow(0)
	saturday := goodRawRow(1)
	saturday[2] = "2016-01-16 08:30:00"
	saturday[3] = "2016-01-16 08:40:00"
	lateNight := goodRawRow(2)
	lateNight[2] = "2016-01-15 23:30:00"
	lateNight[3] = "2016-01-15 23:40:00"
	writeRawCSV(t, e, [][]string{friday, saturday, lateNight})

	_, err := e.ProcessData(context.Background(), testInterval)
	require.NoError(t, err)
	clean := readCleanedArtifact(t, e)
	require.Len(t, clean, 3)

	assert.Equal(t, 4, clean[0].PickupDOW) // Friday, Monday=0
	assert.Equal(t, 0, clean[0].IsWeekend)
	assert.Equal(t, 1, clean[0].IsRushHour)

	assert.Equal(t, 5, clean[1].PickupDOW)
	assert.Equal(t, 1, clean[1].IsWeekend)
	assert.Equal(t, 0, clean[1].IsRushHour, "weekends have no rush hour")

	assert.Equal(t, 23, clean[2].PickupHour)
	assert.Equal(t, 0, clean[2].IsRushHour)
}

func TestHaversineKnownDistance(t *testing.T) {
	// Times Square to JFK is roughly 21 km great-circle.
	d := haversineKM(40.7580, -73.9855, 40.6413, -73.7781)
	assert.InDelta(t, 21.5, d, 1.0)
}
