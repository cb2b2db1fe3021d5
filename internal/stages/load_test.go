package stages

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadWarehouseBatchesAndVerifies(t *testing.T) {
	e := testEnv(t)
	writeSyntheticEnriched(t, e, 1000)

	artifacts, err := e.LoadWarehouse(context.Background(), testInterval)
	require.NoError(t, err)
	assert.Equal(t, []string{ArtifactLoadReceipt}, artifacts)

	n, err := e.Warehouse.CountInterval(context.Background(), testInterval)
	require.NoError(t, err)
	assert.Equal(t, 1000, n)

	var receipt loadReceipt
	readJSON(t, e, ArtifactLoadReceipt, &receipt)
	assert.Equal(t, testInterval, receipt.Interval)
	assert.Equal(t, 1000, receipt.RowsLoaded)
	assert.Equal(t, 4, receipt.Batches, "1000 rows at batch size 300")
}

func TestLoadWarehouseRecoversFromPartialLoad(t *testing.T) {
	e := testEnv(t)
	writeSyntheticEnriched(t, e, 1000)

	// Simulate a load that died partway: half the interval is already in.
	recs := readEnrichedArtifact(t, e)
	require.NoError(t, e.Warehouse.InsertBatch(context.Background(), testInterval, recs[:500]))
	n, err := e.Warehouse.CountInterval(context.Background(), testInterval)
	require.NoError(t, err)
	require.Equal(t, 500, n)

	_, err = e.LoadWarehouse(context.Background(), testInterval)
	require.NoError(t, err)

	n, err = e.Warehouse.CountInterval(context.Background(), testInterval)
	require.NoError(t, err)
	assert.Equal(t, 1000, n, "delete-then-load leaves exactly one copy of the interval")
}

func TestLoadWarehouseRerunDoesNotDuplicate(t *testing.T) {
	e := testEnv(t)
	writeSyntheticEnriched(t, e, 500)

	_, err := e.LoadWarehouse(context.Background(), testInterval)
	require.NoError(t, err)
	_, err = e.LoadWarehouse(context.Background(), testInterval)
	require.NoError(t, err)

	n, err := e.Warehouse.CountInterval(context.Background(), testInterval)
	require.NoError(t, err)
	assert.Equal(t, 500, n)
}
