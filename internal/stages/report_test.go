package stages

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// prepareInterval runs the enrich, train and load stages so the reporting
// stages have real artifacts to read.
func prepareInterval(t *testing.T, e *Env) {
	t.Helper()
	writeSyntheticEnriched(t, e, 300)
	_, err := e.TrainModel(context.Background(), testInterval)
	require.NoError(t, err)
	_, err = e.LoadWarehouse(context.Background(), testInterval)
	require.NoError(t, err)
}

func TestGenerateReport(t *testing.T) {
	e := testEnv(t)
	prepareInterval(t, e)

	artifacts, err := e.GenerateReport(context.Background(), testInterval)
	require.NoError(t, err)
	assert.Equal(t, []string{ArtifactReport}, artifacts)

	b, err := os.ReadFile(e.Artifacts.Path(testInterval, ArtifactReport))
	require.NoError(t, err)
	report := string(b)
	assert.Contains(t, report, "# Taxi Trip Pipeline Report — 2016-01-15")
	assert.Contains(t, report, "Trips after cleaning: 300")
	assert.Contains(t, report, "Rows loaded to warehouse: 300")
	assert.Contains(t, report, "MAE:")
	assert.Contains(t, report, "R2:")
}

func TestGenerateReportWithoutMetricsFails(t *testing.T) {
	e := testEnv(t)
	writeSyntheticEnriched(t, e, 50)

	_, err := e.GenerateReport(context.Background(), testInterval)
	require.Error(t, err)
}

func TestNotifyPostsToWebhook(t *testing.T) {
	e := testEnv(t)
	prepareInterval(t, e)

	var payload map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(body, &payload))
	}))
	defer srv.Close()
	e.Notifier = NewSlackNotifier(srv.URL)

	artifacts, err := e.Notify(context.Background(), testInterval)
	require.NoError(t, err)
	assert.Empty(t, artifacts)

	require.Contains(t, payload, "text")
	assert.Contains(t, payload["text"], "succeeded")
	assert.Contains(t, payload["text"], "2016-01-15")
	assert.Contains(t, payload["text"], "rows_loaded: 300")
}

func TestNotifyWithoutWebhookIsANoOp(t *testing.T) {
	e := testEnv(t)
	e.Notifier = nil

	_, err := e.Notify(context.Background(), testInterval)
	require.NoError(t, err)
}

func TestNotifyReportsWebhookFailure(t *testing.T) {
	e := testEnv(t)
	prepareInterval(t, e)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()
	e.Notifier = NewSlackNotifier(srv.URL)

	_, err := e.Notify(context.Background(), testInterval)
	require.Error(t, err)
}
