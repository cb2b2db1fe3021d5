package handler_test

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"taxi-etl-pipeline/internal/api"
	"taxi-etl-pipeline/internal/api/handler"
	"taxi-etl-pipeline/internal/artifact"
	"taxi-etl-pipeline/internal/ledger"
	"taxi-etl-pipeline/internal/model"
	"taxi-etl-pipeline/pkg/router"
)

func newTestAPI(t *testing.T) (*router.Router, *ledger.Ledger, *artifact.Store) {
	t.Helper()
	dir := t.TempDir()
	l, err := ledger.Open(filepath.Join(dir, "ledger.db"))
	require.NoError(t, err)
	t.Cleanup(func() { l.Close() })

	store := artifact.NewStore(filepath.Join(dir, "artifacts"))
	r := router.New()
	api.RegisterRoutes(r, &handler.Handler{Ledger: l, Artifacts: store})
	return r, l, store
}

func get(r *router.Router, path string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestHealth(t *testing.T) {
	r, _, _ := newTestAPI(t)
	rec := get(r, "/api/v1/health")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestListAndGetRuns(t *testing.T) {
	r, l, _ := newTestAPI(t)

	run := &model.Run{
		ID:        uuid.New().String(),
		Interval:  "2016-01-15",
		State:     model.RunSuccess,
		StartedAt: time.Now().UTC(),
	}
	require.NoError(t, l.CreateRun(run))

	rec := get(r, "/api/v1/runs")
	require.Equal(t, http.StatusOK, rec.Code)
	var list struct {
		Runs  []model.Run `json:"runs"`
		Count int         `json:"count"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	assert.Equal(t, 1, list.Count)
	assert.Equal(t, run.ID, list.Runs[0].ID)

	rec = get(r, "/api/v1/runs/"+run.ID)
	require.Equal(t, http.StatusOK, rec.Code)
	var got model.Run
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, "2016-01-15", got.Interval)

	assert.Equal(t, http.StatusNotFound, get(r, "/api/v1/runs/"+uuid.New().String()).Code)
}

func TestGetRunStagesAndArtifacts(t *testing.T) {
	r, l, store := newTestAPI(t)

	run := &model.Run{
		ID:        uuid.New().String(),
		Interval:  "2016-01-15",
		State:     model.RunSuccess,
		StartedAt: time.Now().UTC(),
	}
	require.NoError(t, l.CreateRun(run))
	require.NoError(t, l.EnsureStages("2016-01-15", []string{"process_data", "enrich_weather"}))
	_, err := store.Write("2016-01-15", "cleaned.csv", func(w io.Writer) error {
		_, werr := w.Write([]byte("id\n"))
		return werr
	})
	require.NoError(t, err)

	rec := get(r, "/api/v1/runs/"+run.ID+"/stages")
	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		RunID    string                `json:"run_id"`
		Interval string                `json:"interval"`
		Stages   []model.StageInstance `json:"stages"`
		Count    int                   `json:"count"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, run.ID, resp.RunID)
	assert.Equal(t, 2, resp.Count)

	rec = get(r, "/api/v1/runs/"+run.ID+"/artifacts")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "cleaned.csv")

	assert.Equal(t, http.StatusNotFound, get(r, "/api/v1/runs/"+uuid.New().String()+"/stages").Code)
}

func TestRerunStageUnknownRun(t *testing.T) {
	r, _, _ := newTestAPI(t)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost,
		"/api/v1/runs/"+uuid.New().String()+"/stages/train_model/rerun", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGetIntervalStages(t *testing.T) {
	r, l, _ := newTestAPI(t)
	require.NoError(t, l.EnsureStages("2016-01-15", []string{"process_data", "enrich_weather"}))

	rec := get(r, "/api/v1/intervals/2016-01-15/stages")
	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		Interval string                `json:"interval"`
		Stages   []model.StageInstance `json:"stages"`
		Count    int                   `json:"count"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 2, resp.Count)

	assert.Equal(t, http.StatusBadRequest, get(r, "/api/v1/intervals/not-a-date/stages").Code)
}

func TestGetIntervalArtifacts(t *testing.T) {
	r, _, store := newTestAPI(t)
	_, err := store.Write("2016-01-15", "cleaned.csv", func(w io.Writer) error {
		_, werr := w.Write([]byte("id\n"))
		return werr
	})
	require.NoError(t, err)

	rec := get(r, "/api/v1/intervals/2016-01-15/artifacts")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "cleaned.csv")
}

func TestTriggerRunValidation(t *testing.T) {
	r, _, _ := newTestAPI(t)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/runs",
		strings.NewReader(`{"interval":"not-a-date"}`)))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/runs",
		strings.NewReader(`{bad json`)))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
