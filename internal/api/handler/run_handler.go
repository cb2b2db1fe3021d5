// Package handler implements the HTTP handlers of the pipeline API. All
// state comes from the run ledger and artifact store; the handlers never
// execute stages themselves except by delegating to the scheduler.
package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"regexp"
	"strings"

	"taxi-etl-pipeline/internal/artifact"
	"taxi-etl-pipeline/internal/ledger"
	"taxi-etl-pipeline/internal/scheduler"
)

// Handler carries the collaborators the API needs.
type Handler struct {
	Ledger    *ledger.Ledger
	Artifacts *artifact.Store
	Scheduler *scheduler.Scheduler
}

var intervalPattern = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)

type triggerRequest struct {
	Interval string   `json:"interval"`
	Force    []string `json:"force,omitempty"`
}

// TriggerRun starts a pipeline run for an interval
// @Summary Trigger a run
// @Description Start the pipeline DAG for a logical interval. Stages that already succeeded for the interval are skipped unless forced.
// @Tags runs
// @Accept json
// @Produce json
// @Param run body triggerRequest true "Interval and optional forced stages"
// @Success 202 {object} map[string]interface{} "Run accepted"
// @Failure 400 {object} map[string]interface{} "Invalid request payload"
// @Failure 409 {object} map[string]interface{} "Interval already running"
// @Router /runs [post]
func (h *Handler) TriggerRun(w http.ResponseWriter, r *http.Request) {
	var req triggerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid JSON payload", http.StatusBadRequest)
		return
	}
	if !intervalPattern.MatchString(req.Interval) {
		http.Error(w, "interval must be a YYYY-MM-DD date", http.StatusBadRequest)
		return
	}

	if active, err := h.Scheduler.ActiveRun(req.Interval); err == nil && active != nil {
		http.Error(w, fmt.Sprintf("interval %s already has an active run", req.Interval), http.StatusConflict)
		return
	}

	go func() {
		if _, err := h.Scheduler.Trigger(context.Background(), req.Interval, req.Force); err != nil {
			fmt.Printf("❌ Triggered run for %s failed to start: %v\n", req.Interval, err)
		}
	}()

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"message":  "Run accepted",
		"interval": req.Interval,
		"force":    req.Force,
	})
}

// ListRuns retrieves all runs
// @Summary List runs
// @Description Get every pipeline run, newest first
// @Tags runs
// @Produce json
// @Success 200 {array} model.Run "List of runs"
// @Failure 500 {object} map[string]interface{} "Internal server error"
// @Router /runs [get]
func (h *Handler) ListRuns(w http.ResponseWriter, r *http.Request) {
	runs, err := h.Ledger.ListRuns()
	if err != nil {
		http.Error(w, "Failed to fetch runs", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"runs":  runs,
		"count": len(runs),
	})
}

// GetRun retrieves one run by id
// @Summary Get run
// @Description Retrieve one pipeline run by its id
// @Tags runs
// @Produce json
// @Param id path string true "Run ID"
// @Success 200 {object} model.Run "Run details"
// @Failure 404 {object} map[string]interface{} "Run not found"
// @Router /runs/{id} [get]
func (h *Handler) GetRun(w http.ResponseWriter, r *http.Request) {
	runID := pathSegment(r.URL.Path, 3)
	if runID == "" {
		http.Error(w, "Run ID is required", http.StatusBadRequest)
		return
	}

	run, err := h.Ledger.GetRun(runID)
	if err != nil {
		http.Error(w, "Run not found", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(run)
}

// GetRunStages retrieves the stage records of a run's interval
// @Summary Get run stages
// @Description Retrieve the stage instances of the interval a run executed, with states, attempts and errors
// @Tags runs
// @Produce json
// @Param id path string true "Run ID"
// @Success 200 {object} map[string]interface{} "Stage instances"
// @Failure 404 {object} map[string]interface{} "Run not found"
// @Router /runs/{id}/stages [get]
func (h *Handler) GetRunStages(w http.ResponseWriter, r *http.Request) {
	run, err := h.Ledger.GetRun(pathSegment(r.URL.Path, 3))
	if err != nil {
		http.Error(w, "Run not found", http.StatusNotFound)
		return
	}

	stages, err := h.Ledger.StageInstances(run.Interval)
	if err != nil {
		http.Error(w, "Failed to fetch stages", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"run_id":   run.ID,
		"interval": run.Interval,
		"stages":   stages,
		"count":    len(stages),
	})
}

// GetRunArtifacts lists the artifacts of a run's interval
// @Summary Get run artifacts
// @Description List the artifacts committed for the interval a run executed
// @Tags runs
// @Produce json
// @Param id path string true "Run ID"
// @Success 200 {object} map[string]interface{} "Artifacts"
// @Failure 404 {object} map[string]interface{} "Run not found"
// @Router /runs/{id}/artifacts [get]
func (h *Handler) GetRunArtifacts(w http.ResponseWriter, r *http.Request) {
	run, err := h.Ledger.GetRun(pathSegment(r.URL.Path, 3))
	if err != nil {
		http.Error(w, "Run not found", http.StatusNotFound)
		return
	}

	artifacts, err := h.Artifacts.List(run.Interval)
	if err != nil {
		http.Error(w, "Failed to list artifacts", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"run_id":    run.ID,
		"interval":  run.Interval,
		"artifacts": artifacts,
		"count":     len(artifacts),
	})
}

// RerunStage forces one stage (and its downstream cascade) to re-run
// @Summary Force-rerun a stage
// @Description Invalidate a stage's artifacts and everything downstream of it, then re-run the interval of the given run
// @Tags runs
// @Accept json
// @Produce json
// @Param id path string true "Run ID"
// @Param stage path string true "Stage name"
// @Success 202 {object} map[string]interface{} "Rerun accepted"
// @Failure 404 {object} map[string]interface{} "Run not found"
// @Failure 409 {object} map[string]interface{} "Interval already running"
// @Router /runs/{id}/stages/{stage}/rerun [post]
func (h *Handler) RerunStage(w http.ResponseWriter, r *http.Request) {
	run, err := h.Ledger.GetRun(pathSegment(r.URL.Path, 3))
	if err != nil {
		http.Error(w, "Run not found", http.StatusNotFound)
		return
	}
	stage := pathSegment(r.URL.Path, 5)

	if active, err := h.Scheduler.ActiveRun(run.Interval); err == nil && active != nil {
		http.Error(w, fmt.Sprintf("interval %s already has an active run", run.Interval), http.StatusConflict)
		return
	}

	go func() {
		if _, err := h.Scheduler.Trigger(context.Background(), run.Interval, []string{stage}); err != nil {
			fmt.Printf("❌ Forced rerun of %s for %s failed to start: %v\n", stage, run.Interval, err)
		}
	}()

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"message":  "Rerun accepted",
		"interval": run.Interval,
		"force":    []string{stage},
	})
}

// GetIntervalStages retrieves the stage records of an interval
// @Summary Get interval stages
// @Description Retrieve every stage instance of a logical interval, with states, attempts and errors
// @Tags intervals
// @Produce json
// @Param interval path string true "Interval (YYYY-MM-DD)"
// @Success 200 {object} map[string]interface{} "Stage instances"
// @Failure 400 {object} map[string]interface{} "Invalid interval"
// @Router /intervals/{interval}/stages [get]
func (h *Handler) GetIntervalStages(w http.ResponseWriter, r *http.Request) {
	interval := pathSegment(r.URL.Path, 3)
	if !intervalPattern.MatchString(interval) {
		http.Error(w, "interval must be a YYYY-MM-DD date", http.StatusBadRequest)
		return
	}

	stages, err := h.Ledger.StageInstances(interval)
	if err != nil {
		http.Error(w, "Failed to fetch stages", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"interval": interval,
		"stages":   stages,
		"count":    len(stages),
	})
}

// GetIntervalArtifacts lists the committed artifacts of an interval
// @Summary Get interval artifacts
// @Description List the artifacts committed for a logical interval
// @Tags intervals
// @Produce json
// @Param interval path string true "Interval (YYYY-MM-DD)"
// @Success 200 {object} map[string]interface{} "Artifacts"
// @Failure 400 {object} map[string]interface{} "Invalid interval"
// @Router /intervals/{interval}/artifacts [get]
func (h *Handler) GetIntervalArtifacts(w http.ResponseWriter, r *http.Request) {
	interval := pathSegment(r.URL.Path, 3)
	if !intervalPattern.MatchString(interval) {
		http.Error(w, "interval must be a YYYY-MM-DD date", http.StatusBadRequest)
		return
	}

	artifacts, err := h.Artifacts.List(interval)
	if err != nil {
		http.Error(w, "Failed to list artifacts", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"interval":  interval,
		"artifacts": artifacts,
		"count":     len(artifacts),
	})
}

// Health reports service liveness
// @Summary Health check
// @Tags health
// @Produce json
// @Success 200 {object} map[string]string "Service status"
// @Router /health [get]
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

// pathSegment returns the n-th segment of the path (0-based), or "".
func pathSegment(path string, n int) string {
	segments := strings.Split(strings.Trim(path, "/"), "/")
	if n >= len(segments) {
		return ""
	}
	return segments[n]
}
