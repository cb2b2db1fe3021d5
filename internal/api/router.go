package api

import (
	"taxi-etl-pipeline/internal/api/handler"
	"taxi-etl-pipeline/pkg/router"
)

func RegisterRoutes(r *router.Router, h *handler.Handler) {
	r.GET("/api/v1/health", h.Health)

	r.POST("/api/v1/runs", h.TriggerRun)
	r.GET("/api/v1/runs", h.ListRuns)
	// More specific routes first
	r.GET("/api/v1/runs/*/stages", h.GetRunStages)
	r.GET("/api/v1/runs/*/artifacts", h.GetRunArtifacts)
	r.POST("/api/v1/runs/*/stages/*/rerun", h.RerunStage)
	// Generic run route last
	r.GET("/api/v1/runs/*", h.GetRun)

	r.GET("/api/v1/intervals/*/stages", h.GetIntervalStages)
	r.GET("/api/v1/intervals/*/artifacts", h.GetIntervalArtifacts)
}
