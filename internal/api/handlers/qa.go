package handlers

import (
	"context"
	"net/http"
	"strconv"

	"github.com/swoopinfo/swoopkb/internal/api"
	"github.com/swoopinfo/swoopkb/internal/domain"
	"github.com/swoopinfo/swoopkb/internal/jobs"
)

type QAScheduler interface {
	RunSweep(ctx context.Context) (*domain.QARun, error)
	GetHealth(ctx context.Context) (*jobs.Health, error)
}

type QAHandler struct {
	scheduler QAScheduler
	runs      QARunReader
}

// QARunReader reads recorded QA sweep summaries.
type QARunReader interface {
	GetLatest(ctx context.Context) (*domain.QARun, error)
	ListRecent(ctx context.Context, limit int) ([]*domain.QARun, error)
}

func NewQAHandler(scheduler QAScheduler, runs QARunReader) *QAHandler {
	return &QAHandler{scheduler: scheduler, runs: runs}
}

type QARunResponse struct {
	ID         string `json:"id"`
	StartedAt  string `json:"started_at"`
	FinishedAt string `json:"finished_at"`
	Examined   int    `json:"examined"`
	Passed     int    `json:"passed"`
	Failed     int    `json:"failed"`
	Repaired   int    `json:"repaired"`
	Notes      string `json:"notes,omitempty"`
}

func qaRunToResponse(run *domain.QARun) *QARunResponse {
	return &QARunResponse{
		ID:         run.ID,
		StartedAt:  run.StartedAt.Format(timeFormat),
		FinishedAt: run.FinishedAt.Format(timeFormat),
		Examined:   run.Examined,
		Passed:     run.Passed,
		Failed:     run.Failed,
		Repaired:   run.Repaired,
		Notes:      run.Notes,
	}
}

// Health handles GET /qa/health
func (h *QAHandler) Health(w http.ResponseWriter, r *http.Request) {
	health, err := h.scheduler.GetHealth(r.Context())
	if err != nil {
		api.HandleError(w, err)
		return
	}

	resp := map[string]interface{}{
		"healthy": health.Healthy,
	}
	if health.LastRun != nil {
		resp["last_run"] = qaRunToResponse(health.LastRun)
	}
	if health.OverdueSince != nil {
		resp["overdue_since"] = health.OverdueSince.Format(timeFormat)
	}

	status := http.StatusOK
	if !health.Healthy {
		status = http.StatusServiceUnavailable
	}
	api.Success(w, status, resp)
}

// LatestRun handles GET /qa/runs/latest
func (h *QAHandler) LatestRun(w http.ResponseWriter, r *http.Request) {
	run, err := h.runs.GetLatest(r.Context())
	if err != nil {
		api.HandleError(w, err)
		return
	}
	api.Success(w, http.StatusOK, qaRunToResponse(run))
}

// ListRuns handles GET /qa/runs
func (h *QAHandler) ListRuns(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed < 0 {
			api.Error(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = parsed
	}

	runs, err := h.runs.ListRecent(r.Context(), limit)
	if err != nil {
		api.HandleError(w, err)
		return
	}

	items := make([]*QARunResponse, 0, len(runs))
	for _, run := range runs {
		items = append(items, qaRunToResponse(run))
	}
	api.Success(w, http.StatusOK, map[string]interface{}{"items": items})
}

// TriggerRun handles POST /admin/qa/run. Runs a sweep synchronously and
// returns its summary.
func (h *QAHandler) TriggerRun(w http.ResponseWriter, r *http.Request) {
	run, err := h.scheduler.RunSweep(r.Context())
	if err != nil {
		api.HandleError(w, err)
		return
	}
	if run == nil {
		api.Success(w, http.StatusOK, map[string]interface{}{"examined": 0, "message": "no chunks due for review"})
		return
	}
	api.Success(w, http.StatusOK, qaRunToResponse(run))
}
