package controller

import (
	"net/http"
	"time"

	"github.com/cassiomorais/txops/internal/application/jobs"
)

// CronController runs reaper sweeps on behalf of an external scheduler.
type CronController struct {
	runner *jobs.SweepRunner
}

func NewCronController(runner *jobs.SweepRunner) *CronController {
	return &CronController{runner: runner}
}

// Sweep handles POST /api/v1/cron
func (h *CronController) Sweep(w http.ResponseWriter, r *http.Request) {
	var req SweepRequest
	if r.ContentLength != 0 {
		if err := decodeAndValidate(r, &req); err != nil {
			writeError(w, err)
			return
		}
	}

	// Deadlines past the sweep budget are cut to it.
	var requested time.Time
	if req.Deadline != nil {
		requested = *req.Deadline
	}
	deadline := h.runner.Deadline(requested)

	res, err := h.runner.Run(r.Context(), deadline)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, SweepResponse{SweepResult: res, Deadline: deadline})
}
