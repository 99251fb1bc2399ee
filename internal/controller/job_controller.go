package controller

import (
	"net/http"
	"slices"

	"github.com/cassiomorais/txops/internal/application/jobs"
	"github.com/cassiomorais/txops/internal/domain/commerce"
	"github.com/cassiomorais/txops/internal/domain/job"
	"github.com/rs/zerolog/log"
)

// JobController exposes the admin operations on an order's transaction.
type JobController struct {
	refunds     *jobs.RefundEngine
	completions *jobs.CompletionEngine
	voids       *jobs.VoidEngine
	refundRepo  job.RefundRepository
	complRepo   job.CompletionRepository
	voidRepo    job.VoidRepository
}

func NewJobController(
	refunds *jobs.RefundEngine,
	completions *jobs.CompletionEngine,
	voids *jobs.VoidEngine,
	refundRepo job.RefundRepository,
	complRepo job.CompletionRepository,
	voidRepo job.VoidRepository,
) *JobController {
	return &JobController{
		refunds:     refunds,
		completions: completions,
		voids:       voids,
		refundRepo:  refundRepo,
		complRepo:   complRepo,
		voidRepo:    voidRepo,
	}
}

// Refund handles POST /api/v1/orders/{orderID}/refunds
func (h *JobController) Refund(w http.ResponseWriter, r *http.Request) {
	orderID, err := orderIDParam(r)
	if err != nil {
		writeError(w, err)
		return
	}

	var req RefundRequest
	if err := decodeAndValidate(r, &req); err != nil {
		writeError(w, err)
		return
	}

	params, err := commerce.ParseRawParameters(req.Fields)
	if err != nil {
		writeError(w, err)
		return
	}

	refund, err := h.refunds.Execute(r.Context(), orderID, params)
	if refund == nil {
		writeError(w, err)
		return
	}
	writeCreated(w, refundResponse(refund), err)
}

// Complete handles POST /api/v1/orders/{orderID}/completion
func (h *JobController) Complete(w http.ResponseWriter, r *http.Request) {
	orderID, err := orderIDParam(r)
	if err != nil {
		writeError(w, err)
		return
	}

	completion, err := h.completions.Execute(r.Context(), orderID)
	if completion == nil {
		writeError(w, err)
		return
	}
	writeCreated(w, completionResponse(completion), err)
}

// Void handles POST /api/v1/orders/{orderID}/void
func (h *JobController) Void(w http.ResponseWriter, r *http.Request) {
	orderID, err := orderIDParam(r)
	if err != nil {
		writeError(w, err)
		return
	}

	void, err := h.voids.Execute(r.Context(), orderID)
	if void == nil {
		writeError(w, err)
		return
	}
	writeCreated(w, voidResponse(void), err)
}

// List handles GET /api/v1/orders/{orderID}/jobs
func (h *JobController) List(w http.ResponseWriter, r *http.Request) {
	orderID, err := orderIDParam(r)
	if err != nil {
		writeError(w, err)
		return
	}
	ctx := r.Context()

	refunds, err := h.refundRepo.ListByOrder(ctx, orderID)
	if err != nil {
		writeError(w, err)
		return
	}
	completions, err := h.complRepo.ListByOrder(ctx, orderID)
	if err != nil {
		writeError(w, err)
		return
	}
	voids, err := h.voidRepo.ListByOrder(ctx, orderID)
	if err != nil {
		writeError(w, err)
		return
	}

	resp := JobListResponse{OrderID: orderID, Jobs: make([]JobResponse, 0, len(refunds)+len(completions)+len(voids))}
	for _, j := range refunds {
		resp.Jobs = append(resp.Jobs, refundResponse(j))
	}
	for _, j := range completions {
		resp.Jobs = append(resp.Jobs, completionResponse(j))
	}
	for _, j := range voids {
		resp.Jobs = append(resp.Jobs, voidResponse(j))
	}
	slices.SortStableFunc(resp.Jobs, func(a, b JobResponse) int {
		return a.CreatedAt.Compare(b.CreatedAt)
	})

	writeJSON(w, http.StatusOK, resp)
}

// writeCreated answers for a persisted job. A job whose send step failed
// transiently is accepted and left to the reaper.
func writeCreated(w http.ResponseWriter, resp JobResponse, sendErr error) {
	if sendErr != nil {
		log.Warn().Err(sendErr).
			Str("job_kind", string(resp.Kind)).
			Int64("job_id", resp.ID).
			Msg("Job created but not sent, deferred to reaper")
		writeJSON(w, http.StatusAccepted, resp)
		return
	}
	writeJSON(w, http.StatusCreated, resp)
}
