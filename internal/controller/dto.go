package controller

import (
	"time"

	"github.com/cassiomorais/txops/internal/application/jobs"
	"github.com/cassiomorais/txops/internal/domain/job"
)

// --- Request DTOs ---
// Refund amounts arrive the way the back office posts them: a flat map of
// form fields (quantity_<detail>, amount_<detail>, shipping_amount, ...)
// whose values may be strings or numbers.

// RefundRequest holds the input for refunding part of an order.
type RefundRequest struct {
	Fields map[string]any `json:"fields" validate:"required,min=1"`
}

// SweepRequest holds the input of a cron sweep. A missing deadline means
// the configured sweep budget.
type SweepRequest struct {
	Deadline *time.Time `json:"deadline,omitempty"`
}

// --- Response DTOs ---

// JobResponse represents a job in API responses.
type JobResponse struct {
	job.Summary
	OrderID    int64  `json:"order_id"`
	ExternalID string `json:"external_id,omitempty"`
	ApplyTries *int   `json:"apply_tries,omitempty"`
}

// JobListResponse lists the jobs of one order.
type JobListResponse struct {
	OrderID int64         `json:"order_id"`
	Jobs    []JobResponse `json:"jobs"`
}

// WebhookAcceptedResponse acknowledges a queued notification.
type WebhookAcceptedResponse struct {
	MessageID string `json:"message_id"`
}

// SweepResponse reports one cron sweep.
type SweepResponse struct {
	jobs.SweepResult
	Deadline time.Time `json:"deadline"`
}

// ErrorResponse represents an error in API responses.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

// --- Conversion helpers ---

func refundResponse(r *job.Refund) JobResponse {
	tries := r.ApplyTries
	return JobResponse{
		Summary:    r.Summary(),
		OrderID:    r.OrderID,
		ExternalID: r.ExternalID,
		ApplyTries: &tries,
	}
}

func completionResponse(c *job.Completion) JobResponse {
	return JobResponse{Summary: c.Summary(), OrderID: c.OrderID}
}

func voidResponse(v *job.Void) JobResponse {
	return JobResponse{Summary: v.Summary(), OrderID: v.OrderID}
}
