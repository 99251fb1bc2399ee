package job

import (
	"fmt"

	"github.com/cassiomorais/txops/internal/domain/commerce"
	"github.com/cassiomorais/txops/internal/domain/gateway"
	"github.com/google/uuid"
)

var refundTransitions = transitions{
	// CREATED may jump straight to APPLY or FAILURE when the process died
	// after the gateway accepted the refund but before SENT was persisted.
	StateCreated: {StateSent, StatePending, StateApply, StateFailure},
	StateSent:    {StatePending, StateApply, StateFailure},
	StatePending: {StateApply, StateFailure},
	StateApply:   {StateSuccess, StateFailure},
}

// Refund is a refund job. It is sent to the gateway and, once the gateway
// reports success, applied to the shop.
type Refund struct {
	Base
	ExternalID string
	RefundID   *int64
	ApplyTries int
	Parameters commerce.RefundParameters
	Reductions []gateway.LineItemReduction
}

// NewRefund creates a refund job in CREATED with a fresh external id.
func NewRefund(spaceID, transactionID, orderID int64, params commerce.RefundParameters, reductions []gateway.LineItemReduction) *Refund {
	return &Refund{
		Base:       newBase(spaceID, transactionID, orderID),
		ExternalID: fmt.Sprintf("%d-%s", orderID, uuid.NewString()),
		Parameters: params,
		Reductions: reductions,
	}
}

// MarkSent records the gateway refund id. A refund the gateway still
// processes moves to PENDING instead of SENT.
func (r *Refund) MarkSent(refundID int64, pending bool) error {
	to := StateSent
	if pending {
		to = StatePending
	}
	if err := r.transitionTo(KindRefund, refundTransitions, to); err != nil {
		return err
	}
	r.RefundID = &refundID
	return nil
}

// MarkApply records the gateway's confirmation. The shop-side effects are
// still outstanding.
func (r *Refund) MarkApply(refundID int64) error {
	if err := r.transitionTo(KindRefund, refundTransitions, StateApply); err != nil {
		return err
	}
	if r.RefundID == nil {
		r.RefundID = &refundID
	}
	return nil
}

func (r *Refund) MarkSucceeded() error {
	return r.transitionTo(KindRefund, refundTransitions, StateSuccess)
}

func (r *Refund) MarkFailed(reason string) error {
	return r.fail(KindRefund, refundTransitions, reason)
}

// RecordApplyFailure counts a failed apply attempt. Once more than maxTries
// attempts failed the job moves to FAILURE and true is returned.
func (r *Refund) RecordApplyFailure(reason string, maxTries int) (bool, error) {
	r.ApplyTries++
	if r.ApplyTries > maxTries {
		if err := r.MarkFailed(reason); err != nil {
			return false, err
		}
		return true, nil
	}
	return false, nil
}

func (r *Refund) Summary() Summary {
	return r.summary(KindRefund, r.RefundID)
}
