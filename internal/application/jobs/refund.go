package jobs

import (
	"context"
	"errors"
	"fmt"

	"github.com/cassiomorais/txops/internal/domain/commerce"
	domainErrors "github.com/cassiomorais/txops/internal/domain/errors"
	"github.com/cassiomorais/txops/internal/domain/gateway"
	"github.com/cassiomorais/txops/internal/domain/job"
	"github.com/cassiomorais/txops/internal/domain/reduction"
	"github.com/cassiomorais/txops/internal/domain/transaction"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// RefundEngine drives refund jobs: execute, send, reconcile and apply.
type RefundEngine struct {
	Deps
	strategy      commerce.RefundApplyStrategy
	maxApplyTries int
	precision     int32
}

// NewRefundEngine creates a new RefundEngine.
func NewRefundEngine(deps Deps, strategy commerce.RefundApplyStrategy, maxApplyTries int, precision int32) *RefundEngine {
	return &RefundEngine{
		Deps:          deps.withDefaults(),
		strategy:      strategy,
		maxApplyTries: maxApplyTries,
		precision:     precision,
	}
}

// Execute creates a refund job for the order and sends it right away.
// Precondition failures are returned before anything is persisted. A send
// failure is returned together with the created job, which stays retryable.
func (e *RefundEngine) Execute(ctx context.Context, orderID int64, params commerce.RefundParameters) (r *job.Refund, err error) {
	ctx, span := tracer.Start(ctx, "RefundEngine.Execute", trace.WithAttributes(attribute.Int64("order.id", orderID)))
	defer func() { endSpan(span, err) }()

	if err := params.Validate(); err != nil {
		return nil, err
	}

	order, err := e.Orders.GetOrder(ctx, orderID)
	if err != nil {
		return nil, fmt.Errorf("load order: %w", err)
	}

	m, err := e.Mirrors.GetByOrderID(ctx, orderID)
	if err != nil {
		return nil, err
	}

	err = e.Lock.WithLock(ctx, m.SpaceID, m.TransactionID, func(ctx context.Context) error {
		locked, err := e.Mirrors.Get(ctx, m.SpaceID, m.TransactionID)
		if err != nil {
			return err
		}
		if !locked.IsRefundable() {
			return domainErrors.ErrNotRefundable
		}
		if err := ensureNoRunning(ctx, e.Refunds.FindRunning, locked); err != nil {
			return err
		}

		reductions, err := e.reductions(ctx, locked, order, params)
		if err != nil {
			return err
		}

		r = job.NewRefund(locked.SpaceID, locked.TransactionID, orderID, params, reductions)
		return e.Refunds.Create(ctx, r)
	})
	if err != nil {
		return nil, err
	}

	e.Observer.JobStateChanged(job.KindRefund, job.StateCreated)
	e.Logger.Info().
		Int64("job_id", r.ID).
		Int64("order_id", orderID).
		Str("external_id", r.ExternalID).
		Msg("Refund job created")

	sent, err := e.Send(ctx, r.ID)
	if sent != nil {
		r = sent
	}
	return r, err
}

func (e *RefundEngine) reductions(ctx context.Context, m *transaction.Mirror, order *commerce.Order, params commerce.RefundParameters) ([]gateway.LineItemReduction, error) {
	base, err := e.Gateway.BaseLineItems(ctx, m.SpaceID, m.TransactionID)
	if err != nil {
		return nil, fmt.Errorf("load base line items: %w", err)
	}
	return reduction.Allocate(reduction.Request{
		Total:         e.strategy.RefundTotal(params),
		BaseLineItems: base,
		Order:         order,
		Inputs:        params.Lines,
		Raw:           e.strategy.CreateReductions(order, base, params),
		Precision:     e.precision,
	}), nil
}

// Send creates the refund on the gateway. It is a no-op unless the job is
// still CREATED, so concurrent callers never send twice.
func (e *RefundEngine) Send(ctx context.Context, jobID int64) (r *job.Refund, err error) {
	ctx, span := tracer.Start(ctx, "RefundEngine.Send", trace.WithAttributes(attribute.Int64("job.id", jobID)))
	defer func() { endSpan(span, err) }()

	r, err = e.Refunds.GetByID(ctx, jobID)
	if err != nil {
		return nil, err
	}

	changed, transient := false, false
	err = e.Lock.WithLock(ctx, r.SpaceID, r.TransactionID, func(ctx context.Context) error {
		current, err := e.Refunds.GetByID(ctx, jobID)
		if err != nil {
			return err
		}
		r = current
		if current.State != job.StateCreated {
			return nil
		}

		remote, err := e.Gateway.CreateRefund(ctx, current.SpaceID, gateway.RefundCreate{
			ExternalID:    current.ExternalID,
			TransactionID: current.TransactionID,
			Type:          e.strategy.RefundType(current.Parameters),
			Reductions:    current.Reductions,
		})
		if err != nil {
			ce, ok := asClientError(err)
			if !ok {
				transient = true
				return err
			}
			e.Observer.GatewayCallFailed(job.KindRefund, "send", true)
			if err := current.MarkFailed(clientFailureReason("send the refund", ce)); err != nil {
				return err
			}
			changed = true
			return e.Refunds.Update(ctx, current)
		}

		if err := current.MarkSent(remote.ID, remote.State == gateway.RefundPending); err != nil {
			return err
		}
		changed = true
		return e.Refunds.Update(ctx, current)
	})
	if err != nil {
		if transient {
			e.Observer.GatewayCallFailed(job.KindRefund, "send", false)
		}
		e.Logger.Error().Err(err).Int64("job_id", jobID).Msg("Error sending refund job")
		return r, fmt.Errorf("send refund job %d: %w", jobID, err)
	}

	if changed {
		e.Observer.JobStateChanged(job.KindRefund, r.State)
		e.Logger.Info().Int64("job_id", jobID).Str("state", string(r.State)).Msg("Refund job sent")
	}
	return r, nil
}

// Reconcile applies a gateway refund notification to the matching job.
// Refunds this process did not create are ignored and nil is returned.
func (e *RefundEngine) Reconcile(ctx context.Context, remote *gateway.Refund) (r *job.Refund, err error) {
	ctx, span := tracer.Start(ctx, "RefundEngine.Reconcile", trace.WithAttributes(
		attribute.Int64("refund.id", remote.ID),
		attribute.String("refund.state", string(remote.State)),
	))
	defer func() { endSpan(span, err) }()

	found, err := e.Refunds.GetByExternalID(ctx, remote.SpaceID, remote.ExternalID)
	if errors.Is(err, domainErrors.ErrJobNotFound) {
		e.Logger.Debug().Str("external_id", remote.ExternalID).Msg("No refund job for notification")
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	changed := false
	err = e.Lock.WithLock(ctx, found.SpaceID, found.TransactionID, func(ctx context.Context) error {
		current, err := e.Refunds.GetByID(ctx, found.ID)
		if err != nil {
			return err
		}
		r = current

		switch remote.State {
		case gateway.RefundSuccessful:
			if current.State != job.StateCreated && current.State != job.StateSent && current.State != job.StatePending {
				return nil
			}
			if err := current.MarkApply(remote.ID); err != nil {
				return err
			}
		case gateway.RefundFailed:
			if current.IsTerminal() {
				return nil
			}
			if err := current.MarkFailed(remoteFailureReason(remote.FailureReason)); err != nil {
				return err
			}
			current.RefundID = &remote.ID
		default:
			return nil
		}
		changed = true
		return e.Refunds.Update(ctx, current)
	})
	if err != nil {
		return nil, fmt.Errorf("reconcile refund job %d: %w", found.ID, err)
	}

	if changed {
		e.Observer.JobStateChanged(job.KindRefund, r.State)
		e.Logger.Info().Int64("job_id", r.ID).Str("state", string(r.State)).Msg("Refund job reconciled")
	}
	return r, nil
}

// Apply performs the shop-side effects of a confirmed refund. It only acts
// on jobs in APPLY. A failed attempt is counted in a separate locked step;
// after maxApplyTries failed attempts the job moves to FAILURE.
func (e *RefundEngine) Apply(ctx context.Context, jobID int64) (r *job.Refund, err error) {
	ctx, span := tracer.Start(ctx, "RefundEngine.Apply", trace.WithAttributes(attribute.Int64("job.id", jobID)))
	defer func() { endSpan(span, err) }()

	r, err = e.Refunds.GetByID(ctx, jobID)
	if err != nil {
		return nil, err
	}

	var (
		order   *commerce.Order
		applied *commerce.AppliedRefund
	)
	applyErr := e.Lock.WithLock(ctx, r.SpaceID, r.TransactionID, func(ctx context.Context) error {
		current, err := e.Refunds.GetByID(ctx, jobID)
		if err != nil {
			return err
		}
		r = current
		if current.State != job.StateApply {
			return nil
		}

		order, err = e.Orders.GetOrder(ctx, current.OrderID)
		if err != nil {
			return fmt.Errorf("load order: %w", err)
		}
		applied, err = e.strategy.ApplyRefund(ctx, order, current.Parameters)
		if err != nil {
			return err
		}
		if err := current.MarkSucceeded(); err != nil {
			return err
		}
		return e.Refunds.Update(ctx, current)
	})

	if applyErr == nil {
		if applied != nil {
			e.Observer.JobStateChanged(job.KindRefund, job.StateSuccess)
			e.Logger.Info().Int64("job_id", jobID).Msg("Refund applied")
			if err := e.strategy.AfterApplyRefund(ctx, order, r.Parameters, applied); err != nil {
				e.Logger.Warn().Err(err).Int64("job_id", jobID).Msg("After apply refund actions failed")
			}
		}
		return r, nil
	}

	if errors.Is(applyErr, domainErrors.ErrLockTimeout) {
		return r, applyErr
	}

	terminal := false
	err = e.Lock.WithLock(ctx, r.SpaceID, r.TransactionID, func(ctx context.Context) error {
		current, err := e.Refunds.GetByID(ctx, jobID)
		if err != nil {
			return err
		}
		r = current
		if current.State != job.StateApply {
			return nil
		}
		terminal, err = current.RecordApplyFailure(applyErr.Error(), e.maxApplyTries)
		if err != nil {
			return err
		}
		return e.Refunds.Update(ctx, current)
	})
	if err != nil {
		return r, errors.Join(applyErr, fmt.Errorf("record apply failure: %w", err))
	}

	e.Observer.ApplyAttemptFailed(terminal)
	if terminal {
		e.Observer.JobStateChanged(job.KindRefund, job.StateFailure)
	}
	e.Logger.Error().
		Err(applyErr).
		Int64("job_id", jobID).
		Int("apply_tries", r.ApplyTries).
		Bool("terminal", terminal).
		Msg("Error applying refund job")
	return r, fmt.Errorf("apply refund job %d: %w", jobID, applyErr)
}

// UpdateForOrder advances the running refund of an order by one step.
func (e *RefundEngine) UpdateForOrder(ctx context.Context, orderID int64) (*job.Refund, error) {
	m, err := e.Mirrors.GetByOrderID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	r, err := e.Refunds.FindRunning(ctx, m.SpaceID, m.TransactionID)
	if err != nil {
		return nil, err
	}
	switch r.State {
	case job.StateCreated:
		return e.Send(ctx, r.ID)
	case job.StateApply:
		return e.Apply(ctx, r.ID)
	}
	return r, nil
}

// ensureNoRunning fails with ErrOperationInProgress when find returns a job.
func ensureNoRunning[T any](ctx context.Context, find func(ctx context.Context, spaceID, transactionID int64) (T, error), m *transaction.Mirror) error {
	_, err := find(ctx, m.SpaceID, m.TransactionID)
	if err == nil {
		return domainErrors.ErrOperationInProgress
	}
	if errors.Is(err, domainErrors.ErrJobNotFound) {
		return nil
	}
	return err
}
