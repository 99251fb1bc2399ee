package jobs

import (
	"context"
	"errors"
	"fmt"

	domainErrors "github.com/cassiomorais/txops/internal/domain/errors"
	"github.com/cassiomorais/txops/internal/domain/gateway"
	"github.com/cassiomorais/txops/internal/domain/job"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// VoidEngine drives void jobs: execute, send and reconcile.
type VoidEngine struct {
	Deps
}

// NewVoidEngine creates a new VoidEngine.
func NewVoidEngine(deps Deps) *VoidEngine {
	return &VoidEngine{Deps: deps.withDefaults()}
}

// Execute creates a void job for the order and sends it.
func (e *VoidEngine) Execute(ctx context.Context, orderID int64) (v *job.Void, err error) {
	ctx, span := tracer.Start(ctx, "VoidEngine.Execute", trace.WithAttributes(attribute.Int64("order.id", orderID)))
	defer func() { endSpan(span, err) }()

	m, err := e.Mirrors.GetByOrderID(ctx, orderID)
	if err != nil {
		return nil, err
	}

	err = e.Lock.WithLock(ctx, m.SpaceID, m.TransactionID, func(ctx context.Context) error {
		locked, err := e.Mirrors.Get(ctx, m.SpaceID, m.TransactionID)
		if err != nil {
			return err
		}
		if !locked.IsAuthorized() {
			return domainErrors.ErrNotVoidable
		}
		if err := ensureNoRunning(ctx, e.Voids.FindRunning, locked); err != nil {
			return err
		}
		if err := ensureNoRunning(ctx, e.Completions.FindRunning, locked); err != nil {
			return err
		}

		v = job.NewVoid(locked.SpaceID, locked.TransactionID, locked.OrderID)
		return e.Voids.Create(ctx, v)
	})
	if err != nil {
		return nil, err
	}

	e.Observer.JobStateChanged(job.KindVoid, job.StateCreated)
	e.Logger.Info().Int64("job_id", v.ID).Int64("order_id", orderID).Msg("Void job created")

	return e.Send(ctx, v.ID)
}

// Send voids the transaction online. It only acts on CREATED jobs.
func (e *VoidEngine) Send(ctx context.Context, jobID int64) (v *job.Void, err error) {
	ctx, span := tracer.Start(ctx, "VoidEngine.Send", trace.WithAttributes(attribute.Int64("job.id", jobID)))
	defer func() { endSpan(span, err) }()

	v, err = e.Voids.GetByID(ctx, jobID)
	if err != nil {
		return nil, err
	}

	changed, transient := false, false
	err = e.Lock.WithLock(ctx, v.SpaceID, v.TransactionID, func(ctx context.Context) error {
		current, err := e.Voids.GetByID(ctx, jobID)
		if err != nil {
			return err
		}
		v = current
		if current.State != job.StateCreated {
			return nil
		}

		remote, err := e.Gateway.VoidOnline(ctx, current.SpaceID, current.TransactionID)
		if err != nil {
			ce, ok := asClientError(err)
			if !ok {
				transient = true
				return err
			}
			e.Observer.GatewayCallFailed(job.KindVoid, "send", true)
			if err := current.MarkFailed(clientFailureReason("send the void", ce)); err != nil {
				return err
			}
		} else if err := current.MarkSent(remote.ID); err != nil {
			return err
		}
		changed = true
		return e.Voids.Update(ctx, current)
	})
	if err != nil {
		if transient {
			e.Observer.GatewayCallFailed(job.KindVoid, "send", false)
		}
		e.Logger.Error().Err(err).Int64("job_id", jobID).Msg("Error sending void job")
		return v, fmt.Errorf("send void job %d: %w", jobID, err)
	}

	if changed {
		e.Observer.JobStateChanged(job.KindVoid, v.State)
		e.Logger.Info().Int64("job_id", jobID).Str("state", string(v.State)).Msg("Void job sent")
	}
	return v, nil
}

// Reconcile applies a gateway void notification, matching by void id first
// and by the running void of the transaction second.
func (e *VoidEngine) Reconcile(ctx context.Context, remote *gateway.Void) (v *job.Void, err error) {
	ctx, span := tracer.Start(ctx, "VoidEngine.Reconcile", trace.WithAttributes(
		attribute.Int64("void.id", remote.ID),
		attribute.String("void.state", string(remote.State)),
	))
	defer func() { endSpan(span, err) }()

	if remote.State != gateway.OperationSuccessful && remote.State != gateway.OperationFailed {
		return nil, nil
	}

	changed := false
	err = e.Lock.WithLock(ctx, remote.SpaceID, remote.TransactionID, func(ctx context.Context) error {
		current, err := e.Voids.GetByVoidID(ctx, remote.SpaceID, remote.ID)
		if errors.Is(err, domainErrors.ErrJobNotFound) {
			current, err = e.Voids.FindRunning(ctx, remote.SpaceID, remote.TransactionID)
			if errors.Is(err, domainErrors.ErrJobNotFound) {
				return nil
			}
			if err != nil {
				return err
			}
			if current.VoidID != nil {
				e.Logger.Warn().
					Int64("job_id", current.ID).
					Int64("void_id", remote.ID).
					Int64("stored_void_id", *current.VoidID).
					Msg("Running job belongs to another void, notification ignored")
				return nil
			}
			e.Logger.Warn().
				Int64("job_id", current.ID).
				Int64("void_id", remote.ID).
				Msg("Matched void notification to running job")
			current.AttachVoidID(remote.ID)
		}
		if err != nil {
			return err
		}
		v = current
		if current.IsTerminal() {
			return nil
		}

		if remote.State == gateway.OperationSuccessful {
			err = current.MarkSucceeded()
		} else {
			err = current.MarkFailed(remoteFailureReason(remote.FailureReason))
		}
		if err != nil {
			return err
		}
		changed = true
		return e.Voids.Update(ctx, current)
	})
	if err != nil {
		return nil, fmt.Errorf("reconcile void %d: %w", remote.ID, err)
	}

	if changed {
		e.Observer.JobStateChanged(job.KindVoid, v.State)
		e.Logger.Info().Int64("job_id", v.ID).Str("state", string(v.State)).Msg("Void job reconciled")
	}
	return v, nil
}

// UpdateForOrder sends the running void of an order if it is still CREATED.
func (e *VoidEngine) UpdateForOrder(ctx context.Context, orderID int64) (*job.Void, error) {
	m, err := e.Mirrors.GetByOrderID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	v, err := e.Voids.FindRunning(ctx, m.SpaceID, m.TransactionID)
	if err != nil {
		return nil, err
	}
	return e.Send(ctx, v.ID)
}
