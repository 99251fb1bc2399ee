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

// CompletionEngine drives completion jobs: execute, update line items, send
// and reconcile.
type CompletionEngine struct {
	Deps
}

// NewCompletionEngine creates a new CompletionEngine.
func NewCompletionEngine(deps Deps) *CompletionEngine {
	return &CompletionEngine{Deps: deps.withDefaults()}
}

// Execute creates a completion job for the order, pushes the final line
// items and sends the completion.
func (e *CompletionEngine) Execute(ctx context.Context, orderID int64) (c *job.Completion, err error) {
	ctx, span := tracer.Start(ctx, "CompletionEngine.Execute", trace.WithAttributes(attribute.Int64("order.id", orderID)))
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
			return domainErrors.ErrNotCompletable
		}
		if err := ensureNoRunning(ctx, e.Completions.FindRunning, locked); err != nil {
			return err
		}
		if err := ensureNoRunning(ctx, e.Voids.FindRunning, locked); err != nil {
			return err
		}

		c = job.NewCompletion(locked.SpaceID, locked.TransactionID, locked.OrderID)
		return e.Completions.Create(ctx, c)
	})
	if err != nil {
		return nil, err
	}

	e.Observer.JobStateChanged(job.KindCompletion, job.StateCreated)
	e.Logger.Info().Int64("job_id", c.ID).Int64("order_id", orderID).Msg("Completion job created")

	return e.process(ctx, c.ID)
}

// process runs the remaining send steps of a completion job.
func (e *CompletionEngine) process(ctx context.Context, jobID int64) (*job.Completion, error) {
	c, err := e.UpdateLineItems(ctx, jobID)
	if err != nil {
		return c, err
	}
	return e.Send(ctx, jobID)
}

// UpdateLineItems pushes the merged line items of the order group to the
// gateway. It only acts on CREATED jobs.
func (e *CompletionEngine) UpdateLineItems(ctx context.Context, jobID int64) (c *job.Completion, err error) {
	ctx, span := tracer.Start(ctx, "CompletionEngine.UpdateLineItems", trace.WithAttributes(attribute.Int64("job.id", jobID)))
	defer func() { endSpan(span, err) }()

	return e.step(ctx, jobID, job.StateCreated, "update_line_items", func(ctx context.Context, current *job.Completion) error {
		items, err := e.Orders.GroupLineItems(ctx, current.OrderID)
		if err != nil {
			return fmt.Errorf("collect line items: %w", err)
		}
		if err := e.Gateway.UpdateLineItems(ctx, current.SpaceID, current.TransactionID, items); err != nil {
			if ce, ok := asClientError(err); ok {
				return current.MarkFailed(clientFailureReason("update the line items", ce))
			}
			return err
		}
		return current.MarkItemsUpdated()
	})
}

// Send completes the transaction online. It only acts on ITEMS_UPDATED jobs.
func (e *CompletionEngine) Send(ctx context.Context, jobID int64) (c *job.Completion, err error) {
	ctx, span := tracer.Start(ctx, "CompletionEngine.Send", trace.WithAttributes(attribute.Int64("job.id", jobID)))
	defer func() { endSpan(span, err) }()

	return e.step(ctx, jobID, job.StateItemsUpdated, "send", func(ctx context.Context, current *job.Completion) error {
		remote, err := e.Gateway.CompleteOnline(ctx, current.SpaceID, current.TransactionID)
		if err != nil {
			if ce, ok := asClientError(err); ok {
				return current.MarkFailed(clientFailureReason("send the completion", ce))
			}
			return err
		}
		return current.MarkSent(remote.ID)
	})
}

// step reloads the job under the transaction lock and runs fn when the job
// is still in state from. fn mutates the job; it is persisted when fn
// returns nil. Any other error leaves the job untouched.
func (e *CompletionEngine) step(ctx context.Context, jobID int64, from job.State, operation string, fn func(ctx context.Context, current *job.Completion) error) (*job.Completion, error) {
	c, err := e.Completions.GetByID(ctx, jobID)
	if err != nil {
		return nil, err
	}

	changed, transient := false, false
	err = e.Lock.WithLock(ctx, c.SpaceID, c.TransactionID, func(ctx context.Context) error {
		current, err := e.Completions.GetByID(ctx, jobID)
		if err != nil {
			return err
		}
		c = current
		if current.State != from {
			return nil
		}
		if err := fn(ctx, current); err != nil {
			transient = !errors.Is(err, domainErrors.ErrInvalidStateTransition)
			return err
		}
		changed = true
		return e.Completions.Update(ctx, current)
	})
	if err != nil {
		if transient {
			e.Observer.GatewayCallFailed(job.KindCompletion, operation, false)
		}
		e.Logger.Error().Err(err).Int64("job_id", jobID).Str("operation", operation).Msg("Error processing completion job")
		return c, fmt.Errorf("%s completion job %d: %w", operation, jobID, err)
	}

	if changed {
		if c.State == job.StateFailure {
			e.Observer.GatewayCallFailed(job.KindCompletion, operation, true)
		}
		e.Observer.JobStateChanged(job.KindCompletion, c.State)
		e.Logger.Info().Int64("job_id", jobID).Str("state", string(c.State)).Msg("Completion job updated")
	}
	return c, nil
}

// Reconcile applies a gateway completion notification. The job is matched by
// completion id and, when the id was never stored, by the single running
// completion of the transaction. Unmatched notifications are ignored.
func (e *CompletionEngine) Reconcile(ctx context.Context, remote *gateway.Completion) (c *job.Completion, err error) {
	ctx, span := tracer.Start(ctx, "CompletionEngine.Reconcile", trace.WithAttributes(
		attribute.Int64("completion.id", remote.ID),
		attribute.String("completion.state", string(remote.State)),
	))
	defer func() { endSpan(span, err) }()

	if remote.State != gateway.OperationSuccessful && remote.State != gateway.OperationFailed {
		return nil, nil
	}

	changed := false
	err = e.Lock.WithLock(ctx, remote.SpaceID, remote.TransactionID, func(ctx context.Context) error {
		current, err := e.Completions.GetByCompletionID(ctx, remote.SpaceID, remote.ID)
		if errors.Is(err, domainErrors.ErrJobNotFound) {
			current, err = e.Completions.FindRunning(ctx, remote.SpaceID, remote.TransactionID)
			if errors.Is(err, domainErrors.ErrJobNotFound) {
				return nil
			}
			if err != nil {
				return err
			}
			if current.CompletionID != nil {
				e.Logger.Warn().
					Int64("job_id", current.ID).
					Int64("completion_id", remote.ID).
					Int64("stored_completion_id", *current.CompletionID).
					Msg("Running job belongs to another completion, notification ignored")
				return nil
			}
			e.Logger.Warn().
				Int64("job_id", current.ID).
				Int64("completion_id", remote.ID).
				Msg("Matched completion notification to running job")
			current.AttachCompletionID(remote.ID)
		}
		if err != nil {
			return err
		}
		c = current
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
		return e.Completions.Update(ctx, current)
	})
	if err != nil {
		return nil, fmt.Errorf("reconcile completion %d: %w", remote.ID, err)
	}

	if changed {
		e.Observer.JobStateChanged(job.KindCompletion, c.State)
		e.Logger.Info().Int64("job_id", c.ID).Str("state", string(c.State)).Msg("Completion job reconciled")
	}
	return c, nil
}

// UpdateForOrder drives the running completion of an order forward.
func (e *CompletionEngine) UpdateForOrder(ctx context.Context, orderID int64) (*job.Completion, error) {
	m, err := e.Mirrors.GetByOrderID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	c, err := e.Completions.FindRunning(ctx, m.SpaceID, m.TransactionID)
	if err != nil {
		return nil, err
	}
	return e.process(ctx, c.ID)
}
