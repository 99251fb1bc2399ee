package jobs

import (
	"context"
	"fmt"
	"time"

	domainErrors "github.com/cassiomorais/txops/internal/domain/errors"
	"github.com/cassiomorais/txops/internal/domain/job"
	"go.opentelemetry.io/otel/attribute"
)

// SweepResult summarizes one sweep.
type SweepResult struct {
	Processed   int  `json:"processed"`
	Failed      int  `json:"failed"`
	Interrupted bool `json:"interrupted"`
}

// Reaper drives jobs left behind by crashes or transient failures.
type Reaper struct {
	deps        Deps
	refunds     *RefundEngine
	completions *CompletionEngine
	voids       *VoidEngine
	margin      time.Duration
}

// NewReaper creates a new Reaper. Sweeps stop once the deadline is less
// than margin away.
func NewReaper(deps Deps, refunds *RefundEngine, completions *CompletionEngine, voids *VoidEngine, margin time.Duration) *Reaper {
	return &Reaper{
		deps:        deps.withDefaults(),
		refunds:     refunds,
		completions: completions,
		voids:       voids,
		margin:      margin,
	}
}

type sweepTask struct {
	name    string
	list    func(ctx context.Context) ([]int64, error)
	advance func(ctx context.Context, id int64) error
}

func (r *Reaper) tasks() []sweepTask {
	return []sweepTask{
		{
			name: "refund_send",
			list: func(ctx context.Context) ([]int64, error) {
				return r.deps.Refunds.ListIDsByState(ctx, job.StateCreated)
			},
			advance: func(ctx context.Context, id int64) error {
				_, err := r.refunds.Send(ctx, id)
				return err
			},
		},
		{
			name: "refund_apply",
			list: func(ctx context.Context) ([]int64, error) {
				return r.deps.Refunds.ListIDsByState(ctx, job.StateApply)
			},
			advance: func(ctx context.Context, id int64) error {
				_, err := r.refunds.Apply(ctx, id)
				return err
			},
		},
		{
			name: "completion_send",
			list: func(ctx context.Context) ([]int64, error) {
				return r.deps.Completions.ListIDsByState(ctx, job.StateCreated, job.StateItemsUpdated)
			},
			advance: func(ctx context.Context, id int64) error {
				_, err := r.completions.process(ctx, id)
				return err
			},
		},
		{
			name: "void_send",
			list: func(ctx context.Context) ([]int64, error) {
				return r.deps.Voids.ListIDsByState(ctx, job.StateCreated)
			},
			advance: func(ctx context.Context, id int64) error {
				_, err := r.voids.Send(ctx, id)
				return err
			},
		},
	}
}

// Sweep advances every unsent or unapplied job by one step. It returns
// early, with Interrupted set, once deadline minus the safety margin has
// passed. A zero deadline sweeps everything. Per job errors are logged
// and counted; only listing failures abort the sweep.
func (r *Reaper) Sweep(ctx context.Context, deadline time.Time) (res SweepResult, err error) {
	ctx, span := tracer.Start(ctx, "Reaper.Sweep")
	defer func() {
		span.SetAttributes(
			attribute.Int("sweep.processed", res.Processed),
			attribute.Int("sweep.failed", res.Failed),
			attribute.Bool("sweep.interrupted", res.Interrupted),
		)
		endSpan(span, err)
	}()

	for _, task := range r.tasks() {
		if r.outOfTime(deadline) {
			res.Interrupted = true
			return res, nil
		}

		ids, err := task.list(ctx)
		if err != nil {
			return res, fmt.Errorf("list %s jobs: %w", task.name, err)
		}

		for _, id := range ids {
			if err := ctx.Err(); err != nil {
				res.Interrupted = true
				return res, err
			}
			if r.outOfTime(deadline) {
				res.Interrupted = true
				return res, nil
			}

			res.Processed++
			if err := task.advance(ctx, id); err != nil {
				res.Failed++
				r.deps.Logger.Error().Err(err).Str("task", task.name).Int64("job_id", id).Msg("Error updating job")
			}
		}
	}
	return res, nil
}

func (r *Reaper) outOfTime(deadline time.Time) bool {
	return !deadline.IsZero() && r.deps.Now().Add(r.margin).After(deadline)
}

// HasPending reports whether any job is waiting to be sent or applied.
func (r *Reaper) HasPending(ctx context.Context) (bool, error) {
	for _, task := range r.tasks() {
		ids, err := task.list(ctx)
		if err != nil {
			return false, fmt.Errorf("list %s jobs: %w", task.name, err)
		}
		if len(ids) > 0 {
			return true, nil
		}
	}
	return false, nil
}

// SweepGuard keeps sweeps from overlapping across processes.
type SweepGuard interface {
	Acquire(ctx context.Context) (bool, error)
	Release(ctx context.Context) error
}

// SweepObserver is told about every finished sweep.
type SweepObserver interface {
	ObserveSweep(processed, failed int, interrupted bool, took time.Duration, err error)
}

// SweepRunner runs the reaper behind a system-wide single-flight guard.
type SweepRunner struct {
	reaper   *Reaper
	newGuard func() SweepGuard
	budget   time.Duration
	now      func() time.Time
	observer SweepObserver
}

// NewSweepRunner creates a new SweepRunner. budget bounds sweeps started
// without a deadline.
func NewSweepRunner(reaper *Reaper, newGuard func() SweepGuard, budget time.Duration) *SweepRunner {
	return &SweepRunner{
		reaper:   reaper,
		newGuard: newGuard,
		budget:   budget,
		now:      reaper.deps.Now,
	}
}

// WithObserver sets the observer notified after each sweep.
func (s *SweepRunner) WithObserver(o SweepObserver) *SweepRunner {
	s.observer = o
	return s
}

// Deadline returns the deadline a sweep requested with the given one runs
// to. A zero or later deadline is cut to now plus the budget, so a sweep
// never outlives the guard's lease.
func (s *SweepRunner) Deadline(requested time.Time) time.Time {
	if s.budget <= 0 {
		return requested
	}
	limit := s.now().Add(s.budget)
	if requested.IsZero() || requested.After(limit) {
		return limit
	}
	return requested
}

// Run sweeps until deadline, bounded by the configured budget. It fails with
// ErrSweepInProgress when another sweep holds the guard.
func (s *SweepRunner) Run(ctx context.Context, deadline time.Time) (SweepResult, error) {
	guard := s.newGuard()
	acquired, err := guard.Acquire(ctx)
	if err != nil {
		return SweepResult{}, fmt.Errorf("acquire sweep guard: %w", err)
	}
	if !acquired {
		return SweepResult{}, domainErrors.ErrSweepInProgress
	}
	defer func() {
		if err := guard.Release(context.WithoutCancel(ctx)); err != nil {
			s.reaper.deps.Logger.Warn().Err(err).Msg("Failed to release sweep guard")
		}
	}()

	deadline = s.Deadline(deadline)

	start := time.Now()
	res, err := s.reaper.Sweep(ctx, deadline)
	if s.observer != nil {
		s.observer.ObserveSweep(res.Processed, res.Failed, res.Interrupted, time.Since(start), err)
	}
	s.reaper.deps.Logger.Info().
		Int("processed", res.Processed).
		Int("failed", res.Failed).
		Bool("interrupted", res.Interrupted).
		Msg("Sweep finished")
	return res, err
}
