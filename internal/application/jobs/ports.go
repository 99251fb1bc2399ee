package jobs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cassiomorais/txops/internal/domain/commerce"
	"github.com/cassiomorais/txops/internal/domain/gateway"
	"github.com/cassiomorais/txops/internal/domain/job"
	"github.com/cassiomorais/txops/internal/domain/transaction"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("github.com/cassiomorais/txops/internal/application/jobs")

// TransactionLock serializes every job and mirror mutation of a single
// transaction. fn runs inside a storage transaction that commits when fn
// returns nil and rolls back otherwise. A second caller for the same
// transaction blocks until the first one finishes or the lock times out
// with errors.ErrLockTimeout.
type TransactionLock interface {
	WithLock(ctx context.Context, spaceID, transactionID int64, fn func(ctx context.Context) error) error
}

// Observer is notified about job progress. The metrics layer implements it.
type Observer interface {
	JobStateChanged(kind job.Kind, state job.State)
	GatewayCallFailed(kind job.Kind, operation string, classified bool)
	ApplyAttemptFailed(terminal bool)
}

type nopObserver struct{}

func (nopObserver) JobStateChanged(job.Kind, job.State)      {}
func (nopObserver) GatewayCallFailed(job.Kind, string, bool) {}
func (nopObserver) ApplyAttemptFailed(bool)                  {}

// Deps bundles the collaborators shared by the engines.
type Deps struct {
	Lock        TransactionLock
	Mirrors     transaction.Repository
	Refunds     job.RefundRepository
	Completions job.CompletionRepository
	Voids       job.VoidRepository
	Gateway     gateway.Client
	Orders      commerce.OrderService
	Observer    Observer
	Logger      zerolog.Logger
	Now         func() time.Time
}

func (d Deps) withDefaults() Deps {
	if d.Observer == nil {
		d.Observer = nopObserver{}
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	return d
}

// asClientError reports whether err is a classified gateway rejection.
func asClientError(err error) (*gateway.ClientError, bool) {
	var ce *gateway.ClientError
	if errors.As(err, &ce) {
		return ce, true
	}
	return nil, false
}

func clientFailureReason(action string, ce *gateway.ClientError) string {
	msg := ce.Message
	if msg == "" {
		msg = ce.Reason
	}
	return fmt.Sprintf("Could not %s. Error: %s", action, msg)
}

func remoteFailureReason(reason *string) string {
	if reason == nil {
		return ""
	}
	return *reason
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
