// Package webhook turns gateway webhook notifications into job reconciliation.
package webhook

import (
	"context"
	"errors"
	"fmt"

	"github.com/cassiomorais/txops/internal/application/jobs"
	domainErrors "github.com/cassiomorais/txops/internal/domain/errors"
	"github.com/cassiomorais/txops/internal/domain/gateway"
	"github.com/cassiomorais/txops/internal/domain/job"
	"github.com/cassiomorais/txops/internal/domain/transaction"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("github.com/cassiomorais/txops/internal/application/webhook")

// Listener entity ids configured on the gateway's webhook listeners.
const (
	ListenerTransaction int64 = 1472041829003
	ListenerCompletion  int64 = 1472041831364
	ListenerVoid        int64 = 1472041867364
	ListenerRefund      int64 = 1472041839405
)

// Entity names used in logs and metrics.
const (
	EntityTransaction = "transaction"
	EntityCompletion  = "completion"
	EntityVoid        = "void"
	EntityRefund      = "refund"
	EntityUnknown     = "unknown"
)

// Results of a dispatch.
const (
	ResultProcessed = "processed"
	ResultIgnored   = "ignored"
	ResultUnrelated = "unrelated"
	ResultError     = "error"
)

var listeners = map[int64]string{
	ListenerTransaction: EntityTransaction,
	ListenerCompletion:  EntityCompletion,
	ListenerVoid:        EntityVoid,
	ListenerRefund:      EntityRefund,
}

// Notification is the body the gateway posts to the webhook endpoint.
type Notification struct {
	EventID                     int64  `json:"eventId"`
	SpaceID                     int64  `json:"spaceId" validate:"required,gt=0"`
	EntityID                    int64  `json:"entityId" validate:"required,gt=0"`
	ListenerEntityID            int64  `json:"listenerEntityId" validate:"required,gt=0"`
	ListenerEntityTechnicalName string `json:"listenerEntityTechnicalName,omitempty"`
	WebhookListenerID           int64  `json:"webhookListenerId,omitempty"`
	Timestamp                   string `json:"timestamp,omitempty"`
}

// Entity returns the entity name the notification is about.
func (n Notification) Entity() string {
	if name, ok := listeners[n.ListenerEntityID]; ok {
		return name
	}
	return EntityUnknown
}

// Observer is notified about every dispatched notification.
type Observer interface {
	WebhookHandled(entity, result string)
}

type nopObserver struct{}

func (nopObserver) WebhookHandled(string, string) {}

// Dispatcher loads the notified entity from the gateway and hands it to the
// engine that owns it. Notifications for transactions without a local mirror
// of the same order are dropped.
type Dispatcher struct {
	gateway     gateway.Client
	mirrors     transaction.Repository
	mirrorSvc   *jobs.MirrorService
	refunds     *jobs.RefundEngine
	completions *jobs.CompletionEngine
	voids       *jobs.VoidEngine
	observer    Observer
	logger      zerolog.Logger
}

// NewDispatcher creates a new Dispatcher. observer may be nil.
func NewDispatcher(
	gw gateway.Client,
	mirrors transaction.Repository,
	mirrorSvc *jobs.MirrorService,
	refunds *jobs.RefundEngine,
	completions *jobs.CompletionEngine,
	voids *jobs.VoidEngine,
	observer Observer,
	logger zerolog.Logger,
) *Dispatcher {
	if observer == nil {
		observer = nopObserver{}
	}
	return &Dispatcher{
		gateway:     gw,
		mirrors:     mirrors,
		mirrorSvc:   mirrorSvc,
		refunds:     refunds,
		completions: completions,
		voids:       voids,
		observer:    observer,
		logger:      logger,
	}
}

// Dispatch processes one notification. A returned error means the
// notification should be delivered again.
func (d *Dispatcher) Dispatch(ctx context.Context, n Notification) (err error) {
	entity := n.Entity()
	ctx, span := tracer.Start(ctx, "Dispatcher.Dispatch", trace.WithAttributes(
		attribute.String("webhook.entity", entity),
		attribute.Int64("webhook.entity_id", n.EntityID),
		attribute.Int64("webhook.space_id", n.SpaceID),
	))
	result := ResultProcessed
	defer func() {
		if err != nil {
			result = ResultError
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.SetAttributes(attribute.String("webhook.result", result))
		span.End()
		d.observer.WebhookHandled(entity, result)
	}()

	log := d.logger.With().
		Str("entity", entity).
		Int64("entity_id", n.EntityID).
		Int64("space_id", n.SpaceID).
		Logger()

	switch entity {
	case EntityTransaction:
		result, err = d.transaction(ctx, n)
	case EntityRefund:
		result, err = d.refund(ctx, n, log)
	case EntityCompletion:
		result, err = d.completion(ctx, n)
	case EntityVoid:
		result, err = d.void(ctx, n)
	default:
		result = ResultIgnored
	}
	if err != nil {
		log.Error().Err(err).Msg("Error processing webhook")
		return err
	}

	log.Debug().Str("result", result).Msg("Webhook processed")
	return nil
}

func (d *Dispatcher) transaction(ctx context.Context, n Notification) (string, error) {
	_, err := d.mirrorSvc.Sync(ctx, n.SpaceID, n.EntityID)
	if errors.Is(err, domainErrors.ErrOrderNotFound) {
		return ResultUnrelated, nil
	}
	if err != nil {
		return "", err
	}
	return ResultProcessed, nil
}

func (d *Dispatcher) refund(ctx context.Context, n Notification, log zerolog.Logger) (string, error) {
	remote, err := d.gateway.ReadRefund(ctx, n.SpaceID, n.EntityID)
	if err != nil {
		return "", fmt.Errorf("read refund %d: %w", n.EntityID, err)
	}
	related, err := d.orderRelated(ctx, n.SpaceID, remote.TransactionID, remote.MerchantReference)
	if err != nil || !related {
		return ResultUnrelated, err
	}

	r, err := d.refunds.Reconcile(ctx, remote)
	if err != nil {
		return "", err
	}
	if r == nil {
		return ResultIgnored, nil
	}

	if r.State == job.StateApply {
		// The reaper retries failed applies.
		if _, err := d.refunds.Apply(ctx, r.ID); err != nil {
			log.Warn().Err(err).Int64("job_id", r.ID).Msg("Refund apply after webhook failed")
		}
	}
	return ResultProcessed, nil
}

func (d *Dispatcher) completion(ctx context.Context, n Notification) (string, error) {
	remote, err := d.gateway.ReadCompletion(ctx, n.SpaceID, n.EntityID)
	if err != nil {
		return "", fmt.Errorf("read completion %d: %w", n.EntityID, err)
	}
	related, err := d.orderRelated(ctx, n.SpaceID, remote.TransactionID, remote.MerchantReference)
	if err != nil || !related {
		return ResultUnrelated, err
	}

	c, err := d.completions.Reconcile(ctx, remote)
	if err != nil {
		return "", err
	}
	if c == nil {
		return ResultIgnored, nil
	}
	return ResultProcessed, nil
}

func (d *Dispatcher) void(ctx context.Context, n Notification) (string, error) {
	remote, err := d.gateway.ReadVoid(ctx, n.SpaceID, n.EntityID)
	if err != nil {
		return "", fmt.Errorf("read void %d: %w", n.EntityID, err)
	}
	related, err := d.orderRelated(ctx, n.SpaceID, remote.TransactionID, remote.MerchantReference)
	if err != nil || !related {
		return ResultUnrelated, err
	}

	v, err := d.voids.Reconcile(ctx, remote)
	if err != nil {
		return "", err
	}
	if v == nil {
		return ResultIgnored, nil
	}
	return ResultProcessed, nil
}

// orderRelated reports whether the transaction is mirrored locally for the
// order named by the merchant reference.
func (d *Dispatcher) orderRelated(ctx context.Context, spaceID, transactionID int64, merchantReference string) (bool, error) {
	m, err := d.mirrors.Get(ctx, spaceID, transactionID)
	if errors.Is(err, domainErrors.ErrNoTransaction) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	orderID, ok := transaction.ParseOrderID(merchantReference)
	return ok && orderID == m.OrderID, nil
}
