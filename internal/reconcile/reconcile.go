// Package reconcile merges carrier status reports into shipment records.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/tournevent/courierhub/internal/events"
	"github.com/tournevent/courierhub/internal/lock"
	"github.com/tournevent/courierhub/internal/store"
	"github.com/tournevent/courierhub/internal/telemetry"
	"github.com/tournevent/courierhub/pkg/carrier"
	"github.com/uptrace/opentelemetry-go-extra/otelzap"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// Outcome is the result of applying a status report.
type Outcome string

const (
	OutcomeApplied   Outcome = "applied"
	OutcomeUnchanged Outcome = "unchanged"
	OutcomeStale     Outcome = "stale"
	OutcomeDeferred  Outcome = "deferred"
	OutcomeIgnored   Outcome = "ignored"
)

// Result reports what Apply did.
type Result struct {
	Outcome   Outcome
	OrderID   string
	Status    carrier.CanonicalStatus
	RawStatus string
}

// Config holds reconciler settings. Zero values get defaults.
type Config struct {
	CarrierTimeout time.Duration
	DeferTTL       time.Duration
	DeferCapacity  int

	Publisher events.Publisher
	Metrics   *telemetry.Metrics
	Tracer    trace.Tracer
}

const (
	defaultCarrierTimeout = 30 * time.Second
	defaultDeferTTL       = 10 * time.Minute
	defaultDeferCapacity  = 1000
)

// Reconciler serializes status merges per order.
type Reconciler struct {
	registry  *carrier.Registry
	store     store.Store
	locker    lock.Locker
	publisher events.Publisher
	metrics   *telemetry.Metrics
	logger    *otelzap.Logger
	tracer    trace.Tracer
	timeout   time.Duration
	pending   *deferrals
	now       func() time.Time
}

// New creates a reconciler.
func New(cfg Config, registry *carrier.Registry, st store.Store, locker lock.Locker, logger *otelzap.Logger) *Reconciler {
	if cfg.CarrierTimeout <= 0 {
		cfg.CarrierTimeout = defaultCarrierTimeout
	}
	if cfg.DeferTTL <= 0 {
		cfg.DeferTTL = defaultDeferTTL
	}
	if cfg.DeferCapacity <= 0 {
		cfg.DeferCapacity = defaultDeferCapacity
	}
	if cfg.Publisher == nil {
		cfg.Publisher = events.Nop{}
	}
	if cfg.Metrics == nil {
		cfg.Metrics = telemetry.NewMetrics(nil)
	}
	if cfg.Tracer == nil {
		cfg.Tracer = otel.Tracer("courierhub/reconcile")
	}

	now := func() time.Time { return time.Now().UTC() }
	return &Reconciler{
		registry:  registry,
		store:     st,
		locker:    locker,
		publisher: cfg.Publisher,
		metrics:   cfg.Metrics,
		logger:    logger,
		tracer:    cfg.Tracer,
		timeout:   cfg.CarrierTimeout,
		pending:   newDeferrals(cfg.DeferCapacity, cfg.DeferTTL, now),
		now:       now,
	}
}

// Pending returns the number of deferred webhooks.
func (r *Reconciler) Pending() int {
	return r.pending.len()
}

// Apply merges an interpreted webhook of carrierID into the matching
// shipment record. Reports without a status are informational and ignored.
// When no record exists yet the report is deferred until ShipmentCreated.
func (r *Reconciler) Apply(ctx context.Context, carrierID string, res *carrier.WebhookResult) (*Result, error) {
	ctx, span := r.tracer.Start(ctx, "reconcile.Apply",
		trace.WithAttributes(
			attribute.String("carrier.id", carrierID),
			attribute.String("reference", res.Reference),
		))
	defer span.End()

	if res.Status == "" {
		return &Result{Outcome: OutcomeIgnored, RawStatus: res.RawStatus}, nil
	}

	orderID, err := r.resolve(ctx, res)
	if errors.Is(err, store.ErrOrderNotFound) {
		r.pending.put(carrierID, res)
		r.logger.Ctx(ctx).Info("Deferring webhook for unknown reference",
			zap.String("carrier", carrierID),
			zap.String("reference", res.Reference),
			zap.String("status", string(res.Status)),
		)

		// A dispatch may have committed between the lookup and put.
		orderID, err = r.resolve(ctx, res)
		if errors.Is(err, store.ErrOrderNotFound) {
			r.metrics.RecordMerge(carrierID, string(OutcomeDeferred))
			return &Result{Outcome: OutcomeDeferred, Status: res.Status, RawStatus: res.RawStatus}, nil
		}
		if err != nil {
			return nil, err
		}
		order, err := r.store.GetOrder(ctx, orderID)
		if err != nil {
			return nil, err
		}
		return r.flush(ctx, order, carrierID)
	}
	if err != nil {
		return nil, err
	}

	release, err := r.locker.Acquire(ctx, lock.OrderKey(orderID))
	if err != nil {
		return nil, err
	}
	defer release()

	tx, err := r.store.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	rec, err := tx.GetShipment(ctx, orderID)
	if errors.Is(err, store.ErrShipmentNotFound) {
		// The order exists but its dispatch has not committed. The lock
		// orders us before the dispatch commit, so its hook will flush.
		r.pending.put(carrierID, res)
		r.metrics.RecordMerge(carrierID, string(OutcomeDeferred))
		return &Result{Outcome: OutcomeDeferred, OrderID: orderID, Status: res.Status, RawStatus: res.RawStatus}, nil
	}
	if err != nil {
		return nil, err
	}
	if rec.CarrierID != carrierID {
		return nil, fmt.Errorf("%w: order %s is shipped by %s, not %s",
			carrier.ErrUnknownCarrier, orderID, rec.CarrierID, carrierID)
	}

	next, mr := Merge(*rec, UpdateFromWebhook(res), r.now())
	result := &Result{Outcome: Outcome(mr), OrderID: orderID, Status: next.CanonicalStatus, RawStatus: next.RawStatus}
	r.metrics.RecordMerge(carrierID, string(mr))
	if mr != MergeApplied {
		return result, nil
	}

	if err := r.save(ctx, tx, &next); err != nil {
		return nil, err
	}
	r.changed(ctx, &next)
	return result, nil
}

// ShipmentCreated replays webhooks deferred for a newly committed shipment.
// It must be called without holding the order's lock.
func (r *Reconciler) ShipmentCreated(ctx context.Context, order *carrier.Order, rec *carrier.ShipmentRecord) {
	refs := []string{order.ID, order.Number, rec.TrackingCode, rec.ConsignmentID}
	if r.pending.len() == 0 {
		return
	}
	if _, err := r.flush(ctx, order, rec.CarrierID, refs...); err != nil {
		r.logger.Ctx(ctx).Warn("Failed to replay deferred webhooks",
			zap.String("order_id", order.ID),
			zap.String("carrier", rec.CarrierID),
			zap.Error(err),
		)
	}
}

// flush applies the deferred reports of carrierID matching order under its
// lock. refs extends the reference set with known shipment identifiers.
func (r *Reconciler) flush(ctx context.Context, order *carrier.Order, carrierID string, refs ...string) (*Result, error) {
	release, err := r.locker.Acquire(ctx, lock.OrderKey(order.ID))
	if err != nil {
		return nil, err
	}
	defer release()

	tx, err := r.store.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	rec, err := tx.GetShipment(ctx, order.ID)
	if errors.Is(err, store.ErrShipmentNotFound) {
		return &Result{Outcome: OutcomeDeferred, OrderID: order.ID}, nil
	}
	if err != nil {
		return nil, err
	}
	if rec.CarrierID != carrierID {
		// Leave them to expire.
		return &Result{Outcome: OutcomeDeferred, OrderID: order.ID}, nil
	}

	refs = append(refs, order.ID, order.Number, rec.TrackingCode, rec.ConsignmentID)
	queued := r.pending.take(carrierID, refs...)

	next := *rec
	outcome := OutcomeUnchanged
	for i := range queued {
		var mr MergeResult
		next, mr = Merge(next, UpdateFromWebhook(&queued[i]), r.now())
		r.metrics.RecordMerge(carrierID, string(mr))
		if mr == MergeApplied {
			outcome = OutcomeApplied
		}
	}

	result := &Result{Outcome: outcome, OrderID: order.ID, Status: next.CanonicalStatus, RawStatus: next.RawStatus}
	if outcome != OutcomeApplied {
		return result, nil
	}
	if err := r.save(ctx, tx, &next); err != nil {
		return nil, err
	}

	r.logger.Ctx(ctx).Info("Replayed deferred webhooks",
		zap.String("order_id", order.ID),
		zap.String("carrier", carrierID),
		zap.Int("count", len(queued)),
		zap.String("status", string(next.CanonicalStatus)),
	)
	r.changed(ctx, &next)
	return result, nil
}

// CheckStatus asks the carrier for the current status of an order's
// shipment and stores it. The carrier's live answer replaces the stored
// status, so the record always matches what is returned. carrierID may be
// empty to use the record's carrier.
func (r *Reconciler) CheckStatus(ctx context.Context, orderID, carrierID string) (*carrier.StatusResult, error) {
	ctx, span := r.tracer.Start(ctx, "reconcile.CheckStatus",
		trace.WithAttributes(attribute.String("order.id", orderID)))
	defer span.End()

	rec, err := r.store.GetShipment(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if carrierID == "" {
		carrierID = rec.CarrierID
	}
	if rec.CarrierID != carrierID {
		return nil, fmt.Errorf("%w: order %s is shipped by %s, not %s",
			carrier.ErrUnknownCarrier, orderID, rec.CarrierID, carrierID)
	}
	c, err := r.registry.Get(carrierID)
	if err != nil {
		return nil, err
	}

	identifier, idType := rec.ConsignmentID, carrier.ByConsignmentID
	if identifier == "" {
		identifier, idType = rec.TrackingCode, carrier.ByTrackingCode
	}

	callCtx, cancel := context.WithTimeout(ctx, r.timeout)
	start := time.Now()
	status, err := c.GetDeliveryStatus(callCtx, identifier, idType)
	r.metrics.ObserveCarrierCall("get_delivery_status", carrierID, start)
	if err == nil {
		err = callCtx.Err()
	}
	cancel()
	if err != nil {
		err = carrier.FromContext(carrierID, err)
		r.metrics.RecordError(carrierID, errorCode(err))
		r.logger.Ctx(ctx).Warn("Status check failed",
			zap.String("order_id", orderID),
			zap.String("carrier", carrierID),
			zap.Error(err),
		)
		return nil, err
	}

	release, err := r.locker.Acquire(ctx, lock.OrderKey(orderID))
	if err != nil {
		return nil, err
	}
	defer release()

	tx, err := r.store.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	current, err := tx.GetShipment(ctx, orderID)
	if err != nil {
		return nil, err
	}
	next, mr := Merge(*current, Update{Status: status.Status, RawStatus: status.RawStatus, Live: true}, r.now())
	r.metrics.RecordMerge(carrierID, string(mr))
	if mr == MergeApplied {
		if err := r.save(ctx, tx, &next); err != nil {
			return nil, err
		}
		r.changed(ctx, &next)
	}
	return status, nil
}

func (r *Reconciler) resolve(ctx context.Context, res *carrier.WebhookResult) (string, error) {
	refs := res.References()
	if len(refs) == 0 {
		return "", fmt.Errorf("%w: webhook carries no reference", store.ErrOrderNotFound)
	}
	var lastErr error
	for _, ref := range refs {
		id, err := r.store.ResolveOrderID(ctx, ref)
		if err == nil {
			return id, nil
		}
		if !errors.Is(err, store.ErrOrderNotFound) {
			return "", err
		}
		lastErr = err
	}
	return "", lastErr
}

func (r *Reconciler) save(ctx context.Context, tx store.Tx, rec *carrier.ShipmentRecord) error {
	if err := tx.SaveShipment(ctx, rec); err != nil {
		return fmt.Errorf("save shipment: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func (r *Reconciler) changed(ctx context.Context, rec *carrier.ShipmentRecord) {
	r.logger.Ctx(ctx).Info("Shipment status updated",
		zap.String("order_id", rec.OrderID),
		zap.String("carrier", rec.CarrierID),
		zap.String("status", string(rec.CanonicalStatus)),
		zap.String("raw_status", rec.RawStatus),
	)
	err := r.publisher.Publish(ctx, events.Event{
		Type:          events.TypeShipmentStatusChanged,
		OrderID:       rec.OrderID,
		CarrierID:     rec.CarrierID,
		TrackingCode:  rec.TrackingCode,
		ConsignmentID: rec.ConsignmentID,
		Status:        string(rec.CanonicalStatus),
		RawStatus:     rec.RawStatus,
		Final:         rec.CanonicalStatus.IsFinal(),
		OccurredAt:    rec.UpdatedAt,
	})
	if err != nil {
		r.logger.Ctx(ctx).Warn("Failed to publish status change",
			zap.String("order_id", rec.OrderID),
			zap.Error(err),
		)
	}
}

func errorCode(err error) string {
	var cerr *carrier.Error
	if errors.As(err, &cerr) {
		return cerr.Code
	}
	return carrier.CodeAPIError
}
