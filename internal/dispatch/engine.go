// Package dispatch decides which carrier ships an order and hands it over,
// keeping the local status change and the remote shipment together.
package dispatch

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

const defaultCarrierTimeout = 30 * time.Second

// ShipmentHook is told about every committed shipment. It is called after
// the order lock is released.
type ShipmentHook interface {
	ShipmentCreated(ctx context.Context, order *carrier.Order, rec *carrier.ShipmentRecord)
}

// Config holds engine settings.
type Config struct {
	// DefaultCarrier is used when several carriers are enabled.
	DefaultCarrier string
	CarrierTimeout time.Duration

	Publisher events.Publisher
	Metrics   *telemetry.Metrics
	Tracer    trace.Tracer
}

// Engine runs the dispatch state machine.
type Engine struct {
	cfg       Config
	registry  *carrier.Registry
	store     store.Store
	locker    lock.Locker
	hook      ShipmentHook
	publisher events.Publisher
	metrics   *telemetry.Metrics
	logger    *otelzap.Logger
	tracer    trace.Tracer
	now       func() time.Time
}

// New creates an engine. hook may be nil.
func New(cfg Config, registry *carrier.Registry, st store.Store, locker lock.Locker, hook ShipmentHook, logger *otelzap.Logger) *Engine {
	if cfg.CarrierTimeout <= 0 {
		cfg.CarrierTimeout = defaultCarrierTimeout
	}
	if cfg.Publisher == nil {
		cfg.Publisher = events.Nop{}
	}
	if cfg.Metrics == nil {
		cfg.Metrics = telemetry.NewMetrics(nil)
	}
	if cfg.Tracer == nil {
		cfg.Tracer = otel.Tracer("courierhub/dispatch")
	}
	return &Engine{
		cfg:       cfg,
		registry:  registry,
		store:     st,
		locker:    locker,
		hook:      hook,
		publisher: cfg.Publisher,
		metrics:   cfg.Metrics,
		logger:    logger,
		tracer:    cfg.Tracer,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// EnabledCarriers lists the enabled carriers in registration order.
func (e *Engine) EnabledCarriers() []CarrierInfo {
	return infos(e.registry.Enabled())
}

// Carriers lists every registered carrier.
func (e *Engine) Carriers() []CarrierInfo {
	return infos(e.registry.All())
}

// ChangeStatus moves an order to status. A change to out-for-shipping runs
// the dispatch decision; chosenCarrierID, when set, skips the automatic
// choice. Every other change is committed directly.
func (e *Engine) ChangeStatus(ctx context.Context, orderID string, status carrier.OrderStatus, chosenCarrierID string) (*Result, error) {
	if !status.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidStatus, status)
	}
	if status == carrier.OrderOutForShipping {
		return e.RequestDispatch(ctx, orderID, chosenCarrierID, carrier.ShipmentParams{})
	}

	ctx, span := e.tracer.Start(ctx, "dispatch.ChangeStatus",
		trace.WithAttributes(attribute.String("order.id", orderID), attribute.String("order.status", string(status))))
	defer span.End()

	if err := e.commitStatus(ctx, orderID, status); err != nil {
		return nil, err
	}
	return &Result{OrderID: orderID, State: StateUpdated, Message: fmt.Sprintf("Order status changed to %s", status)}, nil
}

// RequestDispatch moves an order to out-for-shipping, creating a shipment
// with the chosen, the only enabled or the default carrier.
func (e *Engine) RequestDispatch(ctx context.Context, orderID, chosenCarrierID string, params carrier.ShipmentParams) (*Result, error) {
	ctx, span := e.tracer.Start(ctx, "dispatch.RequestDispatch",
		trace.WithAttributes(attribute.String("order.id", orderID), attribute.String("carrier.chosen", chosenCarrierID)))
	defer span.End()

	c, state, res := e.choose(chosenCarrierID)
	if res != nil {
		res.OrderID = orderID
	}

	switch state {
	case StateDispatchFailed:
		e.metrics.RecordDispatch(chosenCarrierID, string(state))
		return res, nil

	case StateSelectionRequired:
		if _, err := e.store.GetOrder(ctx, orderID); err != nil {
			return nil, err
		}
		e.metrics.RecordDispatch("", string(state))
		return res, nil

	case StateNoCourier:
		if err := e.commitStatus(ctx, orderID, carrier.OrderOutForShipping); err != nil {
			return nil, err
		}
		e.metrics.RecordDispatch("", string(state))
		e.logger.Ctx(ctx).Info("No courier enabled, order marked out for shipping", zap.String("order_id", orderID))
		return res, nil
	}

	result, created, err := e.dispatchOne(ctx, orderID, c, state, params)
	if err != nil {
		return nil, err
	}
	e.metrics.RecordDispatch(c.ID(), string(result.State))
	if created != nil {
		e.afterCommit(ctx, created.order, created.rec)
	}
	return result, nil
}

// choose applies the carrier selection rules. It returns a non-nil Result
// for every state that needs no carrier call.
func (e *Engine) choose(chosenCarrierID string) (carrier.Carrier, State, *Result) {
	if chosenCarrierID != "" {
		c, err := e.registry.Get(chosenCarrierID)
		if err != nil {
			return nil, StateDispatchFailed, failed("", chosenCarrierID,
				fmt.Sprintf("Unknown carrier: %s", chosenCarrierID), err)
		}
		if !c.IsEnabled() {
			err := carrier.NewError(c.ID(), carrier.CodeNotEnabled, "carrier is not enabled")
			return nil, StateDispatchFailed, failed("", c.ID(),
				fmt.Sprintf("%s is not enabled", c.DisplayName()), err)
		}
		return c, StateAutoSent, nil
	}

	enabled := e.registry.Enabled()
	switch len(enabled) {
	case 0:
		return nil, StateNoCourier, &Result{State: StateNoCourier, Message: "No courier is enabled; order marked out for shipping without a shipment"}
	case 1:
		return enabled[0], StateAutoSent, nil
	}

	if e.cfg.DefaultCarrier != "" {
		for _, c := range enabled {
			if c.ID() == e.cfg.DefaultCarrier {
				return c, StateDefaultSent, nil
			}
		}
	}
	return nil, StateSelectionRequired, &Result{
		State:           StateSelectionRequired,
		Message:         "Several couriers are enabled; choose one to dispatch this order",
		EnabledCarriers: infos(enabled),
	}
}

type committed struct {
	order *carrier.Order
	rec   *carrier.ShipmentRecord
}

// dispatchOne runs the locked section of a single dispatch. The returned
// committed value is set only when the shipment was stored.
func (e *Engine) dispatchOne(ctx context.Context, orderID string, c carrier.Carrier, state State, params carrier.ShipmentParams) (*Result, *committed, error) {
	release, err := e.locker.Acquire(ctx, lock.OrderKey(orderID))
	if err != nil {
		return nil, nil, err
	}
	defer release()

	tx, err := e.store.Begin(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	order, err := tx.GetOrderForUpdate(ctx, orderID)
	if err != nil {
		return nil, nil, err
	}
	if res := e.precheck(ctx, tx, order, c); res != nil {
		return res, nil, nil
	}

	logger := e.logger.Ctx(ctx).With(zap.String("order_id", orderID), zap.String("carrier", c.ID()))
	logger.Info("Dispatching order", zap.String("state", string(state)))

	callCtx, cancel := context.WithTimeout(ctx, e.cfg.CarrierTimeout)
	defer cancel()
	start := time.Now()
	shipment, err := c.CreateShipment(callCtx, order, params)
	e.metrics.ObserveCarrierCall("create_shipment", c.ID(), start)
	if err == nil && shipment == nil {
		err = carrier.NewError(c.ID(), carrier.CodeAPIError, "carrier returned no shipment")
	}
	if err != nil {
		err = carrier.FromContext(c.ID(), err)
		e.metrics.RecordError(c.ID(), errorCode(err))
		logger.Warn("Carrier rejected shipment, rolling back", zap.Error(err))
		return failed(orderID, c.ID(), carrier.Message(err, fmt.Sprintf("Failed to create shipment with %s", c.DisplayName())), err), nil, nil
	}

	rec := e.record(orderID, c.ID(), shipment)
	if err := e.commitShipment(ctx, tx, rec); err != nil {
		return e.orphaned(ctx, order, c, rec, err), nil, nil
	}

	logger.Info("Order dispatched",
		zap.String("tracking_code", rec.TrackingCode),
		zap.String("consignment_id", rec.ConsignmentID),
	)
	msg := shipment.Message
	if msg == "" {
		msg = fmt.Sprintf("Shipment created with %s", c.DisplayName())
	}
	order.Status = carrier.OrderOutForShipping
	return &Result{
		OrderID:       orderID,
		State:         state,
		Message:       msg,
		CarrierID:     c.ID(),
		TrackingCode:  rec.TrackingCode,
		ConsignmentID: rec.ConsignmentID,
		TrackingURL:   c.BuildTrackingURL(rec.TrackingCode, rec.ConsignmentID),
	}, &committed{order: order, rec: rec}, nil
}

type shipmentReader interface {
	GetShipment(ctx context.Context, orderID string) (*carrier.ShipmentRecord, error)
}

// precheck rejects orders that already hold a shipment or lack the fields a
// carrier needs.
func (e *Engine) precheck(ctx context.Context, r shipmentReader, order *carrier.Order, c carrier.Carrier) *Result {
	existing, err := r.GetShipment(ctx, order.ID)
	switch {
	case err == nil:
		err := fmt.Errorf("%w: order %s already shipped with %s (%s)",
			carrier.ErrValidationFailure, order.ID, existing.CarrierID, existing.TrackingCode)
		return failed(order.ID, c.ID(), fmt.Sprintf("Order already has a shipment with %s", existing.CarrierID), err)
	case !errors.Is(err, store.ErrShipmentNotFound):
		return failed(order.ID, c.ID(), "Could not check existing shipment", err)
	}

	if err := order.Validate(); err != nil {
		return failed(order.ID, c.ID(), err.Error(), err)
	}
	return nil
}

// record builds the shipment stored at dispatch. StatusAt stays zero so any
// carrier-reported event beats the creation status, including webhooks
// deferred while CreateShipment was in flight.
func (e *Engine) record(orderID, carrierID string, s *carrier.ShipmentResult) *carrier.ShipmentRecord {
	now := e.now()
	status := s.Status
	if status == "" {
		status = carrier.StatusPending
	}
	return &carrier.ShipmentRecord{
		OrderID:         orderID,
		CarrierID:       carrierID,
		TrackingCode:    s.TrackingCode,
		ConsignmentID:   s.ConsignmentID,
		DeliveryCharge:  s.DeliveryCharge,
		CanonicalStatus: status,
		RawStatus:       s.RawStatus,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
}

func (e *Engine) commitShipment(ctx context.Context, tx store.Tx, rec *carrier.ShipmentRecord) error {
	if err := tx.SetOrderStatus(ctx, rec.OrderID, carrier.OrderOutForShipping); err != nil {
		return fmt.Errorf("set order status: %w", err)
	}
	if err := tx.SaveShipment(ctx, rec); err != nil {
		return fmt.Errorf("save shipment: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// orphaned reports a shipment that exists at the carrier but could not be
// stored locally. Nothing voids it remotely; it needs manual reconciliation.
func (e *Engine) orphaned(ctx context.Context, order *carrier.Order, c carrier.Carrier, rec *carrier.ShipmentRecord, cause error) *Result {
	e.metrics.RecordOrphan(c.ID())
	e.logger.Ctx(ctx).Warn("Orphaned remote shipment: carrier accepted the order but the local commit failed",
		zap.String("order_id", order.ID),
		zap.String("carrier", c.ID()),
		zap.String("tracking_code", rec.TrackingCode),
		zap.String("consignment_id", rec.ConsignmentID),
		zap.Error(cause),
	)
	err := fmt.Errorf("orphaned remote shipment %s at %s for order %s: %w", rec.TrackingCode, c.ID(), order.ID, cause)
	res := failed(order.ID, c.ID(),
		fmt.Sprintf("Shipment %s was created with %s but could not be saved; reconcile it manually", rec.TrackingCode, c.DisplayName()),
		err)
	res.TrackingCode = rec.TrackingCode
	res.ConsignmentID = rec.ConsignmentID
	return res
}

func (e *Engine) afterCommit(ctx context.Context, order *carrier.Order, rec *carrier.ShipmentRecord) {
	if e.hook != nil {
		e.hook.ShipmentCreated(ctx, order, rec)
	}
	err := e.publisher.Publish(ctx, events.Event{
		Type:          events.TypeShipmentCreated,
		OrderID:       rec.OrderID,
		CarrierID:     rec.CarrierID,
		TrackingCode:  rec.TrackingCode,
		ConsignmentID: rec.ConsignmentID,
		Status:        string(rec.CanonicalStatus),
		RawStatus:     rec.RawStatus,
		OccurredAt:    rec.CreatedAt,
	})
	if err != nil {
		e.logger.Ctx(ctx).Warn("Failed to publish shipment", zap.String("order_id", rec.OrderID), zap.Error(err))
	}
}

func (e *Engine) commitStatus(ctx context.Context, orderID string, status carrier.OrderStatus) error {
	release, err := e.locker.Acquire(ctx, lock.OrderKey(orderID))
	if err != nil {
		return err
	}
	defer release()

	tx, err := e.store.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.GetOrderForUpdate(ctx, orderID); err != nil {
		return err
	}
	if err := tx.SetOrderStatus(ctx, orderID, status); err != nil {
		return fmt.Errorf("set order status: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// ValidateCredentials runs the read-only credential check of a carrier.
func (e *Engine) ValidateCredentials(ctx context.Context, carrierID string) error {
	c, err := e.registry.Get(carrierID)
	if err != nil {
		return err
	}

	ctx, span := e.tracer.Start(ctx, "dispatch.ValidateCredentials",
		trace.WithAttributes(attribute.String("carrier.id", carrierID)))
	defer span.End()

	callCtx, cancel := context.WithTimeout(ctx, e.cfg.CarrierTimeout)
	defer cancel()
	start := time.Now()
	err = c.ValidateCredentials(callCtx)
	e.metrics.ObserveCarrierCall("validate_credentials", carrierID, start)
	if err != nil {
		err = carrier.FromContext(carrierID, err)
		e.metrics.RecordError(carrierID, errorCode(err))
		return err
	}
	return nil
}

func errorCode(err error) string {
	var cerr *carrier.Error
	if errors.As(err, &cerr) {
		return cerr.Code
	}
	if errors.Is(err, carrier.ErrValidationFailure) {
		return carrier.CodeInvalidOrder
	}
	return carrier.CodeAPIError
}
