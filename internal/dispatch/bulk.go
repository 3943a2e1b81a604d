package dispatch

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/tournevent/courierhub/internal/lock"
	"github.com/tournevent/courierhub/pkg/carrier"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// BulkDispatch ships several orders with one carrier call. Duplicate ids
// are dispatched once. Each order is locked for the whole batch and
// committed or rolled back on its own. carrierID may be empty when the
// automatic choice is unambiguous.
func (e *Engine) BulkDispatch(ctx context.Context, orderIDs []string, carrierID string, params carrier.ShipmentParams) ([]*Result, error) {
	ctx, span := e.tracer.Start(ctx, "dispatch.BulkDispatch",
		trace.WithAttributes(attribute.Int("order.count", len(orderIDs)), attribute.String("carrier.chosen", carrierID)))
	defer span.End()

	c, state, res := e.choose(carrierID)
	switch state {
	case StateDispatchFailed:
		return nil, res.Err
	case StateSelectionRequired:
		return nil, ErrSelectionRequired
	case StateNoCourier:
		return nil, ErrNoEnabledCarrier
	}

	ids := dedupe(orderIDs)
	results, created := e.bulkLocked(ctx, ids, c, state, params)

	out := make([]*Result, 0, len(ids))
	for _, id := range ids {
		r := results[id]
		e.metrics.RecordDispatch(c.ID(), string(r.State))
		out = append(out, r)
	}

	for _, done := range created {
		e.afterCommit(ctx, done.order, done.rec)
	}

	e.logger.Ctx(ctx).Info("Bulk dispatch finished",
		zap.String("carrier", c.ID()),
		zap.Int("orders", len(ids)),
		zap.Int("created", len(created)),
	)
	return out, nil
}

// bulkLocked holds every order lock until it returns.
func (e *Engine) bulkLocked(ctx context.Context, ids []string, c carrier.Carrier, state State, params carrier.ShipmentParams) (map[string]*Result, []committed) {
	results := make(map[string]*Result, len(ids))

	// Stable lock order keeps overlapping batches from waiting on each other in a cycle.
	sorted := append([]string(nil), ids...)
	sort.Strings(sorted)

	var orders []*carrier.Order
	for _, id := range sorted {
		release, err := e.locker.Acquire(ctx, lock.OrderKey(id))
		if err != nil {
			results[id] = failed(id, c.ID(), "Order is being processed by another request", err)
			continue
		}
		defer release()

		order, err := e.store.GetOrder(ctx, id)
		if err != nil {
			results[id] = failed(id, c.ID(), "Order not found", err)
			continue
		}
		if r := e.precheck(ctx, e.store, order, c); r != nil {
			results[id] = r
			continue
		}
		orders = append(orders, order)
	}
	if len(orders) == 0 {
		return results, nil
	}

	callCtx, cancel := context.WithTimeout(ctx, e.cfg.CarrierTimeout)
	start := time.Now()
	batch := c.BulkCreateShipment(callCtx, orders, params)
	e.metrics.ObserveCarrierCall("bulk_create_shipment", c.ID(), start)
	cancel()

	byID := make(map[string]carrier.BulkResult, len(batch))
	for _, br := range batch {
		byID[br.OrderID] = br
	}

	var created []committed
	for _, order := range orders {
		br, ok := byID[order.ID]
		if !ok {
			br.Err = carrier.NewError(c.ID(), carrier.CodeAPIError, "carrier returned no result for order")
		}
		r, done := e.commitBulk(ctx, c, state, order, br)
		results[order.ID] = r
		if done != nil {
			created = append(created, *done)
		}
	}
	return results, created
}

func (e *Engine) commitBulk(ctx context.Context, c carrier.Carrier, state State, order *carrier.Order, br carrier.BulkResult) (*Result, *committed) {
	err := br.Err
	if err == nil && br.Result == nil {
		err = carrier.NewError(c.ID(), carrier.CodeAPIError, "carrier returned no shipment")
	}
	if err != nil {
		err = carrier.FromContext(c.ID(), err)
		e.metrics.RecordError(c.ID(), errorCode(err))
		return failed(order.ID, c.ID(), carrier.Message(err, fmt.Sprintf("Failed to create shipment with %s", c.DisplayName())), err), nil
	}

	rec := e.record(order.ID, c.ID(), br.Result)
	tx, err := e.store.Begin(ctx)
	if err != nil {
		return e.orphaned(ctx, order, c, rec, fmt.Errorf("begin: %w", err)), nil
	}
	defer tx.Rollback(ctx)

	if _, err := tx.GetOrderForUpdate(ctx, order.ID); err != nil {
		return e.orphaned(ctx, order, c, rec, err), nil
	}
	if err := e.commitShipment(ctx, tx, rec); err != nil {
		return e.orphaned(ctx, order, c, rec, err), nil
	}

	order.Status = carrier.OrderOutForShipping
	return &Result{
		OrderID:       order.ID,
		State:         state,
		Message:       fmt.Sprintf("Shipment created with %s", c.DisplayName()),
		CarrierID:     c.ID(),
		TrackingCode:  rec.TrackingCode,
		ConsignmentID: rec.ConsignmentID,
		TrackingURL:   c.BuildTrackingURL(rec.TrackingCode, rec.ConsignmentID),
	}, &committed{order: order, rec: rec}
}

func dedupe(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}
