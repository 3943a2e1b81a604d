// Package memstore is an in-memory store.Store used when no database is
// configured and in tests.
package memstore

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/tournevent/courierhub/internal/store"
	"github.com/tournevent/courierhub/pkg/carrier"
)

var errTxDone = errors.New("transaction already finished")

// Store keeps orders and shipment records in maps.
type Store struct {
	mu        sync.RWMutex
	orders    map[string]*carrier.Order
	shipments map[string]*carrier.ShipmentRecord

	// FailCommit makes the next commits fail. Tests use it to simulate a
	// local failure after a successful carrier call.
	FailCommit error
}

// New creates an empty store seeded with orders.
func New(orders ...*carrier.Order) *Store {
	s := &Store{
		orders:    make(map[string]*carrier.Order),
		shipments: make(map[string]*carrier.ShipmentRecord),
	}
	for _, o := range orders {
		s.orders[o.ID] = cloneOrder(o)
	}
	return s
}

// Begin starts a unit of work.
func (s *Store) Begin(ctx context.Context) (store.Tx, error) {
	return &tx{
		s:         s,
		statuses:  make(map[string]carrier.OrderStatus),
		shipments: make(map[string]*carrier.ShipmentRecord),
	}, nil
}

// GetOrder returns a copy of an order.
func (s *Store) GetOrder(ctx context.Context, orderID string) (*carrier.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	o, ok := s.orders[orderID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", store.ErrOrderNotFound, orderID)
	}
	return cloneOrder(o), nil
}

// UpsertOrder creates or replaces an order.
func (s *Store) UpsertOrder(ctx context.Context, order *carrier.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.orders[order.ID] = cloneOrder(order)
	return nil
}

// GetShipment returns a copy of the shipment record of an order.
func (s *Store) GetShipment(ctx context.Context, orderID string) (*carrier.ShipmentRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.shipment(orderID)
}

func (s *Store) shipment(orderID string) (*carrier.ShipmentRecord, error) {
	rec, ok := s.shipments[orderID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", store.ErrShipmentNotFound, orderID)
	}
	return cloneRecord(rec), nil
}

// ResolveOrderID maps an order id, invoice number, tracking code or
// consignment id to an order id.
func (s *Store) ResolveOrderID(ctx context.Context, ref string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.orders[ref]; ok {
		return ref, nil
	}
	for id, o := range s.orders {
		if o.Number != "" && o.Number == ref {
			return id, nil
		}
	}
	for id, rec := range s.shipments {
		if rec.TrackingCode == ref || (rec.ConsignmentID != "" && rec.ConsignmentID == ref) {
			return id, nil
		}
	}
	return "", fmt.Errorf("%w: reference %s", store.ErrOrderNotFound, ref)
}

// Close is a no-op.
func (s *Store) Close() {}

type tx struct {
	s         *Store
	statuses  map[string]carrier.OrderStatus
	shipments map[string]*carrier.ShipmentRecord
	done      bool
}

func (t *tx) GetOrderForUpdate(ctx context.Context, orderID string) (*carrier.Order, error) {
	if t.done {
		return nil, errTxDone
	}
	o, err := t.s.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if st, ok := t.statuses[orderID]; ok {
		o.Status = st
	}
	return o, nil
}

func (t *tx) GetShipment(ctx context.Context, orderID string) (*carrier.ShipmentRecord, error) {
	if t.done {
		return nil, errTxDone
	}
	if rec, ok := t.shipments[orderID]; ok {
		return cloneRecord(rec), nil
	}
	return t.s.GetShipment(ctx, orderID)
}

func (t *tx) SetOrderStatus(ctx context.Context, orderID string, status carrier.OrderStatus) error {
	if t.done {
		return errTxDone
	}
	t.s.mu.RLock()
	_, ok := t.s.orders[orderID]
	t.s.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", store.ErrOrderNotFound, orderID)
	}
	t.statuses[orderID] = status
	return nil
}

func (t *tx) SaveShipment(ctx context.Context, rec *carrier.ShipmentRecord) error {
	if t.done {
		return errTxDone
	}
	t.shipments[rec.OrderID] = cloneRecord(rec)
	return nil
}

func (t *tx) Commit(ctx context.Context) error {
	if t.done {
		return errTxDone
	}
	t.done = true

	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	if t.s.FailCommit != nil {
		return t.s.FailCommit
	}
	for id, st := range t.statuses {
		if o, ok := t.s.orders[id]; ok {
			o.Status = st
		}
	}
	for id, rec := range t.shipments {
		t.s.shipments[id] = rec
	}
	return nil
}

func (t *tx) Rollback(ctx context.Context) error {
	t.done = true
	return nil
}

func cloneOrder(o *carrier.Order) *carrier.Order {
	c := *o
	c.Items = append([]carrier.LineItem(nil), o.Items...)
	return &c
}

func cloneRecord(r *carrier.ShipmentRecord) *carrier.ShipmentRecord {
	c := *r
	if r.DeliveryCharge != nil {
		c.DeliveryCharge = carrier.Float(*r.DeliveryCharge)
	}
	return &c
}

var _ store.Store = (*Store)(nil)
