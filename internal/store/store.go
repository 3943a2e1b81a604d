// Package store defines the persistence the dispatch core needs from the
// host order-management system.
package store

import (
	"context"
	"errors"

	"github.com/tournevent/courierhub/pkg/carrier"
)

var (
	// ErrOrderNotFound indicates no order matches the id or reference.
	ErrOrderNotFound = errors.New("order not found")

	// ErrShipmentNotFound indicates the order has no shipment record yet.
	ErrShipmentNotFound = errors.New("shipment not found")
)

// Store gives access to host orders and their shipment records.
type Store interface {
	// Begin starts a unit of work. Callers must Commit or Rollback it.
	Begin(ctx context.Context) (Tx, error)

	// GetOrder returns an order by id.
	GetOrder(ctx context.Context, orderID string) (*carrier.Order, error)

	// UpsertOrder creates or replaces an order, keeping its shipment record.
	UpsertOrder(ctx context.Context, order *carrier.Order) error

	// GetShipment returns the shipment record of an order.
	GetShipment(ctx context.Context, orderID string) (*carrier.ShipmentRecord, error)

	// ResolveOrderID maps a reference to an order id. The reference may be
	// the order id, its invoice number, or the tracking code or consignment
	// id of its shipment.
	ResolveOrderID(ctx context.Context, ref string) (string, error)

	Close()
}

// Tx is a unit of work over a single order. Changes become visible on Commit.
type Tx interface {
	// GetOrderForUpdate loads an order and locks it for the rest of the unit.
	GetOrderForUpdate(ctx context.Context, orderID string) (*carrier.Order, error)

	GetShipment(ctx context.Context, orderID string) (*carrier.ShipmentRecord, error)

	SetOrderStatus(ctx context.Context, orderID string, status carrier.OrderStatus) error

	// SaveShipment inserts or replaces the shipment record of rec.OrderID.
	SaveShipment(ctx context.Context, rec *carrier.ShipmentRecord) error

	Commit(ctx context.Context) error

	// Rollback discards the unit. It is a no-op after Commit.
	Rollback(ctx context.Context) error
}
