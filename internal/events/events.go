// Package events publishes shipment lifecycle events to downstream consumers.
package events

import (
	"context"
	"time"
)

// Event types.
const (
	TypeShipmentCreated       = "shipment.created"
	TypeShipmentStatusChanged = "shipment.status_changed"
)

// Event is a shipment lifecycle change.
type Event struct {
	Type          string    `json:"type"`
	OrderID       string    `json:"order_id"`
	CarrierID     string    `json:"carrier_id"`
	TrackingCode  string    `json:"tracking_code,omitempty"`
	ConsignmentID string    `json:"consignment_id,omitempty"`
	Status        string    `json:"status"`
	RawStatus     string    `json:"raw_status,omitempty"`
	Final         bool      `json:"final,omitempty"`
	OccurredAt    time.Time `json:"occurred_at"`
}

// Publisher delivers events. Publish failures are reported to the caller,
// which decides whether they matter.
type Publisher interface {
	Publish(ctx context.Context, e Event) error
	Close() error
}

// Nop discards every event.
type Nop struct{}

func (Nop) Publish(context.Context, Event) error { return nil }
func (Nop) Close() error                         { return nil }

var _ Publisher = Nop{}
