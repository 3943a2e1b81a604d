// Package carrier provides an abstraction layer for last-mile courier services.
package carrier

import (
	"context"
)

// Carrier defines the capability set every courier integration must implement.
type Carrier interface {
	// ID returns the stable carrier slug (e.g., "steadfast", "pathao", "redx").
	ID() string

	// DisplayName returns the human readable carrier name.
	DisplayName() string

	// IsEnabled reports whether the carrier is enabled in configuration.
	IsEnabled() bool

	// CreateShipment hands an order to the carrier. It does not dedupe
	// internally; callers invoke it at most once per status transition.
	CreateShipment(ctx context.Context, order *Order, params ShipmentParams) (*ShipmentResult, error)

	// BulkCreateShipment dispatches several orders. It returns exactly one
	// result per input order and never aborts on an individual failure.
	BulkCreateShipment(ctx context.Context, orders []*Order, params ShipmentParams) []BulkResult

	// GetDeliveryStatus fetches the current delivery status of a shipment.
	GetDeliveryStatus(ctx context.Context, identifier string, idType IdentifierType) (*StatusResult, error)

	// InterpretWebhook decodes a carrier callback payload. Unknown fields are
	// ignored; malformed payloads yield an error with code MALFORMED_PAYLOAD.
	InterpretWebhook(payload []byte) (*WebhookResult, error)

	// ValidateCredentials performs a read-only call to check the configured credentials.
	ValidateCredentials(ctx context.Context) error

	// BuildTrackingURL returns the public tracking page, or "" when none exists.
	BuildTrackingURL(trackingCode, consignmentID string) string
}
