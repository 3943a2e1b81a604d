// Package mock provides a scriptable carrier implementation for testing.
package mock

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/tournevent/courierhub/pkg/carrier"
)

// Client is a mock carrier for testing. The On* hooks override the default
// behavior of each operation.
type Client struct {
	id      string
	name    string
	enabled bool

	SimulateErrors  bool
	SimulateLatency time.Duration

	OnCreateShipment      func(ctx context.Context, order *carrier.Order, params carrier.ShipmentParams) (*carrier.ShipmentResult, error)
	OnGetDeliveryStatus   func(ctx context.Context, identifier string, idType carrier.IdentifierType) (*carrier.StatusResult, error)
	OnValidateCredentials func(ctx context.Context) error

	mu    sync.Mutex
	calls map[string]int
}

// New creates a new enabled mock carrier.
func New(id string) *Client {
	return &Client{
		id:      id,
		name:    displayName(id),
		enabled: true,
		calls:   make(map[string]int),
	}
}

func displayName(id string) string {
	if id == "" {
		return id
	}
	return strings.ToUpper(id[:1]) + id[1:]
}

// NewDisabled creates a mock carrier that reports itself disabled.
func NewDisabled(id string) *Client {
	c := New(id)
	c.enabled = false
	return c
}

// Calls returns how many times an operation was invoked.
func (c *Client) Calls(op string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls[op]
}

func (c *Client) record(op string) {
	c.mu.Lock()
	c.calls[op]++
	c.mu.Unlock()
}

// ID returns the carrier id.
func (c *Client) ID() string {
	return c.id
}

// DisplayName returns the carrier display name.
func (c *Client) DisplayName() string {
	return c.name
}

// IsEnabled reports whether the mock is enabled.
func (c *Client) IsEnabled() bool {
	return c.enabled
}

func (c *Client) wait(ctx context.Context) error {
	if c.SimulateLatency <= 0 {
		return nil
	}
	select {
	case <-time.After(c.SimulateLatency):
		return nil
	case <-ctx.Done():
		return carrier.FromContext(c.id, ctx.Err())
	}
}

// CreateShipment creates a mock shipment.
func (c *Client) CreateShipment(ctx context.Context, order *carrier.Order, params carrier.ShipmentParams) (*carrier.ShipmentResult, error) {
	c.record("CreateShipment")
	if err := c.wait(ctx); err != nil {
		return nil, err
	}
	if c.SimulateErrors {
		return nil, carrier.NewError(c.id, carrier.CodeAPIError, "Simulated API error")
	}
	if c.OnCreateShipment != nil {
		return c.OnCreateShipment(ctx, order, params)
	}

	return &carrier.ShipmentResult{
		TrackingCode:   fmt.Sprintf("%s-%s", strings.ToUpper(c.id), uuid.New().String()[:8]),
		ConsignmentID:  fmt.Sprintf("%d", time.Now().UnixNano()%1000000000),
		DeliveryCharge: carrier.Float(60),
		RawStatus:      "pending",
		Status:         carrier.StatusPending,
		Message:        "Consignment has been created successfully.",
	}, nil
}

// BulkCreateShipment creates mock shipments one by one.
func (c *Client) BulkCreateShipment(ctx context.Context, orders []*carrier.Order, params carrier.ShipmentParams) []carrier.BulkResult {
	results := make([]carrier.BulkResult, len(orders))
	for i, o := range orders {
		res, err := c.CreateShipment(ctx, o, params)
		results[i] = carrier.BulkResult{OrderID: o.ID, Result: res, Err: err}
	}
	return results
}

// GetDeliveryStatus returns a mock delivery status.
func (c *Client) GetDeliveryStatus(ctx context.Context, identifier string, idType carrier.IdentifierType) (*carrier.StatusResult, error) {
	c.record("GetDeliveryStatus")
	if err := c.wait(ctx); err != nil {
		return nil, err
	}
	if c.SimulateErrors {
		return nil, carrier.NewError(c.id, carrier.CodeAPIError, "Simulated API error")
	}
	if c.OnGetDeliveryStatus != nil {
		return c.OnGetDeliveryStatus(ctx, identifier, idType)
	}
	return &carrier.StatusResult{Status: carrier.StatusPending, RawStatus: "pending"}, nil
}

// webhookPayload is the mock carrier's callback format.
type webhookPayload struct {
	Reference string `json:"reference"`
	Status    string `json:"status"`
	UpdatedAt string `json:"updated_at"`
}

var statuses = carrier.StatusTable{
	"pending":   carrier.StatusPending,
	"hold":      carrier.StatusHold,
	"delivered": carrier.StatusDelivered,
	"cancelled": carrier.StatusCancelled,
}

// InterpretWebhook decodes {"reference","status","updated_at"} payloads.
func (c *Client) InterpretWebhook(payload []byte) (*carrier.WebhookResult, error) {
	c.record("InterpretWebhook")
	var p webhookPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return nil, carrier.Malformed(c.id, "invalid webhook payload", err)
	}
	if p.Reference == "" || p.Status == "" {
		return nil, carrier.Malformed(c.id, "reference and status are required", nil)
	}
	res := &carrier.WebhookResult{
		Reference: p.Reference,
		Status:    statuses.Map(p.Status),
		RawStatus: p.Status,
	}
	if p.UpdatedAt != "" {
		if t, err := time.Parse(time.RFC3339, p.UpdatedAt); err == nil {
			res.EventTime = t.UTC()
		}
	}
	return res, nil
}

// ValidateCredentials always succeeds unless scripted otherwise.
func (c *Client) ValidateCredentials(ctx context.Context) error {
	c.record("ValidateCredentials")
	if c.SimulateErrors {
		return carrier.NewError(c.id, carrier.CodeUnauthorized, "Simulated credential error")
	}
	if c.OnValidateCredentials != nil {
		return c.OnValidateCredentials(ctx)
	}
	return nil
}

// BuildTrackingURL returns a mock tracking URL.
func (c *Client) BuildTrackingURL(trackingCode, consignmentID string) string {
	if trackingCode == "" {
		return ""
	}
	return fmt.Sprintf("https://track.%s.mock/%s", c.id, trackingCode)
}

var _ carrier.Carrier = (*Client)(nil)
