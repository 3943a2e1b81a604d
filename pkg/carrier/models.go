package carrier

import (
	"fmt"
	"strings"
	"time"
)

// OrderStatus is the host system's order lifecycle status.
type OrderStatus string

const (
	OrderPending        OrderStatus = "pending"
	OrderProcessing     OrderStatus = "processing"
	OrderOnHold         OrderStatus = "on-hold"
	OrderOutForShipping OrderStatus = "out-for-shipping"
	OrderCompleted      OrderStatus = "completed"
	OrderCancelled      OrderStatus = "cancelled"
	OrderRefunded       OrderStatus = "refunded"
	OrderFailed         OrderStatus = "failed"
)

// Valid reports whether s is a known order status.
func (s OrderStatus) Valid() bool {
	switch s {
	case OrderPending, OrderProcessing, OrderOnHold, OrderOutForShipping,
		OrderCompleted, OrderCancelled, OrderRefunded, OrderFailed:
		return true
	default:
		return false
	}
}

// IdentifierType selects how GetDeliveryStatus looks up a shipment.
type IdentifierType string

const (
	ByConsignmentID IdentifierType = "consignment_id"
	ByInvoice       IdentifierType = "invoice"
	ByTrackingCode  IdentifierType = "tracking_code"
)

// Contact holds the billing / delivery contact of an order.
type Contact struct {
	Name    string
	Phone   string
	Email   string
	Address string
	City    string
	Area    string
}

// LineItem is a single order line.
type LineItem struct {
	Name      string
	Quantity  int
	UnitPrice float64
	Weight    float64 // kg per unit
}

// Order is the host-owned order as seen by the dispatch core.
type Order struct {
	ID      string
	Number  string // invoice number shown to customers, e.g. "1001"
	Status  OrderStatus
	Billing Contact
	Items   []LineItem
	Total   float64
	Note    string
}

// Validate reports the fields a carrier needs that are missing.
func (o *Order) Validate() error {
	var missing []string
	if strings.TrimSpace(o.Billing.Name) == "" {
		missing = append(missing, "billing name")
	}
	if strings.TrimSpace(o.Billing.Phone) == "" {
		missing = append(missing, "billing phone")
	}
	if strings.TrimSpace(o.Billing.Address) == "" {
		missing = append(missing, "billing address")
	}
	if len(missing) == 0 {
		return nil
	}
	return fmt.Errorf("%w: order %s is missing %s", ErrValidationFailure, o.ID, strings.Join(missing, ", "))
}

// Invoice returns the reference sent to carriers as the merchant invoice.
func (o *Order) Invoice() string {
	if o.Number != "" {
		return o.Number
	}
	return o.ID
}

// ItemCount returns the total quantity over all line items.
func (o *Order) ItemCount() int {
	n := 0
	for _, it := range o.Items {
		n += it.Quantity
	}
	return n
}

// Weight returns the total weight in kg, or fallback when no item has a weight.
func (o *Order) Weight(fallback float64) float64 {
	var w float64
	for _, it := range o.Items {
		w += it.Weight * float64(it.Quantity)
	}
	if w <= 0 {
		return fallback
	}
	return w
}

// Settings is the configuration a carrier is constructed from.
type Settings struct {
	ID          string
	DisplayName string
	Enabled     bool
	Credentials map[string]string
	BaseURL     string
	UseMock     bool
	Timeout     time.Duration
}

// Credential returns a credential value or "".
func (s Settings) Credential(key string) string {
	if s.Credentials == nil {
		return ""
	}
	return s.Credentials[key]
}

// ShipmentParams carries per-dispatch options.
type ShipmentParams struct {
	// CODAmount overrides the cash-on-delivery amount; nil means the order total.
	CODAmount *float64
	Note      string
	// Extra holds carrier specific options (e.g. "delivery_area_id" for RedX).
	Extra map[string]string
}

// COD returns the amount to collect for an order.
func (p ShipmentParams) COD(o *Order) float64 {
	if p.CODAmount != nil {
		return *p.CODAmount
	}
	return o.Total
}

// NoteFor returns the dispatch note, falling back to the order note.
func (p ShipmentParams) NoteFor(o *Order) string {
	if p.Note != "" {
		return p.Note
	}
	return o.Note
}

// ShipmentResult is a successful shipment creation.
type ShipmentResult struct {
	TrackingCode   string
	ConsignmentID  string
	DeliveryCharge *float64
	RawStatus      string
	Status         CanonicalStatus
	Message        string
}

// BulkResult is the outcome of one order within a bulk dispatch.
type BulkResult struct {
	OrderID string
	Result  *ShipmentResult
	Err     error
}

// StatusResult is a delivery status lookup.
type StatusResult struct {
	Status    CanonicalStatus
	RawStatus string
	Message   string
}

// WebhookResult is an interpreted carrier callback.
type WebhookResult struct {
	// Reference identifies the order: invoice number, tracking code or consignment id.
	Reference      string
	TrackingCode   string
	ConsignmentID  string
	Status         CanonicalStatus
	RawStatus      string
	DeliveryCharge *float64
	// EventTime is the vendor-reported time of the status change; zero when absent.
	EventTime time.Time
	Message   string
}

// References returns the non-empty identifiers the result can be matched by.
func (r *WebhookResult) References() []string {
	refs := make([]string, 0, 3)
	seen := make(map[string]bool, 3)
	for _, ref := range []string{r.Reference, r.ConsignmentID, r.TrackingCode} {
		if ref == "" || seen[ref] {
			continue
		}
		seen[ref] = true
		refs = append(refs, ref)
	}
	return refs
}

// ShipmentRecord is the per-order record of which carrier handled it.
type ShipmentRecord struct {
	OrderID         string
	CarrierID       string
	TrackingCode    string
	ConsignmentID   string
	DeliveryCharge  *float64
	CanonicalStatus CanonicalStatus
	RawStatus       string
	StatusAt        time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Float returns a pointer to v.
func Float(v float64) *float64 {
	return &v
}
