package steadfast

import (
	"context"
	"fmt"

	"github.com/tournevent/courierhub/pkg/carrier"
)

// APIClient defines the interface for Steadfast API operations.
// This abstraction allows for mock implementations during testing
// and real implementations in production.
type APIClient interface {
	// CreateOrder places a single consignment.
	CreateOrder(ctx context.Context, req *OrderRequest) (*CreateOrderResponse, error)

	// CreateBulkOrders places up to 500 consignments in one call.
	CreateBulkOrders(ctx context.Context, req []OrderRequest) (*BulkOrderResponse, error)

	// GetStatus looks up a consignment by consignment id, invoice or tracking code.
	GetStatus(ctx context.Context, lookup LookupKind, identifier string) (*StatusResponse, error)

	// GetBalance returns the merchant balance. It is read-only.
	GetBalance(ctx context.Context) (*BalanceResponse, error)
}

// LookupKind selects the status endpoint.
type LookupKind string

const (
	LookupConsignmentID LookupKind = "status_by_cid"
	LookupInvoice       LookupKind = "status_by_invoice"
	LookupTrackingCode  LookupKind = "status_by_trackingcode"
)

// ============================================================================
// API Request/Response Types (Steadfast Courier API v1)
// ============================================================================

// OrderRequest is the body of POST /create_order and one element of the bulk body.
type OrderRequest struct {
	Invoice          string  `json:"invoice"`
	RecipientName    string  `json:"recipient_name"`
	RecipientPhone   string  `json:"recipient_phone"`
	RecipientEmail   string  `json:"recipient_email,omitempty"`
	RecipientAddress string  `json:"recipient_address"`
	CODAmount        float64 `json:"cod_amount"`
	Note             string  `json:"note,omitempty"`
	ItemDescription  string  `json:"item_description,omitempty"`
	TotalLot         int     `json:"total_lot,omitempty"`
	DeliveryType     int     `json:"delivery_type,omitempty"` // 0 = home, 1 = point
}

// Consignment is the created consignment.
type Consignment struct {
	ConsignmentID    carrier.FlexString `json:"consignment_id"`
	Invoice          string             `json:"invoice"`
	TrackingCode     string             `json:"tracking_code"`
	RecipientName    string             `json:"recipient_name"`
	RecipientPhone   string             `json:"recipient_phone"`
	RecipientAddress string             `json:"recipient_address"`
	CODAmount        carrier.FlexFloat  `json:"cod_amount"`
	Status           string             `json:"status"`
	Note             string             `json:"note"`
	CreatedAt        string             `json:"created_at"`
}

// CreateOrderResponse is the response of POST /create_order.
type CreateOrderResponse struct {
	Status      int         `json:"status"`
	Message     string      `json:"message"`
	Consignment Consignment `json:"consignment"`
}

// bulkOrderRequest wraps the bulk body.
type bulkOrderRequest struct {
	Data []OrderRequest `json:"data"`
}

// BulkOrderItem is one element of the bulk response.
type BulkOrderItem struct {
	Invoice       string             `json:"invoice"`
	TrackingCode  string             `json:"tracking_code"`
	ConsignmentID carrier.FlexString `json:"consignment_id"`
	Status        string             `json:"status"` // "success" | "error"
	Error         *string            `json:"error"`
}

// BulkOrderResponse is the response of POST /create_order/bulk-order.
type BulkOrderResponse struct {
	Status  int             `json:"status"`
	Message string          `json:"message"`
	Data    []BulkOrderItem `json:"data"`
}

// StatusResponse is the response of the status_by_* endpoints.
type StatusResponse struct {
	Status         int    `json:"status"`
	DeliveryStatus string `json:"delivery_status"`
	Message        string `json:"message,omitempty"`
}

// BalanceResponse is the response of GET /get_balance.
type BalanceResponse struct {
	Status         int               `json:"status"`
	CurrentBalance carrier.FlexFloat `json:"current_balance"`
}

// WebhookPayload is the body Steadfast posts to the merchant callback URL.
type WebhookPayload struct {
	NotificationType string             `json:"notification_type"` // "delivery_status" | "tracking_update"
	ConsignmentID    carrier.FlexString `json:"consignment_id"`
	Invoice          string             `json:"invoice"`
	TrackingCode     string             `json:"tracking_code"`
	CODAmount        carrier.FlexFloat  `json:"cod_amount"`
	Status           string             `json:"status"`
	DeliveryCharge   carrier.FlexFloat  `json:"delivery_charge"`
	TrackingMessage  string             `json:"tracking_message"`
	UpdatedAt        string             `json:"updated_at"`
}

// APIError represents an error from the Steadfast API.
type APIError struct {
	StatusCode int
	Message    string
	Errors     map[string][]string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("HTTP_%d: %s", e.StatusCode, e.Message)
}
