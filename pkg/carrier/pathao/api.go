package pathao

import (
	"context"
	"fmt"

	"github.com/tournevent/courierhub/pkg/carrier"
)

// APIClient defines the interface for Pathao Courier Merchant API operations.
type APIClient interface {
	// IssueToken exchanges the merchant credentials for an access token.
	IssueToken(ctx context.Context) (*TokenResponse, error)

	// CreateOrder creates a new delivery order.
	CreateOrder(ctx context.Context, req *OrderRequest) (*CreateOrderResponse, error)

	// GetOrderInfo returns the current state of an order by consignment id.
	GetOrderInfo(ctx context.Context, consignmentID string) (*OrderInfoResponse, error)
}

// Pathao delivery and item types.
const (
	DeliveryTypeNormal   = 48
	DeliveryTypeOnDemand = 12
	ItemTypeDocument     = 1
	ItemTypeParcel       = 2
)

// ============================================================================
// API Request/Response Types (Pathao Aladdin API v1)
// ============================================================================

// TokenRequest is the body of POST /aladdin/api/v1/issue-token.
type TokenRequest struct {
	ClientID     string `json:"client_id"`
	ClientSecret string `json:"client_secret"`
	Username     string `json:"username"`
	Password     string `json:"password"`
	GrantType    string `json:"grant_type"`
}

// TokenResponse is the OAuth token response.
type TokenResponse struct {
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"` // seconds
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
}

// OrderRequest is the body of POST /aladdin/api/v1/orders.
type OrderRequest struct {
	StoreID            int     `json:"store_id"`
	MerchantOrderID    string  `json:"merchant_order_id"`
	RecipientName      string  `json:"recipient_name"`
	RecipientPhone     string  `json:"recipient_phone"`
	RecipientAddress   string  `json:"recipient_address"`
	RecipientCity      int     `json:"recipient_city,omitempty"`
	RecipientZone      int     `json:"recipient_zone,omitempty"`
	RecipientArea      int     `json:"recipient_area,omitempty"`
	DeliveryType       int     `json:"delivery_type"`
	ItemType           int     `json:"item_type"`
	SpecialInstruction string  `json:"special_instruction,omitempty"`
	ItemQuantity       int     `json:"item_quantity"`
	ItemWeight         float64 `json:"item_weight"`
	AmountToCollect    int     `json:"amount_to_collect"`
	ItemDescription    string  `json:"item_description,omitempty"`
}

// envelope is the common response wrapper.
type envelope struct {
	Message string              `json:"message"`
	Type    string              `json:"type"`
	Code    int                 `json:"code"`
	Errors  map[string][]string `json:"errors,omitempty"`
}

// CreatedOrder is the data of a successful order creation.
type CreatedOrder struct {
	ConsignmentID   string            `json:"consignment_id"`
	MerchantOrderID string            `json:"merchant_order_id"`
	OrderStatus     string            `json:"order_status"`
	DeliveryFee     carrier.FlexFloat `json:"delivery_fee"`
}

// CreateOrderResponse is the response of POST /aladdin/api/v1/orders.
type CreateOrderResponse struct {
	Message string       `json:"message"`
	Type    string       `json:"type"`
	Code    int          `json:"code"`
	Data    CreatedOrder `json:"data"`
}

// OrderInfo is the data of GET /aladdin/api/v1/orders/{consignment_id}/info.
type OrderInfo struct {
	ConsignmentID   string `json:"consignment_id"`
	MerchantOrderID string `json:"merchant_order_id"`
	OrderStatus     string `json:"order_status"`
	OrderStatusSlug string `json:"order_status_slug"`
	UpdatedAt       string `json:"updated_at"`
}

// OrderInfoResponse wraps OrderInfo.
type OrderInfoResponse struct {
	Message string    `json:"message"`
	Type    string    `json:"type"`
	Code    int       `json:"code"`
	Data    OrderInfo `json:"data"`
}

// WebhookPayload is the body Pathao posts to the merchant webhook.
type WebhookPayload struct {
	ConsignmentID   string             `json:"consignment_id"`
	MerchantOrderID carrier.FlexString `json:"merchant_order_id"`
	OrderStatus     string             `json:"order_status"`
	Event           string             `json:"event"`
	DeliveryFee     carrier.FlexFloat  `json:"delivery_fee"`
	Reason          string             `json:"reason"`
	UpdatedAt       string             `json:"updated_at"`
	Timestamp       string             `json:"timestamp"`
}

// APIError represents an error from the Pathao API.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("HTTP_%d: %s", e.StatusCode, e.Message)
}
