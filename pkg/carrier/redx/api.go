package redx

import (
	"context"
	"fmt"

	"github.com/tournevent/courierhub/pkg/carrier"
)

// APIClient defines the interface for RedX OpenAPI operations.
type APIClient interface {
	// CreateParcel creates a parcel and returns its tracking id.
	CreateParcel(ctx context.Context, req *ParcelRequest) (*CreateParcelResponse, error)

	// GetParcelInfo returns parcel details by tracking id.
	GetParcelInfo(ctx context.Context, trackingID string) (*ParcelInfoResponse, error)

	// GetAreas lists delivery areas. It is the cheapest authenticated call.
	GetAreas(ctx context.Context) (*AreasResponse, error)
}

// ============================================================================
// API Request/Response Types (RedX OpenAPI v1.0.0-beta)
// ============================================================================

// ParcelRequest is the body of POST /parcel.
type ParcelRequest struct {
	CustomerName         string  `json:"customer_name"`
	CustomerPhone        string  `json:"customer_phone"`
	DeliveryArea         string  `json:"delivery_area"`
	DeliveryAreaID       int     `json:"delivery_area_id"`
	CustomerAddress      string  `json:"customer_address"`
	MerchantInvoiceID    string  `json:"merchant_invoice_id"`
	CashCollectionAmount string  `json:"cash_collection_amount"`
	ParcelWeight         int     `json:"parcel_weight"` // grams
	Instruction          string  `json:"instruction,omitempty"`
	Value                float64 `json:"value"`
}

// CreateParcelResponse is the response of POST /parcel.
type CreateParcelResponse struct {
	TrackingID string `json:"tracking_id"`
}

// Parcel is the parcel detail returned by GET /parcel/info/{tracking_id}.
type Parcel struct {
	TrackingID           string            `json:"tracking_id"`
	CustomerName         string            `json:"customer_name"`
	DeliveryArea         string            `json:"delivery_area"`
	MerchantInvoiceID    string            `json:"merchant_invoice_id"`
	CashCollectionAmount carrier.FlexFloat `json:"cash_collection_amount"`
	Charge               carrier.FlexFloat `json:"charge"`
	Status               string            `json:"status"`
	CreatedAt            string            `json:"created_at"`
}

// ParcelInfoResponse wraps Parcel.
type ParcelInfoResponse struct {
	Parcel Parcel `json:"parcel"`
}

// Area is a RedX delivery area.
type Area struct {
	ID           int    `json:"id"`
	Name         string `json:"name"`
	PostCode     int    `json:"post_code"`
	DivisionName string `json:"division_name"`
	ZoneID       int    `json:"zone_id"`
}

// AreasResponse is the response of GET /areas.
type AreasResponse struct {
	Areas []Area `json:"areas"`
}

// WebhookPayload is the body RedX posts to the merchant callback.
type WebhookPayload struct {
	TrackingNumber string `json:"tracking_number"`
	Timestamp      string `json:"timestamp"`
	Status         string `json:"status"`
	MessageEn      string `json:"message_en"`
	MessageBn      string `json:"message_bn"`
	InvoiceNumber  string `json:"invoice_number"`
}

// errorResponse is the body of a failed RedX call.
type errorResponse struct {
	Message    string `json:"message"`
	Error      string `json:"error"`
	Validation []struct {
		Field   string `json:"field"`
		Message string `json:"message"`
	} `json:"validation_errors"`
}

// APIError represents an error from the RedX API.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("HTTP_%d: %s", e.StatusCode, e.Message)
}
