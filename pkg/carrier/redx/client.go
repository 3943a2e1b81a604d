// Package redx provides integration with the RedX OpenAPI.
package redx

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"net/url"
	"strconv"
	"strings"

	"github.com/tournevent/courierhub/pkg/carrier"
	"github.com/uptrace/opentelemetry-go-extra/otelzap"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const (
	carrierID   = "redx"
	carrierName = "RedX"

	// DefaultBaseURL is the production API root.
	DefaultBaseURL = "https://openapi.redx.com.bd/v1.0.0-beta"

	trackingBaseURL = "https://redx.com.bd/track-parcel/?trackingId="

	// CredAccessToken is the credential key of the API token.
	CredAccessToken = "access_token"

	// Params.Extra keys.
	ExtraDeliveryArea   = "delivery_area"
	ExtraDeliveryAreaID = "delivery_area_id"

	defaultWeightGrams = 500
)

// Client is the RedX carrier client.
type Client struct {
	settings  carrier.Settings
	apiClient APIClient
	logger    *otelzap.Logger
	tracer    trace.Tracer
}

// New creates a new RedX client.
// If settings.UseMock is true, it uses a mock API client.
func New(settings carrier.Settings, logger *otelzap.Logger, tracer trace.Tracer) *Client {
	var apiClient APIClient

	if settings.UseMock {
		apiClient = NewMockAPIClient()
	} else {
		baseURL := settings.BaseURL
		if baseURL == "" {
			baseURL = DefaultBaseURL
		}
		apiClient = NewHTTPAPIClient(HTTPAPIClientConfig{
			BaseURL:     baseURL,
			AccessToken: settings.Credential(CredAccessToken),
			Timeout:     settings.Timeout,
		})
	}

	return NewWithAPIClient(settings, apiClient, logger, tracer)
}

// NewWithAPIClient creates a new RedX client with a custom API client.
func NewWithAPIClient(settings carrier.Settings, apiClient APIClient, logger *otelzap.Logger, tracer trace.Tracer) *Client {
	if settings.ID == "" {
		settings.ID = carrierID
	}
	if settings.DisplayName == "" {
		settings.DisplayName = carrierName
	}
	if tracer == nil {
		tracer = otel.Tracer("courierhub/carrier/redx")
	}
	return &Client{
		settings:  settings,
		apiClient: apiClient,
		logger:    logger,
		tracer:    tracer,
	}
}

func (c *Client) ID() string          { return c.settings.ID }
func (c *Client) DisplayName() string { return c.settings.DisplayName }
func (c *Client) IsEnabled() bool     { return c.settings.Enabled }

// CreateShipment creates a RedX parcel.
func (c *Client) CreateShipment(ctx context.Context, order *carrier.Order, params carrier.ShipmentParams) (*carrier.ShipmentResult, error) {
	ctx, span := c.tracer.Start(ctx, "redx.CreateShipment",
		trace.WithAttributes(attribute.String("order.id", order.ID)))
	defer span.End()

	req, err := c.orderToAPI(order, params)
	if err != nil {
		return nil, err
	}

	c.logger.Ctx(ctx).Info("Creating RedX parcel",
		zap.String("order_id", order.ID),
		zap.String("invoice", req.MerchantInvoiceID),
	)

	apiResp, err := c.apiClient.CreateParcel(ctx, req)
	if err != nil {
		c.logger.Ctx(ctx).Error("RedX API error", zap.Error(err))
		return nil, c.wrapError(err)
	}

	return &carrier.ShipmentResult{
		TrackingCode: apiResp.TrackingID,
		RawStatus:    "pickup-pending",
		Status:       carrier.StatusPending,
		Message:      "Parcel created",
	}, nil
}

// BulkCreateShipment creates parcels one by one with bounded concurrency.
// RedX has no bulk parcel endpoint.
func (c *Client) BulkCreateShipment(ctx context.Context, orders []*carrier.Order, params carrier.ShipmentParams) []carrier.BulkResult {
	ctx, span := c.tracer.Start(ctx, "redx.BulkCreateShipment",
		trace.WithAttributes(attribute.Int("order.count", len(orders))))
	defer span.End()

	return carrier.FanOut(ctx, c.ID(), orders, carrier.DefaultBulkConcurrency,
		func(ctx context.Context, o *carrier.Order) (*carrier.ShipmentResult, error) {
			return c.CreateShipment(ctx, o, params)
		})
}

// GetDeliveryStatus returns the parcel status by tracking id.
func (c *Client) GetDeliveryStatus(ctx context.Context, identifier string, idType carrier.IdentifierType) (*carrier.StatusResult, error) {
	ctx, span := c.tracer.Start(ctx, "redx.GetDeliveryStatus")
	defer span.End()

	if idType == carrier.ByInvoice {
		return nil, carrier.NewError(c.ID(), carrier.CodeRejected, "RedX does not support lookup by invoice")
	}

	apiResp, err := c.apiClient.GetParcelInfo(ctx, identifier)
	if err != nil {
		c.logger.Ctx(ctx).Error("RedX API error", zap.Error(err))
		return nil, c.wrapError(err)
	}

	return &carrier.StatusResult{
		Status:    MapStatus(apiResp.Parcel.Status),
		RawStatus: apiResp.Parcel.Status,
	}, nil
}

// InterpretWebhook decodes a RedX parcel callback.
func (c *Client) InterpretWebhook(payload []byte) (*carrier.WebhookResult, error) {
	var p WebhookPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return nil, carrier.Malformed(c.ID(), "invalid RedX webhook payload", err)
	}

	ref := p.InvoiceNumber
	if ref == "" {
		ref = p.TrackingNumber
	}
	if ref == "" {
		return nil, carrier.Malformed(c.ID(), "webhook payload has neither invoice_number nor tracking_number", nil)
	}
	if p.Status == "" {
		return nil, carrier.Malformed(c.ID(), "webhook payload has no status", nil)
	}

	return &carrier.WebhookResult{
		Reference:    ref,
		TrackingCode: p.TrackingNumber,
		Status:       MapStatus(p.Status),
		RawStatus:    p.Status,
		EventTime:    carrier.ParseEventTimeIn(p.Timestamp, carrier.Dhaka),
		Message:      p.MessageEn,
	}, nil
}

// ValidateCredentials lists delivery areas with the configured token.
func (c *Client) ValidateCredentials(ctx context.Context) error {
	if c.settings.Credential(CredAccessToken) == "" && !c.settings.UseMock {
		return carrier.NewError(c.ID(), carrier.CodeUnauthorized, "access_token is required")
	}
	if _, err := c.apiClient.GetAreas(ctx); err != nil {
		return c.wrapError(err)
	}
	return nil
}

// BuildTrackingURL returns the public RedX tracking page.
func (c *Client) BuildTrackingURL(trackingCode, consignmentID string) string {
	if trackingCode == "" {
		return ""
	}
	return trackingBaseURL + url.QueryEscape(trackingCode)
}

func (c *Client) wrapError(err error) error {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return carrier.HTTPError(c.ID(), apiErr.StatusCode, apiErr.Message)
	}
	return carrier.TransportError(c.ID(), err)
}

func (c *Client) orderToAPI(o *carrier.Order, params carrier.ShipmentParams) (*ParcelRequest, error) {
	area := params.Extra[ExtraDeliveryArea]
	if area == "" {
		area = o.Billing.Area
	}
	if area == "" {
		area = o.Billing.City
	}

	var areaID int
	if v := params.Extra[ExtraDeliveryAreaID]; v != "" {
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return nil, carrier.NewError(c.ID(), carrier.CodeInvalidOrder, "delivery_area_id must be numeric")
		}
		areaID = n
	}

	grams := int(math.Round(o.Weight(0) * 1000))
	if grams <= 0 {
		grams = defaultWeightGrams
	}

	return &ParcelRequest{
		CustomerName:         o.Billing.Name,
		CustomerPhone:        o.Billing.Phone,
		DeliveryArea:         area,
		DeliveryAreaID:       areaID,
		CustomerAddress:      o.Billing.Address,
		MerchantInvoiceID:    o.Invoice(),
		CashCollectionAmount: strconv.FormatFloat(params.COD(o), 'f', -1, 64),
		ParcelWeight:         grams,
		Instruction:          params.NoteFor(o),
		Value:                o.Total,
	}, nil
}

var _ carrier.Carrier = (*Client)(nil)
