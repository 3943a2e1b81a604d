// Package steadfast provides integration with the Steadfast Courier API.
package steadfast

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/tournevent/courierhub/pkg/carrier"
	"github.com/uptrace/opentelemetry-go-extra/otelzap"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const (
	carrierID   = "steadfast"
	carrierName = "Steadfast Courier"

	// DefaultBaseURL is the production API root.
	DefaultBaseURL = "https://portal.packzy.com/api/v1"

	trackingBaseURL = "https://steadfast.com.bd/t/"

	// Credential keys.
	CredAPIKey    = "api_key"
	CredSecretKey = "secret_key"
)

// Client is the Steadfast carrier client.
// It implements the carrier.Carrier interface and delegates
// API calls to the underlying APIClient (mock or HTTP).
type Client struct {
	settings  carrier.Settings
	apiClient APIClient
	logger    *otelzap.Logger
	tracer    trace.Tracer
}

// New creates a new Steadfast client.
// If settings.UseMock is true, it uses a mock API client.
// Otherwise, it uses the real HTTP API client.
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
			BaseURL:   baseURL,
			APIKey:    settings.Credential(CredAPIKey),
			SecretKey: settings.Credential(CredSecretKey),
			Timeout:   settings.Timeout,
		})
	}

	return NewWithAPIClient(settings, apiClient, logger, tracer)
}

// NewWithAPIClient creates a new Steadfast client with a custom API client.
// This is useful for injecting mock clients in tests.
func NewWithAPIClient(settings carrier.Settings, apiClient APIClient, logger *otelzap.Logger, tracer trace.Tracer) *Client {
	if settings.ID == "" {
		settings.ID = carrierID
	}
	if settings.DisplayName == "" {
		settings.DisplayName = carrierName
	}
	if tracer == nil {
		tracer = otel.Tracer("courierhub/carrier/steadfast")
	}
	return &Client{
		settings:  settings,
		apiClient: apiClient,
		logger:    logger,
		tracer:    tracer,
	}
}

// ID returns the carrier id.
func (c *Client) ID() string {
	return c.settings.ID
}

// DisplayName returns the carrier display name.
func (c *Client) DisplayName() string {
	return c.settings.DisplayName
}

// IsEnabled reports whether the carrier is enabled.
func (c *Client) IsEnabled() bool {
	return c.settings.Enabled
}

// CreateShipment places a consignment with Steadfast.
func (c *Client) CreateShipment(ctx context.Context, order *carrier.Order, params carrier.ShipmentParams) (*carrier.ShipmentResult, error) {
	ctx, span := c.tracer.Start(ctx, "steadfast.CreateShipment",
		trace.WithAttributes(attribute.String("order.id", order.ID)))
	defer span.End()

	c.logger.Ctx(ctx).Info("Creating Steadfast consignment",
		zap.String("order_id", order.ID),
		zap.String("invoice", order.Invoice()),
	)

	req := orderToAPI(order, params)
	apiResp, err := c.apiClient.CreateOrder(ctx, &req)
	if err != nil {
		c.logger.Ctx(ctx).Error("Steadfast API error", zap.Error(err))
		return nil, c.wrapError(err)
	}

	cons := apiResp.Consignment
	if cons.TrackingCode == "" {
		return nil, carrier.NewError(c.ID(), carrier.CodeRejected, fallback(apiResp.Message, "consignment created without tracking code"))
	}

	return &carrier.ShipmentResult{
		TrackingCode:  cons.TrackingCode,
		ConsignmentID: cons.ConsignmentID.String(),
		RawStatus:     cons.Status,
		Status:        MapStatus(cons.Status),
		Message:       apiResp.Message,
	}, nil
}

// BulkCreateShipment places several consignments in one bulk call.
func (c *Client) BulkCreateShipment(ctx context.Context, orders []*carrier.Order, params carrier.ShipmentParams) []carrier.BulkResult {
	ctx, span := c.tracer.Start(ctx, "steadfast.BulkCreateShipment",
		trace.WithAttributes(attribute.Int("order.count", len(orders))))
	defer span.End()

	results := make([]carrier.BulkResult, len(orders))
	if len(orders) == 0 {
		return results
	}

	reqs := make([]OrderRequest, len(orders))
	byInvoice := make(map[string]int, len(orders))
	for i, o := range orders {
		reqs[i] = orderToAPI(o, params)
		byInvoice[reqs[i].Invoice] = i
		results[i] = carrier.BulkResult{OrderID: o.ID}
	}

	c.logger.Ctx(ctx).Info("Creating Steadfast bulk consignments", zap.Int("count", len(orders)))

	apiResp, err := c.apiClient.CreateBulkOrders(ctx, reqs)
	if err != nil {
		c.logger.Ctx(ctx).Error("Steadfast bulk API error", zap.Error(err))
		werr := c.wrapError(err)
		for i := range results {
			results[i].Err = werr
		}
		return results
	}

	for _, item := range apiResp.Data {
		i, ok := byInvoice[item.Invoice]
		if !ok {
			continue
		}
		if item.Status != "success" || item.TrackingCode == "" {
			msg := "consignment rejected"
			if item.Error != nil && *item.Error != "" {
				msg = *item.Error
			}
			results[i].Err = carrier.NewError(c.ID(), carrier.CodeRejected, msg)
			continue
		}
		results[i].Result = &carrier.ShipmentResult{
			TrackingCode:  item.TrackingCode,
			ConsignmentID: item.ConsignmentID.String(),
			RawStatus:     "in_review",
			Status:        carrier.StatusInReview,
			Message:       apiResp.Message,
		}
	}

	for i := range results {
		if results[i].Result == nil && results[i].Err == nil {
			results[i].Err = carrier.NewError(c.ID(), carrier.CodeRejected, "order missing from bulk response")
		}
	}
	return results
}

// GetDeliveryStatus fetches the delivery status from Steadfast.
func (c *Client) GetDeliveryStatus(ctx context.Context, identifier string, idType carrier.IdentifierType) (*carrier.StatusResult, error) {
	ctx, span := c.tracer.Start(ctx, "steadfast.GetDeliveryStatus")
	defer span.End()

	lookup := LookupConsignmentID
	switch idType {
	case carrier.ByInvoice:
		lookup = LookupInvoice
	case carrier.ByTrackingCode:
		lookup = LookupTrackingCode
	}

	apiResp, err := c.apiClient.GetStatus(ctx, lookup, identifier)
	if err != nil {
		c.logger.Ctx(ctx).Error("Steadfast API error", zap.Error(err))
		return nil, c.wrapError(err)
	}

	return &carrier.StatusResult{
		Status:    MapStatus(apiResp.DeliveryStatus),
		RawStatus: apiResp.DeliveryStatus,
		Message:   apiResp.Message,
	}, nil
}

// InterpretWebhook decodes a Steadfast callback.
// Tracking updates carry no delivery status; they yield a result with an
// empty Status so the record keeps its current status.
func (c *Client) InterpretWebhook(payload []byte) (*carrier.WebhookResult, error) {
	var p WebhookPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return nil, carrier.Malformed(c.ID(), "invalid Steadfast webhook payload", err)
	}

	ref := p.Invoice
	if ref == "" {
		ref = p.ConsignmentID.String()
	}
	if ref == "" {
		return nil, carrier.Malformed(c.ID(), "webhook payload has neither invoice nor consignment_id", nil)
	}

	res := &carrier.WebhookResult{
		Reference:      ref,
		ConsignmentID:  p.ConsignmentID.String(),
		TrackingCode:   p.TrackingCode,
		DeliveryCharge: p.DeliveryCharge.Ptr(),
		EventTime:      carrier.ParseEventTimeIn(p.UpdatedAt, carrier.Dhaka),
		Message:        p.TrackingMessage,
	}

	switch {
	case p.Status != "":
		res.RawStatus = p.Status
		res.Status = MapStatus(p.Status)
	case p.NotificationType == "tracking_update":
		// informational only
	default:
		return nil, carrier.Malformed(c.ID(), "webhook payload has no status", nil)
	}
	return res, nil
}

// ValidateCredentials checks the API keys with the read-only balance endpoint.
func (c *Client) ValidateCredentials(ctx context.Context) error {
	if c.settings.Credential(CredAPIKey) == "" || c.settings.Credential(CredSecretKey) == "" {
		if !c.settings.UseMock {
			return carrier.NewError(c.ID(), carrier.CodeUnauthorized, "api_key and secret_key are required")
		}
	}
	if _, err := c.apiClient.GetBalance(ctx); err != nil {
		return c.wrapError(err)
	}
	return nil
}

// BuildTrackingURL returns the public Steadfast tracking page.
func (c *Client) BuildTrackingURL(trackingCode, consignmentID string) string {
	if trackingCode == "" {
		return ""
	}
	return trackingBaseURL + url.PathEscape(trackingCode)
}

func (c *Client) wrapError(err error) error {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return carrier.HTTPError(c.ID(), apiErr.StatusCode, apiErr.Message)
	}
	return carrier.TransportError(c.ID(), err)
}

// ============================================================================
// Conversion helpers
// ============================================================================

func orderToAPI(o *carrier.Order, params carrier.ShipmentParams) OrderRequest {
	address := o.Billing.Address
	if o.Billing.City != "" && !strings.Contains(address, o.Billing.City) {
		address = fmt.Sprintf("%s, %s", address, o.Billing.City)
	}

	return OrderRequest{
		Invoice:          o.Invoice(),
		RecipientName:    o.Billing.Name,
		RecipientPhone:   o.Billing.Phone,
		RecipientEmail:   o.Billing.Email,
		RecipientAddress: address,
		CODAmount:        params.COD(o),
		Note:             params.NoteFor(o),
		ItemDescription:  itemDescription(o),
		TotalLot:         o.ItemCount(),
	}
}

func itemDescription(o *carrier.Order) string {
	names := make([]string, 0, len(o.Items))
	for _, it := range o.Items {
		names = append(names, fmt.Sprintf("%s x%d", it.Name, it.Quantity))
	}
	return strings.Join(names, ", ")
}

func fallback(s, def string) string {
	if s != "" {
		return s
	}
	return def
}

var _ carrier.Carrier = (*Client)(nil)
