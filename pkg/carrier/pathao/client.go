// Package pathao provides integration with the Pathao Courier Merchant API.
package pathao

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
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const (
	carrierID   = "pathao"
	carrierName = "Pathao Courier"

	// DefaultBaseURL is the production API root.
	DefaultBaseURL = "https://api-hermes.pathao.com"

	trackingBaseURL = "https://merchant.pathao.com/tracking?consignment_id="

	// Credential keys.
	CredClientID     = "client_id"
	CredClientSecret = "client_secret"
	CredUsername     = "username"
	CredPassword     = "password"
	CredStoreID      = "store_id"

	// Params.Extra keys.
	ExtraCity = "recipient_city"
	ExtraZone = "recipient_zone"
	ExtraArea = "recipient_area"

	defaultWeightKg = 0.5
)

// informationalEvents carry no delivery status.
var informationalEvents = map[string]bool{
	"webhook_integration": true,
	"order.created":       true,
	"order.updated":       true,
}

// Client is the Pathao carrier client.
type Client struct {
	settings  carrier.Settings
	apiClient APIClient
	logger    *otelzap.Logger
	tracer    trace.Tracer
}

// New creates a new Pathao client.
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
			BaseURL:      baseURL,
			ClientID:     settings.Credential(CredClientID),
			ClientSecret: settings.Credential(CredClientSecret),
			Username:     settings.Credential(CredUsername),
			Password:     settings.Credential(CredPassword),
			Timeout:      settings.Timeout,
		})
	}

	return NewWithAPIClient(settings, apiClient, logger, tracer)
}

// NewWithAPIClient creates a new Pathao client with a custom API client.
func NewWithAPIClient(settings carrier.Settings, apiClient APIClient, logger *otelzap.Logger, tracer trace.Tracer) *Client {
	if settings.ID == "" {
		settings.ID = carrierID
	}
	if settings.DisplayName == "" {
		settings.DisplayName = carrierName
	}
	if tracer == nil {
		tracer = otel.Tracer("courierhub/carrier/pathao")
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

// CreateShipment creates a Pathao delivery order.
func (c *Client) CreateShipment(ctx context.Context, order *carrier.Order, params carrier.ShipmentParams) (*carrier.ShipmentResult, error) {
	ctx, span := c.tracer.Start(ctx, "pathao.CreateShipment",
		trace.WithAttributes(attribute.String("order.id", order.ID)))
	defer span.End()

	req, err := c.orderToAPI(order, params)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	c.logger.Ctx(ctx).Info("Creating Pathao order",
		zap.String("order_id", order.ID),
		zap.String("merchant_order_id", req.MerchantOrderID),
	)

	apiResp, err := c.apiClient.CreateOrder(ctx, req)
	if err != nil {
		c.logger.Ctx(ctx).Error("Pathao API error", zap.Error(err))
		span.SetStatus(codes.Error, err.Error())
		return nil, c.wrapError(err)
	}

	data := apiResp.Data
	return &carrier.ShipmentResult{
		TrackingCode:   data.ConsignmentID,
		ConsignmentID:  data.ConsignmentID,
		DeliveryCharge: data.DeliveryFee.Ptr(),
		RawStatus:      data.OrderStatus,
		Status:         MapStatus(data.OrderStatus),
		Message:        apiResp.Message,
	}, nil
}

// BulkCreateShipment creates one order per request. Pathao's bulk endpoint
// is asynchronous and returns no consignment ids.
func (c *Client) BulkCreateShipment(ctx context.Context, orders []*carrier.Order, params carrier.ShipmentParams) []carrier.BulkResult {
	ctx, span := c.tracer.Start(ctx, "pathao.BulkCreateShipment",
		trace.WithAttributes(attribute.Int("order.count", len(orders))))
	defer span.End()

	return carrier.FanOut(ctx, c.ID(), orders, carrier.DefaultBulkConcurrency,
		func(ctx context.Context, o *carrier.Order) (*carrier.ShipmentResult, error) {
			return c.CreateShipment(ctx, o, params)
		})
}

// GetDeliveryStatus returns the order status. Pathao only looks orders up
// by consignment id, which doubles as the tracking code.
func (c *Client) GetDeliveryStatus(ctx context.Context, identifier string, idType carrier.IdentifierType) (*carrier.StatusResult, error) {
	ctx, span := c.tracer.Start(ctx, "pathao.GetDeliveryStatus")
	defer span.End()

	if idType == carrier.ByInvoice {
		return nil, carrier.NewError(c.ID(), carrier.CodeRejected, "Pathao does not support lookup by invoice")
	}

	apiResp, err := c.apiClient.GetOrderInfo(ctx, identifier)
	if err != nil {
		c.logger.Ctx(ctx).Error("Pathao API error", zap.Error(err))
		return nil, c.wrapError(err)
	}

	raw := apiResp.Data.OrderStatusSlug
	if raw == "" {
		raw = apiResp.Data.OrderStatus
	}
	return &carrier.StatusResult{
		Status:    MapStatus(raw),
		RawStatus: raw,
		Message:   apiResp.Message,
	}, nil
}

// InterpretWebhook decodes a Pathao callback.
func (c *Client) InterpretWebhook(payload []byte) (*carrier.WebhookResult, error) {
	var p WebhookPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return nil, carrier.Malformed(c.ID(), "invalid Pathao webhook payload", err)
	}

	event := strings.ToLower(strings.TrimSpace(p.Event))
	ref := p.MerchantOrderID.String()
	if ref == "" {
		ref = p.ConsignmentID
	}
	if ref == "" {
		if event == "webhook_integration" {
			return &carrier.WebhookResult{Message: "webhook integration"}, nil
		}
		return nil, carrier.Malformed(c.ID(), "webhook payload has neither merchant_order_id nor consignment_id", nil)
	}

	ts := p.UpdatedAt
	if ts == "" {
		ts = p.Timestamp
	}
	res := &carrier.WebhookResult{
		Reference:      ref,
		ConsignmentID:  p.ConsignmentID,
		TrackingCode:   p.ConsignmentID,
		DeliveryCharge: p.DeliveryFee.Ptr(),
		EventTime:      carrier.ParseEventTimeIn(ts, carrier.Dhaka),
		Message:        p.Reason,
	}

	switch {
	case p.OrderStatus != "":
		res.RawStatus = p.OrderStatus
		res.Status = MapStatus(p.OrderStatus)
	case informationalEvents[event]:
		// no status change
	case event != "":
		res.RawStatus = eventStatus(event)
		res.Status = MapStatus(event)
	default:
		return nil, carrier.Malformed(c.ID(), "webhook payload has neither order_status nor event", nil)
	}
	return res, nil
}

// ValidateCredentials issues a token with the configured credentials.
func (c *Client) ValidateCredentials(ctx context.Context) error {
	if !c.settings.UseMock {
		for _, key := range []string{CredClientID, CredClientSecret, CredUsername, CredPassword, CredStoreID} {
			if c.settings.Credential(key) == "" {
				return carrier.NewError(c.ID(), carrier.CodeUnauthorized, key+" is required")
			}
		}
	}
	if _, err := c.apiClient.IssueToken(ctx); err != nil {
		return c.wrapError(err)
	}
	return nil
}

// BuildTrackingURL returns the Pathao merchant tracking page.
func (c *Client) BuildTrackingURL(trackingCode, consignmentID string) string {
	id := consignmentID
	if id == "" {
		id = trackingCode
	}
	if id == "" {
		return ""
	}
	return trackingBaseURL + url.QueryEscape(id)
}

func (c *Client) wrapError(err error) error {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return carrier.HTTPError(c.ID(), apiErr.StatusCode, apiErr.Message)
	}
	return carrier.TransportError(c.ID(), err)
}

func (c *Client) orderToAPI(o *carrier.Order, params carrier.ShipmentParams) (*OrderRequest, error) {
	storeID, err := intSetting(c.settings.Credential(CredStoreID))
	if err != nil && !c.settings.UseMock {
		return nil, carrier.NewError(c.ID(), carrier.CodeInvalidOrder, "store_id must be numeric")
	}

	req := &OrderRequest{
		StoreID:            storeID,
		MerchantOrderID:    o.Invoice(),
		RecipientName:      o.Billing.Name,
		RecipientPhone:     o.Billing.Phone,
		RecipientAddress:   o.Billing.Address,
		DeliveryType:       DeliveryTypeNormal,
		ItemType:           ItemTypeParcel,
		SpecialInstruction: params.NoteFor(o),
		ItemQuantity:       max(o.ItemCount(), 1),
		ItemWeight:         o.Weight(defaultWeightKg),
		AmountToCollect:    int(math.Round(params.COD(o))),
		ItemDescription:    itemDescription(o),
	}

	for key, dst := range map[string]*int{ExtraCity: &req.RecipientCity, ExtraZone: &req.RecipientZone, ExtraArea: &req.RecipientArea} {
		v, ok := params.Extra[key]
		if !ok {
			continue
		}
		n, err := intSetting(v)
		if err != nil {
			return nil, carrier.NewError(c.ID(), carrier.CodeInvalidOrder, key+" must be numeric")
		}
		*dst = n
	}
	return req, nil
}

func intSetting(s string) (int, error) {
	return strconv.Atoi(strings.TrimSpace(s))
}

func itemDescription(o *carrier.Order) string {
	names := make([]string, 0, len(o.Items))
	for _, it := range o.Items {
		names = append(names, it.Name)
	}
	return strings.Join(names, ", ")
}

var _ carrier.Carrier = (*Client)(nil)
