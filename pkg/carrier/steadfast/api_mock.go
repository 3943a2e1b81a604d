package steadfast

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/tournevent/courierhub/pkg/carrier"
)

// MockAPIClient is a mock implementation of APIClient for testing.
type MockAPIClient struct {
	SimulateErrors  bool
	SimulateLatency time.Duration

	OnCreateOrder      func(ctx context.Context, req *OrderRequest) (*CreateOrderResponse, error)
	OnCreateBulkOrders func(ctx context.Context, req []OrderRequest) (*BulkOrderResponse, error)
	OnGetStatus        func(ctx context.Context, lookup LookupKind, identifier string) (*StatusResponse, error)
	OnGetBalance       func(ctx context.Context) (*BalanceResponse, error)

	nextID atomic.Int64
}

// NewMockAPIClient creates a new mock API client with default behavior.
func NewMockAPIClient() *MockAPIClient {
	m := &MockAPIClient{}
	m.nextID.Store(100000)
	return m
}

func (m *MockAPIClient) delay(ctx context.Context) error {
	if m.SimulateLatency <= 0 {
		return nil
	}
	select {
	case <-time.After(m.SimulateLatency):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *MockAPIClient) consignment(req *OrderRequest) Consignment {
	return Consignment{
		ConsignmentID:    carrier.FlexString(fmt.Sprintf("%d", m.nextID.Add(1))),
		Invoice:          req.Invoice,
		TrackingCode:     strings.ToUpper(uuid.New().String()[:8]),
		RecipientName:    req.RecipientName,
		RecipientPhone:   req.RecipientPhone,
		RecipientAddress: req.RecipientAddress,
		CODAmount:        carrier.FlexFloat{Value: req.CODAmount, Set: true},
		Status:           "in_review",
		Note:             req.Note,
		CreatedAt:        time.Now().UTC().Format(time.RFC3339),
	}
}

// CreateOrder returns a mock consignment.
func (m *MockAPIClient) CreateOrder(ctx context.Context, req *OrderRequest) (*CreateOrderResponse, error) {
	if err := m.delay(ctx); err != nil {
		return nil, err
	}
	if m.SimulateErrors {
		return nil, &APIError{StatusCode: 500, Message: "Simulated API error"}
	}
	if m.OnCreateOrder != nil {
		return m.OnCreateOrder(ctx, req)
	}

	return &CreateOrderResponse{
		Status:      200,
		Message:     "Consignment has been created successfully.",
		Consignment: m.consignment(req),
	}, nil
}

// CreateBulkOrders returns one mock consignment per request.
func (m *MockAPIClient) CreateBulkOrders(ctx context.Context, req []OrderRequest) (*BulkOrderResponse, error) {
	if err := m.delay(ctx); err != nil {
		return nil, err
	}
	if m.SimulateErrors {
		return nil, &APIError{StatusCode: 500, Message: "Simulated API error"}
	}
	if m.OnCreateBulkOrders != nil {
		return m.OnCreateBulkOrders(ctx, req)
	}

	items := make([]BulkOrderItem, len(req))
	for i := range req {
		c := m.consignment(&req[i])
		items[i] = BulkOrderItem{
			Invoice:       c.Invoice,
			TrackingCode:  c.TrackingCode,
			ConsignmentID: c.ConsignmentID,
			Status:        "success",
		}
	}
	return &BulkOrderResponse{Status: 200, Message: "Bulk order created", Data: items}, nil
}

// GetStatus returns a mock status.
func (m *MockAPIClient) GetStatus(ctx context.Context, lookup LookupKind, identifier string) (*StatusResponse, error) {
	if err := m.delay(ctx); err != nil {
		return nil, err
	}
	if m.SimulateErrors {
		return nil, &APIError{StatusCode: 500, Message: "Simulated API error"}
	}
	if m.OnGetStatus != nil {
		return m.OnGetStatus(ctx, lookup, identifier)
	}
	return &StatusResponse{Status: 200, DeliveryStatus: "in_review"}, nil
}

// GetBalance returns a mock balance.
func (m *MockAPIClient) GetBalance(ctx context.Context) (*BalanceResponse, error) {
	if err := m.delay(ctx); err != nil {
		return nil, err
	}
	if m.SimulateErrors {
		return nil, &APIError{StatusCode: 401, Message: "Unauthorized"}
	}
	if m.OnGetBalance != nil {
		return m.OnGetBalance(ctx)
	}
	return &BalanceResponse{Status: 200, CurrentBalance: carrier.FlexFloat{Value: 0, Set: true}}, nil
}

var _ APIClient = (*MockAPIClient)(nil)
