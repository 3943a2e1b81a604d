package pathao

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/tournevent/courierhub/pkg/carrier"
)

// MockAPIClient is a mock implementation of APIClient for testing.
type MockAPIClient struct {
	SimulateErrors  bool
	SimulateLatency time.Duration

	OnIssueToken   func(ctx context.Context) (*TokenResponse, error)
	OnCreateOrder  func(ctx context.Context, req *OrderRequest) (*CreateOrderResponse, error)
	OnGetOrderInfo func(ctx context.Context, consignmentID string) (*OrderInfoResponse, error)
}

// NewMockAPIClient creates a new mock API client with default behavior.
func NewMockAPIClient() *MockAPIClient {
	return &MockAPIClient{}
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

// IssueToken returns a mock token.
func (m *MockAPIClient) IssueToken(ctx context.Context) (*TokenResponse, error) {
	if err := m.delay(ctx); err != nil {
		return nil, err
	}
	if m.SimulateErrors {
		return nil, &APIError{StatusCode: 401, Message: "These credentials do not match our records."}
	}
	if m.OnIssueToken != nil {
		return m.OnIssueToken(ctx)
	}
	return &TokenResponse{
		TokenType:   "Bearer",
		ExpiresIn:   432000,
		AccessToken: "mock-" + uuid.New().String(),
	}, nil
}

// CreateOrder returns a mock order.
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

	cid := fmt.Sprintf("DL%s%s", time.Now().UTC().Format("060102"), strings.ToUpper(uuid.New().String()[:6]))
	return &CreateOrderResponse{
		Message: "Order Created Successfully",
		Type:    "success",
		Code:    200,
		Data: CreatedOrder{
			ConsignmentID:   cid,
			MerchantOrderID: req.MerchantOrderID,
			OrderStatus:     "Pending",
			DeliveryFee:     carrier.FlexFloat{Value: 80, Set: true},
		},
	}, nil
}

// GetOrderInfo returns mock order info.
func (m *MockAPIClient) GetOrderInfo(ctx context.Context, consignmentID string) (*OrderInfoResponse, error) {
	if err := m.delay(ctx); err != nil {
		return nil, err
	}
	if m.SimulateErrors {
		return nil, &APIError{StatusCode: 500, Message: "Simulated API error"}
	}
	if m.OnGetOrderInfo != nil {
		return m.OnGetOrderInfo(ctx, consignmentID)
	}
	return &OrderInfoResponse{
		Message: "Order info",
		Type:    "success",
		Code:    200,
		Data: OrderInfo{
			ConsignmentID:   consignmentID,
			OrderStatus:     "Pending",
			OrderStatusSlug: "Pending",
		},
	}, nil
}

var _ APIClient = (*MockAPIClient)(nil)
