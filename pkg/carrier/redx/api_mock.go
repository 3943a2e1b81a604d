package redx

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// MockAPIClient is a mock implementation of APIClient for testing.
type MockAPIClient struct {
	SimulateErrors  bool
	SimulateLatency time.Duration

	OnCreateParcel  func(ctx context.Context, req *ParcelRequest) (*CreateParcelResponse, error)
	OnGetParcelInfo func(ctx context.Context, trackingID string) (*ParcelInfoResponse, error)
	OnGetAreas      func(ctx context.Context) (*AreasResponse, error)
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

// CreateParcel returns a mock tracking id.
func (m *MockAPIClient) CreateParcel(ctx context.Context, req *ParcelRequest) (*CreateParcelResponse, error) {
	if err := m.delay(ctx); err != nil {
		return nil, err
	}
	if m.SimulateErrors {
		return nil, &APIError{StatusCode: 500, Message: "Simulated API error"}
	}
	if m.OnCreateParcel != nil {
		return m.OnCreateParcel(ctx, req)
	}
	return &CreateParcelResponse{
		TrackingID: fmt.Sprintf("%sA%s", time.Now().UTC().Format("060102"), strings.ToUpper(uuid.New().String()[:8])),
	}, nil
}

// GetParcelInfo returns a mock parcel.
func (m *MockAPIClient) GetParcelInfo(ctx context.Context, trackingID string) (*ParcelInfoResponse, error) {
	if err := m.delay(ctx); err != nil {
		return nil, err
	}
	if m.SimulateErrors {
		return nil, &APIError{StatusCode: 500, Message: "Simulated API error"}
	}
	if m.OnGetParcelInfo != nil {
		return m.OnGetParcelInfo(ctx, trackingID)
	}
	return &ParcelInfoResponse{
		Parcel: Parcel{TrackingID: trackingID, Status: "pickup-pending"},
	}, nil
}

// GetAreas returns a single mock area.
func (m *MockAPIClient) GetAreas(ctx context.Context) (*AreasResponse, error) {
	if err := m.delay(ctx); err != nil {
		return nil, err
	}
	if m.SimulateErrors {
		return nil, &APIError{StatusCode: 401, Message: "Unauthorized"}
	}
	if m.OnGetAreas != nil {
		return m.OnGetAreas(ctx)
	}
	return &AreasResponse{
		Areas: []Area{{ID: 1, Name: "Mirpur DOHS", PostCode: 1216, DivisionName: "Dhaka", ZoneID: 1}},
	}, nil
}

var _ APIClient = (*MockAPIClient)(nil)
