package dispatch

import (
	"errors"

	"github.com/tournevent/courierhub/pkg/carrier"
)

// State is the outcome of a dispatch decision.
type State string

const (
	StateNoCourier         State = "no_courier"
	StateAutoSent          State = "auto_sent"
	StateDefaultSent       State = "default_sent"
	StateSelectionRequired State = "selection_required"
	StateDispatchFailed    State = "dispatch_failed"
	// StateUpdated is a status change that does not dispatch.
	StateUpdated State = "updated"
)

var (
	// ErrInvalidStatus indicates an unknown order status.
	ErrInvalidStatus = errors.New("invalid order status")

	// ErrSelectionRequired indicates several carriers are enabled and none
	// was chosen.
	ErrSelectionRequired = errors.New("carrier selection required")

	// ErrNoEnabledCarrier indicates a dispatch was requested with no carrier enabled.
	ErrNoEnabledCarrier = errors.New("no enabled carrier")
)

// CarrierInfo describes a registered carrier.
type CarrierInfo struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
	Enabled     bool   `json:"enabled"`
}

// Result is the outcome of a status change or dispatch.
type Result struct {
	OrderID         string        `json:"order_id"`
	State           State         `json:"state"`
	Message         string        `json:"message"`
	CarrierID       string        `json:"carrier_id,omitempty"`
	TrackingCode    string        `json:"tracking_code,omitempty"`
	ConsignmentID   string        `json:"consignment_id,omitempty"`
	TrackingURL     string        `json:"tracking_url,omitempty"`
	EnabledCarriers []CarrierInfo `json:"enabled_carriers,omitempty"`

	// Err is the cause of a failed dispatch.
	Err error `json:"-"`
}

// Succeeded reports whether the requested status change was committed.
func (r *Result) Succeeded() bool {
	switch r.State {
	case StateNoCourier, StateAutoSent, StateDefaultSent, StateUpdated:
		return true
	default:
		return false
	}
}

func failed(orderID, carrierID, msg string, err error) *Result {
	return &Result{
		OrderID:   orderID,
		State:     StateDispatchFailed,
		Message:   msg,
		CarrierID: carrierID,
		Err:       err,
	}
}

func infos(cs []carrier.Carrier) []CarrierInfo {
	out := make([]CarrierInfo, 0, len(cs))
	for _, c := range cs {
		out = append(out, CarrierInfo{ID: c.ID(), DisplayName: c.DisplayName(), Enabled: c.IsEnabled()})
	}
	return out
}
