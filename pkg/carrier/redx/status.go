package redx

import "github.com/tournevent/courierhub/pkg/carrier"

var statusTable = carrier.StatusTable{
	"pickup_pending":       carrier.StatusPending,
	"ready_for_delivery":   carrier.StatusPending,
	"delivery_in_progress": carrier.StatusPending,
	"agent_area_change":    carrier.StatusPending,
	"delivered":            carrier.StatusDelivered,
	"agent_hold":           carrier.StatusHold,
	"agent_returning":      carrier.StatusCancelled,
	"returned":             carrier.StatusCancelled,
}

// MapStatus converts a RedX parcel status to a canonical status.
func MapStatus(raw string) carrier.CanonicalStatus {
	return statusTable.Map(raw)
}
