package pathao

import (
	"strings"

	"github.com/tournevent/courierhub/pkg/carrier"
)

var statusTable = carrier.StatusTable{
	"created":                   carrier.StatusPending,
	"pending":                   carrier.StatusPending,
	"pickup_requested":          carrier.StatusPending,
	"assigned_for_pickup":       carrier.StatusPending,
	"picked":                    carrier.StatusPending,
	"at_the_sorting_hub":        carrier.StatusPending,
	"in_transit":                carrier.StatusPending,
	"received_at_last_mile_hub": carrier.StatusPending,
	"assigned_for_delivery":     carrier.StatusPending,
	"delivered":                 carrier.StatusDelivered,
	"paid":                      carrier.StatusDelivered,
	"payment_invoice":           carrier.StatusDelivered,
	"partial_delivery":          carrier.StatusPartiallyDelivered,
	"partial_delivered":         carrier.StatusPartiallyDelivered,
	"returned":                  carrier.StatusCancelled,
	"return":                    carrier.StatusCancelled,
	"paid_return":               carrier.StatusCancelled,
	"pickup_cancelled":          carrier.StatusCancelled,
	"on_hold":                   carrier.StatusHold,
	"hold":                      carrier.StatusHold,
	"pickup_failed":             carrier.StatusHold,
	"delivery_failed":           carrier.StatusHold,
}

// MapStatus converts a Pathao order status or event name to a canonical
// status. Event names may carry the "order." prefix.
func MapStatus(raw string) carrier.CanonicalStatus {
	return statusTable.Map(eventStatus(raw))
}

func eventStatus(raw string) string {
	return strings.TrimPrefix(strings.ToLower(strings.TrimSpace(raw)), "order.")
}
