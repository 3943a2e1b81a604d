package steadfast

import "github.com/tournevent/courierhub/pkg/carrier"

var statusTable = carrier.StatusTable{
	"pending":                            carrier.StatusPending,
	"in_review":                          carrier.StatusInReview,
	"hold":                               carrier.StatusHold,
	"delivered":                          carrier.StatusDelivered,
	"delivered_approval_pending":         carrier.StatusDeliveredPendingApproval,
	"partial_delivered":                  carrier.StatusPartiallyDelivered,
	"partial_delivered_approval_pending": carrier.StatusPartiallyDeliveredPendingApproval,
	"cancelled":                          carrier.StatusCancelled,
	"cancelled_approval_pending":         carrier.StatusCancelledPendingApproval,
	"unknown_approval_pending":           carrier.StatusInReview,
	"unknown":                            carrier.StatusInReview,
}

// MapStatus converts a Steadfast delivery status to a canonical status.
func MapStatus(raw string) carrier.CanonicalStatus {
	return statusTable.Map(raw)
}
