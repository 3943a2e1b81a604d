package carrier

import "strings"

// CanonicalStatus is the carrier-agnostic delivery state.
type CanonicalStatus string

const (
	StatusInReview                          CanonicalStatus = "in_review"
	StatusPending                           CanonicalStatus = "pending"
	StatusHold                              CanonicalStatus = "hold"
	StatusDelivered                         CanonicalStatus = "delivered"
	StatusDeliveredPendingApproval          CanonicalStatus = "delivered_approval_pending"
	StatusPartiallyDelivered                CanonicalStatus = "partial_delivered"
	StatusPartiallyDeliveredPendingApproval CanonicalStatus = "partial_delivered_approval_pending"
	StatusCancelled                         CanonicalStatus = "cancelled"
	StatusCancelledPendingApproval          CanonicalStatus = "cancelled_approval_pending"
)

// CanonicalStatuses lists every canonical status.
var CanonicalStatuses = []CanonicalStatus{
	StatusInReview,
	StatusPending,
	StatusHold,
	StatusDelivered,
	StatusDeliveredPendingApproval,
	StatusPartiallyDelivered,
	StatusPartiallyDeliveredPendingApproval,
	StatusCancelled,
	StatusCancelledPendingApproval,
}

// Valid reports whether s is one of the canonical statuses.
func (s CanonicalStatus) Valid() bool {
	for _, c := range CanonicalStatuses {
		if s == c {
			return true
		}
	}
	return false
}

// IsFinal reports whether the status ends the delivery lifecycle.
func (s CanonicalStatus) IsFinal() bool {
	switch s {
	case StatusDelivered, StatusPartiallyDelivered, StatusCancelled:
		return true
	default:
		return false
	}
}

// Precedence orders statuses when two updates carry the same event time.
// Higher wins.
func (s CanonicalStatus) Precedence() int {
	switch s {
	case StatusDelivered, StatusPartiallyDelivered, StatusCancelled:
		return 4
	case StatusDeliveredPendingApproval, StatusPartiallyDeliveredPendingApproval, StatusCancelledPendingApproval:
		return 3
	case StatusHold:
		return 2
	case StatusPending:
		return 1
	default:
		return 0
	}
}

// StatusTable maps normalized vendor status strings to canonical statuses.
type StatusTable map[string]CanonicalStatus

// Map returns the canonical status for a vendor string. Matching ignores
// case, surrounding whitespace and the separators '-', ' ' and '_'.
// Anything unrecognized maps to StatusInReview.
func (t StatusTable) Map(raw string) CanonicalStatus {
	if s, ok := t[NormalizeVendorStatus(raw)]; ok {
		return s
	}
	return StatusInReview
}

// NormalizeVendorStatus lowercases a vendor status and folds '-' and ' ' into '_'.
func NormalizeVendorStatus(raw string) string {
	s := strings.ToLower(strings.TrimSpace(raw))
	return strings.NewReplacer("-", "_", " ", "_").Replace(s)
}
