package reconcile

import (
	"time"

	"github.com/tournevent/courierhub/pkg/carrier"
)

// MergeResult describes what Merge did to a record.
type MergeResult string

const (
	MergeApplied   MergeResult = "applied"
	MergeUnchanged MergeResult = "unchanged"
	MergeStale     MergeResult = "stale"
)

// Update is a status observation for a shipment.
type Update struct {
	Status         carrier.CanonicalStatus
	RawStatus      string
	At             time.Time // zero means "as of now"
	TrackingCode   string
	ConsignmentID  string
	DeliveryCharge *float64
	// Live marks a status read from the carrier just now. It replaces the
	// stored status whatever the stored event time.
	Live bool
}

// UpdateFromWebhook converts an interpreted webhook into an Update.
func UpdateFromWebhook(res *carrier.WebhookResult) Update {
	return Update{
		Status:         res.Status,
		RawStatus:      res.RawStatus,
		At:             res.EventTime,
		TrackingCode:   res.TrackingCode,
		ConsignmentID:  res.ConsignmentID,
		DeliveryCharge: res.DeliveryCharge,
	}
}

// Merge applies u to rec. The winner between the stored and the incoming
// status is the greater of (event time, precedence, status, raw status), so
// any set of updates converges to the same record whatever the arrival
// order. Live updates are the exception: they always win and never move
// StatusAt backwards. Replaying an update that is already reflected changes
// nothing, UpdatedAt included. Identifiers are only filled in when missing.
func Merge(rec carrier.ShipmentRecord, u Update, now time.Time) (carrier.ShipmentRecord, MergeResult) {
	at := u.At
	if at.IsZero() {
		at = now
	}

	if u.Status == rec.CanonicalStatus && u.RawStatus == rec.RawStatus {
		next := rec
		if fillDetails(&next, u) {
			next.UpdatedAt = now
			return next, MergeApplied
		}
		return rec, MergeUnchanged
	}

	if u.Live {
		if rec.StatusAt.After(at) {
			at = rec.StatusAt
		}
	} else if !wins(u, at, rec) {
		return rec, MergeStale
	}

	next := rec
	fillDetails(&next, u)
	next.CanonicalStatus = u.Status
	next.RawStatus = u.RawStatus
	next.StatusAt = at
	next.UpdatedAt = now
	return next, MergeApplied
}

func wins(u Update, at time.Time, rec carrier.ShipmentRecord) bool {
	if !at.Equal(rec.StatusAt) {
		return at.After(rec.StatusAt)
	}
	if p, q := u.Status.Precedence(), rec.CanonicalStatus.Precedence(); p != q {
		return p > q
	}
	if u.Status != rec.CanonicalStatus {
		return u.Status > rec.CanonicalStatus
	}
	return u.RawStatus > rec.RawStatus
}

func fillDetails(rec *carrier.ShipmentRecord, u Update) bool {
	changed := false
	if rec.TrackingCode == "" && u.TrackingCode != "" {
		rec.TrackingCode = u.TrackingCode
		changed = true
	}
	if rec.ConsignmentID == "" && u.ConsignmentID != "" {
		rec.ConsignmentID = u.ConsignmentID
		changed = true
	}
	if u.DeliveryCharge != nil && (rec.DeliveryCharge == nil || *rec.DeliveryCharge != *u.DeliveryCharge) {
		rec.DeliveryCharge = carrier.Float(*u.DeliveryCharge)
		changed = true
	}
	return changed
}
