package reconcile_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/tournevent/courierhub/internal/reconcile"
	"github.com/tournevent/courierhub/pkg/carrier"
)

var (
	t0 = time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	t1 = t0.Add(time.Hour)
	t2 = t0.Add(2 * time.Hour)
)

func baseRecord() carrier.ShipmentRecord {
	return carrier.ShipmentRecord{
		OrderID:         "1001",
		CarrierID:       "steadfast",
		TrackingCode:    "SF1001",
		CanonicalStatus: carrier.StatusPending,
		RawStatus:       "pending",
		StatusAt:        t0,
		CreatedAt:       t0,
		UpdatedAt:       t0,
	}
}

func TestMerge_LaterWins(t *testing.T) {
	now := t2.Add(time.Minute)
	next, res := reconcile.Merge(baseRecord(), reconcile.Update{
		Status: carrier.StatusDelivered, RawStatus: "delivered", At: t1,
	}, now)

	assert.Equal(t, reconcile.MergeApplied, res)
	assert.Equal(t, carrier.StatusDelivered, next.CanonicalStatus)
	assert.Equal(t, "delivered", next.RawStatus)
	assert.Equal(t, t1, next.StatusAt)
	assert.Equal(t, now, next.UpdatedAt)
}

func TestMerge_EarlierIsStale(t *testing.T) {
	rec := baseRecord()
	rec.CanonicalStatus, rec.RawStatus, rec.StatusAt = carrier.StatusDelivered, "delivered", t2

	next, res := reconcile.Merge(rec, reconcile.Update{
		Status: carrier.StatusHold, RawStatus: "hold", At: t1,
	}, t2)

	assert.Equal(t, reconcile.MergeStale, res)
	assert.Equal(t, rec, next)
}

func TestMerge_LiveReadWinsOverLaterEventTime(t *testing.T) {
	rec := baseRecord()
	rec.StatusAt = t2

	next, res := reconcile.Merge(rec, reconcile.Update{
		Status: carrier.StatusDelivered, RawStatus: "delivered", Live: true,
	}, t1)

	assert.Equal(t, reconcile.MergeApplied, res)
	assert.Equal(t, carrier.StatusDelivered, next.CanonicalStatus)
	assert.Equal(t, t2, next.StatusAt, "StatusAt never moves backwards")
	assert.Equal(t, t1, next.UpdatedAt)
}

func TestMerge_ZeroStatusAtLosesToAnyEvent(t *testing.T) {
	rec := baseRecord()
	rec.StatusAt = time.Time{}

	next, res := reconcile.Merge(rec, reconcile.Update{
		Status: carrier.StatusHold, RawStatus: "hold", At: t0.Add(-24 * time.Hour),
	}, t2)

	assert.Equal(t, reconcile.MergeApplied, res)
	assert.Equal(t, carrier.StatusHold, next.CanonicalStatus)
}

func TestMerge_EqualTimeHigherPrecedenceWins(t *testing.T) {
	rec := baseRecord()
	rec.CanonicalStatus, rec.RawStatus, rec.StatusAt = carrier.StatusHold, "hold", t1

	next, res := reconcile.Merge(rec, reconcile.Update{
		Status: carrier.StatusPending, RawStatus: "pending", At: t1,
	}, t2)
	assert.Equal(t, reconcile.MergeStale, res)
	assert.Equal(t, carrier.StatusHold, next.CanonicalStatus)

	next, res = reconcile.Merge(rec, reconcile.Update{
		Status: carrier.StatusDelivered, RawStatus: "delivered", At: t1,
	}, t2)
	assert.Equal(t, reconcile.MergeApplied, res)
	assert.Equal(t, carrier.StatusDelivered, next.CanonicalStatus)
}

func TestMerge_IdenticalIsNoop(t *testing.T) {
	rec := baseRecord()
	u := reconcile.Update{Status: carrier.StatusDelivered, RawStatus: "delivered", At: t1}

	once, res := reconcile.Merge(rec, u, t1)
	assert.Equal(t, reconcile.MergeApplied, res)

	twice, res := reconcile.Merge(once, u, t2)
	assert.Equal(t, reconcile.MergeUnchanged, res)
	assert.Equal(t, once, twice, "replay does not bump UpdatedAt")
}

func TestMerge_ZeroTimeReplayIsNoop(t *testing.T) {
	u := reconcile.Update{Status: carrier.StatusHold, RawStatus: "hold"}

	once, res := reconcile.Merge(baseRecord(), u, t1)
	assert.Equal(t, reconcile.MergeApplied, res)
	assert.Equal(t, t1, once.StatusAt)

	twice, res := reconcile.Merge(once, u, t2)
	assert.Equal(t, reconcile.MergeUnchanged, res)
	assert.Equal(t, once, twice)
}

func TestMerge_FillsMissingIdentifiersOnly(t *testing.T) {
	rec := baseRecord()
	next, res := reconcile.Merge(rec, reconcile.Update{
		Status:         rec.CanonicalStatus,
		RawStatus:      rec.RawStatus,
		TrackingCode:   "OTHER",
		ConsignmentID:  "C-9",
		DeliveryCharge: carrier.Float(80),
	}, t1)

	assert.Equal(t, reconcile.MergeApplied, res)
	assert.Equal(t, "SF1001", next.TrackingCode, "existing tracking code is kept")
	assert.Equal(t, "C-9", next.ConsignmentID)
	if assert.NotNil(t, next.DeliveryCharge) {
		assert.Equal(t, 80.0, *next.DeliveryCharge)
	}
}

func TestMerge_ConvergesRegardlessOfOrder(t *testing.T) {
	updates := []reconcile.Update{
		{Status: carrier.StatusPending, RawStatus: "in_transit", At: t1},
		{Status: carrier.StatusHold, RawStatus: "hold", At: t2},
		{Status: carrier.StatusDelivered, RawStatus: "delivered", At: t2},
		{Status: carrier.StatusCancelled, RawStatus: "cancelled", At: t2},
	}

	var want *carrier.ShipmentRecord
	for _, perm := range permutations(len(updates)) {
		rec := baseRecord()
		for _, i := range perm {
			rec, _ = reconcile.Merge(rec, updates[i], t2)
		}
		rec.UpdatedAt = time.Time{}
		if want == nil {
			want = &rec
			continue
		}
		assert.Equal(t, *want, rec, "order %v", perm)
	}
	assert.Equal(t, carrier.StatusDelivered, want.CanonicalStatus)
	assert.Equal(t, t2, want.StatusAt)
}

func permutations(n int) [][]int {
	if n == 0 {
		return [][]int{{}}
	}
	var out [][]int
	for _, p := range permutations(n - 1) {
		for pos := 0; pos <= len(p); pos++ {
			q := make([]int, 0, n)
			q = append(q, p[:pos]...)
			q = append(q, n-1)
			q = append(q, p[pos:]...)
			out = append(out, q)
		}
	}
	return out
}
