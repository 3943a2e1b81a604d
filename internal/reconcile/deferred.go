package reconcile

import (
	"sort"
	"sync"
	"time"

	"github.com/tournevent/courierhub/pkg/carrier"
)

type deferred struct {
	carrierID string
	result    carrier.WebhookResult
	at        time.Time
}

// deferrals holds webhooks that arrived before their shipment record was
// committed. Entries expire after ttl; when full the oldest is dropped.
type deferrals struct {
	mu    sync.Mutex
	items []deferred
	cap   int
	ttl   time.Duration
	now   func() time.Time
}

func newDeferrals(capacity int, ttl time.Duration, now func() time.Time) *deferrals {
	return &deferrals{cap: capacity, ttl: ttl, now: now}
}

func (d *deferrals) put(carrierID string, res *carrier.WebhookResult) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.expire()
	if len(d.items) >= d.cap {
		d.items = d.items[1:]
	}
	d.items = append(d.items, deferred{carrierID: carrierID, result: *res, at: d.now()})
}

// take removes and returns the entries of carrierID matching any of refs,
// ordered by event time.
func (d *deferrals) take(carrierID string, refs ...string) []carrier.WebhookResult {
	want := make(map[string]bool, len(refs))
	for _, r := range refs {
		if r != "" {
			want[r] = true
		}
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	d.expire()
	var out []carrier.WebhookResult
	kept := d.items[:0]
	for _, item := range d.items {
		if item.carrierID == carrierID && matches(&item.result, want) {
			out = append(out, item.result)
			continue
		}
		kept = append(kept, item)
	}
	d.items = kept

	sort.SliceStable(out, func(i, j int) bool { return out[i].EventTime.Before(out[j].EventTime) })
	return out
}

func (d *deferrals) len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.expire()
	return len(d.items)
}

// expire must be called with mu held.
func (d *deferrals) expire() {
	cutoff := d.now().Add(-d.ttl)
	i := 0
	for i < len(d.items) && d.items[i].at.Before(cutoff) {
		i++
	}
	if i > 0 {
		d.items = append(d.items[:0], d.items[i:]...)
	}
}

func matches(res *carrier.WebhookResult, want map[string]bool) bool {
	for _, ref := range res.References() {
		if want[ref] {
			return true
		}
	}
	return false
}
