// Package audit keeps a bounded, in-memory log of inbound webhook events.
package audit

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// DefaultCapacity is the number of events kept when no capacity is given.
const DefaultCapacity = 50

// Outcomes recorded for webhooks that never reached reconciliation.
// Reconciled webhooks record the reconcile outcome.
const (
	OutcomeUnauthorized = "unauthorized"
	OutcomeRejected     = "rejected"
	OutcomeFailed       = "failed"
)

// Event is one received webhook.
type Event struct {
	ID         string    `json:"id"`
	ReceivedAt time.Time `json:"received_at"`
	CarrierID  string    `json:"carrier_id"`
	RawPayload string    `json:"raw_payload"`
	SourceIP   string    `json:"source_ip"`
	AuthMethod string    `json:"auth_method"`
	Outcome    string    `json:"outcome"`
	Message    string    `json:"message,omitempty"`
}

// Ring is a fixed-capacity ring buffer of events. When full, appending
// evicts the oldest event.
type Ring struct {
	mu     sync.Mutex
	buf    []Event
	start  int
	length int
}

// NewRing creates a ring holding at most capacity events.
func NewRing(capacity int) *Ring {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Ring{buf: make([]Event, capacity)}
}

// Append records an event. A missing ID or ReceivedAt is filled in.
func (r *Ring) Append(e Event) Event {
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	if e.ReceivedAt.IsZero() {
		e.ReceivedAt = time.Now().UTC()
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.length < len(r.buf) {
		r.buf[(r.start+r.length)%len(r.buf)] = e
		r.length++
		return e
	}
	r.buf[r.start] = e
	r.start = (r.start + 1) % len(r.buf)
	return e
}

// Events returns a copy of the stored events, oldest first.
func (r *Ring) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]Event, r.length)
	for i := 0; i < r.length; i++ {
		out[i] = r.buf[(r.start+i)%len(r.buf)]
	}
	return out
}

// Len returns the number of stored events.
func (r *Ring) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.length
}

// Cap returns the ring capacity.
func (r *Ring) Cap() int {
	return len(r.buf)
}
