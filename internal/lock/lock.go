// Package lock serializes work per key (one order at a time).
package lock

import (
	"context"
	"fmt"

	"github.com/tournevent/courierhub/pkg/carrier"
)

// Locker grants exclusive access to a key. The returned release function
// must be called exactly once; extra calls are ignored.
type Locker interface {
	Acquire(ctx context.Context, key string) (release func(), err error)
}

// OrderKey is the lock key of an order.
func OrderKey(orderID string) string {
	return "order:" + orderID
}

func conflict(key string) error {
	return fmt.Errorf("%w: %s is busy", carrier.ErrConcurrencyConflict, key)
}
