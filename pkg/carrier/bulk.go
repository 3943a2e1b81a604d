package carrier

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// DefaultBulkConcurrency bounds concurrent carrier calls of FanOut.
const DefaultBulkConcurrency = 4

// CreateFunc creates a single shipment.
type CreateFunc func(ctx context.Context, order *Order) (*ShipmentResult, error)

// FanOut creates shipments for orders concurrently, at most limit at a time.
// Errors from individual orders are recorded in their result and never
// cancel the others. Duplicate order ids are rejected rather than sent twice.
func FanOut(ctx context.Context, carrierID string, orders []*Order, limit int, create CreateFunc) []BulkResult {
	if limit <= 0 {
		limit = DefaultBulkConcurrency
	}

	results := make([]BulkResult, len(orders))
	seen := make(map[string]bool, len(orders))

	g := new(errgroup.Group)
	g.SetLimit(limit)

	for i, o := range orders {
		results[i].OrderID = o.ID
		if seen[o.ID] {
			results[i].Err = NewError(carrierID, CodeInvalidOrder, "duplicate order in batch")
			continue
		}
		seen[o.ID] = true

		i, o := i, o // capture loop variables
		g.Go(func() error {
			res, err := create(ctx, o)
			results[i].Result = res
			results[i].Err = err
			return nil // Don't fail the group, continue with other orders
		})
	}

	g.Wait()
	return results
}
