package pgstore

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"
	"github.com/tournevent/courierhub/internal/store"
	"github.com/tournevent/courierhub/pkg/carrier"
)

// querier is satisfied by both the pool and a transaction.
type querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

const selectOrder = `
SELECT id, number, status, billing, items, total, note
FROM orders
WHERE id = $1`

func getOrder(ctx context.Context, q querier, sql, orderID string) (*carrier.Order, error) {
	var (
		o              carrier.Order
		billing, items []byte
	)
	err := q.QueryRow(ctx, sql, orderID).Scan(&o.ID, &o.Number, &o.Status, &billing, &items, &o.Total, &o.Note)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, errors.Wrapf(store.ErrOrderNotFound, "order %s", orderID)
	}
	if err != nil {
		return nil, errors.Wrap(err, "select order")
	}
	if err := json.Unmarshal(billing, &o.Billing); err != nil {
		return nil, errors.Wrap(err, "decode billing")
	}
	if err := json.Unmarshal(items, &o.Items); err != nil {
		return nil, errors.Wrap(err, "decode items")
	}
	return &o, nil
}

func (s *Storage) GetOrder(ctx context.Context, orderID string) (*carrier.Order, error) {
	return getOrder(ctx, s.db, selectOrder, orderID)
}

func (s *Storage) UpsertOrder(ctx context.Context, o *carrier.Order) error {
	billing, err := json.Marshal(o.Billing)
	if err != nil {
		return errors.Wrap(err, "encode billing")
	}
	items, err := json.Marshal(o.Items)
	if err != nil {
		return errors.Wrap(err, "encode items")
	}

	_, err = s.db.Exec(ctx, `
INSERT INTO orders (id, number, status, billing, items, total, note, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
ON CONFLICT (id) DO UPDATE SET
  number = EXCLUDED.number,
  status = EXCLUDED.status,
  billing = EXCLUDED.billing,
  items = EXCLUDED.items,
  total = EXCLUDED.total,
  note = EXCLUDED.note,
  updated_at = EXCLUDED.updated_at
`, o.ID, o.Number, string(o.Status), billing, items, o.Total, o.Note, time.Now().UTC())
	return errors.Wrap(err, "upsert order")
}

func (s *Storage) ResolveOrderID(ctx context.Context, ref string) (string, error) {
	var id string
	err := s.db.QueryRow(ctx, `
SELECT id FROM (
  SELECT id, 0 AS rank FROM orders WHERE id = $1
  UNION ALL
  SELECT id, 1 FROM orders WHERE number = $1 AND number <> ''
  UNION ALL
  SELECT order_id, 2 FROM shipments WHERE tracking_code = $1 OR (consignment_id = $1 AND consignment_id <> '')
) r
ORDER BY rank
LIMIT 1
`, ref).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", errors.Wrapf(store.ErrOrderNotFound, "reference %s", ref)
	}
	if err != nil {
		return "", errors.Wrap(err, "resolve order")
	}
	return id, nil
}
