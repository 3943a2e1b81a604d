package pgstore

import (
	"context"

	"github.com/pkg/errors"
)

func (s *Storage) initSchema(ctx context.Context) error {
	stmts := []string{
		`
CREATE TABLE IF NOT EXISTS orders (
  id TEXT PRIMARY KEY,
  number TEXT NOT NULL DEFAULT '',
  status TEXT NOT NULL,
  billing JSONB NOT NULL,
  items JSONB NOT NULL,
  total NUMERIC NOT NULL DEFAULT 0,
  note TEXT NOT NULL DEFAULT '',
  updated_at TIMESTAMPTZ NOT NULL
)`,
		`CREATE INDEX IF NOT EXISTS idx_orders_number ON orders(number) WHERE number <> ''`,
		`
CREATE TABLE IF NOT EXISTS shipments (
  order_id TEXT PRIMARY KEY REFERENCES orders(id),
  carrier_id TEXT NOT NULL,
  tracking_code TEXT NOT NULL,
  consignment_id TEXT NOT NULL DEFAULT '',
  delivery_charge NUMERIC NULL,
  canonical_status TEXT NOT NULL,
  raw_status TEXT NOT NULL DEFAULT '',
  status_at TIMESTAMPTZ NULL,
  created_at TIMESTAMPTZ NOT NULL,
  updated_at TIMESTAMPTZ NOT NULL
)`,
		`CREATE INDEX IF NOT EXISTS idx_shipments_tracking_code ON shipments(tracking_code)`,
		`CREATE INDEX IF NOT EXISTS idx_shipments_consignment_id ON shipments(consignment_id) WHERE consignment_id <> ''`,
	}

	for _, q := range stmts {
		if _, err := s.db.Exec(ctx, q); err != nil {
			return errors.Wrap(err, "init schema")
		}
	}
	return nil
}
