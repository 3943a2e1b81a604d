package pgstore

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"
	"github.com/tournevent/courierhub/internal/store"
	"github.com/tournevent/courierhub/pkg/carrier"
)

func getShipment(ctx context.Context, q querier, orderID string) (*carrier.ShipmentRecord, error) {
	var (
		r        carrier.ShipmentRecord
		statusAt *time.Time
	)
	err := q.QueryRow(ctx, `
SELECT
  order_id, carrier_id, tracking_code, consignment_id,
  delivery_charge, canonical_status, raw_status,
  status_at, created_at, updated_at
FROM shipments
WHERE order_id = $1
`, orderID).Scan(
		&r.OrderID, &r.CarrierID, &r.TrackingCode, &r.ConsignmentID,
		&r.DeliveryCharge, &r.CanonicalStatus, &r.RawStatus,
		&statusAt, &r.CreatedAt, &r.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, errors.Wrapf(store.ErrShipmentNotFound, "order %s", orderID)
	}
	if err != nil {
		return nil, errors.Wrap(err, "select shipment")
	}
	if statusAt != nil {
		r.StatusAt = statusAt.UTC()
	}
	r.CreatedAt = r.CreatedAt.UTC()
	r.UpdatedAt = r.UpdatedAt.UTC()
	return &r, nil
}

func (s *Storage) GetShipment(ctx context.Context, orderID string) (*carrier.ShipmentRecord, error) {
	return getShipment(ctx, s.db, orderID)
}

func saveShipment(ctx context.Context, q pgx.Tx, r *carrier.ShipmentRecord) error {
	var statusAt *time.Time
	if !r.StatusAt.IsZero() {
		t := r.StatusAt.UTC()
		statusAt = &t
	}

	_, err := q.Exec(ctx, `
INSERT INTO shipments (
  order_id, carrier_id, tracking_code, consignment_id,
  delivery_charge, canonical_status, raw_status,
  status_at, created_at, updated_at
)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
ON CONFLICT (order_id) DO UPDATE SET
  carrier_id = EXCLUDED.carrier_id,
  tracking_code = EXCLUDED.tracking_code,
  consignment_id = EXCLUDED.consignment_id,
  delivery_charge = EXCLUDED.delivery_charge,
  canonical_status = EXCLUDED.canonical_status,
  raw_status = EXCLUDED.raw_status,
  status_at = EXCLUDED.status_at,
  updated_at = EXCLUDED.updated_at
`, r.OrderID, r.CarrierID, r.TrackingCode, r.ConsignmentID,
		r.DeliveryCharge, string(r.CanonicalStatus), r.RawStatus,
		statusAt, r.CreatedAt.UTC(), r.UpdatedAt.UTC())
	return errors.Wrap(err, "upsert shipment")
}
