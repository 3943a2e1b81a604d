package pgstore

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"
	"github.com/tournevent/courierhub/internal/store"
	"github.com/tournevent/courierhub/pkg/carrier"
)

type tx struct {
	tx pgx.Tx
}

func (s *Storage) Begin(ctx context.Context) (store.Tx, error) {
	t, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, errors.Wrap(err, "begin tx")
	}
	return &tx{tx: t}, nil
}

func (t *tx) GetOrderForUpdate(ctx context.Context, orderID string) (*carrier.Order, error) {
	return getOrder(ctx, t.tx, selectOrder+" FOR UPDATE", orderID)
}

func (t *tx) GetShipment(ctx context.Context, orderID string) (*carrier.ShipmentRecord, error) {
	return getShipment(ctx, t.tx, orderID)
}

func (t *tx) SetOrderStatus(ctx context.Context, orderID string, status carrier.OrderStatus) error {
	tag, err := t.tx.Exec(ctx, `UPDATE orders SET status = $2, updated_at = now() WHERE id = $1`, orderID, string(status))
	if err != nil {
		return errors.Wrap(err, "update order status")
	}
	if tag.RowsAffected() == 0 {
		return errors.Wrapf(store.ErrOrderNotFound, "order %s", orderID)
	}
	return nil
}

func (t *tx) SaveShipment(ctx context.Context, rec *carrier.ShipmentRecord) error {
	return saveShipment(ctx, t.tx, rec)
}

func (t *tx) Commit(ctx context.Context) error {
	return errors.Wrap(t.tx.Commit(ctx), "commit tx")
}

func (t *tx) Rollback(ctx context.Context) error {
	err := t.tx.Rollback(ctx)
	if errors.Is(err, pgx.ErrTxClosed) {
		return nil
	}
	return errors.Wrap(err, "rollback tx")
}
