package dispatch_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tournevent/courierhub/internal/dispatch"
	"github.com/tournevent/courierhub/internal/lock"
	"github.com/tournevent/courierhub/internal/reconcile"
	"github.com/tournevent/courierhub/internal/store/memstore"
	"github.com/tournevent/courierhub/pkg/carrier"
	"github.com/tournevent/courierhub/pkg/carrier/mock"
	"github.com/uptrace/opentelemetry-go-extra/otelzap"
	"go.uber.org/zap"
)

func TestRequestDispatch_WebhookDuringCreateIsReplayed(t *testing.T) {
	logger := otelzap.New(zap.NewNop())
	st := memstore.New(order("1001"))
	locker := lock.NewLocal(time.Second)
	sf := mock.New("steadfast")
	registry := carrier.NewRegistry(sf)

	rec := reconcile.New(reconcile.Config{}, registry, st, locker, logger)
	engine := dispatch.New(dispatch.Config{CarrierTimeout: time.Second}, registry, st, locker, rec, logger)

	var early *reconcile.Result
	sf.OnCreateShipment = func(ctx context.Context, o *carrier.Order, _ carrier.ShipmentParams) (*carrier.ShipmentResult, error) {
		var err error
		early, err = rec.Apply(ctx, "steadfast", &carrier.WebhookResult{
			Reference:    "SF-EARLY-1",
			TrackingCode: "SF-EARLY-1",
			Status:       carrier.StatusHold,
			RawStatus:    "hold",
			EventTime:    time.Now().UTC(),
		})
		require.NoError(t, err)
		return &carrier.ShipmentResult{
			TrackingCode:  "SF-EARLY-1",
			ConsignmentID: "7001",
			RawStatus:     "in_review",
			Status:        carrier.StatusInReview,
		}, nil
	}

	res, err := engine.RequestDispatch(context.Background(), "1001", "steadfast", carrier.ShipmentParams{})
	require.NoError(t, err)
	assert.Equal(t, dispatch.StateAutoSent, res.State)
	require.NotNil(t, early)
	assert.Equal(t, reconcile.OutcomeDeferred, early.Outcome)

	assert.Equal(t, 0, rec.Pending())
	shipment, err := st.GetShipment(context.Background(), "1001")
	require.NoError(t, err)
	assert.Equal(t, carrier.StatusHold, shipment.CanonicalStatus)
	assert.Equal(t, "hold", shipment.RawStatus)
}

func TestRequestDispatch_RecordHasNoObservedStatusTime(t *testing.T) {
	sf := mock.New("steadfast")
	f := newFixture(t, "", sf)

	_, err := f.engine.RequestDispatch(context.Background(), "1001", "steadfast", carrier.ShipmentParams{})
	require.NoError(t, err)

	shipment, err := f.store.GetShipment(context.Background(), "1001")
	require.NoError(t, err)
	assert.True(t, shipment.StatusAt.IsZero())
	assert.False(t, shipment.CreatedAt.IsZero())
}
