package reconcile_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tournevent/courierhub/internal/events"
	"github.com/tournevent/courierhub/internal/lock"
	"github.com/tournevent/courierhub/internal/reconcile"
	"github.com/tournevent/courierhub/internal/store"
	"github.com/tournevent/courierhub/internal/store/memstore"
	"github.com/tournevent/courierhub/pkg/carrier"
	"github.com/tournevent/courierhub/pkg/carrier/mock"
	"github.com/uptrace/opentelemetry-go-extra/otelzap"
	"go.uber.org/zap"
)

type recordingPublisher struct {
	mu     sync.Mutex
	events []events.Event
	err    error
}

func (p *recordingPublisher) Publish(ctx context.Context, e events.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
	return p.err
}

func (p *recordingPublisher) Close() error { return nil }

func (p *recordingPublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.events)
}

type fixture struct {
	store     *memstore.Store
	steadfast *mock.Client
	pathao    *mock.Client
	publisher *recordingPublisher
	rec       *reconcile.Reconciler
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		store: memstore.New(&carrier.Order{
			ID:     "1001",
			Number: "INV-1001",
			Status: carrier.OrderOutForShipping,
		}),
		steadfast: mock.New("steadfast"),
		pathao:    mock.New("pathao"),
		publisher: &recordingPublisher{},
	}
	f.rec = reconcile.New(reconcile.Config{
		CarrierTimeout: 50 * time.Millisecond,
		Publisher:      f.publisher,
	},
		carrier.NewRegistry(f.steadfast, f.pathao),
		f.store,
		lock.NewLocal(time.Second),
		otelzap.New(zap.NewNop()),
	)
	return f
}

func (f *fixture) seed(t *testing.T, rec *carrier.ShipmentRecord) {
	t.Helper()
	ctx := context.Background()
	tx, err := f.store.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, tx.SaveShipment(ctx, rec))
	require.NoError(t, tx.Commit(ctx))
}

func (f *fixture) shipment(t *testing.T) *carrier.ShipmentRecord {
	t.Helper()
	rec, err := f.store.GetShipment(context.Background(), "1001")
	require.NoError(t, err)
	return rec
}

func steadfastRecord() *carrier.ShipmentRecord {
	return &carrier.ShipmentRecord{
		OrderID:         "1001",
		CarrierID:       "steadfast",
		TrackingCode:    "SF1001",
		ConsignmentID:   "77001",
		CanonicalStatus: carrier.StatusPending,
		RawStatus:       "pending",
		StatusAt:        t0,
		CreatedAt:       t0,
		UpdatedAt:       t0,
	}
}

func TestApply_Idempotent(t *testing.T) {
	f := newFixture(t)
	f.seed(t, steadfastRecord())
	ctx := context.Background()

	hook := &carrier.WebhookResult{
		Reference: "INV-1001",
		Status:    carrier.StatusDelivered,
		RawStatus: "delivered",
		EventTime: t1,
	}

	res, err := f.rec.Apply(ctx, "steadfast", hook)
	require.NoError(t, err)
	assert.Equal(t, reconcile.OutcomeApplied, res.Outcome)
	assert.Equal(t, "1001", res.OrderID)
	once := f.shipment(t)

	res, err = f.rec.Apply(ctx, "steadfast", hook)
	require.NoError(t, err)
	assert.Equal(t, reconcile.OutcomeUnchanged, res.Outcome)
	assert.Equal(t, once, f.shipment(t))

	assert.Equal(t, carrier.StatusDelivered, once.CanonicalStatus)
	assert.Equal(t, 1, f.publisher.count(), "only the effective merge is published")
	assert.Equal(t, events.TypeShipmentStatusChanged, f.publisher.events[0].Type)
	assert.True(t, f.publisher.events[0].Final, "delivered closes the shipment")
}

func TestApply_OutOfOrderDelivery(t *testing.T) {
	f := newFixture(t)
	f.seed(t, steadfastRecord())
	ctx := context.Background()

	_, err := f.rec.Apply(ctx, "steadfast", &carrier.WebhookResult{
		Reference: "SF1001", Status: carrier.StatusDelivered, RawStatus: "delivered", EventTime: t2,
	})
	require.NoError(t, err)

	res, err := f.rec.Apply(ctx, "steadfast", &carrier.WebhookResult{
		Reference: "SF1001", Status: carrier.StatusHold, RawStatus: "hold", EventTime: t1,
	})
	require.NoError(t, err)
	assert.Equal(t, reconcile.OutcomeStale, res.Outcome)
	assert.Equal(t, carrier.StatusDelivered, f.shipment(t).CanonicalStatus)
}

func TestApply_ResolvesByConsignmentID(t *testing.T) {
	f := newFixture(t)
	f.seed(t, steadfastRecord())

	res, err := f.rec.Apply(context.Background(), "steadfast", &carrier.WebhookResult{
		ConsignmentID: "77001", Status: carrier.StatusHold, RawStatus: "hold", EventTime: t1,
	})
	require.NoError(t, err)
	assert.Equal(t, reconcile.OutcomeApplied, res.Outcome)
	assert.Equal(t, "hold", f.shipment(t).RawStatus)
}

func TestApply_RejectsOtherCarrier(t *testing.T) {
	f := newFixture(t)
	f.seed(t, steadfastRecord())

	_, err := f.rec.Apply(context.Background(), "pathao", &carrier.WebhookResult{
		Reference: "1001", Status: carrier.StatusCancelled, RawStatus: "Cancelled", EventTime: t1,
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, carrier.ErrUnknownCarrier))
	assert.Equal(t, carrier.StatusPending, f.shipment(t).CanonicalStatus)
}

func TestApply_InformationalIsIgnored(t *testing.T) {
	f := newFixture(t)

	res, err := f.rec.Apply(context.Background(), "pathao", &carrier.WebhookResult{RawStatus: "webhook_integration"})
	require.NoError(t, err)
	assert.Equal(t, reconcile.OutcomeIgnored, res.Outcome)
	assert.Equal(t, 0, f.rec.Pending())
}

func TestApply_DefersUntilShipmentCreated(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res, err := f.rec.Apply(ctx, "steadfast", &carrier.WebhookResult{
		Reference: "INV-1001", Status: carrier.StatusHold, RawStatus: "hold", EventTime: t1,
	})
	require.NoError(t, err)
	assert.Equal(t, reconcile.OutcomeDeferred, res.Outcome)
	assert.Equal(t, 1, f.rec.Pending())

	_, err = f.store.GetShipment(ctx, "1001")
	assert.True(t, errors.Is(err, store.ErrShipmentNotFound), "deferral creates no record")

	rec := steadfastRecord()
	f.seed(t, rec)
	order, err := f.store.GetOrder(ctx, "1001")
	require.NoError(t, err)
	f.rec.ShipmentCreated(ctx, order, rec)

	assert.Equal(t, 0, f.rec.Pending())
	got := f.shipment(t)
	assert.Equal(t, carrier.StatusHold, got.CanonicalStatus)
	assert.Equal(t, "hold", got.RawStatus)
}

func TestApply_DefersUnknownTrackingCode(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res, err := f.rec.Apply(ctx, "steadfast", &carrier.WebhookResult{
		Reference: "SF1001", Status: carrier.StatusDelivered, RawStatus: "delivered", EventTime: t1,
	})
	require.NoError(t, err)
	assert.Equal(t, reconcile.OutcomeDeferred, res.Outcome)

	rec := steadfastRecord()
	f.seed(t, rec)
	order, err := f.store.GetOrder(ctx, "1001")
	require.NoError(t, err)

	// Another carrier's record does not drain the queue.
	other := *rec
	other.CarrierID = "pathao"
	f.rec.ShipmentCreated(ctx, order, &other)
	assert.Equal(t, 1, f.rec.Pending())

	f.rec.ShipmentCreated(ctx, order, rec)
	assert.Equal(t, 0, f.rec.Pending())
	assert.Equal(t, carrier.StatusDelivered, f.shipment(t).CanonicalStatus)
}

func TestApply_PublishFailureDoesNotFail(t *testing.T) {
	f := newFixture(t)
	f.publisher.err = errors.New("broker down")
	f.seed(t, steadfastRecord())

	res, err := f.rec.Apply(context.Background(), "steadfast", &carrier.WebhookResult{
		Reference: "1001", Status: carrier.StatusDelivered, RawStatus: "delivered", EventTime: t1,
	})
	require.NoError(t, err)
	assert.Equal(t, reconcile.OutcomeApplied, res.Outcome)
	assert.Equal(t, carrier.StatusDelivered, f.shipment(t).CanonicalStatus)
}

func TestApply_ConcurrentDuplicates(t *testing.T) {
	f := newFixture(t)
	f.seed(t, steadfastRecord())

	hook := &carrier.WebhookResult{
		Reference: "1001", Status: carrier.StatusDelivered, RawStatus: "delivered", EventTime: t1,
	}

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.rec.Apply(context.Background(), "steadfast", hook)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, f.publisher.count())
	assert.Equal(t, carrier.StatusDelivered, f.shipment(t).CanonicalStatus)
}

func TestCheckStatus_MergesCarrierStatus(t *testing.T) {
	f := newFixture(t)
	f.seed(t, steadfastRecord())

	var gotID string
	var gotType carrier.IdentifierType
	f.steadfast.OnGetDeliveryStatus = func(ctx context.Context, id string, idType carrier.IdentifierType) (*carrier.StatusResult, error) {
		gotID, gotType = id, idType
		return &carrier.StatusResult{Status: carrier.StatusDelivered, RawStatus: "delivered", Message: "ok"}, nil
	}

	res, err := f.rec.CheckStatus(context.Background(), "1001", "")
	require.NoError(t, err)
	assert.Equal(t, carrier.StatusDelivered, res.Status)
	assert.Equal(t, "77001", gotID)
	assert.Equal(t, carrier.ByConsignmentID, gotType)
	assert.Equal(t, "delivered", f.shipment(t).RawStatus)
}

func TestCheckStatus_LiveStatusReplacesZonedRecord(t *testing.T) {
	f := newFixture(t)
	rec := steadfastRecord()
	rec.StatusAt = carrier.ParseEventTimeIn("2025-03-02 12:00:00", carrier.Dhaka)
	f.seed(t, rec)

	f.steadfast.OnGetDeliveryStatus = func(ctx context.Context, id string, idType carrier.IdentifierType) (*carrier.StatusResult, error) {
		return &carrier.StatusResult{Status: carrier.StatusDelivered, RawStatus: "delivered"}, nil
	}

	res, err := f.rec.CheckStatus(context.Background(), "1001", "")
	require.NoError(t, err)
	stored := f.shipment(t)
	assert.Equal(t, res.Status, stored.CanonicalStatus)
	assert.Equal(t, "delivered", stored.RawStatus)
	assert.Equal(t, 1, f.publisher.count())
}

func TestCheckStatus_FallsBackToTrackingCode(t *testing.T) {
	f := newFixture(t)
	rec := steadfastRecord()
	rec.ConsignmentID = ""
	f.seed(t, rec)

	var gotType carrier.IdentifierType
	f.steadfast.OnGetDeliveryStatus = func(ctx context.Context, id string, idType carrier.IdentifierType) (*carrier.StatusResult, error) {
		gotType = idType
		return &carrier.StatusResult{Status: carrier.StatusPending, RawStatus: "pending"}, nil
	}

	_, err := f.rec.CheckStatus(context.Background(), "1001", "steadfast")
	require.NoError(t, err)
	assert.Equal(t, carrier.ByTrackingCode, gotType)
}

func TestCheckStatus_Errors(t *testing.T) {
	t.Run("no shipment", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.rec.CheckStatus(context.Background(), "1001", "steadfast")
		assert.True(t, errors.Is(err, store.ErrShipmentNotFound))
	})

	t.Run("other carrier", func(t *testing.T) {
		f := newFixture(t)
		f.seed(t, steadfastRecord())
		_, err := f.rec.CheckStatus(context.Background(), "1001", "pathao")
		assert.True(t, errors.Is(err, carrier.ErrUnknownCarrier))
	})

	t.Run("carrier failure", func(t *testing.T) {
		f := newFixture(t)
		f.seed(t, steadfastRecord())
		f.steadfast.SimulateErrors = true
		_, err := f.rec.CheckStatus(context.Background(), "1001", "steadfast")
		assert.True(t, errors.Is(err, carrier.ErrCarrierAPIFailure))
		assert.Equal(t, carrier.StatusPending, f.shipment(t).CanonicalStatus)
	})

	t.Run("timeout", func(t *testing.T) {
		f := newFixture(t)
		f.seed(t, steadfastRecord())
		f.steadfast.SimulateLatency = time.Second
		_, err := f.rec.CheckStatus(context.Background(), "1001", "steadfast")
		assert.True(t, errors.Is(err, carrier.ErrTimeout))
	})
}
