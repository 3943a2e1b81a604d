package server_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tournevent/courierhub/internal/audit"
	"github.com/tournevent/courierhub/internal/dispatch"
	"github.com/tournevent/courierhub/internal/lock"
	"github.com/tournevent/courierhub/internal/reconcile"
	"github.com/tournevent/courierhub/internal/server"
	"github.com/tournevent/courierhub/internal/store/memstore"
	"github.com/tournevent/courierhub/internal/telemetry"
	"github.com/tournevent/courierhub/internal/webhook"
	"github.com/tournevent/courierhub/pkg/carrier"
	"github.com/tournevent/courierhub/pkg/carrier/mock"
	"github.com/uptrace/opentelemetry-go-extra/otelzap"
	"go.uber.org/zap"
)

const secret = "s3cret-token"

func order(id string) *carrier.Order {
	return &carrier.Order{
		ID:     id,
		Number: id,
		Status: carrier.OrderProcessing,
		Billing: carrier.Contact{
			Name:    "Karim Ahmed",
			Phone:   "01811000000",
			Address: "Road 7, Banani",
			City:    "Dhaka",
		},
		Items: []carrier.LineItem{{Name: "Mug", Quantity: 1, UnitPrice: 350}},
		Total: 350,
	}
}

type fixture struct {
	store     *memstore.Store
	steadfast *mock.Client
	pathao    *mock.Client
	handler   http.Handler
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	return newFixtureWith(t, server.Config{Port: 8080})
}

func newFixtureWith(t *testing.T, cfg server.Config) *fixture {
	t.Helper()
	logger := otelzap.New(zap.NewNop())
	reg := prometheus.NewRegistry()
	metrics := telemetry.NewMetrics(reg)

	f := &fixture{
		store:     memstore.New(order("1001"), order("1002"), order("1003")),
		steadfast: mock.New("steadfast"),
		pathao:    mock.New("pathao"),
	}
	registry := carrier.NewRegistry(f.steadfast, f.pathao, mock.NewDisabled("redx"))
	locker := lock.NewLocal(time.Second)

	rec := reconcile.New(reconcile.Config{Metrics: metrics}, registry, f.store, locker, logger)
	engine := dispatch.New(dispatch.Config{Metrics: metrics}, registry, f.store, locker, rec, logger)
	gateway := webhook.New(webhook.Config{
		Auth:         webhook.AuthConfig{Enabled: true, Method: webhook.MethodAny, Secret: secret},
		AuditEnabled: true,
		Metrics:      metrics,
	}, registry, rec, audit.NewRing(audit.DefaultCapacity), logger)

	srv := server.New(cfg, server.Deps{
		Engine:     engine,
		Reconciler: rec,
		Gateway:    gateway,
		Store:      f.store,
		Gatherer:   reg,
	}, logger)
	f.handler = srv.Handler()
	return f
}

func (f *fixture) do(t *testing.T, method, path, body string, header http.Header) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range header {
		req.Header[k] = v
	}
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func decodeResult(t *testing.T, rec *httptest.ResponseRecorder) dispatch.Result {
	t.Helper()
	var res dispatch.Result
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&res))
	return res
}

func TestServer_Health(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodGet, "/health", "", nil)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", rec.Body.String())
}

func TestServer_Carriers(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodGet, "/carriers", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var infos []dispatch.CarrierInfo
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&infos))
	require.Len(t, infos, 3)
	assert.Equal(t, "steadfast", infos[0].ID)
	assert.True(t, infos[0].Enabled)
	assert.Equal(t, "redx", infos[2].ID)
	assert.False(t, infos[2].Enabled)
}

func TestServer_DispatchSelectionRequired(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/orders/1001/dispatch", `{}`, nil)

	require.Equal(t, http.StatusOK, rec.Code)
	res := decodeResult(t, rec)
	assert.Equal(t, dispatch.StateSelectionRequired, res.State)
	assert.Len(t, res.EnabledCarriers, 2)
	assert.Equal(t, 0, f.steadfast.Calls("CreateShipment"))
}

func TestServer_DispatchWithCarrier(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/orders/1001/dispatch", `{"carrier_id":"steadfast","cod_amount":500,"note":"fragile"}`, nil)

	require.Equal(t, http.StatusOK, rec.Code)
	res := decodeResult(t, rec)
	assert.Equal(t, dispatch.StateAutoSent, res.State)
	assert.Equal(t, "steadfast", res.CarrierID)
	assert.NotEmpty(t, res.TrackingCode)
	assert.Contains(t, res.TrackingURL, res.TrackingCode)

	o, err := f.store.GetOrder(context.Background(), "1001")
	require.NoError(t, err)
	assert.Equal(t, carrier.OrderOutForShipping, o.Status)

	again := f.do(t, http.MethodPost, "/orders/1001/dispatch", `{"carrier_id":"pathao"}`, nil)
	assert.Equal(t, http.StatusUnprocessableEntity, again.Code)
	assert.Equal(t, dispatch.StateDispatchFailed, decodeResult(t, again).State)
	assert.Equal(t, 0, f.pathao.Calls("CreateShipment"))
}

func TestServer_DispatchErrors(t *testing.T) {
	tests := []struct {
		name string
		path string
		body string
		want int
	}{
		{"unknown carrier", "/orders/1001/dispatch", `{"carrier_id":"dhl"}`, http.StatusBadRequest},
		{"disabled carrier", "/orders/1001/dispatch", `{"carrier_id":"redx"}`, http.StatusBadRequest},
		{"missing order", "/orders/9999/dispatch", `{"carrier_id":"steadfast"}`, http.StatusNotFound},
		{"invalid json", "/orders/1001/dispatch", `{"carrier_id":`, http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			rec := f.do(t, http.MethodPost, tt.path, tt.body, nil)
			assert.Equal(t, tt.want, rec.Code)
		})
	}
}

func TestServer_DispatchCarrierFailure(t *testing.T) {
	f := newFixture(t)
	f.steadfast.SimulateErrors = true

	rec := f.do(t, http.MethodPost, "/orders/1001/dispatch", `{"carrier_id":"steadfast"}`, nil)

	assert.Equal(t, http.StatusBadGateway, rec.Code)
	res := decodeResult(t, rec)
	assert.Equal(t, dispatch.StateDispatchFailed, res.State)
	assert.Equal(t, "Simulated API error", res.Message)
}

func TestServer_ChangeStatus(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/orders/1001/status", `{"status":"on-hold"}`, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, dispatch.StateUpdated, decodeResult(t, rec).State)

	o, err := f.store.GetOrder(context.Background(), "1001")
	require.NoError(t, err)
	assert.Equal(t, carrier.OrderOnHold, o.Status)

	rec = f.do(t, http.MethodPost, "/orders/1001/status", `{"status":"out-for-shipping","carrier_id":"pathao"}`, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	res := decodeResult(t, rec)
	assert.Equal(t, dispatch.StateAutoSent, res.State)
	assert.Equal(t, "pathao", res.CarrierID)

	rec = f.do(t, http.MethodPost, "/orders/1001/status", `{"status":"shipped-ish"}`, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestServer_BulkDispatch(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/orders/dispatch/bulk", `{"order_ids":["1002","1003","1002"],"carrier_id":"pathao"}`, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Results []dispatch.Result `json:"results"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	require.Len(t, body.Results, 2)
	for _, r := range body.Results {
		assert.Equal(t, dispatch.StateAutoSent, r.State)
		assert.Equal(t, "pathao", r.CarrierID)
	}
	assert.Equal(t, 2, f.pathao.Calls("CreateShipment"))

	rec = f.do(t, http.MethodPost, "/orders/dispatch/bulk", `{"order_ids":["1001"]}`, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodPost, "/orders/dispatch/bulk", `{"order_ids":[]}`, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestServer_UpsertOrder(t *testing.T) {
	f := newFixture(t)

	body := `{"number":"INV-2001","status":"processing","billing":{"name":"Nadia","phone":"01911000000","address":"Sector 4, Uttara"},"items":[{"name":"Lamp","quantity":1,"unit_price":1200}],"total":1200}`
	rec := f.do(t, http.MethodPut, "/orders/2001", body, nil)
	require.Equal(t, http.StatusNoContent, rec.Code)

	o, err := f.store.GetOrder(context.Background(), "2001")
	require.NoError(t, err)
	assert.Equal(t, "INV-2001", o.Number)
	assert.Equal(t, "Nadia", o.Billing.Name)
	assert.Equal(t, 1200.0, o.Total)

	rec = f.do(t, http.MethodPost, "/orders/2001/dispatch", `{"carrier_id":"steadfast"}`, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(t, http.MethodPut, "/orders/2002", `{"status":"teleported"}`, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestServer_WebhookFlow(t *testing.T) {
	f := newFixture(t)
	f.steadfast.OnGetDeliveryStatus = func(ctx context.Context, identifier string, idType carrier.IdentifierType) (*carrier.StatusResult, error) {
		return &carrier.StatusResult{Status: carrier.StatusDelivered, RawStatus: "delivered"}, nil
	}

	rec := f.do(t, http.MethodPost, "/orders/1001/dispatch", `{"carrier_id":"steadfast"}`, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	payload := `{"reference":"1001","status":"delivered","updated_at":"2099-01-01T00:00:00Z"}`
	rec = f.do(t, http.MethodPost, "/webhook/steadfast", payload, http.Header{"X-Webhook-Token": {secret}})
	require.Equal(t, http.StatusOK, rec.Code)

	var resp webhook.Response
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, "success", resp.Status)

	shipment, err := f.store.GetShipment(context.Background(), "1001")
	require.NoError(t, err)
	assert.Equal(t, carrier.StatusDelivered, shipment.CanonicalStatus)

	rec = f.do(t, http.MethodGet, "/orders/1001/shipment/status", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var st struct {
		OrderID         string `json:"order_id"`
		CanonicalStatus string `json:"canonical_status"`
		RawStatus       string `json:"raw_status"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&st))
	assert.Equal(t, "1001", st.OrderID)
	assert.Equal(t, "delivered", st.CanonicalStatus)

	rec = f.do(t, http.MethodGet, "/orders/1001/shipment/status?carrier_id=pathao", "", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestServer_WebhookUnauthorized(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/webhook/steadfast?token=wrong", `{"reference":"1001","status":"delivered"}`, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	var resp webhook.Response
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, "error", resp.Status)
	assert.Equal(t, webhook.MessageUnauthorized, resp.Message)

	rec = f.do(t, http.MethodGet, "/webhook/events", "", nil)
	require.Equal(t, http.StatusUnauthorized, rec.Code, "the audit log needs the webhook secret")

	rec = f.do(t, http.MethodGet, "/webhook/events", "", http.Header{"X-Webhook-Token": {secret}})
	require.Equal(t, http.StatusOK, rec.Code)
	var events []audit.Event
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&events))
	require.Len(t, events, 1)
	assert.Equal(t, "steadfast", events[0].CarrierID)
	assert.Equal(t, audit.OutcomeUnauthorized, events[0].Outcome)
	assert.NotEmpty(t, events[0].SourceIP)
}

func TestServer_WebhookSourceIP(t *testing.T) {
	spoofed := http.Header{"X-Forwarded-For": {"203.0.113.9"}}
	body := `{"reference":"1001","status":"delivered"}`

	f := newFixture(t)
	f.do(t, http.MethodPost, "/webhook/steadfast?token=wrong", body, spoofed)
	events := f.auditEvents(t)
	require.Len(t, events, 1)
	assert.Equal(t, "192.0.2.1", events[0].SourceIP, "forwarding headers are ignored by default")

	f = newFixtureWith(t, server.Config{Port: 8080, TrustProxyHeaders: true})
	f.do(t, http.MethodPost, "/webhook/steadfast?token=wrong", body, spoofed)
	events = f.auditEvents(t)
	require.Len(t, events, 1)
	assert.Equal(t, "203.0.113.9", events[0].SourceIP)
}

func (f *fixture) auditEvents(t *testing.T) []audit.Event {
	t.Helper()
	rec := f.do(t, http.MethodGet, "/webhook/events?token="+secret, "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var events []audit.Event
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&events))
	return events
}

func TestServer_WebhookTooLarge(t *testing.T) {
	f := newFixture(t)

	big := bytes.Repeat([]byte("a"), 2<<20)
	req := httptest.NewRequest(http.MethodPost, "/webhook/steadfast?token="+secret, bytes.NewReader(big))
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
}

func TestServer_ShipmentStatusNotFound(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodGet, "/orders/1002/shipment/status", "", nil)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServer_ValidateCredentials(t *testing.T) {
	f := newFixture(t)
	f.pathao.OnValidateCredentials = func(ctx context.Context) error {
		return carrier.NewError("pathao", carrier.CodeUnauthorized, "invalid client secret")
	}

	var resp struct {
		CarrierID string `json:"carrier_id"`
		Valid     bool   `json:"valid"`
		Message   string `json:"message"`
	}
	rec := f.do(t, http.MethodPost, "/carriers/steadfast/validate", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, "steadfast", resp.CarrierID)
	assert.True(t, resp.Valid)

	rec = f.do(t, http.MethodPost, "/carriers/pathao/validate", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.False(t, resp.Valid)
	assert.Equal(t, "invalid client secret", resp.Message)

	rec = f.do(t, http.MethodPost, "/carriers/dhl/validate", "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServer_Metrics(t *testing.T) {
	f := newFixture(t)

	f.do(t, http.MethodPost, "/orders/1001/dispatch", `{"carrier_id":"steadfast"}`, nil)
	rec := f.do(t, http.MethodGet, "/metrics", "", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "courierhub_dispatch_total")
	assert.Contains(t, rec.Body.String(), `state="auto_sent"`)
}
