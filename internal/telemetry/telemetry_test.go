package telemetry_test

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tournevent/courierhub/internal/telemetry"
)

func TestNewLogger(t *testing.T) {
	for _, level := range []string{"debug", "INFO", "warn", "ERROR", "bogus"} {
		logger, err := telemetry.NewLogger(level)
		require.NoError(t, err, level)
		require.NotNil(t, logger)
	}
}

func TestMetrics_Register(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := telemetry.NewMetrics(reg)

	m.RecordDispatch("steadfast", "auto_sent")
	m.RecordDispatch("steadfast", "auto_sent")
	m.RecordWebhook("pathao", "applied")
	m.RecordError("redx", "TIMEOUT")
	m.RecordOrphan("steadfast")
	m.RecordMerge("steadfast", "applied")
	m.ObserveCarrierCall("create_shipment", "steadfast", time.Now())

	families, err := reg.Gather()
	require.NoError(t, err)
	counters := make(map[string]float64)
	for _, f := range families {
		for _, metric := range f.GetMetric() {
			if c := metric.GetCounter(); c != nil {
				counters[f.GetName()] += c.GetValue()
			}
		}
	}
	assert.Equal(t, 2.0, counters["courierhub_dispatch_total"])
	assert.Equal(t, 1.0, counters["courierhub_orphaned_shipments_total"])
	assert.Equal(t, 1.0, counters["courierhub_webhook_total"])

	names := make([]string, 0, len(families))
	for _, f := range families {
		names = append(names, f.GetName())
	}
	assert.Contains(t, names, "courierhub_carrier_request_duration_seconds")
}

func TestMetrics_TwoInstancesOnSeparateRegistries(t *testing.T) {
	assert.NotPanics(t, func() {
		telemetry.NewMetrics(prometheus.NewRegistry())
		telemetry.NewMetrics(prometheus.NewRegistry())
		telemetry.NewMetrics(nil)
	})
}

func TestInitTracer(t *testing.T) {
	tracer, shutdown, err := telemetry.InitTracer(context.Background(), "localhost:4318", "courierhub-test", "test")
	require.NoError(t, err)
	require.NotNil(t, tracer)

	_, span := tracer.Start(context.Background(), "noop")
	span.End()

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	// The collector is not running; shutdown may report the failed export.
	_ = shutdown(ctx)
}
