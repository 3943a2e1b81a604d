package telemetry

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the service.
type Metrics struct {
	DispatchTotal    *prometheus.CounterVec
	WebhookTotal     *prometheus.CounterVec
	CarrierDuration  *prometheus.HistogramVec
	CarrierErrors    *prometheus.CounterVec
	OrphanedTotal    *prometheus.CounterVec
	StatusMergeTotal *prometheus.CounterVec
}

// NewMetrics creates metrics and registers them on reg. A nil reg gives
// unregistered metrics, which is what tests want.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		DispatchTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "courierhub_dispatch_total",
				Help: "Dispatch decisions by carrier and resulting state",
			},
			[]string{"carrier", "state"},
		),
		WebhookTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "courierhub_webhook_total",
				Help: "Inbound webhooks by carrier and outcome",
			},
			[]string{"carrier", "outcome"},
		),
		CarrierDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "courierhub_carrier_request_duration_seconds",
				Help:    "Carrier call duration in seconds by operation and carrier",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation", "carrier"},
		),
		CarrierErrors: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "courierhub_carrier_errors_total",
				Help: "Total carrier API errors by carrier and error code",
			},
			[]string{"carrier", "code"},
		),
		OrphanedTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "courierhub_orphaned_shipments_total",
				Help: "Shipments created at a carrier whose local commit failed",
			},
			[]string{"carrier"},
		),
		StatusMergeTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "courierhub_status_merge_total",
				Help: "Shipment status updates by carrier and merge result",
			},
			[]string{"carrier", "result"},
		),
	}
}

// RecordDispatch counts a dispatch decision.
func (m *Metrics) RecordDispatch(carrier, state string) {
	m.DispatchTotal.WithLabelValues(carrier, state).Inc()
}

// RecordWebhook counts an inbound webhook.
func (m *Metrics) RecordWebhook(carrier, outcome string) {
	m.WebhookTotal.WithLabelValues(carrier, outcome).Inc()
}

// ObserveCarrierCall records the duration of a carrier call started at start.
func (m *Metrics) ObserveCarrierCall(operation, carrier string, start time.Time) {
	m.CarrierDuration.WithLabelValues(operation, carrier).Observe(time.Since(start).Seconds())
}

// RecordError records a carrier error metric.
func (m *Metrics) RecordError(carrier, code string) {
	m.CarrierErrors.WithLabelValues(carrier, code).Inc()
}

// RecordOrphan counts an orphaned remote shipment.
func (m *Metrics) RecordOrphan(carrier string) {
	m.OrphanedTotal.WithLabelValues(carrier).Inc()
}

// RecordMerge counts a status merge result.
func (m *Metrics) RecordMerge(carrier, result string) {
	m.StatusMergeTotal.WithLabelValues(carrier, result).Inc()
}
