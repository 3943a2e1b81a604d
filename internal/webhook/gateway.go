// Package webhook ingests carrier status callbacks.
package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"

	"github.com/tournevent/courierhub/internal/audit"
	"github.com/tournevent/courierhub/internal/reconcile"
	"github.com/tournevent/courierhub/internal/telemetry"
	"github.com/tournevent/courierhub/pkg/carrier"
	"github.com/uptrace/opentelemetry-go-extra/otelzap"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// MessageUnauthorized is the only detail given for failed authentication.
const MessageUnauthorized = "invalid or missing token"

// Reconciler merges interpreted webhooks into shipment records.
type Reconciler interface {
	Apply(ctx context.Context, carrierID string, res *carrier.WebhookResult) (*reconcile.Result, error)
}

// Request is an inbound webhook.
type Request struct {
	CarrierID string
	Header    http.Header
	Query     url.Values
	Body      []byte
	SourceIP  string
}

// Response is the answer sent back to the carrier.
type Response struct {
	HTTPStatus int    `json:"-"`
	Status     string `json:"status"`
	Message    string `json:"message"`
}

// Config holds gateway settings.
type Config struct {
	Auth         AuthConfig
	AuditEnabled bool

	Metrics *telemetry.Metrics
	Tracer  trace.Tracer
}

// Gateway authenticates, routes and interprets webhooks, then hands them to
// the reconciler and records them in the audit ring.
type Gateway struct {
	cfg        Config
	registry   *carrier.Registry
	reconciler Reconciler
	ring       *audit.Ring
	logger     *otelzap.Logger
	metrics    *telemetry.Metrics
	tracer     trace.Tracer
}

// New creates a gateway. ring may be nil when auditing is disabled.
func New(cfg Config, registry *carrier.Registry, reconciler Reconciler, ring *audit.Ring, logger *otelzap.Logger) *Gateway {
	metrics := cfg.Metrics
	if metrics == nil {
		metrics = telemetry.NewMetrics(nil)
	}
	tracer := cfg.Tracer
	if tracer == nil {
		tracer = otel.Tracer("courierhub/webhook")
	}
	return &Gateway{
		cfg:        cfg,
		registry:   registry,
		reconciler: reconciler,
		ring:       ring,
		logger:     logger,
		metrics:    metrics,
		tracer:     tracer,
	}
}

// Handle processes one webhook. It never panics on bad input.
func (g *Gateway) Handle(ctx context.Context, req Request) Response {
	ctx, span := g.tracer.Start(ctx, "webhook.Handle",
		trace.WithAttributes(attribute.String("carrier.id", req.CarrierID)))
	defer span.End()

	method, err := g.Authorize(req.Header, req.Query)
	if err != nil {
		g.logger.Ctx(ctx).Warn("Webhook authentication failed",
			zap.String("carrier", req.CarrierID),
			zap.String("source_ip", req.SourceIP),
			zap.Error(err),
		)
		return g.finish(req, "", audit.OutcomeUnauthorized, failure(http.StatusUnauthorized, MessageUnauthorized))
	}

	c, err := g.registry.Get(req.CarrierID)
	if err != nil {
		return g.finish(req, method, audit.OutcomeRejected,
			failure(http.StatusBadRequest, fmt.Sprintf("unknown carrier: %s", req.CarrierID)))
	}

	if !json.Valid(req.Body) {
		return g.finish(req, method, audit.OutcomeRejected, failure(http.StatusBadRequest, "invalid JSON payload"))
	}

	result, err := c.InterpretWebhook(req.Body)
	if err != nil {
		g.logger.Ctx(ctx).Warn("Webhook payload rejected",
			zap.String("carrier", req.CarrierID),
			zap.Error(err),
		)
		return g.finish(req, method, audit.OutcomeRejected,
			failure(http.StatusBadRequest, carrier.Message(err, "could not interpret payload")))
	}

	applied, err := g.reconciler.Apply(ctx, c.ID(), result)
	if err != nil {
		g.logger.Ctx(ctx).Error("Webhook reconciliation failed",
			zap.String("carrier", req.CarrierID),
			zap.String("reference", result.Reference),
			zap.Error(err),
		)
		status, msg := http.StatusInternalServerError, "could not apply status update"
		outcome := audit.OutcomeFailed
		switch {
		case errors.Is(err, carrier.ErrUnknownCarrier):
			status, msg, outcome = http.StatusBadRequest, "shipment belongs to another carrier", audit.OutcomeRejected
		case errors.Is(err, carrier.ErrConcurrencyConflict):
			status, msg = http.StatusConflict, "order is busy, retry later"
		}
		return g.finish(req, method, outcome, failure(status, msg))
	}

	g.logger.Ctx(ctx).Info("Webhook processed",
		zap.String("carrier", req.CarrierID),
		zap.String("order_id", applied.OrderID),
		zap.String("outcome", string(applied.Outcome)),
		zap.String("auth_method", method),
	)
	return g.finish(req, method, string(applied.Outcome), Response{
		HTTPStatus: http.StatusOK,
		Status:     "success",
		Message:    successMessage(applied),
	})
}

// Authorize checks the webhook secret on a request. It returns the method
// that matched, or an error wrapping carrier.ErrAuthenticationFailed.
func (g *Gateway) Authorize(header http.Header, query url.Values) (string, error) {
	method, ok := Authenticate(g.cfg.Auth, header, query)
	if !ok {
		return "", fmt.Errorf("%w: %s", carrier.ErrAuthenticationFailed, MessageUnauthorized)
	}
	return method, nil
}

// Events returns the audit ring, oldest first. It is empty when auditing is
// disabled.
func (g *Gateway) Events() []audit.Event {
	if g.ring == nil {
		return []audit.Event{}
	}
	return g.ring.Events()
}

func (g *Gateway) finish(req Request, method, outcome string, resp Response) Response {
	g.metrics.RecordWebhook(req.CarrierID, outcome)
	if g.cfg.AuditEnabled && g.ring != nil {
		g.ring.Append(audit.Event{
			CarrierID:  req.CarrierID,
			RawPayload: string(req.Body),
			SourceIP:   req.SourceIP,
			AuthMethod: method,
			Outcome:    outcome,
			Message:    resp.Message,
		})
	}
	return resp
}

func failure(status int, msg string) Response {
	return Response{HTTPStatus: status, Status: "error", Message: msg}
}

func successMessage(r *reconcile.Result) string {
	switch r.Outcome {
	case reconcile.OutcomeApplied:
		return fmt.Sprintf("status updated to %s", r.Status)
	case reconcile.OutcomeUnchanged:
		return "status already up to date"
	case reconcile.OutcomeStale:
		return "older status ignored"
	case reconcile.OutcomeDeferred:
		return "shipment not found yet, update queued"
	default:
		return "event acknowledged"
	}
}
