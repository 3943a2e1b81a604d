// Package server exposes the dispatch engine, status checks and the
// webhook gateway over HTTP.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/tournevent/courierhub/internal/dispatch"
	"github.com/tournevent/courierhub/internal/reconcile"
	"github.com/tournevent/courierhub/internal/store"
	"github.com/tournevent/courierhub/internal/webhook"
	"github.com/uptrace/opentelemetry-go-extra/otelzap"
	"go.uber.org/zap"
)

// maxWebhookBody bounds the size of a carrier callback.
const maxWebhookBody = 1 << 20

// Server is the HTTP server for the dispatch service.
type Server struct {
	port       int
	timeout    time.Duration
	trustProxy bool

	engine     *dispatch.Engine
	reconciler *reconcile.Reconciler
	gateway    *webhook.Gateway
	store      store.Store
	gatherer   prometheus.Gatherer
	logger     *otelzap.Logger
}

// Config holds server configuration.
type Config struct {
	Port int
	// RequestTimeout bounds a single request; zero means 60s.
	RequestTimeout time.Duration
	// TrustProxyHeaders takes the client address from X-Forwarded-For or
	// X-Real-IP instead of the TCP peer.
	TrustProxyHeaders bool
}

// Deps are the components the handlers call into.
type Deps struct {
	Engine     *dispatch.Engine
	Reconciler *reconcile.Reconciler
	Gateway    *webhook.Gateway
	Store      store.Store
	// Gatherer backs /metrics; nil means the default registry.
	Gatherer prometheus.Gatherer
}

// New creates a new server instance.
func New(cfg Config, deps Deps, logger *otelzap.Logger) *Server {
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	gatherer := deps.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	return &Server{
		port:       cfg.Port,
		timeout:    timeout,
		trustProxy: cfg.TrustProxyHeaders,
		engine:     deps.Engine,
		reconciler: deps.Reconciler,
		gateway:    deps.Gateway,
		store:      deps.Store,
		gatherer:   gatherer,
		logger:     logger,
	}
}

// Handler returns the routed HTTP handler.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	if s.trustProxy {
		r.Use(middleware.RealIP)
	}
	r.Use(s.requestLogger, middleware.Recoverer)
	r.Use(middleware.Timeout(s.timeout))

	r.Get("/health", s.handleHealth)
	r.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))

	r.Route("/orders", func(r chi.Router) {
		r.Post("/dispatch/bulk", s.handleBulkDispatch)
		r.Put("/{orderID}", s.handleUpsertOrder)
		r.Post("/{orderID}/status", s.handleChangeStatus)
		r.Post("/{orderID}/dispatch", s.handleDispatch)
		r.Get("/{orderID}/shipment/status", s.handleShipmentStatus)
	})

	r.Get("/carriers", s.handleCarriers)
	r.Post("/carriers/{carrierID}/validate", s.handleValidate)

	r.Get("/webhook/events", s.handleWebhookEvents)
	r.Post("/webhook/{carrierID}", s.handleWebhook)

	return r
}

// Run starts the HTTP server and blocks until context is cancelled.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", s.port),
		Handler:      s.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: s.timeout + 5*time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("Starting server", zap.Int("port", s.port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("Shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		s.logger.Ctx(r.Context()).Debug("Request handled",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("duration", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}
