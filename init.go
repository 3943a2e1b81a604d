package main

import (
	"context"
	"fmt"

	"github.com/tournevent/courierhub/internal/config"
	"github.com/tournevent/courierhub/internal/events"
	"github.com/tournevent/courierhub/internal/lock"
	"github.com/tournevent/courierhub/internal/store"
	"github.com/tournevent/courierhub/internal/store/memstore"
	"github.com/tournevent/courierhub/internal/store/pgstore"
	"github.com/tournevent/courierhub/internal/telemetry"
	"github.com/tournevent/courierhub/pkg/carrier"
	"github.com/tournevent/courierhub/pkg/carrier/pathao"
	"github.com/tournevent/courierhub/pkg/carrier/redx"
	"github.com/tournevent/courierhub/pkg/carrier/steadfast"
	"github.com/uptrace/opentelemetry-go-extra/otelzap"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

func loadConfig() (*config.Config, error) {
	return config.Load()
}

func initLogger(level string) (*otelzap.Logger, error) {
	return telemetry.NewLogger(level)
}

// initTracer always returns a usable tracer; on error it is the global no-op one.
func initTracer(ctx context.Context, cfg *config.Config) (trace.Tracer, func(context.Context) error, error) {
	if !cfg.OTELEnabled {
		return otel.Tracer(cfg.ServiceName), func(context.Context) error { return nil }, nil
	}

	tracer, shutdown, err := telemetry.InitTracer(ctx, cfg.OTELEndpoint, cfg.ServiceName, cfg.Version)
	if err != nil {
		return otel.Tracer(cfg.ServiceName), nil, err
	}
	return tracer, shutdown, nil
}

// initCarrierRegistry registers every known carrier. Disabled carriers stay
// listed so they can be shown and validated, but are never chosen.
func initCarrierRegistry(cfg *config.Config, logger *otelzap.Logger, tracer trace.Tracer) *carrier.Registry {
	registry := carrier.NewRegistry()

	registry.Register(steadfast.New(cfg.SteadfastSettings(), logger, tracer))
	registry.Register(pathao.New(cfg.PathaoSettings(), logger, tracer))
	registry.Register(redx.New(cfg.RedXSettings(), logger, tracer))

	for _, c := range registry.All() {
		logger.Info("Carrier registered",
			zap.String("carrier", c.ID()),
			zap.Bool("enabled", c.IsEnabled()),
		)
	}
	return registry
}

func initStore(ctx context.Context, cfg *config.Config, logger *otelzap.Logger) (store.Store, error) {
	if cfg.DatabaseURL == "" {
		logger.Warn("DATABASE_URL not set, using in-memory store")
		return memstore.New(), nil
	}
	st, err := pgstore.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("init store: %w", err)
	}
	return st, nil
}

func initLocker(ctx context.Context, cfg *config.Config, logger *otelzap.Logger) (lock.Locker, func(), error) {
	if cfg.RedisAddr == "" {
		return lock.NewLocal(cfg.LockWait), func() {}, nil
	}
	l := lock.NewRedis(cfg.RedisAddr, cfg.LockTTL, cfg.LockWait)
	if err := l.Ping(ctx); err != nil {
		_ = l.Close()
		return nil, nil, fmt.Errorf("init locker: %w", err)
	}
	logger.Info("Using Redis order locks", zap.String("addr", cfg.RedisAddr))
	return l, func() { _ = l.Close() }, nil
}

func initPublisher(cfg *config.Config, logger *otelzap.Logger) events.Publisher {
	if len(cfg.KafkaBrokers) == 0 {
		return events.Nop{}
	}
	logger.Info("Publishing shipment events",
		zap.Strings("brokers", cfg.KafkaBrokers),
		zap.String("topic", cfg.KafkaTopic),
	)
	return events.NewProducer(cfg.KafkaBrokers, cfg.KafkaTopic)
}
