package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"github.com/tournevent/courierhub/internal/audit"
	"github.com/tournevent/courierhub/internal/dispatch"
	"github.com/tournevent/courierhub/internal/reconcile"
	"github.com/tournevent/courierhub/internal/server"
	"github.com/tournevent/courierhub/internal/telemetry"
	"github.com/tournevent/courierhub/internal/webhook"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

var version = "0.0.1"

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(),
		syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "courierhub",
	Short:   "Courierhub - multi-carrier dispatch and webhook reconciliation service",
	Version: version,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP server",
	RunE:  runServe,
}

var validateCmd = &cobra.Command{
	Use:   "validate [carrier...]",
	Short: "Check carrier credentials (all enabled carriers when none are named)",
	RunE:  runValidate,
}

func init() {
	rootCmd.AddCommand(serveCmd, validateCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	// Load configuration
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	// Initialize telemetry
	logger, err := initLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync()

	tracer, tracerShutdown, err := initTracer(ctx, cfg)
	if err != nil {
		logger.Warn("Failed to initialize tracer", zap.Error(err))
	} else {
		defer tracerShutdown(context.Background())
	}
	_, span := tracer.Start(ctx, "courierhub.startup", trace.WithAttributes(cfg.Attributes()...))
	span.End()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := telemetry.NewMetrics(reg)

	registry := initCarrierRegistry(cfg, logger, tracer)

	st, err := initStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer st.Close()

	locker, closeLocker, err := initLocker(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeLocker()

	publisher := initPublisher(cfg, logger)
	defer publisher.Close()

	reconciler := reconcile.New(reconcile.Config{
		CarrierTimeout: cfg.CarrierTimeout,
		Publisher:      publisher,
		Metrics:        metrics,
		Tracer:         tracer,
	}, registry, st, locker, logger)

	engine := dispatch.New(dispatch.Config{
		DefaultCarrier: cfg.DefaultCarrier,
		CarrierTimeout: cfg.CarrierTimeout,
		Publisher:      publisher,
		Metrics:        metrics,
		Tracer:         tracer,
	}, registry, st, locker, reconciler, logger)

	gateway := webhook.New(webhook.Config{
		Auth: webhook.AuthConfig{
			Enabled: cfg.WebhookAuthEnabled,
			Method:  cfg.WebhookAuthMethod,
			Secret:  cfg.WebhookSecret,
		},
		AuditEnabled: cfg.AuditEnabled,
		Metrics:      metrics,
		Tracer:       tracer,
	}, registry, reconciler, audit.NewRing(cfg.AuditCapacity), logger)

	logger.Info("Starting courierhub",
		zap.Int("port", cfg.Port),
		zap.String("version", cfg.Version),
		zap.Strings("carriers", registry.IDs()),
		zap.Int("enabled", len(registry.Enabled())),
	)

	srv := server.New(server.Config{Port: cfg.Port, TrustProxyHeaders: cfg.TrustProxyHeaders}, server.Deps{
		Engine:     engine,
		Reconciler: reconciler,
		Gateway:    gateway,
		Store:      st,
		Gatherer:   reg,
	}, logger)
	if err := srv.Run(ctx); err != nil {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

func runValidate(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger, err := initLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync()

	registry := initCarrierRegistry(cfg, logger, nil)
	engine := dispatch.New(dispatch.Config{CarrierTimeout: cfg.CarrierTimeout}, registry, nil, nil, nil, logger)

	ids := args
	if len(ids) == 0 {
		for _, c := range registry.Enabled() {
			ids = append(ids, c.ID())
		}
	}
	if len(ids) == 0 {
		return fmt.Errorf("no carrier enabled and none named")
	}

	out := cmd.OutOrStdout()
	var failed int
	for _, id := range ids {
		if err := engine.ValidateCredentials(ctx, id); err != nil {
			failed++
			fmt.Fprintf(out, "%s: FAILED: %v\n", id, err)
			continue
		}
		fmt.Fprintf(out, "%s: ok\n", id)
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d carriers failed validation", failed, len(ids))
	}
	return nil
}
