package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/NikhilSetiya/voxgate/internal/api"
	"github.com/NikhilSetiya/voxgate/internal/orchestrator"
	"github.com/NikhilSetiya/voxgate/internal/providers"
	"github.com/NikhilSetiya/voxgate/pkg/config"
	"github.com/NikhilSetiya/voxgate/pkg/health"
	"github.com/NikhilSetiya/voxgate/pkg/logging"
	"github.com/NikhilSetiya/voxgate/pkg/metrics"
	"github.com/NikhilSetiya/voxgate/pkg/resilience"
	"github.com/NikhilSetiya/voxgate/pkg/tracing"
)

const version = "1.0.0"

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		logging.GetLogger().WithError(err).Fatal("Failed to load configuration")
	}

	logger, err := logging.NewLogger(&logging.Config{
		Level:       cfg.Logging.Level,
		Format:      cfg.Logging.Format,
		Output:      cfg.Logging.Output,
		ServiceName: "voxgate",
		Version:     version,
	})
	if err != nil {
		logging.GetLogger().WithError(err).Fatal("Failed to create logger")
	}
	logging.SetGlobalLogger(logger)

	zapLogger, err := newZapLogger(cfg.Server.Environment)
	if err != nil {
		logger.WithError(err).Fatal("Failed to create provider logger")
	}
	defer zapLogger.Sync()

	tracingService, err := tracing.NewTracingService(&tracing.Config{
		ServiceName:    cfg.Tracing.ServiceName,
		ServiceVersion: version,
		Environment:    cfg.Server.Environment,
		JaegerEndpoint: cfg.Tracing.JaegerEndpoint,
		SamplingRate:   cfg.Tracing.SampleRate,
		Enabled:        cfg.Tracing.Enabled,
	})
	if err != nil {
		logger.WithError(err).Fatal("Failed to initialize tracing")
	}

	m := metrics.NewMetrics(&metrics.Config{
		Namespace: cfg.Metrics.Namespace,
		Enabled:   cfg.Metrics.Enabled,
	})

	textGen, transcriber := providers.FromConfig(cfg.Providers, tracingService.InstrumentHTTPClient, zapLogger)

	alerts := resilience.NewAlertManager(20, time.Hour, nil)
	alerts.AddHandler(resilience.NewLoggingAlertHandler(logger))

	orch := orchestrator.New(orchestrator.ConfigFromSettings(cfg.Orchestrator), textGen, transcriber,
		orchestrator.WithLogger(logger),
		orchestrator.WithMetrics(m),
		orchestrator.WithAlerts(alerts),
		orchestrator.WithTracer(tracingService.Tracer()),
	)

	healthService := health.NewService(logger, &health.Config{
		Timeout:  health.DefaultConfig().Timeout,
		Metadata: map[string]string{"version": version, "environment": cfg.Server.Environment},
	})
	healthService.RegisterChecker("circuit_breaker", health.NewBreakerChecker(orch.Breaker(), "circuit_breaker"))
	healthService.RegisterChecker("admission", health.NewAdmissionChecker(orch.Admission(), "admission"))
	healthService.RegisterChecker("providers", health.NewCustomChecker("providers", func(ctx context.Context) (health.Status, string, error) {
		switch {
		case textGen == nil && transcriber == nil:
			return health.StatusUnhealthy, "no providers configured", nil
		case textGen == nil || transcriber == nil:
			return health.StatusDegraded, "one provider is not configured", nil
		default:
			return health.StatusHealthy, "all providers configured", nil
		}
	}).WithMetadata(map[string]string{
		"text_model":            cfg.Providers.TextGeneration.Model,
		"transcription_baseurl": cfg.Providers.Transcription.BaseURL,
	}))

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	var routerMetrics *metrics.Metrics
	if cfg.Metrics.Enabled {
		routerMetrics = m
		collector := metrics.NewMetricsCollector(m, cfg.Metrics.SampleInterval, orch.SampleMetrics)
		go collector.Start(ctx)
		defer collector.Stop()
	}

	router := api.NewRouter(cfg, orch, healthService, routerMetrics, tracingService, logger)

	// Create HTTP server
	server := &http.Server{
		Addr:         cfg.Address(),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Start server in a goroutine
	go func() {
		logger.WithField("address", server.Addr).Info("Starting API server")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.WithError(err).Fatal("Failed to start server")
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("Shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("Server forced to shutdown")
	}

	// cancels in-flight runs and waits for their cleanup deletes
	orch.Close()

	if err := tracingService.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Warn("Failed to flush traces")
	}

	logger.Info("Server exited")
}

func newZapLogger(environment string) (*zap.Logger, error) {
	if environment == "production" {
		return zap.NewProduction()
	}
	return zap.NewDevelopment()
}
