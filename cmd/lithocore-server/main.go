// Command lithocore-server runs the catalog HTTP API: schema registration,
// ingestion, querying, provenance, and asynchronous ingestion jobs.
package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"lithocore/internal/adapters/batch"
	"lithocore/internal/adapters/catalogapi"
	"lithocore/internal/blob"
	"lithocore/internal/config"
	"lithocore/internal/core"
	"lithocore/pkg/domain"
	"lithocore/plugins/luminescence"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	logger, err := cfg.NewLogger()
	if err != nil {
		log.Fatalf("init logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	engine := domain.NewDefaultRulesEngine()
	store, err := core.OpenPersistentStore(engine)
	if err != nil {
		logger.Fatal("open store", zap.Error(err))
	}
	blobs, err := blob.Open(ctx)
	if err != nil {
		logger.Fatal("open blob store", zap.Error(err))
	}
	logger.Info("storage ready", zap.String("blob_driver", string(blobs.Driver())))

	metrics := core.NewPrometheusMetricsRecorder()
	service := core.NewService(store,
		core.WithLogger(logger),
		core.WithMetricsRecorder(metrics),
		core.WithBlobStore(blobs),
	)

	if _, err := service.InstallPlugin(luminescence.New()); err != nil {
		logger.Fatal("install luminescence plugin", zap.Error(err))
	}
	if cfg.SchemaFile != "" {
		if err := service.Registry().LoadYAMLFile(cfg.SchemaFile); err != nil {
			logger.Fatal("load schema definitions", zap.String("path", cfg.SchemaFile), zap.Error(err))
		}
		logger.Info("schema definitions loaded", zap.String("path", cfg.SchemaFile))
	}

	worker := batch.NewWorker(service, batch.ZapAuditLogger{Logger: logger})
	worker.Start()

	handler := catalogapi.NewHandler(service)
	handler.Jobs = worker

	mux := http.NewServeMux()
	mux.Handle("/api/v1/", handler)
	mux.Handle("/metrics", promhttp.HandlerFor(metrics.Registry(), promhttp.HandlerOpts{}))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	srv := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           mux,
		ReadHeaderTimeout: 15 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	go func() {
		logger.Info("server listening", zap.String("port", cfg.HTTPPort))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("serve", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown", zap.Error(err))
	}
	if err := worker.Stop(shutdownCtx); err != nil {
		logger.Warn("worker shutdown", zap.Error(err))
	}
}
