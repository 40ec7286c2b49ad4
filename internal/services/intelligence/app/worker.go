// Package app boots the two intelligence processes: the HTTP API service
// and the periodic batch worker.
package app

import (
	"context"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	grpc_health_v1 "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/quaymark/shipsight/internal/platform/metrics"
	"github.com/quaymark/shipsight/internal/services/intelligence/batch"
	"github.com/quaymark/shipsight/internal/services/intelligence/storage/sqlite"
)

// WorkerConfig controls worker startup, dependencies, and loop behavior.
type WorkerConfig struct {
	Port            int
	MetricsPort     int
	DBPath          string
	SyncInterval    time.Duration
	PageSize        int
	RefreshCensored bool
}

const (
	defaultWorkerPort        = 8089
	defaultWorkerMetricsPort = 9090
	defaultWorkerDB          = "data/intelligence.db"
	defaultSyncInterval      = time.Hour
)

// RunWorker starts the batch worker: a gRPC health endpoint, a metrics
// listener, and the periodic refresh, sync, refit cycle.
func RunWorker(ctx context.Context, cfg WorkerConfig) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if cfg.Port <= 0 {
		cfg.Port = defaultWorkerPort
	}
	if cfg.MetricsPort <= 0 {
		cfg.MetricsPort = defaultWorkerMetricsPort
	}
	if strings.TrimSpace(cfg.DBPath) == "" {
		cfg.DBPath = defaultWorkerDB
	}
	if cfg.SyncInterval <= 0 {
		cfg.SyncInterval = defaultSyncInterval
	}

	if dir := filepath.Dir(cfg.DBPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create intelligence storage dir: %w", err)
		}
	}

	store, err := sqlite.Open(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("open intelligence sqlite store: %w", err)
	}
	defer func() {
		if closeErr := store.Close(); closeErr != nil {
			log.Printf("close intelligence sqlite store: %v", closeErr)
		}
	}()

	metrics.Register()

	pipeline := &batch.Pipeline{
		Sync:  batch.NewSyncJob(store, store, store, cfg.PageSize, nil),
		Refit: batch.NewRefitJob(store, store, cfg.PageSize, nil),
	}
	if cfg.RefreshCensored {
		pipeline.Refresh = batch.NewRefreshJob(store, store, store, cfg.PageSize, nil)
	}

	listener, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.Port))
	if err != nil {
		return fmt.Errorf("listen on worker port %d: %w", cfg.Port, err)
	}
	defer listener.Close()

	grpcServer := grpc.NewServer(grpc.StatsHandler(otelgrpc.NewServerHandler()))
	healthServer := health.NewServer()
	grpc_health_v1.RegisterHealthServer(grpcServer, healthServer)
	healthServer.SetServingStatus("", grpc_health_v1.HealthCheckResponse_SERVING)
	healthServer.SetServingStatus("intelligence.worker", grpc_health_v1.HealthCheckResponse_SERVING)

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- grpcServer.Serve(listener)
	}()
	defer func() {
		healthServer.Shutdown()
		grpcServer.GracefulStop()
		<-serveErr
	}()

	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", promhttp.Handler())
	metricsServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.MetricsPort),
		Handler: metricsMux,
	}
	go func() {
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("worker metrics listener: %v", err)
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = metricsServer.Shutdown(shutdownCtx)
	}()

	log.Printf("worker health server listening at %v", listener.Addr())
	return runLoop(ctx, cfg.SyncInterval, pipeline)
}

// cycleRunner is one worker cycle; satisfied by batch.Pipeline.
type cycleRunner interface {
	Run(ctx context.Context) error
}

// runLoop executes one cycle immediately and then one per interval until
// the context is canceled. A failed cycle is logged and retried on the next
// tick rather than stopping the worker.
func runLoop(ctx context.Context, interval time.Duration, cycle cycleRunner) error {
	if err := cycle.Run(ctx); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		log.Printf("worker cycle: %v", err)
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := cycle.Run(ctx); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				log.Printf("worker cycle: %v", err)
			}
		}
	}
}
