package app

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/quaymark/shipsight/internal/platform/metrics"
	"github.com/quaymark/shipsight/internal/services/intelligence/api"
	"github.com/quaymark/shipsight/internal/services/intelligence/domain"
	"github.com/quaymark/shipsight/internal/services/intelligence/storage/sqlite"
)

// ServerConfig controls the HTTP API service.
type ServerConfig struct {
	Port          int
	DBPath        string
	MinSampleSize int
	OverdueDecay  float64
}

const (
	defaultServerPort = 8080
	defaultServerDB   = "data/intelligence.db"
)

// RunServer starts the intelligence HTTP API and serves until the context
// is canceled.
func RunServer(ctx context.Context, cfg ServerConfig) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if cfg.Port <= 0 {
		cfg.Port = defaultServerPort
	}
	if strings.TrimSpace(cfg.DBPath) == "" {
		cfg.DBPath = defaultServerDB
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

	policy := domain.DefaultPolicy()
	if cfg.OverdueDecay > 0 && cfg.OverdueDecay < 1 {
		policy.OverdueDecay = cfg.OverdueDecay
	}
	resolver := domain.NewResolver(store, cfg.MinSampleSize)
	estimator := domain.NewEstimator(store, resolver, policy)

	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery(), api.MetricsMiddleware())
	api.New(estimator, store, store, store, nil).Register(engine)

	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Port),
		Handler: engine,
	}
	serveErr := make(chan error, 1)
	go func() {
		serveErr <- server.ListenAndServe()
	}()
	log.Printf("intelligence server listening at %s", server.Addr)

	select {
	case err := <-serveErr:
		return fmt.Errorf("serve intelligence api: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown intelligence api: %w", err)
	}
	<-serveErr
	return nil
}
