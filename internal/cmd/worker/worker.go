// Package worker parses worker command flags and launches the worker runtime.
package worker

import (
	"context"
	"flag"
	"time"

	entrypoint "github.com/quaymark/shipsight/internal/platform/cmd"
	"github.com/quaymark/shipsight/internal/services/intelligence/app"
)

// Config holds worker command configuration.
type Config struct {
	Port            int           `env:"SHIPSIGHT_WORKER_PORT" envDefault:"8089"`
	MetricsPort     int           `env:"SHIPSIGHT_WORKER_METRICS_PORT" envDefault:"9090"`
	DBPath          string        `env:"SHIPSIGHT_WORKER_DB_PATH" envDefault:"data/intelligence.db"`
	SyncInterval    time.Duration `env:"SHIPSIGHT_WORKER_SYNC_INTERVAL" envDefault:"1h"`
	PageSize        int           `env:"SHIPSIGHT_WORKER_PAGE_SIZE" envDefault:"1000"`
	RefreshCensored bool          `env:"SHIPSIGHT_WORKER_REFRESH_CENSORED" envDefault:"true"`
}

// ParseConfig parses environment and flags into a Config.
func ParseConfig(fs *flag.FlagSet, args []string) (Config, error) {
	var cfg Config
	if err := entrypoint.ParseConfig(&cfg); err != nil {
		return Config{}, err
	}
	fs.IntVar(&cfg.Port, "port", cfg.Port, "The worker health gRPC server port")
	fs.IntVar(&cfg.MetricsPort, "metrics-port", cfg.MetricsPort, "The worker metrics HTTP port")
	fs.StringVar(&cfg.DBPath, "db-path", cfg.DBPath, "The intelligence SQLite database path")
	fs.DurationVar(&cfg.SyncInterval, "sync-interval", cfg.SyncInterval, "Interval between batch cycles")
	fs.IntVar(&cfg.PageSize, "page-size", cfg.PageSize, "Scan page size, capped at 1000")
	fs.BoolVar(&cfg.RefreshCensored, "refresh-censored", cfg.RefreshCensored, "Re-evaluate records still censored each cycle")
	if err := entrypoint.ParseArgs(fs, args); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Run starts the worker runtime.
func Run(ctx context.Context, cfg Config) error {
	return entrypoint.RunWithTelemetry(ctx, entrypoint.ServiceWorker, func(context.Context) error {
		return app.RunWorker(ctx, app.WorkerConfig{
			Port:            cfg.Port,
			MetricsPort:     cfg.MetricsPort,
			DBPath:          cfg.DBPath,
			SyncInterval:    cfg.SyncInterval,
			PageSize:        cfg.PageSize,
			RefreshCensored: cfg.RefreshCensored,
		})
	})
}
