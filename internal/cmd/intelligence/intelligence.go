// Package intelligence parses intelligence service flags and launches the
// HTTP API service.
package intelligence

import (
	"context"
	"flag"

	entrypoint "github.com/quaymark/shipsight/internal/platform/cmd"
	"github.com/quaymark/shipsight/internal/services/intelligence/app"
)

// Config holds intelligence command configuration.
type Config struct {
	Port          int     `env:"SHIPSIGHT_INTELLIGENCE_PORT" envDefault:"8080"`
	DBPath        string  `env:"SHIPSIGHT_INTELLIGENCE_DB_PATH" envDefault:"data/intelligence.db"`
	MinSampleSize int     `env:"SHIPSIGHT_INTELLIGENCE_MIN_SAMPLE_SIZE" envDefault:"100"`
	OverdueDecay  float64 `env:"SHIPSIGHT_INTELLIGENCE_OVERDUE_DECAY" envDefault:"0.7"`
}

// ParseConfig parses environment and flags into Config.
func ParseConfig(fs *flag.FlagSet, args []string) (Config, error) {
	var cfg Config
	if err := entrypoint.ParseConfig(&cfg); err != nil {
		return Config{}, err
	}
	fs.IntVar(&cfg.Port, "port", cfg.Port, "The intelligence HTTP server port")
	fs.StringVar(&cfg.DBPath, "db-path", cfg.DBPath, "The intelligence SQLite database path")
	fs.IntVar(&cfg.MinSampleSize, "min-sample-size", cfg.MinSampleSize, "Minimum curve sample size the resolver trusts")
	fs.Float64Var(&cfg.OverdueDecay, "overdue-decay", cfg.OverdueDecay, "Probability decay per overdue P95 interval")
	if err := entrypoint.ParseArgs(fs, args); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Run starts the intelligence HTTP API service.
func Run(ctx context.Context, cfg Config) error {
	return entrypoint.RunWithTelemetry(ctx, entrypoint.ServiceIntelligence, func(context.Context) error {
		return app.RunServer(ctx, app.ServerConfig{
			Port:          cfg.Port,
			DBPath:        cfg.DBPath,
			MinSampleSize: cfg.MinSampleSize,
			OverdueDecay:  cfg.OverdueDecay,
		})
	})
}
