// Package profilecards parses profile cards command flags and launches the
// runtime.
package profilecards

import (
	"context"
	"flag"
	"fmt"
	"net"
	"strconv"
	"time"

	entrypoint "github.com/louisbranch/profilecards/internal/platform/cmd"
	platformgrpc "github.com/louisbranch/profilecards/internal/platform/grpc"
	profilecardsapp "github.com/louisbranch/profilecards/internal/services/profilecards/app"
	grpc_health_v1 "google.golang.org/grpc/health/grpc_health_v1"
)

// Config holds profile cards command configuration. Variables carry the
// PROFILECARDS_ prefix.
type Config struct {
	HTTPAddr          string        `env:"HTTP_ADDR" envDefault:":8095"`
	MaxConnections    int           `env:"HTTP_MAX_CONNECTIONS" envDefault:"256"`
	Port              int           `env:"PORT" envDefault:"8096"`
	DBPath            string        `env:"DB_PATH" envDefault:"data/profilecards.db"`
	SeedPath          string        `env:"SEED_PATH"`
	AttributeKey      string        `env:"ATTRIBUTE_KEY" envDefault:"__Tracking"`
	DialogURL         string        `env:"DIALOG_URL" envDefault:"/shell/xaml/profile-cards-form"`
	SlotTTL           time.Duration `env:"SLOT_TTL" envDefault:"30m"`
	SlotSweepInterval time.Duration `env:"SLOT_SWEEP_INTERVAL" envDefault:"5m"`
	JobRetention      time.Duration `env:"JOB_RETENTION" envDefault:"1h"`
	IndexPageSize     int           `env:"INDEX_PAGE_SIZE" envDefault:"100"`
	RestoreAnchor     bool          `env:"RESTORE_ANCHOR" envDefault:"true"`
	Locale            string        `env:"LOCALE" envDefault:"en-US"`

	// HealthCheck asks a running instance for its health and exits.
	HealthCheck bool
}

// ParseConfig parses environment and flags into a Config.
func ParseConfig(fs *flag.FlagSet, args []string) (Config, error) {
	var cfg Config
	if err := entrypoint.ParseConfig(&cfg); err != nil {
		return Config{}, err
	}
	fs.StringVar(&cfg.HTTPAddr, "http-addr", cfg.HTTPAddr, "The HTTP listen address")
	fs.IntVar(&cfg.MaxConnections, "http-max-connections", cfg.MaxConnections, "Maximum concurrent HTTP connections")
	fs.IntVar(&cfg.Port, "port", cfg.Port, "The health gRPC server port")
	fs.StringVar(&cfg.DBPath, "db-path", cfg.DBPath, "The profile cards SQLite database path")
	fs.StringVar(&cfg.SeedPath, "seed", cfg.SeedPath, "Optional YAML content tree seed to load at startup")
	fs.StringVar(&cfg.AttributeKey, "attribute-key", cfg.AttributeKey, "Attribute holding the profile card value")
	fs.StringVar(&cfg.DialogURL, "dialog-url", cfg.DialogURL, "Profile cards edit dialog URL")
	fs.DurationVar(&cfg.SlotTTL, "slot-ttl", cfg.SlotTTL, "How long a suspended interaction may wait for resume")
	fs.DurationVar(&cfg.SlotSweepInterval, "slot-sweep-interval", cfg.SlotSweepInterval, "Expired interaction sweep interval")
	fs.DurationVar(&cfg.JobRetention, "job-retention", cfg.JobRetention, "How long finished jobs stay in memory")
	fs.IntVar(&cfg.IndexPageSize, "index-page-size", cfg.IndexPageSize, "Search index page size")
	fs.BoolVar(&cfg.RestoreAnchor, "restore-anchor", cfg.RestoreAnchor, "Restore the anchor's pre-edit value before propagating")
	fs.StringVar(&cfg.Locale, "locale", cfg.Locale, "Default locale for progress messages")
	fs.BoolVar(&cfg.HealthCheck, "healthcheck", false, "Check the health of a running instance on -port and exit")
	if err := entrypoint.ParseArgs(fs, args); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Run starts the profile cards runtime.
func Run(ctx context.Context, cfg Config) error {
	return entrypoint.RunWithTelemetry(ctx, entrypoint.ServiceProfileCards, func(context.Context) error {
		return profilecardsapp.Run(ctx, profilecardsapp.RuntimeConfig{
			HTTPAddr:          cfg.HTTPAddr,
			Port:              cfg.Port,
			DBPath:            cfg.DBPath,
			SeedPath:          cfg.SeedPath,
			SlotSweepInterval: cfg.SlotSweepInterval,
			Services: profilecardsapp.ServicesConfig{
				AttributeKey:   cfg.AttributeKey,
				DialogURL:      cfg.DialogURL,
				SlotTTL:        cfg.SlotTTL,
				IndexPageSize:  cfg.IndexPageSize,
				RestoreAnchor:  cfg.RestoreAnchor,
				Locale:         cfg.Locale,
				JobRetention:   cfg.JobRetention,
				MaxConnections: cfg.MaxConnections,
			},
		})
	})
}

// Healthcheck reports an error unless the instance listening on cfg.Port
// reports the runtime as serving.
func Healthcheck(ctx context.Context, cfg Config) error {
	addr := net.JoinHostPort("127.0.0.1", strconv.Itoa(cfg.Port))
	status, err := platformgrpc.CheckHealth(ctx, addr, profilecardsapp.HealthService)
	if err != nil {
		return err
	}
	if status != grpc_health_v1.HealthCheckResponse_SERVING {
		return fmt.Errorf("%s at %s is %s", profilecardsapp.HealthService, addr, status)
	}
	return nil
}
