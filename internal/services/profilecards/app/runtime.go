// Package app wires the profile cards runtime: sqlite store, bulk apply
// scheduler, interaction controller, HTTP surface and gRPC health server.
package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	platformgrpc "github.com/louisbranch/profilecards/internal/platform/grpc"
	"github.com/louisbranch/profilecards/internal/platform/i18n/catalog"
	"github.com/louisbranch/profilecards/internal/platform/timeouts"
	"github.com/louisbranch/profilecards/internal/services/profilecards/storage/sqlite"
	"golang.org/x/net/netutil"
	"golang.org/x/sync/errgroup"
	gogrpc "google.golang.org/grpc"
)

// HealthService is the gRPC health service name reported by the runtime.
const HealthService = "profilecards.runtime"

const (
	defaultHTTPAddr          = ":8095"
	defaultPort              = 8096
	defaultDBPath            = "data/profilecards.db"
	defaultSlotSweepInterval = 5 * time.Minute
	defaultJobRetention      = time.Hour
)

// RuntimeConfig controls runtime startup.
type RuntimeConfig struct {
	HTTPAddr          string
	Port              int
	DBPath            string
	SeedPath          string
	SlotSweepInterval time.Duration
	Services          ServicesConfig
}

func (cfg RuntimeConfig) normalized() RuntimeConfig {
	if strings.TrimSpace(cfg.HTTPAddr) == "" {
		cfg.HTTPAddr = defaultHTTPAddr
	}
	if cfg.Port <= 0 {
		cfg.Port = defaultPort
	}
	if strings.TrimSpace(cfg.DBPath) == "" {
		cfg.DBPath = defaultDBPath
	}
	if cfg.SlotSweepInterval <= 0 {
		cfg.SlotSweepInterval = defaultSlotSweepInterval
	}
	return cfg
}

// Run opens the store, fails jobs a previous process left running, loads
// the optional seed and serves until ctx ends.
func Run(ctx context.Context, cfg RuntimeConfig) error {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg = cfg.normalized()

	if dir := filepath.Dir(cfg.DBPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create profilecards storage dir: %w", err)
		}
	}
	store, err := sqlite.Open(ctx, cfg.DBPath)
	if err != nil {
		return fmt.Errorf("open profilecards sqlite store: %w", err)
	}
	defer func() {
		if closeErr := store.Close(); closeErr != nil {
			log.Printf("close profilecards sqlite store: %v", closeErr)
		}
	}()

	alert := catalog.Default().Printer(cfg.Services.Locale).Sprintf("profilecards.alert.interrupted")
	interrupted, err := store.FailInterruptedJobs(ctx, alert, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("fail interrupted jobs: %w", err)
	}
	if interrupted > 0 {
		log.Printf("marked %d interrupted job(s) as failed", interrupted)
	}

	if strings.TrimSpace(cfg.SeedPath) != "" {
		if err := LoadSeedFile(ctx, store, cfg.SeedPath); err != nil {
			return err
		}
		log.Printf("loaded seed %s", cfg.SeedPath)
	}

	httpListener, err := net.Listen("tcp", cfg.HTTPAddr)
	if err != nil {
		return fmt.Errorf("listen on http addr %s: %w", cfg.HTTPAddr, err)
	}
	grpcListener, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.Port))
	if err != nil {
		_ = httpListener.Close()
		return fmt.Errorf("listen on health port %d: %w", cfg.Port, err)
	}

	services := NewServices(store, cfg.Services)
	return services.Serve(ctx, httpListener, grpcListener, cfg.SlotSweepInterval)
}

// Serve runs the HTTP surface, the gRPC health server and the slot sweeper
// until ctx ends, then drains requests and running jobs.
func (s *Services) Serve(ctx context.Context, httpListener, grpcListener net.Listener, sweepInterval time.Duration) error {
	if sweepInterval <= 0 {
		sweepInterval = defaultSlotSweepInterval
	}
	if s.maxConnections > 0 {
		httpListener = netutil.LimitListener(httpListener, s.maxConnections)
	}
	healthServer := platformgrpc.NewHealthServer(HealthService)
	httpServer := &http.Server{
		Handler:           s.HTTP.Handler(),
		ReadHeaderTimeout: timeouts.ReadHeader,
	}

	healthServer.SetServing(true)

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		if err := healthServer.Serve(grpcListener); err != nil && !errors.Is(err, gogrpc.ErrServerStopped) {
			return fmt.Errorf("serve health grpc: %w", err)
		}
		return nil
	})
	group.Go(func() error {
		if err := httpServer.Serve(httpListener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve http: %w", err)
		}
		return nil
	})
	group.Go(func() error {
		s.sweepLoop(groupCtx, sweepInterval)
		return nil
	})
	group.Go(func() error {
		<-groupCtx.Done()
		healthServer.SetServing(false)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), timeouts.Shutdown)
		defer cancel()
		shutdownErr := httpServer.Shutdown(shutdownCtx)
		healthServer.Stop()

		drainCtx, cancelDrain := context.WithTimeout(context.Background(), timeouts.JobDrain)
		defer cancelDrain()
		if err := s.Scheduler.Shutdown(drainCtx); err != nil {
			log.Printf("drain bulk apply jobs: %v", err)
		}
		if shutdownErr != nil {
			return fmt.Errorf("shutdown http: %w", shutdownErr)
		}
		return nil
	})

	log.Printf("profilecards listening at http %v, health %v", httpListener.Addr(), grpcListener.Addr())
	return group.Wait()
}
