package profilecards

import (
	"context"
	"flag"
	"net"
	"testing"
	"time"

	platformgrpc "github.com/louisbranch/profilecards/internal/platform/grpc"
	profilecardsapp "github.com/louisbranch/profilecards/internal/services/profilecards/app"
)

func TestParseConfig_ParsesDefaultsAndFlags(t *testing.T) {
	fs := flag.NewFlagSet("profilecards", flag.ContinueOnError)
	t.Setenv("PROFILECARDS_PORT", "9096")
	t.Setenv("PROFILECARDS_SLOT_TTL", "10m")
	t.Setenv("PROFILECARDS_RESTORE_ANCHOR", "false")

	cfg, err := ParseConfig(fs, []string{"-db-path", "/tmp/cards.db", "-index-page-size", "25"})
	if err != nil {
		t.Fatalf("parse config: %v", err)
	}
	if cfg.Port != 9096 {
		t.Fatalf("port = %d, want 9096", cfg.Port)
	}
	if cfg.SlotTTL != 10*time.Minute {
		t.Fatalf("slot ttl = %v, want 10m", cfg.SlotTTL)
	}
	if cfg.RestoreAnchor {
		t.Fatal("restore anchor = true, want false")
	}
	if cfg.DBPath != "/tmp/cards.db" {
		t.Fatalf("db path = %q", cfg.DBPath)
	}
	if cfg.IndexPageSize != 25 {
		t.Fatalf("index page size = %d, want 25", cfg.IndexPageSize)
	}
}

func TestParseConfig_Defaults(t *testing.T) {
	fs := flag.NewFlagSet("profilecards", flag.ContinueOnError)

	cfg, err := ParseConfig(fs, nil)
	if err != nil {
		t.Fatalf("parse config: %v", err)
	}
	if cfg.HTTPAddr != ":8095" || cfg.Port != 8096 || cfg.MaxConnections != 256 {
		t.Fatalf("addrs = %q %d", cfg.HTTPAddr, cfg.Port)
	}
	if cfg.AttributeKey != "__Tracking" || cfg.Locale != "en-US" || !cfg.RestoreAnchor {
		t.Fatalf("cfg = %+v", cfg)
	}
	if cfg.SlotSweepInterval != 5*time.Minute || cfg.JobRetention != time.Hour {
		t.Fatalf("intervals = %v %v", cfg.SlotSweepInterval, cfg.JobRetention)
	}
}

func TestParseConfig_RejectsBadEnv(t *testing.T) {
	fs := flag.NewFlagSet("profilecards", flag.ContinueOnError)
	t.Setenv("PROFILECARDS_SLOT_TTL", "forever")

	if _, err := ParseConfig(fs, nil); err == nil {
		t.Fatal("expected env parse error")
	}
}

func TestParseConfig_HealthCheckFlag(t *testing.T) {
	fs := flag.NewFlagSet("profilecards", flag.ContinueOnError)

	cfg, err := ParseConfig(fs, []string{"-healthcheck"})
	if err != nil {
		t.Fatalf("parse config: %v", err)
	}
	if !cfg.HealthCheck {
		t.Fatal("health check flag not set")
	}
}

func TestHealthcheck(t *testing.T) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	server := platformgrpc.NewHealthServer(profilecardsapp.HealthService)
	go func() { _ = server.Serve(listener) }()
	t.Cleanup(server.Stop)

	cfg := Config{Port: listener.Addr().(*net.TCPAddr).Port}
	ctx := context.Background()
	if err := Healthcheck(ctx, cfg); err == nil {
		t.Fatal("expected error before serving")
	}
	server.SetServing(true)
	if err := Healthcheck(ctx, cfg); err != nil {
		t.Fatalf("healthcheck: %v", err)
	}
}
