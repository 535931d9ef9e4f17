package app

import (
	"context"
	"log"
	"time"

	"github.com/louisbranch/profilecards/internal/platform/telemetry/metrics"
	"github.com/louisbranch/profilecards/internal/services/profilecards/api/httpapi"
	"github.com/louisbranch/profilecards/internal/services/profilecards/interaction"
	"github.com/louisbranch/profilecards/internal/services/profilecards/job"
	"github.com/louisbranch/profilecards/internal/services/profilecards/mutate"
	"github.com/louisbranch/profilecards/internal/services/profilecards/query"
	"github.com/louisbranch/profilecards/internal/services/profilecards/security"
	"github.com/louisbranch/profilecards/internal/services/profilecards/storage/sqlite"
)

// ServicesConfig tunes the wired components.
type ServicesConfig struct {
	AttributeKey  string
	DialogURL     string
	SlotTTL       time.Duration
	IndexPageSize int
	RestoreAnchor bool
	Locale        string
	JobRetention  time.Duration
	// MaxConnections caps concurrent HTTP connections; zero means no cap.
	MaxConnections int
}

// Services is the profile cards component graph built around one store.
type Services struct {
	Store      *sqlite.Store
	Registry   *metrics.Registry
	Scheduler  *job.Scheduler
	Jobs       *job.Service
	Controller *interaction.Controller
	HTTP       *httpapi.Server

	jobRetention   time.Duration
	maxConnections int
}

// NewServices wires the query engine, security gate, mutator, job scheduler,
// interaction controller and HTTP surface onto store.
func NewServices(store *sqlite.Store, cfg ServicesConfig) *Services {
	registry := metrics.NewRegistry()
	jobMetrics := job.NewMetrics(registry)
	scheduler := job.NewScheduler(store, jobMetrics)
	gate := security.NewGate(store)
	jobs := job.NewService(
		scheduler,
		query.NewEngine(store, cfg.IndexPageSize),
		gate,
		mutate.NewMutator(store),
		jobMetrics,
	)
	controller := interaction.NewController(store, gate, store, jobs, interaction.Config{
		AttributeKey:  cfg.AttributeKey,
		DialogURL:     cfg.DialogURL,
		SlotTTL:       cfg.SlotTTL,
		RestoreAnchor: cfg.RestoreAnchor,
	})
	server := httpapi.NewServer(httpapi.Options{
		Command:       controller,
		Identities:    store,
		Jobs:          scheduler,
		Ledger:        store,
		Readiness:     store,
		Indexes:       store,
		Metrics:       registry.Handler(),
		DefaultLocale: cfg.Locale,
	})
	retention := cfg.JobRetention
	if retention <= 0 {
		retention = defaultJobRetention
	}
	return &Services{
		Store:          store,
		Registry:       registry,
		Scheduler:      scheduler,
		Jobs:           jobs,
		Controller:     controller,
		HTTP:           server,
		jobRetention:   retention,
		maxConnections: cfg.MaxConnections,
	}
}

// Sweep drops expired interaction slots and forgets finished jobs older
// than the retention window. Finished jobs stay readable from the ledger.
func (s *Services) Sweep(ctx context.Context, now time.Time) {
	removed, err := s.Controller.Sweep(ctx)
	if err != nil {
		log.Printf("sweep interaction slots: %v", err)
	} else if removed > 0 {
		log.Printf("swept %d expired interaction slot(s)", removed)
	}
	if pruned := s.Scheduler.Prune(now.Add(-s.jobRetention)); pruned > 0 {
		log.Printf("pruned %d finished job(s)", pruned)
	}
}

func (s *Services) sweepLoop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case tick := <-ticker.C:
			s.Sweep(ctx, tick)
		}
	}
}
