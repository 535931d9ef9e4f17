package job

import (
	"context"
	"fmt"

	"github.com/louisbranch/profilecards/internal/platform/i18n/catalog"
)

// Icon is shown next to bulk apply jobs in monitors.
const Icon = "Business/16x16/radar-chart.png"

// Service starts bulk apply jobs on a scheduler.
type Service struct {
	scheduler *Scheduler
	source    CandidateSource
	gate      WriteGate
	writer    AttributeWriter
	metrics   *Metrics
}

// NewService wires the job dependencies.
func NewService(scheduler *Scheduler, source CandidateSource, gate WriteGate, writer AttributeWriter, metrics *Metrics) *Service {
	return &Service{scheduler: scheduler, source: source, gate: gate, writer: writer, metrics: metrics}
}

// Start submits a bulk apply run and returns without waiting for it. Runs
// are serialized per anchor item.
func (s *Service) Start(ctx context.Context, args BulkApplyArgs) (*Handle, error) {
	if args.Anchor == nil {
		return nil, fmt.Errorf("anchor item is required")
	}
	printer := catalog.Default().Printer(args.Locale)
	spec := Spec{
		Name:        printer.Sprintf("profilecards.job.name"),
		Description: printer.Sprintf("profilecards.job.description"),
		Icon:        Icon,
		Key:         args.Anchor.Database + "/" + args.Anchor.ID,
		Principal:   args.Identity.Name,
	}
	bulk := NewBulkApplyJob(s.source, s.gate, s.writer, s.metrics, args)
	return s.scheduler.Submit(ctx, spec, bulk.Run)
}
