package job

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"sync/atomic"

	apperrors "github.com/louisbranch/profilecards/internal/platform/errors"
	"github.com/louisbranch/profilecards/internal/platform/i18n/catalog"
	platformotel "github.com/louisbranch/profilecards/internal/platform/otel"
	"github.com/louisbranch/profilecards/internal/platform/requestctx"
	"github.com/louisbranch/profilecards/internal/services/profilecards/domain"
	"github.com/louisbranch/profilecards/internal/services/profilecards/query"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/text/message"
)

// CandidateSource resolves search definitions into candidates.
type CandidateSource interface {
	Resolve(ctx context.Context, def query.Definition, anchor *domain.Item) iter.Seq2[query.Candidate, error]
}

// WriteGate decides whether the acting identity may write a candidate.
type WriteGate interface {
	CanWrite(ctx context.Context, item *domain.Item, identity domain.Identity) bool
}

// AttributeWriter applies one attribute edit.
type AttributeWriter interface {
	SetAttribute(ctx context.Context, item *domain.Item, key, value string) error
}

// BulkApplyArgs is everything one run needs, captured when it is dispatched.
type BulkApplyArgs struct {
	Anchor       *domain.Item
	SearchString string
	AttributeKey string
	// Value is propagated to every candidate. It is fixed for the run.
	Value string
	// Restore, when set, is written back onto the anchor before candidates
	// are processed.
	Restore  *string
	Identity domain.Identity
	Locale   string
}

// Summary counts candidate outcomes for one run.
type Summary struct {
	Applied int
	Skipped int
	Failed  int
}

// BulkApplyJob propagates one attribute value to the candidates of a saved
// search. A job value runs at most once.
type BulkApplyJob struct {
	source  CandidateSource
	gate    WriteGate
	writer  AttributeWriter
	metrics *Metrics
	args    BulkApplyArgs
	printer *message.Printer

	used    atomic.Bool
	summary Summary
}

// NewBulkApplyJob builds a single-use job.
func NewBulkApplyJob(source CandidateSource, gate WriteGate, writer AttributeWriter, metrics *Metrics, args BulkApplyArgs) *BulkApplyJob {
	if args.AttributeKey == "" {
		args.AttributeKey = domain.DefaultAttributeKey
	}
	args.Identity = args.Identity.Clone()
	return &BulkApplyJob{
		source:  source,
		gate:    gate,
		writer:  writer,
		metrics: metrics,
		args:    args,
		printer: catalog.Default().Printer(args.Locale),
	}
}

// Summary returns the outcome counts. It is only meaningful after Run.
func (j *BulkApplyJob) Summary() Summary {
	return j.summary
}

// Run is the job's WorkFunc.
//
// Candidates failing the write gate or no longer resolvable are skipped
// without a progress line. Write failures are logged to the sink and the run
// continues. Cancellation is observed before each candidate; a started
// mutation always completes.
func (j *BulkApplyJob) Run(ctx context.Context, sink Sink) (err error) {
	if !j.used.CompareAndSwap(false, true) {
		return fmt.Errorf("bulk apply job already ran")
	}
	anchor := j.args.Anchor
	if anchor == nil {
		return j.fail(sink, apperrors.New(apperrors.CodeResolutionFailed, "anchor item is required"))
	}

	ctx = requestctx.WithPrincipal(ctx, j.args.Identity.Name)
	ctx, span := platformotel.Tracer("services/profilecards/job").Start(ctx, "job.BulkApply")
	span.SetAttributes(
		attribute.String("profilecards.anchor_id", anchor.ID),
		attribute.String("profilecards.database", anchor.Database),
	)
	defer func() {
		span.SetAttributes(
			attribute.Int("profilecards.applied", j.summary.Applied),
			attribute.Int("profilecards.skipped", j.summary.Skipped),
			attribute.Int("profilecards.failed", j.summary.Failed),
		)
		if err != nil && !errors.Is(err, context.Canceled) {
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	def, err := query.Parse(j.args.SearchString)
	if err != nil {
		return j.fail(sink, err)
	}

	// Mutations and index reads never observe cancellation directly.
	steady := context.WithoutCancel(ctx)

	if ctx.Err() != nil {
		return j.cancelled(ctx, sink)
	}
	if j.args.Restore != nil {
		if err := j.writer.SetAttribute(steady, anchor, j.args.AttributeKey, *j.args.Restore); err != nil {
			sink.AppendMessage(j.printer.Sprintf("profilecards.progress.write_failed", anchor.Path, apperrors.UserMessage(err, j.args.Locale)))
		} else {
			sink.AppendMessage(j.printer.Sprintf("profilecards.progress.anchor_restored", anchor.Path))
		}
	}

	for candidate, err := range j.source.Resolve(steady, def, anchor) {
		if err != nil {
			return j.fail(sink, err)
		}
		if ctx.Err() != nil {
			return j.cancelled(ctx, sink)
		}
		j.process(steady, sink, candidate)
	}
	if ctx.Err() != nil {
		return j.cancelled(ctx, sink)
	}

	sink.AppendMessage(j.printer.Sprintf("profilecards.progress.summary", j.summary.Applied, j.summary.Skipped, j.summary.Failed))
	sink.SetAlert(j.printer.Sprintf("profilecards.alert.finished"))
	return nil
}

func (j *BulkApplyJob) process(ctx context.Context, sink Sink, candidate query.Candidate) {
	if !candidate.Resolvable() || !j.gate.CanWrite(ctx, candidate.Item, j.args.Identity) {
		j.summary.Skipped++
		j.metrics.candidate(outcomeSkipped)
		return
	}
	item := candidate.Item
	sink.AppendMessage(j.printer.Sprintf("profilecards.progress.applying", item.Path))
	if err := j.writer.SetAttribute(ctx, item, j.args.AttributeKey, j.args.Value); err != nil {
		j.summary.Failed++
		j.metrics.candidate(outcomeFailed)
		sink.AppendMessage(j.printer.Sprintf("profilecards.progress.write_failed", item.Path, apperrors.UserMessage(err, j.args.Locale)))
		return
	}
	j.summary.Applied++
	j.metrics.candidate(outcomeApplied)
}

func (j *BulkApplyJob) cancelled(ctx context.Context, sink Sink) error {
	sink.AppendMessage(j.printer.Sprintf("profilecards.progress.cancelled", j.summary.Applied))
	return ctx.Err()
}

func (j *BulkApplyJob) fail(sink Sink, err error) error {
	sink.SetAlert(j.printer.Sprintf("profilecards.progress.failed", apperrors.UserMessage(err, j.args.Locale)))
	return err
}
