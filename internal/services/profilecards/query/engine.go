package query

import (
	"context"
	"errors"
	"iter"

	apperrors "github.com/louisbranch/profilecards/internal/platform/errors"
	platformotel "github.com/louisbranch/profilecards/internal/platform/otel"
	"github.com/louisbranch/profilecards/internal/services/profilecards/domain"
	"go.opentelemetry.io/otel/attribute"
)

// DefaultPageSize is the number of index rows read per round trip.
const DefaultPageSize = 100

// Cursor is the keyset position after the last row read. The zero value
// starts from the beginning.
type Cursor struct {
	Path   string
	ItemID string
}

// ResultItem is one row of the search index.
type ResultItem interface {
	ItemID() string
	Path() string
	// IDPath is the item's ID chain as recorded when it was indexed.
	IDPath() string
	// Resolve loads the concrete item. It returns nil when the item no
	// longer exists.
	Resolve(ctx context.Context) (*domain.Item, error)
}

// SearchContext executes conditions against one index, ordered by path.
type SearchContext interface {
	Execute(ctx context.Context, cond SQLCondition, after Cursor, limit int) ([]ResultItem, error)
}

// Indexes locates the search index that covers an item.
type Indexes interface {
	GetIndex(ctx context.Context, item *domain.Item) (SearchContext, error)
}

// Candidate is an item proposed for mutation. Item is nil when the index
// referenced an item that could no longer be resolved.
type Candidate struct {
	ItemID string
	Path   string
	Item   *domain.Item
	Err    error
}

// Resolvable reports whether the candidate was materialized.
func (c Candidate) Resolvable() bool {
	return c.Item != nil
}

// Engine resolves search definitions into candidates under an anchor.
type Engine struct {
	indexes  Indexes
	pageSize int
}

// NewEngine builds an engine over the given indexes.
func NewEngine(indexes Indexes, pageSize int) *Engine {
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	return &Engine{indexes: indexes, pageSize: pageSize}
}

// Resolve streams the items matched by def that are the anchor or sit below it.
//
// The sequence is lazy and single-use. Index failures are yielded once as an
// INDEX_UNAVAILABLE error, after which the sequence ends. Rows whose item no
// longer resolves are yielded as candidates with a nil Item.
func (e *Engine) Resolve(ctx context.Context, def Definition, anchor *domain.Item) iter.Seq2[Candidate, error] {
	return func(yield func(Candidate, error) bool) {
		if anchor == nil {
			yield(Candidate{}, apperrors.New(apperrors.CodeResolutionFailed, "anchor item is required"))
			return
		}
		ctx, span := platformotel.Tracer("services/profilecards/query").Start(ctx, "query.Resolve")
		defer span.End()
		span.SetAttributes(
			attribute.String("profilecards.anchor_id", anchor.ID),
			attribute.Bool("profilecards.match_all", def.MatchesAll()),
		)

		cond, err := def.SQL()
		if err != nil {
			yield(Candidate{}, err)
			return
		}
		if e == nil || e.indexes == nil {
			yield(Candidate{}, apperrors.New(apperrors.CodeIndexUnavailable, "search index is not configured"))
			return
		}
		search, err := e.indexes.GetIndex(ctx, anchor)
		if err != nil {
			yield(Candidate{}, indexUnavailable("open search index", err))
			return
		}

		var after Cursor
		for {
			rows, err := search.Execute(ctx, cond, after, e.pageSize)
			if err != nil {
				yield(Candidate{}, indexUnavailable("execute search", err))
				return
			}
			for _, row := range rows {
				after = Cursor{Path: row.Path(), ItemID: row.ItemID()}
				if !domain.ContainedUnder(row.IDPath(), anchor.ID) {
					continue
				}
				candidate, ok := materialize(ctx, row, anchor.ID)
				if !ok {
					continue
				}
				if !yield(candidate, nil) {
					return
				}
			}
			if len(rows) < e.pageSize {
				return
			}
		}
	}
}

// materialize resolves a row. It reports false when the item resolved but
// has moved out from under the anchor since it was indexed.
func materialize(ctx context.Context, row ResultItem, anchorID string) (Candidate, bool) {
	candidate := Candidate{ItemID: row.ItemID(), Path: row.Path()}
	item, err := row.Resolve(ctx)
	if err != nil {
		candidate.Err = apperrors.WrapWithMetadata(apperrors.CodeResolutionFailed, "resolve candidate",
			map[string]string{"item_id": row.ItemID()}, err)
		return candidate, true
	}
	if item == nil {
		candidate.Err = apperrors.WithMetadata(apperrors.CodeResolutionFailed, "candidate no longer exists",
			map[string]string{"item_id": row.ItemID()})
		return candidate, true
	}
	if !domain.ContainedUnder(item.IDPath, anchorID) {
		return Candidate{}, false
	}
	candidate.Item = item
	candidate.Path = item.Path
	return candidate, true
}

func indexUnavailable(message string, err error) error {
	var coded *apperrors.Error
	if errors.As(err, &coded) && coded.Code == apperrors.CodeIndexUnavailable {
		return err
	}
	return apperrors.Wrap(apperrors.CodeIndexUnavailable, message, err)
}
