// Package query turns persisted search definitions into candidate items for
// a bulk apply run.
package query

import (
	"fmt"
	"strings"
	"time"

	apperrors "github.com/louisbranch/profilecards/internal/platform/errors"
	"go.einride.tech/aip/filtering"
	expr "google.golang.org/genproto/googleapis/api/expr/v1alpha1"
)

// TimestampLayout is the fixed-width UTC layout the index stores "updated"
// in, so timestamps compare correctly as text.
const TimestampLayout = "2006-01-02T15:04:05.000000000Z"

// Definition is a parsed, type-checked search definition. The zero value
// matches every item in scope.
type Definition struct {
	raw  string
	expr *expr.Expr
}

// Raw returns the serialized form the definition was parsed from.
func (d Definition) Raw() string {
	return d.raw
}

// MatchesAll reports whether the definition has no clauses.
func (d Definition) MatchesAll() bool {
	return d.expr == nil
}

// Declarations returns the index fields a definition may reference.
func Declarations() (*filtering.Declarations, error) {
	return filtering.NewDeclarations(
		filtering.DeclareStandardFunctions(),
		filtering.DeclareIdent("name", filtering.TypeString),
		filtering.DeclareIdent("template", filtering.TypeString),
		filtering.DeclareIdent("language", filtering.TypeString),
		filtering.DeclareIdent("path", filtering.TypeString),
		filtering.DeclareIdent("version", filtering.TypeInt),
		filtering.DeclareIdent("updated", filtering.TypeTimestamp),
	)
}

// Parse parses a serialized AIP-160 search definition. Failures carry
// CodeMalformedQuery.
func Parse(raw string) (Definition, error) {
	if strings.TrimSpace(raw) == "" {
		return Definition{raw: raw}, nil
	}
	decls, err := Declarations()
	if err != nil {
		return Definition{}, fmt.Errorf("create declarations: %w", err)
	}
	filter, err := filtering.ParseFilterString(raw, decls)
	if err != nil {
		return Definition{}, apperrors.Wrap(apperrors.CodeMalformedQuery, "parse search definition", err)
	}
	def := Definition{raw: raw, expr: filter.CheckedExpr.GetExpr()}
	// Translate eagerly so unsupported constructs fail before a job starts.
	if _, err := def.SQL(); err != nil {
		return Definition{}, err
	}
	return def, nil
}

// FormatTimestamp renders t in the index's comparable layout.
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(TimestampLayout)
}
