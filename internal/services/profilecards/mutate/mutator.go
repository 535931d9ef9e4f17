// Package mutate applies single-attribute edits to items inside a scoped
// edit transaction.
package mutate

import (
	"context"
	"fmt"

	apperrors "github.com/louisbranch/profilecards/internal/platform/errors"
	"github.com/louisbranch/profilecards/internal/services/profilecards/domain"
)

// Edit is an open edit scope on one item. Nothing set on it is visible
// until EndEdit succeeds.
type Edit interface {
	Set(key, value string)
	// EndEdit commits the scope. It is a no-op when no value changed.
	EndEdit(ctx context.Context) error
	// Cancel discards the scope. It is safe after EndEdit.
	Cancel() error
}

// Editor opens edit scopes.
type Editor interface {
	BeginEdit(ctx context.Context, item *domain.Item) (Edit, error)
}

// Mutator sets attributes through an Editor.
type Mutator struct {
	editor Editor
}

// NewMutator builds a mutator over editor.
func NewMutator(editor Editor) *Mutator {
	return &Mutator{editor: editor}
}

// SetAttribute writes value into item's key attribute as one all-or-nothing
// edit. Any failure, including a panic inside the scope, rolls the edit back
// and is reported as WRITE_FAILED carrying the item ID.
func (m *Mutator) SetAttribute(ctx context.Context, item *domain.Item, key, value string) (err error) {
	if item == nil {
		return apperrors.New(apperrors.CodeWriteFailed, "item is required")
	}
	if key == "" {
		return writeFailed(item, apperrors.WithMetadata(apperrors.CodeInvalidParameters, "attribute key is required", map[string]string{"field": "key"}))
	}
	if item.ReadOnly {
		return writeFailed(item, apperrors.New(apperrors.CodePermissionDenied, "item is read-only"))
	}
	if m == nil || m.editor == nil {
		return writeFailed(item, fmt.Errorf("editor is not configured"))
	}

	edit, err := m.editor.BeginEdit(ctx, item)
	if err != nil {
		return writeFailed(item, fmt.Errorf("begin edit: %w", err))
	}
	committed := false
	defer func() {
		if recovered := recover(); recovered != nil {
			err = writeFailed(item, fmt.Errorf("edit panicked: %v", recovered))
		}
		if !committed {
			_ = edit.Cancel()
		}
	}()

	edit.Set(key, value)
	if err := edit.EndEdit(ctx); err != nil {
		return writeFailed(item, fmt.Errorf("end edit: %w", err))
	}
	committed = true
	return nil
}

func writeFailed(item *domain.Item, cause error) error {
	return apperrors.WrapWithMetadata(apperrors.CodeWriteFailed, "write item "+item.ID, map[string]string{"item_id": item.ID}, cause)
}
