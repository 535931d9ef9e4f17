package sqlite

import (
	"context"
	"fmt"
	"maps"

	apperrors "github.com/louisbranch/profilecards/internal/platform/errors"
	"github.com/louisbranch/profilecards/internal/platform/requestctx"
	"github.com/louisbranch/profilecards/internal/services/profilecards/domain"
	"github.com/louisbranch/profilecards/internal/services/profilecards/mutate"
	"github.com/louisbranch/profilecards/internal/services/profilecards/query"
	"github.com/louisbranch/profilecards/internal/services/profilecards/security"
	"github.com/louisbranch/profilecards/internal/services/profilecards/storage"
)

var errRevisionConflict = apperrors.New(apperrors.CodeWriteFailed, "item was modified concurrently")

// BeginEdit opens an edit scope on item. Unless the context is elevated,
// the context principal must hold write access. Commits are rejected when
// the stored revision no longer matches item.Revision.
func (s *Store) BeginEdit(ctx context.Context, item *domain.Item) (mutate.Edit, error) {
	if item == nil {
		return nil, fmt.Errorf("item is required")
	}
	current, err := loadItem(ctx, s.sqlDB, item.Database, item.ID)
	if err != nil {
		return nil, err
	}
	if current.ReadOnly {
		return nil, apperrors.New(apperrors.CodePermissionDenied, "item is read-only")
	}
	if current.Revision != item.Revision {
		return nil, errRevisionConflict
	}
	if !security.IsElevated(ctx) {
		if principal := requestctx.PrincipalFromContext(ctx); principal != "" {
			actor, err := s.ResolveIdentity(ctx, principal)
			if err != nil {
				return nil, err
			}
			writable, err := s.allowed(ctx, actor, current.Database, current.IDPath, storage.RightWrite)
			if err != nil {
				return nil, err
			}
			if !writable {
				return nil, apperrors.New(apperrors.CodePermissionDenied, "no write access to item "+item.ID)
			}
		}
	}
	return &itemEdit{store: s, item: item, pending: map[string]string{}}, nil
}

type itemEdit struct {
	store   *Store
	item    *domain.Item
	pending map[string]string
	closed  bool
}

func (e *itemEdit) Set(key, value string) {
	e.pending[key] = value
}

// EndEdit writes the pending values in one transaction, bumps the revision
// and refreshes the index entry. Unchanged values commit nothing.
func (e *itemEdit) EndEdit(ctx context.Context) error {
	if e.closed {
		return fmt.Errorf("edit already closed")
	}
	s := e.store
	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		if isBusyError(err) {
			return apperrors.Wrap(apperrors.CodeWriteFailed, "store is busy", err)
		}
		return fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	current, err := loadItem(ctx, tx, e.item.Database, e.item.ID)
	if err != nil {
		return err
	}
	if current.Revision != e.item.Revision {
		return errRevisionConflict
	}
	changed := false
	for key, value := range e.pending {
		if current.Attributes[key] != value {
			changed = true
			break
		}
	}
	if !changed {
		e.closed = true
		return nil
	}

	now := s.clock()
	result, err := tx.ExecContext(ctx, `
UPDATE items SET revision = revision + 1, updated_at = ?
WHERE database_name = ? AND id = ? AND revision = ?
`, query.FormatTimestamp(now), current.Database, current.ID, current.Revision)
	if err != nil {
		return fmt.Errorf("update item: %w", err)
	}
	if affected, err := result.RowsAffected(); err != nil {
		return fmt.Errorf("rows affected: %w", err)
	} else if affected == 0 {
		return errRevisionConflict
	}
	for key, value := range e.pending {
		if _, err := tx.ExecContext(ctx, `
INSERT INTO item_fields (database_name, item_id, field_key, value) VALUES (?, ?, ?, ?)
ON CONFLICT(database_name, item_id, field_key) DO UPDATE SET value = excluded.value
`, current.Database, current.ID, key, value); err != nil {
			return fmt.Errorf("put field %s: %w", key, err)
		}
	}
	current.UpdatedAt = now
	if err := indexItem(ctx, tx, *current); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		if isBusyError(err) {
			return apperrors.Wrap(apperrors.CodeWriteFailed, "store is busy", err)
		}
		return fmt.Errorf("commit: %w", err)
	}

	e.closed = true
	e.item.Revision = current.Revision + 1
	e.item.UpdatedAt = now
	attrs := maps.Clone(current.Attributes)
	maps.Copy(attrs, e.pending)
	e.item.Attributes = attrs
	return nil
}

func (e *itemEdit) Cancel() error {
	e.closed = true
	e.pending = map[string]string{}
	return nil
}

var _ mutate.Editor = (*Store)(nil)
