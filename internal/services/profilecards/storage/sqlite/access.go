package sqlite

import (
	"context"
	"fmt"
	"strings"

	apperrors "github.com/louisbranch/profilecards/internal/platform/errors"
	"github.com/louisbranch/profilecards/internal/platform/requestctx"
	"github.com/louisbranch/profilecards/internal/services/profilecards/domain"
	"github.com/louisbranch/profilecards/internal/services/profilecards/security"
	"github.com/louisbranch/profilecards/internal/services/profilecards/storage"
)

// errRestricted is returned when a non-elevated caller asks about an item
// it cannot see.
var errRestricted = apperrors.New(apperrors.CodePermissionDenied, "item is hidden by read restrictions")

// SetAccess replaces the access entries declared directly on an item.
func (s *Store) SetAccess(ctx context.Context, database, itemID string, entries []storage.AccessEntry) error {
	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM item_access WHERE database_name = ? AND item_id = ?`, database, itemID,
	); err != nil {
		return fmt.Errorf("clear access: %w", err)
	}
	for _, entry := range entries {
		principal := strings.TrimSpace(entry.Principal)
		if principal == "" {
			return fmt.Errorf("access principal is required")
		}
		if entry.Right != storage.RightRead && entry.Right != storage.RightWrite {
			return fmt.Errorf("unknown access right %q", entry.Right)
		}
		_, err := tx.ExecContext(ctx, `
INSERT INTO item_access (database_name, item_id, principal, access_right, allow)
VALUES (?, ?, ?, ?, ?)
ON CONFLICT(database_name, item_id, principal, access_right) DO UPDATE SET allow = excluded.allow
`, database, itemID, principal, entry.Right, boolToInt(entry.Allow))
		if isConstraintError(err) {
			return fmt.Errorf("item %s: %w", itemID, storage.ErrNotFound)
		}
		if err != nil {
			return fmt.Errorf("put access: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// CanWrite reports whether identity may write item. Read-only items are
// never writable. Without elevation, the context principal must itself be
// able to read the item or the check fails with PERMISSION_DENIED.
func (s *Store) CanWrite(ctx context.Context, identity domain.Identity, item *domain.Item) (bool, error) {
	if item == nil {
		return false, nil
	}
	current, err := loadItem(ctx, s.sqlDB, item.Database, item.ID)
	if err != nil {
		return false, err
	}
	if !security.IsElevated(ctx) {
		if err := s.checkVisible(ctx, current); err != nil {
			return false, err
		}
	}
	if current.ReadOnly {
		return false, nil
	}
	return s.allowed(ctx, identity, current.Database, current.IDPath, storage.RightWrite)
}

// checkVisible fails when the context principal cannot read item.
func (s *Store) checkVisible(ctx context.Context, item *domain.Item) error {
	principal := requestctx.PrincipalFromContext(ctx)
	if principal == "" {
		return nil
	}
	viewer, err := s.ResolveIdentity(ctx, principal)
	if err != nil {
		return err
	}
	readable, err := s.allowed(ctx, viewer, item.Database, item.IDPath, storage.RightRead)
	if err != nil {
		return err
	}
	if !readable {
		return errRestricted
	}
	return nil
}

// allowed resolves one right for identity on the item at idPath. Entries are
// inherited from ancestors; the nearest level with a matching entry decides,
// and a deny beats an allow on the same level. With no entry, read is
// allowed and write is denied. Administrators hold every right.
func (s *Store) allowed(ctx context.Context, identity domain.Identity, database, idPath, right string) (bool, error) {
	if identity.Administrator {
		return true, nil
	}
	chain := domain.SplitIDPath(idPath)
	if len(chain) == 0 {
		return false, fmt.Errorf("item path is empty")
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(chain)), ", ")
	args := make([]any, 0, len(chain)+2)
	args = append(args, database, right)
	for _, id := range chain {
		args = append(args, id)
	}
	rows, err := s.sqlDB.QueryContext(ctx, `
SELECT item_id, principal, allow FROM item_access
WHERE database_name = ? AND access_right = ? AND item_id IN (`+placeholders+`)
`, args...)
	if err != nil {
		return false, fmt.Errorf("load access: %w", err)
	}
	defer rows.Close()

	type verdict struct{ allow, deny bool }
	levels := map[string]*verdict{}
	for rows.Next() {
		var itemID, principal string
		var allow int
		if err := rows.Scan(&itemID, &principal, &allow); err != nil {
			return false, fmt.Errorf("scan access: %w", err)
		}
		if !identity.Matches(principal) {
			continue
		}
		v := levels[itemID]
		if v == nil {
			v = &verdict{}
			levels[itemID] = v
		}
		if allow != 0 {
			v.allow = true
		} else {
			v.deny = true
		}
	}
	if err := rows.Err(); err != nil {
		return false, fmt.Errorf("iterate access: %w", err)
	}

	for i := len(chain) - 1; i >= 0; i-- {
		v := levels[chain[i]]
		if v == nil {
			continue
		}
		if v.deny {
			return false, nil
		}
		if v.allow {
			return true, nil
		}
	}
	return right == storage.RightRead, nil
}
