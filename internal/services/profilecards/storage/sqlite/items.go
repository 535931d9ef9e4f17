package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/louisbranch/profilecards/internal/platform/requestctx"
	"github.com/louisbranch/profilecards/internal/services/profilecards/domain"
	"github.com/louisbranch/profilecards/internal/services/profilecards/query"
	"github.com/louisbranch/profilecards/internal/services/profilecards/security"
	"github.com/louisbranch/profilecards/internal/services/profilecards/storage"
)

const itemColumns = `database_name, id, parent_id, name, path, id_path, language, version, template, is_bucket, read_only, revision, updated_at`

// PutItem creates or replaces an item and its attributes, deriving its path
// from the parent, and indexes it. The parent must already exist.
func (s *Store) PutItem(ctx context.Context, item domain.Item) (domain.Item, error) {
	item.ID = strings.TrimSpace(item.ID)
	item.Database = strings.TrimSpace(item.Database)
	item.Name = strings.TrimSpace(item.Name)
	item.ParentID = strings.TrimSpace(item.ParentID)
	if item.ID == "" {
		return domain.Item{}, fmt.Errorf("item id is required")
	}
	if strings.Contains(item.ID, "/") {
		return domain.Item{}, fmt.Errorf("item id must not contain '/'")
	}
	if item.Database == "" {
		return domain.Item{}, fmt.Errorf("database is required")
	}
	if item.Name == "" {
		return domain.Item{}, fmt.Errorf("item name is required")
	}
	if item.Language == "" {
		item.Language = "en"
	}
	if item.Version < 1 {
		item.Version = 1
	}
	if item.UpdatedAt.IsZero() {
		item.UpdatedAt = s.clock()
	}

	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Item{}, fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if item.ParentID == "" {
		item.Path = "/" + item.Name
		item.IDPath = domain.ChildIDPath("", item.ID)
	} else {
		var parentPath, parentIDPath string
		err := tx.QueryRowContext(ctx,
			`SELECT path, id_path FROM items WHERE database_name = ? AND id = ?`,
			item.Database, item.ParentID,
		).Scan(&parentPath, &parentIDPath)
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Item{}, fmt.Errorf("parent %s: %w", item.ParentID, storage.ErrNotFound)
		}
		if err != nil {
			return domain.Item{}, fmt.Errorf("load parent: %w", err)
		}
		if slices.Contains(domain.SplitIDPath(parentIDPath), item.ID) {
			return domain.Item{}, fmt.Errorf("item %s cannot be its own ancestor", item.ID)
		}
		item.Path = strings.TrimSuffix(parentPath, "/") + "/" + item.Name
		item.IDPath = domain.ChildIDPath(parentIDPath, item.ID)
	}

	var previousPath, previousIDPath string
	err = tx.QueryRowContext(ctx,
		`SELECT path, id_path FROM items WHERE database_name = ? AND id = ?`,
		item.Database, item.ID,
	).Scan(&previousPath, &previousIDPath)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return domain.Item{}, fmt.Errorf("load item: %w", err)
	}
	moved := err == nil && (previousPath != item.Path || previousIDPath != item.IDPath)

	err = tx.QueryRowContext(ctx, `
INSERT INTO items (`+itemColumns+`)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 1, ?)
ON CONFLICT(database_name, id) DO UPDATE SET
	parent_id = excluded.parent_id,
	name = excluded.name,
	path = excluded.path,
	id_path = excluded.id_path,
	language = excluded.language,
	version = excluded.version,
	template = excluded.template,
	is_bucket = excluded.is_bucket,
	read_only = excluded.read_only,
	revision = items.revision + 1,
	updated_at = excluded.updated_at
RETURNING revision
`,
		item.Database, item.ID, item.ParentID, item.Name, item.Path, item.IDPath,
		item.Language, item.Version, item.Template, boolToInt(item.Bucket), boolToInt(item.ReadOnly),
		query.FormatTimestamp(item.UpdatedAt),
	).Scan(&item.Revision)
	if err != nil {
		return domain.Item{}, fmt.Errorf("put item: %w", err)
	}
	if moved {
		if err := moveDescendants(ctx, tx, item, previousPath, previousIDPath); err != nil {
			return domain.Item{}, err
		}
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM item_fields WHERE database_name = ? AND item_id = ?`, item.Database, item.ID); err != nil {
		return domain.Item{}, fmt.Errorf("clear fields: %w", err)
	}
	for key, value := range item.Attributes {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO item_fields (database_name, item_id, field_key, value) VALUES (?, ?, ?, ?)`,
			item.Database, item.ID, key, value,
		); err != nil {
			return domain.Item{}, fmt.Errorf("put field %s: %w", key, err)
		}
	}
	if err := indexItem(ctx, tx, item); err != nil {
		return domain.Item{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Item{}, fmt.Errorf("commit: %w", err)
	}
	item.UpdatedAt = item.UpdatedAt.UTC()
	return item, nil
}

// moveDescendants rewrites the paths of every item below a renamed or
// re-parented item, in the item table and the search index.
func moveDescendants(ctx context.Context, tx *sql.Tx, item domain.Item, previousPath, previousIDPath string) error {
	args := []any{
		item.Path, previousPath, item.IDPath, previousIDPath,
		item.Database, item.ID, previousIDPath, previousIDPath,
	}
	if _, err := tx.ExecContext(ctx, `
UPDATE items SET
	path = ? || substr(path, length(?) + 1),
	id_path = ? || substr(id_path, length(?) + 1),
	revision = revision + 1
WHERE database_name = ? AND id != ? AND substr(id_path, 1, length(?)) = ?
`, args...); err != nil {
		return fmt.Errorf("move descendants: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `
UPDATE search_index_entries SET
	path = ? || substr(path, length(?) + 1),
	id_path = ? || substr(id_path, length(?) + 1)
WHERE database_name = ? AND item_id != ? AND substr(id_path, 1, length(?)) = ?
`, args...); err != nil {
		return fmt.Errorf("move descendant index entries: %w", err)
	}
	return nil
}

// GetItem loads one item. Without elevation, an item the context principal
// cannot read is reported as not found.
func (s *Store) GetItem(ctx context.Context, database, id string) (*domain.Item, error) {
	item, err := loadItem(ctx, s.sqlDB, database, id)
	if err != nil {
		return nil, err
	}
	if !security.IsElevated(ctx) {
		if principal := requestctx.PrincipalFromContext(ctx); principal != "" {
			identity, err := s.ResolveIdentity(ctx, principal)
			if err != nil {
				return nil, err
			}
			readable, err := s.allowed(ctx, identity, item.Database, item.IDPath, storage.RightRead)
			if err != nil {
				return nil, err
			}
			if !readable {
				return nil, storage.ErrNotFound
			}
		}
	}
	return item, nil
}

func loadItem(ctx context.Context, q queryer, database, id string) (*domain.Item, error) {
	database = strings.TrimSpace(database)
	id = strings.TrimSpace(id)
	if database == "" || id == "" {
		return nil, fmt.Errorf("database and item id are required")
	}
	row := q.QueryRowContext(ctx, `SELECT `+itemColumns+` FROM items WHERE database_name = ? AND id = ?`, database, id)
	item, err := scanItem(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get item: %w", err)
	}

	rows, err := q.QueryContext(ctx,
		`SELECT field_key, value FROM item_fields WHERE database_name = ? AND item_id = ?`,
		database, id,
	)
	if err != nil {
		return nil, fmt.Errorf("get fields: %w", err)
	}
	defer rows.Close()
	item.Attributes = map[string]string{}
	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return nil, fmt.Errorf("scan field: %w", err)
		}
		item.Attributes[key] = value
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate fields: %w", err)
	}
	return item, nil
}

func scanItem(scan func(dest ...any) error) (*domain.Item, error) {
	var (
		item      domain.Item
		bucket    int
		readOnly  int
		updatedAt string
	)
	if err := scan(
		&item.Database, &item.ID, &item.ParentID, &item.Name, &item.Path, &item.IDPath,
		&item.Language, &item.Version, &item.Template, &bucket, &readOnly, &item.Revision, &updatedAt,
	); err != nil {
		return nil, err
	}
	item.Bucket = bucket != 0
	item.ReadOnly = readOnly != 0
	parsed, err := time.Parse(query.TimestampLayout, updatedAt)
	if err != nil {
		return nil, fmt.Errorf("parse updated_at: %w", err)
	}
	item.UpdatedAt = parsed
	return &item, nil
}
