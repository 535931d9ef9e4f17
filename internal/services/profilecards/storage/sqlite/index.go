package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	apperrors "github.com/louisbranch/profilecards/internal/platform/errors"
	"github.com/louisbranch/profilecards/internal/services/profilecards/domain"
	"github.com/louisbranch/profilecards/internal/services/profilecards/query"
	"github.com/louisbranch/profilecards/internal/services/profilecards/security"
	"github.com/louisbranch/profilecards/internal/services/profilecards/storage"
)

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func indexItem(ctx context.Context, target execer, item domain.Item) error {
	_, err := target.ExecContext(ctx, `
INSERT INTO search_index_entries (database_name, item_id, name, path, id_path, language, version, template, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(database_name, item_id) DO UPDATE SET
	name = excluded.name,
	path = excluded.path,
	id_path = excluded.id_path,
	language = excluded.language,
	version = excluded.version,
	template = excluded.template,
	updated_at = excluded.updated_at
`, item.Database, item.ID, item.Name, item.Path, item.IDPath, item.Language, item.Version, item.Template,
		query.FormatTimestamp(item.UpdatedAt))
	if err != nil {
		return fmt.Errorf("index item: %w", err)
	}
	return nil
}

// SetIndexStatus registers or updates the search index for a database.
func (s *Store) SetIndexStatus(ctx context.Context, status storage.IndexStatus) error {
	status.Database = strings.TrimSpace(status.Database)
	if status.Database == "" {
		return fmt.Errorf("database is required")
	}
	if status.Name == "" {
		status.Name = status.Database + "_index"
	}
	switch status.Status {
	case "":
		status.Status = storage.IndexOnline
	case storage.IndexOnline, storage.IndexRebuilding, storage.IndexOffline:
	default:
		return fmt.Errorf("unknown index status %q", status.Status)
	}
	_, err := s.sqlDB.ExecContext(ctx, `
INSERT INTO search_indexes (database_name, name, status, updated_at) VALUES (?, ?, ?, ?)
ON CONFLICT(database_name) DO UPDATE SET name = excluded.name, status = excluded.status, updated_at = excluded.updated_at
`, status.Database, status.Name, status.Status, toMillis(s.clock()))
	if err != nil {
		return fmt.Errorf("set index status: %w", err)
	}
	return nil
}

// GetIndexStatus loads the search index registration for a database.
func (s *Store) GetIndexStatus(ctx context.Context, database string) (storage.IndexStatus, error) {
	status := storage.IndexStatus{Database: database}
	var updatedAt int64
	err := s.sqlDB.QueryRowContext(ctx,
		`SELECT name, status, updated_at FROM search_indexes WHERE database_name = ?`, database,
	).Scan(&status.Name, &status.Status, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return storage.IndexStatus{}, storage.ErrNotFound
	}
	if err != nil {
		return storage.IndexStatus{}, fmt.Errorf("get index status: %w", err)
	}
	status.UpdatedAt = fromMillis(updatedAt)
	return status, nil
}

// Reindex rebuilds the search index for a database from the item store and
// returns the number of entries written. Stale entries are dropped.
func (s *Store) Reindex(ctx context.Context, database string) (int, error) {
	if err := s.SetIndexStatus(ctx, storage.IndexStatus{Database: database, Status: storage.IndexRebuilding}); err != nil {
		return 0, err
	}
	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM search_index_entries WHERE database_name = ?`, database); err != nil {
		return 0, fmt.Errorf("clear index: %w", err)
	}
	result, err := tx.ExecContext(ctx, `
INSERT INTO search_index_entries (database_name, item_id, name, path, id_path, language, version, template, updated_at)
SELECT database_name, id, name, path, id_path, language, version, template, updated_at
FROM items WHERE database_name = ?
`, database)
	if err != nil {
		return 0, fmt.Errorf("rebuild index: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}
	written, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	if err := s.SetIndexStatus(ctx, storage.IndexStatus{Database: database, Status: storage.IndexOnline}); err != nil {
		return 0, err
	}
	return int(written), nil
}

// GetIndex opens the search index covering item, scoped to the item's
// bucket: the nearest ancestor-or-self flagged as a bucket, or the item
// itself when there is none.
func (s *Store) GetIndex(ctx context.Context, item *domain.Item) (query.SearchContext, error) {
	if item == nil {
		return nil, fmt.Errorf("item is required")
	}
	status, err := s.GetIndexStatus(ctx, item.Database)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, apperrors.WithMetadata(apperrors.CodeIndexUnavailable, "no search index for database "+item.Database,
			map[string]string{"database": item.Database})
	}
	if err != nil {
		return nil, err
	}
	if status.Status != storage.IndexOnline {
		return nil, apperrors.WithMetadata(apperrors.CodeIndexUnavailable, "search index "+status.Name+" is "+status.Status,
			map[string]string{"database": item.Database})
	}
	scope, err := s.bucketIDPath(ctx, item)
	if err != nil {
		return nil, err
	}
	return &searchContext{store: s, database: item.Database, scope: scope}, nil
}

func (s *Store) bucketIDPath(ctx context.Context, item *domain.Item) (string, error) {
	chain := domain.SplitIDPath(item.IDPath)
	if len(chain) == 0 {
		return "", fmt.Errorf("item %s has no path", item.ID)
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(chain)), ", ")
	args := []any{item.Database}
	for _, id := range chain {
		args = append(args, id)
	}
	var scope string
	err := s.sqlDB.QueryRowContext(ctx, `
SELECT id_path FROM items
WHERE database_name = ? AND is_bucket = 1 AND id IN (`+placeholders+`)
ORDER BY length(id_path) DESC LIMIT 1
`, args...).Scan(&scope)
	if errors.Is(err, sql.ErrNoRows) {
		return item.IDPath, nil
	}
	if err != nil {
		return "", fmt.Errorf("find bucket: %w", err)
	}
	return scope, nil
}

type searchContext struct {
	store    *Store
	database string
	scope    string
}

// Execute returns up to limit entries under the scope matching cond, after
// the cursor in (path, item_id) order.
func (c *searchContext) Execute(ctx context.Context, cond query.SQLCondition, after query.Cursor, limit int) ([]query.ResultItem, error) {
	if limit <= 0 {
		limit = query.DefaultPageSize
	}
	clause := cond.Clause
	if strings.TrimSpace(clause) == "" {
		clause = "1 = 1"
	}
	args := make([]any, 0, len(cond.Params)+6)
	args = append(args, c.database, c.scope, c.scope)
	args = append(args, cond.Params...)
	args = append(args, after.Path, after.ItemID, limit)

	rows, err := c.store.sqlDB.QueryContext(ctx, `
SELECT item_id, path, id_path FROM search_index_entries
WHERE database_name = ?
	AND substr(id_path, 1, length(?)) = ?
	AND (`+clause+`)
	AND (path, item_id) > (?, ?)
ORDER BY path, item_id
LIMIT ?
`, args...)
	if err != nil {
		return nil, fmt.Errorf("search index: %w", err)
	}
	defer rows.Close()

	var results []query.ResultItem
	for rows.Next() {
		entry := &resultItem{store: c.store, database: c.database}
		if err := rows.Scan(&entry.itemID, &entry.path, &entry.idPath); err != nil {
			return nil, fmt.Errorf("scan index entry: %w", err)
		}
		results = append(results, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate index: %w", err)
	}
	return results, nil
}

type resultItem struct {
	store    *Store
	database string
	itemID   string
	path     string
	idPath   string
}

func (r *resultItem) ItemID() string { return r.itemID }
func (r *resultItem) Path() string   { return r.path }
func (r *resultItem) IDPath() string { return r.idPath }

// Resolve loads the concrete item, honoring the context principal's read
// access. Missing and hidden items resolve to nil.
func (r *resultItem) Resolve(ctx context.Context) (*domain.Item, error) {
	item, err := r.store.GetItem(ctx, r.database, r.itemID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return item, nil
}

var _ query.Indexes = (*Store)(nil)
var _ security.Authorizer = (*Store)(nil)
