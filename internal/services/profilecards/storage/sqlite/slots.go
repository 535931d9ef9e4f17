package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/louisbranch/profilecards/internal/services/profilecards/storage"
)

// PutSlot stores the value carried across a suspension.
func (s *Store) PutSlot(ctx context.Context, slot storage.Slot) error {
	slot.Principal = strings.TrimSpace(slot.Principal)
	slot.Handle = strings.TrimSpace(slot.Handle)
	if slot.Principal == "" || slot.Handle == "" {
		return fmt.Errorf("slot principal and handle are required")
	}
	if slot.ExpiresAt.IsZero() {
		return fmt.Errorf("slot expiry is required")
	}
	if slot.CreatedAt.IsZero() {
		slot.CreatedAt = s.clock()
	}
	params, err := json.Marshal(slot.Params)
	if err != nil {
		return fmt.Errorf("encode slot params: %w", err)
	}
	_, err = s.sqlDB.ExecContext(ctx, `
INSERT INTO interaction_slots (principal, handle, params_json, pre_edit_value, created_at, expires_at)
VALUES (?, ?, ?, ?, ?, ?)
`, slot.Principal, slot.Handle, string(params), slot.PreEditValue, toMillis(slot.CreatedAt), toMillis(slot.ExpiresAt))
	if isConstraintError(err) {
		return fmt.Errorf("slot %s already exists", slot.Handle)
	}
	if err != nil {
		return fmt.Errorf("put slot: %w", err)
	}
	return nil
}

// TakeSlot removes and returns the slot for (principal, handle). Missing and
// expired slots report storage.ErrNotFound.
func (s *Store) TakeSlot(ctx context.Context, principal, handle string, now time.Time) (storage.Slot, error) {
	slot := storage.Slot{}
	var params string
	var createdAt, expiresAt int64
	err := s.sqlDB.QueryRowContext(ctx, `
DELETE FROM interaction_slots WHERE principal = ? AND handle = ?
RETURNING principal, handle, params_json, pre_edit_value, created_at, expires_at
`, strings.TrimSpace(principal), strings.TrimSpace(handle)).Scan(
		&slot.Principal, &slot.Handle, &params, &slot.PreEditValue, &createdAt, &expiresAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return storage.Slot{}, storage.ErrNotFound
	}
	if err != nil {
		return storage.Slot{}, fmt.Errorf("take slot: %w", err)
	}
	slot.CreatedAt = fromMillis(createdAt)
	slot.ExpiresAt = fromMillis(expiresAt)
	if !now.Before(slot.ExpiresAt) {
		return storage.Slot{}, storage.ErrNotFound
	}
	if err := json.Unmarshal([]byte(params), &slot.Params); err != nil {
		return storage.Slot{}, fmt.Errorf("decode slot params: %w", err)
	}
	return slot, nil
}

// DeleteExpiredSlots removes slots whose expiry is at or before now.
func (s *Store) DeleteExpiredSlots(ctx context.Context, now time.Time) (int64, error) {
	result, err := s.sqlDB.ExecContext(ctx, `DELETE FROM interaction_slots WHERE expires_at <= ?`, toMillis(now))
	if err != nil {
		return 0, fmt.Errorf("delete expired slots: %w", err)
	}
	return result.RowsAffected()
}
