package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/louisbranch/profilecards/internal/services/profilecards/domain"
	"github.com/louisbranch/profilecards/internal/services/profilecards/storage"
)

// PutPrincipal creates or replaces a principal's roles and admin flag.
func (s *Store) PutPrincipal(ctx context.Context, identity domain.Identity) error {
	name := strings.TrimSpace(identity.Name)
	if name == "" {
		return fmt.Errorf("principal name is required")
	}
	roles := make([]string, 0, len(identity.Roles))
	for _, role := range identity.Roles {
		if role = strings.TrimSpace(role); role != "" {
			roles = append(roles, role)
		}
	}
	_, err := s.sqlDB.ExecContext(ctx, `
INSERT INTO principals (name, roles, administrator) VALUES (?, ?, ?)
ON CONFLICT(name) DO UPDATE SET roles = excluded.roles, administrator = excluded.administrator
`, name, strings.Join(roles, ","), boolToInt(identity.Administrator))
	if err != nil {
		return fmt.Errorf("put principal: %w", err)
	}
	return nil
}

// GetPrincipal loads a registered principal.
func (s *Store) GetPrincipal(ctx context.Context, name string) (domain.Identity, error) {
	name = strings.TrimSpace(name)
	var roles string
	var admin int
	err := s.sqlDB.QueryRowContext(ctx,
		`SELECT roles, administrator FROM principals WHERE name = ?`, name,
	).Scan(&roles, &admin)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Identity{}, storage.ErrNotFound
	}
	if err != nil {
		return domain.Identity{}, fmt.Errorf("get principal: %w", err)
	}
	identity := domain.Identity{Name: name, Administrator: admin != 0}
	if roles != "" {
		identity.Roles = strings.Split(roles, ",")
	}
	return identity, nil
}

// ResolveIdentity returns the registered principal, or a role-less identity
// for names the store has never seen.
func (s *Store) ResolveIdentity(ctx context.Context, name string) (domain.Identity, error) {
	identity, err := s.GetPrincipal(ctx, name)
	if errors.Is(err, storage.ErrNotFound) {
		return domain.Identity{Name: strings.TrimSpace(name)}, nil
	}
	return identity, err
}
