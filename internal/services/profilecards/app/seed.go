package app

import (
	"context"
	"fmt"
	"os"

	"github.com/louisbranch/profilecards/internal/services/profilecards/domain"
	"github.com/louisbranch/profilecards/internal/services/profilecards/storage"
	"github.com/louisbranch/profilecards/internal/services/profilecards/storage/sqlite"
	"gopkg.in/yaml.v3"
)

// Seed is a content tree fixture loaded into an empty or existing store.
// Items are applied in order, so parents must precede their children.
type Seed struct {
	Principals []SeedPrincipal `yaml:"principals"`
	Items      []SeedItem      `yaml:"items"`
	Indexes    []SeedIndex     `yaml:"indexes"`
}

// SeedPrincipal registers a user and its roles.
type SeedPrincipal struct {
	Name          string   `yaml:"name"`
	Roles         []string `yaml:"roles"`
	Administrator bool     `yaml:"administrator"`
}

// SeedItem is one content item with its access entries.
type SeedItem struct {
	Database   string            `yaml:"database"`
	ID         string            `yaml:"id"`
	Parent     string            `yaml:"parent"`
	Name       string            `yaml:"name"`
	Template   string            `yaml:"template"`
	Language   string            `yaml:"language"`
	Version    int               `yaml:"version"`
	Bucket     bool              `yaml:"bucket"`
	ReadOnly   bool              `yaml:"readOnly"`
	Attributes map[string]string `yaml:"attributes"`
	Access     []SeedAccess      `yaml:"access"`
}

// SeedAccess grants or denies one right.
type SeedAccess struct {
	Principal string `yaml:"principal"`
	Right     string `yaml:"right"`
	Allow     bool   `yaml:"allow"`
}

// SeedIndex registers the search index of one database.
type SeedIndex struct {
	Database string `yaml:"database"`
	Name     string `yaml:"name"`
	Status   string `yaml:"status"`
}

// LoadSeedFile reads a YAML seed from path and applies it.
func LoadSeedFile(ctx context.Context, store *sqlite.Store, path string) error {
	content, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read seed %s: %w", path, err)
	}
	var seed Seed
	if err := yaml.Unmarshal(content, &seed); err != nil {
		return fmt.Errorf("parse seed %s: %w", path, err)
	}
	return ApplySeed(ctx, store, seed)
}

// ApplySeed writes principals, items, access entries and index
// registrations. Re-applying a seed replaces the same rows.
func ApplySeed(ctx context.Context, store *sqlite.Store, seed Seed) error {
	for _, principal := range seed.Principals {
		identity := domain.Identity{Name: principal.Name, Roles: principal.Roles, Administrator: principal.Administrator}
		if err := store.PutPrincipal(ctx, identity); err != nil {
			return fmt.Errorf("seed principal %q: %w", principal.Name, err)
		}
	}
	for _, item := range seed.Items {
		_, err := store.PutItem(ctx, domain.Item{
			ID:         item.ID,
			Database:   item.Database,
			ParentID:   item.Parent,
			Name:       item.Name,
			Template:   item.Template,
			Language:   item.Language,
			Version:    item.Version,
			Bucket:     item.Bucket,
			ReadOnly:   item.ReadOnly,
			Attributes: item.Attributes,
		})
		if err != nil {
			return fmt.Errorf("seed item %s/%s: %w", item.Database, item.ID, err)
		}
		if len(item.Access) == 0 {
			continue
		}
		entries := make([]storage.AccessEntry, 0, len(item.Access))
		for _, access := range item.Access {
			entries = append(entries, storage.AccessEntry{Principal: access.Principal, Right: access.Right, Allow: access.Allow})
		}
		if err := store.SetAccess(ctx, item.Database, item.ID, entries); err != nil {
			return fmt.Errorf("seed access %s/%s: %w", item.Database, item.ID, err)
		}
	}
	for _, index := range seed.Indexes {
		status := storage.IndexStatus{Database: index.Database, Name: index.Name, Status: index.Status}
		if err := store.SetIndexStatus(ctx, status); err != nil {
			return fmt.Errorf("seed index %s: %w", index.Database, err)
		}
	}
	return nil
}
