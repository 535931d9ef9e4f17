// Package domain defines the content items, identities and invocation
// parameters shared by the profile-card propagation workflow.
package domain

import (
	"strings"
	"time"
)

// DefaultAttributeKey is the personalization field propagated by default.
const DefaultAttributeKey = "__Tracking"

// Item is one content item version as seen by the propagation workflow.
type Item struct {
	ID       string
	Database string
	ParentID string
	Name     string
	Path     string
	// IDPath is the slash-delimited chain of item IDs from the root down to
	// and including this item, e.g. "/root/home/product-a/".
	IDPath     string
	Language   string
	Version    int
	Template   string
	Bucket     bool
	ReadOnly   bool
	Attributes map[string]string
	Revision   int64
	UpdatedAt  time.Time
}

// Attribute returns the current value of one attribute, or "".
func (i *Item) Attribute(key string) string {
	if i == nil || i.Attributes == nil {
		return ""
	}
	return i.Attributes[key]
}

// AncestorIDs returns the IDs above this item, root first.
func (i *Item) AncestorIDs() []string {
	if i == nil {
		return nil
	}
	chain := SplitIDPath(i.IDPath)
	if len(chain) == 0 {
		return nil
	}
	return chain[:len(chain)-1]
}

// SplitIDPath splits an ID path into its IDs, root first.
func SplitIDPath(idPath string) []string {
	trimmed := strings.Trim(idPath, "/")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "/")
}

// ContainedUnder reports whether idPath names the item identified by
// ancestorID or an item below it.
func ContainedUnder(idPath string, ancestorID string) bool {
	if ancestorID == "" {
		return false
	}
	for _, id := range SplitIDPath(idPath) {
		if id == ancestorID {
			return true
		}
	}
	return false
}

// ChildIDPath returns the ID path of a child with childID under parentIDPath.
func ChildIDPath(parentIDPath string, childID string) string {
	base := strings.TrimSuffix(parentIDPath, "/")
	return base + "/" + childID + "/"
}
