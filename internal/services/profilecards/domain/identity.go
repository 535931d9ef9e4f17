package domain

import "strings"

const (
	// RolePrefix marks an access entry that targets a role, e.g. "role:editors".
	RolePrefix = "role:"
	// Everyone matches every identity in access entries.
	Everyone = "everyone"
)

// Identity is the security principal on whose behalf checks and writes run.
type Identity struct {
	Name          string
	Roles         []string
	Administrator bool
}

// IsZero reports whether the identity names nobody.
func (id Identity) IsZero() bool {
	return strings.TrimSpace(id.Name) == ""
}

// Matches reports whether an access-entry principal applies to this identity.
func (id Identity) Matches(principal string) bool {
	principal = strings.TrimSpace(principal)
	switch {
	case principal == "":
		return false
	case strings.EqualFold(principal, Everyone):
		return true
	case strings.HasPrefix(principal, RolePrefix):
		role := strings.TrimPrefix(principal, RolePrefix)
		for _, r := range id.Roles {
			if strings.EqualFold(r, role) {
				return true
			}
		}
		return false
	default:
		return strings.EqualFold(principal, id.Name)
	}
}

// Clone returns a copy that shares no slices with id.
func (id Identity) Clone() Identity {
	out := id
	out.Roles = append([]string(nil), id.Roles...)
	return out
}
