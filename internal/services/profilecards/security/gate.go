package security

import (
	"context"

	"github.com/louisbranch/profilecards/internal/services/profilecards/domain"
)

// Authorizer answers write-access questions for one identity and item.
type Authorizer interface {
	CanWrite(ctx context.Context, identity domain.Identity, item *domain.Item) (bool, error)
}

// Gate filters candidates by the acting identity's write access.
type Gate struct {
	authorizer Authorizer
}

// NewGate builds a gate over authorizer.
func NewGate(authorizer Authorizer) *Gate {
	return &Gate{authorizer: authorizer}
}

// CanWrite reports whether identity may write item. Only the check runs
// elevated. Missing items and authorizer failures answer false.
func (g *Gate) CanWrite(ctx context.Context, item *domain.Item, identity domain.Identity) bool {
	if g == nil || g.authorizer == nil || item == nil {
		return false
	}
	elevated, release := Elevate(ctx)
	defer release()

	allowed, err := g.authorizer.CanWrite(elevated, identity, item)
	if err != nil {
		return false
	}
	return allowed
}
