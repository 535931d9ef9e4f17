package security

import (
	"context"
	"errors"
	"testing"

	"github.com/louisbranch/profilecards/internal/services/profilecards/domain"
)

// restrictedAuthorizer refuses to answer unless the check runs elevated,
// mimicking a store that hides items the caller cannot read.
type restrictedAuthorizer struct {
	writers map[string]bool
	err     error
	seen    []context.Context
}

func (a *restrictedAuthorizer) CanWrite(ctx context.Context, identity domain.Identity, item *domain.Item) (bool, error) {
	a.seen = append(a.seen, ctx)
	if a.err != nil {
		return false, a.err
	}
	if !IsElevated(ctx) {
		return false, errors.New("item hidden by read restrictions")
	}
	return a.writers[identity.Name+"/"+item.ID], nil
}

func TestGateCanWrite(t *testing.T) {
	auth := &restrictedAuthorizer{writers: map[string]bool{"editor/v1": true}}
	gate := NewGate(auth)
	editor := domain.Identity{Name: "editor"}

	if !gate.CanWrite(context.Background(), &domain.Item{ID: "v1"}, editor) {
		t.Fatal("expected write access to v1")
	}
	if gate.CanWrite(context.Background(), &domain.Item{ID: "v2"}, editor) {
		t.Fatal("expected no write access to v2")
	}
}

func TestGateReleasesElevation(t *testing.T) {
	auth := &restrictedAuthorizer{writers: map[string]bool{}}
	gate := NewGate(auth)

	gate.CanWrite(context.Background(), &domain.Item{ID: "v1"}, domain.Identity{Name: "editor"})
	if len(auth.seen) != 1 {
		t.Fatalf("checks = %d, want 1", len(auth.seen))
	}
	if IsElevated(auth.seen[0]) {
		t.Fatal("elevation leaked past the check")
	}
}

func TestGateNilAndErrorsAreNo(t *testing.T) {
	auth := &restrictedAuthorizer{err: errors.New("acl store offline")}
	gate := NewGate(auth)

	if gate.CanWrite(context.Background(), nil, domain.Identity{Name: "editor"}) {
		t.Fatal("nil candidate must be refused")
	}
	if len(auth.seen) != 0 {
		t.Fatal("authorizer consulted for nil candidate")
	}
	if gate.CanWrite(context.Background(), &domain.Item{ID: "v1"}, domain.Identity{Name: "editor"}) {
		t.Fatal("authorizer error must be refused")
	}
	var zero *Gate
	if zero.CanWrite(context.Background(), &domain.Item{ID: "v1"}, domain.Identity{}) {
		t.Fatal("nil gate must refuse")
	}
}

func TestElevate(t *testing.T) {
	base := context.Background()
	if IsElevated(base) {
		t.Fatal("background context is not elevated")
	}
	ctx, release := Elevate(base)
	child, cancel := context.WithCancel(ctx)
	defer cancel()
	if !IsElevated(ctx) || !IsElevated(child) {
		t.Fatal("expected elevated contexts")
	}
	release()
	release()
	if IsElevated(ctx) || IsElevated(child) {
		t.Fatal("expected elevation released")
	}
	if IsElevated(base) {
		t.Fatal("parent context must never be elevated")
	}
}
