// Package security decides whether an acting identity may write a candidate
// item, evaluating the check under a scoped elevation.
package security

import (
	"context"
	"sync/atomic"
)

type elevationKey struct{}

type elevation struct {
	active atomic.Bool
}

// Elevate returns a context in which ambient read restrictions are lifted,
// and a release func that ends the elevation. Release is idempotent; once
// called, the returned context and every context derived from it are no
// longer elevated.
func Elevate(ctx context.Context) (context.Context, func()) {
	if ctx == nil {
		ctx = context.Background()
	}
	e := &elevation{}
	e.active.Store(true)
	return context.WithValue(ctx, elevationKey{}, e), func() { e.active.Store(false) }
}

// IsElevated reports whether ctx carries an unreleased elevation.
func IsElevated(ctx context.Context) bool {
	if ctx == nil {
		return false
	}
	e, ok := ctx.Value(elevationKey{}).(*elevation)
	return ok && e.active.Load()
}
