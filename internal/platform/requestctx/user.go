// Package requestctx carries per-request caller attributes through context.
package requestctx

import (
	"context"
	"strings"
)

type principalContextKey struct{}

type localeContextKey struct{}

// WithPrincipal stores the interacting principal name in context.
func WithPrincipal(ctx context.Context, principal string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, principalContextKey{}, strings.TrimSpace(principal))
}

// PrincipalFromContext returns the principal name stored in context.
func PrincipalFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	value, _ := ctx.Value(principalContextKey{}).(string)
	return value
}

// WithLocale stores the caller's content language in context.
func WithLocale(ctx context.Context, locale string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, localeContextKey{}, strings.TrimSpace(locale))
}

// LocaleFromContext returns the caller's content language, if any.
func LocaleFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	value, _ := ctx.Value(localeContextKey{}).(string)
	return value
}
