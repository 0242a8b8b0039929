package auth

import (
	"context"

	entitlementdomain "github.com/smallbiznis/pawtrack/internal/entitlement/domain"
)

type principalKey struct{}

// WithPrincipal stores the resolved principal on ctx.
func WithPrincipal(ctx context.Context, principal entitlementdomain.Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, principal)
}

// PrincipalFromContext returns nil when the request is unauthenticated.
func PrincipalFromContext(ctx context.Context) *entitlementdomain.Principal {
	if ctx == nil {
		return nil
	}
	p, ok := ctx.Value(principalKey{}).(entitlementdomain.Principal)
	if !ok {
		return nil
	}
	return &p
}
