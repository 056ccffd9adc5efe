package auth

import "context"

type identityContextKey struct{}
type claimsContextKey struct{}

// ContextWithIdentity attaches the authorized identity to the context.
func ContextWithIdentity(ctx context.Context, ident Identity) context.Context {
	return context.WithValue(ctx, identityContextKey{}, &ident)
}

// IdentityFromContext extracts the authorized identity from the context.
func IdentityFromContext(ctx context.Context) (Identity, bool) {
	if ctx == nil {
		return Identity{}, false
	}
	v, ok := ctx.Value(identityContextKey{}).(*Identity)
	if !ok || v == nil {
		return Identity{}, false
	}
	return *v, true
}

// ContextWithClaims stores the verified claim set inside the context.
func ContextWithClaims(ctx context.Context, claims ClaimSet) context.Context {
	if len(claims) == 0 {
		return ctx
	}
	return context.WithValue(ctx, claimsContextKey{}, claims)
}

// ClaimsFromContext returns the claim set if one was previously attached.
// A request without a verified token yields a nil set.
func ClaimsFromContext(ctx context.Context) ClaimSet {
	if ctx == nil {
		return nil
	}
	v, _ := ctx.Value(claimsContextKey{}).(ClaimSet)
	return v
}
