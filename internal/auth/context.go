package auth

import "context"

const (
	MethodJWT    = "jwt"
	MethodAPIKey = "api_key"
)

// Principal is the caller of a query or checkout endpoint. Service callers
// authenticate with the shared API key and carry no user id.
type Principal struct {
	UserID     string
	TokenID    string
	AuthMethod string
}

func (p Principal) IsService() bool {
	return p.AuthMethod == MethodAPIKey
}

type principalContextKey struct{}

func WithPrincipal(ctx context.Context, principal Principal) context.Context {
	return context.WithValue(ctx, principalContextKey{}, principal)
}

func PrincipalFromContext(ctx context.Context) (Principal, bool) {
	principal, ok := ctx.Value(principalContextKey{}).(Principal)
	return principal, ok
}
