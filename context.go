package goCred

import "context"

type clientIPContextKey struct{}
type userAgentContextKey struct{}
type principalContextKey struct{}
type apiKeyContextKey struct{}

// WithClientIP attaches the caller's IP address to ctx. The Engine uses it as the source
// IP of security events when an operation has no explicit IP argument.
func WithClientIP(ctx context.Context, ip string) context.Context {
	return context.WithValue(ctx, clientIPContextKey{}, ip)
}

// WithUserAgent attaches the HTTP User-Agent string to ctx.
func WithUserAgent(ctx context.Context, userAgent string) context.Context {
	return context.WithValue(ctx, userAgentContextKey{}, userAgent)
}

// ClientIPFromContext returns the IP set by WithClientIP, or "".
func ClientIPFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}

	ip, _ := ctx.Value(clientIPContextKey{}).(string)
	return ip
}

// UserAgentFromContext returns the user agent set by WithUserAgent, or "".
func UserAgentFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}

	userAgent, _ := ctx.Value(userAgentContextKey{}).(string)
	return userAgent
}

// WithPrincipal stores a verified principal in ctx. Used by middleware.Guard.
func WithPrincipal(ctx context.Context, p *Principal) context.Context {
	return context.WithValue(ctx, principalContextKey{}, p)
}

// PrincipalFromContext returns the principal stored by WithPrincipal.
func PrincipalFromContext(ctx context.Context) (*Principal, bool) {
	if ctx == nil {
		return nil, false
	}
	p, ok := ctx.Value(principalContextKey{}).(*Principal)
	return p, ok && p != nil
}

// WithAPIKey stores a validated API key record in ctx. Used by middleware.APIKeyGuard.
func WithAPIKey(ctx context.Context, key *APIKey) context.Context {
	return context.WithValue(ctx, apiKeyContextKey{}, key)
}

// APIKeyFromContext returns the key stored by WithAPIKey.
func APIKeyFromContext(ctx context.Context) (*APIKey, bool) {
	if ctx == nil {
		return nil, false
	}
	k, ok := ctx.Value(apiKeyContextKey{}).(*APIKey)
	return k, ok && k != nil
}

func sourceIP(ctx context.Context, explicit string) string {
	if explicit != "" {
		return explicit
	}
	return ClientIPFromContext(ctx)
}
