package widget

import (
	"context"
	"net/url"
	"strings"
)

const (
	urlParameterPrefix = "$"
	capabilityPrefix   = "#"
	defaultValueOpen   = "["
	defaultValueClose  = "]"

	// CapabilityLatitude resolves to the session's cached latitude.
	CapabilityLatitude = "lat"
	// CapabilityLongitude resolves to the session's cached longitude.
	CapabilityLongitude = "lon"
	// CapabilityAPIKey resolves to the credential of the fetcher that owns the resolution.
	CapabilityAPIKey = "apikey"
)

// TokenKind distinguishes the variants of a configuration value.
type TokenKind int

const (
	// TokenLiteral is used verbatim.
	TokenLiteral TokenKind = iota
	// TokenURLParameter references a query parameter of the dashboard URL.
	TokenURLParameter
	// TokenCapability references a runtime capability such as geolocation or the injected key.
	TokenCapability
)

// Token is a parsed configuration value.
type Token struct {
	Kind TokenKind
	// Raw is the original configuration value.
	Raw any
	// Name is the query parameter or capability name.
	Name string
	// Default is the bracketed fallback of a URL parameter token.
	Default string
}

// ParseToken classifies a raw configuration value. Values that are not strings or that do not
// start with a placeholder prefix are literals.
func ParseToken(raw any) Token {
	text, isString := raw.(string)
	if !isString {
		return Token{Kind: TokenLiteral, Raw: raw}
	}
	switch {
	case strings.HasPrefix(text, urlParameterPrefix):
		name, defaultValue := splitDefault(strings.TrimPrefix(text, urlParameterPrefix))
		return Token{Kind: TokenURLParameter, Raw: raw, Name: name, Default: defaultValue}
	case strings.HasPrefix(text, capabilityPrefix):
		return Token{Kind: TokenCapability, Raw: raw, Name: strings.TrimPrefix(text, capabilityPrefix)}
	default:
		return Token{Kind: TokenLiteral, Raw: raw}
	}
}

// splitDefault separates "name[default]". A missing closing bracket is tolerated: "$x[def" keeps "def".
func splitDefault(reference string) (string, string) {
	name, remainder, hasDefault := strings.Cut(reference, defaultValueOpen)
	if !hasDefault {
		return name, ""
	}
	return name, strings.TrimSuffix(remainder, defaultValueClose)
}

// CapabilityProvider answers capability tokens. The boolean reports whether the name is known;
// a known capability may still resolve to nil (for example a denied geolocation request).
type CapabilityProvider interface {
	Capability(ctx context.Context, name string) (any, bool)
}

// PlaceholderResolver evaluates tokens against the dashboard query and runtime capabilities.
type PlaceholderResolver struct {
	query        url.Values
	capabilities CapabilityProvider
}

// NewPlaceholderResolver builds a resolver. A nil capability provider leaves every capability token verbatim.
func NewPlaceholderResolver(query url.Values, capabilities CapabilityProvider) *PlaceholderResolver {
	if query == nil {
		query = url.Values{}
	}
	return &PlaceholderResolver{query: query, capabilities: capabilities}
}

// Resolve evaluates a scalar value or an array of values. Arrays resolve element-wise in order.
func (resolver *PlaceholderResolver) Resolve(ctx context.Context, raw any) any {
	switch typed := raw.(type) {
	case []any:
		resolved := make([]any, 0, len(typed))
		for _, element := range typed {
			resolved = append(resolved, resolver.Evaluate(ctx, ParseToken(element)))
		}
		return resolved
	case []string:
		resolved := make([]any, 0, len(typed))
		for _, element := range typed {
			resolved = append(resolved, resolver.Evaluate(ctx, ParseToken(element)))
		}
		return resolved
	default:
		return resolver.Evaluate(ctx, ParseToken(raw))
	}
}

// Evaluate interprets a single token.
func (resolver *PlaceholderResolver) Evaluate(ctx context.Context, token Token) any {
	switch token.Kind {
	case TokenURLParameter:
		if value := resolver.query.Get(token.Name); value != "" {
			return value
		}
		if token.Default != "" {
			return token.Default
		}
		return token.Raw
	case TokenCapability:
		if resolver.capabilities == nil {
			return token.Raw
		}
		value, known := resolver.capabilities.Capability(ctx, token.Name)
		if !known {
			return token.Raw
		}
		return value
	default:
		return token.Raw
	}
}
