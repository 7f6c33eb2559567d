// Package auth guards the log API with static bearer tokens.
package auth

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"

	"github.com/mattjoyce/deskhook/internal/config"
)

// Scopes understood by the API. A "<resource>:rw" grant also satisfies
// "<resource>:ro".
const (
	ScopeAll        = "*"
	ScopeLogsRead   = "logs:ro"
	ScopeEventsRead = "events:ro"
)

var (
	ErrMissingAuthorization = errors.New("missing Authorization header")
	ErrMalformedBearer      = errors.New("invalid Authorization header format")
	ErrEmptyToken           = errors.New("missing API key")
)

// TokenConfig is a bearer token with a set of scopes.
type TokenConfig struct {
	Token  string
	Scopes []string
}

// FromConfig converts configured API tokens.
func FromConfig(tokens []config.APIToken) []TokenConfig {
	out := make([]TokenConfig, 0, len(tokens))
	for _, t := range tokens {
		out = append(out, TokenConfig{Token: t.Token, Scopes: t.Scopes})
	}
	return out
}

// ScopeSet holds lower-cased scope grants.
type ScopeSet map[string]struct{}

// ParseScopes normalizes raw grants, expanding each ":rw" to its ":ro" twin.
func ParseScopes(raw []string) ScopeSet {
	set := make(ScopeSet, len(raw))
	for _, s := range raw {
		s = strings.ToLower(strings.TrimSpace(s))
		if s == "" {
			continue
		}
		set[s] = struct{}{}
		if resource, ok := strings.CutSuffix(s, ":rw"); ok {
			set[resource+":ro"] = struct{}{}
		}
	}
	return set
}

// Grants reports whether scope is covered, directly or via "*".
func (s ScopeSet) Grants(scope string) bool {
	if _, ok := s[ScopeAll]; ok {
		return true
	}
	_, ok := s[scope]
	return ok
}

// Principal is an authenticated caller.
type Principal struct {
	Token  string
	Scopes ScopeSet
}

type principalKey struct{}

func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

func PrincipalFromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(Principal)
	return p, ok
}

// ExtractBearerToken reads the token from "Authorization: Bearer <token>".
// The scheme is matched case-insensitively.
func ExtractBearerToken(r *http.Request) (string, error) {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if header == "" {
		return "", ErrMissingAuthorization
	}
	scheme, credentials, found := strings.Cut(header, " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", ErrMalformedBearer
	}
	token := strings.TrimSpace(credentials)
	if token == "" {
		return "", ErrEmptyToken
	}
	return token, nil
}

func tokenMatches(presented, configured string) bool {
	if presented == "" || configured == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(presented), []byte(configured)) == 1
}

// Authenticate matches a presented token. The legacy key grants every scope;
// otherwise the first matching configured token wins.
func Authenticate(presented string, legacyAPIKey string, tokens []TokenConfig) (Principal, bool) {
	if tokenMatches(presented, legacyAPIKey) {
		return Principal{Token: presented, Scopes: ScopeSet{ScopeAll: {}}}, true
	}
	for _, t := range tokens {
		if tokenMatches(presented, t.Token) {
			return Principal{Token: presented, Scopes: ParseScopes(t.Scopes)}, true
		}
	}
	return Principal{}, false
}

// HasAnyScope reports whether p holds at least one of required. No
// requirement always passes.
func HasAnyScope(p Principal, required ...string) bool {
	if len(required) == 0 {
		return true
	}
	for _, s := range required {
		if p.Scopes.Grants(s) {
			return true
		}
	}
	return false
}
