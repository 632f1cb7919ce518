// Package auth resolves admin API bearer tokens to principals and decides
// which orchestrator resources each principal may read or change.
package auth

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// Access levels. A scope is "<resource>:<access>" or All.
const (
	Read  = "ro"
	Write = "rw"
	All   = "*"
)

// Resources lists everything an admin token can be scoped to.
var Resources = []string{"policies", "routes", "executions", "trigger", "events", "queues"}

var (
	ErrMissingToken    = errors.New("missing bearer token")
	ErrNotBearer       = errors.New("authorization header must use the Bearer scheme")
	ErrScopeFormat     = errors.New("expected resource:access")
	ErrUnknownResource = errors.New("unknown resource")
	ErrUnknownAccess   = errors.New("access must be ro or rw")
)

// ParseScope splits a scope into its resource and access level. All parses
// as write access on every resource.
func ParseScope(scope string) (resource, access string, err error) {
	scope = strings.TrimSpace(scope)
	if scope == All {
		return All, Write, nil
	}
	resource, access, ok := strings.Cut(scope, ":")
	if !ok {
		return "", "", fmt.Errorf("scope %q: %w", scope, ErrScopeFormat)
	}
	if !knownResource(resource) {
		return "", "", fmt.Errorf("scope %q: %w %q", scope, ErrUnknownResource, resource)
	}
	if access != Read && access != Write {
		return "", "", fmt.Errorf("scope %q: %w", scope, ErrUnknownAccess)
	}
	return resource, access, nil
}

func knownResource(name string) bool {
	for _, r := range Resources {
		if r == name {
			return true
		}
	}
	return false
}

// TokenConfig binds one bearer token to its scopes.
type TokenConfig struct {
	Token  string
	Scopes []string
}

// Principal is the caller an admin request was authenticated as.
type Principal struct {
	// Name is "admin", "anonymous" or "token[i]"; never the secret itself.
	Name   string
	grants map[string]string
}

// Admin returns a principal holding write access to every resource.
func Admin(name string) Principal {
	return Principal{Name: name, grants: map[string]string{All: Write}}
}

// Allows reports whether p may use resource at the given access level.
// Write implies read.
func (p Principal) Allows(resource, access string) bool {
	granted, ok := p.grants[All]
	if !ok {
		granted, ok = p.grants[resource]
	}
	if !ok {
		return false
	}
	return granted == Write || access == Read
}

// Permits reports whether p holds at least one of the scopes. An empty list
// is always permitted; malformed scopes never are.
func (p Principal) Permits(scopes ...string) bool {
	if len(scopes) == 0 {
		return true
	}
	for _, s := range scopes {
		resource, access, err := ParseScope(s)
		if err == nil && p.Allows(resource, access) {
			return true
		}
	}
	return false
}

type principalKey struct{}

func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

func PrincipalFromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(Principal)
	return p, ok
}

// ExtractBearerToken returns the token of an "Authorization: Bearer" header.
func ExtractBearerToken(r *http.Request) (string, error) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return "", ErrMissingToken
	}
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return "", ErrNotBearer
	}
	token := strings.TrimSpace(strings.TrimPrefix(header, prefix))
	if token == "" {
		return "", ErrMissingToken
	}
	return token, nil
}

// Authenticate resolves a presented token. The admin key wins over scoped
// tokens; unparseable scopes on a token are ignored.
func Authenticate(presented, adminKey string, tokens []TokenConfig) (Principal, bool) {
	if secretEqual(presented, adminKey) {
		return Admin("admin"), true
	}
	for i, t := range tokens {
		if !secretEqual(presented, t.Token) {
			continue
		}
		p := Principal{Name: fmt.Sprintf("token[%d]", i), grants: make(map[string]string, len(t.Scopes))}
		for _, s := range t.Scopes {
			resource, access, err := ParseScope(s)
			if err != nil {
				continue
			}
			if p.grants[resource] != Write {
				p.grants[resource] = access
			}
		}
		return p, true
	}
	return Principal{}, false
}

func secretEqual(a, b string) bool {
	if a == "" || b == "" || len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
