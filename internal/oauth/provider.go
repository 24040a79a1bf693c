// provider.go -- Authorization server configuration and shared token types.
package oauth

import (
	"context"
	"errors"
	"strings"
)

// ErrTokenExchange is returned by a TokenExchanger when the token endpoint
// answers with a non-success status or an unusable body.
// Callers use errors.Is to tell it apart from transport failures in logs only;
// the HTTP caller always sees the same rejection.
var ErrTokenExchange = errors.New("token exchange failed")

// Credentials is the OAuth client id + secret pair registered with the authorization server.
type Credentials struct {
	ClientID     string
	ClientSecret string
}

// ProviderConfig describes the authorization server and the API it protects.
// Built once at startup; never mutated afterwards.
type ProviderConfig struct {
	AuthBaseURL string // e.g. https://auth.example.com
	AuthPath    string // authorize endpoint path, e.g. /oauth/authorize
	TokenPath   string // token endpoint path, e.g. /oauth/token
	Credentials Credentials
	APIBaseURL  string // protected resource the issued tokens are meant for
}

// AuthorizeURL returns the absolute authorize endpoint.
func (c ProviderConfig) AuthorizeURL() string {
	return joinURL(c.AuthBaseURL, c.AuthPath)
}

// TokenURL returns the absolute token endpoint.
func (c ProviderConfig) TokenURL() string {
	return joinURL(c.AuthBaseURL, c.TokenPath)
}

// AccessToken is the opaque bearer token issued by the token endpoint.
type AccessToken string

// TokenExchanger trades an authorization code for an access token.
// Implementations must not retry; one call is one round trip to the token endpoint.
type TokenExchanger interface {
	Exchange(ctx context.Context, code string) (AccessToken, error)
}

// joinURL concatenates base and path with exactly one slash between them.
// An empty path returns base unchanged.
func joinURL(base, path string) string {
	if path == "" {
		return base
	}
	return strings.TrimRight(base, "/") + "/" + strings.TrimLeft(path, "/")
}
