// csrf.go -- CSRF token generation for authorization attempts.
package oauth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
)

// CSRFToken is an opaque per-attempt value. It travels once to the client
// (persistence, usually a cookie) and once through the authorization server (state).
type CSRFToken string

// CSRFGenerator produces a fresh CSRFToken for each redirect.
type CSRFGenerator func() (CSRFToken, error)

// GenerateCSRFToken returns a 256-bit crypto/rand token, base64url encoded without padding.
func GenerateCSRFToken() (CSRFToken, error) {
	var raw [32]byte
	if _, err := rand.Read(raw[:]); err != nil {
		return "", fmt.Errorf("generating csrf token with rand: %w", err)
	}
	return CSRFToken(base64.RawURLEncoding.EncodeToString(raw[:])), nil
}

// NewCSRFGenerator returns the production generator.
func NewCSRFGenerator() CSRFGenerator {
	return GenerateCSRFToken
}

// FixedCSRF returns a generator that always yields value.
// Only for tests and local development.
func FixedCSRF(value string) CSRFGenerator {
	return func() (CSRFToken, error) {
		return CSRFToken(value), nil
	}
}

// NonceFor derives the OIDC nonce bound to csrf. The callback can recompute it
// from the persisted CSRF value, so nothing extra needs storing.
func NonceFor(csrf CSRFToken) string {
	sum := sha256.Sum256([]byte("oauthgate/nonce:" + string(csrf)))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}

type nonceKey struct{}

// ContextWithNonce returns ctx carrying the nonce the id_token must echo.
func ContextWithNonce(ctx context.Context, nonce string) context.Context {
	return context.WithValue(ctx, nonceKey{}, nonce)
}

// NonceFromContext returns the expected nonce, or "" if none was sent.
func NonceFromContext(ctx context.Context) string {
	nonce, _ := ctx.Value(nonceKey{}).(string)
	return nonce
}
