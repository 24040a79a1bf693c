// persistence.go -- Where tokens and CSRF values live between requests.
package auth

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/MGallo-Code/oauthgate/internal/oauth"
	"github.com/MGallo-Code/oauthgate/internal/store"
	"github.com/gofrs/uuid/v5"
)

// ErrPersist wraps failures to store a token or CSRF value.
var ErrPersist = errors.New("oauth persistence failed")

// Persistence is the only component allowed to touch session-carrying
// response state (cookies, headers). Assign* and Invalidate mutate w's
// headers and must be called before the status is written.
type Persistence interface {
	// RetrieveToken returns the access token bound to r, if any.
	RetrieveToken(r *http.Request) (oauth.AccessToken, bool)

	// AssignToken binds token to the client behind r via w.
	AssignToken(w http.ResponseWriter, r *http.Request, token oauth.AccessToken) error

	// RetrieveCSRF returns the CSRF value issued with the last redirect, if any.
	RetrieveCSRF(r *http.Request) (oauth.CSRFToken, bool)

	// AssignCSRF binds csrf to the client behind r via w.
	AssignCSRF(w http.ResponseWriter, r *http.Request, csrf oauth.CSRFToken) error

	// Invalidate drops all OAuth state for the client so a retry starts clean.
	Invalidate(w http.ResponseWriter, r *http.Request)
}

// SessionStore defines server-side session operations needed by SessionPersistence.
// Satisfied by *store.RedisStore and *store.PostgresStore; defined here, at the consumer.
type SessionStore interface {
	// SaveCSRF records csrf for id and resets its lifetime to ttl.
	SaveCSRF(ctx context.Context, id uuid.UUID, csrf string, ttl time.Duration) error

	// SaveToken records the access token for id, clears its CSRF value, resets lifetime to ttl.
	SaveToken(ctx context.Context, id uuid.UUID, token string, ttl time.Duration) error

	// GetSession returns the live session for id, or store.ErrSessionNotFound.
	GetSession(ctx context.Context, id uuid.UUID) (*store.OAuthSession, error)

	// DeleteSession removes id. Missing ids are not an error.
	DeleteSession(ctx context.Context, id uuid.UUID) error
}

// setCookie writes a cookie with the attributes every gate cookie shares.
// maxAge < 0 expires the cookie immediately.
func setCookie(w http.ResponseWriter, name, value string, maxAge int, secure bool) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		HttpOnly: true,
		Secure:   secure,
		// Lax: the callback is a top-level cross-site GET and must still carry the cookie.
		SameSite: http.SameSiteLaxMode,
		MaxAge:   maxAge,
	})
}

// clearCookie expires name immediately.
func clearCookie(w http.ResponseWriter, name string, secure bool) {
	setCookie(w, name, "", -1, secure)
}
