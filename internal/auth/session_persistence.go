// session_persistence.go -- Persistence backed by a server-side SessionStore.
//
// The browser only holds an opaque session id (<prefix>Session cookie, UUID v7).
// CSRF values and access tokens stay in Redis or Postgres.
package auth

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/MGallo-Code/oauthgate/internal/oauth"
	"github.com/MGallo-Code/oauthgate/internal/store"
	"github.com/gofrs/uuid/v5"
)

// SessionPersistence implements Persistence over a SessionStore.
type SessionPersistence struct {
	Store      SessionStore
	CookieName string
	Secure     bool
	CSRFTTL    time.Duration // lifetime of an unfinished login attempt
	TokenTTL   time.Duration // lifetime of an assigned token
}

// NewSessionPersistence returns session persistence using cookie <prefix>Session.
func NewSessionPersistence(s SessionStore, prefix string, secure bool, tokenTTL time.Duration) *SessionPersistence {
	return &SessionPersistence{
		Store:      s,
		CookieName: prefix + "Session",
		Secure:     secure,
		CSRFTTL:    CSRFCookieMaxAge,
		TokenTTL:   tokenTTL,
	}
}

// RetrieveToken implements Persistence.
func (p *SessionPersistence) RetrieveToken(r *http.Request) (oauth.AccessToken, bool) {
	sess, ok := p.session(r)
	if !ok || sess.AccessToken == "" {
		return "", false
	}
	return oauth.AccessToken(sess.AccessToken), true
}

// AssignToken stores token under a fresh session id and retires the old one,
// so the id used during login is never the id that carries the token.
func (p *SessionPersistence) AssignToken(w http.ResponseWriter, r *http.Request, token oauth.AccessToken) error {
	newID, err := uuid.NewV7()
	if err != nil {
		return fmt.Errorf("%w: generating session id: %v", ErrPersist, err)
	}
	if err := p.Store.SaveToken(r.Context(), newID, string(token), p.TokenTTL); err != nil {
		return fmt.Errorf("%w: %v", ErrPersist, err)
	}

	if oldID, ok := p.sessionID(r); ok {
		if err := p.Store.DeleteSession(r.Context(), oldID); err != nil {
			// Non-fatal: the old session only holds a spent CSRF value and expires on its own.
			logWarn(r, "failed to delete pre-login session", "error", err)
		}
	}

	setCookie(w, p.CookieName, newID.String(), int(p.TokenTTL.Seconds()), p.Secure)
	return nil
}

// RetrieveCSRF implements Persistence.
func (p *SessionPersistence) RetrieveCSRF(r *http.Request) (oauth.CSRFToken, bool) {
	sess, ok := p.session(r)
	if !ok || sess.CSRF == "" {
		return "", false
	}
	return oauth.CSRFToken(sess.CSRF), true
}

// AssignCSRF starts a new session for this login attempt.
// A fresh id is always minted; ids presented by the client are never adopted.
func (p *SessionPersistence) AssignCSRF(w http.ResponseWriter, r *http.Request, csrf oauth.CSRFToken) error {
	id, err := uuid.NewV7()
	if err != nil {
		return fmt.Errorf("%w: generating session id: %v", ErrPersist, err)
	}
	if err := p.Store.SaveCSRF(r.Context(), id, string(csrf), p.CSRFTTL); err != nil {
		return fmt.Errorf("%w: %v", ErrPersist, err)
	}
	setCookie(w, p.CookieName, id.String(), int(p.CSRFTTL.Seconds()), p.Secure)
	return nil
}

// Invalidate deletes the server-side session (best effort) and expires the cookie.
func (p *SessionPersistence) Invalidate(w http.ResponseWriter, r *http.Request) {
	if id, ok := p.sessionID(r); ok {
		if err := p.Store.DeleteSession(r.Context(), id); err != nil {
			logWarn(r, "failed to delete session on invalidate", "error", err)
		}
	}
	clearCookie(w, p.CookieName, p.Secure)
}

// sessionID parses the session cookie. Malformed ids are treated as absent.
func (p *SessionPersistence) sessionID(r *http.Request) (uuid.UUID, bool) {
	c, err := r.Cookie(p.CookieName)
	if err != nil || c.Value == "" {
		return uuid.Nil, false
	}
	id, err := uuid.FromString(c.Value)
	if err != nil {
		logWarn(r, "malformed session cookie", "error", err)
		return uuid.Nil, false
	}
	return id, true
}

// session loads the session named by r's cookie.
// Store failures are logged and reported as "no session".
func (p *SessionPersistence) session(r *http.Request) (*store.OAuthSession, bool) {
	id, ok := p.sessionID(r)
	if !ok {
		return nil, false
	}
	sess, err := p.Store.GetSession(r.Context(), id)
	if err != nil {
		if !errors.Is(err, store.ErrSessionNotFound) {
			logError(r, "session lookup failed", "error", err)
		}
		return nil, false
	}
	return sess, true
}
