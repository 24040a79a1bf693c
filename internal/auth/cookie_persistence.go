// cookie_persistence.go -- Stateless Persistence backed by signed cookies.
//
// Values are encoded with gorilla/securecookie, which MACs the cookie name,
// a timestamp, and the value. A CSRF cookie can't be replayed as a token
// cookie, and a cookie older than its MaxAge is rejected server-side too.
package auth

import (
	"fmt"
	"net/http"
	"time"

	"github.com/MGallo-Code/oauthgate/internal/oauth"
	"github.com/gorilla/securecookie"
	"golang.org/x/crypto/argon2"
)

// CSRFCookieMaxAge bounds how long a user has to finish logging in.
const CSRFCookieMaxAge = 10 * time.Minute

// maxCookieSize is the per-cookie limit browsers enforce on name=value.
// Larger cookies are dropped silently, so they are refused before being set.
const maxCookieSize = 4096

// cookieKeySalt is fixed; the secret supplies the entropy.
var cookieKeySalt = []byte("oauthgate/cookie-signing/v1")

// DeriveCookieKey stretches an operator-supplied secret into a 32-byte HMAC key
// with Argon2id. Uses 64 MiB of memory per call; call once at startup.
func DeriveCookieKey(secret string) []byte {
	return argon2.IDKey([]byte(secret), cookieKeySalt, 1, 64*1024, 4, 32)
}

// CookiePersistence keeps the CSRF value and the access token in HMAC-signed cookies.
// Nothing is stored server-side.
type CookiePersistence struct {
	csrf     signedCookie
	token    signedCookie
	secure   bool
	tokenTTL time.Duration
}

// signedCookie pairs a cookie name with the codec that signs it.
type signedCookie struct {
	name  string
	codec *securecookie.SecureCookie
}

func newSignedCookie(name string, key []byte, ttl time.Duration) signedCookie {
	codec := securecookie.New(key, nil).
		MaxAge(int(ttl.Seconds())).
		MaxLength(maxCookieSize - len(name) - 1)
	return signedCookie{name: name, codec: codec}
}

// NewCookiePersistence returns cookie persistence with cookies named
// <prefix>Csrf and <prefix>AccessToken, signed with key (see DeriveCookieKey).
func NewCookiePersistence(prefix string, key []byte, secure bool, tokenTTL time.Duration) *CookiePersistence {
	return &CookiePersistence{
		csrf:     newSignedCookie(prefix+"Csrf", key, CSRFCookieMaxAge),
		token:    newSignedCookie(prefix+"AccessToken", key, tokenTTL),
		secure:   secure,
		tokenTTL: tokenTTL,
	}
}

// RetrieveToken implements Persistence.
func (p *CookiePersistence) RetrieveToken(r *http.Request) (oauth.AccessToken, bool) {
	v, ok := p.read(r, p.token)
	return oauth.AccessToken(v), ok
}

// AssignToken sets the token cookie and expires the spent CSRF cookie.
// Tokens too large for a browser cookie fail with ErrPersist.
func (p *CookiePersistence) AssignToken(w http.ResponseWriter, r *http.Request, token oauth.AccessToken) error {
	if err := p.write(w, p.token, string(token), p.tokenTTL); err != nil {
		return err
	}
	clearCookie(w, p.csrf.name, p.secure)
	return nil
}

// RetrieveCSRF implements Persistence.
func (p *CookiePersistence) RetrieveCSRF(r *http.Request) (oauth.CSRFToken, bool) {
	v, ok := p.read(r, p.csrf)
	return oauth.CSRFToken(v), ok
}

// AssignCSRF implements Persistence.
func (p *CookiePersistence) AssignCSRF(w http.ResponseWriter, r *http.Request, csrf oauth.CSRFToken) error {
	return p.write(w, p.csrf, string(csrf), CSRFCookieMaxAge)
}

// Invalidate expires both cookies.
func (p *CookiePersistence) Invalidate(w http.ResponseWriter, r *http.Request) {
	clearCookie(w, p.csrf.name, p.secure)
	clearCookie(w, p.token.name, p.secure)
}

// write signs value and sets it as cookie c for ttl.
func (p *CookiePersistence) write(w http.ResponseWriter, c signedCookie, value string, ttl time.Duration) error {
	encoded, err := c.codec.Encode(c.name, value)
	if err != nil {
		return fmt.Errorf("%w: encoding %s cookie: %v", ErrPersist, c.name, err)
	}
	setCookie(w, c.name, encoded, int(ttl.Seconds()), p.secure)
	return nil
}

// read returns the verified value of cookie c. Missing, tampered, expired,
// or empty cookies all report false.
func (p *CookiePersistence) read(r *http.Request, c signedCookie) (string, bool) {
	cookie, err := r.Cookie(c.name)
	if err != nil || cookie.Value == "" {
		return "", false
	}
	var value string
	if err := c.codec.Decode(c.name, cookie.Value, &value); err != nil {
		logWarn(r, "rejecting cookie", "cookie", c.name, "error", err)
		return "", false
	}
	return value, value != ""
}
