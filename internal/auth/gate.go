// gate.go -- OAuth2 authorization code gate: ingress filter + callback handler.
//
// AuthFilter sits in front of the protected routes. Requests that already carry
// an access token pass straight through; everything else is sent to the
// authorization server with a CSRF-bound state. Callback validates the
// authorization server's redirect, exchanges the code, stores the token, and
// sends the browser back to where it started.
package auth

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/MGallo-Code/oauthgate/internal/metrics"
	"github.com/MGallo-Code/oauthgate/internal/oauth"
)

// Callback rejection reasons. All of them produce the same 403 + invalidation;
// they differ only in logs and metrics.
var (
	ErrMissingCSRFCookie = errors.New("missing csrf cookie")
	ErrMissingCode       = errors.New("missing authorization code")
	ErrUndecodableState  = errors.New("undecodable state")
	ErrStateMismatch     = errors.New("state does not match csrf cookie")
)

// actionHeader marks responses on which a token was assigned.
const (
	actionHeader      = "action"
	actionAssignToken = "assignToken"
)

// contextKey is unexported to prevent collisions with other packages using the same context.
type contextKey string

const accessTokenKey contextKey = "access_token"

// AccessTokenFromContext returns the token AuthFilter found for this request.
// Returns "" and false for requests that did not pass through AuthFilter.
func AccessTokenFromContext(ctx context.Context) (oauth.AccessToken, bool) {
	token, ok := ctx.Value(accessTokenKey).(oauth.AccessToken)
	return token, ok
}

// Gate holds the immutable configuration of one OAuth client.
// Safe for concurrent use; it keeps no per-request state.
type Gate struct {
	Provider    oauth.ProviderConfig
	CallbackURL string   // redirect_uri registered with the authorization server
	Scopes      []string // sent space-separated, in order

	// BindNonce appends nonce=oauth.NonceFor(csrf) and hands the same value to
	// the exchanger on callback, where an OIDC exchanger checks the id_token echoes it.
	BindNonce bool
	// ModifyRedirect may append parameters after the standard ones. Optional.
	ModifyRedirect oauth.RedirectModifier
	// GenerateCSRF yields a fresh token per redirect. Nil uses oauth.GenerateCSRFToken.
	GenerateCSRF oauth.CSRFGenerator

	Exchanger   oauth.TokenExchanger
	Persistence Persistence
	Metrics     *metrics.Metrics // optional
}

// AuthFilter wraps next. Requests with a persisted access token are forwarded
// unchanged (token added to the context); all others get a 307 to the
// authorization server.
func (g *Gate) AuthFilter(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if token, ok := g.Persistence.RetrieveToken(r); ok {
			g.Metrics.IncPassthrough()
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), accessTokenKey, token)))
			return
		}

		csrf, err := g.newCSRF()
		if err != nil {
			InternalServerError(w, r, err)
			return
		}
		if err := g.Persistence.AssignCSRF(w, r, csrf); err != nil {
			InternalServerError(w, r, err)
			return
		}

		g.Metrics.IncRedirect()
		logDebug(r, "no access token, redirecting to authorization server")
		TemporaryRedirect(w, g.AuthorizeRedirect(csrf, r.URL.RequestURI()))
	})
}

// AuthorizeRedirect builds the authorize URL for one attempt. Parameter order
// is fixed: client_id, response_type, scope, redirect_uri, state, nonce when
// BindNonce is set, then whatever ModifyRedirect appends.
func (g *Gate) AuthorizeRedirect(csrf oauth.CSRFToken, originalURI string) string {
	var p oauth.Params
	p.Add("client_id", g.Provider.Credentials.ClientID)
	p.Add("response_type", "code")
	p.Add("scope", strings.Join(g.Scopes, " "))
	p.Add("redirect_uri", g.CallbackURL)
	p.Add("state", oauth.EncodeState(csrf, originalURI))
	if g.BindNonce {
		p.Add("nonce", oauth.NonceFor(csrf))
	}
	if g.ModifyRedirect != nil {
		g.ModifyRedirect(&p)
	}

	base := g.Provider.AuthorizeURL()
	sep := "?"
	if strings.Contains(base, "?") {
		sep = "&"
	}
	return base + sep + p.Encode()
}

// Callback handles the authorization server's redirect back to CallbackURL.
// Checks run in order (csrf cookie, code, state) and the first failure rejects.
// Only then is the code exchanged; a failed exchange is rejected the same way.
func (g *Gate) Callback(w http.ResponseWriter, r *http.Request) {
	code, state, err := g.validateCallback(r)
	if err != nil {
		g.reject(w, r, err)
		return
	}

	ctx := r.Context()
	if g.BindNonce {
		ctx = oauth.ContextWithNonce(ctx, oauth.NonceFor(state.CSRF))
	}

	start := time.Now()
	token, err := g.Exchanger.Exchange(ctx, code)
	g.Metrics.ObserveExchange(time.Since(start))
	if err != nil {
		g.reject(w, r, err)
		return
	}

	if err := g.Persistence.AssignToken(w, r, token); err != nil {
		g.reject(w, r, err)
		return
	}

	target := resumeTarget(state)
	g.Metrics.IncCallback(metrics.OutcomeSuccess)
	logInfo(r, "oauth callback: token assigned", "resume", target)

	w.Header().Set(actionHeader, actionAssignToken)
	TemporaryRedirect(w, target)
}

// validateCallback returns the code and decoded state, or the first failed check.
func (g *Gate) validateCallback(r *http.Request) (string, oauth.State, error) {
	cookieCSRF, ok := g.Persistence.RetrieveCSRF(r)
	if !ok {
		return "", oauth.State{}, ErrMissingCSRFCookie
	}

	query := r.URL.Query()
	if e := query.Get("error"); e != "" {
		logWarn(r, "oauth callback: authorization server returned error",
			"error_code", e, "error_description", query.Get("error_description"))
	}

	code := query.Get("code")
	if code == "" {
		return "", oauth.State{}, ErrMissingCode
	}

	state, err := oauth.DecodeState(query.Get("state"))
	if err != nil {
		return "", oauth.State{}, ErrUndecodableState
	}
	// Constant-time comparison prevents timing oracle on the csrf value.
	if subtle.ConstantTimeCompare([]byte(state.CSRF), []byte(cookieCSRF)) != 1 {
		return "", oauth.State{}, ErrStateMismatch
	}

	return code, state, nil
}

// reject invalidates persisted OAuth state and answers 403.
// The response is identical for every cause.
func (g *Gate) reject(w http.ResponseWriter, r *http.Request, cause error) {
	outcome := outcomeFor(cause)
	logWarn(r, "oauth callback rejected", "reason", outcome, "error", cause)
	g.Metrics.IncCallback(outcome)

	g.Persistence.Invalidate(w, r)
	Forbidden(w)
}

// outcomeFor maps a rejection cause to its metrics label.
func outcomeFor(err error) string {
	switch {
	case errors.Is(err, ErrMissingCSRFCookie):
		return metrics.OutcomeMissingCSRF
	case errors.Is(err, ErrMissingCode):
		return metrics.OutcomeMissingCode
	case errors.Is(err, ErrUndecodableState):
		return metrics.OutcomeUndecodableState
	case errors.Is(err, ErrStateMismatch):
		return metrics.OutcomeStateMismatch
	case errors.Is(err, ErrPersist):
		return metrics.OutcomePersistFailed
	default:
		// Token endpoint status errors and transport failures alike.
		return metrics.OutcomeExchangeFailed
	}
}

// resumeTarget returns the local path to send the browser to after login.
// Anything that is not a same-origin path falls back to "/" (no open redirects).
func resumeTarget(state oauth.State) string {
	uri := state.ResumeURI()
	if !strings.HasPrefix(uri, "/") || strings.HasPrefix(uri, "//") || strings.HasPrefix(uri, `/\`) {
		return "/"
	}
	return uri
}

func (g *Gate) newCSRF() (oauth.CSRFToken, error) {
	if g.GenerateCSRF != nil {
		return g.GenerateCSRF()
	}
	return oauth.GenerateCSRFToken()
}
