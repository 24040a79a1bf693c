// exchange.go -- Authorization code -> access token exchange clients.
//
// Three flavours share the TokenExchanger interface:
//   - HTTPExchanger: plain form POST, accepts JSON or raw-body token responses.
//   - OAuth2Exchanger: golang.org/x/oauth2, RFC 6749 compliant servers.
//   - OIDCExchanger: OAuth2Exchanger + id_token signature, audience, and nonce verification.
//
// None of them retry. Timeouts belong to the injected *http.Client.
package oauth

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strings"

	"github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/oauth2"
)

// maxTokenResponse caps how much of a token endpoint response is read.
const maxTokenResponse = 1 << 20

// --- HTTPExchanger ---

// HTTPExchanger posts the code to the token endpoint and reads the token from
// the response body. JSON bodies yield their access_token field; any other
// content type is taken verbatim as the token.
type HTTPExchanger struct {
	Config      ProviderConfig
	RedirectURL string
	Client      *http.Client // nil uses http.DefaultClient
}

// Exchange implements TokenExchanger.
func (e *HTTPExchanger) Exchange(ctx context.Context, code string) (AccessToken, error) {
	form := url.Values{}
	form.Set("grant_type", "authorization_code")
	form.Set("code", code)
	form.Set("redirect_uri", e.RedirectURL)
	form.Set("client_id", e.Config.Credentials.ClientID)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.Config.TokenURL(), strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("building token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")
	// RFC 6749 2.3.1: credentials are form-encoded before going into Basic auth.
	req.SetBasicAuth(
		url.QueryEscape(e.Config.Credentials.ClientID),
		url.QueryEscape(e.Config.Credentials.ClientSecret),
	)

	client := e.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("calling token endpoint: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxTokenResponse))
	if err != nil {
		return "", fmt.Errorf("reading token response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("%w: status %d", ErrTokenExchange, resp.StatusCode)
	}

	return parseTokenBody(resp.Header.Get("Content-Type"), body)
}

// parseTokenBody extracts the access token from a successful token response.
func parseTokenBody(contentType string, body []byte) (AccessToken, error) {
	mediaType, _, _ := mime.ParseMediaType(contentType)
	if mediaType == "application/json" {
		var tr struct {
			AccessToken string `json:"access_token"`
		}
		if err := json.Unmarshal(body, &tr); err != nil {
			return "", fmt.Errorf("%w: decoding json body: %v", ErrTokenExchange, err)
		}
		if tr.AccessToken == "" {
			return "", fmt.Errorf("%w: no access_token in response", ErrTokenExchange)
		}
		return AccessToken(tr.AccessToken), nil
	}

	token := strings.TrimSpace(string(body))
	if token == "" {
		return "", fmt.Errorf("%w: empty response body", ErrTokenExchange)
	}
	return AccessToken(token), nil
}

// --- OAuth2Exchanger ---

// OAuth2Exchanger exchanges codes through golang.org/x/oauth2.
type OAuth2Exchanger struct {
	config *oauth2.Config
	client *http.Client
}

// NewOAuth2Exchanger builds an exchanger for cfg. client may be nil (http.DefaultClient).
func NewOAuth2Exchanger(cfg ProviderConfig, redirectURL string, scopes []string, client *http.Client) *OAuth2Exchanger {
	return &OAuth2Exchanger{
		config: &oauth2.Config{
			ClientID:     cfg.Credentials.ClientID,
			ClientSecret: cfg.Credentials.ClientSecret,
			RedirectURL:  redirectURL,
			Scopes:       scopes,
			Endpoint: oauth2.Endpoint{
				AuthURL:   cfg.AuthorizeURL(),
				TokenURL:  cfg.TokenURL(),
				AuthStyle: oauth2.AuthStyleInHeader,
			},
		},
		client: client,
	}
}

// Exchange implements TokenExchanger.
func (e *OAuth2Exchanger) Exchange(ctx context.Context, code string) (AccessToken, error) {
	tok, err := e.exchange(ctx, code)
	if err != nil {
		return "", err
	}
	return AccessToken(tok.AccessToken), nil
}

// exchange returns the full oauth2.Token so wrappers can read extra fields.
func (e *OAuth2Exchanger) exchange(ctx context.Context, code string) (*oauth2.Token, error) {
	if e.client != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, e.client)
	}
	tok, err := e.config.Exchange(ctx, code)
	if err != nil {
		var re *oauth2.RetrieveError
		if errors.As(err, &re) {
			status := 0
			if re.Response != nil {
				status = re.Response.StatusCode
			}
			return nil, fmt.Errorf("%w: status %d", ErrTokenExchange, status)
		}
		return nil, fmt.Errorf("exchanging code: %w", err)
	}
	return tok, nil
}

// --- OIDCExchanger ---

// OIDCExchanger requires an id_token in the token response and verifies its
// signature against the issuer's JWKS, plus aud and exp. The id_token nonce
// must equal NonceFromContext(ctx); both empty is a match.
type OIDCExchanger struct {
	inner    *OAuth2Exchanger
	verifier *oidc.IDTokenVerifier
}

// NewOIDCExchanger runs OIDC discovery against issuer and wraps inner.
// Makes an outbound HTTP request at startup; returns an error if the issuer is unreachable.
func NewOIDCExchanger(ctx context.Context, issuer string, inner *OAuth2Exchanger) (*OIDCExchanger, error) {
	if inner.client != nil {
		ctx = oidc.ClientContext(ctx, inner.client)
	}
	p, err := oidc.NewProvider(ctx, issuer)
	if err != nil {
		return nil, fmt.Errorf("oidc discovery for %s: %w", issuer, err)
	}
	return &OIDCExchanger{
		inner:    inner,
		verifier: p.Verifier(&oidc.Config{ClientID: inner.config.ClientID}),
	}, nil
}

// NewOIDCExchangerWithVerifier wraps inner with an already built verifier (no discovery).
func NewOIDCExchangerWithVerifier(inner *OAuth2Exchanger, verifier *oidc.IDTokenVerifier) *OIDCExchanger {
	return &OIDCExchanger{inner: inner, verifier: verifier}
}

// Exchange implements TokenExchanger.
func (e *OIDCExchanger) Exchange(ctx context.Context, code string) (AccessToken, error) {
	tok, err := e.inner.exchange(ctx, code)
	if err != nil {
		return "", err
	}
	rawIDToken, ok := tok.Extra("id_token").(string)
	if !ok || rawIDToken == "" {
		return "", fmt.Errorf("%w: no id_token in token response", ErrTokenExchange)
	}
	idToken, err := e.verifier.Verify(ctx, rawIDToken)
	if err != nil {
		return "", fmt.Errorf("%w: verifying id token: %v", ErrTokenExchange, err)
	}
	// An id_token minted for another login carries that login's nonce.
	if subtle.ConstantTimeCompare([]byte(idToken.Nonce), []byte(NonceFromContext(ctx))) != 1 {
		return "", fmt.Errorf("%w: id token nonce mismatch", ErrTokenExchange)
	}
	return AccessToken(tok.AccessToken), nil
}
