// exchange.go
//
// Token endpoint stand-ins for tests.
package testutil

import (
	"context"
	"io"
	"net/http"
	"strings"
	"sync"

	"github.com/MGallo-Code/oauthgate/internal/oauth"
)

// roundTripFunc adapts a function to http.RoundTripper.
type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(r *http.Request) (*http.Response, error) { return f(r) }

// TokenEndpointClient returns an *http.Client whose every request is answered
// in-process with status and body (text/plain). No network is used.
func TokenEndpointClient(status int, body string) *http.Client {
	return &http.Client{Transport: roundTripFunc(func(r *http.Request) (*http.Response, error) {
		return &http.Response{
			StatusCode: status,
			Status:     http.StatusText(status),
			Header:     http.Header{"Content-Type": []string{"text/plain"}},
			Body:       io.NopCloser(strings.NewReader(body)),
			Request:    r,
		}, nil
	})}
}

// StubExchanger implements oauth.TokenExchanger with a fixed result and records calls.
type StubExchanger struct {
	Token oauth.AccessToken
	Err   error

	mu     sync.Mutex
	Codes  []string
	Nonces []string // oauth.NonceFromContext per call
}

func (s *StubExchanger) Exchange(ctx context.Context, code string) (oauth.AccessToken, error) {
	s.mu.Lock()
	s.Codes = append(s.Codes, code)
	s.Nonces = append(s.Nonces, oauth.NonceFromContext(ctx))
	s.mu.Unlock()
	return s.Token, s.Err
}

// Calls returns how many times Exchange ran.
func (s *StubExchanger) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.Codes)
}
