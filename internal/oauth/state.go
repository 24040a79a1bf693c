// state.go -- Encoding of the opaque OAuth "state" parameter.
//
// The state binds the CSRF token issued with the redirect to the URI the
// caller originally asked for, so the callback can both verify the attempt
// and resume it. Wire form is application/x-www-form-urlencoded.
package oauth

import (
	"errors"
	"net/url"
)

// ErrInvalidState is returned by DecodeState for unparseable input or a missing csrf key.
var ErrInvalidState = errors.New("invalid oauth state")

const (
	stateKeyCSRF = "csrf"
	stateKeyURI  = "uri"
)

// State is the decoded form of the state parameter.
type State struct {
	CSRF CSRFToken
	URI  string // original request path + query; empty when the state carried none
}

// ResumeURI returns where the caller should land after login. Defaults to "/".
func (s State) ResumeURI() string {
	if s.URI == "" {
		return "/"
	}
	return s.URI
}

// EncodeState returns csrf=<csrf>&uri=<uri>, both values query-escaped.
// Output is deterministic; key order is fixed.
func EncodeState(csrf CSRFToken, uri string) string {
	var p Params
	p.Add(stateKeyCSRF, string(csrf))
	p.Add(stateKeyURI, uri)
	return p.Encode()
}

// DecodeState parses a state value produced by EncodeState.
// Never panics; any malformed input yields ErrInvalidState. Unknown keys are ignored.
func DecodeState(s string) (State, error) {
	values, err := url.ParseQuery(s)
	if err != nil {
		return State{}, ErrInvalidState
	}
	csrf := values.Get(stateKeyCSRF)
	if csrf == "" {
		return State{}, ErrInvalidState
	}
	return State{CSRF: CSRFToken(csrf), URI: values.Get(stateKeyURI)}, nil
}
