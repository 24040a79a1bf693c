// params.go -- Ordered query parameters for authorize redirects.
//
// url.Values sorts keys on Encode; some authorization servers are picky about
// parameter order, so redirects are built from an ordered list instead.
package oauth

import (
	"crypto/rand"
	"encoding/base64"
	"net/url"
	"strings"
)

// Params is an ordered list of query parameters. Duplicate keys are kept.
type Params struct {
	keys   []string
	values []string
}

// Add appends key=value after every parameter already present.
func (p *Params) Add(key, value string) {
	p.keys = append(p.keys, key)
	p.values = append(p.values, value)
}

// Get returns the first value for key, or "" if absent.
func (p *Params) Get(key string) string {
	for i, k := range p.keys {
		if k == key {
			return p.values[i]
		}
	}
	return ""
}

// Len returns the number of parameters.
func (p *Params) Len() int { return len(p.keys) }

// Encode renders the parameters in insertion order using form encoding
// (spaces become "+").
func (p *Params) Encode() string {
	var b strings.Builder
	for i, k := range p.keys {
		if i > 0 {
			b.WriteByte('&')
		}
		b.WriteString(url.QueryEscape(k))
		b.WriteByte('=')
		b.WriteString(url.QueryEscape(p.values[i]))
	}
	return b.String()
}

// RedirectModifier may append extra parameters to an authorize redirect after
// the standard ones. It must not remove or reorder existing parameters.
type RedirectModifier func(p *Params)

// WithNonce returns a RedirectModifier appending nonce=<generate()>.
// A nil generate uses 128 bits of crypto/rand. The value is not remembered;
// for a nonce the callback checks, see NonceFor.
func WithNonce(generate func() string) RedirectModifier {
	if generate == nil {
		generate = randomNonce
	}
	return func(p *Params) {
		p.Add("nonce", generate())
	}
}

func randomNonce() string {
	var raw [16]byte
	// crypto/rand.Read never returns an error on supported platforms.
	rand.Read(raw[:])
	return base64.RawURLEncoding.EncodeToString(raw[:])
}
