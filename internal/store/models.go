// models.go -- Shared domain types for the store package.
// Used by both Redis and Postgres session stores.
package store

import (
	"errors"
	"time"

	"github.com/gofrs/uuid/v5"
)

// ErrSessionNotFound is returned by GetSession when no live session exists for the id.
// Callers use errors.Is to distinguish a true miss from an infrastructure failure.
var ErrSessionNotFound = errors.New("oauth session not found")

// OAuthSession is the server-side half of a browser's OAuth state.
// Empty strings mean "not set": CSRF is cleared once a token is assigned.
type OAuthSession struct {
	ID          uuid.UUID
	CSRF        string
	AccessToken string
	ExpiresAt   time.Time
}
